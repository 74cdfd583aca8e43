// Package viz renders the change history of a canvas archive as a graphviz
// SVG, one node per archive commit.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/doriantessier/pixel-war/pkg/archive"
	"github.com/doriantessier/pixel-war/pkg/canvas"
)

func painted(g canvas.Grid) int {
	var n int
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			if g.At(x, y) != (canvas.Color{}) {
				n++
			}
		}
	}
	return n
}

// RenderHistoryToSvg writes the archive history of doc to outputPath. Each
// node is labelled with the commit message and the number of painted cells
// once that commit is applied.
func RenderHistoryToSvg(doc *automerge.Doc, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		label := fmt.Sprintf("%s %q", change.Hash().String()[:8], change.Message())
		if grid, err := archive.Decode(docAt); err == nil {
			label += fmt.Sprintf(" %d/%d painted", painted(grid), grid.Width()*grid.Height())
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label)
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.FormatUint(atomic.AddUint64(&edgeCounter, 1), 10), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// RenderHistoryToTemp renders into a fresh file under os.TempDir and returns
// its path.
func RenderHistoryToTemp(doc *automerge.Doc) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(doc, tf); err != nil {
		return "", err
	}
	return tf, nil
}
