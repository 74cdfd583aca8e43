// Package archive keeps an automerge document per canvas that mirrors the
// grid, and periodically saves it to the store. The archiver observes the
// canvas like any other client: it holds a session and folds each delta into
// the document as one commit, so the document history is the canvas history
// at archive resolution.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/doriantessier/pixel-war/pkg/canvas"
	"github.com/doriantessier/pixel-war/pkg/clock"
)

// Saver persists an encoded archive document.
type Saver interface {
	SaveArchive(ctx context.Context, canvasName string, content []byte, at time.Time) (bool, error)
}

// Archiver is not safe for concurrent use; Run drives it from one goroutine.
type Archiver struct {
	name      string
	canvas    *canvas.Canvas
	saver     Saver
	clock     clock.Clock
	sessionID string
	doc       *automerge.Doc
}

func cellKey(x, y int) string {
	return fmt.Sprintf("%d,%d", x, y)
}

// New registers a session on c and seeds a document from its current grid.
func New(name string, c *canvas.Canvas, saver Saver, clk clock.Clock) (*Archiver, error) {
	if clk == nil {
		clk = clock.Real()
	}
	doc := automerge.New()
	if err := doc.Path("width").Set(int64(c.Width())); err != nil {
		return nil, fmt.Errorf("failed to set width: %w", err)
	}
	if err := doc.Path("height").Set(int64(c.Height())); err != nil {
		return nil, fmt.Errorf("failed to set height: %w", err)
	}
	if err := doc.Path("cells").Set(map[string]interface{}{}); err != nil {
		return nil, fmt.Errorf("failed to create cells: %w", err)
	}
	a := &Archiver{name: name, canvas: c, saver: saver, clock: clk, doc: doc}
	if err := a.register(); err != nil {
		return nil, err
	}
	return a, nil
}

// register starts a new session and writes every cell that differs from the
// document, then commits.
func (a *Archiver) register() error {
	reg, err := a.canvas.RegisterSession(a.canvas.IssueKey())
	if err != nil {
		return fmt.Errorf("failed to register archive session: %w", err)
	}
	a.sessionID = reg.SessionID

	current, err := Decode(a.doc)
	if err != nil {
		return err
	}
	changes := canvas.Diff(reg.Grid, current)
	if err := a.apply(changes); err != nil {
		return err
	}
	if _, err := a.doc.Commit(fmt.Sprintf("registered %s", reg.SessionID), automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (a *Archiver) apply(changes []canvas.Change) error {
	for _, ch := range changes {
		if err := a.doc.Path("cells", cellKey(ch.X, ch.Y)).Set(ch.Color.Packed()); err != nil {
			return fmt.Errorf("failed to set cell (%d, %d): %w", ch.X, ch.Y, err)
		}
	}
	return nil
}

// Tick folds the changes since the previous tick into the document and saves
// it. It returns the number of changed cells.
func (a *Archiver) Tick(ctx context.Context) (int, error) {
	delta, err := a.canvas.ComputeDelta(a.sessionID)
	if errors.Is(err, canvas.ErrUnknownSession) {
		slog.Warn("archive session expired, re-registering", "canvas", a.name)
		if err := a.register(); err != nil {
			return 0, err
		}
		return 0, a.save(ctx)
	}
	if err != nil {
		return 0, err
	}
	if len(delta.Changes) == 0 {
		return 0, nil
	}
	if err := a.apply(delta.Changes); err != nil {
		return 0, err
	}
	if _, err := a.doc.Commit(fmt.Sprintf("%d cells", len(delta.Changes)), automerge.CommitOptions{}); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return len(delta.Changes), a.save(ctx)
}

func (a *Archiver) save(ctx context.Context) error {
	if a.saver == nil {
		return nil
	}
	if changed, err := a.saver.SaveArchive(ctx, a.name, a.doc.Save(), a.clock.Now()); err != nil {
		return err
	} else if changed {
		slog.Info("backed up", "canvas", a.name, "heads", a.doc.Heads())
	}
	return nil
}

// Doc returns the archive document.
func (a *Archiver) Doc() *automerge.Doc {
	return a.doc
}

// Run calls Tick every interval until ctx is cancelled, then saves once more.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	if err := a.save(ctx); err != nil {
		slog.Error("failed to back up canvas", "canvas", a.name, "err", err)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := a.Tick(ctx); err != nil {
				slog.Error("failed to back up canvas", "canvas", a.name, "err", err)
			}
		case <-ctx.Done():
			if _, err := a.Tick(context.Background()); err != nil {
				slog.Error("failed final back up", "canvas", a.name, "err", err)
			}
			return
		}
	}
}

func intAt(doc *automerge.Doc, path ...interface{}) (int, error) {
	v, err := doc.Path(path...).Get()
	if err != nil {
		return 0, err
	}
	// automerge stores a plain Go int as a float64.
	switch v.Kind() {
	case automerge.KindInt64:
		return int(v.Int64()), nil
	case automerge.KindFloat64:
		return int(v.Float64()), nil
	default:
		return 0, fmt.Errorf("%v: expected int, got %v", path, v.Kind())
	}
}

// Decode rebuilds the grid stored in doc.
func Decode(doc *automerge.Doc) (canvas.Grid, error) {
	width, err := intAt(doc, "width")
	if err != nil {
		return canvas.Grid{}, fmt.Errorf("failed to read width: %w", err)
	}
	height, err := intAt(doc, "height")
	if err != nil {
		return canvas.Grid{}, fmt.Errorf("failed to read height: %w", err)
	}
	grid, err := canvas.NewGrid(width, height)
	if err != nil {
		return canvas.Grid{}, err
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v, err := doc.Path("cells", cellKey(x, y)).Get()
			if err != nil {
				return canvas.Grid{}, fmt.Errorf("failed to read cell (%d, %d): %w", x, y, err)
			}
			if v.Kind() == automerge.KindInt64 {
				grid.Set(x, y, canvas.Unpack(v.Int64()))
			}
		}
	}
	return grid, nil
}

// Load decodes a saved archive document.
func Load(content []byte) (*automerge.Doc, canvas.Grid, error) {
	doc, err := automerge.Load(content)
	if err != nil {
		return nil, canvas.Grid{}, fmt.Errorf("failed to load doc: %w", err)
	}
	grid, err := Decode(doc)
	if err != nil {
		return nil, canvas.Grid{}, err
	}
	return doc, grid, nil
}
