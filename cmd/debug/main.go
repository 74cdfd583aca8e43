package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/doriantessier/pixel-war/pkg/archive"
	"github.com/doriantessier/pixel-war/pkg/store"
	"github.com/doriantessier/pixel-war/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbVar := pflag.String("db", "pixelwar.sqlite3", "the sqlite database written by the server")
	canvasVar := pflag.String("canvas", "0000", "the canvas whose archive to inspect")
	svgVar := pflag.String("svg", "", "write the history graph here instead of a temp file")
	writesVar := pflag.Int("writes", 10, "how many journal entries to print")
	pflag.Parse()

	db, err := store.Open(*dbVar)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	content, updatedAt, err := db.LoadArchive(ctx, *canvasVar)
	if err != nil {
		return err
	}
	doc, grid, err := archive.Load(content)
	if err != nil {
		return err
	}
	slog.Info("loaded archive", "canvas", *canvasVar, "updated", updatedAt, "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "message", change.Message(), "dep", change.Dependencies())
	}

	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			if x > 0 {
				fmt.Print(" ")
			}
			fmt.Print(grid.At(x, y))
		}
		fmt.Println()
	}

	writes, err := db.RecentWrites(ctx, *canvasVar, *writesVar)
	if err != nil {
		return err
	}
	for _, w := range writes {
		slog.Info("write", "at", w.WrittenAt, "session", w.SessionID, "x", w.X, "y", w.Y, "color", w.Color)
	}

	path := *svgVar
	if path == "" {
		if path, err = viz.RenderHistoryToTemp(doc); err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
	} else if err := viz.RenderHistoryToSvg(doc, path); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	slog.Info("rendered", "canvas", *canvasVar, "path", "file://"+path)
	return nil
}
