package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/doriantessier/pixel-war/pkg/canvas"
	"github.com/doriantessier/pixel-war/pkg/client"
)

var pollFlag time.Duration

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Paint random pixels as fast as the cooldown allows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		infos, err := c.Canvases(ctx)
		if err != nil {
			return err
		}
		var nx, ny int
		var cooldown time.Duration
		for _, info := range infos {
			if info.Name == canvasFlag {
				nx, ny = info.NX, info.NY
				cooldown = time.Duration(info.CooldownSeconds * float64(time.Second))
			}
		}
		if nx == 0 || ny == 0 {
			return errors.New("canvas is not listed by the server")
		}
		paintContinuously(ctx, c, nx, ny, cooldown)
		return nil
	},
}

func init() {
	botCmd.Flags().DurationVar(&pollFlag, "poll", time.Second, "how often to poll for deltas")
}

func paintContinuously(ctx context.Context, c *client.Client, nx, ny int, cooldown time.Duration) {
	poll := time.NewTicker(pollFlag)
	defer poll.Stop()
	paint := time.NewTimer(0)
	defer paint.Stop()
	for {
		select {
		case <-poll.C:
			if delta, err := c.Deltas(ctx); err != nil {
				slog.Error("failed to poll", "err", err)
			} else if len(delta.Deltas) > 0 {
				slog.Info("observed", "cells", len(delta.Deltas))
			}
		case <-paint.C:
			x, y := rand.Intn(nx), rand.Intn(ny)
			color := canvas.Color{R: uint8(rand.Intn(256)), G: uint8(rand.Intn(256)), B: uint8(rand.Intn(256))}
			res, err := c.SetPixel(ctx, x, y, color)
			var rl *canvas.RateLimitedError
			switch {
			case errors.As(err, &rl):
				slog.Info("cooling down", "retry_after", rl.RetryAfterSeconds)
				paint.Reset(time.Duration(rl.RetryAfterSeconds) * time.Second)
			case err != nil:
				slog.Error("failed to paint", "err", err)
				paint.Reset(pollFlag)
			default:
				slog.Info("painted", "x", res.X, "y", res.Y, "color", res.Color)
				paint.Reset(cooldown)
			}
		case <-ctx.Done():
			slog.Info("stopping bot")
			return
		}
	}
}
