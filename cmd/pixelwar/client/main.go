package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doriantessier/pixel-war/pkg/client"
)

var (
	addrFlag   string
	canvasFlag string
)

var rootCmd = &cobra.Command{
	Use:          "pixelwar-client",
	Short:        "Paint on and watch a pixel-war canvas",
	Long:         `pixelwar-client registers an anonymous session on a pixel-war server and either paints random pixels while honouring the cooldown (bot) or prints every delta pushed over the websocket stream (watch).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "127.0.0.1:8080", "the address to request on")
	rootCmd.PersistentFlags().StringVar(&canvasFlag, "canvas", "0000", "the canvas name")
	rootCmd.AddCommand(botCmd, watchCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// connect registers a fresh session on the configured canvas.
func connect(ctx context.Context) (*client.Client, error) {
	baseUrl, err := url.Parse("http://" + addrFlag)
	if err != nil {
		return nil, err
	}
	c := client.New(baseUrl, canvasFlag, nil)
	if _, err := c.Preinit(ctx); err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	reg, err := c.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	slog.Info("registered", "canvas", canvasFlag, "session", reg.ID, "nx", reg.NX, "ny", reg.NY)
	return c, nil
}
