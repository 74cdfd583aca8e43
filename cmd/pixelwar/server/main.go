package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/doriantessier/pixel-war/pkg/api"
	"github.com/doriantessier/pixel-war/pkg/archive"
	"github.com/doriantessier/pixel-war/pkg/canvas"
	"github.com/doriantessier/pixel-war/pkg/clock"
	"github.com/doriantessier/pixel-war/pkg/config"
	"github.com/doriantessier/pixel-war/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := pflag.String("config", "", "path to a YAML config file")
	addrVar := pflag.String("addr", "", "the address to listen on, overrides the config")
	envVar := pflag.String("env-file", ".env", "optional dotenv file to load before reading PIXELWAR_* variables")
	pflag.Parse()

	if err := godotenv.Load(*envVar); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envVar, err)
	}

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	handler, err := cfg.Log.Handler(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))

	clk := clock.Real()
	registry := canvas.NewRegistry(clk)
	for _, cc := range cfg.Canvases {
		c, err := canvas.New(cfg.CanvasOptions(cc), clk, nil)
		if err != nil {
			return fmt.Errorf("canvas %q: %w", cc.Name, err)
		}
		if err := registry.Add(cc.Name, c); err != nil {
			return err
		}
		slog.Info("created canvas", "canvas", cc.Name, "width", cc.Width, "height", cc.Height, "cooldown", cc.Cooldown)
	}

	opts := api.Options{
		Clock:               clk,
		KeyCookieMaxAge:     cfg.Keys.TTL,
		SessionCookieMaxAge: cfg.Sessions.TTL,
		StreamInterval:      cfg.Stream.Interval,
	}

	var db *store.Store
	if cfg.Database != "" {
		if db, err = store.Open(cfg.Database); err != nil {
			return err
		}
		defer db.Close()
		opts.Journal = db
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.RunSweeper(ctx, cfg.SweepInterval)
	}()

	if db != nil {
		for _, name := range registry.Names() {
			c, err := registry.Lookup(name)
			if err != nil {
				return err
			}
			a, err := archive.New(name, c, db, clk)
			if err != nil {
				return fmt.Errorf("canvas %q: %w", name, err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.Run(ctx, cfg.Archive.Interval)
			}()
		}
	}

	s := api.NewServer(registry, opts)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: s.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	cancel()

	wg.Wait()

	for _, name := range registry.Names() {
		c, _ := registry.Lookup(name)
		stats := c.Stats()
		slog.Info("final stats", "canvas", name, "keys", stats.Keys, "sessions", stats.Sessions, "writes", stats.Writes)
	}
	return nil
}
