package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/doriantessier/pixel-war/pkg/clock"
)

// Registry maps canvas names to canvases. It is built once at startup with
// Add and then handed to the transport; lookups are safe for concurrent use.
type Registry struct {
	clock clock.Clock

	mu       sync.RWMutex
	canvases map[string]*Canvas
}

// NewRegistry returns an empty registry. A nil clock means clock.Real(); the
// clock only drives RunSweeper.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{clock: clk, canvases: make(map[string]*Canvas)}
}

// Add registers c under name.
func (r *Registry) Add(name string, c *Canvas) error {
	if name == "" {
		return fmt.Errorf("canvas name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.canvases[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCanvas, name)
	}
	r.canvases[name] = c
	return nil
}

func (r *Registry) Lookup(name string) (*Canvas, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.canvases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCanvas, name)
	}
	return c, nil
}

// Names returns the registered canvas names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.canvases))
	for name := range r.canvases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sweep runs Canvas.Sweep on every canvas and returns the totals.
func (r *Registry) Sweep(now time.Time) SweepResult {
	var total SweepResult
	for _, name := range r.Names() {
		c, err := r.Lookup(name)
		if err != nil {
			continue
		}
		res := c.Sweep(now)
		if res.Keys > 0 || res.Sessions > 0 {
			slog.Debug("swept canvas", "canvas", name, "keys", res.Keys, "sessions", res.Sessions)
		}
		total.Keys += res.Keys
		total.Sessions += res.Sessions
	}
	return total
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if res := r.Sweep(r.clock.Now()); res.Keys > 0 || res.Sessions > 0 {
				slog.Info("evicted expired entries", "keys", res.Keys, "sessions", res.Sessions)
			}
		case <-ctx.Done():
			return
		}
	}
}
