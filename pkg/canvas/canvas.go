// Package canvas implements the shared pixel canvas: the grid, access keys,
// sessions with their last-observed snapshots, the delta engine and the
// cooldown-gated write path.
//
// Every Canvas serializes its operations behind a single lock guarding the
// grid, the key set and the session map together. Operations on different
// canvases never contend.
package canvas

import (
	"fmt"
	"sync"
	"time"

	"github.com/doriantessier/pixel-war/pkg/clock"
	"github.com/doriantessier/pixel-war/pkg/idgen"
)

// Options configures a Canvas. Width, Height and Cooldown are fixed for the
// lifetime of the canvas.
type Options struct {
	Width    int
	Height   int
	Cooldown time.Duration

	// KeyTTL bounds how long an issued key can be redeemed. Zero disables
	// key expiry.
	KeyTTL time.Duration
	// SessionTTL evicts sessions idle for at least this long. Zero
	// disables session expiry.
	SessionTTL time.Duration
	// OneTimeKeys makes RegisterSession consume the key it redeems. By
	// default a key can be redeemed any number of times until it expires.
	OneTimeKeys bool
}

// Registration is returned by RegisterSession. Grid is a private copy of the
// canvas at registration time.
type Registration struct {
	SessionID string
	Width     int
	Height    int
	Grid      Grid
}

// WriteResult echoes an accepted write.
type WriteResult struct {
	X, Y  int
	Color Color
}

// Stats is a point in time summary of a canvas.
type Stats struct {
	Keys     int
	Sessions int
	Writes   int64
}

// SweepResult counts what Sweep evicted.
type SweepResult struct {
	Keys     int
	Sessions int
}

type Canvas struct {
	opts  Options
	clock clock.Clock
	ids   idgen.Generator

	mu       sync.RWMutex
	grid     Grid
	keys     map[string]time.Time
	sessions map[string]*session
	writes   int64
}

// New returns a canvas with every cell black. A nil clock means clock.Real()
// and a nil generator means idgen.Random().
func New(opts Options, clk clock.Clock, ids idgen.Generator) (*Canvas, error) {
	if opts.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative, got %s", opts.Cooldown)
	}
	grid, err := NewGrid(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	if ids == nil {
		ids = idgen.Random()
	}
	return &Canvas{
		opts:     opts,
		clock:    clk,
		ids:      ids,
		grid:     grid,
		keys:     make(map[string]time.Time),
		sessions: make(map[string]*session),
	}, nil
}

func (c *Canvas) Width() int              { return c.opts.Width }
func (c *Canvas) Height() int             { return c.opts.Height }
func (c *Canvas) Cooldown() time.Duration { return c.opts.Cooldown }

// IssueKey creates a fresh access key and adds it to the live key set.
func (c *Canvas) IssueKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.ids()
	c.keys[key] = c.clock.Now()
	return key
}

// IsValidKey reports whether key is live on this canvas.
func (c *Canvas) IsValidKey(key string) bool {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveKey(key, now)
}

func (c *Canvas) liveKey(key string, now time.Time) bool {
	issuedAt, ok := c.keys[key]
	if !ok {
		return false
	}
	return c.opts.KeyTTL <= 0 || now.Sub(issuedAt) < c.opts.KeyTTL
}

// RegisterSession redeems key for a new session whose snapshot is the current
// grid.
func (c *Canvas) RegisterSession(key string) (Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if !c.liveKey(key, now) {
		return Registration{}, ErrInvalidKey
	}
	if c.opts.OneTimeKeys {
		delete(c.keys, key)
	}
	s := newSession(c.ids(), key, c.grid, now)
	c.sessions[s.id] = s
	return Registration{
		SessionID: s.id,
		Width:     c.grid.Width(),
		Height:    c.grid.Height(),
		Grid:      c.grid.Clone(),
	}, nil
}

// IsValidSession reports whether id names a live session.
func (c *Canvas) IsValidSession(id string) bool {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return ok && !s.idle(now, c.opts.SessionTTL)
}

// CheckSessionKey verifies that id is a live session registered with key.
func (c *Canvas) CheckSessionKey(id, key string) error {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok || s.idle(now, c.opts.SessionTTL) {
		return ErrUnknownSession
	}
	if s.key != key {
		return ErrKeyMismatch
	}
	return nil
}

// lookup returns the live session for id, dropping it if it has gone idle.
// c.mu must be held for writing.
func (c *Canvas) lookup(id string, now time.Time) (*session, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	if s.idle(now, c.opts.SessionTTL) {
		delete(c.sessions, id)
		return nil, ErrUnknownSession
	}
	return s, nil
}

// WritePixel paints (x, y) on behalf of the session, provided its cooldown has
// elapsed. A rejected write changes neither the grid nor the session's
// cooldown.
func (c *Canvas) WritePixel(x, y int, color Color, sessionID string) (WriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	s, err := c.lookup(sessionID, now)
	if err != nil {
		return WriteResult{}, err
	}
	s.touch(now)
	if !c.grid.InBounds(x, y) {
		return WriteResult{}, fmt.Errorf("%w: (%d, %d) on a %dx%d canvas",
			ErrOutOfBounds, x, y, c.grid.Width(), c.grid.Height())
	}
	if wait := s.retryAfter(now, c.opts.Cooldown); wait > 0 {
		return WriteResult{}, &RateLimitedError{RetryAfterSeconds: ceilSeconds(wait)}
	}
	c.grid.Set(x, y, color)
	s.recordWrite(now)
	c.writes++
	return WriteResult{X: x, Y: y, Color: color}, nil
}

// ComputeDelta returns the cells that changed since the session's last delta
// and makes the current grid its new snapshot. Both steps happen under the
// canvas lock, so a concurrent write lands either in this delta or the next.
func (c *Canvas) ComputeDelta(sessionID string) (Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	s, err := c.lookup(sessionID, now)
	if err != nil {
		return Delta{}, err
	}
	s.touch(now)
	changes := Diff(c.grid, s.snapshot)
	if len(changes) > 0 {
		s.snapshot.copyFrom(c.grid)
	}
	return Delta{
		SessionID: s.id,
		Width:     c.grid.Width(),
		Height:    c.grid.Height(),
		Changes:   changes,
	}, nil
}

// Snapshot returns a copy of the current grid.
func (c *Canvas) Snapshot() Grid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grid.Clone()
}

func (c *Canvas) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Keys: len(c.keys), Sessions: len(c.sessions), Writes: c.writes}
}

// Sweep evicts keys older than KeyTTL and sessions idle for SessionTTL as of
// now.
func (c *Canvas) Sweep(now time.Time) SweepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res SweepResult
	if c.opts.KeyTTL > 0 {
		for key, issuedAt := range c.keys {
			if now.Sub(issuedAt) >= c.opts.KeyTTL {
				delete(c.keys, key)
				res.Keys++
			}
		}
	}
	if c.opts.SessionTTL > 0 {
		for id, s := range c.sessions {
			if s.idle(now, c.opts.SessionTTL) {
				delete(c.sessions, id)
				res.Sessions++
			}
		}
	}
	return res
}
