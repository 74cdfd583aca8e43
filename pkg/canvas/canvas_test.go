package canvas

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doriantessier/pixel-war/pkg/clock"
	"github.com/doriantessier/pixel-war/pkg/idgen"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCanvas(t *testing.T, opts Options) (*Canvas, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	c, err := New(opts, clk, idgen.Sequence("id-"))
	require.NoError(t, err)
	return c, clk
}

func register(t *testing.T, c *Canvas) string {
	t.Helper()
	reg, err := c.RegisterSession(c.IssueKey())
	require.NoError(t, err)
	return reg.SessionID
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Width: 0, Height: 5}, nil, nil)
	assert.Error(t, err)
	_, err = New(Options{Width: 5, Height: 5, Cooldown: -time.Second}, nil, nil)
	assert.Error(t, err)
}

func TestScenario(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 10, Height: 10, Cooldown: 10 * time.Second})

	reg, err := c.RegisterSession(c.IssueKey())
	require.NoError(t, err)
	assert.Equal(t, 10, reg.Width)
	assert.Equal(t, 10, reg.Height)
	for _, col := range reg.Grid.Columns() {
		for _, cell := range col {
			assert.Equal(t, Color{}, cell)
		}
	}

	res, err := c.WritePixel(3, 4, red, reg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{X: 3, Y: 4, Color: red}, res)

	_, err = c.WritePixel(1, 1, blue, reg.SessionID)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(10), rl.RetryAfterSeconds)

	delta, err := c.ComputeDelta(reg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, reg.SessionID, delta.SessionID)
	assert.Equal(t, []Change{{X: 3, Y: 4, Color: red}}, delta.Changes)

	delta, err = c.ComputeDelta(reg.SessionID)
	require.NoError(t, err)
	assert.Empty(t, delta.Changes)
}

func TestWritePixelOutOfBounds(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 4, Height: 3})
	id := register(t, c)
	before := c.Snapshot()

	for _, p := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 3}, {4, 3}, {100, 100}} {
		_, err := c.WritePixel(p[0], p[1], red, id)
		assert.ErrorIs(t, err, ErrOutOfBounds, "point %v", p)
	}
	assert.Equal(t, before, c.Snapshot())

	_, err := c.WritePixel(3, 2, red, id)
	assert.NoError(t, err)
}

func TestOutOfBoundsDoesNotStartCooldown(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2, Cooldown: time.Minute})
	id := register(t, c)

	_, err := c.WritePixel(5, 5, red, id)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = c.WritePixel(1, 1, red, id)
	assert.NoError(t, err)
}

func TestRateLimitBoundary(t *testing.T) {
	const cooldown = 10 * time.Second
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2, Cooldown: cooldown})
	id := register(t, c)

	_, err := c.WritePixel(0, 0, red, id)
	require.NoError(t, err)

	clk.Advance(cooldown - time.Nanosecond)
	_, err = c.WritePixel(1, 1, blue, id)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, int64(1), rl.RetryAfterSeconds)
	assert.Equal(t, Color{}, c.Snapshot().At(1, 1))

	clk.Advance(time.Nanosecond)
	_, err = c.WritePixel(1, 1, blue, id)
	require.NoError(t, err)
	assert.Equal(t, blue, c.Snapshot().At(1, 1))
}

func TestRetryAfterRoundsUp(t *testing.T) {
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2, Cooldown: 10 * time.Second})
	id := register(t, c)

	_, err := c.WritePixel(0, 0, red, id)
	require.NoError(t, err)
	clk.Advance(2500 * time.Millisecond)

	_, err = c.WritePixel(0, 0, blue, id)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, int64(8), rl.RetryAfterSeconds)
}

func TestRejectedWriteDoesNotResetCooldown(t *testing.T) {
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2, Cooldown: 10 * time.Second})
	id := register(t, c)

	_, err := c.WritePixel(0, 0, red, id)
	require.NoError(t, err)
	clk.Advance(9 * time.Second)
	_, err = c.WritePixel(0, 1, red, id)
	require.ErrorIs(t, err, ErrRateLimited)

	clk.Advance(time.Second)
	_, err = c.WritePixel(0, 1, red, id)
	assert.NoError(t, err)
}

func TestCooldownIsPerSession(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2, Cooldown: time.Hour})
	a := register(t, c)
	b := register(t, c)

	_, err := c.WritePixel(0, 0, red, a)
	require.NoError(t, err)
	_, err = c.WritePixel(0, 0, blue, b)
	require.NoError(t, err)
	assert.Equal(t, blue, c.Snapshot().At(0, 0))
}

func TestUnknownSession(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2})

	_, err := c.WritePixel(0, 0, red, "nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = c.ComputeDelta("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.False(t, c.IsValidSession("nope"))
}

func TestDeltaReportsFinalValueOnce(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 5, Height: 5})
	viewer := register(t, c)
	writer := register(t, c)

	for _, col := range []Color{red, blue, {G: 7}} {
		_, err := c.WritePixel(2, 2, col, writer)
		require.NoError(t, err)
	}
	_, err := c.WritePixel(4, 0, red, writer)
	require.NoError(t, err)
	_, err = c.WritePixel(1, 1, red, writer)
	require.NoError(t, err)
	_, err = c.WritePixel(1, 1, Color{}, writer)
	require.NoError(t, err)

	delta, err := c.ComputeDelta(viewer)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{X: 4, Y: 0, Color: red},
		{X: 2, Y: 2, Color: Color{G: 7}},
	}, delta.Changes)
}

func TestSessionIsolation(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 3, Height: 3})
	a := register(t, c)
	_, err := c.WritePixel(0, 0, red, a)
	require.NoError(t, err)

	b := register(t, c)
	_, err = c.WritePixel(1, 1, blue, b)
	require.NoError(t, err)

	da, err := c.ComputeDelta(a)
	require.NoError(t, err)
	assert.Equal(t, []Change{{X: 0, Y: 0, Color: red}, {X: 1, Y: 1, Color: blue}}, da.Changes)

	// b registered after the red write, so it only sees its own.
	db, err := c.ComputeDelta(b)
	require.NoError(t, err)
	assert.Equal(t, []Change{{X: 1, Y: 1, Color: blue}}, db.Changes)
}

func TestRegistrationGridIsACopy(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2})
	reg, err := c.RegisterSession(c.IssueKey())
	require.NoError(t, err)

	reg.Grid.Set(0, 0, red)
	assert.Equal(t, Color{}, c.Snapshot().At(0, 0))

	delta, err := c.ComputeDelta(reg.SessionID)
	require.NoError(t, err)
	assert.Empty(t, delta.Changes)
}

func TestInvalidKeys(t *testing.T) {
	a, err := New(Options{Width: 2, Height: 2}, nil, nil)
	require.NoError(t, err)
	b, err := New(Options{Width: 2, Height: 2}, nil, nil)
	require.NoError(t, err)

	key := b.IssueKey()
	assert.True(t, b.IsValidKey(key))
	assert.False(t, a.IsValidKey(key))
	_, err = a.RegisterSession(key)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = a.RegisterSession("")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = a.RegisterSession("made-up")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeysAreReusableByDefault(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2})
	key := c.IssueKey()

	a, err := c.RegisterSession(key)
	require.NoError(t, err)
	b, err := c.RegisterSession(key)
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.True(t, c.IsValidKey(key))
}

func TestOneTimeKeys(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2, OneTimeKeys: true})
	key := c.IssueKey()

	_, err := c.RegisterSession(key)
	require.NoError(t, err)
	assert.False(t, c.IsValidKey(key))
	_, err = c.RegisterSession(key)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCheckSessionKey(t *testing.T) {
	c, _ := newTestCanvas(t, Options{Width: 2, Height: 2})
	key := c.IssueKey()
	reg, err := c.RegisterSession(key)
	require.NoError(t, err)

	assert.NoError(t, c.CheckSessionKey(reg.SessionID, key))
	assert.ErrorIs(t, c.CheckSessionKey(reg.SessionID, c.IssueKey()), ErrKeyMismatch)
	assert.ErrorIs(t, c.CheckSessionKey("missing", key), ErrUnknownSession)
}

func TestKeyExpiry(t *testing.T) {
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2, KeyTTL: time.Hour})
	old := c.IssueKey()
	clk.Advance(30 * time.Minute)
	fresh := c.IssueKey()
	clk.Advance(30 * time.Minute)

	assert.False(t, c.IsValidKey(old))
	_, err := c.RegisterSession(old)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.True(t, c.IsValidKey(fresh))

	res := c.Sweep(clk.Now())
	assert.Equal(t, SweepResult{Keys: 1}, res)
	assert.Equal(t, 1, c.Stats().Keys)
}

func TestSessionIdleExpiry(t *testing.T) {
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2, SessionTTL: 10 * time.Minute})
	active := register(t, c)
	idle := register(t, c)

	clk.Advance(6 * time.Minute)
	_, err := c.ComputeDelta(active)
	require.NoError(t, err)
	clk.Advance(6 * time.Minute)

	assert.True(t, c.IsValidSession(active))
	assert.False(t, c.IsValidSession(idle))
	_, err = c.WritePixel(0, 0, red, idle)
	assert.ErrorIs(t, err, ErrUnknownSession)

	clk.Advance(4 * time.Minute)
	res := c.Sweep(clk.Now())
	assert.Equal(t, SweepResult{Sessions: 1}, res)
	assert.Equal(t, 0, c.Stats().Sessions)
}

func TestSweepWithoutTTLKeepsEverything(t *testing.T) {
	c, clk := newTestCanvas(t, Options{Width: 2, Height: 2})
	register(t, c)
	clk.Advance(365 * 24 * time.Hour)

	assert.Equal(t, SweepResult{}, c.Sweep(clk.Now()))
	stats := c.Stats()
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 1, stats.Sessions)
}

func TestConcurrentWritesFromOneSession(t *testing.T) {
	c, err := New(Options{Width: 8, Height: 8, Cooldown: time.Hour}, nil, nil)
	require.NoError(t, err)
	id := register(t, c)

	var ok, limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.WritePixel(i%8, i/8, red, id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrRateLimited):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(63), limited.Load())
	assert.Equal(t, int64(1), c.Stats().Writes)
}

func TestConcurrentWritesAreNeverLostByDeltas(t *testing.T) {
	const size = 16
	c, err := New(Options{Width: size, Height: size}, nil, nil)
	require.NoError(t, err)
	viewer := register(t, c)

	seen := make(map[[2]int]int)
	done := make(chan struct{})
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		for {
			delta, err := c.ComputeDelta(viewer)
			if err != nil {
				t.Errorf("delta: %v", err)
				return
			}
			for _, ch := range delta.Changes {
				seen[[2]int{ch.X, ch.Y}]++
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	writers := make([]string, 8)
	for w := range writers {
		writers[w] = register(t, c)
	}

	var wg sync.WaitGroup
	for w, id := range writers {
		wg.Add(1)
		go func(w int, id string) {
			defer wg.Done()
			for i := w; i < size*size; i += 8 {
				if _, err := c.WritePixel(i%size, i/size, Color{R: uint8(w + 1)}, id); err != nil {
					t.Errorf("write: %v", err)
				}
			}
		}(w, id)
	}
	wg.Wait()
	close(done)
	<-pollerDone

	final, err := c.ComputeDelta(viewer)
	require.NoError(t, err)
	for _, ch := range final.Changes {
		seen[[2]int{ch.X, ch.Y}]++
	}

	require.Len(t, seen, size*size)
	for cell, n := range seen {
		assert.Equal(t, 1, n, fmt.Sprintf("cell %v reported %d times", cell, n))
	}
}

func TestCooldownAppliesWhenClockStartsAtZeroTime(t *testing.T) {
	clk := clock.Fake(time.Time{})
	c, err := New(Options{Width: 2, Height: 2, Cooldown: time.Hour}, clk, idgen.Sequence("id-"))
	require.NoError(t, err)
	id := register(t, c)

	_, err = c.WritePixel(0, 0, red, id)
	require.NoError(t, err)
	_, err = c.WritePixel(1, 1, blue, id)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, int64(3600), rl.RetryAfterSeconds)

	clk.Advance(time.Hour)
	_, err = c.WritePixel(1, 1, blue, id)
	assert.NoError(t, err)
}
