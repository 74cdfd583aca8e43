package canvas

import "time"

// session is one registered client's view of a canvas. All fields are guarded
// by the owning Canvas's lock.
type session struct {
	id  string
	key string

	// snapshot is the grid as of the last delta (or registration). It never
	// shares storage with the live grid.
	snapshot Grid

	// lastWriteAt is the time of the last accepted write, meaningful only
	// once written is set. A session that never wrote is not rate limited.
	lastWriteAt time.Time
	written     bool

	createdAt  time.Time
	lastSeenAt time.Time
}

func newSession(id, key string, grid Grid, now time.Time) *session {
	return &session{
		id:         id,
		key:        key,
		snapshot:   grid.Clone(),
		createdAt:  now,
		lastSeenAt: now,
	}
}

// retryAfter returns the remaining cooldown at now, or zero when a write is
// allowed.
func (s *session) retryAfter(now time.Time, cooldown time.Duration) time.Duration {
	if !s.written {
		return 0
	}
	elapsed := now.Sub(s.lastWriteAt)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

func (s *session) recordWrite(now time.Time) {
	s.lastWriteAt = now
	s.written = true
}

func (s *session) touch(now time.Time) {
	if now.After(s.lastSeenAt) {
		s.lastSeenAt = now
	}
}

func (s *session) idle(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.lastSeenAt) >= ttl
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}
