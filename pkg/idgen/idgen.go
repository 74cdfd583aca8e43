// Package idgen produces the opaque tokens handed to clients: access keys and
// session ids. Tokens come from crypto/rand via random (v4) UUIDs so they are
// not guessable from previously issued ones.
package idgen

import (
	"strconv"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Random returns a Generator of random UUID strings.
func Random() Generator {
	return func() string {
		return uuid.NewString()
	}
}

// Prefixed wraps gen and prepends prefix to every id, e.g. "key_" or "sess_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator yielding prefix0, prefix1, ...
// It is only meant for tests.
func Sequence(prefix string) Generator {
	var n int
	return func() string {
		id := prefix + strconv.Itoa(n)
		n++
		return id
	}
}
