package canvas

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCanvas   = errors.New("unknown canvas")
	ErrDuplicateCanvas = errors.New("canvas already registered")
	ErrInvalidKey      = errors.New("invalid access key")
	ErrKeyMismatch     = errors.New("access key does not match session")
	ErrUnknownSession  = errors.New("unknown session")
	ErrOutOfBounds     = errors.New("coordinates outside the canvas")
	ErrInvalidColor    = errors.New("invalid color")
	ErrRateLimited     = errors.New("rate limited")
)

// RateLimitedError is returned by WritePixel when the session's cooldown has
// not elapsed. errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfterSeconds int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %d s", e.RetryAfterSeconds)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
