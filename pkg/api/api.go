// Package api exposes a canvas.Registry over HTTP. Routes follow
// /api/v1/{canvas}/...: preinit hands out an access key, init redeems it for a
// session, deltas and stream deliver changes and set_pixel paints.
//
// Credentials travel in the "key" and "id" cookies set by preinit and init.
// Clients that do not keep cookies may send them as query parameters instead;
// when both are present they must agree.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/doriantessier/pixel-war/pkg/canvas"
	"github.com/doriantessier/pixel-war/pkg/clock"
	"github.com/doriantessier/pixel-war/pkg/store"
)

const (
	keyCookie     = "key"
	sessionCookie = "id"
)

// Journal receives every accepted write.
type Journal interface {
	RecordWrite(ctx context.Context, rec store.WriteRecord) error
}

type Options struct {
	// Journal is optional.
	Journal Journal
	Clock   clock.Clock
	// KeyCookieMaxAge and SessionCookieMaxAge set the Max-Age of the key
	// and id cookies. Zero leaves Max-Age unset, so the cookie lasts for
	// the browser session; use it when the matching TTL is disabled.
	KeyCookieMaxAge     time.Duration
	SessionCookieMaxAge time.Duration
	// StreamInterval is how often a websocket stream polls for deltas.
	StreamInterval time.Duration
}

type Server struct {
	registry *canvas.Registry
	opts     Options
	upgrader websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
}

func NewServer(registry *canvas.Registry, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	return &Server{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Close ends open websocket streams. Plain requests are left to
// http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Router returns the handler serving every route, wrapped in request logging.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Methods(http.MethodGet).Path("/canvases").HandlerFunc(s.listCanvases)
	v1.Methods(http.MethodGet).Path("/{canvas}/preinit").HandlerFunc(s.preinit)
	v1.Methods(http.MethodGet).Path("/{canvas}/init").HandlerFunc(s.init)
	v1.Methods(http.MethodGet).Path("/{canvas}/deltas").HandlerFunc(s.deltas)
	v1.Methods(http.MethodPost).Path("/{canvas}/set_pixel").HandlerFunc(s.setPixel)
	v1.Methods(http.MethodGet).Path("/{canvas}/stream").HandlerFunc(s.stream)
	return r
}

type errorResponse struct {
	Error             string `json:"error"`
	Kind              string `json:"kind"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

var errBadRequest = errors.New("bad request")

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, canvas.ErrUnknownCanvas):
		return http.StatusNotFound, "unknown_canvas"
	case errors.Is(err, canvas.ErrInvalidKey):
		return http.StatusForbidden, "invalid_key"
	case errors.Is(err, canvas.ErrKeyMismatch):
		return http.StatusForbidden, "key_mismatch"
	case errors.Is(err, canvas.ErrUnknownSession):
		return http.StatusForbidden, "unknown_session"
	case errors.Is(err, canvas.ErrOutOfBounds):
		return http.StatusBadRequest, "out_of_bounds"
	case errors.Is(err, canvas.ErrInvalidColor):
		return http.StatusBadRequest, "invalid_color"
	case errors.Is(err, canvas.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(writer http.ResponseWriter, err error) {
	status, kind := classify(err)
	body := errorResponse{Error: err.Error(), Kind: kind}
	var rl *canvas.RateLimitedError
	if errors.As(err, &rl) {
		body.RetryAfterSeconds = rl.RetryAfterSeconds
		writer.Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfterSeconds, 10))
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		body.Error = http.StatusText(status)
	}
	writeJSON(writer, status, body)
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write", "err", err)
	}
}
