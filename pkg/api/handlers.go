package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/doriantessier/pixel-war/pkg/canvas"
	"github.com/doriantessier/pixel-war/pkg/store"
)

type CanvasInfo struct {
	Name            string  `json:"name"`
	NX              int     `json:"nx"`
	NY              int     `json:"ny"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

type KeyResponse struct {
	Key string `json:"key"`
}

// RegistrationResponse carries the full grid as Data[x][y].
type RegistrationResponse struct {
	ID   string           `json:"id"`
	NX   int              `json:"nx"`
	NY   int              `json:"ny"`
	Data [][]canvas.Color `json:"data"`
}

type DeltaResponse struct {
	ID     string          `json:"id"`
	NX     int             `json:"nx"`
	NY     int             `json:"ny"`
	Deltas []canvas.Change `json:"deltas"`
}

type WriteResponse struct {
	Status string       `json:"status"`
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Color  canvas.Color `json:"color"`
}

func newDeltaResponse(d canvas.Delta) DeltaResponse {
	return DeltaResponse{ID: d.SessionID, NX: d.Width, NY: d.Height, Deltas: d.Changes}
}

func (s *Server) lookup(request *http.Request) (string, *canvas.Canvas, error) {
	name := mux.Vars(request)["canvas"]
	c, err := s.registry.Lookup(name)
	return name, c, err
}

// credential returns the value of the named cookie or query parameter.
func credential(request *http.Request, cookieName, queryName string) (string, error) {
	query := request.URL.Query().Get(queryName)
	var fromCookie string
	if cookie, err := request.Cookie(cookieName); err == nil {
		fromCookie = cookie.Value
	}
	switch {
	case query != "" && fromCookie != "" && query != fromCookie:
		return "", fmt.Errorf("%w: %s cookie and query parameter differ", errBadRequest, cookieName)
	case query != "":
		return query, nil
	case fromCookie != "":
		return fromCookie, nil
	default:
		return "", fmt.Errorf("%w: missing %s", errBadRequest, queryName)
	}
}

// sessionOf resolves and checks the key and session id of request against c.
func sessionOf(request *http.Request, c *canvas.Canvas) (string, error) {
	key, err := credential(request, keyCookie, "key")
	if err != nil {
		return "", err
	}
	id, err := credential(request, sessionCookie, "id")
	if err != nil {
		return "", err
	}
	if err := c.CheckSessionKey(id, key); err != nil {
		return "", err
	}
	return id, nil
}

func setCookie(writer http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (s *Server) listCanvases(writer http.ResponseWriter, request *http.Request) {
	out := []CanvasInfo{}
	for _, name := range s.registry.Names() {
		c, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, CanvasInfo{Name: name, NX: c.Width(), NY: c.Height(), CooldownSeconds: c.Cooldown().Seconds()})
	}
	writeJSON(writer, http.StatusOK, out)
}

func (s *Server) preinit(writer http.ResponseWriter, request *http.Request) {
	_, c, err := s.lookup(request)
	if err != nil {
		writeError(writer, err)
		return
	}
	key := c.IssueKey()
	setCookie(writer, keyCookie, key, s.opts.KeyCookieMaxAge)
	writeJSON(writer, http.StatusOK, KeyResponse{Key: key})
}

func (s *Server) init(writer http.ResponseWriter, request *http.Request) {
	name, c, err := s.lookup(request)
	if err != nil {
		writeError(writer, err)
		return
	}
	key, err := credential(request, keyCookie, "key")
	if err != nil {
		writeError(writer, err)
		return
	}
	reg, err := c.RegisterSession(key)
	if err != nil {
		writeError(writer, err)
		return
	}
	slog.Debug("registered session", "canvas", name, "session", reg.SessionID)
	setCookie(writer, sessionCookie, reg.SessionID, s.opts.SessionCookieMaxAge)
	writeJSON(writer, http.StatusOK, RegistrationResponse{
		ID:   reg.SessionID,
		NX:   reg.Width,
		NY:   reg.Height,
		Data: reg.Grid.Columns(),
	})
}

func (s *Server) deltas(writer http.ResponseWriter, request *http.Request) {
	_, c, err := s.lookup(request)
	if err != nil {
		writeError(writer, err)
		return
	}
	id, err := sessionOf(request, c)
	if err != nil {
		writeError(writer, err)
		return
	}
	delta, err := c.ComputeDelta(id)
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, newDeltaResponse(delta))
}

func intParam(request *http.Request, name string) (int, error) {
	raw := request.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", errBadRequest, name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", errBadRequest, name)
	}
	return v, nil
}

func (s *Server) setPixel(writer http.ResponseWriter, request *http.Request) {
	name, c, err := s.lookup(request)
	if err != nil {
		writeError(writer, err)
		return
	}
	id, err := sessionOf(request, c)
	if err != nil {
		writeError(writer, err)
		return
	}
	var params [5]int
	for i, p := range [...]string{"x", "y", "r", "g", "b"} {
		if params[i], err = intParam(request, p); err != nil {
			writeError(writer, err)
			return
		}
	}
	color, err := canvas.NewColor(params[2], params[3], params[4])
	if err != nil {
		writeError(writer, err)
		return
	}
	res, err := c.WritePixel(params[0], params[1], color, id)
	if err != nil {
		writeError(writer, err)
		return
	}
	if s.opts.Journal != nil {
		if err := s.opts.Journal.RecordWrite(request.Context(), store.WriteRecord{
			Canvas:    name,
			SessionID: id,
			X:         res.X,
			Y:         res.Y,
			Color:     res.Color,
			WrittenAt: s.opts.Clock.Now(),
		}); err != nil {
			slog.Error("failed to journal write", "canvas", name, "err", err)
		}
	}
	writeJSON(writer, http.StatusOK, WriteResponse{Status: "ok", X: res.X, Y: res.Y, Color: res.Color})
}

func (s *Server) stream(writer http.ResponseWriter, request *http.Request) {
	name, c, err := s.lookup(request)
	if err != nil {
		writeError(writer, err)
		return
	}
	id, err := sessionOf(request, c)
	if err != nil {
		writeError(writer, err)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	slog.Info("streaming", "canvas", name, "session", id)
	if err := s.pushDeltas(request.Context(), conn, c, id); err != nil {
		slog.Error("stream ended", "canvas", name, "session", id, "err", err)
	}
}

// pushDeltas writes a DeltaResponse to conn every StreamInterval when
// something changed. It returns when the peer goes away, the session ends,
// the request context is cancelled or the server is closed.
func (s *Server) pushDeltas(ctx context.Context, conn *websocket.Conn, c *canvas.Canvas, id string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.opts.StreamInterval)
	defer t.Stop()
	for {
		delta, err := c.ComputeDelta(id)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			return err
		}
		if len(delta.Changes) > 0 {
			if err := conn.WriteJSON(newDeltaResponse(delta)); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		}
		select {
		case <-t.C:
		case <-s.done:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}
