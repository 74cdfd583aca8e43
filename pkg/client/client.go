// Package client talks to the pixel-war HTTP API. It sends credentials as
// query parameters, so it works over plain HTTP where secure cookies would be
// dropped.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/doriantessier/pixel-war/pkg/api"
	"github.com/doriantessier/pixel-war/pkg/canvas"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Kind, e.Message)
}

type Client struct {
	baseUrl    *url.URL
	canvas     string
	httpClient *http.Client

	key       string
	sessionID string
}

// New returns a client for the named canvas served at baseUrl (for example
// http://127.0.0.1:8080).
func New(baseUrl *url.URL, canvasName string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseUrl: baseUrl, canvas: canvasName, httpClient: httpClient}
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) endpoint(name string, params url.Values) *url.URL {
	u := c.baseUrl.JoinPath("api/v1", c.canvas, name)
	if c.key != "" {
		params.Set("key", c.key)
	}
	if c.sessionID != "" {
		params.Set("id", c.sessionID)
	}
	u.RawQuery = params.Encode()
	return u
}

func (c *Client) call(ctx context.Context, method string, u *url.URL, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var body struct {
		Error             string `json:"error"`
		Kind              string `json:"kind"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return &APIError{StatusCode: status, Message: string(raw)}
	}
	if body.Kind == "rate_limited" {
		return &canvas.RateLimitedError{RetryAfterSeconds: body.RetryAfterSeconds}
	}
	return &APIError{StatusCode: status, Kind: body.Kind, Message: body.Error}
}

// Canvases lists the canvases served by the server.
func (c *Client) Canvases(ctx context.Context) ([]api.CanvasInfo, error) {
	var out []api.CanvasInfo
	err := c.call(ctx, http.MethodGet, c.baseUrl.JoinPath("api/v1/canvases"), &out)
	return out, err
}

// Preinit fetches a fresh access key and remembers it.
func (c *Client) Preinit(ctx context.Context) (string, error) {
	c.key, c.sessionID = "", ""
	var out api.KeyResponse
	if err := c.call(ctx, http.MethodGet, c.endpoint("preinit", url.Values{}), &out); err != nil {
		return "", err
	}
	c.key = out.Key
	return out.Key, nil
}

// Init redeems the remembered key for a session and returns the full grid.
func (c *Client) Init(ctx context.Context) (api.RegistrationResponse, error) {
	if c.key == "" {
		return api.RegistrationResponse{}, errors.New("no key: call Preinit first")
	}
	c.sessionID = ""
	var out api.RegistrationResponse
	if err := c.call(ctx, http.MethodGet, c.endpoint("init", url.Values{}), &out); err != nil {
		return api.RegistrationResponse{}, err
	}
	c.sessionID = out.ID
	return out, nil
}

// Deltas returns the cells changed since the previous call.
func (c *Client) Deltas(ctx context.Context) (api.DeltaResponse, error) {
	var out api.DeltaResponse
	err := c.call(ctx, http.MethodGet, c.endpoint("deltas", url.Values{}), &out)
	return out, err
}

// SetPixel paints one cell. A cooldown rejection is returned as
// *canvas.RateLimitedError.
func (c *Client) SetPixel(ctx context.Context, x, y int, color canvas.Color) (api.WriteResponse, error) {
	params := url.Values{}
	params.Set("x", strconv.Itoa(x))
	params.Set("y", strconv.Itoa(y))
	params.Set("r", strconv.Itoa(int(color.R)))
	params.Set("g", strconv.Itoa(int(color.G)))
	params.Set("b", strconv.Itoa(int(color.B)))
	var out api.WriteResponse
	err := c.call(ctx, http.MethodPost, c.endpoint("set_pixel", params), &out)
	return out, err
}

// Watch opens the websocket stream and calls fn for every delta until ctx is
// cancelled, the server closes the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(api.DeltaResponse) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u := c.endpoint("stream", url.Values{})
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg api.DeltaResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
