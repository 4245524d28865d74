package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

// HeaderProvider allows injecting per-request headers (client identity).
type HeaderProvider func() map[string]string

// Session is the result of create/join.
type Session struct {
	Snapshot snapshot.Snapshot
	Side     board.Side
}

// Client talks to the authority's REST surface.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry bounds attempts for idempotent reads. Mutations are never retried.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial overrides the dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts a new session; the caller becomes the first side.
func (c *Client) Create(ctx context.Context) (*Session, error) {
	var resp boarddto.SessionResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", nil, &resp, false); err != nil {
		return nil, err
	}
	return toSession(resp, board.White)
}

// Join attaches to an existing session as the second side.
func (c *Client) Join(ctx context.Context, sessionID string) (*Session, error) {
	var resp boarddto.SessionResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(sessionID, "join"), nil, &resp, false); err != nil {
		return nil, err
	}
	return toSession(resp, board.Black)
}

// Read fetches the current snapshot. It is retried on transport failures.
func (c *Client) Read(ctx context.Context, sessionID string) (snapshot.Snapshot, error) {
	var resp boarddto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, gamePath(sessionID, ""), nil, &resp, true); err != nil {
		return snapshot.Snapshot{}, err
	}
	return decodeSnapshot(resp)
}

// Move submits a move attempt. promotion may be nil.
func (c *Client) Move(ctx context.Context, sessionID string, from, to board.Position, promotion *board.Kind) (snapshot.Snapshot, error) {
	req := boarddto.MoveRequest{From: from.String(), To: to.String()}
	if promotion != nil {
		p := string(*promotion)
		req.Promotion = &p
	}
	var resp boarddto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(sessionID, "move"), req, &resp, false); err != nil {
		return snapshot.Snapshot{}, err
	}
	return decodeSnapshot(resp)
}

// Undo requests reversal of the last move.
func (c *Client) Undo(ctx context.Context, sessionID string) (snapshot.Snapshot, error) {
	var resp boarddto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(sessionID, "undo"), nil, &resp, false); err != nil {
		return snapshot.Snapshot{}, err
	}
	return decodeSnapshot(resp)
}

func toSession(resp boarddto.SessionResponse, defaultSide board.Side) (*Session, error) {
	snap, err := decodeSnapshot(resp.Snapshot)
	if err != nil {
		return nil, err
	}
	side := defaultSide
	if strings.TrimSpace(resp.Side) != "" {
		if s, perr := board.ParseSide(resp.Side); perr == nil {
			side = s
		}
	}
	return &Session{Snapshot: snap, Side: side}, nil
}

func decodeSnapshot(w boarddto.Snapshot) (snapshot.Snapshot, error) {
	snap, err := snapshot.FromWire(w)
	if err != nil {
		return snapshot.Snapshot{}, &TransportError{Op: "decode snapshot", Err: err}
	}
	return snap, nil
}

func gamePath(sessionID, action string) string {
	p := "/games/" + url.PathEscape(strings.TrimSpace(sessionID))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &TransportError{Op: method + " " + path, Err: err}
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = &TransportError{Op: method + " " + path, Err: err}
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status >= 500 {
			lastErr = &TransportError{Op: method + " " + path, Err: fmt.Errorf("status=%d body=%s", status, truncate(string(resp.Body()), 512))}
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		if status < 200 || status >= 300 {
			return rejectionFrom(status, resp.Body())
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return &TransportError{Op: "decode response", Err: err}
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// rejectionFrom reads {code?, message} the way the browser client did: a body
// that is not JSON still yields a rejection carrying the status.
func rejectionFrom(status int, body []byte) *Rejection {
	var eb boarddto.ErrorBody
	msg := ""
	if err := json.Unmarshal(body, &eb); err == nil {
		msg = strings.TrimSpace(eb.Message)
	}
	if msg == "" {
		msg = fmt.Sprintf("authority error (%d)", status)
	}
	return &Rejection{Code: classify(status, eb.Code), Message: msg, Status: status}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
