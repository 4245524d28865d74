package syncchan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

type WebSocketState int

const (
	WSStateDisconnected WebSocketState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateFailed
)

func (s WebSocketState) String() string {
	switch s {
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type StateCallback func(WebSocketState)

// HeaderProvider allows injecting handshake headers (client identity).
type HeaderProvider func() map[string]string

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// WebSocketTransport multiplexes session subscriptions over one connection to
// the authority's /ws endpoint. Open sessions are resubscribed after a reconnect.
type WebSocketTransport struct {
	wsURL  string
	logger *zap.Logger

	conn   *websocket.Conn
	connM  sync.Mutex
	writeM sync.Mutex
	state  WebSocketState
	stateM sync.RWMutex

	handlers map[string]func([]byte)
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration
	dialTimeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewWebSocketTransport(wsURL string, maxReconnectAttempts int, logger *zap.Logger) *WebSocketTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		wsURL:                wsURL,
		logger:               obslog.Or(logger),
		state:                WSStateDisconnected,
		handlers:             make(map[string]func([]byte)),
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		dialTimeout:          10 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

// SetHeaderProvider allows injecting headers into the WS handshake.
func (ws *WebSocketTransport) SetHeaderProvider(h HeaderProvider) {
	ws.headerProvider = h
}

func (ws *WebSocketTransport) State() WebSocketState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

// Subscribe registers handle for sessionID, connecting on first use.
func (ws *WebSocketTransport) Subscribe(ctx context.Context, sessionID string, handle func([]byte)) (func() error, error) {
	if ws.isStopping() {
		return nil, ErrClosed
	}
	if err := ws.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ws.cbM.Lock()
	ws.handlers[sessionID] = handle
	ws.cbM.Unlock()

	if err := ws.writeFrame(ctx, boarddto.Frame{Type: boarddto.FrameSubscribe, SessionID: sessionID}); err != nil {
		ws.cbM.Lock()
		delete(ws.handlers, sessionID)
		ws.cbM.Unlock()
		return nil, err
	}

	return func() error {
		ws.cbM.Lock()
		delete(ws.handlers, sessionID)
		ws.cbM.Unlock()
		if ws.isStopping() || ws.State() != WSStateConnected {
			return nil
		}
		ctx, cancel := context.WithTimeout(ws.rootCtx, 5*time.Second)
		defer cancel()
		return ws.writeFrame(ctx, boarddto.Frame{Type: boarddto.FrameUnsubscribe, SessionID: sessionID})
	}, nil
}

func (ws *WebSocketTransport) ensureConnected(ctx context.Context) error {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	if ws.conn != nil {
		return nil
	}

	ws.setState(WSStateConnecting)
	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(WSStateFailed)
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ws.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	return conn, err
}

// attach installs conn and starts its loops. connM must be held.
func (ws *WebSocketTransport) attach(conn *websocket.Conn) {
	ws.conn = conn
	ws.setState(WSStateConnected)
	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
}

func (ws *WebSocketTransport) currentConn() *websocket.Conn {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	return ws.conn
}

func (ws *WebSocketTransport) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		_, payload, err := conn.Read(ws.rootCtx)
		if err != nil {
			if ws.isStopping() {
				return
			}
			ws.logger.Warn("ws_read_error", zap.Error(err))
			ws.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			return
		}
		ws.route(payload)
	}
}

func (ws *WebSocketTransport) route(payload []byte) {
	var head boarddto.Snapshot
	if err := json.Unmarshal(payload, &head); err != nil {
		ws.logger.Warn("ws_frame_malformed", zap.Error(err))
		return
	}
	id := head.ID()
	ws.cbM.RLock()
	h := ws.handlers[id]
	ws.cbM.RUnlock()
	if h == nil {
		return
	}
	h(payload)
}

func (ws *WebSocketTransport) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			if ws.currentConn() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					if ws.isStopping() {
						return
					}
					ws.dropConn(conn, websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// dropConn closes conn if it is still current and schedules a reconnect.
func (ws *WebSocketTransport) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	ws.connM.Lock()
	if ws.conn != conn {
		ws.connM.Unlock()
		return
	}
	ws.conn = nil
	ws.connM.Unlock()
	_ = conn.Close(code, reason)
	ws.setState(WSStateDisconnected)
	ws.scheduleReconnect()
}

func (ws *WebSocketTransport) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 {
		ws.setState(WSStateFailed)
		return
	}
	ws.setState(WSStateReconnecting)

	go func() {
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}

			conn, err := ws.dial(ws.rootCtx)
			if err != nil {
				ws.logger.Debug("ws_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}

			ws.connM.Lock()
			if ws.isStopping() {
				ws.connM.Unlock()
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			ws.attach(conn)
			ws.connM.Unlock()

			ws.resubscribe()
			ws.logger.Info("ws_reconnected", zap.Int("attempt", attempt))
			return
		}
		ws.setState(WSStateFailed)
	}()
}

func (ws *WebSocketTransport) resubscribe() {
	ws.cbM.RLock()
	ids := make([]string, 0, len(ws.handlers))
	for id := range ws.handlers {
		ids = append(ids, id)
	}
	ws.cbM.RUnlock()
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(ws.rootCtx, 5*time.Second)
		if err := ws.writeFrame(ctx, boarddto.Frame{Type: boarddto.FrameSubscribe, SessionID: id}); err != nil {
			ws.logger.Warn("ws_resubscribe_failed", zap.String("session", id), zap.Error(err))
		}
		cancel()
	}
}

// writeFrame serializes writes; wsjson.Write is not safe for concurrent use.
func (ws *WebSocketTransport) writeFrame(ctx context.Context, f boarddto.Frame) error {
	conn := ws.currentConn()
	if conn == nil {
		return errors.New("ws not connected")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	return wsjson.Write(ctx, conn, f)
}

func (ws *WebSocketTransport) OnStateChange(cb StateCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.stateCbs = append(ws.stateCbs, stateCallbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *WebSocketTransport) RemoveStateCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.stateCbs {
		if cb.id == id {
			ws.stateCbs = append(ws.stateCbs[:i], ws.stateCbs[i+1:]...)
			break
		}
	}
}

func (ws *WebSocketTransport) setState(state WebSocketState) {
	ws.stateM.Lock()
	ws.state = state
	ws.stateM.Unlock()

	ws.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ws.stateCbs))
	copy(callbacks, ws.stateCbs)
	ws.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (ws *WebSocketTransport) Close() error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })

	ws.connM.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	ws.rootCancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return errors.New("ws close timed out")
	}
	ws.setState(WSStateDisconnected)
	return nil
}

func (ws *WebSocketTransport) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *WebSocketTransport) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
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
