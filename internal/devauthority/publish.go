package devauthority

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

// RedisPublisher fans snapshots out on board:session:<id>:snapshots.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: obslog.Or(logger)}
}

func (p *RedisPublisher) Publish(ctx context.Context, snap snapshot.Snapshot) {
	raw, err := json.Marshal(snap.Wire())
	if err != nil {
		return
	}
	if err := p.rdb.Publish(ctx, boarddto.SnapshotChannel(snap.SessionID), raw).Err(); err != nil {
		p.logger.Warn("redis_publish_error", zap.String("session", snap.SessionID), zap.Error(err))
	}
}

// Hub tracks websocket watchers per session.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	logger   *zap.Logger
}

type watcher struct {
	out  chan []byte
	subs map[string]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{watchers: make(map[string]map[*watcher]struct{}), logger: obslog.Or(logger)}
}

// Publish queues snap for every watcher of its session. Slow watchers miss
// frames rather than block the publisher.
func (h *Hub) Publish(_ context.Context, snap snapshot.Snapshot) {
	raw, err := json.Marshal(snap.Wire())
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[snap.SessionID] {
		select {
		case w.out <- raw:
		default:
			h.logger.Debug("ws_watcher_slow", zap.String("session", snap.SessionID))
		}
	}
}

func (h *Hub) subscribe(w *watcher, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[id]
	if set == nil {
		set = make(map[*watcher]struct{})
		h.watchers[id] = set
	}
	set[w] = struct{}{}
	w.subs[id] = struct{}{}
}

func (h *Hub) unsubscribe(w *watcher, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(w.subs, id)
	if set := h.watchers[id]; set != nil {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, id)
		}
	}
}

func (h *Hub) drop(w *watcher) {
	h.mu.Lock()
	ids := make([]string, 0, len(w.subs))
	for id := range w.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.unsubscribe(w, id)
	}
}

// Watchers reports how many connections follow a session.
func (h *Hub) Watchers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[id])
}

// serve upgrades to a websocket and handles subscribe/unsubscribe frames.
// A subscribe is answered with the session's current snapshot when current
// can provide one.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, current func(ctx context.Context, id string) (snapshot.Snapshot, bool)) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover})
	if err != nil {
		h.logger.Warn("ws_accept_error", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wt := &watcher{out: make(chan []byte, 16), subs: make(map[string]struct{})}
	defer h.drop(wt)

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw := <-wt.out:
				wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
				err := conn.Write(wctx, websocket.MessageText, raw)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var f boarddto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		switch f.Type {
		case boarddto.FrameSubscribe:
			h.subscribe(wt, f.SessionID)
			if current == nil {
				continue
			}
			if snap, ok := current(ctx, f.SessionID); ok {
				if raw, err := json.Marshal(snap.Wire()); err == nil {
					select {
					case wt.out <- raw:
					default:
					}
				}
			}
		case boarddto.FrameUnsubscribe:
			h.unsubscribe(wt, f.SessionID)
		default:
			h.logger.Debug("ws_unknown_frame", zap.String("type", f.Type))
		}
	}
}
