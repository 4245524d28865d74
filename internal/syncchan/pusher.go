package syncchan

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

// Transport carries raw snapshot payloads for a session. The returned function
// stops delivery for that session.
type Transport interface {
	Subscribe(ctx context.Context, sessionID string, handle func([]byte)) (unsubscribe func() error, err error)
	Close() error
}

// Pusher keeps one transport subscription per session id and fans each
// snapshot out to every handle opened for that session.
type Pusher struct {
	transport Transport
	logger    *zap.Logger

	mu     sync.Mutex
	topics map[string]*pushTopic
	closed bool
}

func NewPusher(t Transport, logger *zap.Logger) *Pusher {
	return &Pusher{transport: t, logger: obslog.Or(logger), topics: make(map[string]*pushTopic)}
}

func (p *Pusher) Strategy() Strategy { return Pushed }

// Subscribe opens a feed. When the session already has a transport
// subscription, no new one is opened; the sink joins the existing one and
// gets its own handle.
func (p *Pusher) Subscribe(ctx context.Context, sessionID string, sink Sink) (Subscription, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	t, ok := p.topics[sessionID]
	if !ok {
		t = &pushTopic{id: sessionID, owner: p, subs: make(map[*pushSub]struct{})}
		unsub, err := p.transport.Subscribe(ctx, sessionID, t.handle)
		if err != nil {
			return nil, err
		}
		t.unsubscribe = unsub
		p.topics[sessionID] = t
		p.logger.Debug("sync_push_subscribed", zap.String("session", sessionID))
	}

	s := &pushSub{topic: t, sink: sink, done: make(chan struct{})}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

// Close closes every handle and then the transport.
func (p *Pusher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var subs []*pushSub
	for _, t := range p.topics {
		subs = append(subs, t.handles()...)
	}
	p.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return p.transport.Close()
}

// release drops s from its topic and ends the transport subscription once the
// topic has no handles left. The unsubscribe runs under p.mu so a concurrent
// Subscribe for the same id cannot interleave with it.
func (p *Pusher) release(s *pushSub) {
	t := s.topic
	p.mu.Lock()
	defer p.mu.Unlock()
	t.mu.Lock()
	delete(t.subs, s)
	last := len(t.subs) == 0
	t.mu.Unlock()
	if !last {
		return
	}
	if cur, ok := p.topics[t.id]; ok && cur == t {
		delete(p.topics, t.id)
	}
	if t.unsubscribe != nil {
		if err := t.unsubscribe(); err != nil {
			p.logger.Debug("sync_push_unsubscribe_error", zap.String("session", t.id), zap.Error(err))
		}
	}
}

type pushTopic struct {
	id          string
	owner       *Pusher
	unsubscribe func() error

	mu   sync.Mutex
	subs map[*pushSub]struct{}
}

func (t *pushTopic) handles() []*pushSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*pushSub, 0, len(t.subs))
	for s := range t.subs {
		out = append(out, s)
	}
	return out
}

func (t *pushTopic) handle(payload []byte) {
	snap, err := snapshot.Decode(payload)
	if err != nil {
		t.owner.logger.Warn("sync_push_malformed", zap.String("session", t.id), zap.Error(err))
		return
	}
	if snap.SessionID != t.id {
		t.owner.logger.Debug("sync_push_foreign_session", zap.String("session", t.id), zap.String("got", snap.SessionID))
		return
	}
	for _, s := range t.handles() {
		s.deliver(snap)
	}
}

type pushSub struct {
	topic *pushTopic
	sink  Sink
	done  chan struct{}

	deliverM sync.Mutex
	closed   bool
	once     sync.Once
}

func (s *pushSub) SessionID() string      { return s.topic.id }
func (s *pushSub) Done() <-chan struct{} { return s.done }

func (s *pushSub) Close() {
	s.once.Do(func() {
		s.deliverM.Lock()
		s.closed = true
		s.deliverM.Unlock()
		s.topic.owner.release(s)
		close(s.done)
	})
}

func (s *pushSub) deliver(snap snapshot.Snapshot) {
	s.deliverM.Lock()
	defer s.deliverM.Unlock()
	if s.closed || s.sink == nil {
		return
	}
	s.sink(snap)
}
