package syncchan

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

// Reader fetches the current snapshot of a session.
type Reader interface {
	Read(ctx context.Context, sessionID string) (snapshot.Snapshot, error)
}

// Poller reads the session on a fixed period. Failed reads are logged and
// retried on the next tick; there is no backoff and no attempt limit.
type Poller struct {
	reader Reader
	period time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*pollSub]struct{}
	closed bool
}

func NewPoller(r Reader, period time.Duration, logger *zap.Logger) *Poller {
	if period <= 0 {
		period = time.Second
	}
	return &Poller{reader: r, period: period, logger: obslog.Or(logger), subs: make(map[*pollSub]struct{})}
}

func (p *Poller) Strategy() Strategy { return Polling }

func (p *Poller) Subscribe(ctx context.Context, sessionID string, sink Sink) (Subscription, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &pollSub{id: sessionID, sink: sink, cancel: cancel, done: make(chan struct{}), owner: p}
	p.subs[s] = struct{}{}
	go s.run(loopCtx, p)
	return s, nil
}

// Close stops every open subscription.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	subs := make([]*pollSub, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return nil
}

// readTimeout bounds one read so a hung request cannot stall the loop.
func (p *Poller) readTimeout() time.Duration {
	if d := p.period * 4; d > time.Second {
		return d
	}
	return time.Second
}

func (p *Poller) forget(s *pollSub) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
}

type pollSub struct {
	id     string
	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
	owner  *Poller

	deliverM sync.Mutex
	closed   bool
	once     sync.Once
}

func (s *pollSub) SessionID() string      { return s.id }
func (s *pollSub) Done() <-chan struct{} { return s.done }

func (s *pollSub) Close() {
	s.once.Do(func() {
		s.cancel()
		s.deliverM.Lock()
		s.closed = true
		s.deliverM.Unlock()
		s.owner.forget(s)
	})
}

func (s *pollSub) run(ctx context.Context, p *Poller) {
	defer close(s.done)
	t := time.NewTicker(p.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		readCtx, cancel := context.WithTimeout(ctx, p.readTimeout())
		snap, err := p.reader.Read(readCtx, s.id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Debug("sync_poll_error", zap.String("session", s.id), zap.Error(err))
			continue
		}
		s.deliver(snap)
	}
}

func (s *pollSub) deliver(snap snapshot.Snapshot) {
	s.deliverM.Lock()
	defer s.deliverM.Unlock()
	if s.closed || s.sink == nil {
		return
	}
	s.sink(snap)
}
