// Package syncchan delivers authoritative snapshots for a session, either by
// polling the authority or from a push transport.
package syncchan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/config"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

type Strategy string

const (
	Polling Strategy = "polling"
	Pushed  Strategy = "pushed"
)

// Sink receives every snapshot delivered for a subscription.
type Sink func(snapshot.Snapshot)

// Subscription is an open feed for one session. After Close returns, the sink
// is not called again.
type Subscription interface {
	SessionID() string
	Close()
	Done() <-chan struct{}
}

// Channel is the common contract of both strategies.
type Channel interface {
	Strategy() Strategy
	Subscribe(ctx context.Context, sessionID string, sink Sink) (Subscription, error)
	Close() error
}

var (
	ErrClosed         = errors.New("sync channel closed")
	ErrEmptySessionID = errors.New("session id is empty")
)

// New builds the channel selected by configuration. reader is only used by the
// polling strategy.
func New(cfg *config.AppConfig, reader Reader, logger *zap.Logger) (Channel, error) {
	logger = obslog.Or(logger)
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	switch Strategy(cfg.SyncStrategy) {
	case Polling, "":
		return NewPoller(reader, cfg.PollInterval, logger), nil
	case Pushed:
		switch strings.ToLower(cfg.PushTransport) {
		case config.TransportRedis:
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("parse REDIS_URL: %w", err)
			}
			return NewPusher(NewRedisTransport(redis.NewClient(opt), logger, true), logger), nil
		default:
			ws := NewWebSocketTransport(cfg.AuthorityWSURL, cfg.WSReconnectAttempts, logger)
			ws.SetHeaderProvider(cfg.Headers)
			return NewPusher(ws, logger), nil
		}
	default:
		return nil, fmt.Errorf("unknown sync strategy %q", cfg.SyncStrategy)
	}
}
