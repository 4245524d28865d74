package syncchan

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

// RedisTransport receives snapshots published by the authority on
// board:session:<id>:snapshots.
type RedisTransport struct {
	rdb       *redis.Client
	ownClient bool
	logger    *zap.Logger
}

// NewRedisTransport wraps rdb. When own is true, Close also closes rdb.
func NewRedisTransport(rdb *redis.Client, logger *zap.Logger, own bool) *RedisTransport {
	return &RedisTransport{rdb: rdb, ownClient: own, logger: obslog.Or(logger)}
}

func (r *RedisTransport) Subscribe(ctx context.Context, sessionID string, handle func([]byte)) (func() error, error) {
	ch := boarddto.SnapshotChannel(sessionID)
	ps := r.rdb.Subscribe(ctx, ch)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range ps.Channel() {
			handle([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = ps.Close()
			wg.Wait()
			r.logger.Debug("redis_unsubscribed", zap.String("channel", ch))
		})
		return err
	}, nil
}

func (r *RedisTransport) Close() error {
	if r.ownClient && r.rdb != nil {
		return r.rdb.Close()
	}
	return nil
}
