package marketdata

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RelayChannel returns the Redis pub/sub channel for a symbol.
func RelayChannel(symbol string) string {
	return "ticks:" + symbol
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay republishes ticks to Redis pub/sub for consumers outside the
// process. It queues ticks and drops them when Redis falls behind so the
// fan-out is never blocked.
type RedisRelay struct {
	client redisPublisher
	logger *zap.Logger
	queue  chan Tick
}

// NewRedisClient builds the go-redis client used by the relay.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisRelay creates a relay over client
func NewRedisRelay(client redisPublisher, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger, queue: make(chan Tick, 1024)}
}

func (r *RedisRelay) OnTick(t Tick) {
	select {
	case r.queue <- t:
	default:
		r.logger.Warn("Redis relay queue full, dropping tick", zap.String("symbol", t.Symbol))
	}
}

// Run publishes queued ticks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			payload, err := json.Marshal(Event{
				Type:      "market_data",
				Symbol:    t.Symbol,
				Timestamp: t.Timestamp,
				Close:     t.Last,
				Bid:       t.Bid,
				Ask:       t.Ask,
				Volume:    t.Volume,
			})
			if err != nil {
				continue
			}
			if err := r.client.Publish(ctx, RelayChannel(t.Symbol), payload).Err(); err != nil {
				r.logger.Warn("Failed to relay tick to redis", zap.String("symbol", t.Symbol), zap.Error(err))
			}
		}
	}
}
