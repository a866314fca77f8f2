package invalidation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// RedisBus delivers messages over a Redis pub/sub channel. Delivery is
// at-most-once: instances that are disconnected miss messages and rely on
// local TTLs to bound staleness.
type RedisBus struct {
	client  *redis.Client
	owned   bool
	channel string
	origin  string

	mu      sync.Mutex
	cancels []context.CancelFunc

	counters  busCounters
	wg        sync.WaitGroup
	isRunning atomic.Bool
}

// RedisBusConfig configures the Redis bus
type RedisBusConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
	Origin   string
}

// NewRedisBus connects to Redis and returns a bus on cfg.Channel.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b := NewRedisBusWithClient(client, cfg.Channel, cfg.Origin)
	b.owned = true

	logger.Info("Redis invalidation bus initialized (channel: %s, addr: %s:%d)", b.channel, cfg.Host, cfg.Port)
	return b, nil
}

// NewRedisBusWithClient uses an existing client. The client is not closed by Close.
func NewRedisBusWithClient(client *redis.Client, channel, origin string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &RedisBus{
		client:  client,
		channel: channel,
		origin:  origin,
	}
	b.isRunning.Store(true)
	return b
}

// Publish sends msg on the channel.
func (b *RedisBus) Publish(ctx context.Context, msg *Message) error {
	if !b.isRunning.Load() {
		return ErrBusClosed
	}
	data, err := encodeMessage(msg, b.origin)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	b.counters.recordPublished(msg)
	return nil
}

// Subscribe subscribes to the channel and returns once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	if !b.isRunning.Load() {
		return ErrBusClosed
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	b.counters.subscribers.Add(1)
	b.wg.Add(1)
	go b.consume(subCtx, pubsub, handler)
	return nil
}

func (b *RedisBus) consume(ctx context.Context, pubsub *redis.PubSub, handler Handler) {
	defer b.wg.Done()
	defer b.counters.subscribers.Add(-1)
	defer func() { _ = pubsub.Close() }()

	logger.Debug("Starting Redis invalidation consumer on %s", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			msg, err := decodeMessage([]byte(raw.Payload))
			if err != nil {
				logger.Warn("Dropping invalidation message on %s: %v", b.channel, err)
				continue
			}
			b.counters.recordReceived(msg)
			if err := handler(ctx, msg); err != nil {
				b.counters.handlerErrors.Add(1)
				logger.Warn("Invalidation handler failed for message %s: %v", msg.ID, err)
			}
		}
	}
}

// Close stops every subscription and closes an owned client.
func (b *RedisBus) Close() error {
	if !b.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	b.mu.Lock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	b.mu.Unlock()

	b.wg.Wait()

	if b.owned {
		if err := b.client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}
	logger.Info("Redis invalidation bus closed")
	return nil
}

// Stats returns bus statistics.
func (b *RedisBus) Stats() *BusStats {
	return b.counters.snapshot("redis")
}
