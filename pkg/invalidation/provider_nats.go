package invalidation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// NATSBus delivers messages on a core NATS subject. Like Redis pub/sub it is
// at-most-once; invalidations are idempotent and need no replay.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	origin  string

	mu   sync.Mutex
	subs []*nats.Subscription

	counters  busCounters
	wg        sync.WaitGroup
	done      chan struct{}
	isRunning atomic.Bool
}

// NATSBusConfig configures the NATS bus
type NATSBusConfig struct {
	URL     string
	Subject string
	Origin  string
	Timeout time.Duration
}

// NewNATSBus connects to NATS and returns a bus on cfg.Subject.
func NewNATSBus(cfg NATSBusConfig) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultChannel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("storecache-invalidation-"+cfg.Origin),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATSBus{
		nc:      nc,
		subject: cfg.Subject,
		origin:  cfg.Origin,
		done:    make(chan struct{}),
	}
	b.isRunning.Store(true)

	logger.Info("NATS invalidation bus initialized (subject: %s, url: %s)", cfg.Subject, cfg.URL)
	return b, nil
}

// Publish sends msg on the subject and flushes so the message is on the wire.
func (b *NATSBus) Publish(ctx context.Context, msg *Message) error {
	if !b.isRunning.Load() {
		return ErrBusClosed
	}
	data, err := encodeMessage(msg, b.origin)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush invalidation: %w", err)
	}
	b.counters.recordPublished(msg)
	return nil
}

// Subscribe registers handler on the subject. Each subscription gets its own
// goroutine fed through a channel so slow handlers do not block the connection.
func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	if !b.isRunning.Load() {
		return ErrBusClosed
	}

	ch := make(chan *nats.Msg, 100)
	sub, err := b.nc.ChanSubscribe(b.subject, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to confirm subscription to %s: %w", b.subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.counters.subscribers.Add(1)
	b.wg.Add(1)
	go b.consume(ctx, sub, ch, handler)
	return nil
}

func (b *NATSBus) consume(ctx context.Context, sub *nats.Subscription, ch chan *nats.Msg, handler Handler) {
	defer b.wg.Done()
	defer b.counters.subscribers.Add(-1)
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case raw := <-ch:
			msg, err := decodeMessage(raw.Data)
			if err != nil {
				logger.Warn("Dropping invalidation message on %s: %v", b.subject, err)
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

// Close unsubscribes every handler and closes the connection.
func (b *NATSBus) Close() error {
	if !b.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	b.nc.Close()

	logger.Info("NATS invalidation bus closed")
	return nil
}

// Stats returns bus statistics.
func (b *NATSBus) Stats() *BusStats {
	return b.counters.snapshot("nats")
}
