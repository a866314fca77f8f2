package invalidation

import (
	"context"
	"sync"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

const memorySubscriberBuffer = 100

// MemoryBus delivers messages within one process. It backs single-instance
// deployments and tests.
type MemoryBus struct {
	origin string

	mu          sync.RWMutex
	subscribers map[*memorySubscriber]struct{}
	closed      bool

	counters  busCounters
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

type memorySubscriber struct {
	ch   chan *Message
	done chan struct{}
}

// NewMemoryBus creates an in-process bus. origin stamps published messages.
func NewMemoryBus(origin string) *MemoryBus {
	return &MemoryBus{
		origin:      origin,
		subscribers: make(map[*memorySubscriber]struct{}),
		done:        make(chan struct{}),
	}
}

// Publish hands msg to every subscriber, waiting for buffer space if a subscriber lags.
func (b *MemoryBus) Publish(ctx context.Context, msg *Message) error {
	if _, err := encodeMessage(msg, b.origin); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.subscribers {
		clone := *msg
		select {
		case sub.ch <- &clone:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBusClosed
		}
	}

	b.counters.recordPublished(msg)
	return nil
}

// Subscribe starts a goroutine running handler for each published message.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := &memorySubscriber{
		ch:   make(chan *Message, memorySubscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.subscribers[sub] = struct{}{}
	b.counters.subscribers.Add(1)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(ctx, sub, handler)
	return nil
}

func (b *MemoryBus) consume(ctx context.Context, sub *memorySubscriber, handler Handler) {
	defer b.wg.Done()
	defer func() {
		// Unblock publishers waiting on this subscriber before taking the lock
		close(sub.done)
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
		b.counters.subscribers.Add(-1)
	}()

	for {
		select {
		case msg := <-sub.ch:
			b.counters.recordReceived(msg)
			if err := handler(ctx, msg); err != nil {
				b.counters.handlerErrors.Add(1)
				logger.Warn("Invalidation handler failed for message %s: %v", msg.ID, err)
			}
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

// Close stops every subscriber and waits for them to exit.
func (b *MemoryBus) Close() error {
	// Release publishers blocked on a full subscriber before taking the lock
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	logger.Info("Memory invalidation bus closed")
	return nil
}

// Stats returns bus statistics.
func (b *MemoryBus) Stats() *BusStats {
	return b.counters.snapshot("memory")
}
