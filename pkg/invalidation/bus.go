// Package invalidation carries cache invalidations between processes that
// share remote cache levels but each keep their own local store.
package invalidation

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bitechdev/StoreCache/pkg/metrics"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("invalidation bus closed")

// Handler applies a received message.
type Handler func(ctx context.Context, msg *Message) error

// Bus delivers invalidation messages to every subscriber, including
// subscribers in the publishing process.
type Bus interface {
	// Publish sends msg to all subscribers. Empty ID, Origin and CreatedAt are filled in.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe runs handler for each message on its own goroutine until ctx is
	// cancelled or the bus is closed.
	Subscribe(ctx context.Context, handler Handler) error

	// Close stops all subscriptions and releases the connection. It is idempotent.
	Close() error

	// Stats returns bus statistics.
	Stats() *BusStats
}

// BusStats contains statistics for a bus.
type BusStats struct {
	ProviderType      string `json:"provider_type"`
	Published         int64  `json:"published"`
	Received          int64  `json:"received"`
	HandlerErrors     int64  `json:"handler_errors"`
	ActiveSubscribers int    `json:"active_subscribers"`
}

// busCounters is shared by all bus implementations.
type busCounters struct {
	published     atomic.Int64
	received      atomic.Int64
	handlerErrors atomic.Int64
	subscribers   atomic.Int32
}

func (c *busCounters) snapshot(providerType string) *BusStats {
	return &BusStats{
		ProviderType:      providerType,
		Published:         c.published.Load(),
		Received:          c.received.Load(),
		HandlerErrors:     c.handlerErrors.Load(),
		ActiveSubscribers: int(c.subscribers.Load()),
	}
}

func (c *busCounters) recordPublished(msg *Message) {
	c.published.Add(1)
	metrics.GetProvider().RecordInvalidation(msg.Source, "published")
}

func (c *busCounters) recordReceived(msg *Message) {
	c.received.Add(1)
	metrics.GetProvider().RecordInvalidation(msg.Source, "received")
}
