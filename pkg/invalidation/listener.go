package invalidation

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bitechdev/StoreCache/pkg/cache"
	"github.com/bitechdev/StoreCache/pkg/logger"
)

// Listener applies received invalidations to the process-local cache level.
// The publisher has already cleared the shared levels, so only the local
// store needs the message; messages from this instance are skipped.
type Listener struct {
	provider cache.Provider
	origin   string

	applied atomic.Int64
	skipped atomic.Int64
}

// NewListener creates a listener for provider. origin must match the origin
// the local bus stamps on published messages.
func NewListener(provider cache.Provider, origin string) *Listener {
	return &Listener{provider: provider, origin: origin}
}

// Start subscribes the listener to bus.
func (l *Listener) Start(ctx context.Context, bus Bus) error {
	return bus.Subscribe(ctx, l.Handle)
}

// Handle deletes every pattern and key named by msg. All deletions are
// attempted; their failures are joined.
func (l *Listener) Handle(ctx context.Context, msg *Message) error {
	if l.origin != "" && msg.Origin == l.origin {
		l.skipped.Add(1)
		return nil
	}

	var errs []error
	for _, pattern := range msg.Patterns {
		if err := l.provider.DeleteByPattern(ctx, pattern); err != nil {
			errs = append(errs, err)
		}
	}
	for _, key := range msg.Keys {
		if err := l.provider.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	l.applied.Add(1)
	logger.Debug("Applied invalidation %s from %s (source: %s, patterns: %v, keys: %d)",
		msg.ID, msg.Origin, msg.Source, msg.Patterns, len(msg.Keys))
	return errors.Join(errs...)
}

// Applied returns the number of messages applied.
func (l *Listener) Applied() int64 {
	return l.applied.Load()
}

// Skipped returns the number of own messages ignored.
func (l *Listener) Skipped() int64 {
	return l.skipped.Load()
}
