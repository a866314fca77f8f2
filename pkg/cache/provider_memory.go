package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// memoryItem represents a cached item in memory.
type memoryItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	tags      []string
}

func (m *memoryItem) expiredAt(now time.Time) bool {
	return !m.expiresAt.IsZero() && !now.Before(m.expiresAt)
}

type evicted struct {
	key    string
	reason EvictionReason
}

// MemoryProvider is a bounded in-process store with LRU eviction and TTL expiry.
//
// Entries live in a recency list (front = most recently used) indexed by a map.
// Expired entries are invisible to every read and are removed lazily on Get/Has
// and actively by a background sweep that Close stops.
type MemoryProvider struct {
	mu      sync.RWMutex
	items   map[string]*list.Element
	order   *list.List
	tagKeys map[string]map[string]struct{} // tag -> set of keys
	closed  bool

	// nextExpiry is a lower bound on the earliest expiresAt in the store.
	// Zero means no stored entry carries an expiry.
	nextExpiry time.Time

	options Options
	clock   clockwork.Clock
	stats   *StatsTracker
	janitor *janitor
}

// NewMemoryProvider creates a new in-memory cache provider.
// Call Close when the provider is discarded to stop its sweep goroutine.
func NewMemoryProvider(opts *Options) *MemoryProvider {
	if opts == nil {
		opts = &Options{
			DefaultTTL: 5 * time.Minute,
			MaxSize:    10000,
		}
	}
	options := opts.withDefaults("memory")

	m := &MemoryProvider{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		tagKeys: make(map[string]map[string]struct{}),
		options: options,
		clock:   options.Clock,
		stats:   NewStatsTracker(options.Name),
	}

	if options.CleanupInterval > 0 {
		m.janitor = startJanitor(m.clock, options.CleanupInterval, options.Name, m.sweep)
	}

	return m
}

// Get retrieves a value from the cache by key and marks it most recently used.
func (m *MemoryProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var swept []evicted

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, ErrClosed
	}

	elem, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		m.stats.RecordMiss()
		m.debug("miss %s", key)
		return nil, false, nil
	}

	item := elem.Value.(*memoryItem)
	if item.expiredAt(m.clock.Now()) {
		m.removeElement(elem)
		m.stats.RecordExpiration(1)
		swept = append(swept, evicted{key: key, reason: EvictedExpired})
		m.mu.Unlock()

		m.stats.RecordMiss()
		m.notify(swept)
		m.debug("expired %s", key)
		return nil, false, nil
	}

	m.order.MoveToFront(elem)
	value := item.value
	m.mu.Unlock()

	m.stats.RecordHit()
	m.debug("hit %s", key)
	return value, true, nil
}

// Set stores a value, marking it most recently used. Inserting a new key into
// a full store first drops expired entries; only when every slot is still
// live is the least recently used entry evicted.
func (m *MemoryProvider) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ttl, err := resolveTTL(opts, m.options.DefaultTTL)
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.clock.Now().Add(ttl)
	}

	var out []evicted

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if elem, exists := m.items[key]; exists {
		item := elem.Value.(*memoryItem)
		m.untag(item)
		item.value = value
		item.expiresAt = expiresAt
		item.tags = copyTags(opts.Tags)
		m.tag(item)
		m.order.MoveToFront(elem)
	} else {
		if m.options.MaxSize > 0 && m.order.Len() >= m.options.MaxSize {
			out = m.purgeExpired(m.clock.Now())
		}
		if m.options.MaxSize > 0 && m.order.Len() >= m.options.MaxSize {
			if ev, ok := m.evictOldest(); ok {
				out = append(out, ev)
			}
		}
		item := &memoryItem{
			key:       key,
			value:     value,
			expiresAt: expiresAt,
			tags:      copyTags(opts.Tags),
		}
		m.items[key] = m.order.PushFront(item)
		m.tag(item)
	}
	m.noteExpiry(expiresAt)
	m.mu.Unlock()

	m.stats.RecordSet()
	m.notify(out)
	m.debug("set %s ttl=%s", key, ttl)
	return nil
}

// Has reports whether a live entry exists. It does not change recency or stats.
func (m *MemoryProvider) Has(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false, ErrClosed
	}
	elem, ok := m.items[key]
	if !ok {
		m.mu.RUnlock()
		return false, nil
	}
	expired := elem.Value.(*memoryItem).expiredAt(m.clock.Now())
	m.mu.RUnlock()

	if !expired {
		return true, nil
	}

	// Re-check under the write lock; a concurrent Set may have replaced the entry.
	m.mu.Lock()
	var swept []evicted
	if elem, ok := m.items[key]; ok && elem.Value.(*memoryItem).expiredAt(m.clock.Now()) {
		m.removeElement(elem)
		m.stats.RecordExpiration(1)
		swept = append(swept, evicted{key: key, reason: EvictedExpired})
	}
	_, live := m.items[key]
	m.mu.Unlock()

	m.notify(swept)
	return live, nil
}

// Delete removes a key from the cache.
func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
		m.stats.RecordDelete(1)
		m.debug("delete %s", key)
	}
	return nil
}

// DeleteByPattern removes all keys matching the glob pattern.
func (m *MemoryProvider) DeleteByPattern(ctx context.Context, pattern string) error {
	p, err := CompilePattern(pattern)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var removed int64
	for key, elem := range m.items {
		if p.Match(key) {
			m.removeElement(elem)
			removed++
		}
	}

	m.stats.RecordDelete(removed)
	m.debug("delete pattern %s removed=%d", pattern, removed)
	return nil
}

// DeleteByTag removes all keys associated with the given tag.
func (m *MemoryProvider) DeleteByTag(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	keySet, exists := m.tagKeys[tag]
	if !exists {
		return nil
	}

	var removed int64
	for key := range keySet {
		if elem, ok := m.items[key]; ok {
			m.removeElement(elem)
			removed++
		}
	}
	delete(m.tagKeys, tag)

	m.stats.RecordDelete(removed)
	m.debug("delete tag %s removed=%d", tag, removed)
	return nil
}

// Clear removes all items from the cache. Counters are kept.
func (m *MemoryProvider) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	removed := int64(m.order.Len())
	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.tagKeys = make(map[string]map[string]struct{})
	m.nextExpiry = time.Time{}

	m.stats.RecordDelete(removed)
	return nil
}

// TTL returns the remaining lifetime of key, or NoTTL when it has no expiry or is absent.
func (m *MemoryProvider) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return NoTTL, ErrClosed
	}

	elem, ok := m.items[key]
	if !ok {
		return NoTTL, nil
	}
	item := elem.Value.(*memoryItem)
	if item.expiresAt.IsZero() {
		return NoTTL, nil
	}

	remaining := item.expiresAt.Sub(m.clock.Now())
	if remaining <= 0 {
		return NoTTL, nil
	}
	return remaining, nil
}

// Expire sets a new lifetime for a live key without touching its value or recency.
func (m *MemoryProvider) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateExpire(ttl); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	elem, ok := m.items[key]
	if !ok {
		return false, nil
	}
	item := elem.Value.(*memoryItem)
	now := m.clock.Now()
	if item.expiredAt(now) {
		return false, nil
	}

	item.expiresAt = now.Add(ttl)
	m.noteExpiry(item.expiresAt)
	return true, nil
}

// Stats returns statistics about the cache provider. Size counts live entries only.
func (m *MemoryProvider) Stats(ctx context.Context) (*CacheStats, error) {
	m.mu.RLock()
	now := m.clock.Now()
	var live int64
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		if !elem.Value.(*memoryItem).expiredAt(now) {
			live++
		}
	}
	stored := m.order.Len()
	m.mu.RUnlock()

	stats := m.stats.Snapshot("memory", live)
	stats.ProviderStats = map[string]any{
		"name":        m.options.Name,
		"capacity":    m.options.MaxSize,
		"stored":      stored,
		"default_ttl": m.options.DefaultTTL.String(),
	}
	return stats, nil
}

// Close stops the sweep goroutine and drops all entries.
// Subsequent operations return ErrClosed; calling Close again is a no-op.
func (m *MemoryProvider) Close() error {
	m.janitor.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.tagKeys = make(map[string]map[string]struct{})
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *MemoryProvider) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len()
}

// CleanExpired removes all expired items from the cache and returns how many were removed.
func (m *MemoryProvider) CleanExpired(ctx context.Context) int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}

	swept := m.purgeExpired(m.clock.Now())
	m.mu.Unlock()

	m.notify(swept)
	return len(swept)
}

func (m *MemoryProvider) sweep() {
	if n := m.CleanExpired(context.Background()); n > 0 {
		m.debug("swept %d expired entries", n)
	}
}

// purgeExpired removes every expired entry and returns them for notification.
// The scan is skipped while now is before nextExpiry. Caller holds the write lock.
func (m *MemoryProvider) purgeExpired(now time.Time) []evicted {
	if m.nextExpiry.IsZero() || now.Before(m.nextExpiry) {
		return nil
	}

	var (
		swept []evicted
		next  time.Time
	)
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		item := elem.Value.(*memoryItem)
		switch {
		case item.expiredAt(now):
			m.removeElement(elem)
			swept = append(swept, evicted{key: item.key, reason: EvictedExpired})
		case !item.expiresAt.IsZero() && (next.IsZero() || item.expiresAt.Before(next)):
			next = item.expiresAt
		}
		elem = prev
	}
	m.nextExpiry = next
	m.stats.RecordExpiration(int64(len(swept)))
	return swept
}

func (m *MemoryProvider) noteExpiry(at time.Time) {
	if !at.IsZero() && (m.nextExpiry.IsZero() || at.Before(m.nextExpiry)) {
		m.nextExpiry = at
	}
}

// evictOldest removes the back of the recency list. Caller holds the write lock.
// An already-expired victim is counted as an expiration, not an eviction.
func (m *MemoryProvider) evictOldest() (evicted, bool) {
	elem := m.order.Back()
	if elem == nil {
		return evicted{}, false
	}
	item := elem.Value.(*memoryItem)
	m.removeElement(elem)

	if item.expiredAt(m.clock.Now()) {
		m.stats.RecordExpiration(1)
		return evicted{key: item.key, reason: EvictedExpired}, true
	}

	m.stats.RecordEviction()
	m.debug("evicted %s", item.key)
	return evicted{key: item.key, reason: EvictedCapacity}, true
}

// removeElement unlinks an entry and its tag associations. Caller holds the write lock.
func (m *MemoryProvider) removeElement(elem *list.Element) {
	item := m.order.Remove(elem).(*memoryItem)
	delete(m.items, item.key)
	m.untag(item)
}

func (m *MemoryProvider) tag(item *memoryItem) {
	for _, tag := range item.tags {
		if m.tagKeys[tag] == nil {
			m.tagKeys[tag] = make(map[string]struct{})
		}
		m.tagKeys[tag][item.key] = struct{}{}
	}
}

func (m *MemoryProvider) untag(item *memoryItem) {
	for _, tag := range item.tags {
		if keySet, ok := m.tagKeys[tag]; ok {
			delete(keySet, item.key)
			if len(keySet) == 0 {
				delete(m.tagKeys, tag)
			}
		}
	}
}

func (m *MemoryProvider) notify(events []evicted) {
	if m.options.OnEvict == nil {
		return
	}
	for _, ev := range events {
		m.options.OnEvict(ev.key, ev.reason)
	}
}

func (m *MemoryProvider) debug(template string, args ...interface{}) {
	if m.options.Debug {
		logger.Debug("cache["+m.options.Name+"] "+template, args...)
	}
}

func copyTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
