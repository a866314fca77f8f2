package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/metrics"
	"github.com/bitechdev/StoreCache/pkg/tracing"
)

// Level is one store in a MultiLevel cache.
type Level struct {
	// Name identifies the level in errors, stats and metrics.
	Name string

	Provider Provider

	// Timeout bounds every call to this level. Zero means no bound beyond the caller's context.
	Timeout time.Duration
}

// MultiLevel presents an ordered list of stores, fastest first, as one Provider.
//
// Reads stop at the first level holding the key and promote the value into
// every faster level. Writes and deletes go to every level; only the
// authoritative level (the last one unless configured otherwise) can fail an
// operation. Faults on other levels are logged, counted as warnings and
// handed to the warning hook.
//
// Faster levels are eventually consistent with the authoritative one. A
// promotion is dropped when any write or delete started after the read began,
// but a write that starts between that check and the promotion's own Set can
// still be overwritten by the older value. The fast level then serves it
// until its TTL runs out or an invalidation message removes it.
//
// Coordinator stats count one delete per successful Delete, DeleteByPattern,
// DeleteByTag or Clear call, since levels do not report removed counts.
type MultiLevel struct {
	levels        []Level
	authoritative int
	onWarning     func(*LevelError)
	stats         *StatsTracker

	// writes counts mutating calls so a read can tell it raced one.
	writes atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// MultiLevelOption configures a MultiLevel cache.
type MultiLevelOption func(*multiLevelConfig)

type multiLevelConfig struct {
	authoritative string
	onWarning     func(*LevelError)
	name          string
}

// WithAuthoritative designates the level whose failures fail an operation.
func WithAuthoritative(name string) MultiLevelOption {
	return func(c *multiLevelConfig) {
		c.authoritative = name
	}
}

// WithWarningHandler registers a hook called for every absorbed level failure.
func WithWarningHandler(fn func(*LevelError)) MultiLevelOption {
	return func(c *multiLevelConfig) {
		c.onWarning = fn
	}
}

// WithStatsName sets the metrics label of the coordinator's own counters.
func WithStatsName(name string) MultiLevelOption {
	return func(c *multiLevelConfig) {
		c.name = name
	}
}

// NewMultiLevel creates a coordinator over levels, ordered fastest first.
func NewMultiLevel(levels []Level, opts ...MultiLevelOption) (*MultiLevel, error) {
	cfg := multiLevelConfig{name: "multilevel"}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(levels) == 0 {
		return nil, errors.New("multilevel cache requires at least one level")
	}

	seen := make(map[string]struct{}, len(levels))
	authoritative := len(levels) - 1
	found := cfg.authoritative == ""
	for i, lvl := range levels {
		if lvl.Name == "" {
			return nil, fmt.Errorf("level %d has no name", i)
		}
		if lvl.Provider == nil {
			return nil, fmt.Errorf("level %q has no provider", lvl.Name)
		}
		if _, dup := seen[lvl.Name]; dup {
			return nil, fmt.Errorf("duplicate level %q", lvl.Name)
		}
		seen[lvl.Name] = struct{}{}
		if lvl.Name == cfg.authoritative {
			authoritative = i
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("authoritative level %q is not configured", cfg.authoritative)
	}

	return &MultiLevel{
		levels:        append([]Level(nil), levels...),
		authoritative: authoritative,
		onWarning:     cfg.onWarning,
		stats:         NewStatsTracker(cfg.name),
	}, nil
}

// Levels returns the configured levels, fastest first.
func (m *MultiLevel) Levels() []Level {
	return append([]Level(nil), m.levels...)
}

// Authoritative returns the name of the authoritative level.
func (m *MultiLevel) Authoritative() string {
	return m.levels[m.authoritative].Name
}

// Get returns the value from the first level holding key and promotes it into faster levels.
func (m *MultiLevel) Get(ctx context.Context, key string) ([]byte, bool, error) {
	gen := m.writes.Load()
	for i := range m.levels {
		var (
			value []byte
			found bool
		)
		err := m.call(ctx, i, "get", key, func(ctx context.Context, p Provider) error {
			var err error
			value, found, err = p.Get(ctx, key)
			return err
		})
		if err != nil {
			if m.fatal(i, err) {
				return nil, false, err
			}
			continue
		}
		if found {
			m.stats.RecordHit()
			m.promote(ctx, i, key, value, gen)
			return value, true, nil
		}
	}

	m.stats.RecordMiss()
	return nil, false, nil
}

// promote copies a value found at level src into every faster level,
// using the remaining TTL at src. Promotions are not counted as sets and are
// skipped once a write has started since gen was read.
func (m *MultiLevel) promote(ctx context.Context, src int, key string, value []byte, gen uint64) {
	if src == 0 {
		return
	}

	var ttl time.Duration
	err := m.call(ctx, src, "ttl", key, func(ctx context.Context, p Provider) error {
		var err error
		ttl, err = p.TTL(ctx, key)
		return err
	})
	if err != nil || ttl <= 0 {
		// Unknown remaining lifetime: let the faster level apply its default.
		ttl = 0
	}

	for i := 0; i < src; i++ {
		if m.writes.Load() != gen {
			logger.Debug("cache: skipping promotion of %s after a concurrent write", key)
			return
		}
		err := m.call(ctx, i, "promote", key, func(ctx context.Context, p Provider) error {
			return p.Set(ctx, key, value, SetOptions{TTL: ttl})
		})
		if err != nil {
			m.warn(err)
		}
	}
}

// Set writes through to every level concurrently. If the authoritative level
// rejects the write, the key is removed from the other levels and the error
// is returned. A level that fails while the authoritative write succeeds has
// the key removed so it cannot serve the previous value.
func (m *MultiLevel) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if opts.TTL < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, opts.TTL)
	}

	m.writes.Add(1)
	errs := m.fanOut(ctx, "set", key, func(ctx context.Context, p Provider) error {
		return p.Set(ctx, key, value, opts)
	})

	if errs[m.authoritative] != nil {
		for i := range m.levels {
			if i != m.authoritative {
				m.discard(ctx, i, key)
			}
		}
		return errs[m.authoritative]
	}

	for i, err := range errs {
		if err != nil && i != m.authoritative {
			m.warn(err)
			m.discard(ctx, i, key)
		}
	}

	m.stats.RecordSet()
	return nil
}

// Has reports whether any level holds key.
func (m *MultiLevel) Has(ctx context.Context, key string) (bool, error) {
	for i := range m.levels {
		var found bool
		err := m.call(ctx, i, "has", key, func(ctx context.Context, p Provider) error {
			var err error
			found, err = p.Has(ctx, key)
			return err
		})
		if err != nil {
			if m.fatal(i, err) {
				return false, err
			}
			continue
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes key from every level.
func (m *MultiLevel) Delete(ctx context.Context, key string) error {
	return m.propagate(ctx, "delete", key, func(ctx context.Context, p Provider) error {
		return p.Delete(ctx, key)
	})
}

// DeleteByPattern removes keys matching pattern from every level.
func (m *MultiLevel) DeleteByPattern(ctx context.Context, pattern string) error {
	if _, err := CompilePattern(pattern); err != nil {
		return err
	}
	return m.propagate(ctx, "delete_pattern", pattern, func(ctx context.Context, p Provider) error {
		return p.DeleteByPattern(ctx, pattern)
	})
}

// DeleteByTag removes keys carrying tag from every level.
func (m *MultiLevel) DeleteByTag(ctx context.Context, tag string) error {
	return m.propagate(ctx, "delete_tag", tag, func(ctx context.Context, p Provider) error {
		return p.DeleteByTag(ctx, tag)
	})
}

// Clear empties every level.
func (m *MultiLevel) Clear(ctx context.Context) error {
	return m.propagate(ctx, "clear", "", func(ctx context.Context, p Provider) error {
		return p.Clear(ctx)
	})
}

// TTL returns the first known remaining lifetime of key across levels.
func (m *MultiLevel) TTL(ctx context.Context, key string) (time.Duration, error) {
	for i := range m.levels {
		ttl := NoTTL
		err := m.call(ctx, i, "ttl", key, func(ctx context.Context, p Provider) error {
			var err error
			ttl, err = p.TTL(ctx, key)
			return err
		})
		if err != nil {
			if m.fatal(i, err) {
				return NoTTL, err
			}
			continue
		}
		if ttl > 0 {
			return ttl, nil
		}
	}
	return NoTTL, nil
}

// Expire sets the lifetime of key on every level and reports the authoritative level's answer.
func (m *MultiLevel) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateExpire(ttl); err != nil {
		return false, err
	}

	results := make([]bool, len(m.levels))
	errs := m.fanOutIndexed(ctx, "expire", key, func(ctx context.Context, i int, p Provider) error {
		var err error
		results[i], err = p.Expire(ctx, key, ttl)
		return err
	})
	if err := m.settle(errs); err != nil {
		return false, err
	}
	return results[m.authoritative], nil
}

// Stats reports the coordinator's own counters, the authoritative level's size
// and every level's stats under ProviderStats["levels"].
func (m *MultiLevel) Stats(ctx context.Context) (*CacheStats, error) {
	levelStats := make(map[string]*CacheStats, len(m.levels))
	var size int64

	for i, lvl := range m.levels {
		var s *CacheStats
		err := m.call(ctx, i, "stats", "", func(ctx context.Context, p Provider) error {
			var err error
			s, err = p.Stats(ctx)
			return err
		})
		if err != nil {
			if m.fatal(i, err) {
				return nil, err
			}
			continue
		}
		levelStats[lvl.Name] = s
		if i == m.authoritative {
			size = s.Size
		}
	}

	stats := m.stats.Snapshot("multilevel", size)
	stats.ProviderStats = map[string]any{
		"authoritative": m.Authoritative(),
		"levels":        levelStats,
	}
	return stats, nil
}

// Close closes every level once and joins their errors.
func (m *MultiLevel) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		for _, lvl := range m.levels {
			if err := lvl.Provider.Close(); err != nil {
				errs = append(errs, &LevelError{Level: lvl.Name, Op: "close", Err: err})
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// propagate runs op on every level and succeeds iff the authoritative level succeeds.
func (m *MultiLevel) propagate(ctx context.Context, op, key string, fn func(context.Context, Provider) error) error {
	m.writes.Add(1)
	if err := m.settle(m.fanOut(ctx, op, key, fn)); err != nil {
		return err
	}
	m.stats.RecordDelete(1)
	return nil
}

// settle turns per-level results into the operation result, warning on absorbed failures.
func (m *MultiLevel) settle(errs []error) error {
	for i, err := range errs {
		if err != nil && i != m.authoritative {
			m.warn(err)
		}
	}
	return errs[m.authoritative]
}

func (m *MultiLevel) fanOut(ctx context.Context, op, key string, fn func(context.Context, Provider) error) []error {
	return m.fanOutIndexed(ctx, op, key, func(ctx context.Context, _ int, p Provider) error {
		return fn(ctx, p)
	})
}

// fanOutIndexed calls every level concurrently and returns one error slot per level.
// A failing level never cancels the others.
func (m *MultiLevel) fanOutIndexed(ctx context.Context, op, key string, fn func(context.Context, int, Provider) error) []error {
	errs := make([]error, len(m.levels))
	var g errgroup.Group
	for i := range m.levels {
		g.Go(func() error {
			errs[i] = m.call(ctx, i, op, key, func(ctx context.Context, p Provider) error {
				return fn(ctx, i, p)
			})
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// discard removes key from level i after a rejected or failed write.
func (m *MultiLevel) discard(ctx context.Context, i int, key string) {
	err := m.call(ctx, i, "discard", key, func(ctx context.Context, p Provider) error {
		return p.Delete(ctx, key)
	})
	if err != nil {
		m.warn(err)
	}
}

// call runs fn against level i under the level timeout, a tracing span and an operation metric.
func (m *MultiLevel) call(ctx context.Context, i int, op, key string, fn func(context.Context, Provider) error) error {
	lvl := m.levels[i]

	ctx, span := tracing.StartCacheSpan(ctx, lvl.Name, op, key)
	if lvl.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lvl.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx, lvl.Provider)
	metrics.GetProvider().RecordCacheOperation(lvl.Name, op, time.Since(start), err)
	tracing.EndSpan(span, err)

	if err != nil {
		return &LevelError{Level: lvl.Name, Op: op, Err: err}
	}
	return nil
}

// fatal reports whether err at level i must fail the operation; otherwise it is absorbed as a warning.
func (m *MultiLevel) fatal(i int, err error) bool {
	if i == m.authoritative {
		return true
	}
	m.warn(err)
	return false
}

func (m *MultiLevel) warn(err error) {
	m.stats.RecordWarning()

	var levelErr *LevelError
	if !errors.As(err, &levelErr) {
		levelErr = &LevelError{Level: "unknown", Op: "unknown", Err: err}
	}
	logger.Warn("cache level %s %s failed, continuing: %v", levelErr.Level, levelErr.Op, levelErr.Err)

	if m.onWarning != nil {
		m.onWarning(levelErr)
	}
}
