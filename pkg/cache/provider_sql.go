package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// cacheEntry is one row of the SQL cache table.
// Tags are stored comma-delimited with leading and trailing commas so a tag
// can be matched with LIKE '%,tag,%'.
type cacheEntry struct {
	Key       string     `gorm:"column:cache_key;primaryKey;size:512"`
	Value     []byte     `gorm:"column:value"`
	Tags      string     `gorm:"column:tags;size:1024"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

// SQLConfig contains SQL-specific configuration.
type SQLConfig struct {
	// Driver is postgres or sqlite (default: sqlite)
	Driver string

	// DSN is the driver data source name
	DSN string

	// TableName is the cache table (default: cache_entries)
	TableName string

	// Options contains general cache options
	Options *Options
}

// SQLProvider stores entries in a relational table through gorm.
// Expired rows are invisible to reads and removed by a periodic purge.
type SQLProvider struct {
	db      *gorm.DB
	table   string
	options Options
	clock   clockwork.Clock
	owned   bool
	stats   *StatsTracker
	janitor *janitor
}

// NewSQLProvider opens the database, migrates the cache table and starts the purge loop.
func NewSQLProvider(config *SQLConfig) (*SQLProvider, error) {
	if config == nil {
		config = &SQLConfig{}
	}
	cfg := *config

	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.DSN == "" && cfg.Driver == "sqlite" {
		cfg.DSN = "file:storecache.db"
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql cache driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, backendError("sql", "connect", err)
	}

	p, err := NewSQLProviderWithDB(db, cfg.TableName, cfg.Options)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewSQLProviderWithDB uses an existing connection. The connection is not closed by Close.
func NewSQLProviderWithDB(db *gorm.DB, table string, opts *Options) (*SQLProvider, error) {
	if table == "" {
		table = "cache_entries"
	}
	if opts == nil {
		opts = &Options{DefaultTTL: 5 * time.Minute}
	}
	options := opts.withDefaults("sql")

	if err := db.Table(table).AutoMigrate(&cacheEntry{}); err != nil {
		return nil, backendError("sql", "migrate", err)
	}

	p := &SQLProvider{
		db:      db,
		table:   table,
		options: options,
		clock:   options.Clock,
		stats:   NewStatsTracker(options.Name),
	}
	if options.CleanupInterval > 0 {
		p.janitor = startJanitor(p.clock, options.CleanupInterval, options.Name, p.sweep)
	}
	return p, nil
}

// now is always UTC so stored deadlines compare consistently as text in SQLite.
func (s *SQLProvider) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *SQLProvider) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// live restricts a query to rows that have not expired.
func (s *SQLProvider) live(ctx context.Context) *gorm.DB {
	return s.query(ctx).Where("(expires_at IS NULL OR expires_at > ?)", s.now())
}

// Get retrieves a live value from the cache by key.
func (s *SQLProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry cacheEntry
	err := s.live(ctx).Where("cache_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.stats.RecordMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendError("sql", "get", err)
	}

	s.stats.RecordHit()
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	return entry.Value, true, nil
}

// Set upserts a row.
func (s *SQLProvider) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ttl, err := resolveTTL(opts, s.options.DefaultTTL)
	if err != nil {
		return err
	}

	now := s.now()
	entry := cacheEntry{
		Key:       key,
		Value:     value,
		Tags:      joinTags(opts.Tags),
		UpdatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	err = s.query(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "tags", "expires_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return backendError("sql", "set", err)
	}

	s.stats.RecordSet()
	return nil
}

// Has checks if a live row exists.
func (s *SQLProvider) Has(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := s.live(ctx).Where("cache_key = ?", key).Count(&count).Error; err != nil {
		return false, backendError("sql", "has", err)
	}
	return count > 0, nil
}

// Delete removes a key from the cache.
func (s *SQLProvider) Delete(ctx context.Context, key string) error {
	res := s.query(ctx).Where("cache_key = ?", key).Delete(&cacheEntry{})
	if res.Error != nil {
		return backendError("sql", "delete", res.Error)
	}
	s.stats.RecordDelete(res.RowsAffected)
	return nil
}

// DeleteByPattern removes rows whose key matches the glob, translated to an escaped LIKE.
func (s *SQLProvider) DeleteByPattern(ctx context.Context, pattern string) error {
	p, err := CompilePattern(pattern)
	if err != nil {
		return err
	}

	res := s.query(ctx).Where(`cache_key LIKE ? ESCAPE '\'`, p.likePattern()).Delete(&cacheEntry{})
	if res.Error != nil {
		return backendError("sql", "delete_pattern", res.Error)
	}
	s.stats.RecordDelete(res.RowsAffected)
	return nil
}

// DeleteByTag removes rows carrying the tag.
func (s *SQLProvider) DeleteByTag(ctx context.Context, tag string) error {
	if tag == "" || strings.Contains(tag, ",") {
		return nil
	}

	res := s.query(ctx).Where(`tags LIKE ? ESCAPE '\'`, "%,"+escapeLike(tag)+",%").Delete(&cacheEntry{})
	if res.Error != nil {
		return backendError("sql", "delete_tag", res.Error)
	}
	s.stats.RecordDelete(res.RowsAffected)
	return nil
}

// Clear removes every row of the cache table.
func (s *SQLProvider) Clear(ctx context.Context) error {
	res := s.query(ctx).Where("1 = 1").Delete(&cacheEntry{})
	if res.Error != nil {
		return backendError("sql", "clear", res.Error)
	}
	s.stats.RecordDelete(res.RowsAffected)
	return nil
}

// TTL returns the remaining lifetime of a live row.
func (s *SQLProvider) TTL(ctx context.Context, key string) (time.Duration, error) {
	var entry cacheEntry
	err := s.live(ctx).Select("expires_at").Where("cache_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NoTTL, nil
	}
	if err != nil {
		return NoTTL, backendError("sql", "ttl", err)
	}
	if entry.ExpiresAt == nil {
		return NoTTL, nil
	}

	remaining := entry.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return NoTTL, nil
	}
	return remaining, nil
}

// Expire sets a new deadline on a live row.
func (s *SQLProvider) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateExpire(ttl); err != nil {
		return false, err
	}

	expiresAt := s.now().Add(ttl)
	res := s.live(ctx).Where("cache_key = ?", key).Update("expires_at", expiresAt)
	if res.Error != nil {
		return false, backendError("sql", "expire", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *SQLProvider) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.query(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).Delete(&cacheEntry{})
	if res.Error != nil {
		return 0, backendError("sql", "purge", res.Error)
	}
	s.stats.RecordExpiration(res.RowsAffected)
	return res.RowsAffected, nil
}

func (s *SQLProvider) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.PurgeExpired(ctx); err != nil {
		logger.Warn("sql cache purge failed: %v", err)
	}
}

// Stats returns the provider counters; Size counts live rows.
func (s *SQLProvider) Stats(ctx context.Context) (*CacheStats, error) {
	var size int64
	if err := s.live(ctx).Count(&size).Error; err != nil {
		return nil, backendError("sql", "stats", err)
	}

	stats := s.stats.Snapshot("sql", size)
	stats.ProviderStats = map[string]any{
		"name":    s.options.Name,
		"table":   s.table,
		"dialect": s.db.Dialector.Name(),
	}
	return stats, nil
}

// Close stops the purge loop and closes the connection if the provider opened it.
func (s *SQLProvider) Close() error {
	s.janitor.Stop()
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !strings.Contains(t, ",") {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return ""
	}
	return "," + strings.Join(clean, ",") + ","
}
