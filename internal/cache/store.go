// Package cache provides the Redis-backed response cache for the clinic API.
//
// The cache is strictly best-effort: every Redis failure is logged and
// swallowed so that a cache outage degrades the service to upstream-only
// operation instead of breaking requests. Each entry carries a hit counter
// alongside the value, which feeds the stats endpoint.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"clinic-api/internal/common/logging"
)

const (
	valuePrefix = "cache:"
	hitsPrefix  = "cache-hits:"
)

// Config holds Redis connection settings for the cache store.
type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Stats summarizes cache usage for the stats endpoint.
type Stats struct {
	TotalEntries        int     `json:"totalEntries"`
	TotalHits           int64   `json:"totalHits"`
	AverageHitsPerEntry float64 `json:"averageHitsPerEntry"`
}

// Store is a TTL cache backed by Redis. Values are stored as JSON under
// "cache:{key}" with a per-entry hit counter under "cache-hits:{key}".
type Store struct {
	rdb    *redis.Client
	logger logging.Logger
}

// NewStore connects to Redis and returns a cache store. The connection is
// verified with a ping so misconfiguration fails at startup.
func NewStore(config *Config, logger logging.Logger) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Store{rdb: rdb, logger: logger}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Health pings Redis so the health endpoint can report cache availability.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Get loads a cached value into dest and reports whether the key was found.
// A hit increments the entry's hit counter. Redis errors and corrupt entries
// are treated as misses; corrupt entries are evicted so they cannot keep
// serving bad data.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.rdb.Get(ctx, valuePrefix+key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.logger.Warn("cache get failed", logging.String("key", key), logging.Err(err))
		return false
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		s.logger.Warn("evicting corrupt cache entry", logging.String("key", key), logging.Err(err))
		s.Delete(ctx, key)
		return false
	}

	if err := s.rdb.Incr(ctx, hitsPrefix+key).Err(); err != nil {
		s.logger.Warn("cache hit counter update failed", logging.String("key", key), logging.Err(err))
	}

	return true
}

// GetRaw returns the stored bytes for a key without decoding them. Used for
// idempotent replay where the response must be returned byte for byte.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.rdb.Get(ctx, valuePrefix+key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("cache get failed", logging.String("key", key), logging.Err(err))
		return nil, false
	}

	if err := s.rdb.Incr(ctx, hitsPrefix+key).Err(); err != nil {
		s.logger.Warn("cache hit counter update failed", logging.String("key", key), logging.Err(err))
	}

	return []byte(data), true
}

// Set stores a value under key for the given TTL and resets the entry's hit
// counter. Strings and byte slices are stored verbatim, everything else is
// JSON encoded. Failures are logged and swallowed.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			s.logger.Warn("cache value marshal failed", logging.String("key", key), logging.Err(err))
			return
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, valuePrefix+key, data, ttl)
	pipe.Set(ctx, hitsPrefix+key, 0, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("cache set failed", logging.String("key", key), logging.Err(err))
	}
}

// Delete removes a cache entry and its hit counter.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, valuePrefix+key, hitsPrefix+key).Err(); err != nil {
		s.logger.Warn("cache delete failed", logging.String("key", key), logging.Err(err))
	}
}

// Stats scans the cache keyspace and aggregates entry and hit counts.
// Scanning is proportional to cache size, which stays small here (a handful
// of list endpoints and idempotency records).
func (s *Store) Stats(ctx context.Context) Stats {
	var stats Stats
	var cursor uint64

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, valuePrefix+"*", 100).Result()
		if err != nil {
			s.logger.Warn("cache stats scan failed", logging.Err(err))
			return stats
		}

		for _, key := range keys {
			stats.TotalEntries++

			hitsKey := hitsPrefix + key[len(valuePrefix):]
			raw, err := s.rdb.Get(ctx, hitsKey).Result()
			if err != nil {
				continue
			}
			if hits, err := strconv.ParseInt(raw, 10, 64); err == nil {
				stats.TotalHits += hits
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if stats.TotalEntries > 0 {
		stats.AverageHitsPerEntry = float64(stats.TotalHits) / float64(stats.TotalEntries)
	}

	return stats
}
