package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/operandhq/operand/core"
)

// Index maintains a recency-ordered view of execution ids in an external
// backend so listings survive restarts and can be shared across replicas.
// The file store remains the source of truth; the index is a projection.
type Index interface {
	Touch(ctx context.Context, executionID string, at time.Time) error
	Recent(ctx context.Context, limit int) ([]string, error)
	Remove(ctx context.Context, executionID string) error
	Close() error
}

const redisIndexKey = "operand:executions:index"

// RedisIndex keeps the recency set in a redis sorted set scored by start
// time.
type RedisIndex struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisIndex connects to the given redis URL and verifies the
// connection with a short ping.
func NewRedisIndex(url string, logger core.Logger) (*RedisIndex, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, &core.Error{Op: "session.NewRedisIndex", Kind: core.KindValidation, Message: "invalid redis url", Err: err}
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &core.Error{Op: "session.NewRedisIndex", Kind: core.KindTransient, Message: "redis unreachable", Err: err}
	}
	return &RedisIndex{client: client, logger: core.ScopedLogger(logger, "session.index")}, nil
}

func (r *RedisIndex) Touch(ctx context.Context, executionID string, at time.Time) error {
	return r.client.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: executionID,
	}).Err()
}

func (r *RedisIndex) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
}

func (r *RedisIndex) Remove(ctx context.Context, executionID string) error {
	return r.client.ZRem(ctx, redisIndexKey, executionID).Err()
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}

// MemoryIndex is the in-process fallback used when no redis URL is
// configured.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]time.Time)}
}

func (m *MemoryIndex) Touch(_ context.Context, executionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[executionID] = at
	return nil
}

func (m *MemoryIndex) Recent(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type row struct {
		id string
		at time.Time
	}
	rows := make([]row, 0, len(m.entries))
	for id, at := range m.entries {
		rows = append(rows, row{id, at})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at.After(rows[j].at) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

func (m *MemoryIndex) Remove(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, executionID)
	return nil
}

func (m *MemoryIndex) Close() error { return nil }
