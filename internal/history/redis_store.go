package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rohann-max/FINSHIELD/internal/metrics"
)

const (
	redisEntryPrefix = "finshield:log:"
	// outside redisEntryPrefix so no transaction id can name it
	redisIndexKey = "finshield:idx:recent"
)

// insertScript writes the entry and its index member atomically, only if the
// entry key is absent. Returns 1 when written, 0 for a duplicate id.
var insertScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// RedisStore shares the audit log across service replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store from a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// PoolStats reports the client pool. Redis has no wait counter, so Waits
// carries pool timeouts.
func (s *RedisStore) PoolStats() metrics.PoolStats {
	st := s.client.PoolStats()
	return metrics.PoolStats{
		Open:  int(st.TotalConns),
		Idle:  int(st.IdleConns),
		InUse: int(st.TotalConns) - int(st.IdleConns),
		Waits: int64(st.Timeouts),
	}
}

func (s *RedisStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	n, err := insertScript.Run(ctx, s.client,
		[]string{redisEntryPrefix + e.ID, redisIndexKey},
		data, e.Timestamp.UnixMilli(), e.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to insert log entry: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	limit = clampLimit(limit)

	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list log index: %w", err)
	}
	result := make([]*Entry, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisEntryPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load log entries: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired or removed out of band
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}
		result = append(result, &e)
	}
	return result, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return errors.New("redis: client closed")
		}
		return err
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
