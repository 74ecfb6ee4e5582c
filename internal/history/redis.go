package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisLog keeps the newest entries at the head of a Redis list.
type RedisLog struct {
	client *redis.Client
	key    string
	max    int
	now    func() time.Time
}

// NewRedisLog returns a log stored under "helpdesk:history:{store}".
func NewRedisLog(client *redis.Client, store string, max int) *RedisLog {
	if max <= 0 {
		max = DefaultMax
	}
	return &RedisLog{client: client, key: "helpdesk:history:" + store, max: max, now: time.Now}
}

// Append implements Log. LPUSH and LTRIM run in one MULTI block.
func (l *RedisLog) Append(ctx context.Context, e domain.HistoryEntry) error {
	raw, err := json.Marshal(Prepare(e, l.now()))
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, l.key, raw)
		p.LTrim(ctx, l.key, 0, int64(l.max-1))
		return nil
	})
	return err
}

// Recent implements Log.
func (l *RedisLog) Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := l.client.LRange(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(vals[i]), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
