package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client shared by the event queue and the worker's tallies.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts. It does not dial.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// TallyKey is the hash holding per-subject mark counts for one date.
func TallyKey(date string) string {
	return "rollcall:tally:" + date
}

// IncrTally bumps the daily counter for subject and keeps the hash for a week.
func (r *Redis) IncrTally(ctx context.Context, date, subject string) error {
	key := TallyKey(date)
	pipe := r.Client.TxPipeline()
	pipe.HIncrBy(ctx, key, subject, 1)
	pipe.Expire(ctx, key, 7*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr tally: %w", err)
	}
	return nil
}

// Tally returns the per-subject counts recorded for date.
func (r *Redis) Tally(ctx context.Context, date string) (map[string]int64, error) {
	raw, err := r.Client.HGetAll(ctx, TallyKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tally: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("read tally %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
