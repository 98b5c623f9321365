package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the realtime history window and trigger locks. The service
// degrades gracefully: when redis is unreachable every call becomes a no-op
// and callers fall back to their in-memory state.
type Redis struct {
	client *redis.Client
	logger *log.Logger

	warnedUnavailable atomic.Bool
}

func NewRedis(logger *log.Logger) *Redis {
	host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
	if port == "" {
		port = "6379"
	}
	pass := strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: pass,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Printf("[Cache] Redis unavailable, using in-memory fallback: %v", err)
		}
		_ = client.Close()
		return &Redis{client: nil, logger: logger}
	}

	return &Redis{client: client, logger: logger}
}

func (r *Redis) isUnavailable() bool {
	return r == nil || r.client == nil
}

func (r *Redis) warnUnavailableOnce(err error) {
	if r == nil || r.logger == nil {
		return
	}
	if r.warnedUnavailable.CompareAndSwap(false, true) {
		r.logger.Printf("[Cache] Redis unavailable, using in-memory fallback: %v", err)
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	if r.isUnavailable() {
		return errors.New("redis unavailable")
	}
	return r.client.Ping(ctx).Err()
}

// AppendEvent stores one serialized event in a time-scored set, so history
// queries and purges are both range operations.
func (r *Redis) AppendEvent(ctx context.Context, key string, payload []byte, at time.Time) error {
	if r.isUnavailable() {
		return nil
	}
	err := r.client.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: string(payload)}).Err()
	if err != nil {
		r.warnUnavailableOnce(err)
		return err
	}
	return nil
}

// EventsSince returns serialized events newer than the cutoff, most recent
// first.
func (r *Redis) EventsSince(ctx context.Context, key string, since time.Time, limit int) ([][]byte, error) {
	if r.isUnavailable() {
		return nil, nil
	}
	vals, err := r.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", since.UnixMilli()),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		r.warnUnavailableOnce(err)
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// PurgeEventsBefore drops events older than the cutoff.
func (r *Redis) PurgeEventsBefore(ctx context.Context, key string, cutoff time.Time) error {
	if r.isUnavailable() {
		return nil
	}
	err := r.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixMilli())).Err()
	if err != nil {
		r.warnUnavailableOnce(err)
		return err
	}
	return nil
}

// SetIfNotExists is the trigger-dedup lock used around manual runs.
func (r *Redis) SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	if r.isUnavailable() {
		return true, nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		r.warnUnavailableOnce(err)
		return false, err
	}
	return ok, nil
}

func (r *Redis) Close() error {
	if r.isUnavailable() {
		return nil
	}
	return r.client.Close()
}
