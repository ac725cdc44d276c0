// Package redisstore wraps the go-redis client with the keyed-blob
// operations the telemetry, hazard-zone, and alert stores are built on.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/openlews/openlews/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb  *redis.Client
	name string
}

// New dials addr. name identifies this client in store-op metrics
// (e.g. "telemetry", "hazardzone", "alert") since all three stores share
// this same Redis wrapper.
func New(ctx context.Context, name, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp(name, "ping", err, time.Since(start))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, name: name}, nil
}

// MGet returns a map of found keys to their values.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveStoreOp(c.name, "mget", nil, time.Since(start))
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveStoreOp(c.name, "mget", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveStoreOp(c.name, "set", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveStoreOp(c.name, "del", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func (c *Client) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	start := time.Now()
	if len(kv) == 0 {
		observability.ObserveStoreOp(c.name, "mset", nil, time.Since(start))
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			if err := p.Set(ctx, k, v, ttl).Err(); err != nil {
				return fmt.Errorf("redis MSET pipeline SET %q: %w", k, err)
			}
		}
		return nil
	})

	observability.ObserveStoreOp(c.name, "mset", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis MSET %d keys (pipeline): %w", len(kv), err)
	}
	return nil
}

// ZAdd adds a member with score to a sorted set, used by the alert store
// to keep an index of active alerts ordered by updated-at for expiry scans.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	observability.ObserveStoreOp(c.name, "zadd", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis ZADD %q: %w", key, err)
	}
	return nil
}

func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	start := time.Now()
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	observability.ObserveStoreOp(c.name, "zrangebyscore", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE %q: %w", key, err)
	}
	return members, nil
}

// maxTransactAttempts bounds the optimistic-retry loop in Transact; a
// conflict this many times running indicates sustained contention on a
// single key rather than a transient race, and the caller's own context
// deadline is the backstop.
const maxTransactAttempts = 5

// Transact performs an optimistic read-modify-write on key: fn is handed
// the key's current raw value (nil if absent) and returns the value to
// write plus whether the write should proceed at all (fn returning
// proceed=false aborts with no write and applied=false). If another
// writer changes key between the WATCH and the write, the read-modify-write
// runs again, up to maxTransactAttempts attempts in total. Used by alertstore to enforce
// the monotonic risk_level precondition spec §6's upsert_alert requires.
func (c *Client) Transact(ctx context.Context, key string, ttl time.Duration, fn func(cur []byte) (next []byte, proceed bool)) (bool, error) {
	start := time.Now()
	var applied bool
	var txErr error

	for attempt := 0; attempt < maxTransactAttempts; attempt++ {
		txErr = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, gerr := tx.Get(ctx, key).Bytes()
			if gerr != nil && !errors.Is(gerr, redis.Nil) {
				return gerr
			}
			if errors.Is(gerr, redis.Nil) {
				cur = nil
			}

			next, proceed := fn(cur)
			if !proceed {
				applied = false
				return nil
			}

			_, perr := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, next, ttl)
				return nil
			})
			if perr == nil {
				applied = true
			}
			return perr
		}, key)

		if txErr == nil {
			observability.ObserveStoreOp(c.name, "transact", nil, time.Since(start))
			return applied, nil
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			continue // optimistic conflict: another writer won, retry
		}
		break
	}

	observability.ObserveStoreOp(c.name, "transact", txErr, time.Since(start))
	if txErr != nil {
		return false, fmt.Errorf("redis transact %q: %w", key, txErr)
	}
	return applied, nil
}

func (c *Client) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	start := time.Now()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := c.rdb.ZRem(ctx, key, args...).Err()
	observability.ObserveStoreOp(c.name, "zrem", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis ZREM %q: %w", key, err)
	}
	return nil
}
