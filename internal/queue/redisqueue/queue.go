// Package redisqueue is a task queue in Redis, for deployments that run the dispatcher
// on several nodes.
//
// Layout under the configured prefix:
//
//	<prefix>:task:<id>   JSON task
//	<prefix>:key:<key>   idempotency key -> task id, never expires
//	<prefix>:ready       ZSET of task ids scored by AvailableAt (unix millis)
//	<prefix>:leased      ZSET of task ids scored by LeasedUntil (unix millis)
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loadline/negotiator/internal/domain"
)

// maxLeaseRetries bounds optimistic-lock retries when workers race for the same task.
const maxLeaseRetries = 5

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Queue implements app.TaskQueue on Redis.
type Queue struct {
	rdb    *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 10 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "negotiator"
	}
	return &Queue{rdb: rdb, prefix: prefix}, nil
}

// Close closes the client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

func (q *Queue) taskKey(id string) string  { return q.prefix + ":task:" + id }
func (q *Queue) idemKey(key string) string { return q.prefix + ":key:" + key }
func (q *Queue) readyKey() string          { return q.prefix + ":ready" }
func (q *Queue) leasedKey() string         { return q.prefix + ":leased" }

// Scores are unix millis, exact in a float64.
func score(t time.Time) float64   { return float64(t.UnixMilli()) }
func maxScore(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Enqueue implements app.TaskQueue. The idempotency key is claimed with SETNX before the
// task is written.
func (q *Queue) Enqueue(ctx context.Context, t domain.Task) (bool, error) {
	if t.AvailableAt.IsZero() {
		t.AvailableAt = time.Now()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.AvailableAt
	}
	ok, err := q.rdb.SetNX(ctx, q.idemKey(t.IdempotencyKey), t.ID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.taskKey(t.ID), data, 0)
		p.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(t.AvailableAt), Member: t.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("enqueue task: %w", err)
	}
	return true, nil
}

// Lease implements app.TaskQueue. The ready set is watched, so a concurrent claim of the
// same task aborts the transaction and the lease is retried.
func (q *Queue) Lease(ctx context.Context, now time.Time, lease time.Duration) (*domain.Task, error) {
	var leased *domain.Task
	claim := func(tx *redis.Tx) error {
		leased = nil
		ids, err := tx.ZRangeByScore(ctx, q.readyKey(), &redis.ZRangeBy{
			Min: "-inf", Max: maxScore(now), Count: 1,
		}).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		t, err := q.get(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		t.Attempts++
		t.LeasedUntil = now.Add(lease)
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, q.readyKey(), t.ID)
			p.ZAdd(ctx, q.leasedKey(), redis.Z{Score: score(t.LeasedUntil), Member: t.ID})
			p.Set(ctx, q.taskKey(t.ID), data, 0)
			return nil
		})
		if err == nil {
			leased = t
		}
		return err
	}
	for i := 0; i < maxLeaseRetries; i++ {
		err := q.rdb.Watch(ctx, claim, q.readyKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lease task: %w", err)
		}
		return leased, nil
	}
	return nil, nil
}

// Ack implements app.TaskQueue. The idempotency key is kept.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, q.taskKey(id))
		p.ZRem(ctx, q.readyKey(), id)
		p.ZRem(ctx, q.leasedKey(), id)
		return nil
	})
	return err
}

// Nack implements app.TaskQueue.
func (q *Queue) Nack(ctx context.Context, id string, retryAt time.Time, lastErr string) error {
	t, err := q.get(ctx, q.rdb, id)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	t.AvailableAt = retryAt
	t.LeasedUntil = time.Time{}
	t.LastError = lastErr
	return q.release(ctx, t)
}

// RequeueExpired implements app.TaskQueue. Removing the id from the leased set is the
// claim, so two sweepers never requeue the same task twice.
func (q *Queue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.leasedKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore(now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("expired leases: %w", err)
	}
	n := 0
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.leasedKey(), id).Result()
		if err != nil {
			return n, err
		}
		if removed == 0 {
			continue
		}
		t, err := q.get(ctx, q.rdb, id)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, err
		}
		t.LeasedUntil = time.Time{}
		if err := q.release(ctx, t); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Pending returns tasks not yet acked, ready ones first.
func (q *Queue) Pending(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	for _, set := range []string{q.readyKey(), q.leasedKey()} {
		ids, err := q.rdb.ZRange(ctx, set, 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			t, err := q.get(ctx, q.rdb, id)
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, *t)
		}
	}
	return out, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (q *Queue) release(ctx context.Context, t *domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.taskKey(t.ID), data, 0)
		p.ZRem(ctx, q.leasedKey(), t.ID)
		p.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(t.AvailableAt), Member: t.ID})
		return nil
	})
	return err
}

func (q *Queue) get(ctx context.Context, c getter, id string) (*domain.Task, error) {
	data, err := c.Get(ctx, q.taskKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}
