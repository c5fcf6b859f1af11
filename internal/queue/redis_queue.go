package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "ops:queue:ready"
	inflightKey = "ops:queue:inflight"
)

// RedisQueue is the job scheduler: confirmed bulk jobs above the async
// threshold are enqueued here by id and consumed by the worker. Dequeued ids
// sit in an in-flight set under a visibility lease so a crashed worker's job
// is eventually re-run.
type RedisQueue struct {
	client     *redis.Client
	visibility time.Duration
}

// NewRedisQueue builds a queue on an existing Redis client.
func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	return &RedisQueue{client: client, visibility: visibility}
}

// Enqueue appends a job id to the ready queue. Fire-and-forget from the
// engine's point of view.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// DequeueWithLease pops the oldest ready job id and places it in-flight with
// a visibility deadline. Returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes a leased job's visibility deadline forward so a slow
// batch is not re-delivered to a second worker mid-run. A job that is no
// longer in-flight is left alone.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string) error {
	deadline := float64(time.Now().Add(q.visibility).UnixMilli())
	if err := q.client.ZAddXX(ctx, inflightKey, redis.Z{Score: deadline, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("extend lease for job %s: %w", jobID, err)
	}
	return nil
}

// Ack removes a finished job from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.client.ZRem(ctx, inflightKey, jobID).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

// RequeueExpired reclaims in-flight jobs whose lease has lapsed, pushing them
// back onto the ready queue. It returns the reclaimed ids.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired leases: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	return ids, nil
}

// Depth returns the ready queue length.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
