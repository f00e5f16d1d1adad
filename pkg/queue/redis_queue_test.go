package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRetryableErrorParksMessageWithoutBlocking(t *testing.T) {
	q, ctx, msg := newPendingQueueMessage(t, 5*time.Second)

	start := time.Now()
	q.handleMessage(ctx, msg, func(context.Context, string) error {
		return fmt.Errorf("owner at cap: %w", Retryable)
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handleMessage blocked for %v; retries must be deferred, not slept", elapsed)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected original message acked, got %d pending", pending.Count)
	}
	members, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(members) != 1 || members[0] != "1:job-1" {
		t.Fatalf("expected one delayed retry with bumped attempts, got %v", members)
	}
}

func TestRedisJobQueuePromoteDueRepublishesRetries(t *testing.T) {
	q, ctx, msg := newPendingQueueMessage(t, time.Millisecond)
	q.ackAndDel(ctx, msg.ID)

	now := time.Now().UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey(),
		redis.Z{Score: float64(now - 100), Member: "2:job-1"},
		redis.Z{Score: float64(now + 60_000), Member: "1:job-later"},
	).Err(); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	q.promoteDue(ctx)

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    10,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read promoted message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected exactly the due retry in the stream, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != "job-1" || got.Values["attempts"] != "2" {
		t.Fatalf("unexpected promoted payload: %+v", got.Values)
	}
	members, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(members) != 1 || members[0] != "1:job-later" {
		t.Fatalf("future retry should stay parked, got %v", members)
	}
}

func TestRedisJobQueueScheduleFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msg := newPendingQueueMessage(t, time.Millisecond)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	q.handleMessage(canceledCtx, msg, func(context.Context, string) error {
		return Retryable
	})

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected message to stay pending for idle reclaim, got %d", pending.Count)
	}
}

func TestRedisJobQueueDropsJobAfterMaxRetries(t *testing.T) {
	q, ctx, msg := newPendingQueueMessage(t, time.Millisecond)
	// Rewrite the delivery as if it had already burned all attempts.
	q.ackAndDel(ctx, msg.ID)
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"job_id": "job-1", "attempts": "3"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil || len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("read exhausted message: %v %+v", err, streams)
	}

	q.handleMessage(ctx, streams[0].Messages[0], func(context.Context, string) error {
		return Retryable
	})

	if n, err := q.client.ZCard(ctx, q.delayedKey()).Result(); err != nil || n != 0 {
		t.Fatalf("exhausted job must not be rescheduled: n=%d err=%v", n, err)
	}
	if n, err := q.client.XLen(ctx, q.stream).Result(); err != nil || n != 0 {
		t.Fatalf("exhausted job must be dropped from the stream: n=%d err=%v", n, err)
	}
}

func TestRedisJobQueueEnqueueRequiresJobID(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{Addr: redisSrv.Addr(), Stream: "test:queue"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if err := q.Enqueue(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank job id")
	}
}

func newPendingQueueMessage(t *testing.T, retryDelay time.Duration) (*RedisJobQueue, context.Context, redis.XMessage) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: retryDelay,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	return q, ctx, streams[0].Messages[0]
}
