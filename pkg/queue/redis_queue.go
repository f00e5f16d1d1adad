// Package queue nudges workers about pending conversion jobs through a
// Redis stream. Job state lives in the store; the queue only carries IDs,
// so a lost message delays a job rather than losing it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"codemorph/internal/util"
)

type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue publishes a job id for the worker pool to pick up.
func (q *RedisJobQueue) Enqueue(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("jobID required")
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":   jobID,
			"attempts": "0",
		},
	}).Err()
}

// Retryable marks a handler error as worth requeueing, e.g. when the job
// owner is at their concurrency cap.
var Retryable = errors.New("retryable")

// Start launches concurrency consumer goroutines. Each delivers job ids to
// handler; messages idle past claimIdle are reclaimed from dead consumers.
// A promoter goroutine moves due retries from the delayed set back into the
// stream so retry delays never block a consumer.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, string) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
	go q.promoteLoop(ctx)
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("queue group create", "stream", q.stream, "error", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, string) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, string) error) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	attempts := 0
	if raw, _ := msg.Values["attempts"].(string); raw != "" {
		attempts, _ = strconv.Atoi(raw)
	}
	err := handler(ctx, jobID)
	if err == nil || !errors.Is(err, Retryable) {
		// Done, or a failure the handler recorded in the store.
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if attempts >= q.maxRetries {
		slog.Warn("queue dropping job after retries", "jobId", jobID, "attempts", attempts)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	// Park the retry in the delayed set instead of sleeping here; sleeping
	// would stall every other message this consumer has read.
	if err := q.scheduleRetry(ctx, jobID, attempts+1); err != nil {
		slog.Warn("queue schedule retry", "jobId", jobID, "error", err)
		// Left unacked; the idle reclaim will redeliver it.
		return
	}
	q.ackAndDel(ctx, msg.ID)
}

func (q *RedisJobQueue) delayedKey() string {
	return q.stream + ":delayed"
}

// scheduleRetry records the job in the delayed set, due retryDelay from now.
// The member carries the attempt count so it survives the round trip.
func (q *RedisJobQueue) scheduleRetry(ctx context.Context, jobID string, attempts int) error {
	due := time.Now().Add(q.retryDelay).UnixMilli()
	return q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(due),
		Member: fmt.Sprintf("%d:%s", attempts, jobID),
	}).Err()
}

func (q *RedisJobQueue) promoteLoop(ctx context.Context) {
	interval := q.retryDelay
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

// promoteDue republishes every delayed retry whose due time has passed.
func (q *RedisJobQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: q.readCount,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, member := range members {
		attempts, jobID, ok := parseDelayed(member)
		if ok {
			err := q.client.XAdd(ctx, &redis.XAddArgs{
				Stream: q.stream,
				MaxLen: q.maxLen,
				Approx: true,
				Values: map[string]any{
					"job_id":   jobID,
					"attempts": strconv.Itoa(attempts),
				},
			}).Err()
			if err != nil {
				slog.Warn("queue promote retry", "jobId", jobID, "error", err)
				continue
			}
		}
		_ = q.client.ZRem(ctx, q.delayedKey(), member).Err()
	}
}

func parseDelayed(member string) (attempts int, jobID string, ok bool) {
	i := strings.IndexByte(member, ':')
	if i <= 0 || i == len(member)-1 {
		return 0, "", false
	}
	attempts, err := strconv.Atoi(member[:i])
	if err != nil {
		return 0, "", false
	}
	return attempts, member[i+1:], true
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}
