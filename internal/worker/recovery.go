package worker

import (
	"context"
	"log/slog"
	"time"
)

// enqueuer re-publishes a job id for the worker pool.
type enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// pendingScanner finds pending jobs whose queue nudge may have been lost.
type pendingScanner interface {
	NextPendingJob() (string, bool, error)
}

// RunRecovery periodically re-enqueues the oldest pending job so a dropped
// queue message only delays work. Idempotent: a redelivered id for a job
// that already ran loses the claim and is discarded.
func RunRecovery(ctx context.Context, scanner pendingScanner, q enqueuer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, ok, err := scanner.NextPendingJob()
			if err != nil {
				slog.Warn("recovery scan", "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := q.Enqueue(ctx, id); err != nil {
				slog.Warn("recovery enqueue", "jobId", id, "error", err)
			}
		}
	}
}
