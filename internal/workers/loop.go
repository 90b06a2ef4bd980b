package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/myhometown/textline/internal/logging"
)

// WorkerFunc is one unit of periodic work. It returns the number of items
// processed and any critical error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// runWorkerLoop runs a generic worker function periodically until the
// context is cancelled.
func runWorkerLoop(ctx context.Context, name string, interval time.Duration, batchSize int, workerFunc WorkerFunc) {
	logCtx := logging.ContextWithWorkerID(ctx, name)
	slog.InfoContext(logCtx, "Worker starting",
		slog.Duration("interval", interval),
		slog.Int("batch_size", batchSize),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(logCtx, "Worker stopping")
			return
		case <-ticker.C:
			runWork(logCtx, name, batchSize, workerFunc)
		}
	}
}

// runWork executes a single run with a per-run timeout and panic recovery,
// so one bad run never kills the loop.
func runWork(ctx context.Context, name string, batchSize int, workerFunc WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Worker run panicked", slog.String("worker", name), slog.Any("panic", r))
		}
	}()

	processedCount, err := workerFunc(runCtx, batchSize)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.ErrorContext(ctx, "Worker run failed", slog.String("worker", name), slog.Any("error", err))
		}
		return
	}
	if processedCount > 0 {
		slog.InfoContext(ctx, "Worker run processed items",
			slog.String("worker", name),
			slog.Int("processed", processedCount),
		)
	}
}
