package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
)

// RecoveryStore is the notes repository surface used at start-up.
type RecoveryStore interface {
	FailStuckProcessing(ctx context.Context) (int64, error)
	ListIDsByStatus(ctx context.Context, status constants.ConversionStatus) ([]uuid.UUID, error)
}

// Recover fails notes a previous process left in processing, then re-enqueues
// every pending note. It returns how many notes it failed and re-enqueued.
func Recover(ctx context.Context, store RecoveryStore, q Queue, logger *slog.Logger) (int64, int, error) {
	failed, err := FailStuck(ctx, store, logger)
	if err != nil {
		return 0, 0, err
	}
	requeued, err := RequeuePending(ctx, store, q, logger)
	return failed, requeued, err
}

// FailStuck must run before any worker can claim a note, or it would fail
// conversions of this process.
func FailStuck(ctx context.Context, store RecoveryStore, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	failed, err := store.FailStuckProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("fail stuck notes: %w", err)
	}
	if failed > 0 {
		logger.Warn("recovery.failed_stuck", "count", failed)
	}
	return failed, nil
}

// RequeuePending enqueues every pending note. It may block on a full queue, so
// callers run it alongside the server. Duplicates with fresh uploads are
// harmless: only one claim wins.
func RequeuePending(ctx context.Context, store RecoveryStore, q Queue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ids, err := store.ListIDsByStatus(ctx, constants.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending notes: %w", err)
	}
	requeued := 0
	for _, id := range ids {
		if err := q.Enqueue(ctx, Job{NoteID: id, SubmittedAt: time.Now(), TraceID: "recovery"}); err != nil {
			return requeued, fmt.Errorf("requeue note %s: %w", id, err)
		}
		requeued++
	}
	logger.Info("recovery.done", "requeued", requeued)
	return requeued, nil
}
