// Package outbox relays events recorded by the SQL store to the broker.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pairchat/internal/broker"
	"pairchat/internal/repository"

	"github.com/google/uuid"
)

const defaultBatchSize = 100

// Worker polls pending outbox rows and publishes each under its event type.
// Rows are locked, published and marked processed in one transaction, so
// delivery is at least once.
type Worker struct {
	repo      repository.OutboxRepository
	publisher broker.Publisher
	log       *slog.Logger
	batchSize int
}

func NewWorker(repo repository.OutboxRepository, publisher broker.Publisher, log *slog.Logger) *Worker {
	return &Worker{
		repo:      repo,
		publisher: publisher,
		log:       log,
		batchSize: defaultBatchSize,
	}
}

// Start polls every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("outbox worker started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.processBatch(ctx); err != nil {
				w.log.Error("failed to process outbox batch", "err", err)
			}
		}
	}
}

// processBatch returns how many events were published.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := w.repo.FetchPending(ctx, tx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	processed := make([]uuid.UUID, 0, len(events))
	var publishErr error
	for _, event := range events {
		if err := w.publisher.Publish(ctx, event.EventType, event.Payload); err != nil {
			// Later rows stay pending so per-conversation order is kept.
			publishErr = fmt.Errorf("failed to publish event %s: %w", event.ID, err)
			break
		}
		processed = append(processed, event.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, processed); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(processed) > 0 {
		w.log.Debug("published outbox events", "count", len(processed))
	}
	return len(processed), publishErr
}
