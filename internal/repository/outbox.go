package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pairchat/internal/domain"

	"github.com/google/uuid"
)

const (
	outboxPending   = "pending"
	outboxProcessed = "processed"
)

func (s *SQLStore) saveOutbox(ctx context.Context, tx *sql.Tx, event *domain.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO outbox_events (id, event_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), event.ID, event.EventType, string(event.Payload), outboxPending, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func (s *SQLStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLStore) FetchPending(ctx context.Context, tx *sql.Tx, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT id, event_type, payload, status, created_at
		FROM outbox_events
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`+s.dialect.lockPending), outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLStore) MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, outboxProcessed, s.now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE outbox_events SET status = ?, processed_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to mark outbox events processed: %w", err)
	}
	return nil
}
