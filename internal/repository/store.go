// Package repository holds the persistence gateway and its backends.
package repository

import (
	"context"
	"database/sql"

	"pairchat/internal/domain"

	"github.com/google/uuid"
)

// Store is the persistence gateway the chat core depends on. Backends are
// interchangeable; callers never branch on which one is active.
//
// Lookups of missing records return domain.ErrNotFound.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByUserID(ctx context.Context, userID string) (*domain.User, error)
	// CreateUser fails with a *domain.ConflictError naming "email" or
	// "userId" when either is taken.
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status domain.Status) (*domain.User, error)

	GetContacts(ctx context.Context, userID string) ([]domain.ContactDetail, error)
	// AddContact is idempotent: re-adding returns the stored edge.
	AddContact(ctx context.Context, ownerID, contactID, name string) (*domain.Contact, error)

	// GetMessages returns the conversation between a and b, oldest first.
	GetMessages(ctx context.Context, a, b string) ([]*domain.Message, error)
	// SaveMessage assigns ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	Close() error
}

// OutboxRepository is implemented by stores that record events in the same
// transaction as the data they describe.
type OutboxRepository interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	FetchPending(ctx context.Context, tx *sql.Tx, limit int) ([]*domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error
}
