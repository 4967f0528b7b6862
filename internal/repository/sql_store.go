package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pairchat/internal/domain"

	"github.com/google/uuid"
)

// SQLStore implements Store on PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	outbox  bool
	now     func() time.Time
}

type SQLOption func(*SQLStore)

// WithOutbox records a message.created outbox row in the same transaction
// as every saved message.
func WithOutbox() SQLOption {
	return func(s *SQLStore) { s.outbox = true }
}

func OpenPostgres(ctx context.Context, dsn string, opts ...SQLOption) (*SQLStore, error) {
	return openSQL(ctx, postgresDialect, dsn, opts...)
}

func OpenSQLite(ctx context.Context, path string, opts ...SQLOption) (*SQLStore, error) {
	return openSQL(ctx, sqliteDialect, path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", opts...)
}

func openSQL(ctx context.Context, d dialect, dsn string, opts ...SQLOption) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.name, err)
	}

	s := &SQLStore{db: db, dialect: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

const userColumns = `user_id, username, email, password_hash, avatar, status, last_seen`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var status string
	if err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &status, &u.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Status = domain.Status(status)
	return &u, nil
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	return scanUser(row)
}

func (s *SQLStore) FindUserByUserID(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE user_id = ?`), userID)
	return scanUser(row)
}

func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	if u.Status == "" {
		u.Status = domain.StatusOffline
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = s.now()
	}
	u.LastSeen = u.LastSeen.UTC()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), u.UserID, u.Username, u.Email, u.PasswordHash, u.Avatar, string(u.Status), u.LastSeen)
	if err != nil {
		if s.dialect.isUnique(err) {
			return nil, s.userConflict(ctx, u.Email)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &u, nil
}

// userConflict works out which unique column an insert collided on.
func (s *SQLStore) userConflict(ctx context.Context, email string) error {
	if _, err := s.FindUserByEmail(ctx, email); err == nil {
		return &domain.ConflictError{Field: "email"}
	}
	return &domain.ConflictError{Field: "userId"}
}

func (s *SQLStore) UpdateUserStatus(ctx context.Context, userID string, status domain.Status) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET status = ?, last_seen = ? WHERE user_id = ?
	`), string(status), s.now().UTC(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.FindUserByUserID(ctx, userID)
}

func (s *SQLStore) GetContacts(ctx context.Context, userID string) ([]domain.ContactDetail, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT c.id, c.owner_id, c.contact_id, c.display_name, c.created_at,
		       u.user_id, u.username, u.email, u.password_hash, u.avatar, u.status, u.last_seen
		FROM contacts c
		JOIN users u ON u.user_id = c.contact_id
		WHERE c.owner_id = ?
		ORDER BY c.created_at ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	defer rows.Close()

	details := make([]domain.ContactDetail, 0)
	for rows.Next() {
		var c domain.Contact
		var u domain.User
		var status string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ContactID, &c.DisplayName, &c.CreatedAt,
			&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &status, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		u.Status = domain.Status(status)
		details = append(details, domain.NewContactDetail(&c, &u))
	}
	return details, rows.Err()
}

func (s *SQLStore) AddContact(ctx context.Context, ownerID, contactID, name string) (*domain.Contact, error) {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO contacts (id, owner_id, contact_id, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, contact_id) DO NOTHING
	`), uuid.New(), ownerID, contactID, name, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert contact: %w", err)
	}

	var c domain.Contact
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT id, owner_id, contact_id, display_name, created_at
		FROM contacts WHERE owner_id = ? AND contact_id = ?
	`), ownerID, contactID).Scan(&c.ID, &c.OwnerID, &c.ContactID, &c.DisplayName, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact: %w", err)
	}
	return &c, nil
}

func (s *SQLStore) GetMessages(ctx context.Context, a, b string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, sender_id, receiver_id, text, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, seq ASC
	`), a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) SaveMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	m := &domain.Message{
		ID:         uuid.New(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		CreatedAt:  s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, sender_id, receiver_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), m.ID, m.SenderID, m.ReceiverID, m.Text, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if s.outbox {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message payload: %w", err)
		}
		event := &domain.OutboxEvent{
			ID:        uuid.New(),
			EventType: domain.EventTypeMessageCreated,
			Payload:   payload,
			CreatedAt: m.CreatedAt,
		}
		if err := s.saveOutbox(ctx, tx, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return m, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
