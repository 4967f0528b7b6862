package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pairchat/internal/domain"

	"github.com/google/uuid"
)

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("status", func(t *testing.T) { testUpdateStatus(t, open(t)) })
	t.Run("contacts", func(t *testing.T) { testContacts(t, open(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, open(t)) })
}

func mustCreateUser(t *testing.T, s Store, userID, name string) *domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), &domain.User{
		UserID:       userID,
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Status:       domain.StatusOffline,
		LastSeen:     time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", userID, err)
	}
	return u
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreateUser(t, s, "10000001", "alice")

	byEmail, err := s.FindUserByEmail(ctx, "alice@example.com")
	if err != nil || byEmail.UserID != "10000001" {
		t.Fatalf("FindUserByEmail() = %+v, %v", byEmail, err)
	}
	byID, err := s.FindUserByUserID(ctx, "10000001")
	if err != nil || byID.Username != "alice" || byID.PasswordHash != "hash" {
		t.Fatalf("FindUserByUserID() = %+v, %v", byID, err)
	}
	if byID.Status != domain.StatusOffline {
		t.Errorf("new user status = %q, want offline", byID.Status)
	}

	if _, err := s.FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindUserByEmail(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindUserByUserID(ctx, "99999999"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindUserByUserID(missing) error = %v, want ErrNotFound", err)
	}

	_, err = s.CreateUser(ctx, &domain.User{UserID: "10000002", Username: "alice2", Email: "alice@example.com", PasswordHash: "x"})
	if !errors.Is(err, domain.ErrConflict) || domain.ConflictField(err) != "email" {
		t.Errorf("duplicate email error = %v, want email conflict", err)
	}

	_, err = s.CreateUser(ctx, &domain.User{UserID: "10000001", Username: "other", Email: "other@example.com", PasswordHash: "x"})
	if !errors.Is(err, domain.ErrConflict) || domain.ConflictField(err) != "userId" {
		t.Errorf("duplicate userId error = %v, want userId conflict", err)
	}
}

func testUpdateStatus(t *testing.T, s Store) {
	ctx := context.Background()
	created := mustCreateUser(t, s, "10000001", "alice")

	updated, err := s.UpdateUserStatus(ctx, "10000001", domain.StatusOnline)
	if err != nil {
		t.Fatalf("UpdateUserStatus() error = %v", err)
	}
	if updated.Status != domain.StatusOnline {
		t.Errorf("status = %q, want online", updated.Status)
	}
	if updated.LastSeen.Before(created.LastSeen.Add(-time.Second)) {
		t.Errorf("lastSeen went backwards: %v -> %v", created.LastSeen, updated.LastSeen)
	}

	reloaded, err := s.FindUserByUserID(ctx, "10000001")
	if err != nil || reloaded.Status != domain.StatusOnline {
		t.Fatalf("status not persisted: %+v, %v", reloaded, err)
	}

	if _, err := s.UpdateUserStatus(ctx, "99999999", domain.StatusOnline); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateUserStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func testContacts(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreateUser(t, s, "10000001", "alice")
	mustCreateUser(t, s, "10000002", "bob")

	first, err := s.AddContact(ctx, "10000001", "10000002", "Bobby")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	second, err := s.AddContact(ctx, "10000001", "10000002", "Robert")
	if err != nil {
		t.Fatalf("AddContact() again error = %v", err)
	}
	if first.ID != second.ID || second.DisplayName != "Bobby" {
		t.Errorf("re-adding should return the stored edge: %+v vs %+v", first, second)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("createdAt changed on re-add: %v vs %v", first.CreatedAt, second.CreatedAt)
	}

	contacts, err := s.GetContacts(ctx, "10000001")
	if err != nil {
		t.Fatalf("GetContacts() error = %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("GetContacts() returned %d edges, want 1", len(contacts))
	}
	c := contacts[0]
	if c.ContactID != "10000002" || c.ContactName != "Bobby" || c.ContactEmail != "bob@example.com" {
		t.Errorf("unexpected contact detail %+v", c)
	}

	// Edges are directed.
	reverse, err := s.GetContacts(ctx, "10000002")
	if err != nil {
		t.Fatalf("GetContacts(bob) error = %v", err)
	}
	if len(reverse) != 0 {
		t.Errorf("bob should have no contacts, got %d", len(reverse))
	}

	// Edges to vanished users are skipped.
	if _, err := s.AddContact(ctx, "10000001", "55555555", ""); err != nil {
		t.Fatalf("AddContact(dangling) error = %v", err)
	}
	contacts, err = s.GetContacts(ctx, "10000001")
	if err != nil || len(contacts) != 1 {
		t.Errorf("dangling edge should be skipped: %d, %v", len(contacts), err)
	}
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()

	var saved []*domain.Message
	for _, m := range []domain.Message{
		{SenderID: "10000001", ReceiverID: "10000002", Text: "one"},
		{SenderID: "10000002", ReceiverID: "10000001", Text: "two"},
		{SenderID: "10000001", ReceiverID: "10000003", Text: "elsewhere"},
		{SenderID: "10000001", ReceiverID: "10000002", Text: "three"},
	} {
		m := m
		got, err := s.SaveMessage(ctx, &m)
		if err != nil {
			t.Fatalf("SaveMessage(%q) error = %v", m.Text, err)
		}
		if got.ID == uuid.Nil || got.CreatedAt.IsZero() {
			t.Fatalf("SaveMessage did not assign id/createdAt: %+v", got)
		}
		saved = append(saved, got)
	}

	history, err := s.GetMessages(ctx, "10000002", "10000001")
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(history) != len(want) {
		t.Fatalf("GetMessages() returned %d messages, want %d", len(history), len(want))
	}
	for i, m := range history {
		if m.Text != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, m.Text, want[i])
		}
		if i > 0 && m.CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("history not ascending at %d", i)
		}
	}
	if history[0].ID != saved[0].ID {
		t.Errorf("history id %v, want %v", history[0].ID, saved[0].ID)
	}

	empty, err := s.GetMessages(ctx, "10000004", "10000005")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty conversation = %d, %v", len(empty), err)
	}
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore() error = %v", err)
		}
		return s
	})
}

func TestFileStoreReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	mustCreateUser(t, s, "10000001", "alice")
	if _, err := s.SaveMessage(context.Background(), &domain.Message{SenderID: "10000001", ReceiverID: "10000002", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.FindUserByUserID(context.Background(), "10000001"); err != nil {
		t.Errorf("user not reloaded: %v", err)
	}
	msgs, _ := reopened.GetMessages(context.Background(), "10000001", "10000002")
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Errorf("messages not reloaded: %+v", msgs)
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteOutbox(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"), WithOutbox())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	msg, err := s.SaveMessage(ctx, &domain.Message{SenderID: "10000001", ReceiverID: "10000002", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	events, err := s.FetchPending(ctx, tx, 10)
	if err != nil {
		t.Fatalf("FetchPending() error = %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventTypeMessageCreated {
		t.Fatalf("FetchPending() = %+v", events)
	}
	if !containsID(events[0].Payload, msg.ID.String()) {
		t.Errorf("payload %s does not carry message id %s", events[0].Payload, msg.ID)
	}
	if err := s.MarkProcessed(ctx, tx, []uuid.UUID{events[0].ID}); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx, err = s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	events, err = s.FetchPending(ctx, tx, 10)
	if err != nil || len(events) != 0 {
		t.Errorf("processed events should not be pending: %d, %v", len(events), err)
	}
}

func containsID(payload []byte, id string) bool {
	return len(payload) > 0 && strings.Contains(string(payload), id)
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)")
	want := "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
	if q := sqliteDialect.rebind("x = ?"); q != "x = ?" {
		t.Errorf("sqlite rebind changed the query: %q", q)
	}
	if placeholders(3) != "?, ?, ?" || placeholders(0) != "" {
		t.Errorf("placeholders() = %q", placeholders(3))
	}
}
