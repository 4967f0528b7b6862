package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pairchat/internal/domain"

	"github.com/google/uuid"
)

const (
	usersFile    = "users.json"
	contactsFile = "contacts.json"
	messagesFile = "messages.json"
)

// FileStore keeps every collection in memory and rewrites the matching JSON
// file on each mutation.
type FileStore struct {
	dir string
	now func() time.Time

	mu       sync.RWMutex
	users    []*domain.User
	contacts []*domain.Contact
	messages []*domain.Message
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s := &FileStore{dir: dir, now: time.Now}

	// Unreadable files load as empty collections.
	loadJSON(filepath.Join(dir, usersFile), &s.users)
	loadJSON(filepath.Join(dir, contactsFile), &s.contacts)
	loadJSON(filepath.Join(dir, messagesFile), &s.messages)
	return s, nil
}

func loadJSON(path string, dst any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}

// saveJSON must be called with s.mu held.
func (s *FileStore) saveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) findUser(match func(*domain.User) bool) *domain.User {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *FileStore) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.findUser(func(u *domain.User) bool { return u.Email == email })
	if u == nil {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FileStore) FindUserByUserID(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.findUser(func(u *domain.User) bool { return u.UserID == userID })
	if u == nil {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FileStore) CreateUser(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return nil, &domain.ConflictError{Field: "email"}
		}
		if u.UserID == user.UserID {
			return nil, &domain.ConflictError{Field: "userId"}
		}
	}

	stored := *user
	if stored.Status == "" {
		stored.Status = domain.StatusOffline
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = s.now()
	}
	stored.LastSeen = stored.LastSeen.UTC()
	s.users = append(s.users, &stored)
	if err := s.saveJSON(usersFile, s.users); err != nil {
		s.users = s.users[:len(s.users)-1]
		return nil, err
	}
	cp := stored
	return &cp, nil
}

func (s *FileStore) UpdateUserStatus(_ context.Context, userID string, status domain.Status) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(func(u *domain.User) bool { return u.UserID == userID })
	if u == nil {
		return nil, domain.ErrNotFound
	}

	prevStatus, prevSeen := u.Status, u.LastSeen
	u.Status = status
	u.LastSeen = s.now().UTC()
	if err := s.saveJSON(usersFile, s.users); err != nil {
		u.Status, u.LastSeen = prevStatus, prevSeen
		return nil, err
	}
	cp := *u
	return &cp, nil
}

func (s *FileStore) GetContacts(_ context.Context, userID string) ([]domain.ContactDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details := make([]domain.ContactDetail, 0)
	for _, c := range s.contacts {
		if c.OwnerID != userID {
			continue
		}
		target := s.findUser(func(u *domain.User) bool { return u.UserID == c.ContactID })
		if target == nil {
			continue
		}
		details = append(details, domain.NewContactDetail(c, target))
	}
	return details, nil
}

func (s *FileStore) AddContact(_ context.Context, ownerID, contactID, name string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.contacts {
		if c.OwnerID == ownerID && c.ContactID == contactID {
			cp := *c
			return &cp, nil
		}
	}

	c := &domain.Contact{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		ContactID:   contactID,
		DisplayName: name,
		CreatedAt:   s.now().UTC(),
	}
	s.contacts = append(s.contacts, c)
	if err := s.saveJSON(contactsFile, s.contacts); err != nil {
		s.contacts = s.contacts[:len(s.contacts)-1]
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *FileStore) GetMessages(_ context.Context, a, b string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.Involves(a, b) {
			cp := *m
			out = append(out, &cp)
		}
	}
	// Stable keeps insertion order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) SaveMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &domain.Message{
		ID:         uuid.New(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		CreatedAt:  s.now().UTC(),
	}
	s.messages = append(s.messages, stored)
	if err := s.saveJSON(messagesFile, s.messages); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return nil, err
	}
	cp := *stored
	return &cp, nil
}

func (s *FileStore) Close() error {
	return nil
}
