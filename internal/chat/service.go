// Package chat implements the account, contact and history operations
// behind the REST API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pairchat/internal/auth"
	"pairchat/internal/domain"
	"pairchat/internal/repository"
)

const maxUserIDAttempts = 5

// TokenIssuer signs credentials for authenticated sessions.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

// Session is returned by Register and Login.
type Session struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

// UserSummary is what a user search reveals.
type UserSummary struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Service struct {
	store     repository.Store
	tokens    TokenIssuer
	log       *slog.Logger
	newUserID func() (string, error)
}

func NewService(store repository.Store, tokens TokenIssuer, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		tokens:    tokens,
		log:       log,
		newUserID: domain.NewUserID,
	}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*Session, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, domain.Invalid("All fields are required")
	}

	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return nil, &domain.ConflictError{Field: "email"}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.createWithFreshID(ctx, &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.StatusOffline,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered", "user_id", user.UserID)
	return s.session(user)
}

// createWithFreshID draws random identifiers until one is free.
func (s *Service) createWithFreshID(ctx context.Context, user *domain.User) (*domain.User, error) {
	for attempt := 1; attempt <= maxUserIDAttempts; attempt++ {
		id, err := s.newUserID()
		if err != nil {
			return nil, err
		}
		user.UserID = id

		created, err := s.store.CreateUser(ctx, user)
		if err == nil {
			return created, nil
		}
		if domain.ConflictField(err) != "userId" {
			return nil, err
		}
		s.log.Debug("user id collision", "user_id", id, "attempt", attempt)
	}
	return nil, fmt.Errorf("failed to allocate a user id after %d attempts", maxUserIDAttempts)
}

// Login checks credentials. It does not change presence; only a realtime
// connection does.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.Invalid("Email and password are required")
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	return s.session(user)
}

func (s *Service) session(user *domain.User) (*Session, error) {
	token, err := s.tokens.Issue(auth.Identity{UserID: user.UserID, Username: user.Username})
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user.Profile()}, nil
}

func (s *Service) Contacts(ctx context.Context, userID string) ([]domain.ContactDetail, error) {
	contacts, err := s.store.GetContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []domain.ContactDetail{}
	}
	return contacts, nil
}

// AddContact links userID to the user identified by contactIdentifier.
// Adding the same contact again returns the existing edge.
func (s *Service) AddContact(ctx context.Context, userID, contactIdentifier, contactName string) (*domain.Contact, error) {
	contactIdentifier = strings.TrimSpace(contactIdentifier)
	if contactIdentifier == "" {
		return nil, domain.Invalid("Contact identifier (user ID) is required")
	}
	if contactIdentifier == userID {
		return nil, domain.Invalid("You cannot add yourself as a contact")
	}
	if !domain.ValidUserID(contactIdentifier) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, contactIdentifier)
	}

	target, err := s.store.FindUserByUserID(ctx, contactIdentifier)
	if err != nil {
		return nil, err
	}
	return s.store.AddContact(ctx, userID, target.UserID, strings.TrimSpace(contactName))
}

// History returns the conversation with contactID, oldest first.
func (s *Service) History(ctx context.Context, userID, contactID string) ([]*domain.Message, error) {
	if !domain.ValidUserID(contactID) {
		return nil, domain.Invalid("contactId must be a numeric user identifier")
	}
	messages, err := s.store.GetMessages(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	return messages, nil
}

func (s *Service) SearchUser(ctx context.Context, userID string) (*UserSummary, error) {
	if !domain.ValidUserID(userID) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	user, err := s.store.FindUserByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserSummary{UserID: user.UserID, Username: user.Username}, nil
}
