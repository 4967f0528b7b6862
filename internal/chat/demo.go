package chat

import (
	"context"
	"fmt"

	"pairchat/internal/domain"
)

const demoPassword = "demo123"

type demoAccount struct {
	userID, username, email string
}

var demoAccounts = []demoAccount{
	{userID: "12345678", username: "demo_user1", email: "demo1@chatapp.com"},
	{userID: "87654321", username: "demo_user2", email: "demo2@chatapp.com"},
}

// SeedDemoUsers registers the two demo accounts with their well-known user
// IDs. Accounts whose email is already taken are left alone, so it is safe
// to run on every start.
func (s *Service) SeedDemoUsers(ctx context.Context) error {
	for _, acct := range demoAccounts {
		seeder := *s
		seeder.newUserID = func() (string, error) { return acct.userID, nil }

		_, err := seeder.Register(ctx, acct.username, acct.email, demoPassword)
		switch {
		case err == nil:
			s.log.Info("seeded demo user", "user_id", acct.userID, "email", acct.email)
		case domain.ConflictField(err) == "email":
			s.log.Debug("demo user already present", "email", acct.email)
		default:
			return fmt.Errorf("failed to seed demo user %s: %w", acct.username, err)
		}
	}
	return nil
}
