package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	userIDMin    = 10000000
	userIDMax    = 99999999
	maxUserIDLen = 32
)

// NewUserID draws a random 8-digit identifier. Callers retry on collision.
func NewUserID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(userIDMax-userIDMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+userIDMin), nil
}

// ValidUserID reports whether s is a syntactically valid user identifier.
func ValidUserID(s string) bool {
	if s == "" || len(s) > maxUserIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateMessage checks an outbound message before anything is persisted.
func ValidateMessage(receiverID, text string) error {
	if !ValidUserID(receiverID) {
		return Invalid("receiverId must be a numeric user identifier")
	}
	if strings.TrimSpace(text) == "" {
		return Invalid("text must not be empty")
	}
	return nil
}
