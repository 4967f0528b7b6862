package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"pairchat/internal/domain"
)

func TestIssueAndVerify(t *testing.T) {
	j := NewJWT("secret", time.Hour)

	token, err := j.Issue(Identity{UserID: "10000001", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := j.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "10000001" || id.Username != "alice" {
		t.Errorf("Verify() = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	good, err := j.Issue(Identity{UserID: "10000001"})
	if err != nil {
		t.Fatal(err)
	}

	other := NewJWT("other-secret", time.Hour)
	forged, err := other.Issue(Identity{UserID: "10000001"})
	if err != nil {
		t.Fatal(err)
	}

	expired := NewJWT("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue(Identity{UserID: "10000001"})
	if err != nil {
		t.Fatal(err)
	}

	badID, err := j.Issue(Identity{UserID: "not-numeric"})
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"missing":   "",
		"garbage":   "not.a.token",
		"forged":    forged,
		"expired":   stale,
		"bad id":    badID,
		"truncated": good[:len(good)-4],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := j.Verify(token)
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Errorf("Verify() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := BearerToken(r); err == nil {
		t.Error("expected error without header")
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, err := BearerToken(r); err == nil {
		t.Error("expected error for non-bearer scheme")
	}

	r.Header.Set("Authorization", "Bearer abc.def")
	token, err := BearerToken(r)
	if err != nil || token != "abc.def" {
		t.Errorf("BearerToken() = %q, %v", token, err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("CheckPassword should accept the right password")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("CheckPassword should reject the wrong password")
	}
}
