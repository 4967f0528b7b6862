package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidUserID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"10000000", true},
		{"1", true},
		{"", false},
		{"12a4", false},
		{" 1000", false},
		{"-1", false},
		{"123456789012345678901234567890123", false},
	}

	for _, tt := range tests {
		if got := ValidUserID(tt.in); got != tt.want {
			t.Errorf("ValidUserID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewUserIDRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := NewUserID()
		if err != nil {
			t.Fatalf("NewUserID() error = %v", err)
		}
		if len(id) != 8 || !ValidUserID(id) {
			t.Fatalf("NewUserID() = %q, want 8 digits", id)
		}
		if id[0] == '0' {
			t.Fatalf("NewUserID() = %q has a leading zero", id)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("10000001", "hi"); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}

	for _, tc := range []struct{ receiver, text string }{
		{"", "hi"},
		{"abc", "hi"},
		{"10000001", ""},
		{"10000001", "   \n"},
	} {
		err := ValidateMessage(tc.receiver, tc.text)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateMessage(%q, %q) = %v, want ErrValidation", tc.receiver, tc.text, err)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := Invalid("bad %s", "field")
	if err.Error() != "bad field" {
		t.Errorf("Invalid message = %q", err.Error())
	}

	conflict := &ConflictError{Field: "email"}
	if !errors.Is(conflict, ErrConflict) {
		t.Error("ConflictError should match ErrConflict")
	}
	if ConflictField(conflict) != "email" {
		t.Errorf("ConflictField = %q, want email", ConflictField(conflict))
	}
	if ConflictField(ErrNotFound) != "" {
		t.Error("ConflictField of a non-conflict error should be empty")
	}
}

func TestMessageInvolves(t *testing.T) {
	m := &Message{SenderID: "1", ReceiverID: "2"}
	if !m.Involves("1", "2") || !m.Involves("2", "1") {
		t.Error("message should belong to both directions of the conversation")
	}
	if m.Involves("1", "3") {
		t.Error("message should not belong to an unrelated conversation")
	}
}

func TestContactDetailFallsBackToUsername(t *testing.T) {
	now := time.Now()
	u := &User{UserID: "2", Username: "bob", Email: "bob@example.com", Status: StatusOnline, LastSeen: now}

	d := NewContactDetail(&Contact{OwnerID: "1", ContactID: "2"}, u)
	if d.ContactName != "bob" {
		t.Errorf("ContactName = %q, want bob", d.ContactName)
	}

	d = NewContactDetail(&Contact{OwnerID: "1", ContactID: "2", DisplayName: "Bobby"}, u)
	if d.ContactName != "Bobby" {
		t.Errorf("ContactName = %q, want Bobby", d.ContactName)
	}
	if d.Status != StatusOnline || !d.LastSeen.Equal(now) {
		t.Error("detail should carry the contact's presence")
	}
}
