package config

import (
	"testing"
	"time"
)

func TestAdminTokenService_IssueAndVerifyRoundTrip(t *testing.T) {
	svc := NewAdminTokenService("test-secret", time.Hour)

	token, err := svc.Issue("admin1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	chatID, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if chatID != "admin1" {
		t.Fatalf("chat id = %q, want admin1", chatID)
	}
}

func TestAdminTokenService_DisabledWithoutSecret(t *testing.T) {
	svc := NewAdminTokenService("", time.Hour)

	if _, err := svc.Issue("admin1"); err != ErrAdminAuthDisabled {
		t.Fatalf("Issue err = %v, want ErrAdminAuthDisabled", err)
	}
	if _, err := svc.Verify("whatever"); err != ErrAdminAuthDisabled {
		t.Fatalf("Verify err = %v, want ErrAdminAuthDisabled", err)
	}
}

func TestAdminTokenService_RejectsTamperedToken(t *testing.T) {
	svc := NewAdminTokenService("test-secret", time.Hour)
	other := NewAdminTokenService("other-secret", time.Hour)

	token, err := other.Issue("admin1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Verify(token); err != ErrInvalidAdminToken {
		t.Fatalf("Verify err = %v, want ErrInvalidAdminToken", err)
	}
}

func TestAdminTokenService_RequiresChatID(t *testing.T) {
	svc := NewAdminTokenService("test-secret", time.Hour)
	if _, err := svc.Issue("  "); err == nil {
		t.Fatal("expected error for blank chat id")
	}
}
