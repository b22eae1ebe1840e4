package account

import (
	"testing"
	"time"

	"mailengine/internal/apperr"
)

func setTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
}

func TestPutGetDeleteRoundtrip(t *testing.T) {
	setTempHome(t)

	cred := Credential{
		AccountID: "acct1",
		Kind:      KindAppPassword,
		Secret:    "hunter2",
		ExpiresAt: time.Time{},
	}
	if err := Put("acct1", KindAppPassword, cred); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := Get("acct1", KindAppPassword)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Secret != "hunter2" {
		t.Fatalf("expected secret hunter2, got %q", got.Secret)
	}

	if err := Delete("acct1", KindAppPassword); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := Get("acct1", KindAppPassword); err != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	setTempHome(t)

	if _, err := Get("nope", KindOAuthRefresh); err != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
