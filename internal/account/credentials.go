// Package account implements the Credential Store (C1): per-account
// tokens/app-passwords with OAuth refresh, and the Account registry
// backing C3's accounts table.
//
// Credential persistence is adapted from the teacher's internal/auth
// package: prefer the OS keychain, fall back to a restrictive-permission
// JSON file, never log secret values.
package account

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/zalando/go-keyring"

	"mailengine/internal/apperr"
	"mailengine/internal/paths"
)

const keyringService = "mailengine"

// Kind enumerates the secret kinds put/get operate on.
type Kind string

const (
	KindAppPassword  Kind = "app_password"
	KindOAuthAccess  Kind = "oauth_access"
	KindOAuthRefresh Kind = "oauth_refresh"
)

// Credential is the secret material bound to an account.
type Credential struct {
	AccountID    string    `json:"account_id"`
	Kind         Kind      `json:"kind"`
	Secret       string    `json:"secret"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// fileStore is the fallback JSON file, keyed by "accountID:kind".
type fileStore map[string]Credential

func fileKey(accountID string, kind Kind) string {
	return accountID + ":" + string(kind)
}

func loadFileStore() (fileStore, error) {
	path, err := paths.Credentials()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fileStore{}, nil
	}
	if err != nil {
		return nil, err
	}
	var store fileStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, err
	}
	return store, nil
}

func saveFileStore(store fileStore) error {
	path, err := paths.Credentials()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Put persists a secret for accountID/kind, preferring the OS keychain and
// falling back to the credentials file when no keychain is available.
func Put(accountID string, kind Kind, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	if err := keyring.Set(keyringService, fileKey(accountID, kind), string(data)); err == nil {
		return nil
	}

	store, err := loadFileStore()
	if err != nil {
		return err
	}
	store[fileKey(accountID, kind)] = cred
	return saveFileStore(store)
}

// Get retrieves a secret for accountID/kind, or apperr.ErrNotFound if absent.
func Get(accountID string, kind Kind) (*Credential, error) {
	if raw, err := keyring.Get(keyringService, fileKey(accountID, kind)); err == nil {
		var cred Credential
		if err := json.Unmarshal([]byte(raw), &cred); err != nil {
			return nil, fmt.Errorf("decoding keychain credential: %w", apperr.ErrStorage)
		}
		return &cred, nil
	}

	store, err := loadFileStore()
	if err != nil {
		return nil, err
	}
	cred, ok := store[fileKey(accountID, kind)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &cred, nil
}

// Delete removes a secret for accountID/kind from both tiers.
func Delete(accountID string, kind Kind) error {
	keyring.Delete(keyringService, fileKey(accountID, kind))

	store, err := loadFileStore()
	if err != nil {
		return err
	}
	delete(store, fileKey(accountID, kind))
	return saveFileStore(store)
}
