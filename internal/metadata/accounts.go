package metadata

import (
	"database/sql"
	"fmt"
	"time"

	"mailengine/internal/apperr"
)

// UpsertAccount inserts or updates an account row. A new row takes
// is_active from a.IsActive; updating an existing row leaves its activation
// unchanged. Use SetActiveAccount to change which account is active.
func (d *DB) UpsertAccount(a Account) error {
	var lastSynced sql.NullInt64
	if a.LastSyncedAt != nil {
		lastSynced = sql.NullInt64{Int64: a.LastSyncedAt.Unix(), Valid: true}
	}

	_, err := d.conn.Exec(`
		INSERT INTO accounts (id, address, display_name, provider, imap_host, imap_port,
		                       smtp_host, smtp_port, auth_kind, is_active, created_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			display_name = excluded.display_name,
			provider = excluded.provider,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			auth_kind = excluded.auth_kind,
			last_synced_at = excluded.last_synced_at
	`, a.ID, a.Address, a.DisplayName, a.Provider, a.IMAPHost, a.IMAPPort,
		a.SMTPHost, a.SMTPPort, a.AuthKind, boolToInt(a.IsActive), a.CreatedAt.Unix(), lastSynced)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.ID, apperr.ErrStorage)
	}
	return nil
}

// DeleteAccount removes an account and, via cascade, nothing else directly —
// messages are scoped by account_id but not FK-bound to accounts, since a
// removed account's mail history may still be queried historically until
// the caller explicitly purges it.
func (d *DB) DeleteAccount(id string) error {
	_, err := d.conn.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, apperr.ErrStorage)
	}
	return nil
}

// SetActiveAccount makes id the sole active account, clearing the flag on
// every other account, enforcing the spec's "at most one active" invariant.
func (d *DB) SetActiveAccount(id string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE accounts SET is_active = 0"); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	res, err := tx.Exec("UPDATE accounts SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

// GetAccount loads a single account by id.
func (d *DB) GetAccount(id string) (*Account, error) {
	a, err := scanAccount(d.conn.QueryRow(accountSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return a, nil
}

// GetActiveAccount returns the one account with IsActive true, if any.
func (d *DB) GetActiveAccount() (*Account, error) {
	a, err := scanAccount(d.conn.QueryRow(accountSelect + " WHERE is_active = 1"))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return a, nil
}

// ListAccounts returns every configured account.
func (d *DB) ListAccounts() ([]Account, error) {
	rows, err := d.conn.Query(accountSelect + " ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

const accountSelect = `
	SELECT id, address, display_name, provider, imap_host, imap_port,
	       smtp_host, smtp_port, auth_kind, is_active, created_at, last_synced_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	return scanAccountRow(row)
}

func scanAccountRow(row rowScanner) (*Account, error) {
	var a Account
	var isActive int
	var createdAt int64
	var lastSynced sql.NullInt64

	err := row.Scan(&a.ID, &a.Address, &a.DisplayName, &a.Provider, &a.IMAPHost, &a.IMAPPort,
		&a.SMTPHost, &a.SMTPPort, &a.AuthKind, &isActive, &createdAt, &lastSynced)
	if err != nil {
		return nil, err
	}

	a.IsActive = isActive == 1
	a.CreatedAt = time.Unix(createdAt, 0)
	if lastSynced.Valid {
		t := time.Unix(lastSynced.Int64, 0)
		a.LastSyncedAt = &t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
