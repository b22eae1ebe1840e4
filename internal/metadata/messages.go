package metadata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mailengine/internal/apperr"
)

// StoreMessage is idempotent on m.ID: a second call updates mutable fields
// (flags, labels, body) but preserves the original created_at, matching the
// spec's upsert semantics for store_message.
func (d *DB) StoreMessage(m Message) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := d.conn.Exec(`
		INSERT INTO messages (id, account_id, folder, uid, message_id, thread_id, subject,
		                       from_name, from_address, to_addrs, date, snippet, body_html,
		                       body_plain, is_read, is_starred, has_attachments, labels,
		                       created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			subject = excluded.subject,
			from_name = excluded.from_name,
			from_address = excluded.from_address,
			to_addrs = excluded.to_addrs,
			date = excluded.date,
			snippet = excluded.snippet,
			body_html = excluded.body_html,
			body_plain = excluded.body_plain,
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			has_attachments = excluded.has_attachments,
			labels = excluded.labels,
			updated_at = excluded.updated_at
	`, m.ID, m.AccountID, m.Folder, m.UID, m.MessageID, m.ThreadID, m.Subject,
		m.FromName, m.FromAddress, strings.Join(m.To, ","), m.Date.Unix(), m.Snippet,
		m.BodyHTML, m.BodyPlain, boolToInt(m.IsRead), boolToInt(m.IsStarred),
		boolToInt(m.HasAttachments), strings.Join(m.Labels, ","), m.CreatedAt.Unix(), m.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storing message %s: %w", m.ID, apperr.ErrStorage)
	}
	return nil
}

// DeleteMessage removes a message. Its Insight cascades via the foreign key;
// its Embedding must be purged separately by the caller since C4 owns a
// different file and cannot share a foreign key with C3.
func (d *DB) DeleteMessage(id string) error {
	_, err := d.conn.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, apperr.ErrStorage)
	}
	return nil
}

// PruneOlderThan deletes every message (and, via the foreign key, its
// Insight) with a date before the cutoff, returning the deleted ids so the
// caller can purge their Embeddings too. Used by the retention pass.
func (d *DB) PruneOlderThan(cutoff time.Time) ([]string, error) {
	rows, err := d.conn.Query("SELECT id FROM messages WHERE date < ?", cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := d.conn.Exec("DELETE FROM messages WHERE date < ?", cutoff.Unix()); err != nil {
		return nil, fmt.Errorf("pruning messages before %s: %w", cutoff, apperr.ErrStorage)
	}
	return ids, nil
}

const messageSelect = `
	SELECT id, account_id, folder, uid, message_id, thread_id, subject,
	       from_name, from_address, to_addrs, date, snippet, body_html,
	       body_plain, is_read, is_starred, has_attachments, labels,
	       created_at, updated_at
	FROM messages`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var uid int64
	var date, createdAt, updatedAt int64
	var isRead, isStarred, hasAttachments int
	var to, labels string

	err := row.Scan(&m.ID, &m.AccountID, &m.Folder, &uid, &m.MessageID, &m.ThreadID, &m.Subject,
		&m.FromName, &m.FromAddress, &to, &date, &m.Snippet, &m.BodyHTML,
		&m.BodyPlain, &isRead, &isStarred, &hasAttachments, &labels, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.UID = uint32(uid)
	m.Date = time.Unix(date, 0)
	m.CreatedAt = time.Unix(createdAt, 0)
	m.UpdatedAt = time.Unix(updatedAt, 0)
	m.IsRead = isRead == 1
	m.IsStarred = isStarred == 1
	m.HasAttachments = hasAttachments == 1
	if to != "" {
		m.To = strings.Split(to, ",")
	}
	if labels != "" {
		m.Labels = strings.Split(labels, ",")
	}
	return &m, nil
}

// GetMessage loads a single message by id.
func (d *DB) GetMessage(id string) (*Message, error) {
	row := d.conn.QueryRow(messageSelect+" WHERE id = ?", id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return m, nil
}

// SetFlags updates is_read/is_starred for a message.
func (d *DB) SetFlags(id string, isRead, isStarred *bool) error {
	if isRead != nil {
		if _, err := d.conn.Exec("UPDATE messages SET is_read = ?, updated_at = ? WHERE id = ?",
			boolToInt(*isRead), time.Now().Unix(), id); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
		}
	}
	if isStarred != nil {
		if _, err := d.conn.Exec("UPDATE messages SET is_starred = ?, updated_at = ? WHERE id = ?",
			boolToInt(*isStarred), time.Now().Unix(), id); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
		}
	}
	return nil
}

// CachedUIDs returns the set of UIDs already stored for an account+folder,
// used by the pipeline to diff against freshly fetched headers.
func (d *DB) CachedUIDs(accountID, folder string) (map[uint32]bool, error) {
	rows, err := d.conn.Query("SELECT uid FROM messages WHERE account_id = ? AND folder = ?", accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()

	uids := make(map[uint32]bool)
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			continue
		}
		uids[uint32(uid)] = true
	}
	return uids, nil
}

// AllMessageIDs returns every stored message id, used by the pipeline to
// compute the embedding backlog (Message.ids − Embedding.ids).
func (d *DB) AllMessageIDs() ([]string, error) {
	rows, err := d.conn.Query("SELECT id FROM messages")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// KeywordSearch is a case-insensitive substring match over subject, from,
// and body, with limit/offset.
func (d *DB) KeywordSearch(query string, limit, offset int) ([]Message, error) {
	like := "%" + strings.ToLower(query) + "%"
	rows, err := d.conn.Query(messageSelect+`
		WHERE lower(subject) LIKE ? OR lower(from_address) LIKE ? OR lower(from_name) LIKE ?
		      OR lower(body_plain) LIKE ? OR lower(body_html) LIKE ?
		ORDER BY date DESC
		LIMIT ? OFFSET ?
	`, like, like, like, like, like, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}
