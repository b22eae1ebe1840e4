// Package metadata implements the Metadata DB (C3): the relational store
// for accounts, messages, insights, indexing status, and settings.
//
// Schema and access style are adapted from the teacher's internal/cache
// package: CREATE TABLE IF NOT EXISTS at open, INSERT ... ON CONFLICT DO
// UPDATE upserts that preserve created_at, WAL mode, and a single *sql.DB behind
// this package's exported methods.
package metadata

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mailengine/internal/apperr"
	"mailengine/internal/paths"
)

// Priority buckets, total and monotone over [0,1] per spec invariant.
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// Bucket maps a clamped priority score to its bucket. Monotone: increasing
// score never moves the bucket down.
func Bucket(score float64) string {
	switch {
	case score >= 0.7:
		return PriorityHigh
	case score >= 0.4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Account mirrors the spec's Account entity. Exactly one row may have
// IsActive true, enforced in SetActiveAccount.
type Account struct {
	ID           string
	Address      string
	DisplayName  string
	Provider     string // native, imap_a, imap_b, custom
	IMAPHost     string
	IMAPPort     int
	SMTPHost     string
	SMTPPort     int
	AuthKind     string // oauth, app_password
	IsActive     bool
	CreatedAt    time.Time
	LastSyncedAt *time.Time
}

// Message mirrors the spec's Message entity. ID is the disambiguating
// composite {account_id}:{folder}:{uid}.
type Message struct {
	ID             string
	AccountID      string
	Folder         string
	UID            uint32
	MessageID      string
	ThreadID       string
	Subject        string
	FromName       string
	FromAddress    string
	To             []string
	Date           time.Time
	Snippet        string
	BodyHTML       string
	BodyPlain      string
	IsRead         bool
	IsStarred      bool
	HasAttachments bool
	Labels         []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageID builds the deterministic composite id for a message.
func MessageID(accountID, folder string, uid uint32) string {
	return fmt.Sprintf("%s:%s:%d", accountID, folder, uid)
}

// Insight mirrors the spec's Insight entity, one per Message.
type Insight struct {
	MessageID     string
	Summary       string
	Priority      string
	PriorityScore float64
	Category      string
	ActionItems   []string
	HasDeadline   bool
	HasMeeting    bool
	HasFinancial  bool
	Sentiment     string
	IndexedAt     time.Time
}

// IndexingState is the singleton row tracking an indexing run.
type IndexingState struct {
	IsRunning  bool
	Total      int
	Processed  int
	LastRunAt  *time.Time
	LastError  string
}

// DB wraps the metadata SQLite connection.
type DB struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL,
    imap_host TEXT NOT NULL DEFAULT '',
    imap_port INTEGER NOT NULL DEFAULT 0,
    smtp_host TEXT NOT NULL DEFAULT '',
    smtp_port INTEGER NOT NULL DEFAULT 0,
    auth_kind TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    last_synced_at INTEGER
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    uid INTEGER NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    thread_id TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    from_name TEXT NOT NULL DEFAULT '',
    from_address TEXT NOT NULL DEFAULT '',
    to_addrs TEXT NOT NULL DEFAULT '',
    date INTEGER NOT NULL DEFAULT 0,
    snippet TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    body_plain TEXT NOT NULL DEFAULT '',
    is_read INTEGER NOT NULL DEFAULT 0,
    is_starred INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    labels TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
    message_id TEXT PRIMARY KEY,
    summary TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT 'LOW',
    priority_score REAL NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT '',
    action_items TEXT NOT NULL DEFAULT '',
    has_deadline INTEGER NOT NULL DEFAULT 0,
    has_meeting INTEGER NOT NULL DEFAULT 0,
    has_financial INTEGER NOT NULL DEFAULT 0,
    sentiment TEXT NOT NULL DEFAULT '',
    indexed_at INTEGER NOT NULL,
    FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS indexing_state (
    singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
    is_running INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    last_run_at INTEGER,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date DESC);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_insights_priority ON insights(priority_score DESC);
CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category);
`

// Open creates/opens the metadata database at its standard location.
func Open() (*DB, error) {
	path, err := paths.MessagesDB()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt opens the metadata database at an explicit path, for tests.
func OpenAt(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", apperr.ErrStorage)
	}
	if _, err := conn.Exec(`INSERT OR IGNORE INTO indexing_state (singleton, is_running, total, processed) VALUES (1, 0, 0, 0)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seeding indexing_state: %w", apperr.ErrStorage)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
