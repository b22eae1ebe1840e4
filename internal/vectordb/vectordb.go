// Package vectordb implements the Vector DB (C4): a dense-vector store for
// message embeddings with cosine top-k, living in its own SQLite file.
//
// It must never create tables owned by the metadata database — on open it
// creates only embeddings and embedding_state, the same boundary the spec's
// "ownership" design note (§9) requires between C3 and C4.
package vectordb

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mailengine/internal/apperr"
	"mailengine/internal/paths"
)

// EmbeddingState is the singleton row tracking an embed_all run.
type EmbeddingState struct {
	IsRunning    bool
	Total        int
	Embedded     int
	CurrentModel string
	LastRunAt    *time.Time
	LastError    string
}

// Match is one hit returned by TopK/Neighbors.
type Match struct {
	MessageID  string
	Similarity float64
}

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    message_id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    model_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_state (
    singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
    is_running INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    embedded INTEGER NOT NULL DEFAULT 0,
    current_model TEXT NOT NULL DEFAULT '',
    last_run_at INTEGER,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_id);
`

// DB wraps the vector SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open creates/opens the vector database at its standard location.
func Open() (*DB, error) {
	path, err := paths.VectorsDB()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt opens the vector database at an explicit path, for tests.
func OpenAt(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", apperr.ErrStorage)
	}
	if _, err := conn.Exec(`INSERT OR IGNORE INTO embedding_state (singleton, is_running, total, embedded) VALUES (1, 0, 0, 0)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seeding embedding_state: %w", apperr.ErrStorage)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &v)
	return v
}

// Upsert replaces any prior vector stored for message_id.
func (d *DB) Upsert(messageID string, vector []float32, modelID string) error {
	_, err := d.conn.Exec(`
		INSERT INTO embeddings (message_id, vector, model_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			vector = excluded.vector, model_id = excluded.model_id, created_at = excluded.created_at
	`, messageID, encodeVector(vector), modelID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upserting embedding for %s: %w", messageID, apperr.ErrStorage)
	}
	return nil
}

// Get returns the vector for message_id, or nil if absent.
func (d *DB) Get(messageID string) ([]float32, error) {
	var raw []byte
	err := d.conn.QueryRow("SELECT vector FROM embeddings WHERE message_id = ?", messageID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return decodeVector(raw), nil
}

// EmbeddedIDs returns the set of message ids already embedded under modelID.
func (d *DB) EmbeddedIDs(modelID string) (map[string]bool, error) {
	rows, err := d.conn.Query("SELECT message_id FROM embeddings WHERE model_id = ?", modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids[id] = true
	}
	return ids, nil
}

// DeleteEmbedding removes the vector for one message, used when its message
// is pruned from the metadata store since the two stores share no foreign key.
func (d *DB) DeleteEmbedding(messageID string) error {
	_, err := d.conn.Exec("DELETE FROM embeddings WHERE message_id = ?", messageID)
	if err != nil {
		return fmt.Errorf("deleting embedding for %s: %w", messageID, apperr.ErrStorage)
	}
	return nil
}

// Clear removes all embeddings.
func (d *DB) Clear() error {
	_, err := d.conn.Exec("DELETE FROM embeddings")
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// Count returns the total number of stored embeddings.
func (d *DB) Count() (int, error) {
	var n int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return n, nil
}

// PurgeStaleModels deletes every embedding whose model_id is not activeModel,
// the lazy-purge path referenced by the spec's embedding-scope invariant.
func (d *DB) PurgeStaleModels(activeModel string) (int, error) {
	res, err := d.conn.Exec("DELETE FROM embeddings WHERE model_id != ?", activeModel)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TopK returns the k nearest vectors to queryVec by cosine similarity,
// scoped to modelID (vectors from any other model are ignored). Ties are
// broken by lower message_id.
func (d *DB) TopK(queryVec []float32, modelID string, k int) ([]Match, error) {
	rows, err := d.conn.Query("SELECT message_id, vector FROM embeddings WHERE model_id = ?", modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()
	return rankBySimilarity(rows, queryVec, "", k)
}

// Neighbors returns the k nearest vectors to the vector stored for
// messageID, excluding messageID itself.
func (d *DB) Neighbors(messageID, modelID string, k int) ([]Match, error) {
	queryVec, err := d.Get(messageID)
	if err != nil {
		return nil, err
	}
	if queryVec == nil {
		return nil, apperr.ErrNotFound
	}

	rows, err := d.conn.Query("SELECT message_id, vector FROM embeddings WHERE model_id = ?", modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()
	return rankBySimilarity(rows, queryVec, messageID, k)
}

func rankBySimilarity(rows *sql.Rows, queryVec []float32, exclude string, k int) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			continue
		}
		if id == exclude {
			continue
		}
		sim := cosine(queryVec, decodeVector(raw))
		matches = append(matches, Match{MessageID: id, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].MessageID < matches[j].MessageID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// cosine is u·v / (‖u‖·‖v‖), 0 if either vector has zero norm.
func cosine(u, v []float32) float64 {
	n := len(u)
	if len(v) < n {
		n = len(v)
	}
	var dot, normU, normV float64
	for i := 0; i < n; i++ {
		dot += float64(u[i]) * float64(v[i])
		normU += float64(u[i]) * float64(u[i])
		normV += float64(v[i]) * float64(v[i])
	}
	if normU == 0 || normV == 0 {
		return 0
	}
	return dot / (math.Sqrt(normU) * math.Sqrt(normV))
}
