package vectordb

import (
	"database/sql"
	"fmt"
	"time"

	"mailengine/internal/apperr"
)

// TryStartEmbedding atomically flips embedding_state.is_running from false
// to true, mirroring metadata.TryStartIndexing's singleton guard for the
// independent embed_all() progress counter the spec requires (§4.7: "can
// run concurrently [with indexing], independent progress counters").
func (d *DB) TryStartEmbedding(total int, model string) error {
	res, err := d.conn.Exec(`
		UPDATE embedding_state SET is_running = 1, total = ?, embedded = 0, current_model = ?, last_error = ''
		WHERE singleton = 1 AND is_running = 0
	`, total, model)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrBusy
	}
	return nil
}

// SetEmbeddingProgress updates the embedded counter of the running pass.
func (d *DB) SetEmbeddingProgress(embedded int) error {
	_, err := d.conn.Exec("UPDATE embedding_state SET embedded = ? WHERE singleton = 1", embedded)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// EndEmbedding clears is_running, stamps last_run_at, and records an error
// message (empty on success).
func (d *DB) EndEmbedding(errMsg string) error {
	_, err := d.conn.Exec(`
		UPDATE embedding_state SET is_running = 0, last_run_at = ?, last_error = ?
		WHERE singleton = 1
	`, time.Now().Unix(), errMsg)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// EmbeddingStatus reads the current state.
func (d *DB) EmbeddingStatus() (EmbeddingState, error) {
	var s EmbeddingState
	var isRunning int
	var lastRunAt sql.NullInt64

	err := d.conn.QueryRow(`
		SELECT is_running, total, embedded, current_model, last_run_at, last_error
		FROM embedding_state WHERE singleton = 1
	`).Scan(&isRunning, &s.Total, &s.Embedded, &s.CurrentModel, &lastRunAt, &s.LastError)
	if err != nil {
		return EmbeddingState{}, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	s.IsRunning = isRunning == 1
	if lastRunAt.Valid {
		t := time.Unix(lastRunAt.Int64, 0)
		s.LastRunAt = &t
	}
	return s, nil
}
