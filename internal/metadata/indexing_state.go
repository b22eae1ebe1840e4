package metadata

import (
	"database/sql"
	"fmt"
	"time"

	"mailengine/internal/apperr"
)

// TryStartIndexing atomically flips indexing_state.is_running from false to
// true. Returns apperr.ErrBusy if a run is already in progress, matching the
// spec's "reject with AlreadyRunning" step of start_indexing. Grounded on
// the teacher's StateManager.TryStartSync boolean-guard pattern, made
// durable and cross-process by living in the singleton-row table instead of
// an in-memory flag.
func (d *DB) TryStartIndexing(total int) error {
	res, err := d.conn.Exec(`
		UPDATE indexing_state SET is_running = 1, total = ?, processed = 0, last_error = ''
		WHERE singleton = 1 AND is_running = 0
	`, total)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrBusy
	}
	return nil
}

// SetIndexingProgress updates the processed counter of the running index.
func (d *DB) SetIndexingProgress(processed int) error {
	_, err := d.conn.Exec("UPDATE indexing_state SET processed = ? WHERE singleton = 1", processed)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// EndIndexing clears is_running, stamps last_run_at, and records an error
// message (empty on success).
func (d *DB) EndIndexing(errMsg string) error {
	_, err := d.conn.Exec(`
		UPDATE indexing_state SET is_running = 0, last_run_at = ?, last_error = ?
		WHERE singleton = 1
	`, time.Now().Unix(), errMsg)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// ResetIndexingState force-clears is_running, the recovery path the spec's
// §7 propagation policy requires the shell to be able to call when a run
// gets stuck.
func (d *DB) ResetIndexingState() error {
	_, err := d.conn.Exec("UPDATE indexing_state SET is_running = 0 WHERE singleton = 1")
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// IndexingStatus reads the current state.
func (d *DB) IndexingStatus() (IndexingState, error) {
	var s IndexingState
	var isRunning int
	var lastRunAt sql.NullInt64

	err := d.conn.QueryRow(`
		SELECT is_running, total, processed, last_run_at, last_error FROM indexing_state WHERE singleton = 1
	`).Scan(&isRunning, &s.Total, &s.Processed, &lastRunAt, &s.LastError)
	if err != nil {
		return IndexingState{}, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	s.IsRunning = isRunning == 1
	if lastRunAt.Valid {
		t := time.Unix(lastRunAt.Int64, 0)
		s.LastRunAt = &t
	}
	return s, nil
}
