package metadata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mailengine/internal/apperr"
)

// UpsertInsight stores the Insight for a message, created by the
// enrichment pipeline and destroyed by cascade with the Message.
func (d *DB) UpsertInsight(in Insight) error {
	if in.IndexedAt.IsZero() {
		in.IndexedAt = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO insights (message_id, summary, priority, priority_score, category,
		                       action_items, has_deadline, has_meeting, has_financial,
		                       sentiment, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			summary = excluded.summary,
			priority = excluded.priority,
			priority_score = excluded.priority_score,
			category = excluded.category,
			action_items = excluded.action_items,
			has_deadline = excluded.has_deadline,
			has_meeting = excluded.has_meeting,
			has_financial = excluded.has_financial,
			sentiment = excluded.sentiment,
			indexed_at = excluded.indexed_at
	`, in.MessageID, in.Summary, in.Priority, in.PriorityScore, in.Category,
		strings.Join(in.ActionItems, "|"), boolToInt(in.HasDeadline), boolToInt(in.HasMeeting),
		boolToInt(in.HasFinancial), in.Sentiment, in.IndexedAt.Unix())
	if err != nil {
		return fmt.Errorf("storing insight for %s: %w", in.MessageID, apperr.ErrStorage)
	}
	return nil
}

const insightSelect = `
	SELECT message_id, summary, priority, priority_score, category, action_items,
	       has_deadline, has_meeting, has_financial, sentiment, indexed_at
	FROM insights`

func scanInsight(row rowScanner) (*Insight, error) {
	var in Insight
	var actionItems string
	var hasDeadline, hasMeeting, hasFinancial int
	var indexedAt int64

	err := row.Scan(&in.MessageID, &in.Summary, &in.Priority, &in.PriorityScore, &in.Category,
		&actionItems, &hasDeadline, &hasMeeting, &hasFinancial, &in.Sentiment, &indexedAt)
	if err != nil {
		return nil, err
	}

	in.HasDeadline = hasDeadline == 1
	in.HasMeeting = hasMeeting == 1
	in.HasFinancial = hasFinancial == 1
	in.IndexedAt = time.Unix(indexedAt, 0)
	if actionItems != "" {
		in.ActionItems = strings.Split(actionItems, "|")
	}
	return &in, nil
}

// GetInsight loads the Insight for a message, if any.
func (d *DB) GetInsight(messageID string) (*Insight, error) {
	in, err := scanInsight(d.conn.QueryRow(insightSelect+" WHERE message_id = ?", messageID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return in, nil
}

// MessageWithInsight pairs a Message with its (possibly absent) Insight,
// the shape the retrieval layer joins on.
type MessageWithInsight struct {
	Message Message
	Insight *Insight
}

// SmartInbox joins messages with insights ordered by priority_score DESC,
// date DESC.
func (d *DB) SmartInbox(limit, offset int) ([]MessageWithInsight, error) {
	rows, err := d.conn.Query(`
		SELECT `+messageColumns("m")+`, `+insightColumnsNullable("i")+`
		FROM messages m
		LEFT JOIN insights i ON i.message_id = m.id
		ORDER BY COALESCE(i.priority_score, 0) DESC, m.date DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()
	return scanJoined(rows)
}

// ByCategory is SmartInbox filtered to a single insight category.
func (d *DB) ByCategory(category string, limit int) ([]MessageWithInsight, error) {
	rows, err := d.conn.Query(`
		SELECT `+messageColumns("m")+`, `+insightColumnsNullable("i")+`
		FROM messages m
		JOIN insights i ON i.message_id = m.id
		WHERE i.category = ?
		ORDER BY i.priority_score DESC, m.date DESC
		LIMIT ?
	`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer rows.Close()
	return scanJoined(rows)
}

func messageColumns(alias string) string {
	cols := []string{"id", "account_id", "folder", "uid", "message_id", "thread_id", "subject",
		"from_name", "from_address", "to_addrs", "date", "snippet", "body_html",
		"body_plain", "is_read", "is_starred", "has_attachments", "labels",
		"created_at", "updated_at"}
	return prefixJoin(alias, cols)
}

func insightColumnsNullable(alias string) string {
	cols := []string{"message_id", "summary", "priority", "priority_score", "category",
		"action_items", "has_deadline", "has_meeting", "has_financial", "sentiment", "indexed_at"}
	return prefixJoin(alias, cols)
}

func prefixJoin(alias string, cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func scanJoined(rows *sql.Rows) ([]MessageWithInsight, error) {
	var out []MessageWithInsight
	for rows.Next() {
		var m Message
		var uid int64
		var date, createdAt, updatedAt int64
		var isRead, isStarred, hasAttachments int
		var to, labels string

		var msgID sql.NullString
		var summary, priority, category, actionItems, sentiment sql.NullString
		var score sql.NullFloat64
		var hasDeadline, hasMeeting, hasFinancial sql.NullInt64
		var indexedAt sql.NullInt64

		err := rows.Scan(&m.ID, &m.AccountID, &m.Folder, &uid, &m.MessageID, &m.ThreadID, &m.Subject,
			&m.FromName, &m.FromAddress, &to, &date, &m.Snippet, &m.BodyHTML,
			&m.BodyPlain, &isRead, &isStarred, &hasAttachments, &labels, &createdAt, &updatedAt,
			&msgID, &summary, &priority, &score, &category, &actionItems,
			&hasDeadline, &hasMeeting, &hasFinancial, &sentiment, &indexedAt)
		if err != nil {
			continue
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

		var insight *Insight
		if msgID.Valid {
			in := Insight{
				MessageID:     msgID.String,
				Summary:       summary.String,
				Priority:      priority.String,
				PriorityScore: score.Float64,
				Category:      category.String,
				HasDeadline:   hasDeadline.Int64 == 1,
				HasMeeting:    hasMeeting.Int64 == 1,
				HasFinancial:  hasFinancial.Int64 == 1,
				Sentiment:     sentiment.String,
			}
			if actionItems.Valid && actionItems.String != "" {
				in.ActionItems = strings.Split(actionItems.String, "|")
			}
			if indexedAt.Valid {
				in.IndexedAt = time.Unix(indexedAt.Int64, 0)
			}
			insight = &in
		}

		out = append(out, MessageWithInsight{Message: m, Insight: insight})
	}
	return out, nil
}
