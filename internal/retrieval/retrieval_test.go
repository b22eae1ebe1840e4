package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/metadata"
	"mailengine/internal/vectordb"
)

func newTestLayer(t *testing.T) (*Layer, *metadata.DB, *vectordb.DB) {
	t.Helper()
	meta, err := metadata.OpenAt(filepath.Join(t.TempDir(), "messages.sqlite"))
	if err != nil {
		t.Fatalf("metadata.OpenAt: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	vec, err := vectordb.OpenAt(filepath.Join(t.TempDir(), "vectors.sqlite"))
	if err != nil {
		t.Fatalf("vectordb.OpenAt: %v", err)
	}
	t.Cleanup(func() { vec.Close() })

	return New(meta, vec, nil, nil), meta, vec
}

func seedMessage(t *testing.T, meta *metadata.DB, id string, date time.Time, priority string, score float64, category string) {
	t.Helper()
	if err := meta.StoreMessage(metadata.Message{
		ID: id, AccountID: "a1", Folder: "INBOX", Subject: "Subject " + id,
		FromAddress: "x@example.com", Date: date,
	}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if err := meta.UpsertInsight(metadata.Insight{
		MessageID: id, Priority: priority, PriorityScore: score, Category: category,
	}); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}
}

func TestSmartInboxOrdersByPriorityThenDate(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	now := time.Now()
	seedMessage(t, meta, "low", now, metadata.PriorityLow, 0.1, "general")
	seedMessage(t, meta, "high", now, metadata.PriorityHigh, 0.9, "general")

	hits, err := l.SmartInbox(10, 0)
	if err != nil {
		t.Fatalf("SmartInbox: %v", err)
	}
	if len(hits) != 2 || hits[0].Message.ID != "high" {
		t.Fatalf("expected high-priority message first, got %+v", hits)
	}
}

func TestByCategoryFiltersOnCategory(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	now := time.Now()
	seedMessage(t, meta, "m1", now, metadata.PriorityMedium, 0.5, "meetings")
	seedMessage(t, meta, "m2", now, metadata.PriorityMedium, 0.5, "financial")

	hits, err := l.ByCategory("meetings", 10)
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(hits) != 1 || hits[0].Message.ID != "m1" {
		t.Fatalf("expected only m1, got %+v", hits)
	}
}

func TestSemanticSearchWithoutEmbedderReturnsModelUnavailable(t *testing.T) {
	l, _, _ := newTestLayer(t)
	_, err := l.SemanticSearch(context.Background(), "query", 5)
	if apperr.Kind(err) != apperr.ErrModelUnavailable {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestChatFallsBackToTemplatedSummaryWithoutLLM(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	seedMessage(t, meta, "m1", time.Now(), metadata.PriorityHigh, 0.9, "general")

	answer, err := l.Chat(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer == "" {
		t.Fatal("expected a non-empty templated fallback answer")
	}
}

func TestImportantIntentFiltersHighPriority(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	now := time.Now()
	seedMessage(t, meta, "low", now, metadata.PriorityLow, 0.1, "general")
	seedMessage(t, meta, "high", now, metadata.PriorityHigh, 0.9, "general")

	hits, err := l.important(5)
	if err != nil {
		t.Fatalf("important: %v", err)
	}
	if len(hits) != 1 || hits[0].Message.ID != "high" {
		t.Fatalf("expected only high-priority message, got %+v", hits)
	}
}

func TestChatNaturalLanguagePhraseHitsImportantShortcut(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	now := time.Now()
	seedMessage(t, meta, "low", now, metadata.PriorityLow, 0.1, "general")
	seedMessage(t, meta, "high", now, metadata.PriorityHigh, 0.9, "general")

	hits, err := l.intentAwareSearch(context.Background(), "show me important emails", 5)
	if err != nil {
		t.Fatalf("intentAwareSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Message.ID != "high" {
		t.Fatalf("expected the priority=HIGH shortcut to fire and return only 'high', got %+v", hits)
	}
}

func TestTodayIntentFiltersByDate(t *testing.T) {
	l, meta, _ := newTestLayer(t)
	seedMessage(t, meta, "old", time.Now().Add(-48*time.Hour), metadata.PriorityMedium, 0.5, "general")
	seedMessage(t, meta, "recent", time.Now(), metadata.PriorityMedium, 0.5, "general")

	hits, err := l.today(5)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(hits) != 1 || hits[0].Message.ID != "recent" {
		t.Fatalf("expected only recent message, got %+v", hits)
	}
}
