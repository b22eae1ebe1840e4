package metadata

import (
	"path/filepath"
	"testing"
	"time"

	"mailengine/internal/apperr"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.sqlite")
	db, err := OpenAt(path)
	if err != nil {
		t.Fatalf("OpenAt() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBucketTotalityAndMonotonicity(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.0, PriorityLow},
		{0.39, PriorityLow},
		{0.4, PriorityMedium},
		{0.69, PriorityMedium},
		{0.7, PriorityHigh},
		{1.0, PriorityHigh},
	}
	prevRank := -1
	rank := map[string]int{PriorityLow: 0, PriorityMedium: 1, PriorityHigh: 2}
	for _, c := range cases {
		got := Bucket(c.score)
		if got != c.want {
			t.Fatalf("Bucket(%v) = %v, want %v", c.score, got, c.want)
		}
		if rank[got] < prevRank {
			t.Fatalf("bucket rank decreased as score increased at %v", c.score)
		}
		prevRank = rank[got]
	}
}

func TestStoreMessageIdempotentPreservesCreatedAt(t *testing.T) {
	db := openTest(t)

	id := MessageID("acct1", "INBOX", 42)
	first := time.Now().Add(-time.Hour)
	m := Message{ID: id, AccountID: "acct1", Folder: "INBOX", UID: 42, Subject: "hi", CreatedAt: first}
	if err := db.StoreMessage(m); err != nil {
		t.Fatalf("StoreMessage error: %v", err)
	}

	m.Subject = "updated"
	m.IsRead = true
	if err := db.StoreMessage(m); err != nil {
		t.Fatalf("StoreMessage (update) error: %v", err)
	}

	got, err := db.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage error: %v", err)
	}
	if got.Subject != "updated" || !got.IsRead {
		t.Fatalf("expected mutable fields updated, got %+v", got)
	}
	if got.CreatedAt.Unix() != first.Unix() {
		t.Fatalf("expected created_at preserved, got %v want %v", got.CreatedAt, first)
	}
}

func TestCascadeDeleteRemovesInsight(t *testing.T) {
	db := openTest(t)

	id := MessageID("acct1", "INBOX", 1)
	if err := db.StoreMessage(Message{ID: id, AccountID: "acct1", Folder: "INBOX", UID: 1}); err != nil {
		t.Fatalf("StoreMessage error: %v", err)
	}
	if err := db.UpsertInsight(Insight{MessageID: id, Priority: PriorityHigh, PriorityScore: 0.9}); err != nil {
		t.Fatalf("UpsertInsight error: %v", err)
	}

	if err := db.DeleteMessage(id); err != nil {
		t.Fatalf("DeleteMessage error: %v", err)
	}

	if _, err := db.GetInsight(id); err != apperr.ErrNotFound {
		t.Fatalf("expected insight cascade-deleted, got err=%v", err)
	}
}

func TestPruneOlderThanDeletesOnlyMessagesBeforeCutoff(t *testing.T) {
	db := openTest(t)

	oldID := MessageID("acct1", "INBOX", 1)
	recentID := MessageID("acct1", "INBOX", 2)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	if err := db.StoreMessage(Message{ID: oldID, AccountID: "acct1", Folder: "INBOX", UID: 1, Date: cutoff.Add(-time.Hour)}); err != nil {
		t.Fatalf("StoreMessage error: %v", err)
	}
	if err := db.StoreMessage(Message{ID: recentID, AccountID: "acct1", Folder: "INBOX", UID: 2, Date: time.Now()}); err != nil {
		t.Fatalf("StoreMessage error: %v", err)
	}

	pruned, err := db.PruneOlderThan(cutoff)
	if err != nil {
		t.Fatalf("PruneOlderThan error: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != oldID {
		t.Fatalf("expected only %s pruned, got %v", oldID, pruned)
	}

	if _, err := db.GetMessage(oldID); err != apperr.ErrNotFound {
		t.Fatalf("expected old message deleted, got err=%v", err)
	}
	if _, err := db.GetMessage(recentID); err != nil {
		t.Fatalf("expected recent message preserved, got err=%v", err)
	}
}

func TestSingletonActiveAccount(t *testing.T) {
	db := openTest(t)

	a1 := Account{ID: "a1", Address: "a@x.com", Provider: "native", AuthKind: "oauth", CreatedAt: time.Now()}
	a2 := Account{ID: "a2", Address: "b@x.com", Provider: "imap_a", AuthKind: "app_password", CreatedAt: time.Now()}
	if err := db.UpsertAccount(a1); err != nil {
		t.Fatalf("UpsertAccount a1 error: %v", err)
	}
	if err := db.UpsertAccount(a2); err != nil {
		t.Fatalf("UpsertAccount a2 error: %v", err)
	}

	if err := db.SetActiveAccount("a1"); err != nil {
		t.Fatalf("SetActiveAccount a1 error: %v", err)
	}
	if err := db.SetActiveAccount("a2"); err != nil {
		t.Fatalf("SetActiveAccount a2 error: %v", err)
	}

	active, err := db.GetActiveAccount()
	if err != nil {
		t.Fatalf("GetActiveAccount error: %v", err)
	}
	if active.ID != "a2" {
		t.Fatalf("expected a2 active, got %s", active.ID)
	}

	accounts, _ := db.ListAccounts()
	activeCount := 0
	for _, a := range accounts {
		if a.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly 1 active account, got %d", activeCount)
	}
}

func TestSingletonIndexingGuard(t *testing.T) {
	db := openTest(t)

	if err := db.TryStartIndexing(10); err != nil {
		t.Fatalf("first TryStartIndexing error: %v", err)
	}
	if err := db.TryStartIndexing(10); err != apperr.ErrBusy {
		t.Fatalf("expected ErrBusy on concurrent start, got %v", err)
	}

	if err := db.EndIndexing(""); err != nil {
		t.Fatalf("EndIndexing error: %v", err)
	}
	if err := db.TryStartIndexing(5); err != nil {
		t.Fatalf("expected TryStartIndexing to succeed after completion, got %v", err)
	}
}

func TestKeywordSearch(t *testing.T) {
	db := openTest(t)

	db.StoreMessage(Message{ID: MessageID("a", "INBOX", 1), AccountID: "a", Folder: "INBOX", UID: 1, Subject: "Invoice #42"})
	db.StoreMessage(Message{ID: MessageID("a", "INBOX", 2), AccountID: "a", Folder: "INBOX", UID: 2, Subject: "Team lunch"})

	results, err := db.KeywordSearch("invoice", 10, 0)
	if err != nil {
		t.Fatalf("KeywordSearch error: %v", err)
	}
	if len(results) != 1 || results[0].Subject != "Invoice #42" {
		t.Fatalf("expected 1 result matching invoice, got %+v", results)
	}
}
