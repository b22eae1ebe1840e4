package command

import (
	"context"
	"path/filepath"
	"testing"

	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/metadata"
	"mailengine/internal/pipeline"
	"mailengine/internal/retrieval"
	"mailengine/internal/transport"
	"mailengine/internal/vectordb"
)

type fakeAccount struct{}

func (f *fakeAccount) ListFolders(ctx context.Context) ([]string, error) { return []string{"INBOX"}, nil }
func (f *fakeAccount) FetchHeaders(ctx context.Context, folder string, sinceUID uint32) ([]transport.Message, error) {
	return nil, nil
}
func (f *fakeAccount) FetchFull(ctx context.Context, ref transport.MessageRef) (*transport.Message, error) {
	return nil, nil
}
func (f *fakeAccount) SetFlags(ctx context.Context, ref transport.MessageRef, add, remove []string) error {
	return nil
}
func (f *fakeAccount) Move(ctx context.Context, ref transport.MessageRef, destFolder string) error {
	return nil
}
func (f *fakeAccount) Send(ctx context.Context, msg transport.OutgoingMessage) error { return nil }
func (f *fakeAccount) IdleLoop(ctx context.Context, folder string, onNew func(folder string)) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestSurface(t *testing.T) (*Surface, *metadata.DB, *vectordb.DB) {
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

	bus := eventbus.New()
	resolver := func(accountID string) (transport.Account, error) { return &fakeAccount{}, nil }
	p := pipeline.New(meta, vec, bus, nil, nil, resolver, nil)
	r := retrieval.New(meta, vec, nil, nil)
	runtime := llm.New(bus)

	s := New(meta, vec, resolver, nil, p, r, runtime)
	return s, meta, vec
}

func TestDispatchUnknownCommandReturnsError(t *testing.T) {
	s, _, _ := newTestSurface(t)
	resp := s.Dispatch(context.Background(), Request{Type: "not_a_command"})
	if resp.OK {
		t.Fatal("expected OK=false for unknown command")
	}
}

func TestAddAccountThenListAccounts(t *testing.T) {
	s, _, _ := newTestSurface(t)
	resp := s.Dispatch(context.Background(), Request{
		Type:    TypeAddAccount,
		Account: &metadata.Account{ID: "acct1", Address: "me@example.com", Provider: "native", AuthKind: "oauth"},
	})
	if !resp.OK {
		t.Fatalf("add_account failed: %s", resp.Error)
	}

	resp = s.Dispatch(context.Background(), Request{Type: TypeListAccounts})
	if !resp.OK {
		t.Fatalf("list_accounts failed: %s", resp.Error)
	}
	if len(resp.Accounts) != 1 || resp.Accounts[0].ID != "acct1" {
		t.Fatalf("expected one account acct1, got %+v", resp.Accounts)
	}
}

func TestRemoveAccountDeletesRow(t *testing.T) {
	s, meta, _ := newTestSurface(t)
	if err := meta.UpsertAccount(metadata.Account{ID: "acct1", Address: "me@example.com", Provider: "native", AuthKind: "oauth"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	resp := s.Dispatch(context.Background(), Request{Type: TypeRemoveAccount, AccountID: "acct1"})
	if !resp.OK {
		t.Fatalf("remove_account failed: %s", resp.Error)
	}
	if _, err := meta.GetAccount("acct1"); err == nil {
		t.Fatal("expected account to be removed")
	}
}

func TestGetEmailReturnsStoredMessageAndInsight(t *testing.T) {
	s, meta, _ := newTestSurface(t)
	if err := meta.StoreMessage(metadata.Message{ID: "m1", AccountID: "a1", Folder: "INBOX", Subject: "hi"}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if err := meta.UpsertInsight(metadata.Insight{MessageID: "m1", Priority: metadata.PriorityLow}); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}

	resp := s.Dispatch(context.Background(), Request{Type: TypeGetEmail, MessageID: "m1"})
	if !resp.OK || resp.Message == nil || resp.Insight == nil {
		t.Fatalf("expected message+insight, got %+v", resp)
	}
}

func TestMarkReadUpdatesLocalFlag(t *testing.T) {
	s, meta, _ := newTestSurface(t)
	if err := meta.StoreMessage(metadata.Message{ID: "m1", AccountID: "a1", Folder: "INBOX", UID: 1}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}

	read := true
	resp := s.Dispatch(context.Background(), Request{Type: TypeMarkRead, MessageID: "m1", IsRead: &read})
	if !resp.OK {
		t.Fatalf("mark_read failed: %s", resp.Error)
	}

	m, err := meta.GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !m.IsRead {
		t.Fatal("expected message to be marked read")
	}
}

func TestGetIndexingStatusDefaultsToNotRunning(t *testing.T) {
	s, _, _ := newTestSurface(t)
	resp := s.Dispatch(context.Background(), Request{Type: TypeGetIndexingStatus})
	if !resp.OK || resp.Indexing == nil || resp.Indexing.IsRunning {
		t.Fatalf("expected idle indexing status, got %+v", resp)
	}
}

func TestIsRAGReadyFalseBeforeInitRAG(t *testing.T) {
	s, _, _ := newTestSurface(t)
	resp := s.Dispatch(context.Background(), Request{Type: TypeIsRAGReady})
	if !resp.OK || resp.Ready {
		t.Fatalf("expected ready=false before init_rag, got %+v", resp)
	}
}

func TestChatQueryFallsBackWithoutLLM(t *testing.T) {
	s, meta, _ := newTestSurface(t)
	if err := meta.StoreMessage(metadata.Message{ID: "m1", AccountID: "a1", Folder: "INBOX", Subject: "hi"}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if err := meta.UpsertInsight(metadata.Insight{MessageID: "m1", Priority: metadata.PriorityHigh, PriorityScore: 0.9}); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}

	resp := s.Dispatch(context.Background(), Request{Type: TypeChatQuery, Query: "anything"})
	if !resp.OK || resp.Answer == "" {
		t.Fatalf("expected a non-empty fallback answer, got %+v", resp)
	}
}

func TestGetAvailableModelsReturnsCatalog(t *testing.T) {
	s, _, _ := newTestSurface(t)
	resp := s.Dispatch(context.Background(), Request{Type: TypeGetAvailableModels})
	if !resp.OK || len(resp.Models) == 0 {
		t.Fatalf("expected non-empty catalog, got %+v", resp)
	}
}
