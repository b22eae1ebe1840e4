package llm

import (
	"context"
	"testing"

	"mailengine/internal/apperr"
	"mailengine/internal/eventbus"
)

func TestSummaryMaxTokensBuckets(t *testing.T) {
	cases := []struct {
		words int
		want  int
	}{
		{0, 50}, {42, 50}, {50, 50},
		{51, 80}, {150, 80},
		{151, 120}, {400, 120},
		{401, 180}, {800, 180},
		{801, 250}, {5000, 250},
	}
	for _, c := range cases {
		if got := SummaryMaxTokens(c.words); got != c.want {
			t.Errorf("SummaryMaxTokens(%d) = %d, want %d", c.words, got, c.want)
		}
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("one two  three\nfour"); got != 4 {
		t.Fatalf("WordCount mismatch: got %d", got)
	}
}

func TestGenerateWithoutActiveModelReturnsModelUnavailable(t *testing.T) {
	r := New(eventbus.New())
	_, err := r.Generate(context.Background(), "hello", GenerateParams{MaxTokens: 50})
	if apperr.Kind(err) != apperr.ErrModelUnavailable {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestAvailableReflectsActivation(t *testing.T) {
	r := New(eventbus.New())
	if r.Available() {
		t.Fatal("expected not available before Activate")
	}
	if err := r.Activate("qwen2.5-1.5b-instruct-q4", "http://localhost:0", ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !r.Available() {
		t.Fatal("expected available after Activate")
	}
}

func TestDeleteUnknownModelReturnsNotFound(t *testing.T) {
	r := New(eventbus.New())
	err := r.Delete("not-a-real-model")
	if apperr.Kind(err) != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasStopSequence(t *testing.T) {
	if !hasStopSequence([]byte("hello STOP world"), []string{"STOP"}) {
		t.Fatal("expected stop sequence detected")
	}
	if hasStopSequence([]byte("hello world"), []string{"STOP"}) {
		t.Fatal("expected no stop sequence detected")
	}
}

func TestChatPromptIncludesContextAndQuestion(t *testing.T) {
	hits := []ChatContextHit{{Subject: "Invoice", From: "a@x.com", Snippet: "due friday"}}
	prompt := ChatPrompt("when is the invoice due?", hits)
	if !contains(prompt, "Invoice") || !contains(prompt, "when is the invoice due?") {
		t.Fatalf("expected prompt to include context and question, got %q", prompt)
	}
}

func setTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
}

func TestCatalogParsesThreeModels(t *testing.T) {
	if len(Catalog) != 3 {
		t.Fatalf("expected 3 catalog entries, got %d", len(Catalog))
	}
	if _, ok := descriptorFor("qwen2.5-1.5b-instruct-q4"); !ok {
		t.Fatal("expected qwen entry in catalog")
	}
}

func TestRecordDownloadThenDownloadInfoRoundtrips(t *testing.T) {
	setTempHome(t)
	if err := recordDownload("qwen2.5-1.5b-instruct-q4", "https://example.com/model.gguf"); err != nil {
		t.Fatalf("recordDownload: %v", err)
	}
	url, _, ok := DownloadInfo("qwen2.5-1.5b-instruct-q4")
	if !ok || url != "https://example.com/model.gguf" {
		t.Fatalf("expected recorded source url, got %q ok=%v", url, ok)
	}

	if err := forgetDownload("qwen2.5-1.5b-instruct-q4"); err != nil {
		t.Fatalf("forgetDownload: %v", err)
	}
	if _, _, ok := DownloadInfo("qwen2.5-1.5b-instruct-q4"); ok {
		t.Fatal("expected entry removed after forgetDownload")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
