package embedder

import "testing"

func TestComposeTextOrdersSubjectFromBody(t *testing.T) {
	got := ComposeText("Hi", "a@x.com", "body text", 0)
	want := "Hi\na@x.com\nbody text"
	if got != want {
		t.Fatalf("ComposeText mismatch: got %q want %q", got, want)
	}
}

func TestComposeTextTruncatesBody(t *testing.T) {
	got := ComposeText("Hi", "a@x.com", "abcdefghij", 4)
	want := "Hi\na@x.com\nabcd"
	if got != want {
		t.Fatalf("ComposeText truncation mismatch: got %q want %q", got, want)
	}
}

func TestNewDefaultsDimBeforeFirstEncode(t *testing.T) {
	e := New("test-embed-model", "http://localhost:0", "")
	if e.Dim() != defaultDim {
		t.Fatalf("expected default dim %d, got %d", defaultDim, e.Dim())
	}
	if e.ModelID() != "test-embed-model" {
		t.Fatalf("unexpected model id %q", e.ModelID())
	}
}
