package vectordb

import (
	"path/filepath"
	"testing"

	"mailengine/internal/apperr"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.sqlite")
	db, err := OpenAt(path)
	if err != nil {
		t.Fatalf("OpenAt() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVectorRoundtrip(t *testing.T) {
	db := openTest(t)

	v := []float32{1, 0, 0}
	if err := db.Upsert("m1", v, "modelA"); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	got, err := db.Get("m1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("expected roundtrip vector %v, got %v", v, got)
		}
	}

	matches, err := db.TopK(v, "modelA", 1)
	if err != nil {
		t.Fatalf("TopK error: %v", err)
	}
	if len(matches) != 1 || matches[0].MessageID != "m1" {
		t.Fatalf("expected m1 top match, got %+v", matches)
	}
	if matches[0].Similarity < 0.9999 {
		t.Fatalf("expected similarity ~1.0, got %v", matches[0].Similarity)
	}
}

func TestDeleteEmbeddingRemovesVector(t *testing.T) {
	db := openTest(t)

	if err := db.Upsert("m1", []float32{1, 0, 0}, "modelA"); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := db.DeleteEmbedding("m1"); err != nil {
		t.Fatalf("DeleteEmbedding error: %v", err)
	}

	got, err := db.Get("m1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil vector after delete, got %v", got)
	}
}

func TestEmbeddingScopeIgnoresOtherModels(t *testing.T) {
	db := openTest(t)

	db.Upsert("m1", []float32{1, 0, 0}, "modelA")
	db.Upsert("m2", []float32{1, 0, 0}, "modelB")

	matches, err := db.TopK([]float32{1, 0, 0}, "modelA", 10)
	if err != nil {
		t.Fatalf("TopK error: %v", err)
	}
	for _, m := range matches {
		if m.MessageID == "m2" {
			t.Fatalf("expected modelB vector excluded from modelA query, got %+v", matches)
		}
	}
}

func TestNeighborsExcludesSelf(t *testing.T) {
	db := openTest(t)

	db.Upsert("m1", []float32{1, 0, 0}, "modelA")
	db.Upsert("m2", []float32{0.9, 0.1, 0}, "modelA")

	matches, err := db.Neighbors("m1", "modelA", 5)
	if err != nil {
		t.Fatalf("Neighbors error: %v", err)
	}
	for _, m := range matches {
		if m.MessageID == "m1" {
			t.Fatalf("expected self excluded from neighbors, got %+v", matches)
		}
	}
	if len(matches) != 1 || matches[0].MessageID != "m2" {
		t.Fatalf("expected m2 as sole neighbor, got %+v", matches)
	}
}

func TestSingletonEmbeddingGuard(t *testing.T) {
	db := openTest(t)

	if err := db.TryStartEmbedding(5, "modelA"); err != nil {
		t.Fatalf("first TryStartEmbedding error: %v", err)
	}
	if err := db.TryStartEmbedding(5, "modelA"); err != apperr.ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := db.EndEmbedding(""); err != nil {
		t.Fatalf("EndEmbedding error: %v", err)
	}
	if err := db.TryStartEmbedding(1, "modelA"); err != nil {
		t.Fatalf("expected success after completion, got %v", err)
	}
}
