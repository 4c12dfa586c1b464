package memstore

import (
	"context"
	"testing"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

func TestContentHash_DeterministicAndTruncated(t *testing.T) {
	h1 := ContentHash("user", "  hello world  ", "/srv/widget")
	h2 := ContentHash("user", "hello world", "/srv/widget")
	if h1 != h2 {
		t.Errorf("content hash should trim content before hashing: %q vs %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("content hash should be 16 hex chars, got %d: %q", len(h1), h1)
	}
}

func TestContentHash_DiffersByProject(t *testing.T) {
	h1 := ContentHash("user", "hello", "/srv/a")
	h2 := ContentHash("user", "hello", "/srv/b")
	if h1 == h2 {
		t.Error("content hash should differ across projects")
	}
}

func TestContentHash_DiffersByRole(t *testing.T) {
	h1 := ContentHash("user", "hello", "/srv/a")
	h2 := ContentHash("assistant", "hello", "/srv/a")
	if h1 == h2 {
		t.Error("content hash should differ across roles")
	}
}

func TestNormalizeTags_DedupesPreservingOrder(t *testing.T) {
	got := normalizeTags([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInsert_DimensionMismatchReturnsSchemaMismatch(t *testing.T) {
	s := &Store{dimension: 768}
	_, _, err := s.Insert(context.Background(), models.MemoryInput{
		Role:      "user",
		Content:   "hi",
		Embedding: make([]float32, 384),
	})
	if err == nil {
		t.Fatal("expected an error for a mismatched embedding dimension")
	}
	if !models.IsKind(err, models.KindSchemaMismatch) {
		t.Errorf("expected KindSchemaMismatch, got %v", err)
	}
}

func TestCloneMetadata_DoesNotAliasSource(t *testing.T) {
	src := map[string]any{"a": 1}
	clone := cloneMetadata(src)
	clone["b"] = 2
	if _, ok := src["b"]; ok {
		t.Error("cloneMetadata should not mutate the source map")
	}
}
