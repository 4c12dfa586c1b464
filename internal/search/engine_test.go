package search

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

func TestBucketFor(t *testing.T) {
	cases := []struct {
		corpus int64
		want   models.ThresholdBucket
	}{
		{0, models.BucketSparse},
		{9, models.BucketSparse},
		{10, models.BucketLow},
		{99, models.BucketLow},
		{100, models.BucketNormal},
		{999, models.BucketNormal},
		{1000, models.BucketDense},
		{50000, models.BucketDense},
	}
	for _, c := range cases {
		if got := bucketFor(c.corpus); got != c.want {
			t.Errorf("bucketFor(%d) = %q, want %q", c.corpus, got, c.want)
		}
	}
}

func TestThresholdFor(t *testing.T) {
	cases := map[models.ThresholdBucket]float64{
		models.BucketSparse: 0.10,
		models.BucketLow:    0.20,
		models.BucketNormal: 0.30,
		models.BucketDense:  0.40,
	}
	for bucket, want := range cases {
		if got := thresholdFor(bucket); got != want {
			t.Errorf("thresholdFor(%q) = %v, want %v", bucket, got, want)
		}
	}
}

func TestSummarize_TruncatesLongContent(t *testing.T) {
	long := make([]byte, maxSummaryLength+50)
	for i := range long {
		long[i] = 'a'
	}
	got := summarize(string(long))
	if len(got) <= maxSummaryLength {
		t.Fatalf("expected truncated content to carry the ellipsis suffix, got len %d", len(got))
	}
}

func TestSummarize_LeavesShortContentUnchanged(t *testing.T) {
	short := "hello world"
	if got := summarize(short); got != short {
		t.Errorf("summarize(%q) = %q, want unchanged", short, got)
	}
}

func TestMergeByID_DedupesAndPreservesBaseOrder(t *testing.T) {
	shared := uuid.New()
	base := []models.SearchResult{{Memory: &models.Memory{ID: shared}}}
	extraUnique := uuid.New()
	extra := []models.SearchResult{
		{Memory: &models.Memory{ID: shared}},
		{Memory: &models.Memory{ID: extraUnique}},
	}

	merged := mergeByID(base, extra)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged results, got %d", len(merged))
	}
	if merged[0].Memory.ID != shared {
		t.Errorf("expected base entry to remain first")
	}
	if merged[1].Memory.ID != extraUnique {
		t.Errorf("expected unique extra entry appended")
	}
}

func TestBoolLabel(t *testing.T) {
	if boolLabel(true) != "true" {
		t.Error("expected true label")
	}
	if boolLabel(false) != "false" {
		t.Error("expected false label")
	}
}

func TestDecodeMetadata_EmptyAndMalformed(t *testing.T) {
	if got := decodeMetadata(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := decodeMetadata("not json"); got != nil {
		t.Errorf("expected nil for malformed input, got %v", got)
	}
	got := decodeMetadata(`{"a":1}`)
	if got["a"].(float64) != 1 {
		t.Errorf("expected decoded metadata, got %v", got)
	}
}

func TestParseUUIDs_SkipsInvalid(t *testing.T) {
	valid := uuid.New()
	got := parseUUIDs([]string{valid.String(), "not-a-uuid"})
	if len(got) != 1 || got[0] != valid {
		t.Errorf("expected only the valid uuid to survive, got %v", got)
	}
}

func TestBuildFilterClause_EmptyWhenNoFilters(t *testing.T) {
	if got := buildFilterClause(models.SearchOptions{}, 3); got != "" {
		t.Errorf("expected empty clause, got %q", got)
	}
}

func TestBuildFilterClause_IncludesRequestedFilters(t *testing.T) {
	clause := buildFilterClause(models.SearchOptions{
		MemoryTypes: []models.MemoryType{models.MemorySemantic},
		Tags:        []string{"a"},
		TagMatchAll: true,
	}, 3)
	if !contains(clause, "memory_type = ANY") {
		t.Errorf("expected memory_type filter, got %q", clause)
	}
	if !contains(clause, "tags @>") {
		t.Errorf("expected AND-semantics tag filter, got %q", clause)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
