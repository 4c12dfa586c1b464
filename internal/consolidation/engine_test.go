package consolidation

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

func memoryWith(tags []string, content string, importance models.Importance, createdAt time.Time) *models.Memory {
	return &models.Memory{ID: uuid.New(), Tags: tags, Content: content, Importance: importance, CreatedAt: createdAt}
}

func TestMergeContent_DedupesAndJoins(t *testing.T) {
	cluster := []*models.Memory{
		memoryWith(nil, "hello", models.ImportanceLow, time.Now()),
		memoryWith(nil, "hello", models.ImportanceLow, time.Now()),
		memoryWith(nil, "world", models.ImportanceLow, time.Now()),
	}
	got := mergeContent(cluster)
	if got != "hello\n---\nworld" {
		t.Errorf("mergeContent = %q", got)
	}
}

func TestMergeTags_UnionsPreservingFirstSeenOrder(t *testing.T) {
	cluster := []*models.Memory{
		memoryWith([]string{"a", "b"}, "x", models.ImportanceLow, time.Now()),
		memoryWith([]string{"b", "c"}, "y", models.ImportanceLow, time.Now()),
	}
	got := mergeTags(cluster)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestMergeImportance_PicksMax(t *testing.T) {
	cluster := []*models.Memory{
		memoryWith(nil, "x", models.ImportanceLow, time.Now()),
		memoryWith(nil, "y", models.ImportanceCritical, time.Now()),
		memoryWith(nil, "z", models.ImportanceMedium, time.Now()),
	}
	if got := mergeImportance(cluster); got != models.ImportanceCritical {
		t.Errorf("mergeImportance = %q, want critical", got)
	}
}

func TestAverageEmbedding_NormalizesToUnitLength(t *testing.T) {
	a := memoryWith(nil, "a", models.ImportanceLow, time.Now())
	a.Embedding = []float32{1, 0, 0}
	b := memoryWith(nil, "b", models.ImportanceLow, time.Now())
	b.Embedding = []float32{0, 1, 0}

	got := averageEmbedding([]*models.Memory{a, b})
	var norm float64
	for _, v := range got {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-6 {
		t.Errorf("expected unit-norm embedding, got norm %v from %v", math.Sqrt(norm), got)
	}
}

func TestAverageEmbedding_SkipsMembersWithoutEmbedding(t *testing.T) {
	a := memoryWith(nil, "a", models.ImportanceLow, time.Now())
	a.Embedding = []float32{1, 0}
	b := memoryWith(nil, "b", models.ImportanceLow, time.Now()) // no embedding

	got := averageEmbedding([]*models.Memory{a, b})
	if len(got) != 2 {
		t.Fatalf("expected dim-2 result ignoring the embedding-less member, got %v", got)
	}
}

func TestAverageEmbedding_NilWhenNoneHaveEmbeddings(t *testing.T) {
	a := memoryWith(nil, "a", models.ImportanceLow, time.Now())
	b := memoryWith(nil, "b", models.ImportanceLow, time.Now())
	if got := averageEmbedding([]*models.Memory{a, b}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestJaccard(t *testing.T) {
	a := toSet([]string{"x", "y", "z"})
	b := toSet([]string{"y", "z", "w"})
	got := jaccard(a, b)
	want := 2.0 / 4.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("jaccard = %v, want %v", got, want)
	}
}

func TestTagClusters_GroupsOverlappingTagSets(t *testing.T) {
	m1 := memoryWith([]string{"go", "backend"}, "1", models.ImportanceLow, time.Now())
	m2 := memoryWith([]string{"go", "backend", "extra"}, "2", models.ImportanceLow, time.Now())
	m3 := memoryWith([]string{"unrelated"}, "3", models.ImportanceLow, time.Now())

	clusters := tagClusters([]*models.Memory{m1, m2, m3}, 0.5)
	if len(clusters) != 1 {
		t.Fatalf("expected exactly one cluster, got %d", len(clusters))
	}
	if len(clusters[0].Memories) != 2 {
		t.Errorf("expected cluster of size 2, got %d", len(clusters[0].Memories))
	}
}

func TestTemporalClusters_GroupsWithinSlidingWindow(t *testing.T) {
	base := time.Now()
	m1 := memoryWith(nil, "1", models.ImportanceLow, base)
	m2 := memoryWith(nil, "2", models.ImportanceLow, base.Add(10*time.Minute))
	m3 := memoryWith(nil, "3", models.ImportanceLow, base.Add(5*time.Hour))

	clusters := temporalClusters([]*models.Memory{m1, m2, m3}, time.Hour)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if len(clusters[0].Memories) != 2 {
		t.Errorf("expected first cluster to hold the two close memories, got %d", len(clusters[0].Memories))
	}
	if len(clusters[1].Memories) != 1 {
		t.Errorf("expected second cluster to hold the distant memory alone, got %d", len(clusters[1].Memories))
	}
}

func TestUnionFind_MergesTransitively(t *testing.T) {
	uf := newUnionFind(4)
	uf.union(0, 1)
	uf.union(1, 2)
	if uf.find(0) != uf.find(2) {
		t.Error("expected 0 and 2 to share a root after transitive union")
	}
	if uf.find(3) == uf.find(0) {
		t.Error("expected 3 to remain its own component")
	}
}
