package drilldown

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

func TestRegisterResolve_RoundTrip(t *testing.T) {
	r := New(0)
	mid := uuid.New()
	id := r.Register(mid, models.DrilldownMemory)

	entry, ok := r.Resolve(id)
	if !ok {
		t.Fatal("expected resolve to succeed")
	}
	if entry.MemoryID != mid {
		t.Errorf("MemoryID = %v, want %v", entry.MemoryID, mid)
	}
}

func TestResolve_UnknownIDFails(t *testing.T) {
	r := New(0)
	if _, ok := r.Resolve(999); ok {
		t.Error("expected resolve of unregistered id to fail")
	}
}

func TestRegister_IDsAreMonotonicallyIncreasing(t *testing.T) {
	r := New(0)
	a := r.Register(uuid.New(), models.DrilldownMemory)
	b := r.Register(uuid.New(), models.DrilldownMemory)
	if b <= a {
		t.Errorf("expected monotonically increasing ids, got %d then %d", a, b)
	}
}

func TestRegister_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	r := New(2)
	first := r.Register(uuid.New(), models.DrilldownMemory)
	second := r.Register(uuid.New(), models.DrilldownMemory)

	// Touch "first" so "second" becomes the least-recently-used entry.
	if _, ok := r.Resolve(first); !ok {
		t.Fatal("expected first to still resolve")
	}

	third := r.Register(uuid.New(), models.DrilldownMemory)

	if _, ok := r.Resolve(second); ok {
		t.Error("expected second (LRU) to have been evicted")
	}
	if _, ok := r.Resolve(first); !ok {
		t.Error("expected first to remain registered")
	}
	if _, ok := r.Resolve(third); !ok {
		t.Error("expected third to remain registered")
	}

	stats := r.Stats()
	if stats.Size != 2 {
		t.Errorf("Stats().Size = %d, want 2", stats.Size)
	}
}
