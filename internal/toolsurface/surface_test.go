package toolsurface

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

func TestUUIDStrings(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	got := uuidStrings([]uuid.UUID{a, b})
	if len(got) != 2 || got[0] != a.String() || got[1] != b.String() {
		t.Errorf("uuidStrings = %v, want [%s %s]", got, a, b)
	}
}

func TestUUIDStrings_Empty(t *testing.T) {
	got := uuidStrings(nil)
	if len(got) != 0 {
		t.Errorf("uuidStrings(nil) = %v, want empty", got)
	}
}

func TestCapRelated_BoundsToMax(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	got := capRelated(ids, maxDrillDownRelated)
	if len(got) != maxDrillDownRelated {
		t.Fatalf("capRelated len = %d, want %d", len(got), maxDrillDownRelated)
	}
	for i := range got {
		if got[i] != ids[i] {
			t.Errorf("capRelated[%d] = %v, want %v", i, got[i], ids[i])
		}
	}
}

func TestCapRelated_UnderMaxIsUnchanged(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	got := capRelated(ids, maxDrillDownRelated)
	if len(got) != 2 {
		t.Fatalf("capRelated len = %d, want 2", len(got))
	}
}

func TestParseRelatedIDs_DropsMalformedEntries(t *testing.T) {
	a := uuid.New()
	got := parseRelatedIDs([]string{a.String(), "not-a-uuid", ""})
	if len(got) != 1 || got[0] != a {
		t.Errorf("parseRelatedIDs = %v, want [%v]", got, a)
	}
}

func TestParseRelatedIDs_Empty(t *testing.T) {
	if got := parseRelatedIDs(nil); got != nil {
		t.Errorf("parseRelatedIDs(nil) = %v, want nil", got)
	}
}

func TestDrillDown_RejectsIDNotFromSessionsLastSearch(t *testing.T) {
	s := &Surface{sessions: newSessionTracker()}
	_, err := s.drillDown(context.Background(), "sess-1", DrillDownParams{ID: 42})
	if err == nil {
		t.Fatal("expected error for an id the session never searched up")
	}
	if !models.IsKind(err, models.KindInvalidRequest) {
		t.Errorf("expected KindInvalidRequest, got %v", err)
	}
}
