package hotpath

import (
	"testing"

	"github.com/google/uuid"
)

func TestPathHash_IsOrderSensitive(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	h1 := pathHash([]uuid.UUID{a, b})
	h2 := pathHash([]uuid.UUID{b, a})
	if h1 == h2 {
		t.Error("expected different orderings to hash differently")
	}

	h3 := pathHash([]uuid.UUID{a, b})
	if h1 != h3 {
		t.Error("expected the same sequence to hash identically")
	}
}

func TestPathHash_DeterminesSequenceUniquely(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	h1 := pathHash([]uuid.UUID{a, b, c})
	h2 := pathHash([]uuid.UUID{a, b})
	if h1 == h2 {
		t.Error("expected different-length sequences to hash differently")
	}
}

func TestUUIDStrings_RoundTripsThroughParseUUIDs(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	strs := uuidStrings(ids)
	if len(strs) != len(ids) {
		t.Fatalf("expected %d strings, got %d", len(ids), len(strs))
	}

	parsed := parseUUIDs(strs)
	if len(parsed) != len(ids) {
		t.Fatalf("expected %d parsed ids, got %d", len(ids), len(parsed))
	}
	for i := range ids {
		if parsed[i] != ids[i] {
			t.Errorf("parsed[%d] = %s, want %s", i, parsed[i], ids[i])
		}
	}
}

func TestParseUUIDs_SkipsBlankAndInvalid(t *testing.T) {
	valid := uuid.New()
	got := parseUUIDs([]string{valid.String(), "", "not-a-uuid"})
	if len(got) != 1 || got[0] != valid {
		t.Errorf("parseUUIDs = %v, want [%s]", got, valid)
	}
}

func TestApplyDefaults_FillsInvalidDecayAndFloor(t *testing.T) {
	o := Options{}
	o.applyDefaults()
	if o.DecayFactor != defaultDecayFactor {
		t.Errorf("DecayFactor = %v, want %v", o.DecayFactor, defaultDecayFactor)
	}
	if o.PruneFloor != defaultPruneFloor {
		t.Errorf("PruneFloor = %v, want %v", o.PruneFloor, defaultPruneFloor)
	}
}

func TestApplyDefaults_PreservesValidValues(t *testing.T) {
	o := Options{DecayFactor: 0.9, PruneFloor: 0.2}
	o.applyDefaults()
	if o.DecayFactor != 0.9 || o.PruneFloor != 0.2 {
		t.Errorf("applyDefaults overwrote explicit values: %+v", o)
	}
}

func TestApplyDefaults_RejectsOutOfRangeDecay(t *testing.T) {
	o := Options{DecayFactor: 1.5, PruneFloor: 0.1}
	o.applyDefaults()
	if o.DecayFactor != defaultDecayFactor {
		t.Errorf("DecayFactor = %v, want default %v for out-of-range input", o.DecayFactor, defaultDecayFactor)
	}
}
