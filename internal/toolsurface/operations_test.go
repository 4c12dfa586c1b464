package toolsurface

import "testing"

func TestOperation_IsValid(t *testing.T) {
	valid := []Operation{
		OpStoreMemory, OpSearchMemory, OpRecallMemory, OpUpdateMemory, OpDeleteMemory,
		OpConsolidateMemory, OpLinkMemories, OpGetStats, OpDrillDown, OpGetMemory,
	}
	for _, op := range valid {
		if !op.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", op)
		}
	}
	if Operation("rename_memory").IsValid() {
		t.Error("IsValid(\"rename_memory\") = true, want false")
	}
}
