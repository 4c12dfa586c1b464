package toolsurface

import "testing"

func TestSessionTracker_AllowsDrillDownOnlyAfterMatchingSearch(t *testing.T) {
	tr := newSessionTracker()
	tr.recordSearch("sess-1", []int64{10, 20, 30})

	if !tr.allowDrillDown("sess-1", 20) {
		t.Error("allowDrillDown(sess-1, 20) = false, want true")
	}
	if tr.allowDrillDown("sess-1", 99) {
		t.Error("allowDrillDown(sess-1, 99) = true, want false")
	}
}

func TestSessionTracker_RejectsDrillDownBeforeAnySearch(t *testing.T) {
	tr := newSessionTracker()
	if tr.allowDrillDown("fresh-session", 1) {
		t.Error("allowDrillDown on session with no prior search = true, want false")
	}
}

func TestSessionTracker_NewSearchReplacesPriorScope(t *testing.T) {
	tr := newSessionTracker()
	tr.recordSearch("sess-1", []int64{1, 2})
	tr.recordSearch("sess-1", []int64{3, 4})

	if tr.allowDrillDown("sess-1", 1) {
		t.Error("allowDrillDown(sess-1, 1) = true after rescoping, want false")
	}
	if !tr.allowDrillDown("sess-1", 3) {
		t.Error("allowDrillDown(sess-1, 3) = false, want true")
	}
}

func TestSessionTracker_ResetClearsScope(t *testing.T) {
	tr := newSessionTracker()
	tr.recordSearch("sess-1", []int64{1})
	tr.reset("sess-1")
	if tr.allowDrillDown("sess-1", 1) {
		t.Error("allowDrillDown after reset = true, want false")
	}
}

func TestSessionTracker_SessionsAreIndependent(t *testing.T) {
	tr := newSessionTracker()
	tr.recordSearch("sess-a", []int64{1})
	tr.recordSearch("sess-b", []int64{2})

	if tr.allowDrillDown("sess-a", 2) {
		t.Error("session a allowed session b's drilldown id")
	}
	if !tr.allowDrillDown("sess-b", 2) {
		t.Error("session b rejected its own drilldown id")
	}
}
