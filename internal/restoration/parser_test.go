package restoration

import (
	"testing"
	"time"
)

func TestIsSummary_PrimaryMarker(t *testing.T) {
	content := "This session is being continued from a previous conversation that ran out of context."
	if !IsSummary(content) {
		t.Error("expected primary marker to be detected")
	}
}

func TestIsSummary_FallbackMarkerCaseInsensitive(t *testing.T) {
	if !IsSummary("Here is a CONVERSATION SUMMARY for you.") {
		t.Error("expected fallback marker to match case-insensitively")
	}
}

func TestIsSummary_NoMarkerFails(t *testing.T) {
	if IsSummary("just a regular note about widgets") {
		t.Error("expected no marker to be detected")
	}
}

func TestExtractTurns_PrimaryPattern(t *testing.T) {
	content := "User: what is the status?\nAssistant: all green.\n"
	turns := ExtractTurns(content)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d: %+v", len(turns), turns)
	}
	if turns[0].Role != "user" || turns[0].Content != "what is the status?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Content != "all green." {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestExtractTurns_NoMatchReturnsNil(t *testing.T) {
	if got := ExtractTurns("nothing turn-shaped here"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestFormatTurn(t *testing.T) {
	if got := formatTurn(Turn{Role: "user", Content: "hi"}); got != "[USER] hi" {
		t.Errorf("formatTurn(user) = %q", got)
	}
	if got := formatTurn(Turn{Role: "assistant", Content: "hi"}); got != "[ASSISTANT] hi" {
		t.Errorf("formatTurn(assistant) = %q", got)
	}
}

func TestResolveProjectPath_PrefersSourceMetadata(t *testing.T) {
	got := resolveProjectPath("/srv/explicit", "Working directory: /srv/other")
	if got != "/srv/explicit" {
		t.Errorf("resolveProjectPath = %q, want /srv/explicit", got)
	}
}

func TestResolveProjectPath_FallsBackToUnknownForNonexistentMarkerPath(t *testing.T) {
	got := resolveProjectPath("", "Working directory: /this/path/does/not/exist/hopefully")
	if got != "unknown" {
		t.Errorf("resolveProjectPath = %q, want unknown", got)
	}
}

func TestWithinProject_SamePath(t *testing.T) {
	if !withinProject("/srv/widget", "/srv/widget") {
		t.Error("expected identical paths to be within project")
	}
}

func TestWithinProject_SubdirectoryAndParent(t *testing.T) {
	if !withinProject("/srv/widget/sub", "/srv/widget") {
		t.Error("expected parent to satisfy withinProject")
	}
	if !withinProject("/srv/widget", "/srv/widget/sub") {
		t.Error("expected subdirectory to satisfy withinProject")
	}
}

func TestWithinProject_UnrelatedPathFails(t *testing.T) {
	if withinProject("/srv/widget", "/srv/other") {
		t.Error("expected unrelated paths to fail withinProject")
	}
}

func TestTurnTimestamp_OffsetsBySequenceNumber(t *testing.T) {
	source := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := turnTimestamp(source, 0); !got.Equal(source) {
		t.Errorf("turnTimestamp(seq=0) = %v, want %v", got, source)
	}
	want := source.Add(6 * time.Second)
	if got := turnTimestamp(source, 3); !got.Equal(want) {
		t.Errorf("turnTimestamp(seq=3) = %v, want %v", got, want)
	}
}

func TestTurnTimestamp_DeterministicAcrossCalls(t *testing.T) {
	source := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a := turnTimestamp(source, 5)
	b := turnTimestamp(source, 5)
	if !a.Equal(b) {
		t.Errorf("turnTimestamp is not deterministic: %v != %v", a, b)
	}
}

func TestShortID_TruncatesLongIDs(t *testing.T) {
	if got := shortID("abcdefgh-1234-5678"); got != "abcdefgh" {
		t.Errorf("shortID = %q, want abcdefgh", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q, want short", got)
	}
}
