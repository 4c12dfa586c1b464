package codeindex

import "testing"

func TestHeuristicExtract_MatchesFunctionHeaders(t *testing.T) {
	content := []byte("module x\n\nfunction doThing(a) {\n\treturn a\n}\n")
	defs := heuristicExtract(content, "x.rs", "/srv/widget", "rust")
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d: %+v", len(defs), defs)
	}
	if defs[0].Name != "doThing" {
		t.Errorf("Name = %q, want doThing", defs[0].Name)
	}
	if defs[0].LineStart != 3 || defs[0].LineEnd != 3 {
		t.Errorf("LineStart/LineEnd = %d/%d, want 3/3", defs[0].LineStart, defs[0].LineEnd)
	}
	if defs[0].Language != "rust" {
		t.Errorf("Language = %q, want rust", defs[0].Language)
	}
}

func TestHeuristicExtract_MatchesClassAndDefHeaders(t *testing.T) {
	content := []byte("class Widget:\n    def spin(self):\n        pass\n")
	defs := heuristicExtract(content, "widget.unknown", "/srv/widget", "unknown")
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d: %+v", len(defs), defs)
	}
	if defs[0].Name != "Widget" || defs[1].Name != "spin" {
		t.Errorf("names = %q, %q", defs[0].Name, defs[1].Name)
	}
}

func TestHeuristicExtract_NoMatchReturnsNil(t *testing.T) {
	defs := heuristicExtract([]byte("just some prose\nno code here\n"), "notes.txt", "/srv/widget", "text")
	if defs != nil {
		t.Errorf("expected nil, got %+v", defs)
	}
}

func TestStripCommentMarkers(t *testing.T) {
	cases := map[string]string{
		"// hello":    "hello",
		"/* hello */": "hello",
		"/** hello":   "hello",
	}
	for in, want := range cases {
		if got := stripCommentMarkers(in); got != want {
			t.Errorf("stripCommentMarkers(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate_LeavesShortStringsUnchanged(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate = %q, want short", got)
	}
}

func TestTruncate_CutsLongStrings(t *testing.T) {
	long := make([]byte, 50)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long), 10)
	if len(got) != 10 {
		t.Errorf("len(truncate(...)) = %d, want 10", len(got))
	}
}
