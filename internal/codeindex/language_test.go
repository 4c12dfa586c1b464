package codeindex

import "testing"

func TestDetectLanguage_KnownExtensions(t *testing.T) {
	cases := map[string]string{
		"main.go":       "go",
		"script.py":     "python",
		"app.js":        "javascript",
		"component.jsx": "javascript",
		"mod.mjs":       "javascript",
		"app.ts":        "typescript",
		"Component.tsx": "typescript",
	}
	for path, want := range cases {
		if got := detectLanguage(path); got != want {
			t.Errorf("detectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDetectLanguage_UnknownExtensionReturnsEmpty(t *testing.T) {
	if got := detectLanguage("README.md"); got != "" {
		t.Errorf("detectLanguage(README.md) = %q, want empty", got)
	}
}

func TestDetectLanguage_IsCaseInsensitive(t *testing.T) {
	if got := detectLanguage("Main.GO"); got != "go" {
		t.Errorf("detectLanguage(Main.GO) = %q, want go", got)
	}
}
