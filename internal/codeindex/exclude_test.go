package codeindex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExclusionRuleset_AppliesDefaultsWithNoIgnoreFiles(t *testing.T) {
	dir := t.TempDir()
	rules, err := LoadExclusionRuleset(dir)
	if err != nil {
		t.Fatalf("LoadExclusionRuleset: %v", err)
	}
	if !rules.Excludes("node_modules/") {
		t.Error("expected node_modules/ to be excluded by default")
	}
	if !rules.Excludes(".git/") {
		t.Error("expected .git/ to be excluded by default")
	}
	if rules.Excludes("internal/search/engine.go") {
		t.Error("expected an ordinary source file to not be excluded")
	}
}

func TestLoadExclusionRuleset_HonorsProjectGitignore(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("tmp/\n*.generated.ts\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadExclusionRuleset(dir)
	if err != nil {
		t.Fatalf("LoadExclusionRuleset: %v", err)
	}
	if !rules.Excludes("tmp/") {
		t.Error("expected tmp/ to be excluded per .gitignore")
	}
	if !rules.Excludes("widget.generated.ts") {
		t.Error("expected *.generated.ts to be excluded per .gitignore")
	}
}

func TestLoadExclusionRuleset_HonorsSpecmemIgnore(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".specmemignore"), []byte("fixtures/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadExclusionRuleset(dir)
	if err != nil {
		t.Fatalf("LoadExclusionRuleset: %v", err)
	}
	if !rules.Excludes("fixtures/") {
		t.Error("expected fixtures/ to be excluded per .specmemignore")
	}
}
