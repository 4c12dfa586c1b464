package codeindex

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// defaultExcludes are skipped regardless of .gitignore/.specmemignore
// content; they're never useful as indexable source.
var defaultExcludes = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	".specmem/",
	"*.min.js",
	"*.lock",
	"*.generated.go",
}

// ExclusionRuleset layers the built-in defaults over a repo's .gitignore
// and .specmemignore files. Later layers take precedence, matching git's
// own override semantics.
type ExclusionRuleset struct {
	matcher *ignore.GitIgnore
}

// LoadExclusionRuleset builds a ruleset for rootDir. Missing ignore files
// are treated as empty, not an error.
func LoadExclusionRuleset(rootDir string) (*ExclusionRuleset, error) {
	lines := append([]string{}, defaultExcludes...)

	for _, name := range []string{".gitignore", ".specmemignore"} {
		content, err := os.ReadFile(filepath.Join(rootDir, name))
		if err != nil {
			continue
		}
		lines = append(lines, strings.Split(string(content), "\n")...)
	}

	matcher := ignore.CompileIgnoreLines(lines...)
	return &ExclusionRuleset{matcher: matcher}, nil
}

// Excludes reports whether relPath (relative to the scanned root) should be
// skipped.
func (r *ExclusionRuleset) Excludes(relPath string) bool {
	return r.matcher.MatchesPath(relPath)
}
