package codeindex

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps a lowercased file extension (including the dot)
// to the language identifier used across code_definitions and the
// tree-sitter parser selection.
var languageByExtension = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
}

// detectLanguage returns the language for path, or "" if the extension is
// not one this indexer extracts definitions from.
func detectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExtension[ext]
}
