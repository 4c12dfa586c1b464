// Package project resolves the current project path into a stable,
// filesystem-independent schema identifier used to scope every storage and
// search operation to a single project.
package project

import (
	"regexp"
	"strings"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// SchemaPrefix is prepended to every derived schema id so project schemas
// never collide with the public schema or another application's tables.
const SchemaPrefix = "specmem_"

// defaultSchemaSentinel is substituted when the sanitized basename is empty
// (e.g. the project path is "/" or "///").
const defaultSchemaSentinel = "default"

var nonSchemaChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Context resolves the current project path and its derived schema name.
// It is deliberately a small injectable value, not a package-level
// singleton: callers construct one Context per project and pass it
// explicitly to every component that needs project scoping.
type Context struct {
	path   string
	schema string
}

// New derives a Context from an absolute project path. The path must be
// non-empty; callers are expected to have already resolved "." to an
// absolute path before calling New.
func New(path string) (*Context, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, models.NewError(models.KindInvalidRequest, "project path must not be empty", nil)
	}
	return &Context{path: path, schema: SchemaPrefix + deriveSchema(path)}, nil
}

// ProjectPath returns the normalized absolute project path this Context
// was built from.
func (c *Context) ProjectPath() string { return c.path }

// ProjectSchema returns the deterministic schema identifier for this
// project. Given the same path, the result never changes across runs or
// hosts.
func (c *Context) ProjectSchema() string { return c.schema }

// deriveSchema implements the pure basename -> schema-id transform:
// lowercase the final path segment, replace runs of non [a-z0-9_] with a
// single underscore, trim leading/trailing underscores, and substitute a
// sentinel if the result is empty.
func deriveSchema(path string) string {
	clean := strings.TrimRight(path, "/\\")
	base := clean
	if idx := strings.LastIndexAny(clean, "/\\"); idx >= 0 {
		base = clean[idx+1:]
	}

	base = strings.ToLower(base)
	base = nonSchemaChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	if base == "" {
		return defaultSchemaSentinel
	}
	return base
}
