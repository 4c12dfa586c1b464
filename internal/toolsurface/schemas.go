package toolsurface

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var operationSchemas = map[Operation]string{
	OpStoreMemory: `{
		"type": "object",
		"required": ["role", "content", "memory_type", "importance", "project_path"],
		"properties": {
			"role": {"type": "string", "enum": ["user", "assistant", "system"]},
			"content": {"type": "string", "minLength": 1},
			"memory_type": {"type": "string", "enum": ["episodic", "semantic", "procedural", "working", "consolidated"]},
			"importance": {"type": "string", "enum": ["critical", "high", "medium", "low", "trivial"]},
			"tags": {"type": "array", "items": {"type": "string"}},
			"project_path": {"type": "string", "minLength": 1}
		}
	}`,
	OpSearchMemory: `{
		"type": "object",
		"required": ["query", "project_path"],
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"project_path": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200},
			"tags": {"type": "array", "items": {"type": "string"}},
			"camera_roll": {"type": "boolean"},
			"summarize": {"type": "boolean"}
		}
	}`,
	OpRecallMemory: `{
		"type": "object",
		"required": ["project_path"],
		"properties": {
			"id": {"type": "string"},
			"tag": {"type": "string"},
			"project_path": {"type": "string", "minLength": 1}
		}
	}`,
	OpUpdateMemory: `{
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": "string"},
			"content": {"type": "string"},
			"importance": {"type": "string", "enum": ["critical", "high", "medium", "low", "trivial"]},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	OpDeleteMemory: `{
		"type": "object",
		"properties": {
			"ids": {"type": "array", "items": {"type": "string"}},
			"older_than_days": {"type": "integer", "minimum": 1},
			"tags": {"type": "array", "items": {"type": "string"}},
			"match_all_tags": {"type": "boolean"},
			"expired_only": {"type": "boolean"}
		}
	}`,
	OpConsolidateMemory: `{
		"type": "object",
		"required": ["project_path", "strategy"],
		"properties": {
			"project_path": {"type": "string", "minLength": 1},
			"strategy": {"type": "string", "enum": ["similarity", "temporal", "tag_based", "importance"]},
			"dry_run": {"type": "boolean"}
		}
	}`,
	OpLinkMemories: `{
		"type": "object",
		"required": ["id", "related_ids"],
		"properties": {
			"id": {"type": "string"},
			"related_ids": {"type": "array", "minItems": 1, "items": {"type": "string"}}
		}
	}`,
	OpGetStats: `{
		"type": "object",
		"required": ["project_path"],
		"properties": {
			"project_path": {"type": "string", "minLength": 1}
		}
	}`,
	OpDrillDown: `{
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": "integer"}
		}
	}`,
	OpGetMemory: `{
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": "string"}
		}
	}`,
}

var (
	schemaOnce     sync.Once
	schemaInitErr  error
	compiledSchema map[Operation]*jsonschema.Schema
)

func initSchemas() error {
	schemaOnce.Do(func() {
		compiledSchema = make(map[Operation]*jsonschema.Schema, len(operationSchemas))
		for op, raw := range operationSchemas {
			compiled, err := jsonschema.CompileString(string(op)+".schema.json", raw)
			if err != nil {
				schemaInitErr = fmt.Errorf("compile schema for %s: %w", op, err)
				return
			}
			compiledSchema[op] = compiled
		}
	})
	return schemaInitErr
}

// validateSchema checks raw against op's compiled JSON Schema.
func validateSchema(op Operation, raw json.RawMessage) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema, ok := compiledSchema[op]
	if !ok {
		return fmt.Errorf("no schema registered for operation %s", op)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("params invalid: %w", err)
	}
	return nil
}
