package toolsurface

import (
	"encoding/json"
	"testing"
)

func TestInitSchemas_CompilesEveryOperation(t *testing.T) {
	if err := initSchemas(); err != nil {
		t.Fatalf("initSchemas() error = %v", err)
	}
	for op := range operationSchemas {
		if _, ok := compiledSchema[op]; !ok {
			t.Errorf("operation %s has no compiled schema", op)
		}
	}
}

func TestValidateSchema_StoreMemory(t *testing.T) {
	valid := json.RawMessage(`{
		"role": "user",
		"content": "hello",
		"memory_type": "episodic",
		"importance": "high",
		"project_path": "/srv/widget"
	}`)
	if err := validateSchema(OpStoreMemory, valid); err != nil {
		t.Errorf("validateSchema(valid) error = %v", err)
	}

	missingRequired := json.RawMessage(`{"role": "user"}`)
	if err := validateSchema(OpStoreMemory, missingRequired); err == nil {
		t.Error("validateSchema(missing required fields) = nil, want error")
	}

	badEnum := json.RawMessage(`{
		"role": "narrator",
		"content": "hello",
		"memory_type": "episodic",
		"importance": "high",
		"project_path": "/srv/widget"
	}`)
	if err := validateSchema(OpStoreMemory, badEnum); err == nil {
		t.Error("validateSchema(invalid role enum) = nil, want error")
	}
}

func TestValidateSchema_DrillDownRequiresIntegerID(t *testing.T) {
	valid := json.RawMessage(`{"id": 7}`)
	if err := validateSchema(OpDrillDown, valid); err != nil {
		t.Errorf("validateSchema(valid) error = %v", err)
	}

	wrongType := json.RawMessage(`{"id": "seven"}`)
	if err := validateSchema(OpDrillDown, wrongType); err == nil {
		t.Error("validateSchema(string id) = nil, want error")
	}
}

func TestValidateSchema_UnknownOperation(t *testing.T) {
	if err := validateSchema(Operation("nonexistent"), json.RawMessage(`{}`)); err == nil {
		t.Error("validateSchema(unknown operation) = nil, want error")
	}
}
