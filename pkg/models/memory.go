// Package models defines the core data types shared across the memory engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies how a memory entered the store and how it should decay.
type MemoryType string

const (
	MemoryEpisodic     MemoryType = "episodic"
	MemorySemantic     MemoryType = "semantic"
	MemoryProcedural   MemoryType = "procedural"
	MemoryWorking      MemoryType = "working"
	MemoryConsolidated MemoryType = "consolidated"
)

// IsValid reports whether t is one of the known memory types.
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryEpisodic, MemorySemantic, MemoryProcedural, MemoryWorking, MemoryConsolidated:
		return true
	}
	return false
}

// Importance ranks how much weight a memory carries during consolidation and ranking.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
	ImportanceTrivial  Importance = "trivial"
)

// importanceRank orders Importance from highest to lowest weight.
var importanceRank = map[Importance]int{
	ImportanceCritical: 5,
	ImportanceHigh:     4,
	ImportanceMedium:   3,
	ImportanceLow:      2,
	ImportanceTrivial:  1,
}

// IsValid reports whether i is one of the known importance levels.
func (i Importance) IsValid() bool {
	_, ok := importanceRank[i]
	return ok
}

// Rank returns i's relative weight (higher is more important). Unranked
// values rank below every known Importance.
func (i Importance) Rank() int {
	return importanceRank[i]
}

// MaxImportance returns the higher-ranked of a and b. An unranked value loses
// to any ranked value.
func MaxImportance(a, b Importance) Importance {
	ra, oka := importanceRank[a]
	rb, okb := importanceRank[b]
	switch {
	case oka && !okb:
		return a
	case !oka && okb:
		return b
	case rb > ra:
		return b
	default:
		return a
	}
}

// Memory is the core unit of stored, searchable recall.
type Memory struct {
	ID               uuid.UUID      `json:"id"`
	Content          string         `json:"content"`
	MemoryType       MemoryType     `json:"memory_type"`
	Importance       Importance     `json:"importance"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata"`
	Embedding        []float32      `json:"-"`
	ProjectPath      string         `json:"project_path"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	AccessCount      int64          `json:"access_count"`
	LastAccessedAt   *time.Time     `json:"last_accessed_at,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	RelatedMemories  []uuid.UUID    `json:"related_memories,omitempty"`
	ConsolidatedFrom []uuid.UUID    `json:"consolidated_from,omitempty"`
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds tag if not already present, preserving set semantics.
func (m *Memory) AddTag(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}

// ContentHash returns the content_hash key stashed in Metadata, if present.
func (m *Memory) ContentHash() string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata["contentHash"].(string); ok {
		return v
	}
	return ""
}

// MemoryInput is the caller-supplied payload for inserting a new Memory.
type MemoryInput struct {
	Role        string
	Content     string
	MemoryType  MemoryType
	Importance  Importance
	Tags        []string
	Metadata    map[string]any
	Embedding   []float32
	ProjectPath string
	ExpiresAt   *time.Time
	// CreatedAt overrides the insert timestamp when non-nil. Used by
	// extraction pipelines that must preserve a deterministic, derived
	// ordering (e.g. turns reconstructed from a single summary memory).
	CreatedAt *time.Time
}

// CodeDefinition is a single extracted source-code symbol.
type CodeDefinition struct {
	ID             uuid.UUID `json:"id"`
	FilePath       string    `json:"file_path"`
	Language       string    `json:"language"`
	DefinitionType string    `json:"definition_type"`
	Name           string    `json:"name"`
	Signature      string    `json:"signature,omitempty"`
	Docstring      string    `json:"docstring,omitempty"`
	LineStart      int       `json:"line_start"`
	LineEnd        int       `json:"line_end"`
	Embedding      []float32 `json:"-"`
	ProjectPath    string    `json:"project_path"`
	// ContentHash is the hash of the file content this definition was
	// extracted from, used to skip re-scanning unchanged files.
	ContentHash string `json:"-"`
}

// HotPath is a recurring sequence of memory accesses worth caching.
type HotPath struct {
	ID           uuid.UUID   `json:"id"`
	PathHash     string      `json:"path_hash"`
	MemoryIDs    []uuid.UUID `json:"memory_ids"`
	AccessCount  int64       `json:"access_count"`
	HeatScore    float64     `json:"heat_score"`
	CachedAt     *time.Time  `json:"cached_at,omitempty"`
	CacheHits    int64       `json:"cache_hits"`
	DominantTags []string    `json:"dominant_tags"`
}

// AccessTransition tracks how often one memory is fetched immediately after another.
type AccessTransition struct {
	FromMemoryID      uuid.UUID `json:"from_memory_id"`
	ToMemoryID        uuid.UUID `json:"to_memory_id"`
	TransitionCount   int64     `json:"transition_count"`
	LastTransitionAt  time.Time `json:"last_transition_at"`
	SessionID         string    `json:"session_id"`
}

// QueueStatus is the lifecycle state of an EmbeddingQueueItem.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// IsValid reports whether s is one of the defined queue states.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed:
		return true
	default:
		return false
	}
}

// EmbeddingQueueItem is a durable row in the embedding overflow queue.
type EmbeddingQueueItem struct {
	ID          int64       `json:"id"`
	ProjectID   string      `json:"project_id"`
	Text        string      `json:"text"`
	Priority    int         `json:"priority"`
	Status      QueueStatus `json:"status"`
	Embedding   []float32   `json:"-"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// DrilldownType identifies what kind of row a DrilldownEntry points at.
type DrilldownType string

const (
	DrilldownMemory  DrilldownType = "memory"
	DrilldownCode    DrilldownType = "code"
	DrilldownContext DrilldownType = "context"
)

// DrilldownEntry is an ephemeral numeric-id to memory-id mapping.
type DrilldownEntry struct {
	MemoryID  uuid.UUID
	Type      DrilldownType
	CreatedAt time.Time
}
