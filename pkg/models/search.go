package models

import "time"

// SearchOptions controls a SearchEngine.Search call.
type SearchOptions struct {
	Limit           int
	Threshold       float64 // 0 means "resolve adaptively"
	MemoryTypes     []MemoryType
	Tags            []string
	TagMatchAll     bool
	Roles           []string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	RecencyBoost    bool
	KeywordFallback bool
	IncludeRecent   int
	CameraRoll      bool
	Summarize       bool
}

// SearchResult is one ranked hit from SearchEngine.Search.
type SearchResult struct {
	Memory      *Memory `json:"memory"`
	Similarity  float64 `json:"similarity"`
	IsFallback  bool    `json:"is_fallback,omitempty"`
	DrilldownID int64   `json:"drilldown_id,omitempty"`
}

// ThresholdBucket names the adaptive-threshold density tier used for a search.
type ThresholdBucket string

const (
	BucketSparse ThresholdBucket = "sparse"
	BucketLow    ThresholdBucket = "low"
	BucketNormal ThresholdBucket = "normal"
	BucketDense  ThresholdBucket = "dense"
)

// SearchDiagnostics reports how a search resolved its adaptive parameters.
type SearchDiagnostics struct {
	Threshold   float64         `json:"threshold"`
	Bucket      ThresholdBucket `json:"bucket"`
	CorpusSize  int64           `json:"corpus_size"`
	UsedFallback bool           `json:"used_fallback"`
}

// SearchResponse bundles ranked results with the diagnostics that produced them.
type SearchResponse struct {
	Results     []SearchResult    `json:"results"`
	Diagnostics SearchDiagnostics `json:"diagnostics"`
}
