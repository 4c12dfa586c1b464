// Package restoration implements ContextRestorationParser: detection of
// "summary of prior conversation" memories and extraction of their
// individual user/assistant turns into first-class Memory rows.
package restoration

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/embedclient"
	"github.com/jonhardwick-spec/specmem-sub022/internal/memstore"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// primaryMarkers are high-confidence, case-sensitive indicators that a
// memory is a context-restoration summary.
var primaryMarkers = []string{
	"This session is being continued from a previous conversation",
	"Summary of prior conversation",
}

// fallbackMarkers are checked case-insensitively when no primary marker
// matches.
var fallbackMarkers = []string{
	"conversation summary",
	"prior conversation",
	"previous session",
}

// turnPatterns extracts individual turns, tried in order; the first pattern
// to produce any match wins. Each must capture the speaker in group 1 and
// the turn's text in group 2.
var turnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(?:\*\*)?(User|Human|Assistant|AI|Claude)(?:\*\*)?\s*:\s*(.+)$`),
	regexp.MustCompile(`(?m)^>\s*(User|Assistant)\s*[-:]\s*(.+)$`),
}

// projectPathMarker extracts an explicit project path called out in summary
// text, e.g. "Working directory: /srv/widget".
var projectPathMarker = regexp.MustCompile(`(?i)(?:working directory|project path|project root)\s*:\s*(\S+)`)

const (
	processedTag     = "context-restoration-processed"
	sourceExtractedTag = "extracted-from-context-restoration"

	defaultChunkSize    = 50
	defaultChunkDelay   = 100 * time.Millisecond
	progressEvery       = 100
)

// Turn is one extracted conversational turn.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Options controls a restoration pass.
type Options struct {
	CurrentProjectPath string
	ChunkSize          int
	ChunkDelay         time.Duration
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = defaultChunkDelay
	}
}

// Progress reports incremental extraction status.
type Progress struct {
	SourcesScanned int
	TurnsInserted  int
	TurnsSkipped   int

	// SummariesUnextractable counts sources that matched IsSummary but
	// yielded zero turns from every registered turnPattern. These are
	// marked processed anyway so Process doesn't retry them forever, but
	// the count surfaces the gap for pattern-tuning.
	SummariesUnextractable int

	// CrossProjectSkipped counts sources whose resolved project path falls
	// outside the current project. These are left unmarked (so they're
	// reconsidered the next time Process runs against their own project).
	CrossProjectSkipped int
}

// ProgressFunc receives a Progress snapshot every progressEvery processed
// turns.
type ProgressFunc func(Progress)

// Parser detects and expands context-restoration summary memories.
type Parser struct {
	pool     *storage.Pool
	store    *memstore.Store
	embedder *embedclient.Client
	metrics  *observability.Metrics
	log      *observability.Logger
}

// New constructs a Parser. metrics and log may be nil.
func New(pool *storage.Pool, store *memstore.Store, embedder *embedclient.Client, metrics *observability.Metrics, log *observability.Logger) *Parser {
	return &Parser{pool: pool, store: store, embedder: embedder, metrics: metrics, log: log}
}

// IsSummary reports whether content looks like a context-restoration
// summary: a primary marker (case-sensitive) or, failing that, a fallback
// marker (case-insensitive).
func IsSummary(content string) bool {
	for _, m := range primaryMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	lower := strings.ToLower(content)
	for _, m := range fallbackMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// ExtractTurns walks content with the ordered turnPatterns list and returns
// every matched turn in document order. The first pattern that produces any
// match at all is used exclusively — later patterns are pure fallbacks for
// documents the primary pattern can't parse.
func ExtractTurns(content string) []Turn {
	for _, pattern := range turnPatterns {
		matches := pattern.FindAllStringSubmatch(content, -1)
		if len(matches) == 0 {
			continue
		}
		turns := make([]Turn, 0, len(matches))
		for _, m := range matches {
			turns = append(turns, Turn{Role: normalizeRole(m[1]), Content: strings.TrimSpace(m[2])})
		}
		return turns
	}
	return nil
}

func normalizeRole(raw string) string {
	switch strings.ToLower(raw) {
	case "user", "human":
		return "user"
	default:
		return "assistant"
	}
}

// resolveProjectPath implements the three-tier resolution: explicit source
// metadata, then a marker found in the summary text (only if that path
// exists on disk), then "unknown".
func resolveProjectPath(sourceMetadataPath, content string) string {
	if sourceMetadataPath != "" {
		return sourceMetadataPath
	}
	if m := projectPathMarker.FindStringSubmatch(content); m != nil {
		candidate := m[1]
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return "unknown"
}

// withinProject reports whether candidate is the current project, a parent
// of it, or a subdirectory of it.
func withinProject(current, candidate string) bool {
	if candidate == "" || candidate == "unknown" {
		return false
	}
	currentAbs, err1 := filepath.Abs(current)
	candidateAbs, err2 := filepath.Abs(candidate)
	if err1 != nil || err2 != nil {
		return false
	}
	if currentAbs == candidateAbs {
		return true
	}
	rel, err := filepath.Rel(candidateAbs, currentAbs)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return true
	}
	rel, err = filepath.Rel(currentAbs, candidateAbs)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// Process finds every unprocessed summary memory for the project, extracts
// its turns, inserts each as a new Memory in document order in chunks of
// opts.ChunkSize with a delay between chunks, and tags the source as
// processed once its turns are exhausted. Sources are handled one at a
// time; no priority ordering is applied to sources or turns.
func (p *Parser) Process(ctx context.Context, opts Options, progress ProgressFunc) (Progress, error) {
	opts.applyDefaults()

	sources, err := p.findUnprocessedSummaries(ctx, opts.CurrentProjectPath)
	if err != nil {
		return Progress{}, err
	}

	var total Progress
	processedSinceReport := 0

	for _, src := range sources {
		total.SourcesScanned++
		sourcePath := resolveProjectPath(src.ProjectPath, src.Content)
		if !withinProject(opts.CurrentProjectPath, sourcePath) {
			total.CrossProjectSkipped++
			continue
		}

		turns := ExtractTurns(src.Content)
		if len(turns) == 0 {
			total.SummariesUnextractable++
			if p.metrics != nil {
				p.metrics.RestorationUnextractableCounter.Inc()
			}
			if p.log != nil {
				p.log.Warn(ctx, "summary detected but no turn pattern matched", "source_id", src.ID)
			}
		}
		for chunkStart := 0; chunkStart < len(turns); chunkStart += opts.ChunkSize {
			chunkEnd := chunkStart + opts.ChunkSize
			if chunkEnd > len(turns) {
				chunkEnd = len(turns)
			}
			chunk := turns[chunkStart:chunkEnd]

			for i, turn := range chunk {
				seq := chunkStart + i
				inserted, err := p.insertTurn(ctx, src, turn, seq, opts.CurrentProjectPath)
				if err != nil {
					return total, err
				}
				if inserted {
					total.TurnsInserted++
				} else {
					total.TurnsSkipped++
				}

				processedSinceReport++
				if progress != nil && processedSinceReport >= progressEvery {
					progress(total)
					processedSinceReport = 0
				}
			}

			if chunkEnd < len(turns) {
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-time.After(opts.ChunkDelay):
				}
			}
		}

		if err := p.markProcessed(ctx, src.ID); err != nil {
			return total, err
		}
	}

	if progress != nil && processedSinceReport > 0 {
		progress(total)
	}
	return total, nil
}

func (p *Parser) findUnprocessedSummaries(ctx context.Context, projectPath string) ([]summaryRow, error) {
	rows, err := p.pool.QueryRows(ctx, `
		SELECT id, content, project_path, created_at
		FROM memories
		WHERE NOT (tags @> ARRAY[$1]::text[])
		  AND project_path = $2
	`, processedTag, projectPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []summaryRow
	for rows.Next() {
		var r summaryRow
		if err := rows.Scan(&r.ID, &r.Content, &r.ProjectPath, &r.CreatedAt); err != nil {
			return nil, models.NewError(models.KindStoragePermanent, "scan summary candidate", err)
		}
		if IsSummary(r.Content) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

type summaryRow struct {
	ID          string
	Content     string
	ProjectPath string
	CreatedAt   time.Time
}

// insertTurn embeds and inserts a single extracted turn. It returns true
// when the row was actually inserted (as opposed to deduplicated away).
func (p *Parser) insertTurn(ctx context.Context, src summaryRow, turn Turn, seq int, projectPath string) (bool, error) {
	content := formatTurn(turn)

	var embedding []float32
	if p.embedder != nil {
		if v, err := p.embedder.Embed(ctx, content); err == nil {
			embedding = v
		}
	}

	tags := []string{"role:" + turn.Role, sourceExtractedTag, "source:" + shortID(src.ID)}
	timestamp := turnTimestamp(src.CreatedAt, seq)

	_, inserted, err := p.store.Insert(ctx, models.MemoryInput{
		Role:        turn.Role,
		Content:     content,
		MemoryType:  models.MemoryEpisodic,
		Importance:  models.ImportanceLow,
		Tags:        tags,
		ProjectPath: projectPath,
		Embedding:   embedding,
		CreatedAt:   &timestamp,
	})
	return inserted, err
}

// turnTimestamp offsets a source summary's creation time by 2 seconds per
// sequence position, so re-running extraction against the same source
// always assigns the same turn the same timestamp.
func turnTimestamp(sourceCreatedAt time.Time, seq int) time.Time {
	return sourceCreatedAt.Add(time.Duration(2*seq) * time.Second)
}

func formatTurn(turn Turn) string {
	if turn.Role == "user" {
		return "[USER] " + turn.Content
	}
	return "[ASSISTANT] " + turn.Content
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (p *Parser) markProcessed(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE memories
		SET tags = array_append(tags, $1), updated_at = now()
		WHERE id = $2 AND NOT (tags @> ARRAY[$1]::text[])
	`, processedTag, id)
	return err
}
