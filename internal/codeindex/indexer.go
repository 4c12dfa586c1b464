// Package codeindex implements CodebaseIndexer: directory scanning with a
// layered exclusion ruleset, Tree-sitter-backed definition extraction, and
// resumable, batch-embedded persistence of CodeDefinition rows.
package codeindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonhardwick-spec/specmem-sub022/internal/embedclient"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

const (
	defaultBatchSize    = 32
	defaultMaxFileBytes = 1 << 20 // 1MB; larger files are skipped outright
)

// Options configures a scan.
type Options struct {
	// BatchSize bounds how many definitions are embedded per BatchEmbed call.
	BatchSize int

	// MaxFileBytes skips files larger than this.
	MaxFileBytes int64
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaultMaxFileBytes
	}
}

// Stats summarizes one Scan call.
type Stats struct {
	FilesScanned   int
	FilesSkipped   int
	FilesUnchanged int
	Definitions    int
}

// Indexer scans a project directory and maintains its code_definitions
// rows.
type Indexer struct {
	pool      *storage.Pool
	embedder  *embedclient.Client
	extractor *Extractor
	metrics   *observability.Metrics
	log       *observability.Logger
}

// New constructs an Indexer. metrics and log may be nil.
func New(pool *storage.Pool, embedder *embedclient.Client, metrics *observability.Metrics, log *observability.Logger) *Indexer {
	return &Indexer{
		pool:      pool,
		embedder:  embedder,
		extractor: NewExtractor(log),
		metrics:   metrics,
		log:       log,
	}
}

// Scan walks rootDir, (re-)indexing every file whose content hash has
// changed since the last scan, and returns aggregate statistics.
func (idx *Indexer) Scan(ctx context.Context, rootDir, projectPath string, opts Options) (Stats, error) {
	opts.applyDefaults()

	rules, err := LoadExclusionRuleset(rootDir)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var pending []models.CodeDefinition

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := idx.embedAndPersist(ctx, pending, opts.BatchSize)
		stats.Definitions += n
		pending = pending[:0]
		return err
	}

	walkErr := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(rootDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		checkPath := rel
		if d.IsDir() {
			checkPath += "/"
		}
		if rules.Excludes(checkPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		language := detectLanguage(path)
		if language == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > opts.MaxFileBytes {
			stats.FilesSkipped++
			return nil
		}

		stats.FilesScanned++
		defs, changed, err := idx.scanFile(ctx, path, rel, projectPath, language)
		if err != nil {
			return err
		}
		if !changed {
			stats.FilesUnchanged++
			return nil
		}
		pending = append(pending, defs...)
		if len(pending) >= opts.BatchSize {
			return flush()
		}
		return nil
	})
	if walkErr != nil {
		return stats, walkErr
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// scanFile hashes path's content, compares it against any previously
// indexed hash for the same file, and extracts fresh definitions when the
// content has changed (or never been seen).
func (idx *Indexer) scanFile(ctx context.Context, fullPath, relPath, projectPath, language string) ([]models.CodeDefinition, bool, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, false, err
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	existing, err := idx.existingHash(ctx, relPath)
	if err != nil {
		return nil, false, err
	}
	if existing == hash {
		return nil, false, nil
	}

	defs, err := idx.extractor.Extract(language, content, relPath, projectPath)
	if err != nil {
		return nil, false, err
	}
	for i := range defs {
		defs[i].ContentHash = hash
	}

	if err := idx.deleteFileDefinitions(ctx, relPath); err != nil {
		return nil, false, err
	}
	return defs, true, nil
}

func (idx *Indexer) existingHash(ctx context.Context, relPath string) (string, error) {
	conn, row := idx.pool.QueryRow(ctx, `
		SELECT content_hash FROM code_definitions WHERE file_path = $1 LIMIT 1
	`, relPath)
	if conn == nil {
		return "", models.NewError(models.KindStorageTransient, "acquire connection for hash lookup", nil)
	}
	defer conn.Close()

	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func (idx *Indexer) deleteFileDefinitions(ctx context.Context, relPath string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM code_definitions WHERE file_path = $1`, relPath)
	return err
}

// embedAndPersist fans out embedding requests in batches (bounded by
// batchSize) and inserts the resulting rows.
func (idx *Indexer) embedAndPersist(ctx context.Context, defs []models.CodeDefinition, batchSize int) (int, error) {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	inserted := make([]int, len(defs)/batchSize+1)
	for start := 0; start < len(defs); start += batchSize {
		end := start + batchSize
		if end > len(defs) {
			end = len(defs)
		}
		batchIdx := start / batchSize
		batch := defs[start:end]
		group.Go(func() error {
			n, err := idx.embedBatch(gctx, batch)
			inserted[batchIdx] = n
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range inserted {
		total += n
	}
	return total, nil
}

func (idx *Indexer) embedBatch(ctx context.Context, batch []models.CodeDefinition) (int, error) {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = embeddingText(d)
	}

	var embeddings [][]float32
	if idx.embedder != nil {
		vectors, errs := idx.embedder.BatchEmbed(ctx, texts)
		embeddings = vectors
		for _, err := range errs {
			if err != nil && idx.log != nil {
				idx.log.Warn(ctx, "code definition embed failed, inserting without vector", "error", err)
			}
		}
	}

	n := 0
	for i, d := range batch {
		var embedding []float32
		if i < len(embeddings) {
			embedding = embeddings[i]
		}
		if err := idx.insertDefinition(ctx, d, embedding); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func embeddingText(d models.CodeDefinition) string {
	if d.Docstring != "" {
		return d.Signature + "\n" + d.Docstring
	}
	return d.Signature
}

func (idx *Indexer) insertDefinition(ctx context.Context, d models.CodeDefinition, embedding []float32) error {
	_, err := idx.pool.Exec(ctx, `
		INSERT INTO code_definitions (id, file_path, language, definition_type, name, signature,
		                               docstring, line_start, line_end, embedding, project_path, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (file_path, name, line_start)
		DO UPDATE SET signature = EXCLUDED.signature, docstring = EXCLUDED.docstring,
		              line_end = EXCLUDED.line_end, embedding = EXCLUDED.embedding,
		              content_hash = EXCLUDED.content_hash
	`, uuid.New(), d.FilePath, d.Language, d.DefinitionType, d.Name, d.Signature,
		d.Docstring, d.LineStart, d.LineEnd, storage.EncodeEmbedding(embedding), d.ProjectPath, d.ContentHash)
	return err
}
