package store

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
)

const archiveCollection = "episodic_snapshots"

const embeddingDim = 256

// EpisodicArchive indexes episodic document snapshots in a chromem
// vector store for read-only similarity lookup. Snapshots are written
// once and never updated.
type EpisodicArchive struct {
	db     *chromem.DB
	coll   *chromem.Collection
	logger *logging.Logger
}

// NewEpisodicArchive opens the archive at path; an empty path keeps it
// in memory only.
func NewEpisodicArchive(path string, logger *logging.Logger) (*EpisodicArchive, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
	}

	coll, err := db.GetOrCreateCollection(archiveCollection, nil, contentEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening archive collection: %w", err)
	}
	return &EpisodicArchive{db: db, coll: coll, logger: logger}, nil
}

// IndexSnapshot stores one episodic document version.
func (a *EpisodicArchive) IndexSnapshot(ctx context.Context, kind memory.EpisodicKind, version int, content string) error {
	doc := chromem.Document{
		ID:      fmt.Sprintf("%s-v%d", kind, version),
		Content: content,
		Metadata: map[string]string{
			"kind":    string(kind),
			"version": fmt.Sprint(version),
		},
	}
	if err := a.coll.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing %s v%d: %w", kind, version, err)
	}
	a.logger.Debug(ctx, "archived episodic snapshot",
		zap.String("kind", string(kind)), zap.Int("version", version))
	return nil
}

// Search runs a similarity query over archived snapshots.
func (a *EpisodicArchive) Search(ctx context.Context, query string, limit int) ([]memory.ArchiveResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	// chromem requires nResults <= document count.
	count := a.coll.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := a.coll.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}

	out := make([]memory.ArchiveResult, len(results))
	for i, r := range results {
		version := 0
		fmt.Sscanf(r.Metadata["version"], "%d", &version)
		out[i] = memory.ArchiveResult{
			Kind:    r.Metadata["kind"],
			Version: version,
			Content: r.Content,
			Score:   r.Similarity,
		}
	}
	return out, nil
}

// contentEmbedding derives a deterministic vector from content bytes.
// A character-histogram projection is enough for the archive's
// coarse-grained recall needs and keeps the store self-contained.
func contentEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	for i := 0; i < len(text); i++ {
		vec[int(text[i])%embeddingDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
