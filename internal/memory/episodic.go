package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EpisodicPersister stores episodic document versions durably. Each
// version is written once and never rewritten.
type EpisodicPersister interface {
	SaveEpisodic(ctx context.Context, doc *EpisodicDocument) error
}

// episodicTier holds the three long-lived documents with their recent
// version history. Updates create new versions; the previous maxVersions
// snapshots are kept for rollback visibility.
type episodicTier struct {
	mu          sync.Mutex
	docs        map[EpisodicKind]*EpisodicDocument
	history     map[EpisodicKind][]EpisodicDocument
	maxVersions int
	persister   EpisodicPersister
}

func newEpisodicTier(maxVersions int, persister EpisodicPersister) *episodicTier {
	if maxVersions <= 0 {
		maxVersions = 5
	}
	return &episodicTier{
		docs:        make(map[EpisodicKind]*EpisodicDocument),
		history:     make(map[EpisodicKind][]EpisodicDocument),
		maxVersions: maxVersions,
		persister:   persister,
	}
}

// Update replaces the document for kind with a new version.
func (e *episodicTier) Update(ctx context.Context, kind EpisodicKind, content string) (*EpisodicDocument, error) {
	e.mu.Lock()
	version := 1
	if prev, ok := e.docs[kind]; ok {
		version = prev.Version + 1
		e.history[kind] = append(e.history[kind], *prev)
		if len(e.history[kind]) > e.maxVersions {
			e.history[kind] = e.history[kind][len(e.history[kind])-e.maxVersions:]
		}
	}
	doc := &EpisodicDocument{
		Kind:      kind,
		Version:   version,
		Content:   content,
		Tokens:    EstimateTokens(content),
		UpdatedAt: time.Now(),
	}
	e.docs[kind] = doc
	e.mu.Unlock()

	if e.persister != nil {
		if err := e.persister.SaveEpisodic(ctx, doc); err != nil {
			return nil, fmt.Errorf("persist episodic %s v%d: %w", kind, version, err)
		}
	}
	return doc, nil
}

// Get returns the current version of a document, or nil if it has
// never been written.
func (e *episodicTier) Get(kind EpisodicKind) *EpisodicDocument {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.docs[kind]
	if !ok {
		return nil
	}
	cp := *doc
	return &cp
}

// Snapshots returns retained prior versions of a document, oldest first.
func (e *episodicTier) Snapshots(kind EpisodicKind) []EpisodicDocument {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EpisodicDocument, len(e.history[kind]))
	copy(out, e.history[kind])
	return out
}

// Tokens returns the combined size of all current documents.
func (e *episodicTier) Tokens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, doc := range e.docs {
		total += doc.Tokens
	}
	return total
}

// Refs returns artifact references for the current document versions.
func (e *episodicTier) Refs() []ArtifactRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	var refs []ArtifactRef
	for _, kind := range EpisodicKinds {
		if doc, ok := e.docs[kind]; ok {
			refs = append(refs, ArtifactRef{Kind: "episodic", Key: string(kind), Version: doc.Version})
		}
	}
	return refs
}
