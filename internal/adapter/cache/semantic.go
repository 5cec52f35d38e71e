package cache

import (
	"context"
	"fmt"
	"log/slog"

	"apollorag/internal/domain"
	"apollorag/internal/port"

	"github.com/google/uuid"
)

const metaQuery = "query"

// SemanticCache stores generated answers keyed by the embedding of the
// query that produced them. Lookups return the single nearest entry of the
// requested kind; deciding whether it is close enough is up to the caller.
type SemanticCache struct {
	embedder port.Embedder
	store    port.VectorStore
	logger   *slog.Logger
}

// Hit is the nearest cached entry and its cosine distance to the query.
type Hit struct {
	Entry    domain.CacheEntry
	Distance float64
}

func NewSemanticCache(embedder port.Embedder, store port.VectorStore, logger *slog.Logger) *SemanticCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticCache{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Lookup embeds query and returns the nearest entry of kind. Any failure is
// logged and reported as a miss.
func (c *SemanticCache) Lookup(ctx context.Context, query string, kind domain.Kind) (Hit, bool) {
	vecs, err := c.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		c.logger.Warn("semantic cache lookup failed", "stage", "embed", "kind", kind, "error", err)
		return Hit{}, false
	}
	return c.LookupVector(ctx, vecs[0], kind)
}

// LookupVector is Lookup for an already embedded query.
func (c *SemanticCache) LookupVector(_ context.Context, vector []float32, kind domain.Kind) (Hit, bool) {
	results, err := c.store.KNN(domain.CollectionSearchCache, vector, 1, map[string]string{domain.MetaKind: string(kind)})
	if err != nil {
		c.logger.Warn("semantic cache lookup failed", "stage", "search", "kind", kind, "error", err)
		return Hit{}, false
	}
	if len(results) == 0 {
		return Hit{}, false
	}

	r := results[0]
	id, err := uuid.Parse(r.ID)
	if err != nil {
		c.logger.Warn("semantic cache entry has invalid id", "id", r.ID, "error", err)
		return Hit{}, false
	}
	return Hit{
		Entry: domain.CacheEntry{
			ID:     id,
			Query:  r.Metadata[metaQuery],
			Answer: r.Metadata[domain.MetaAnswer],
			Kind:   domain.Kind(r.Metadata[domain.MetaKind]),
		},
		Distance: r.Distance,
	}, true
}

// Store inserts a new entry. Entries are never deduplicated.
func (c *SemanticCache) Store(ctx context.Context, query, answer string, kind domain.Kind) (domain.CacheEntry, error) {
	vecs, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("embed cache query: %w", err)
	}
	if len(vecs) == 0 {
		return domain.CacheEntry{}, fmt.Errorf("embed cache query: no vector returned")
	}

	entry := domain.CacheEntry{
		ID:             uuid.New(),
		Query:          query,
		QueryEmbedding: vecs[0],
		Answer:         answer,
		Kind:           kind,
	}

	err = c.store.Put(domain.CollectionSearchCache, []port.VectorItem{{
		ID:     entry.ID.String(),
		Vector: entry.QueryEmbedding,
		Metadata: map[string]string{
			metaQuery:         entry.Query,
			domain.MetaAnswer: entry.Answer,
			domain.MetaKind:   string(entry.Kind),
		},
	}})
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("store cache entry: %w", err)
	}

	c.logger.Debug("cached answer", "id", entry.ID, "kind", kind)
	return entry, nil
}

// Clear removes every cached entry.
func (c *SemanticCache) Clear(_ context.Context) error {
	if err := c.store.Clear(domain.CollectionSearchCache); err != nil {
		return fmt.Errorf("clear semantic cache: %w", err)
	}
	c.logger.Info("cache cleared")
	return nil
}

// Len returns the number of cached entries.
func (c *SemanticCache) Len() (int, error) {
	return c.store.Count(domain.CollectionSearchCache)
}
