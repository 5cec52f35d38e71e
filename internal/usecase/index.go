package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"apollorag/internal/domain"
	"apollorag/internal/port"
)

// DefaultEmbedBatchSize is the number of documents embedded and stored per call.
const DefaultEmbedBatchSize = 100

// IndexUseCase projects stored records into vector collections.
type IndexUseCase struct {
	records   port.RecordStore
	vectors   port.VectorStore
	embedders port.EmbedderSet
	logger    *slog.Logger
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(records port.RecordStore, vectors port.VectorStore, embedders port.EmbedderSet, logger *slog.Logger) *IndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexUseCase{
		records:   records,
		vectors:   vectors,
		embedders: embedders,
		logger:    logger,
	}
}

// IndexOptions tunes an indexing run.
type IndexOptions struct {
	Overwrite bool
	BatchSize int
	Progress  func(collection string, done, total int)
}

// IndexResult contains the results of indexing one collection.
type IndexResult struct {
	Collection string
	Docs       int
	Embedded   int
	Skipped    int
	Errors     []string
}

type textDoc struct {
	id   string
	text string
	meta map[string]string
}

// IndexAll indexes every collection, stopping at the first fatal error.
func (u *IndexUseCase) IndexAll(ctx context.Context, opts IndexOptions) ([]*IndexResult, error) {
	steps := []func(context.Context, IndexOptions) (*IndexResult, error){
		u.IndexQuestions,
		u.IndexSummaries,
		u.IndexUtterances,
		u.IndexPhotoDescriptions,
		u.IndexPhotoImages,
	}

	var results []*IndexResult
	for _, step := range steps {
		res, err := step(ctx, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// QuestionDocID names the vector of the i-th generated question of a segment.
func QuestionDocID(segmentID string, i int) string {
	return fmt.Sprintf("%s-%d", segmentID, i)
}

// IndexQuestions embeds every generated question. Each question vector
// points back at its segment. Vectors left over from an earlier question
// list, either past its end or holding different text, are removed first.
func (u *IndexUseCase) IndexQuestions(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	segments, err := u.records.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	var stale []string
	var docs []textDoc
	for _, seg := range segments {
		ids, err := u.staleQuestionIDs(seg)
		if err != nil {
			return nil, err
		}
		stale = append(stale, ids...)

		for i, q := range seg.Questions {
			docs = append(docs, textDoc{
				id:   QuestionDocID(seg.ID, i),
				text: q,
				meta: map[string]string{domain.MetaSource: seg.ID, domain.MetaText: q},
			})
		}
	}

	if len(stale) > 0 {
		if err := u.vectors.Delete(domain.CollectionQuestions, stale); err != nil {
			return nil, fmt.Errorf("failed to remove stale question vectors: %w", err)
		}
		u.logger.Info("removed stale question vectors", "count", len(stale))
	}

	return u.indexText(ctx, domain.CollectionQuestions, domain.FieldQuestion, docs, opts)
}

// staleQuestionIDs returns the stored question vectors of seg that no longer
// match its question list. Question ids are dense, so the scan past the end
// of the list stops at the first missing id.
func (u *IndexUseCase) staleQuestionIDs(seg domain.Segment) ([]string, error) {
	var stale []string
	for i := 0; ; i++ {
		id := QuestionDocID(seg.ID, i)
		item, ok, err := u.vectors.Get(domain.CollectionQuestions, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read question vector %s: %w", id, err)
		}
		if i >= len(seg.Questions) {
			if !ok {
				return stale, nil
			}
			stale = append(stale, id)
			continue
		}
		if ok && item.Metadata[domain.MetaText] != seg.Questions[i] {
			stale = append(stale, id)
		}
	}
}

// IndexSummaries embeds one vector per summarised segment.
func (u *IndexUseCase) IndexSummaries(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	segments, err := u.records.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	var docs []textDoc
	for _, seg := range segments {
		docs = append(docs, textDoc{
			id:   seg.ID,
			text: seg.Summary,
			meta: map[string]string{domain.MetaSource: seg.ID},
		})
	}

	return u.indexText(ctx, domain.CollectionSummaries, domain.FieldSummary, docs, opts)
}

// IndexUtterances embeds the text of every stored utterance.
func (u *IndexUseCase) IndexUtterances(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	utterances, err := u.records.ListUtterances()
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}

	docs := make([]textDoc, 0, len(utterances))
	for _, utt := range utterances {
		docs = append(docs, textDoc{
			id:   utt.ID,
			text: utt.Text,
			meta: map[string]string{domain.MetaSource: utt.ID, domain.MetaText: utt.Text},
		})
	}

	return u.indexText(ctx, domain.CollectionUtterances, domain.FieldText, docs, opts)
}

// IndexPhotoDescriptions embeds photograph catalogue descriptions.
func (u *IndexUseCase) IndexPhotoDescriptions(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	photos, err := u.records.ListPhotographs()
	if err != nil {
		return nil, fmt.Errorf("failed to list photographs: %w", err)
	}

	docs := make([]textDoc, 0, len(photos))
	for _, p := range photos {
		docs = append(docs, textDoc{
			id:   p.ID,
			text: p.Description,
			meta: map[string]string{domain.MetaSource: p.ID},
		})
	}

	return u.indexText(ctx, domain.CollectionPhotoDescriptions, domain.FieldDescription, docs, opts)
}

// IndexPhotoImages embeds the image file of every photograph. A missing or
// unreadable file is reported and the photograph skipped.
func (u *IndexUseCase) IndexPhotoImages(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	photos, err := u.records.ListPhotographs()
	if err != nil {
		return nil, fmt.Errorf("failed to list photographs: %w", err)
	}

	result := &IndexResult{Collection: domain.CollectionPhotoImages}

	var pending []domain.Photograph
	for _, p := range photos {
		if p.ID == domain.ProbeID || strings.TrimSpace(p.ImagePath) == "" {
			continue
		}
		pending = append(pending, p)
	}
	result.Docs = len(pending)

	if !opts.Overwrite {
		pending, result.Skipped, err = skipExistingIDs(u.vectors, domain.CollectionPhotoImages, pending, func(p domain.Photograph) string { return p.ID })
		if err != nil {
			return nil, err
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	embedder, err := u.embedders.Image()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image embedder: %w", err)
	}

	batchSize := batchSizeOr(opts.BatchSize)
	items := make([]port.VectorItem, 0, batchSize)
	flush := func() error {
		if len(items) == 0 {
			return nil
		}
		if err := u.vectors.Put(domain.CollectionPhotoImages, items); err != nil {
			return fmt.Errorf("failed to store image vectors: %w", err)
		}
		result.Embedded += len(items)
		items = items[:0]
		return nil
	}

	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		vec, err := embedder.EmbedImage(ctx, p.ImagePath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to embed image %s: %v", p.ImagePath, err))
		} else {
			items = append(items, port.VectorItem{
				ID:       p.ID,
				Vector:   vec,
				Metadata: map[string]string{domain.MetaSource: p.ID},
			})
		}

		if len(items) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
		if opts.Progress != nil {
			opts.Progress(domain.CollectionPhotoImages, i+1, len(pending))
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	u.logger.Info("indexed collection", "collection", result.Collection, "embedded", result.Embedded, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

func (u *IndexUseCase) indexText(ctx context.Context, collection, field string, docs []textDoc, opts IndexOptions) (*IndexResult, error) {
	result := &IndexResult{Collection: collection}

	// Blank texts have nothing to embed
	kept := docs[:0:0]
	for _, d := range docs {
		if strings.TrimSpace(d.text) != "" {
			kept = append(kept, d)
		}
	}
	result.Docs = len(kept)

	pending := kept
	if !opts.Overwrite {
		var err error
		pending, result.Skipped, err = skipExistingIDs(u.vectors, collection, kept, func(d textDoc) string { return d.id })
		if err != nil {
			return nil, err
		}
	}
	if len(pending) == 0 {
		u.logger.Info("collection up to date", "collection", collection, "docs", result.Docs)
		return result, nil
	}

	embedder, err := u.embedders.Text(field)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder for %s: %w", field, err)
	}

	batchSize := batchSizeOr(opts.BatchSize)
	done := 0
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch := pending[start:min(start+batchSize, len(pending))]
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.text
		}

		vecs, err := embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("failed to embed %s batch at %d: %v", collection, start, err))
		case len(vecs) != len(batch):
			result.Errors = append(result.Errors, fmt.Sprintf("embedder returned %d vectors for %d %s docs", len(vecs), len(batch), collection))
		default:
			items := make([]port.VectorItem, len(batch))
			for i, d := range batch {
				items[i] = port.VectorItem{ID: d.id, Vector: vecs[i], Metadata: d.meta}
			}
			if err := u.vectors.Put(collection, items); err != nil {
				return result, fmt.Errorf("failed to store %s vectors: %w", collection, err)
			}
			result.Embedded += len(items)
		}

		done += len(batch)
		if opts.Progress != nil {
			opts.Progress(collection, done, len(pending))
		}
	}

	u.logger.Info("indexed collection", "collection", collection, "embedded", result.Embedded, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

func skipExistingIDs[T any](vectors port.VectorStore, collection string, items []T, id func(T) string) ([]T, int, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = id(it)
	}
	existing, err := vectors.Has(collection, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check existing %s vectors: %w", collection, err)
	}

	pending := make([]T, 0, len(items))
	for i, it := range items {
		if existing[ids[i]] {
			continue
		}
		pending = append(pending, it)
	}
	return pending, len(items) - len(pending), nil
}

func batchSizeOr(n int) int {
	if n <= 0 {
		return DefaultEmbedBatchSize
	}
	return n
}
