package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"apollorag/internal/adapter/cache"
	"apollorag/internal/domain"
	"apollorag/internal/port"
)

const ragInstruction = `You are an expert assistant specializing in the Apollo missions. Your goal is to provide accurate,
detailed, and concise answers to user inquiries by utilizing the provided Apollo mission data.
Rely solely on the information given below and avoid introducing external information.`

// Defaults used when AnswerOptions leaves a field zero.
const (
	DefaultTopK              = 3
	DefaultImageTopK         = 20
	DefaultDistanceThreshold = 0.1
)

// AnswerOptions configures the answer paths.
type AnswerOptions struct {
	TopK              int
	ImageTopK         int
	CacheEnabled      bool
	DistanceThreshold *float64 // a cached entry is reused when strictly closer than this; nil means 0.1
	StaticPrefix      string   // stripped from photograph paths in results
	TempDir           string   // where uploaded images are written, defaults to os.TempDir
}

// AnswerRequest is a free-text question.
type AnswerRequest struct {
	Query               string
	EnableSemanticCache bool
	EnableRag           bool
}

// Timings are the elapsed times of each stage that ran.
type Timings struct {
	Embedding   time.Duration
	CacheSearch time.Duration
	Search      time.Duration
	Rag         time.Duration
}

// Match is a segment retrieved through one of its questions or its summary.
type Match struct {
	SegmentID  string
	Question   string
	Summary    string
	Utterances []domain.Utterance
	Score      float64
}

// Answer is the result of a question or summary search.
type Answer struct {
	Query     string
	RagAnswer string
	Matches   []Match

	Cached      bool
	CachedQuery string
	CachedScore float64

	Timings Timings
}

// UtteranceMatch is a single retrieved utterance.
type UtteranceMatch struct {
	ID    string
	Text  string
	Score float64
}

// UtteranceSearch is the result of an utterance search.
type UtteranceSearch struct {
	Query   string
	Matches []UtteranceMatch
	Timings Timings
}

// PhotoMatch is a retrieved photograph.
type PhotoMatch struct {
	ID          string
	ImagePath   string
	Description string
	Score       float64
}

// PhotoSearch is the result of a photograph search.
type PhotoSearch struct {
	Query     string // set for description searches
	ImagePath string // set for image searches: the probe image that was embedded
	Matches   []PhotoMatch
	Timings   Timings
}

// ImageQuery carries an uploaded image or a path to one. Base64 wins when
// both are set.
type ImageQuery struct {
	Base64 string
	Path   string
}

// AnswerUseCase answers queries over the indexed corpus.
type AnswerUseCase struct {
	records   port.RecordStore
	vectors   port.VectorStore
	embedders port.EmbedderSet
	generator port.Generator
	cache     *cache.SemanticCache
	opts      AnswerOptions
	threshold float64
	logger    *slog.Logger

	// serialises use of the shared probe id
	probeMu sync.Mutex
}

// NewAnswerUseCase creates a new answer use case. A nil cache disables
// semantic caching regardless of per-request flags.
func NewAnswerUseCase(
	records port.RecordStore,
	vectors port.VectorStore,
	embedders port.EmbedderSet,
	generator port.Generator,
	semanticCache *cache.SemanticCache,
	opts AnswerOptions,
	logger *slog.Logger,
) *AnswerUseCase {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ImageTopK <= 0 {
		opts.ImageTopK = DefaultImageTopK
	}
	threshold := DefaultDistanceThreshold
	if opts.DistanceThreshold != nil && *opts.DistanceThreshold >= 0 {
		threshold = *opts.DistanceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		records:   records,
		vectors:   vectors,
		embedders: embedders,
		generator: generator,
		cache:     semanticCache,
		opts:      opts,
		threshold: threshold,
		logger:    logger,
	}
}

// AskQuestion retrieves segments through their generated questions.
func (u *AnswerUseCase) AskQuestion(ctx context.Context, req AnswerRequest) (*Answer, error) {
	return u.ask(ctx, req, domain.KindQuestion, domain.CollectionQuestions, domain.FieldQuestion)
}

// AskSummary retrieves segments through their summaries.
func (u *AnswerUseCase) AskSummary(ctx context.Context, req AnswerRequest) (*Answer, error) {
	return u.ask(ctx, req, domain.KindSummary, domain.CollectionSummaries, domain.FieldSummary)
}

func (u *AnswerUseCase) ask(ctx context.Context, req AnswerRequest, kind domain.Kind, collection, field string) (*Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	u.logger.Info("received question", "kind", kind, "query", req.Query)

	answer := &Answer{Query: req.Query}

	embedder, err := u.embedders.Text(field)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder for %s: %w", field, err)
	}

	start := time.Now()
	vector, err := embedOne(ctx, embedder, req.Query)
	if err != nil {
		return nil, err
	}
	answer.Timings.Embedding = time.Since(start)

	useCache := req.EnableSemanticCache && u.opts.CacheEnabled && u.cache != nil
	if useCache {
		start = time.Now()
		hit, ok := u.lookupCache(ctx, embedder, vector, req.Query, kind)
		answer.Timings.CacheSearch = time.Since(start)

		if ok && hit.Distance < u.threshold {
			u.logger.Info("semantic cache hit", "kind", kind, "distance", hit.Distance, "cached_query", hit.Entry.Query)
			answer.Cached = true
			answer.RagAnswer = hit.Entry.Answer
			answer.CachedQuery = hit.Entry.Query
			answer.CachedScore = hit.Distance
			return answer, nil
		}
	}

	start = time.Now()
	results, err := u.vectors.KNN(collection, vector, u.opts.TopK, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	segments := make([]domain.Segment, 0, len(results))
	for _, r := range results {
		segID := r.Metadata[domain.MetaSource]
		seg, err := u.records.GetSegment(segID)
		if err != nil {
			u.logger.Warn("retrieved vector has no segment", "collection", collection, "id", r.ID, "segment", segID, "error", err)
			continue
		}
		m := Match{
			SegmentID:  seg.ID,
			Utterances: seg.Utterances,
			Score:      r.Distance,
		}
		if kind == domain.KindQuestion {
			m.Question = r.Metadata[domain.MetaText]
		} else {
			m.Summary = seg.Summary
		}
		answer.Matches = append(answer.Matches, m)
		segments = append(segments, seg)
	}
	answer.Timings.Search = time.Since(start)

	if !req.EnableRag {
		return answer, nil
	}

	start = time.Now()
	text, err := u.Generate(ctx, req.Query, missionData(segments))
	if err != nil {
		return nil, err
	}
	answer.RagAnswer = text
	answer.Timings.Rag = time.Since(start)

	if useCache {
		if _, err := u.cache.Store(ctx, req.Query, text, kind); err != nil {
			u.logger.Warn("failed to cache answer", "kind", kind, "error", err)
		}
	}

	return answer, nil
}

// lookupCache reuses the query vector when the cache embeds with the same
// model as the search field, and embeds again otherwise.
func (u *AnswerUseCase) lookupCache(ctx context.Context, searchEmbedder port.Embedder, vector []float32, query string, kind domain.Kind) (cache.Hit, bool) {
	cacheEmbedder, err := u.embedders.Text(domain.FieldCacheQuery)
	if err == nil &&
		cacheEmbedder.ModelName() == searchEmbedder.ModelName() &&
		cacheEmbedder.Dimension() == searchEmbedder.Dimension() {
		return u.cache.LookupVector(ctx, vector, kind)
	}
	return u.cache.Lookup(ctx, query, kind)
}

func missionData(segments []domain.Segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.ConcatenatedText
	}
	return strings.Join(parts, "\n")
}

// Generate answers query using only the given mission data.
func (u *AnswerUseCase) Generate(ctx context.Context, query, data string) (string, error) {
	text, err := u.generator.Generate(ctx,
		[]string{ragInstruction, "Apollo mission data: " + data},
		"User question: "+query,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	u.logger.Debug("generated answer", "model", u.generator.ModelName(), "chars", len(text))
	return text, nil
}

// SearchUtterances returns the utterances closest to query.
func (u *AnswerUseCase) SearchUtterances(ctx context.Context, query string) (*UtteranceSearch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	out := &UtteranceSearch{Query: query}

	results, err := u.searchText(ctx, domain.FieldText, domain.CollectionUtterances, query, u.opts.TopK, &out.Timings)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		out.Matches = append(out.Matches, UtteranceMatch{
			ID:    r.ID,
			Text:  r.Metadata[domain.MetaText],
			Score: r.Distance,
		})
	}
	return out, nil
}

// SearchByDescription returns the photographs whose descriptions are closest to query.
func (u *AnswerUseCase) SearchByDescription(ctx context.Context, query string) (*PhotoSearch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	out := &PhotoSearch{Query: query}

	results, err := u.searchText(ctx, domain.FieldDescription, domain.CollectionPhotoDescriptions, query, u.opts.TopK, &out.Timings)
	if err != nil {
		return nil, err
	}
	out.Matches = u.photoMatches(results)
	return out, nil
}

// SearchByImage returns the photographs that look most like the given image.
// The image is stored under the probe id for the duration of the search and
// never appears in the results.
func (u *AnswerUseCase) SearchByImage(ctx context.Context, q ImageQuery) (*PhotoSearch, error) {
	path, err := u.resolveImage(q)
	if err != nil {
		return nil, err
	}
	out := &PhotoSearch{ImagePath: path}

	embedder, err := u.embedders.Image()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image embedder: %w", err)
	}

	start := time.Now()
	vector, err := embedder.EmbedImage(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to embed image: %w", err)
	}
	out.Timings.Embedding = time.Since(start)

	u.probeMu.Lock()
	defer u.probeMu.Unlock()

	start = time.Now()
	probe := port.VectorItem{
		ID:       domain.ProbeID,
		Vector:   vector,
		Metadata: map[string]string{domain.MetaSource: domain.ProbeID},
	}
	if err := u.vectors.Put(domain.CollectionPhotoImages, []port.VectorItem{probe}); err != nil {
		return nil, fmt.Errorf("failed to store probe image: %w", err)
	}
	defer func() {
		if err := u.vectors.Delete(domain.CollectionPhotoImages, []string{domain.ProbeID}); err != nil {
			u.logger.Warn("failed to remove probe image", "error", err)
		}
	}()

	results, err := u.vectors.KNN(domain.CollectionPhotoImages, vector, u.opts.ImageTopK, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", domain.CollectionPhotoImages, err)
	}
	kept := results[:0]
	for _, r := range results {
		if r.ID != domain.ProbeID {
			kept = append(kept, r)
		}
	}
	out.Matches = u.photoMatches(kept)
	out.Timings.Search = time.Since(start)

	return out, nil
}

func (u *AnswerUseCase) resolveImage(q ImageQuery) (string, error) {
	switch {
	case q.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(q.Base64)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		f, err := os.CreateTemp(u.opts.TempDir, "uploaded-image-*.jpg")
		if err != nil {
			return "", fmt.Errorf("failed to save uploaded image: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("failed to save uploaded image: %w", err)
		}
		u.logger.Info("received base64 image", "path", f.Name())
		return f.Name(), nil
	case q.Path != "":
		u.logger.Info("received image path", "path", q.Path)
		return q.Path, nil
	default:
		return "", domain.ErrNoImage
	}
}

func (u *AnswerUseCase) searchText(ctx context.Context, field, collection, query string, k int, timings *Timings) ([]port.VectorResult, error) {
	embedder, err := u.embedders.Text(field)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder for %s: %w", field, err)
	}

	start := time.Now()
	vector, err := embedOne(ctx, embedder, query)
	if err != nil {
		return nil, err
	}
	timings.Embedding = time.Since(start)

	start = time.Now()
	results, err := u.vectors.KNN(collection, vector, k, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}
	timings.Search = time.Since(start)
	return results, nil
}

func (u *AnswerUseCase) photoMatches(results []port.VectorResult) []PhotoMatch {
	prefix := filepath.ToSlash(u.opts.StaticPrefix)
	out := make([]PhotoMatch, 0, len(results))
	for _, r := range results {
		p, err := u.records.GetPhotograph(r.ID)
		if err != nil {
			u.logger.Warn("retrieved vector has no photograph", "id", r.ID, "error", err)
			continue
		}
		path := filepath.ToSlash(p.ImagePath)
		if prefix != "" {
			path = strings.TrimPrefix(path, prefix)
		}
		out = append(out, PhotoMatch{
			ID:          p.ID,
			ImagePath:   path,
			Description: p.Description,
			Score:       r.Distance,
		})
	}
	return out
}

func embedOne(ctx context.Context, embedder port.Embedder, text string) ([]float32, error) {
	vecs, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// FormatUtterances renders utterances as "timestamp - speaker: text" lines.
func FormatUtterances(utterances []domain.Utterance) string {
	lines := make([]string, len(utterances))
	for i, utt := range utterances {
		lines[i] = utt.ID + " - " + utt.Speaker + ": " + utt.Text
	}
	return strings.Join(lines, "\n")
}
