package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"apollorag/internal/adapter/cache"
	"apollorag/internal/adapter/embedding"
	"apollorag/internal/adapter/llm"
	"apollorag/internal/adapter/memstore"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"
	"apollorag/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	askWhatTime = "What time did Apollo 11 launch?"
	askWhen     = "When did Apollo 11 launch?"
)

type answerFixture struct {
	records *memstore.MemoryStore
	vectors *store.BoltVectorStore
	emb     *embedding.MockEmbedder
	gen     *llm.MockGenerator
	cache   *cache.SemanticCache
	static  string
}

func newAnswerFixture(t *testing.T) *answerFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "answer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	vs, err := store.NewBoltVectorStore(st.DB())
	require.NoError(t, err)

	static := filepath.Join(t.TempDir(), "static")
	emb := embedding.NewMockEmbedder(3).
		Set(askWhatTime, []float32{1, 0, 0}).
		Set(askWhen, []float32{0.96, 0.28, 0}).
		Set("When was liftoff?", []float32{1, 0, 0}).
		Set("Who flew the LM?", []float32{0, 1, 0}).
		Set("What is the roll program?", []float32{0.7, 0.7, 0}).
		Set("Where did they land?", []float32{0, 0, 1}).
		Set("Dense launch summary.", []float32{1, 0, 0}).
		Set("Dense landing summary.", []float32{0, 0, 1}).
		Set("Liftoff.", []float32{1, 0, 0}).
		Set("Tranquility base here.", []float32{0, 0, 1}).
		Set("Earthrise over the lunar horizon", []float32{0, 1, 0}).
		Set("Footprint in the regolith", []float32{0, 0, 1}).
		Set(filepath.Join(static, "images", "apollo11", "100.jpg"), []float32{0, 1, 0}).
		Set(filepath.Join(static, "images", "apollo11", "200.jpg"), []float32{0, 0, 1})

	ms := memstore.NewMemoryStore()
	liftoff := domain.Utterance{ID: "0000000", Offset: 0, Speaker: "CDR", SpeakerID: "ARMSTRONG", Text: "Liftoff."}
	landed := domain.Utterance{ID: "1024020", Offset: 102*3600 + 40*60 + 20, Speaker: "CDR", SpeakerID: "ARMSTRONG", Text: "Tranquility base here."}
	require.NoError(t, ms.PutUtterances([]domain.Utterance{liftoff, landed}))
	require.NoError(t, ms.PutSegments([]domain.Segment{
		{ID: "000;00;00", StartOffset: 0, ConcatenatedText: "CDR:Liftoff.", Utterances: []domain.Utterance{liftoff},
			Summary: "Dense launch summary.", Questions: []string{"When was liftoff?"}},
		{ID: "000;02;00", StartOffset: 120, ConcatenatedText: "CC:LM check.", Questions: []string{"Who flew the LM?"}},
		{ID: "000;05;00", StartOffset: 300, ConcatenatedText: "CC:Roll.", Questions: []string{"What is the roll program?"}},
		{ID: "102;40;00", StartOffset: 102*3600 + 40*60, ConcatenatedText: "CDR:Tranquility base here.", Utterances: []domain.Utterance{landed},
			Summary: "Dense landing summary.", Questions: []string{"Where did they land?"}},
	}))
	require.NoError(t, ms.PutPhotographs([]domain.Photograph{
		{ID: "100", Name: "AS11-44-6550", ImagePath: filepath.Join(static, "images", "apollo11", "100.jpg"), Description: "Earthrise over the lunar horizon"},
		{ID: "200", Name: "AS11-40-5877", ImagePath: filepath.Join(static, "images", "apollo11", "200.jpg"), Description: "Footprint in the regolith"},
	}))

	_, err = NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil).IndexAll(ctx, IndexOptions{})
	require.NoError(t, err)

	return &answerFixture{
		records: ms,
		vectors: vs,
		emb:     emb,
		gen: llm.NewMockGenerator().Respond(func([]string, string) (string, error) {
			return "Apollo 11 launched at 13:32 UTC.", nil
		}),
		cache:  cache.NewSemanticCache(emb, vs, nil),
		static: static,
	}
}

func (f *answerFixture) answerer(opts AnswerOptions) *AnswerUseCase {
	opts.CacheEnabled = true
	return NewAnswerUseCase(f.records, f.vectors, embedding.StaticSet{TextEmbedder: f.emb, ImageEmbedder: f.emb}, f.gen, f.cache, opts, nil)
}

func TestAnswer_QuestionRetrieval(t *testing.T) {
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{})

	ans, err := a.AskQuestion(context.Background(), AnswerRequest{Query: askWhatTime})
	require.NoError(t, err)
	require.Len(t, ans.Matches, 3)

	first := ans.Matches[0]
	assert.Equal(t, "000;00;00", first.SegmentID)
	assert.Equal(t, "When was liftoff?", first.Question)
	assert.InDelta(t, 0, first.Score, 1e-6)
	assert.Equal(t, "0000000 - CDR: Liftoff.", FormatUtterances(first.Utterances))

	assert.Equal(t, "000;05;00", ans.Matches[1].SegmentID)
	for i := 1; i < len(ans.Matches); i++ {
		assert.LessOrEqual(t, ans.Matches[i-1].Score, ans.Matches[i].Score)
	}
	assert.Empty(t, ans.RagAnswer)
	assert.Empty(t, f.gen.Calls())
}

func TestAnswer_RagAndCache(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{TopK: 1})

	ans, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)
	assert.False(t, ans.Cached)
	assert.Equal(t, "Apollo 11 launched at 13:32 UTC.", ans.RagAnswer)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{ragInstruction, "Apollo mission data: CDR:Liftoff."}, calls[0].System)
	assert.Equal(t, "User question: "+askWhatTime, calls[0].User)

	n, err := f.cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A paraphrase 0.04 away is served from the cache.
	hit, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhen, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	assert.Equal(t, "Apollo 11 launched at 13:32 UTC.", hit.RagAnswer)
	assert.Equal(t, askWhatTime, hit.CachedQuery)
	assert.InDelta(t, 0.04, hit.CachedScore, 1e-6)
	assert.Empty(t, hit.Matches)
	assert.Len(t, f.gen.Calls(), 1, "cache hit must skip generation")
}

func TestAnswer_CacheKindIsolation(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{})

	_, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)

	ans, err := a.AskSummary(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)
	assert.False(t, ans.Cached)
	assert.Len(t, f.gen.Calls(), 2)
	require.NotEmpty(t, ans.Matches)
	assert.Equal(t, "Dense launch summary.", ans.Matches[0].Summary)
}

func TestAnswer_CacheMissAboveThreshold(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)

	threshold := 0.03
	a := f.answerer(AnswerOptions{DistanceThreshold: &threshold})
	_, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)

	ans, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhen, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)
	assert.False(t, ans.Cached, "a neighbour 0.04 away is outside a 0.03 threshold")
	assert.Len(t, f.gen.Calls(), 2)
}

func TestAnswer_ZeroThresholdNeverHits(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)

	zero := 0.0
	a := f.answerer(AnswerOptions{DistanceThreshold: &zero})
	for range 2 {
		ans, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
		require.NoError(t, err)
		assert.False(t, ans.Cached, "nothing is strictly closer than 0")
	}
	assert.Len(t, f.gen.Calls(), 2)

	n, err := f.cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "answers are still written")
}

func TestAnswer_CacheDisabledPerRequest(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{})

	_, err := a.AskQuestion(ctx, AnswerRequest{Query: askWhatTime, EnableRag: true})
	require.NoError(t, err)

	n, err := f.cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAnswer_GenerationErrorPropagates(t *testing.T) {
	f := newAnswerFixture(t)
	boom := errors.New("model overloaded")
	f.gen.Respond(func([]string, string) (string, error) { return "", boom })

	_, err := f.answerer(AnswerOptions{}).AskSummary(context.Background(), AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.ErrorIs(t, err, boom)

	n, err := f.cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type failingCacheWrites struct{ port.VectorStore }

func (failingCacheWrites) Put(string, []port.VectorItem) error {
	return errors.New("disk full")
}

func TestAnswer_CacheStoreFailureNotSurfaced(t *testing.T) {
	f := newAnswerFixture(t)
	f.cache = cache.NewSemanticCache(f.emb, failingCacheWrites{f.vectors}, nil)

	ans, err := f.answerer(AnswerOptions{}).AskQuestion(context.Background(), AnswerRequest{Query: askWhatTime, EnableRag: true, EnableSemanticCache: true})
	require.NoError(t, err)
	assert.Equal(t, "Apollo 11 launched at 13:32 UTC.", ans.RagAnswer)
}

func TestAnswer_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{})
	before := f.emb.Calls()

	_, err := a.AskQuestion(ctx, AnswerRequest{Query: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	_, err = a.SearchUtterances(ctx, "")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	_, err = a.SearchByDescription(ctx, "")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	_, err = a.SearchByImage(ctx, ImageQuery{})
	assert.ErrorIs(t, err, domain.ErrNoImage)
	_, err = a.SearchByImage(ctx, ImageQuery{Base64: "not base64!"})
	assert.ErrorIs(t, err, domain.ErrInvalidImage)

	assert.Equal(t, before, f.emb.Calls(), "invalid requests must not reach the embedder")
}

func TestAnswer_SearchUtterances(t *testing.T) {
	f := newAnswerFixture(t)
	res, err := f.answerer(AnswerOptions{}).SearchUtterances(context.Background(), askWhatTime)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "Liftoff.", res.Matches[0].Text)
	assert.Equal(t, "0000000", res.Matches[0].ID)
}

func TestAnswer_SearchByDescription(t *testing.T) {
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{StaticPrefix: f.static})

	res, err := a.SearchByDescription(context.Background(), "Footprint in the regolith")
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "200", res.Matches[0].ID)
	assert.Equal(t, "/images/apollo11/200.jpg", res.Matches[0].ImagePath)
	assert.Equal(t, "Footprint in the regolith", res.Matches[0].Description)
}

func TestAnswer_SearchByImage(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t)
	a := f.answerer(AnswerOptions{StaticPrefix: f.static, TempDir: t.TempDir()})

	// A known path reuses its pinned vector.
	res, err := a.SearchByImage(ctx, ImageQuery{Path: filepath.Join(f.static, "images", "apollo11", "100.jpg")})
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "100", res.Matches[0].ID)
	assert.InDelta(t, 0, res.Matches[0].Score, 1e-6)

	// An upload is written to a temp file and never matches itself.
	upload := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	res, err = a.SearchByImage(ctx, ImageQuery{Base64: upload, Path: "ignored.jpg"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(res.ImagePath), "uploaded-image-"))
	data, err := os.ReadFile(res.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	for _, m := range res.Matches {
		assert.NotEqual(t, domain.ProbeID, m.ID)
	}
	has, err := f.vectors.Has(domain.CollectionPhotoImages, []string{domain.ProbeID})
	require.NoError(t, err)
	assert.False(t, has[domain.ProbeID], "the query image is removed after the search")
}
