package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"apollorag/internal/adapter/embedding"
	"apollorag/internal/adapter/memstore"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndexFixture(t *testing.T) (*memstore.MemoryStore, *store.BoltVectorStore, *embedding.MockEmbedder) {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	vs, err := store.NewBoltVectorStore(st.DB())
	require.NoError(t, err)

	ms := memstore.NewMemoryStore()
	require.NoError(t, ms.PutSegments([]domain.Segment{
		{ID: "000;00;00", ConcatenatedText: "CDR:Liftoff.", Summary: "Launch.", Questions: []string{"When was liftoff?", "Who called liftoff?"}},
		{ID: "000;02;00", ConcatenatedText: "CC:Roger.", Questions: []string{"  "}},
	}))
	return ms, vs, embedding.NewMockEmbedder(4)
}

func TestIndexQuestions_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	ms, vs, emb := newIndexFixture(t)
	u := NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil)

	var progress []int
	res, err := u.IndexQuestions(ctx, IndexOptions{BatchSize: 1, Progress: func(c string, done, total int) {
		assert.Equal(t, domain.CollectionQuestions, c)
		progress = append(progress, done)
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Docs, "blank questions are not embedded")
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, []int{1, 2}, progress)

	item, ok, err := vs.Get(domain.CollectionQuestions, QuestionDocID("000;00;00", 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "000;00;00", item.Metadata[domain.MetaSource])
	assert.Equal(t, "Who called liftoff?", item.Metadata[domain.MetaText])

	calls := emb.Calls()
	again, err := u.IndexQuestions(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Zero(t, again.Embedded)
	assert.Equal(t, calls, emb.Calls(), "existing vectors are not re-embedded")

	over, err := u.IndexQuestions(ctx, IndexOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, over.Embedded)
}

func TestIndexQuestions_RemovesStaleVectors(t *testing.T) {
	ctx := context.Background()
	ms, vs, emb := newIndexFixture(t)
	u := NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil)

	_, err := u.IndexQuestions(ctx, IndexOptions{})
	require.NoError(t, err)

	// Regenerated with a single, reworded question.
	require.NoError(t, ms.PutSegments([]domain.Segment{
		{ID: "000;00;00", ConcatenatedText: "CDR:Liftoff.", Summary: "Launch.", Questions: []string{"Where was liftoff?"}},
	}))

	res, err := u.IndexQuestions(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded, "reworded question is embedded again")
	assert.Zero(t, res.Skipped)

	has, err := vs.Has(domain.CollectionQuestions, []string{QuestionDocID("000;00;00", 1)})
	require.NoError(t, err)
	assert.False(t, has[QuestionDocID("000;00;00", 1)])

	item, ok, err := vs.Get(domain.CollectionQuestions, QuestionDocID("000;00;00", 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Where was liftoff?", item.Metadata[domain.MetaText])

	n, err := vs.Count(domain.CollectionQuestions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexSummaries_EmbedFailureReported(t *testing.T) {
	ms, vs, emb := newIndexFixture(t)
	emb.Fail(errors.New("rate limited"))
	u := NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil)

	res, err := u.IndexSummaries(context.Background(), IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs)
	assert.Zero(t, res.Embedded)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "rate limited")
}

func TestIndexPhotoImages_SkipsTransientAndMissingFiles(t *testing.T) {
	ms, vs, emb := newIndexFixture(t)
	present := filepath.Join(t.TempDir(), "100.jpg")
	emb.Set(present, []float32{1, 0, 0, 0})
	require.NoError(t, ms.PutPhotographs([]domain.Photograph{
		{ID: "100", ImagePath: present},
		{ID: "200", ImagePath: filepath.Join(t.TempDir(), "missing.jpg")},
		{ID: domain.ProbeID, ImagePath: present},
	}))
	u := NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil)

	res, err := u.IndexPhotoImages(context.Background(), IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Docs)
	assert.Equal(t, 1, res.Embedded)
	assert.Len(t, res.Errors, 1)

	n, err := vs.Count(domain.CollectionPhotoImages)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexAll_Cancelled(t *testing.T) {
	ms, vs, emb := newIndexFixture(t)
	u := NewIndexUseCase(ms, vs, embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.IndexAll(ctx, IndexOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
