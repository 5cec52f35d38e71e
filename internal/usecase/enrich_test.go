package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"apollorag/internal/adapter/llm"
	"apollorag/internal/adapter/memstore"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedStore(t *testing.T, n int) *memstore.MemoryStore {
	t.Helper()
	ms := memstore.NewMemoryStore()
	segs := make([]domain.Segment, 0, n+1)
	for i := 0; i < n; i++ {
		segs = append(segs, domain.Segment{
			ID:               fmt.Sprintf("seg-%03d", i),
			StartOffset:      i * 100,
			ConcatenatedText: fmt.Sprintf("CC: transcript %d", i),
		})
	}
	// Never populated; must not be targeted.
	segs = append(segs, domain.Segment{ID: "empty", StartOffset: n * 100})
	require.NoError(t, ms.PutSegments(segs))
	ms.SegmentWrites = 0
	return ms
}

func TestEnricher_Summaries(t *testing.T) {
	ms := populatedStore(t, 5)
	gen := llm.NewMockGenerator()

	res, err := NewEnricher(ms, gen, nil).Run(context.Background(), Summarization, EnrichOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, &EnrichResult{Targeted: 5, Enriched: 5, Batches: 3}, res)
	assert.Equal(t, 3, ms.SegmentWrites, "one write per batch")

	seg, err := ms.GetSegment("seg-003")
	require.NoError(t, err)
	assert.Equal(t, "mock: CC: transcript 3", seg.Summary)

	calls := gen.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, []string{summaryInstruction}, calls[0].System)
	assert.True(t, strings.HasPrefix(calls[0].User, "CC: transcript"))
}

func TestEnricher_BlankQuestionsStayEnriched(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.PutSegments([]domain.Segment{{ID: "seg-000", ConcatenatedText: "CC:static"}}))

	gen := llm.NewMockGenerator().Respond(func(_ []string, _ string) (string, error) {
		return "\n  \n", nil
	})
	e := NewEnricher(st, gen, nil)

	first, err := e.Run(ctx, QuestionGeneration, EnrichOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Enriched)

	seg, err := st.GetSegment("seg-000")
	require.NoError(t, err)
	assert.NotNil(t, seg.Questions, "an empty question list survives the store round trip")
	assert.Empty(t, seg.Questions)

	second, err := e.Run(ctx, QuestionGeneration, EnrichOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.Targeted)
	assert.Len(t, gen.Calls(), 1)
}

func TestEnricher_FailureIsolation(t *testing.T) {
	ms := populatedStore(t, 10)
	gen := llm.NewMockGenerator().Respond(func(_ []string, user string) (string, error) {
		if user == "CC: transcript 4" {
			return "", errors.New("rate limited")
		}
		return "summary of " + user, nil
	})

	res, err := NewEnricher(ms, gen, nil).Run(context.Background(), Summarization, EnrichOptions{})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Enriched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, ms.SegmentWrites)

	failed, err := ms.GetSegment("seg-004")
	require.NoError(t, err)
	assert.Empty(t, failed.Summary)

	ok, err := ms.GetSegment("seg-005")
	require.NoError(t, err)
	assert.Equal(t, "summary of CC: transcript 5", ok.Summary)
}

func TestEnricher_NoWriteWithoutSuccess(t *testing.T) {
	ms := populatedStore(t, 3)
	gen := llm.NewMockGenerator().Respond(func([]string, string) (string, error) {
		return "", errors.New("provider down")
	})

	res, err := NewEnricher(ms, gen, nil).Run(context.Background(), QuestionGeneration, EnrichOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, ms.SegmentWrites)
}

func TestEnricher_Idempotent(t *testing.T) {
	ctx := context.Background()
	ms := populatedStore(t, 4)
	gen := llm.NewMockGenerator()
	e := NewEnricher(ms, gen, nil)

	_, err := e.Run(ctx, Summarization, EnrichOptions{})
	require.NoError(t, err)

	res, err := e.Run(ctx, Summarization, EnrichOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Targeted)
	assert.Len(t, gen.Calls(), 4)

	res, err = e.Run(ctx, Summarization, EnrichOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Enriched)
	assert.Len(t, gen.Calls(), 8)
}

func TestEnricher_Questions(t *testing.T) {
	ms := populatedStore(t, 1)
	gen := llm.NewMockGenerator().Respond(func([]string, string) (string, error) {
		return "When was liftoff?\n\n  \nWho was on the radio?\n", nil
	})

	_, err := NewEnricher(ms, gen, nil).Run(context.Background(), QuestionGeneration, EnrichOptions{})
	require.NoError(t, err)

	seg, err := ms.GetSegment("seg-000")
	require.NoError(t, err)
	assert.Equal(t, []string{"When was liftoff?", "Who was on the radio?"}, seg.Questions)
	assert.Equal(t, []string{questionsInstruction}, gen.Calls()[0].System)
}

func TestEnricher_BoundedWorkers(t *testing.T) {
	ms := populatedStore(t, 12)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	gen := llm.NewMockGenerator().Respond(func(_ []string, user string) (string, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return user, nil
	})

	var progress []int
	var pmu sync.Mutex
	res, err := NewEnricher(ms, gen, nil).Run(context.Background(), Summarization, EnrichOptions{
		BatchSize: 6,
		Workers:   2,
		Progress: func(done, total int) {
			pmu.Lock()
			defer pmu.Unlock()
			progress = append(progress, done)
			assert.Equal(t, 12, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Enriched)
	assert.Equal(t, 2, res.Batches)
	assert.LessOrEqual(t, peak, 2)
	assert.Len(t, progress, 12)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, progress)
}

func TestEnricher_CancelBetweenBatches(t *testing.T) {
	ms := populatedStore(t, 4)
	ctx, cancel := context.WithCancel(context.Background())

	gen := llm.NewMockGenerator().Respond(func(_ []string, user string) (string, error) {
		return user, nil
	})

	var once sync.Once
	res, err := NewEnricher(ms, gen, nil).Run(ctx, Summarization, EnrichOptions{
		BatchSize: 2,
		Workers:   1,
		Progress: func(done, _ int) {
			if done == 2 {
				once.Do(cancel)
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 2, res.Enriched)
	assert.Equal(t, 1, ms.SegmentWrites, "the batch in flight is still saved")
}
