package usecase

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"apollorag/config"
	"apollorag/internal/adapter/embedding"
	"apollorag/internal/adapter/fs"
	"apollorag/internal/adapter/llm"
	"apollorag/internal/adapter/memstore"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRows(t *testing.T, path string, rows [][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func testDataConfig(t *testing.T) config.DataConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig().Data
	cfg.Dir = filepath.Join(dir, "data")
	cfg.ImagesDir = filepath.Join(dir, "static")

	writeRows(t, filepath.Join(cfg.Dir, "Apollo11_Data", "gUtteranceData1.json"), [][]string{
		{"0000000", "CDR", "Liftoff.", "ARMSTRONG"},
		{"0000100", "CC", "Roger.", "DUKE"},
		{"0000130", "CMP", "...", "COLLINS"},
		{"bad", "CC", "Broken row.", "DUKE"},
	})
	writeRows(t, filepath.Join(cfg.Dir, "Apollo11_Data", "gUtteranceData2.json"), [][]string{
		{"0000200", "CC", "Roger.", "DUKE"},
		{"0000400", "LMP", "Staging.", "ALDRIN"},
	})
	writeRows(t, filepath.Join(cfg.Dir, "Apollo11_Data", "gTOCData1.json"), [][]string{
		{"00:00:00", "Launch", "Liftoff"},
		{"00:03:00", "Staging", "First stage"},
		{"00:01:00", "TV", "Video: onboard"},
	})
	writeRows(t, filepath.Join(cfg.Dir, "Apollo11_Data", "gPhotoData1.json"), [][]string{
		{"100", "AS11-36-5305", "", "https://example.org/5305", "Saturn V during launch"},
	})

	img := ImagePath(cfg.ImagesDir, 100)
	require.NoError(t, os.MkdirAll(filepath.Dir(img), 0755))
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0644))
	return cfg
}

func TestLoadUseCase(t *testing.T) {
	ctx := context.Background()
	cfg := testDataConfig(t)
	ms := memstore.NewMemoryStore()
	u := NewLoadUseCase(ms, ms, fs.NewFinder(), cfg, nil)

	res, err := u.LoadUtterances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 4, res.Saved)
	assert.Equal(t, 1, res.Rejected())

	frequent, err := ms.Frequent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Roger."}, frequent)

	toc, err := u.LoadTOC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, toc.Saved)

	photos, err := u.LoadPhotographs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, photos.Saved)
	p, err := ms.GetPhotograph("100")
	require.NoError(t, err)
	assert.Equal(t, ImagePath(cfg.ImagesDir, 100), p.ImagePath)

	again, err := u.LoadPhotographs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Saved)
	assert.Equal(t, 1, again.Skipped)
}

func TestLoadUtterances_ReloadKeepsNoiseCounts(t *testing.T) {
	ctx := context.Background()
	cfg := testDataConfig(t)
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "reload.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	u := NewLoadUseCase(st, st, fs.NewFinder(), cfg, nil)

	_, err = u.LoadUtterances(ctx)
	require.NoError(t, err)

	again, err := u.LoadUtterances(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Saved)
	assert.Equal(t, 4, again.Skipped)

	frequent, err := st.Frequent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Roger."}, frequent, "text seen once must not become noise after a reload")

	n, err := st.CountUtterances()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestLoadTOC_KeepsEnrichment(t *testing.T) {
	ctx := context.Background()
	cfg := testDataConfig(t)
	ms := memstore.NewMemoryStore()
	require.NoError(t, ms.PutSegments([]domain.Segment{{ID: "00;00;00", ConcatenatedText: "CDR:Liftoff.", Summary: "kept"}}))

	_, err := NewLoadUseCase(ms, ms, fs.NewFinder(), cfg, nil).LoadTOC(ctx)
	require.NoError(t, err)

	seg, err := ms.GetSegment("00;00;00")
	require.NoError(t, err)
	assert.Equal(t, "Launch", seg.Title)
	assert.Equal(t, "kept", seg.Summary)
	assert.Equal(t, "CDR:Liftoff.", seg.ConcatenatedText)
}

func TestPipelineUseCase_Run(t *testing.T) {
	ctx := context.Background()
	cfg := testDataConfig(t)

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	vs, err := store.NewBoltVectorStore(st.DB())
	require.NoError(t, err)

	emb := embedding.NewMockEmbedder(4)
	set := embedding.StaticSet{TextEmbedder: emb, ImageEmbedder: emb}
	gen := llm.NewMockGenerator().Respond(func(system []string, user string) (string, error) {
		if system[0] == questionsInstruction {
			return "What happened at liftoff?\nWho said roger?", nil
		}
		return "Summary: " + user, nil
	})

	p := NewPipelineUseCase(st,
		NewLoadUseCase(st, st, fs.NewFinder(), cfg, nil),
		NewGrouper(st, st, 2, nil),
		NewEnricher(st, gen, nil),
		NewIndexUseCase(st, vs, set, nil),
		nil,
	)

	res, err := p.Run(ctx, PipelineOptions{})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.Equal(t, 4, res.Utterances.Saved)
	assert.Equal(t, 2, res.Group.Grouped)
	assert.Equal(t, 2, res.Summaries.Enriched)
	assert.Equal(t, 2, res.Questions.Enriched)
	assert.Equal(t, 1, res.Photographs.Saved)
	require.Len(t, res.Index, 5)

	seg, err := st.GetSegment("00;00;00")
	require.NoError(t, err)
	assert.Equal(t, "CDR:Liftoff.", seg.ConcatenatedText, "noise is filtered from windows")

	counts := map[string]int{}
	for _, c := range []string{
		domain.CollectionQuestions,
		domain.CollectionSummaries,
		domain.CollectionUtterances,
		domain.CollectionPhotoDescriptions,
		domain.CollectionPhotoImages,
	} {
		n, err := vs.Count(c)
		require.NoError(t, err)
		counts[c] = n
	}
	assert.Equal(t, map[string]int{
		domain.CollectionQuestions:         4,
		domain.CollectionSummaries:         2,
		domain.CollectionUtterances:        4,
		domain.CollectionPhotoDescriptions: 1,
		domain.CollectionPhotoImages:       1,
	}, counts)

	again, err := p.Run(ctx, PipelineOptions{})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Len(t, gen.Calls(), 4)
}
