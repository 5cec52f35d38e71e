package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apollorag/config"
	"apollorag/internal/adapter/cache"
	"apollorag/internal/adapter/embedding"
	"apollorag/internal/adapter/fs"
	"apollorag/internal/adapter/llm"
	"apollorag/internal/adapter/noise"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"
	"apollorag/internal/port"
	"apollorag/internal/usecase"

	"github.com/schollz/progressbar/v3"
)

// Query embeddings repeat often enough in an interactive session to be
// worth keeping in memory.
const (
	queryCacheSize = 1000
	queryCacheTTL  = time.Hour
)

// app holds the opened stores and adapters shared by every command.
type app struct {
	cfg       *config.Config
	store     *store.BoltStore
	vectors   *store.BoltVectorStore
	noise     port.NoiseCounter
	embedders *embedding.Set
	redis     *noise.RedisCounter
}

// openApp opens the database, runs any pending migration and connects the
// configured noise backend.
func openApp(ctx context.Context) (*app, error) {
	cfg := GetConfig()
	dir := GetRootDir()

	if err := cfg.EnsureStoreDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	st, err := store.NewBoltStore(cfg.StorePath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	vs, err := store.NewBoltVectorStore(st.DB())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	migrationResult, err := st.CheckMigration(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}

	if migrationResult.NeedsRebuild {
		fmt.Printf("Vector rebuild required: %s\n", migrationResult.Reason)
		fmt.Println("Clearing existing embeddings...")
		if err := st.ClearVectors(vs); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to clear embeddings: %w", err)
		}
	}
	if migrationResult.NeedsRebuild || migrationResult.NeedsMigration {
		if migrationResult.NeedsMigration {
			fmt.Printf("Running schema migration: %s\n", migrationResult.Reason)
		}
		if err := st.Migrate(cfg); err != nil {
			st.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		vectors:   vs,
		noise:     st,
		embedders: embedding.NewSet(cfg.Embedding),
	}

	if cfg.Noise.Backend == "redis" {
		rc, err := noise.ConnectRedis(ctx, cfg.Noise.RedisAddr, cfg.Noise.RedisKey)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.redis = rc
		a.noise = rc
	}

	return a, nil
}

func (a *app) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	return a.store.Close()
}

func (a *app) loader() *usecase.LoadUseCase {
	data := a.cfg.Data
	data.Dir = resolvePath(data.Dir)
	data.ImagesDir = resolvePath(data.ImagesDir)
	return usecase.NewLoadUseCase(a.store, a.noise, fs.NewFinder(), data, logger)
}

func (a *app) grouper() *usecase.Grouper {
	return usecase.NewGrouper(a.store, a.noise, a.cfg.Noise.MinRepetitions, logger)
}

func (a *app) enricher(ctx context.Context) (*usecase.Enricher, error) {
	gen, err := llm.New(ctx, a.cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return usecase.NewEnricher(a.store, gen, logger), nil
}

func (a *app) indexer() *usecase.IndexUseCase {
	return usecase.NewIndexUseCase(a.store, a.vectors, a.embedders, logger)
}

// semanticCache builds the cache over its own query embedder, memoising
// repeated query embeddings.
func (a *app) semanticCache() (*cache.SemanticCache, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	emb, err := a.embedders.Text(domain.FieldCacheQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache embedder: %w", err)
	}
	cached := cache.NewCachedEmbedder(emb, cache.NewVectorCache(queryCacheSize, queryCacheTTL))
	return cache.NewSemanticCache(cached, a.vectors, logger), nil
}

func (a *app) answerer(ctx context.Context) (*usecase.AnswerUseCase, *cache.SemanticCache, error) {
	gen, err := llm.New(ctx, a.cfg.Generator)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create generator: %w", err)
	}
	sc, err := a.semanticCache()
	if err != nil {
		return nil, nil, err
	}

	answers := usecase.NewAnswerUseCase(a.store, a.vectors, a.embedders, gen, sc, usecase.AnswerOptions{
		TopK:              a.cfg.Retrieve.TopK,
		ImageTopK:         a.cfg.Retrieve.ImageTopK,
		CacheEnabled:      a.cfg.Cache.Enabled,
		DistanceThreshold: &a.cfg.Cache.DistanceThreshold,
		StaticPrefix:      resolvePath(a.cfg.Data.ImagesDir),
	}, logger)
	return answers, sc, nil
}

// progress renders a lazily created progress bar with an ETA. It is safe
// for concurrent callbacks. A new run reusing the same callback starts a
// new bar.
type progress struct {
	label string

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	started time.Time
	total   int
	last    int
}

func newProgress(label string) *progress {
	return &progress{label: label}
}

func (p *progress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil && (total != p.total || (done == 1 && p.last > 1)) {
		p.bar.Finish()
		p.bar = nil
	}
	if p.bar == nil {
		p.started = time.Now()
		p.total = total
		p.last = 0
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", p.label)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	// Concurrent tasks may report out of order.
	if done < p.last {
		return
	}
	p.last = done
	p.bar.Set(done)

	if done > 0 {
		elapsed := time.Since(p.started)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			p.bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", p.label, formatDuration(eta)))
		}
	}
}

// collectionProgress keeps one bar per vector collection.
func collectionProgress() func(collection string, done, total int) {
	var mu sync.Mutex
	bars := make(map[string]*progress)
	return func(collection string, done, total int) {
		mu.Lock()
		p, ok := bars[collection]
		if !ok {
			p = newProgress("Embedding " + collection)
			bars[collection] = p
		}
		mu.Unlock()
		p.update(done, total)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
