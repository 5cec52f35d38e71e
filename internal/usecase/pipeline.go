package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"apollorag/internal/port"
)

// PipelineUseCase runs every data preparation stage in order: utterances,
// table of contents, windowing, summaries, questions, photographs and
// finally embeddings.
type PipelineUseCase struct {
	records  port.RecordStore
	loader   *LoadUseCase
	grouper  *Grouper
	enricher *Enricher
	indexer  *IndexUseCase
	logger   *slog.Logger
}

// NewPipelineUseCase creates a new pipeline use case.
func NewPipelineUseCase(records port.RecordStore, loader *LoadUseCase, grouper *Grouper, enricher *Enricher, indexer *IndexUseCase, logger *slog.Logger) *PipelineUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineUseCase{
		records:  records,
		loader:   loader,
		grouper:  grouper,
		enricher: enricher,
		indexer:  indexer,
		logger:   logger,
	}
}

// PipelineOptions tunes a pipeline run.
type PipelineOptions struct {
	Force     bool // run even when utterances were already loaded
	Overwrite bool
	Enrich    EnrichOptions
	Index     IndexOptions
}

// PipelineResult collects the result of every stage that ran.
type PipelineResult struct {
	Skipped     bool
	Utterances  *LoadResult
	TOC         *LoadResult
	Group       *GroupResult
	Summaries   *EnrichResult
	Questions   *EnrichResult
	Photographs *LoadResult
	Index       []*IndexResult
}

// Run executes the pipeline. When the store already holds utterances the
// run is skipped unless opts.Force is set.
func (u *PipelineUseCase) Run(ctx context.Context, opts PipelineOptions) (*PipelineResult, error) {
	result := &PipelineResult{}

	if !opts.Force {
		n, err := u.records.CountUtterances()
		if err != nil {
			return nil, fmt.Errorf("failed to count utterances: %w", err)
		}
		if n > 0 {
			u.logger.Info("utterances already loaded, skipping pipeline", "utterances", n)
			result.Skipped = true
			return result, nil
		}
	}

	var err error
	if result.Utterances, err = u.loader.LoadUtterances(ctx); err != nil {
		return result, fmt.Errorf("failed to load utterances: %w", err)
	}
	if result.TOC, err = u.loader.LoadTOC(ctx); err != nil {
		return result, fmt.Errorf("failed to load table of contents: %w", err)
	}
	if result.Group, err = u.grouper.Group(ctx, opts.Overwrite); err != nil {
		return result, fmt.Errorf("failed to group utterances: %w", err)
	}

	enrich := opts.Enrich
	enrich.Overwrite = opts.Overwrite
	if result.Summaries, err = u.enricher.Run(ctx, Summarization, enrich); err != nil {
		return result, fmt.Errorf("failed to generate summaries: %w", err)
	}
	if result.Questions, err = u.enricher.Run(ctx, QuestionGeneration, enrich); err != nil {
		return result, fmt.Errorf("failed to generate questions: %w", err)
	}
	if result.Photographs, err = u.loader.LoadPhotographs(ctx, opts.Overwrite); err != nil {
		return result, fmt.Errorf("failed to load photographs: %w", err)
	}

	index := opts.Index
	index.Overwrite = opts.Overwrite
	if result.Index, err = u.indexer.IndexAll(ctx, index); err != nil {
		return result, fmt.Errorf("failed to index: %w", err)
	}

	u.logger.Info("pipeline finished")
	return result, nil
}
