package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"apollorag/internal/domain"
	"apollorag/internal/port"

	"golang.org/x/sync/errgroup"
)

// DefaultEnrichBatchSize bounds how many segments are generated and saved together.
const DefaultEnrichBatchSize = 300

const summaryInstruction = `You are a helpful assistant who summarizes utterances of the Apollo 11 mission.
Make these summaries very dense with all curiosities included.
Limit the summary to 512 words.`

const questionsInstruction = `You are a helpful assistant that is helping me predict which questions can be asked by people who are trying to
rediscover the Apollo 11 mission data. You will be given a number of utterances and you will predict the questions that
can be asked by people who are trying to rediscover the Apollo 11 mission data. You will ONLY return the questions separate by breaklines,
and nothing more. You will NEVER return more than 512 words.`

// Variant describes one enrichment: the instruction sent to the generator,
// whether a segment still lacks the field, and how output is written back.
type Variant struct {
	Name        string
	Instruction string
	Missing     func(domain.Segment) bool
	Apply       func(*domain.Segment, string)
}

// Summarization fills Segment.Summary.
var Summarization = Variant{
	Name:        "summary",
	Instruction: summaryInstruction,
	Missing:     func(s domain.Segment) bool { return strings.TrimSpace(s.Summary) == "" },
	Apply:       func(s *domain.Segment, out string) { s.Summary = out },
}

// QuestionGeneration fills Segment.Questions with one question per non-blank line.
var QuestionGeneration = Variant{
	Name:        "questions",
	Instruction: questionsInstruction,
	Missing:     func(s domain.Segment) bool { return s.Questions == nil },
	Apply:       func(s *domain.Segment, out string) { s.Questions = splitQuestions(out) },
}

func splitQuestions(out string) []string {
	questions := []string{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		questions = append(questions, line)
	}
	return questions
}

// EnrichOptions tunes an enrichment run.
type EnrichOptions struct {
	Overwrite bool
	BatchSize int // defaults to DefaultEnrichBatchSize
	Workers   int // concurrent generator calls per batch, defaults to the batch size

	// Progress is called after every finished task with the number of tasks
	// done so far and the total targeted. It may be called concurrently.
	Progress func(done, total int)
}

// EnrichResult reports one enrichment run.
type EnrichResult struct {
	Targeted int
	Enriched int
	Failed   int
	Batches  int
}

// Enricher runs a Variant over stored segments.
type Enricher struct {
	records   port.RecordStore
	generator port.Generator
	logger    *slog.Logger
}

func NewEnricher(records port.RecordStore, generator port.Generator, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		records:   records,
		generator: generator,
		logger:    logger,
	}
}

// Run enriches every populated segment that lacks the variant's field, or
// every populated segment when opts.Overwrite is set. Batches run one after
// another; tasks within a batch run concurrently. A failed task is logged and
// left out of that batch's write. The context is checked between batches.
func (e *Enricher) Run(ctx context.Context, v Variant, opts EnrichOptions) (*EnrichResult, error) {
	segments, err := e.records.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	var targets []domain.Segment
	for _, seg := range segments {
		if strings.TrimSpace(seg.ConcatenatedText) == "" {
			continue
		}
		if opts.Overwrite || v.Missing(seg) {
			targets = append(targets, seg)
		}
	}

	result := &EnrichResult{Targeted: len(targets)}
	e.logger.Info("found segments to enrich", "variant", v.Name, "count", len(targets))
	if len(targets) == 0 {
		return result, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultEnrichBatchSize
	}
	totalBatches := (len(targets) + batchSize - 1) / batchSize

	var done atomic.Int64
	for b := 0; b < totalBatches; b++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start := b * batchSize
		end := min(start+batchSize, len(targets))
		batch := targets[start:end]

		e.logger.Info("processing batch", "variant", v.Name, "batch", b+1, "of", totalBatches, "size", len(batch))
		processed := e.runBatch(ctx, v, batch, opts, &done, len(targets))

		if len(processed) > 0 {
			if err := e.records.PutSegments(processed); err != nil {
				return result, fmt.Errorf("failed to save batch %d: %w", b+1, err)
			}
			e.logger.Info("saved batch", "variant", v.Name, "batch", b+1, "saved", len(processed))
		}

		result.Batches++
		result.Enriched += len(processed)
		result.Failed += len(batch) - len(processed)
	}

	return result, nil
}

func (e *Enricher) runBatch(ctx context.Context, v Variant, batch []domain.Segment, opts EnrichOptions, done *atomic.Int64, total int) []domain.Segment {
	slots := make([]*domain.Segment, len(batch))

	workers := opts.Workers
	if workers <= 0 {
		workers = len(batch)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range batch {
		g.Go(func() error {
			seg := batch[i]
			out, err := e.generator.Generate(ctx, []string{v.Instruction}, seg.ConcatenatedText)
			if err != nil {
				e.logger.Error("enrichment failed", "variant", v.Name, "segment", seg.ID, "error", err)
			} else {
				v.Apply(&seg, out)
				slots[i] = &seg
			}
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), total)
			}
			return nil
		})
	}
	_ = g.Wait()

	processed := make([]domain.Segment, 0, len(batch))
	for _, s := range slots {
		if s != nil {
			processed = append(processed, *s)
		}
	}
	return processed
}
