package port

import (
	"context"

	"apollorag/internal/domain"
)

// RecordStore persists the transcript corpus and its enriched segments.
type RecordStore interface {
	PutUtterances(utterances []domain.Utterance) error

	ListUtterances() ([]domain.Utterance, error)

	CountUtterances() (int, error)

	PutSegments(segments []domain.Segment) error

	GetSegment(id string) (domain.Segment, error)

	ListSegments() ([]domain.Segment, error)

	PutPhotographs(photos []domain.Photograph) error

	GetPhotograph(id string) (domain.Photograph, error)

	ListPhotographs() ([]domain.Photograph, error)

	Close() error
}

// NoiseCounter tracks how many times each utterance text occurs.
type NoiseCounter interface {
	// Increment adds one occurrence for each text.
	Increment(ctx context.Context, texts []string) error

	// Frequent returns every text that occurred at least atLeast times.
	Frequent(ctx context.Context, atLeast int) ([]string, error)
}
