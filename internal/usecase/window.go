package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"apollorag/internal/domain"
	"apollorag/internal/port"
)

// NoiseSnapshot is the set of utterance texts excluded from windows.
// It is read once per run and never updated while windows are built.
type NoiseSnapshot map[string]struct{}

func NewNoiseSnapshot(texts []string) NoiseSnapshot {
	s := make(NoiseSnapshot, len(texts))
	for _, t := range texts {
		s[t] = struct{}{}
	}
	return s
}

func (s NoiseSnapshot) Contains(text string) bool {
	_, ok := s[text]
	return ok
}

// BuildWindows assigns utterances to the segment whose time span contains
// them. The span of segment i is [start_i, start_i+1] with both ends
// inclusive, so an utterance exactly on a boundary belongs to both adjacent
// segments. The last segment extends without limit. Utterances in noise are
// dropped. Segments are returned sorted by start offset; a segment that
// received nothing has empty ConcatenatedText.
func BuildWindows(segments []domain.Segment, utterances []domain.Utterance, noise NoiseSnapshot) []domain.Segment {
	segs := append([]domain.Segment(nil), segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].StartOffset < segs[j].StartOffset })

	utts := append([]domain.Utterance(nil), utterances...)
	sort.SliceStable(utts, func(i, j int) bool { return utts[i].Offset < utts[j].Offset })

	for i := range segs {
		start := segs[i].StartOffset
		end := math.MaxInt
		if i+1 < len(segs) {
			end = segs[i+1].StartOffset
		}

		lo := sort.Search(len(utts), func(k int) bool { return utts[k].Offset >= start })
		hi := sort.Search(len(utts), func(k int) bool { return utts[k].Offset > end })

		var members []domain.Utterance
		var lines []string
		for _, u := range utts[lo:hi] {
			if noise.Contains(u.Text) {
				continue
			}
			members = append(members, u)
			lines = append(lines, u.Speaker+":"+u.Text)
		}

		segs[i].Utterances = members
		segs[i].ConcatenatedText = strings.Join(lines, "\n")
	}

	return segs
}

// Grouper windows stored utterances into their segments.
type Grouper struct {
	records        port.RecordStore
	noise          port.NoiseCounter
	minRepetitions int
	logger         *slog.Logger
}

func NewGrouper(records port.RecordStore, noise port.NoiseCounter, minRepetitions int, logger *slog.Logger) *Grouper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grouper{
		records:        records,
		noise:          noise,
		minRepetitions: minRepetitions,
		logger:         logger,
	}
}

// GroupResult reports one windowing run.
type GroupResult struct {
	Segments int // segments in the store
	Grouped  int // segments populated and saved by this run
	Empty    int // targeted segments that received no utterances
	Skipped  int // segments already populated
	Noise    int // size of the noise snapshot
}

// Group populates segments. Already populated segments are left untouched
// unless overwrite is set.
func (g *Grouper) Group(ctx context.Context, overwrite bool) (*GroupResult, error) {
	segments, err := g.records.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	utterances, err := g.records.ListUtterances()
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}
	frequent, err := g.noise.Frequent(ctx, g.minRepetitions)
	if err != nil {
		return nil, fmt.Errorf("failed to read noise snapshot: %w", err)
	}
	snapshot := NewNoiseSnapshot(frequent)

	result := &GroupResult{Segments: len(segments), Noise: len(snapshot)}

	existing := make(map[string]bool, len(segments))
	for _, s := range segments {
		existing[s.ID] = s.Populated()
	}

	var updated []domain.Segment
	for _, seg := range BuildWindows(segments, utterances, snapshot) {
		if existing[seg.ID] && !overwrite {
			result.Skipped++
			continue
		}
		if !seg.Populated() {
			g.logger.Info("no utterances found for segment", "segment", seg.ID)
			result.Empty++
			continue
		}
		updated = append(updated, seg)
	}

	if err := g.records.PutSegments(updated); err != nil {
		return nil, fmt.Errorf("failed to save segments: %w", err)
	}
	result.Grouped = len(updated)

	g.logger.Info("grouped utterances", "grouped", result.Grouped, "empty", result.Empty, "skipped", result.Skipped, "noise", result.Noise)
	return result, nil
}
