package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"apollorag/internal/domain"
)

// MemoryStore is an in-process RecordStore and NoiseCounter.
type MemoryStore struct {
	mu          sync.RWMutex
	utterances  map[string]domain.Utterance
	segments    map[string]domain.Segment
	photographs map[string]domain.Photograph
	noise       map[string]int

	// SegmentWrites counts PutSegments calls that carried at least one segment.
	SegmentWrites int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		utterances:  make(map[string]domain.Utterance),
		segments:    make(map[string]domain.Segment),
		photographs: make(map[string]domain.Photograph),
		noise:       make(map[string]int),
	}
}

func (s *MemoryStore) PutUtterances(utterances []domain.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range utterances {
		s.utterances[u.ID] = u
	}
	return nil
}

func (s *MemoryStore) ListUtterances() ([]domain.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Utterance, 0, len(s.utterances))
	for _, u := range s.utterances {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountUtterances() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utterances), nil
}

func (s *MemoryStore) PutSegments(segments []domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(segments) > 0 {
		s.SegmentWrites++
	}
	for _, seg := range segments {
		s.segments[seg.ID] = seg
	}
	return nil
}

func (s *MemoryStore) GetSegment(id string) (domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return seg, nil
}

func (s *MemoryStore) ListSegments() ([]domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Segment, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out, nil
}

func (s *MemoryStore) PutPhotographs(photos []domain.Photograph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range photos {
		s.photographs[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) GetPhotograph(id string) (domain.Photograph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.photographs[id]
	if !ok {
		return domain.Photograph{}, fmt.Errorf("photograph %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) ListPhotographs() ([]domain.Photograph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Photograph, 0, len(s.photographs))
	for _, p := range s.photographs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Increment(_ context.Context, texts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, text := range texts {
		s.noise[text]++
	}
	return nil
}

func (s *MemoryStore) Frequent(_ context.Context, atLeast int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for text, n := range s.noise {
		if n >= atLeast {
			out = append(out, text)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
