package embedding

import (
	"fmt"
	"os"
	"sync"

	"apollorag/config"
	"apollorag/internal/domain"
	"apollorag/internal/port"
)

// Set lazily builds one embedder per distinct field configuration.
type Set struct {
	cfg config.EmbeddingConfig

	mu    sync.Mutex
	built map[config.EmbeddingField]*OpenAIEmbedder
	mocks map[int]*MockEmbedder
}

func NewSet(cfg config.EmbeddingConfig) *Set {
	return &Set{
		cfg:   cfg,
		built: make(map[config.EmbeddingField]*OpenAIEmbedder),
		mocks: make(map[int]*MockEmbedder),
	}
}

func (s *Set) Text(field string) (port.Embedder, error) {
	return s.resolve(field)
}

func (s *Set) Image() (port.ImageEmbedder, error) {
	return s.resolve(domain.FieldImage)
}

type embedderBoth interface {
	port.Embedder
	port.ImageEmbedder
}

func (s *Set) resolve(field string) (embedderBoth, error) {
	fc := s.cfg.ResolveField(field)

	s.mu.Lock()
	defer s.mu.Unlock()

	if fc.Provider == "mock" {
		m, ok := s.mocks[fc.Dimension]
		if !ok {
			m = NewMockEmbedder(fc.Dimension)
			s.mocks[fc.Dimension] = m
		}
		return m, nil
	}

	if e, ok := s.built[fc]; ok {
		return e, nil
	}

	e, err := New(fc)
	if err != nil {
		return nil, fmt.Errorf("embedder for field %s: %w", field, err)
	}
	s.built[fc] = e
	return e, nil
}

// New creates an embedder for a resolved field configuration.
func New(fc config.EmbeddingField) (*OpenAIEmbedder, error) {
	var (
		e   *OpenAIEmbedder
		err error
	)
	switch fc.Provider {
	case "openai":
		if fc.BaseURL != "" {
			e, err = NewOpenAICompatibleEmbedder(fc.APIKeyEnv, fc.Model, fc.BaseURL)
		} else {
			e, err = NewOpenAIEmbedder(fc.APIKeyEnv, fc.Model)
		}
	case "jina":
		e, err = NewJinaEmbedder(fc.APIKeyEnv, fc.Model)
	case "ollama":
		e, err = NewOllamaEmbedder(fc.Model, fc.BaseURL)
	case "http":
		if fc.BaseURL == "" {
			return nil, fmt.Errorf("http embedding provider requires base_url")
		}
		var key string
		if fc.APIKeyEnv != "" {
			key = os.Getenv(fc.APIKeyEnv)
		}
		e = NewHTTPEmbedder(key, fc.Model, fc.BaseURL, fc.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", fc.Provider)
	}
	if err != nil {
		return nil, err
	}
	return e.WithDimension(fc.Dimension), nil
}

// StaticSet serves one embedder for every text field and one for images.
type StaticSet struct {
	TextEmbedder  port.Embedder
	ImageEmbedder port.ImageEmbedder
}

func (s StaticSet) Text(string) (port.Embedder, error) {
	if s.TextEmbedder == nil {
		return nil, fmt.Errorf("no text embedder configured")
	}
	return s.TextEmbedder, nil
}

func (s StaticSet) Image() (port.ImageEmbedder, error) {
	if s.ImageEmbedder == nil {
		return nil, fmt.Errorf("no image embedder configured")
	}
	return s.ImageEmbedder, nil
}
