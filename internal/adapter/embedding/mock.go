package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
)

// MockEmbedder returns deterministic vectors. Fixed vectors registered with
// Set take precedence, which lets tests control distances exactly.
type MockEmbedder struct {
	dimension int

	mu    sync.Mutex
	fixed map[string][]float32
	calls int
	err   error
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, fixed: make(map[string][]float32)}
}

// Set pins the vector returned for text (or, for images, the file path).
func (e *MockEmbedder) Set(text string, vector []float32) *MockEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixed[text] = vector
	return e
}

// Fail makes every subsequent call return err. Nil restores normal behaviour.
func (e *MockEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many Embed or EmbedImage calls were made.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vectorFor(text, []byte(text))
	}
	return embeddings, nil
}

func (e *MockEmbedder) EmbedImage(_ context.Context, path string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}

	if v, ok := e.fixed[path]; ok {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return e.vectorFor("", data), nil
}

func (e *MockEmbedder) vectorFor(key string, data []byte) []float32 {
	if v, ok := e.fixed[key]; ok && key != "" {
		return v
	}
	sum := sha256.Sum256(data)
	v := make([]float32, e.dimension)
	for j := range v {
		v[j] = float32(sum[j%len(sum)])/255.0 + 0.01
	}
	return v
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
