package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// ImageEmbedder generates vector embeddings for image files.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// EmbedderSet resolves the embedder responsible for a vector field.
type EmbedderSet interface {
	Text(field string) (Embedder, error)
	Image() (ImageEmbedder, error)
}

// VectorStore stores embedding vectors in named collections and answers
// exact nearest-neighbour queries over them.
type VectorStore interface {
	// Put adds or replaces vectors in a collection.
	Put(collection string, items []VectorItem) error

	// Get returns a single vector by id.
	Get(collection, id string) (VectorItem, bool, error)

	// Has reports which of the ids already exist in the collection.
	Has(collection string, ids []string) (map[string]bool, error)

	// KNN returns up to k items ordered by ascending cosine distance.
	// Items whose metadata does not equal every entry in filter are skipped.
	KNN(collection string, query []float32, k int, filter map[string]string) ([]VectorResult, error)

	// Delete removes vectors by their IDs.
	Delete(collection string, ids []string) error

	// Clear removes every vector in a collection.
	Clear(collection string) error

	// Count returns the number of vectors in a collection.
	Count(collection string) (int, error)
}

// VectorItem represents a vector to be stored.
type VectorItem struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// VectorResult represents a search result.
type VectorResult struct {
	ID       string
	Distance float64 // 1 - cosine similarity, lower is closer
	Metadata map[string]string
}
