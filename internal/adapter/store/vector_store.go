package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"apollorag/internal/port"
	"go.etcd.io/bbolt"
)

const vectorBucketPrefix = "vec:"

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Every collection lives in its own bucket and is mirrored in memory for
// exact brute-force search.
type BoltVectorStore struct {
	db          *bbolt.DB
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	vectors   map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	metadata map[string]string
}

type storedVector struct {
	Vector   []float32         `json:"v"`
	Metadata map[string]string `json:"m,omitempty"`
}

// NewBoltVectorStore creates a vector store sharing db with the record store
// and loads every existing collection into memory.
func NewBoltVectorStore(db *bbolt.DB) (*BoltVectorStore, error) {
	store := &BoltVectorStore{
		db:          db,
		collections: make(map[string]*collection),
	}

	if err := store.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return store, nil
}

func bucketName(name string) []byte {
	return []byte(vectorBucketPrefix + name)
}

// loadVectors loads all vectors from BoltDB into memory.
func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), vectorBucketPrefix) {
				return nil
			}
			c := s.collection(strings.TrimPrefix(string(name), vectorBucketPrefix))
			return b.ForEach(func(k, v []byte) error {
				var stored storedVector
				if err := json.Unmarshal(v, &stored); err != nil {
					return nil // Skip corrupted entries
				}
				if c.dimension == 0 {
					c.dimension = len(stored.Vector)
				}
				c.vectors[string(k)] = vectorEntry{
					vector:   stored.Vector,
					metadata: stored.Metadata,
				}
				return nil
			})
		})
	})
}

// collection returns the in-memory mirror, creating it if needed.
// Callers must hold the write lock, or be loading.
func (s *BoltVectorStore) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{vectors: make(map[string]vectorEntry)}
		s.collections[name] = c
	}
	return c
}

// Put adds or replaces vectors in a collection. The first vector stored
// fixes the dimension of the collection.
func (s *BoltVectorStore) Put(name string, items []port.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(name)
	dimension := c.dimension
	if dimension == 0 {
		dimension = len(items[0].Vector)
	}
	for _, item := range items {
		if len(item.Vector) != dimension {
			return fmt.Errorf("vector dimension mismatch in %s: expected %d, got %d", name, dimension, len(item.Vector))
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(name))
		if err != nil {
			return err
		}

		for _, item := range items {
			stored := storedVector{
				Vector:   item.Vector,
				Metadata: item.Metadata,
			}
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Update in-memory cache only after the commit succeeded
	c.dimension = dimension
	for _, item := range items {
		c.vectors[item.ID] = vectorEntry{
			vector:   item.Vector,
			metadata: item.Metadata,
		}
	}
	return nil
}

func (s *BoltVectorStore) Get(name, id string) (port.VectorItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return port.VectorItem{}, false, nil
	}
	entry, ok := c.vectors[id]
	if !ok {
		return port.VectorItem{}, false, nil
	}
	return port.VectorItem{ID: id, Vector: entry.vector, Metadata: entry.metadata}, true, nil
}

func (s *BoltVectorStore) Has(name string, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	c, ok := s.collections[name]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if _, ok := c.vectors[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// KNN finds the k nearest vectors to the query by cosine distance.
func (s *BoltVectorStore) KNN(name string, query []float32, k int, filter map[string]string) ([]port.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok || len(c.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	if len(query) != c.dimension {
		return nil, fmt.Errorf("query dimension mismatch in %s: expected %d, got %d", name, c.dimension, len(query))
	}

	return nearest(c.vectors, query, k, filter), nil
}

func nearest(vectors map[string]vectorEntry, query []float32, k int, filter map[string]string) []port.VectorResult {
	results := make([]port.VectorResult, 0, len(vectors))
	for id, entry := range vectors {
		if !matches(entry.metadata, filter) {
			continue
		}
		results = append(results, port.VectorResult{
			ID:       id,
			Distance: 1 - cosineSimilarity(query, entry.vector),
			Metadata: entry.metadata,
		})
	}

	// Sort by distance ascending, id breaks ties
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

func matches(metadata, filter map[string]string) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

// Delete removes vectors by their IDs.
func (s *BoltVectorStore) Delete(name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(name))
		if b == nil {
			return nil
		}

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if c, ok := s.collections[name]; ok {
		for _, id := range ids {
			delete(c.vectors, id)
		}
	}
	return nil
}

// Clear drops a collection entirely, including its dimension.
func (s *BoltVectorStore) Clear(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName(name)) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName(name))
	})
	if err != nil {
		return err
	}

	delete(s.collections, name)
	return nil
}

// Count returns the number of vectors in a collection.
func (s *BoltVectorStore) Count(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.vectors), nil
	}
	return 0, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
