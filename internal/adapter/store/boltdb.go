package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"apollorag/internal/domain"
	"go.etcd.io/bbolt"
)

var (
	bucketUtterances  = []byte("utterances")
	bucketSegments    = []byte("segments")
	bucketPhotographs = []byte("photographs")
	bucketNoise       = []byte("noise")
	bucketStats       = []byte("stats")
)

type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketUtterances, bucketSegments, bucketPhotographs, bucketNoise, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putJSON[T any](s *BoltStore, bucket []byte, items []T, key func(T) string) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key(item)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func getJSON[T any](s *BoltStore, bucket []byte, id string) (T, error) {
	var out T
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, id, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

func listJSON[T any](s *BoltStore, bucket []byte) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode %s %s: %w", bucket, k, err)
			}
			out = append(out, item)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) PutUtterances(utterances []domain.Utterance) error {
	return putJSON(s, bucketUtterances, utterances, func(u domain.Utterance) string { return u.ID })
}

// ListUtterances returns every utterance ordered by offset.
func (s *BoltStore) ListUtterances() ([]domain.Utterance, error) {
	out, err := listJSON[domain.Utterance](s, bucketUtterances)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

func (s *BoltStore) CountUtterances() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketUtterances).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) PutSegments(segments []domain.Segment) error {
	return putJSON(s, bucketSegments, segments, func(seg domain.Segment) string { return seg.ID })
}

func (s *BoltStore) GetSegment(id string) (domain.Segment, error) {
	return getJSON[domain.Segment](s, bucketSegments, id)
}

// ListSegments returns every segment ordered by start offset.
func (s *BoltStore) ListSegments() ([]domain.Segment, error) {
	out, err := listJSON[domain.Segment](s, bucketSegments)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out, nil
}

func (s *BoltStore) PutPhotographs(photos []domain.Photograph) error {
	return putJSON(s, bucketPhotographs, photos, func(p domain.Photograph) string { return p.ID })
}

func (s *BoltStore) GetPhotograph(id string) (domain.Photograph, error) {
	return getJSON[domain.Photograph](s, bucketPhotographs, id)
}

func (s *BoltStore) ListPhotographs() ([]domain.Photograph, error) {
	return listJSON[domain.Photograph](s, bucketPhotographs)
}

// Increment adds one occurrence for each text in a single transaction.
func (s *BoltStore) Increment(_ context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNoise)
		for _, text := range texts {
			var n uint64
			if v := b.Get([]byte(text)); len(v) == 8 {
				n = binary.BigEndian.Uint64(v)
			}
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, n+1)
			if err := b.Put([]byte(text), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Frequent returns every text counted at least atLeast times.
func (s *BoltStore) Frequent(_ context.Context, atLeast int) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNoise).ForEach(func(k, v []byte) error {
			if len(v) == 8 && binary.BigEndian.Uint64(v) >= uint64(atLeast) {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}
