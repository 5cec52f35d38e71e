package domain

import "github.com/google/uuid"

// Utterance is a single line of mission communication.
type Utterance struct {
	ID        string `json:"id"`     // raw HHHMMSS timestamp
	Offset    int    `json:"offset"` // seconds relative to the mission epoch
	Speaker   string `json:"speaker"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

// Segment is a table-of-contents entry plus the window of utterances it owns.
type Segment struct {
	ID               string      `json:"id"`
	StartOffset      int         `json:"start_offset"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	ConcatenatedText string      `json:"concatenated_text,omitempty"`
	Utterances       []Utterance `json:"utterances,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	Questions        []string    `json:"questions"`
}

// Populated reports whether windowing has assigned text to the segment.
func (s Segment) Populated() bool {
	return s.ConcatenatedText != ""
}

// Photograph is a mission photo with its catalogue description.
type Photograph struct {
	ID          string `json:"id"` // timestamp
	Name        string `json:"name"`
	ImagePath   string `json:"image_path"`
	ExternalURL string `json:"external_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Kind partitions semantic cache entries by the path that produced them.
type Kind string

const (
	KindQuestion Kind = "QUESTION"
	KindSummary  Kind = "SUMMARY"
)

// CacheEntry is a previously generated answer keyed by its query embedding.
type CacheEntry struct {
	ID             uuid.UUID `json:"id"`
	Query          string    `json:"query"`
	QueryEmbedding []float32 `json:"-"`
	Answer         string    `json:"answer"`
	Kind           Kind      `json:"kind"`
}

// EmbeddedDoc is a vector projection of a source record.
type EmbeddedDoc struct {
	ID         string
	Collection string
	Text       string
	SourceID   string
	Vector     []float32
}

// Vector collections.
const (
	CollectionQuestions         = "questions"
	CollectionSummaries         = "summaries"
	CollectionUtterances        = "utterances"
	CollectionPhotoImages       = "photo_images"
	CollectionPhotoDescriptions = "photo_descriptions"
	CollectionSearchCache       = "search_cache"
)

// Embedding fields. Each field may be served by a different embedder.
const (
	FieldQuestion    = "question"
	FieldSummary     = "summary"
	FieldText        = "text"
	FieldDescription = "description"
	FieldImage       = "image"
	FieldCacheQuery  = "query"
)

// Metadata keys stored alongside vectors.
const (
	MetaSource = "source"
	MetaText   = "text"
	MetaKind   = "kind"
	MetaAnswer = "answer"
)

// ProbeID names the transient photograph used for image similarity search.
const ProbeID = "tmp"
