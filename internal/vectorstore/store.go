package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

type Status int

const (
	StatusAbsent Status = iota
	StatusEmpty
	StatusPopulated
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusPopulated:
		return "populated"
	default:
		return "absent"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Record is a chunk with its embedding. ID is assigned by the store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

type Result struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"score"`
}

// Store is one persistent collection of records.
type Store interface {
	// Provider returns the embedding model recorded for the collection, empty
	// when nothing has been recorded yet.
	Provider() string
	// BindProvider records the embedding model on first use and rejects a
	// different one afterwards.
	BindProvider(ctx context.Context, provider string) error
	Exists(ctx context.Context, sourceHash string) (bool, error)
	// Add persists records and returns their ids. Records are durable when
	// Add returns.
	Add(ctx context.Context, records []Record) ([]string, error)
	// SimilaritySearch returns up to k records ordered nearest first.
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend locates a collection. OpenOrNone never creates anything, a nil
// store means the collection is absent.
type Backend interface {
	Type() string
	OpenOrNone(ctx context.Context) (Store, error)
	Create(ctx context.Context, provider string) (Store, error)
}

func StatusOf(ctx context.Context, s Store) (Status, error) {
	if s == nil {
		return StatusAbsent, nil
	}
	n, err := s.Count(ctx)
	if err != nil {
		return StatusAbsent, err
	}
	if n == 0 {
		return StatusEmpty, nil
	}
	return StatusPopulated, nil
}

func checkProvider(recorded, provider string) error {
	if recorded != "" && recorded != provider {
		return fmt.Errorf("%w: %w: collection was built with %q, got %q", appErr.ErrConfig, appErr.ErrProviderMismatch, recorded, provider)
	}
	return nil
}

func validateRecords(records []Record, dim int) (int, error) {
	for i, rec := range records {
		if len(rec.Embedding) == 0 {
			return 0, fmt.Errorf("%w: record %d has no embedding", appErr.ErrInvalid, i)
		}
		if dim == 0 {
			dim = len(rec.Embedding)
		}
		if len(rec.Embedding) != dim {
			return 0, fmt.Errorf("%w: record %d has dimension %d, collection uses %d", appErr.ErrInvalid, i, len(rec.Embedding), dim)
		}
	}
	return dim, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

type match struct {
	id    string
	score float32
}

// topK keeps the k best matches seen so far.
type topK struct {
	k     int
	items []match
}

func (t *topK) push(m match) {
	t.items = append(t.items, m)
	if len(t.items) > 4*t.k+16 {
		t.trim()
	}
}

func (t *topK) trim() {
	sort.SliceStable(t.items, func(i, j int) bool {
		return t.items[i].score > t.items[j].score
	})
	if len(t.items) > t.k {
		t.items = t.items[:t.k]
	}
}

func (t *topK) result() []match {
	t.trim()
	return t.items
}

type Factory func(args interface{}) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(storeType string, args interface{}) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(storeType))
	if key == "" {
		return nil, fmt.Errorf("%w: vector_store.type is required", appErr.ErrConfig)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported vector store type: %s", appErr.ErrConfig, storeType)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("%w: vector store config is required", appErr.ErrConfig)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: vector store %s: %w", appErr.ErrIO, op, err)
}
