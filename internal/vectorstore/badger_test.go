package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/pdfqa/internal/model"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

func newTestBackend(t *testing.T) (Backend, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "faiss_index")
	backend, err := New("badger", map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	return backend, dir
}

func record(text, hash string, vec ...float32) Record {
	return Record{
		Text:      text,
		Embedding: vec,
		Metadata:  map[string]string{model.MetaSourceHash: hash, model.MetaSource: hash + ".pdf"},
	}
}

func TestBadgerOpenOrNoneDoesNotCreate(t *testing.T) {
	backend, dir := newTestBackend(t)
	s, err := backend.OpenOrNone(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)
	_, err = os.Stat(dir)
	require.True(t, errors.Is(err, os.ErrNotExist))

	status, err := StatusOf(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusAbsent, status)
}

func TestBadgerLifecycle(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestBackend(t)

	s, err := backend.Create(ctx, "local/hash-256")
	require.NoError(t, err)
	status, err := StatusOf(ctx, s)
	require.NoError(t, err)
	require.Equal(t, StatusEmpty, status)

	exists, err := s.Exists(ctx, "h1")
	require.NoError(t, err)
	require.False(t, exists)

	ids, err := s.Add(ctx, []Record{
		record("rook", "h1", 1, 0, 0),
		record("bishop", "h1", 0, 1, 0),
		record("pawn", "h2", 0.9, 0.1, 0),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.NotEqual(t, ids[0], ids[1])

	for _, hash := range []string{"h1", "h2"} {
		exists, err = s.Exists(ctx, hash)
		require.NoError(t, err)
		require.True(t, exists)
	}
	exists, err = s.Exists(ctx, "h")
	require.NoError(t, err)
	require.False(t, exists)

	results, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "rook", results[0].Text)
	require.Equal(t, "pawn", results[1].Text)
	require.Equal(t, "h1.pdf", results[0].Metadata[model.MetaSource])
	require.InDelta(t, 1.0, results[0].Score, 1e-6)

	results, err = s.SimilaritySearch(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "bishop", results[0].Text)

	_, err = s.SimilaritySearch(ctx, []float32{1, 0}, 2)
	require.Error(t, err)

	status, err = StatusOf(ctx, s)
	require.NoError(t, err)
	require.Equal(t, StatusPopulated, status)
	require.NoError(t, s.Close())

	reopened, err := backend.OpenOrNone(ctx)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	defer reopened.Close()
	require.Equal(t, "local/hash-256", reopened.Provider())
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = reopened.Add(ctx, []Record{record("queen", "h3", 1, 1)})
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}

func TestBadgerProviderMismatch(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestBackend(t)
	s, err := backend.Create(ctx, "gemini/text-embedding-004")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BindProvider(ctx, "gemini/text-embedding-004"))
	err = s.BindProvider(ctx, "openai/text-embedding-3-small")
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrProviderMismatch))
	require.True(t, appErr.IsConfig(err))
}

func TestBadgerEmptyDirOpensEmpty(t *testing.T) {
	ctx := context.Background()
	backend, dir := newTestBackend(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	s, err := backend.OpenOrNone(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()
	require.Equal(t, "", s.Provider())
	status, err := StatusOf(ctx, s)
	require.NoError(t, err)
	require.Equal(t, StatusEmpty, status)
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	_, err := New("faiss", map[string]interface{}{})
	require.Error(t, err)
	require.True(t, appErr.IsConfig(err))

	_, err = New("badger", map[string]interface{}{})
	require.Error(t, err)
}

func TestTopK(t *testing.T) {
	best := &topK{k: 2}
	for i, score := range []float32{0.1, 0.9, 0.5, 0.7, 0.2} {
		best.push(match{id: string(rune('a' + i)), score: score})
	}
	got := best.result()
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].id)
	require.Equal(t, "d", got[1].id)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
	_, err = decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}

// expiringCtx reports cancellation once Err has been consulted n times.
type expiringCtx struct {
	context.Context
	left int
}

func (c *expiringCtx) Err() error {
	if c.left <= 0 {
		return context.Canceled
	}
	c.left--
	return nil
}

func bulkRecords(hash string, n int) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, 16)
		vec[i%16] = 1
		vec[(i+1)%16] = float32(i%7) / 7
		out = append(out, record(fmt.Sprintf("chunk %d of a long document", i), hash, vec...))
	}
	return out
}

func TestBadgerSplitCommitAddIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	backend, err := New("badger", map[string]interface{}{"dir": dir, "mem_table_size": 1 << 20})
	require.NoError(t, err)
	s, err := backend.Create(ctx, "local/hash-16")
	require.NoError(t, err)
	defer s.Close()

	records := bulkRecords("big", 3000)

	// fails long after the first split commit
	_, err = s.Add(&expiringCtx{Context: ctx, left: 2500}, records)
	require.Error(t, err)
	require.True(t, appErr.IsIO(err))

	exists, err := s.Exists(ctx, "big")
	require.NoError(t, err)
	require.False(t, exists)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	ids, err := s.Add(ctx, records)
	require.NoError(t, err)
	require.Len(t, ids, len(records))
	exists, err = s.Exists(ctx, "big")
	require.NoError(t, err)
	require.True(t, exists)
	n, err = s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, len(records), n)

	results, err := s.SimilaritySearch(ctx, records[42].Embedding, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestBadgerFailedAddKeepsExistingDocument(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	backend, err := New("badger", map[string]interface{}{"dir": dir, "mem_table_size": 1 << 20})
	require.NoError(t, err)
	s, err := backend.Create(ctx, "local/hash-16")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add(ctx, bulkRecords("first", 10))
	require.NoError(t, err)

	_, err = s.Add(&expiringCtx{Context: ctx, left: 2000}, bulkRecords("first", 3000))
	require.Error(t, err)

	exists, err := s.Exists(ctx, "first")
	require.NoError(t, err)
	require.True(t, exists)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}
