package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfqa/internal/ai"
	"github.com/xxxsen/pdfqa/internal/chunker"
	"github.com/xxxsen/pdfqa/internal/model"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
	"github.com/xxxsen/pdfqa/internal/vectorstore"
)

const chessText = "A rook moves any number of squares horizontally or vertically.\n\n" +
	"A bishop moves diagonally across the board.\n\n" +
	"A pawn moves forward one square."

// extractiveGenerator answers with the first retrieved block of the prompt.
type extractiveGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (g *extractiveGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	body := strings.TrimPrefix(prompt, systemPrompt+"\n\n")
	first, _, _ := strings.Cut(body, "\n\n")
	return first, nil
}

type failingConverter struct{}

func (failingConverter) Convert(ctx context.Context, path string) (string, error) {
	return "", appErr.ErrConversion
}

type countingEmbedder struct {
	ai.IEmbedder
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.IEmbedder.Embed(ctx, text, taskType)
}

func localEmbedder(t *testing.T, dim int) ai.IEmbedder {
	t.Helper()
	p, err := ai.NewProvider("local", map[string]interface{}{"dimension": dim})
	require.NoError(t, err)
	return ai.NewEmbedder(p, "hash")
}

func newTestEngine(t *testing.T, dir string, embedder ai.IEmbedder, opts ...Option) *Engine {
	t.Helper()
	backend, err := vectorstore.New("badger", map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	splitter, err := chunker.New(chunker.WithChunkSize(70), chunker.WithOverlap(0))
	require.NoError(t, err)
	opts = append([]Option{WithSplitter(splitter)}, opts...)
	e, err := New(backend, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, localEmbedder(t, 8))
	require.True(t, appErr.IsConfig(err))
	backend := vectorstore.NewBadgerBackend(t.TempDir())
	_, err = New(backend, nil)
	require.True(t, appErr.IsConfig(err))
}

func TestAnswerWithoutDocument(t *testing.T) {
	ctx := context.Background()
	storeDir := filepath.Join(t.TempDir(), "store")
	gen := &extractiveGenerator{}
	e := newTestEngine(t, storeDir, localEmbedder(t, 64), WithGenerator(gen))

	status, err := e.EnsureOpen(ctx)
	require.NoError(t, err)
	require.Equal(t, vectorstore.StatusAbsent, status)

	answer, err := e.Answer(ctx, "How does a rook move?")
	require.NoError(t, err)
	require.Equal(t, NoDocumentAnswer, answer)
	require.Empty(t, gen.prompts)

	_, err = os.Stat(storeDir)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := t.TempDir()
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64))

	path := writeDoc(t, docs, "chess.txt", chessText)
	first, err := e.Ingest(ctx, path, "chess.pdf")
	require.NoError(t, err)
	require.True(t, first.New)
	require.Equal(t, 3, first.Chunks)
	require.Len(t, first.SourceHash, 64)

	_, count, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	second, err := e.Ingest(ctx, path, "chess.pdf")
	require.NoError(t, err)
	require.False(t, second.New)
	require.Equal(t, first.SourceHash, second.SourceHash)

	copyPath := writeDoc(t, docs, "renamed.txt", chessText)
	renamed, err := e.Ingest(ctx, copyPath, "renamed.pdf")
	require.NoError(t, err)
	require.False(t, renamed.New)

	status, count, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, vectorstore.StatusPopulated, status)
	require.Equal(t, 3, count)

	changed := writeDoc(t, docs, "changed.txt", chessText+"!")
	third, err := e.Ingest(ctx, changed, "changed.pdf")
	require.NoError(t, err)
	require.True(t, third.New)
	require.NotEqual(t, first.SourceHash, third.SourceHash)

	_, count, err = e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestAnswerUsesNearestChunk(t *testing.T) {
	ctx := context.Background()
	gen := &extractiveGenerator{}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64), WithGenerator(gen))

	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "chess.txt", chessText), "chess.pdf")
	require.NoError(t, err)

	answer, err := e.Answer(ctx, "How does a rook move?")
	require.NoError(t, err)
	require.Equal(t, "A rook moves any number of squares horizontally or vertically.", answer)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	require.True(t, strings.HasPrefix(prompt, systemPrompt))
	require.True(t, strings.HasSuffix(prompt, "Question: How does a rook move?\nAnswer:"))
	require.Contains(t, prompt, "A pawn moves forward one square.")
}

func TestReopenAfterRestart(t *testing.T) {
	ctx := context.Background()
	storeDir := filepath.Join(t.TempDir(), "store")
	embedder := localEmbedder(t, 64)
	doc := writeDoc(t, t.TempDir(), "chess.txt", chessText)

	e := newTestEngine(t, storeDir, embedder)
	_, err := e.Ingest(ctx, doc, "chess.pdf")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	gen := &extractiveGenerator{}
	restarted := newTestEngine(t, storeDir, embedder, WithGenerator(gen))
	status, err := restarted.EnsureOpen(ctx)
	require.NoError(t, err)
	require.Equal(t, vectorstore.StatusPopulated, status)

	res, err := restarted.Ingest(ctx, doc, "chess.pdf")
	require.NoError(t, err)
	require.False(t, res.New)

	answer, err := restarted.Answer(ctx, "How does a rook move?")
	require.NoError(t, err)
	require.Contains(t, answer, "rook")
}

func TestConversionFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	storeDir := filepath.Join(t.TempDir(), "store")
	e := newTestEngine(t, storeDir, localEmbedder(t, 64), WithConverter(failingConverter{}))

	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "broken.pdf", "%PDF-broken"), "broken.pdf")
	require.Error(t, err)
	require.True(t, appErr.IsConversion(err))

	status, err := e.EnsureOpen(ctx)
	require.NoError(t, err)
	require.Equal(t, vectorstore.StatusAbsent, status)
	_, err = os.Stat(storeDir)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEmptyDocumentIsConversionError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64))
	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "empty.txt", "   \n\n "), "empty.txt")
	require.Error(t, err)
	require.True(t, appErr.IsConversion(err))
}

func TestMissingFileIsIOError(t *testing.T) {
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64))
	_, err := e.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "missing.txt")
	require.True(t, appErr.IsIO(err))
}

func TestProviderMismatchFailsFast(t *testing.T) {
	ctx := context.Background()
	storeDir := filepath.Join(t.TempDir(), "store")
	doc := writeDoc(t, t.TempDir(), "chess.txt", chessText)

	e := newTestEngine(t, storeDir, localEmbedder(t, 64))
	_, err := e.Ingest(ctx, doc, "chess.pdf")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	p, err := ai.NewProvider("local", map[string]interface{}{"dimension": 64})
	require.NoError(t, err)
	other := newTestEngine(t, storeDir, ai.NewEmbedder(p, "other-model"))
	_, err = other.EnsureOpen(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrProviderMismatch))
	require.True(t, appErr.IsConfig(err))

	_, err = other.Ingest(ctx, doc, "chess.pdf")
	require.True(t, errors.Is(err, appErr.ErrProviderMismatch))
}

func TestConcurrentIngestOfSameContent(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{IEmbedder: localEmbedder(t, 64)}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), embedder)
	docs := t.TempDir()

	const workers = 4
	results := make([]*model.IngestResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		path := writeDoc(t, docs, "copy"+string(rune('a'+i))+".txt", chessText)
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i], errs[i] = e.Ingest(ctx, path, filepath.Base(path))
		}(i, path)
	}
	wg.Wait()

	created := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.New {
			created++
		}
	}
	require.Equal(t, 1, created)
	require.Equal(t, 3, embedder.calls)
	_, count, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestAnswerWithoutGenerator(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64))
	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "chess.txt", chessText), "chess.pdf")
	require.NoError(t, err)
	_, err = e.Answer(ctx, "How does a rook move?")
	require.True(t, appErr.IsConfig(err))
}

const checkersText = "Checkers pieces move diagonally forward.\n\n" +
	"A checkers king may move backwards.\n\n" +
	"Captures in checkers are mandatory."

// flakyEmbedder fails the failOn-th call, counting from one. Zero disables it.
type flakyEmbedder struct {
	ai.IEmbedder
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failOn > 0 && f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: local embed: quota exceeded", appErr.ErrProvider)
	}
	return f.IEmbedder.Embed(ctx, text, taskType)
}

func (f *flakyEmbedder) reset(failOn int) {
	f.mu.Lock()
	f.calls = 0
	f.failOn = failOn
	f.mu.Unlock()
}

// groundedGenerator answers only from the context block of the prompt and
// says it does not know when no context line shares a word with the question.
type groundedGenerator struct {
	contexts [][]string
}

func (g *groundedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body := strings.TrimPrefix(prompt, systemPrompt+"\n\n")
	block, question, _ := strings.Cut(body, "\n\nQuestion: ")
	lines := strings.Split(block, "\n\n")
	g.contexts = append(g.contexts, lines)
	words := strings.Fields(strings.ToLower(strings.TrimSuffix(question, "\nAnswer:")))
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, w := range words {
			if len(w) > 4 && strings.Contains(lower, strings.Trim(w, "?")) {
				return line, nil
			}
		}
	}
	return "I don't know.", nil
}

func TestAnswerStaysWithinRetrievedContext(t *testing.T) {
	ctx := context.Background()
	gen := &groundedGenerator{}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), localEmbedder(t, 64), WithGenerator(gen))
	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "chess.txt", chessText), "chess.pdf")
	require.NoError(t, err)

	answer, err := e.Answer(ctx, "What is the capital of France?")
	require.NoError(t, err)
	require.Equal(t, "I don't know.", answer)
	require.NotContains(t, answer, "Paris")

	require.Len(t, gen.contexts, 1)
	require.NotEmpty(t, gen.contexts[0])
	ingested := strings.Split(chessText, "\n\n")
	for _, line := range gen.contexts[0] {
		require.Contains(t, ingested, line)
	}

	answer, err = e.Answer(ctx, "Which piece moves diagonally?")
	require.NoError(t, err)
	require.Contains(t, ingested, answer)
}

func TestProviderFailureDuringIngestLeavesStoreUntouched(t *testing.T) {
	t.Run("store present", func(t *testing.T) {
		ctx := context.Background()
		embedder := &flakyEmbedder{IEmbedder: localEmbedder(t, 64)}
		e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), embedder)
		docs := t.TempDir()
		_, err := e.Ingest(ctx, writeDoc(t, docs, "chess.txt", chessText), "chess.pdf")
		require.NoError(t, err)

		embedder.reset(2)
		path := writeDoc(t, docs, "checkers.txt", checkersText)
		_, err = e.Ingest(ctx, path, "checkers.pdf")
		require.Error(t, err)
		require.True(t, appErr.IsProvider(err))

		_, count, err := e.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, count)

		embedder.reset(0)
		res, err := e.Ingest(ctx, path, "checkers.pdf")
		require.NoError(t, err)
		require.True(t, res.New)
		require.Equal(t, 3, res.Chunks)
		_, count, err = e.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, 6, count)
	})

	t.Run("store absent", func(t *testing.T) {
		ctx := context.Background()
		storeDir := filepath.Join(t.TempDir(), "store")
		embedder := &flakyEmbedder{IEmbedder: localEmbedder(t, 64), failOn: 2}
		e := newTestEngine(t, storeDir, embedder)
		path := writeDoc(t, t.TempDir(), "chess.txt", chessText)

		_, err := e.Ingest(ctx, path, "chess.pdf")
		require.True(t, appErr.IsProvider(err))
		status, count, err := e.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, vectorstore.StatusAbsent, status)
		require.Zero(t, count)
		_, err = os.Stat(storeDir)
		require.True(t, errors.Is(err, os.ErrNotExist))

		embedder.reset(0)
		res, err := e.Ingest(ctx, path, "chess.pdf")
		require.NoError(t, err)
		require.True(t, res.New)
	})
}

type failingGenerator struct {
	err error
}

func (g failingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", g.err
}

func TestAnswerPropagatesProviderErrors(t *testing.T) {
	ctx := context.Background()
	genErr := fmt.Errorf("%w: gemini generate: service unavailable", appErr.ErrProvider)
	embedder := &flakyEmbedder{IEmbedder: localEmbedder(t, 64)}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "store"), embedder, WithGenerator(failingGenerator{err: genErr}))
	_, err := e.Ingest(ctx, writeDoc(t, t.TempDir(), "chess.txt", chessText), "chess.pdf")
	require.NoError(t, err)

	_, err = e.Answer(ctx, "How does a rook move?")
	require.Equal(t, genErr, err)

	embedder.reset(1)
	_, err = e.Answer(ctx, "How does a rook move?")
	require.Error(t, err)
	require.True(t, appErr.IsProvider(err))
}
