package rag

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/ai"
	"github.com/xxxsen/pdfqa/internal/chunker"
	"github.com/xxxsen/pdfqa/internal/converter"
	"github.com/xxxsen/pdfqa/internal/hasher"
	"github.com/xxxsen/pdfqa/internal/model"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
	"github.com/xxxsen/pdfqa/internal/vectorstore"
)

const DefaultTopK = 5

type ISplitter interface {
	Split(text string) []string
}

type Option func(e *Engine)

func WithConverter(c converter.IConverter) Option {
	return func(e *Engine) {
		e.converter = c
	}
}

func WithSplitter(s ISplitter) Option {
	return func(e *Engine) {
		e.splitter = s
	}
}

func WithGenerator(g ai.IGenerator) Option {
	return func(e *Engine) {
		e.generator = g
	}
}

func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// Engine ingests documents into one vector store collection and answers
// questions against it. Ingestions are serialized, answers run concurrently.
type Engine struct {
	backend   vectorstore.Backend
	embedder  ai.IEmbedder
	generator ai.IGenerator
	converter converter.IConverter
	splitter  ISplitter
	topK      int

	ingestMu sync.Mutex
	storeMu  sync.Mutex
	store    vectorstore.Store
}

func New(backend vectorstore.Backend, embedder ai.IEmbedder, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: vector store backend is required", appErr.ErrConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", appErr.ErrConfig)
	}
	e := &Engine{
		backend:  backend,
		embedder: embedder,
		topK:     DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.converter == nil {
		e.converter = converter.NewDefault("")
	}
	if e.splitter == nil {
		c, err := chunker.New()
		if err != nil {
			return nil, err
		}
		e.splitter = c
	}
	return e, nil
}

// EnsureOpen attaches to an existing collection if there is one. A
// collection built with another embedding model is rejected.
func (e *Engine) EnsureOpen(ctx context.Context) (vectorstore.Status, error) {
	store, err := e.open(ctx)
	if err != nil {
		return vectorstore.StatusAbsent, err
	}
	return vectorstore.StatusOf(ctx, store)
}

func (e *Engine) open(ctx context.Context) (vectorstore.Store, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	store, err := e.backend.OpenOrNone(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, nil
	}
	if recorded := store.Provider(); recorded != "" && recorded != e.embedder.ModelName() {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %w: collection was built with %q, embedder is %q",
			appErr.ErrConfig, appErr.ErrProviderMismatch, recorded, e.embedder.ModelName())
	}
	e.store = store
	return store, nil
}

func (e *Engine) create(ctx context.Context) (vectorstore.Store, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	store, err := e.backend.Create(ctx, e.embedder.ModelName())
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

// Ingest adds the document at path unless a document with identical
// content is already stored. displayName is recorded as the chunk source.
func (e *Engine) Ingest(ctx context.Context, path string, displayName string) (*model.IngestResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("source", displayName))
	start := time.Now()
	sourceHash, err := hasher.HashFile(path)
	if err != nil {
		return nil, err
	}
	result := &model.IngestResult{SourceHash: sourceHash, Source: displayName}
	logger = logger.With(zap.String("source_hash", sourceHash))

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	store, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		exists, err := store.Exists(ctx, sourceHash)
		if err != nil {
			return nil, err
		}
		if exists {
			logger.Info("document already ingested, skip")
			return result, nil
		}
	}

	logger.Info("ingest document start")
	text, err := e.converter.Convert(ctx, path)
	if err != nil {
		return nil, err
	}
	convertCost := time.Since(start)
	pieces := e.splitter.Split(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no text chunks produced from %s", appErr.ErrConversion, displayName)
	}

	records := make([]vectorstore.Record, 0, len(pieces))
	for i, piece := range pieces {
		vec, err := e.embedder.Embed(ctx, piece, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		records = append(records, vectorstore.Record{
			Text:      piece,
			Embedding: vec,
			Metadata: map[string]string{
				model.MetaSourceHash: sourceHash,
				model.MetaSource:     displayName,
				model.MetaChunkIndex: strconv.Itoa(i),
			},
		})
	}

	if store == nil {
		if store, err = e.create(ctx); err != nil {
			return nil, err
		}
	} else if err := store.BindProvider(ctx, e.embedder.ModelName()); err != nil {
		return nil, err
	}
	if _, err := store.Add(ctx, records); err != nil {
		return nil, err
	}
	result.New = true
	result.Chunks = len(records)
	logger.Info("ingest document finished",
		zap.Int("chunks", len(records)),
		zap.Duration("convert_cost", convertCost),
		zap.Duration("total_cost", time.Since(start)),
	)
	return result, nil
}

// Answer retrieves the nearest chunks for question and asks the generator
// once. The generated text is returned as is.
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	store, err := e.open(ctx)
	if err != nil {
		return "", err
	}
	status, err := vectorstore.StatusOf(ctx, store)
	if err != nil {
		return "", err
	}
	if status != vectorstore.StatusPopulated {
		return NoDocumentAnswer, nil
	}
	if e.generator == nil {
		return "", fmt.Errorf("generator not configured: %w", ai.ErrUnavailable)
	}
	query, err := e.embedder.Embed(ctx, question, ai.TaskRetrievalQuery)
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}
	results, err := store.SimilaritySearch(ctx, query, e.topK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return NoDocumentAnswer, nil
	}
	logutil.GetLogger(ctx).Debug("retrieved context",
		zap.Int("count", len(results)),
		zap.Float32("best_score", results[0].Score),
	)
	return e.generator.Generate(ctx, BuildPrompt(question, results))
}

// Status reports the collection state and record count without creating it.
func (e *Engine) Status(ctx context.Context) (vectorstore.Status, int, error) {
	store, err := e.open(ctx)
	if err != nil {
		return vectorstore.StatusAbsent, 0, err
	}
	if store == nil {
		return vectorstore.StatusAbsent, 0, nil
	}
	n, err := store.Count(ctx)
	if err != nil {
		return vectorstore.StatusAbsent, 0, err
	}
	if n == 0 {
		return vectorstore.StatusEmpty, 0, nil
	}
	return vectorstore.StatusPopulated, n, nil
}

func (e *Engine) Close() error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}
