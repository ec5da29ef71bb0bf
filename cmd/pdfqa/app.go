package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/ai"
	"github.com/xxxsen/pdfqa/internal/chunker"
	"github.com/xxxsen/pdfqa/internal/config"
	"github.com/xxxsen/pdfqa/internal/converter"
	"github.com/xxxsen/pdfqa/internal/embedcache"
	"github.com/xxxsen/pdfqa/internal/filestore"
	"github.com/xxxsen/pdfqa/internal/rag"
	"github.com/xxxsen/pdfqa/internal/repo"
	"github.com/xxxsen/pdfqa/internal/service"
	"github.com/xxxsen/pdfqa/internal/vectorstore"
)

type app struct {
	cfg        *config.Config
	db         *sql.DB
	engine     *rag.Engine
	formats    *converter.Router
	files      filestore.Store
	sessions   *service.SessionService
	qa         *service.QAService
	cacheRepo  *repo.EmbeddingCacheRepo
	stagingDir string
}

func buildApp(cfg *config.Config) (*app, error) {
	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{cfg: cfg, db: db, cacheRepo: repo.NewEmbeddingCacheRepo(db), stagingDir: cfg.StagingDir}
	if err := a.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg
	embedder, err := a.buildEmbedder()
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg.Generation)
	if err != nil {
		return err
	}
	backend, err := vectorstore.New(cfg.VectorStore.Type, cfg.VectorStore.Data)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	splitter, err := chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}
	a.formats = converter.NewDefault(cfg.PDFToText)
	a.engine, err = rag.New(backend, embedder,
		rag.WithGenerator(generator),
		rag.WithConverter(a.formats),
		rag.WithSplitter(splitter),
		rag.WithTopK(cfg.TopK),
	)
	if err != nil {
		return fmt.Errorf("init rag engine: %w", err)
	}
	a.files, err = filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	a.sessions = service.NewSessionService(repo.NewSessionRepo(a.db))
	a.qa = service.NewQAService(a.engine, a.formats, cfg.StagingDir,
		service.WithFileStore(a.files),
		service.WithSessions(a.sessions),
		service.WithAskTimeout(time.Duration(cfg.AskTimeout)*time.Second),
	)
	logutil.GetLogger(context.Background()).Info("pipeline ready",
		zap.String("embedding_model", embedder.ModelName()),
		zap.Int("generators", len(cfg.Generation.Items)),
		zap.String("vector_store", backend.Type()),
		zap.String("file_store", a.files.Type()),
	)
	return nil
}

func (a *app) buildEmbedder() (ai.IEmbedder, error) {
	cfg := a.cfg.Embedding
	provider, err := ai.NewProvider(cfg.Provider, cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	embedder := ai.NewEmbedder(provider, cfg.Model)
	embedder = ai.WrapRateLimitEmbedder(embedder, cfg.RateLimit, cfg.Burst)
	if cfg.PersistentCache {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, a.cacheRepo)
	}
	if cfg.CacheSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	}
	return embedder, nil
}

func buildGenerator(cfg config.GenerationConfig) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(cfg.Items))
	for _, item := range cfg.Items {
		provider, err := ai.NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", item.Name, err)
		}
		gen, err := ai.NewCheckedGenerator(provider, item.Model)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", item.Name, err)
		}
		entries = append(entries, ai.GeneratorEntry{Name: item.Name, Generator: gen})
	}
	return ai.WrapRateLimitGenerator(ai.NewGroupGenerator(entries), cfg.RateLimit, cfg.Burst), nil
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		logutil.GetLogger(context.Background()).Error("close vector store failed", zap.Error(err))
	}
	_ = a.db.Close()
}
