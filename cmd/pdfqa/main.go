package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/config"
	"github.com/xxxsen/pdfqa/internal/handler"
	"github.com/xxxsen/pdfqa/internal/job"
	"github.com/xxxsen/pdfqa/internal/mcpserver"
	"github.com/xxxsen/pdfqa/internal/middleware"
	"github.com/xxxsen/pdfqa/internal/schedule"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "pdfqa",
		Short:   "question answering over uploaded documents",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	load := func(console bool) (*app, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console && console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return buildApp(cfg)
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(true)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "ingest documents into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(true)
			if err != nil {
				return err
			}
			defer a.Close()
			return runIngest(cmd.Context(), a, args)
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a question from the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(true)
			if err != nil {
				return err
			}
			defer a.Close()
			answer, err := a.qa.Ask(cmd.Context(), "", strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "serve ingest and ask tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol
			a, err := load(false)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.Serve(mcpserver.New(a.qa, version))
		},
	}

	rootCmd.AddCommand(runCmd, ingestCmd, askCmd, mcpCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func runIngest(ctx context.Context, a *app, paths []string) error {
	out := os.Stdout
	var failed int
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "error\t%s\t%v\n", path, err)
			continue
		}
		res, err := a.qa.Upload(ctx, path, f)
		_ = f.Close()
		if err != nil {
			failed++
			fmt.Fprintf(out, "error\t%s\t%v\n", path, err)
			continue
		}
		state := "skipped"
		if res.New {
			state = "ingested"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", state, path, res.SourceHash, res.Chunks)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

func runServer(a *app) error {
	cfg := a.cfg
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("vector_store", cfg.VectorStore.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewStagingCleanupJob(cfg.StagingDir, time.Duration(cfg.Jobs.StagingMaxAge)*time.Second), cfg.Jobs.StagingCleanupCron); err != nil {
		return fmt.Errorf("schedule staging cleanup: %w", err)
	}
	if cfg.Embedding.PersistentCache {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Jobs.EmbeddingCacheKeepDays), cfg.Jobs.EmbeddingCacheCron); err != nil {
			return fmt.Errorf("schedule embedding cache cleanup: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if _, err := a.engine.EnsureOpen(ctx); err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	deps := handler.RouterDeps{
		Documents:    handler.NewDocumentHandler(a.qa, a.files, cfg.MaxUploadMB*1024*1024),
		Ask:          handler.NewAskHandler(a.qa),
		Sessions:     handler.NewSessionHandler(a.sessions),
		AskRateLimit: time.Duration(cfg.AskRateLimit) * time.Millisecond,
	}
	if a.files.Type() == "local" {
		deps.Files = handler.NewFileHandler(a.files)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORS),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
