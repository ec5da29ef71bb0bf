package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/filestore"
	"github.com/xxxsen/pdfqa/internal/model"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
	"github.com/xxxsen/pdfqa/internal/vectorstore"
)

// IEngine is the part of the rag engine the service drives.
type IEngine interface {
	Ingest(ctx context.Context, path string, displayName string) (*model.IngestResult, error)
	Answer(ctx context.Context, question string) (string, error)
	Status(ctx context.Context) (vectorstore.Status, int, error)
}

type IFormatChecker interface {
	Supports(path string) bool
}

type QAService struct {
	engine     IEngine
	formats    IFormatChecker
	files      filestore.Store
	sessions   *SessionService
	stagingDir string
	timeout    time.Duration
}

type QAServiceOption func(s *QAService)

func WithFileStore(files filestore.Store) QAServiceOption {
	return func(s *QAService) {
		s.files = files
	}
}

func WithSessions(sessions *SessionService) QAServiceOption {
	return func(s *QAService) {
		s.sessions = sessions
	}
}

func WithAskTimeout(timeout time.Duration) QAServiceOption {
	return func(s *QAService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func NewQAService(engine IEngine, formats IFormatChecker, stagingDir string, opts ...QAServiceOption) *QAService {
	s := &QAService{
		engine:     engine,
		formats:    formats,
		stagingDir: stagingDir,
		timeout:    60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type UploadResult struct {
	model.IngestResult
	FileKey string `json:"file_key,omitempty"`
}

// Upload stages r on disk, ingests it and archives new documents in the
// file store under their content hash.
func (s *QAService) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: filename is required", appErr.ErrInvalid)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if s.formats != nil && !s.formats.Supports(name) {
		return nil, fmt.Errorf("%w: unsupported file type %q", appErr.ErrInvalid, ext)
	}
	staged, err := s.stage(r, ext)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			logutil.GetLogger(ctx).Warn("remove staged file failed", zap.String("path", staged), zap.Error(err))
		}
	}()

	res, err := s.engine.Ingest(ctx, staged, name)
	if err != nil {
		return nil, err
	}
	out := &UploadResult{IngestResult: *res}
	if res.New && s.files != nil {
		key := res.SourceHash + ext
		if err := s.archive(ctx, staged, key); err != nil {
			logutil.GetLogger(ctx).Warn("archive document failed",
				zap.String("source", name),
				zap.String("file_key", key),
				zap.Error(err),
			)
		} else {
			out.FileKey = key
		}
	}
	return out, nil
}

func (s *QAService) stage(r io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create staging dir: %w", appErr.ErrIO, err)
	}
	f, err := os.CreateTemp(s.stagingDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("%w: create staged file: %w", appErr.ErrIO, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: write staged file: %w", appErr.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: close staged file: %w", appErr.ErrIO, err)
	}
	return f.Name(), nil
}

func (s *QAService) archive(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return s.files.Save(ctx, key, f, info.Size())
}

// Ask answers question. With a session id the exchange is appended to that
// session's history once an answer is produced.
func (s *QAService) Ask(ctx context.Context, sessionID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		if s.sessions == nil {
			return "", fmt.Errorf("%w: sessions are not enabled", appErr.ErrInvalid)
		}
		if _, err := s.sessions.Get(ctx, sessionID); err != nil {
			return "", err
		}
	}

	askCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	answer, err := s.engine.Answer(askCtx, question)
	if err != nil {
		return "", err
	}
	logutil.GetLogger(ctx).Info("question answered",
		zap.String("session_id", sessionID),
		zap.Duration("cost", time.Since(start)),
	)
	if sessionID != "" {
		if err := s.sessions.AppendExchange(ctx, sessionID, question, answer); err != nil {
			return "", err
		}
	}
	return answer, nil
}

type StatusResult struct {
	Status vectorstore.Status `json:"status"`
	Count  int                `json:"count"`
}

func (s *QAService) Status(ctx context.Context) (*StatusResult, error) {
	status, count, err := s.engine.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Status: status, Count: count}, nil
}
