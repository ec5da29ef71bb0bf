package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// StagingCleanupJob removes staged uploads left behind by interrupted
// ingestions.
type StagingCleanupJob struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

func NewStagingCleanupJob(dir string, maxAge time.Duration) *StagingCleanupJob {
	return &StagingCleanupJob{dir: dir, maxAge: maxAge, now: time.Now}
}

func (j *StagingCleanupJob) Name() string {
	return "staging_cleanup"
}

func (j *StagingCleanupJob) Run(ctx context.Context) error {
	if j.dir == "" {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	entries, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := j.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "upload-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logutil.GetLogger(ctx).Warn("remove staged upload failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("staged uploads removed", zap.Int("count", removed))
	}
	return nil
}
