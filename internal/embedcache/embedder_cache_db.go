package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/ai"
	"github.com/xxxsen/pdfqa/internal/model"
)

type ICacheRepo interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.CachedEmbedding) error
}

// WrapDBCacheToEmbedder stores embeddings in the cache repo keyed by model,
// task type and content hash. Cache failures are logged and ignored.
func WrapDBCacheToEmbedder(e ai.IEmbedder, repo ICacheRepo) ai.IEmbedder {
	if e == nil || repo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: repo, now: time.Now}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo ICacheRepo
	now  func() time.Time
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := newCacheKey(d.next.ModelName(), taskType, text)
	values, ok, err := d.repo.Get(ctx, key.model, key.taskType, key.contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read embedding cache failed", zap.Error(err))
	}
	if ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("layer", "db"), zap.String("task_type", taskType))
		return values, nil
	}
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := d.repo.Save(ctx, &model.CachedEmbedding{
		ModelName:   key.model,
		TaskType:    key.taskType,
		ContentHash: key.contentHash,
		Embedding:   res,
		Ctime:       d.now().Unix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}
