package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/pdfqa/internal/config"
)

// Store archives ingested documents under their content key.
type Store interface {
	Type() string
	URL(key, baseURL string) string
	Save(ctx context.Context, key string, r ReadSeekCloser, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// ErrOpenUnsupported is returned by stores whose files are served elsewhere.
var ErrOpenUnsupported = errors.New("file store does not support open")

type Factory func(args interface{}) (Store, error)

var factories sync.Map

func normalizeType(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func Register(name string, factory Factory) {
	if key := normalizeType(name); key != "" && factory != nil {
		factories.Store(key, factory)
	}
}

// Types lists the registered store types.
func Types() []string {
	var out []string
	factories.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

func New(cfg config.FileStoreConfig) (Store, error) {
	key := normalizeType(cfg.Type)
	v, ok := factories.Load(key)
	if !ok {
		return nil, fmt.Errorf("unsupported file store type %q, want one of %v", cfg.Type, Types())
	}
	return v.(Factory)(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("file store config is required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode file store config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode file store config: %w", err)
	}
	return nil
}
