package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/pdfqa/internal/model"
	"go.uber.org/zap"
)

// Key layout of a badger collection:
//
//	meta:provider         embedding model identity
//	meta:dim              vector dimension, big endian uint32
//	rec:<id>              json record body (text + metadata)
//	vec:<id>              little endian float32 vector
//	src:<hash>:<id>       source hash index, empty value
//	doc:<hash>            document marker, written after all of its records
var (
	keyProvider = []byte("meta:provider")
	keyDim      = []byte("meta:dim")
	prefixRec   = []byte("rec:")
	prefixVec   = []byte("vec:")
	prefixSrc   = []byte("src:")
	prefixDoc   = []byte("doc:")
)

type badgerConfig struct {
	Dir          string `json:"dir"`
	Compression  bool   `json:"compression"`
	MemTableSize int64  `json:"mem_table_size"`
}

type badgerBackend struct {
	dir          string
	compression  bool
	memTableSize int64
}

func init() {
	Register("badger", createBadgerBackend)
}

func createBadgerBackend(args interface{}) (Backend, error) {
	cfg := &badgerConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger vector store dir is required")
	}
	return &badgerBackend{dir: cfg.Dir, compression: cfg.Compression, memTableSize: cfg.MemTableSize}, nil
}

func NewBadgerBackend(dir string) Backend {
	return &badgerBackend{dir: dir}
}

func (b *badgerBackend) Type() string {
	return "badger"
}

func (b *badgerBackend) OpenOrNone(ctx context.Context) (Store, error) {
	info, err := os.Stat(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError("stat", err)
	}
	if !info.IsDir() {
		return nil, ioError("stat", fmt.Errorf("%s is not a directory", b.dir))
	}
	s, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *badgerBackend) Create(ctx context.Context, provider string) (Store, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, ioError("create", err)
	}
	s, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.BindProvider(ctx, provider); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (b *badgerBackend) open(ctx context.Context) (*badgerStore, error) {
	opts := badger.DefaultOptions(b.dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger: logutil.GetLogger(ctx).With(zap.String("component", "badger"))})
	if b.compression {
		opts = opts.WithCompression(options.ZSTD)
	}
	if b.memTableSize > 0 {
		// inline values must fit in one batch
		opts = opts.WithMemTableSize(b.memTableSize)
		if vt := b.memTableSize / 10; vt < opts.ValueThreshold {
			opts = opts.WithValueThreshold(vt)
		}
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioError("open", err)
	}
	s := &badgerStore{db: db}
	err = db.View(func(txn *badger.Txn) error {
		if v, err := getValue(txn, keyProvider); err != nil {
			return err
		} else if v != nil {
			s.provider = string(v)
		}
		if v, err := getValue(txn, keyDim); err != nil {
			return err
		} else if len(v) == 4 {
			s.dim = int(binary.BigEndian.Uint32(v))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, ioError("load meta", err)
	}
	logutil.GetLogger(ctx).Info("vector store opened",
		zap.String("dir", b.dir),
		zap.String("provider", s.provider),
		zap.Int("dim", s.dim),
	)
	return s, nil
}

type badgerStore struct {
	db *badger.DB

	mu       sync.RWMutex
	provider string
	dim      int
}

func (s *badgerStore) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

func (s *badgerStore) BindProvider(ctx context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkProvider(s.provider, provider); err != nil {
		return err
	}
	if s.provider == provider {
		return nil
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyProvider, []byte(provider))
	}); err != nil {
		return ioError("bind provider", err)
	}
	s.provider = provider
	return nil
}

// Exists reports whether every record of the document has been written.
func (s *badgerStore) Exists(ctx context.Context, sourceHash string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := txn.Get(docKey(sourceHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = v != nil
		return nil
	})
	if err != nil {
		return false, ioError("exists", err)
	}
	return found, nil
}

// Add writes records in as many transactions as badger needs. Document
// markers go last, so a failed call never makes a document visible to
// Exists, and the keys it did commit are removed again.
func (s *badgerStore) Add(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := validateRecords(records, s.dim)
	if err != nil {
		return nil, err
	}

	w := &batchWriter{db: s.db, txn: s.db.NewTransaction(true)}
	defer func() { w.txn.Discard() }()

	ids := make([]string, 0, len(records))
	var hashes []string
	seen := map[string]bool{}
	fail := func(op string, err error) ([]string, error) {
		w.txn.Discard()
		if w.commits > 0 {
			s.rollback(ctx, w.keys)
		}
		return nil, ioError(op, err)
	}

	if s.dim == 0 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(dim))
		if err := w.set(keyDim, buf); err != nil {
			return fail("add", err)
		}
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return fail("add", err)
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		body, err := json.Marshal(recordBody{Text: rec.Text, Metadata: rec.Metadata})
		if err != nil {
			return fail("add", err)
		}
		if err := w.set(recKey(id), body); err != nil {
			return fail("add", err)
		}
		if err := w.set(vecKey(id), encodeVector(rec.Embedding)); err != nil {
			return fail("add", err)
		}
		if hash := rec.Metadata[model.MetaSourceHash]; hash != "" {
			if err := w.set(append(sourcePrefix(hash), id...), nil); err != nil {
				return fail("add", err)
			}
			if !seen[hash] {
				seen[hash] = true
				hashes = append(hashes, hash)
			}
		}
		ids = append(ids, id)
	}
	for _, hash := range hashes {
		if _, err := w.txn.Get(docKey(hash)); err == nil {
			continue
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fail("add", err)
		}
		if err := w.set(docKey(hash), []byte{1}); err != nil {
			return fail("add", err)
		}
	}
	if err := w.txn.Commit(); err != nil {
		return fail("commit", err)
	}
	s.dim = dim
	return ids, nil
}

// batchWriter commits and starts over when a transaction grows too big. It
// remembers every key it set so a failed add can be undone.
type batchWriter struct {
	db      *badger.DB
	txn     *badger.Txn
	commits int
	keys    [][]byte
}

func (w *batchWriter) set(key, value []byte) error {
	w.keys = append(w.keys, key)
	err := w.txn.Set(key, value)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := w.txn.Commit(); err != nil {
		return err
	}
	w.commits++
	w.txn = w.db.NewTransaction(true)
	return w.txn.Set(key, value)
}

func (s *badgerStore) rollback(ctx context.Context, keys [][]byte) {
	logger := logutil.GetLogger(ctx)
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			logger.Error("rollback delete failed", zap.Error(err))
			return
		}
	}
	if err := wb.Flush(); err != nil {
		logger.Error("rollback flush failed", zap.Error(err))
		return
	}
	logger.Warn("partial add rolled back", zap.Int("keys", len(keys)))
}

func (s *badgerStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if dim != 0 && len(query) != dim {
		return nil, fmt.Errorf("query dimension %d does not match collection dimension %d", len(query), dim)
	}

	best := &topK{k: k}
	var results []Result
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixVec
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				it.Close()
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(prefixVec):])
			err := item.Value(func(val []byte) error {
				vec, err := decodeVector(val)
				if err != nil {
					return err
				}
				best.push(match{id: id, score: cosineSimilarity(query, vec)})
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, m := range best.result() {
			raw, err := getValue(txn, recKey(m.id))
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("record %s has a vector but no body", m.id)
			}
			var body recordBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return err
			}
			results = append(results, Result{ID: m.id, Text: body.Text, Metadata: body.Metadata, Score: m.score})
		}
		return nil
	})
	if err != nil {
		return nil, ioError("search", err)
	}
	return results, nil
}

func (s *badgerStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixVec
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, ioError("count", err)
	}
	return count, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

type recordBody struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func recKey(id string) []byte {
	return append(append([]byte{}, prefixRec...), id...)
}

func vecKey(id string) []byte {
	return append(append([]byte{}, prefixVec...), id...)
}

func docKey(hash string) []byte {
	return append(append([]byte{}, prefixDoc...), hash...)
}

func sourcePrefix(hash string) []byte {
	key := make([]byte, 0, len(prefixSrc)+len(hash)+1)
	key = append(key, prefixSrc...)
	key = append(key, hash...)
	return append(key, ':')
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func encodeVector(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values, nil
}

type badgerLogger struct {
	logger *zap.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
