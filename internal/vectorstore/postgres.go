package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/db"
	"github.com/xxxsen/pdfqa/internal/model"
	"github.com/xxxsen/pdfqa/internal/pkg/dbutil"
)

type postgresConfig struct {
	DSN        string `json:"dsn"`
	Collection string `json:"collection"`
}

// postgresBackend keeps one connection pool for its collection. The schema
// is migrated on the first Create, OpenOrNone only reads.
type postgresBackend struct {
	dsn        string
	collection string

	mu       sync.Mutex
	conn     *sqlx.DB
	migrated bool
}

func init() {
	Register("postgres", createPostgresBackend)
}

func createPostgresBackend(args interface{}) (Backend, error) {
	cfg := &postgresConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres vector store dsn is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "default"
	}
	return &postgresBackend{dsn: cfg.DSN, collection: cfg.Collection}, nil
}

func (b *postgresBackend) Type() string {
	return "postgres"
}

type collectionRow struct {
	Provider string `db:"provider"`
	Dim      int    `db:"dim"`
}

func (b *postgresBackend) pool() (*sqlx.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := db.Open(b.dsn)
	if err != nil {
		return nil, ioError("connect", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *postgresBackend) migrate(conn *sqlx.DB) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.migrated {
		return nil
	}
	if err := db.ApplyMigrations(conn); err != nil {
		return ioError("migrate", err)
	}
	b.migrated = true
	return nil
}

func (b *postgresBackend) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	b.migrated = false
	return err
}

func schemaExists(ctx context.Context, conn *sqlx.DB) (bool, error) {
	var exists bool
	if err := conn.GetContext(ctx, &exists, `SELECT to_regclass('vector_collections') IS NOT NULL`); err != nil {
		return false, ioError("check schema", err)
	}
	return exists, nil
}

func (b *postgresBackend) OpenOrNone(ctx context.Context) (Store, error) {
	conn, err := b.pool()
	if err != nil {
		return nil, err
	}
	ok, err := schemaExists(ctx, conn)
	if err != nil || !ok {
		return nil, err
	}
	s, err := b.load(ctx, conn)
	if err != nil || s == nil {
		return nil, err
	}
	return s, nil
}

func (b *postgresBackend) Create(ctx context.Context, provider string) (Store, error) {
	conn, err := b.pool()
	if err != nil {
		return nil, err
	}
	if err := b.migrate(conn); err != nil {
		return nil, err
	}
	query, args := dbutil.Finalize(
		`INSERT INTO vector_collections (name, provider, dim, ctime) VALUES (?, '', 0, ?) ON CONFLICT (name) DO NOTHING`,
		[]interface{}{b.collection, time.Now().UnixMilli()},
	)
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return nil, ioError("create", err)
	}
	s, err := b.load(ctx, conn)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ioError("create", fmt.Errorf("collection %s missing after insert", b.collection))
	}
	if err := s.BindProvider(ctx, provider); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *postgresBackend) load(ctx context.Context, conn *sqlx.DB) (*postgresStore, error) {
	query, args := dbutil.Finalize(`SELECT provider, dim FROM vector_collections WHERE name = ?`, []interface{}{b.collection})
	var row collectionRow
	if err := conn.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ioError("load collection", err)
	}
	logutil.GetLogger(ctx).Info("vector store opened",
		zap.String("collection", b.collection),
		zap.String("provider", row.Provider),
		zap.Int("dim", row.Dim),
	)
	return &postgresStore{db: conn, release: b.release, collection: b.collection, provider: row.Provider, dim: row.Dim}, nil
}

type postgresStore struct {
	db         *sqlx.DB
	release    func() error
	collection string

	mu       sync.RWMutex
	provider string
	dim      int
}

func (s *postgresStore) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

func (s *postgresStore) BindProvider(ctx context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkProvider(s.provider, provider); err != nil {
		return err
	}
	if s.provider == provider {
		return nil
	}
	query, args := dbutil.Finalize(
		`UPDATE vector_collections SET provider = ? WHERE name = ? AND provider = ''`,
		[]interface{}{provider, s.collection},
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ioError("bind provider", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var recorded string
		query, args = dbutil.Finalize(`SELECT provider FROM vector_collections WHERE name = ?`, []interface{}{s.collection})
		if err := s.db.GetContext(ctx, &recorded, query, args...); err != nil {
			return ioError("bind provider", err)
		}
		if err := checkProvider(recorded, provider); err != nil {
			return err
		}
	}
	s.provider = provider
	return nil
}

func (s *postgresStore) Exists(ctx context.Context, sourceHash string) (bool, error) {
	query, args := dbutil.Finalize(
		`SELECT EXISTS (SELECT 1 FROM vector_records WHERE collection = ? AND source_hash = ?)`,
		[]interface{}{s.collection, sourceHash},
	)
	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, ioError("exists", err)
	}
	return exists, nil
}

func (s *postgresStore) Add(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := validateRecords(records, s.dim)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ioError("add", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dim == 0 {
		query, args := dbutil.Finalize(`UPDATE vector_collections SET dim = ? WHERE name = ?`, []interface{}{dim, s.collection})
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, ioError("add", err)
		}
	}
	insert := sqlx.Rebind(sqlx.DOLLAR,
		`INSERT INTO vector_records (id, collection, source_hash, content, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	ids := make([]string, len(records))
	for i, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, insert,
			id, s.collection, rec.Metadata[model.MetaSourceHash], rec.Text, string(meta), pgvector.NewVector(rec.Embedding),
		); err != nil {
			return nil, ioError("add", err)
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, ioError("commit", err)
	}
	s.dim = dim
	return ids, nil
}

type searchRow struct {
	ID       string  `db:"id"`
	Content  string  `db:"content"`
	Metadata []byte  `db:"metadata"`
	Score    float64 `db:"score"`
}

func (s *postgresStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if dim != 0 && len(query) != dim {
		return nil, fmt.Errorf("query dimension %d does not match collection dimension %d", len(query), dim)
	}
	stmt := `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE collection = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	var rows []searchRow
	if err := s.db.SelectContext(ctx, &rows, stmt, pgvector.NewVector(query), s.collection, k); err != nil {
		return nil, ioError("search", err)
	}
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		meta := map[string]string{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return nil, ioError("search", err)
			}
		}
		results = append(results, Result{ID: row.ID, Text: row.Content, Metadata: meta, Score: float32(row.Score)})
	}
	return results, nil
}

func (s *postgresStore) Count(ctx context.Context) (int, error) {
	query, args := dbutil.Finalize(`SELECT COUNT(1) FROM vector_records WHERE collection = ?`, []interface{}{s.collection})
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, ioError("count", err)
	}
	return n, nil
}

// Close releases the backend's pool, the next open reconnects.
func (s *postgresStore) Close() error {
	return s.release()
}
