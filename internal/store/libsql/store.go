// Package libsql provides the embedded GraphStore backend on top of the
// go-libsql driver. A file: URL gives a single-file local database; a
// libsql:// URL reaches a remote server through the same driver. Writes are
// serialized by a single-writer mutex; reads go straight to the database and
// observe committed state.
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

const timeLayout = time.RFC3339Nano

// Store is the embedded GraphStore backend.
type Store struct {
	config *Config
	db     *sql.DB

	// writeMu serializes all mutating operations: one active writer,
	// concurrent readers.
	writeMu sync.Mutex

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// New builds a Store; call Initialize before use.
func New(config *Config) *Store {
	return &Store{
		config:    config,
		stmtCache: make(map[string]*sql.Stmt),
	}
}

// Initialize opens the database and applies schema. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	done := metrics.TimeOp("libsql_initialize")
	success := false
	defer func() { done(success) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.db != nil {
		success = true
		return nil
	}
	if s.config.EmbeddingDims <= 0 || s.config.EmbeddingDims > 65536 {
		return fmt.Errorf("embedding dims must be between 1 and 65536 inclusive, got %d", s.config.EmbeddingDims)
	}

	dbURL := s.config.URL
	if !strings.HasPrefix(dbURL, "file:") && s.config.AuthToken != "" {
		// Build URL safely and append/override the authToken parameter.
		if u, perr := url.Parse(dbURL); perr == nil {
			q := u.Query()
			q.Set("authToken", s.config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		} else if strings.Contains(dbURL, "?") {
			dbURL = dbURL + "&authToken=" + url.QueryEscape(s.config.AuthToken)
		} else {
			dbURL = dbURL + "?authToken=" + url.QueryEscape(s.config.AuthToken)
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return &kgerr.BackendUnavailableError{Backend: "libsql", Err: err}
	}

	if err := s.applySchema(ctx, db); err != nil {
		db.Close()
		return &kgerr.BackendUnavailableError{Backend: "libsql", Err: err}
	}

	if s.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.config.MaxOpenConns)
	}
	if s.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.config.MaxIdleConns)
	}
	if s.config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(s.config.ConnMaxIdleSec) * time.Second)
	}
	if s.config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(s.config.ConnMaxLifeSec) * time.Second)
	}

	s.db = db
	stats := db.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	success = true
	return nil
}

func (s *Store) applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(s.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database and the statement cache. Idempotent.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.db == nil {
		return nil
	}
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close libsql database: %w", err)
	}
	return nil
}

func (s *Store) ready() (*sql.DB, error) {
	if s.db == nil {
		return nil, &kgerr.BackendUnavailableError{Backend: "libsql", Err: fmt.Errorf("store not initialized")}
	}
	return s.db, nil
}

// getPreparedStmt returns or prepares and caches a statement.
func (s *Store) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	s.stmtMu.RLock()
	if stmt, ok := s.stmtCache[sqlText]; ok {
		s.stmtMu.RUnlock()
		metrics.Default().IncStmtCacheHit("prepare")
		return stmt, nil
	}
	s.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	s.stmtCache[sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}

// Traverse delegates to the shared bounded walk.
func (s *Store) Traverse(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	done := metrics.TimeOp("libsql_traverse")
	success := false
	defer func() { done(success) }()

	paths, truncated, err := traverse.CollectPaths(ctx, s, tc, spec)
	if err != nil {
		return nil, false, err
	}
	success = true
	return paths, truncated, nil
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
