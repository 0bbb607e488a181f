// Package postgres provides the networked GraphStore backend on top of a
// pgx connection pool with pgvector similarity search. Concurrency control
// is left to the database; writes run in transactions.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

// Store is the networked GraphStore backend.
type Store struct {
	config *Config
	pool   *pgxpool.Pool

	// sessionMu guards the tenant bound onto new pool connections.
	sessionMu     sync.RWMutex
	sessionTenant string
	sessionBound  bool
}

// New builds a Store; call Initialize before use.
func New(config *Config) *Store {
	return &Store{config: config}
}

// Initialize opens the pool and applies schema. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	done := metrics.TimeOp("pg_initialize")
	success := false
	defer func() { done(success) }()

	if s.pool != nil {
		success = true
		return nil
	}
	if s.config.DSN == "" {
		return fmt.Errorf("postgres backend requires a DSN")
	}
	if s.config.EmbeddingDims <= 0 || s.config.EmbeddingDims > 16000 {
		return fmt.Errorf("embedding dims must be between 1 and 16000 inclusive, got %d", s.config.EmbeddingDims)
	}

	poolCfg, err := pgxpool.ParseConfig(s.config.DSN)
	if err != nil {
		return &kgerr.BackendUnavailableError{Backend: "postgres", Err: err}
	}
	if s.config.MaxConns > 0 {
		poolCfg.MaxConns = s.config.MaxConns
	}
	if s.config.MinConns > 0 {
		poolCfg.MinConns = s.config.MinConns
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return s.bindSessionTenant(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return &kgerr.BackendUnavailableError{Backend: "postgres", Err: err}
	}
	if err := s.applySchema(ctx, pool); err != nil {
		pool.Close()
		return &kgerr.BackendUnavailableError{Backend: "postgres", Err: err}
	}

	s.pool = pool
	stat := pool.Stat()
	metrics.Default().ObservePoolStats(int(stat.AcquiredConns()), int(stat.IdleConns()))
	success = true
	return nil
}

func (s *Store) applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := schemaStatements(s.config.EmbeddingDims)
	if s.config.EnableRLS {
		statements = append(statements, rlsStatements()...)
	}
	for _, statement := range statements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the pool. Idempotent.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *Store) ready() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, &kgerr.BackendUnavailableError{Backend: "postgres", Err: fmt.Errorf("store not initialized")}
	}
	return s.pool, nil
}

// sessionExecer is the slice of *pgx.Conn the session binding needs.
type sessionExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// bindSessionTenant sets the RLS session variable on a freshly established
// connection. Runs from the pool's AfterConnect hook; a no-op until
// SetSessionTenant has been called.
func (s *Store) bindSessionTenant(ctx context.Context, conn sessionExecer) error {
	s.sessionMu.RLock()
	bound, tenant := s.sessionBound, s.sessionTenant
	s.sessionMu.RUnlock()
	if !bound {
		return nil
	}
	if _, err := conn.Exec(ctx, "SELECT set_config('app.tenant_id', $1, false)", tenant); err != nil {
		return fmt.Errorf("failed to set session tenant: %w", err)
	}
	return nil
}

// SetSessionTenant binds the RLS session variable for every connection the
// pool hands out from now on. Existing connections are retired so nothing
// keeps serving with a stale or missing binding. Effective when EnableRLS is
// set and the role is subject to RLS.
func (s *Store) SetSessionTenant(ctx context.Context, tenant string) error {
	pool, err := s.ready()
	if err != nil {
		return err
	}
	s.sessionMu.Lock()
	s.sessionTenant = tenant
	s.sessionBound = true
	s.sessionMu.Unlock()
	pool.Reset()
	return nil
}

// Traverse delegates to the shared bounded walk.
func (s *Store) Traverse(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	done := metrics.TimeOp("pg_traverse")
	success := false
	defer func() { done(success) }()

	paths, truncated, err := traverse.CollectPaths(ctx, s, tc, spec)
	if err != nil {
		return nil, false, err
	}
	success = true
	return paths, truncated, nil
}

// parseVector decodes the pgvector text form "[1,2,3]".
func parseVector(text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", text)
	}
	inner := trimmed[1 : len(trimmed)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
