package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/store"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KGRAPH_EMBEDDING_DIMS", "")
	t.Setenv("PG_MAX_CONNS", "")
	t.Setenv("PG_ENABLE_RLS", "")

	cfg := NewConfig()
	assert.Equal(t, 4, cfg.EmbeddingDims)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.False(t, cfg.EnableRLS)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://kg:kg@localhost:5432/kg")
	t.Setenv("KGRAPH_EMBEDDING_DIMS", "768")
	t.Setenv("PG_MAX_CONNS", "25")
	t.Setenv("PG_ENABLE_RLS", "true")

	cfg := NewConfig()
	assert.Equal(t, "postgres://kg:kg@localhost:5432/kg", cfg.DSN)
	assert.Equal(t, 768, cfg.EmbeddingDims)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.True(t, cfg.EnableRLS)
}

func TestParseVector(t *testing.T) {
	vec, err := parseVector("[1,0.5,-2]")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5, -2}, vec)

	vec, err = parseVector(" [ 0.25, 0.75 ] ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.75}, vec)

	_, err = parseVector("1,2,3")
	assert.Error(t, err)
	_, err = parseVector("[1,x]")
	assert.Error(t, err)
}

func TestEmbeddingArgDimsCheck(t *testing.T) {
	s := New(&Config{EmbeddingDims: 4})

	arg, err := s.embeddingArg(nil)
	require.NoError(t, err)
	assert.Nil(t, arg)

	_, err = s.embeddingArg([]float32{1, 2})
	assert.Error(t, err)

	arg, err = s.embeddingArg([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.NotNil(t, arg)
}

func TestUninitializedStoreFails(t *testing.T) {
	s := New(&Config{EmbeddingDims: 4})
	_, err := s.GetEntity(context.Background(), nil, "alice")
	assert.True(t, kgerr.IsRetryable(err))
}

func TestInitializeRequiresDSN(t *testing.T) {
	s := New(&Config{EmbeddingDims: 4})
	err := s.Initialize(context.Background())
	assert.Error(t, err)
}

func TestSchemaStatementsUseConfiguredDims(t *testing.T) {
	statements := schemaStatements(768)
	assert.Contains(t, statements[1], "vector(768)")
}

type recordingExecer struct {
	sql  []string
	args [][]any
}

func (r *recordingExecer) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, arguments)
	return pgconn.CommandTag{}, nil
}

func TestBindSessionTenantOnNewConnections(t *testing.T) {
	s := New(&Config{EmbeddingDims: 4})
	exec := &recordingExecer{}

	// Before SetSessionTenant the hook leaves connections untouched.
	require.NoError(t, s.bindSessionTenant(context.Background(), exec))
	assert.Empty(t, exec.sql)

	s.sessionMu.Lock()
	s.sessionTenant = "acme"
	s.sessionBound = true
	s.sessionMu.Unlock()

	require.NoError(t, s.bindSessionTenant(context.Background(), exec))
	require.Len(t, exec.sql, 1)
	assert.Equal(t, "SELECT set_config('app.tenant_id', $1, false)", exec.sql[0])
	assert.Equal(t, []any{"acme"}, exec.args[0])
}

var (
	_ store.GraphStore    = (*Store)(nil)
	_ store.SessionScoper = (*Store)(nil)
)
