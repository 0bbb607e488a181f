package postgres

import (
	"os"
	"strconv"
)

// Config holds the networked backend settings. The DSN is anything
// pgxpool.ParseConfig accepts, typically a postgres:// URL.
type Config struct {
	DSN           string
	EmbeddingDims int
	MaxConns      int32
	MinConns      int32

	// EnableRLS installs row-level security policies keyed on the
	// app.tenant_id session variable. Requires a non-superuser role;
	// superusers bypass RLS entirely.
	EnableRLS bool
}

// NewConfig builds a Config from environment variables.
func NewConfig() *Config {
	cfg := &Config{
		DSN:           os.Getenv("DATABASE_URL"),
		EmbeddingDims: 4,
		MaxConns:      10,
	}
	if v := os.Getenv("KGRAPH_EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbeddingDims = n
		}
	}
	if v := os.Getenv("PG_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("PG_MIN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MinConns = int32(n)
		}
	}
	if v := os.Getenv("PG_ENABLE_RLS"); v == "1" || v == "true" {
		cfg.EnableRLS = true
	}
	return cfg
}
