package kgraph

import (
	"os"
	"strconv"

	"github.com/kgfoundry/kgraph/internal/fusion"
	"github.com/kgfoundry/kgraph/internal/store/libsql"
	"github.com/kgfoundry/kgraph/internal/store/postgres"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendLibSQL   Backend = "libsql"
	BackendPostgres Backend = "postgres"
)

// Config selects and tunes a Service. Zero values fall back to env-driven
// defaults, so NewConfig()-then-override is the usual pattern.
type Config struct {
	// Backend picks the storage implementation, never via reflection.
	Backend Backend

	// LibSQL configures the embedded backend; nil uses env defaults.
	LibSQL *libsql.Config
	// Postgres configures the networked backend; nil uses env defaults.
	Postgres *postgres.Config

	// HybridAlpha weights semantic similarity in hybrid reranking.
	HybridAlpha float64

	// FusionThreshold and FusionStrategy are the fusion pass defaults;
	// per-call Options still override them.
	FusionThreshold float64
	FusionStrategy  fusion.Strategy
}

// NewConfig builds a Config from environment variables. KGRAPH_BACKEND
// selects the backend and defaults to the in-process store.
func NewConfig() *Config {
	cfg := &Config{
		Backend:        BackendMemory,
		HybridAlpha:    traverse.DefaultConfig().Alpha,
		FusionStrategy: fusion.MostComplete,
	}
	switch Backend(os.Getenv("KGRAPH_BACKEND")) {
	case BackendLibSQL:
		cfg.Backend = BackendLibSQL
	case BackendPostgres:
		cfg.Backend = BackendPostgres
	}
	if v := os.Getenv("KGRAPH_HYBRID_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.HybridAlpha = f
		}
	}
	if v := os.Getenv("KGRAPH_FUSION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.FusionThreshold = f
		}
	}
	switch fusion.Strategy(os.Getenv("KGRAPH_FUSION_STRATEGY")) {
	case fusion.MostRecent:
		cfg.FusionStrategy = fusion.MostRecent
	case fusion.HighestConfidence:
		cfg.FusionStrategy = fusion.HighestConfidence
	}
	return cfg
}
