package libsql

import (
	"os"
	"strconv"
)

// Config holds the embedded backend configuration.
type Config struct {
	URL            string
	AuthToken      string
	EmbeddingDims  int
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// NewConfig creates a new Config from environment variables.
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./kgraph.db"
	}

	dims := 4
	if v := os.Getenv("KGRAPH_EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}

	return &Config{
		URL:           url,
		AuthToken:     os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims: dims,
	}
}
