package libsql

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension.
// Primary keys are composite (id, tenant_id) so the same id can be reused
// across tenants; legacy rows carry tenant_id = ''.
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
        id TEXT NOT NULL,
        tenant_id TEXT NOT NULL DEFAULT '',
        entity_type TEXT NOT NULL,
        properties TEXT NOT NULL DEFAULT '{}',
        embedding F32_BLOB(%d),
        source TEXT NOT NULL DEFAULT '',
        confidence REAL NOT NULL DEFAULT 1.0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        PRIMARY KEY (id, tenant_id)
    )`, embeddingDims),

		`CREATE TABLE IF NOT EXISTS relations (
        id TEXT NOT NULL,
        tenant_id TEXT NOT NULL DEFAULT '',
        relation_type TEXT NOT NULL,
        source_id TEXT NOT NULL,
        target_id TEXT NOT NULL,
        properties TEXT NOT NULL DEFAULT '{}',
        weight REAL NOT NULL DEFAULT 1.0,
        unresolved INTEGER NOT NULL DEFAULT 0,
        source TEXT NOT NULL DEFAULT '',
        confidence REAL NOT NULL DEFAULT 1.0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        PRIMARY KEY (id, tenant_id)
    )`,

		// Indexes keyed on tenant first so scoped scans stay cheap; the
		// tenant_id = '' legacy rows need no rewrite, only these indexes.
		`CREATE INDEX IF NOT EXISTS idx_entities_tenant_type ON entities(tenant_id, entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_tenant_source ON relations(tenant_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_tenant_target ON relations(tenant_id, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_tenant_type ON relations(tenant_id, relation_type)`,

		// Vector index for similarity search.
		`CREATE INDEX IF NOT EXISTS idx_entities_embedding ON entities(libsql_vector_idx(embedding))`,
	}
}
