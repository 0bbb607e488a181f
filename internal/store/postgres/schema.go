package postgres

import "fmt"

// schemaStatements returns the DDL for the networked backend. Tables carry a
// composite (id, tenant_id) primary key so ids can repeat across tenants;
// legacy rows have tenant_id = ''.
func schemaStatements(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kg_entities (
            id TEXT NOT NULL,
            tenant_id TEXT NOT NULL DEFAULT '',
            entity_type TEXT NOT NULL,
            properties JSONB NOT NULL DEFAULT '{}',
            embedding vector(%d),
            source TEXT NOT NULL DEFAULT '',
            confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (id, tenant_id)
        )`, embeddingDims),

		`CREATE TABLE IF NOT EXISTS kg_relations (
            id TEXT NOT NULL,
            tenant_id TEXT NOT NULL DEFAULT '',
            relation_type TEXT NOT NULL,
            source_id TEXT NOT NULL,
            target_id TEXT NOT NULL,
            properties JSONB NOT NULL DEFAULT '{}',
            weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
            unresolved BOOLEAN NOT NULL DEFAULT FALSE,
            source TEXT NOT NULL DEFAULT '',
            confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (id, tenant_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_kg_entities_tenant_type ON kg_entities (tenant_id, entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_kg_relations_tenant_source ON kg_relations (tenant_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_kg_relations_tenant_target ON kg_relations (tenant_id, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_kg_relations_tenant_type ON kg_relations (tenant_id, relation_type)`,
		`CREATE INDEX IF NOT EXISTS idx_kg_entities_embedding ON kg_entities USING hnsw (embedding vector_cosine_ops)`,
	}
}

// rlsStatements installs policies that restrict each session to the tenant
// named by the app.tenant_id variable. The empty default keeps sessions that
// never set the variable in the legacy scope.
func rlsStatements() []string {
	return []string{
		`ALTER TABLE kg_entities ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE kg_relations ENABLE ROW LEVEL SECURITY`,
		`DROP POLICY IF EXISTS kg_entities_tenant ON kg_entities`,
		`CREATE POLICY kg_entities_tenant ON kg_entities
            USING (tenant_id = COALESCE(current_setting('app.tenant_id', true), ''))`,
		`DROP POLICY IF EXISTS kg_relations_tenant ON kg_relations`,
		`CREATE POLICY kg_relations_tenant ON kg_relations
            USING (tenant_id = COALESCE(current_setting('app.tenant_id', true), ''))`,
	}
}
