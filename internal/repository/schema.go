package repository

// Schema definitions for Larder database.
// Compatible with both SQLite and PostgreSQL.
// Instants are stored as Unix nanoseconds so range scans order the same on both drivers.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    quantity REAL NOT NULL DEFAULT 0,
    occurred_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON events(tenant_id, entity_id, occurred_at);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    composite REAL NOT NULL,
    evaluated_at BIGINT NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_entity ON evaluations(tenant_id, domain, entity_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_tier ON evaluations(tenant_id, tier);
`

// schemaActionRecords defines the append-only action log.
// Rows are only ever inserted; the unique key makes a trigger fire once per entity.
const schemaActionRecords = `
CREATE TABLE IF NOT EXISTS action_records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    trigger_id TEXT NOT NULL,
    action_id TEXT NOT NULL,
    category TEXT NOT NULL,
    params TEXT NOT NULL,
    result TEXT NOT NULL,
    success INTEGER NOT NULL,
    recorded_at BIGINT NOT NULL,
    UNIQUE (tenant_id, entity_id, trigger_id)
);

CREATE INDEX IF NOT EXISTS idx_action_records_entity ON action_records(tenant_id, entity_id, recorded_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaEvaluations,
		schemaActionRecords,
	}
}
