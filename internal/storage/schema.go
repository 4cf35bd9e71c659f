package storage

// A migration is a schema upgrade step. Versions are applied in slice order
// and recorded in schema_migrations so a database created by an older build
// can be opened by any newer one without re-running applied steps.
type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_initial_schema",
		sql: `
-- The 'entries' table holds every scheduled item: imported homework and
-- notes, detected exams, and generated study sessions.
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    fingerprint TEXT,
    kind TEXT NOT NULL,
    date TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    task TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    parent_id TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,

    FOREIGN KEY(parent_id) REFERENCES entries(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
CREATE INDEX IF NOT EXISTS idx_entries_fingerprint ON entries(fingerprint);
CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_id);
`,
	},
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL
);
`
