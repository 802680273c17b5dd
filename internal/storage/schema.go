package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 2

// Migration describes a single schema migration. Migrations are applied
// in Version order and recorded in schema_migrations.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of all schema migrations.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "summaries: generated window summaries",
		SQL: `
CREATE TABLE IF NOT EXISTS summaries (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL,
    source        TEXT NOT NULL,
    sample_count  INTEGER NOT NULL,
    window_start  INTEGER NOT NULL DEFAULT 0,
    window_end    INTEGER NOT NULL DEFAULT 0,
    latency_ms    INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    generated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_generated_at ON summaries(generated_at);
CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id);
`,
	},
	{
		Version:     2,
		Description: "sessions: connection history",
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    source          TEXT NOT NULL,
    started_at      DATETIME NOT NULL,
    ended_at        DATETIME,
    end_reason      TEXT NOT NULL DEFAULT '',
    samples_pushed  INTEGER NOT NULL DEFAULT 0,
    decode_errors   INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`,
	},
}
