package store

import (
	"context"
	"database/sql"
)

const instancesSchema = `
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    label TEXT,
    ts INTEGER NOT NULL,
    embedding BLOB
);
CREATE INDEX IF NOT EXISTS instances_ts ON instances(ts);
`

// EnsureSchema creates the instances table if it does not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, instancesSchema)
	return err
}
