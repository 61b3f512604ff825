package sqlitestore

import (
	"context"
	"database/sql"
)

var schema = []string{
	`
CREATE TABLE IF NOT EXISTS transfer_states (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	direction INTEGER NOT NULL,
	resource_ref TEXT NOT NULL,
	local_path TEXT NOT NULL,

	payload TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),

	UNIQUE(owner, direction, resource_ref, local_path)
);
`,
	`CREATE INDEX IF NOT EXISTS transfer_states_owner_direction ON transfer_states (owner, direction);`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
