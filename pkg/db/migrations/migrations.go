// Package migrations contains the schema migrations of the audit database.
package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillgate/pkg/db"
)

// All returns all registered migrations in order.
func All() []db.Migration {
	return []db.Migration{
		Migration20261001120000CreateModeTransitions(),
		Migration20261001120001IndexTransitionsBySession(),
	}
}

// Migration20261001120000CreateModeTransitions creates the transition audit table.
func Migration20261001120000CreateModeTransitions() db.Migration {
	return db.Migration{
		Version:     20261001120000,
		Description: "Create mode_transitions table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS mode_transitions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL,
					from_mode TEXT NOT NULL,
					to_mode TEXT NOT NULL,
					reason TEXT NOT NULL,
					occurred_at DATETIME NOT NULL
				)
			`)
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec(`DROP TABLE IF EXISTS mode_transitions`)
			return err
		},
	}
}

// Migration20261001120001IndexTransitionsBySession indexes transitions for per-session listing.
func Migration20261001120001IndexTransitionsBySession() db.Migration {
	return db.Migration{
		Version:     20261001120001,
		Description: "Index mode_transitions by session",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_mode_transitions_session ON mode_transitions(session_id, occurred_at)`)
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec(`DROP INDEX IF EXISTS idx_mode_transitions_session`)
			return err
		},
	}
}
