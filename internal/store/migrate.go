package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultAdminUsername = "admin"
	DefaultCliUsername   = "cli"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	telegram_id TEXT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	tag TEXT NOT NULL,
	machine_id TEXT,
	metadata TEXT NOT NULL DEFAULT '',
	metadata_version INTEGER NOT NULL DEFAULT 0,
	agent_state TEXT,
	agent_state_version INTEGER NOT NULL DEFAULT 0,
	todos TEXT,
	todos_updated_at INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	active_at INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(namespace, tag)
);

CREATE TABLE IF NOT EXISTS machines (
	id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	metadata_version INTEGER NOT NULL DEFAULT 0,
	daemon_state TEXT,
	daemon_state_version INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	active_at INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY(id, namespace)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	seq INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, seq)
);

CREATE TABLE IF NOT EXISTS cli_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	token_hash TEXT NOT NULL UNIQUE,
	name TEXT,
	revoked INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

`

// Indexes are created after the legacy upgrade: on a pre-namespace database
// the namespace columns do not exist yet when the table DDL runs, and index
// DDL on a missing column is a hard error rather than a no-op.
const schemaV1Indexes = `
CREATE INDEX IF NOT EXISTS sessions_namespace_updated_at
ON sessions(namespace, updated_at DESC);

CREATE INDEX IF NOT EXISTS machines_namespace_updated_at
ON machines(namespace, updated_at DESC);

CREATE INDEX IF NOT EXISTS messages_session_seq
ON messages(session_id, seq);
`

// migrate brings the schema to the current version. It is idempotent: a
// legacy database (tables without namespace columns) is upgraded in place
// with every prior id, timestamp, version and seq value preserved, and an
// already-current database passes through untouched.
func (s *Store) migrate() error {
	legacy, err := s.isLegacySchema()
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	adminID, _, err := s.ensureDefaultUsers()
	if err != nil {
		return err
	}

	if legacy {
		if err := s.upgradeLegacyTables(adminID); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(schemaV1Indexes); err != nil {
		return fmt.Errorf("apply indexes: %w", err)
	}

	var exists int
	err = s.db.QueryRow(`SELECT 1 FROM schema_migrations WHERE version = 1`).Scan(&exists)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES (1, datetime('now'))`); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("check migration: %w", err)
	}
	return nil
}

// isLegacySchema reports whether a sessions table exists without the
// namespace column, which marks a pre-multi-tenant database.
func (s *Store) isLegacySchema() (bool, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe sessions table: %w", err)
	}
	has, err := s.tableHasColumn("sessions", "namespace")
	if err != nil {
		return false, err
	}
	return !has, nil
}

func (s *Store) tableHasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) addColumnIfMissing(table, column, definition string) error {
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// upgradeLegacyTables adds the columns introduced after the single-tenant
// era and backfills every existing row into the admin namespace. Legacy
// machines keep their id-only primary key; only freshly created databases
// get the composite (id, namespace) key.
func (s *Store) upgradeLegacyTables(adminID string) error {
	type col struct{ table, name, def string }
	added := []col{
		{"sessions", "namespace", "TEXT NOT NULL DEFAULT ''"},
		{"sessions", "machine_id", "TEXT"},
		{"sessions", "todos", "TEXT"},
		{"sessions", "todos_updated_at", "INTEGER NOT NULL DEFAULT 0"},
		{"machines", "namespace", "TEXT NOT NULL DEFAULT ''"},
		{"machines", "seq", "INTEGER NOT NULL DEFAULT 0"},
		{"machines", "active", "INTEGER NOT NULL DEFAULT 0"},
		{"machines", "active_at", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range added {
		if err := s.addColumnIfMissing(c.table, c.name, c.def); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(`UPDATE sessions SET namespace = ? WHERE namespace = '' OR namespace IS NULL`, adminID); err != nil {
		return fmt.Errorf("backfill sessions namespace: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE machines SET namespace = ? WHERE namespace = '' OR namespace IS NULL`, adminID); err != nil {
		return fmt.Errorf("backfill machines namespace: %w", err)
	}
	return nil
}

// ensureDefaultUsers seeds the admin and cli users on first run. The admin
// user's id doubles as the default administrative namespace legacy rows are
// backfilled into; the cli user is the owner of last resort for CLI token
// namespaces that never registered an account.
func (s *Store) ensureDefaultUsers() (adminID, cliID string, err error) {
	adminID, err = s.ensureUser(DefaultAdminUsername)
	if err != nil {
		return "", "", err
	}
	cliID, err = s.ensureUser(DefaultCliUsername)
	if err != nil {
		return "", "", err
	}
	return adminID, cliID, nil
}

func (s *Store) ensureUser(username string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup user %s: %w", username, err)
	}
	id = uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO users(id, username, created_at) VALUES (?, ?, ?)`,
		id, username, nowMillis(),
	); err != nil {
		return "", fmt.Errorf("seed user %s: %w", username, err)
	}
	return id, nil
}
