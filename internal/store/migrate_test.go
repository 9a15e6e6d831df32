package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

const legacySchema = `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY,
	tag TEXT NOT NULL UNIQUE,
	metadata TEXT NOT NULL DEFAULT '',
	metadata_version INTEGER NOT NULL DEFAULT 0,
	agent_state TEXT,
	agent_state_version INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	active_at INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE machines (
	id TEXT PRIMARY KEY,
	metadata TEXT NOT NULL DEFAULT '',
	metadata_version INTEGER NOT NULL DEFAULT 0,
	daemon_state TEXT,
	daemon_state_version INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	seq INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, seq)
);
`

func writeLegacyDatabase(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO sessions(id, tag, metadata, metadata_version, seq, created_at, updated_at)
		 VALUES ('sess-1', 'tag-1', 'old-meta', 3, 7, 1000, 2000)`,
	); err != nil {
		t.Fatalf("insert legacy session: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO machines(id, metadata, metadata_version, created_at, updated_at)
		 VALUES ('mach-1', 'm-meta', 2, 1000, 2000)`,
	); err != nil {
		t.Fatalf("insert legacy machine: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO messages(id, session_id, content, seq, created_at)
		 VALUES ('msg-1', 'sess-1', 'hello', 7, 1500)`,
	); err != nil {
		t.Fatalf("insert legacy message: %v", err)
	}
}

func TestMigrateUpgradesLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyDatabase(t, path)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	admin, ok, err := s.GetUserByUsername(DefaultAdminUsername)
	if err != nil || !ok {
		t.Fatalf("admin user: ok=%v err=%v", ok, err)
	}

	// Legacy rows land in the admin namespace with ids, versions and seq
	// values intact.
	sess, ok, err := s.GetSession("sess-1", admin.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession after upgrade: ok=%v err=%v", ok, err)
	}
	if sess.Metadata != "old-meta" || sess.MetadataVersion != 3 || sess.Seq != 7 {
		t.Fatalf("legacy session mangled: %+v", sess)
	}
	if sess.CreatedAt != 1000 || sess.UpdatedAt != 2000 {
		t.Fatalf("legacy timestamps mangled: %+v", sess)
	}

	m, ok, err := s.GetMachine("mach-1", admin.ID)
	if err != nil || !ok {
		t.Fatalf("GetMachine after upgrade: ok=%v err=%v", ok, err)
	}
	if m.Metadata != "m-meta" || m.MetadataVersion != 2 {
		t.Fatalf("legacy machine mangled: %+v", m)
	}

	// Messages survive and seq continues from the preserved counter.
	msgs, ok, err := s.GetMessages("sess-1", admin.ID, 0, 0)
	if err != nil || !ok {
		t.Fatalf("GetMessages: ok=%v err=%v", ok, err)
	}
	if len(msgs) != 1 || msgs[0].Seq != 7 {
		t.Fatalf("legacy messages mangled: %+v", msgs)
	}
	next, err := s.CreateMessage("sess-1", "new", admin.ID, 3000)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if next.Seq != 8 {
		t.Fatalf("seq did not continue: %d", next.Seq)
	}

	// The namespace indexes are created after the column upgrade, so they
	// must exist even on a database that started without the column.
	for _, name := range []string{"sessions_namespace_updated_at", "machines_namespace_updated_at"} {
		var found string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, name).Scan(&found)
		if err != nil {
			t.Fatalf("index %s missing after legacy upgrade: %v", name, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.db")
	writeLegacyDatabase(t, path)

	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	admin, _, err := s.GetUserByUsername(DefaultAdminUsername)
	if err != nil {
		t.Fatalf("admin user: %v", err)
	}
	sessions, err := s.GetSessions(admin.ID)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after repeated migrations, got %d", len(sessions))
	}
}
