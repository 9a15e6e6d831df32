package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"agent-hub/internal/model"
)

var (
	// ErrInvalidNamespace reports an empty or whitespace-only namespace
	// argument. This is a programming error in the caller, not an access
	// control outcome, so it fails loud.
	ErrInvalidNamespace = errors.New("invalid namespace")

	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionNotFound covers both a missing session and a session owned
	// by another namespace. Write paths raise it instead of dropping data.
	ErrSessionNotFound = errors.New("session not found or access denied")

	// ErrDuplicateTag is returned when a concurrent creation for the same
	// (namespace, tag) won the unique-index race first.
	ErrDuplicateTag = errors.New("duplicate session tag")

	ErrDuplicateMachine = errors.New("duplicate machine id")

	ErrMachineNotFound = errors.New("machine not found or access denied")
)

type Store struct {
	db *sql.DB

	mu                sync.Mutex
	authRequestsByKey map[string]model.AuthRequest
}

// Open opens (or creates) the database at path and applies migrations.
// ":memory:" opens a private in-memory database, used by tests; with the
// pool capped at one connection it stays alive for the store's lifetime.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:                db,
		authRequestsByKey: make(map[string]model.AuthRequest),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func checkNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return ErrInvalidNamespace
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
