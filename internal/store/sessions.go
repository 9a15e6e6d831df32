package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"agent-hub/internal/model"
)

const sessionColumns = `id, namespace, tag, machine_id, metadata, metadata_version,
agent_state, agent_state_version, todos, todos_updated_at, active, active_at,
seq, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var sess model.Session
	var active int
	err := row.Scan(
		&sess.ID, &sess.Namespace, &sess.Tag, &sess.MachineID,
		&sess.Metadata, &sess.MetadataVersion,
		&sess.AgentState, &sess.AgentStateVersion,
		&sess.Todos, &sess.TodosUpdatedAt,
		&active, &sess.ActiveAt,
		&sess.Seq, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	sess.Active = active != 0
	return sess, nil
}

// CreateSession inserts a new session. A concurrent creation for the same
// (namespace, tag) loses the unique-index race with ErrDuplicateTag; the
// caller re-reads and returns the winner's row.
func (s *Store) CreateSession(namespace, tag, metadata string, agentState *string, nowMillis int64) (model.Session, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Session{}, err
	}
	if tag == "" {
		return model.Session{}, fmt.Errorf("%w: missing tag", ErrInvalidArgument)
	}

	metadataVersion := 0
	if metadata != "" {
		metadataVersion = 1
	}
	agentStateVersion := 0
	if agentState != nil {
		agentStateVersion = 1
	}

	sess := model.Session{
		ID:                uuid.NewString(),
		Namespace:         namespace,
		Tag:               tag,
		Metadata:          metadata,
		MetadataVersion:   metadataVersion,
		AgentState:        agentState,
		AgentStateVersion: agentStateVersion,
		CreatedAt:         nowMillis,
		UpdatedAt:         nowMillis,
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, namespace, tag, metadata, metadata_version,
			agent_state, agent_state_version, todos_updated_at, active, active_at,
			seq, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?, ?)`,
		sess.ID, sess.Namespace, sess.Tag, sess.Metadata, sess.MetadataVersion,
		nullable(sess.AgentState), sess.AgentStateVersion,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.Session{}, ErrDuplicateTag
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session only when it is owned by namespace. A row
// owned by someone else reads the same as a missing row.
func (s *Store) GetSession(id, namespace string) (model.Session, bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Session{}, false, err
	}
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND namespace = ?`,
		id, namespace,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("select session: %w", err)
	}
	return sess, true, nil
}

func (s *Store) GetSessionByTag(namespace, tag string) (model.Session, bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Session{}, false, err
	}
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE namespace = ? AND tag = ?`,
		namespace, tag,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("select session by tag: %w", err)
	}
	return sess, true, nil
}

func (s *Store) GetSessions(namespace string) ([]model.Session, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE namespace = ? ORDER BY updated_at DESC`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	result := make([]model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

// UpdateSession persists the full mutable state of sess. The caller (the
// sync engine) owns version arithmetic; the namespace in the WHERE clause
// re-applies the ownership check at the write site.
func (s *Store) UpdateSession(namespace string, sess model.Session) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET
			machine_id = ?, metadata = ?, metadata_version = ?,
			agent_state = ?, agent_state_version = ?,
			todos = ?, todos_updated_at = ?,
			active = ?, active_at = ?, updated_at = ?
		 WHERE id = ? AND namespace = ?`,
		nullable(sess.MachineID), sess.Metadata, sess.MetadataVersion,
		nullable(sess.AgentState), sess.AgentStateVersion,
		nullable(sess.Todos), sess.TodosUpdatedAt,
		boolToInt(sess.Active), sess.ActiveAt, sess.UpdatedAt,
		sess.ID, namespace,
	)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return n > 0, nil
}

// DeleteSession hard-deletes an owned session; messages cascade. The
// active-session refusal lives in the sync engine, which sees the live flag.
func (s *Store) DeleteSession(id, namespace string) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ? AND namespace = ?`, id, namespace)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}
