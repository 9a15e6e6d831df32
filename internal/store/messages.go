package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"agent-hub/internal/model"
)

const (
	DefaultMessageLimit = 200
	MaxMessageLimit     = 200
)

// CreateMessage appends a message to an owned session. Seq assignment, the
// message insert and the session's seq/updated_at bump commit in one
// transaction, so no two messages in a session can share a seq. A session
// that does not resolve under namespace raises ErrSessionNotFound: message
// creation is on the write path and must not silently drop data.
func (s *Store) CreateMessage(sessionID, content, namespace string, nowMillis int64) (model.Message, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Message{}, err
	}
	if sessionID == "" {
		return model.Message{}, fmt.Errorf("%w: missing session id", ErrInvalidArgument)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return model.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	err = tx.QueryRow(
		`SELECT seq FROM sessions WHERE id = ? AND namespace = ?`,
		sessionID, namespace,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return model.Message{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("select session seq: %w", err)
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq + 1,
		Content:   content,
		CreatedAt: nowMillis,
	}
	if _, err := tx.Exec(
		`INSERT INTO messages(id, session_id, content, seq, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Content, msg.Seq, msg.CreatedAt,
	); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET seq = ?, updated_at = ? WHERE id = ?`,
		msg.Seq, nowMillis, sessionID,
	); err != nil {
		return model.Message{}, fmt.Errorf("bump session seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// GetMessages returns messages with seq > afterSeq in ascending order,
// capped at limit. ok is false when the session does not resolve under
// namespace, indistinguishable from a missing session.
func (s *Store) GetMessages(sessionID, namespace string, afterSeq int64, limit int) ([]model.Message, bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}

	var exists int
	err := s.db.QueryRow(
		`SELECT 1 FROM sessions WHERE id = ? AND namespace = ?`,
		sessionID, namespace,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select session: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, content, seq, created_at FROM messages
		 WHERE session_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		sessionID, afterSeq, limit,
	)
	if err != nil {
		return nil, false, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	result := make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Content, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, msg)
	}
	return result, true, rows.Err()
}

// DeleteMessage removes a message when its owning session belongs to
// namespace.
func (s *Store) DeleteMessage(id, namespace string) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`DELETE FROM messages WHERE id = ? AND session_id IN
			(SELECT id FROM sessions WHERE namespace = ?)`,
		id, namespace,
	)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return n > 0, nil
}
