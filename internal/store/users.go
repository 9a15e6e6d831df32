package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"agent-hub/internal/model"
)

// User operations are administrative and deliberately unscoped: a user id is
// itself the namespace boundary everything else is scoped by.

func (s *Store) CreateUser(username string, telegramID, passwordHash *string) (model.User, error) {
	if username == "" {
		return model.User{}, fmt.Errorf("%w: missing username", ErrInvalidArgument)
	}
	u := model.User{
		ID:           uuid.NewString(),
		TelegramID:   telegramID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    nowMillis(),
	}
	_, err := s.db.Exec(
		`INSERT INTO users(id, telegram_id, username, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, nullable(u.TelegramID), u.Username, nullable(u.PasswordHash), u.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByID(id string) (model.User, bool, error) {
	row := s.db.QueryRow(`SELECT id, telegram_id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("select user: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetUserByUsername(username string) (model.User, bool, error) {
	row := s.db.QueryRow(`SELECT id, telegram_id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("select user: %w", err)
	}
	return u, true, nil
}

// GetUserByExternalID looks a user up by the external platform identity
// (telegram id) recorded at bind time.
func (s *Store) GetUserByExternalID(telegramID string) (model.User, bool, error) {
	row := s.db.QueryRow(`SELECT id, telegram_id, username, password_hash, created_at FROM users WHERE telegram_id = ?`, telegramID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("select user: %w", err)
	}
	return u, true, nil
}

// GetOrCreateUser resolves a user by username, creating the account on
// first sight. Concurrent first calls collapse onto the unique index.
func (s *Store) GetOrCreateUser(username string) (model.User, bool, error) {
	if username == "" {
		return model.User{}, false, fmt.Errorf("%w: missing username", ErrInvalidArgument)
	}
	if u, ok, err := s.GetUserByUsername(username); err != nil {
		return model.User{}, false, err
	} else if ok {
		return u, false, nil
	}

	u := model.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: nowMillis(),
	}
	_, err := s.db.Exec(
		`INSERT INTO users(id, username, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Username, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		winner, ok, err := s.GetUserByUsername(username)
		if err != nil {
			return model.User{}, false, err
		}
		if !ok {
			return model.User{}, false, fmt.Errorf("user race lost and row missing")
		}
		return winner, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetAllUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT id, telegram_id, username, password_hash, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	result := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
