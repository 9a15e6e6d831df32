package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"agent-hub/internal/model"
)

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateCliToken mints a new per-user token and returns the plaintext
// exactly once; only the hash is stored.
func (s *Store) GenerateCliToken(userID string, name *string) (model.CliToken, string, error) {
	if userID == "" {
		return model.CliToken{}, "", fmt.Errorf("%w: missing userID", ErrInvalidArgument)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return model.CliToken{}, "", fmt.Errorf("generate token: %w", err)
	}
	plaintext := "cli_" + hex.EncodeToString(raw)

	tok := model.CliToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hashToken(plaintext),
		Name:      name,
		CreatedAt: nowMillis(),
	}
	_, err := s.db.Exec(
		`INSERT INTO cli_tokens(id, user_id, token_hash, name, revoked, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		tok.ID, tok.UserID, tok.TokenHash, nullable(tok.Name), tok.CreatedAt,
	)
	if err != nil {
		return model.CliToken{}, "", fmt.Errorf("insert cli token: %w", err)
	}
	return tok, plaintext, nil
}

func (s *Store) GetCliTokens(userID string) ([]model.CliToken, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, token_hash, name, revoked, created_at FROM cli_tokens
		 WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cli tokens: %w", err)
	}
	defer rows.Close()

	result := make([]model.CliToken, 0)
	for rows.Next() {
		var tok model.CliToken
		var revoked int
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.Name, &revoked, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cli token: %w", err)
		}
		tok.Revoked = revoked != 0
		result = append(result, tok)
	}
	return result, rows.Err()
}

func (s *Store) RevokeCliToken(id, userID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE cli_tokens SET revoked = 1 WHERE id = ? AND user_id = ? AND revoked = 0`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("revoke cli token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke cli token: %w", err)
	}
	return n > 0, nil
}

// ValidateCliToken resolves a presented token to its owning user. The
// presented token is hashed and compared against every live hash with a
// constant-time comparison so lookup timing leaks nothing about the stored
// material.
func (s *Store) ValidateCliToken(token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	presented := []byte(hashToken(token))

	rows, err := s.db.Query(`SELECT user_id, token_hash FROM cli_tokens WHERE revoked = 0`)
	if err != nil {
		return "", false, fmt.Errorf("select cli tokens: %w", err)
	}
	defer rows.Close()

	matchedUser := ""
	for rows.Next() {
		var userID, hash string
		if err := rows.Scan(&userID, &hash); err != nil {
			return "", false, fmt.Errorf("scan cli token: %w", err)
		}
		if subtle.ConstantTimeCompare(presented, []byte(hash)) == 1 {
			matchedUser = userID
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	if matchedUser == "" {
		return "", false, nil
	}
	return matchedUser, true, nil
}
