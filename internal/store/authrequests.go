package store

import (
	"github.com/google/uuid"

	"agent-hub/internal/model"
)

// Auth requests are part of the transient CLI pairing handshake and are kept
// in memory only; a restart simply restarts the handshake.

func (s *Store) GetAuthRequest(publicKey string) (model.AuthRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.authRequestsByKey[publicKey]
	return req, ok
}

func (s *Store) UpsertAuthRequest(publicKey string, supportsV2 bool, nowMillis int64) model.AuthRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.authRequestsByKey[publicKey]; ok {
		existing.SupportsV2 = existing.SupportsV2 || supportsV2
		existing.UpdatedAt = nowMillis
		s.authRequestsByKey[publicKey] = existing
		return existing
	}

	req := model.AuthRequest{
		ID:         uuid.NewString(),
		PublicKey:  publicKey,
		SupportsV2: supportsV2,
		CreatedAt:  nowMillis,
		UpdatedAt:  nowMillis,
	}
	s.authRequestsByKey[publicKey] = req
	return req
}

func (s *Store) AuthorizeAuthRequest(publicKey, response, responseAccountID, token string, nowMillis int64) (model.AuthRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.authRequestsByKey[publicKey]
	if !ok {
		return model.AuthRequest{}, false
	}
	req.Response = response
	req.ResponseAccountID = responseAccountID
	req.Token = token
	req.UpdatedAt = nowMillis
	s.authRequestsByKey[publicKey] = req
	return req, true
}
