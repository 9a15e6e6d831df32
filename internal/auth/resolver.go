package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"agent-hub/internal/model"
)

var ErrUnauthorized = errors.New("unauthorized")

// Resolved is the outcome of credential resolution: the acting user and the
// namespace every subsequent store or engine call is scoped to.
type Resolved struct {
	UserID    string
	Namespace string
}

// Directory is the slice of the store the resolver needs.
type Directory interface {
	ValidateCliToken(token string) (string, bool, error)
	GetUserByID(id string) (model.User, bool, error)
	GetUserByUsername(username string) (model.User, bool, error)
}

const (
	cliTokenPrefix     = "cli_"
	defaultCliUsername = "cli"
)

// strategy inspects a credential and either claims it (resolved or rejected)
// or declares itself not applicable so the next one in priority order runs.
type strategy struct {
	name    string
	resolve func(credential string) (Resolved, bool, error)
}

type Resolver struct {
	dir         Directory
	sharedToken string
	tokenCfg    TokenConfig
	strategies  []strategy
}

// NewResolver builds the fixed-priority strategy chain: per-user CLI token,
// legacy shared API token with a namespace suffix, then signed session
// token. An empty sharedToken disables the legacy strategy.
func NewResolver(dir Directory, sharedToken string, tokenCfg TokenConfig) *Resolver {
	r := &Resolver{dir: dir, sharedToken: sharedToken, tokenCfg: tokenCfg}
	r.strategies = []strategy{
		{name: "cli-token", resolve: r.resolveCliToken},
		{name: "shared-token", resolve: r.resolveSharedToken},
		{name: "session-token", resolve: r.resolveSessionToken},
	}
	return r
}

// Resolve maps a bearer credential to {userID, namespace}. The first
// strategy that recognizes the credential decides the outcome; a recognized
// but invalid credential is rejected, not passed down the chain.
func (r *Resolver) Resolve(credential string) (Resolved, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Resolved{}, ErrUnauthorized
	}

	for _, st := range r.strategies {
		resolved, applicable, err := st.resolve(credential)
		if !applicable {
			continue
		}
		if err != nil {
			return Resolved{}, err
		}
		return r.bridgeNamespace(resolved)
	}
	return Resolved{}, ErrUnauthorized
}

func (r *Resolver) resolveCliToken(credential string) (Resolved, bool, error) {
	if !strings.HasPrefix(credential, cliTokenPrefix) {
		return Resolved{}, false, nil
	}
	userID, ok, err := r.dir.ValidateCliToken(credential)
	if err != nil {
		return Resolved{}, true, err
	}
	if !ok {
		return Resolved{}, true, ErrUnauthorized
	}
	return Resolved{UserID: userID, Namespace: userID}, true, nil
}

// resolveSharedToken accepts the legacy shared API token wrapped with a
// namespace suffix ("<token>:<namespace>"). The base token is compared in
// constant time; the suffix names a logical namespace that may be a fresh
// sub-identity with no persisted user yet.
func (r *Resolver) resolveSharedToken(credential string) (Resolved, bool, error) {
	if r.sharedToken == "" {
		return Resolved{}, false, nil
	}
	idx := strings.LastIndex(credential, ":")
	if idx <= 0 {
		return Resolved{}, false, nil
	}
	base, namespace := credential[:idx], credential[idx+1:]
	if namespace == "" {
		return Resolved{}, false, nil
	}
	if subtle.ConstantTimeCompare([]byte(base), []byte(r.sharedToken)) != 1 {
		return Resolved{}, true, ErrUnauthorized
	}
	return Resolved{Namespace: namespace}, true, nil
}

func (r *Resolver) resolveSessionToken(credential string) (Resolved, bool, error) {
	claims, err := VerifyToken(credential, r.tokenCfg)
	if err != nil {
		return Resolved{}, true, ErrUnauthorized
	}
	if claims.UserID == "" {
		return Resolved{}, true, ErrUnauthorized
	}
	if claims.TokenType == TokenTypeRefresh {
		return Resolved{}, true, ErrUnauthorized
	}
	namespace := claims.Namespace
	if namespace == "" {
		namespace = claims.UserID
	}
	return Resolved{UserID: claims.UserID, Namespace: namespace}, true, nil
}

// bridgeNamespace fills in the owner of last resort: a resolved namespace
// with no persisted user is owned by the default cli user, so routing always
// lands on a real account.
func (r *Resolver) bridgeNamespace(resolved Resolved) (Resolved, error) {
	if resolved.Namespace == "" {
		return Resolved{}, ErrUnauthorized
	}

	if resolved.UserID != "" {
		return resolved, nil
	}

	if owner, ok, err := r.dir.GetUserByID(resolved.Namespace); err != nil {
		return Resolved{}, err
	} else if ok {
		resolved.UserID = owner.ID
		return resolved, nil
	}

	cliUser, ok, err := r.dir.GetUserByUsername(defaultCliUsername)
	if err != nil {
		return Resolved{}, err
	}
	if !ok {
		return Resolved{}, ErrUnauthorized
	}
	resolved.UserID = cliUser.ID
	return resolved, nil
}
