// Package auth guards the apguard HTTP API with API keys and per-route
// minimum roles.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ChrisB0-2/apguard/internal/logger"
)

// Role is the authorization level of a caller. Higher roles include the
// rights of lower ones.
type Role int

const (
	RoleNone Role = iota
	// RoleViewer reads status, networks, the pending prompt and the audit log.
	RoleViewer
	// RoleOperator triggers scan cycles and answers trust prompts.
	RoleOperator
	// RoleAdmin edits the trust ledger directly.
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name. The empty string is RoleNone.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "none":
		return RoleNone, nil
	case "viewer":
		return RoleViewer, nil
	case "operator":
		return RoleOperator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// Identity is an authenticated caller.
type Identity struct {
	ID   string // stable, non-secret key fingerprint
	Name string
	Role Role
}

type identityKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by the authentication middleware,
// or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Authenticator resolves the caller of a request. It returns (nil, nil)
// when the request carries no credentials it understands.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidKeyFormat   = errors.New("invalid API key format")
	ErrNoKeys             = errors.New("no API keys configured")
)

// Chain builds the full guard: API key authentication followed by role
// checks against DefaultPermissions. Paths in publicPaths skip both.
func Chain(keys APIKeyConfig, publicPaths []string, log logger.Logger) (func(http.Handler) http.Handler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	authn, err := NewAPIKeyAuthenticator(keys, log)
	if err != nil {
		return nil, err
	}
	gate := NewMiddleware(log, []Authenticator{authn}, publicPaths)
	authz := NewAuthorizer(DefaultPermissions(), publicPaths, log)

	return func(next http.Handler) http.Handler {
		return gate.Wrap(authz.Wrap(next))
	}, nil
}
