package auth

import (
	"net/http"
	"strings"

	"github.com/ChrisB0-2/apguard/internal/logger"
)

// Permission sets the minimum role for requests whose path starts with
// Prefix. An empty Method matches every method.
type Permission struct {
	Method  string
	Prefix  string
	MinRole Role
}

// DefaultPermissions covers every route the daemon serves. Anything not
// listed is denied.
func DefaultPermissions() []Permission {
	return []Permission{
		{Method: http.MethodGet, Prefix: "/ready", MinRole: RoleViewer},
		{Method: http.MethodGet, Prefix: "/status", MinRole: RoleViewer},
		{Method: http.MethodGet, Prefix: "/api/networks", MinRole: RoleViewer},
		{Method: http.MethodGet, Prefix: "/api/pending", MinRole: RoleViewer},
		{Method: http.MethodGet, Prefix: "/api/audit/", MinRole: RoleViewer},

		{Method: http.MethodPost, Prefix: "/trigger", MinRole: RoleOperator},
		{Method: http.MethodPost, Prefix: "/api/decisions", MinRole: RoleOperator},

		{Method: http.MethodDelete, Prefix: "/api/networks", MinRole: RoleAdmin},
	}
}

// Authorizer enforces Permissions on authenticated requests.
type Authorizer struct {
	perms  []Permission
	public map[string]bool
	log    logger.Logger
}

func NewAuthorizer(perms []Permission, publicPaths []string, log logger.Logger) *Authorizer {
	if log == nil {
		log = logger.NewNop()
	}
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Authorizer{perms: perms, public: public, log: log}
}

func (a *Authorizer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		id := IdentityFrom(r.Context())
		if id == nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		p := a.match(r.Method, r.URL.Path)
		if p == nil {
			a.log.Warn("no permission covers route", logger.F("method", r.Method), logger.F("path", r.URL.Path))
			writeJSONError(w, http.StatusForbidden, "access denied")
			return
		}
		if id.Role < p.MinRole {
			a.log.Warn("insufficient role",
				logger.F("method", r.Method),
				logger.F("path", r.URL.Path),
				logger.F("identity", id.Name),
				logger.F("role", id.Role.String()),
				logger.F("required", p.MinRole.String()))
			writeJSONError(w, http.StatusForbidden, "requires role "+p.MinRole.String())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether id may call method on path.
func (a *Authorizer) Allowed(id *Identity, method, path string) bool {
	if id == nil {
		return false
	}
	p := a.match(method, path)
	return p != nil && id.Role >= p.MinRole
}

// match returns the longest-prefix permission for the request.
func (a *Authorizer) match(method, path string) *Permission {
	var best *Permission
	for i := range a.perms {
		p := &a.perms[i]
		if p.Method != "" && p.Method != method {
			continue
		}
		if !strings.HasPrefix(path, p.Prefix) {
			continue
		}
		if best == nil || len(p.Prefix) > len(best.Prefix) {
			best = p
		}
	}
	return best
}
