package auth

import (
	"encoding/json"
	"net/http"

	"github.com/ChrisB0-2/apguard/internal/logger"
)

// Middleware rejects requests no authenticator accepts. Authenticators are
// tried in order; the first identity wins, the first error stops the chain.
type Middleware struct {
	authenticators []Authenticator
	public         map[string]bool
	log            logger.Logger
}

func NewMiddleware(log logger.Logger, authenticators []Authenticator, publicPaths []string) *Middleware {
	if log == nil {
		log = logger.NewNop()
	}
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Middleware{authenticators: authenticators, public: public, log: log}
}

// IsPublic reports whether path bypasses authentication.
func (m *Middleware) IsPublic(path string) bool {
	return m.public[path]
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		for _, a := range m.authenticators {
			id, err := a.Authenticate(r)
			if err != nil {
				m.log.Warn("authentication failed",
					logger.F("method", r.Method),
					logger.F("path", r.URL.Path),
					logger.F("remote_addr", r.RemoteAddr),
					logger.F("error", err.Error()))
				writeJSONError(w, http.StatusUnauthorized, "authentication failed: "+err.Error())
				return
			}
			if id != nil {
				m.log.Debug("request authenticated",
					logger.F("path", r.URL.Path),
					logger.F("identity", id.Name),
					logger.F("role", id.Role.String()))
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="apguard"`)
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
