package auth

import (
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces role requirements: mutating
// requests need operator, reads need viewer.
type Middleware struct {
	secret    []byte
	openPaths []string
}

// NewMiddleware constructs an auth middleware. Requests to openPaths
// bypass auth entirely.
func NewMiddleware(secret []byte, openPaths []string) *Middleware {
	return &Middleware{secret: secret, openPaths: openPaths}
}

// Wrap applies auth to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || len(m.secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range m.openPaths {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
		}

		claims, err := ParseJWT(extractBearer(r), m.secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)

		required := RoleViewer
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			required = RoleOperator
		}
		if !RoleAtLeast(role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
