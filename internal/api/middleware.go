// Package api implements the remoteStorage HTTP surface using chi.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/othala/internal/rspath"
)

// Claims is the bearer-token payload: the registered subject names the user,
// Scopes lists the granted module scopes ("<module>:r", "<module>:rw", or the
// root scope "*:rw").
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ScopeAuth returns middleware enforcing remoteStorage authorization on the
// /storage routes. If enabled is false, all requests pass through.
//
// GET/HEAD of a public document needs no token. Everything else needs a token
// whose subject matches the path's user and whose scopes cover the path's
// module; paths without a module (the user root, the bare public folder)
// need the root scope.
func ScopeAuth(enabled bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			raw := strings.TrimPrefix(r.URL.Path, "/storage")
			p, err := rspath.Parse(raw)
			if err != nil {
				// Let the handler produce its 400.
				next.ServeHTTP(w, r)
				return
			}

			read := r.Method == http.MethodGet || r.Method == http.MethodHead
			if read && p.IsPublic() && p.IsDocument() {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := parseToken(r, secret)
			if err != nil || claims.Subject != p.UserID() {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			module, ok := p.ModuleName()
			if !ok {
				module = "*"
			}
			if !scopeAllows(claims.Scopes, module, !read) {
				writeJSON(w, http.StatusForbidden, errorBody("insufficient scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser returns middleware for routes of the form /<prefix>/{user}:
// the token subject must match the user segment.
func RequireUser(enabled bool, secret, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := parseToken(r, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			user := strings.TrimPrefix(r.URL.Path, prefix)
			user = strings.Trim(user, "/")
			if claims.Subject != user {
				writeJSON(w, http.StatusForbidden, errorBody("wrong user"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireToken returns middleware demanding any valid token, without a
// subject or scope check. Used for the change feed.
func RequireToken(enabled bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := parseToken(r, secret); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseToken extracts and verifies the Bearer token on r.
func parseToken(r *http.Request, secret string) (*Claims, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, fmt.Errorf("api: missing bearer token")
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("api: parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("api: invalid token")
	}
	return claims, nil
}

// scopeAllows reports whether scopes grant access to module. A ":rw" scope
// implies read; the "*" scope name covers every module.
func scopeAllows(scopes []string, module string, write bool) bool {
	for _, s := range scopes {
		name, mode, ok := strings.Cut(s, ":")
		if !ok {
			continue
		}
		if name != module && name != "*" {
			continue
		}
		if mode == "rw" || (!write && mode == "r") {
			return true
		}
	}
	return false
}
