package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mshop-dev/authcore/token"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity attached by Middleware, if
// the request carried a valid token.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}

// TokenValidator is the slice of the token authority the middleware
// needs.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*token.Claims, error)
}

type rejection struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Middleware authenticates the request against validator, consults g
// with the route descriptor and either rejects with a stable code or
// passes the identity down via context.
func Middleware(validator TokenValidator, g *Gate, route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var id *Identity
			if raw, ok := BearerToken(r); ok {
				claims, err := validator.Validate(ctx, raw)
				if err != nil {
					// An invalid token on a public or anonymous route
					// downgrades to "no identity" instead of rejecting.
					if !route.Public && !route.AllowAnon {
						reject(w, http.StatusUnauthorized, CodeNotAuthenticated, "invalid or expired credential")
						return
					}
				} else {
					id = &Identity{UserID: claims.UID, Roles: claims.Roles, Token: raw}
				}
			}

			if err := g.Authorize(ctx, route, id); err != nil {
				switch {
				case errors.Is(err, ErrNotAuthenticated):
					reject(w, http.StatusUnauthorized, CodeNotAuthenticated, "not authenticated")
				case errors.Is(err, ErrNoPermission):
					reject(w, http.StatusForbidden, CodeNoPermission, "no permission")
				default:
					// Store trouble on the permission path: fail closed
					// as an authentication-class rejection.
					reject(w, http.StatusUnauthorized, CodeNotAuthenticated, "authorization unavailable")
				}
				return
			}

			if id != nil {
				ctx = context.WithValue(ctx, identityContextKey{}, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the credential from the Authorization header or
// the token query parameter, in that order.
func BearerToken(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	if value := r.Header.Get("Authorization"); strings.HasPrefix(value, bearer) {
		if tok := value[len(bearer):]; tok != "" {
			return tok, true
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

func reject(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Code: code, Message: message})
}
