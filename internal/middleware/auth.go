package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/auth"
	"booking-calendar-api/internal/model"
)

type ctxKey string

const identityKey ctxKey = "identity"

// AccessCookie is the HttpOnly cookie the login endpoint sets; browsers
// following the OAuth redirect cannot attach a header, so it is accepted too.
const AccessCookie = "access_token"

func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

// Authenticate verifies the bearer token and attaches the caller's identity.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				WriteError(w, apperr.New(apperr.Authentication, "no token, authorization denied"))
				return
			}

			claims, err := auth.ParseToken(raw, secret)
			if errors.Is(err, auth.ErrTokenExpired) {
				WriteError(w, apperr.New(apperr.Authentication, "token expired"))
				return
			}
			if err != nil {
				WriteError(w, apperr.New(apperr.Authentication, "invalid token"))
				return
			}

			ctx := WithIdentity(r.Context(), model.Identity{ID: claims.ID, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only for the listed roles. It must
// run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				WriteError(w, apperr.New(apperr.Authentication, "not authenticated"))
				return
			}
			if !slices.Contains(roles, id.Role) {
				WriteError(w, apperr.New(apperr.Authorization, "you are not authorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserLookup reports whether the account behind a token still exists.
type UserLookup func(ctx context.Context, id string) (bool, error)

// RequireUser turns away tokens whose account has been deleted since they
// were issued. It must run after Authenticate.
func RequireUser(exists UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				WriteError(w, apperr.New(apperr.Authentication, "not authenticated"))
				return
			}
			found, err := exists(r.Context(), id.ID)
			if err != nil {
				WriteError(w, err)
				return
			}
			if !found {
				WriteError(w, apperr.New(apperr.Authentication, "user no longer exists"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// token from Authorization: Bearer <jwt>, else the access cookie
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}
