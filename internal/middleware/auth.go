// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/angelamos/clinica-identity/internal/core"
)

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
	IsAdminKey  contextKey = "is_admin"
	ClaimsKey   contextKey = "jwt_claims"
)

type AccessTokenClaims struct {
	UserID       string
	Role         string
	IsAdmin      bool
	TokenVersion int
	JTI          string
	ExpiresAt    time.Time
}

type TokenVerifier interface {
	VerifyAccessToken(
		ctx context.Context,
		token string,
	) (*AccessTokenClaims, error)
}

// RevocationChecker reports whether an access token's jti sits on the
// logout denylist.
type RevocationChecker interface {
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

func Authenticator(
	verifier TokenVerifier,
	revocations RevocationChecker,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)

			if token == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				handleAuthError(w, err)
				return
			}

			if revocations != nil {
				revoked, revErr := revocations.IsAccessTokenRevoked(
					r.Context(),
					claims.JTI,
				)
				if revErr != nil {
					core.InternalServerError(w, revErr)
					return
				}
				if revoked {
					core.JSONError(w, core.TokenRevokedError())
					return
				}
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserRoleKey, claims.Role)
			ctx = context.WithValue(ctx, IsAdminKey, claims.IsAdmin)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PermissionSet answers membership checks against a resolved permission
// set. The admin wildcard is expected to grant every code.
type PermissionSet interface {
	Has(code string) bool
}

// PermissionSource yields a user's effective permission set, normally the
// rbac cache.
type PermissionSource interface {
	Effective(
		ctx context.Context,
		userID string,
		forceRefresh bool,
	) (PermissionSet, error)
}

// RequirePermission short-circuits with 403 unless the caller holds the
// permission code (or the admin wildcard).
func RequirePermission(
	perms PermissionSource,
	code string,
) func(http.Handler) http.Handler {
	return requirePermissions(perms, false, code)
}

// RequireAnyPermission passes when the caller holds at least one of the
// listed codes.
func RequireAnyPermission(
	perms PermissionSource,
	codes ...string,
) func(http.Handler) http.Handler {
	return requirePermissions(perms, false, codes...)
}

// RequireAllPermissions passes only when the caller holds every listed code.
func RequireAllPermissions(
	perms PermissionSource,
	codes ...string,
) func(http.Handler) http.Handler {
	return requirePermissions(perms, true, codes...)
}

func requirePermissions(
	perms PermissionSource,
	requireAll bool,
	codes ...string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("authentication required"),
				)
				return
			}

			effective, err := perms.Effective(r.Context(), userID, false)
			if err != nil {
				core.InternalServerError(w, err)
				return
			}

			if !allows(effective, requireAll, codes) {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient permissions"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allows(effective PermissionSet, requireAll bool, codes []string) bool {
	if requireAll {
		for _, code := range codes {
			if !effective.Has(code) {
				return false
			}
		}
		return true
	}

	for _, code := range codes {
		if effective.Has(code) {
			return true
		}
	}
	return false
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			core.JSONError(
				w,
				core.UnauthorizedError("authentication required"),
			)
			return
		}

		if !IsAdmin(r.Context()) {
			core.JSONError(w, core.ForbiddenError("admin access required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func handleAuthError(w http.ResponseWriter, err error) {
	if core.IsAppError(err) {
		core.JSONError(w, err)
		return
	}

	switch {
	case errors.Is(err, core.ErrTokenExpired):
		core.JSONError(w, core.TokenExpiredError())
	case errors.Is(err, core.ErrTokenRevoked):
		core.JSONError(w, core.TokenRevokedError())
	default:
		core.JSONError(w, core.TokenInvalidError())
	}
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

func GetUserRole(ctx context.Context) string {
	if role, ok := ctx.Value(UserRoleKey).(string); ok {
		return role
	}
	return ""
}

func GetClaims(ctx context.Context) *AccessTokenClaims {
	if claims, ok := ctx.Value(ClaimsKey).(*AccessTokenClaims); ok {
		return claims
	}
	return nil
}

func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}

func IsAdmin(ctx context.Context) bool {
	if isAdmin, ok := ctx.Value(IsAdminKey).(bool); ok {
		return isAdmin
	}
	return false
}
