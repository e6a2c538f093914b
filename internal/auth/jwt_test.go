// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelamos/clinica-identity/internal/config"
	"github.com/angelamos/clinica-identity/internal/core"
)

func newTestJWTManager(t *testing.T, accessExpire time.Duration) *JWTManager {
	t.Helper()

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	require.NoError(t, GenerateKeyPair(privatePath, publicPath))

	manager, err := NewJWTManager(config.JWTConfig{
		PrivateKeyPath:     privatePath,
		PublicKeyPath:      publicPath,
		AccessTokenExpire:  accessExpire,
		RefreshTokenExpire: 168 * time.Hour,
		ResetTokenExpire:   10 * time.Minute,
		OnboardTokenExpire: 15 * time.Minute,
		Issuer:             "clinica-identity-test",
		Audience:           "clinica-api-test",
	})
	require.NoError(t, err)

	return manager
}

func TestAccessTokenRoundTrip(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)

	signed, err := manager.CreateAccessToken(AccessTokenClaims{
		UserID:       "u1",
		Role:         "medico",
		IsAdmin:      false,
		TokenVersion: 3,
	})
	require.NoError(t, err)

	claims, err := manager.VerifyAccessToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "medico", claims.Role)
	assert.False(t, claims.IsAdmin)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.NotEmpty(t, claims.JTI)
	assert.WithinDuration(
		t,
		time.Now().Add(15*time.Minute),
		claims.ExpiresAt,
		time.Minute,
	)
}

func TestAccessTokenExpired(t *testing.T) {
	manager := newTestJWTManager(t, -time.Minute)

	signed, err := manager.CreateAccessToken(AccessTokenClaims{
		UserID: "u1",
		Role:   "medico",
	})
	require.NoError(t, err)

	_, err = manager.VerifyAccessToken(context.Background(), signed)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestAccessTokenTampered(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)

	signed, err := manager.CreateAccessToken(AccessTokenClaims{
		UserID: "u1",
		Role:   "medico",
	})
	require.NoError(t, err)

	tampered := signed[:len(signed)-4] + "AAAA"
	_, err = manager.VerifyAccessToken(context.Background(), tampered)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	_, err = manager.VerifyAccessToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestAccessTokenFromForeignKeyRejected(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)
	foreign := newTestJWTManager(t, 15*time.Minute)

	signed, err := foreign.CreateAccessToken(AccessTokenClaims{
		UserID: "u1",
		Role:   "medico",
	})
	require.NoError(t, err)

	_, err = manager.VerifyAccessToken(context.Background(), signed)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestScopedTokensNotInterchangeable(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)
	ctx := context.Background()

	resetToken, err := manager.CreateResetToken("u1")
	require.NoError(t, err)

	onboardToken, err := manager.CreateOnboardingToken("u1")
	require.NoError(t, err)

	// Each single-purpose token verifies only under its own scope.
	subject, err := manager.VerifyScopedToken(ctx, resetToken, ScopeReset)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)

	subject, err = manager.VerifyScopedToken(ctx, onboardToken, ScopeOnboarding)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)

	_, err = manager.VerifyScopedToken(ctx, resetToken, ScopeOnboarding)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	_, err = manager.VerifyScopedToken(ctx, onboardToken, ScopeReset)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	// A scoped token never passes as a session token.
	_, err = manager.VerifyAccessToken(ctx, resetToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	// Nor the reverse.
	accessToken, err := manager.CreateAccessToken(AccessTokenClaims{
		UserID: "u1",
		Role:   "medico",
	})
	require.NoError(t, err)

	_, err = manager.VerifyScopedToken(ctx, accessToken, ScopeReset)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestCreateRefreshToken(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)

	data, err := manager.CreateRefreshToken("u1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, data.Token)
	assert.NotEmpty(t, data.FamilyID, "new family minted when none given")
	assert.True(t, manager.VerifyRefreshTokenHash(data.Token, data.Hash))
	assert.False(t, manager.VerifyRefreshTokenHash("other", data.Hash))

	rotated, err := manager.CreateRefreshToken("u1", data.FamilyID)
	require.NoError(t, err)
	assert.Equal(t, data.FamilyID, rotated.FamilyID, "rotation keeps the family")
	assert.NotEqual(t, data.Token, rotated.Token)
}

func TestJWKSHandler(t *testing.T) {
	manager := newTestJWTManager(t, 15*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()

	manager.GetJWKSHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"keys"`)
	assert.Contains(t, body, `"EC"`)
	assert.Contains(t, body, manager.GetKeyID())
	assert.NotContains(t, body, `"d"`, "private material must not leak")
}
