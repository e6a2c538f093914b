// AngelaMos | 2026
// service_test.go

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/rbac"
)

type fakeUserProvider struct {
	users map[string]*UserInfo // keyed by id

	lockCalls       []string
	passwordUpdates map[string]string
	versionBumps    int
}

func newFakeUserProvider(users ...*UserInfo) *fakeUserProvider {
	f := &fakeUserProvider{
		users:           map[string]*UserInfo{},
		passwordUpdates: map[string]string{},
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserProvider) GetByUsername(
	_ context.Context,
	username string,
) (*UserInfo, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeUserProvider) GetByEmail(
	_ context.Context,
	email string,
) (*UserInfo, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeUserProvider) GetByID(
	_ context.Context,
	id string,
) (*UserInfo, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserProvider) SetLocked(
	_ context.Context,
	userID string,
	locked bool,
) error {
	f.lockCalls = append(f.lockCalls, userID)
	if u, ok := f.users[userID]; ok {
		u.IsLocked = locked
	}
	return nil
}

func (f *fakeUserProvider) RecordLogin(
	_ context.Context,
	_, _ string,
) error {
	return nil
}

func (f *fakeUserProvider) IncrementTokenVersion(
	_ context.Context,
	userID string,
) error {
	f.versionBumps++
	if u, ok := f.users[userID]; ok {
		u.TokenVersion++
	}
	return nil
}

func (f *fakeUserProvider) UpdatePassword(
	_ context.Context,
	userID, passwordHash string,
) error {
	f.passwordUpdates[userID] = passwordHash
	if u, ok := f.users[userID]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

type fakeThrottle struct {
	counts map[string]int
	resets []string
}

func newFakeThrottle() *fakeThrottle {
	return &fakeThrottle{counts: map[string]int{}}
}

func (f *fakeThrottle) RecordFailure(
	_ context.Context,
	username string,
) (int, error) {
	f.counts[username]++
	return f.counts[username], nil
}

func (f *fakeThrottle) Reset(_ context.Context, username string) error {
	f.resets = append(f.resets, username)
	delete(f.counts, username)
	return nil
}

type fakeCodeStore struct {
	allowErr  error
	issued    map[string]string
	verifyErr error
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{issued: map[string]string{}}
}

func (f *fakeCodeStore) AllowRequest(_ context.Context, _ string) error {
	return f.allowErr
}

func (f *fakeCodeStore) Issue(_ context.Context, email string) (string, error) {
	f.issued[email] = "482913"
	return "482913", nil
}

func (f *fakeCodeStore) Verify(_ context.Context, email, code string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	if f.issued[email] != code {
		return ErrCodeInvalid
	}
	delete(f.issued, email)
	return nil
}

type fakeMailer struct {
	sent  map[string]string
	names map[string]string
}

func (f *fakeMailer) SendPasswordResetCode(
	_ context.Context,
	to, displayName, code string,
) error {
	if f.sent == nil {
		f.sent = map[string]string{}
		f.names = map[string]string{}
	}
	f.sent[to] = code
	f.names[to] = displayName
	return nil
}

type fakeTokenRepo struct {
	byHash map[string]*RefreshToken
	byID   map[string]*RefreshToken

	revokedFamilies []string
	revokedUsers    []string
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{
		byHash: map[string]*RefreshToken{},
		byID:   map[string]*RefreshToken{},
	}
}

func (f *fakeTokenRepo) Create(_ context.Context, token *RefreshToken) error {
	token.CreatedAt = time.Now()
	f.byHash[token.TokenHash] = token
	f.byID[token.ID] = token
	return nil
}

func (f *fakeTokenRepo) FindByHash(
	_ context.Context,
	tokenHash string,
) (*RefreshToken, error) {
	t, ok := f.byHash[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return t, nil
}

func (f *fakeTokenRepo) FindByID(
	_ context.Context,
	id string,
) (*RefreshToken, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return t, nil
}

func (f *fakeTokenRepo) MarkAsUsed(
	_ context.Context,
	id, replacedByID string,
) error {
	t, ok := f.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	now := time.Now()
	t.IsUsed = true
	t.UsedAt = &now
	t.ReplacedByID = &replacedByID
	return nil
}

func (f *fakeTokenRepo) RevokeByID(_ context.Context, id string) error {
	t, ok := f.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

func (f *fakeTokenRepo) RevokeByFamilyID(
	_ context.Context,
	familyID string,
) error {
	f.revokedFamilies = append(f.revokedFamilies, familyID)
	now := time.Now()
	for _, t := range f.byID {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeTokenRepo) RevokeAllForUser(
	_ context.Context,
	userID string,
) error {
	f.revokedUsers = append(f.revokedUsers, userID)
	now := time.Now()
	for _, t := range f.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeTokenRepo) GetActiveSessionsForUser(
	_ context.Context,
	userID string,
) ([]RefreshToken, error) {
	var out []RefreshToken
	for _, t := range f.byID {
		if t.UserID == userID && t.IsValid() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type fakeResolver struct {
	effective rbac.Effective
	err       error
}

func (f *fakeResolver) EffectivePermissions(
	_ context.Context,
	_ string,
	_ bool,
) (*rbac.Effective, error) {
	if f.err != nil {
		return nil, f.err
	}
	eff := f.effective
	return &eff, nil
}

type authRecorder struct {
	events []audit.Event
}

func (r *authRecorder) Record(_ context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

func (r *authRecorder) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type authFixture struct {
	users    *fakeUserProvider
	throttle *fakeThrottle
	codes    *fakeCodeStore
	mailer   *fakeMailer
	repo     *fakeTokenRepo
	auditor  *authRecorder
	svc      *Service
}

const testPassword = "correct-horse-battery"

func newAuthFixture(t *testing.T, users ...*UserInfo) *authFixture {
	t.Helper()

	fx := &authFixture{
		users:    newFakeUserProvider(users...),
		throttle: newFakeThrottle(),
		codes:    newFakeCodeStore(),
		mailer:   &fakeMailer{},
		repo:     newFakeTokenRepo(),
		auditor:  &authRecorder{},
	}

	resolver := &fakeResolver{effective: rbac.Effective{
		Permissions: []string{"patients:read"},
		PrimaryRole: "medico",
		Roles:       []string{"medico"},
	}}

	fx.svc = NewService(
		fx.repo,
		newTestJWTManager(t, 15*time.Minute),
		fx.users,
		resolver,
		fx.throttle,
		fx.codes,
		fx.mailer,
		nil,
		fx.auditor,
		3,
	)

	return fx
}

func testUser(t *testing.T) *UserInfo {
	t.Helper()

	hash, err := core.HashPassword(testPassword)
	require.NoError(t, err)

	return &UserInfo{
		ID:            "u1",
		Username:      "mgarcia",
		FullName:      "Maria Garcia",
		Email:         "mgarcia@clinica.test",
		PasswordHash:  hash,
		IsActive:      true,
		TermsAccepted: true,
		TokenVersion:  1,
	}
}

func TestLoginSuccess(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))

	resp, err := fx.svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"test-agent",
		"10.0.0.1",
	)
	require.NoError(t, err)

	require.NotNil(t, resp.Tokens)
	assert.Nil(t, resp.Onboarding)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", resp.Tokens.TokenType)
	assert.Equal(t, "medico", resp.User.Role)
	assert.Equal(t, []string{"patients:read"}, resp.User.Permissions)

	assert.Equal(t, []string{"mgarcia"}, fx.throttle.resets)
	assert.Len(t, fx.repo.byID, 1, "refresh token persisted")
	assert.Contains(t, fx.auditor.actions(), "auth.login")

	claims, err := fx.svc.jwt.VerifyAccessToken(
		context.Background(),
		resp.Tokens.AccessToken,
	)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, 1, claims.TokenVersion)
}

func TestLoginUnknownUser(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Login(
		context.Background(),
		LoginRequest{Username: "ghost", Password: "whatever"},
		"",
		"",
	)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockoutThreshold(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	ctx := context.Background()
	bad := LoginRequest{Username: "mgarcia", Password: "wrong"}

	for i := 0; i < 2; i++ {
		_, err := fx.svc.Login(ctx, bad, "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}
	assert.Empty(t, fx.users.lockCalls)

	// Third failure crosses the threshold and persists the lock.
	_, err := fx.svc.Login(ctx, bad, "", "")
	assert.ErrorIs(t, err, core.ErrAccountLocked)
	assert.Equal(t, []string{"u1"}, fx.users.lockCalls)
	assert.Contains(t, fx.auditor.actions(), "auth.lockout")

	// The lock holds even with the right password; only an admin clears it.
	_, err = fx.svc.Login(
		ctx,
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"",
		"",
	)
	assert.ErrorIs(t, err, core.ErrAccountLocked)
}

func TestLoginAccountStateChecks(t *testing.T) {
	expired := testUser(t)
	past := time.Now().Add(-time.Hour)
	expired.AccountExpiresAt = &past

	_, err := newAuthFixture(t, expired).svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"",
		"",
	)
	assert.ErrorIs(t, err, ErrAccountExpired)

	inactive := testUser(t)
	inactive.IsActive = false

	_, err = newAuthFixture(t, inactive).svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"",
		"",
	)
	assert.ErrorIs(t, err, ErrUserInactive)

	locked := testUser(t)
	locked.IsLocked = true
	fx := newAuthFixture(t, locked)

	// A wrong password against a locked account must not touch the
	// failure counter; the state check runs first.
	_, err = fx.svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: "wrong"},
		"",
		"",
	)
	assert.ErrorIs(t, err, core.ErrAccountLocked)
	assert.Empty(t, fx.throttle.counts)
}

func TestLoginOnboardingRequired(t *testing.T) {
	pending := testUser(t)
	pending.MustChangePassword = true
	pending.TermsAccepted = false
	fx := newAuthFixture(t, pending)

	resp, err := fx.svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"",
		"",
	)
	require.NoError(t, err)

	assert.Nil(t, resp.Tokens, "no session until onboarding completes")
	require.NotNil(t, resp.Onboarding)
	assert.True(t, resp.Onboarding.MustChangePassword)
	assert.False(t, resp.Onboarding.TermsAccepted)

	subject, err := fx.svc.jwt.VerifyScopedToken(
		context.Background(),
		resp.Onboarding.Token,
		ScopeOnboarding,
	)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
}

func loginForTokens(t *testing.T, fx *authFixture) *TokenResponse {
	t.Helper()

	resp, err := fx.svc.Login(
		context.Background(),
		LoginRequest{Username: "mgarcia", Password: testPassword},
		"test-agent",
		"10.0.0.1",
	)
	require.NoError(t, err)
	require.NotNil(t, resp.Tokens)
	return resp.Tokens
}

func TestRefreshRotation(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	tokens := loginForTokens(t, fx)

	resp, err := fx.svc.Refresh(
		context.Background(),
		tokens.RefreshToken,
		"test-agent",
		"10.0.0.1",
	)
	require.NoError(t, err)
	require.NotNil(t, resp.Tokens)
	assert.NotEqual(t, tokens.RefreshToken, resp.Tokens.RefreshToken)

	old := fx.repo.byHash[core.HashToken(tokens.RefreshToken)]
	require.NotNil(t, old)
	assert.True(t, old.IsUsed)
	require.NotNil(t, old.ReplacedByID)

	replacement := fx.repo.byID[*old.ReplacedByID]
	require.NotNil(t, replacement)
	assert.Equal(t, old.FamilyID, replacement.FamilyID)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	tokens := loginForTokens(t, fx)
	ctx := context.Background()

	rotated, err := fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	require.NoError(t, err)

	// Replaying the consumed token burns the whole family.
	_, err = fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrTokenReuse)
	assert.Len(t, fx.repo.revokedFamilies, 1)
	assert.Contains(t, fx.auditor.actions(), "auth.token_reuse")

	// The descendant issued by the legitimate rotation is dead too.
	_, err = fx.svc.Refresh(ctx, rotated.Tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestRefreshUnknownToken(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))

	_, err := fx.svc.Refresh(context.Background(), "bogus", "", "")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestRefreshExpiredToken(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	tokens := loginForTokens(t, fx)

	stored := fx.repo.byHash[core.HashToken(tokens.RefreshToken)]
	stored.ExpiresAt = time.Now().Add(-time.Minute)

	// A token past its expiry is distinct from a dead session; the caller
	// may hold other valid sessions.
	_, err := fx.svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrRefreshTokenExpired)
	assert.NotErrorIs(t, err, core.ErrSessionExpired)
}

func TestRefreshBlockedSubjectEndsSession(t *testing.T) {
	user := testUser(t)
	fx := newAuthFixture(t, user)
	tokens := loginForTokens(t, fx)
	ctx := context.Background()

	// Locked and deactivated subjects end the session outright, whatever
	// the state of the presented token.
	user.IsLocked = true
	_, err := fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrSessionExpired)

	user.IsLocked = false
	user.IsActive = false
	_, err = fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrSessionExpired)
}

func TestRequestPasswordReset(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	ctx := context.Background()

	// Unknown email: silent success, nothing sent.
	err := fx.svc.RequestPasswordReset(ctx, "nobody@clinica.test")
	require.NoError(t, err)
	assert.Empty(t, fx.mailer.sent)

	err = fx.svc.RequestPasswordReset(ctx, "mgarcia@clinica.test")
	require.NoError(t, err)
	assert.Equal(t, "482913", fx.mailer.sent["mgarcia@clinica.test"])
	assert.Equal(t, "Maria Garcia", fx.mailer.names["mgarcia@clinica.test"])
	assert.Contains(t, fx.auditor.actions(), "auth.reset_requested")
}

func TestRequestPasswordResetRateLimited(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	fx.codes.allowErr = core.ErrRateLimited

	err := fx.svc.RequestPasswordReset(
		context.Background(),
		"mgarcia@clinica.test",
	)
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.Empty(t, fx.mailer.sent)
}

func TestVerifyResetCodeAndResetPassword(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	ctx := context.Background()
	tokens := loginForTokens(t, fx)

	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "mgarcia@clinica.test"))

	_, err := fx.svc.VerifyResetCode(ctx, "mgarcia@clinica.test", "000000")
	assert.ErrorIs(t, err, ErrCodeInvalid)

	resetToken, err := fx.svc.VerifyResetCode(
		ctx,
		"mgarcia@clinica.test",
		"482913",
	)
	require.NoError(t, err)
	require.NotEmpty(t, resetToken)

	oldHash := fx.users.users["u1"].PasswordHash

	err = fx.svc.ResetPassword(ctx, resetToken, "brand-new-password")
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, fx.users.users["u1"].PasswordHash)
	assert.Equal(t, []string{"u1"}, fx.repo.revokedUsers)
	assert.Equal(t, 1, fx.users.versionBumps)
	assert.Contains(t, fx.auditor.actions(), "auth.password_reset")

	// Every pre-reset session is gone.
	_, err = fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestResetPasswordRejectsNonResetToken(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))

	onboard, err := fx.svc.jwt.CreateOnboardingToken("u1")
	require.NoError(t, err)

	err = fx.svc.ResetPassword(context.Background(), onboard, "new-password")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	ctx := context.Background()

	err := fx.svc.ChangePassword(ctx, "u1", "wrong", "new-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = fx.svc.ChangePassword(ctx, "u1", testPassword, "new-password")
	require.NoError(t, err)
	assert.Contains(t, fx.users.passwordUpdates, "u1")
	assert.Equal(t, []string{"u1"}, fx.repo.revokedUsers)
}

func TestValidateTokenVersion(t *testing.T) {
	user := testUser(t)
	user.TokenVersion = 2
	fx := newAuthFixture(t, user)
	ctx := context.Background()

	assert.NoError(t, fx.svc.ValidateTokenVersion(ctx, "u1", 2))
	assert.NoError(t, fx.svc.ValidateTokenVersion(ctx, "u1", 3))

	err := fx.svc.ValidateTokenVersion(ctx, "u1", 1)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestRevokeSessionOwnership(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	loginForTokens(t, fx)

	var sessionID string
	for id := range fx.repo.byID {
		sessionID = id
	}

	err := fx.svc.RevokeSession(context.Background(), "intruder", sessionID)
	assert.ErrorIs(t, err, core.ErrForbidden)

	err = fx.svc.RevokeSession(context.Background(), "u1", sessionID)
	require.NoError(t, err)

	sessions, err := fx.svc.GetActiveSessions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLogoutScopedToOwner(t *testing.T) {
	fx := newAuthFixture(t, testUser(t))
	tokens := loginForTokens(t, fx)
	ctx := context.Background()

	err := fx.svc.Logout(ctx, tokens.RefreshToken, "intruder")
	assert.ErrorIs(t, err, core.ErrForbidden)

	require.NoError(t, fx.svc.Logout(ctx, tokens.RefreshToken, "u1"))

	// Unknown tokens are a no-op, not an error.
	assert.NoError(t, fx.svc.Logout(ctx, "bogus", "u1"))

	var logoutErr error
	_, logoutErr = fx.svc.Refresh(ctx, tokens.RefreshToken, "", "")
	assert.ErrorIs(t, logoutErr, core.ErrTokenRevoked)
}
