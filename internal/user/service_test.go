// AngelaMos | 2026
// service_test.go

package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/auth"
	"github.com/angelamos/clinica-identity/internal/core"
)

type fakeUserRepo struct {
	users map[string]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, user *User) error {
	for _, existing := range f.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return core.ErrDuplicateKey
		}
	}
	user.IsActive = true
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, core.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByUsername(
	_ context.Context,
	username string,
) (*User, error) {
	for _, u := range f.users {
		if u.Username == username && u.DeletedAt == nil {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeUserRepo) GetByEmail(
	_ context.Context,
	email string,
) (*User, error) {
	for _, u := range f.users {
		if u.Email == email && u.DeletedAt == nil {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeUserRepo) Update(_ context.Context, user *User) error {
	if _, ok := f.users[user.ID]; !ok {
		return core.ErrNotFound
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdatePassword(
	_ context.Context,
	id, passwordHash string,
) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserRepo) SetLocked(
	_ context.Context,
	id string,
	locked bool,
) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.IsLocked = locked
	return nil
}

func (f *fakeUserRepo) SetActive(
	_ context.Context,
	id string,
	active bool,
) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (f *fakeUserRepo) SetMustChangePassword(
	_ context.Context,
	id string,
	must bool,
) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.MustChangePassword = must
	return nil
}

func (f *fakeUserRepo) SetTermsAccepted(_ context.Context, id string) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.TermsAccepted = true
	return nil
}

func (f *fakeUserRepo) RecordLogin(_ context.Context, id, _ string) error {
	return nil
}

func (f *fakeUserRepo) IncrementTokenVersion(_ context.Context, id string) error {
	u, ok := f.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.TokenVersion++
	return nil
}

func (f *fakeUserRepo) SoftDelete(_ context.Context, id string) error {
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return core.ErrNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

func (f *fakeUserRepo) List(
	_ context.Context,
	_ ListUsersParams,
) ([]User, int, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) Exists(_ context.Context, id string) (bool, error) {
	u, ok := f.users[id]
	return ok && u.DeletedAt == nil, nil
}

type fakeSessionKiller struct {
	killed []string
}

func (f *fakeSessionKiller) LogoutAll(_ context.Context, userID string) error {
	f.killed = append(f.killed, userID)
	return nil
}

type fakeVerifier struct {
	subjects map[string]string
}

func (f *fakeVerifier) VerifyScopedToken(
	_ context.Context,
	token, scope string,
) (string, error) {
	if scope != auth.ScopeOnboarding {
		return "", core.ErrTokenInvalid
	}
	subject, ok := f.subjects[token]
	if !ok {
		return "", core.ErrTokenInvalid
	}
	return subject, nil
}

type fakeLoginThrottle struct {
	resets []string
}

func (f *fakeLoginThrottle) RecordFailure(
	_ context.Context,
	_ string,
) (int, error) {
	return 0, nil
}

func (f *fakeLoginThrottle) Reset(_ context.Context, username string) error {
	f.resets = append(f.resets, username)
	return nil
}

type userRecorder struct {
	events []audit.Event
}

func (r *userRecorder) Record(_ context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

func (r *userRecorder) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type userFixture struct {
	repo     *fakeUserRepo
	sessions *fakeSessionKiller
	verifier *fakeVerifier
	throttle *fakeLoginThrottle
	auditor  *userRecorder
	svc      *Service
}

func newUserFixture() *userFixture {
	fx := &userFixture{
		repo:     newFakeUserRepo(),
		sessions: &fakeSessionKiller{},
		verifier: &fakeVerifier{subjects: map[string]string{}},
		throttle: &fakeLoginThrottle{},
		auditor:  &userRecorder{},
	}

	fx.svc = NewService(
		fx.repo,
		fx.sessions,
		fx.verifier,
		fx.throttle,
		fx.auditor,
	)

	return fx
}

func (fx *userFixture) seedUser(t *testing.T) *User {
	t.Helper()

	created, err := fx.svc.CreateUser(context.Background(), "admin", CreateUserRequest{
		Username: "MGarcia",
		Email:    "MGarcia@Clinica.Test",
		FullName: "Maria Garcia",
		Password: "temporal-pass-1",
	})
	require.NoError(t, err)
	return created
}

func TestCreateUser(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)

	assert.Equal(t, "mgarcia", created.Username, "username lowercased")
	assert.Equal(t, "mgarcia@clinica.test", created.Email, "email lowercased")
	assert.True(t, created.MustChangePassword, "temp password must be rotated")
	assert.NotEqual(t, "temporal-pass-1", created.PasswordHash)
	assert.NotEmpty(t, created.PasswordHash)
	assert.Contains(t, fx.auditor.actions(), "user.create")

	_, err := fx.svc.CreateUser(context.Background(), "admin", CreateUserRequest{
		Username: "mgarcia",
		Email:    "other@clinica.test",
		FullName: "Other",
		Password: "temporal-pass-2",
	})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestLockUserKillsSessions(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)

	require.NoError(t, fx.svc.LockUser(context.Background(), "admin", created.ID))
	assert.True(t, fx.repo.users[created.ID].IsLocked)
	assert.Equal(t, []string{created.ID}, fx.sessions.killed)
	assert.Contains(t, fx.auditor.actions(), "user.lock")
}

func TestUnlockUserResetsThrottle(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)
	require.NoError(t, fx.svc.LockUser(context.Background(), "admin", created.ID))

	require.NoError(t, fx.svc.UnlockUser(context.Background(), "admin", created.ID))
	assert.False(t, fx.repo.users[created.ID].IsLocked)
	assert.Equal(t, []string{"mgarcia"}, fx.throttle.resets)
	assert.Contains(t, fx.auditor.actions(), "user.unlock")
}

func TestDeactivateAndDeleteKillSessions(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.DeactivateUser(ctx, "admin", created.ID))
	assert.False(t, fx.repo.users[created.ID].IsActive)

	require.NoError(t, fx.svc.ActivateUser(ctx, "admin", created.ID))
	assert.True(t, fx.repo.users[created.ID].IsActive)

	require.NoError(t, fx.svc.DeleteUser(ctx, "admin", created.ID))
	assert.Equal(t, []string{created.ID, created.ID}, fx.sessions.killed)

	_, err := fx.svc.GetUser(ctx, created.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	exists, err := fx.svc.Exists(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCompleteOnboarding(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)
	fx.verifier.subjects["onboard-token"] = created.ID
	ctx := context.Background()

	err := fx.svc.CompleteOnboarding(ctx, CompleteOnboardingRequest{
		Token: "garbage",
	})
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	// Password change is owed but no new password supplied.
	err = fx.svc.CompleteOnboarding(ctx, CompleteOnboardingRequest{
		Token:       "onboard-token",
		AcceptTerms: true,
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	oldHash := fx.repo.users[created.ID].PasswordHash

	err = fx.svc.CompleteOnboarding(ctx, CompleteOnboardingRequest{
		Token:       "onboard-token",
		NewPassword: "chosen-by-user-1",
		AcceptTerms: true,
	})
	require.NoError(t, err)

	updated := fx.repo.users[created.ID]
	assert.False(t, updated.MustChangePassword)
	assert.True(t, updated.TermsAccepted)
	assert.NotEqual(t, oldHash, updated.PasswordHash)
	assert.Contains(t, fx.auditor.actions(), "user.onboarding_completed")
}

func TestCompleteOnboardingTermsRequired(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)
	fx.repo.users[created.ID].MustChangePassword = false
	fx.verifier.subjects["onboard-token"] = created.ID

	err := fx.svc.CompleteOnboarding(context.Background(), CompleteOnboardingRequest{
		Token: "onboard-token",
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	err = fx.svc.CompleteOnboarding(context.Background(), CompleteOnboardingRequest{
		Token:       "onboard-token",
		AcceptTerms: true,
	})
	require.NoError(t, err)
	assert.True(t, fx.repo.users[created.ID].TermsAccepted)
}

func TestCompleteOnboardingBlockedAccounts(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)
	fx.verifier.subjects["onboard-token"] = created.ID
	ctx := context.Background()

	fx.repo.users[created.ID].IsLocked = true
	err := fx.svc.CompleteOnboarding(ctx, CompleteOnboardingRequest{
		Token:       "onboard-token",
		NewPassword: "chosen-by-user-1",
		AcceptTerms: true,
	})
	assert.ErrorIs(t, err, core.ErrForbidden)

	fx.repo.users[created.ID].IsLocked = false
	fx.repo.users[created.ID].IsActive = false
	err = fx.svc.CompleteOnboarding(ctx, CompleteOnboardingRequest{
		Token:       "onboard-token",
		NewPassword: "chosen-by-user-1",
		AcceptTerms: true,
	})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestUpdateUser(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)

	newEmail := "Maria.Garcia@Clinica.Test"
	newName := "Maria Garcia Lopez"

	updated, err := fx.svc.UpdateUser(
		context.Background(),
		"admin",
		created.ID,
		UpdateUserRequest{Email: &newEmail, FullName: &newName},
	)
	require.NoError(t, err)
	assert.Equal(t, "maria.garcia@clinica.test", updated.Email)
	assert.Equal(t, "Maria Garcia Lopez", updated.FullName)
	assert.Contains(t, fx.auditor.actions(), "user.update")
}

func TestUserInfoMapping(t *testing.T) {
	fx := newUserFixture()
	created := fx.seedUser(t)

	info, err := fx.svc.GetByUsername(context.Background(), "MGarcia")
	require.NoError(t, err)
	assert.Equal(t, created.ID, info.ID)
	assert.Equal(t, "mgarcia", info.Username)
	assert.Equal(t, "Maria Garcia", info.FullName)
	assert.True(t, info.MustChangePassword)
	assert.Equal(t, created.PasswordHash, info.PasswordHash)
}
