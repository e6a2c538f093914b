// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/email"
	"github.com/angelamos/clinica-identity/internal/rbac"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenReuse         = errors.New("token reuse detected")
	ErrAccountExpired     = errors.New("account expired")
	ErrUserInactive       = errors.New("user inactive")
)

type UserInfo struct {
	ID                 string
	Username           string
	FullName           string
	Email              string
	PasswordHash       string
	IsActive           bool
	IsLocked           bool
	MustChangePassword bool
	TermsAccepted      bool
	AccountExpiresAt   *time.Time
	LastLoginAt        *time.Time
	TokenVersion       int
}

type UserProvider interface {
	GetByUsername(ctx context.Context, username string) (*UserInfo, error)
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	SetLocked(ctx context.Context, userID string, locked bool) error
	RecordLogin(ctx context.Context, userID, ipAddress string) error
	IncrementTokenVersion(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type PermissionResolver interface {
	EffectivePermissions(
		ctx context.Context,
		userID string,
		forceRefresh bool,
	) (*rbac.Effective, error)
}

type Service struct {
	repo        Repository
	jwt         *JWTManager
	users       UserProvider
	perms       PermissionResolver
	throttle    LoginThrottle
	codes       CodeStore
	mailer      email.Sender
	redis       *redis.Client
	audit       audit.Recorder
	maxFailures int
}

func NewService(
	repo Repository,
	jwtManager *JWTManager,
	users UserProvider,
	perms PermissionResolver,
	throttle LoginThrottle,
	codes CodeStore,
	mailer email.Sender,
	redisClient *redis.Client,
	auditor audit.Recorder,
	maxFailures int,
) *Service {
	return &Service{
		repo:        repo,
		jwt:         jwtManager,
		users:       users,
		perms:       perms,
		throttle:    throttle,
		codes:       codes,
		mailer:      mailer,
		redis:       redisClient,
		audit:       auditor,
		maxFailures: maxFailures,
	}
}

// Login authenticates a username/password pair. Account-state checks run
// before the password is verified so a locked or expired account never
// reveals whether the password was right; only genuine password failures
// count toward the lockout threshold.
func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
	userAgent, ipAddress string,
) (*AuthResponse, error) {
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // timing attack prevention - always verify to prevent enumeration
			_, _, _ = core.VerifyPasswordTimingSafe(req.Password, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if user.AccountExpiresAt != nil &&
		time.Now().After(*user.AccountExpiresAt) {
		return nil, ErrAccountExpired
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if user.IsLocked {
		return nil, core.ErrAccountLocked
	}

	valid, newHash, err := core.VerifyPasswordTimingSafe(
		req.Password,
		&user.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return nil, s.recordLoginFailure(ctx, user)
	}

	if newHash != "" {
		//nolint:errcheck // best-effort rehash upgrade
		_ = s.users.UpdatePassword(ctx, user.ID, newHash)
	}

	if err := s.throttle.Reset(ctx, user.Username); err != nil {
		return nil, fmt.Errorf("reset throttle: %w", err)
	}

	//nolint:errcheck // best-effort last-login tracking
	_ = s.users.RecordLogin(ctx, user.ID, ipAddress)

	if user.MustChangePassword || !user.TermsAccepted {
		return s.createOnboardingResponse(user)
	}

	resp, err := s.createAuthResponse(ctx, user, userAgent, ipAddress, "", nil)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      user.ID,
		Action:       "auth.login",
		ResourceType: "session",
	})

	return resp, nil
}

// recordLoginFailure bumps the failure counter and flips the persisted
// lock once the threshold is crossed. The lock stays until an
// administrator clears it.
func (s *Service) recordLoginFailure(
	ctx context.Context,
	user *UserInfo,
) error {
	count, err := s.throttle.RecordFailure(ctx, user.Username)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	if count < s.maxFailures {
		return ErrInvalidCredentials
	}

	if err := s.users.SetLocked(ctx, user.ID, true); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	failCode := core.CodeAccountLocked
	s.audit.Record(ctx, audit.Event{
		ActorID:      user.ID,
		Action:       "auth.lockout",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Result:       audit.ResultFailure,
		ErrorCode:    &failCode,
	})

	return core.ErrAccountLocked
}

func (s *Service) Refresh(
	ctx context.Context,
	refreshToken, userAgent, ipAddress string,
) (*AuthResponse, error) {
	tokenHash := core.HashToken(refreshToken)

	storedToken, err := s.repo.FindByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenInvalid)
		}
		return nil, fmt.Errorf("find token: %w", err)
	}

	if storedToken.IsUsed {
		//nolint:errcheck // security revocation continues regardless
		_ = s.repo.RevokeByFamilyID(ctx, storedToken.FamilyID)

		reuseCode := core.CodeTokenRevoked
		s.audit.Record(ctx, audit.Event{
			ActorID:      storedToken.UserID,
			Action:       "auth.token_reuse",
			ResourceType: "refresh_token",
			ResourceID:   &storedToken.ID,
			Result:       audit.ResultFailure,
			ErrorCode:    &reuseCode,
		})

		return nil, ErrTokenReuse
	}

	if !storedToken.IsValid() {
		if storedToken.IsRevoked() {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenRevoked)
		}
		return nil, fmt.Errorf("refresh: %w", core.ErrRefreshTokenExpired)
	}

	user, err := s.users.GetByID(ctx, storedToken.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Subject removed after the token was minted.
			return nil, fmt.Errorf("refresh: %w", core.ErrSessionExpired)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	// A deactivated or locked subject invalidates the whole session, not
	// just the presented token.
	if !user.IsActive || user.IsLocked {
		return nil, fmt.Errorf("refresh: %w", core.ErrSessionExpired)
	}

	return s.createAuthResponse(
		ctx,
		user,
		userAgent,
		ipAddress,
		storedToken.FamilyID,
		&storedToken.ID,
	)
}

func (s *Service) Logout(
	ctx context.Context,
	refreshToken, userID string,
) error {
	tokenHash := core.HashToken(refreshToken)

	storedToken, err := s.repo.FindByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find token: %w", err)
	}

	if storedToken.UserID != userID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByID(ctx, storedToken.ID); err != nil &&
		!errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}

	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke all tokens: %w", err)
	}

	if err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}

	return nil
}

// RevokeAccessToken denylists a jti until the token would have expired
// anyway.
func (s *Service) RevokeAccessToken(
	ctx context.Context,
	jti string,
	expiresAt time.Time,
) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, "denylist:"+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist token: %w", err)
	}

	return nil
}

func (s *Service) IsAccessTokenRevoked(
	ctx context.Context,
	jti string,
) (bool, error) {
	exists, err := s.redis.Exists(ctx, "denylist:"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check denylist: %w", err)
	}

	return exists > 0, nil
}

// RequestPasswordReset issues a one-time code for the given email. The
// per-email limit is checked before the account lookup and unknown
// addresses get the same silent success, so the endpoint reveals nothing
// about which emails exist.
func (s *Service) RequestPasswordReset(
	ctx context.Context,
	emailAddr string,
) error {
	if err := s.codes.AllowRequest(ctx, emailAddr); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}

	code, err := s.codes.Issue(ctx, emailAddr)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordResetCode(ctx, emailAddr, user.FullName, code); err != nil {
		return fmt.Errorf("send reset code: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      user.ID,
		Action:       "auth.reset_requested",
		ResourceType: "user",
		ResourceID:   &user.ID,
	})

	return nil
}

// VerifyResetCode burns the code and exchanges it for a short-lived reset
// token. The code is single-use whether or not the reset completes.
func (s *Service) VerifyResetCode(
	ctx context.Context,
	emailAddr, code string,
) (string, error) {
	if err := s.codes.Verify(ctx, emailAddr, code); err != nil {
		return "", err
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf("verify reset code: %w", ErrCodeInvalid)
		}
		return "", fmt.Errorf("get user: %w", err)
	}

	resetToken, err := s.jwt.CreateResetToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("create reset token: %w", err)
	}

	return resetToken, nil
}

// ResetPassword sets a new password from a reset token and kills every
// existing session. It does not clear an account lock; that stays an
// administrator action.
func (s *Service) ResetPassword(
	ctx context.Context,
	resetToken, newPassword string,
) error {
	userID, err := s.jwt.VerifyScopedToken(ctx, resetToken, ScopeReset)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.LogoutAll(ctx, userID); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}

	//nolint:errcheck // stale failure counts are harmless after a reset
	_ = s.throttle.Reset(ctx, user.Username)

	s.audit.Record(ctx, audit.Event{
		ActorID:      userID,
		Action:       "auth.password_reset",
		ResourceType: "user",
		ResourceID:   &userID,
	})

	return nil
}

func (s *Service) ChangePassword(
	ctx context.Context,
	userID, currentPassword, newPassword string,
) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	valid, _, err := core.VerifyPasswordWithRehash(
		currentPassword,
		user.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return ErrInvalidCredentials
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.LogoutAll(ctx, userID); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}

	return nil
}

func (s *Service) ValidateTokenVersion(
	ctx context.Context,
	userID string,
	tokenVersion int,
) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if tokenVersion < user.TokenVersion {
		return fmt.Errorf("validate token version: %w", core.ErrTokenRevoked)
	}

	return nil
}

func (s *Service) GetActiveSessions(
	ctx context.Context,
	userID string,
) ([]SessionInfo, error) {
	tokens, err := s.repo.GetActiveSessionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, SessionInfo{
			ID:        t.ID,
			UserAgent: t.UserAgent,
			IPAddress: t.IPAddress,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}

	return sessions, nil
}

func (s *Service) RevokeSession(
	ctx context.Context,
	userID, sessionID string,
) error {
	token, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if token.UserID != userID {
		return fmt.Errorf("revoke session: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByID(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID string,
) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	effective, err := s.perms.EffectivePermissions(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}

	resp := userResponse(user, effective)
	return &resp, nil
}

func (s *Service) createOnboardingResponse(
	user *UserInfo,
) (*AuthResponse, error) {
	token, err := s.jwt.CreateOnboardingToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("create onboarding token: %w", err)
	}

	return &AuthResponse{
		User: UserResponse{
			ID:          user.ID,
			Username:    user.Username,
			Email:       user.Email,
			Permissions: []string{},
		},
		Onboarding: &OnboardingResponse{
			Token:              token,
			MustChangePassword: user.MustChangePassword,
			TermsAccepted:      user.TermsAccepted,
		},
	}, nil
}

func (s *Service) createAuthResponse(
	ctx context.Context,
	user *UserInfo,
	userAgent, ipAddress, familyID string,
	oldTokenID *string,
) (*AuthResponse, error) {
	// Force a fresh resolution so a brand-new session never starts on a
	// stale cache entry.
	effective, err := s.perms.EffectivePermissions(ctx, user.ID, true)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}

	accessToken, err := s.jwt.CreateAccessToken(AccessTokenClaims{
		UserID:       user.ID,
		Role:         effective.PrimaryRole,
		IsAdmin:      effective.IsAdmin,
		TokenVersion: user.TokenVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	refreshData, err := s.jwt.CreateRefreshToken(user.ID, familyID)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	newTokenID := uuid.New().String()

	refreshTokenEntity := &RefreshToken{
		ID:        newTokenID,
		UserID:    user.ID,
		TokenHash: refreshData.Hash,
		FamilyID:  refreshData.FamilyID,
		ExpiresAt: refreshData.ExpiresAt,
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}

	if err := s.repo.Create(ctx, refreshTokenEntity); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if oldTokenID != nil {
		//nolint:errcheck // best-effort token chain tracking
		_ = s.repo.MarkAsUsed(ctx, *oldTokenID, newTokenID)
	}

	accessExpire := s.jwt.AccessTokenExpire()

	return &AuthResponse{
		User: userResponse(user, effective),
		Tokens: &TokenResponse{
			AccessToken:      accessToken,
			RefreshToken:     refreshData.Token,
			TokenType:        "Bearer",
			ExpiresIn:        int(accessExpire / time.Second),
			ExpiresAt:        time.Now().Add(accessExpire),
			RefreshExpiresAt: refreshData.ExpiresAt,
		},
	}, nil
}

func userResponse(user *UserInfo, effective *rbac.Effective) UserResponse {
	return UserResponse{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Role:         effective.PrimaryRole,
		IsAdmin:      effective.IsAdmin,
		LandingRoute: effective.LandingRoute,
		Permissions:  effective.Permissions,
		LastLoginAt:  user.LastLoginAt,
	}
}
