// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/auth"
	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/rbac"
)

// SessionKiller revokes every session the target user holds. Wired to the
// auth service so lock, deactivate, and delete immediately end access.
type SessionKiller interface {
	LogoutAll(ctx context.Context, userID string) error
}

// OnboardingVerifier validates the pre-auth onboarding token and returns
// its subject.
type OnboardingVerifier interface {
	VerifyScopedToken(
		ctx context.Context,
		token, scope string,
	) (string, error)
}

type Service struct {
	repo     Repository
	sessions SessionKiller
	verifier OnboardingVerifier
	throttle auth.LoginThrottle
	audit    audit.Recorder
}

func NewService(
	repo Repository,
	sessions SessionKiller,
	verifier OnboardingVerifier,
	throttle auth.LoginThrottle,
	auditor audit.Recorder,
) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		verifier: verifier,
		throttle: throttle,
		audit:    auditor,
	}
}

func (s *Service) GetByID(
	ctx context.Context,
	id string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetByUsername(
	ctx context.Context,
	username string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetByEmail(
	ctx context.Context,
	email string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) SetLocked(
	ctx context.Context,
	userID string,
	locked bool,
) error {
	return s.repo.SetLocked(ctx, userID, locked)
}

func (s *Service) RecordLogin(
	ctx context.Context,
	userID, ipAddress string,
) error {
	return s.repo.RecordLogin(ctx, userID, ipAddress)
}

func (s *Service) IncrementTokenVersion(
	ctx context.Context,
	userID string,
) error {
	return s.repo.IncrementTokenVersion(ctx, userID)
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	userID, passwordHash string,
) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	return s.repo.Exists(ctx, userID)
}

// CreateUser provisions an account with a temporary password. The user
// must change it on first login before a session is issued.
func (s *Service) CreateUser(
	ctx context.Context,
	actor string,
	req CreateUserRequest,
) (*User, error) {
	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:                 uuid.New().String(),
		Username:           strings.ToLower(req.Username),
		Email:              strings.ToLower(req.Email),
		PasswordHash:       passwordHash,
		FullName:           req.FullName,
		MustChangePassword: true,
		AccountExpiresAt:   req.AccountExpiresAt,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.create",
		ResourceType: "user",
		ResourceID:   &user.ID,
		After:        audit.Snapshot(user),
	})

	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateUser(
	ctx context.Context,
	actor, id string,
	req UpdateUserRequest,
) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	before := *user

	if req.Email != nil {
		user.Email = strings.ToLower(*req.Email)
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.AccountExpiresAt != nil {
		user.AccountExpiresAt = req.AccountExpiresAt
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.update",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Before:       audit.Snapshot(before),
		After:        audit.Snapshot(user),
	})

	return user, nil
}

// LockUser flips the persisted lock and kills every live session.
func (s *Service) LockUser(ctx context.Context, actor, id string) error {
	if err := s.repo.SetLocked(ctx, id, true); err != nil {
		return err
	}

	if err := s.sessions.LogoutAll(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.lock",
		ResourceType: "user",
		ResourceID:   &id,
	})

	return nil
}

// UnlockUser clears the lock and the failed-attempt counter so the next
// bad password does not immediately re-lock the account.
func (s *Service) UnlockUser(ctx context.Context, actor, id string) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.SetLocked(ctx, id, false); err != nil {
		return err
	}

	//nolint:errcheck // a stale counter only shortens the next lockout
	_ = s.throttle.Reset(ctx, user.Username)

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.unlock",
		ResourceType: "user",
		ResourceID:   &id,
	})

	return nil
}

func (s *Service) ActivateUser(ctx context.Context, actor, id string) error {
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.activate",
		ResourceType: "user",
		ResourceID:   &id,
	})

	return nil
}

func (s *Service) DeactivateUser(ctx context.Context, actor, id string) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}

	if err := s.sessions.LogoutAll(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.deactivate",
		ResourceType: "user",
		ResourceID:   &id,
	})

	return nil
}

func (s *Service) DeleteUser(ctx context.Context, actor, id string) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}

	if err := s.sessions.LogoutAll(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "user.delete",
		ResourceType: "user",
		ResourceID:   &id,
	})

	return nil
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

// CompleteOnboarding consumes a pre-auth onboarding token and settles
// whatever the account still owes: the forced password change, the terms
// acceptance, or both. The client logs in again afterwards.
func (s *Service) CompleteOnboarding(
	ctx context.Context,
	req CompleteOnboardingRequest,
) error {
	userID, err := s.verifier.VerifyScopedToken(
		ctx,
		req.Token,
		auth.ScopeOnboarding,
	)
	if err != nil {
		return err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.IsActive || user.IsLocked {
		return fmt.Errorf("complete onboarding: %w", core.ErrForbidden)
	}

	if user.MustChangePassword {
		if req.NewPassword == "" {
			return fmt.Errorf(
				"complete onboarding: new password required: %w",
				core.ErrInvalidInput,
			)
		}

		passwordHash, hashErr := core.HashPassword(req.NewPassword)
		if hashErr != nil {
			return fmt.Errorf("hash password: %w", hashErr)
		}

		if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
			return err
		}

		if err := s.repo.SetMustChangePassword(ctx, userID, false); err != nil {
			return err
		}
	}

	if !user.TermsAccepted {
		if !req.AcceptTerms {
			return fmt.Errorf(
				"complete onboarding: terms must be accepted: %w",
				core.ErrInvalidInput,
			)
		}

		if err := s.repo.SetTermsAccepted(ctx, userID); err != nil {
			return err
		}
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      userID,
		Action:       "user.onboarding_completed",
		ResourceType: "user",
		ResourceID:   &userID,
	})

	return nil
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:                 u.ID,
		Username:           u.Username,
		FullName:           u.FullName,
		Email:              u.Email,
		PasswordHash:       u.PasswordHash,
		IsActive:           u.IsActive,
		IsLocked:           u.IsLocked,
		MustChangePassword: u.MustChangePassword,
		TermsAccepted:      u.TermsAccepted,
		AccountExpiresAt:   u.AccountExpiresAt,
		LastLoginAt:        u.LastLoginAt,
		TokenVersion:       u.TokenVersion,
	}
}

var (
	_ auth.UserProvider  = (*Service)(nil)
	_ rbac.UserDirectory = (*Service)(nil)
)
