// AngelaMos | 2026
// service.go

package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/core"
)

var (
	ErrLastRole         = errors.New("cannot revoke last active role")
	ErrOverrideConflict = errors.New("conflicting override already active")
	ErrSystemProtected  = errors.New("system resource cannot be modified")
	ErrRoleInactive     = errors.New("role is not active")
)

var permissionCodeRe = regexp.MustCompile(`^[a-z0-9_-]+:[a-z0-9_-]+$`)

// UserDirectory is the slice of the user store the rbac service needs.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

type Service struct {
	repo  Repository
	inTx  func(ctx context.Context, fn func(Repository) error) error
	cache *Cache
	users UserDirectory
	audit audit.Recorder
}

func NewService(
	db *sqlx.DB,
	repo Repository,
	cache *Cache,
	users UserDirectory,
	auditor audit.Recorder,
) *Service {
	return &Service{
		repo: repo,
		inTx: func(ctx context.Context, fn func(Repository) error) error {
			return core.InTx(ctx, db, func(tx *sqlx.Tx) error {
				return fn(NewRepository(tx))
			})
		},
		cache: cache,
		users: users,
		audit: auditor,
	}
}

// EffectivePermissions returns the user's resolved permission set through
// the cache.
func (s *Service) EffectivePermissions(
	ctx context.Context,
	userID string,
	forceRefresh bool,
) (*Effective, error) {
	return s.cache.Effective(ctx, userID, forceRefresh)
}

func (s *Service) Cache() *Cache {
	return s.cache
}

func (s *Service) CreateRole(
	ctx context.Context,
	actor string,
	req CreateRoleRequest,
) (*Role, error) {
	role := &Role{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Description:  req.Description,
		LandingRoute: req.LandingRoute,
		IsAdmin:      req.IsAdmin,
		IsActive:     true,
	}

	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.create",
		ResourceType: "role",
		ResourceID:   &role.ID,
		After:        audit.Snapshot(role),
	})

	return role, nil
}

func (s *Service) UpdateRole(
	ctx context.Context,
	actor, roleID string,
	req UpdateRoleRequest,
) (*Role, error) {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if role.IsSystem {
		return nil, fmt.Errorf("update role: %w", ErrSystemProtected)
	}

	before := *role

	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.LandingRoute != nil {
		role.LandingRoute = *req.LandingRoute
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}

	// Role attributes feed every member's resolution; flush everything.
	s.cache.InvalidateAll()

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.update",
		ResourceType: "role",
		ResourceID:   &role.ID,
		Before:       audit.Snapshot(before),
		After:        audit.Snapshot(role),
	})

	return role, nil
}

func (s *Service) DeleteRole(ctx context.Context, actor, roleID string) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}

	if role.IsSystem {
		return fmt.Errorf("delete role: %w", ErrSystemProtected)
	}

	if err := s.repo.DeactivateRole(ctx, roleID); err != nil {
		return err
	}

	s.cache.InvalidateAll()

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.delete",
		ResourceType: "role",
		ResourceID:   &roleID,
		Before:       audit.Snapshot(role),
	})

	return nil
}

func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.repo.GetRoleByID(ctx, roleID)
}

func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

func (s *Service) CreatePermission(
	ctx context.Context,
	actor string,
	req CreatePermissionRequest,
) (*Permission, error) {
	if !permissionCodeRe.MatchString(req.Code) {
		return nil, fmt.Errorf(
			"create permission: code %q must match resource:action: %w",
			req.Code,
			core.ErrInvalidInput,
		)
	}

	perm := &Permission{
		ID:          uuid.New().String(),
		Code:        req.Code,
		Description: req.Description,
		IsActive:    true,
	}

	if err := s.repo.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "permission.create",
		ResourceType: "permission",
		ResourceID:   &perm.ID,
		After:        audit.Snapshot(perm),
	})

	return perm, nil
}

func (s *Service) UpdatePermission(
	ctx context.Context,
	actor, permissionID string,
	req UpdatePermissionRequest,
) (*Permission, error) {
	perm, err := s.repo.GetPermissionByID(ctx, permissionID)
	if err != nil {
		return nil, err
	}

	if perm.IsSystem {
		return nil, fmt.Errorf("update permission: %w", ErrSystemProtected)
	}

	before := *perm

	if req.Description != nil {
		perm.Description = *req.Description
	}
	if req.IsActive != nil {
		perm.IsActive = *req.IsActive
	}

	if err := s.repo.UpdatePermission(ctx, perm); err != nil {
		return nil, err
	}

	s.cache.InvalidateAll()

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "permission.update",
		ResourceType: "permission",
		ResourceID:   &perm.ID,
		Before:       audit.Snapshot(before),
		After:        audit.Snapshot(perm),
	})

	return perm, nil
}

func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// AssignRole links a user to a role. The first active assignment becomes
// primary; marking a later one primary demotes the current primary in the
// same transaction. The cache entry is dropped only after commit.
func (s *Service) AssignRole(
	ctx context.Context,
	actor, userID, roleID string,
	isPrimary bool,
) (*RoleAssignment, error) {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("assign role: user: %w", core.ErrNotFound)
	}

	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, fmt.Errorf("assign role: %w", ErrRoleInactive)
	}

	if _, err := s.repo.GetActiveAssignment(ctx, userID, roleID); err == nil {
		return nil, fmt.Errorf("assign role: %w", core.ErrDuplicateKey)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	assignment := &RoleAssignment{
		ID:         uuid.New().String(),
		UserID:     userID,
		RoleID:     roleID,
		IsPrimary:  isPrimary,
		AssignedBy: actor,
		Role:       *role,
	}

	err = s.inTx(ctx, func(txRepo Repository) error {
		count, countErr := txRepo.CountActiveAssignments(ctx, userID)
		if countErr != nil {
			return countErr
		}
		if count == 0 {
			assignment.IsPrimary = true
		} else if assignment.IsPrimary {
			if clearErr := txRepo.ClearPrimary(ctx, userID); clearErr != nil {
				return clearErr
			}
		}

		return txRepo.CreateAssignment(ctx, assignment)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(userID)

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.assign",
		ResourceType: "role_assignment",
		ResourceID:   &assignment.ID,
		After:        audit.Snapshot(assignment),
	})

	return assignment, nil
}

// RevokeRole revokes a user's assignment to the given role. Revoking the
// last active assignment is rejected; revoking the primary promotes the
// oldest remaining assignment.
func (s *Service) RevokeRole(
	ctx context.Context,
	actor, userID, roleID string,
) error {
	assignment, err := s.repo.GetActiveAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(txRepo Repository) error {
		count, countErr := txRepo.CountActiveAssignments(ctx, userID)
		if countErr != nil {
			return countErr
		}
		if count <= 1 {
			return fmt.Errorf("revoke role: %w", ErrLastRole)
		}

		if revokeErr := txRepo.RevokeAssignment(ctx, assignment.ID, actor); revokeErr != nil {
			return revokeErr
		}

		if assignment.IsPrimary {
			remaining, listErr := txRepo.ActiveRoleAssignments(ctx, userID)
			if listErr != nil {
				return listErr
			}
			if len(remaining) > 0 {
				promoteErr := txRepo.PromotePrimary(ctx, remaining[0].ID)
				if promoteErr != nil {
					return promoteErr
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(userID)

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.revoke",
		ResourceType: "role_assignment",
		ResourceID:   &assignment.ID,
		Before:       audit.Snapshot(assignment),
	})

	return nil
}

func (s *Service) GrantPermissionToRole(
	ctx context.Context,
	actor, roleID, permissionID string,
) (*RolePermission, error) {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}

	perm, err := s.repo.GetPermissionByID(ctx, permissionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetActiveRolePermission(ctx, roleID, permissionID); err == nil {
		return nil, fmt.Errorf("grant permission to role: %w", core.ErrDuplicateKey)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	link := &RolePermission{
		ID:           uuid.New().String(),
		RoleID:       role.ID,
		PermissionID: perm.ID,
		AssignedBy:   actor,
		Permission:   *perm,
	}

	if err := s.repo.CreateRolePermission(ctx, link); err != nil {
		return nil, err
	}

	// Role-level grants affect every member; flush everything.
	s.cache.InvalidateAll()

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.permission.grant",
		ResourceType: "role_permission",
		ResourceID:   &link.ID,
		After:        audit.Snapshot(link),
	})

	return link, nil
}

func (s *Service) RevokePermissionFromRole(
	ctx context.Context,
	actor, roleID, permissionID string,
) error {
	link, err := s.repo.GetActiveRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return err
	}

	if err := s.repo.RevokeRolePermission(ctx, link.ID, actor); err != nil {
		return err
	}

	s.cache.InvalidateAll()

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "role.permission.revoke",
		ResourceType: "role_permission",
		ResourceID:   &link.ID,
		Before:       audit.Snapshot(link),
	})

	return nil
}

// AddOverride grants or denies a single permission for one user. At most
// one override may be active per (user, permission) pair; a second with a
// different effect is a conflict, never a silent replacement.
func (s *Service) AddOverride(
	ctx context.Context,
	actor, userID string,
	req AddOverrideRequest,
) (*PermissionOverride, error) {
	effect := OverrideEffect(req.Effect)
	if !effect.Valid() {
		return nil, fmt.Errorf(
			"add override: effect %q: %w",
			req.Effect,
			core.ErrInvalidInput,
		)
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf(
			"add override: expiry must be in the future: %w",
			core.ErrInvalidInput,
		)
	}

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("add override: user: %w", core.ErrNotFound)
	}

	perm, err := s.repo.GetPermissionByCode(ctx, req.PermissionCode)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetActiveOverride(ctx, userID, perm.ID)
	if err == nil {
		if existing.Effect != effect {
			return nil, fmt.Errorf("add override: %w", ErrOverrideConflict)
		}
		return nil, fmt.Errorf("add override: %w", core.ErrDuplicateKey)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	override := &PermissionOverride{
		ID:           uuid.New().String(),
		UserID:       userID,
		PermissionID: perm.ID,
		Effect:       effect,
		ExpiresAt:    req.ExpiresAt,
		AssignedBy:   actor,
		Permission:   *perm,
	}

	if err := s.repo.CreateOverride(ctx, override); err != nil {
		return nil, err
	}

	s.cache.Invalidate(userID)

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "override.add",
		ResourceType: "permission_override",
		ResourceID:   &override.ID,
		After:        audit.Snapshot(override),
	})

	return override, nil
}

func (s *Service) RemoveOverride(
	ctx context.Context,
	actor, userID, permissionCode string,
) error {
	perm, err := s.repo.GetPermissionByCode(ctx, permissionCode)
	if err != nil {
		return err
	}

	override, err := s.repo.GetActiveOverride(ctx, userID, perm.ID)
	if err != nil {
		return err
	}

	if err := s.repo.RevokeOverride(ctx, override.ID, actor); err != nil {
		return err
	}

	s.cache.Invalidate(userID)

	s.audit.Record(ctx, audit.Event{
		ActorID:      actor,
		Action:       "override.remove",
		ResourceType: "permission_override",
		ResourceID:   &override.ID,
		Before:       audit.Snapshot(override),
	})

	return nil
}

func (s *Service) ActiveOverrides(
	ctx context.Context,
	userID string,
) ([]PermissionOverride, error) {
	return s.repo.ActiveOverrides(ctx, userID)
}

func (s *Service) UserRoleAssignments(
	ctx context.Context,
	userID string,
) ([]RoleAssignment, error) {
	return s.repo.ActiveRoleAssignments(ctx, userID)
}
