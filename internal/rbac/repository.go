// AngelaMos | 2026
// repository.go

package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/angelamos/clinica-identity/internal/core"
)

type Repository interface {
	ResolverRepository

	CreateRole(ctx context.Context, role *Role) error
	GetRoleByID(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeactivateRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context) ([]Role, error)

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermissionByID(ctx context.Context, id string) (*Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (*Permission, error)
	UpdatePermission(ctx context.Context, perm *Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateAssignment(ctx context.Context, assignment *RoleAssignment) error
	GetAssignment(ctx context.Context, id string) (*RoleAssignment, error)
	GetActiveAssignment(
		ctx context.Context,
		userID, roleID string,
	) (*RoleAssignment, error)
	CountActiveAssignments(ctx context.Context, userID string) (int, error)
	ClearPrimary(ctx context.Context, userID string) error
	RevokeAssignment(ctx context.Context, id, actor string) error
	PromotePrimary(ctx context.Context, assignmentID string) error

	CreateRolePermission(ctx context.Context, link *RolePermission) error
	GetActiveRolePermission(
		ctx context.Context,
		roleID, permissionID string,
	) (*RolePermission, error)
	RevokeRolePermission(ctx context.Context, id, actor string) error

	CreateOverride(ctx context.Context, override *PermissionOverride) error
	GetActiveOverride(
		ctx context.Context,
		userID, permissionID string,
	) (*PermissionOverride, error)
	RevokeOverride(ctx context.Context, id, actor string) error
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

const roleColumns = `
	id, name, description, landing_route, is_admin, is_system, is_active,
	created_at, updated_at`

const assignmentColumns = `
	a.id, a.user_id, a.role_id, a.is_primary, a.assigned_at, a.assigned_by,
	a.revoked_at, a.revoked_by,
	r.id AS "role.id", r.name AS "role.name",
	r.description AS "role.description",
	r.landing_route AS "role.landing_route",
	r.is_admin AS "role.is_admin", r.is_system AS "role.is_system",
	r.is_active AS "role.is_active",
	r.created_at AS "role.created_at", r.updated_at AS "role.updated_at"`

const overrideColumns = `
	o.id, o.user_id, o.permission_id, o.effect, o.expires_at,
	o.assigned_at, o.assigned_by, o.revoked_at, o.revoked_by,
	p.id AS "permission.id", p.code AS "permission.code",
	p.description AS "permission.description",
	p.is_system AS "permission.is_system",
	p.is_active AS "permission.is_active",
	p.created_at AS "permission.created_at",
	p.updated_at AS "permission.updated_at"`

func (r *repository) ActiveRoleAssignments(
	ctx context.Context,
	userID string,
) ([]RoleAssignment, error) {
	query := `
		SELECT` + assignmentColumns + `
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.user_id = $1 AND a.revoked_at IS NULL
		ORDER BY a.id`

	var assignments []RoleAssignment
	err := r.db.SelectContext(ctx, &assignments, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get active role assignments: %w", err)
	}

	return assignments, nil
}

func (r *repository) ActiveRolePermissions(
	ctx context.Context,
	roleIDs []string,
) ([]RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT
			rp.id, rp.role_id, rp.permission_id, rp.assigned_at,
			rp.assigned_by, rp.revoked_at, rp.revoked_by,
			p.id AS "permission.id", p.code AS "permission.code",
			p.description AS "permission.description",
			p.is_system AS "permission.is_system",
			p.is_active AS "permission.is_active",
			p.created_at AS "permission.created_at",
			p.updated_at AS "permission.updated_at"
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (?) AND rp.revoked_at IS NULL`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("build role permissions query: %w", err)
	}

	query = r.db.Rebind(query)

	var links []RolePermission
	if err := r.db.SelectContext(ctx, &links, query, args...); err != nil {
		return nil, fmt.Errorf("get active role permissions: %w", err)
	}

	return links, nil
}

func (r *repository) ActiveOverrides(
	ctx context.Context,
	userID string,
) ([]PermissionOverride, error) {
	query := `
		SELECT` + overrideColumns + `
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.revoked_at IS NULL`

	var overrides []PermissionOverride
	err := r.db.SelectContext(ctx, &overrides, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get active overrides: %w", err)
	}

	return overrides, nil
}

func (r *repository) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (
			id, name, description, landing_route, is_admin, is_system, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at, updated_at`

	err := r.db.GetContext(ctx, role, query,
		role.ID,
		role.Name,
		role.Description,
		role.LandingRoute,
		role.IsAdmin,
		role.IsSystem,
		role.IsActive,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create role: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create role: %w", err)
	}

	return nil
}

func (r *repository) GetRoleByID(
	ctx context.Context,
	id string,
) (*Role, error) {
	query := `SELECT` + roleColumns + ` FROM roles WHERE id = $1`

	var role Role
	err := r.db.GetContext(ctx, &role, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get role: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}

	return &role, nil
}

func (r *repository) GetRoleByName(
	ctx context.Context,
	name string,
) (*Role, error) {
	query := `SELECT` + roleColumns + ` FROM roles WHERE name = $1`

	var role Role
	err := r.db.GetContext(ctx, &role, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get role by name: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get role by name: %w", err)
	}

	return &role, nil
}

func (r *repository) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $2, description = $3, landing_route = $4,
		    is_admin = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.GetContext(ctx, &role.UpdatedAt, query,
		role.ID,
		role.Name,
		role.Description,
		role.LandingRoute,
		role.IsAdmin,
		role.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update role: %w", core.ErrNotFound)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("update role: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("update role: %w", err)
	}

	return nil
}

func (r *repository) DeactivateRole(ctx context.Context, id string) error {
	query := `
		UPDATE roles
		SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate role: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deactivate role: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) ListRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT` + roleColumns + ` FROM roles ORDER BY name`

	var roles []Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	return roles, nil
}

func (r *repository) CreatePermission(
	ctx context.Context,
	perm *Permission,
) error {
	query := `
		INSERT INTO permissions (id, code, description, is_system, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.GetContext(ctx, perm, query,
		perm.ID,
		perm.Code,
		perm.Description,
		perm.IsSystem,
		perm.IsActive,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create permission: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create permission: %w", err)
	}

	return nil
}

func (r *repository) GetPermissionByID(
	ctx context.Context,
	id string,
) (*Permission, error) {
	query := `
		SELECT id, code, description, is_system, is_active,
		       created_at, updated_at
		FROM permissions
		WHERE id = $1`

	var perm Permission
	err := r.db.GetContext(ctx, &perm, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get permission: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}

	return &perm, nil
}

func (r *repository) GetPermissionByCode(
	ctx context.Context,
	code string,
) (*Permission, error) {
	query := `
		SELECT id, code, description, is_system, is_active,
		       created_at, updated_at
		FROM permissions
		WHERE code = $1`

	var perm Permission
	err := r.db.GetContext(ctx, &perm, query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get permission by code: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get permission by code: %w", err)
	}

	return &perm, nil
}

func (r *repository) UpdatePermission(
	ctx context.Context,
	perm *Permission,
) error {
	query := `
		UPDATE permissions
		SET description = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.GetContext(ctx, &perm.UpdatedAt, query,
		perm.ID,
		perm.Description,
		perm.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update permission: %w", core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}

	return nil
}

func (r *repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `
		SELECT id, code, description, is_system, is_active,
		       created_at, updated_at
		FROM permissions
		ORDER BY code`

	var perms []Permission
	if err := r.db.SelectContext(ctx, &perms, query); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}

	return perms, nil
}

func (r *repository) CreateAssignment(
	ctx context.Context,
	assignment *RoleAssignment,
) error {
	query := `
		INSERT INTO role_assignments (id, user_id, role_id, is_primary, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING assigned_at`

	err := r.db.GetContext(ctx, &assignment.AssignedAt, query,
		assignment.ID,
		assignment.UserID,
		assignment.RoleID,
		assignment.IsPrimary,
		assignment.AssignedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create role assignment: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create role assignment: %w", err)
	}

	return nil
}

func (r *repository) GetAssignment(
	ctx context.Context,
	id string,
) (*RoleAssignment, error) {
	query := `
		SELECT` + assignmentColumns + `
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.id = $1`

	var assignment RoleAssignment
	err := r.db.GetContext(ctx, &assignment, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get role assignment: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get role assignment: %w", err)
	}

	return &assignment, nil
}

func (r *repository) GetActiveAssignment(
	ctx context.Context,
	userID, roleID string,
) (*RoleAssignment, error) {
	query := `
		SELECT` + assignmentColumns + `
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.user_id = $1 AND a.role_id = $2 AND a.revoked_at IS NULL`

	var assignment RoleAssignment
	err := r.db.GetContext(ctx, &assignment, query, userID, roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get active assignment: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active assignment: %w", err)
	}

	return &assignment, nil
}

func (r *repository) CountActiveAssignments(
	ctx context.Context,
	userID string,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM role_assignments
		WHERE user_id = $1 AND revoked_at IS NULL`

	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count active assignments: %w", err)
	}

	return count, nil
}

func (r *repository) ClearPrimary(ctx context.Context, userID string) error {
	query := `
		UPDATE role_assignments
		SET is_primary = false
		WHERE user_id = $1 AND revoked_at IS NULL AND is_primary = true`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("clear primary assignment: %w", err)
	}

	return nil
}

func (r *repository) RevokeAssignment(
	ctx context.Context,
	id, actor string,
) error {
	query := `
		UPDATE role_assignments
		SET revoked_at = NOW(), revoked_by = $2
		WHERE id = $1 AND revoked_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, actor)
	if err != nil {
		return fmt.Errorf("revoke role assignment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role assignment: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("revoke role assignment: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) PromotePrimary(
	ctx context.Context,
	assignmentID string,
) error {
	query := `
		UPDATE role_assignments
		SET is_primary = true
		WHERE id = $1 AND revoked_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, assignmentID); err != nil {
		return fmt.Errorf("promote primary assignment: %w", err)
	}

	return nil
}

func (r *repository) CreateRolePermission(
	ctx context.Context,
	link *RolePermission,
) error {
	query := `
		INSERT INTO role_permissions (id, role_id, permission_id, assigned_by)
		VALUES ($1, $2, $3, $4)
		RETURNING assigned_at`

	err := r.db.GetContext(ctx, &link.AssignedAt, query,
		link.ID,
		link.RoleID,
		link.PermissionID,
		link.AssignedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create role permission: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create role permission: %w", err)
	}

	return nil
}

func (r *repository) GetActiveRolePermission(
	ctx context.Context,
	roleID, permissionID string,
) (*RolePermission, error) {
	query := `
		SELECT
			rp.id, rp.role_id, rp.permission_id, rp.assigned_at,
			rp.assigned_by, rp.revoked_at, rp.revoked_by,
			p.id AS "permission.id", p.code AS "permission.code",
			p.description AS "permission.description",
			p.is_system AS "permission.is_system",
			p.is_active AS "permission.is_active",
			p.created_at AS "permission.created_at",
			p.updated_at AS "permission.updated_at"
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.permission_id = $2
			AND rp.revoked_at IS NULL`

	var link RolePermission
	err := r.db.GetContext(ctx, &link, query, roleID, permissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get active role permission: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active role permission: %w", err)
	}

	return &link, nil
}

func (r *repository) RevokeRolePermission(
	ctx context.Context,
	id, actor string,
) error {
	query := `
		UPDATE role_permissions
		SET revoked_at = NOW(), revoked_by = $2
		WHERE id = $1 AND revoked_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, actor)
	if err != nil {
		return fmt.Errorf("revoke role permission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role permission: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("revoke role permission: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) CreateOverride(
	ctx context.Context,
	override *PermissionOverride,
) error {
	query := `
		INSERT INTO user_permission_overrides (
			id, user_id, permission_id, effect, expires_at, assigned_by
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING assigned_at`

	err := r.db.GetContext(ctx, &override.AssignedAt, query,
		override.ID,
		override.UserID,
		override.PermissionID,
		override.Effect,
		override.ExpiresAt,
		override.AssignedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create override: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create override: %w", err)
	}

	return nil
}

func (r *repository) GetActiveOverride(
	ctx context.Context,
	userID, permissionID string,
) (*PermissionOverride, error) {
	query := `
		SELECT` + overrideColumns + `
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.permission_id = $2
			AND o.revoked_at IS NULL
			AND (o.expires_at IS NULL OR o.expires_at > NOW())`

	var override PermissionOverride
	err := r.db.GetContext(ctx, &override, query, userID, permissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get active override: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active override: %w", err)
	}

	return &override, nil
}

func (r *repository) RevokeOverride(
	ctx context.Context,
	id, actor string,
) error {
	query := `
		UPDATE user_permission_overrides
		SET revoked_at = NOW(), revoked_by = $2
		WHERE id = $1 AND revoked_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, actor)
	if err != nil {
		return fmt.Errorf("revoke override: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke override: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("revoke override: %w", core.ErrNotFound)
	}

	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
