// AngelaMos | 2026
// handler.go

package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/middleware"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes adds the role and permission catalog surface. The
// per-user endpoints (assignments, overrides, effective permissions) hang
// off the user tree and are registered there. The caller is expected to
// have the authenticator plus an admin or permission guard installed.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.ListRoles)
		r.Post("/", h.CreateRole)
		r.Get("/{roleID}", h.GetRole)
		r.Patch("/{roleID}", h.UpdateRole)
		r.Delete("/{roleID}", h.DeleteRole)
		r.Post("/{roleID}/permissions/{permissionID}", h.GrantPermission)
		r.Delete("/{roleID}/permissions/{permissionID}", h.RevokePermission)
	})

	r.Route("/permissions", func(r chi.Router) {
		r.Get("/", h.ListPermissions)
		r.Post("/", h.CreatePermission)
		r.Patch("/{permissionID}", h.UpdatePermission)
	})
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	role, err := h.service.CreateRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err, "role")
		return
	}

	core.Created(w, role)
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.handleServiceError(w, err, "role")
		return
	}

	core.OK(w, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	role, err := h.service.UpdateRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "roleID"),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err, "role")
		return
	}

	core.OK(w, role)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "roleID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "role")
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "role")
		return
	}

	core.OK(w, RoleListResponse{Roles: roles, Total: len(roles)})
}

func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	perm, err := h.service.CreatePermission(
		r.Context(),
		middleware.GetUserID(r.Context()),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err, "permission")
		return
	}

	core.Created(w, perm)
}

func (h *Handler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req UpdatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	perm, err := h.service.UpdatePermission(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "permissionID"),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err, "permission")
		return
	}

	core.OK(w, perm)
}

func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "permission")
		return
	}

	core.OK(w, PermissionListResponse{Permissions: perms, Total: len(perms)})
}

func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.GrantPermissionToRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "roleID"),
		chi.URLParam(r, "permissionID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "role permission")
		return
	}

	core.Created(w, link)
}

func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	err := h.service.RevokePermissionFromRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "roleID"),
		chi.URLParam(r, "permissionID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "role permission")
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.service.UserRoleAssignments(
		r.Context(),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "role assignment")
		return
	}

	core.OK(w, AssignmentListResponse{
		Assignments: assignments,
		Total:       len(assignments),
	})
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	assignment, err := h.service.AssignRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		req.RoleID,
		req.IsPrimary,
	)
	if err != nil {
		h.handleServiceError(w, err, "role assignment")
		return
	}

	core.Created(w, assignment)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	err := h.service.RevokeRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		chi.URLParam(r, "roleID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "role assignment")
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.service.ActiveOverrides(
		r.Context(),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err, "override")
		return
	}

	core.OK(w, OverrideListResponse{
		Overrides: overrides,
		Total:     len(overrides),
	})
}

func (h *Handler) AddOverride(w http.ResponseWriter, r *http.Request) {
	var req AddOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	override, err := h.service.AddOverride(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err, "override")
		return
	}

	core.Created(w, override)
}

func (h *Handler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	err := h.service.RemoveOverride(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		chi.URLParam(r, "code"),
	)
	if err != nil {
		h.handleServiceError(w, err, "override")
		return
	}

	core.NoContent(w)
}

// EffectivePermissions serves the resolved permission set for a user.
// ?refresh=true bypasses the cache, for admins verifying a change landed.
func (h *Handler) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	effective, err := h.service.EffectivePermissions(
		r.Context(),
		chi.URLParam(r, "userID"),
		forceRefresh,
	)
	if err != nil {
		h.handleServiceError(w, err, "user")
		return
	}

	core.OK(w, effective)
}

func (h *Handler) handleServiceError(
	w http.ResponseWriter,
	err error,
	resource string,
) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, resource)
	case errors.Is(err, core.ErrDuplicateKey):
		core.JSONError(w, core.DuplicateError(resource))
	case errors.Is(err, core.ErrInvalidInput):
		core.BadRequest(w, err.Error())
	case errors.Is(err, ErrLastRole):
		core.JSONError(w, core.ConflictError(
			"cannot revoke the user's last active role",
			core.CodeLastRole,
		))
	case errors.Is(err, ErrOverrideConflict):
		core.JSONError(w, core.ConflictError(
			"an override with the opposite effect is already active",
			core.CodeOverrideConflict,
		))
	case errors.Is(err, ErrSystemProtected):
		core.JSONError(w, core.ConflictError(
			"system resources cannot be modified",
			core.CodeSystemProtected,
		))
	case errors.Is(err, ErrRoleInactive):
		core.JSONError(w, core.ConflictError(
			"role is not active",
			core.CodeValidationError,
		))
	default:
		core.InternalServerError(w, err)
	}
}

// CacheSource adapts the service to the middleware permission guard.
type CacheSource struct {
	Service *Service
}

func (s CacheSource) Effective(
	ctx context.Context,
	userID string,
	forceRefresh bool,
) (middleware.PermissionSet, error) {
	effective, err := s.Service.EffectivePermissions(ctx, userID, forceRefresh)
	if err != nil {
		return nil, err
	}
	return effective, nil
}
