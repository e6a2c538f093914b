// AngelaMos | 2026
// handler.go

package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/middleware"
	"github.com/angelamos/clinica-identity/internal/rbac"
)

type Handler struct {
	service   *Service
	rbac      *rbac.Service
	validator *validator.Validate
}

func NewHandler(service *Service, rbacService *rbac.Service) *Handler {
	return &Handler{
		service:   service,
		rbac:      rbacService,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterPublicRoutes adds the endpoints reachable without a session.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/onboarding/complete", h.CompleteOnboarding)
}

// RegisterAdminRoutes owns the /users tree, including the per-user rbac
// endpoints which delegate to the rbac handler.
func (h *Handler) RegisterAdminRoutes(r chi.Router, rbacHandler *rbac.Handler) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)

		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Patch("/", h.UpdateUser)
			r.Delete("/", h.DeleteUser)
			r.Post("/lock", h.LockUser)
			r.Post("/unlock", h.UnlockUser)
			r.Post("/activate", h.ActivateUser)
			r.Post("/deactivate", h.DeactivateUser)

			r.Get("/roles", rbacHandler.ListUserRoles)
			r.Post("/roles", rbacHandler.AssignRole)
			r.Delete("/roles/{roleID}", rbacHandler.RevokeRole)
			r.Get("/overrides", rbacHandler.ListOverrides)
			r.Post("/overrides", rbacHandler.AddOverride)
			r.Delete("/overrides/{code}", rbacHandler.RemoveOverride)
			r.Get("/permissions", rbacHandler.EffectivePermissions)
		})
	})
}

// CreateUser provisions the account and its initial primary role in one
// request, so no user ever exists without a role.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	actor := middleware.GetUserID(r.Context())

	created, err := h.service.CreateUser(r.Context(), actor, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	_, err = h.rbac.AssignRole(r.Context(), actor, created.ID, req.RoleID, true)
	if err != nil {
		// The account exists but has no role; surface the failure so the
		// admin retries the assignment rather than shipping a roleless user.
		core.InternalServerError(w, err)
		return
	}

	core.Created(w, created)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.OK(w, found)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	updated, err := h.service.UpdateUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		req,
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.OK(w, updated)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) LockUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.LockUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.UnlockUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.ActivateUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeactivateUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params := ListUsersParams{
		Search: r.URL.Query().Get("search"),
	}

	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		params.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		params.PageSize = size
	}
	if active := r.URL.Query().Get("is_active"); active != "" {
		v := active == "true"
		params.IsActive = &v
	}
	if locked := r.URL.Query().Get("is_locked"); locked != "" {
		v := locked == "true"
		params.IsLocked = &v
	}

	users, total, err := h.service.ListUsers(r.Context(), params)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	params.Normalize()

	core.OK(w, UserListResponse{
		Users:    users,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var req CompleteOnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if err := h.service.CompleteOnboarding(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			core.JSONError(w, core.TokenExpiredError())
		case errors.Is(err, core.ErrTokenInvalid):
			core.JSONError(w, core.TokenInvalidError())
		case errors.Is(err, core.ErrInvalidInput):
			core.BadRequest(w, err.Error())
		case errors.Is(err, core.ErrForbidden):
			core.Forbidden(w, "account cannot complete onboarding")
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "user")
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.NoContent(w)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	case errors.Is(err, core.ErrDuplicateKey):
		core.JSONError(w, core.DuplicateError("user"))
	case errors.Is(err, core.ErrInvalidInput):
		core.BadRequest(w, err.Error())
	default:
		core.InternalServerError(w, err)
	}
}
