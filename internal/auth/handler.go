// AngelaMos | 2026
// handler.go

package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/middleware"
)

type Handler struct {
	service   *Service
	cookies   *CookieWriter
	validator *validator.Validate
}

func NewHandler(service *Service, cookies *CookieWriter) *Handler {
	return &Handler{
		service:   service,
		cookies:   cookies,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/verify-reset-code", h.VerifyResetCode)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Get("/me", h.GetMe)
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/sessions", h.GetSessions)
			r.Delete("/sessions/{sessionID}", h.RevokeSession)
			r.Post("/change-password", h.ChangePassword)
		})
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	userAgent := r.UserAgent()
	ipAddress := extractIPAddress(r)

	resp, err := h.service.Login(r.Context(), req, userAgent, ipAddress)
	if err != nil {
		h.handleLoginError(w, err)
		return
	}

	if resp.Tokens != nil {
		h.setSessionCookies(w, resp)
	}

	core.OK(w, resp)
}

func (h *Handler) handleLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		core.JSONError(w, core.InvalidCredentialsError())
	case errors.Is(err, ErrAccountExpired):
		core.JSONError(w, core.NewAppError(
			core.ErrUnauthorized,
			"account has expired",
			http.StatusUnauthorized,
			core.CodeAccountExpired,
		))
	case errors.Is(err, ErrUserInactive):
		core.JSONError(w, core.NewAppError(
			core.ErrUnauthorized,
			"account is deactivated",
			http.StatusUnauthorized,
			core.CodeUserInactive,
		))
	case errors.Is(err, core.ErrAccountLocked):
		core.JSONError(w, core.AccountLockedError())
	default:
		core.InternalServerError(w, err)
	}
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	//nolint:errcheck // body is optional when the cookie is present
	_ = json.NewDecoder(r.Body).Decode(&req)

	refreshToken := RefreshTokenFromRequest(r, req.RefreshToken)
	if refreshToken == "" {
		core.BadRequest(w, "refresh token required")
		return
	}

	userAgent := r.UserAgent()
	ipAddress := extractIPAddress(r)

	resp, err := h.service.Refresh(
		r.Context(),
		refreshToken,
		userAgent,
		ipAddress,
	)
	if err != nil {
		h.handleRefreshError(w, err)
		return
	}

	h.setSessionCookies(w, resp)

	core.OK(w, resp)
}

func (h *Handler) handleRefreshError(w http.ResponseWriter, err error) {
	h.cookies.ClearRefreshToken(w)

	switch {
	case errors.Is(err, ErrTokenReuse):
		core.JSONError(w, core.NewAppError(
			core.ErrTokenRevoked,
			"token reuse detected, all sessions for this device family revoked",
			http.StatusUnauthorized,
			"TOKEN_REUSE_DETECTED",
		))
	case errors.Is(err, core.ErrRefreshTokenExpired):
		core.JSONError(w, core.RefreshTokenExpiredError())
	case errors.Is(err, core.ErrSessionExpired):
		core.JSONError(w, core.SessionExpiredError())
	case errors.Is(err, core.ErrTokenRevoked):
		core.JSONError(w, core.TokenRevokedError())
	case errors.Is(err, core.ErrTokenInvalid):
		core.JSONError(w, core.TokenInvalidError())
	default:
		core.InternalServerError(w, err)
	}
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, core.ErrRateLimited) {
			core.JSONError(w, core.RateLimitedError(
				"too many reset requests, try again later",
			))
			return
		}
		core.InternalServerError(w, err)
		return
	}

	// Same response whether or not the email exists.
	core.OK(w, map[string]string{
		"message": "if the email exists, a reset code has been sent",
	})
}

func (h *Handler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyResetCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	resetToken, err := h.service.VerifyResetCode(
		r.Context(),
		req.Email,
		req.Code,
	)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeExpired):
			core.JSONError(w, core.NewAppError(
				core.ErrTokenExpired,
				"code has expired, request a new one",
				http.StatusUnauthorized,
				core.CodeCodeExpired,
			))
		case errors.Is(err, ErrCodeInvalid):
			core.JSONError(w, core.NewAppError(
				core.ErrUnauthorized,
				"code is incorrect",
				http.StatusUnauthorized,
				core.CodeInvalidCode,
			))
		case errors.Is(err, core.ErrRateLimited):
			core.JSONError(w, core.RateLimitedError(
				"too many attempts, request a new code",
			))
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, VerifyResetCodeResponse{ResetToken: resetToken})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	err := h.service.ResetPassword(r.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			core.JSONError(w, core.TokenExpiredError())
		case errors.Is(err, core.ErrTokenInvalid):
			core.JSONError(w, core.TokenInvalidError())
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.NoContent(w)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	var req RefreshRequest
	//nolint:errcheck // body is optional when the cookie is present
	_ = json.NewDecoder(r.Body).Decode(&req)

	refreshToken := RefreshTokenFromRequest(r, req.RefreshToken)
	if refreshToken != "" {
		if err := h.service.Logout(r.Context(), refreshToken, userID); err != nil {
			if errors.Is(err, core.ErrForbidden) {
				core.Forbidden(w, "cannot revoke another user's token")
				return
			}
			core.InternalServerError(w, err)
			return
		}
	}

	if claims := middleware.GetClaims(r.Context()); claims != nil {
		err := h.service.RevokeAccessToken(
			r.Context(),
			claims.JTI,
			claims.ExpiresAt,
		)
		if err != nil {
			core.InternalServerError(w, err)
			return
		}
	}

	h.cookies.ClearRefreshToken(w)
	h.cookies.ClearCSRFToken(w)

	core.NoContent(w)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	if err := h.service.LogoutAll(r.Context(), userID); err != nil {
		core.InternalServerError(w, err)
		return
	}

	h.cookies.ClearRefreshToken(w)
	h.cookies.ClearCSRFToken(w)

	core.NoContent(w)
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessions, err := h.service.GetActiveSessions(r.Context(), userID)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, SessionsResponse{Sessions: sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.BadRequest(w, "session ID required")
		return
	}

	if err := h.service.RevokeSession(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "session")
			return
		}
		if errors.Is(err, core.ErrForbidden) {
			core.Forbidden(w, "cannot revoke another user's session")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			core.JSONError(
				w,
				core.UnauthorizedError("current password is incorrect"),
			)
			return
		}
		core.InternalServerError(w, err)
		return
	}

	h.cookies.ClearRefreshToken(w)

	core.NoContent(w)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, user)
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, resp *AuthResponse) {
	h.cookies.SetRefreshToken(
		w,
		resp.Tokens.RefreshToken,
		resp.Tokens.RefreshExpiresAt,
	)

	//nolint:errcheck // CSRF cookie failure falls back to header-only clients
	_, _ = h.cookies.SetCSRFToken(w, resp.Tokens.RefreshExpiresAt)
}

func extractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[len(ips)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
