package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/skycast-app/skycast/internal/http/middleware"
	"github.com/skycast-app/skycast/internal/http/response"
	"github.com/skycast-app/skycast/internal/observability"
	"github.com/skycast-app/skycast/internal/security"
	"github.com/skycast-app/skycast/internal/service"
)

type AuthHandler struct {
	auth          *service.AuthService
	refreshTTL    time.Duration
	secureCookies bool
}

func NewAuthHandler(auth *service.AuthService, refreshTTL time.Duration, secureCookies bool) *AuthHandler {
	return &AuthHandler{auth: auth, refreshTTL: refreshTTL, secureCookies: secureCookies}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	user, err := h.auth.Register(req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	result, err := h.auth.Login(req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "user_id", result.Session.UserID)
	security.SetRefreshCookie(w, result.RefreshToken, h.refreshTTL, h.secureCookies)
	response.JSON(w, r, http.StatusOK, accessTokenResponse{AccessToken: result.AccessToken})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := security.GetCookie(r, security.RefreshCookieName)
	if token == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	result, err := h.auth.Refresh(token, r.UserAgent(), clientIP(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.refresh", "user_id", result.Session.UserID)
	security.SetRefreshCookie(w, result.RefreshToken, h.refreshTTL, h.secureCookies)
	response.JSON(w, r, http.StatusOK, accessTokenResponse{AccessToken: result.AccessToken})
}

// Logout always answers 204: the response must not reveal whether the
// presented token was live, already rotated, or unknown.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := security.GetCookie(r, security.RefreshCookieName)
	if err := h.auth.Logout(token); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	observability.Audit(r, "auth.logout")
	security.ClearRefreshCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	userID, err := parseSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
		return
	}
	if err := h.auth.InvalidateAllSessions(userID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	observability.Audit(r, "auth.logout_all", "user_id", userID)
	security.ClearRefreshCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error(), map[string]string{"field": ve.Field})
	case errors.Is(err, service.ErrEmailTaken):
		response.Error(w, r, http.StatusConflict, "CONFLICT", "email already registered", nil)
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication failed", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// decodeStrict rejects bodies with unknown fields before anything reaches
// the service layer.
func decodeStrict(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", nil)
		return false
	}
	return true
}

func parseSubject(subject string) (uint, error) {
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware has already rewritten RemoteAddr when the
	// request came through a proxy.
	return r.RemoteAddr
}
