package handler

import (
	"net/http"

	"github.com/skycast-app/skycast/internal/http/middleware"
	"github.com/skycast-app/skycast/internal/http/response"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler { return &UserHandler{} }

type meResponse struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
}

// Me echoes the identity from the validated access token. Stateless on
// purpose: no store lookup per request.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	id, err := parseSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, meResponse{ID: id, Email: claims.Email})
}
