package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"certhub.org/internal/audit"
	"certhub.org/internal/auth"
	"certhub.org/internal/certs"
)

type tokenRequest struct {
	Username string `json:"username"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken mints a bearer token for a known account. The role inside
// the token is the account's directory role, never caller-supplied.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}

	user, err := a.store.FindUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, certs.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "unknown user")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"role":       user.Role.String(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	})
}
