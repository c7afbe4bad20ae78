package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/config"
	"github.com/pluginhub/pluginhub/internal/database"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	config config.AuthConfig
	users  UserStore
	logger *slog.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(cfg config.AuthConfig, users UserStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		config: cfg,
		users:  users,
		logger: logger,
	}
}

// LoginRequest represents a login request. An empty username means admin.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = auth.AdminUserID
	}

	ok, err := h.checkCredentials(r, username, req.Password)
	if err != nil {
		h.logger.Error("failed to check credentials", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	if !ok {
		h.logger.Warn("failed login attempt", "user", username, "ip", r.RemoteAddr)
		// Same message for unknown users and wrong passwords
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(username, h.config.JWTSecret, h.config.TokenDuration)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	h.logger.Info("successful login", "user", username, "ip", r.RemoteAddr)

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.config.TokenDuration).UTC(),
	})
}

// ValidateToken handles GET /api/auth/validate
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	// The auth middleware has already accepted the token
	userID, _ := auth.GetUserIDFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"user_id": userID,
	})
}

func (h *AuthHandler) checkCredentials(r *http.Request, username, password string) (bool, error) {
	if username == auth.AdminUserID {
		return subtle.ConstantTimeCompare([]byte(password), []byte(h.config.AdminPassword)) == 1, nil
	}

	if h.users == nil {
		return false, nil
	}
	user, err := h.users.GetUser(r.Context(), username)
	if errors.Is(err, database.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return auth.CheckPassword(password, user.PasswordHash), nil
}
