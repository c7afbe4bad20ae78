package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/database"
	"github.com/pluginhub/pluginhub/internal/models"
	"github.com/pluginhub/pluginhub/internal/plugindata"
	"github.com/pluginhub/pluginhub/internal/plugins"
)

// PluginAdminStore is the part of the plugin store the admin API edits.
type PluginAdminStore interface {
	plugins.PluginStore
	plugins.AccessStore
}

// UserStore creates and looks up login accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// ActivityStore records and lists activity log entries.
type ActivityStore interface {
	plugindata.ActivityLogger
	List(ctx context.Context, limit int, pluginID string) ([]models.ActivityLog, error)
}

// AdminHandler manages plugin configuration, access grants and users.
type AdminHandler struct {
	plugins  PluginAdminStore
	users    UserStore
	activity ActivityStore
	logger   *slog.Logger
}

// NewAdminHandler creates admin handlers
func NewAdminHandler(pluginStore PluginAdminStore, users UserStore, activity ActivityStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		plugins:  pluginStore,
		users:    users,
		activity: activity,
		logger:   logger,
	}
}

// PluginUpdateRequest is the body of PUT /api/plugins/{plugin}.
type PluginUpdateRequest struct {
	State         models.PluginState `json:"state"`
	DefaultAccess models.AccessLevel `json:"default_access"`
}

// AccessUpdateRequest is the body of PUT /api/plugins/{plugin}/access/{user}.
type AccessUpdateRequest struct {
	Level models.AccessLevel `json:"level"`
}

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ListPlugins handles GET /api/plugins
func (h *AdminHandler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	list, err := h.plugins.ListPlugins(r.Context())
	if err != nil {
		h.logger.Error("failed to list plugins", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list plugins")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plugins": list,
		"count":   len(list),
	})
}

// UpdatePlugin handles PUT /api/plugins/{plugin}
func (h *AdminHandler) UpdatePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	if err := ValidatePluginID(pluginID); err != nil {
		writeValidationError(w, err)
		return
	}

	var req PluginUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if err := ValidatePluginUpdate(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	plugin, err := h.plugins.UpsertPlugin(r.Context(), models.Plugin{
		ID:            pluginID,
		State:         req.State,
		DefaultAccess: req.DefaultAccess,
	})
	if err != nil {
		h.logger.Error("failed to update plugin", "plugin", pluginID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to update plugin")
		return
	}

	h.logger.Info("plugin updated", "plugin", pluginID, "state", plugin.State, "default_access", plugin.DefaultAccess)
	h.recordActivity(r, models.ActivityLog{
		ActivityType: models.ActivityTypePluginUpdate,
		PluginID:     pluginID,
		Message:      fmt.Sprintf("Plugin %s set to %s", pluginID, plugin.State),
		Details: map[string]interface{}{
			"state":          plugin.State,
			"default_access": plugin.DefaultAccess,
		},
	})

	writeJSON(w, http.StatusOK, plugin)
}

// SetAccess handles PUT /api/plugins/{plugin}/access/{user}
func (h *AdminHandler) SetAccess(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	username := r.PathValue("user")
	if err := ValidateGrantee(username); err != nil {
		writeValidationError(w, err)
		return
	}

	var req AccessUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if err := ValidateAccessLevel(req.Level); err != nil {
		writeValidationError(w, err)
		return
	}

	grant := models.AccessGrant{PluginID: pluginID, Username: username, Level: req.Level}
	if err := h.plugins.UpsertGrant(r.Context(), grant); err != nil {
		if errors.Is(err, plugins.ErrPluginNotFound) {
			writeError(w, http.StatusNotFound, string(plugindata.KindConnectorMissing), fmt.Sprintf("no plugin %q", pluginID))
			return
		}
		h.logger.Error("failed to update access grant", "plugin", pluginID, "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to update access")
		return
	}

	h.logger.Info("access updated", "plugin", pluginID, "user", username, "level", req.Level)
	h.recordActivity(r, models.ActivityLog{
		ActivityType: models.ActivityTypeAccessUpdate,
		PluginID:     pluginID,
		Message:      fmt.Sprintf("Granted %s %s access to %s", username, req.Level, pluginID),
		Details:      map[string]interface{}{"grantee": username, "level": req.Level},
	})

	writeJSON(w, http.StatusOK, grant)
}

// CreateUser handles POST /api/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if err := ValidateNewUser(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to create user")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		if errors.Is(err, database.ErrUserExists) {
			writeError(w, http.StatusConflict, codeUserExists, fmt.Sprintf("user %q already exists", req.Username))
			return
		}
		h.logger.Error("failed to create user", "user", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to create user")
		return
	}

	h.logger.Info("user created", "user", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// ListActivity handles GET /api/activity
func (h *AdminHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	pluginID := r.URL.Query().Get("plugin")

	logs, err := h.activity.List(r.Context(), limit, pluginID)
	if err != nil {
		h.logger.Error("failed to list activity logs", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to retrieve activity logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity": logs,
		"count":    len(logs),
	})
}

func (h *AdminHandler) recordActivity(r *http.Request, entry models.ActivityLog) {
	entry.Username, _ = auth.GetUserIDFromContext(r.Context())
	if err := h.activity.Log(r.Context(), entry); err != nil {
		h.logger.Warn("failed to record activity", "activity_type", entry.ActivityType, "error", err)
	}
}
