package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/models"
	"github.com/pluginhub/pluginhub/internal/plugindata"
)

const maxDataBodyBytes = 1 << 20

var errMissingReplaceRecord = errors.New("both old and new are required")

// PluginDataHandler serves the data API of every plugin.
type PluginDataHandler struct {
	service *plugindata.Service
	logger  *slog.Logger
}

// NewPluginDataHandler creates plugin data handlers
func NewPluginDataHandler(service *plugindata.Service, logger *slog.Logger) *PluginDataHandler {
	return &PluginDataHandler{
		service: service,
		logger:  logger,
	}
}

// ReplaceDataRequest is the body of PUT /api/plugins/{plugin}/data.
type ReplaceDataRequest struct {
	Old *models.Data `json:"old"`
	New *models.Data `json:"new"`
}

// GetData handles GET /api/plugins/{plugin}/data
func (h *PluginDataHandler) GetData(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	opts, err := optionsFromQuery(r)
	if err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	data, err := h.service.Get(r.Context(), user, pluginID, opts)
	if err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// AddData handles POST /api/plugins/{plugin}/data
func (h *PluginDataHandler) AddData(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var data models.Data
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDataBodyBytes)).Decode(&data); err != nil {
		writePluginDataError(w, h.logger, pluginID, h.service.InvalidInput(pluginID, plugindata.OpAdd, err))
		return
	}

	if err := h.service.Add(r.Context(), user, pluginID, data); err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	h.logger.Info("plugin data added", "plugin", pluginID, "user", user, "type", data.Type)
	w.WriteHeader(http.StatusOK)
}

// ReplaceData handles PUT /api/plugins/{plugin}/data
func (h *PluginDataHandler) ReplaceData(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req ReplaceDataRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDataBodyBytes)).Decode(&req); err != nil {
		writePluginDataError(w, h.logger, pluginID, h.service.InvalidInput(pluginID, plugindata.OpReplace, err))
		return
	}
	if req.Old == nil || req.New == nil {
		writePluginDataError(w, h.logger, pluginID, h.service.InvalidInput(pluginID, plugindata.OpReplace, errMissingReplaceRecord))
		return
	}

	if err := h.service.Replace(r.Context(), user, pluginID, *req.Old, *req.New); err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	h.logger.Info("plugin data replaced", "plugin", pluginID, "user", user)
	w.WriteHeader(http.StatusOK)
}

// DeleteData handles DELETE /api/plugins/{plugin}/data
func (h *PluginDataHandler) DeleteData(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("plugin")
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	opts, err := optionsFromQuery(r)
	if err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	deleted, err := h.service.Delete(r.Context(), user, pluginID, opts)
	if err != nil {
		writePluginDataError(w, h.logger, pluginID, err)
		return
	}

	h.logger.Info("plugin data deleted", "plugin", pluginID, "user", user, "deleted", deleted)
	w.WriteHeader(http.StatusOK)
}

func optionsFromQuery(r *http.Request) (models.DataOptions, error) {
	q := r.URL.Query()
	return plugindata.ParseOptions(q.Get("number"), q.Get("startTimestamp"), q.Get("type"))
}

// requestUser returns the authenticated user id, answering 401 when the
// request did not pass through the auth middleware.
func requestUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.GetUserIDFromContext(r.Context())
	if !ok || user == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return "", false
	}
	return user, true
}
