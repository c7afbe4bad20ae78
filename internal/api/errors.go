package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pluginhub/pluginhub/internal/plugindata"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

const (
	codeInternal           = "INTERNAL_ERROR"
	codeInvalidRequest     = "INVALID_REQUEST"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeUnauthenticated    = "UNAUTHENTICATED"
	codeUserExists         = "USER_EXISTS"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve ValidationError
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   codeInvalidRequest,
		Message: ve.Message,
		Field:   ve.Field,
	})
}

// statusForKind maps a plugin data error kind to its HTTP status.
func statusForKind(kind plugindata.Kind) int {
	switch kind {
	case plugindata.KindNumberMissing, plugindata.KindQueryInvalid, plugindata.KindDataInvalid:
		return http.StatusBadRequest
	case plugindata.KindUnauthorised:
		return http.StatusForbidden
	case plugindata.KindConnectorMissing, plugindata.KindDataNotFound:
		return http.StatusNotFound
	case plugindata.KindPluginDisabled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writePluginDataError translates a plugindata error into a JSON response.
// Connector failures are logged and answered with a generic 500.
func writePluginDataError(w http.ResponseWriter, logger *slog.Logger, pluginID string, err error) {
	kind := plugindata.KindOf(err)
	status := statusForKind(kind)

	if status == http.StatusInternalServerError {
		logger.Error("plugin data operation failed", "plugin", pluginID, "error", err)
		writeError(w, status, codeInternal, "internal server error")
		return
	}

	logger.Debug("plugin data request rejected", "plugin", pluginID, "code", kind, "error", err)
	writeError(w, status, string(kind), errorMessage(err))
}

// errorMessage returns the human readable part of a plugindata error.
func errorMessage(err error) string {
	var e *plugindata.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
