package api

import (
	"log/slog"
	"net/http"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/config"
	"github.com/pluginhub/pluginhub/internal/plugindata"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, service *plugindata.Service, pluginStore PluginAdminStore, users UserStore, activity ActivityStore, authConfig config.AuthConfig, logger *slog.Logger) {
	dataHandler := NewPluginDataHandler(service, logger)
	adminHandler := NewAdminHandler(pluginStore, users, activity, logger)
	authHandler := NewAuthHandler(authConfig, users, logger)

	authMiddleware := auth.AuthMiddleware(authConfig.JWTSecret)
	authenticated := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(auth.RequireAdmin(h))
	}

	// Authentication routes
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /api/auth/validate", authenticated(authHandler.ValidateToken))

	// Plugin data routes
	mux.Handle("GET /api/plugins/{plugin}/data", authenticated(dataHandler.GetData))
	mux.Handle("POST /api/plugins/{plugin}/data", authenticated(dataHandler.AddData))
	mux.Handle("PUT /api/plugins/{plugin}/data", authenticated(dataHandler.ReplaceData))
	mux.Handle("DELETE /api/plugins/{plugin}/data", authenticated(dataHandler.DeleteData))

	// Admin routes
	mux.Handle("GET /api/plugins", adminOnly(adminHandler.ListPlugins))
	mux.Handle("PUT /api/plugins/{plugin}", adminOnly(adminHandler.UpdatePlugin))
	mux.Handle("PUT /api/plugins/{plugin}/access/{user}", adminOnly(adminHandler.SetAccess))
	mux.Handle("POST /api/users", adminOnly(adminHandler.CreateUser))
	mux.Handle("GET /api/activity", adminOnly(adminHandler.ListActivity))
}

// CORS sets the cross-origin headers on every response and answers preflight
// requests itself.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
