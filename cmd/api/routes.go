package main

import (
	"log"
	"net/http"

	"tradstry/internal/shared/config"
	"tradstry/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", deps.HealthHandler.HandleHealth)

	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	// Connections
	protect("/api/connections", deps.ConnectionHandler.HandleConnections)
	protect("/api/connections/{id}", deps.ConnectionHandler.HandleConnectionByID)
	protect("/api/connections/{id}/status", deps.ConnectionHandler.HandleStatus)
	protect("/api/connections/{id}/sync", deps.ConnectionHandler.HandleSync)
	protect("/api/connections/{id}/accounts", deps.ConnectionHandler.HandleAccounts)

	// Manual resolution
	protect("/api/unmatched/", deps.UnmatchedHandler.HandleList)
	protect("/api/unmatched/{id}/suggestions", deps.UnmatchedHandler.HandleSuggestions)
	protect("/api/unmatched/{id}/resolve", deps.UnmatchedHandler.HandleResolve)
	protect("/api/unmatched/{id}/ignore", deps.UnmatchedHandler.HandleIgnore)

	// Notifications
	protect("/api/notifications/register-device/", deps.NotificationHandler.HandleDevice)

	// Apply global middleware
	// Tracing reads the matched pattern off the request, so it wraps the mux directly.
	handler := middleware.Telemetry(middleware.Tracing(mux))
	handler = middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(handler))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}
