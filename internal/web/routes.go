package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/coursesync/internal/auth"
)

// NewRouter creates a gin engine with the global middleware and all routes.
func NewRouter(h *Handlers, sm *auth.SessionManager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(SecurityHeaders())

	SetupRoutes(r, h, sm)
	return r
}

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager) {
	// Health endpoints (no auth, no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// Auth endpoints with rate limiting to prevent brute force attacks
	authRateLimiter := RateLimiter(5, 10)
	authGroup := r.Group("/auth")
	authGroup.Use(authRateLimiter)
	{
		authGroup.GET("/login", h.Login)
		authGroup.GET("/callback", h.Callback)
		authGroup.POST("/logout", h.Logout)
	}

	apiRateLimiter := RateLimiter(h.cfg.RateLimiting.RPS, h.cfg.RateLimiting.Burst)
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(auth.OptionalAuth(sm))
	{
		apiGroup.GET("/auth/status", h.APIAuthStatus)
		apiGroup.POST("/auth/logout", h.APILogout)
	}

	// Protected API routes: session, origin check, CSRF token and JSON bodies
	protectedAPI := r.Group("/api")
	protectedAPI.Use(apiRateLimiter)
	protectedAPI.Use(auth.RequireAPIAuth(sm))
	protectedAPI.Use(ValidateOrigin(h.cfg.Server.AllowedOrigins))
	protectedAPI.Use(auth.ValidateCSRF(sm))
	protectedAPI.Use(RequireJSONContentType())
	{
		protectedAPI.GET("/sync/settings", h.APIGetSyncSettings)
		protectedAPI.PUT("/sync/settings", h.APIUpdateSyncSettings)
		protectedAPI.GET("/sync/logs", h.APIGetSyncLogs)
		protectedAPI.GET("/sync/activity", h.APISyncActivity)
		protectedAPI.DELETE("/entities/:kind/:id", h.APIDeleteEntity)
		protectedAPI.GET("/calendar.ics", h.APICalendarFeed)
	}

	// Sync runs call the remote calendar; stricter limit
	expensiveRateLimiter := RateLimiter(2, 5)
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(expensiveRateLimiter)
	expensiveAPI.Use(auth.RequireAPIAuth(sm))
	expensiveAPI.Use(ValidateOrigin(h.cfg.Server.AllowedOrigins))
	expensiveAPI.Use(auth.ValidateCSRF(sm))
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/sync", h.APISync)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
