package web

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/coursesync/internal/access"
	"github.com/macjediwizard/coursesync/internal/activity"
	"github.com/macjediwizard/coursesync/internal/auth"
	"github.com/macjediwizard/coursesync/internal/calsync"
	"github.com/macjediwizard/coursesync/internal/config"
	"github.com/macjediwizard/coursesync/internal/db"
)

// SyncRunner runs sync passes and renders the calendar feed.
// *calsync.Engine implements it.
type SyncRunner interface {
	Run(ctx context.Context, userID, trigger string, overrides *calsync.Overrides) (*calsync.Report, error)
	WriteFeed(w io.Writer, userID string) error
	Tracker() *activity.Tracker
}

// AccessChecker decides whether a user may sync. *access.Checker implements it.
type AccessChecker interface {
	HasRequiredAccess(userID string) (access.Decision, error)
}

// Authenticator signs users in. *auth.OIDCProvider implements it.
type Authenticator interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (*auth.OIDCClaims, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg     *config.Config
	db      *db.DB
	oidc    Authenticator
	session *auth.SessionManager
	engine  SyncRunner
	access  AccessChecker
	started time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	oidc Authenticator,
	session *auth.SessionManager,
	engine SyncRunner,
	checker AccessChecker,
) *Handlers {
	return &Handlers{
		cfg:     cfg,
		db:      database,
		oidc:    oidc,
		session: session,
		engine:  engine,
		access:  checker,
		started: time.Now(),
	}
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	database := "ok"
	if err := h.db.Ping(); err != nil {
		log.Printf("Health check: database ping failed: %v", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
		database = "unreachable"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": database,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"active":   len(h.engine.Tracker().GetActive()),
	})
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness reports whether the database is reachable.
func (h *Handlers) Readiness(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Login initiates OIDC authentication.
func (h *Handlers) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to generate state")})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to save state")})
		return
	}

	c.Redirect(http.StatusFound, h.oidc.AuthCodeURL(state))
}

// Callback handles the OIDC callback.
func (h *Handlers) Callback(c *gin.Context) {
	state := c.Query("state")
	savedState, err := h.session.GetOAuthState(c.Writer, c.Request)
	if err != nil || state == "" || state != savedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state parameter"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		log.Printf("OIDC provider returned error: %s", errParam)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed"})
		return
	}

	claims, err := h.oidc.Authenticate(c.Request.Context(), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": sanitizeError(err, "Authentication failed")})
		return
	}

	user, err := h.db.GetOrCreateUser(claims.Email, claims.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create user")})
		return
	}

	sessionData := &auth.SessionData{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}
	if err := h.session.Set(c.Writer, c.Request, sessionData); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create session")})
		return
	}

	// Only relative redirects are honoured
	redirectURL := "/"
	if cookie, err := c.Cookie("redirect_after_login"); err == nil && cookie != "" {
		if IsSafeRedirectURL(cookie) {
			redirectURL = cookie
		}
		c.SetCookie("redirect_after_login", "", -1, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// Logout clears the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to logout")})
		return
	}
	c.Redirect(http.StatusFound, "/auth/login")
}
