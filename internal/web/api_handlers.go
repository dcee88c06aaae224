package web

import (
	"bytes"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/coursesync/internal/auth"
	"github.com/macjediwizard/coursesync/internal/calsync"
	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

const (
	defaultLogLimit    = 20
	maxLogLimit        = 100
	maxCalendarIDLen   = 256
	feedFilename       = "coursesync.ics"
	feedContentType    = "text/calendar; charset=utf-8"
	reconnectErrorText = "Google Calendar authorization expired. Please reconnect."
)

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// APISyncLog represents a sync log in JSON format for the API.
type APISyncLog struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Details       *string  `json:"details"`
	EventsCreated int      `json:"events_created"`
	EventsUpdated int      `json:"events_updated"`
	EventsDeleted int      `json:"events_deleted"`
	ErrorCount    int      `json:"error_count"`
	Duration      *float64 `json:"duration"`
	CreatedAt     string   `json:"created_at"`
}

// APIAuthStatus represents auth status response.
type APIAuthStatus struct {
	Authenticated bool     `json:"authenticated"`
	User          *APIUser `json:"user,omitempty"`
	CSRFToken     string   `json:"csrf_token,omitempty"`
}

// APIUser represents a user in JSON format.
type APIUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// APISyncSettingsUpdate is the body of PUT /api/sync/settings. Omitted
// fields keep their stored value.
type APISyncSettingsUpdate struct {
	ImportEvents     *bool   `json:"import_events"`
	ExportEvents     *bool   `json:"export_events"`
	ExportDeadlines  *bool   `json:"export_deadlines"`
	ExportExams      *bool   `json:"export_exams"`
	ExportWork       *bool   `json:"export_work"`
	ExportClasses    *bool   `json:"export_classes"`
	ImportCalendarID *string `json:"import_calendar_id"`
	ExportCalendarID *string `json:"export_calendar_id"`
}

// apply copies the set fields onto s.
func (u *APISyncSettingsUpdate) apply(s *db.SyncSettings) {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&s.ImportEvents, u.ImportEvents)
	setBool(&s.ExportEvents, u.ExportEvents)
	setBool(&s.ExportDeadlines, u.ExportDeadlines)
	setBool(&s.ExportExams, u.ExportExams)
	setBool(&s.ExportWork, u.ExportWork)
	setBool(&s.ExportClasses, u.ExportClasses)
	if u.ImportCalendarID != nil {
		s.ImportCalendarID = strings.TrimSpace(*u.ImportCalendarID)
	}
	if u.ExportCalendarID != nil {
		s.ExportCalendarID = strings.TrimSpace(*u.ExportCalendarID)
	}
}

func (u *APISyncSettingsUpdate) validate() error {
	for _, id := range []*string{u.ImportCalendarID, u.ExportCalendarID} {
		if id == nil {
			continue
		}
		v := strings.TrimSpace(*id)
		if v == "" || len(v) > maxCalendarIDLen {
			return errors.New("calendar ID must be between 1 and 256 characters")
		}
	}
	return nil
}

// syncLogToAPI converts a db.SyncLog to APISyncLog.
func syncLogToAPI(l *db.SyncLog) *APISyncLog {
	api := &APISyncLog{
		ID:            l.ID,
		Status:        string(l.Status),
		Message:       l.Message,
		EventsCreated: l.EventsCreated,
		EventsUpdated: l.EventsUpdated,
		EventsDeleted: l.EventsDeleted,
		ErrorCount:    l.ErrorCount,
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
	}
	if l.Details != "" {
		api.Details = &l.Details
	}
	if l.Duration > 0 {
		dur := l.Duration.Seconds()
		api.Duration = &dur
	}
	return api
}

// APIAuthStatus returns the authentication status.
func (h *Handlers) APIAuthStatus(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusOK, APIAuthStatus{Authenticated: false})
		return
	}

	c.JSON(http.StatusOK, APIAuthStatus{
		Authenticated: true,
		User: &APIUser{
			ID:    session.UserID,
			Email: session.Email,
			Name:  session.Name,
		},
		CSRFToken: session.CSRFToken,
	})
}

// APILogout logs out the user.
func (h *Handlers) APILogout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// APISync runs a sync pass for the caller and returns its report. The
// optional JSON body overrides the stored direction toggles for this run.
func (h *Handlers) APISync(c *gin.Context) {
	userID := auth.CallerID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	decision, err := h.access.HasRequiredAccess(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to check access")})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": decision.Message})
		return
	}

	var overrides calsync.Overrides
	if err := c.ShouldBindJSON(&overrides); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	report, err := h.engine.Run(c.Request.Context(), userID, "manual", &overrides)
	if err != nil {
		h.writeSyncError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// writeSyncError maps a failed run to its HTTP response.
func (h *Handlers) writeSyncError(c *gin.Context, userID string, err error) {
	var cooldown *calsync.CooldownError
	switch {
	case errors.Is(err, calsync.ErrNotConnected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Google Calendar is not connected"})
	case errors.As(err, &cooldown):
		seconds := int(math.Ceil(cooldown.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Sync ran too recently. Please wait before trying again.",
			"retry_after": seconds,
		})
	case errors.Is(err, gcal.ErrAuth):
		log.Printf("Sync for user %s needs reconnect: %v", userID, err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":     reconnectErrorText,
			"reconnect": true,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Sync failed")})
	}
}

// APIGetSyncSettings returns the caller's sync settings. Users who never
// connected get the defaults with connected=false.
func (h *Handlers) APIGetSyncSettings(c *gin.Context) {
	userID := auth.CallerID(c)

	settings, err := h.db.GetSyncSettings(userID)
	if errors.Is(err, db.ErrNotFound) {
		settings = db.DefaultSyncSettings(userID)
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load settings")})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// APIUpdateSyncSettings updates the caller's direction toggles and calendars.
func (h *Handlers) APIUpdateSyncSettings(c *gin.Context) {
	userID := auth.CallerID(c)

	var req APISyncSettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.db.GetSyncSettings(userID)
	if errors.Is(err, db.ErrNotFound) {
		settings = db.DefaultSyncSettings(userID)
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load settings")})
		return
	}

	req.apply(settings)
	if err := h.db.UpdateSyncPreferences(settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to save settings")})
		return
	}

	saved, err := h.db.GetSyncSettings(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load settings")})
		return
	}

	c.JSON(http.StatusOK, saved)
}

// APIGetSyncLogs returns the caller's most recent sync logs.
func (h *Handlers) APIGetSyncLogs(c *gin.Context) {
	userID := auth.CallerID(c)

	limit := defaultLogLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxLogLimit)
		}
	}

	logs, err := h.db.GetSyncLogs(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load logs")})
		return
	}

	apiLogs := make([]*APISyncLog, len(logs))
	for i, l := range logs {
		apiLogs[i] = syncLogToAPI(l)
	}

	c.JSON(http.StatusOK, gin.H{"logs": apiLogs})
}

// APISyncActivity returns the caller's running and recent sync runs.
func (h *Handlers) APISyncActivity(c *gin.Context) {
	active, recent := h.engine.Tracker().GetForUser(auth.CallerID(c))
	c.JSON(http.StatusOK, gin.H{
		"active": active,
		"recent": recent,
	})
}

// APIDeleteEntity deletes a local entity. Linked remote events are removed
// by the next sync run.
func (h *Handlers) APIDeleteEntity(c *gin.Context) {
	userID := auth.CallerID(c)

	kind := db.EntityKind(c.Param("kind"))
	if !kind.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid entity kind"})
		return
	}

	err := h.db.DeleteEntity(userID, kind, c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete entity")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

// APICalendarFeed serves the caller's exportable items as an iCalendar file.
func (h *Handlers) APICalendarFeed(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.engine.WriteFeed(&buf, auth.CallerID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to build calendar feed")})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+feedFilename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, feedContentType, buf.Bytes())
}
