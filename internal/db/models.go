package db

import (
	"time"
)

// SyncStatus represents the status of a sync operation.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial" // Run finished but some phases recorded errors
	SyncStatusError   SyncStatus = "error"   // Run aborted before any phase ran
)

// Plan is a user's subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// EntitySource records where a local entity came from.
type EntitySource string

const (
	SourceManual EntitySource = "manual"
	SourceImport EntitySource = "import" // Pulled from the remote calendar
	SourceClass  EntitySource = "class"  // Materialized class meeting occurrence
	SourceLMS    EntitySource = "lms"    // One-way LMS import; never exported
)

// EntityKind identifies a syncable local entity type. The value is also
// written into the origin marker of exported remote events.
type EntityKind string

const (
	KindCustomEvent EntityKind = "event"
	KindDeadline    EntityKind = "deadline"
	KindExam        EntityKind = "exam"
	KindWorkItem    EntityKind = "work"
	KindClass       EntityKind = "class"
)

// ValidEntityKinds contains all valid entity kind values.
var ValidEntityKinds = map[EntityKind]bool{
	KindCustomEvent: true,
	KindDeadline:    true,
	KindExam:        true,
	KindWorkItem:    true,
	KindClass:       true,
}

// IsValid returns true if the entity kind is a known valid value.
func (k EntityKind) IsValid() bool {
	return ValidEntityKinds[k]
}

// table returns the table backing the kind. Class occurrences are stored
// as custom events with source 'class'.
func (k EntityKind) table() (string, error) {
	switch k {
	case KindCustomEvent, KindClass:
		return "custom_events", nil
	case KindDeadline:
		return "deadlines", nil
	case KindExam:
		return "exams", nil
	case KindWorkItem:
		return "work_items", nil
	}
	return "", ErrInvalidKind
}

// User represents a user in the system.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncSettings holds a user's calendar connection and sync preferences.
type SyncSettings struct {
	UserID           string     `json:"user_id"`
	Connected        bool       `json:"connected"`
	AccessToken      string     `json:"-"` // Encrypted
	RefreshToken     string     `json:"-"` // Encrypted
	TokenExpiry      *time.Time `json:"token_expiry"`
	ImportEvents     bool       `json:"import_events"`
	ExportEvents     bool       `json:"export_events"`
	ExportDeadlines  bool       `json:"export_deadlines"`
	ExportExams      bool       `json:"export_exams"`
	ExportWork       bool       `json:"export_work"`
	ExportClasses    bool       `json:"export_classes"`
	ImportCalendarID string     `json:"import_calendar_id"`
	ExportCalendarID string     `json:"export_calendar_id"`
	LastSyncedAt     *time.Time `json:"last_synced_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DefaultSyncSettings returns the settings a freshly connected user starts with.
func DefaultSyncSettings(userID string) *SyncSettings {
	return &SyncSettings{
		UserID:           userID,
		ImportEvents:     true,
		ExportEvents:     true,
		ExportDeadlines:  true,
		ExportExams:      true,
		ExportWork:       true,
		ExportClasses:    true,
		ImportCalendarID: "primary",
		ExportCalendarID: "primary",
	}
}

// Course is a class the user is enrolled in. MeetingDays holds RFC 5545
// weekday codes ("MO,WE"); MeetingStart and MeetingEnd are "HH:MM".
type Course struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Location     string     `json:"location"`
	MeetingDays  string     `json:"meeting_days"`
	MeetingStart string     `json:"meeting_start"`
	MeetingEnd   string     `json:"meeting_end"`
	TermStart    *time.Time `json:"term_start"`
	TermEnd      *time.Time `json:"term_end"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CustomEvent is a free-form calendar entry. Imported remote events and
// exported class occurrences are stored here too.
type CustomEvent struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	CourseID    string       `json:"course_id"`
	CourseCode  string       `json:"course_code"` // Populated via join
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Start       *time.Time   `json:"start"`
	End         *time.Time   `json:"end"`
	AllDay      bool         `json:"all_day"`
	Source      EntitySource `json:"source"`
	Cancelled   bool         `json:"cancelled"`
	RemoteRef   string       `json:"remote_ref"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Deadline is an assignment due date.
type Deadline struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	CourseID   string       `json:"course_id"`
	CourseCode string       `json:"course_code"`
	Title      string       `json:"title"`
	Notes      string       `json:"notes"`
	DueAt      *time.Time   `json:"due_at"`
	Completed  bool         `json:"completed"`
	Source     EntitySource `json:"source"`
	RemoteRef  string       `json:"remote_ref"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Exam is a scheduled exam sitting.
type Exam struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	CourseID   string       `json:"course_id"`
	CourseCode string       `json:"course_code"`
	Title      string       `json:"title"`
	Notes      string       `json:"notes"`
	Location   string       `json:"location"`
	StartsAt   *time.Time   `json:"starts_at"`
	EndsAt     *time.Time   `json:"ends_at"`
	Cancelled  bool         `json:"cancelled"`
	Source     EntitySource `json:"source"`
	RemoteRef  string       `json:"remote_ref"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// WorkItem is a generic task with a due date (readings, projects, shifts).
type WorkItem struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	CourseID   string       `json:"course_id"`
	CourseCode string       `json:"course_code"`
	Title      string       `json:"title"`
	Notes      string       `json:"notes"`
	DueAt      *time.Time   `json:"due_at"`
	Completed  bool         `json:"completed"`
	Source     EntitySource `json:"source"`
	RemoteRef  string       `json:"remote_ref"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// DeletionQueueEntry is a remote event waiting to be deleted.
type DeletionQueueEntry struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RemoteID   string     `json:"remote_id"`
	CalendarID string     `json:"calendar_id"`
	Kind       EntityKind `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SyncLog represents a log entry for a sync run.
type SyncLog struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Status        SyncStatus    `json:"status"`
	Message       string        `json:"message"`
	Details       string        `json:"details"`
	EventsCreated int           `json:"events_created"`
	EventsUpdated int           `json:"events_updated"`
	EventsDeleted int           `json:"events_deleted"`
	ErrorCount    int           `json:"error_count"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}
