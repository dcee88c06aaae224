package calsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/macjediwizard/coursesync/internal/activity"
	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

// DefaultCooldown is the minimum time between two runs for the same user.
const DefaultCooldown = 30 * time.Second

var (
	ErrNotConnected = errors.New("calendar not connected")
	ErrCooldown     = errors.New("sync ran too recently")
)

// CooldownError is returned when a run starts inside the cooldown window.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrCooldown, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// Calendar is the remote calendar a run talks to. *gcal.Client implements it.
type Calendar interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*gcal.Event, error)
	InsertEvent(ctx context.Context, calendarID string, draft *gcal.Draft) (*gcal.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, draft *gcal.Draft) (*gcal.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// CalendarFactory builds a Calendar for one user's run.
type CalendarFactory func(ctx context.Context, userID string, token *oauth2.Token) (Calendar, error)

// GoogleCalendars returns a CalendarFactory backed by the Google Calendar API,
// sharing one rate limiter per user across runs.
func GoogleCalendars(pool *gcal.LimiterPool) CalendarFactory {
	return func(ctx context.Context, userID string, token *oauth2.Token) (Calendar, error) {
		return gcal.NewClientForToken(ctx, token, pool.Get(userID))
	}
}

// TokenSource yields a valid access token for a user.
type TokenSource interface {
	GetValidToken(ctx context.Context, settings *db.SyncSettings) (*oauth2.Token, error)
}

// Store is the persistence the engine needs. *db.DB implements it.
type Store interface {
	GetSyncSettings(userID string) (*db.SyncSettings, error)
	MarkSynced(userID string, at time.Time) error
	ListDeletionQueue(userID string) ([]*db.DeletionQueueEntry, error)
	RemoveDeletionQueueEntry(id string) error
	ListImportExclusions(userID string) ([]string, error)
	ListCustomEvents(userID string) ([]*db.CustomEvent, error)
	CreateCustomEvent(e *db.CustomEvent) error
	UpdateImportedEvent(userID, id string, start, end *time.Time, allDay bool, location string) error
	ListDeadlines(userID string) ([]*db.Deadline, error)
	ListExams(userID string) ([]*db.Exam, error)
	ListWorkItems(userID string) ([]*db.WorkItem, error)
	ListCourses(userID string) ([]*db.Course, error)
	ListClassExportDates(userID, courseID string) ([]time.Time, error)
	SetRemoteRef(kind db.EntityKind, id, ref string) error
	CreateSyncLog(log *db.SyncLog) error
}

// Alerter is notified about runs that need the user's attention.
type Alerter interface {
	SendReconnectAlert(userID, reason string)
	SendSyncErrorAlert(userID string, errorCount int, summary string)
}

// Overrides replaces stored direction toggles for a single run. Nil fields
// keep the stored value.
type Overrides struct {
	ImportEvents    *bool `json:"importEvents"`
	ExportEvents    *bool `json:"exportEvents"`
	ExportDeadlines *bool `json:"exportDeadlines"`
	ExportExams     *bool `json:"exportExams"`
	ExportWork      *bool `json:"exportWork"`
	ExportClasses   *bool `json:"exportClasses"`
}

// Toggles are the effective direction switches of a run.
type Toggles struct {
	ImportEvents    bool
	ExportEvents    bool
	ExportDeadlines bool
	ExportExams     bool
	ExportWork      bool
	ExportClasses   bool
}

func resolveToggles(s *db.SyncSettings, o *Overrides) Toggles {
	t := Toggles{
		ImportEvents:    s.ImportEvents,
		ExportEvents:    s.ExportEvents,
		ExportDeadlines: s.ExportDeadlines,
		ExportExams:     s.ExportExams,
		ExportWork:      s.ExportWork,
		ExportClasses:   s.ExportClasses,
	}
	if o == nil {
		return t
	}
	pick := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	pick(&t.ImportEvents, o.ImportEvents)
	pick(&t.ExportEvents, o.ExportEvents)
	pick(&t.ExportDeadlines, o.ExportDeadlines)
	pick(&t.ExportExams, o.ExportExams)
	pick(&t.ExportWork, o.ExportWork)
	pick(&t.ExportClasses, o.ExportClasses)
	return t
}

// Options configures an Engine.
type Options struct {
	Cooldown time.Duration
	Location *time.Location // Zone used for the all-day heuristic and class times
	Tracker  *activity.Tracker
	Alerter  Alerter
}

// Engine runs bidirectional sync passes between the local store and a
// user's remote calendar.
type Engine struct {
	store     Store
	tokens    TokenSource
	calendars CalendarFactory
	tracker   *activity.Tracker
	alerter   Alerter
	cooldown  time.Duration
	loc       *time.Location
	now       func() time.Time
}

// NewEngine creates a new sync engine.
func NewEngine(store Store, tokens TokenSource, calendars CalendarFactory, opts Options) *Engine {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Tracker == nil {
		opts.Tracker = activity.NewTracker()
	}
	return &Engine{
		store:     store,
		tokens:    tokens,
		calendars: calendars,
		tracker:   opts.Tracker,
		alerter:   opts.Alerter,
		cooldown:  opts.Cooldown,
		loc:       opts.Location,
		now:       time.Now,
	}
}

// Tracker returns the activity tracker runs report progress to.
func (e *Engine) Tracker() *activity.Tracker {
	return e.tracker
}

// run carries the state of one pass.
type run struct {
	engine   *Engine
	userID   string
	settings *db.SyncSettings
	toggles  Toggles
	cal      Calendar
	report   *Report
	now      time.Time
}

// Run performs one sync pass for userID. It fails fast with ErrNotConnected,
// a *CooldownError or an error wrapping gcal.ErrAuth; once authenticated,
// every phase runs and its failures are recorded in the returned report.
func (e *Engine) Run(ctx context.Context, userID, trigger string, overrides *Overrides) (*Report, error) {
	settings, err := e.store.GetSyncSettings(userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync settings: %w", err)
	}
	if !settings.Connected {
		return nil, ErrNotConnected
	}

	// Best-effort guard: two requests racing here can both pass.
	now := e.now()
	if settings.LastSyncedAt != nil {
		if elapsed := now.Sub(*settings.LastSyncedAt); elapsed < e.cooldown {
			return nil, &CooldownError{RetryAfter: e.cooldown - elapsed}
		}
	}

	e.tracker.StartRun(userID, trigger, len(phaseOrder))

	token, err := e.tokens.GetValidToken(ctx, settings)
	if err != nil {
		if !errors.Is(err, gcal.ErrAuth) {
			err = fmt.Errorf("%w: %w", gcal.ErrAuth, err)
		}
		log.Printf("Sync for user %s aborted: %v", userID, err)
		e.abort(userID, now, "Calendar authorization failed; reconnect required", err)
		if e.alerter != nil {
			e.alerter.SendReconnectAlert(userID, err.Error())
		}
		return nil, err
	}

	cal, err := e.calendars(ctx, userID, token)
	if err != nil {
		err = fmt.Errorf("failed to create calendar client: %w", err)
		e.abort(userID, now, "Failed to create calendar client", err)
		return nil, err
	}

	r := &run{
		engine:   e,
		userID:   userID,
		settings: settings,
		toggles:  resolveToggles(settings, overrides),
		cal:      cal,
		report:   newReport(now),
		now:      now,
	}
	r.execute(ctx)

	e.finish(r)
	return r.report, nil
}

func (r *run) execute(ctx context.Context) {
	steps := []struct {
		phase   Phase
		enabled bool
		fn      func(context.Context, *PhaseResult) error
	}{
		{PhaseDeletions, true, r.processDeletions},
		{PhaseImportedEvents, r.toggles.ImportEvents, r.importEvents},
		{PhaseExportedEvents, r.toggles.ExportEvents, r.exportFunc(customEventStrategy)},
		{PhaseExportedDeadlines, r.toggles.ExportDeadlines, r.exportFunc(deadlineStrategy)},
		{PhaseExportedExams, r.toggles.ExportExams, r.exportFunc(examStrategy)},
		{PhaseExportedWork, r.toggles.ExportWork, r.exportFunc(workStrategy)},
		{PhaseExportedClasses, r.toggles.ExportClasses, r.exportClasses},
	}

	for i, step := range steps {
		res := r.report.Phase(step.phase)
		if !step.enabled {
			res.Skipped = true
			continue
		}

		r.engine.tracker.SetPhase(r.userID, string(step.phase), i)
		if err := step.fn(ctx, res); err != nil {
			log.Printf("Sync phase %s failed for user %s: %v", step.phase, r.userID, err)
			res.addError("%v", err)
		}
		r.engine.tracker.IncrementProgress(r.userID, res.Created, res.Updated, res.Deleted, 0)
	}
}

// finish persists the completion time, writes the sync log and releases the
// tracker entry.
func (e *Engine) finish(r *run) {
	completed := e.now()
	r.report.DurationMs = completed.Sub(r.report.StartedAt).Milliseconds()

	if err := e.store.MarkSynced(r.userID, completed); err != nil {
		log.Printf("Failed to record sync time for user %s: %v", r.userID, err)
	}

	errs := r.report.Errors()
	status := db.SyncStatusSuccess
	if len(errs) > 0 {
		status = db.SyncStatusPartial
	}
	created, updated, deleted := r.report.Totals()
	syncLog := &db.SyncLog{
		UserID:        r.userID,
		Status:        status,
		Message:       r.report.Summary(),
		Details:       strings.Join(errs, "\n"),
		EventsCreated: created,
		EventsUpdated: updated,
		EventsDeleted: deleted,
		ErrorCount:    len(errs),
		Duration:      completed.Sub(r.report.StartedAt),
	}
	if err := e.store.CreateSyncLog(syncLog); err != nil {
		log.Printf("Failed to create sync log: %v", err)
	}

	e.tracker.FinishRun(r.userID, true, r.report.Summary(), errs)
	log.Printf("Sync for user %s finished: %s", r.userID, r.report.Summary())

	if len(errs) > 0 && e.alerter != nil {
		e.alerter.SendSyncErrorAlert(r.userID, len(errs), strings.Join(errs, "\n"))
	}
}

func (e *Engine) abort(userID string, startedAt time.Time, message string, cause error) {
	syncLog := &db.SyncLog{
		UserID:     userID,
		Status:     db.SyncStatusError,
		Message:    message,
		Details:    cause.Error(),
		ErrorCount: 1,
		Duration:   e.now().Sub(startedAt),
	}
	if err := e.store.CreateSyncLog(syncLog); err != nil {
		log.Printf("Failed to create sync log: %v", err)
	}
	e.tracker.FinishRun(userID, false, message, []string{cause.Error()})
}
