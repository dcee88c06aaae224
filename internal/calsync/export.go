package calsync

import (
	"context"
	"fmt"
	"time"

	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

// exportItem is the kind-independent view of a local entity being exported.
type exportItem struct {
	ID         string
	Title      string
	CourseCode string
	Notes      string
	Location   string
	Start      *time.Time
	End        *time.Time
	AllDay     bool
	RemoteRef  string
}

// exportStrategy parameterizes the shared export reconciler for one entity
// kind: which entities qualify, how their remote event looks, and which link
// column SetRemoteRef writes.
type exportStrategy struct {
	kind    db.EntityKind
	glyph   string
	colorID string
	// createOnly entities are exported once and never updated.
	createOnly  bool
	selectItems func(store Store, userID string) ([]exportItem, error)
}

var customEventStrategy = exportStrategy{
	kind:       db.KindCustomEvent,
	glyph:      "📌",
	colorID:    "7",
	createOnly: true,
	selectItems: func(store Store, userID string) ([]exportItem, error) {
		events, err := store.ListCustomEvents(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom events: %w", err)
		}
		var items []exportItem
		for _, e := range events {
			if e.Start == nil || e.Cancelled {
				continue
			}
			items = append(items, exportItem{
				ID:         e.ID,
				Title:      e.Title,
				CourseCode: e.CourseCode,
				Notes:      e.Description,
				Location:   e.Location,
				Start:      e.Start,
				End:        e.End,
				AllDay:     e.AllDay,
				RemoteRef:  e.RemoteRef,
			})
		}
		return items, nil
	},
}

var deadlineStrategy = exportStrategy{
	kind:    db.KindDeadline,
	glyph:   "📝",
	colorID: "11",
	selectItems: func(store Store, userID string) ([]exportItem, error) {
		deadlines, err := store.ListDeadlines(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load deadlines: %w", err)
		}
		var items []exportItem
		for _, d := range deadlines {
			if d.DueAt == nil || d.Completed || d.Source == db.SourceLMS {
				continue
			}
			items = append(items, exportItem{
				ID:         d.ID,
				Title:      d.Title,
				CourseCode: d.CourseCode,
				Notes:      d.Notes,
				Start:      d.DueAt,
				RemoteRef:  d.RemoteRef,
			})
		}
		return items, nil
	},
}

var examStrategy = exportStrategy{
	kind:    db.KindExam,
	glyph:   "🎓",
	colorID: "3",
	selectItems: func(store Store, userID string) ([]exportItem, error) {
		exams, err := store.ListExams(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load exams: %w", err)
		}
		var items []exportItem
		for _, x := range exams {
			if x.StartsAt == nil || x.Cancelled || x.Source == db.SourceLMS {
				continue
			}
			items = append(items, exportItem{
				ID:         x.ID,
				Title:      x.Title,
				CourseCode: x.CourseCode,
				Notes:      x.Notes,
				Location:   x.Location,
				Start:      x.StartsAt,
				End:        x.EndsAt,
				RemoteRef:  x.RemoteRef,
			})
		}
		return items, nil
	},
}

var workStrategy = exportStrategy{
	kind:    db.KindWorkItem,
	glyph:   "💼",
	colorID: "5",
	selectItems: func(store Store, userID string) ([]exportItem, error) {
		work, err := store.ListWorkItems(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load work items: %w", err)
		}
		var items []exportItem
		for _, w := range work {
			if w.DueAt == nil || w.Completed || w.Source == db.SourceLMS {
				continue
			}
			items = append(items, exportItem{
				ID:         w.ID,
				Title:      w.Title,
				CourseCode: w.CourseCode,
				Notes:      w.Notes,
				Start:      w.DueAt,
				RemoteRef:  w.RemoteRef,
			})
		}
		return items, nil
	},
}

var classStrategy = exportStrategy{
	kind:       db.KindClass,
	glyph:      "🏫",
	colorID:    "2",
	createOnly: true,
}

func (r *run) exportFunc(s exportStrategy) func(context.Context, *PhaseResult) error {
	return func(ctx context.Context, res *PhaseResult) error {
		return r.exportPhase(ctx, s, res)
	}
}

// exportPhase pushes the strategy's eligible entities to the export
// calendar. Linked entities are updated, unlinked ones inserted and linked.
// A 404 on update means the user deleted the event remotely: the link is
// cleared and the entity is not recreated until the next run.
func (r *run) exportPhase(ctx context.Context, s exportStrategy, res *PhaseResult) error {
	store := r.engine.store
	calendarID := r.settings.ExportCalendarID

	items, err := s.selectItems(store, r.userID)
	if err != nil {
		return err
	}
	r.report.Debug[fmt.Sprintf("export.%s.candidates", s.kind)] = len(items)

	for _, item := range items {
		if item.RemoteRef != "" {
			if s.createOnly {
				r.report.Debug[fmt.Sprintf("export.%s.alreadyLinked", s.kind)]++
				continue
			}

			_, err := r.cal.UpdateEvent(ctx, calendarID, item.RemoteRef, buildDraft(s, item, r.engine.loc))
			switch gcal.Classify(err) {
			case gcal.OutcomeOK:
				res.Updated++
			case gcal.OutcomeNotFound:
				if err := store.SetRemoteRef(s.kind, item.ID, ""); err != nil {
					res.addError("%s: failed to clear link: %v", item.Title, err)
					continue
				}
				r.report.Debug[fmt.Sprintf("export.%s.unlinked", s.kind)]++
			default:
				res.addError("%s: %v", item.Title, err)
			}
			continue
		}

		created, err := r.cal.InsertEvent(ctx, calendarID, buildDraft(s, item, r.engine.loc))
		if err != nil {
			res.addError("%s: %v", item.Title, err)
			continue
		}
		if err := store.SetRemoteRef(s.kind, item.ID, created.ID); err != nil {
			res.addError("%s: failed to save link: %v", item.Title, err)
			continue
		}
		res.Created++
	}

	return nil
}

// buildDraft renders an entity as a remote event carrying its origin marker.
func buildDraft(s exportStrategy, item exportItem, loc *time.Location) *gcal.Draft {
	summary := s.glyph + " "
	if item.CourseCode != "" {
		summary += "[" + item.CourseCode + "] "
	}
	summary += item.Title

	start, end := eventTimes(*item.Start, item.End, item.AllDay, loc)
	return &gcal.Draft{
		Summary:     summary,
		Description: item.Notes,
		Location:    item.Location,
		ColorID:     s.colorID,
		Start:       start,
		End:         end,
		Origin:      gcal.Origin{ID: item.ID, Kind: string(s.kind)},
	}
}

// defaultDuration applies to timed events with no usable end.
const defaultDuration = time.Hour

// isAllDayTime reports whether t, read in loc, is exactly midnight or 23:00
// or later. Work due "end of day" is stored at 23:59 and reads better as an
// all-day event than as a one minute slot.
func isAllDayTime(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	if local.Hour() >= 23 {
		return true
	}
	return local.Hour() == 0 && local.Minute() == 0 && local.Second() == 0 && local.Nanosecond() == 0
}

// eventTimes converts a start and optional end into remote start/end values.
// All-day events get an exclusive end on the following day.
func eventTimes(start time.Time, end *time.Time, forceAllDay bool, loc *time.Location) (gcal.EventTime, gcal.EventTime) {
	if forceAllDay || isAllDayTime(start, loc) {
		local := start.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return gcal.EventTime{Date: day.Format("2006-01-02")},
			gcal.EventTime{Date: day.AddDate(0, 0, 1).Format("2006-01-02")}
	}

	finish := start.Add(defaultDuration)
	if end != nil && end.After(start) {
		finish = *end
	}
	return gcal.EventTime{DateTime: start.In(loc).Format(time.RFC3339)},
		gcal.EventTime{DateTime: finish.In(loc).Format(time.RFC3339)}
}
