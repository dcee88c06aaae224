package calsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

// Import window relative to the start of the run.
const (
	importLookbackMonths  = 1
	importLookaheadMonths = 6
)

// processDeletions drains the deletion queue. Each entry is attempted once
// and removed whatever the outcome; a leftover remote event is preferred
// over retrying forever.
func (r *run) processDeletions(ctx context.Context, res *PhaseResult) error {
	store := r.engine.store
	entries, err := store.ListDeletionQueue(r.userID)
	if err != nil {
		return fmt.Errorf("failed to load deletion queue: %w", err)
	}

	for _, entry := range entries {
		calendarID := entry.CalendarID
		if calendarID == "" {
			calendarID = r.settings.ExportCalendarID
		}

		err := r.cal.DeleteEvent(ctx, calendarID, entry.RemoteID)
		switch gcal.Classify(err) {
		case gcal.OutcomeOK:
			res.Deleted++
		case gcal.OutcomeNotFound:
			res.Deleted++
			r.report.Debug["deletions.alreadyGone"]++
		default:
			log.Printf("Failed to delete remote event %s for user %s: %v", entry.RemoteID, r.userID, err)
			res.addError("delete %s (%s): %v", entry.RemoteID, entry.Kind, err)
		}

		if err := store.RemoveDeletionQueueEntry(entry.ID); err != nil {
			res.addError("remove queue entry %s: %v", entry.ID, err)
		}
	}

	return nil
}

// importEvents pulls remote events into local custom events. Events this
// service exported carry an origin marker and are never imported.
func (r *run) importEvents(ctx context.Context, res *PhaseResult) error {
	store := r.engine.store
	loc := r.engine.loc
	debug := r.report.Debug

	from := r.now.AddDate(0, -importLookbackMonths, 0)
	to := r.now.AddDate(0, importLookaheadMonths, 0)
	events, err := r.cal.ListEvents(ctx, r.settings.ImportCalendarID, from, to)
	if err != nil {
		return fmt.Errorf("failed to list remote events: %w", err)
	}

	excludedIDs, err := store.ListImportExclusions(r.userID)
	if err != nil {
		return fmt.Errorf("failed to load import exclusions: %w", err)
	}
	excluded := make(map[string]bool, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = true
	}

	locals, err := store.ListCustomEvents(r.userID)
	if err != nil {
		return fmt.Errorf("failed to load custom events: %w", err)
	}
	linked := make(map[string]string, len(locals))
	for _, e := range locals {
		if e.RemoteRef != "" {
			linked[e.RemoteRef] = e.ID
		}
	}

	debug["import.scanned"] = len(events)
	for _, ev := range events {
		switch {
		case ev.ID == "":
			debug["import.skippedNoId"]++
			continue
		case ev.Status == "cancelled":
			debug["import.skippedCancelled"]++
			continue
		case excluded[ev.ID]:
			debug["import.skippedExcluded"]++
			continue
		case ev.Origin != nil:
			debug["import.skippedOwn"]++
			continue
		case ev.Start == nil:
			debug["import.skippedNoStart"]++
			continue
		}

		title := ev.Summary
		if title == "" {
			title = "(untitled)"
		}

		start, err := ev.Start.Time(loc)
		if err != nil {
			res.addError("%s: invalid start: %v", title, err)
			continue
		}
		var end *time.Time
		if ev.End != nil {
			if t, err := ev.End.Time(loc); err == nil {
				end = &t
			}
		}
		allDay := ev.Start.IsAllDay()

		if localID, ok := linked[ev.ID]; ok {
			// Remote owns the schedule and place; title and notes stay local.
			if err := store.UpdateImportedEvent(r.userID, localID, &start, end, allDay, ev.Location); err != nil {
				res.addError("%s: %v", title, err)
				continue
			}
			res.Updated++
			continue
		}

		local := &db.CustomEvent{
			UserID:      r.userID,
			Title:       title,
			Description: ev.Description,
			Location:    ev.Location,
			Start:       &start,
			End:         end,
			AllDay:      allDay,
			Source:      db.SourceImport,
			RemoteRef:   ev.ID,
		}
		if err := store.CreateCustomEvent(local); err != nil {
			res.addError("%s: %v", title, err)
			continue
		}
		linked[ev.ID] = local.ID
		res.Created++
	}

	return nil
}
