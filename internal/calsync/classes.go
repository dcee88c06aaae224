package calsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/macjediwizard/coursesync/internal/db"
)

// classWindowDays is how far ahead class meetings are materialized.
const classWindowDays = 14

// exportClasses creates one remote event per upcoming class meeting. The
// phase is date driven: occurrences already exported for a course are
// skipped by date, and existing ones are never updated.
func (r *run) exportClasses(ctx context.Context, res *PhaseResult) error {
	store := r.engine.store
	loc := r.engine.loc

	courses, err := store.ListCourses(r.userID)
	if err != nil {
		return fmt.Errorf("failed to load courses: %w", err)
	}

	local := r.now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	horizon := endOfDay(today.AddDate(0, 0, classWindowDays))

	for _, course := range courses {
		if course.MeetingDays == "" || course.MeetingStart == "" {
			r.report.Debug["classes.noSchedule"]++
			continue
		}

		from, until := today, horizon
		if course.TermStart != nil {
			if ts := termDate(*course.TermStart, loc); ts.After(from) {
				from = ts
			}
		}
		if course.TermEnd != nil {
			if te := endOfDay(termDate(*course.TermEnd, loc)); te.Before(until) {
				until = te
			}
		}
		if until.Before(from) {
			continue
		}

		occurrences, duration, err := expandMeetings(course, from, until, loc)
		if err != nil {
			res.addError("%s: %v", course.Code, err)
			continue
		}

		exportedTimes, err := store.ListClassExportDates(r.userID, course.ID)
		if err != nil {
			res.addError("%s: failed to load exported classes: %v", course.Code, err)
			continue
		}
		exported := make(map[string]bool, len(exportedTimes))
		for _, t := range exportedTimes {
			exported[t.In(loc).Format("2006-01-02")] = true
		}

		for _, start := range occurrences {
			date := start.Format("2006-01-02")
			if exported[date] {
				r.report.Debug["classes.alreadyExported"]++
				continue
			}

			start := start
			end := start.Add(duration)
			item := exportItem{
				ID:         uuid.New().String(),
				Title:      course.Name,
				CourseCode: course.Code,
				Location:   course.Location,
				Start:      &start,
				End:        &end,
			}

			created, err := r.cal.InsertEvent(ctx, r.settings.ExportCalendarID, buildDraft(classStrategy, item, loc))
			if err != nil {
				res.addError("%s (%s): %v", course.Name, date, err)
				continue
			}

			occurrence := &db.CustomEvent{
				ID:        item.ID,
				UserID:    r.userID,
				CourseID:  course.ID,
				Title:     course.Name,
				Location:  course.Location,
				Start:     &start,
				End:       &end,
				Source:    db.SourceClass,
				RemoteRef: created.ID,
			}
			if err := store.CreateCustomEvent(occurrence); err != nil {
				res.addError("%s (%s): failed to save occurrence: %v", course.Name, date, err)
				continue
			}
			exported[date] = true
			res.Created++
		}
	}

	return nil
}

// expandMeetings returns the meeting start times of a course within
// [from, until], plus the length of one meeting.
func expandMeetings(course *db.Course, from, until time.Time, loc *time.Location) ([]time.Time, time.Duration, error) {
	startClock, err := time.Parse("15:04", course.MeetingStart)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid meeting start %q", course.MeetingStart)
	}

	duration := defaultClassLength
	if course.MeetingEnd != "" {
		endClock, err := time.Parse("15:04", course.MeetingEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid meeting end %q", course.MeetingEnd)
		}
		if d := endClock.Sub(startClock); d > 0 {
			duration = d
		}
	}

	days := strings.ToUpper(strings.ReplaceAll(course.MeetingDays, " ", ""))
	rule, err := rrule.StrToRRule("FREQ=WEEKLY;BYDAY=" + days)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid meeting days %q: %w", course.MeetingDays, err)
	}
	rule.DTStart(time.Date(from.Year(), from.Month(), from.Day(), startClock.Hour(), startClock.Minute(), 0, 0, loc))

	return rule.Between(from, until, true), duration, nil
}

// defaultClassLength is used when a course has no meeting end time.
const defaultClassLength = time.Hour

// termDate reads a stored term boundary as a calendar date in loc. Term
// dates are stored as UTC midnight.
func termDate(t time.Time, loc *time.Location) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
