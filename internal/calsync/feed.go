package calsync

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/macjediwizard/coursesync/internal/gcal"
)

const feedProductID = "-//MacJediWizard//CourseSync//EN"

// feedStrategies are rendered into the iCalendar feed in this order.
var feedStrategies = []exportStrategy{deadlineStrategy, examStrategy, workStrategy, customEventStrategy}

// WriteFeed renders a user's exportable entities as an iCalendar document.
// It uses the same eligibility and formatting rules as the calendar export,
// ignoring whether an entity is already linked.
func (e *Engine) WriteFeed(w io.Writer, userID string) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, feedProductID)
	cal.Props.SetText("X-WR-CALNAME", "CourseSync")

	stamp := e.now().UTC()
	for _, s := range feedStrategies {
		items, err := s.selectItems(e.store, userID)
		if err != nil {
			return err
		}
		for _, item := range items {
			draft := buildDraft(s, item, e.loc)
			event, err := feedEvent(draft, stamp, e.loc)
			if err != nil {
				return fmt.Errorf("failed to render %s %s: %w", s.kind, item.ID, err)
			}
			cal.Children = append(cal.Children, event.Component)
		}
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func feedEvent(d *gcal.Draft, stamp time.Time, loc *time.Location) (*ical.Event, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@coursesync", d.Origin.Kind, d.Origin.ID))
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetText(ical.PropSummary, d.Summary)
	if d.Description != "" {
		event.Props.SetText(ical.PropDescription, d.Description)
	}
	if d.Location != "" {
		event.Props.SetText(ical.PropLocation, d.Location)
	}

	start, err := d.Start.Time(loc)
	if err != nil {
		return nil, err
	}
	end, err := d.End.Time(loc)
	if err != nil {
		return nil, err
	}
	if d.Start.IsAllDay() {
		event.Props.SetDate(ical.PropDateTimeStart, start)
		event.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	}
	return event, nil
}
