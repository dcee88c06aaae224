package gcal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Keys of the private extended properties that mark an event as created by
// an export. Imports skip any event carrying them.
const (
	originIDKey   = "originId"
	originKindKey = "originKind"
)

const pageSize = 250

// EventTime is either a date ("2006-01-02") for all-day events or an RFC 3339
// date-time. Exactly one of the two is set.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// IsAllDay reports whether t carries a date without a time of day.
func (t *EventTime) IsAllDay() bool {
	return t != nil && t.Date != ""
}

// Time parses t. Dates are interpreted as midnight in loc.
func (t *EventTime) Time(loc *time.Location) (time.Time, error) {
	if t == nil {
		return time.Time{}, fmt.Errorf("empty event time")
	}
	if t.Date != "" {
		return time.ParseInLocation("2006-01-02", t.Date, loc)
	}
	return time.Parse(time.RFC3339, t.DateTime)
}

// Origin identifies the local entity an exported event was created from.
type Origin struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Event is the subset of a Google Calendar event the sync engine reads.
type Event struct {
	ID          string
	Status      string
	Summary     string
	Description string
	Location    string
	ColorID     string
	Start       *EventTime
	End         *EventTime
	Origin      *Origin // nil for events this service did not create
}

// Draft is the content of an event to insert or update.
type Draft struct {
	Summary     string
	Description string
	Location    string
	ColorID     string
	Start       EventTime
	End         EventTime
	Origin      Origin
}

// Client wraps the Google Calendar v3 API. Every call waits on the limiter
// first and none are retried.
type Client struct {
	svc     *calendar.Service
	limiter *RateLimiter
}

// NewClient creates a Client that sends requests through httpClient, which
// must already attach credentials.
func NewClient(ctx context.Context, httpClient *http.Client, limiter *RateLimiter, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if limiter == nil {
		limiter = NewRateLimiter(DefaultCallInterval)
	}
	return &Client{svc: svc, limiter: limiter}, nil
}

// NewClientForToken creates a Client authorized with a bearer token.
func NewClientForToken(ctx context.Context, token *oauth2.Token, limiter *RateLimiter) (*Client, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return NewClient(ctx, httpClient, limiter)
}

// ListEvents returns the single (expanded) events of calendarID overlapping
// [from, to).
func (c *Client) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*Event, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		MaxResults(pageSize)

	var events []*Event
	pageToken := ""
	for {
		if err := c.limiter.Throttle(ctx); err != nil {
			return nil, wrapError("list events", err)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Context(ctx).Do()
		if err != nil {
			return nil, wrapError("list events", err)
		}
		for _, item := range page.Items {
			events = append(events, fromAPIEvent(item))
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return events, nil
}

// InsertEvent creates an event and returns it with its new ID.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, draft *Draft) (*Event, error) {
	if err := c.limiter.Throttle(ctx); err != nil {
		return nil, wrapError("insert event", err)
	}

	created, err := c.svc.Events.Insert(calendarID, toAPIEvent(draft)).Context(ctx).Do()
	if err != nil {
		return nil, wrapError("insert event", err)
	}
	return fromAPIEvent(created), nil
}

// UpdateEvent replaces the content of an existing event.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, draft *Draft) (*Event, error) {
	if err := c.limiter.Throttle(ctx); err != nil {
		return nil, wrapError("update event", err)
	}

	updated, err := c.svc.Events.Update(calendarID, eventID, toAPIEvent(draft)).Context(ctx).Do()
	if err != nil {
		return nil, wrapError("update event", err)
	}
	return fromAPIEvent(updated), nil
}

// DeleteEvent deletes an event.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.limiter.Throttle(ctx); err != nil {
		return wrapError("delete event", err)
	}

	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return wrapError("delete event", err)
	}
	return nil
}

func toAPIEvent(d *Draft) *calendar.Event {
	ev := &calendar.Event{
		Summary:     d.Summary,
		Description: d.Description,
		Location:    d.Location,
		ColorId:     d.ColorID,
		Start:       &calendar.EventDateTime{Date: d.Start.Date, DateTime: d.Start.DateTime},
		End:         &calendar.EventDateTime{Date: d.End.Date, DateTime: d.End.DateTime},
	}
	if d.Origin.ID != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{
				originIDKey:   d.Origin.ID,
				originKindKey: d.Origin.Kind,
			},
		}
	}
	return ev
}

func fromAPIEvent(item *calendar.Event) *Event {
	ev := &Event{
		ID:          item.Id,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		ColorID:     item.ColorId,
	}
	if item.Start != nil && (item.Start.Date != "" || item.Start.DateTime != "") {
		ev.Start = &EventTime{Date: item.Start.Date, DateTime: item.Start.DateTime}
	}
	if item.End != nil && (item.End.Date != "" || item.End.DateTime != "") {
		ev.End = &EventTime{Date: item.End.Date, DateTime: item.End.DateTime}
	}
	if item.ExtendedProperties != nil {
		if id := item.ExtendedProperties.Private[originIDKey]; id != "" {
			ev.Origin = &Origin{ID: id, Kind: item.ExtendedProperties.Private[originKindKey]}
		}
	}
	return ev
}
