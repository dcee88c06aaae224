package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// newTestClient returns a Client pointed at a fake Calendar API.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), server.Client(), NewRateLimiter(time.Millisecond),
		option.WithEndpoint(server.URL+"/"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, http.StatusText(code))
}

func TestListEvents(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodGet || r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("singleEvents") != "true" {
			t.Error("expected singleEvents=true")
		}
		if r.URL.Query().Get("timeMin") == "" || r.URL.Query().Get("timeMax") == "" {
			t.Error("expected a time window")
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(&calendar.Events{
				Items: []*calendar.Event{
					{Id: "a", Summary: "Dentist", Start: &calendar.EventDateTime{DateTime: "2025-05-01T10:00:00Z"}},
				},
				NextPageToken: "page-2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(&calendar.Events{
			Items: []*calendar.Event{
				{
					Id:      "b",
					Summary: "📝 Essay",
					Start:   &calendar.EventDateTime{Date: "2025-05-10"},
					End:     &calendar.EventDateTime{Date: "2025-05-11"},
					ExtendedProperties: &calendar.EventExtendedProperties{
						Private: map[string]string{"originId": "d1", "originKind": "deadline"},
					},
				},
				{Id: "c", Status: "cancelled"},
			},
		})
	}))

	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	events, err := client.ListEvents(context.Background(), "primary", from, from.AddDate(0, 6, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 page requests, got %d", calls)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Origin != nil || events[0].Start.IsAllDay() {
		t.Errorf("expected foreign timed event, got %+v", events[0])
	}
	if events[1].Origin == nil || events[1].Origin.ID != "d1" || events[1].Origin.Kind != "deadline" {
		t.Errorf("expected origin marker on exported event, got %+v", events[1].Origin)
	}
	if !events[1].Start.IsAllDay() {
		t.Error("expected date-only start to be all-day")
	}
	if events[2].Start != nil || events[2].Status != "cancelled" {
		t.Errorf("expected cancelled event without start, got %+v", events[2])
	}
}

func TestInsertEventSetsOrigin(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if body.ExtendedProperties == nil || body.ExtendedProperties.Private["originId"] != "x1" {
			t.Errorf("expected origin marker in request, got %+v", body.ExtendedProperties)
		}
		if body.Start.Date != "2025-05-10" {
			t.Errorf("expected date-only start, got %+v", body.Start)
		}
		body.Id = "created-1"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&body)
	}))

	draft := &Draft{
		Summary: "🎓 [CS101] Final",
		ColorID: "11",
		Start:   EventTime{Date: "2025-05-10"},
		End:     EventTime{Date: "2025-05-11"},
		Origin:  Origin{ID: "x1", Kind: "exam"},
	}
	ev, err := client.InsertEvent(context.Background(), "primary", draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID != "created-1" {
		t.Errorf("expected created-1, got %q", ev.ID)
	}
	if ev.Origin == nil || ev.Origin.Kind != "exam" {
		t.Errorf("expected origin on returned event, got %+v", ev.Origin)
	}
}

func TestErrorClassification(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			writeAPIError(w, http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/gone"):
			writeAPIError(w, http.StatusGone)
		case strings.HasSuffix(r.URL.Path, "/boom"):
			writeAPIError(w, http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, "/limited"):
			writeAPIError(w, http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	tests := []struct {
		name   string
		id     string
		want   Outcome
		status int
	}{
		{"success", "ok", OutcomeOK, 0},
		{"404 is not found", "missing", OutcomeNotFound, http.StatusNotFound},
		{"410 is not found", "gone", OutcomeNotFound, http.StatusGone},
		{"500 is transient", "boom", OutcomeTransient, http.StatusInternalServerError},
		{"403 is transient", "limited", OutcomeTransient, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.DeleteEvent(context.Background(), "primary", tt.id)
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v (err %v)", got, tt.want, err)
			}
			if tt.status == 0 {
				return
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.Status)
			}
			if apiErr.Op != "delete event" {
				t.Errorf("expected op delete event, got %q", apiErr.Op)
			}
		})
	}

	t.Run("update 404", func(t *testing.T) {
		_, err := client.UpdateEvent(context.Background(), "primary", "missing", &Draft{Summary: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if errors.Is(err, ErrTransient) {
			t.Error("404 must not also be transient")
		}
	})
}

func TestClassifyNonAPIErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != OutcomeTransient {
		t.Errorf("expected transient for plain error, got %v", got)
	}
	if got := Classify(nil); got != OutcomeOK {
		t.Errorf("expected ok for nil, got %v", got)
	}
}

func TestEventTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	date := &EventTime{Date: "2025-05-10"}
	got, err := date.Time(loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hour() != 0 || got.Location() != loc {
		t.Errorf("expected local midnight, got %v", got)
	}

	dt := &EventTime{DateTime: "2025-05-10T14:30:00-04:00"}
	got, err = dt.Time(loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2025, 5, 10, 18, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected time %v", got)
	}

	var empty *EventTime
	if _, err := empty.Time(loc); err == nil {
		t.Error("expected error for nil time")
	}
}
