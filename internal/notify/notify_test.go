package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/macjediwizard/coursesync/internal/db"
)

type fakeUsers map[string]string

func (f fakeUsers) GetUserByID(id string) (*db.User, error) {
	email, ok := f[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &db.User{ID: id, Email: email}, nil
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WebhookEnabled: true,
			WebhookURL:     "https://hooks.slack.com/services/T000/B000/XXX",
			EmailEnabled:   true,
			SMTPHost:       "smtp.example.com",
			SMTPPort:       587,
			SMTPFrom:       "alerts@example.com",
			SMTPTo:         []string{"admin@example.com"},
			CooldownPeriod: time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing webhook url", func(c *Config) { c.WebhookURL = "" }, true},
		{"http webhook", func(c *Config) { c.WebhookURL = "http://hooks.example.com" }, true},
		{"private webhook", func(c *Config) { c.WebhookURL = "https://192.168.1.10/hook" }, true},
		{"missing smtp host", func(c *Config) { c.SMTPHost = "" }, true},
		{"bad port", func(c *Config) { c.SMTPPort = 0 }, true},
		{"bad from", func(c *Config) { c.SMTPFrom = "not-an-email" }, true},
		{"bad recipient", func(c *Config) { c.SMTPTo = []string{"nope"} }, true},
		{"short cooldown", func(c *Config) { c.CooldownPeriod = time.Second }, true},
		{"disabled channels skip checks", func(c *Config) {
			c.WebhookEnabled = false
			c.EmailEnabled = false
			c.WebhookURL = ""
			c.SMTPHost = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClaimCooldown(t *testing.T) {
	n := New(&Config{CooldownPeriod: time.Hour}, nil)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	if !n.claim("u1", AlertTypeReconnect) {
		t.Fatal("first alert should be claimed")
	}
	if n.claim("u1", AlertTypeReconnect) {
		t.Error("repeat alert inside cooldown should be suppressed")
	}
	if !n.claim("u1", AlertTypeSyncError) {
		t.Error("a different alert type has its own cooldown")
	}
	if !n.claim("u2", AlertTypeReconnect) {
		t.Error("a different user has its own cooldown")
	}

	now = now.Add(time.Hour)
	if !n.claim("u1", AlertTypeReconnect) {
		t.Error("alert after cooldown should be claimed")
	}

	n.ClearUser("u2")
	if !n.claim("u2", AlertTypeReconnect) {
		t.Error("cleared user should be alerted again")
	}
}

func TestDispatchDisabled(t *testing.T) {
	n := New(&Config{CooldownPeriod: time.Hour}, nil)
	if n.dispatch(Alert{Type: AlertTypeReconnect, UserID: "u1"}) {
		t.Error("dispatch should do nothing when no channel is enabled")
	}
}

func TestSendReconnectAlertWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []WebhookPayload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(&Config{WebhookEnabled: true, WebhookURL: server.URL, CooldownPeriod: time.Hour}, nil)

	n.SendReconnectAlert("u1", "refresh failed: invalid_grant")
	n.SendReconnectAlert("u1", "refresh failed again")
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 webhook call, got %d", len(payloads))
	}
	p := payloads[0]
	if p.AlertType != "reconnect" || p.UserID != "u1" {
		t.Errorf("unexpected payload %+v", p)
	}
	if !strings.Contains(p.Text, ":warning:") || !strings.Contains(p.Text, "invalid_grant") {
		t.Errorf("unexpected text %q", p.Text)
	}
}

func TestSendWebhookErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := New(&Config{WebhookEnabled: true, WebhookURL: server.URL, CooldownPeriod: time.Hour}, nil)
	err := n.sendWebhook(t.Context(), Alert{Type: AlertTypeSyncError, UserID: "u1", Timestamp: time.Now()})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestRecipients(t *testing.T) {
	n := New(&Config{SMTPTo: []string{"Admin@example.com", "ops@example.com"}}, fakeUsers{"u1": "admin@example.com"})

	got := n.recipients(Alert{UserEmail: "student@example.com"})
	want := []string{"student@example.com", "admin@example.com", "ops@example.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("recipients = %v, want %v", got, want)
	}

	got = n.recipients(Alert{UserEmail: "admin@example.com"})
	if len(got) != 2 {
		t.Errorf("expected duplicates removed, got %v", got)
	}

	got = n.recipients(Alert{UserEmail: "bad address"})
	if len(got) != 2 {
		t.Errorf("expected invalid user email skipped, got %v", got)
	}
}

func TestBuildEmailSanitizesHeaders(t *testing.T) {
	n := New(&Config{SMTPFrom: "alerts@example.com"}, nil)
	msg := string(n.buildEmail(Alert{
		Type:      AlertTypeReconnect,
		Message:   "Reconnect\r\nBcc: victim@example.com",
		Details:   "line one\nline two",
		Timestamp: time.Now(),
	}, []string{"student@example.com"}))

	headers := msg[:strings.Index(msg, "\r\n\r\n")]
	if strings.Contains(headers, "\r\nBcc:") {
		t.Errorf("header injection not prevented: %q", headers)
	}
	if !strings.Contains(headers, "Subject: [CourseSync] Reconnect Bcc: victim@example.com") {
		t.Errorf("unexpected subject in %q", headers)
	}
	if !strings.Contains(msg, "reconnect your Google Calendar") {
		t.Error("reconnect alerts should include instructions")
	}
}

func TestSanitizeForEmail(t *testing.T) {
	long := strings.Repeat("a", 250)
	if got := sanitizeForEmail(long); len(got) != 200 {
		t.Errorf("expected truncation to 200, got %d", len(got))
	}
	if got := sanitizeForEmail("a\r\nb"); got != "a b" {
		t.Errorf("unexpected %q", got)
	}
}
