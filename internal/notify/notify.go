package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/validator"
)

var (
	// emailRegex is a simple email validation regex
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

const sendTimeout = 30 * time.Second

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeReconnect AlertType = "reconnect"
	AlertTypeSyncError AlertType = "sync_error"
)

// Alert represents a notification alert.
type Alert struct {
	Type      AlertType
	UserID    string
	UserEmail string
	Message   string
	Details   string
	Timestamp time.Time
}

// Config holds notification configuration.
type Config struct {
	// Webhook settings
	WebhookEnabled bool
	WebhookURL     string

	// Email settings
	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string // Admin recipients, in addition to the affected user
	SMTPTLS      bool

	// How long to wait before re-alerting the same user about the same thing
	CooldownPeriod time.Duration
}

// UserLookup resolves the email address alerts for a user go to.
type UserLookup interface {
	GetUserByID(id string) (*db.User, error)
}

// Notifier sends alert notifications.
type Notifier struct {
	cfg        *Config
	users      UserLookup
	httpClient *http.Client
	now        func() time.Time

	// Last alert time per user and alert type
	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
	wg             sync.WaitGroup
}

// New creates a new Notifier. users may be nil, in which case alerts only go
// to the configured admin recipients.
func New(cfg *Config, users UserLookup) *Notifier {
	return &Notifier{
		cfg:   cfg,
		users: users,
		httpClient: &http.Client{
			Timeout: sendTimeout,
		},
		now:            time.Now,
		lastAlertTimes: make(map[string]time.Time),
	}
}

// ValidateConfig validates the notification configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.WebhookEnabled {
		if cfg.WebhookURL == "" {
			return fmt.Errorf("webhook URL is required when webhook is enabled")
		}
		if err := validator.New().ValidateWebhookURL(cfg.WebhookURL); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
	}

	if cfg.EmailEnabled {
		if cfg.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if cfg.SMTPPort < 1 || cfg.SMTPPort > 65535 {
			return fmt.Errorf("SMTP port must be between 1 and 65535")
		}
		if cfg.SMTPFrom == "" {
			return fmt.Errorf("SMTP from address is required when email is enabled")
		}
		if !isValidEmail(cfg.SMTPFrom) {
			return fmt.Errorf("invalid SMTP from address")
		}
		for _, to := range cfg.SMTPTo {
			if !isValidEmail(to) {
				return fmt.Errorf("invalid SMTP recipient address: %s", to)
			}
		}
	}

	if cfg.CooldownPeriod < time.Minute {
		return fmt.Errorf("cooldown period must be at least 1 minute")
	}

	return nil
}

// isValidEmail validates an email address format.
func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// sanitizeForEmail removes characters that could be used for email header injection.
func sanitizeForEmail(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// IsEnabled returns true if any notification method is enabled.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookEnabled || n.cfg.EmailEnabled
}

// SendReconnectAlert tells a user their calendar authorization stopped
// working and must be reconnected.
func (n *Notifier) SendReconnectAlert(userID, reason string) {
	n.dispatch(Alert{
		Type:    AlertTypeReconnect,
		UserID:  userID,
		Message: "Calendar connection needs to be renewed",
		Details: reason,
	})
}

// SendSyncErrorAlert reports a sync run that finished with phase errors.
func (n *Notifier) SendSyncErrorAlert(userID string, errorCount int, summary string) {
	n.dispatch(Alert{
		Type:    AlertTypeSyncError,
		UserID:  userID,
		Message: fmt.Sprintf("Calendar sync finished with %d errors", errorCount),
		Details: summary,
	})
}

// dispatch sends alert in the background unless the user was alerted about
// the same type within the cooldown. It reports whether a send was started.
func (n *Notifier) dispatch(alert Alert) bool {
	if !n.IsEnabled() {
		return false
	}
	if !n.claim(alert.UserID, alert.Type) {
		return false
	}

	alert.Timestamp = n.now()
	if n.users != nil {
		if user, err := n.users.GetUserByID(alert.UserID); err == nil {
			alert.UserEmail = user.Email
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.send(ctx, alert)
	}()
	return true
}

// claim records an alert for (userID, alertType) unless one was recorded
// within the cooldown period.
func (n *Notifier) claim(userID string, alertType AlertType) bool {
	key := userID + "|" + string(alertType)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastAlertTimes[key]; ok && now.Sub(last) < n.cfg.CooldownPeriod {
		return false
	}
	n.lastAlertTimes[key] = now
	return true
}

// ClearUser forgets the cooldown state of a user, e.g. after reconnecting.
func (n *Notifier) ClearUser(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.lastAlertTimes, userID+"|"+string(AlertTypeReconnect))
	delete(n.lastAlertTimes, userID+"|"+string(AlertTypeSyncError))
}

// Wait blocks until in-flight alerts have been sent.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// send sends the alert via all configured channels.
func (n *Notifier) send(ctx context.Context, alert Alert) {
	if n.cfg.WebhookEnabled && n.cfg.WebhookURL != "" {
		if err := n.sendWebhook(ctx, alert); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}

	if n.cfg.EmailEnabled {
		recipients := n.recipients(alert)
		if len(recipients) > 0 {
			if err := n.sendEmail(alert, recipients); err != nil {
				log.Printf("[Notify] Email error: %v", err)
			}
		}
	}
}

// recipients returns the user's address plus the admin addresses, deduplicated.
func (n *Notifier) recipients(alert Alert) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(email string) {
		email = strings.ToLower(email)
		if email == "" || seen[email] || !isValidEmail(email) {
			return
		}
		seen[email] = true
		out = append(out, email)
	}

	add(alert.UserEmail)
	for _, email := range n.cfg.SMTPTo {
		add(email)
	}
	return out
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType string `json:"alert_type"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	emoji := ":x:"
	if alert.Type == AlertTypeReconnect {
		emoji = ":warning:"
	}

	payload := WebhookPayload{
		AlertType: string(alert.Type),
		UserID:    alert.UserID,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: alert.Timestamp.Format(time.RFC3339),
		Text:      fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Message)
	return nil
}

// buildEmail renders the RFC 5322 message for an alert.
func (n *Notifier) buildEmail(alert Alert, recipients []string) []byte {
	message := sanitizeForEmail(alert.Message)
	details := sanitizeForEmail(alert.Details)

	var body strings.Builder
	fmt.Fprintf(&body, "Alert Type: %s\n", alert.Type)
	fmt.Fprintf(&body, "Time: %s\n\n", alert.Timestamp.Format(time.RFC1123))
	fmt.Fprintf(&body, "Message: %s\n", message)
	fmt.Fprintf(&body, "Details: %s\n", details)
	if alert.Type == AlertTypeReconnect {
		body.WriteString("\nOpen CourseSync and reconnect your Google Calendar to resume syncing.\n")
	}

	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [CourseSync] %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.SMTPFrom, strings.Join(recipients, ", "), message, body.String()))
}

func (n *Notifier) sendEmail(alert Alert, recipients []string) error {
	msg := n.buildEmail(alert, recipients)
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}

	var err error
	if n.cfg.SMTPTLS {
		err = n.sendEmailTLS(addr, auth, n.cfg.SMTPFrom, recipients, msg)
	} else {
		err = smtp.SendMail(addr, auth, n.cfg.SMTPFrom, recipients, msg)
	}
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	log.Printf("[Notify] Email sent to %d recipients: %s", len(recipients), sanitizeForEmail(alert.Message))
	return nil
}

// sendEmailTLS sends email over implicit TLS (port 465).
func (n *Notifier) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: n.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial TLS: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("rcpt to %s: %w", recipient, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return client.Quit()
}
