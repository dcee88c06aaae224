package validator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateURL(t *testing.T) {
	v := New()

	tests := []struct {
		name         string
		url          string
		requireHTTPS bool
		wantErr      error
	}{
		{"https accepted", "https://example.com", true, nil},
		{"http accepted when allowed", "http://example.com", false, nil},
		{"http rejected when https required", "http://example.com", true, ErrHTTPSRequired},
		{"empty", "", false, ErrInvalidURL},
		{"missing host", "https://", false, ErrInvalidURL},
		{"bad scheme", "ftp://example.com", false, ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateURL(tt.url, tt.requireHTTPS)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateWebhookURL(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"public https", "https://hooks.slack.com/services/T000/B000/XXX", nil},
		{"plain http", "http://hooks.example.com/alert", ErrHTTPSRequired},
		{"localhost", "https://localhost/hook", ErrInternalHost},
		{"dot local", "https://printer.local/hook", ErrInternalHost},
		{"dot internal", "https://alerts.corp.internal/hook", ErrInternalHost},
		{"loopback ip", "https://127.0.0.1/hook", ErrPrivateIP},
		{"private ip", "https://10.1.2.3/hook", ErrPrivateIP},
		{"private 172 range", "https://172.20.0.5/hook", ErrPrivateIP},
		{"link local", "https://169.254.169.254/latest", ErrPrivateIP},
		{"ipv6 loopback", "https://[::1]/hook", ErrPrivateIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateWebhookURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("private ip allowed when configured", func(t *testing.T) {
		if err := New(WithAllowPrivateIPs()).ValidateWebhookURL("https://10.1.2.3/hook"); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}

	if isPrivateIP(nil) {
		t.Error("nil IP should not be private")
	}
}

func TestValidateOIDCIssuer(t *testing.T) {
	t.Run("rejects http issuer", func(t *testing.T) {
		err := New().ValidateOIDCIssuer(context.Background(), "http://auth.example.com")
		if !errors.Is(err, ErrInvalidOIDCIssuer) {
			t.Errorf("expected ErrInvalidOIDCIssuer, got %v", err)
		}
	})

	t.Run("blocks private issuer", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		err := New().ValidateOIDCIssuer(context.Background(), server.URL)
		if !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("expected ErrConnectionFailed, got %v", err)
		}
	})
}
