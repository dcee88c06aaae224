package gcal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/macjediwizard/coursesync/internal/crypto"
	"github.com/macjediwizard/coursesync/internal/db"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeTokenStore struct {
	userID  string
	access  string
	refresh string
	expiry  time.Time
	calls   int
}

func (s *fakeTokenStore) UpdateSyncTokens(userID, accessToken, refreshToken string, expiry time.Time) error {
	s.calls++
	s.userID = userID
	s.access = accessToken
	s.refresh = refreshToken
	s.expiry = expiry
	return nil
}

func newTestTokenProvider(t *testing.T, tokenURL string) (*TokenProvider, *crypto.Encryptor, *fakeTokenStore) {
	t.Helper()

	enc, err := crypto.NewEncryptor(testEncryptionKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	store := &fakeTokenStore{}
	config := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	return NewTokenProvider(config, enc, store), enc, store
}

func settingsWithTokens(t *testing.T, enc *crypto.Encryptor, access, refresh string, expiry *time.Time) *db.SyncSettings {
	t.Helper()

	encAccess, err := enc.Encrypt(access)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	encRefresh, err := enc.Encrypt(refresh)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	s := db.DefaultSyncSettings("user-1")
	s.Connected = true
	s.AccessToken = encAccess
	s.RefreshToken = encRefresh
	s.TokenExpiry = expiry
	return s
}

func TestGetValidToken(t *testing.T) {
	var refreshCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("refresh_token") {
		case "good-refresh":
			_, _ = w.Write([]byte(`{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		}
	}))
	defer server.Close()

	t.Run("valid stored token is returned without refresh", func(t *testing.T) {
		provider, enc, store := newTestTokenProvider(t, server.URL)
		expiry := time.Now().Add(time.Hour)
		settings := settingsWithTokens(t, enc, "stored-access", "good-refresh", &expiry)

		before := refreshCalls
		tok, err := provider.GetValidToken(context.Background(), settings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.AccessToken != "stored-access" {
			t.Errorf("expected stored token, got %q", tok.AccessToken)
		}
		if refreshCalls != before || store.calls != 0 {
			t.Error("expected no refresh")
		}
	})

	t.Run("near-expiry token is refreshed and persisted", func(t *testing.T) {
		provider, enc, store := newTestTokenProvider(t, server.URL)
		expiry := time.Now().Add(2 * time.Minute)
		settings := settingsWithTokens(t, enc, "stale-access", "good-refresh", &expiry)

		tok, err := provider.GetValidToken(context.Background(), settings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.AccessToken != "fresh-access" {
			t.Errorf("expected fresh token, got %q", tok.AccessToken)
		}
		if store.calls != 1 || store.userID != "user-1" {
			t.Fatalf("expected one persisted update for user-1, got %d", store.calls)
		}

		access, _ := enc.Decrypt(store.access)
		refresh, _ := enc.Decrypt(store.refresh)
		if access != "fresh-access" {
			t.Errorf("expected persisted fresh access token, got %q", access)
		}
		if refresh != "good-refresh" {
			t.Errorf("expected refresh token to be kept, got %q", refresh)
		}
		if !store.expiry.After(time.Now().Add(50 * time.Minute)) {
			t.Errorf("expected expiry about an hour out, got %v", store.expiry)
		}
	})

	t.Run("missing expiry forces refresh", func(t *testing.T) {
		provider, enc, _ := newTestTokenProvider(t, server.URL)
		settings := settingsWithTokens(t, enc, "stored-access", "good-refresh", nil)

		tok, err := provider.GetValidToken(context.Background(), settings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.AccessToken != "fresh-access" {
			t.Errorf("expected fresh token, got %q", tok.AccessToken)
		}
	})

	t.Run("revoked grant is an auth error", func(t *testing.T) {
		provider, enc, store := newTestTokenProvider(t, server.URL)
		settings := settingsWithTokens(t, enc, "", "revoked-refresh", nil)

		_, err := provider.GetValidToken(context.Background(), settings)
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
		if store.calls != 0 {
			t.Error("expected nothing persisted")
		}
	})

	t.Run("missing refresh token is an auth error", func(t *testing.T) {
		provider, enc, _ := newTestTokenProvider(t, server.URL)
		settings := settingsWithTokens(t, enc, "", "", nil)

		_, err := provider.GetValidToken(context.Background(), settings)
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	})

	t.Run("undecryptable material is an auth error", func(t *testing.T) {
		provider, _, _ := newTestTokenProvider(t, server.URL)
		settings := db.DefaultSyncSettings("user-1")
		settings.AccessToken = "garbage"

		_, err := provider.GetValidToken(context.Background(), settings)
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	})

	t.Run("unreachable token endpoint is an auth error", func(t *testing.T) {
		provider, enc, _ := newTestTokenProvider(t, "http://127.0.0.1:1/token")
		settings := settingsWithTokens(t, enc, "", "good-refresh", nil)

		_, err := provider.GetValidToken(context.Background(), settings)
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	})
}

func TestNewOAuthConfig(t *testing.T) {
	cfg := NewOAuthConfig("id", "secret", "https://example.com/callback")
	if cfg.Endpoint.TokenURL == "" {
		t.Error("expected Google token endpoint")
	}
	if len(cfg.Scopes) == 0 {
		t.Error("expected calendar scopes")
	}
}
