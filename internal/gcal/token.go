package gcal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/macjediwizard/coursesync/internal/crypto"
	"github.com/macjediwizard/coursesync/internal/db"
)

// refreshSkew refreshes tokens that are about to expire so a run does not
// start with a token that dies halfway through.
const refreshSkew = 5 * time.Minute

// NewOAuthConfig returns the OAuth2 configuration for Google Calendar access.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
	}
}

// TokenStore persists refreshed token material.
type TokenStore interface {
	UpdateSyncTokens(userID, accessToken, refreshToken string, expiry time.Time) error
}

// TokenProvider returns usable access tokens for a user, refreshing and
// persisting them when needed.
type TokenProvider struct {
	config    *oauth2.Config
	encryptor *crypto.Encryptor
	store     TokenStore
	now       func() time.Time
}

// NewTokenProvider creates a new TokenProvider.
func NewTokenProvider(config *oauth2.Config, encryptor *crypto.Encryptor, store TokenStore) *TokenProvider {
	return &TokenProvider{
		config:    config,
		encryptor: encryptor,
		store:     store,
		now:       time.Now,
	}
}

// GetValidToken returns the stored access token when it is valid for at least
// another five minutes, and otherwise refreshes it. Every failure wraps ErrAuth.
func (p *TokenProvider) GetValidToken(ctx context.Context, settings *db.SyncSettings) (*oauth2.Token, error) {
	access, err := p.encryptor.Decrypt(settings.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt access token: %w", ErrAuth, err)
	}
	refresh, err := p.encryptor.Decrypt(settings.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt refresh token: %w", ErrAuth, err)
	}

	now := p.now()
	if access != "" && settings.TokenExpiry != nil && settings.TokenExpiry.After(now.Add(refreshSkew)) {
		return &oauth2.Token{
			AccessToken:  access,
			TokenType:    "Bearer",
			RefreshToken: refresh,
			Expiry:       *settings.TokenExpiry,
		}, nil
	}

	if refresh == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrAuth)
	}

	// An empty access token forces the token source to refresh.
	fresh, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %w", ErrAuth, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refresh
	}
	if fresh.Expiry.IsZero() {
		fresh.Expiry = now.Add(time.Hour)
	}

	encAccess, err := p.encryptor.Encrypt(fresh.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encrypt access token: %w", ErrAuth, err)
	}
	encRefresh, err := p.encryptor.Encrypt(fresh.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encrypt refresh token: %w", ErrAuth, err)
	}
	if err := p.store.UpdateSyncTokens(settings.UserID, encAccess, encRefresh, fresh.Expiry); err != nil {
		return nil, fmt.Errorf("%w: failed to persist refreshed token: %w", ErrAuth, err)
	}

	return fresh, nil
}
