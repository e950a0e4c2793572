package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// ErrNoUsableToken is returned when a refresh fails and no cached token
// exists to fall back on.
var ErrNoUsableToken = errors.New("no usable access token")

// TokenManager decides whether a credential's access token is stale and
// refreshes it through the mode's OAuth endpoint. Static-key credentials
// pass through unchanged.
type TokenManager struct {
	store driven.CredentialStore
	oauth map[model.ProviderMode]driven.OAuthClient
	cfg   *config.Config
	group singleflight.Group
}

// NewTokenManager creates a TokenManager with one OAuth client per mode.
func NewTokenManager(store driven.CredentialStore, oauth map[model.ProviderMode]driven.OAuthClient, cfg *config.Config) *TokenManager {
	return &TokenManager{store: store, oauth: oauth, cfg: cfg}
}

// Stale reports whether the credential's token needs a refresh at the
// supplied instant. An unknown expiry is always stale, the conservative
// default.
func (m *TokenManager) Stale(c *model.Credential, now time.Time) bool {
	if c.Kind == model.KindAPIKey {
		return false
	}
	if c.TokenExpiry == nil {
		return true
	}
	return c.TokenExpiry.Sub(now) <= m.cfg.RefreshMargin
}

// AccessToken returns a usable access token for the credential, refreshing
// first when stale. A failed refresh falls back to the last cached token so
// one transient endpoint failure does not strand a still-valid token; only
// with no cached token at all does it fail. On success the credential's
// in-memory token fields are updated alongside the store.
func (m *TokenManager) AccessToken(ctx context.Context, c *model.Credential) (string, error) {
	if !m.Stale(c, time.Now()) {
		return c.AccessToken, nil
	}

	// Concurrent refreshes of one credential collapse into a single
	// upstream call.
	grant, err, _ := m.group.Do(strconv.FormatInt(c.ID, 10), func() (any, error) {
		return m.refresh(ctx, c)
	})
	if err != nil {
		if c.AccessToken != "" {
			slog.Warn("token refresh failed, using cached token",
				"credential_id", c.ID,
				"error", err,
			)
			return c.AccessToken, nil
		}
		return "", fmt.Errorf("%w: %v", ErrNoUsableToken, err)
	}

	g := grant.(driven.TokenGrant)
	c.AccessToken = g.AccessToken
	if !g.Expiry.IsZero() {
		expiry := g.Expiry
		c.TokenExpiry = &expiry
	}
	return g.AccessToken, nil
}

func (m *TokenManager) refresh(ctx context.Context, c *model.Credential) (driven.TokenGrant, error) {
	client, ok := m.oauth[c.Mode]
	if !ok {
		return driven.TokenGrant{}, fmt.Errorf("no oauth client for mode %s", c.Mode)
	}
	if c.RefreshToken == "" {
		return driven.TokenGrant{}, errors.New("credential has no refresh token")
	}

	clientID, clientSecret := c.ClientID, c.ClientSecret
	if clientID == "" {
		mc := m.cfg.Mode(c.Mode)
		clientID, clientSecret = mc.ClientID, mc.ClientSecret
	}

	grant, err := client.Refresh(ctx, clientID, clientSecret, c.RefreshToken)
	if err != nil {
		return driven.TokenGrant{}, err
	}

	var expiry *time.Time
	if !grant.Expiry.IsZero() {
		expiry = &grant.Expiry
	}
	if err := m.store.SaveToken(ctx, c.ID, grant.AccessToken, expiry); err != nil {
		return driven.TokenGrant{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	slog.Info("access token refreshed", "credential_id", c.ID, "email", c.Email)
	return grant, nil
}
