package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

func newTokenManager(store *mockCredentialStore, oauth *mockOAuthClient) *application.TokenManager {
	return application.NewTokenManager(store, map[model.ProviderMode]driven.OAuthClient{
		model.ModeGeminiCLI:   oauth,
		model.ModeAntigravity: oauth,
	}, testConfig())
}

func TestTokenManagerStale(t *testing.T) {
	tm := newTokenManager(newMockCredentialStore(), &mockOAuthClient{})
	now := time.Now()

	tests := []struct {
		name   string
		expiry *time.Time
		kind   model.CredentialKind
		want   bool
	}{
		{"no tracked expiry is always stale", nil, model.KindOAuth, true},
		{"expired", pastTime(time.Hour), model.KindOAuth, true},
		{"inside the safety margin", timeIn(2 * time.Minute), model.KindOAuth, true},
		{"fresh", timeIn(time.Hour), model.KindOAuth, false},
		{"static keys never go stale", nil, model.KindAPIKey, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCredential(1, "a@example.com")
			c.Kind = tt.kind
			c.TokenExpiry = tt.expiry
			assert.Equal(t, tt.want, tm.Stale(&c, now))
		})
	}
}

func timeIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestAccessTokenFreshSkipsRefresh(t *testing.T) {
	oauth := &mockOAuthClient{refresh: func(context.Context, string, string, string) (driven.TokenGrant, error) {
		return driven.TokenGrant{}, errors.New("must not be called")
	}}
	tm := newTokenManager(newMockCredentialStore(), oauth)

	c := activeCredential(1, "a@example.com")
	c.TokenExpiry = timeIn(time.Hour)

	token, err := tm.AccessToken(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "at", token)
	assert.Zero(t, oauth.calls)
}

func TestAccessTokenRefreshesAndPersists(t *testing.T) {
	store := newMockCredentialStore()
	oauth := &mockOAuthClient{refresh: func(_ context.Context, clientID, clientSecret, refreshToken string) (driven.TokenGrant, error) {
		assert.Equal(t, "default-cid", clientID, "mode default client when credential has no override")
		assert.Equal(t, "default-secret", clientSecret)
		assert.Equal(t, "rt", refreshToken)
		return driven.TokenGrant{AccessToken: "at-new", Expiry: time.Now().Add(time.Hour)}, nil
	}}
	tm := newTokenManager(store, oauth)

	c := activeCredential(1, "a@example.com")
	c.ClientID, c.ClientSecret = "", ""

	token, err := tm.AccessToken(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "at-new", token)
	assert.Equal(t, "at-new", c.AccessToken)
	require.NotNil(t, c.TokenExpiry)

	require.Len(t, store.savedTokens, 1)
	assert.Equal(t, "at-new", store.savedTokens[0].AccessToken)
	require.NotNil(t, store.savedTokens[0].Expiry)
}

func TestAccessTokenCredentialClientOverride(t *testing.T) {
	oauth := &mockOAuthClient{refresh: func(_ context.Context, clientID, clientSecret, _ string) (driven.TokenGrant, error) {
		assert.Equal(t, "own-cid", clientID)
		assert.Equal(t, "own-secret", clientSecret)
		return driven.TokenGrant{AccessToken: "at-new"}, nil
	}}
	tm := newTokenManager(newMockCredentialStore(), oauth)

	c := activeCredential(1, "a@example.com")
	c.ClientID, c.ClientSecret = "own-cid", "own-secret"

	_, err := tm.AccessToken(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, 1, oauth.calls)
}

func TestAccessTokenFallsBackToCachedOnFailure(t *testing.T) {
	oauth := &mockOAuthClient{refresh: func(context.Context, string, string, string) (driven.TokenGrant, error) {
		return driven.TokenGrant{}, errors.New("endpoint down")
	}}
	tm := newTokenManager(newMockCredentialStore(), oauth)

	c := activeCredential(1, "a@example.com")
	token, err := tm.AccessToken(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "at", token, "cached token survives a transient refresh failure")
}

func TestAccessTokenHardFailsWithNoCachedToken(t *testing.T) {
	oauth := &mockOAuthClient{refresh: func(context.Context, string, string, string) (driven.TokenGrant, error) {
		return driven.TokenGrant{}, errors.New("invalid_grant")
	}}
	tm := newTokenManager(newMockCredentialStore(), oauth)

	c := activeCredential(1, "a@example.com")
	c.AccessToken = ""

	_, err := tm.AccessToken(context.Background(), &c)
	require.ErrorIs(t, err, application.ErrNoUsableToken)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestAccessTokenStaticKeyPassthrough(t *testing.T) {
	tm := newTokenManager(newMockCredentialStore(), &mockOAuthClient{})

	c := activeCredential(1, "a@example.com")
	c.Kind = model.KindAPIKey
	c.AccessToken = "api-key-123"

	token, err := tm.AccessToken(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "api-key-123", token)
}

func TestAccessTokenCollapsesConcurrentRefreshes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	oauth := &mockOAuthClient{refresh: func(context.Context, string, string, string) (driven.TokenGrant, error) {
		close(started)
		<-release
		return driven.TokenGrant{AccessToken: "at-new"}, nil
	}}
	tm := newTokenManager(newMockCredentialStore(), oauth)

	c1 := activeCredential(1, "a@example.com")
	c2 := activeCredential(1, "a@example.com")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = tm.AccessToken(context.Background(), &c1)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, _ = tm.AccessToken(context.Background(), &c2)
	}()

	// Give the second caller time to join the in-flight refresh.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, oauth.calls, "both callers share one upstream refresh")
	assert.Equal(t, "at-new", c1.AccessToken)
	assert.Equal(t, "at-new", c2.AccessToken)
}
