package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

func newResolver(store *mockCredentialStore, oauth *mockOAuthClient, tenant *mockTenantClient) *application.Resolver {
	tokens := newTokenManager(store, oauth)
	return application.NewResolver(store, tokens, map[model.ProviderMode]driven.TenantClient{
		model.ModeGeminiCLI:   tenant,
		model.ModeAntigravity: tenant,
	})
}

func TestResolveUsesExistingTenant(t *testing.T) {
	tenant := &mockTenantClient{fetch: func(context.Context, string) (string, error) {
		t.Fatal("tenant client must not be called")
		return "", nil
	}}
	resolver := newResolver(newMockCredentialStore(), &mockOAuthClient{}, tenant)

	c := activeCredential(1, "a@example.com")
	c.TokenExpiry = timeIn(time.Hour)

	token, tenantID, err := resolver.Resolve(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "at", token)
	assert.Equal(t, "tenant", tenantID)
}

func TestResolveProvisionsAndPersistsTenant(t *testing.T) {
	store := newMockCredentialStore()
	tenant := &mockTenantClient{fetch: func(_ context.Context, accessToken string) (string, error) {
		assert.Equal(t, "at", accessToken)
		return "tenant-new", nil
	}}
	resolver := newResolver(store, &mockOAuthClient{}, tenant)

	c := activeCredential(1, "a@example.com")
	c.TokenExpiry = timeIn(time.Hour)
	c.TenantID = ""

	_, tenantID, err := resolver.Resolve(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, "tenant-new", tenantID)
	assert.Equal(t, "tenant-new", c.TenantID)
	assert.Equal(t, "tenant-new", store.savedTenants[1])
}

func TestResolveTenantUnavailable(t *testing.T) {
	tenant := &mockTenantClient{fetch: func(context.Context, string) (string, error) {
		// Soft failure contract: no error, no id.
		return "", nil
	}}
	resolver := newResolver(newMockCredentialStore(), &mockOAuthClient{}, tenant)

	c := activeCredential(1, "a@example.com")
	c.TokenExpiry = timeIn(time.Hour)
	c.TenantID = ""

	_, _, err := resolver.Resolve(context.Background(), &c)
	require.ErrorIs(t, err, application.ErrTenantUnavailable)
}

func TestResolveTokenFailurePropagates(t *testing.T) {
	oauth := &mockOAuthClient{refresh: func(context.Context, string, string, string) (driven.TokenGrant, error) {
		return driven.TokenGrant{}, errors.New("invalid_grant")
	}}
	resolver := newResolver(newMockCredentialStore(), oauth, &mockTenantClient{})

	c := activeCredential(1, "a@example.com")
	c.AccessToken = "" // nothing cached to fall back on

	_, _, err := resolver.Resolve(context.Background(), &c)
	require.ErrorIs(t, err, application.ErrNoUsableToken)
}
