package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// ErrTenantUnavailable is returned when the tenant id could not be obtained
// for a credential. The credential is unusable until provisioning succeeds;
// callers treat this like an auth failure for the affected credential.
var ErrTenantUnavailable = errors.New("tenant id unavailable")

// Resolver produces the (access token, tenant id) pair a credential needs to
// serve an upstream call, refreshing the token and provisioning a missing
// tenant on demand.
type Resolver struct {
	store   driven.CredentialStore
	tokens  *TokenManager
	tenants map[model.ProviderMode]driven.TenantClient
}

// NewResolver creates a Resolver with one tenant client per mode.
func NewResolver(store driven.CredentialStore, tokens *TokenManager, tenants map[model.ProviderMode]driven.TenantClient) *Resolver {
	return &Resolver{store: store, tokens: tokens, tenants: tenants}
}

// Resolve returns a usable token and tenant id for the credential. A newly
// provisioned tenant id is persisted and written back to the credential.
func (r *Resolver) Resolve(ctx context.Context, c *model.Credential) (string, string, error) {
	token, err := r.tokens.AccessToken(ctx, c)
	if err != nil {
		return "", "", err
	}

	if c.HasTenant() {
		return token, c.TenantID, nil
	}

	client, ok := r.tenants[c.Mode]
	if !ok {
		return "", "", fmt.Errorf("no tenant client for mode %s", c.Mode)
	}

	tenantID, err := client.FetchTenantID(ctx, token)
	if err != nil {
		return "", "", fmt.Errorf("fetch tenant id: %w", err)
	}
	if tenantID == "" {
		return "", "", fmt.Errorf("%w: credential %d", ErrTenantUnavailable, c.ID)
	}

	if err := r.store.SaveTenantID(ctx, c.ID, tenantID); err != nil {
		return "", "", fmt.Errorf("persist tenant id: %w", err)
	}
	c.TenantID = tenantID
	slog.Info("tenant provisioned", "credential_id", c.ID, "tenant_id", tenantID)

	return token, tenantID, nil
}
