package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// RefreshService is the background maintenance loop: on a configured
// interval it walks the active OAuth credentials, refreshes tokens that are
// about to expire, and provisions missing tenant ids, so this work stays off
// the request path. Sweep failures are recorded as bookkeeping only; the
// sweep never disables a credential.
type RefreshService struct {
	store    driven.CredentialStore
	tokens   *TokenManager
	resolver *Resolver
	cfg      *config.Config
}

// NewRefreshService creates a RefreshService.
func NewRefreshService(store driven.CredentialStore, tokens *TokenManager, resolver *Resolver, cfg *config.Config) *RefreshService {
	return &RefreshService{store: store, tokens: tokens, resolver: resolver, cfg: cfg}
}

// Start runs an immediate sweep, then sweeps on the configured interval
// until the context is cancelled. Start blocks.
func (s *RefreshService) Start(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh service stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance sweep over every mode's active
// credentials.
func (s *RefreshService) RunOnce(ctx context.Context) {
	started := time.Now()
	var refreshed, provisioned, failed int

	for _, mode := range model.Modes() {
		creds, err := s.store.ListActive(ctx, mode)
		if err != nil {
			slog.Error("sweep: list active credentials failed", "mode", mode, "error", err)
			continue
		}

		for i := range creds {
			c := &creds[i]
			if c.Kind != model.KindOAuth {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			if s.tokens.Stale(c, time.Now()) {
				if _, err := s.tokens.AccessToken(ctx, c); err != nil {
					failed++
					slog.Warn("sweep: token refresh failed", "credential_id", c.ID, "error", err)
					if err := s.store.RecordFailure(ctx, c.ID, err.Error()); err != nil {
						slog.Error("sweep: record failure failed", "credential_id", c.ID, "error", err)
					}
					continue
				}
				refreshed++
			}

			if !c.HasTenant() {
				if _, _, err := s.resolver.Resolve(ctx, c); err != nil {
					failed++
					slog.Warn("sweep: tenant provisioning failed", "credential_id", c.ID, "error", err)
					continue
				}
				provisioned++
			}
		}
	}

	slog.Info("maintenance sweep complete",
		"refreshed", refreshed,
		"provisioned", provisioned,
		"failed", failed,
		"duration", time.Since(started).Round(time.Millisecond),
	)
}
