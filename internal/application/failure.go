package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// FailureHandler applies the side effect a non-rate-limit upstream failure
// demands: bookkeeping always, credential disable plus owner quota
// compensation on authentication failures. Rate limits are routed to the
// CooldownTracker instead, because only the caller knows which model group
// was being requested.
type FailureHandler struct {
	creds driven.CredentialStore
	users driven.UserStore
	cfg   *config.Config
}

// NewFailureHandler creates a FailureHandler.
func NewFailureHandler(creds driven.CredentialStore, users driven.UserStore, cfg *config.Config) *FailureHandler {
	return &FailureHandler{creds: creds, users: users, cfg: cfg}
}

// RecordFailure stores the error text and increments the failure counter.
// When the text carries an auth-failure marker and the credential is still
// active, the credential is disabled; a donated public credential
// additionally costs its owner the bonus quota that was granted for it.
// Handling an already-disabled credential is a no-op on is_active but still
// updates the bookkeeping.
func (h *FailureHandler) RecordFailure(ctx context.Context, credentialID int64, errText string) error {
	if err := h.creds.RecordFailure(ctx, credentialID, errText); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	if !model.IsAuthFailureText(errText) {
		return nil
	}

	c, err := h.creds.GetByID(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("load credential %d: %w", credentialID, err)
	}
	if c == nil || !c.IsActive {
		return nil
	}

	if err := h.creds.Disable(ctx, credentialID); err != nil {
		return fmt.Errorf("disable credential %d: %w", credentialID, err)
	}
	slog.Warn("credential disabled on auth failure",
		"credential_id", credentialID,
		"email", c.Email,
		"error", errText,
	)

	if !c.IsPublic {
		return nil
	}
	ownerID, ok := c.OwnerID()
	if !ok {
		return nil
	}

	// Claw back the bonus quota granted when the credential was donated.
	amount := h.compensation(c.Tier)
	remaining, err := h.users.DeductBonusQuota(ctx, ownerID, amount)
	if err != nil {
		return fmt.Errorf("deduct bonus quota from user %d: %w", ownerID, err)
	}
	slog.Info("bonus quota compensated",
		"user_id", ownerID,
		"credential_id", credentialID,
		"amount", amount,
		"remaining", remaining,
	)
	return nil
}

func (h *FailureHandler) compensation(tier model.Tier) int64 {
	amount := h.cfg.QuotaFlash + h.cfg.QuotaPro
	if tier == model.Tier3 {
		amount += h.cfg.QuotaPremium
	}
	return amount
}
