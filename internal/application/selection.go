package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// ErrPoolExhausted is returned when no credential passes the selection
// filter at all. It is fatal for the current request and never retried
// internally.
var ErrPoolExhausted = errors.New("no credential available for request")

// SelectionRequest describes one selection pass.
type SelectionRequest struct {
	Mode model.ProviderMode
	// RequesterID identifies the requesting user; nil means a system
	// caller with full pool visibility.
	RequesterID  *int64
	RequiredTier model.Tier
	Group        model.FeatureGroup
	ExcludeIDs   []int64
}

// SelectionEngine picks the single best candidate credential for a request.
// The store performs mode/active/tenant/tier/visibility/exclusion filtering
// and group fairness ordering; the engine resolves the pool policy into
// owner/shared terms and partitions by cooldown.
type SelectionEngine struct {
	store   driven.CredentialStore
	tracker *CooldownTracker
	cfg     *config.Config
}

// NewSelectionEngine creates a SelectionEngine.
func NewSelectionEngine(store driven.CredentialStore, tracker *CooldownTracker, cfg *config.Config) *SelectionEngine {
	return &SelectionEngine{store: store, tracker: tracker, cfg: cfg}
}

// Select returns the best usable credential for the request, committing its
// group last-used touch immediately. When every filtered candidate is
// cooling down the head of the fairness order is returned anyway, so a
// saturated pool serves degraded traffic instead of hard-failing; only an
// empty filtered set yields ErrPoolExhausted.
func (e *SelectionEngine) Select(ctx context.Context, req SelectionRequest) (*model.Credential, error) {
	includeShared, err := e.sharedPoolAdmitted(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.ListCandidates(ctx, driven.CandidateQuery{
		Mode:           req.Mode,
		RequiredTier:   req.RequiredTier,
		SkipTierFilter: e.cfg.Mode(req.Mode).SkipTierFilter,
		Group:          req.Group,
		OwnerID:        req.RequesterID,
		IncludeShared:  includeShared,
		ExcludeIDs:     req.ExcludeIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrPoolExhausted
	}

	now := time.Now()
	chosen := &candidates[0]
	degraded := true
	for i := range candidates {
		if !e.tracker.InCooldown(&candidates[i], req.Group, now) {
			chosen = &candidates[i]
			degraded = false
			break
		}
	}
	if degraded {
		slog.Warn("all candidates cooling down, serving degraded",
			"mode", req.Mode,
			"group", req.Group,
			"credential_id", chosen.ID,
		)
	}

	if err := e.store.TouchUsage(ctx, chosen.ID, req.Group, now); err != nil {
		return nil, fmt.Errorf("touch usage: %w", err)
	}
	touched := now
	switch req.Group {
	case model.GroupPro:
		chosen.LastUsedPro = &touched
	case model.GroupPremium:
		chosen.LastUsedPremium = &touched
	default:
		chosen.LastUsedFlash = &touched
	}
	chosen.TotalRequests++

	slog.Debug("credential selected",
		"mode", req.Mode,
		"group", req.Group,
		"credential_id", chosen.ID,
		"email", chosen.Email,
		"degraded", degraded,
	)
	return chosen, nil
}

// sharedPoolAdmitted resolves the mode's pool policy for the requester.
// System callers (nil requester) always see the shared pool.
func (e *SelectionEngine) sharedPoolAdmitted(ctx context.Context, req SelectionRequest) (bool, error) {
	if req.RequesterID == nil {
		return true, nil
	}

	switch e.cfg.Mode(req.Mode).PoolPolicy {
	case model.PoolPrivate:
		return false, nil
	case model.PoolFullShared:
		// The shared pool is open to anyone who has contributed at
		// least one active public credential of the mode.
		ok, err := e.store.HasActiveCredential(ctx, *req.RequesterID, req.Mode, "", true)
		if err != nil {
			return false, fmt.Errorf("check pool contribution: %w", err)
		}
		return ok, nil
	default: // tier-shared
		if req.RequiredTier != model.Tier3 {
			return true, nil
		}
		// The shared premium pool only serves requesters who hold a
		// qualifying tier themselves.
		ok, err := e.store.HasActiveCredential(ctx, *req.RequesterID, req.Mode, model.Tier3, false)
		if err != nil {
			return false, fmt.Errorf("check tier entitlement: %w", err)
		}
		return ok, nil
	}
}
