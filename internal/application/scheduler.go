package application

import (
	"context"
	"time"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// AttemptState carries one retry iteration's working set through the
// external retry orchestrator. Each iteration receives it, mutates it, and
// hands it to the next; no closure captures.
type AttemptState struct {
	Credential  *model.Credential
	AccessToken string
	TenantID    string
	// TriedIDs accumulates the credentials already attempted, fed back
	// into selection as the exclusion set.
	TriedIDs []int64
}

// Exclude marks the current credential as tried.
func (s *AttemptState) Exclude() {
	if s.Credential != nil {
		s.TriedIDs = append(s.TriedIDs, s.Credential.ID)
	}
}

// Scheduler is the consumer-facing facade over the scheduling components.
// Request handlers and the retry orchestrator only ever talk to this type.
type Scheduler struct {
	cfg       *config.Config
	selection *SelectionEngine
	tracker   *CooldownTracker
	resolver  *Resolver
	failures  *FailureHandler
	preheat   *PreheatCoordinator
}

// NewScheduler wires the scheduling components over the given stores and
// per-mode upstream clients.
func NewScheduler(
	cfg *config.Config,
	creds driven.CredentialStore,
	users driven.UserStore,
	oauth map[model.ProviderMode]driven.OAuthClient,
	tenants map[model.ProviderMode]driven.TenantClient,
) *Scheduler {
	tracker := NewCooldownTracker(creds, cfg)
	selection := NewSelectionEngine(creds, tracker, cfg)
	tokens := NewTokenManager(creds, oauth, cfg)
	resolver := NewResolver(creds, tokens, tenants)

	return &Scheduler{
		cfg:       cfg,
		selection: selection,
		tracker:   tracker,
		resolver:  resolver,
		failures:  NewFailureHandler(creds, users, cfg),
		preheat:   NewPreheatCoordinator(selection, resolver),
	}
}

// request maps a model name onto the selection terms.
func (s *Scheduler) request(mode model.ProviderMode, requesterID *int64, requiredModel string, excludeIDs []int64) SelectionRequest {
	return SelectionRequest{
		Mode:         mode,
		RequesterID:  requesterID,
		RequiredTier: RequiredTier(requiredModel),
		Group:        GroupForModel(mode, requiredModel),
		ExcludeIDs:   excludeIDs,
	}
}

// SelectCredential returns the best credential for serving requiredModel, or
// ErrPoolExhausted when the filtered pool is empty.
func (s *Scheduler) SelectCredential(ctx context.Context, mode model.ProviderMode, requesterID *int64, requiredModel string, excludeIDs []int64) (*model.Credential, error) {
	return s.selection.Select(ctx, s.request(mode, requesterID, requiredModel, excludeIDs))
}

// ResolveTokenAndTenant returns the (token, tenant id) pair the credential
// needs for an upstream call, refreshing and provisioning on demand.
func (s *Scheduler) ResolveTokenAndTenant(ctx context.Context, c *model.Credential) (string, string, error) {
	return s.resolver.Resolve(ctx, c)
}

// RecordFailure applies failure bookkeeping and, for auth failures, disables
// the credential and compensates its owner's bonus quota.
func (s *Scheduler) RecordFailure(ctx context.Context, credentialID int64, errText string) error {
	return s.failures.RecordFailure(ctx, credentialID, errText)
}

// RecordRateLimit parses the 429 payload, sets the group cooldown, and
// returns its length in seconds.
func (s *Scheduler) RecordRateLimit(ctx context.Context, credentialID int64, group model.FeatureGroup, body, retryAfter string) (int64, error) {
	return s.tracker.RecordRateLimit(ctx, credentialID, group, body, retryAfter)
}

// GroupFor maps a model name to the feature group callers pass to
// RecordRateLimit.
func (s *Scheduler) GroupFor(mode model.ProviderMode, requiredModel string) model.FeatureGroup {
	return GroupForModel(mode, requiredModel)
}

// StartPreheat launches a background task preparing the next failover
// candidate. The caller owns the returned handle; one handle per request at
// a time.
func (s *Scheduler) StartPreheat(mode model.ProviderMode, requesterID *int64, requiredModel string, excludeIDs []int64) *PreheatHandle {
	return s.preheat.Start(s.request(mode, requesterID, requiredModel, excludeIDs))
}

// AwaitPreheat consumes the handle's result with a bounded wait; a
// non-positive timeout uses the configured default. Nil means the caller
// should fall back to SelectCredential.
func (s *Scheduler) AwaitPreheat(ctx context.Context, handle *PreheatHandle, timeout time.Duration) *PreheatResult {
	if timeout <= 0 {
		timeout = s.cfg.PreheatTimeout
	}
	return handle.Await(ctx, timeout)
}
