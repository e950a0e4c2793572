package driven

import (
	"context"
	"errors"
	"time"

	"github.com/credshare/credpool/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations touching
// token material when CREDPOOL_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set CREDPOOL_SECRET_KEY")

// CandidateQuery describes one selection pass over the pool. Visibility has
// already been resolved by the selection engine into owner/shared terms.
type CandidateQuery struct {
	Mode model.ProviderMode
	// RequiredTier restricts candidates to exactly that tier when it is
	// Tier3; Tier25 requests accept any tier (capability superset).
	RequiredTier model.Tier
	// SkipTierFilter disables the tier restriction entirely (provider
	// modes whose upstream enforces entitlements itself).
	SkipTierFilter bool
	// Group picks which group-specific last-used column orders the result
	// (ascending, nulls first).
	Group model.FeatureGroup
	// OwnerID scopes the private part of the pool; nil matches no owned
	// credentials.
	OwnerID *int64
	// IncludeShared additionally admits public credentials of the mode.
	IncludeShared bool
	ExcludeIDs    []int64
}

// CredentialStore is the driven port for credential persistence. Every write
// path re-reads-then-writes inside one short transaction; the transactional
// commit is the scheduler's only cross-process synchronization primitive.
type CredentialStore interface {
	// GetByID returns the credential or (nil, nil) when it does not exist.
	GetByID(ctx context.Context, id int64) (*model.Credential, error)

	// ListCandidates returns active, tenant-bearing credentials matching
	// the query, ordered by the group-specific last-used timestamp
	// ascending with nulls first.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]model.Credential, error)

	// HasActiveCredential reports whether the user owns an active
	// credential of the mode matching the tier (any tier when tier is
	// empty) and, when publicOnly is set, flagged public.
	HasActiveCredential(ctx context.Context, userID int64, mode model.ProviderMode, tier model.Tier, publicOnly bool) (bool, error)

	// TouchUsage stamps the group-specific last-used timestamp and
	// increments the total counter, committed immediately.
	TouchUsage(ctx context.Context, id int64, group model.FeatureGroup, now time.Time) error

	// SaveToken persists a freshly refreshed access token and its expiry.
	SaveToken(ctx context.Context, id int64, accessToken string, expiry *time.Time) error

	// SaveTenantID persists a provisioned tenant id.
	SaveTenantID(ctx context.Context, id int64, tenantID string) error

	// SetCooldown records an upstream-imposed cooldown deadline for the
	// group, pruning already-expired entries while it holds the row.
	SetCooldown(ctx context.Context, id int64, group model.FeatureGroup, until time.Time) error

	// RecordFailure increments the failure counter and stores the error
	// text (truncated by the adapter).
	RecordFailure(ctx context.Context, id int64, errText string) error

	// Disable sets is_active to false. The scheduler never re-activates.
	Disable(ctx context.Context, id int64) error

	// ListActive returns every active credential of the mode, without
	// ordering guarantees. Used by the maintenance sweep and diagnostics.
	ListActive(ctx context.Context, mode model.ProviderMode) ([]model.Credential, error)
}
