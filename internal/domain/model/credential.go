package model

import "time"

// CooldownMap holds upstream-imposed cooldowns per feature group as absolute
// usable-again timestamps. Entries are only ever appended or overwritten;
// stale entries become irrelevant once their timestamp passes and are checked
// lazily at read time.
type CooldownMap map[FeatureGroup]time.Time

// Until returns the cooldown deadline for the given group and whether the
// group is still cooling down at the supplied instant.
func (m CooldownMap) Until(group FeatureGroup, now time.Time) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	until, ok := m[group]
	if !ok || !until.After(now) {
		return time.Time{}, false
	}
	return until, true
}

// Prune removes entries whose deadline has already passed. It mutates the
// receiver and reports how many entries were dropped.
func (m CooldownMap) Prune(now time.Time) int {
	dropped := 0
	for group, until := range m {
		if !until.After(now) {
			delete(m, group)
			dropped++
		}
	}
	return dropped
}

// Clone returns a shallow copy so callers can mutate a credential's cooldown
// state without aliasing the original map.
func (m CooldownMap) Clone() CooldownMap {
	if m == nil {
		return nil
	}
	out := make(CooldownMap, len(m))
	for group, until := range m {
		out[group] = until
	}
	return out
}

// Credential is a pooled upstream account. Token material crosses the domain
// boundary as plaintext; the store adapter is responsible for encryption at
// rest.
type Credential struct {
	ID     int64
	UserID *int64 // nil for system-level credentials
	Mode   ProviderMode
	Kind   CredentialKind
	Email  string // upstream account identity, used in logs only

	Tier         Tier
	AccountClass AccountClass
	IsPublic     bool
	IsActive     bool

	AccessToken  string
	RefreshToken string
	ClientID     string // per-credential OAuth override; empty means mode default
	ClientSecret string
	TenantID     string
	TokenExpiry  *time.Time // nil means expiry unknown: treated as always stale

	LastUsedFlash   *time.Time
	LastUsedPro     *time.Time
	LastUsedPremium *time.Time
	Cooldowns       CooldownMap

	TotalRequests  int64
	FailedRequests int64
	LastError      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastUsedFor returns the group-specific last-used timestamp, or nil when the
// credential has never served that group.
func (c *Credential) LastUsedFor(group FeatureGroup) *time.Time {
	switch group {
	case GroupPro:
		return c.LastUsedPro
	case GroupPremium:
		return c.LastUsedPremium
	default:
		return c.LastUsedFlash
	}
}

// HasTenant reports whether the credential holds the backend tenant id it
// needs before any upstream call can succeed. Credentials without one are
// never selectable.
func (c *Credential) HasTenant() bool {
	return c.TenantID != ""
}

// OwnerID returns the owning user id and whether the credential has an owner.
func (c *Credential) OwnerID() (int64, bool) {
	if c.UserID == nil {
		return 0, false
	}
	return *c.UserID, true
}
