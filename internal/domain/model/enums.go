package model

// ProviderMode identifies the upstream backend family a credential belongs to.
// Credentials of different modes are never interchangeable: every selection,
// refresh, and provisioning call is scoped to exactly one mode.
type ProviderMode string

const (
	// ModeGeminiCLI is the code-assist style backend reached through the
	// standard CLI OAuth client.
	ModeGeminiCLI ProviderMode = "gemini-cli"
	// ModeAntigravity is the agent-style backend with its own OAuth client
	// and quota buckets.
	ModeAntigravity ProviderMode = "antigravity"
)

// Valid reports whether m is a member of the closed mode set.
func (m ProviderMode) Valid() bool {
	return m == ModeGeminiCLI || m == ModeAntigravity
}

// Modes lists all provider modes, in a stable order.
func Modes() []ProviderMode {
	return []ProviderMode{ModeGeminiCLI, ModeAntigravity}
}

// Tier is a credential capability level. A higher tier is a strict superset:
// tier "3" credentials can serve tier "2.5" requests, never the reverse.
type Tier string

const (
	Tier25 Tier = "2.5"
	Tier3  Tier = "3"
)

// Serves reports whether a credential of tier t can serve a request that
// requires tier required.
func (t Tier) Serves(required Tier) bool {
	if required == Tier3 {
		return t == Tier3
	}
	return true
}

// CredentialKind distinguishes static API-key credentials from
// OAuth-refreshable ones.
type CredentialKind string

const (
	KindOAuth  CredentialKind = "oauth"
	KindAPIKey CredentialKind = "apikey"
)

// AccountClass is the informational subscription class of the upstream
// account. It feeds quota math only and never affects selection.
type AccountClass string

const (
	ClassPro     AccountClass = "pro"
	ClassFree    AccountClass = "free"
	ClassUnknown AccountClass = "unknown"
)

// FeatureGroup is the coarse bucket a requested model name maps into.
// Fixed cooldowns, upstream-imposed cooldowns, and the fairness ordering are
// all scoped per group, so heavy flash traffic cannot starve a credential's
// pro rotation.
type FeatureGroup string

const (
	GroupFlash   FeatureGroup = "flash"
	GroupPro     FeatureGroup = "pro"
	GroupPremium FeatureGroup = "premium"
)

// Groups lists all feature groups, in a stable order.
func Groups() []FeatureGroup {
	return []FeatureGroup{GroupFlash, GroupPro, GroupPremium}
}

// PoolPolicy governs which credentials a requester may borrow from the pool.
type PoolPolicy string

const (
	// PoolPrivate restricts every requester to their own credentials.
	PoolPrivate PoolPolicy = "private"
	// PoolTierShared opens the shared pool for tier-3 requests only to
	// requesters who themselves hold an active tier-3 credential of the
	// mode; lower-tier requests use the shared pool unconditionally.
	PoolTierShared PoolPolicy = "tier-shared"
	// PoolFullShared opens the shared pool to any requester who has
	// contributed at least one active public credential of the mode.
	PoolFullShared PoolPolicy = "full-shared"
)

// Valid reports whether p is a member of the closed policy set.
func (p PoolPolicy) Valid() bool {
	return p == PoolPrivate || p == PoolTierShared || p == PoolFullShared
}
