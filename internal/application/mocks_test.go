package application_test

import (
	"context"
	"time"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// --- Mock implementations ---

type touchCall struct {
	ID    int64
	Group model.FeatureGroup
}

type cooldownCall struct {
	ID    int64
	Group model.FeatureGroup
	Until time.Time
}

type tokenCall struct {
	ID          int64
	AccessToken string
	Expiry      *time.Time
}

type mockCredentialStore struct {
	getByID        func(ctx context.Context, id int64) (*model.Credential, error)
	listCandidates func(ctx context.Context, q driven.CandidateQuery) ([]model.Credential, error)
	hasActive      func(ctx context.Context, userID int64, mode model.ProviderMode, tier model.Tier, publicOnly bool) (bool, error)
	listActive     func(ctx context.Context, mode model.ProviderMode) ([]model.Credential, error)

	touches      []touchCall
	cooldowns    []cooldownCall
	savedTokens  []tokenCall
	savedTenants map[int64]string
	failures     map[int64][]string
	disabled     []int64
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{
		savedTenants: map[int64]string{},
		failures:     map[int64][]string{},
	}
}

func (m *mockCredentialStore) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	if m.getByID != nil {
		return m.getByID(ctx, id)
	}
	return nil, nil
}

func (m *mockCredentialStore) ListCandidates(ctx context.Context, q driven.CandidateQuery) ([]model.Credential, error) {
	if m.listCandidates != nil {
		return m.listCandidates(ctx, q)
	}
	return nil, nil
}

func (m *mockCredentialStore) HasActiveCredential(ctx context.Context, userID int64, mode model.ProviderMode, tier model.Tier, publicOnly bool) (bool, error) {
	if m.hasActive != nil {
		return m.hasActive(ctx, userID, mode, tier, publicOnly)
	}
	return false, nil
}

func (m *mockCredentialStore) TouchUsage(_ context.Context, id int64, group model.FeatureGroup, _ time.Time) error {
	m.touches = append(m.touches, touchCall{ID: id, Group: group})
	return nil
}

func (m *mockCredentialStore) SaveToken(_ context.Context, id int64, accessToken string, expiry *time.Time) error {
	m.savedTokens = append(m.savedTokens, tokenCall{ID: id, AccessToken: accessToken, Expiry: expiry})
	return nil
}

func (m *mockCredentialStore) SaveTenantID(_ context.Context, id int64, tenantID string) error {
	m.savedTenants[id] = tenantID
	return nil
}

func (m *mockCredentialStore) SetCooldown(_ context.Context, id int64, group model.FeatureGroup, until time.Time) error {
	m.cooldowns = append(m.cooldowns, cooldownCall{ID: id, Group: group, Until: until})
	return nil
}

func (m *mockCredentialStore) RecordFailure(_ context.Context, id int64, errText string) error {
	m.failures[id] = append(m.failures[id], errText)
	return nil
}

func (m *mockCredentialStore) Disable(_ context.Context, id int64) error {
	m.disabled = append(m.disabled, id)
	return nil
}

func (m *mockCredentialStore) ListActive(ctx context.Context, mode model.ProviderMode) ([]model.Credential, error) {
	if m.listActive != nil {
		return m.listActive(ctx, mode)
	}
	return nil, nil
}

type deductCall struct {
	UserID int64
	Amount int64
}

type mockUserStore struct {
	getByID func(ctx context.Context, id int64) (*model.User, error)
	deducts []deductCall
}

func (m *mockUserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if m.getByID != nil {
		return m.getByID(ctx, id)
	}
	return nil, nil
}

func (m *mockUserStore) DeductBonusQuota(_ context.Context, id int64, amount int64) (int64, error) {
	m.deducts = append(m.deducts, deductCall{UserID: id, Amount: amount})
	return 0, nil
}

type mockOAuthClient struct {
	refresh func(ctx context.Context, clientID, clientSecret, refreshToken string) (driven.TokenGrant, error)
	calls   int
}

func (m *mockOAuthClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (driven.TokenGrant, error) {
	m.calls++
	return m.refresh(ctx, clientID, clientSecret, refreshToken)
}

type mockTenantClient struct {
	fetch func(ctx context.Context, accessToken string) (string, error)
}

func (m *mockTenantClient) FetchTenantID(ctx context.Context, accessToken string) (string, error) {
	return m.fetch(ctx, accessToken)
}

// --- Fixtures ---

func testConfig() *config.Config {
	return &config.Config{
		RateLimitFallback: time.Minute,
		RetryCount:        2,
		PreheatTimeout:    5 * time.Second,
		RefreshMargin:     5 * time.Minute,
		SweepInterval:     15 * time.Minute,
		QuotaFlash:        100,
		QuotaPro:          25,
		QuotaPremium:      25,
		Modes: map[model.ProviderMode]config.ModeConfig{
			model.ModeGeminiCLI: {
				ClientID:     "default-cid",
				ClientSecret: "default-secret",
				PoolPolicy:   model.PoolTierShared,
			},
			model.ModeAntigravity: {
				ClientID:       "default-cid",
				ClientSecret:   "default-secret",
				PoolPolicy:     model.PoolFullShared,
				SkipTierFilter: true,
			},
		},
	}
}

func activeCredential(id int64, email string) model.Credential {
	return model.Credential{
		ID:           id,
		Mode:         model.ModeGeminiCLI,
		Kind:         model.KindOAuth,
		Email:        email,
		Tier:         model.Tier25,
		IsActive:     true,
		AccessToken:  "at",
		RefreshToken: "rt",
		TenantID:     "tenant",
	}
}

func requesterID(id int64) *int64 { return &id }

func pastTime(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}
