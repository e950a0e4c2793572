package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

func newCoordinator(store *mockCredentialStore, oauth *mockOAuthClient, tenant *mockTenantClient) *application.PreheatCoordinator {
	cfg := testConfig()
	tracker := application.NewCooldownTracker(store, cfg)
	engine := application.NewSelectionEngine(store, tracker, cfg)
	tokens := application.NewTokenManager(store, map[model.ProviderMode]driven.OAuthClient{
		model.ModeGeminiCLI: oauth,
	}, cfg)
	resolver := application.NewResolver(store, tokens, map[model.ProviderMode]driven.TenantClient{
		model.ModeGeminiCLI: tenant,
	})
	return application.NewPreheatCoordinator(engine, resolver)
}

func preheatRequest() application.SelectionRequest {
	return application.SelectionRequest{
		Mode:        model.ModeGeminiCLI,
		RequesterID: requesterID(10),
		Group:       model.GroupFlash,
	}
}

func TestPreheatProducesReadyResult(t *testing.T) {
	store := newMockCredentialStore()
	store.listCandidates = func(context.Context, driven.CandidateQuery) ([]model.Credential, error) {
		c := activeCredential(1, "a@example.com")
		c.TokenExpiry = timeIn(time.Hour)
		return []model.Credential{c}, nil
	}
	coord := newCoordinator(store, &mockOAuthClient{}, &mockTenantClient{})

	handle := coord.Start(preheatRequest())
	defer handle.Cancel()
	assert.NotEmpty(t, handle.ID())

	res := handle.Await(context.Background(), time.Second)
	require.NotNil(t, res)
	assert.Equal(t, int64(1), res.Credential.ID)
	assert.Equal(t, "at", res.AccessToken)
	assert.Equal(t, "tenant", res.TenantID)

	// Selection inside the preheat task already committed the touch.
	assert.Len(t, store.touches, 1)
}

func TestPreheatFailureDeliversNil(t *testing.T) {
	store := newMockCredentialStore()
	store.listCandidates = func(context.Context, driven.CandidateQuery) ([]model.Credential, error) {
		return nil, nil // pool exhausted
	}
	coord := newCoordinator(store, &mockOAuthClient{}, &mockTenantClient{})

	handle := coord.Start(preheatRequest())
	defer handle.Cancel()

	res := handle.Await(context.Background(), time.Second)
	assert.Nil(t, res, "caller falls back to synchronous selection")
}

func TestPreheatAwaitTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	store := newMockCredentialStore()
	store.listCandidates = func(ctx context.Context, _ driven.CandidateQuery) ([]model.Credential, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}
	coord := newCoordinator(store, &mockOAuthClient{}, &mockTenantClient{})

	handle := coord.Start(preheatRequest())
	defer handle.Cancel()

	start := time.Now()
	res := handle.Await(context.Background(), 30*time.Millisecond)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), time.Second, "wait is bounded")
}

func TestPreheatAwaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	store := newMockCredentialStore()
	store.listCandidates = func(ctx context.Context, _ driven.CandidateQuery) ([]model.Credential, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}
	coord := newCoordinator(store, &mockOAuthClient{}, &mockTenantClient{})

	handle := coord.Start(preheatRequest())
	defer handle.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, handle.Await(ctx, time.Minute))
}

func TestPreheatCancelStopsTask(t *testing.T) {
	entered := make(chan struct{})
	store := newMockCredentialStore()
	store.listCandidates = func(ctx context.Context, _ driven.CandidateQuery) ([]model.Credential, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	coord := newCoordinator(store, &mockOAuthClient{}, &mockTenantClient{})

	handle := coord.Start(preheatRequest())
	<-entered
	handle.Cancel()

	res := handle.Await(context.Background(), time.Second)
	assert.Nil(t, res)
}
