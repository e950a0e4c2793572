package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/credshare/credpool/internal/domain/port/driven"
)

var _ driven.TenantClient = (*TenantClient)(nil)

const (
	defaultOnboardTier  = "LEGACY"
	onboardPollAttempts = 5
	onboardPollInterval = 2 * time.Second
)

// TenantClient provisions the workspace handle ("tenant id") that a
// credential needs before it can serve requests. Provisioning is a two-step
// handshake: a load-assist call that reports the account's tier and any
// existing tenant, then an onboard call polled until the workspace exists.
type TenantClient struct {
	httpClient   *http.Client
	apiBase      string
	userAgent    string
	ideType      string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewTenantClient creates a TenantClient for one mode's API base URL.
func NewTenantClient(apiBase, userAgent, ideType string, logger *slog.Logger) *TenantClient {
	return &TenantClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		apiBase:      apiBase,
		userAgent:    userAgent,
		ideType:      ideType,
		pollInterval: onboardPollInterval,
		logger:       logger,
	}
}

// NewTenantClientWithHTTPClient creates a TenantClient with a custom
// http.Client, API base, and poll interval. Intended for testing.
func NewTenantClientWithHTTPClient(httpClient *http.Client, apiBase, userAgent, ideType string, pollInterval time.Duration, logger *slog.Logger) *TenantClient {
	return &TenantClient{
		httpClient:   httpClient,
		apiBase:      apiBase,
		userAgent:    userAgent,
		ideType:      ideType,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (c *TenantClient) metadata() map[string]string {
	return map[string]string{
		"ideType":    c.ideType,
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	}
}

type loadAssistResponse struct {
	Project      string     `json:"cloudaicompanionProject"`
	CurrentTier  *tierInfo  `json:"currentTier"`
	AllowedTiers []tierInfo `json:"allowedTiers"`
}

type tierInfo struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

// FetchTenantID resolves the tenant id for the account behind accessToken,
// onboarding the account first when it has no workspace yet. A ("", nil)
// return means the tenant could not be obtained this attempt; only context
// cancellation is reported as an error.
func (c *TenantClient) FetchTenantID(ctx context.Context, accessToken string) (string, error) {
	la, err := c.loadAssist(ctx, accessToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("load assist failed", "error", err)
		return "", nil
	}

	// An already-onboarded account reports its tenant directly.
	if la.CurrentTier != nil && la.Project != "" {
		return la.Project, nil
	}

	tier := defaultOnboardTier
	for _, t := range la.AllowedTiers {
		if t.IsDefault && t.ID != "" {
			tier = t.ID
			break
		}
	}

	tenantID, err := c.onboard(ctx, accessToken, tier)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("onboard failed", "tier", tier, "error", err)
		return "", nil
	}
	return tenantID, nil
}

func (c *TenantClient) loadAssist(ctx context.Context, accessToken string) (*loadAssistResponse, error) {
	body, err := c.post(ctx, accessToken, "/v1internal:loadCodeAssist", map[string]any{
		"metadata": c.metadata(),
	})
	if err != nil {
		return nil, err
	}

	var la loadAssistResponse
	if err := json.Unmarshal(body, &la); err != nil {
		return nil, fmt.Errorf("decode load assist response: %w", err)
	}
	return &la, nil
}

// onboard requests workspace creation and polls until the long-running
// operation completes. The completed operation carries the tenant either as
// an object with an id field or as a bare string, depending on the backend.
func (c *TenantClient) onboard(ctx context.Context, accessToken, tier string) (string, error) {
	payload := map[string]any{
		"tierId":   tier,
		"metadata": c.metadata(),
	}

	for attempt := 0; attempt < onboardPollAttempts; attempt++ {
		body, err := c.post(ctx, accessToken, "/v1internal:onboardUser", payload)
		if err != nil {
			return "", err
		}

		doc := string(body)
		if gjson.Get(doc, "done").Bool() {
			if id := gjson.Get(doc, "response.cloudaicompanionProject.id").String(); id != "" {
				return id, nil
			}
			if id := gjson.Get(doc, "response.cloudaicompanionProject").String(); id != "" {
				return id, nil
			}
			return "", fmt.Errorf("onboard completed without tenant id")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return "", fmt.Errorf("onboard did not complete after %d attempts", onboardPollAttempts)
}

func (c *TenantClient) post(ctx context.Context, accessToken, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
