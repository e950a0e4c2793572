// Package upstream implements the OAuthClient and TenantClient ports against
// the provider HTTP endpoints. One client instance is built per provider
// mode; mode-specific data (base URL, user agent, OAuth client) arrives as
// constructor arguments, never via string branching.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/credshare/credpool/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthClient = (*TokenClient)(nil)

// TokenClient performs the refresh-token grant against one mode's OAuth
// token endpoint.
type TokenClient struct {
	httpClient *http.Client
	tokenURL   string
	userAgent  string
}

// NewTokenClient creates a TokenClient for the given token endpoint.
func NewTokenClient(tokenURL, userAgent string) *TokenClient {
	return &TokenClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokenURL:   tokenURL,
		userAgent:  userAgent,
	}
}

// NewTokenClientWithHTTPClient creates a TokenClient with a custom
// http.Client and endpoint. Intended for testing against httptest servers.
func NewTokenClientWithHTTPClient(httpClient *http.Client, tokenURL, userAgent string) *TokenClient {
	return &TokenClient{httpClient: httpClient, tokenURL: tokenURL, userAgent: userAgent}
}

// tokenResponse is the subset of the token endpoint's reply the scheduler
// needs. Error fields are populated on rejection (e.g. invalid_grant).
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh exchanges a refresh token for a fresh access token. The returned
// error text retains the endpoint's error code so callers can classify
// invalid_grant as an authentication failure.
func (c *TokenClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (driven.TokenGrant, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return driven.TokenGrant{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return driven.TokenGrant{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return driven.TokenGrant{}, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return driven.TokenGrant{}, fmt.Errorf("decode token response (HTTP %d): %w", resp.StatusCode, err)
	}

	if tr.AccessToken == "" {
		if tr.Error != "" {
			return driven.TokenGrant{}, fmt.Errorf("token refresh rejected: %s: %s", tr.Error, tr.ErrorDescription)
		}
		return driven.TokenGrant{}, fmt.Errorf("token refresh failed: HTTP %d", resp.StatusCode)
	}

	grant := driven.TokenGrant{AccessToken: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		grant.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return grant, nil
}
