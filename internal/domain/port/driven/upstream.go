package driven

import (
	"context"
	"time"
)

// TokenGrant is the result of a refresh-token exchange.
type TokenGrant struct {
	AccessToken string
	Expiry      time.Time // zero when the endpoint returned no lifetime
}

// OAuthClient performs the standard refresh-token grant against one mode's
// token endpoint.
type OAuthClient interface {
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (TokenGrant, error)
}

// TenantClient obtains the backend tenant id a credential needs before it is
// usable, via the load-assist/onboard handshake. It returns ("", nil) when
// the id is unobtainable: transport errors at either step are soft failures,
// never propagated to callers.
type TenantClient interface {
	FetchTenantID(ctx context.Context, accessToken string) (string, error)
}
