package model

import (
	"net/http"
	"strings"
)

// FailureKind classifies an upstream failure so the retry orchestrator can
// make its decision without string-matching error messages.
type FailureKind int

const (
	// FailureTransient covers 5xx responses, timeouts, and connection
	// resets: retried on another credential, bookkeeping only.
	FailureTransient FailureKind = iota
	// FailureAuth is credential-fatal (401/403/invalid_grant): the
	// credential is disabled and the request retried elsewhere.
	FailureAuth
	// FailureRateLimited (429) sets a per-group cooldown and is retried on
	// another credential when one exists.
	FailureRateLimited
	// FailureExhausted means no credential passed the selection filter at
	// all: fatal for the request, never retried internally.
	FailureExhausted
	// FailureProvisioning means the tenant id could not be obtained; the
	// credential is unusable until provisioning succeeds and is treated
	// like an auth failure.
	FailureProvisioning
)

// String returns the kind's lower-case name for logs.
func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureRateLimited:
		return "rate-limited"
	case FailureExhausted:
		return "exhausted"
	case FailureProvisioning:
		return "provisioning"
	default:
		return "transient"
	}
}

// CredentialFatal reports whether the failure should disable the credential.
func (k FailureKind) CredentialFatal() bool {
	return k == FailureAuth || k == FailureProvisioning
}

// Markers that identify an authentication failure inside free-form upstream
// error text. Kept as substrings because upstream error shapes vary by
// provider and even by endpoint.
var authMarkers = []string{
	"401",
	"403",
	"invalid_grant",
	"PERMISSION_DENIED",
	"UNAUTHENTICATED",
}

// IsAuthFailureText reports whether free-form error text carries an
// authentication-failure marker.
func IsAuthFailureText(text string) bool {
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ClassifyFailure maps an upstream HTTP status and response body to a
// FailureKind. It is a pure function: the orchestrator's retry decision
// depends only on its result.
func ClassifyFailure(status int, body string) FailureKind {
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(body, "RESOURCE_EXHAUSTED"):
		return FailureRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status >= 500:
		return FailureTransient
	case status == 0 && IsAuthFailureText(body):
		// No status means a transport-level error string; auth markers can
		// still appear there (token refresh rejections).
		return FailureAuth
	default:
		return FailureTransient
	}
}
