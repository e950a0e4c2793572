package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// CooldownTracker answers "is this credential usable for this group right
// now?" from two independent sources: a fixed configured duration measured
// from the group's last use, and an upstream-imposed absolute deadline parsed
// from 429 responses.
type CooldownTracker struct {
	store driven.CredentialStore
	cfg   *config.Config
}

// NewCooldownTracker creates a CooldownTracker.
func NewCooldownTracker(store driven.CredentialStore, cfg *config.Config) *CooldownTracker {
	return &CooldownTracker{store: store, cfg: cfg}
}

// InCooldown reports whether the credential is cooling down for the group at
// the supplied instant. Either source alone is enough.
func (t *CooldownTracker) InCooldown(c *model.Credential, group model.FeatureGroup, now time.Time) bool {
	if fixed := t.cfg.CooldownFor(group); fixed > 0 {
		if last := c.LastUsedFor(group); last != nil && now.Sub(*last) < fixed {
			return true
		}
	}
	_, cooling := c.Cooldowns.Until(group, now)
	return cooling
}

// RecordRateLimit parses the upstream 429 payload, persists the resulting
// absolute cooldown for the group, records failure bookkeeping, and returns
// the cooldown length in whole seconds.
func (t *CooldownTracker) RecordRateLimit(ctx context.Context, credentialID int64, group model.FeatureGroup, body, retryAfter string) (int64, error) {
	now := time.Now()
	until := ParseCooldownUntil(body, retryAfter, now, t.cfg.RateLimitFallback)

	if err := t.store.SetCooldown(ctx, credentialID, group, until); err != nil {
		return 0, fmt.Errorf("persist cooldown: %w", err)
	}
	if err := t.store.RecordFailure(ctx, credentialID, "rate limited: "+body); err != nil {
		return 0, fmt.Errorf("record rate limit failure: %w", err)
	}

	seconds := int64(until.Sub(now).Round(time.Second) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	slog.Info("rate limit recorded",
		"credential_id", credentialID,
		"group", group,
		"cooldown_seconds", seconds,
	)
	return seconds, nil
}

// Upstream 429 bodies are inconsistent across providers and endpoints; only
// the reset-timestamp form is reliably structured, the rest are fished out
// of free text.
var (
	resetStampRe  = regexp.MustCompile(`"quotaResetTimeStamp"\s*:\s*"([^"]+)"`)
	retryDelayRe  = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`)
	compoundRe    = regexp.MustCompile(`\b(?:\d+h)?(?:\d+m)?\d+(?:\.\d+)?s\b`)
	retryAfterRe  = regexp.MustCompile(`(?i)retry after (\d+) seconds?`)
	bareSecondsRe = regexp.MustCompile(`(\d+)\s*seconds?`)
)

// ParseCooldownUntil extracts the usable-again instant from a rate-limit
// response. Parsers run in decreasing order of precision and the first hit
// wins; when nothing matches, the fallback duration applies so a 429 is
// never silently ignored.
func ParseCooldownUntil(body, retryAfter string, now time.Time, fallback time.Duration) time.Time {
	// Absolute reset timestamp, as emitted inside structured error details.
	if stamp := gjson.Get(body, `error.details.#.quotaResetTimeStamp|0`).String(); stamp != "" {
		if ts, err := time.Parse(time.RFC3339, stamp); err == nil {
			return ts
		}
	}
	if m := resetStampRe.FindStringSubmatch(body); m != nil {
		if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
			return ts
		}
	}

	// Numeric Retry-After header.
	if retryAfter != "" {
		if secs, err := strconv.ParseInt(retryAfter, 10, 64); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	// RetryInfo detail, either at its documented location or anywhere in
	// the body.
	if delay := gjson.Get(body, `error.details.#(@type%"*RetryInfo").retryDelay`).String(); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			return now.Add(d)
		}
	}
	if m := retryDelayRe.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return now.Add(time.Duration(secs * float64(time.Second)))
		}
	}

	// Compound delay string ("1h2m3s" and friends).
	if m := compoundRe.FindString(body); m != "" {
		if d, err := time.ParseDuration(m); err == nil && d > 0 {
			return now.Add(d)
		}
	}

	// Free text.
	if m := retryAfterRe.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	if m := bareSecondsRe.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	return now.Add(fallback)
}
