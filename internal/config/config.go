// Package config loads application configuration from environment variables.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/credshare/credpool/internal/domain/model"
)

// ModeConfig carries the per-mode upstream configuration. It is attached to
// the ProviderMode variant as data so call sites never branch on mode
// strings.
type ModeConfig struct {
	APIBase      string // provisioning API base URL
	TokenURL     string // OAuth token endpoint
	UserAgent    string
	IDEType      string // client identity reported in provisioning metadata
	ClientID     string // system default OAuth client; per-credential overrides win
	ClientSecret string
	PoolPolicy   model.PoolPolicy
	// SkipTierFilter disables selection-time tier matching for modes whose
	// upstream enforces entitlements itself.
	SkipTierFilter bool
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath    string
	SecretKey []byte // 32-byte key for token material at rest; nil disables encryption-dependent paths

	// Fixed per-group cooldowns measured from the group's last use.
	// Zero disables the group's fixed cooldown.
	CooldownFlash   time.Duration
	CooldownPro     time.Duration
	CooldownPremium time.Duration

	// RateLimitFallback is applied when a 429 carries no parseable
	// cooldown, so a rate limit is never silently ignored.
	RateLimitFallback time.Duration

	RetryCount     int           // failovers per request after the first attempt
	PreheatTimeout time.Duration // bound on awaiting an in-flight preheat task
	RefreshMargin  time.Duration // token treated stale this close to expiry
	SweepInterval  time.Duration // maintenance sweep period for credpoold

	// Bonus-quota grants per group, used to size the compensation deducted
	// when a donated public credential dies on an auth failure.
	QuotaFlash   int64
	QuotaPro     int64
	QuotaPremium int64

	// Modes holds per-mode upstream configuration, keyed by the closed
	// provider enum.
	Modes map[model.ProviderMode]ModeConfig
}

// Mode returns the configuration attached to the given provider mode.
func (c *Config) Mode(mode model.ProviderMode) ModeConfig {
	return c.Modes[mode]
}

// CooldownFor returns the configured fixed cooldown for a feature group.
func (c *Config) CooldownFor(group model.FeatureGroup) time.Duration {
	switch group {
	case model.GroupPro:
		return c.CooldownPro
	case model.GroupPremium:
		return c.CooldownPremium
	default:
		return c.CooldownFlash
	}
}

// QuotaFor returns the bonus-quota grant for a feature group.
func (c *Config) QuotaFor(group model.FeatureGroup) int64 {
	switch group {
	case model.GroupPro:
		return c.QuotaPro
	case model.GroupPremium:
		return c.QuotaPremium
	default:
		return c.QuotaFlash
	}
}

// Load reads configuration from the environment (after best-effort .env
// loading) and returns a validated Config. All variables have defaults
// except the per-mode upstream endpoints, which stay empty until deployment
// provides them; components fail fast when they need an endpoint that is
// not set.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional; real env always wins

	cfg := &Config{
		DBPath:            getEnv("CREDPOOL_DB_PATH", "credpool.db"),
		CooldownFlash:     0,
		CooldownPro:       0,
		CooldownPremium:   0,
		RateLimitFallback: time.Minute,
		RetryCount:        2,
		PreheatTimeout:    5 * time.Second,
		RefreshMargin:     5 * time.Minute,
		SweepInterval:     15 * time.Minute,
		QuotaFlash:        100,
		QuotaPro:          25,
		QuotaPremium:      25,
	}

	if v := os.Getenv("CREDPOOL_SECRET_KEY"); v != "" {
		// Derive a fixed-size key so operators can use any passphrase.
		key := sha256.Sum256([]byte(v))
		cfg.SecretKey = key[:]
	}

	for _, p := range []struct {
		env string
		dst *time.Duration
	}{
		{"CREDPOOL_COOLDOWN_FLASH", &cfg.CooldownFlash},
		{"CREDPOOL_COOLDOWN_PRO", &cfg.CooldownPro},
		{"CREDPOOL_COOLDOWN_PREMIUM", &cfg.CooldownPremium},
		{"CREDPOOL_RATELIMIT_FALLBACK", &cfg.RateLimitFallback},
		{"CREDPOOL_PREHEAT_TIMEOUT", &cfg.PreheatTimeout},
		{"CREDPOOL_REFRESH_MARGIN", &cfg.RefreshMargin},
		{"CREDPOOL_SWEEP_INTERVAL", &cfg.SweepInterval},
	} {
		if v, ok := os.LookupEnv(p.env); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s has invalid duration %q: %w", p.env, v, err)
			}
			*p.dst = parsed
		}
	}

	for _, p := range []struct {
		env string
		dst *int64
	}{
		{"CREDPOOL_QUOTA_FLASH", &cfg.QuotaFlash},
		{"CREDPOOL_QUOTA_PRO", &cfg.QuotaPro},
		{"CREDPOOL_QUOTA_PREMIUM", &cfg.QuotaPremium},
	} {
		if v, ok := os.LookupEnv(p.env); ok {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s has invalid integer %q: %w", p.env, v, err)
			}
			*p.dst = parsed
		}
	}

	if v, ok := os.LookupEnv("CREDPOOL_RETRY_COUNT"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("CREDPOOL_RETRY_COUNT has invalid value %q", v)
		}
		cfg.RetryCount = parsed
	}

	cfg.Modes = map[model.ProviderMode]ModeConfig{}
	for _, m := range model.Modes() {
		mc, err := loadMode(m)
		if err != nil {
			return nil, err
		}
		cfg.Modes[m] = mc
	}

	return cfg, nil
}

// loadMode reads one mode's env block, e.g. CREDPOOL_GEMINI_CLI_API_BASE.
func loadMode(mode model.ProviderMode) (ModeConfig, error) {
	prefix := "CREDPOOL_" + envKey(mode) + "_"

	mc := ModeConfig{
		APIBase:      os.Getenv(prefix + "API_BASE"),
		TokenURL:     getEnv(prefix+"TOKEN_URL", "https://oauth2.googleapis.com/token"),
		UserAgent:    os.Getenv(prefix + "USER_AGENT"),
		IDEType:      getEnv(prefix+"IDE_TYPE", "IDE_UNSPECIFIED"),
		ClientID:     os.Getenv(prefix + "CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
		PoolPolicy:   model.PoolTierShared,
		// The agent-style backend checks entitlements server-side, so
		// selection does not filter by tier there.
		SkipTierFilter: mode == model.ModeAntigravity,
	}
	if mode == model.ModeAntigravity {
		mc.PoolPolicy = model.PoolFullShared
		mc.IDEType = getEnv(prefix+"IDE_TYPE", "ANTIGRAVITY")
	}

	if v, ok := os.LookupEnv(prefix + "POOL_POLICY"); ok {
		policy := model.PoolPolicy(v)
		if !policy.Valid() {
			return ModeConfig{}, fmt.Errorf("%sPOOL_POLICY has invalid value %q", prefix, v)
		}
		mc.PoolPolicy = policy
	}

	return mc, nil
}

// envKey converts a mode name to its env-var segment ("gemini-cli" -> "GEMINI_CLI").
func envKey(mode model.ProviderMode) string {
	out := make([]byte, len(mode))
	for i := 0; i < len(mode); i++ {
		c := mode[i]
		switch {
		case c == '-':
			out[i] = '_'
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		default:
			out[i] = c
		}
	}
	return string(out)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
