// Package application contains the scheduling use-cases: selection,
// cooldown tracking, token refresh, tenant resolution, failure handling,
// and preheat coordination.
package application

import (
	"strings"

	"github.com/credshare/credpool/internal/domain/model"
)

// GroupForModel maps a requested model name to the feature group that scopes
// its cooldowns and fairness ordering. The mapping is deliberately simple
// keyword matching: upstream model names are unstable, so a lookup table
// would rot.
func GroupForModel(mode model.ProviderMode, modelName string) model.FeatureGroup {
	name := strings.ToLower(modelName)

	if mode == model.ModeAntigravity {
		// The agent-style backend buckets quota by brand family rather
		// than by generation.
		if strings.Contains(name, "claude") {
			return model.GroupPro
		}
		if strings.Contains(name, "image") || strings.Contains(name, "banana") {
			return model.GroupPremium
		}
	}

	if strings.Contains(name, "gemini-3") {
		return model.GroupPremium
	}
	if strings.Contains(name, "pro") {
		return model.GroupPro
	}
	return model.GroupFlash
}

// RequiredTier returns the credential tier a model name demands. Only the
// premium generation requires the higher tier; a higher-tier credential can
// always serve lower-tier requests.
func RequiredTier(modelName string) model.Tier {
	if strings.Contains(strings.ToLower(modelName), "gemini-3") {
		return model.Tier3
	}
	return model.Tier25
}
