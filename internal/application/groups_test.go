package application_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/domain/model"
)

func TestGroupForModel(t *testing.T) {
	tests := []struct {
		mode      model.ProviderMode
		modelName string
		want      model.FeatureGroup
	}{
		{model.ModeGeminiCLI, "gemini-2.5-flash", model.GroupFlash},
		{model.ModeGeminiCLI, "gemini-2.5-pro", model.GroupPro},
		{model.ModeGeminiCLI, "gemini-3-pro-preview", model.GroupPremium},
		{model.ModeGeminiCLI, "Gemini-3-Flash", model.GroupPremium},
		{model.ModeGeminiCLI, "unknown-model", model.GroupFlash},
		{model.ModeAntigravity, "claude-sonnet-4-5", model.GroupPro},
		{model.ModeAntigravity, "nano-banana-pro", model.GroupPremium},
		{model.ModeAntigravity, "image-gen-3", model.GroupPremium},
		{model.ModeAntigravity, "gemini-3-pro", model.GroupPremium},
		{model.ModeAntigravity, "gemini-2.5-flash", model.GroupFlash},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.modelName, func(t *testing.T) {
			assert.Equal(t, tt.want, application.GroupForModel(tt.mode, tt.modelName))
		})
	}
}

func TestRequiredTier(t *testing.T) {
	assert.Equal(t, model.Tier3, application.RequiredTier("gemini-3-pro-preview"))
	assert.Equal(t, model.Tier3, application.RequiredTier("GEMINI-3-FLASH"))
	assert.Equal(t, model.Tier25, application.RequiredTier("gemini-2.5-pro"))
	assert.Equal(t, model.Tier25, application.RequiredTier("claude-sonnet-4-5"))
}
