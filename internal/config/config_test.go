package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SETTINGS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("AI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.TriageBatchSize)
	assert.Equal(t, 4000, cfg.TokenBudget)
	assert.Equal(t, 0.5, cfg.TriageScoreThreshold)
	assert.Equal(t, 3, cfg.MaxPerSender)
	assert.Equal(t, 25, cfg.MaxSynthesisItems)
	assert.Equal(t, 7, cfg.InitialLookbackDays)
	assert.Equal(t, "Newsletter Briefing", cfg.BriefingLabel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigSettingsFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `relevance_topics:
  - distributed systems
  - perfumery
token_budget: 2000
triage_score_threshold: 0.6
max_per_sender: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SETTINGS_FILE", path)
	t.Setenv("MAX_PER_SENDER", "5")
	t.Setenv("AI_API_KEY", "k")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"distributed systems", "perfumery"}, cfg.RelevanceTopics)
	assert.Equal(t, 2000, cfg.TokenBudget)
	assert.Equal(t, 0.6, cfg.TriageScoreThreshold)
	assert.Equal(t, 5, cfg.MaxPerSender, "environment wins over the settings file")
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("SETTINGS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TOKEN_BUDGET", "lots")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing API key")

	cfg.AIKey = "k"
	cfg.TriageScoreThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg.TriageScoreThreshold = 0.5
	cfg.RelevanceTopics = nil
	assert.Error(t, cfg.Validate())
}
