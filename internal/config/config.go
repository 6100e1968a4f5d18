package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// LLM
	AIProvider     string
	AIKey          string
	AIBaseURL      string
	TriageModel    string
	SynthesisModel string

	// Relevance
	RelevanceTopics []string

	// Gmail
	GmailQuery      string
	RecipientEmail  string
	BriefingLabel   string
	CredentialsPath string
	TokenPath       string
	OAuthListenAddr string

	// Pipeline tuning
	InitialLookbackDays  int
	TokenBudget          int
	TriageBatchSize      int
	TriageScoreThreshold float64
	MaxPerSender         int
	MaxSynthesisItems    int
	LinkFetchTimeout     time.Duration

	// State
	DatabaseURL string
	DBPath      string

	Env string
}

// Settings mirrors the optional YAML settings file. Zero values mean "not set".
type Settings struct {
	AIProvider           string   `yaml:"ai_provider"`
	TriageModel          string   `yaml:"triage_model"`
	SynthesisModel       string   `yaml:"synthesis_model"`
	RelevanceTopics      []string `yaml:"relevance_topics"`
	GmailQuery           string   `yaml:"gmail_query"`
	RecipientEmail       string   `yaml:"recipient_email"`
	BriefingLabel        string   `yaml:"briefing_label"`
	InitialLookbackDays  int      `yaml:"initial_lookback_days"`
	TokenBudget          int      `yaml:"token_budget"`
	TriageScoreThreshold *float64 `yaml:"triage_score_threshold"`
	MaxPerSender         int      `yaml:"max_per_sender"`
	MaxSynthesisItems    int      `yaml:"max_synthesis_items"`
	DBPath               string   `yaml:"db_path"`
}

var defaultTopics = []string{"AI orchestration", "fragrance design", "arbitrage/DeFi"}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	dataDir := filepath.Join(homeDir(), ".newsletter-briefing")
	return &Config{
		AIProvider:           "gemini",
		RelevanceTopics:      append([]string(nil), defaultTopics...),
		GmailQuery:           "category:updates is:unread is:important",
		BriefingLabel:        "Newsletter Briefing",
		CredentialsPath:      "credentials.json",
		TokenPath:            "token.json",
		OAuthListenAddr:      "localhost:8080",
		InitialLookbackDays:  7,
		TokenBudget:          4000,
		TriageBatchSize:      20,
		TriageScoreThreshold: 0.5,
		MaxPerSender:         3,
		MaxSynthesisItems:    25,
		LinkFetchTimeout:     15 * time.Second,
		DBPath:               filepath.Join(dataDir, "state.db"),
		Env:                  "development",
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML
// settings file and the environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()

	settingsPath := GetEnv("SETTINGS_FILE", "settings.yaml")
	if err := cfg.applySettingsFile(settingsPath); err != nil {
		return nil, err
	}

	cfg.AIProvider = GetEnv("AI_PROVIDER", cfg.AIProvider)
	cfg.AIKey = GetEnv("AI_API_KEY", cfg.AIKey)
	cfg.AIBaseURL = GetEnv("AI_BASE_URL", cfg.AIBaseURL)
	cfg.TriageModel = GetEnv("TRIAGE_MODEL", cfg.TriageModel)
	cfg.SynthesisModel = GetEnv("SYNTHESIS_MODEL", cfg.SynthesisModel)
	if topics := GetEnv("RELEVANCE_TOPICS", ""); topics != "" {
		cfg.RelevanceTopics = splitList(topics)
	}
	cfg.GmailQuery = GetEnv("GMAIL_QUERY", cfg.GmailQuery)
	cfg.RecipientEmail = GetEnv("RECIPIENT_EMAIL", cfg.RecipientEmail)
	cfg.BriefingLabel = GetEnv("BRIEFING_LABEL", cfg.BriefingLabel)
	cfg.CredentialsPath = GetEnv("GOOGLE_CREDENTIALS_PATH", cfg.CredentialsPath)
	cfg.TokenPath = GetEnv("GOOGLE_TOKEN_PATH", cfg.TokenPath)
	cfg.OAuthListenAddr = GetEnv("OAUTH_LISTEN_ADDR", cfg.OAuthListenAddr)
	cfg.DatabaseURL = GetEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBPath = GetEnv("STATE_DB_PATH", cfg.DBPath)
	cfg.Env = GetEnv("ENV", cfg.Env)

	var err error
	if cfg.InitialLookbackDays, err = getEnvInt("INITIAL_LOOKBACK_DAYS", cfg.InitialLookbackDays); err != nil {
		return nil, err
	}
	if cfg.TokenBudget, err = getEnvInt("TOKEN_BUDGET", cfg.TokenBudget); err != nil {
		return nil, err
	}
	if cfg.TriageBatchSize, err = getEnvInt("TRIAGE_BATCH_SIZE", cfg.TriageBatchSize); err != nil {
		return nil, err
	}
	if cfg.MaxPerSender, err = getEnvInt("MAX_PER_SENDER", cfg.MaxPerSender); err != nil {
		return nil, err
	}
	if cfg.MaxSynthesisItems, err = getEnvInt("MAX_SYNTHESIS_ITEMS", cfg.MaxSynthesisItems); err != nil {
		return nil, err
	}
	if v := GetEnv("TRIAGE_SCORE_THRESHOLD", ""); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("TRIAGE_SCORE_THRESHOLD must be a number: %w", err)
		}
		cfg.TriageScoreThreshold = threshold
	}

	return cfg, nil
}

func (c *Config) applySettingsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	c.Apply(s)
	return nil
}

// Apply overlays every field that is set in s.
func (c *Config) Apply(s Settings) {
	if s.AIProvider != "" {
		c.AIProvider = s.AIProvider
	}
	if s.TriageModel != "" {
		c.TriageModel = s.TriageModel
	}
	if s.SynthesisModel != "" {
		c.SynthesisModel = s.SynthesisModel
	}
	if len(s.RelevanceTopics) > 0 {
		c.RelevanceTopics = s.RelevanceTopics
	}
	if s.GmailQuery != "" {
		c.GmailQuery = s.GmailQuery
	}
	if s.RecipientEmail != "" {
		c.RecipientEmail = s.RecipientEmail
	}
	if s.BriefingLabel != "" {
		c.BriefingLabel = s.BriefingLabel
	}
	if s.InitialLookbackDays > 0 {
		c.InitialLookbackDays = s.InitialLookbackDays
	}
	if s.TokenBudget > 0 {
		c.TokenBudget = s.TokenBudget
	}
	if s.TriageScoreThreshold != nil {
		c.TriageScoreThreshold = *s.TriageScoreThreshold
	}
	if s.MaxPerSender > 0 {
		c.MaxPerSender = s.MaxPerSender
	}
	if s.MaxSynthesisItems > 0 {
		c.MaxSynthesisItems = s.MaxSynthesisItems
	}
	if s.DBPath != "" {
		c.DBPath = s.DBPath
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// Validate checks the settings needed by the run command.
func (c *Config) Validate() error {
	if c.AIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if c.TokenBudget < 4 {
		return fmt.Errorf("TOKEN_BUDGET must be at least 4, got %d", c.TokenBudget)
	}
	if c.TriageBatchSize <= 0 {
		return fmt.Errorf("TRIAGE_BATCH_SIZE must be positive, got %d", c.TriageBatchSize)
	}
	if c.TriageScoreThreshold < 0 || c.TriageScoreThreshold > 1 {
		return fmt.Errorf("TRIAGE_SCORE_THRESHOLD must be within [0, 1], got %v", c.TriageScoreThreshold)
	}
	if c.MaxPerSender <= 0 {
		return fmt.Errorf("MAX_PER_SENDER must be positive, got %d", c.MaxPerSender)
	}
	if c.MaxSynthesisItems <= 0 {
		return fmt.Errorf("MAX_SYNTHESIS_ITEMS must be positive, got %d", c.MaxSynthesisItems)
	}
	if len(c.RelevanceTopics) == 0 {
		return fmt.Errorf("at least one relevance topic is required")
	}
	return nil
}
