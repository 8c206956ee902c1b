package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // container images often ship without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coyote/backend/internal/constants"
	apperrors "coyote/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Model API (OpenAI-compatible endpoint: OpenRouter, LiteLLM, ...)
	LLMBaseURL          string
	LLMAPIKey           string
	ModelID             string
	ModelMaxTokens      int
	ModelTimeout        time.Duration
	ModelRetryBaseDelay time.Duration

	// Model price in USD per million tokens, for the audit trail
	ModelCostInput  float64
	ModelCostOutput float64

	// Orchestration
	MaxRounds   int
	ToolTimeout time.Duration
	Persona     string // Optional system prompt override from TOOLS_CONFIG

	// SMS
	SMSMaxLength      int
	SMSCharset        string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Google (Gmail, Calendar, Drive)
	GoogleCredentialsJSON string
	GoogleCredentials     *GoogleCredentials
	CalendarTimezone      string

	// Supabase (revenue)
	SupabaseURL string
	SupabaseKey string

	// Swarm API
	SwarmAPIURL string

	// Redis (inbound de-duplication)
	RedisAddr string
	DedupTTL  time.Duration

	// ToolOverrides are explicit per-tool switches read from TOOLS_CONFIG
	ToolOverrides map[string]bool
}

// GoogleCredentials is the OAuth user credential blob stored in GOOGLE_CREDENTIALS_JSON
type GoogleCredentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// toolsFile is the shape of the optional TOOLS_CONFIG yaml file
type toolsFile struct {
	Persona string          `yaml:"persona"`
	Tools   map[string]bool `yaml:"tools"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		ModelID:               getEnv("MODEL_ID", "anthropic/claude-sonnet-4"),
		ModelMaxTokens:        getEnvInt("MODEL_MAX_TOKENS", constants.ModelMaxTokens),
		ModelTimeout:          getEnvDuration("MODEL_TIMEOUT", constants.ModelTimeout),
		ModelRetryBaseDelay:   getEnvDuration("MODEL_RETRY_BASE_DELAY", constants.ModelRetryBaseDelay),
		ModelCostInput:        getEnvFloat("MODEL_COST_INPUT", constants.ModelCostInputPerMillion),
		ModelCostOutput:       getEnvFloat("MODEL_COST_OUTPUT", constants.ModelCostOutputPerMillion),
		MaxRounds:             getEnvInt("MAX_ROUNDS", constants.MaxRounds),
		ToolTimeout:           getEnvDuration("TOOL_TIMEOUT", constants.ToolTimeout),
		SMSMaxLength:          getEnvInt("SMS_MAX_LENGTH", constants.SMSMaxLength),
		SMSCharset:            getEnv("SMS_CHARSET", constants.CharsetGSM7),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:     getEnv("TWILIO_PHONE_NUMBER", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		CalendarTimezone:      getEnv("CALENDAR_TIMEZONE", "America/Chicago"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseKey:           getEnv("SUPABASE_KEY", ""),
		SwarmAPIURL:           getEnv("SWARM_API_URL", "http://localhost:8000"),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		DedupTTL:              getEnvDuration("DEDUP_TTL", constants.DedupTTL),
		ToolOverrides:         map[string]bool{},
	}

	if path := getEnv("TOOLS_CONFIG", ""); path != "" {
		if err := cfg.loadToolsFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadToolsFile merges tool switches and the persona override from a yaml file
func (c *Config) loadToolsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tools config %s: %w", path, err)
	}

	var file toolsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse tools config %s: %w", path, err)
	}

	for name, enabled := range file.Tools {
		c.ToolOverrides[name] = enabled
	}
	if file.Persona != "" {
		c.Persona = file.Persona
	}
	return nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.LLMBaseURL == "" {
		return apperrors.NewConfigMissingRequired("LLM_BASE_URL")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.ModelCostInput < 0 || c.ModelCostOutput < 0 {
		return apperrors.NewConfigValidationFailed("MODEL_COST_INPUT", "model prices cannot be negative")
	}
	if c.MaxRounds < 1 {
		return apperrors.NewConfigValidationFailed("MAX_ROUNDS", "must be at least 1")
	}
	if c.SMSMaxLength <= len(constants.TruncationMarker) {
		return apperrors.NewConfigValidationFailed("SMS_MAX_LENGTH", "too short to hold a truncated reply")
	}
	if c.SMSCharset != constants.CharsetGSM7 && c.SMSCharset != constants.CharsetUCS2 {
		return apperrors.NewConfigValidationFailed("SMS_CHARSET", fmt.Sprintf("unknown charset %q", c.SMSCharset))
	}
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		return apperrors.NewConfigValidationFailed("TWILIO_AUTH_TOKEN", "account sid and auth token must be set together")
	}
	if c.GoogleCredentialsJSON != "" {
		var creds GoogleCredentials
		if err := json.Unmarshal([]byte(c.GoogleCredentialsJSON), &creds); err != nil {
			return apperrors.NewConfigValidationFailed("GOOGLE_CREDENTIALS_JSON", "not valid JSON")
		}
		if creds.RefreshToken == "" && creds.Token == "" {
			return apperrors.NewConfigValidationFailed("GOOGLE_CREDENTIALS_JSON", "needs token or refresh_token")
		}
		c.GoogleCredentials = &creds
	}
	if _, err := time.LoadLocation(c.CalendarTimezone); err != nil {
		return apperrors.NewConfigValidationFailed("CALENDAR_TIMEZONE", err.Error())
	}
	// LLM API key is optional: a local LiteLLM proxy does not need one
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TwilioConfigured reports whether replies can go out over the Twilio REST API
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

// Integrations reports which external services are configured. It feeds the
// health endpoints and tool registration.
func (c *Config) Integrations() map[string]bool {
	return map[string]bool{
		"model":    c.LLMBaseURL != "" && c.ModelID != "",
		"twilio":   c.TwilioConfigured(),
		"google":   c.GoogleCredentials != nil,
		"supabase": c.SupabaseURL != "" && c.SupabaseKey != "",
		"swarm":    c.SwarmAPIURL != "",
		"redis":    c.RedisAddr != "",
	}
}

// ToolToggles resolves the {tool_name: enabled} switch set. requirements maps
// each known tool to the integration it needs; a tool is enabled when that
// integration is configured and TOOLS_CONFIG does not switch it off.
func (c *Config) ToolToggles(requirements map[string]string) map[string]bool {
	integrations := c.Integrations()
	toggles := make(map[string]bool, len(requirements))
	for tool, integration := range requirements {
		enabled := integrations[integration]
		if override, ok := c.ToolOverrides[tool]; ok && !override {
			enabled = false
		}
		toggles[tool] = enabled
	}
	return toggles
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
