package config

import (
	"fmt"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/usage"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSystemPrompt = "You are Hadiya's Bot, a friendly, helpful, and concise assistant."
	DefaultPreambleAck  = "Understood. How can I help you?"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Pricing  PricingConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Tracing  TracingConfig
	Models   *ModelsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider          string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	Model             string
	Timeout           time.Duration
	TokenizerEncoding string
	SystemPrompt      string
	PreambleAck       string
	StreamYield       bool
	Ark               ArkConfig
}

// ArkConfig holds Volcengine Ark settings used by the eino provider
type ArkConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// PricingConfig holds the fallback per-token rates as decimal strings
type PricingConfig struct {
	InputPerToken  string
	OutputPerToken string
}

// CacheConfig selects the conversation history cache backend
type CacheConfig struct {
	Backend       string // memory or redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// TracingConfig holds LangSmith tracing configuration
type TracingConfig struct {
	Enabled  bool
	APIKey   string
	Project  string
	Endpoint string
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:            getEnvOrDefault("SERVER_PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	config.Database = DatabaseConfig{
		Driver:     strings.ToLower(getEnvOrDefault("DB_DRIVER", "sqlite")),
		Host:       getEnvOrDefault("DB_HOST", "postgres"),
		Port:       getEnvOrDefault("DB_PORT", "5432"),
		User:       getEnvOrDefault("DB_USER", "postgres"),
		Password:   getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:       getEnvOrDefault("DB_NAME", "gateway"),
		SSLMode:    getEnvOrDefault("DB_SSLMODE", "disable"),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "gateway.db"),
	}
	if config.Database.Driver != "postgres" && config.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", config.Database.Driver)
	}

	config.LLM = LLMConfig{
		Provider:          strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openrouter")),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Model:             os.Getenv("LLM_MODEL"),
		Timeout:           getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
		TokenizerEncoding: getEnvOrDefault("LLM_TOKENIZER_ENCODING", "cl100k_base"),
		SystemPrompt:      getEnvOrDefault("LLM_SYSTEM_PROMPT", DefaultSystemPrompt),
		PreambleAck:       getEnvOrDefault("LLM_PREAMBLE_ACK", DefaultPreambleAck),
		StreamYield:       getEnvAsBool("LLM_STREAM_YIELD", true),
		Ark: ArkConfig{
			APIKey:  os.Getenv("ARK_API_KEY"),
			Model:   os.Getenv("ARK_MODEL"),
			BaseURL: getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:  getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}
	switch config.LLM.Provider {
	case "openrouter":
		if config.LLM.OpenRouterAPIKey == "" {
			logger.Log.Warn("OPENROUTER_API_KEY environment variable not set")
		}
	case "ark":
		if config.LLM.Ark.APIKey == "" || config.LLM.Ark.Model == "" {
			logger.Log.Warn("ARK_API_KEY or ARK_MODEL environment variable not set")
		}
	default:
		return nil, fmt.Errorf("LLM_PROVIDER must be openrouter or ark, got %q", config.LLM.Provider)
	}

	config.Pricing = PricingConfig{
		InputPerToken:  getEnvOrDefault("PRICING_INPUT_PER_TOKEN", usage.DefaultInputRate),
		OutputPerToken: getEnvOrDefault("PRICING_OUTPUT_PER_TOKEN", usage.DefaultOutputRate),
	}

	config.Cache = CacheConfig{
		Backend:       strings.ToLower(getEnvOrDefault("CACHE_BACKEND", "memory")),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		TTL:           getEnvAsDuration("REDIS_TTL", 0),
	}
	if config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
		return nil, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", config.Cache.Backend)
	}

	jwtSecret := os.Getenv("AUTH_JWT_SECRET")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}
	config.Auth = AuthConfig{
		TokenExpiration: getEnvAsDuration("AUTH_TOKEN_EXPIRATION", 24*time.Hour),
	}
	if jwtSecret != "" {
		config.Auth.JWTSecret = []byte(jwtSecret)
	}

	config.Tracing = TracingConfig{
		Enabled:  getEnvAsBool("LANGSMITH_TRACING", false),
		APIKey:   os.Getenv("LANGSMITH_API_KEY"),
		Project:  getEnvOrDefault("LANGSMITH_PROJECT", "default_project"),
		Endpoint: getEnvOrDefault("LANGSMITH_ENDPOINT", "https://api.smith.langchain.com"),
	}

	// Model catalog is optional; when present it may carry per-model rates
	if modelsConfigPath := os.Getenv("MODELS_CONFIG_PATH"); modelsConfigPath != "" {
		modelsConfig, err := NewModelsConfig(modelsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models config: %w", err)
		}
		config.Models = modelsConfig
		if config.LLM.Model == "" {
			config.LLM.Model = modelsConfig.GetDefaultModel()
		}
	}

	if _, err := config.ResolvePricing(); err != nil {
		return nil, err
	}

	return config, nil
}

// ResolvePricing returns the rates of the configured model from the catalog when
// it defines them, otherwise the PRICING_* rates.
func (c *AppConfig) ResolvePricing() (usage.Pricing, error) {
	if c.Models != nil {
		if m, ok := c.Models.Find(c.LLM.Model); ok && m.HasPricing() {
			return usage.NewPricing(m.InputPerToken, m.OutputPerToken)
		}
	}
	return usage.NewPricing(c.Pricing.InputPerToken, c.Pricing.OutputPerToken)
}

// AuthEnabled reports whether bearer authentication is required
func (c *AppConfig) AuthEnabled() bool {
	return len(c.Auth.JWTSecret) > 0
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
