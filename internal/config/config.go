package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	ChatGPT  ChatGPTConfig
	Gemini   GeminiConfig
	OpenAI   OpenAIConfig
	Browser  BrowserConfig
	Runner   RunnerConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Generate GenerationConfig
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ChatGPTConfig struct {
	BaseURL  string
	Email    string
	Password string
}

type GeminiConfig struct {
	APIKey string
}

type OpenAIConfig struct {
	APIKey         string
	EnableFallback bool
}

type BrowserConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

// ResetPolicy decides what a failed memory reset does to the run.
type ResetPolicy string

const (
	// ResetPolicyAbort halts the whole run on the first reset failure.
	ResetPolicyAbort ResetPolicy = "abort"
	// ResetPolicySkip fails only the affected cell and continues. Faster,
	// but a contaminated session is undetectable from the output alone.
	ResetPolicySkip ResetPolicy = "skip"
)

type RunnerConfig struct {
	ResetPolicy    ResetPolicy
	StepTimeout    time.Duration
	ExtractTimeout time.Duration
	SettleDelay    time.Duration
}

type ServerConfig struct {
	Host string
	Port int
}

type LoggingConfig struct {
	Level string
	File  string
}

type GenerationConfig struct {
	NumPersonas int
	NumPrompts  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "geo"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DATABASE", "geo_optimizer"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ChatGPT: ChatGPTConfig{
			BaseURL:  getEnv("CHATGPT_URL", "https://chatgpt.com/"),
			Email:    getEnv("CHATGPT_EMAIL", ""),
			Password: getEnv("CHATGPT_PASSWORD", ""),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			EnableFallback: getEnvBool("OPENAI_ENABLE_FALLBACK", true),
		},
		Browser: BrowserConfig{
			Headless:       getEnvBool("BROWSER_HEADLESS", false),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", 1280),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", 720),
			NavTimeout:     getEnvDuration("BROWSER_NAV_TIMEOUT_SECONDS", 30*time.Second),
		},
		Runner: RunnerConfig{
			ResetPolicy:    ResetPolicy(getEnv("RUNNER_RESET_POLICY", string(ResetPolicyAbort))),
			StepTimeout:    getEnvDuration("RUNNER_STEP_TIMEOUT_SECONDS", 15*time.Second),
			ExtractTimeout: getEnvDuration("RUNNER_EXTRACT_TIMEOUT_SECONDS", 60*time.Second),
			SettleDelay:    getEnvDuration("RUNNER_SETTLE_DELAY_SECONDS", 2*time.Second),
		},
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 5001),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Generate: GenerationConfig{
			NumPersonas: getEnvInt("GENERATE_NUM_PERSONAS", 3),
			NumPrompts:  getEnvInt("GENERATE_NUM_PROMPTS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("POSTGRES_DATABASE is required")
	}
	if c.ChatGPT.BaseURL == "" {
		return fmt.Errorf("CHATGPT_URL is required")
	}
	switch c.Runner.ResetPolicy {
	case ResetPolicyAbort, ResetPolicySkip:
	default:
		return fmt.Errorf("RUNNER_RESET_POLICY must be %q or %q", ResetPolicyAbort, ResetPolicySkip)
	}
	return nil
}

// HasCredentials reports whether a chat session can be authenticated.
// Missing credentials are a setup error at run start, not a config error,
// so the API server can still generate and persist test data without them.
func (c *Config) HasCredentials() bool {
	return c.ChatGPT.Email != "" && c.ChatGPT.Password != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
