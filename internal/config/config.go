package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ropasuggest server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	ROPA     ROPAConfig
	AI       AIConfig
	Worker   WorkerConfig
	Queue    QueueConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
	// ConnectAttempts bounds the startup ping retries while the database
	// comes up.
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

// ROPAConfig points at the entity service that owns repositories,
// activities, data elements, DPIAs and risks.
type ROPAConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

type AIConfig struct {
	Provider          string
	InferenceTimeout  time.Duration
	RequestsPerSecond float64
	OpenAI            OpenAIConfig
}

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

type WorkerConfig struct {
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

type QueueConfig struct {
	Backend string
	Size    int
	Name    string
}

var validProviders = map[string]bool{
	"openai": true,
	"mock":   true,
}

var validQueueBackends = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("ROPASUGGEST_PORT", 8080),
			Env:                envString("ROPASUGGEST_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		ROPA: ROPAConfig{
			BaseURL:  os.Getenv("ROPA_BASE_URL"),
			APIToken: os.Getenv("ROPA_API_TOKEN"),
			Timeout:  envDuration("ROPA_TIMEOUT", 10*time.Second),
		},
		AI: AIConfig{
			Provider:          envString("AI_PROVIDER", "openai"),
			InferenceTimeout:  envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			RequestsPerSecond: envFloat("AI_REQUESTS_PER_SECOND", 5),
			OpenAI: OpenAIConfig{
				APIKey:      os.Getenv("OPENAI_API_KEY"),
				Model:       envString("OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL:     os.Getenv("OPENAI_BASE_URL"),
				MaxTokens:   envInt("OPENAI_MAX_TOKENS", 500),
				Temperature: envFloat("OPENAI_TEMPERATURE", 0.7),
			},
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", 4),
			MaxAttempts:    envInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBaseDelay: envDuration("WORKER_RETRY_BASE_DELAY", 60*time.Second),
		},
		Queue: QueueConfig{
			Backend: envString("QUEUE_BACKEND", "memory"),
			Size:    envInt("QUEUE_SIZE", 256),
			Name:    envString("QUEUE_NAME", "ropasuggest:jobs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		ConnectAttempts: envInt("DATABASE_CONNECT_ATTEMPTS", 5),
	}
}

// LoadDatabase reads only the database settings, for commands that do not
// talk to Redis, the entity service or the AI provider.
func LoadDatabase() (DatabaseConfig, error) {
	db := databaseFromEnv()
	if db.URL == "" {
		return db, fmt.Errorf("DATABASE_URL is required")
	}
	return db, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.ROPA.BaseURL == "" {
		return fmt.Errorf("ROPA_BASE_URL is required")
	}
	if !strings.HasPrefix(c.ROPA.BaseURL, "http://") && !strings.HasPrefix(c.ROPA.BaseURL, "https://") {
		return fmt.Errorf("ROPA_BASE_URL must start with http:// or https://, got %q", c.ROPA.BaseURL)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.InferenceTimeout <= 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must be positive")
	}
	if c.AI.RequestsPerSecond <= 0 {
		return fmt.Errorf("AI_REQUESTS_PER_SECOND must be positive, got %v", c.AI.RequestsPerSecond)
	}
	if c.AI.OpenAI.MaxTokens < 1 || c.AI.OpenAI.MaxTokens > 4000 {
		return fmt.Errorf("OPENAI_MAX_TOKENS must be between 1 and 4000, got %d", c.AI.OpenAI.MaxTokens)
	}
	if c.AI.OpenAI.Temperature < 0 || c.AI.OpenAI.Temperature > 2 {
		return fmt.Errorf("OPENAI_TEMPERATURE must be between 0 and 2, got %v", c.AI.OpenAI.Temperature)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.RetryBaseDelay < 0 {
		return fmt.Errorf("WORKER_RETRY_BASE_DELAY must not be negative")
	}

	if !validQueueBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of memory, redis; got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "memory" && c.Queue.Size < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.Queue.Size)
	}

	if c.Server.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.Server.RateLimitPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
