// Package config loads the complaint engine settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/complaint-engine/types"
)

var (
	ErrUnknownProvider = errors.New("unknown reasoning provider")
	ErrUnknownDriver   = errors.New("unknown storage driver")
	ErrMaxIterations   = errors.New("max iterations must be positive")
	ErrMissingSetting  = errors.New("missing required setting")
)

// Reasoning providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	GinMode string `yaml:"gin_mode"`
}

type ReasoningConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

type WorkflowConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// BatchParallelism bounds concurrent runs of the process command.
	BatchParallelism int `yaml:"batch_parallelism"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the built-in settings: rule-only reasoning and in-memory storage.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			GinMode: "release",
		},
		Reasoning: ReasoningConfig{
			Provider:    ProviderNone,
			Temperature: 0.3,
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
			Timeout:     30 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxIterations:    types.DefaultMaxIterations,
			BatchParallelism: 4,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "complaint:",
			},
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "complaint-events",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (COMPLAINT_CONFIG when path is empty), a .env file in the working
// directory and the environment, later sources winning.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("COMPLAINT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Reasoning.Provider = getEnvOrDefault("REASONING_PROVIDER", c.Reasoning.Provider)
	c.Reasoning.Model = getEnvOrDefault("REASONING_MODEL", c.Reasoning.Model)
	switch c.Reasoning.Provider {
	case ProviderGemini:
		c.Reasoning.APIKey = getEnvOrDefault("GOOGLE_API_KEY", c.Reasoning.APIKey)
	case ProviderOpenAI:
		c.Reasoning.APIKey = getEnvOrDefault("OPENAI_API_KEY", c.Reasoning.APIKey)
	}

	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_ITERATIONS: %w", err)
		}
		c.Workflow.MaxIterations = n
	}

	c.Storage.Driver = getEnvOrDefault("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Storage.Redis.Addr)
	c.Storage.Postgres.DSN = getEnvOrDefault("POSTGRES_DSN", c.Storage.Postgres.DSN)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	c.Kafka.Topic = getEnvOrDefault("KAFKA_TOPIC", c.Kafka.Topic)

	c.Server.Addr = getEnvOrDefault("SERVER_ADDR", c.Server.Addr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	return nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Reasoning.Provider {
	case ProviderNone:
	case ProviderGemini, ProviderOpenAI:
		if c.Reasoning.APIKey == "" {
			return fmt.Errorf("%w: api key for provider %q", ErrMissingSetting, c.Reasoning.Provider)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Reasoning.Provider)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("%w: redis addr", ErrMissingSetting)
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("%w: postgres dsn", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Storage.Driver)
	}

	if c.Workflow.MaxIterations <= 0 {
		return fmt.Errorf("%w: got %d", ErrMaxIterations, c.Workflow.MaxIterations)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("%w: kafka brokers and topic", ErrMissingSetting)
	}
	return nil
}

// NewLogger builds a production zap logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
