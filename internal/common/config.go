package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/statement-pipeline/constants"
)

// Config holds all application configuration.
// Values resolve in order: Defaults, YAML file, .env, process environment.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LLM      LLMConfig      `yaml:"llm"`
	OCR      OCRConfig      `yaml:"ocr"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver" envconfig:"DB_DRIVER"` // sqlite3 | postgres
	DSN              string        `yaml:"dsn" envconfig:"DB_URL"`
	MaxConns         int32         `yaml:"max_conns" envconfig:"DB_MAX_CONNS"`
	MinConns         int32         `yaml:"min_conns" envconfig:"DB_MIN_CONNS"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime" envconfig:"DB_MAX_CONN_LIFETIME"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time" envconfig:"DB_MAX_CONN_IDLE_TIME"`
	DialTimeout      time.Duration `yaml:"dial_timeout" envconfig:"DB_DIAL_TIMEOUT"`
	StatementTimeout time.Duration `yaml:"statement_timeout" envconfig:"DB_STATEMENT_TIMEOUT"`
}

// PipelineConfig holds chunking, retry and scheduling knobs.
type PipelineConfig struct {
	ChunkSize           int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE"`
	ChunkOverlap        int           `yaml:"chunk_overlap" envconfig:"CHUNK_OVERLAP"`
	MinChunkSize        int           `yaml:"min_chunk_size" envconfig:"MIN_CHUNK_SIZE"`
	BackgroundThreshold int           `yaml:"background_threshold" envconfig:"BACKGROUND_THRESHOLD"`
	BackoffBase         time.Duration `yaml:"backoff_base" envconfig:"RETRY_BACKOFF_BASE"`
	BackoffMax          time.Duration `yaml:"backoff_max" envconfig:"RETRY_BACKOFF_MAX"`
	ScheduleInterval    time.Duration `yaml:"schedule_interval" envconfig:"SCHEDULE_INTERVAL"`
	ScheduleJitter      time.Duration `yaml:"schedule_jitter" envconfig:"SCHEDULE_JITTER"`
	RunOnStart          bool          `yaml:"run_on_start" envconfig:"SCHEDULE_RUN_ON_START"`
	LeaseTTL            time.Duration `yaml:"lease_ttl" envconfig:"LEASE_TTL"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" envconfig:"OPENAI_MODEL"`
	APIKey      string        `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	Temperature float32       `yaml:"temperature" envconfig:"OPENAI_TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"OPENAI_TIMEOUT"`
	MaxTokens   int           `yaml:"max_tokens" envconfig:"OPENAI_MAX_TOKENS"`
	RetryCount  int           `yaml:"retry_count" envconfig:"OPENAI_RETRY_COUNT"`
}

// OCRConfig enables the poppler/tesseract fallback for PDFs without a text layer.
type OCRConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"OCR_ENABLED"`
	Lang        string `yaml:"lang" envconfig:"OCR_LANG"`
	TessdataDir string `yaml:"tessdata_dir" envconfig:"OCR_TESSDATA_DIR"`
	DPI         int    `yaml:"dpi" envconfig:"OCR_DPI"`
	MaxPages    int    `yaml:"max_pages" envconfig:"OCR_MAX_PAGES"`
}

// RedisConfig enables the cross-process processing lease when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// NATSConfig enables job event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url" envconfig:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"NATS_SUBJECT_PREFIX"`
	MaxReconnects int    `yaml:"max_reconnects" envconfig:"NATS_MAX_RECONNECTS"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" envconfig:"GRPC_ADDR"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // text | json
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "file:statements.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Pipeline: PipelineConfig{
			ChunkSize:           constants.DefaultChunkSize,
			ChunkOverlap:        constants.DefaultChunkOverlap,
			MinChunkSize:        constants.DefaultMinChunkSize,
			BackgroundThreshold: constants.DefaultBackgroundThreshold,
			BackoffBase:         constants.DefaultBackoffBase,
			BackoffMax:          constants.DefaultBackoffMax,
			ScheduleInterval:    constants.DefaultScheduleInterval,
			LeaseTTL:            constants.DefaultLeaseTTL,
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			Timeout:    45 * time.Second,
			RetryCount: 2,
		},
		OCR:   OCRConfig{Lang: "eng", DPI: 300},
		Redis: RedisConfig{Prefix: "statements"},
		NATS:  NATSConfig{SubjectPrefix: "statements.jobs", MaxReconnects: 10},
		Server: ServerConfig{
			GRPCAddr: ":8080",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig resolves configuration. yamlPath and envFile are optional; a missing
// envFile is ignored, a missing yamlPath is an error when given explicitly.
func LoadConfig(yamlPath, envFile string) (*Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, NewAppError(CodeConfig, "read "+yamlPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, NewAppError(CodeConfig, "parse "+yamlPath, err)
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the process.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError(CodeConfig, "load "+envFile, err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, NewAppError(CodeConfig, "environment", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	p := c.Pipeline
	if p.ChunkSize <= 0 || p.MinChunkSize <= 0 || p.MinChunkSize >= p.ChunkSize {
		return NewAppError(CodeConfig, "MIN_CHUNK_SIZE must be positive and below CHUNK_SIZE", ErrInvalidInput)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return NewAppError(CodeConfig, "CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidInput)
	}
	if p.BackgroundThreshold <= 0 {
		return NewAppError(CodeConfig, "BACKGROUND_THRESHOLD must be positive", ErrInvalidInput)
	}
	if p.BackoffBase <= 0 || p.BackoffMax < p.BackoffBase {
		return NewAppError(CodeConfig, "RETRY_BACKOFF_MAX must be >= RETRY_BACKOFF_BASE > 0", ErrInvalidInput)
	}
	if p.ScheduleInterval <= 0 {
		return NewAppError(CodeConfig, "SCHEDULE_INTERVAL must be positive", ErrInvalidInput)
	}
	if p.ScheduleJitter < 0 {
		return NewAppError(CodeConfig, "SCHEDULE_JITTER must not be negative", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}

// RequireLLM is checked by commands that call the completion API.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}
