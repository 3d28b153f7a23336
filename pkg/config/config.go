package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// Config holds all configuration for ragforge.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Tags       TagsConfig       `yaml:"tags"`
	Search     SearchConfig     `yaml:"search"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ragforge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ragforge"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"0"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" env:"PGHEALTH_CHECK_PERIOD" env-default:"1m"`
	// StatementTimeout of zero keeps the server default.
	StatementTimeout  time.Duration `yaml:"statement_timeout" env:"PGSTATEMENT_TIMEOUT" env-default:"0s"`
}

// URL returns the pgx connection URL. A localhost host is rewritten when
// running inside Docker.
func (c DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     ResolveHostForDocker(c.Host) + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// LLMConfig configures the chat model behind the semantic-matching oracle.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`

	CircuitThreshold int           `yaml:"circuit_threshold" env:"LLM_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitCooldown  time.Duration `yaml:"circuit_cooldown" env:"LLM_CIRCUIT_COOLDOWN" env-default:"30s"`
	MaxRetries       int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"3"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" (OpenAI-compatible embeddings API) or "local"
	// (in-process sentence-transformer).
	Provider string `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"openai"`
	// Endpoint defaults to the LLM endpoint when the LLM provider is openai,
	// otherwise to the public OpenAI API.
	Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML; falls back to LLM_API_KEY
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
	BatchSize  int    `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE" env-default:"100"`
	// MaxConcurrent bounds parallel provider calls.
	MaxConcurrent int `yaml:"max_concurrent" env:"EMBEDDING_MAX_CONCURRENT" env-default:"4"`

	LocalModel    string `yaml:"local_model" env:"EMBEDDING_LOCAL_MODEL" env-default:"sentence-transformers/all-MiniLM-L6-v2"`
	LocalModelDir string `yaml:"local_model_dir" env:"EMBEDDING_LOCAL_MODEL_DIR" env-default:"models"`
}

// ResolutionConfig tunes cross-document entity resolution.
type ResolutionConfig struct {
	MinConfidence   float64 `yaml:"min_confidence" env:"RESOLUTION_MIN_CONFIDENCE" env-default:"0.6"`
	MaxMentions     int     `yaml:"max_mentions" env:"RESOLUTION_MAX_MENTIONS" env-default:"500"`
	BatchSize       int     `yaml:"batch_size" env:"RESOLUTION_BATCH_SIZE" env-default:"50"`
	MinSimilarity   float64 `yaml:"min_similarity" env:"RESOLUTION_MIN_SIMILARITY" env-default:"0.8"`
	CreateUnmatched bool    `yaml:"create_unmatched" env:"RESOLUTION_CREATE_UNMATCHED" env-default:"true"`
	KindConcurrency int     `yaml:"kind_concurrency" env:"RESOLUTION_KIND_CONCURRENCY" env-default:"4"`
}

// TagsConfig tunes tag resolution.
type TagsConfig struct {
	MaxSemanticTags int  `yaml:"max_semantic_tags" env:"TAGS_MAX_SEMANTIC" env-default:"200"`
	SemanticEnabled bool `yaml:"semantic_enabled" env:"TAGS_SEMANTIC_ENABLED" env-default:"true"`
}

// SearchConfig tunes registry search.
type SearchConfig struct {
	DefaultLimit  int `yaml:"default_limit" env:"SEARCH_DEFAULT_LIMIT" env-default:"10"`
	MaxCandidates int `yaml:"max_candidates" env:"SEARCH_MAX_CANDIDATES" env-default:"100"`
}

// LifecycleConfig tunes lifecycle recovery.
type LifecycleConfig struct {
	StuckThreshold time.Duration `yaml:"stuck_threshold" env:"LIFECYCLE_STUCK_THRESHOLD" env-default:"5m"`
	MaxRetries     int           `yaml:"max_retries" env:"LIFECYCLE_MAX_RETRIES" env-default:"3"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from config.yaml in the working directory with
// environment variable overrides.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultPath, version)
}

// LoadFrom reads configuration from path with environment variable overrides.
// A missing file is not an error: defaults and the environment are used.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(statErr, os.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyFallbacks fills fields whose default depends on another field.
func (c *Config) applyFallbacks() {
	// Anthropic has no embeddings API, so its endpoint and key are not reused.
	sharesLLM := c.LLM.Provider == "openai"
	if c.Embedding.Endpoint == "" {
		if sharesLLM {
			c.Embedding.Endpoint = c.LLM.Endpoint
		} else {
			c.Embedding.Endpoint = defaultOpenAIEndpoint
		}
	}
	if c.Embedding.APIKey == "" && sharesLLM {
		c.Embedding.APIKey = c.LLM.APIKey
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider))
	}
	switch c.Embedding.Provider {
	case "openai", "local":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai or local, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	if !inUnitRange(c.Resolution.MinConfidence) {
		errs = append(errs, fmt.Errorf("resolution.min_confidence must be within [0,1], got %v", c.Resolution.MinConfidence))
	}
	if !inUnitRange(c.Resolution.MinSimilarity) {
		errs = append(errs, fmt.Errorf("resolution.min_similarity must be within [0,1], got %v", c.Resolution.MinSimilarity))
	}
	if c.Resolution.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("resolution.batch_size must be positive, got %d", c.Resolution.BatchSize))
	}

	return errors.Join(errs...)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// YAML renders the configuration as a config file. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
