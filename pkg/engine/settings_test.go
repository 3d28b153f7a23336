package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Zeeeepa/ragforge-sub003/pkg/config"
	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
)

func testConfig() *config.Config {
	return &config.Config{
		Env: "test",
		Database: config.DatabaseConfig{
			Host: "db.example.com", Port: 5432, User: "rag", Database: "registry",
			MaxConnections: 8, SSLMode: "disable",
			MaxConnIdleTime: 5 * time.Minute, StatementTimeout: 20 * time.Second,
		},
		LLM: config.LLMConfig{
			Provider: "anthropic", Endpoint: "https://api.anthropic.com", Model: "claude-x",
			MaxTokens: 2048, Temperature: 0.2, MaxRetries: 1,
			CircuitThreshold: 3, CircuitCooldown: 10 * time.Second,
		},
		Embedding: config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 512, BatchSize: 64},
		Resolution: config.ResolutionConfig{
			MinConfidence: 0.5, MaxMentions: 100, BatchSize: 20, MinSimilarity: 0.85,
			CreateUnmatched: false, KindConcurrency: 2,
		},
		Tags:      config.TagsConfig{MaxSemanticTags: 50, SemanticEnabled: true},
		Search:    config.SearchConfig{DefaultLimit: 5, MaxCandidates: 40},
		Lifecycle: config.LifecycleConfig{StuckThreshold: time.Minute, MaxRetries: 2},
	}
}

func TestSettings_MapConfigSections(t *testing.T) {
	cfg := testConfig()

	res := resolutionSettings(cfg)
	assert.Equal(t, 0.5, res.MinConfidence)
	assert.Equal(t, 100, res.MaxMentions)
	assert.Equal(t, 20, res.BatchSize)
	assert.Equal(t, 0.85, res.MinSimilarity)
	assert.False(t, res.CreateUnmatched)
	assert.Equal(t, 2, res.KindConcurrency)

	assert.Equal(t, 50, tagSettings(cfg).MaxSemanticTags)
	assert.Equal(t, 40, searchSettings(cfg).MaxCandidates)
	assert.Equal(t, time.Minute, lifecycleSettings(cfg).StuckThreshold)
	assert.Equal(t, 512, embeddingSettings(cfg).Dimensions)
	assert.Equal(t, 64, embeddingSettings(cfg).BatchSize)

	db := databaseSettings(cfg)
	assert.Equal(t, int32(8), db.MaxConnections)
	assert.Equal(t, 5*time.Minute, db.MaxConnIdleTime)
	assert.Equal(t, 20*time.Second, db.StatementTimeout)
	assert.Equal(t, applicationName, db.ApplicationName)
	assert.Equal(t, "postgres://rag@db.example.com:5432/registry?sslmode=disable", db.URL)
}

func TestChatProviderSettings(t *testing.T) {
	got := chatProviderSettings(testConfig())

	assert.Equal(t, llm.ProviderAnthropic, got.Provider)
	assert.Equal(t, "claude-x", got.Model)
	assert.Equal(t, 2048, got.MaxTokens)
}

func TestOracleSettings(t *testing.T) {
	got := oracleSettings(testConfig())

	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 1, got.Retry.MaxRetries)
	assert.Equal(t, 3, got.CircuitBreaker.Threshold)
	assert.Equal(t, 10*time.Second, got.CircuitBreaker.Cooldown)
}

func TestOracleSettings_ZeroBreakerKeepsDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.CircuitThreshold = 0
	cfg.LLM.CircuitCooldown = 0

	got := oracleSettings(cfg)

	defaults := llm.DefaultCircuitBreakerConfig()
	assert.Equal(t, defaults.Threshold, got.CircuitBreaker.Threshold)
	assert.Equal(t, defaults.Cooldown, got.CircuitBreaker.Cooldown)
}

func TestRequestedDimensions(t *testing.T) {
	assert.Equal(t, 256, requestedDimensions("text-embedding-3-large", 256))
	assert.Equal(t, 0, requestedDimensions("text-embedding-ada-002", 1536))
	assert.Equal(t, 0, requestedDimensions("nomic-embed-text", 768))
}
