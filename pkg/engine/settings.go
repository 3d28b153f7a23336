package engine

import (
	"github.com/Zeeeepa/ragforge-sub003/pkg/config"
	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
	"github.com/Zeeeepa/ragforge-sub003/pkg/retry"
	"github.com/Zeeeepa/ragforge-sub003/pkg/services"
)

const applicationName = "ragforge"

func databaseSettings(cfg *config.Config) *database.Config {
	return &database.Config{
		URL:               cfg.Database.URL(),
		MaxConnections:    cfg.Database.MaxConnections,
		MinConnections:    cfg.Database.MinConnections,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		StatementTimeout:  cfg.Database.StatementTimeout,
		ApplicationName:   applicationName,
	}
}

func resolutionSettings(cfg *config.Config) services.ResolutionConfig {
	return services.ResolutionConfig{
		MinConfidence:   cfg.Resolution.MinConfidence,
		MaxMentions:     cfg.Resolution.MaxMentions,
		BatchSize:       cfg.Resolution.BatchSize,
		MinSimilarity:   cfg.Resolution.MinSimilarity,
		CreateUnmatched: cfg.Resolution.CreateUnmatched,
		KindConcurrency: cfg.Resolution.KindConcurrency,
	}
}

func tagSettings(cfg *config.Config) services.TagConfig {
	return services.TagConfig{
		MaxSemanticTags: cfg.Tags.MaxSemanticTags,
		SemanticEnabled: cfg.Tags.SemanticEnabled,
	}
}

func searchSettings(cfg *config.Config) services.SearchConfig {
	return services.SearchConfig{
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxCandidates: cfg.Search.MaxCandidates,
	}
}

func lifecycleSettings(cfg *config.Config) services.LifecycleConfig {
	return services.LifecycleConfig{
		StuckThreshold: cfg.Lifecycle.StuckThreshold,
		MaxRetries:     cfg.Lifecycle.MaxRetries,
	}
}

func embeddingSettings(cfg *config.Config) services.EmbeddingConfig {
	return services.EmbeddingConfig{
		BatchSize:  cfg.Embedding.BatchSize,
		Dimensions: cfg.Embedding.Dimensions,
	}
}

func chatProviderSettings(cfg *config.Config) llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:  llm.Provider(cfg.LLM.Provider),
		Endpoint:  config.ResolveURLForDocker(cfg.LLM.Endpoint),
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		MaxTokens: cfg.LLM.MaxTokens,
	}
}

func oracleSettings(cfg *config.Config) oracle.LLMOracleConfig {
	retryCfg := retry.LLMConfig()
	if cfg.LLM.MaxRetries >= 0 {
		retryCfg.MaxRetries = cfg.LLM.MaxRetries
	}

	breaker := llm.DefaultCircuitBreakerConfig()
	if cfg.LLM.CircuitThreshold > 0 {
		breaker.Threshold = cfg.LLM.CircuitThreshold
	}
	if cfg.LLM.CircuitCooldown > 0 {
		breaker.Cooldown = cfg.LLM.CircuitCooldown
	}

	return oracle.LLMOracleConfig{
		Temperature:    cfg.LLM.Temperature,
		Retry:          retryCfg,
		CircuitBreaker: &breaker,
	}
}
