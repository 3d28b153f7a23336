package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/jsonutil"
	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
	"github.com/Zeeeepa/ragforge-sub003/pkg/logging"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/prompts"
	"github.com/Zeeeepa/ragforge-sub003/pkg/retry"
)

const tracerName = "ragforge/oracle"

const (
	opMatchEntities = "match_entities"
	opGroupTags     = "group_tags"
)

// LLMOracle implements Oracle with a chat completion model.
type LLMOracle struct {
	client      llm.LLMClient
	breaker     *llm.CircuitBreaker
	retryConfig *retry.Config
	temperature float64
	logger      *zap.Logger
}

// LLMOracleConfig tunes an LLMOracle. Zero values take defaults.
type LLMOracleConfig struct {
	Temperature    float64
	Retry          *retry.Config
	CircuitBreaker *llm.CircuitBreakerConfig
}

// NewLLMOracle creates an oracle that calls client. The circuit breaker is
// owned by the oracle and shared across concurrent calls.
func NewLLMOracle(client llm.LLMClient, cfg LLMOracleConfig, logger *zap.Logger) *LLMOracle {
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.LLMConfig()
	}
	cbCfg := llm.DefaultCircuitBreakerConfig()
	if cfg.CircuitBreaker != nil {
		cbCfg = *cfg.CircuitBreaker
	}

	return &LLMOracle{
		client:      client,
		breaker:     llm.NewCircuitBreaker(cbCfg),
		retryConfig: retryCfg,
		temperature: cfg.Temperature,
		logger:      logger.Named("oracle"),
	}
}

var _ Oracle = (*LLMOracle)(nil)

type matchResponse struct {
	Matches []struct {
		MentionIndex   jsonutil.Int    `json:"mentionIndex"`
		CanonicalIndex jsonutil.Int    `json:"canonicalIndex"`
		Similarity     jsonutil.Float  `json:"similarity"`
		Reason         json.RawMessage `json:"reason"`
	} `json:"matches"`
	NewCanonicals jsonutil.IntList `json:"newCanonicals"`
}

type groupResponse struct {
	Groups []struct {
		CanonicalTag   json.RawMessage  `json:"canonicalTag"`
		Category       json.RawMessage  `json:"category"`
		VariantIndices jsonutil.IntList `json:"variantIndices"`
		Reason         json.RawMessage  `json:"reason"`
	} `json:"groups"`
}

// MatchEntities asks the model which mentions denote existing canonicals.
func (o *LLMOracle) MatchEntities(
	ctx context.Context,
	kind models.EntityKind,
	mentions []*models.EntityMention,
	canonicals []*models.CanonicalEntity,
) (*MatchResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "oracle.LLMOracle.MatchEntities",
		trace.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.Int("mentions", len(mentions)),
			attribute.Int("canonicals", len(canonicals)),
		))
	defer span.End()

	mentionCtx := make([]prompts.MentionContext, len(mentions))
	for i, m := range mentions {
		mentionCtx[i] = prompts.MentionContext{
			Name:       m.Name,
			Aliases:    m.Aliases,
			Confidence: m.Confidence,
			Attributes: m.Attributes,
		}
	}
	canonicalCtx := make([]prompts.CanonicalContext, len(canonicals))
	for i, c := range canonicals {
		canonicalCtx[i] = prompts.CanonicalContext{Name: c.CanonicalName, Aliases: c.Aliases}
	}

	prompt := prompts.BuildEntityMatchingPrompt(string(kind), mentionCtx, canonicalCtx)
	content, err := o.complete(ctx, opMatchEntities, prompt, prompts.EntityMatchingSystemMessage())
	if err != nil {
		return nil, failSpan(span, err)
	}

	parsed, err := llm.ParseJSONResponse[matchResponse](content)
	if err != nil {
		o.logger.Warn("Unparseable entity matching response",
			zap.String("kind", string(kind)),
			zap.String("response", logging.TruncateString(content, 500)),
			zap.Error(err))
		return nil, failSpan(span, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	result := &MatchResult{
		Matches:       make([]EntityMatch, 0, len(parsed.Matches)),
		NewCanonicals: []int(parsed.NewCanonicals),
	}
	for _, m := range parsed.Matches {
		result.Matches = append(result.Matches, EntityMatch{
			MentionIndex:   int(m.MentionIndex),
			CanonicalIndex: int(m.CanonicalIndex),
			Similarity:     float64(m.Similarity),
			Reason:         jsonutil.FlexibleStringValue(m.Reason),
		})
	}

	span.SetAttributes(
		attribute.Int("matches", len(result.Matches)),
		attribute.Int("new_canonicals", len(result.NewCanonicals)),
	)
	return result, nil
}

// GroupTags asks the model to group tags naming the same concept.
func (o *LLMOracle) GroupTags(ctx context.Context, tags []*models.Tag) (*TagGroupResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "oracle.LLMOracle.GroupTags",
		trace.WithAttributes(attribute.Int("tags", len(tags))))
	defer span.End()

	tagCtx := make([]prompts.TagContext, len(tags))
	for i, t := range tags {
		tagCtx[i] = prompts.TagContext{Name: t.Name, Category: string(t.Category), UsageCount: t.UsageCount}
	}
	categories := make([]string, len(models.ValidTagCategories))
	for i, c := range models.ValidTagCategories {
		categories[i] = string(c)
	}

	prompt := prompts.BuildTagGroupingPrompt(tagCtx, categories)
	content, err := o.complete(ctx, opGroupTags, prompt, prompts.TagGroupingSystemMessage())
	if err != nil {
		return nil, failSpan(span, err)
	}

	parsed, err := llm.ParseJSONResponse[groupResponse](content)
	if err != nil {
		o.logger.Warn("Unparseable tag grouping response",
			zap.String("response", logging.TruncateString(content, 500)),
			zap.Error(err))
		return nil, failSpan(span, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	result := &TagGroupResult{Groups: make([]TagGroup, 0, len(parsed.Groups))}
	for _, g := range parsed.Groups {
		result.Groups = append(result.Groups, TagGroup{
			CanonicalTag:   jsonutil.FlexibleStringValue(g.CanonicalTag),
			Category:       strings.ToLower(strings.TrimSpace(jsonutil.FlexibleStringValue(g.Category))),
			VariantIndices: []int(g.VariantIndices),
			Reason:         jsonutil.FlexibleStringValue(g.Reason),
		})
	}

	span.SetAttributes(attribute.Int("groups", len(result.Groups)))
	return result, nil
}

// complete runs one completion through the circuit breaker and retry policy.
func (o *LLMOracle) complete(ctx context.Context, operation, prompt, systemMessage string) (string, error) {
	if err := o.breaker.Allow(); err != nil {
		metrics.RecordOracleCall(operation, 0, err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	start := time.Now()
	var content string
	err := retry.DoIfRetryable(ctx, o.retryConfig, func() error {
		res, err := o.client.GenerateResponse(ctx, prompt, systemMessage, o.temperature, false)
		if err != nil {
			return err
		}
		content = res.Content
		return nil
	})
	o.breaker.Record(err)
	metrics.RecordOracleCall(operation, time.Since(start), err)

	if err != nil {
		o.logger.Error("Oracle call failed",
			zap.String("operation", operation),
			zap.String("model", o.client.GetModel()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return "", fmt.Errorf("%s: %w", operation, err)
	}

	o.logger.Debug("Oracle call completed",
		zap.String("operation", operation),
		zap.Int("response_len", len(content)),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
