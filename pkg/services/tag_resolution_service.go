package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/canonical"
	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// Tag merge phases, used as metric labels.
const (
	tagPhaseExact    = "exact"
	tagPhaseSemantic = "semantic"
)

// TagConfig tunes tag resolution.
type TagConfig struct {
	// MaxSemanticTags caps how many tags are sent to the oracle in the
	// semantic phase. The most used tags are sent first.
	MaxSemanticTags int
	SemanticEnabled bool
}

// DefaultTagConfig returns the default tag resolution settings.
func DefaultTagConfig() TagConfig {
	return TagConfig{
		MaxSemanticTags: 200,
		SemanticEnabled: true,
	}
}

// TagResolutionService deduplicates the tag vocabulary.
type TagResolutionService interface {
	// ResolveTags merges tags sharing a normalized form, refreshes stale
	// normalized names, then merges oracle-identified synonyms. Oracle
	// failures skip the semantic phase and are not returned.
	ResolveTags(ctx context.Context) (*models.TagResolutionResult, error)
	// AttachTag creates the tag if needed and links it to a content node.
	AttachTag(ctx context.Context, name string, category models.TagCategory, projectID string, contentNodeID uuid.UUID) (*models.Tag, error)
}

type tagResolutionService struct {
	tagRepo repositories.TagRepository
	oracle  oracle.Oracle
	tx      database.TxRunner
	cfg     TagConfig
	logger  *zap.Logger
}

// NewTagResolutionService creates a new TagResolutionService.
func NewTagResolutionService(
	tagRepo repositories.TagRepository,
	semanticOracle oracle.Oracle,
	tx database.TxRunner,
	cfg TagConfig,
	logger *zap.Logger,
) TagResolutionService {
	if cfg.MaxSemanticTags <= 0 {
		cfg.MaxSemanticTags = DefaultTagConfig().MaxSemanticTags
	}
	return &tagResolutionService{
		tagRepo: tagRepo,
		oracle:  semanticOracle,
		tx:      tx,
		cfg:     cfg,
		logger:  logger.Named("tag-resolution"),
	}
}

var _ TagResolutionService = (*tagResolutionService)(nil)

func (s *tagResolutionService) ResolveTags(ctx context.Context) (*models.TagResolutionResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "services.TagResolution.ResolveTags")
	defer span.End()

	start := time.Now()
	result := &models.TagResolutionResult{}

	tags, err := s.tagRepo.ListAll(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to load tags: %w", err))
	}

	tags, err = s.mergeExact(ctx, tags, result)
	if err != nil {
		return result, recordSpanError(span, err)
	}

	if err := s.refreshNormalized(ctx, tags, result); err != nil {
		return result, recordSpanError(span, err)
	}

	if s.cfg.SemanticEnabled {
		tags, err = s.mergeSemantic(ctx, tags, result)
		if err != nil {
			return result, recordSpanError(span, err)
		}
	}

	result.Remaining = len(tags)
	result.Duration = time.Since(start)

	metrics.RecordTagMerges(tagPhaseExact, result.ExactMerged)
	metrics.RecordTagMerges(tagPhaseSemantic, result.SemanticMerged)
	span.SetAttributes(
		attribute.Int("exact_merged", result.ExactMerged),
		attribute.Int("semantic_merged", result.SemanticMerged),
	)

	s.logger.Info("Tag resolution complete",
		zap.Int("normalized", result.Normalized),
		zap.Int("exact_merged", result.ExactMerged),
		zap.Int("semantic_groups", result.SemanticGroups),
		zap.Int("semantic_merged", result.SemanticMerged),
		zap.Int("remaining", result.Remaining),
		zap.Duration("elapsed", result.Duration))

	return result, nil
}

// mergeExact folds tags whose names share a normalized form into the oldest
// of them. Returns the surviving tags in their original order.
func (s *tagResolutionService) mergeExact(ctx context.Context, tags []*models.Tag, result *models.TagResolutionResult) ([]*models.Tag, error) {
	groups := make(map[string][]*models.Tag)
	var order []string
	for _, t := range tags {
		key := models.NormalizeTagName(t.Name)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	removed := make(map[uuid.UUID]bool)
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		survivor := group[0]
		folded, err := s.mergeTags(ctx, survivor, group[1:], survivor.Category)
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, errTagGone) {
			s.logger.Warn("Skipping exact tag merge",
				zap.String("normalized_name", key),
				zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, v := range group[1:] {
			removed[v.ID] = true
		}
		result.ExactMerged += folded
	}

	return withoutRemoved(tags, removed), nil
}

// refreshNormalized rewrites normalized names that no longer match the
// current normalization of the tag name.
func (s *tagResolutionService) refreshNormalized(ctx context.Context, tags []*models.Tag, result *models.TagResolutionResult) error {
	for _, t := range tags {
		if !t.IsNormalizationStale() {
			continue
		}

		var refreshed *models.Tag
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.tagRepo.LockForUpdate(ctx, t.ID)
			if err != nil {
				return err
			}
			if len(locked) == 0 {
				return errTagGone
			}
			current := locked[0]
			if !current.IsNormalizationStale() {
				return nil
			}
			current.NormalizedName = models.NormalizeTagName(current.Name)
			if err := s.tagRepo.Update(ctx, current); err != nil {
				return err
			}
			refreshed = current
			return nil
		})
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, errTagGone) {
			s.logger.Warn("Cannot refresh normalized tag name",
				zap.String("tag", t.Name),
				zap.String("normalized_name", models.NormalizeTagName(t.Name)),
				zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to refresh normalized name of tag %s: %w", t.ID, err)
		}
		if refreshed != nil {
			*t = *refreshed
			result.Normalized++
		}
	}
	return nil
}

func (s *tagResolutionService) mergeSemantic(ctx context.Context, tags []*models.Tag, result *models.TagResolutionResult) ([]*models.Tag, error) {
	candidates := make([]*models.Tag, len(tags))
	copy(candidates, tags)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UsageCount > candidates[j].UsageCount
	})
	if len(candidates) > s.cfg.MaxSemanticTags {
		candidates = candidates[:s.cfg.MaxSemanticTags]
	}
	if len(candidates) < 2 {
		return tags, nil
	}

	answer, err := s.oracle.GroupTags(ctx, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return tags, ctx.Err()
		}
		s.logger.Warn("Semantic tag grouping unavailable; skipping phase",
			zap.Int("tags", len(candidates)),
			zap.Error(err))
		return tags, nil
	}

	consumed := make(map[int]bool)
	removed := make(map[uuid.UUID]bool)
	for _, group := range answer.Groups {
		members := groupMembers(group.VariantIndices, len(candidates), consumed)
		if len(members) < 2 {
			continue
		}

		variants := make([]*models.Tag, len(members))
		for i, idx := range members {
			variants[i] = candidates[idx]
		}
		survivor, others := pickSurvivor(variants)

		category := survivor.Category
		if c := models.TagCategory(group.Category); models.IsValidTagCategory(c) {
			category = c
		}

		folded, err := s.mergeTags(ctx, survivor, others, category)
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, errTagGone) {
			s.logger.Warn("Skipping semantic tag group",
				zap.String("suggested", group.CanonicalTag),
				zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, idx := range members {
			consumed[idx] = true
		}
		for _, o := range others {
			removed[o.ID] = true
		}
		result.SemanticGroups++
		result.SemanticMerged += folded

		s.logger.Debug("Merged semantic tag group",
			zap.String("name", survivor.Name),
			zap.String("suggested", group.CanonicalTag),
			zap.Int("variants", len(members)),
			zap.String("reason", group.Reason))
	}

	return withoutRemoved(tags, removed), nil
}

// groupMembers returns the in-range indices of a group that no earlier group
// has claimed, in first-seen order.
func groupMembers(indices []int, n int, consumed map[int]bool) []int {
	seen := make(map[int]bool)
	var out []int
	for _, i := range indices {
		if i < 0 || i >= n || consumed[i] || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

// pickSurvivor returns the most used variant, ties going to the older one.
func pickSurvivor(variants []*models.Tag) (*models.Tag, []*models.Tag) {
	best := 0
	for i, v := range variants[1:] {
		b := variants[best]
		switch {
		case v.UsageCount > b.UsageCount:
			best = i + 1
		case v.UsageCount < b.UsageCount:
		case v.CreatedAt.Before(b.CreatedAt):
			best = i + 1
		case v.CreatedAt.Equal(b.CreatedAt) && v.ID.String() < b.ID.String():
			best = i + 1
		}
	}

	others := make([]*models.Tag, 0, len(variants)-1)
	for i, v := range variants {
		if i != best {
			others = append(others, v)
		}
	}
	return variants[best], others
}

// errTagGone reports that a merge survivor was deleted after the tag list was read.
var errTagGone = errors.New("tag no longer exists")

// mergeTags folds variants into survivor in one transaction: links are moved,
// usage is summed, variant names are kept as aliases and the variants are
// deleted. Counts and sets come from the locked rows, so usage and edges
// added since the tag list was read are kept. survivor is updated in place on
// success. Returns the number of variants folded.
func (s *tagResolutionService) mergeTags(ctx context.Context, survivor *models.Tag, variants []*models.Tag, category models.TagCategory) (int, error) {
	ids := make([]uuid.UUID, 0, len(variants)+1)
	ids = append(ids, survivor.ID)
	for _, v := range variants {
		ids = append(ids, v.ID)
	}

	var merged *models.Tag
	var folded, moved int
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.tagRepo.LockForUpdate(ctx, ids...)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*models.Tag, len(locked))
		for _, t := range locked {
			byID[t.ID] = t
		}
		current, ok := byID[survivor.ID]
		if !ok {
			return errTagGone
		}
		var live []*models.Tag
		for _, v := range variants {
			if lv, ok := byID[v.ID]; ok {
				live = append(live, lv)
			}
		}

		merged = foldTags(current, live, category)
		for _, v := range live {
			n, err := s.tagRepo.TransferLinks(ctx, v.ID, current.ID)
			if err != nil {
				return err
			}
			moved += n
			if err := s.tagRepo.Delete(ctx, v.ID); err != nil {
				return err
			}
		}
		folded = len(live)
		return s.tagRepo.Update(ctx, merged)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to merge %d tags into %s: %w", len(variants), survivor.ID, err)
	}

	s.logger.Info("Merged tags",
		zap.String("survivor_id", survivor.ID.String()),
		zap.String("name", merged.Name),
		zap.Int("variants", folded),
		zap.Int("links_moved", moved),
		zap.Int("usage_count", merged.UsageCount))

	*survivor = *merged
	return folded, nil
}

// foldTags returns survivor with the variants' usage summed, their names kept
// as aliases and the display name re-selected by usage.
func foldTags(survivor *models.Tag, variants []*models.Tag, category models.TagCategory) *models.Tag {
	candidates := canonical.Names(survivor.UsageCount, survivor.Name)
	for _, v := range variants {
		candidates = append(candidates, canonical.Names(v.UsageCount, v.Name)...)
	}
	name := canonical.ForTag(candidates)

	merged := *survivor
	merged.Name = name
	merged.NormalizedName = models.NormalizeTagName(name)
	merged.Category = category

	aliases := [][]string{survivor.Aliases, {survivor.Name}}
	projects := [][]string{survivor.ProjectIDs}
	for _, v := range variants {
		merged.UsageCount += v.UsageCount
		aliases = append(aliases, v.Aliases, []string{v.Name})
		projects = append(projects, v.ProjectIDs)
	}
	merged.Aliases = models.RemoveString(models.UnionStrings(aliases...), name)
	merged.ProjectIDs = models.UnionStrings(projects...)
	return &merged
}

func (s *tagResolutionService) AttachTag(ctx context.Context, name string, category models.TagCategory, projectID string, contentNodeID uuid.UUID) (*models.Tag, error) {
	normalized := models.NormalizeTagName(name)
	if normalized == "" {
		return nil, fmt.Errorf("tag name %q: %w", name, apperrors.ErrInvalidInput)
	}
	if !models.IsValidTagCategory(category) {
		category = models.TagCategoryOther
	}

	tag := &models.Tag{
		Name:           normalized,
		NormalizedName: normalized,
		Category:       category,
		Aliases:        models.RemoveString(models.UnionStrings([]string{name}), normalized),
		UsageCount:     1,
	}
	if projectID != "" {
		tag.ProjectIDs = []string{projectID}
	}

	stored, _, err := s.tagRepo.Upsert(ctx, tag)
	if errors.Is(err, apperrors.ErrConflict) {
		stored, err = s.tagRepo.GetByNormalizedName(ctx, normalized)
		if err == nil && stored == nil {
			err = fmt.Errorf("tag %q missing after conflict", normalized)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tag %q: %w", normalized, err)
	}

	if _, err := s.tagRepo.LinkContentNode(ctx, contentNodeID, stored.ID); err != nil {
		return nil, err
	}
	return stored, nil
}

func withoutRemoved(tags []*models.Tag, removed map[uuid.UUID]bool) []*models.Tag {
	if len(removed) == 0 {
		return tags
	}
	out := make([]*models.Tag, 0, len(tags)-len(removed))
	for _, t := range tags {
		if !removed[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
