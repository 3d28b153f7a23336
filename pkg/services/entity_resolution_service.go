package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/canonical"
	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

const tracerName = "ragforge/services"

// ResolutionConfig tunes cross-document entity resolution.
type ResolutionConfig struct {
	MinConfidence float64
	MaxMentions   int
	BatchSize     int
	MinSimilarity float64
	// CreateUnmatched turns mentions the oracle neither matched above
	// MinSimilarity nor proposed as new into new canonicals. When false they
	// stay unlinked and are counted as skipped.
	CreateUnmatched bool
	KindConcurrency int
}

// DefaultResolutionConfig returns the default resolution settings.
func DefaultResolutionConfig() ResolutionConfig {
	return ResolutionConfig{
		MinConfidence:   0.6,
		MaxMentions:     500,
		BatchSize:       50,
		MinSimilarity:   0.8,
		CreateUnmatched: true,
		KindConcurrency: 4,
	}
}

// EntityResolutionService folds extracted entity mentions into the shared
// canonical registry.
type EntityResolutionService interface {
	// ResolveEntities links every unresolved mention above the confidence
	// floor to a canonical entity, matching or creating as needed.
	ResolveEntities(ctx context.Context) (*models.EntityResolutionResult, error)
	// MergeCanonicals folds canonicals that share a recomputed
	// (normalized name, kind) into the oldest of them.
	MergeCanonicals(ctx context.Context) (*models.CanonicalMergeResult, error)
	// CreateCanonical creates the mention's canonical, or augments the one
	// another writer created first, and links the mention to it.
	CreateCanonical(ctx context.Context, mention *models.EntityMention) (*models.CanonicalEntity, error)
}

type entityResolutionService struct {
	mentionRepo   repositories.EntityMentionRepository
	canonicalRepo repositories.CanonicalEntityRepository
	oracle        oracle.Oracle
	tx            database.TxRunner
	cfg           ResolutionConfig
	logger        *zap.Logger
}

// NewEntityResolutionService creates a new EntityResolutionService.
func NewEntityResolutionService(
	mentionRepo repositories.EntityMentionRepository,
	canonicalRepo repositories.CanonicalEntityRepository,
	semanticOracle oracle.Oracle,
	tx database.TxRunner,
	cfg ResolutionConfig,
	logger *zap.Logger,
) EntityResolutionService {
	defaults := DefaultResolutionConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxMentions <= 0 {
		cfg.MaxMentions = defaults.MaxMentions
	}
	if cfg.KindConcurrency <= 0 {
		cfg.KindConcurrency = defaults.KindConcurrency
	}

	return &entityResolutionService{
		mentionRepo:   mentionRepo,
		canonicalRepo: canonicalRepo,
		oracle:        semanticOracle,
		tx:            tx,
		cfg:           cfg,
		logger:        logger.Named("entity-resolution"),
	}
}

var _ EntityResolutionService = (*entityResolutionService)(nil)

func (s *entityResolutionService) ResolveEntities(ctx context.Context) (*models.EntityResolutionResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "services.EntityResolution.ResolveEntities")
	defer span.End()

	start := time.Now()
	result := &models.EntityResolutionResult{}

	mentions, err := s.mentionRepo.ListUnresolved(ctx, s.cfg.MinConfidence, s.cfg.MaxMentions)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to load unresolved mentions: %w", err))
	}
	if len(mentions) == 0 {
		result.Duration = time.Since(start)
		s.logger.Info("No unresolved mentions")
		return result, nil
	}

	registry, err := s.canonicalRepo.ListAll(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to load canonical registry: %w", err))
	}

	var kinds []models.EntityKind
	mentionsByKind := make(map[models.EntityKind][]*models.EntityMention)
	for _, m := range mentions {
		if _, seen := mentionsByKind[m.Kind]; !seen {
			kinds = append(kinds, m.Kind)
		}
		mentionsByKind[m.Kind] = append(mentionsByKind[m.Kind], m)
	}
	canonicalsByKind := make(map[models.EntityKind][]*models.CanonicalEntity)
	for _, c := range registry {
		canonicalsByKind[c.Kind] = append(canonicalsByKind[c.Kind], c)
	}

	s.logger.Info("Resolving entity mentions",
		zap.Int("mentions", len(mentions)),
		zap.Int("kinds", len(kinds)),
		zap.Int("canonicals", len(registry)))

	// Kinds are independent; batches within a kind are not.
	stats := make([]*models.KindResolutionStats, len(kinds))
	outages := make([]error, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.KindConcurrency)
	for i, kind := range kinds {
		g.Go(func() error {
			st, outage, err := s.resolveKind(gctx, kind, mentionsByKind[kind], canonicalsByKind[kind])
			stats[i] = st
			outages[i] = outage
			return err
		})
	}
	runErr := g.Wait()

	for _, st := range stats {
		if st == nil {
			continue
		}
		result.Add(st)
		metrics.RecordMentions(string(st.Kind), metrics.OutcomeMerged, st.Merged)
		metrics.RecordMentions(string(st.Kind), metrics.OutcomeCreated, st.Created)
		metrics.RecordMentions(string(st.Kind), metrics.OutcomeSkipped, st.Skipped)
	}
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("merged", result.Merged),
		attribute.Int("created", result.Created),
	)

	if runErr != nil {
		s.logger.Error("Entity resolution aborted",
			zap.Int("processed", result.Processed),
			zap.Error(runErr))
		return result, recordSpanError(span, runErr)
	}
	if outage := errors.Join(outages...); outage != nil {
		s.logger.Error("Entity resolution incomplete: oracle unreachable",
			zap.Int("processed", result.Processed),
			zap.Int("skipped", result.Skipped),
			zap.Error(outage))
		return result, recordSpanError(span, fmt.Errorf("%w: %w", oracle.ErrUnavailable, outage))
	}

	s.logger.Info("Entity resolution complete",
		zap.Int("processed", result.Processed),
		zap.Int("merged", result.Merged),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed_batches", result.FailedBatches),
		zap.Duration("elapsed", result.Duration))

	return result, nil
}

// resolveKind processes one kind's mentions batch by batch. The returned
// stats are valid even when an error is returned. An unreachable oracle ends
// the kind and is reported as outage so other kinds keep running.
func (s *entityResolutionService) resolveKind(
	ctx context.Context,
	kind models.EntityKind,
	mentions []*models.EntityMention,
	existing []*models.CanonicalEntity,
) (st *models.KindResolutionStats, outage error, err error) {
	st = &models.KindResolutionStats{Kind: kind}
	reg := newCandidateRegistry(existing)
	logger := s.logger.With(zap.String("kind", string(kind)))

	if reg.len() == 0 {
		for _, m := range mentions {
			if err := s.createInto(ctx, reg, m); err != nil {
				return st, nil, err
			}
			st.Processed++
			st.Created++
		}
		logger.Debug("Created canonicals without matching", zap.Int("count", st.Created))
		return st, nil, nil
	}

	for start := 0; start < len(mentions); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return st, nil, err
		}
		batch := mentions[start:min(start+s.cfg.BatchSize, len(mentions))]

		st.OracleCalls++
		answer, err := s.oracle.MatchEntities(ctx, kind, batch, reg.list())
		if err != nil {
			st.FailedBatches++
			if errors.Is(err, oracle.ErrMalformedResponse) {
				st.Skipped += len(batch)
				logger.Warn("Skipping batch with malformed oracle response",
					zap.Int("batch_start", start),
					zap.Int("batch_size", len(batch)),
					zap.Error(err))
				continue
			}
			if ctx.Err() != nil {
				return st, nil, ctx.Err()
			}
			remaining := len(mentions) - start
			st.Skipped += remaining
			logger.Error("Oracle failed; leaving remaining mentions of kind unresolved",
				zap.Int("remaining", remaining),
				zap.Error(err))
			return st, fmt.Errorf("kind %s: %w", kind, err), nil
		}

		plan := planBatch(answer, len(batch), reg.len(), s.cfg.MinSimilarity)
		if plan.dropped > 0 {
			logger.Debug("Discarded oracle matches",
				zap.Int("batch_start", start),
				zap.Int("dropped", plan.dropped))
		}

		// Indices in plan refer to the registry as sent; creates only append.
		targets := reg.list()
		for i, m := range batch {
			st.Processed++
			switch {
			case plan.matched(i):
				target := targets[plan.matches[i].CanonicalIndex]
				err := s.mergeInto(ctx, reg, target.ID, m)
				if errors.Is(err, errCanonicalGone) {
					// Folded away by a concurrent merge pass.
					logger.Info("Matched canonical no longer exists; creating instead",
						zap.String("canonical_id", target.ID.String()),
						zap.String("mention", m.Name))
					reg.remove(target.ID)
					if err := s.createInto(ctx, reg, m); err != nil {
						return st, nil, err
					}
					st.Created++
					continue
				}
				if err != nil {
					return st, nil, err
				}
				st.Merged++
			case plan.create[i] || s.cfg.CreateUnmatched:
				if err := s.createInto(ctx, reg, m); err != nil {
					return st, nil, err
				}
				st.Created++
			default:
				st.Skipped++
			}
		}
	}

	return st, nil, nil
}

func (s *entityResolutionService) CreateCanonical(ctx context.Context, mention *models.EntityMention) (*models.CanonicalEntity, error) {
	c := models.NewCanonicalFromMention(mention)

	var stored *models.CanonicalEntity
	var inserted bool
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		stored, inserted, err = s.canonicalRepo.Upsert(ctx, c)
		if err != nil {
			return err
		}
		return s.claim(ctx, mention, stored)
	})
	if errors.Is(err, apperrors.ErrConflict) {
		// Another writer owns the key; attach to its row instead.
		inserted = false
		err = s.tx.WithTx(ctx, func(ctx context.Context) error {
			existing, err := s.canonicalRepo.GetByNormalizedName(ctx, c.NormalizedName, c.Kind)
			if err != nil {
				return fmt.Errorf("failed to load conflicting canonical: %w", err)
			}
			if existing == nil {
				return fmt.Errorf("canonical %q (%s) missing after conflict", c.NormalizedName, c.Kind)
			}
			stored, err = s.canonicalRepo.Augment(ctx, existing.ID, c.Aliases, c.ProjectIDs, c.DocumentIDs)
			if err != nil {
				return err
			}
			if stored == nil {
				return fmt.Errorf("canonical %s deleted during augment", existing.ID)
			}
			return s.claim(ctx, mention, stored)
		})
	}
	if errors.Is(err, errMentionClaimed) {
		return s.claimedCanonical(ctx, mention)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create canonical for mention %s: %w", mention.ID, err)
	}

	s.logger.Debug("Canonical resolved by create",
		zap.String("mention", mention.Name),
		zap.String("canonical_id", stored.ID.String()),
		zap.Bool("inserted", inserted))
	return stored, nil
}

func (s *entityResolutionService) createInto(ctx context.Context, reg *candidateRegistry, m *models.EntityMention) error {
	c, err := s.CreateCanonical(ctx, m)
	if err != nil {
		return err
	}
	reg.put(c)
	return nil
}

var (
	// errMentionClaimed rolls back a create whose mention another run linked first.
	errMentionClaimed = errors.New("mention already linked")
	errCanonicalGone  = errors.New("canonical no longer exists")
)

// claim links the mention inside the caller's transaction, failing with
// errMentionClaimed when a concurrent run linked it first.
func (s *entityResolutionService) claim(ctx context.Context, m *models.EntityMention, c *models.CanonicalEntity) error {
	linked, err := s.mentionRepo.Link(ctx, m.ID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to link mention %s: %w", m.ID, err)
	}
	if !linked {
		return errMentionClaimed
	}
	return nil
}

// claimedCanonical returns the canonical a concurrent run linked the mention to.
func (s *entityResolutionService) claimedCanonical(ctx context.Context, m *models.EntityMention) (*models.CanonicalEntity, error) {
	s.logger.Debug("Mention already linked by a concurrent run",
		zap.String("mention_id", m.ID.String()))

	current, err := s.mentionRepo.GetByID(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload mention %s: %w", m.ID, err)
	}
	if current == nil || current.CanonicalID == nil {
		return nil, fmt.Errorf("mention %s reported linked but has no canonical", m.ID)
	}
	c, err := s.canonicalRepo.GetByID(ctx, *current.CanonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical %s: %w", *current.CanonicalID, err)
	}
	if c == nil {
		return nil, fmt.Errorf("canonical %s of mention %s: %w", *current.CanonicalID, m.ID, apperrors.ErrNotFound)
	}
	return c, nil
}

// mergeInto folds a matched mention into an existing canonical under its row
// lock: the display name is re-selected, and aliases, projects and documents
// are unioned with the row as it is now, not as it was when the run started.
func (s *entityResolutionService) mergeInto(ctx context.Context, reg *candidateRegistry, canonicalID uuid.UUID, m *models.EntityMention) error {
	var merged *models.CanonicalEntity
	attempt := func(keepKey bool) error {
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.canonicalRepo.LockForUpdate(ctx, canonicalID)
			if err != nil {
				return err
			}
			if len(locked) == 0 {
				return errCanonicalGone
			}
			current := locked[0]

			if err := s.claim(ctx, m, current); err != nil {
				if errors.Is(err, errMentionClaimed) {
					s.logger.Debug("Mention already linked by a concurrent run",
						zap.String("mention_id", m.ID.String()))
					merged = current
					return nil
				}
				return err
			}

			merged = absorbNames(current,
				[]string{m.Name}, m.Aliases, []string{m.ProjectID}, []string{m.DocumentID})
			if keepKey {
				merged.NormalizedName = current.NormalizedName
			} else if err := s.keepKeyIfHeld(ctx, merged, current.NormalizedName, current.ID); err != nil {
				return err
			}
			return s.canonicalRepo.Update(ctx, merged)
		})
	}

	err := attempt(false)
	if errors.Is(err, apperrors.ErrConflict) {
		// Lost a race for the new key after checking it.
		err = attempt(true)
	}
	if errors.Is(err, errCanonicalGone) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to merge mention %s into canonical %s: %w", m.ID, canonicalID, err)
	}

	reg.put(merged)
	return nil
}

// absorbNames returns base with names re-selected over its own and the given
// names, and the set columns unioned.
func absorbNames(base *models.CanonicalEntity, names, aliases, projectIDs, documentIDs []string) *models.CanonicalEntity {
	candidates := canonical.Names(1, append([]string{base.CanonicalName}, names...)...)
	candidates = append(candidates, canonical.Names(0, base.Aliases...)...)
	candidates = append(candidates, canonical.Names(0, aliases...)...)
	name := canonical.ForEntity(base.Kind, candidates)

	merged := *base
	merged.CanonicalName = name
	merged.NormalizedName = models.NormalizeEntityName(name)
	merged.Aliases = models.RemoveString(
		models.UnionStrings(base.Aliases, aliases, []string{base.CanonicalName}, names), name)
	merged.ProjectIDs = models.UnionStrings(base.ProjectIDs, projectIDs)
	merged.DocumentIDs = models.UnionStrings(base.DocumentIDs, documentIDs)
	return &merged
}

// keepKeyIfHeld restores previousKey when merged's new normalized name belongs
// to a canonical outside owners. MergeCanonicals folds the pair later.
func (s *entityResolutionService) keepKeyIfHeld(ctx context.Context, merged *models.CanonicalEntity, previousKey string, owners ...uuid.UUID) error {
	if merged.NormalizedName == previousKey {
		return nil
	}
	holder, err := s.canonicalRepo.GetByNormalizedName(ctx, merged.NormalizedName, merged.Kind)
	if err != nil {
		return fmt.Errorf("failed to check canonical key %q: %w", merged.NormalizedName, err)
	}
	if holder == nil || slices.Contains(owners, holder.ID) {
		return nil
	}

	s.logger.Info("Canonical rename collides with existing key",
		zap.String("canonical_id", merged.ID.String()),
		zap.String("name", merged.CanonicalName),
		zap.String("holder_id", holder.ID.String()))
	merged.NormalizedName = previousKey
	return nil
}

func (s *entityResolutionService) MergeCanonicals(ctx context.Context) (*models.CanonicalMergeResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "services.EntityResolution.MergeCanonicals")
	defer span.End()

	start := time.Now()
	result := &models.CanonicalMergeResult{}

	groups, err := s.canonicalRepo.FindDuplicateGroups(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to find duplicate canonicals: %w", err))
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		result.Groups++

		survivorID := group[0].ID
		for _, dup := range group[1:] {
			moved, err := s.foldCanonical(ctx, survivorID, dup.ID)
			if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, errCanonicalGone) {
				s.logger.Warn("Skipping canonical merge",
					zap.String("survivor_id", survivorID.String()),
					zap.String("duplicate_id", dup.ID.String()),
					zap.Error(err))
				result.Skipped++
				continue
			}
			if err != nil {
				result.Duration = time.Since(start)
				return result, recordSpanError(span, err)
			}
			result.Merged++
			result.MentionsMoved += moved
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info("Canonical merge complete",
		zap.Int("groups", result.Groups),
		zap.Int("merged", result.Merged),
		zap.Int("skipped", result.Skipped),
		zap.Int("mentions_moved", result.MentionsMoved),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

// foldCanonical merges dup into survivor in one transaction, working from the
// locked rows rather than the duplicate scan.
func (s *entityResolutionService) foldCanonical(ctx context.Context, survivorID, dupID uuid.UUID) (int, error) {
	var moved int
	var merged *models.CanonicalEntity
	attempt := func(keepKey bool) error {
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.canonicalRepo.LockForUpdate(ctx, survivorID, dupID)
			if err != nil {
				return err
			}
			var survivor, dup *models.CanonicalEntity
			for _, c := range locked {
				switch c.ID {
				case survivorID:
					survivor = c
				case dupID:
					dup = c
				}
			}
			if survivor == nil || dup == nil {
				return errCanonicalGone
			}

			moved, err = s.mentionRepo.TransferMentions(ctx, dup.ID, survivor.ID)
			if err != nil {
				return err
			}

			merged = absorbNames(survivor,
				[]string{dup.CanonicalName}, dup.Aliases, dup.ProjectIDs, dup.DocumentIDs)
			if keepKey {
				merged.NormalizedName = survivor.NormalizedName
			} else if err := s.keepKeyIfHeld(ctx, merged, survivor.NormalizedName, survivor.ID, dup.ID); err != nil {
				return err
			}

			// The duplicate may hold the key the survivor needs.
			if err := s.canonicalRepo.Delete(ctx, dup.ID); err != nil {
				return err
			}
			return s.canonicalRepo.Update(ctx, merged)
		})
	}

	err := attempt(false)
	if errors.Is(err, apperrors.ErrConflict) {
		err = attempt(true)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to merge canonical %s into %s: %w", dupID, survivorID, err)
	}

	s.logger.Info("Merged duplicate canonical",
		zap.String("survivor_id", survivorID.String()),
		zap.String("duplicate_id", dupID.String()),
		zap.String("name", merged.CanonicalName),
		zap.Int("mentions_moved", moved))
	return moved, nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
