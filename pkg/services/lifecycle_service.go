package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// LifecycleConfig tunes lifecycle recovery.
type LifecycleConfig struct {
	StuckThreshold time.Duration
	MaxRetries     int
}

// DefaultLifecycleConfig returns the default lifecycle settings.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		StuckThreshold: 5 * time.Minute,
		MaxRetries:     3,
	}
}

// LifecycleService tracks the processing state of documents and content nodes.
type LifecycleService interface {
	// Initialize registers a subject as pending. An existing ready or error
	// record whose content hash changed is forced back to pending.
	Initialize(ctx context.Context, subject models.LifecycleSubject, contentHash string) (*models.LifecycleRecord, error)
	// Transition moves a subject to the given state if the transition table
	// allows it. Returns apperrors.ErrInvalidTransition for a disallowed move
	// and apperrors.ErrConflict when another writer changed the state first.
	Transition(ctx context.Context, subject models.LifecycleSubject, to models.LifecycleState) (*models.LifecycleRecord, error)
	// MarkError moves a subject to error. An empty stage is derived from the
	// current state.
	MarkError(ctx context.Context, subject models.LifecycleSubject, stage models.LifecycleErrorStage, message string) (*models.LifecycleRecord, error)
	Get(ctx context.Context, subject models.LifecycleSubject) (*models.LifecycleRecord, error)
	ListByState(ctx context.Context, state models.LifecycleState, limit int) ([]*models.LifecycleRecord, error)
	// RecoverStuck resets subjects that have been in progress longer than
	// the stuck threshold.
	RecoverStuck(ctx context.Context) ([]*models.LifecycleRecord, error)
	// RetryFailed resets errored subjects that are below the retry cap.
	RetryFailed(ctx context.Context) ([]*models.LifecycleRecord, error)
	Status(ctx context.Context) ([]models.LifecycleStateCount, error)
}

type lifecycleService struct {
	repo   repositories.LifecycleRepository
	cfg    LifecycleConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(repo repositories.LifecycleRepository, cfg LifecycleConfig, logger *zap.Logger) LifecycleService {
	defaults := DefaultLifecycleConfig()
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = defaults.StuckThreshold
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	return &lifecycleService{
		repo:   repo,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Named("lifecycle"),
	}
}

var _ LifecycleService = (*lifecycleService)(nil)

func (s *lifecycleService) Initialize(ctx context.Context, subject models.LifecycleSubject, contentHash string) (*models.LifecycleRecord, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}

	record := &models.LifecycleRecord{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		ProjectID:   subject.ProjectID,
		State:       models.LifecycleStatePending,
	}
	if contentHash != "" {
		record.ContentHash = &contentHash
	}

	stored, inserted, err := s.repo.Create(ctx, record)
	if err != nil {
		return nil, err
	}
	if inserted || contentHash == "" || (stored.ContentHash != nil && *stored.ContentHash == contentHash) {
		return stored, nil
	}

	switch {
	case stored.State.IsTerminal():
		s.logger.Info("Content changed; resetting to pending",
			zap.String("subject_type", string(subject.Type)),
			zap.String("subject_id", subject.ID),
			zap.String("from", string(stored.State)))
	case stored.State == models.LifecycleStatePending:
	default:
		// In-progress work finishes on the old content; the next Initialize
		// after it completes picks up the change.
		return stored, nil
	}

	updated, err := s.repo.CompareAndSetState(ctx, stored.ID, stored.State, models.LifecycleStatePending,
		repositories.LifecycleUpdate{ContentHash: &contentHash, ClearError: true})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return s.repo.Get(ctx, subject.Type, subject.ID)
	}
	if stored.State != models.LifecycleStatePending {
		metrics.RecordTransition(string(stored.State), string(models.LifecycleStatePending))
	}
	return updated, nil
}

func (s *lifecycleService) Transition(ctx context.Context, subject models.LifecycleSubject, to models.LifecycleState) (*models.LifecycleRecord, error) {
	if !models.IsValidLifecycleState(to) {
		return nil, fmt.Errorf("unknown lifecycle state %q: %w", to, apperrors.ErrInvalidInput)
	}
	current, err := s.mustGet(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !current.State.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s %s: %s -> %s: %w", subject.Type, subject.ID, current.State, to, apperrors.ErrInvalidTransition)
	}

	update := repositories.LifecycleUpdate{ClearError: to == models.LifecycleStatePending}
	return s.compareAndSet(ctx, subject, current, to, update)
}

func (s *lifecycleService) MarkError(ctx context.Context, subject models.LifecycleSubject, stage models.LifecycleErrorStage, message string) (*models.LifecycleRecord, error) {
	current, err := s.mustGet(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !current.State.CanTransitionTo(models.LifecycleStateError) {
		return nil, fmt.Errorf("%s %s: %s -> error: %w", subject.Type, subject.ID, current.State, apperrors.ErrInvalidTransition)
	}
	if stage == "" {
		stage = models.ErrorStageFor(current.State)
	}
	if !models.IsValidLifecycleErrorStage(stage) {
		return nil, fmt.Errorf("unknown error stage %q: %w", stage, apperrors.ErrInvalidInput)
	}

	update := repositories.LifecycleUpdate{
		ErrorStage:     &stage,
		LastError:      &message,
		IncrementRetry: true,
	}
	rec, err := s.compareAndSet(ctx, subject, current, models.LifecycleStateError, update)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Lifecycle error recorded",
		zap.String("subject_type", string(subject.Type)),
		zap.String("subject_id", subject.ID),
		zap.String("stage", string(stage)),
		zap.Int("retry_count", rec.RetryCount),
		zap.String("error", message))
	return rec, nil
}

func (s *lifecycleService) compareAndSet(
	ctx context.Context,
	subject models.LifecycleSubject,
	current *models.LifecycleRecord,
	to models.LifecycleState,
	update repositories.LifecycleUpdate,
) (*models.LifecycleRecord, error) {
	rec, err := s.repo.CompareAndSetState(ctx, current.ID, current.State, to, update)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s is no longer %s: %w", subject.Type, subject.ID, current.State, apperrors.ErrConflict)
	}
	metrics.RecordTransition(string(current.State), string(to))
	return rec, nil
}

func (s *lifecycleService) Get(ctx context.Context, subject models.LifecycleSubject) (*models.LifecycleRecord, error) {
	return s.repo.Get(ctx, subject.Type, subject.ID)
}

func (s *lifecycleService) mustGet(ctx context.Context, subject models.LifecycleSubject) (*models.LifecycleRecord, error) {
	rec, err := s.repo.Get(ctx, subject.Type, subject.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s: %w", subject.Type, subject.ID, apperrors.ErrNotFound)
	}
	return rec, nil
}

func (s *lifecycleService) ListByState(ctx context.Context, state models.LifecycleState, limit int) ([]*models.LifecycleRecord, error) {
	if !models.IsValidLifecycleState(state) {
		return nil, fmt.Errorf("unknown lifecycle state %q: %w", state, apperrors.ErrInvalidInput)
	}
	return s.repo.ListByState(ctx, state, limit)
}

func (s *lifecycleService) RecoverStuck(ctx context.Context) ([]*models.LifecycleRecord, error) {
	cutoff := s.now().Add(-s.cfg.StuckThreshold)
	message := fmt.Sprintf("reset to pending after more than %s in progress", s.cfg.StuckThreshold)

	records, err := s.repo.ResetStuck(ctx, cutoff, message)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		stage := ""
		if rec.ErrorStage != nil {
			stage = string(*rec.ErrorStage)
		}
		metrics.RecordTransition("stuck", string(models.LifecycleStatePending))
		s.logger.Warn("Recovered stuck subject",
			zap.String("subject_type", string(rec.SubjectType)),
			zap.String("subject_id", rec.SubjectID),
			zap.String("stage", stage))
	}
	if len(records) > 0 {
		s.logger.Info("Stuck recovery complete", zap.Int("recovered", len(records)))
	}
	return records, nil
}

func (s *lifecycleService) RetryFailed(ctx context.Context) ([]*models.LifecycleRecord, error) {
	records, err := s.repo.ResetFailed(ctx, s.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	for range records {
		metrics.RecordTransition(string(models.LifecycleStateError), string(models.LifecycleStatePending))
	}
	s.logger.Info("Retried failed subjects",
		zap.Int("reset", len(records)),
		zap.Int("max_retries", s.cfg.MaxRetries))
	return records, nil
}

func (s *lifecycleService) Status(ctx context.Context) ([]models.LifecycleStateCount, error) {
	return s.repo.CountByState(ctx)
}

func validateSubject(subject models.LifecycleSubject) error {
	if !models.IsValidLifecycleSubjectType(subject.Type) {
		return fmt.Errorf("unknown subject type %q: %w", subject.Type, apperrors.ErrInvalidInput)
	}
	if subject.ID == "" {
		return fmt.Errorf("empty subject id: %w", apperrors.ErrInvalidInput)
	}
	return nil
}
