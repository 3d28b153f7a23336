package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// LifecycleUpdate carries the side effects of a state change.
type LifecycleUpdate struct {
	ContentHash    *string
	ErrorStage     *models.LifecycleErrorStage
	LastError      *string
	IncrementRetry bool
	// ClearError resets error_stage, last_error and retry_count.
	ClearError bool
}

// LifecycleRepository provides data access for lifecycle records.
type LifecycleRepository interface {
	// Create inserts a record unless one already exists for the subject.
	// Returns the stored record and whether it was inserted.
	Create(ctx context.Context, record *models.LifecycleRecord) (*models.LifecycleRecord, bool, error)
	Get(ctx context.Context, subjectType models.LifecycleSubjectType, subjectID string) (*models.LifecycleRecord, error)
	// CompareAndSetState moves the record from one state to another only if
	// it is still in the expected state. Returns nil when the CAS lost.
	CompareAndSetState(ctx context.Context, id uuid.UUID, from, to models.LifecycleState, update LifecycleUpdate) (*models.LifecycleRecord, error)
	ListByState(ctx context.Context, state models.LifecycleState, limit int) ([]*models.LifecycleRecord, error)
	// ResetStuck moves in-progress records whose last transition is older than
	// cutoff back to pending, recording message as the error.
	ResetStuck(ctx context.Context, cutoff time.Time, message string) ([]*models.LifecycleRecord, error)
	// ResetFailed moves error records with retry_count < maxRetries back to
	// pending and clears their error fields.
	ResetFailed(ctx context.Context, maxRetries int) ([]*models.LifecycleRecord, error)
	CountByState(ctx context.Context) ([]models.LifecycleStateCount, error)
}

type lifecycleRepository struct {
	db *database.DB
}

// NewLifecycleRepository creates a new LifecycleRepository.
func NewLifecycleRepository(db *database.DB) LifecycleRepository {
	return &lifecycleRepository{db: db}
}

var _ LifecycleRepository = (*lifecycleRepository)(nil)

const lifecycleColumns = `
	id, subject_type, subject_id, project_id, state, content_hash, error_stage,
	last_error, retry_count, state_changed_at, created_at, updated_at`

func (r *lifecycleRepository) Create(ctx context.Context, record *models.LifecycleRecord) (*models.LifecycleRecord, bool, error) {
	q := r.db.GetScope(ctx)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.State == "" {
		record.State = models.LifecycleStatePending
	}
	now := time.Now()

	query := `
		INSERT INTO lifecycle_records (
			id, subject_type, subject_id, project_id, state, content_hash,
			retry_count, state_changed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7, $7)
		ON CONFLICT (subject_type, subject_id) DO NOTHING
		RETURNING ` + lifecycleColumns

	rec, err := scanLifecycleRecord(q.QueryRow(ctx, query,
		record.ID, record.SubjectType, record.SubjectID, record.ProjectID, record.State, record.ContentHash, now,
	))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create lifecycle record: %w", err)
	}

	existing, err := r.Get(ctx, record.SubjectType, record.SubjectID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("lifecycle record for %s %s vanished after conflict", record.SubjectType, record.SubjectID)
	}
	return existing, false, nil
}

func (r *lifecycleRepository) Get(ctx context.Context, subjectType models.LifecycleSubjectType, subjectID string) (*models.LifecycleRecord, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + lifecycleColumns + `
		FROM lifecycle_records
		WHERE subject_type = $1 AND subject_id = $2`

	rec, err := scanLifecycleRecord(q.QueryRow(ctx, query, subjectType, subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *lifecycleRepository) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to models.LifecycleState, update LifecycleUpdate) (*models.LifecycleRecord, error) {
	q := r.db.GetScope(ctx)

	query := `
		UPDATE lifecycle_records SET
			state            = $3,
			state_changed_at = $4,
			updated_at       = $4,
			content_hash     = COALESCE($5, content_hash),
			error_stage      = CASE WHEN $8 THEN NULL ELSE COALESCE($6, error_stage) END,
			last_error       = CASE WHEN $8 THEN NULL ELSE COALESCE($7, last_error) END,
			retry_count      = CASE WHEN $8 THEN 0 WHEN $9 THEN retry_count + 1 ELSE retry_count END
		WHERE id = $1 AND state = $2
		RETURNING ` + lifecycleColumns

	rec, err := scanLifecycleRecord(q.QueryRow(ctx, query,
		id, from, to, time.Now(),
		update.ContentHash, update.ErrorStage, update.LastError,
		update.ClearError, update.IncrementRetry,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update lifecycle state: %w", err)
	}
	return rec, nil
}

func (r *lifecycleRepository) ListByState(ctx context.Context, state models.LifecycleState, limit int) ([]*models.LifecycleRecord, error) {
	q := r.db.GetScope(ctx)

	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + lifecycleColumns + `
		FROM lifecycle_records
		WHERE state = $1
		ORDER BY state_changed_at, id
		LIMIT $2`

	return queryLifecycleRecords(ctx, q, query, state, limit)
}

func (r *lifecycleRepository) ResetStuck(ctx context.Context, cutoff time.Time, message string) ([]*models.LifecycleRecord, error) {
	q := r.db.GetScope(ctx)

	query := `
		UPDATE lifecycle_records SET
			state            = 'pending',
			error_stage      = CASE state
			                       WHEN 'parsing' THEN 'parse'
			                       WHEN 'linking' THEN 'link'
			                       ELSE 'embed'
			                   END,
			last_error       = $3,
			state_changed_at = now(),
			updated_at       = now()
		WHERE state = ANY($1) AND state_changed_at < $2
		RETURNING ` + lifecycleColumns

	states := make([]string, len(models.InProgressLifecycleStates))
	for i, st := range models.InProgressLifecycleStates {
		states[i] = string(st)
	}

	return queryLifecycleRecords(ctx, q, query, states, cutoff, message)
}

func (r *lifecycleRepository) ResetFailed(ctx context.Context, maxRetries int) ([]*models.LifecycleRecord, error) {
	q := r.db.GetScope(ctx)

	query := `
		UPDATE lifecycle_records SET
			state            = 'pending',
			error_stage      = NULL,
			last_error       = NULL,
			retry_count      = 0,
			state_changed_at = now(),
			updated_at       = now()
		WHERE state = 'error' AND retry_count < $1
		RETURNING ` + lifecycleColumns

	return queryLifecycleRecords(ctx, q, query, maxRetries)
}

func (r *lifecycleRepository) CountByState(ctx context.Context) ([]models.LifecycleStateCount, error) {
	q := r.db.GetScope(ctx)

	rows, err := q.Query(ctx, `
		SELECT state, COUNT(*) FROM lifecycle_records GROUP BY state ORDER BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count lifecycle records: %w", err)
	}
	defer rows.Close()

	var counts []models.LifecycleStateCount
	for rows.Next() {
		var c models.LifecycleStateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lifecycle counts: %w", err)
	}

	return counts, nil
}

func queryLifecycleRecords(ctx context.Context, q database.Querier, query string, args ...any) ([]*models.LifecycleRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle records: %w", err)
	}
	defer rows.Close()

	var records []*models.LifecycleRecord
	for rows.Next() {
		rec, err := scanLifecycleRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lifecycle records: %w", err)
	}

	return records, nil
}

func scanLifecycleRecord(row pgx.Row) (*models.LifecycleRecord, error) {
	var rec models.LifecycleRecord

	err := row.Scan(
		&rec.ID, &rec.SubjectType, &rec.SubjectID, &rec.ProjectID, &rec.State, &rec.ContentHash,
		&rec.ErrorStage, &rec.LastError, &rec.RetryCount, &rec.StateChangedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lifecycle record: %w", err)
	}

	return &rec, nil
}
