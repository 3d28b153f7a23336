package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// EntityMentionRepository provides data access for extracted entity mentions
// and their "represents" link to a canonical entity.
type EntityMentionRepository interface {
	// Create stores a mention. Mentions are normally written by the
	// extraction pipeline; this exists for seeding and tests.
	Create(ctx context.Context, mention *models.EntityMention) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EntityMention, error)
	// ListUnresolved returns unlinked mentions with confidence >= minConfidence,
	// ordered by kind then name, capped at limit.
	ListUnresolved(ctx context.Context, minConfidence float64, limit int) ([]*models.EntityMention, error)
	// Link sets the mention's canonical link if it is still unlinked.
	// Returns false when another writer linked it first.
	Link(ctx context.Context, mentionID, canonicalID uuid.UUID) (bool, error)
	// TransferMentions repoints every mention of one canonical to another.
	TransferMentions(ctx context.Context, fromCanonicalID, toCanonicalID uuid.UUID) (int, error)
	ListByCanonical(ctx context.Context, canonicalID uuid.UUID) ([]*models.EntityMention, error)
}

type entityMentionRepository struct {
	db *database.DB
}

// NewEntityMentionRepository creates a new EntityMentionRepository.
func NewEntityMentionRepository(db *database.DB) EntityMentionRepository {
	return &entityMentionRepository{db: db}
}

var _ EntityMentionRepository = (*entityMentionRepository)(nil)

const entityMentionColumns = `
	id, name, kind, confidence, aliases, project_id, document_id, attributes, canonical_id, created_at`

func (r *entityMentionRepository) Create(ctx context.Context, mention *models.EntityMention) error {
	q := r.db.GetScope(ctx)

	if mention.ID == uuid.Nil {
		mention.ID = uuid.New()
	}
	mention.CreatedAt = time.Now()

	var attrs []byte
	if len(mention.Attributes) > 0 {
		var err error
		attrs, err = json.Marshal(mention.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal mention attributes: %w", err)
		}
	}

	query := `
		INSERT INTO entity_mentions (
			id, name, kind, confidence, aliases, project_id, document_id, attributes, canonical_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := q.Exec(ctx, query,
		mention.ID, mention.Name, mention.Kind, mention.Confidence, nonNil(mention.Aliases),
		mention.ProjectID, mention.DocumentID, attrs, mention.CanonicalID, mention.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity mention: %w", err)
	}

	return nil
}

func (r *entityMentionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EntityMention, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + entityMentionColumns + ` FROM entity_mentions WHERE id = $1`

	m, err := scanEntityMention(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *entityMentionRepository) ListUnresolved(ctx context.Context, minConfidence float64, limit int) ([]*models.EntityMention, error) {
	q := r.db.GetScope(ctx)

	if limit <= 0 {
		limit = 500
	}

	query := `SELECT ` + entityMentionColumns + `
		FROM entity_mentions
		WHERE canonical_id IS NULL AND confidence >= $1
		ORDER BY kind, name, id
		LIMIT $2`

	return r.queryMentions(ctx, q, query, minConfidence, limit)
}

func (r *entityMentionRepository) ListByCanonical(ctx context.Context, canonicalID uuid.UUID) ([]*models.EntityMention, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + entityMentionColumns + `
		FROM entity_mentions
		WHERE canonical_id = $1
		ORDER BY created_at, id`

	return r.queryMentions(ctx, q, query, canonicalID)
}

func (r *entityMentionRepository) queryMentions(ctx context.Context, q database.Querier, query string, args ...any) ([]*models.EntityMention, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*models.EntityMention
	for rows.Next() {
		m, err := scanEntityMention(rows)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity mentions: %w", err)
	}

	return mentions, nil
}

func (r *entityMentionRepository) Link(ctx context.Context, mentionID, canonicalID uuid.UUID) (bool, error) {
	q := r.db.GetScope(ctx)

	tag, err := q.Exec(ctx,
		`UPDATE entity_mentions SET canonical_id = $2 WHERE id = $1 AND canonical_id IS NULL`,
		mentionID, canonicalID)
	if err != nil {
		return false, fmt.Errorf("failed to link entity mention: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *entityMentionRepository) TransferMentions(ctx context.Context, fromCanonicalID, toCanonicalID uuid.UUID) (int, error) {
	q := r.db.GetScope(ctx)

	tag, err := q.Exec(ctx,
		`UPDATE entity_mentions SET canonical_id = $2 WHERE canonical_id = $1`,
		fromCanonicalID, toCanonicalID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer entity mentions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanEntityMention(row pgx.Row) (*models.EntityMention, error) {
	var m models.EntityMention
	var attrs []byte

	err := row.Scan(
		&m.ID, &m.Name, &m.Kind, &m.Confidence, &m.Aliases,
		&m.ProjectID, &m.DocumentID, &attrs, &m.CanonicalID, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity mention: %w", err)
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &m.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mention attributes: %w", err)
		}
	}

	return &m, nil
}
