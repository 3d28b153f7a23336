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

// TagRepository provides data access for tags and the content-node "has tag" edge.
type TagRepository interface {
	// Upsert creates the tag if its normalized name is free, otherwise adds
	// the incoming usage count and unions aliases and projects into the
	// existing row. Returns the resulting row and whether it was inserted.
	Upsert(ctx context.Context, tag *models.Tag) (*models.Tag, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error)
	GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Tag, error)
	// ListAll returns every tag, oldest first.
	ListAll(ctx context.Context) ([]*models.Tag, error)
	// LockForUpdate re-reads the given tags and holds their row locks until
	// the caller's transaction ends. Rows are locked in id order. Missing ids
	// are left out of the result.
	LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.Tag, error)
	// Update overwrites every mutable column.
	// Returns apperrors.ErrConflict when the normalized name is taken.
	Update(ctx context.Context, tag *models.Tag) error
	Delete(ctx context.Context, id uuid.UUID) error
	// LinkContentNode adds a "has tag" edge. Returns false if it already existed.
	LinkContentNode(ctx context.Context, contentNodeID, tagID uuid.UUID) (bool, error)
	// TransferLinks moves "has tag" edges from one tag to another, skipping
	// nodes already linked to the target. Returns the number of edges added.
	TransferLinks(ctx context.Context, fromTagID, toTagID uuid.UUID) (int, error)
	CountLinks(ctx context.Context, tagID uuid.UUID) (int, error)
	UpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error
}

type tagRepository struct {
	db *database.DB
}

// NewTagRepository creates a new TagRepository.
func NewTagRepository(db *database.DB) TagRepository {
	return &tagRepository{db: db}
}

var _ TagRepository = (*tagRepository)(nil)

const tagColumns = `
	id, name, normalized_name, category, aliases, usage_count, project_ids,
	embedding_hash, embedded_at, created_at, updated_at`

func (r *tagRepository) Upsert(ctx context.Context, tag *models.Tag) (*models.Tag, bool, error) {
	q := r.db.GetScope(ctx)

	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	if tag.NormalizedName == "" {
		tag.NormalizedName = models.NormalizeTagName(tag.Name)
	}
	if tag.Category == "" {
		tag.Category = models.TagCategoryOther
	}

	query := `
		INSERT INTO tags (
			id, name, normalized_name, category, aliases, usage_count, project_ids,
			search_terms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (normalized_name) DO UPDATE SET
			usage_count  = tags.usage_count + EXCLUDED.usage_count,
			aliases      = text_array_union(tags.aliases, EXCLUDED.aliases),
			project_ids  = text_array_union(tags.project_ids, EXCLUDED.project_ids),
			search_terms = text_array_union(tags.search_terms, EXCLUDED.search_terms),
			updated_at   = EXCLUDED.updated_at
		RETURNING ` + tagColumns + `, (xmax = 0) AS inserted`

	var t models.Tag
	var inserted bool
	err := q.QueryRow(ctx, query,
		tag.ID, tag.Name, tag.NormalizedName, tag.Category, nonNil(tag.Aliases), tag.UsageCount,
		nonNil(tag.ProjectIDs), models.SearchTerms(tag.Name, tag.Aliases), time.Now(),
	).Scan(
		&t.ID, &t.Name, &t.NormalizedName, &t.Category, &t.Aliases, &t.UsageCount, &t.ProjectIDs,
		&t.EmbeddingHash, &t.EmbeddedAt, &t.CreatedAt, &t.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, database.WrapWriteError("upsert tag", err)
	}

	return &t, inserted, nil
}

func (r *tagRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error) {
	q := r.db.GetScope(ctx)

	t, err := scanTag(q.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *tagRepository) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Tag, error) {
	q := r.db.GetScope(ctx)

	t, err := scanTag(q.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE normalized_name = $1`, normalizedName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *tagRepository) ListAll(ctx context.Context) ([]*models.Tag, error) {
	q := r.db.GetScope(ctx)

	rows, err := q.Query(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}

	return tags, nil
}

func (r *tagRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.Tag, error) {
	q := r.db.GetScope(ctx)

	rows, err := q.Query(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locked tags: %w", err)
	}

	return tags, nil
}

func (r *tagRepository) Update(ctx context.Context, tag *models.Tag) error {
	q := r.db.GetScope(ctx)

	tag.UpdatedAt = time.Now()

	query := `
		UPDATE tags SET
			name            = $2,
			normalized_name = $3,
			category        = $4,
			aliases         = $5,
			usage_count     = $6,
			project_ids     = $7,
			search_terms    = $8,
			updated_at      = $9
		WHERE id = $1`

	ct, err := q.Exec(ctx, query,
		tag.ID, tag.Name, tag.NormalizedName, tag.Category, nonNil(tag.Aliases), tag.UsageCount,
		nonNil(tag.ProjectIDs), models.SearchTerms(tag.Name, tag.Aliases), tag.UpdatedAt,
	)
	if err != nil {
		return database.WrapWriteError("update tag", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("tag %s not found", tag.ID)
	}

	return nil
}

func (r *tagRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.db.GetScope(ctx)

	if _, err := q.Exec(ctx, `DELETE FROM tags WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	return nil
}

func (r *tagRepository) LinkContentNode(ctx context.Context, contentNodeID, tagID uuid.UUID) (bool, error) {
	q := r.db.GetScope(ctx)

	ct, err := q.Exec(ctx, `
		INSERT INTO content_node_tags (content_node_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, contentNodeID, tagID)
	if err != nil {
		return false, fmt.Errorf("failed to link content node to tag: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

func (r *tagRepository) TransferLinks(ctx context.Context, fromTagID, toTagID uuid.UUID) (int, error) {
	q := r.db.GetScope(ctx)

	ct, err := q.Exec(ctx, `
		INSERT INTO content_node_tags (content_node_id, tag_id, created_at)
		SELECT content_node_id, $2, created_at
		FROM content_node_tags
		WHERE tag_id = $1
		ON CONFLICT DO NOTHING`, fromTagID, toTagID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer tag links: %w", err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM content_node_tags WHERE tag_id = $1`, fromTagID); err != nil {
		return 0, fmt.Errorf("failed to remove transferred tag links: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func (r *tagRepository) CountLinks(ctx context.Context, tagID uuid.UUID) (int, error) {
	q := r.db.GetScope(ctx)

	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM content_node_tags WHERE tag_id = $1`, tagID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tag links: %w", err)
	}
	return count, nil
}

func (r *tagRepository) UpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error {
	return updateEmbeddings(ctx, r.db.GetScope(ctx), "tags", updates)
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	var t models.Tag

	err := row.Scan(
		&t.ID, &t.Name, &t.NormalizedName, &t.Category, &t.Aliases, &t.UsageCount, &t.ProjectIDs,
		&t.EmbeddingHash, &t.EmbeddedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan tag: %w", err)
	}

	return &t, nil
}
