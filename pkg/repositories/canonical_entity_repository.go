package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// EmbeddingUpdate is one vector write produced by embedding maintenance.
type EmbeddingUpdate struct {
	ID     uuid.UUID
	Vector []float32
	Hash   string
}

// CanonicalEntityRepository provides data access for the canonical entity registry.
type CanonicalEntityRepository interface {
	// Upsert creates the canonical if no row has its (normalized_name, kind),
	// otherwise unions the incoming aliases, projects and documents into the
	// existing row. Returns the resulting row and whether it was inserted.
	Upsert(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error)
	GetByNormalizedName(ctx context.Context, normalizedName string, kind models.EntityKind) (*models.CanonicalEntity, error)
	ListAll(ctx context.Context) ([]*models.CanonicalEntity, error)
	// LockForUpdate re-reads the given canonicals and holds their row locks
	// until the caller's transaction ends. Rows are locked in id order.
	// Missing ids are left out of the result.
	LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.CanonicalEntity, error)
	// Augment unions the given sets into an existing canonical.
	Augment(ctx context.Context, id uuid.UUID, aliases, projectIDs, documentIDs []string) (*models.CanonicalEntity, error)
	// Update overwrites name, normalized name and the set columns.
	// Returns apperrors.ErrConflict when the new normalized name is taken.
	Update(ctx context.Context, entity *models.CanonicalEntity) error
	Delete(ctx context.Context, id uuid.UUID) error
	// FindDuplicateGroups returns canonicals sharing lower(trim(canonical_name))
	// and kind, oldest first within each group.
	FindDuplicateGroups(ctx context.Context) ([][]*models.CanonicalEntity, error)
	UpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error
}

type canonicalEntityRepository struct {
	db *database.DB
}

// NewCanonicalEntityRepository creates a new CanonicalEntityRepository.
func NewCanonicalEntityRepository(db *database.DB) CanonicalEntityRepository {
	return &canonicalEntityRepository{db: db}
}

var _ CanonicalEntityRepository = (*canonicalEntityRepository)(nil)

const canonicalEntityColumns = `
	id, canonical_name, normalized_name, kind, aliases, project_ids, document_ids,
	embedding_hash, embedded_at, created_at, updated_at`

func (r *canonicalEntityRepository) Upsert(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, bool, error) {
	q := r.db.GetScope(ctx)

	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.NormalizedName == "" {
		entity.NormalizedName = models.NormalizeEntityName(entity.CanonicalName)
	}
	now := time.Now()

	query := `
		INSERT INTO canonical_entities (
			id, canonical_name, normalized_name, kind, aliases, project_ids, document_ids,
			search_terms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (normalized_name, kind) DO UPDATE SET
			aliases      = text_array_union(canonical_entities.aliases, EXCLUDED.aliases),
			project_ids  = text_array_union(canonical_entities.project_ids, EXCLUDED.project_ids),
			document_ids = text_array_union(canonical_entities.document_ids, EXCLUDED.document_ids),
			search_terms = text_array_union(canonical_entities.search_terms, EXCLUDED.search_terms),
			updated_at   = EXCLUDED.updated_at
		RETURNING ` + canonicalEntityColumns + `, (xmax = 0) AS inserted`

	row := q.QueryRow(ctx, query,
		entity.ID, entity.CanonicalName, entity.NormalizedName, entity.Kind,
		nonNil(entity.Aliases), nonNil(entity.ProjectIDs), nonNil(entity.DocumentIDs),
		models.SearchTerms(entity.CanonicalName, entity.Aliases), now,
	)

	var c models.CanonicalEntity
	var inserted bool
	err := row.Scan(
		&c.ID, &c.CanonicalName, &c.NormalizedName, &c.Kind, &c.Aliases, &c.ProjectIDs, &c.DocumentIDs,
		&c.EmbeddingHash, &c.EmbeddedAt, &c.CreatedAt, &c.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, database.WrapWriteError("upsert canonical entity", err)
	}

	return &c, inserted, nil
}

func (r *canonicalEntityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + canonicalEntityColumns + ` FROM canonical_entities WHERE id = $1`

	c, err := scanCanonicalEntity(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *canonicalEntityRepository) GetByNormalizedName(ctx context.Context, normalizedName string, kind models.EntityKind) (*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + canonicalEntityColumns + `
		FROM canonical_entities
		WHERE normalized_name = $1 AND kind = $2`

	c, err := scanCanonicalEntity(q.QueryRow(ctx, query, normalizedName, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *canonicalEntityRepository) ListAll(ctx context.Context) ([]*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + canonicalEntityColumns + `
		FROM canonical_entities
		ORDER BY kind, created_at, id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.CanonicalEntity
	for rows.Next() {
		c, err := scanCanonicalEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canonical entities: %w", err)
	}

	return entities, nil
}

func (r *canonicalEntityRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `SELECT ` + canonicalEntityColumns + `
		FROM canonical_entities
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock canonical entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.CanonicalEntity
	for rows.Next() {
		c, err := scanCanonicalEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locked canonical entities: %w", err)
	}

	return entities, nil
}

func (r *canonicalEntityRepository) Augment(ctx context.Context, id uuid.UUID, aliases, projectIDs, documentIDs []string) (*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `
		UPDATE canonical_entities SET
			aliases      = text_array_union(aliases, $2),
			project_ids  = text_array_union(project_ids, $3),
			document_ids = text_array_union(document_ids, $4),
			search_terms = text_array_union(search_terms, $5),
			updated_at   = $6
		WHERE id = $1
		RETURNING ` + canonicalEntityColumns

	c, err := scanCanonicalEntity(q.QueryRow(ctx, query,
		id, nonNil(aliases), nonNil(projectIDs), nonNil(documentIDs),
		models.SearchTerms("", aliases), time.Now(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to augment canonical entity: %w", err)
	}
	return c, nil
}

func (r *canonicalEntityRepository) Update(ctx context.Context, entity *models.CanonicalEntity) error {
	q := r.db.GetScope(ctx)

	entity.UpdatedAt = time.Now()

	query := `
		UPDATE canonical_entities SET
			canonical_name  = $2,
			normalized_name = $3,
			aliases         = $4,
			project_ids     = $5,
			document_ids    = $6,
			search_terms    = $7,
			updated_at      = $8
		WHERE id = $1`

	tag, err := q.Exec(ctx, query,
		entity.ID, entity.CanonicalName, entity.NormalizedName,
		nonNil(entity.Aliases), nonNil(entity.ProjectIDs), nonNil(entity.DocumentIDs),
		models.SearchTerms(entity.CanonicalName, entity.Aliases), entity.UpdatedAt,
	)
	if err != nil {
		return database.WrapWriteError("update canonical entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canonical entity %s not found", entity.ID)
	}

	return nil
}

func (r *canonicalEntityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.db.GetScope(ctx)

	_, err := q.Exec(ctx, `DELETE FROM canonical_entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete canonical entity: %w", err)
	}
	return nil
}

func (r *canonicalEntityRepository) FindDuplicateGroups(ctx context.Context) ([][]*models.CanonicalEntity, error) {
	q := r.db.GetScope(ctx)

	query := `
		WITH dup_keys AS (
			SELECT lower(btrim(canonical_name)) AS name_key, kind
			FROM canonical_entities
			GROUP BY 1, 2
			HAVING COUNT(*) > 1
		)
		SELECT ` + prefixColumns("c", canonicalEntityColumns) + `, d.name_key
		FROM canonical_entities c
		JOIN dup_keys d ON lower(btrim(c.canonical_name)) = d.name_key AND c.kind = d.kind
		ORDER BY c.kind, d.name_key, c.created_at, c.id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate canonical entities: %w", err)
	}
	defer rows.Close()

	var groups [][]*models.CanonicalEntity
	var lastKey string
	for rows.Next() {
		var c models.CanonicalEntity
		var nameKey string
		if err := rows.Scan(
			&c.ID, &c.CanonicalName, &c.NormalizedName, &c.Kind, &c.Aliases, &c.ProjectIDs, &c.DocumentIDs,
			&c.EmbeddingHash, &c.EmbeddedAt, &c.CreatedAt, &c.UpdatedAt, &nameKey,
		); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate canonical entity: %w", err)
		}

		key := string(c.Kind) + "\x00" + nameKey
		if len(groups) == 0 || key != lastKey {
			groups = append(groups, nil)
			lastKey = key
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duplicate canonical entities: %w", err)
	}

	return groups, nil
}

func (r *canonicalEntityRepository) UpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error {
	return updateEmbeddings(ctx, r.db.GetScope(ctx), "canonical_entities", updates)
}

func scanCanonicalEntity(row pgx.Row) (*models.CanonicalEntity, error) {
	var c models.CanonicalEntity

	err := row.Scan(
		&c.ID, &c.CanonicalName, &c.NormalizedName, &c.Kind, &c.Aliases, &c.ProjectIDs, &c.DocumentIDs,
		&c.EmbeddingHash, &c.EmbeddedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan canonical entity: %w", err)
	}

	return &c, nil
}

// updateEmbeddings writes vectors and hashes for the given table in one batch.
func updateEmbeddings(ctx context.Context, q database.Querier, table string, updates []EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now()
	batch := &pgx.Batch{}
	query := fmt.Sprintf(`
		UPDATE %s SET embedding = $2::vector, embedding_hash = $3, embedded_at = $4
		WHERE id = $1`, table)

	for _, u := range updates {
		batch.Queue(query, u.ID, pgvector.NewVector(u.Vector), u.Hash, now)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update embedding %d in %s: %w", i, table, err)
		}
	}

	return nil
}
