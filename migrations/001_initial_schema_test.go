//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/testhelpers"
)

// Test_001_CanonicalUniqueness verifies the (normalized_name, kind) unique index
// rejects a second canonical with the same key.
func Test_001_CanonicalUniqueness(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	ctx := context.Background()

	insert := `INSERT INTO canonical_entities (canonical_name, normalized_name, kind) VALUES ($1, $2, $3)`

	_, err := engineDB.DB.Exec(ctx, insert, "OpenAI", "openai", "Organization")
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(ctx, insert, "OPENAI", "openai", "Organization")
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err), "expected unique violation, got %v", err)

	// Same name, different kind is a different canonical.
	_, err = engineDB.DB.Exec(ctx, insert, "OpenAI", "openai", "Product")
	require.NoError(t, err)
}

// Test_001_TagUniqueness verifies tags are unique on normalized_name.
func Test_001_TagUniqueness(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	ctx := context.Background()

	insert := `INSERT INTO tags (name, normalized_name) VALUES ($1, $2)`

	_, err := engineDB.DB.Exec(ctx, insert, "machine-learning", "machine-learning")
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(ctx, insert, "Machine Learning", "machine-learning")
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

// Test_001_LifecycleStateCheck verifies unknown lifecycle states are rejected.
func Test_001_LifecycleStateCheck(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	ctx := context.Background()

	_, err := engineDB.DB.Exec(ctx,
		`INSERT INTO lifecycle_records (subject_type, subject_id, state) VALUES ('document', 'doc-1', 'finished')`)
	require.Error(t, err)
}

// Test_001_WithTxRollback verifies a failed WithTx leaves no rows behind.
func Test_001_WithTxRollback(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	ctx := context.Background()

	err := engineDB.DB.WithTx(ctx, func(ctx context.Context) error {
		q := engineDB.DB.GetScope(ctx)
		if _, err := q.Exec(ctx,
			`INSERT INTO tags (name, normalized_name) VALUES ('go', 'go')`); err != nil {
			return err
		}
		_, err := q.Exec(ctx,
			`INSERT INTO tags (name, normalized_name) VALUES ('Go', 'go')`)
		return err
	})
	require.Error(t, err)

	var count int
	require.NoError(t, engineDB.DB.QueryRow(ctx, `SELECT COUNT(*) FROM tags`).Scan(&count))
	assert.Equal(t, 0, count)
}
