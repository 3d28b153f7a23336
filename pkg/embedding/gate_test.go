package embedding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

func TestDescribeCanonicalEntity(t *testing.T) {
	e := &models.CanonicalEntity{
		CanonicalName: "Microsoft Corporation",
		Kind:          models.EntityKindOrganization,
		Aliases:       []string{"Microsoft", "MSFT", "Microsoft Corporation"},
	}

	assert.Equal(t, "Microsoft Corporation. Kind: Organization. Also known as: MSFT, Microsoft.", DescribeCanonicalEntity(e))
}

func TestDescribeTag_NoAliases(t *testing.T) {
	tag := &models.Tag{Name: "kubernetes", Category: models.TagCategoryTechnology}
	assert.Equal(t, "kubernetes. Category: technology.", DescribeTag(tag))
}

func TestDescribe_DoesNotMutateAliases(t *testing.T) {
	aliases := []string{"b", "a"}
	DescribeTag(&models.Tag{Name: "x", Aliases: aliases})
	assert.Equal(t, []string{"b", "a"}, aliases)
}

func TestContentHash_IgnoresAliasOrder(t *testing.T) {
	a := &models.Tag{Name: "machine-learning", Category: models.TagCategoryTopic, Aliases: []string{"ML", "Machine Learning"}}
	b := &models.Tag{Name: "machine-learning", Category: models.TagCategoryTopic, Aliases: []string{"Machine Learning", "ML"}}

	assert.Equal(t, ContentHash(DescribeTag(a)), ContentHash(DescribeTag(b)))
	assert.Len(t, ContentHash("x"), 64)
	assert.NotEqual(t, ContentHash("x"), ContentHash("y"))
}

func TestPartition(t *testing.T) {
	fresh := &models.Tag{ID: uuid.New(), Name: "go"}
	current := &models.Tag{ID: uuid.New(), Name: "rust"}
	hash := ContentHash(DescribeTag(current))
	current.EmbeddingHash = &hash
	stale := &models.Tag{ID: uuid.New(), Name: "python"}
	old := "deadbeef"
	stale.EmbeddingHash = &old

	changed, unchanged := Partition(TagItems([]*models.Tag{fresh, current, stale}))

	require.Len(t, changed, 2)
	assert.Equal(t, fresh.ID, changed[0].ID)
	assert.Equal(t, stale.ID, changed[1].ID)
	require.Len(t, unchanged, 1)
	assert.Equal(t, current.ID, unchanged[0].ID)
}

func TestEntityItems(t *testing.T) {
	e := &models.CanonicalEntity{ID: uuid.New(), CanonicalName: "Go", Kind: models.EntityKindTechnology}
	items := EntityItems([]*models.CanonicalEntity{e})

	require.Len(t, items, 1)
	assert.Equal(t, e.ID, items[0].ID)
	assert.Equal(t, ContentHash(items[0].Text), items[0].Hash)
	assert.True(t, items[0].Changed())
}

func TestBatches(t *testing.T) {
	items := make([]Item, 250)
	batches := Batches(items, 100)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 100)
	assert.Len(t, batches[2], 50)
	assert.Nil(t, Batches(nil, 100))
	assert.Len(t, Batches(items, 0), 1)
}
