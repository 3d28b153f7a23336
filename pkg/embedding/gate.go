package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// Item is one record considered for embedding.
type Item struct {
	ID         uuid.UUID
	Text       string
	Hash       string
	StoredHash *string
}

// Changed reports whether the record has no embedding or a stale one.
func (i Item) Changed() bool {
	return i.StoredHash == nil || *i.StoredHash != i.Hash
}

// DescribeCanonicalEntity builds the text embedded for a canonical entity.
// Aliases are sorted so the text, and its hash, ignore alias order.
func DescribeCanonicalEntity(e *models.CanonicalEntity) string {
	return describe(e.CanonicalName, "Kind", string(e.Kind), e.Aliases)
}

// DescribeTag builds the text embedded for a tag.
func DescribeTag(t *models.Tag) string {
	return describe(t.Name, "Category", string(t.Category), t.Aliases)
}

func describe(name, label, value string, aliases []string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(". ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(".")

	sorted := models.RemoveString(aliases, name)
	slices.Sort(sorted)
	if len(sorted) > 0 {
		b.WriteString(" Also known as: ")
		b.WriteString(strings.Join(sorted, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EntityItems describes and hashes canonical entities.
func EntityItems(entities []*models.CanonicalEntity) []Item {
	items := make([]Item, len(entities))
	for i, e := range entities {
		text := DescribeCanonicalEntity(e)
		items[i] = Item{ID: e.ID, Text: text, Hash: ContentHash(text), StoredHash: e.EmbeddingHash}
	}
	return items
}

// TagItems describes and hashes tags.
func TagItems(tags []*models.Tag) []Item {
	items := make([]Item, len(tags))
	for i, t := range tags {
		text := DescribeTag(t)
		items[i] = Item{ID: t.ID, Text: text, Hash: ContentHash(text), StoredHash: t.EmbeddingHash}
	}
	return items
}

// Partition splits items into those needing an embedding and those whose
// stored hash is current.
func Partition(items []Item) (changed, unchanged []Item) {
	for _, it := range items {
		if it.Changed() {
			changed = append(changed, it)
		} else {
			unchanged = append(unchanged, it)
		}
	}
	return changed, unchanged
}

// Batches splits items into consecutive chunks of at most size.
func Batches(items []Item, size int) [][]Item {
	if size <= 0 {
		size = len(items)
	}
	var out [][]Item
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
