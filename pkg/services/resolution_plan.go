package services

import (
	"github.com/google/uuid"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
)

// candidateRegistry is the ordered list of canonicals of one kind that the
// oracle matches against. Positions are stable: updates replace in place and
// new canonicals are appended. Removal is the one exception.
type candidateRegistry struct {
	items []*models.CanonicalEntity
	index map[uuid.UUID]int
}

func newCandidateRegistry(existing []*models.CanonicalEntity) *candidateRegistry {
	reg := &candidateRegistry{index: make(map[uuid.UUID]int, len(existing))}
	for _, c := range existing {
		reg.put(c)
	}
	return reg
}

func (r *candidateRegistry) put(c *models.CanonicalEntity) {
	if i, ok := r.index[c.ID]; ok {
		r.items[i] = c
		return
	}
	r.index[c.ID] = len(r.items)
	r.items = append(r.items, c)
}

// remove drops a canonical and shifts later positions down. Callers must not
// hold indices from an earlier list() across a remove.
func (r *candidateRegistry) remove(id uuid.UUID) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.items); j++ {
		r.index[r.items[j].ID] = j
	}
}

func (r *candidateRegistry) len() int {
	return len(r.items)
}

// list returns a snapshot of the registry.
func (r *candidateRegistry) list() []*models.CanonicalEntity {
	out := make([]*models.CanonicalEntity, len(r.items))
	copy(out, r.items)
	return out
}

// batchPlan is the validated oracle answer for one batch of mentions.
type batchPlan struct {
	matches map[int]oracle.EntityMatch
	create  map[int]bool
	dropped int
}

func (p batchPlan) matched(mentionIndex int) bool {
	_, ok := p.matches[mentionIndex]
	return ok
}

// planBatch discards out-of-range and below-threshold matches, keeps the
// highest-similarity match when a mention is matched more than once, and lets
// a match win over a "new canonical" verdict for the same mention.
func planBatch(answer *oracle.MatchResult, mentions, canonicals int, minSimilarity float64) batchPlan {
	plan := batchPlan{
		matches: make(map[int]oracle.EntityMatch),
		create:  make(map[int]bool),
	}
	if answer == nil {
		return plan
	}

	for _, m := range answer.Matches {
		if m.MentionIndex < 0 || m.MentionIndex >= mentions ||
			m.CanonicalIndex < 0 || m.CanonicalIndex >= canonicals ||
			m.Similarity < minSimilarity {
			plan.dropped++
			continue
		}
		if prev, ok := plan.matches[m.MentionIndex]; ok {
			plan.dropped++
			if prev.Similarity >= m.Similarity {
				continue
			}
		}
		plan.matches[m.MentionIndex] = m
	}

	for _, i := range answer.NewCanonicals {
		if i < 0 || i >= mentions {
			plan.dropped++
			continue
		}
		if !plan.matched(i) {
			plan.create[i] = true
		}
	}

	return plan
}
