package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// ===== Mock Implementations

// clock hands out strictly increasing timestamps so "oldest first" ordering
// is deterministic in fakes.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type mockTxRunner struct {
	mu    sync.Mutex
	calls int
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx)
}

// mockCanonicalRepo keeps canonicals in memory and enforces the
// (normalized_name, kind) uniqueness the store enforces.
type mockCanonicalRepo struct {
	mu       sync.Mutex
	clock    *clock
	entities map[uuid.UUID]*models.CanonicalEntity

	// forceConflicts makes the next N Upsert calls fail as if a concurrent
	// writer had inserted the key between our check and our insert.
	forceConflicts int
	upsertErr      error
	updateErr      error
	lockCalls      int
	embedUpdates   []repositories.EmbeddingUpdate
}

func newMockCanonicalRepo(c *clock) *mockCanonicalRepo {
	return &mockCanonicalRepo{clock: c, entities: make(map[uuid.UUID]*models.CanonicalEntity)}
}

func (m *mockCanonicalRepo) seed(name string, kind models.EntityKind, aliases ...string) *models.CanonicalEntity {
	c := &models.CanonicalEntity{
		ID:             uuid.New(),
		CanonicalName:  name,
		NormalizedName: models.NormalizeEntityName(name),
		Kind:           kind,
		Aliases:        aliases,
		CreatedAt:      m.clock.tick(),
	}
	m.mu.Lock()
	m.entities[c.ID] = c
	m.mu.Unlock()
	return cloneCanonical(c)
}

func (m *mockCanonicalRepo) findKey(norm string, kind models.EntityKind) *models.CanonicalEntity {
	for _, c := range m.entities {
		if c.NormalizedName == norm && c.Kind == kind {
			return c
		}
	}
	return nil
}

func (m *mockCanonicalRepo) Upsert(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return nil, false, m.upsertErr
	}
	if entity.NormalizedName == "" {
		entity.NormalizedName = models.NormalizeEntityName(entity.CanonicalName)
	}
	if m.forceConflicts > 0 {
		m.forceConflicts--
		if m.findKey(entity.NormalizedName, entity.Kind) == nil {
			winner := cloneCanonical(entity)
			winner.ID = uuid.New()
			winner.CreatedAt = m.clock.tick()
			m.entities[winner.ID] = winner
		}
		return nil, false, fmt.Errorf("upsert canonical entity: %w", apperrors.ErrConflict)
	}

	if existing := m.findKey(entity.NormalizedName, entity.Kind); existing != nil {
		existing.Aliases = models.UnionStrings(existing.Aliases, entity.Aliases)
		existing.ProjectIDs = models.UnionStrings(existing.ProjectIDs, entity.ProjectIDs)
		existing.DocumentIDs = models.UnionStrings(existing.DocumentIDs, entity.DocumentIDs)
		return cloneCanonical(existing), false, nil
	}

	stored := cloneCanonical(entity)
	stored.ID = uuid.New()
	stored.CreatedAt = m.clock.tick()
	m.entities[stored.ID] = stored
	return cloneCanonical(stored), true, nil
}

func (m *mockCanonicalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.entities[id]; ok {
		return cloneCanonical(c), nil
	}
	return nil, nil
}

func (m *mockCanonicalRepo) GetByNormalizedName(ctx context.Context, normalizedName string, kind models.EntityKind) (*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.findKey(normalizedName, kind); c != nil {
		return cloneCanonical(c), nil
	}
	return nil, nil
}

func (m *mockCanonicalRepo) ListAll(ctx context.Context) ([]*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *mockCanonicalRepo) sorted() []*models.CanonicalEntity {
	out := make([]*models.CanonicalEntity, 0, len(m.entities))
	for _, c := range m.entities {
		out = append(out, cloneCanonical(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockCanonicalRepo) LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	var out []*models.CanonicalEntity
	for _, id := range ids {
		if c, ok := m.entities[id]; ok {
			out = append(out, cloneCanonical(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *mockCanonicalRepo) Augment(ctx context.Context, id uuid.UUID, aliases, projectIDs, documentIDs []string) (*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	c.Aliases = models.UnionStrings(c.Aliases, aliases)
	c.ProjectIDs = models.UnionStrings(c.ProjectIDs, projectIDs)
	c.DocumentIDs = models.UnionStrings(c.DocumentIDs, documentIDs)
	return cloneCanonical(c), nil
}

func (m *mockCanonicalRepo) Update(ctx context.Context, entity *models.CanonicalEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.entities[entity.ID]; !ok {
		return fmt.Errorf("canonical entity %s not found", entity.ID)
	}
	if other := m.findKey(entity.NormalizedName, entity.Kind); other != nil && other.ID != entity.ID {
		return fmt.Errorf("update canonical entity: %w", apperrors.ErrConflict)
	}
	stored := cloneCanonical(entity)
	stored.CreatedAt = m.entities[entity.ID].CreatedAt
	m.entities[entity.ID] = stored
	return nil
}

func (m *mockCanonicalRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
	return nil
}

func (m *mockCanonicalRepo) FindDuplicateGroups(ctx context.Context) ([][]*models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey := make(map[string][]*models.CanonicalEntity)
	var keys []string
	for _, c := range m.sorted() {
		key := string(c.Kind) + "\x00" + strings.ToLower(strings.TrimSpace(c.CanonicalName))
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], c)
	}
	sort.Strings(keys)

	var groups [][]*models.CanonicalEntity
	for _, k := range keys {
		if len(byKey[k]) > 1 {
			groups = append(groups, byKey[k])
		}
	}
	return groups, nil
}

func (m *mockCanonicalRepo) UpdateEmbeddings(ctx context.Context, updates []repositories.EmbeddingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		if c, ok := m.entities[u.ID]; ok {
			hash := u.Hash
			c.EmbeddingHash = &hash
		}
	}
	m.embedUpdates = append(m.embedUpdates, updates...)
	return nil
}

func (m *mockCanonicalRepo) all() []*models.CanonicalEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted()
}

func cloneCanonical(c *models.CanonicalEntity) *models.CanonicalEntity {
	cp := *c
	cp.Aliases = append([]string(nil), c.Aliases...)
	cp.ProjectIDs = append([]string(nil), c.ProjectIDs...)
	cp.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	return &cp
}

type mockMentionRepo struct {
	mu       sync.Mutex
	mentions map[uuid.UUID]*models.EntityMention
	listErr  error
}

func newMockMentionRepo(mentions ...*models.EntityMention) *mockMentionRepo {
	m := &mockMentionRepo{mentions: make(map[uuid.UUID]*models.EntityMention)}
	for _, mention := range mentions {
		_ = m.Create(context.Background(), mention)
	}
	return m
}

func (m *mockMentionRepo) Create(ctx context.Context, mention *models.EntityMention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mention.ID == uuid.Nil {
		mention.ID = uuid.New()
	}
	cp := *mention
	m.mentions[mention.ID] = &cp
	return nil
}

func (m *mockMentionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EntityMention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mention, ok := m.mentions[id]; ok {
		cp := *mention
		return &cp, nil
	}
	return nil, nil
}

func (m *mockMentionRepo) ListUnresolved(ctx context.Context, minConfidence float64, limit int) ([]*models.EntityMention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []*models.EntityMention
	for _, mention := range m.mentions {
		if mention.CanonicalID == nil && mention.Confidence >= minConfidence {
			cp := *mention
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMentionRepo) Link(ctx context.Context, mentionID, canonicalID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mention, ok := m.mentions[mentionID]
	if !ok || mention.CanonicalID != nil {
		return false, nil
	}
	id := canonicalID
	mention.CanonicalID = &id
	return true, nil
}

func (m *mockMentionRepo) TransferMentions(ctx context.Context, fromCanonicalID, toCanonicalID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := 0
	for _, mention := range m.mentions {
		if mention.CanonicalID != nil && *mention.CanonicalID == fromCanonicalID {
			id := toCanonicalID
			mention.CanonicalID = &id
			moved++
		}
	}
	return moved, nil
}

func (m *mockMentionRepo) ListByCanonical(ctx context.Context, canonicalID uuid.UUID) ([]*models.EntityMention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EntityMention
	for _, mention := range m.mentions {
		if mention.CanonicalID != nil && *mention.CanonicalID == canonicalID {
			cp := *mention
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockMentionRepo) canonicalOf(id uuid.UUID) *uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mentions[id].CanonicalID
}

// mockOracle answers with the configured functions and records calls.
type mockOracle struct {
	mu         sync.Mutex
	matchFn    func(kind models.EntityKind, mentions []*models.EntityMention, canonicals []*models.CanonicalEntity) (*oracle.MatchResult, error)
	groupFn    func(tags []*models.Tag) (*oracle.TagGroupResult, error)
	matchCalls int
	groupCalls int
	groupSizes []int
}

func (m *mockOracle) MatchEntities(ctx context.Context, kind models.EntityKind, mentions []*models.EntityMention, canonicals []*models.CanonicalEntity) (*oracle.MatchResult, error) {
	m.mu.Lock()
	m.matchCalls++
	fn := m.matchFn
	m.mu.Unlock()
	if fn == nil {
		return &oracle.MatchResult{}, nil
	}
	return fn(kind, mentions, canonicals)
}

func (m *mockOracle) GroupTags(ctx context.Context, tags []*models.Tag) (*oracle.TagGroupResult, error) {
	m.mu.Lock()
	m.groupCalls++
	m.groupSizes = append(m.groupSizes, len(tags))
	fn := m.groupFn
	m.mu.Unlock()
	if fn == nil {
		return &oracle.TagGroupResult{}, nil
	}
	return fn(tags)
}

func newMention(name string, kind models.EntityKind, project string, aliases ...string) *models.EntityMention {
	return &models.EntityMention{
		ID:         uuid.New(),
		Name:       name,
		Kind:       kind,
		Confidence: 0.9,
		Aliases:    aliases,
		ProjectID:  project,
		DocumentID: "doc-" + strings.ToLower(strings.ReplaceAll(name, " ", "-")),
	}
}

// mockTagRepo keeps tags and "has tag" edges in memory. Uniqueness of the
// normalized name is enforced on Upsert and Update only, so tests can seed
// the stale rows that exact merging cleans up.
type mockTagRepo struct {
	mu           sync.Mutex
	clock        *clock
	tags         map[uuid.UUID]*models.Tag
	links        map[uuid.UUID]map[uuid.UUID]bool // tag -> content nodes
	listErr      error
	embedUpdates []repositories.EmbeddingUpdate
}

func newMockTagRepo(c *clock) *mockTagRepo {
	return &mockTagRepo{
		clock: c,
		tags:  make(map[uuid.UUID]*models.Tag),
		links: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// seed stores a tag as-is; normalized defaults to the current normalization.
func (m *mockTagRepo) seed(name, normalized string, usage int, nodes ...uuid.UUID) *models.Tag {
	if normalized == "" {
		normalized = models.NormalizeTagName(name)
	}
	t := &models.Tag{
		ID:             uuid.New(),
		Name:           name,
		NormalizedName: normalized,
		Category:       models.TagCategoryTopic,
		UsageCount:     usage,
		CreatedAt:      m.clock.tick(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[t.ID] = t
	m.links[t.ID] = make(map[uuid.UUID]bool)
	for _, n := range nodes {
		m.links[t.ID][n] = true
	}
	return cloneTag(t)
}

func (m *mockTagRepo) findKey(norm string) *models.Tag {
	for _, t := range m.tags {
		if t.NormalizedName == norm {
			return t
		}
	}
	return nil
}

func (m *mockTagRepo) Upsert(ctx context.Context, tag *models.Tag) (*models.Tag, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findKey(tag.NormalizedName); existing != nil {
		existing.UsageCount += tag.UsageCount
		existing.Aliases = models.UnionStrings(existing.Aliases, tag.Aliases)
		existing.ProjectIDs = models.UnionStrings(existing.ProjectIDs, tag.ProjectIDs)
		return cloneTag(existing), false, nil
	}
	stored := cloneTag(tag)
	stored.ID = uuid.New()
	stored.CreatedAt = m.clock.tick()
	m.tags[stored.ID] = stored
	m.links[stored.ID] = make(map[uuid.UUID]bool)
	return cloneTag(stored), true, nil
}

func (m *mockTagRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tags[id]; ok {
		return cloneTag(t), nil
	}
	return nil, nil
}

func (m *mockTagRepo) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.findKey(normalizedName); t != nil {
		return cloneTag(t), nil
	}
	return nil, nil
}

func (m *mockTagRepo) ListAll(ctx context.Context) ([]*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sorted(), nil
}

func (m *mockTagRepo) sorted() []*models.Tag {
	out := make([]*models.Tag, 0, len(m.tags))
	for _, t := range m.tags {
		out = append(out, cloneTag(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockTagRepo) LockForUpdate(ctx context.Context, ids ...uuid.UUID) ([]*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Tag
	for _, id := range ids {
		if t, ok := m.tags[id]; ok {
			out = append(out, cloneTag(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *mockTagRepo) Update(ctx context.Context, tag *models.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[tag.ID]; !ok {
		return fmt.Errorf("tag %s not found", tag.ID)
	}
	if other := m.findKey(tag.NormalizedName); other != nil && other.ID != tag.ID {
		return fmt.Errorf("update tag: %w", apperrors.ErrConflict)
	}
	stored := cloneTag(tag)
	stored.CreatedAt = m.tags[tag.ID].CreatedAt
	m.tags[tag.ID] = stored
	return nil
}

func (m *mockTagRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tags, id)
	delete(m.links, id)
	return nil
}

func (m *mockTagRepo) LinkContentNode(ctx context.Context, contentNodeID, tagID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[tagID] == nil {
		m.links[tagID] = make(map[uuid.UUID]bool)
	}
	if m.links[tagID][contentNodeID] {
		return false, nil
	}
	m.links[tagID][contentNodeID] = true
	return true, nil
}

func (m *mockTagRepo) TransferLinks(ctx context.Context, fromTagID, toTagID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for node := range m.links[fromTagID] {
		if !m.links[toTagID][node] {
			m.links[toTagID][node] = true
			added++
		}
	}
	m.links[fromTagID] = make(map[uuid.UUID]bool)
	return added, nil
}

func (m *mockTagRepo) CountLinks(ctx context.Context, tagID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links[tagID]), nil
}

func (m *mockTagRepo) UpdateEmbeddings(ctx context.Context, updates []repositories.EmbeddingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		if t, ok := m.tags[u.ID]; ok {
			hash := u.Hash
			t.EmbeddingHash = &hash
		}
	}
	m.embedUpdates = append(m.embedUpdates, updates...)
	return nil
}

func (m *mockTagRepo) all() []*models.Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted()
}

func cloneTag(t *models.Tag) *models.Tag {
	cp := *t
	cp.Aliases = append([]string(nil), t.Aliases...)
	cp.ProjectIDs = append([]string(nil), t.ProjectIDs...)
	return &cp
}

// mockProvider returns a fixed-size vector per text unless embedFn is set.
type mockProvider struct {
	mu         sync.Mutex
	dimensions int
	embedFn    func(texts []string) ([][]float32, error)
	batchCalls int
	texts      int
}

func (m *mockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batchCalls++
	m.texts += len(texts)
	fn := m.embedFn
	m.mu.Unlock()
	if fn != nil {
		return fn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.dimensions)
	}
	return out, nil
}

func (m *mockProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// mockSearchRepo serves canned hits per index and records requested limits.
type mockSearchRepo struct {
	mu          sync.Mutex
	vector      map[models.VectorIndex][]models.SearchResult
	lexical     map[models.LexicalIndex][]models.SearchResult
	vectorErr   error
	vectorCalls int
	lexicalArgs []lexicalCall
	limits      []int
}

type lexicalCall struct {
	index  models.LexicalIndex
	terms  []repositories.LexicalTerm
	phrase string
}

func newMockSearchRepo() *mockSearchRepo {
	return &mockSearchRepo{
		vector:  make(map[models.VectorIndex][]models.SearchResult),
		lexical: make(map[models.LexicalIndex][]models.SearchResult),
	}
}

func (m *mockSearchRepo) VectorSearch(ctx context.Context, index models.VectorIndex, embedding []float32, limit int) ([]models.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectorCalls++
	m.limits = append(m.limits, limit)
	if m.vectorErr != nil {
		return nil, m.vectorErr
	}
	return append([]models.SearchResult(nil), m.vector[index]...), nil
}

func (m *mockSearchRepo) LexicalSearch(ctx context.Context, index models.LexicalIndex, terms []repositories.LexicalTerm, phrase string, limit int) ([]models.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lexicalArgs = append(m.lexicalArgs, lexicalCall{index: index, terms: terms, phrase: phrase})
	m.limits = append(m.limits, limit)
	return append([]models.SearchResult(nil), m.lexical[index]...), nil
}

func (m *mockSearchRepo) EnsureVectorIndexes(ctx context.Context) error {
	return nil
}

func (m *mockSearchRepo) Dimensions() int {
	return 4
}

// mockLifecycleRepo is an in-memory LifecycleRepository keyed by subject.
type mockLifecycleRepo struct {
	mu      sync.Mutex
	records map[string]*models.LifecycleRecord
	// casHook runs before each compare-and-set, letting a test simulate a
	// concurrent writer.
	casHook func(rec *models.LifecycleRecord)
}

func newMockLifecycleRepo() *mockLifecycleRepo {
	return &mockLifecycleRepo{records: make(map[string]*models.LifecycleRecord)}
}

func subjectKey(t models.LifecycleSubjectType, id string) string {
	return string(t) + "/" + id
}

func (m *mockLifecycleRepo) put(rec *models.LifecycleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	m.records[subjectKey(rec.SubjectType, rec.SubjectID)] = &cp
}

func (m *mockLifecycleRepo) Create(ctx context.Context, record *models.LifecycleRecord) (*models.LifecycleRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectKey(record.SubjectType, record.SubjectID)
	if existing, ok := m.records[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *record
	cp.ID = uuid.New()
	cp.StateChangedAt = time.Now()
	m.records[key] = &cp
	out := cp
	return &out, true, nil
}

func (m *mockLifecycleRepo) Get(ctx context.Context, subjectType models.LifecycleSubjectType, subjectID string) (*models.LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[subjectKey(subjectType, subjectID)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (m *mockLifecycleRepo) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to models.LifecycleState, update repositories.LifecycleUpdate) (*models.LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID != id {
			continue
		}
		if m.casHook != nil {
			m.casHook(rec)
		}
		if rec.State != from {
			return nil, nil
		}
		rec.State = to
		rec.StateChangedAt = time.Now()
		if update.ContentHash != nil {
			rec.ContentHash = update.ContentHash
		}
		switch {
		case update.ClearError:
			rec.ErrorStage, rec.LastError, rec.RetryCount = nil, nil, 0
		default:
			if update.ErrorStage != nil {
				rec.ErrorStage = update.ErrorStage
			}
			if update.LastError != nil {
				rec.LastError = update.LastError
			}
			if update.IncrementRetry {
				rec.RetryCount++
			}
		}
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (m *mockLifecycleRepo) ListByState(ctx context.Context, state models.LifecycleState, limit int) ([]*models.LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LifecycleRecord
	for _, rec := range m.records {
		if rec.State == state {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLifecycleRepo) ResetStuck(ctx context.Context, cutoff time.Time, message string) ([]*models.LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LifecycleRecord
	for _, rec := range m.records {
		if rec.State.IsInProgress() && rec.StateChangedAt.Before(cutoff) {
			stage := models.ErrorStageFor(rec.State)
			msg := message
			rec.State = models.LifecycleStatePending
			rec.ErrorStage = &stage
			rec.LastError = &msg
			rec.StateChangedAt = time.Now()
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLifecycleRepo) ResetFailed(ctx context.Context, maxRetries int) ([]*models.LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LifecycleRecord
	for _, rec := range m.records {
		if rec.State == models.LifecycleStateError && rec.RetryCount < maxRetries {
			rec.State = models.LifecycleStatePending
			rec.ErrorStage, rec.LastError, rec.RetryCount = nil, nil, 0
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLifecycleRepo) CountByState(ctx context.Context) ([]models.LifecycleStateCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.LifecycleState]int)
	for _, rec := range m.records {
		counts[rec.State]++
	}
	var out []models.LifecycleStateCount
	for _, st := range models.ValidLifecycleStates {
		if counts[st] > 0 {
			out = append(out, models.LifecycleStateCount{State: st, Count: counts[st]})
		}
	}
	return out, nil
}
