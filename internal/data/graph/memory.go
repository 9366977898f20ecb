package graph

import (
	"context"
	"sort"
	"sync"
)

type edgeKey struct {
	typ, from, to string
}

type memState struct {
	drugs     map[string]string
	reactions map[string]Reaction
	edges     map[edgeKey]string
	// adjacency of drug id to the edge keys touching it
	adj map[string][]edgeKey
}

func newMemState() *memState {
	return &memState{
		drugs:     map[string]string{},
		reactions: map[string]Reaction{},
		edges:     map[edgeKey]string{},
		adj:       map[string][]edgeKey{},
	}
}

// MemoryStore is an in-process Store. Each WriteBatch stages its writes and
// applies them only when the batch function returns nil.
type MemoryStore struct {
	mu     sync.RWMutex
	st     *memState
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

func (m *MemoryStore) EnsureSchema(ctx context.Context) error { return m.guard(ctx) }

func (m *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	if err := m.guard(ctx); err != nil {
		return Counts{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Counts{
		Drugs:         int64(len(m.st.drugs)),
		Reactions:     int64(len(m.st.reactions)),
		Relationships: int64(len(m.st.edges)),
	}, nil
}

func (m *MemoryStore) Wipe(ctx context.Context) (int64, error) {
	if err := m.guard(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.st.drugs) + len(m.st.reactions))
	m.st = newMemState()
	return n, nil
}

func (m *MemoryStore) Reactions(ctx context.Context) ([]Reaction, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reaction, 0, len(m.st.reactions))
	for _, r := range m.st.reactions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) WriteBatch(ctx context.Context, fn func(ctx context.Context, tx BatchTx) error) error {
	if err := m.guard(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{base: m.st, stage: newMemState()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) Candidates(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	q := NormalizeQuery(query)
	m.mu.RLock()
	var out []Candidate
	for id, name := range m.st.drugs {
		d := Drug{ID: id, Name: name}
		if tier := MatchTier(d, q); tier != tierNone {
			out = append(out, Candidate{Drug: d, Tier: tier})
		}
	}
	m.mu.RUnlock()
	SortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Neighbors(ctx context.Context, id, relType string, limit int) ([]Edge, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Edge
	for _, k := range m.st.adj[id] {
		if !m.st.drugEdge(k, relType) {
			continue
		}
		out = append(out, m.st.edge(k))
	}
	m.mu.RUnlock()
	other := func(e Edge) Drug {
		if e.From.ID == id {
			return e.To
		}
		return e.From
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := other(out[i]), other(out[j])
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return out[i].From.ID < out[j].From.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) EdgesAmong(ctx context.Context, ids []string, relType string, limit int) ([]Edge, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.mu.RLock()
	var out []Edge
	for id := range set {
		for _, k := range m.st.adj[id] {
			if k.from != id || !m.st.drugEdge(k, relType) {
				continue
			}
			if _, ok := set[k.to]; !ok {
				continue
			}
			out = append(out, m.st.edge(k))
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].From.Name != out[j].From.Name {
			return out[i].From.Name < out[j].From.Name
		}
		if out[i].To.Name != out[j].To.Name {
			return out[i].To.Name < out[j].To.Name
		}
		return out[i].Type < out[j].Type
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SharedReaction(ctx context.Context, a, b, preferred string) (*Reaction, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Reaction
	for _, k := range m.st.adj[a] {
		if k.typ != RelHasReaction || k.from != a {
			continue
		}
		if _, ok := m.st.edges[edgeKey{typ: RelHasReaction, from: b, to: k.to}]; !ok {
			continue
		}
		r := m.st.reactions[k.to]
		if best == nil || reactionBefore(r, *best, preferred) {
			cp := r
			best = &cp
		}
	}
	return best, nil
}

func reactionBefore(x, y Reaction, preferred string) bool {
	xp, yp := x.NormalizedDescription == preferred, y.NormalizedDescription == preferred
	if xp != yp {
		return xp
	}
	return x.ID < y.ID
}

func (m *MemoryStore) RelationshipTypeCounts(ctx context.Context, id string) (map[string]int64, error) {
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, k := range m.st.adj[id] {
		out[k.typ]++
	}
	return out, nil
}

func (m *MemoryStore) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// drugEdge reports whether k joins two drugs and matches relType.
func (s *memState) drugEdge(k edgeKey, relType string) bool {
	if k.typ == RelHasReaction || k.from == k.to {
		return false
	}
	return relType == "" || k.typ == relType
}

func (s *memState) edge(k edgeKey) Edge {
	return Edge{
		From:        Drug{ID: k.from, Name: s.drugs[k.from]},
		To:          Drug{ID: k.to, Name: s.drugs[k.to]},
		Type:        k.typ,
		Description: s.edges[k],
	}
}

func (s *memState) addEdge(k edgeKey, desc string) {
	s.edges[k] = desc
	s.adj[k.from] = append(s.adj[k.from], k)
	if k.to != k.from {
		s.adj[k.to] = append(s.adj[k.to], k)
	}
}

type memTx struct {
	base  *memState
	stage *memState
}

func (t *memTx) drugExists(id string) (string, bool) {
	if name, ok := t.stage.drugs[id]; ok {
		return name, true
	}
	name, ok := t.base.drugs[id]
	return name, ok
}

func (t *memTx) edgeExists(k edgeKey) bool {
	if _, ok := t.stage.edges[k]; ok {
		return true
	}
	_, ok := t.base.edges[k]
	return ok
}

func (t *memTx) reactionExists(id string) bool {
	if _, ok := t.stage.reactions[id]; ok {
		return true
	}
	_, ok := t.base.reactions[id]
	return ok
}

func (t *memTx) MergeDrug(ctx context.Context, id, name string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	previous, ok := t.drugExists(id)
	t.stage.drugs[id] = name
	return !ok, previous, nil
}

func (t *memTx) CreateInteractionIfAbsent(ctx context.Context, fromID, toID, description string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := t.drugExists(fromID); !ok {
		return false, nil
	}
	if _, ok := t.drugExists(toID); !ok {
		return false, nil
	}
	k := edgeKey{typ: RelInteractsWith, from: fromID, to: toID}
	if t.edgeExists(k) {
		return false, nil
	}
	t.stage.edges[k] = description
	return true, nil
}

func (t *memTx) CreateReaction(ctx context.Context, r Reaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.reactionExists(r.ID) {
		t.stage.reactions[r.ID] = r
	}
	return nil
}

func (t *memTx) LinkReactionIfAbsent(ctx context.Context, drugID, reactionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := t.drugExists(drugID); !ok || !t.reactionExists(reactionID) {
		return false, nil
	}
	k := edgeKey{typ: RelHasReaction, from: drugID, to: reactionID}
	if t.edgeExists(k) {
		return false, nil
	}
	t.stage.edges[k] = ""
	return true, nil
}

func (t *memTx) commit() {
	for id, name := range t.stage.drugs {
		t.base.drugs[id] = name
	}
	for id, r := range t.stage.reactions {
		t.base.reactions[id] = r
	}
	for k, desc := range t.stage.edges {
		t.base.addEdge(k, desc)
	}
}
