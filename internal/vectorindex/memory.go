package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is a brute-force cosine index used by tests and dry runs.
type Memory struct {
	mu     sync.RWMutex
	dim    int
	ready  bool
	points map[uint64]Point
}

func NewMemory() *Memory {
	return &Memory{points: map[uint64]Point{}}
}

func (m *Memory) EnsureCollection(_ context.Context, dim int, recreate bool) (bool, error) {
	if dim <= 0 {
		return false, fmt.Errorf("vectorindex: dimension must be positive, got %d", dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready && !recreate {
		if m.dim != dim {
			return false, fmt.Errorf("%w: collection=%d requested=%d", ErrDimensionMismatch, m.dim, dim)
		}
		return false, nil
	}
	m.dim = dim
	m.ready = true
	m.points = map[uint64]Point{}
	return true, nil
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrNoCollection
	}
	for _, p := range points {
		if len(p.Vector) != m.dim {
			return fmt.Errorf("%w: point %d expected=%d got=%d", ErrDimensionMismatch, p.ID, m.dim, len(p.Vector))
		}
	}
	for _, p := range points {
		v := make([]float32, len(p.Vector))
		copy(v, p.Vector)
		m.points[p.ID] = Point{ID: p.ID, Vector: v, Payload: p.Payload}
	}
	return nil
}

func (m *Memory) Search(_ context.Context, req SearchRequest) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return nil, ErrNoCollection
	}
	if len(req.Vector) != m.dim {
		return nil, fmt.Errorf("%w: query expected=%d got=%d", ErrDimensionMismatch, m.dim, len(req.Vector))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	out := make([]Match, 0, len(m.points))
	for _, p := range m.points {
		score := Cosine(req.Vector, p.Vector)
		if req.ScoreThreshold != nil && score < *req.ScoreThreshold {
			continue
		}
		out = append(out, Match{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Scroll(_ context.Context, req ScrollRequest) (ScrollPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return ScrollPage{}, ErrNoCollection
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultScrollPageSize
	}
	ids := make([]uint64, 0, len(m.points))
	for id := range m.points {
		if req.Offset != nil && id < *req.Offset {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var page ScrollPage
	for i, id := range ids {
		if i == limit {
			next := id
			page.NextOffset = &next
			break
		}
		p := m.points[id]
		if req.WithVector {
			p.Vector = append([]float32(nil), p.Vector...)
		} else {
			p.Vector = nil
		}
		page.Points = append(page.Points, p)
	}
	return page, nil
}

func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return 0, ErrNoCollection
	}
	return int64(len(m.points)), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
