package vectorindex

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func seededMemory(t *testing.T, n int) *Memory {
	t.Helper()
	m := NewMemory()
	_, err := m.EnsureCollection(context.Background(), 2, false)
	require.NoError(t, err)
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		angle := float64(i) * 0.1
		points = append(points, Point{
			ID:      uint64(i),
			Vector:  []float32{float32(math.Cos(angle)), float32(math.Sin(angle))},
			Payload: Payload{DrugName: "drug-" + string(rune('a'+i)), DrugID: ""},
		})
	}
	require.NoError(t, m.Upsert(context.Background(), points))
	return m
}

func TestMemoryEnsureCollection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	created, err := m.EnsureCollection(ctx, 3, false)
	require.NoError(t, err)
	require.True(t, created)

	created, err = m.EnsureCollection(ctx, 3, false)
	require.NoError(t, err)
	require.False(t, created)

	_, err = m.EnsureCollection(ctx, 4, false)
	require.True(t, errors.Is(err, ErrDimensionMismatch))

	created, err = m.EnsureCollection(ctx, 4, true)
	require.NoError(t, err)
	require.True(t, created)
}

func TestMemoryUpsertRejectsWrongDimension(t *testing.T) {
	m := seededMemory(t, 1)
	err := m.Upsert(context.Background(), []Point{{ID: 9, Vector: []float32{1, 2, 3}}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMemorySearchOrdersAndThresholds(t *testing.T) {
	m := seededMemory(t, 5)
	ctx := context.Background()

	matches, err := m.Search(ctx, SearchRequest{Vector: []float32{1, 0}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	require.EqualValues(t, 0, matches[0].ID)
	require.EqualValues(t, 1, matches[1].ID)
	require.EqualValues(t, 2, matches[2].ID)
	require.InDelta(t, 1.0, matches[0].Score, 1e-6)

	threshold := 0.99
	matches, err = m.Search(ctx, SearchRequest{Vector: []float32{1, 0}, Limit: 10, ScoreThreshold: &threshold})
	require.NoError(t, err)
	for _, mt := range matches {
		require.GreaterOrEqual(t, mt.Score, threshold)
	}
	require.Len(t, matches, 2)
}

func TestScanAllVisitsEveryPage(t *testing.T) {
	m := seededMemory(t, 7)
	var seen []uint64
	err := ScanAll(context.Background(), m, 3, true, func(p Point) bool {
		require.Len(t, p.Vector, 2)
		seen = append(seen, p.ID)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6}, seen)
}

func TestMemoryScrollReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := seededMemory(t, 1)
	page, err := m.Scroll(ctx, ScrollRequest{Limit: 1, WithVector: true})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)
	page.Points[0].Vector[0] = 42

	page, err = m.Scroll(ctx, ScrollRequest{Limit: 1, WithVector: true})
	require.NoError(t, err)
	require.InDelta(t, 1.0, page.Points[0].Vector[0], 1e-6)
}

func TestScanAllStopsEarly(t *testing.T) {
	m := seededMemory(t, 7)
	count := 0
	err := ScanAll(context.Background(), m, 2, false, func(p Point) bool {
		require.Nil(t, p.Vector)
		count++
		return count < 3
	})
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	require.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}

func TestInstrumentPassThrough(t *testing.T) {
	inner := seededMemory(t, 3)
	idx := Instrument("memory", inner, nil)
	require.NotNil(t, idx)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	_, err = idx.Search(context.Background(), SearchRequest{Vector: []float32{1}, Limit: 1})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	require.Nil(t, Instrument("memory", nil, nil))
}
