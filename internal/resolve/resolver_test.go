package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

func drugGraph(t *testing.T, drugs ...graph.Drug) *graph.MemoryStore {
	t.Helper()
	s := graph.NewMemoryStore()
	require.NoError(t, s.WriteBatch(context.Background(), func(ctx context.Context, tx graph.BatchTx) error {
		for _, d := range drugs {
			if _, _, err := tx.MergeDrug(ctx, d.ID, d.Name); err != nil {
				return err
			}
		}
		return nil
	}))
	return s
}

func vectorIndex(t *testing.T, names ...string) *vectorindex.Memory {
	t.Helper()
	idx := vectorindex.NewMemory()
	ctx := context.Background()
	_, err := idx.EnsureCollection(ctx, 2, false)
	require.NoError(t, err)
	points := make([]vectorindex.Point, len(names))
	for i, n := range names {
		points[i] = vectorindex.Point{ID: uint64(i), Vector: []float32{1, float32(i)}, Payload: vectorindex.Payload{DrugName: n}}
	}
	require.NoError(t, idx.Upsert(ctx, points))
	return idx
}

func TestResolveNodePriority(t *testing.T) {
	g := drugGraph(t,
		graph.Drug{ID: "DB00945", Name: "Aspirin"},
		graph.Drug{ID: "DB99999", Name: "Aspirin Extra Strength"},
		graph.Drug{ID: "ASPIRIN", Name: "Acetylsalicylic acid"},
		graph.Drug{ID: "DB00682", Name: "Warfarin"},
		graph.Drug{ID: "DB01109", Name: "Heparin"},
	)
	r := New(logger.NewNop(), g, nil)
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"aspirin", "DB00945"},
		{"  WARFARIN ", "DB00682"},
		{"db01109", "DB01109"},
		{"extra strength", "DB99999"},
		{"low dose heparin", "DB01109"},
		{"farin", "DB00682"},
	}
	for _, tc := range cases {
		d, err := r.ResolveNode(ctx, tc.query)
		require.NoError(t, err, tc.query)
		require.NotNil(t, d, tc.query)
		require.Equal(t, tc.want, d.ID, tc.query)
	}
}

func TestResolveNodeExactNameBeatsExactID(t *testing.T) {
	g := drugGraph(t,
		graph.Drug{ID: "heparin", Name: "Heparin sodium"},
		graph.Drug{ID: "DB01109", Name: "Heparin"},
	)
	d, err := New(nil, g, nil).ResolveNode(context.Background(), "heparin")
	require.NoError(t, err)
	require.Equal(t, "DB01109", d.ID)
}

func TestResolveNodePartialTieBreak(t *testing.T) {
	g := drugGraph(t,
		graph.Drug{ID: "3", Name: "Insulin glargine"},
		graph.Drug{ID: "2", Name: "Insulin lispro"},
		graph.Drug{ID: "1", Name: "Insulin human"},
	)
	d, err := New(nil, g, nil).ResolveNode(context.Background(), "insulin")
	require.NoError(t, err)
	require.Equal(t, "1", d.ID, "shortest name wins")
}

func TestResolveNodeNotFound(t *testing.T) {
	g := drugGraph(t, graph.Drug{ID: "DB00945", Name: "Aspirin"})
	r := New(nil, g, nil)
	for _, q := range []string{"ibuprofen", "", "   "} {
		d, err := r.ResolveNode(context.Background(), q)
		require.NoError(t, err)
		require.Nil(t, d)
	}
}

func TestResolveVector(t *testing.T) {
	idx := vectorIndex(t, "Aspirin Extra Strength", "Warfarin", "aspirin", "Aspirin", "Heparin")
	r := New(nil, nil, idx)
	r.pageSize = 2
	ctx := context.Background()

	p, err := r.ResolveVector(ctx, "ASPIRIN")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "Aspirin", p.Payload.DrugName, "exact matches tie-break by name then id")
	require.Len(t, p.Vector, 2)

	p, err = r.ResolveVector(ctx, "farin")
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.ID)

	p, err = r.ResolveVector(ctx, "unfractionated heparin")
	require.NoError(t, err)
	require.Equal(t, "Heparin", p.Payload.DrugName)

	p, err = r.ResolveVector(ctx, "ibuprofen")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestResolveVectorScansPastFirstPage(t *testing.T) {
	names := make([]string, 0, 600)
	for i := 0; i < 599; i++ {
		names = append(names, "Filler")
	}
	names = append(names, "Lepirudin")
	r := New(nil, nil, vectorIndex(t, names...))

	p, err := r.ResolveVector(context.Background(), "lepirudin")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, uint64(599), p.ID)
}

func TestResolveWithoutBackends(t *testing.T) {
	r := New(nil, nil, nil)
	_, err := r.ResolveNode(context.Background(), "x")
	require.Error(t, err)
	_, err = r.ResolveVector(context.Background(), "x")
	require.Error(t, err)
}
