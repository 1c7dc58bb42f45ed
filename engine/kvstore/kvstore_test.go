package kvstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/memstore"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, collection string) *Store {
	t.Helper()
	s, err := Open("", collection, InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vertex(id, pk string) domain.Vertex {
	return domain.Vertex{VertexID: id, VertexLabel: "part", PartitionKeyValue: pk,
		Props: domain.Properties{"name": {id}}}
}

func edge(id, from, to string) domain.Edge {
	return domain.Edge{EdgeID: id, EdgeLabel: "fits",
		OutVertexID: from, OutVertexLabel: "part", OutVertexPartitionKey: "pk-" + from,
		InVertexID: to, InVertexLabel: "part", InVertexPartitionKey: "pk-" + to}
}

func TestWriteInsertConflictAndUpsert(t *testing.T) {
	s := openTest(t, "g")
	ctx := context.Background()
	v := vertex("a", "pk-a")

	res, err := s.WriteBatch(ctx, "0", []domain.Element{v}, bulk.Insert)
	require.NoError(t, err)
	assert.Zero(t, res.Failed())
	assert.Equal(t, bulk.WriteCharge(v.EstimatedSize()), res.RequestCharge)

	res, err = s.WriteBatch(ctx, "0", []domain.Element{v}, bulk.Insert)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Outcomes[0].Err, domain.ErrConflict)
	assert.Zero(t, res.RequestCharge)

	res, err = s.WriteBatch(ctx, "0", []domain.Element{v.WithProperty("name", "again")}, bulk.Upsert)
	require.NoError(t, err)
	assert.Zero(t, res.Failed())

	got, ok, err := s.Vertex("pk-a", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "again"}, got.Props["name"])
}

func TestWriteEdgeNeedsEndpoints(t *testing.T) {
	s := openTest(t, "g")
	res, err := s.WriteBatch(context.Background(), "0", []domain.Element{
		vertex("a", "pk-a"),
		vertex("b", "pk-b"),
		edge("e1", "a", "b"),
		edge("e2", "a", "ghost"),
	}, bulk.Insert)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 4)
	assert.NoError(t, res.Outcomes[2].Err)
	assert.ErrorIs(t, res.Outcomes[3].Err, domain.ErrMissingEndpoint)

	_, ok, err := s.Edge("pk-a", "e1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Edge("pk-a", "e2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPatchMergesProperties(t *testing.T) {
	s := openTest(t, "g")
	ctx := context.Background()
	_, err := s.WriteBatch(ctx, "0", []domain.Element{vertex("a", "pk-a"), vertex("b", "pk-b"), edge("e1", "a", "b")}, bulk.Insert)
	require.NoError(t, err)

	res, err := s.PatchBatch(ctx, "0", []domain.Element{
		domain.PartialEdge("e1", "pk-a", map[string]any{"weight": "heavy"}),
		domain.PartialVertex("a", "pk-a", map[string]any{"color": "red"}),
		domain.PartialVertex("missing", "pk-x", map[string]any{"color": "red"}),
	})
	require.NoError(t, err)
	assert.NoError(t, res.Outcomes[0].Err)
	assert.NoError(t, res.Outcomes[1].Err)
	assert.ErrorIs(t, res.Outcomes[2].Err, domain.ErrNotFound)

	e, _, err := s.Edge("pk-a", "e1")
	require.NoError(t, err)
	w, _ := e.Props.First("weight")
	assert.Equal(t, "heavy", w)

	v, _, err := s.Vertex("pk-a", "a")
	require.NoError(t, err)
	name, _ := v.Props.First("name")
	color, _ := v.Props.First("color")
	assert.Equal(t, "a", name)
	assert.Equal(t, "red", color)
}

func TestDeleteVertexDropsIncidentEdges(t *testing.T) {
	s := openTest(t, "g")
	ctx := context.Background()
	_, err := s.WriteBatch(ctx, "0", []domain.Element{
		vertex("a", "pk-a"), vertex("b", "pk-b"), vertex("c", "pk-c"),
		edge("e1", "a", "b"), edge("e2", "c", "a"), edge("e3", "c", "b"),
	}, bulk.Insert)
	require.NoError(t, err)

	res, err := s.DeleteBatch(ctx, "0", []domain.Ref{
		vertex("a", "pk-a").Ref(),
		vertex("absent", "pk-z").Ref(),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Failed())
	assert.Equal(t, 2*bulk.DeleteCharge(), res.RequestCharge)

	var ids []string
	for ref, err := range s.QueryElements(ctx, bulk.Filter{}) {
		require.NoError(t, err)
		ids = append(ids, ref.ID)
	}
	assert.Equal(t, []string{"e3", "b", "c"}, ids)
}

func TestQueryMatchesMemstore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, "g")
	mem := memstore.New()

	var batch []domain.Element
	for i := range 6 {
		batch = append(batch, vertex(fmt.Sprintf("v%d", i), fmt.Sprintf("pk-v%d", i)))
	}
	for i := range 5 {
		batch = append(batch, edge(fmt.Sprintf("e%d", i), fmt.Sprintf("v%d", i), fmt.Sprintf("v%d", i+1)))
	}
	for _, st := range []bulk.Store{s, mem} {
		res, err := st.WriteBatch(ctx, "0", batch, bulk.Insert)
		require.NoError(t, err)
		require.Zero(t, res.Failed())
	}

	filters := []bulk.Filter{
		{},
		{Kind: domain.KindVertex},
		{Label: "fits"},
		bulk.EdgeFilter{Direction: bulk.In, SourceVertexID: "v3"}.Filter(),
		bulk.EdgeFilter{Direction: bulk.Both, SourceVertexID: "v3"}.Filter(),
	}
	collect := func(st bulk.Store, f bulk.Filter) []domain.Ref {
		var out []domain.Ref
		for ref, err := range st.QueryElements(ctx, f) {
			require.NoError(t, err)
			out = append(out, ref)
		}
		return out
	}
	for _, f := range filters {
		assert.Equal(t, collect(mem, f), collect(s, f), "%+v", f)
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	s, err := Open("", "one", InMemory())
	require.NoError(t, err)
	defer s.Close()
	other := &Store{db: s.db, collection: "two", log: s.log}

	_, err = s.WriteBatch(context.Background(), "0", []domain.Element{vertex("a", "pk-a")}, bulk.Insert)
	require.NoError(t, err)
	for range other.QueryElements(context.Background(), bulk.Filter{}) {
		t.Fatal("collection two should be empty")
	}
}

func TestProvision(t *testing.T) {
	s := openTest(t, "g")
	ctx := context.Background()

	_, err := s.ProvisionedThroughput(ctx, "g")
	assert.True(t, domain.IsFatal(err))
	scheme, _, err := s.Partitions(ctx, "g")
	require.NoError(t, err)
	assert.Zero(t, scheme.Len())

	require.NoError(t, s.Provision(4000, 3))
	ru, err := s.ProvisionedThroughput(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 4000, ru)
	scheme, _, err = s.Partitions(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 3, scheme.Len())
	assert.Equal(t, partition.UniformScheme(3).IDs(), scheme.IDs())
}

func TestCancelledContext(t *testing.T) {
	s := openTest(t, "g")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.WriteBatch(ctx, "0", []domain.Element{vertex("a", "pk-a")}, bulk.Insert)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutorOnBadger(t *testing.T) {
	s := openTest(t, "g")
	require.NoError(t, s.Provision(100000, 4))
	ctx := context.Background()

	e, err := bulk.New(ctx, s, bulk.Config{Collection: "g"})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 4, e.Partitions().Len())

	var elems []domain.Element
	for i := range 30 {
		elems = append(elems, vertex(fmt.Sprintf("v%02d", i), fmt.Sprintf("pk-v%02d", i)))
	}
	resp, err := e.ImportAll(ctx, elems, bulk.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 30, resp.ItemsAffected)

	del, err := e.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, del.ItemsAffected)
	for range s.QueryElements(ctx, bulk.Filter{}) {
		t.Fatal("store should be empty")
	}
}
