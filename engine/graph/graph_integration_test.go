//go:build integration

package graph

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		// Clean up test data
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testExecutor(t *testing.T) (*Store, *bulk.Executor) {
	t.Helper()
	store := New(testDriver(t), "")
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "it", 10000, 2))

	e, err := bulk.New(ctx, store, bulk.Config{Collection: "it"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return store, e
}

func chain(n int) []domain.Element {
	var out []domain.Element
	var prev domain.Vertex
	for i := range n {
		v := domain.Vertex{VertexID: fmt.Sprintf("p%d", i), VertexLabel: "part", PartitionKeyValue: fmt.Sprintf("pk%d", i%3),
			Props: domain.Properties{"idx": {int64(i)}}}
		out = append(out, v)
		if i > 0 {
			out = append(out, domain.Edge{EdgeID: fmt.Sprintf("e%d", i), EdgeLabel: "fits",
				OutVertexID: prev.VertexID, OutVertexLabel: "part", OutVertexPartitionKey: prev.PartitionKeyValue,
				InVertexID: v.VertexID, InVertexLabel: "part", InVertexPartitionKey: v.PartitionKeyValue})
		}
		prev = v
	}
	return out
}

func TestNeo4j_ImportUpdateDelete(t *testing.T) {
	store, e := testExecutor(t)
	ctx := context.Background()
	assert.Equal(t, 2, e.Partitions().Len())

	resp, err := e.ImportAll(ctx, chain(10), bulk.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 19, resp.ItemsAffected)
	assert.Empty(t, resp.Errors)

	nodes, err := store.NodeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), nodes["part"])

	resp, err = e.ImportAll(ctx, chain(10), bulk.ImportOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Errors, 19)

	up, err := e.UpdateAll(ctx, []domain.Element{domain.PartialEdge("e1", "pk0", map[string]any{"weight": 1.5})}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, up.ItemsAffected)

	del, err := e.DeleteEdgesByLabel(ctx, "fits")
	require.NoError(t, err)
	assert.Equal(t, 9, del.ItemsAffected)

	del, err = e.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, del.ItemsAffected)
}

func TestNeo4j_MissingCollection(t *testing.T) {
	store := New(testDriver(t), "")
	_, err := bulk.New(context.Background(), store, bulk.Config{Collection: "absent"})
	assert.True(t, domain.IsFatal(err))
}
