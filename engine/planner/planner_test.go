package planner

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vertices(n int, pkMod int) []domain.Element {
	out := make([]domain.Element, n)
	for i := range out {
		id := strconv.Itoa(i)
		out[i] = domain.Vertex{
			VertexID:          id,
			VertexLabel:       "VERTEX",
			PartitionKeyValue: strconv.Itoa(i % pkMod),
			Props:             domain.Properties{"vproperty": {strings.Repeat("x", i%50)}},
		}
	}
	return out
}

func TestPlanConservesItems(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(5))
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 25; trial++ {
		n := 1 + rng.Intn(400)
		limits := Limits{MaxItems: 1 + rng.Intn(30), MaxBytes: 300 + rng.Intn(4000)}
		items := vertices(n, 1+rng.Intn(40))

		batches, rejects := Plan(items, router, limits)
		require.Empty(t, rejects)
		require.Equal(t, n, Count(batches), "no element dropped or duplicated")

		seen := make(map[string]bool, n)
		for _, b := range batches {
			assert.LessOrEqual(t, b.Len(), limits.MaxItems)
			assert.LessOrEqual(t, b.Bytes, limits.MaxBytes)
			sum := 0
			for _, it := range b.Items {
				sum += it.EstimatedSize()
				pid, _ := router.Route(it)
				assert.Equal(t, b.Partition, pid, "batch holds a single partition")
				require.False(t, seen[it.ID()], "duplicate %s", it.ID())
				seen[it.ID()] = true
			}
			assert.Equal(t, sum, b.Bytes)
		}
	}
}

func TestPlanDeterministic(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(3))
	items := vertices(250, 17)
	limits := Limits{MaxItems: 7, MaxBytes: 1500}

	a, _ := Plan(items, router, limits)
	b, _ := Plan(items, router, limits)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Seq, b[i].Seq)
		assert.Equal(t, a[i].Partition, b[i].Partition)
		require.Equal(t, len(a[i].Items), len(b[i].Items))
		for j := range a[i].Items {
			assert.Equal(t, a[i].Items[j].ID(), b[i].Items[j].ID())
		}
	}
}

func TestPlanPreservesOrderWithinPartition(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(4))
	items := vertices(200, 9)
	batches, _ := Plan(items, router, Limits{MaxItems: 5})

	last := map[partition.ID]int{}
	for _, b := range batches {
		for _, it := range b.Items {
			idx, _ := strconv.Atoi(it.ID())
			prev, ok := last[b.Partition]
			if ok {
				assert.Greater(t, idx, prev, "partition %s out of order", b.Partition)
			}
			last[b.Partition] = idx
		}
	}
}

func TestPlanSealsOnBytes(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(1))
	items := []domain.Element{
		domain.Vertex{VertexID: "a", VertexLabel: "l", PartitionKeyValue: "p", Props: domain.Properties{"x": {strings.Repeat("a", 400)}}},
		domain.Vertex{VertexID: "b", VertexLabel: "l", PartitionKeyValue: "p", Props: domain.Properties{"x": {strings.Repeat("b", 400)}}},
	}
	limit := items[0].EstimatedSize() + items[1].EstimatedSize() - 1

	batches, _ := Plan(items, router, Limits{MaxItems: 10, MaxBytes: limit})
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Seq)
	assert.Equal(t, 1, batches[1].Seq)
}

func TestPlanRejectsOversizedAndUnroutable(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(2))
	items := []domain.Element{
		domain.Vertex{VertexID: "ok", VertexLabel: "l", PartitionKeyValue: "p"},
		domain.Vertex{VertexID: "nopk", VertexLabel: "l"},
		domain.Vertex{VertexID: "big", VertexLabel: "l", PartitionKeyValue: "p", Props: domain.Properties{"x": {strings.Repeat("z", 5000)}}},
	}
	batches, rejects := Plan(items, router, Limits{MaxBytes: 1000})
	require.Len(t, rejects, 2)
	assert.Equal(t, 1, rejects[0].Index)
	assert.True(t, errors.Is(rejects[0].Err, domain.ErrInvalidElement))
	assert.Equal(t, 2, rejects[1].Index)
	assert.True(t, errors.Is(rejects[1].Err, domain.ErrTooLarge))
	assert.Equal(t, 1, Count(batches))
}

func TestPlanEmpty(t *testing.T) {
	batches, rejects := Plan([]domain.Ref(nil), partition.NewRouter(partition.UniformScheme(2)), Limits{})
	assert.Empty(t, batches)
	assert.Empty(t, rejects)
}

func TestByPartitionKeepsPlanningOrder(t *testing.T) {
	router := partition.NewRouter(partition.UniformScheme(3))
	batches, _ := Plan(vertices(120, 11), router, Limits{MaxItems: 4})
	lanes := ByPartition(batches)

	total := 0
	for _, lane := range lanes {
		for i := 1; i < len(lane.Batches); i++ {
			assert.Less(t, lane.Batches[i-1].Seq, lane.Batches[i].Seq)
		}
		for _, b := range lane.Batches {
			assert.Equal(t, lane.Partition, b.Partition)
			total += b.Len()
		}
	}
	assert.Equal(t, 120, total)
}
