package partition

import (
	"errors"
	"strconv"
	"testing"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformSchemeCoversSpace(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16} {
		s := UniformScheme(n)
		_, err := NewScheme(s.Ranges())
		require.NoError(t, err, "uniform scheme with %d ranges must validate", n)
		assert.Equal(t, n, s.Len())
	}
}

func TestNewSchemeRejectsGaps(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
	}{
		{"empty", nil},
		{"gap", []Range{{ID: "a", Min: 0, Max: 10}, {ID: "b", Min: 11}}},
		{"short", []Range{{ID: "a", Min: 0, Max: 10}}},
		{"duplicate id", []Range{{ID: "a", Min: 0, Max: 10}, {ID: "a", Min: 10}}},
		{"open range not last", []Range{{ID: "a", Min: 0}, {ID: "b", Min: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheme(tt.ranges)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrFatalConfiguration))
		})
	}
}

func TestRouteDeterministicAndTotal(t *testing.T) {
	r := NewRouter(UniformScheme(4))
	counts := map[ID]int{}
	for i := 0; i < 1000; i++ {
		key := strconv.Itoa(i)
		a, err := r.RouteKey(key)
		require.NoError(t, err)
		b, err := r.RouteKey(key)
		require.NoError(t, err)
		require.Equal(t, a, b, "routing must be deterministic")
		counts[a]++
	}
	assert.Len(t, counts, 4, "1000 keys should touch every partition")
}

func TestRouteEmptyKey(t *testing.T) {
	r := NewRouter(UniformScheme(2))
	_, err := r.RouteKey("")
	assert.True(t, errors.Is(err, domain.ErrInvalidElement))
}

func TestRouteEdgeBySourceKey(t *testing.T) {
	r := NewRouter(UniformScheme(8))
	e := domain.Edge{EdgeID: "e", OutVertexPartitionKey: "src", InVertexPartitionKey: "dst"}
	got, err := r.Route(e)
	require.NoError(t, err)
	want, _ := r.RouteKey("src")
	assert.Equal(t, want, got)
}

func TestRouteCustomScheme(t *testing.T) {
	s, err := NewScheme([]Range{
		{ID: "low", Min: 0, Max: 1 << 31},
		{ID: "high", Min: 1 << 31},
	})
	require.NoError(t, err)
	r := NewRouter(s)
	for i := 0; i < 100; i++ {
		key := "k" + strconv.Itoa(i)
		id, err := r.RouteKey(key)
		require.NoError(t, err)
		if Hash(key) < 1<<31 {
			assert.Equal(t, ID("low"), id)
		} else {
			assert.Equal(t, ID("high"), id)
		}
	}
}

func TestZeroSchemeRoutesToSinglePartition(t *testing.T) {
	r := NewRouter(Scheme{})
	id, err := r.RouteKey("anything")
	require.NoError(t, err)
	assert.Equal(t, ID("0"), id)
}
