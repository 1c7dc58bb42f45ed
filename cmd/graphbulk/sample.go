package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/pkg/fn"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Labels of generated sample data.
const (
	sampleVertexLabel = "product"
	substituteLabel   = "substitute"
	complementLabel   = "complement"
)

// vertexIDs returns n fixed sample ids.
func vertexIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("P%04d", i)
	}
	return ids
}

// generateVertices builds one product vertex per id with random property
// values. The partition key is the id, also stored under pkProperty.
func generateVertices(ids []string, pkProperty string) []domain.Vertex {
	out := make([]domain.Vertex, 0, len(ids))
	for _, id := range ids {
		props := domain.Properties{pkProperty: {id}, "VertexKey": {id}}
		for _, name := range []string{"product_type", "color", "image_url", "finish", "name", "facet_product_type", "product_name"} {
			props[name] = []any{uuid.NewString()}
		}
		out = append(out, domain.Vertex{VertexID: id, VertexLabel: sampleVertexLabel, PartitionKeyValue: id, Props: props})
	}
	return out
}

// generateEdges links every vertex to every vertex, itself included,
// alternating substitute and complement labels.
func generateEdges(vs []domain.Vertex) []domain.Edge {
	out := make([]domain.Edge, 0, len(vs)*len(vs))
	for i, from := range vs {
		for j, to := range vs {
			label := substituteLabel
			if (i+j)%2 == 1 {
				label = complementLabel
			}
			out = append(out, domain.Edge{
				EdgeID:                fmt.Sprintf("%s-%s", from.VertexID, to.VertexID),
				EdgeLabel:             label,
				OutVertexID:           from.VertexID,
				OutVertexLabel:        from.VertexLabel,
				OutVertexPartitionKey: from.PartitionKeyValue,
				InVertexID:            to.VertexID,
				InVertexLabel:         to.VertexLabel,
				InVertexPartitionKey:  to.PartitionKeyValue,
				Props:                 domain.Properties{"weight": {0.5}},
			})
		}
	}
	return out
}

// parseProperties parses name=value pairs. Values that look like booleans
// or numbers become such.
func parseProperties(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("property %q: want name=value", p)
		}
		out[name] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// partialEdges turns edges into partial edges carrying only props.
func partialEdges(es []domain.Edge, props map[string]any) []domain.Element {
	return fn.Map(es, func(e domain.Edge) domain.Element {
		return domain.PartialEdge(e.EdgeID, e.OutVertexPartitionKey, props)
	})
}

func elements[T domain.Element](items []T) []domain.Element {
	return fn.Map(items, func(it T) domain.Element { return it })
}

// printSummary writes the one-line result of a bulk operation.
func printSummary(w io.Writer, what string, r bulk.Response) {
	fmt.Fprintf(w, "Finished %s with RUs: %s, latency: %s, total items: %s, errors: %d\n",
		what,
		humanize.CommafWithDigits(r.RequestUnitsConsumed, 2),
		r.WallTime.Round(time.Millisecond),
		humanize.Comma(int64(r.ItemsAffected)),
		len(r.Errors))
	if !r.OK() {
		fmt.Fprintf(w, "  %s\n", r.ErrorSummary())
	}
}

// printCounts writes per-label element counts.
func printCounts(w io.Writer, vertices, edges map[string]int64) {
	var vt, et int64
	for _, n := range vertices {
		vt += n
	}
	for _, n := range edges {
		et += n
	}
	fmt.Fprintf(w, "Store holds %s vertices and %s edges\n", humanize.Comma(vt), humanize.Comma(et))
	for _, label := range slices.Sorted(maps.Keys(vertices)) {
		fmt.Fprintf(w, "  vertex %-16s %s\n", label, humanize.Comma(vertices[label]))
	}
	for _, label := range slices.Sorted(maps.Keys(edges)) {
		fmt.Fprintf(w, "  edge   %-16s %s\n", label, humanize.Comma(edges[label]))
	}
}
