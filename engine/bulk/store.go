package bulk

import (
	"context"
	"iter"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
)

// WriteMode selects insert or upsert semantics for WriteBatch.
type WriteMode int

const (
	// Insert fails an element whose id already exists with ErrConflict.
	Insert WriteMode = iota
	// Upsert replaces an existing element.
	Upsert
)

func (m WriteMode) String() string {
	if m == Upsert {
		return "upsert"
	}
	return "insert"
}

// Outcome is the store's verdict on one element of a batch.
type Outcome struct {
	Ref domain.Ref
	Err error
}

// BatchResult carries one Outcome per submitted item, in submission order,
// and the request units the store charged for the call.
type BatchResult struct {
	Outcomes      []Outcome
	RequestCharge float64
}

// Failed counts outcomes with an error.
func (r BatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Store is the capability the executor needs from a graph store.
//
// Batch methods apply a batch bound for a single partition as one request.
// Per-element failures are reported in BatchResult.Outcomes; the returned
// error is reserved for failures of the whole call (throttling, network,
// configuration).
type Store interface {
	WriteBatch(ctx context.Context, pid partition.ID, elems []domain.Element, mode WriteMode) (BatchResult, error)
	PatchBatch(ctx context.Context, pid partition.ID, partials []domain.Element) (BatchResult, error)
	DeleteBatch(ctx context.Context, pid partition.ID, refs []domain.Ref) (BatchResult, error)
	QueryElements(ctx context.Context, f Filter) iter.Seq2[domain.Ref, error]
	ProvisionedThroughput(ctx context.Context, collection string) (int, error)
}

// PartitionLister is implemented by stores that know their physical
// partition layout and per-partition throughput.
type PartitionLister interface {
	Partitions(ctx context.Context, collection string) (partition.Scheme, map[partition.ID]float64, error)
}

// Direction selects edges relative to the anchor vertex of a Filter.
type Direction int

const (
	// Both matches edges in either orientation.
	Both Direction = iota
	// Out matches edges leaving the source vertex.
	Out
	// In matches edges arriving at the source vertex.
	In
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case In:
		return "in"
	}
	return "both"
}

// ParseDirection accepts "out", "in" and "both" (or "").
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "", "both", "BOTH":
		return Both, true
	case "out", "OUT":
		return Out, true
	case "in", "IN":
		return In, true
	}
	return Both, false
}

// Filter narrows QueryElements. Zero fields match everything. The vertex
// fields only apply to edges: SourceVertexID anchors the match and Direction
// says which end of the edge the anchor must be.
type Filter struct {
	Kind            domain.Kind
	Label           string
	Direction       Direction
	SourceVertexID  string
	TargetVertexID  string
	OutPartitionKey string
	InPartitionKey  string
}

// MatchVertex reports whether v passes the filter.
func (f Filter) MatchVertex(v domain.Vertex) bool {
	if f.Kind != "" && f.Kind != domain.KindVertex {
		return false
	}
	if f.SourceVertexID != "" || f.TargetVertexID != "" || f.OutPartitionKey != "" || f.InPartitionKey != "" {
		return false
	}
	return f.Label == "" || f.Label == v.VertexLabel
}

// MatchEdge reports whether e passes the filter.
func (f Filter) MatchEdge(e domain.Edge) bool {
	if f.Kind != "" && f.Kind != domain.KindEdge {
		return false
	}
	if f.Label != "" && f.Label != e.EdgeLabel {
		return false
	}
	if f.OutPartitionKey != "" && f.OutPartitionKey != e.OutVertexPartitionKey {
		return false
	}
	if f.InPartitionKey != "" && f.InPartitionKey != e.InVertexPartitionKey {
		return false
	}
	out := f.matchEnds(e.OutVertexID, e.InVertexID)
	in := f.matchEnds(e.InVertexID, e.OutVertexID)
	switch f.Direction {
	case Out:
		return out
	case In:
		return in
	}
	return out || in
}

func (f Filter) matchEnds(anchor, other string) bool {
	return (f.SourceVertexID == "" || f.SourceVertexID == anchor) &&
		(f.TargetVertexID == "" || f.TargetVertexID == other)
}

// EdgeFilter is the argument of a filtered edge delete.
type EdgeFilter struct {
	Direction       Direction
	Label           string
	SourceVertexID  string
	TargetVertexID  string
	OutPartitionKey string
	InPartitionKey  string
}

// Filter converts to a store query over edges.
func (f EdgeFilter) Filter() Filter {
	return Filter{
		Kind:            domain.KindEdge,
		Label:           f.Label,
		Direction:       f.Direction,
		SourceVertexID:  f.SourceVertexID,
		TargetVertexID:  f.TargetVertexID,
		OutPartitionKey: f.OutPartitionKey,
		InPartitionKey:  f.InPartitionKey,
	}
}
