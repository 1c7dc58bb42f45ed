// Package memstore is an in-memory graph store implementing the bulk store
// capability. It backs unit tests and dry runs, and can inject faults.
package memstore

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
)

// Call records one batch call for ordering assertions.
type Call struct {
	Method    string
	Partition partition.ID
	IDs       []string
	At        time.Time
}

// Fault decides whether a call (or one element of it) fails. Returning nil
// lets it through.
type Fault func(method string, pid partition.ID, ref domain.Ref) error

// Store holds elements per collection in memory. It is safe for concurrent
// use.
type Store struct {
	mu         sync.Mutex
	throughput map[string]int
	scheme     partition.Scheme
	weights    map[partition.ID]float64
	vertices   map[elementKey]domain.Vertex
	edges      map[elementKey]domain.Edge
	calls      []Call

	failNext    []error
	elementFail Fault
	latency     time.Duration
}

type elementKey struct {
	pk string
	id string
}

// Option configures a Store.
type Option func(*Store)

// WithThroughput provisions an offer for collection.
func WithThroughput(collection string, ru int) Option {
	return func(s *Store) { s.throughput[collection] = ru }
}

// WithPartitions makes the store report a partition layout.
func WithPartitions(scheme partition.Scheme, weights map[partition.ID]float64) Option {
	return func(s *Store) {
		s.scheme = scheme
		s.weights = weights
	}
}

// WithLatency delays every batch call.
func WithLatency(d time.Duration) Option {
	return func(s *Store) { s.latency = d }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		throughput: make(map[string]int),
		vertices:   make(map[elementKey]domain.Vertex),
		edges:      make(map[elementKey]domain.Edge),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailNext makes the next len(errs) batch calls fail with errs in order.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// FailElements installs a per-element fault, nil removes it.
func (s *Store) FailElements(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elementFail = f
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// PutVertex stores v directly, bypassing batching.
func (s *Store) PutVertex(v domain.Vertex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vertices[elementKey{v.PartitionKeyValue, v.VertexID}] = v
}

// Vertex looks up a vertex.
func (s *Store) Vertex(pk, id string) (domain.Vertex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vertices[elementKey{pk, id}]
	return v, ok
}

// Edge looks up an edge by its out vertex partition key and id.
func (s *Store) Edge(pk, id string) (domain.Edge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[elementKey{pk, id}]
	return e, ok
}

// Counts returns the number of stored vertices and edges.
func (s *Store) Counts() (vertices, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vertices), len(s.edges)
}

// begin logs the call and applies latency and call-level faults. The
// returned unlock must be called when the batch is done.
func (s *Store) begin(ctx context.Context, method string, pid partition.ID, refs []domain.Ref) (func(), error) {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &domain.TransientNetworkError{Op: method, Err: ctx.Err()}
		case <-t.C:
		}
	}
	s.mu.Lock()
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	s.calls = append(s.calls, Call{Method: method, Partition: pid, IDs: ids, At: time.Now()})
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	return s.mu.Unlock, nil
}

// elementFault must hold mu.
func (s *Store) elementFault(method string, pid partition.ID, ref domain.Ref) error {
	if s.elementFail == nil {
		return nil
	}
	return s.elementFail(method, pid, ref)
}

func refs[T interface{ Ref() domain.Ref }](items []T) []domain.Ref {
	out := make([]domain.Ref, len(items))
	for i, it := range items {
		out[i] = it.Ref()
	}
	return out
}

// WriteBatch inserts or upserts elems. An edge needs both endpoint vertices
// to exist, either already or earlier in the same batch.
func (s *Store) WriteBatch(ctx context.Context, pid partition.ID, elems []domain.Element, mode bulk.WriteMode) (bulk.BatchResult, error) {
	unlock, err := s.begin(ctx, "write", pid, refs(elems))
	if err != nil {
		return bulk.BatchResult{}, err
	}
	defer unlock()

	res := bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(elems))}
	for i, el := range elems {
		ref := el.Ref()
		res.Outcomes[i].Ref = ref
		if err := s.elementFault("write", pid, ref); err != nil {
			res.Outcomes[i].Err = err
			continue
		}
		k := elementKey{ref.PartitionKeyValue, ref.ID}
		switch v := el.(type) {
		case domain.Vertex:
			if _, exists := s.vertices[k]; exists && mode == bulk.Insert {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrConflict)
				continue
			}
			s.vertices[k] = domain.Vertex{
				VertexID:          v.VertexID,
				VertexLabel:       v.VertexLabel,
				PartitionKeyValue: v.PartitionKeyValue,
				Props:             v.Props.Clone(),
			}
		case domain.Edge:
			if _, exists := s.edges[k]; exists && mode == bulk.Insert {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrConflict)
				continue
			}
			if !s.hasVertex(v.OutVertexPartitionKey, v.OutVertexID) || !s.hasVertex(v.InVertexPartitionKey, v.InVertexID) {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrMissingEndpoint)
				continue
			}
			v.Props = v.Props.Clone()
			s.edges[k] = v
		default:
			res.Outcomes[i].Err = domain.NewInvalidElementError("kind", string(el.Kind()))
			continue
		}
		res.RequestCharge += bulk.WriteCharge(el.EstimatedSize())
	}
	return res, nil
}

// hasVertex must hold mu.
func (s *Store) hasVertex(pk, id string) bool {
	_, ok := s.vertices[elementKey{pk, id}]
	return ok
}

// PatchBatch merges the properties of each partial into the stored element.
func (s *Store) PatchBatch(ctx context.Context, pid partition.ID, partials []domain.Element) (bulk.BatchResult, error) {
	unlock, err := s.begin(ctx, "patch", pid, refs(partials))
	if err != nil {
		return bulk.BatchResult{}, err
	}
	defer unlock()

	res := bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(partials))}
	for i, p := range partials {
		ref := p.Ref()
		res.Outcomes[i].Ref = ref
		if err := s.elementFault("patch", pid, ref); err != nil {
			res.Outcomes[i].Err = err
			continue
		}
		k := elementKey{ref.PartitionKeyValue, ref.ID}
		switch p.Kind() {
		case domain.KindVertex:
			v, ok := s.vertices[k]
			if !ok {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrNotFound)
				continue
			}
			v.Props = merge(v.Props, p.Properties())
			s.vertices[k] = v
		case domain.KindEdge:
			e, ok := s.edges[k]
			if !ok {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrNotFound)
				continue
			}
			e.Props = merge(e.Props, p.Properties())
			s.edges[k] = e
		}
		res.RequestCharge += bulk.PatchCharge(p.EstimatedSize())
	}
	return res, nil
}

// merge replaces the named properties and keeps the rest.
func merge(dst, src domain.Properties) domain.Properties {
	out := dst.Clone()
	if out == nil {
		out = domain.Properties{}
	}
	for k, v := range src {
		out[k] = slices.Clone(v)
	}
	return out
}

// DeleteBatch removes refs. Deleting a vertex also removes its edges;
// deleting something absent succeeds.
func (s *Store) DeleteBatch(ctx context.Context, pid partition.ID, rs []domain.Ref) (bulk.BatchResult, error) {
	unlock, err := s.begin(ctx, "delete", pid, rs)
	if err != nil {
		return bulk.BatchResult{}, err
	}
	defer unlock()

	res := bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(rs))}
	for i, ref := range rs {
		res.Outcomes[i].Ref = ref
		if err := s.elementFault("delete", pid, ref); err != nil {
			res.Outcomes[i].Err = err
			continue
		}
		k := elementKey{ref.PartitionKeyValue, ref.ID}
		switch ref.Kind {
		case domain.KindVertex:
			delete(s.vertices, k)
			for ek, e := range s.edges {
				if (e.OutVertexID == ref.ID && e.OutVertexPartitionKey == ref.PartitionKeyValue) ||
					(e.InVertexID == ref.ID && e.InVertexPartitionKey == ref.PartitionKeyValue) {
					delete(s.edges, ek)
				}
			}
		case domain.KindEdge:
			delete(s.edges, k)
		}
		res.RequestCharge += bulk.DeleteCharge()
	}
	return res, nil
}

// QueryElements yields a snapshot of the matching elements, edges before
// vertices, each sorted by partition key and id.
func (s *Store) QueryElements(ctx context.Context, f bulk.Filter) iter.Seq2[domain.Ref, error] {
	s.mu.Lock()
	var out []domain.Ref
	for _, k := range sortedKeys(s.edges) {
		if e := s.edges[k]; f.MatchEdge(e) {
			out = append(out, e.Ref())
		}
	}
	for _, k := range sortedKeys(s.vertices) {
		if v := s.vertices[k]; f.MatchVertex(v) {
			out = append(out, v.Ref())
		}
	}
	s.mu.Unlock()

	return func(yield func(domain.Ref, error) bool) {
		for _, r := range out {
			if err := ctx.Err(); err != nil {
				yield(domain.Ref{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func sortedKeys[V any](m map[elementKey]V) []elementKey {
	return slices.SortedFunc(maps.Keys(m), func(a, b elementKey) int {
		if a.pk != b.pk {
			if a.pk < b.pk {
				return -1
			}
			return 1
		}
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
}

// ProvisionedThroughput returns the offer for collection, or a
// FatalConfigurationError when none was provisioned.
func (s *Store) ProvisionedThroughput(_ context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ru, ok := s.throughput[collection]
	if !ok {
		return 0, &domain.FatalConfigurationError{Resource: "offer for collection " + collection}
	}
	return ru, nil
}

// Partitions reports the layout set with WithPartitions, or an empty scheme.
func (s *Store) Partitions(_ context.Context, _ string) (partition.Scheme, map[partition.ID]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheme, s.weights, nil
}

var (
	_ bulk.Store           = (*Store)(nil)
	_ bulk.PartitionLister = (*Store)(nil)
)
