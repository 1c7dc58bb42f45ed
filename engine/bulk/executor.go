// Package bulk applies large sets of graph mutations to a partitioned store.
//
// An Executor plans the input into per-partition batches, admits each batch
// through the throughput governor, dispatches up to a degree of parallelism
// at once, retries throttled or transient failures, and folds the outcome of
// every batch into a single response. Per-element failures are returned as
// data in the response; only fatal configuration errors, Close and context
// cancellation surface as a returned error.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/governor"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/pkg/fn"
	"github.com/WessleyAI/graphbulk/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// State is the lifecycle state of an Executor.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateDispatching
	StateAggregating
	StateCompleted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateDispatching:
		return "dispatching"
	case StateAggregating:
		return "aggregating"
	case StateCompleted:
		return "completed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Executor runs bulk operations against one collection. Operations on the
// same Executor are serialized; Close may be called from any goroutine.
type Executor struct {
	store      Store
	cfg        Config
	router     *partition.Router
	gov        *governor.Governor
	cost       *costModel
	throughput int

	log      *slog.Logger
	reg      *metrics.Registry
	inst     *instruments
	progress func(context.Context, Progress)
	now      func() time.Time

	opMu    sync.Mutex
	mu      sync.Mutex
	state   State
	root    context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New builds an Executor for cfg.Collection. Missing partition layout and
// throughput are read from the store; failing to find either is a
// FatalConfigurationError.
func New(ctx context.Context, store Store, cfg Config, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, &domain.FatalConfigurationError{Resource: "store", Err: fmt.Errorf("nil store client")}
	}
	e := &Executor{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   slog.Default(),
		now:   time.Now,
		cost:  newCostModel(),
	}
	for _, o := range opts {
		o(e)
	}
	e.inst = newInstruments(e.reg)

	scheme := e.cfg.Partitions
	var weights map[partition.ID]float64
	if scheme.Len() == 0 {
		if pl, ok := store.(PartitionLister); ok {
			s, w, err := pl.Partitions(ctx, e.cfg.Collection)
			if err != nil {
				return nil, fmt.Errorf("bulk: partitions of %q: %w", e.cfg.Collection, fatal("partitions", err))
			}
			scheme, weights = s, w
		}
		if scheme.Len() == 0 {
			scheme = partition.UniformScheme(1)
		}
	}

	e.throughput = e.cfg.Throughput
	if e.throughput <= 0 {
		tp, err := store.ProvisionedThroughput(ctx, e.cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("bulk: throughput of %q: %w", e.cfg.Collection, fatal("offer", err))
		}
		e.throughput = tp
	}

	gov, err := governor.New(float64(e.throughput), scheme, governor.Options{
		Weights:          weights,
		AdmissionTimeout: e.cfg.AdmissionTimeout,
		Logger:           e.log,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: %w", err)
	}
	e.gov = gov
	e.router = partition.NewRouter(scheme)
	e.root, e.cancel = context.WithCancel(context.Background())

	e.log.Info("bulk executor ready",
		"collection", e.cfg.Collection,
		"partitions", scheme.Len(),
		"throughput", e.throughput,
		"parallelism", e.cfg.Parallelism,
	)
	return e, nil
}

func fatal(resource string, err error) error {
	if domain.IsFatal(err) {
		return err
	}
	return &domain.FatalConfigurationError{Resource: resource, Err: err}
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Throughput is the RU/s budget the executor meters against.
func (e *Executor) Throughput() int { return e.throughput }

// Partitions returns the partition scheme batches are routed by.
func (e *Executor) Partitions() partition.Scheme { return e.router.Scheme() }

// GovernorStats reports the admission state of one partition.
func (e *Executor) GovernorStats(pid partition.ID) (governor.Stats, bool) {
	return e.gov.Stats(pid)
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateClosed {
		e.state = s
	}
}

// begin serializes operations and derives a context that Close cancels.
func (e *Executor) begin(ctx context.Context) (context.Context, func(), error) {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil, nil, domain.ErrClosed
	}
	e.running.Add(1)
	e.mu.Unlock()

	e.opMu.Lock()
	if e.State() == StateClosed {
		e.opMu.Unlock()
		e.running.Done()
		return nil, nil, domain.ErrClosed
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.root, cancel)
	e.setState(StatePlanning)
	return opCtx, func() {
		stop()
		cancel()
		e.opMu.Unlock()
		e.running.Done()
	}, nil
}

// interrupted reports why an operation stopped early, if it did.
func (e *Executor) interrupted(ctx context.Context) error {
	if e.State() == StateClosed {
		return domain.ErrClosed
	}
	return ctx.Err()
}

func (e *Executor) parallelism(n int) int {
	if n > 0 {
		return n
	}
	return e.cfg.Parallelism
}

type elementKey struct {
	kind domain.Kind
	pk   string
	id   string
}

func refOf(el domain.Element) domain.Ref {
	if el == nil {
		return domain.Ref{}
	}
	return el.Ref()
}

// ImportAll writes elems. Elements without an id get a generated one unless
// opts.DisableAutomaticIDGeneration is set. Without upsert, a repeated id in
// the input fails every occurrence after the first with ErrConflict.
func (e *Executor) ImportAll(ctx context.Context, elems []domain.Element, opts ImportOptions) (ImportResponse, error) {
	start := e.now()
	ctx, end, err := e.begin(ctx)
	if err != nil {
		return ImportResponse{}, err
	}
	defer end()
	ctx, span := fn.Span(ctx, "graphbulk.import",
		attribute.String("collection", e.cfg.Collection),
		attribute.Int("elements", len(elems)),
		attribute.Bool("upsert", opts.EnableUpsert),
	)
	defer span.End()

	generate := !opts.DisableAutomaticIDGeneration
	var rejected []Failure
	entries := make([]entry[domain.Element], 0, len(elems))
	seen := make(map[elementKey]struct{}, len(elems))
	for i, el := range elems {
		if err := domain.ValidateForImport(el, generate); err != nil {
			rejected = append(rejected, Failure{Index: i, Ref: refOf(el), Err: err})
			continue
		}
		if domain.WithoutID(el) {
			el = domain.AssignID(el, uuid.NewString())
		}
		if !opts.EnableUpsert {
			ref := el.Ref()
			k := elementKey{ref.Kind, ref.PartitionKeyValue, ref.ID}
			if _, dup := seen[k]; dup {
				rejected = append(rejected, Failure{Index: i, Ref: ref, Err: domain.NewValidationError(ref, domain.ErrConflict)})
				continue
			}
			seen[k] = struct{}{}
		}
		entries = append(entries, entry[domain.Element]{item: el, index: i})
	}

	mode := Insert
	if opts.EnableUpsert {
		mode = Upsert
	}
	j := &job[domain.Element]{
		op:  OpImport,
		ref: domain.Element.Ref,
		apply: func(ctx context.Context, pid partition.ID, items []domain.Element) (BatchResult, error) {
			return e.store.WriteBatch(ctx, pid, items, mode)
		},
	}
	resp, err := runJob(ctx, e, j, entries, rejected, e.parallelism(opts.Parallelism), false)
	resp.WallTime = e.now().Sub(start)
	return ImportResponse{resp}, err
}

// UpdateAll merges the properties of each partial element into the stored
// element with the same id and partition key. Batches of one partition are
// applied in input order.
func (e *Executor) UpdateAll(ctx context.Context, partials []domain.Element, parallelism int) (UpdateResponse, error) {
	start := e.now()
	ctx, end, err := e.begin(ctx)
	if err != nil {
		return UpdateResponse{}, err
	}
	defer end()
	ctx, span := fn.Span(ctx, "graphbulk.update",
		attribute.String("collection", e.cfg.Collection),
		attribute.Int("elements", len(partials)),
	)
	defer span.End()

	var rejected []Failure
	entries := make([]entry[domain.Element], 0, len(partials))
	for i, el := range partials {
		if err := domain.ValidatePartial(el); err != nil {
			rejected = append(rejected, Failure{Index: i, Ref: refOf(el), Err: err})
			continue
		}
		entries = append(entries, entry[domain.Element]{item: el, index: i})
	}

	j := &job[domain.Element]{
		op:    OpUpdate,
		ref:   domain.Element.Ref,
		apply: e.store.PatchBatch,
	}
	resp, err := runJob(ctx, e, j, entries, rejected, e.parallelism(parallelism), true)
	resp.WallTime = e.now().Sub(start)
	return UpdateResponse{resp}, err
}

// DeleteAll removes every edge and vertex in the collection. An empty
// collection is a successful no-op.
func (e *Executor) DeleteAll(ctx context.Context) (DeleteResponse, error) {
	return e.deleteMatching(ctx, "graphbulk.delete_all", Filter{Kind: domain.KindEdge}, Filter{Kind: domain.KindVertex})
}

// DeleteEdges removes the edges matching f.
func (e *Executor) DeleteEdges(ctx context.Context, f EdgeFilter) (DeleteResponse, error) {
	return e.deleteMatching(ctx, "graphbulk.delete_edges", f.Filter())
}

// DeleteEdgesByLabel removes every edge with label, in both directions.
func (e *Executor) DeleteEdgesByLabel(ctx context.Context, label string) (DeleteResponse, error) {
	return e.DeleteEdges(ctx, EdgeFilter{Direction: Both, Label: label})
}

func (e *Executor) deleteMatching(ctx context.Context, span string, filters ...Filter) (DeleteResponse, error) {
	start := e.now()
	ctx, end, err := e.begin(ctx)
	if err != nil {
		return DeleteResponse{}, err
	}
	defer end()
	ctx, sp := fn.Span(ctx, span, attribute.String("collection", e.cfg.Collection))
	defer sp.End()

	var entries []entry[domain.Ref]
	for _, f := range filters {
		for ref, err := range e.store.QueryElements(ctx, f) {
			if err != nil {
				if domain.IsFatal(err) {
					return DeleteResponse{}, err
				}
				return DeleteResponse{}, fmt.Errorf("bulk: query %s: %w", f.Kind, err)
			}
			entries = append(entries, entry[domain.Ref]{item: ref, index: len(entries)})
		}
	}
	e.log.Debug("delete candidates", "count", len(entries))

	j := &job[domain.Ref]{
		op:    OpDelete,
		ref:   func(r domain.Ref) domain.Ref { return r },
		apply: e.store.DeleteBatch,
	}
	resp, err := runJob(ctx, e, j, entries, nil, e.cfg.Parallelism, false)
	resp.WallTime = e.now().Sub(start)
	return DeleteResponse{resp}, err
}

// Close cancels pending admissions and retry waits, waits for the running
// operation to settle and releases the governor. Store calls already in
// flight are allowed to finish. Close is idempotent.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	e.mu.Unlock()

	e.cancel()
	e.gov.Close()
	e.running.Wait()
	e.log.Info("bulk executor closed", "collection", e.cfg.Collection)
	return nil
}
