// Package graph implements the bulk store capability on Neo4j. Vertices are
// (:Element:<Label>) nodes and edges are relationships between them; both
// carry id, label and the partition key property. A collection maps to one
// Neo4j database whose (:Collection) node holds the throughput offer.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/pkg/fn"
	"github.com/WessleyAI/graphbulk/pkg/repo"
	"github.com/WessleyAI/graphbulk/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"
)

const (
	defaultPageSize  = 1000
	defaultQueryRate = 20

	// Charges: every touched row, every created or deleted entity and every
	// property write.
	rowRU      = 1.0
	entityRU   = 5.0
	propertyRU = 0.5
)

// Store is a Neo4j-backed bulk store.
type Store struct {
	opener   repo.SessionOpener
	pkProp   string
	q        cypher
	pageSize int
	pacer    *rate.Limiter
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPartitionKey sets the property that holds partition keys (default
// "pk").
func WithPartitionKey(schema domain.PartitionKeySchema) Option {
	return func(s *Store) {
		if schema.Property != "" {
			s.pkProp = schema.Property
		}
	}
}

// WithPageSize sets how many refs one query page returns.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithQueryRate bounds query pages per second.
func WithQueryRate(perSecond float64) Option {
	return func(s *Store) {
		if perSecond > 0 {
			s.pacer = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithBreaker replaces the circuit breaker options. ShouldTrip is always
// set by the store.
func WithBreaker(opts resilience.BreakerOpts) Option {
	return func(s *Store) {
		opts.ShouldTrip = tripsBreaker
		s.breaker = resilience.NewBreaker(opts)
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store on driver. database may be empty for the server
// default.
func New(driver neo4j.DriverWithContext, database string, opts ...Option) *Store {
	return NewWithOpener(repo.NewDriverOpener(driver, database), opts...)
}

// NewWithOpener creates a Store using a custom session opener.
func NewWithOpener(opener repo.SessionOpener, opts ...Option) *Store {
	bo := resilience.DefaultBreakerOpts
	bo.ShouldTrip = tripsBreaker
	s := &Store{
		opener:   opener,
		pkProp:   domain.DefaultPartitionKeySchema.Property,
		pageSize: defaultPageSize,
		pacer:    rate.NewLimiter(defaultQueryRate, 1),
		breaker:  resilience.NewBreaker(bo),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.q = newCypher(s.pkProp)
	return s
}

// group is one UNWIND statement with its rows. Row i is the element's
// position in the batch.
type group struct {
	cypher string
	rows   []map[string]any
}

// writeResult is what a write transaction produced. It is rebuilt on every
// transaction attempt.
type writeResult struct {
	status map[int]string
	charge float64
}

// call runs f through the breaker and classifies its error.
func (s *Store) call(ctx context.Context, op string, f func(context.Context) error) error {
	return classify(op, s.breaker.Call(ctx, f))
}

// write runs groups in one write transaction.
func (s *Store) write(ctx context.Context, op string, groups []group) (writeResult, error) {
	var out writeResult
	err := s.call(ctx, op, func(ctx context.Context) error {
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		v, err := sess.ExecuteWrite(ctx, func(tx repo.CypherRunner) (any, error) {
			wr := writeResult{status: make(map[int]string)}
			for _, g := range groups {
				res, err := tx.Run(ctx, g.cypher, map[string]any{"rows": g.rows})
				if err != nil {
					return nil, err
				}
				for res.Next(ctx) {
					i, st, err := decodeStatus(res.Record())
					if err != nil {
						return nil, err
					}
					if prev, seen := wr.status[i]; !seen || prev == statusOK {
						wr.status[i] = st
					}
				}
				if err := res.Err(); err != nil {
					return nil, err
				}
				sum, err := res.Consume(ctx)
				if err != nil {
					return nil, err
				}
				wr.charge += rowRU*float64(len(g.rows)) + chargeOf(sum)
			}
			return wr, nil
		})
		if err != nil {
			return err
		}
		out, _ = v.(writeResult)
		return nil
	})
	return out, err
}

func decodeStatus(rec *neo4j.Record) (int, string, error) {
	i, _, err := neo4j.GetRecordValue[int64](rec, "i")
	if err != nil {
		return 0, "", err
	}
	st, _, err := neo4j.GetRecordValue[string](rec, "status")
	if err != nil {
		return 0, "", err
	}
	return int(i), st, nil
}

func chargeOf(sum neo4j.ResultSummary) float64 {
	if sum == nil {
		return 0
	}
	c := sum.Counters()
	if c == nil {
		return 0
	}
	entities := c.NodesCreated() + c.NodesDeleted() + c.RelationshipsCreated() + c.RelationshipsDeleted()
	return entityRU*float64(entities) + propertyRU*float64(c.PropertiesSet())
}

// outcomes turns row statuses into one outcome per ref.
func outcomes(refs []domain.Ref, wr writeResult) bulk.BatchResult {
	res := bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(refs)), RequestCharge: wr.charge}
	for i, ref := range refs {
		res.Outcomes[i].Ref = ref
		switch st, ok := wr.status[i]; {
		case !ok:
			res.Outcomes[i].Err = fmt.Errorf("graph: no result for %s", ref)
		case st == statusOK:
		case st == statusConflict:
			res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrConflict)
		case st == statusMissing:
			res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrMissingEndpoint)
		case st == statusNotFound:
			res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrNotFound)
		default:
			res.Outcomes[i].Err = fmt.Errorf("graph: unexpected status %q for %s", st, ref)
		}
	}
	return res
}

// documentProps is the stored property map of a full element.
func (s *Store) documentProps(el domain.Element) map[string]any {
	props := el.Properties().Flatten()
	props["id"] = el.ID()
	props["label"] = el.Label()
	props[s.pkProp] = el.PartitionKey()
	return props
}

// grouped appends a row under key, keeping first-seen key order.
type grouped struct {
	keys []string
	rows map[string][]map[string]any
}

func (g *grouped) add(key string, row map[string]any) {
	if g.rows == nil {
		g.rows = make(map[string][]map[string]any)
	}
	if _, ok := g.rows[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.rows[key] = append(g.rows[key], row)
}

func (g *grouped) groups(render func(key string) string) []group {
	out := make([]group, 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, group{cypher: render(k), rows: g.rows[k]})
	}
	return out
}

func refsOf[T interface{ Ref() domain.Ref }](items []T) []domain.Ref {
	return fn.Map(items, func(it T) domain.Ref { return it.Ref() })
}

// WriteBatch writes elems in one transaction. Vertices are written before
// edges so an edge may point at a vertex of the same batch.
func (s *Store) WriteBatch(ctx context.Context, pid partition.ID, elems []domain.Element, mode bulk.WriteMode) (bulk.BatchResult, error) {
	var vs, es grouped
	for i, el := range elems {
		row := map[string]any{"i": int64(i), "id": el.ID(), "pk": el.PartitionKey(), "props": s.documentProps(el)}
		switch v := el.(type) {
		case domain.Edge:
			row["out_id"], row["out_pk"] = v.OutVertexID, v.OutVertexPartitionKey
			row["in_id"], row["in_pk"] = v.InVertexID, v.InVertexPartitionKey
			es.add(v.EdgeLabel, row)
		default:
			vs.add(el.Label(), row)
		}
	}
	vq, eq := s.q.vertexInsert, s.q.edgeInsert
	if mode == bulk.Upsert {
		vq, eq = s.q.vertexUpsert, s.q.edgeUpsert
	}
	groups := append(vs.groups(vq), es.groups(eq)...)

	wr, err := s.write(ctx, "write", groups)
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("graph batch written", "partition", pid, "mode", mode, "items", len(elems), "ru", wr.charge)
	return outcomes(refsOf(elems), wr), nil
}

// PatchBatch merges the properties of each partial into the stored element.
func (s *Store) PatchBatch(ctx context.Context, pid partition.ID, partials []domain.Element) (bulk.BatchResult, error) {
	var g grouped
	for i, p := range partials {
		g.add(string(p.Kind()), map[string]any{
			"i": int64(i), "id": p.ID(), "pk": p.PartitionKey(), "props": p.Properties().Flatten(),
		})
	}
	wr, err := s.write(ctx, "patch", g.groups(func(kind string) string {
		if domain.Kind(kind) == domain.KindEdge {
			return s.q.edgePatch()
		}
		return s.q.vertexPatch()
	}))
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("graph batch patched", "partition", pid, "items", len(partials), "ru", wr.charge)
	return outcomes(refsOf(partials), wr), nil
}

// DeleteBatch removes refs. Vertices are detached from their edges first;
// absent elements are not an error.
func (s *Store) DeleteBatch(ctx context.Context, pid partition.ID, refs []domain.Ref) (bulk.BatchResult, error) {
	var g grouped
	for i, r := range refs {
		g.add(string(r.Kind), map[string]any{"i": int64(i), "id": r.ID, "pk": r.PartitionKeyValue})
	}
	// Edges go first so a vertex delete does not swallow them uncounted.
	slices.SortStableFunc(g.keys, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case domain.Kind(a) == domain.KindEdge:
			return -1
		}
		return 1
	})
	wr, err := s.write(ctx, "delete", g.groups(func(kind string) string {
		if domain.Kind(kind) == domain.KindEdge {
			return s.q.edgeDelete()
		}
		return s.q.vertexDelete()
	}))
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("graph batch deleted", "partition", pid, "items", len(refs), "ru", wr.charge)
	return outcomes(refs, wr), nil
}

var (
	_ bulk.Store           = (*Store)(nil)
	_ bulk.PartitionLister = (*Store)(nil)
)
