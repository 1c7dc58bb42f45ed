// Package kvstore implements the bulk store capability on an embedded
// BadgerDB for local runs.
//
// Key layout, per collection:
//
//	c/<collection>/v/<pk>\x00<id>                      vertex document (JSON)
//	c/<collection>/e/<pk>\x00<id>                      edge document (JSON)
//	c/<collection>/x/<vpk>\x00<vid>\x00<epk>\x00<eid>  edge incident to a vertex
//	c/<collection>/meta/throughput                     provisioned RU/s
//	c/<collection>/meta/partitions                     partition count
//
// Ids never contain '/', and \x00 sorts before every other byte, so a prefix
// scan yields documents ordered by partition key and id.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/dgraph-io/badger/v3"
)

const sep = "\x00"

// Store is a Badger-backed store bound to one collection.
type Store struct {
	db         *badger.DB
	collection string
	log        *slog.Logger
}

// Option configures Open.
type Option func(*config)

type config struct {
	inMemory bool
	sync     bool
	log      *slog.Logger
}

// InMemory keeps the database in memory; the path is ignored.
func InMemory() Option {
	return func(c *config) { c.inMemory = true }
}

// WithSyncWrites syncs every transaction to disk before it commits.
func WithSyncWrites() Option {
	return func(c *config) { c.sync = true }
}

// WithLogger sets the logger, which also receives Badger's own messages.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// Open opens or creates the database at path for collection.
func Open(path, collection string, opts ...Option) (*Store, error) {
	cfg := config{log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	bo := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithSyncWrites(cfg.sync).
		WithLogger(badgerLogger{cfg.log})
	if cfg.inMemory {
		bo = bo.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	cfg.log.Info("badger store opened", "path", path, "collection", collection, "in_memory", cfg.inMemory)
	return &Store{db: db, collection: collection, log: cfg.log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) prefix(part string) []byte {
	return []byte("c/" + s.collection + "/" + part + "/")
}

func (s *Store) docKey(kind domain.Kind, pk, id string) []byte {
	part := "v"
	if kind == domain.KindEdge {
		part = "e"
	}
	return append(s.prefix(part), pk+sep+id...)
}

func (s *Store) vertexAdjPrefix(pk, id string) []byte {
	return append(s.prefix("x"), pk+sep+id+sep...)
}

func (s *Store) adjKey(vpk, vid, epk, eid string) []byte {
	return append(s.vertexAdjPrefix(vpk, vid), epk+sep+eid...)
}

func metaKey(collection, name string) []byte {
	return []byte("c/" + collection + "/meta/" + name)
}

// Provision records the throughput offer and partition count of the
// store's collection.
func (s *Store) Provision(throughput, partitions int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(s.collection, "throughput"), []byte(strconv.Itoa(throughput))); err != nil {
			return err
		}
		return txn.Set(metaKey(s.collection, "partitions"), []byte(strconv.Itoa(partitions)))
	})
	if err != nil {
		return fmt.Errorf("kvstore: provision %s: %w", s.collection, err)
	}
	return nil
}

func readInt(txn *badger.Txn, key []byte) (int, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt value at %q: %w", key, err)
	}
	return n, true, nil
}

// ProvisionedThroughput reads the offer recorded for collection. A missing
// offer is a FatalConfigurationError.
func (s *Store) ProvisionedThroughput(_ context.Context, collection string) (int, error) {
	var ru int
	var found bool
	err := s.db.View(func(txn *badger.Txn) (err error) {
		ru, found, err = readInt(txn, metaKey(collection, "throughput"))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: throughput: %w", err)
	}
	if !found || ru <= 0 {
		return 0, &domain.FatalConfigurationError{Resource: "offer for collection " + collection}
	}
	return ru, nil
}

// Partitions reports a uniform layout of the recorded partition count, or an
// empty scheme when none was recorded.
func (s *Store) Partitions(_ context.Context, collection string) (partition.Scheme, map[partition.ID]float64, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) (err error) {
		n, _, err = readInt(txn, metaKey(collection, "partitions"))
		return err
	})
	if err != nil {
		return partition.Scheme{}, nil, fmt.Errorf("kvstore: partitions: %w", err)
	}
	if n <= 0 {
		return partition.Scheme{}, nil, nil
	}
	return partition.UniformScheme(n), nil, nil
}

// update runs f in one read-write transaction. Transaction conflicts between
// concurrent batches are transient.
func (s *Store) update(ctx context.Context, op string, f func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return &domain.TransientNetworkError{Op: op, Err: err}
	case errors.Is(err, badger.ErrDBClosed):
		return &domain.FatalConfigurationError{Resource: "badger database", Err: err}
	}
	return fmt.Errorf("kvstore: %s: %w", op, err)
}

func getDoc[T any](txn *badger.Txn, key []byte) (T, bool, error) {
	var doc T
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	return doc, err == nil, err
}

func putDoc(txn *badger.Txn, key []byte, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func (s *Store) exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) putEdge(txn *badger.Txn, e domain.Edge) error {
	if err := putDoc(txn, s.docKey(domain.KindEdge, e.OutVertexPartitionKey, e.EdgeID), e); err != nil {
		return err
	}
	if err := txn.Set(s.adjKey(e.OutVertexPartitionKey, e.OutVertexID, e.OutVertexPartitionKey, e.EdgeID), nil); err != nil {
		return err
	}
	return txn.Set(s.adjKey(e.InVertexPartitionKey, e.InVertexID, e.OutVertexPartitionKey, e.EdgeID), nil)
}

func (s *Store) deleteEdge(txn *badger.Txn, pk, id string) error {
	key := s.docKey(domain.KindEdge, pk, id)
	e, ok, err := getDoc[domain.Edge](txn, key)
	if err != nil || !ok {
		return err
	}
	if err := txn.Delete(key); err != nil {
		return err
	}
	if err := txn.Delete(s.adjKey(e.OutVertexPartitionKey, e.OutVertexID, pk, id)); err != nil {
		return err
	}
	return txn.Delete(s.adjKey(e.InVertexPartitionKey, e.InVertexID, pk, id))
}

func (s *Store) deleteVertex(txn *badger.Txn, pk, id string) error {
	prefix := s.vertexAdjPrefix(pk, id)
	var incident [][2]string
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		rest := bytes.TrimPrefix(it.Item().Key(), prefix)
		epk, eid, ok := bytes.Cut(rest, []byte(sep))
		if ok {
			incident = append(incident, [2]string{string(epk), string(eid)})
		}
	}
	it.Close()

	for _, e := range incident {
		if err := s.deleteEdge(txn, e[0], e[1]); err != nil {
			return err
		}
	}
	return txn.Delete(s.docKey(domain.KindVertex, pk, id))
}

// WriteBatch inserts or upserts elems in one transaction. An edge needs both
// endpoint vertices to exist, either already or earlier in the batch.
func (s *Store) WriteBatch(ctx context.Context, pid partition.ID, elems []domain.Element, mode bulk.WriteMode) (bulk.BatchResult, error) {
	var res bulk.BatchResult
	err := s.update(ctx, "write", func(txn *badger.Txn) error {
		res = bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(elems))}
		for i, el := range elems {
			ref := el.Ref()
			res.Outcomes[i].Ref = ref
			key := s.docKey(ref.Kind, ref.PartitionKeyValue, ref.ID)
			if mode == bulk.Insert {
				found, err := s.exists(txn, key)
				if err != nil {
					return err
				}
				if found {
					res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrConflict)
					continue
				}
			}
			switch v := el.(type) {
			case domain.Vertex:
				if err := putDoc(txn, key, v); err != nil {
					return err
				}
			case domain.Edge:
				outOK, err := s.exists(txn, s.docKey(domain.KindVertex, v.OutVertexPartitionKey, v.OutVertexID))
				if err != nil {
					return err
				}
				inOK, err := s.exists(txn, s.docKey(domain.KindVertex, v.InVertexPartitionKey, v.InVertexID))
				if err != nil {
					return err
				}
				if !outOK || !inOK {
					res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrMissingEndpoint)
					continue
				}
				if mode == bulk.Upsert {
					if err := s.deleteEdge(txn, v.OutVertexPartitionKey, v.EdgeID); err != nil {
						return err
					}
				}
				if err := s.putEdge(txn, v); err != nil {
					return err
				}
			default:
				res.Outcomes[i].Err = domain.NewInvalidElementError("kind", string(el.Kind()))
				continue
			}
			res.RequestCharge += bulk.WriteCharge(el.EstimatedSize())
		}
		return nil
	})
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("badger batch written", "partition", pid, "mode", mode, "items", len(elems), "ru", res.RequestCharge)
	return res, nil
}

func mergeProps(dst, src domain.Properties) domain.Properties {
	out := dst.Clone()
	if out == nil {
		out = domain.Properties{}
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// PatchBatch merges the properties of each partial into the stored element.
func (s *Store) PatchBatch(ctx context.Context, pid partition.ID, partials []domain.Element) (bulk.BatchResult, error) {
	var res bulk.BatchResult
	err := s.update(ctx, "patch", func(txn *badger.Txn) error {
		res = bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(partials))}
		for i, p := range partials {
			ref := p.Ref()
			res.Outcomes[i].Ref = ref
			key := s.docKey(ref.Kind, ref.PartitionKeyValue, ref.ID)
			var found bool
			var err error
			switch ref.Kind {
			case domain.KindEdge:
				var e domain.Edge
				if e, found, err = getDoc[domain.Edge](txn, key); err == nil && found {
					e.Props = mergeProps(e.Props, p.Properties())
					err = putDoc(txn, key, e)
				}
			default:
				var v domain.Vertex
				if v, found, err = getDoc[domain.Vertex](txn, key); err == nil && found {
					v.Props = mergeProps(v.Props, p.Properties())
					err = putDoc(txn, key, v)
				}
			}
			if err != nil {
				return err
			}
			if !found {
				res.Outcomes[i].Err = domain.NewValidationError(ref, domain.ErrNotFound)
				continue
			}
			res.RequestCharge += bulk.PatchCharge(p.EstimatedSize())
		}
		return nil
	})
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("badger batch patched", "partition", pid, "items", len(partials), "ru", res.RequestCharge)
	return res, nil
}

// DeleteBatch removes refs. Deleting a vertex also removes its edges;
// deleting something absent succeeds.
func (s *Store) DeleteBatch(ctx context.Context, pid partition.ID, refs []domain.Ref) (bulk.BatchResult, error) {
	var res bulk.BatchResult
	err := s.update(ctx, "delete", func(txn *badger.Txn) error {
		res = bulk.BatchResult{Outcomes: make([]bulk.Outcome, len(refs))}
		for i, ref := range refs {
			res.Outcomes[i].Ref = ref
			var err error
			if ref.Kind == domain.KindEdge {
				err = s.deleteEdge(txn, ref.PartitionKeyValue, ref.ID)
			} else {
				err = s.deleteVertex(txn, ref.PartitionKeyValue, ref.ID)
			}
			if err != nil {
				return err
			}
			res.RequestCharge += bulk.DeleteCharge()
		}
		return nil
	})
	if err != nil {
		return bulk.BatchResult{}, err
	}
	s.log.Debug("badger batch deleted", "partition", pid, "items", len(refs), "ru", res.RequestCharge)
	return res, nil
}

// scan collects the refs under prefix accepted by match, in key order.
func scan[T interface{ Ref() domain.Ref }](txn *badger.Txn, prefix []byte, match func(T) bool) ([]domain.Ref, error) {
	var out []domain.Ref
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var doc T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return nil, fmt.Errorf("kvstore: decode %q: %w", it.Item().Key(), err)
		}
		if match(doc) {
			out = append(out, doc.Ref())
		}
	}
	return out, nil
}

// QueryElements yields a snapshot of the matching elements, edges before
// vertices, each ordered by partition key and id.
func (s *Store) QueryElements(ctx context.Context, f bulk.Filter) iter.Seq2[domain.Ref, error] {
	return func(yield func(domain.Ref, error) bool) {
		var refs []domain.Ref
		err := s.db.View(func(txn *badger.Txn) error {
			if f.Kind != domain.KindVertex {
				es, err := scan(txn, s.prefix("e"), f.MatchEdge)
				if err != nil {
					return err
				}
				refs = append(refs, es...)
			}
			if f.Kind != domain.KindEdge {
				vs, err := scan(txn, s.prefix("v"), f.MatchVertex)
				if err != nil {
					return err
				}
				refs = append(refs, vs...)
			}
			return nil
		})
		if err != nil {
			yield(domain.Ref{}, err)
			return
		}
		for _, r := range refs {
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

// Vertex reads a stored vertex.
func (s *Store) Vertex(pk, id string) (domain.Vertex, bool, error) {
	var v domain.Vertex
	var ok bool
	err := s.db.View(func(txn *badger.Txn) (err error) {
		v, ok, err = getDoc[domain.Vertex](txn, s.docKey(domain.KindVertex, pk, id))
		return err
	})
	return v, ok, err
}

// Edge reads a stored edge by its out vertex partition key and id.
func (s *Store) Edge(pk, id string) (domain.Edge, bool, error) {
	var e domain.Edge
	var ok bool
	err := s.db.View(func(txn *badger.Txn) (err error) {
		e, ok, err = getDoc[domain.Edge](txn, s.docKey(domain.KindEdge, pk, id))
		return err
	})
	return e, ok, err
}

// badgerLogger forwards Badger's printf-style logging to slog.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(f string, args ...any)   { l.log.Error(fmt.Sprintf(f, args...), "component", "badger") }
func (l badgerLogger) Warningf(f string, args ...any) { l.log.Warn(fmt.Sprintf(f, args...), "component", "badger") }
func (l badgerLogger) Infof(f string, args ...any)    { l.log.Debug(fmt.Sprintf(f, args...), "component", "badger") }
func (l badgerLogger) Debugf(f string, args ...any)   { l.log.Debug(fmt.Sprintf(f, args...), "component", "badger") }

var (
	_ bulk.Store           = (*Store)(nil)
	_ bulk.PartitionLister = (*Store)(nil)
	_ badger.Logger        = badgerLogger{}
)
