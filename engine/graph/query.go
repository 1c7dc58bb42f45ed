package graph

import (
	"context"
	"fmt"
	"iter"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type pageQuery struct {
	kind   domain.Kind
	cypher string
	params map[string]any
}

// pageQueries lists the statements answering f, edges before vertices.
func (s *Store) pageQueries(f bulk.Filter) []pageQuery {
	var out []pageQuery
	if f.Kind != domain.KindVertex {
		out = append(out, pageQuery{
			kind:   domain.KindEdge,
			cypher: s.q.edgeQuery(f.Direction),
			params: map[string]any{
				"label":  f.Label,
				"src":    f.SourceVertexID,
				"dst":    f.TargetVertexID,
				"out_pk": f.OutPartitionKey,
				"in_pk":  f.InPartitionKey,
			},
		})
	}
	edgeOnly := f.SourceVertexID != "" || f.TargetVertexID != "" || f.OutPartitionKey != "" || f.InPartitionKey != ""
	if f.Kind != domain.KindEdge && !edgeOnly {
		out = append(out, pageQuery{
			kind:   domain.KindVertex,
			cypher: s.q.vertexQuery(),
			params: map[string]any{"label": f.Label},
		})
	}
	return out
}

// QueryElements pages through the matching elements, pacing pages with the
// store's query rate.
func (s *Store) QueryElements(ctx context.Context, f bulk.Filter) iter.Seq2[domain.Ref, error] {
	return func(yield func(domain.Ref, error) bool) {
		for _, q := range s.pageQueries(f) {
			for skip := 0; ; skip += s.pageSize {
				if err := s.pacer.Wait(ctx); err != nil {
					yield(domain.Ref{}, err)
					return
				}
				page, err := s.page(ctx, q, skip)
				if err != nil {
					yield(domain.Ref{}, err)
					return
				}
				for _, r := range page {
					if !yield(r, nil) {
						return
					}
				}
				if len(page) < s.pageSize {
					break
				}
			}
		}
	}
}

func (s *Store) page(ctx context.Context, q pageQuery, skip int) ([]domain.Ref, error) {
	params := make(map[string]any, len(q.params)+2)
	for k, v := range q.params {
		params[k] = v
	}
	params["skip"] = int64(skip)
	params["limit"] = int64(s.pageSize)

	var refs []domain.Ref
	err := s.call(ctx, "query", func(ctx context.Context) error {
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)
		v, err := sess.ExecuteRead(ctx, func(tx repo.CypherRunner) (any, error) {
			res, err := tx.Run(ctx, q.cypher, params)
			if err != nil {
				return nil, err
			}
			return repo.Collect(ctx, res, func(rec *neo4j.Record) (domain.Ref, error) {
				return decodeRef(q.kind, rec)
			})
		})
		if err != nil {
			return err
		}
		refs, _ = v.([]domain.Ref)
		return nil
	})
	return refs, err
}

func decodeRef(kind domain.Kind, rec *neo4j.Record) (domain.Ref, error) {
	props := rec.AsMap()
	ref := domain.Ref{
		Kind:              kind,
		ID:                strProp(props, "id"),
		Label:             strProp(props, "label"),
		PartitionKeyValue: strProp(props, "pk"),
	}
	if ref.ID == "" {
		return domain.Ref{}, fmt.Errorf("graph: %s without id", kind)
	}
	return ref, nil
}

type collectionInfo struct {
	throughput int64
	partitions int64
}

func (s *Store) collection(ctx context.Context, name string) (collectionInfo, error) {
	var info collectionInfo
	err := s.call(ctx, "collection", func(ctx context.Context) error {
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)
		res, err := sess.Run(ctx, collectionQuery, map[string]any{"name": name})
		if err != nil {
			return err
		}
		info, err = repo.Single(ctx, res, func(rec *neo4j.Record) (collectionInfo, error) {
			props := rec.AsMap()
			tp, _ := props["throughput"].(int64)
			parts, _ := props["partitions"].(int64)
			return collectionInfo{throughput: tp, partitions: parts}, nil
		})
		return err
	})
	return info, err
}

// ProvisionedThroughput reads the offer from the collection's metadata node.
// A missing node or offer is a FatalConfigurationError.
func (s *Store) ProvisionedThroughput(ctx context.Context, collection string) (int, error) {
	info, err := s.collection(ctx, collection)
	switch {
	case err != nil && !isNoRecord(err):
		return 0, err
	case err != nil || info.throughput <= 0:
		return 0, &domain.FatalConfigurationError{Resource: "offer for collection " + collection}
	}
	return int(info.throughput), nil
}

// Partitions reports a uniform layout when the collection declares a
// partition count, and an empty scheme otherwise.
func (s *Store) Partitions(ctx context.Context, collection string) (partition.Scheme, map[partition.ID]float64, error) {
	info, err := s.collection(ctx, collection)
	if err != nil {
		if isNoRecord(err) {
			return partition.Scheme{}, nil, nil
		}
		return partition.Scheme{}, nil, err
	}
	if info.partitions <= 0 {
		return partition.Scheme{}, nil, nil
	}
	return partition.UniformScheme(int(info.partitions)), nil, nil
}

// EnsureCollection creates or updates the collection's metadata node and the
// element key index.
func (s *Store) EnsureCollection(ctx context.Context, collection string, throughput, partitions int) error {
	return s.call(ctx, "ensure collection", func(ctx context.Context) error {
		if _, err := repo.Exec(ctx, s.opener, s.q.ensureIndex(), nil); err != nil {
			return err
		}
		_, err := repo.Exec(ctx, s.opener, collectionMerge, map[string]any{
			"name":       collection,
			"throughput": int64(throughput),
			"partitions": int64(partitions),
		})
		return err
	})
}

// NodeCounts returns vertex counts grouped by label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return s.counts(ctx, nodeCountsQuery)
}

// RelationshipCounts returns edge counts grouped by label.
func (s *Store) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return s.counts(ctx, relCountsQuery)
}

func (s *Store) counts(ctx context.Context, cypher string) (map[string]int64, error) {
	counts := make(map[string]int64)
	err := s.call(ctx, "counts", func(ctx context.Context) error {
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)
		res, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return err
		}
		for res.Next(ctx) {
			rec := res.Record()
			typ, _ := rec.Get("type")
			cnt, _ := rec.Get("count")
			if t, ok := typ.(string); ok {
				if c, ok := cnt.(int64); ok {
					counts[t] = c
				}
			}
		}
		return res.Err()
	})
	return counts, err
}
