package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/graph"
	"github.com/WessleyAI/graphbulk/engine/kvstore"
	"github.com/WessleyAI/graphbulk/engine/memstore"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// defaultMemoryThroughput is the offer of a memory store when none is given.
const defaultMemoryThroughput = 10000

// backend is an opened store with what the commands need beyond the bulk
// capability.
type backend struct {
	bulk.Store
	// counts reports stored elements per label, nil when the store cannot.
	counts func(ctx context.Context) (vertices, edges map[string]int64, err error)
	close  func(ctx context.Context) error
}

// openStore opens the configured backend and provisions the collection when
// a throughput is configured.
func openStore(ctx context.Context, c config, log *slog.Logger) (*backend, error) {
	switch c.Store {
	case "neo4j":
		return openNeo4j(ctx, c, log)
	case "badger":
		s, err := kvstore.Open(c.BadgerPath, c.Collection, kvstore.WithLogger(log))
		if err != nil {
			return nil, err
		}
		if c.Throughput > 0 {
			if err := s.Provision(c.Throughput, c.Partitions); err != nil {
				s.Close()
				return nil, err
			}
		}
		return &backend{
			Store:  s,
			counts: queryCounts(s),
			close:  func(context.Context) error { return s.Close() },
		}, nil
	case "memory":
		ru := c.Throughput
		if ru == 0 {
			ru = defaultMemoryThroughput
		}
		opts := []memstore.Option{memstore.WithThroughput(c.Collection, ru)}
		if c.Partitions > 0 {
			opts = append(opts, memstore.WithPartitions(partition.UniformScheme(c.Partitions), nil))
		}
		s := memstore.New(opts...)
		return &backend{
			Store:  s,
			counts: queryCounts(s),
			close:  func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", c.Store)
}

func openNeo4j(ctx context.Context, c config, log *slog.Logger) (*backend, error) {
	auth := neo4j.NoAuth()
	if c.Neo4jPassword != "" {
		auth = neo4j.BasicAuth(c.Neo4jUser, c.Neo4jPassword, "")
	}
	driver, err := neo4j.NewDriverWithContext(c.Neo4jURL, auth)
	if err != nil {
		return nil, fmt.Errorf("neo4j connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j verify: %w", err)
	}
	log.Info("connected to Neo4j", "url", c.Neo4jURL, "database", c.Neo4jDatabase)

	s := graph.New(driver, c.Neo4jDatabase,
		graph.WithPartitionKey(domain.PartitionKeySchema{Property: c.PartitionKey}),
		graph.WithLogger(log))
	if c.Throughput > 0 {
		if err := s.EnsureCollection(ctx, c.Collection, c.Throughput, c.Partitions); err != nil {
			driver.Close(ctx)
			return nil, err
		}
	}
	return &backend{
		Store: s,
		counts: func(ctx context.Context) (map[string]int64, map[string]int64, error) {
			nodes, err := s.NodeCounts(ctx)
			if err != nil {
				return nil, nil, err
			}
			rels, err := s.RelationshipCounts(ctx)
			return nodes, rels, err
		},
		close: driver.Close,
	}, nil
}

// queryCounts counts elements per label by enumerating the store.
func queryCounts(s bulk.Store) func(context.Context) (map[string]int64, map[string]int64, error) {
	return func(ctx context.Context) (map[string]int64, map[string]int64, error) {
		vs, es := map[string]int64{}, map[string]int64{}
		for ref, err := range s.QueryElements(ctx, bulk.Filter{}) {
			if err != nil {
				return nil, nil, err
			}
			if ref.Kind == domain.KindEdge {
				es[ref.Label]++
			} else {
				vs[ref.Label]++
			}
		}
		return vs, es, nil
	}
}
