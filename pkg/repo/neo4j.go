// Package repo is the seam between the Neo4j driver and the stores built on
// it. Stores talk to sessions through these interfaces so their Cypher can be
// exercised against mocks.
package repo

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNoRecord is returned by Single when a query yields no rows.
var ErrNoRecord = errors.New("repo: no record")

// CypherResult is the part of a driver result the stores use.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

// CypherRunner runs a query in a session or a transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a driver session.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	ExecuteRead(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener hands out sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// DriverOpener opens sessions on a real driver. An empty Database uses the
// server default.
type DriverOpener struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// NewDriverOpener wraps driver.
func NewDriverOpener(driver neo4j.DriverWithContext, database string) *DriverOpener {
	return &DriverOpener{Driver: driver, Database: database}
}

// OpenSession implements SessionOpener.
func (o *DriverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: o.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.Database})}
}

// driverSession adapts neo4j.SessionWithContext to CypherSession.
type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx})
	})
}

func (s *driverSession) ExecuteRead(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx})
	})
}

func (s *driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Collect decodes every record of res.
func Collect[T any](ctx context.Context, res CypherResult, decode func(*neo4j.Record) (T, error)) ([]T, error) {
	var items []T
	for res.Next(ctx) {
		item, err := decode(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Single decodes the first record of res.
func Single[T any](ctx context.Context, res CypherResult, decode func(*neo4j.Record) (T, error)) (T, error) {
	var zero T
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, err
		}
		return zero, ErrNoRecord
	}
	return decode(res.Record())
}

// Exec runs one auto-commit query in a fresh session and returns its
// summary.
func Exec(ctx context.Context, opener SessionOpener, cypher string, params map[string]any) (neo4j.ResultSummary, error) {
	sess := opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Consume(ctx)
}

var (
	_ SessionOpener = (*DriverOpener)(nil)
	_ CypherSession = (*driverSession)(nil)
)
