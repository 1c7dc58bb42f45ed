package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockSummary struct {
	neo4j.ResultSummary
}

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

func (m *mockResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return mockSummary{}, nil
}

type mockSession struct {
	result  *mockResult
	err     error
	cyphers []string
	closed  bool
}

func (m *mockSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	m.cyphers = append(m.cyphers, cypher)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return work(m)
}

func (m *mockSession) ExecuteRead(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return work(m)
}

func (m *mockSession) Close(ctx context.Context) error {
	m.closed = true
	return nil
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(ctx context.Context) CypherSession { return o.session }

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{id, name},
		Keys:   []string{"id", "name"},
	}
}

type entity struct {
	ID   string
	Name string
}

func decodeEntity(rec *neo4j.Record) (entity, error) {
	id, _, err := neo4j.GetRecordValue[string](rec, "id")
	if err != nil {
		return entity{}, err
	}
	name, _, err := neo4j.GetRecordValue[string](rec, "name")
	if err != nil {
		return entity{}, err
	}
	return entity{ID: id, Name: name}, nil
}

// --- Tests ---

func TestCollect_Success(t *testing.T) {
	res := &mockResult{records: []*neo4j.Record{makeRecord("1", "A"), makeRecord("2", "B")}}
	items, err := Collect(context.Background(), res, decodeEntity)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].Name != "B" {
		t.Fatalf("got %+v", items)
	}
}

func TestCollect_DecodeError(t *testing.T) {
	bad := &neo4j.Record{Keys: []string{"x"}, Values: []any{1}}
	res := &mockResult{records: []*neo4j.Record{makeRecord("1", "A"), bad}}
	if _, err := Collect(context.Background(), res, decodeEntity); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCollect_ResultError(t *testing.T) {
	res := &mockResult{err: errors.New("stream broke")}
	_, err := Collect(context.Background(), res, decodeEntity)
	if err == nil || err.Error() != "stream broke" {
		t.Fatalf("expected stream broke, got %v", err)
	}
}

func TestCollect_Empty(t *testing.T) {
	items, err := Collect(context.Background(), &mockResult{}, decodeEntity)
	if err != nil || len(items) != 0 {
		t.Fatalf("got %v, %v", items, err)
	}
}

func TestSingle(t *testing.T) {
	e, err := Single(context.Background(), &mockResult{records: []*neo4j.Record{makeRecord("1", "Alice")}}, decodeEntity)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "1" || e.Name != "Alice" {
		t.Fatalf("got %+v", e)
	}

	_, err = Single(context.Background(), &mockResult{}, decodeEntity)
	if !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}

	_, err = Single(context.Background(), &mockResult{err: errors.New("down")}, decodeEntity)
	if err == nil || errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected result error, got %v", err)
	}
}

func TestExec_ClosesSession(t *testing.T) {
	sess := &mockSession{result: &mockResult{}}
	sum, err := Exec(context.Background(), &mockOpener{session: sess}, "RETURN 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum == nil {
		t.Fatal("expected summary")
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
	if len(sess.cyphers) != 1 || sess.cyphers[0] != "RETURN 1" {
		t.Fatalf("cyphers = %v", sess.cyphers)
	}
}

func TestExec_RunError(t *testing.T) {
	sess := &mockSession{err: errors.New("db down")}
	_, err := Exec(context.Background(), &mockOpener{session: sess}, "RETURN 1", nil)
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected db down, got %v", err)
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
}

func TestNewDriverOpener(t *testing.T) {
	o := NewDriverOpener(nil, "graphs")
	if o.Database != "graphs" {
		t.Fatalf("database = %q", o.Database)
	}
}
