// Package graphson reads line-delimited GraphSON 1.0 files, one vertex or
// edge object per line, into domain elements.
package graphson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/WessleyAI/graphbulk/engine/domain"
)

const maxLine = 16 << 20

// LineError reports a malformed input line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("graphson: line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

type vertexLine struct {
	ID         any                         `json:"id"`
	Label      string                      `json:"label"`
	Type       string                      `json:"type"`
	Properties map[string][]vertexProperty `json:"properties"`
}

type vertexProperty struct {
	Value any `json:"value"`
}

type edgeLine struct {
	ID         any            `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	OutV       any            `json:"outV"`
	OutVLabel  string         `json:"outVLabel"`
	InV        any            `json:"inV"`
	InVLabel   string         `json:"inVLabel"`
	Properties map[string]any `json:"properties"`
}

// each decodes every non-blank line of r into a T and hands it to f.
func each[T any](r io.Reader, f func(line int, v T) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	n := 0
	for sc.Scan() {
		n++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v T
		if err := dec.Decode(&v); err != nil {
			return &LineError{Line: n, Err: err}
		}
		if err := f(n, v); err != nil {
			return &LineError{Line: n, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("graphson: line %d: %w", n+1, err)
	}
	return nil
}

// ReadVertices reads vertices from r. The partition key is the first value of
// the schema property, or the vertex id when the property is absent.
func ReadVertices(r io.Reader, schema domain.PartitionKeySchema) ([]domain.Vertex, error) {
	var out []domain.Vertex
	err := each(r, func(_ int, l vertexLine) error {
		if l.Type != "" && l.Type != "vertex" {
			return fmt.Errorf("expected a vertex, got %q", l.Type)
		}
		id := idString(l.ID)
		if id == "" {
			return fmt.Errorf("vertex without id")
		}
		props := make(domain.Properties, len(l.Properties))
		for name, vals := range l.Properties {
			for _, p := range vals {
				props[name] = append(props[name], scalar(p.Value))
			}
		}
		pk := id
		if v, ok := props.First(schema.Property); ok {
			pk = fmt.Sprint(v)
		}
		out = append(out, domain.Vertex{VertexID: id, VertexLabel: l.Label, PartitionKeyValue: pk, Props: props})
		return nil
	})
	return out, err
}

// ReadEdges reads edges from r. Each endpoint's partition key is its vertex
// id.
func ReadEdges(r io.Reader) ([]domain.Edge, error) {
	var out []domain.Edge
	err := each(r, func(_ int, l edgeLine) error {
		if l.Type != "" && l.Type != "edge" {
			return fmt.Errorf("expected an edge, got %q", l.Type)
		}
		outID, inID := idString(l.OutV), idString(l.InV)
		if outID == "" || inID == "" {
			return fmt.Errorf("edge without outV or inV")
		}
		props := make(domain.Properties, len(l.Properties))
		for name, v := range l.Properties {
			props[name] = []any{scalar(v)}
		}
		out = append(out, domain.Edge{
			EdgeID:                idString(l.ID),
			EdgeLabel:             l.Label,
			OutVertexID:           outID,
			OutVertexLabel:        l.OutVLabel,
			OutVertexPartitionKey: outID,
			InVertexID:            inID,
			InVertexLabel:         l.InVLabel,
			InVertexPartitionKey:  inID,
			Props:                 props,
		})
		return nil
	})
	return out, err
}

// ReadVerticesFile reads vertices from the file at path.
func ReadVerticesFile(path string, schema domain.PartitionKeySchema) ([]domain.Vertex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graphson: %w", err)
	}
	defer f.Close()
	vs, err := ReadVertices(f, schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vs, nil
}

// ReadEdgesFile reads edges from the file at path.
func ReadEdgesFile(path string) ([]domain.Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graphson: %w", err)
	}
	defer f.Close()
	es, err := ReadEdges(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return es, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return fmt.Sprint(v)
}

// scalar turns decoded numbers into int64 or float64.
func scalar(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}
