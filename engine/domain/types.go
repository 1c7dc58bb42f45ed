// Package domain defines the graph element model shared by the bulk engine,
// the planners and every store client, together with the error taxonomy used
// to classify element and batch failures.
package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// Kind distinguishes vertices from edges.
type Kind string

const (
	KindVertex Kind = "vertex"
	KindEdge   Kind = "edge"
)

// Properties maps a property name to its values. Scalars are stored as a
// single-element slice so that multi-valued vertex properties round-trip.
type Properties map[string][]any

// Clone returns a deep copy of the value slices.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

// First returns the first value of a property.
func (p Properties) First(name string) (any, bool) {
	vs, ok := p[name]
	if !ok || len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// Flatten returns single values as scalars and keeps multi-valued properties
// as slices. Stores that cannot hold nested lists use this shape.
func (p Properties) Flatten() map[string]any {
	out := make(map[string]any, len(p))
	for k, vs := range p {
		switch len(vs) {
		case 0:
		case 1:
			out[k] = vs[0]
		default:
			out[k] = slices.Clone(vs)
		}
	}
	return out
}

// Element is a vertex or an edge handed to the engine. Elements are read-only
// once constructed.
type Element interface {
	Kind() Kind
	ID() string
	Label() string
	PartitionKey() string
	Properties() Properties
	Ref() Ref
	EstimatedSize() int
}

// Ref identifies a stored element without its payload.
type Ref struct {
	Kind              Kind   `json:"kind"`
	ID                string `json:"id"`
	Label             string `json:"label,omitempty"`
	PartitionKeyValue string `json:"partition_key"`
}

// PartitionKey returns the ref's partition key.
func (r Ref) PartitionKey() string { return r.PartitionKeyValue }

// EstimatedSize is the approximate size of a delete request entry.
func (r Ref) EstimatedSize() int {
	return len(r.ID) + len(r.Label) + len(r.PartitionKeyValue) + 48
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.PartitionKeyValue + "/" + r.ID
}

// PartitionKeySchema names the property that carries the partition key in the
// collection, e.g. "vertexPartitionKey".
type PartitionKeySchema struct {
	Property string `json:"property"`
}

// DefaultPartitionKeySchema is used when a collection does not declare one.
var DefaultPartitionKeySchema = PartitionKeySchema{Property: "pk"}

// Vertex is a graph vertex.
type Vertex struct {
	VertexID          string     `json:"id"`
	VertexLabel       string     `json:"label"`
	PartitionKeyValue string     `json:"partition_key"`
	Props             Properties `json:"properties,omitempty"`
}

// NewVertex builds a validated vertex. Scalar property values are accepted as
// is; use WithProperty for multi-valued properties.
func NewVertex(id, label, partitionKey string, props map[string]any) (Vertex, error) {
	v := Vertex{
		VertexID:          id,
		VertexLabel:       label,
		PartitionKeyValue: partitionKey,
		Props:             scalarProps(props),
	}
	if err := Validate(v); err != nil {
		return Vertex{}, err
	}
	return v, nil
}

func (v Vertex) Kind() Kind             { return KindVertex }
func (v Vertex) ID() string             { return v.VertexID }
func (v Vertex) Label() string          { return v.VertexLabel }
func (v Vertex) PartitionKey() string   { return v.PartitionKeyValue }
func (v Vertex) Properties() Properties { return v.Props }
func (v Vertex) EstimatedSize() int     { return documentSize(v) }

func (v Vertex) Ref() Ref {
	return Ref{Kind: KindVertex, ID: v.VertexID, Label: v.VertexLabel, PartitionKeyValue: v.PartitionKeyValue}
}

// WithID returns a copy with the id replaced.
func (v Vertex) WithID(id string) Vertex {
	v.VertexID = id
	v.Props = v.Props.Clone()
	return v
}

// WithProperty returns a copy with value appended to the named property.
func (v Vertex) WithProperty(name string, value any) Vertex {
	v.Props = v.Props.Clone()
	if v.Props == nil {
		v.Props = Properties{}
	}
	v.Props[name] = append(v.Props[name], value)
	return v
}

// Edge is a directed graph edge. Edges are stored with, and routed by, their
// out (source) vertex partition key.
type Edge struct {
	EdgeID                string     `json:"id"`
	EdgeLabel             string     `json:"label"`
	OutVertexID           string     `json:"out_v"`
	OutVertexLabel        string     `json:"out_v_label"`
	OutVertexPartitionKey string     `json:"out_v_pk"`
	InVertexID            string     `json:"in_v"`
	InVertexLabel         string     `json:"in_v_label"`
	InVertexPartitionKey  string     `json:"in_v_pk"`
	Props                 Properties `json:"properties,omitempty"`
}

// EdgeEnd describes one endpoint of an edge.
type EdgeEnd struct {
	ID           string
	Label        string
	PartitionKey string
}

// NewEdge builds a validated edge between out and in.
func NewEdge(id, label string, out, in EdgeEnd, props map[string]any) (Edge, error) {
	e := Edge{
		EdgeID:                id,
		EdgeLabel:             label,
		OutVertexID:           out.ID,
		OutVertexLabel:        out.Label,
		OutVertexPartitionKey: out.PartitionKey,
		InVertexID:            in.ID,
		InVertexLabel:         in.Label,
		InVertexPartitionKey:  in.PartitionKey,
		Props:                 scalarProps(props),
	}
	if err := Validate(e); err != nil {
		return Edge{}, err
	}
	return e, nil
}

func (e Edge) Kind() Kind             { return KindEdge }
func (e Edge) ID() string             { return e.EdgeID }
func (e Edge) Label() string          { return e.EdgeLabel }
func (e Edge) PartitionKey() string   { return e.OutVertexPartitionKey }
func (e Edge) Properties() Properties { return e.Props }
func (e Edge) EstimatedSize() int     { return documentSize(e) }

func (e Edge) Ref() Ref {
	return Ref{Kind: KindEdge, ID: e.EdgeID, Label: e.EdgeLabel, PartitionKeyValue: e.OutVertexPartitionKey}
}

// Out returns the source endpoint.
func (e Edge) Out() EdgeEnd {
	return EdgeEnd{ID: e.OutVertexID, Label: e.OutVertexLabel, PartitionKey: e.OutVertexPartitionKey}
}

// In returns the target endpoint.
func (e Edge) In() EdgeEnd {
	return EdgeEnd{ID: e.InVertexID, Label: e.InVertexLabel, PartitionKey: e.InVertexPartitionKey}
}

// WithID returns a copy with the id replaced.
func (e Edge) WithID(id string) Edge {
	e.EdgeID = id
	e.Props = e.Props.Clone()
	return e
}

// WithProperty returns a copy with value appended to the named property.
func (e Edge) WithProperty(name string, value any) Edge {
	e.Props = e.Props.Clone()
	if e.Props == nil {
		e.Props = Properties{}
	}
	e.Props[name] = append(e.Props[name], value)
	return e
}

// PartialEdge describes an update to an existing edge: only the id, the out
// vertex partition key and the properties to merge are set.
func PartialEdge(id, outPartitionKey string, props map[string]any) Edge {
	return Edge{EdgeID: id, OutVertexPartitionKey: outPartitionKey, Props: scalarProps(props)}
}

// PartialVertex describes an update to an existing vertex.
func PartialVertex(id, partitionKey string, props map[string]any) Vertex {
	return Vertex{VertexID: id, PartitionKeyValue: partitionKey, Props: scalarProps(props)}
}

// WithoutID reports whether the element still needs a generated id.
func WithoutID(e Element) bool { return e.ID() == "" }

// AssignID returns a copy of e carrying id.
func AssignID(e Element, id string) Element {
	switch v := e.(type) {
	case Vertex:
		return v.WithID(id)
	case Edge:
		return v.WithID(id)
	}
	return e
}

func scalarProps(in map[string]any) Properties {
	if len(in) == 0 {
		return nil
	}
	out := make(Properties, len(in))
	for _, k := range slices.Sorted(maps.Keys(in)) {
		out[k] = []any{in[k]}
	}
	return out
}

func documentSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
