// Package planner groups elements into bounded, per-partition batches.
package planner

import (
	"fmt"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
)

// Default batch bounds.
const (
	DefaultMaxItems = 100
	DefaultMaxBytes = 2 << 20
)

// Item is what the planner can batch: elements for writes and patches, refs
// for deletes.
type Item interface {
	PartitionKey() string
	EstimatedSize() int
}

// Limits bounds a single batch. MaxBytes also bounds a single item.
type Limits struct {
	MaxItems int
	MaxBytes int
}

// WithDefaults fills zero fields.
func (l Limits) WithDefaults() Limits {
	if l.MaxItems <= 0 {
		l.MaxItems = DefaultMaxItems
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	return l
}

// Batch is a sealed group of items bound for one partition. Seq is the
// batch's position in the plan.
type Batch[T Item] struct {
	Seq       int
	Partition partition.ID
	Items     []T
	Bytes     int
}

// Len is the item count.
func (b Batch[T]) Len() int { return len(b.Items) }

// Reject is an input item the planner could not place.
type Reject struct {
	Index int
	Err   error
}

// Plan groups items by partition, in order of each partition's first
// appearance, and greedily fills batches until either limit would be exceeded.
// Relative input order within a partition is preserved, and the same input
// with the same limits always yields the same batches.
func Plan[T Item](items []T, router *partition.Router, limits Limits) ([]Batch[T], []Reject) {
	limits = limits.WithDefaults()

	var (
		order   []partition.ID
		lanes   = make(map[partition.ID][]int)
		sizes   = make([]int, len(items))
		rejects []Reject
	)
	for i, it := range items {
		pid, err := router.Route(it)
		if err != nil {
			rejects = append(rejects, Reject{Index: i, Err: err})
			continue
		}
		sizes[i] = it.EstimatedSize()
		if sizes[i] > limits.MaxBytes {
			rejects = append(rejects, Reject{
				Index: i,
				Err: &domain.InvalidElementError{
					Field:   "size",
					Value:   fmt.Sprintf("%d bytes > %d", sizes[i], limits.MaxBytes),
					Wrapped: domain.ErrTooLarge,
				},
			})
			continue
		}
		if _, ok := lanes[pid]; !ok {
			order = append(order, pid)
		}
		lanes[pid] = append(lanes[pid], i)
	}

	var batches []Batch[T]
	for _, pid := range order {
		cur := Batch[T]{Partition: pid}
		for _, i := range lanes[pid] {
			if len(cur.Items) > 0 && (len(cur.Items)+1 > limits.MaxItems || cur.Bytes+sizes[i] > limits.MaxBytes) {
				cur.Seq = len(batches)
				batches = append(batches, cur)
				cur = Batch[T]{Partition: pid}
			}
			cur.Items = append(cur.Items, items[i])
			cur.Bytes += sizes[i]
		}
		if len(cur.Items) > 0 {
			cur.Seq = len(batches)
			batches = append(batches, cur)
		}
	}
	return batches, rejects
}

// Lane is the ordered run of batches for one partition.
type Lane[T Item] struct {
	Partition partition.ID
	Batches   []Batch[T]
}

// ByPartition splits a plan into per-partition lanes, keeping planning order
// both across lanes and within each lane.
func ByPartition[T Item](batches []Batch[T]) []Lane[T] {
	idx := make(map[partition.ID]int)
	var lanes []Lane[T]
	for _, b := range batches {
		i, ok := idx[b.Partition]
		if !ok {
			i = len(lanes)
			idx[b.Partition] = i
			lanes = append(lanes, Lane[T]{Partition: b.Partition})
		}
		lanes[i].Batches = append(lanes[i].Batches, b)
	}
	return lanes
}

// Count returns the number of items across batches.
func Count[T Item](batches []Batch[T]) int {
	n := 0
	for _, b := range batches {
		n += len(b.Items)
	}
	return n
}
