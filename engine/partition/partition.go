// Package partition maps partition keys onto the collection's partition
// ranges.
package partition

import (
	"fmt"
	"math"
	"strconv"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/cespare/xxhash/v2"
)

// ID names a partition.
type ID string

// keySpace is the size of the 32-bit hash space the ranges cover.
const keySpace = uint64(math.MaxUint32) + 1

// Range is a contiguous slice of the hash space. Min is inclusive and Max is
// exclusive; Max == 0 on the last range stands for the end of the space.
type Range struct {
	ID  ID     `json:"id"`
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

func (r Range) end() uint64 {
	if r.Max == 0 {
		return keySpace
	}
	return uint64(r.Max)
}

func (r Range) contains(h uint32) bool {
	return uint64(h) >= uint64(r.Min) && uint64(h) < r.end()
}

// Scheme is a validated, ordered hash-range table.
type Scheme struct {
	ranges []Range
}

// NewScheme validates that ranges are sorted, contiguous, cover the whole hash
// space and carry unique ids.
func NewScheme(ranges []Range) (Scheme, error) {
	if len(ranges) == 0 {
		return Scheme{}, &domain.FatalConfigurationError{Resource: "partition scheme", Err: fmt.Errorf("no ranges")}
	}
	seen := make(map[ID]bool, len(ranges))
	next := uint64(0)
	for i, r := range ranges {
		if r.ID == "" || seen[r.ID] {
			return Scheme{}, &domain.FatalConfigurationError{
				Resource: "partition scheme",
				Err:      fmt.Errorf("range %d: missing or duplicate id %q", i, r.ID),
			}
		}
		seen[r.ID] = true
		if uint64(r.Min) != next || r.end() <= uint64(r.Min) {
			return Scheme{}, &domain.FatalConfigurationError{
				Resource: "partition scheme",
				Err:      fmt.Errorf("range %q [%d,%d) is not contiguous", r.ID, r.Min, r.end()),
			}
		}
		next = r.end()
	}
	if next != keySpace {
		return Scheme{}, &domain.FatalConfigurationError{
			Resource: "partition scheme",
			Err:      fmt.Errorf("ranges end at %d, not at %d", next, keySpace),
		}
	}
	out := make([]Range, len(ranges))
	copy(out, ranges)
	return Scheme{ranges: out}, nil
}

// UniformScheme splits the hash space into n equal ranges with ids "0".."n-1".
func UniformScheme(n int) Scheme {
	if n <= 0 {
		n = 1
	}
	step := keySpace / uint64(n)
	ranges := make([]Range, n)
	for i := range ranges {
		ranges[i] = Range{ID: ID(strconv.Itoa(i)), Min: uint32(uint64(i) * step)}
		if i < n-1 {
			ranges[i].Max = uint32(uint64(i+1) * step)
		}
	}
	return Scheme{ranges: ranges}
}

// Ranges returns a copy of the range table.
func (s Scheme) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IDs lists partition ids in range order.
func (s Scheme) IDs() []ID {
	ids := make([]ID, len(s.ranges))
	for i, r := range s.ranges {
		ids[i] = r.ID
	}
	return ids
}

// Len is the number of partitions.
func (s Scheme) Len() int { return len(s.ranges) }

// Hash folds the 64-bit xxhash of key into the 32-bit range space.
func Hash(key string) uint32 {
	h := xxhash.Sum64String(key)
	return uint32(h>>32) ^ uint32(h)
}

// Router assigns elements to partitions. It is a pure function of the
// partition key and the scheme.
type Router struct {
	scheme Scheme
}

// NewRouter creates a Router over scheme. A zero scheme routes everything to a
// single partition.
func NewRouter(scheme Scheme) *Router {
	if scheme.Len() == 0 {
		scheme = UniformScheme(1)
	}
	return &Router{scheme: scheme}
}

// Scheme returns the router's range table.
func (r *Router) Scheme() Scheme { return r.scheme }

// RouteKey returns the partition owning key.
func (r *Router) RouteKey(key string) (ID, error) {
	if key == "" {
		return "", domain.NewInvalidElementError("partition_key", key)
	}
	h := Hash(key)
	rs := r.scheme.ranges
	lo, hi := 0, len(rs)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case rs[mid].contains(h):
			return rs[mid].ID, nil
		case uint64(h) < uint64(rs[mid].Min):
			hi = mid
		default:
			lo = mid + 1
		}
	}
	// Unreachable for a validated scheme.
	return "", &domain.FatalConfigurationError{Resource: "partition scheme", Err: fmt.Errorf("no range for hash %d", h)}
}

// Keyed is anything carrying a partition key.
type Keyed interface {
	PartitionKey() string
}

// Route returns the partition for an element or ref.
func (r *Router) Route(e Keyed) (ID, error) {
	return r.RouteKey(e.PartitionKey())
}
