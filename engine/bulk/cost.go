package bulk

import (
	"math"
	"sync"

	"github.com/WessleyAI/graphbulk/pkg/fn"
)

// Request unit model. Stores without a native cost report use the same
// functions to compute the charge they return, so estimates and charges
// agree unless a store says otherwise.
const (
	writeRUPerKiB  = 5.0
	minWriteRU     = 5.0
	patchRUPerItem = 10.0
	deleteRUPerRef = 5.0
)

// WriteCharge is the cost of writing a document of size bytes.
func WriteCharge(size int) float64 {
	return math.Max(minWriteRU, writeRUPerKiB*float64(size)/1024)
}

// PatchCharge is the cost of merging properties into a document, where size
// is the size of the partial document.
func PatchCharge(size int) float64 {
	return patchRUPerItem + writeRUPerKiB*float64(size)/1024
}

// DeleteCharge is the cost of deleting one element.
func DeleteCharge() float64 { return deleteRUPerRef }

// costModel scales the static model by the observed ratio of actual to
// estimated charge, per operation.
type costModel struct {
	mu    sync.Mutex
	ratio map[Operation]float64
}

const (
	ewmaWeight = 0.2
	minRatio   = 0.25
	maxRatio   = 4.0
)

func newCostModel() *costModel {
	return &costModel{ratio: make(map[Operation]float64)}
}

func baseCost(op Operation, sizes []int) float64 {
	return fn.Sum(sizes, func(s int) float64 {
		switch op {
		case OpImport:
			return WriteCharge(s)
		case OpUpdate:
			return PatchCharge(s)
		}
		return DeleteCharge()
	})
}

// estimate returns the refined cost and the unrefined base it came from.
func (m *costModel) estimate(op Operation, sizes []int) (est, base float64) {
	base = baseCost(op, sizes)
	m.mu.Lock()
	r, ok := m.ratio[op]
	m.mu.Unlock()
	if !ok {
		r = 1
	}
	return base * r, base
}

// observe folds one settled batch into the ratio.
func (m *costModel) observe(op Operation, base, actual float64) {
	if base <= 0 || actual <= 0 {
		return
	}
	sample := math.Min(maxRatio, math.Max(minRatio, actual/base))
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratio[op]
	if !ok {
		m.ratio[op] = sample
		return
	}
	m.ratio[op] = (1-ewmaWeight)*r + ewmaWeight*sample
}
