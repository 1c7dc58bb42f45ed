package bulk

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
)

// Operation names a bulk operation.
type Operation string

const (
	OpImport Operation = "import"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Failure is a per-element error. Index is the element's position in the
// caller's input or, for query-driven deletes, in the enumeration.
type Failure struct {
	Index int
	Ref   domain.Ref
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("#%d %s: %v", f.Index, f.Ref, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// BatchReport is the settled result of one planned batch. Ticket is the
// governor ticket of the batch's first admission, zero if it was never
// admitted.
type BatchReport struct {
	Seq       int
	Partition partition.ID
	Ticket    uint64
	Size      int
	Items     int
	Charge    float64
	Elapsed   time.Duration
	Retries   int
	Throttles int
	Failures  []Failure
}

// Response summarises a bulk operation. Elapsed is the longest time any
// single batch spent in store calls; WallTime covers the whole call,
// planning and queueing included.
type Response struct {
	Operation            Operation
	ItemsAffected        int
	RequestUnitsConsumed float64
	Elapsed              time.Duration
	WallTime             time.Duration
	Batches              int
	Retries              int
	Throttles            int
	Errors               []Failure
}

// ImportResponse is returned by ImportAll.
type ImportResponse struct{ Response }

// UpdateResponse is returned by UpdateAll.
type UpdateResponse struct{ Response }

// DeleteResponse is returned by the delete operations.
type DeleteResponse struct{ Response }

// OK reports whether no element failed.
func (r Response) OK() bool { return len(r.Errors) == 0 }

// ErrorSummary counts failures by their error text, most frequent first.
func (r Response) ErrorSummary() string {
	if len(r.Errors) == 0 {
		return "no errors"
	}
	counts := make(map[string]int)
	for _, f := range r.Errors {
		counts[rootCause(f.Err)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%d× %s", counts[k], k)
	}
	return b.String()
}

func rootCause(err error) string {
	var ve *domain.ValidationError
	var ie *domain.InvalidElementError
	switch {
	case err == nil:
		return "<nil>"
	case errors.As(err, &ve) && ve.Wrapped != nil:
		return ve.Wrapped.Error()
	case errors.As(err, &ie):
		return "invalid " + ie.Field
	}
	return err.Error()
}

// Aggregate folds batch reports into a response. Pre-dispatch rejects come
// first in input order; batch failures follow in admission order and, within
// a batch, in element order. Batches never admitted sort last by Seq.
func Aggregate(op Operation, rejected []Failure, reports []BatchReport) Response {
	resp := Response{Operation: op, Batches: len(reports)}
	ordered := slices.Clone(reports)
	slices.SortStableFunc(ordered, func(a, b BatchReport) int {
		switch {
		case a.Ticket == 0 && b.Ticket != 0:
			return 1
		case a.Ticket != 0 && b.Ticket == 0:
			return -1
		case a.Ticket != b.Ticket:
			return cmp.Compare(a.Ticket, b.Ticket)
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	resp.Errors = append(resp.Errors, rejected...)
	slices.SortStableFunc(resp.Errors, func(a, b Failure) int { return cmp.Compare(a.Index, b.Index) })
	for _, r := range ordered {
		resp.ItemsAffected += r.Items
		resp.RequestUnitsConsumed += r.Charge
		resp.Retries += r.Retries
		resp.Throttles += r.Throttles
		resp.Elapsed = max(resp.Elapsed, r.Elapsed)
		fs := slices.Clone(r.Failures)
		slices.SortStableFunc(fs, func(a, b Failure) int { return cmp.Compare(a.Index, b.Index) })
		resp.Errors = append(resp.Errors, fs...)
	}
	return resp
}
