package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/engine/planner"
	"github.com/WessleyAI/graphbulk/pkg/fn"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// entry is a planned item tagged with its position in the caller's input.
type entry[T planner.Item] struct {
	item  T
	index int
}

func (e entry[T]) PartitionKey() string { return e.item.PartitionKey() }
func (e entry[T]) EstimatedSize() int   { return e.item.EstimatedSize() }

// job binds one operation to the store call that applies it.
type job[T planner.Item] struct {
	op    Operation
	ref   func(T) domain.Ref
	apply func(ctx context.Context, pid partition.ID, items []T) (BatchResult, error)

	total     int
	completed atomic.Int64
}

// runJob plans entries, dispatches the batches and aggregates the reports.
// ordered runs the batches of each partition one after another.
func runJob[T planner.Item](ctx context.Context, e *Executor, j *job[T], entries []entry[T], rejected []Failure, dop int, ordered bool) (Response, error) {
	batches, rejects := planner.Plan(entries, e.router, e.cfg.Limits)
	for _, r := range rejects {
		it := entries[r.Index]
		rejected = append(rejected, Failure{Index: it.index, Ref: j.ref(it.item), Err: r.Err})
	}
	j.total = planner.Count(batches)
	e.log.Debug("batches planned", "op", j.op, "items", j.total, "batches", len(batches), "rejected", len(rejected))

	e.setState(StateDispatching)
	reports, err := dispatch(ctx, e, j, batches, dop, ordered)

	e.setState(StateAggregating)
	resp := Aggregate(j.op, rejected, reports)
	if err == nil {
		err = e.interrupted(ctx)
	}
	e.setState(StateCompleted)

	log := e.log.With("op", j.op, "items", resp.ItemsAffected, "ru", resp.RequestUnitsConsumed,
		"errors", len(resp.Errors), "batches", resp.Batches, "retries", resp.Retries)
	if err != nil {
		log.Warn("bulk operation aborted", "err", err)
	} else {
		log.Info("bulk operation finished")
	}
	return resp, err
}

func dispatch[T planner.Item](ctx context.Context, e *Executor, j *job[T], batches []planner.Batch[entry[T]], dop int, ordered bool) ([]BatchReport, error) {
	reports := make([]BatchReport, len(batches))
	stage := fn.TracedStage("graphbulk.batch",
		func(b planner.Batch[entry[T]]) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("op", string(j.op)),
				attribute.String("partition", string(b.Partition)),
				attribute.Int("seq", b.Seq),
				attribute.Int("items", b.Len()),
			}
		},
		func(ctx context.Context, b planner.Batch[entry[T]]) fn.Result[BatchReport] {
			return runBatch(ctx, e, j, b)
		})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dop)
	exec := func(b planner.Batch[entry[T]]) error {
		rep, err := stage(gctx, b).Unwrap()
		reports[b.Seq] = rep
		return err
	}
	if ordered {
		for _, lane := range planner.ByPartition(batches) {
			g.Go(func() error {
				for _, b := range lane.Batches {
					if err := exec(b); err != nil {
						return err
					}
				}
				return nil
			})
		}
	} else {
		for _, b := range batches {
			g.Go(func() error { return exec(b) })
		}
	}
	return reports, g.Wait()
}

// runBatch admits, applies and settles one batch, retrying the elements
// that failed with a retryable error. Only fatal configuration errors are
// returned; everything else ends up in the report.
func runBatch[T planner.Item](ctx context.Context, e *Executor, j *job[T], b planner.Batch[entry[T]]) fn.Result[BatchReport] {
	rep := BatchReport{Seq: b.Seq, Partition: b.Partition, Size: b.Len()}
	pending := b.Items
	fail := func(items []entry[T], err error) {
		for _, it := range items {
			rep.Failures = append(rep.Failures, Failure{Index: it.index, Ref: j.ref(it.item), Err: err})
		}
	}
	throttled := func(err error) {
		rep.Throttles++
		if errors.Is(err, domain.ErrThrottled) {
			e.gov.Penalize(b.Partition, domain.RetryAfter(err))
		}
	}

	opts := e.cfg.Retry
	opts.Retryable = domain.IsRetryable
	opts.Hint = domain.RetryAfter
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		rep.Retries++
		e.log.Debug("retrying batch", "op", j.op, "partition", b.Partition, "seq", b.Seq,
			"attempt", attempt, "pending", len(pending), "wait", wait, "err", err)
	}

	attempt := func(ctx context.Context) fn.Result[struct{}] {
		if err := ctx.Err(); err != nil {
			return fn.Err[struct{}](err)
		}
		items := make([]T, len(pending))
		sizes := make([]int, len(pending))
		for i, it := range pending {
			items[i] = it.item
			sizes[i] = it.item.EstimatedSize()
		}
		est, base := e.cost.estimate(j.op, sizes)

		permit, err := e.gov.Admit(ctx, b.Partition, est)
		if err != nil {
			if errors.Is(err, domain.ErrThrottled) {
				rep.Throttles++
			}
			return fn.Err[struct{}](err)
		}
		if rep.Ticket == 0 {
			rep.Ticket = permit.Ticket
		}
		e.inst.waited(j.op, permit.Waited)

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout)
		e.inst.inflight.Inc()
		start := e.now()
		res, err := j.apply(callCtx, b.Partition, items)
		rep.Elapsed += e.now().Sub(start)
		e.inst.inflight.Dec()
		if err != nil && errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
			err = &domain.TransientNetworkError{Op: string(j.op), Err: err}
		}
		cancel()

		charge := res.RequestCharge
		var te *domain.ThrottledError
		if errors.As(err, &te) && charge == 0 {
			charge = te.Charge
		}
		e.gov.Release(permit, charge)
		rep.Charge += charge

		switch {
		case err == nil:
		case domain.IsFatal(err):
			return fn.Err[struct{}](err)
		case domain.IsRetryable(err):
			throttled(err)
			return fn.Err[struct{}](err)
		default:
			fail(pending, err)
			pending = nil
			return fn.Ok(struct{}{})
		}
		e.cost.observe(j.op, base, charge)

		if len(res.Outcomes) != len(items) {
			fail(pending, fmt.Errorf("bulk: store returned %d outcomes for %d items", len(res.Outcomes), len(items)))
			pending = nil
			return fn.Ok(struct{}{})
		}
		var retry []entry[T]
		var retryErr error
		for i, o := range res.Outcomes {
			switch {
			case o.Err == nil:
				rep.Items++
			case domain.IsRetryable(o.Err):
				retry = append(retry, pending[i])
				if retryErr == nil || domain.RetryAfter(o.Err) > domain.RetryAfter(retryErr) {
					retryErr = o.Err
				}
			default:
				rep.Failures = append(rep.Failures, Failure{Index: pending[i].index, Ref: j.ref(pending[i].item), Err: o.Err})
			}
		}
		pending = retry
		if len(retry) > 0 {
			throttled(retryErr)
			return fn.Err[struct{}](retryErr)
		}
		return fn.Ok(struct{}{})
	}

	_, err := fn.Retry(ctx, opts, attempt).Unwrap()
	if err != nil && domain.IsFatal(err) {
		return fn.ErrWith(rep, err)
	}
	if err != nil {
		fail(pending, err)
	}

	e.inst.record(j.op, rep)
	done := j.completed.Add(int64(rep.Size))
	if e.progress != nil {
		e.progress(ctx, Progress{
			Operation:     j.op,
			Batch:         rep.Seq,
			Partition:     rep.Partition,
			Items:         rep.Items,
			Failed:        len(rep.Failures),
			RequestCharge: rep.Charge,
			Completed:     int(done),
			Total:         j.total,
		})
	}
	return fn.Ok(rep)
}
