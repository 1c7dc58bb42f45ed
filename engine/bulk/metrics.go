package bulk

import (
	"sync"
	"time"

	"github.com/WessleyAI/graphbulk/pkg/metrics"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// instruments holds the per-operation metric handles.
type instruments struct {
	reg      *metrics.Registry
	inflight *metrics.Gauge

	mu   sync.Mutex
	byOp map[Operation]*opInstruments
}

type opInstruments struct {
	batches   *metrics.Counter
	items     *metrics.Counter
	failed    *metrics.Counter
	ru        *metrics.Counter
	retries   *metrics.Counter
	throttles *metrics.Counter
	latency   *metrics.Histogram
	admitWait *metrics.Histogram
}

func newInstruments(reg *metrics.Registry) *instruments {
	if reg == nil {
		reg = metrics.New()
	}
	return &instruments{
		reg:      reg,
		inflight: reg.Gauge("graphbulk_batches_inflight", "Batches currently dispatched to the store"),
		byOp:     make(map[Operation]*opInstruments),
	}
}

func (in *instruments) op(op Operation) *opInstruments {
	in.mu.Lock()
	defer in.mu.Unlock()
	if o, ok := in.byOp[op]; ok {
		return o
	}
	l := func(name string) string { return metrics.WithLabels(name, "op", string(op)) }
	o := &opInstruments{
		batches:   in.reg.Counter(l("graphbulk_batches_total"), "Batches settled"),
		items:     in.reg.Counter(l("graphbulk_items_total"), "Elements applied"),
		failed:    in.reg.Counter(l("graphbulk_failed_items_total"), "Elements recorded as failures"),
		ru:        in.reg.Counter(l("graphbulk_request_units_total"), "Request units charged by the store"),
		retries:   in.reg.Counter(l("graphbulk_retries_total"), "Batch retry attempts"),
		throttles: in.reg.Counter(l("graphbulk_throttles_total"), "Throttled store calls and admission timeouts"),
		latency:   in.reg.Histogram(l("graphbulk_batch_duration_seconds"), "Store call latency per batch", latencyBuckets),
		admitWait: in.reg.Histogram(l("graphbulk_admission_wait_seconds"), "Time spent waiting for budget", latencyBuckets),
	}
	in.byOp[op] = o
	return o
}

func (in *instruments) record(op Operation, r BatchReport) {
	o := in.op(op)
	o.batches.Inc()
	o.items.Add(float64(r.Items))
	o.failed.Add(float64(len(r.Failures)))
	o.ru.Add(r.Charge)
	o.retries.Add(float64(r.Retries))
	o.throttles.Add(float64(r.Throttles))
	o.latency.Observe(r.Elapsed.Seconds())
}

func (in *instruments) waited(op Operation, d time.Duration) {
	in.op(op).admitWait.Observe(d.Seconds())
}
