// Package governor meters batch admission against the provisioned request
// unit (RU) budget of a collection.
//
// The budget is split across partitions, each owning a weighted token bucket
// whose capacity is its per-second share. Admission is FIFO per partition:
// only the oldest waiter may take budget, so a stream of small batches cannot
// starve a large one. Waiters sleep on a timer sized to the bucket deficit or
// until a release or departure wakes them; nothing polls.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/pkg/resilience"
)

// Options tunes a Governor.
type Options struct {
	// Weights splits the budget proportionally when partitions have known,
	// unequal throughput. Missing partitions get weight 1.
	Weights map[partition.ID]float64
	// AdmissionTimeout bounds a single Admit. Zero waits for ctx only.
	AdmissionTimeout time.Duration
	Logger           *slog.Logger
}

// Governor admits batches against per-partition budgets. It is safe for
// concurrent use.
type Governor struct {
	mu      sync.Mutex
	total   float64
	lanes   map[partition.ID]*lane
	ticket  uint64
	closed  bool
	done    chan struct{}
	timeout time.Duration
	log     *slog.Logger
}

type lane struct {
	bucket   *resilience.Limiter
	queue    []*waiter
	admitted int64
	waits    int64
	throttle int64
}

type waiter struct {
	wake chan struct{}
}

func (w *waiter) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Permit is an admitted reservation. Return it with Release.
type Permit struct {
	Partition partition.ID
	// Reserved is the number of RUs taken from the bucket.
	Reserved float64
	// Ticket orders admissions across the whole governor.
	Ticket uint64
	// Waited is the time spent queued.
	Waited time.Duration

	released bool
}

// Stats is a point-in-time view of one partition's budget.
type Stats struct {
	Partition partition.ID
	Capacity  float64
	Available float64
	Debt      float64
	Queued    int
	Admitted  int64
	Waits     int64
	Penalties int64
}

// New splits totalRU across the scheme's partitions.
func New(totalRU float64, scheme partition.Scheme, opts Options) (*Governor, error) {
	if totalRU <= 0 {
		return nil, &domain.FatalConfigurationError{
			Resource: "throughput",
			Err:      fmt.Errorf("provisioned throughput must be positive, got %v", totalRU),
		}
	}
	ids := scheme.IDs()
	if len(ids) == 0 {
		ids = partition.UniformScheme(1).IDs()
	}
	var weightSum float64
	weights := make([]float64, len(ids))
	for i, id := range ids {
		w, ok := opts.Weights[id]
		if !ok || w <= 0 {
			w = 1
		}
		weights[i] = w
		weightSum += w
	}

	g := &Governor{
		total:   totalRU,
		lanes:   make(map[partition.ID]*lane, len(ids)),
		done:    make(chan struct{}),
		timeout: opts.AdmissionTimeout,
		log:     opts.Logger,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	for i, id := range ids {
		share := totalRU * weights[i] / weightSum
		g.lanes[id] = &lane{
			bucket: resilience.NewLimiter(resilience.LimiterOpts{Rate: share, Burst: share}),
		}
	}
	return g, nil
}

// Total is the provisioned budget in RU/s.
func (g *Governor) Total() float64 { return g.total }

// Capacity is the bucket size of a partition, zero if unknown.
func (g *Governor) Capacity(pid partition.ID) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lanes[pid]; ok {
		return l.bucket.Capacity()
	}
	return 0
}

// Admit blocks until the partition can cover estimate, ctx is done, the
// admission timeout passes or the governor is closed. Estimates above the
// partition capacity are clamped to it.
func (g *Governor) Admit(ctx context.Context, pid partition.ID, estimate float64) (*Permit, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, domain.ErrClosed
	}
	l, ok := g.lanes[pid]
	if !ok {
		g.mu.Unlock()
		return nil, &domain.FatalConfigurationError{
			Resource: "partition " + string(pid),
			Err:      fmt.Errorf("unknown partition"),
		}
	}
	if estimate < 0 {
		estimate = 0
	}
	if c := l.bucket.Capacity(); estimate > c {
		estimate = c
	}

	w := &waiter{wake: make(chan struct{}, 1)}
	l.queue = append(l.queue, w)
	start := time.Now()

	var deadline <-chan time.Time
	if g.timeout > 0 {
		t := time.NewTimer(g.timeout)
		defer t.Stop()
		deadline = t.C
	}

	waited := false
	for {
		if g.closed {
			l.leave(w)
			g.mu.Unlock()
			return nil, domain.ErrClosed
		}
		if l.queue[0] == w {
			if l.bucket.AllowN(estimate) {
				l.queue = l.queue[1:]
				if len(l.queue) > 0 {
					l.queue[0].notify()
				}
				g.ticket++
				l.admitted++
				if waited {
					l.waits++
				}
				p := &Permit{Partition: pid, Reserved: estimate, Ticket: g.ticket, Waited: time.Since(start)}
				g.mu.Unlock()
				return p, nil
			}
		}

		var timer *time.Timer
		var tick <-chan time.Time
		if l.queue[0] == w {
			d := l.bucket.Delay(estimate)
			if d < time.Millisecond {
				d = time.Millisecond
			}
			timer = time.NewTimer(d)
			tick = timer.C
		}
		waited = true
		g.mu.Unlock()

		var err error
		select {
		case <-w.wake:
		case <-tick:
		case <-ctx.Done():
			err = ctx.Err()
		case <-deadline:
			err = &domain.ThrottledError{RetryAfter: l.bucket.Delay(estimate)}
		case <-g.done:
			err = domain.ErrClosed
		}
		if timer != nil {
			timer.Stop()
		}

		g.mu.Lock()
		if err != nil {
			l.leave(w)
			g.mu.Unlock()
			g.log.Debug("admission abandoned", "partition", pid, "estimate", estimate, "err", err)
			return nil, err
		}
	}
}

// leave removes w from the queue and wakes the new head. Must hold mu.
func (l *lane) leave(w *waiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			if i == 0 && len(l.queue) > 0 {
				l.queue[0].notify()
			}
			return
		}
	}
}

// Release settles a permit against the actual charge: unused RUs go back
// to the bucket, an overrun becomes debt repaid from future refill. Releasing
// a permit twice is a no-op.
func (g *Governor) Release(p *Permit, actual float64) {
	if p == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	l, ok := g.lanes[p.Partition]
	if !ok {
		return
	}
	switch diff := p.Reserved - actual; {
	case diff > 0:
		l.bucket.Refund(diff)
	case diff < 0:
		l.bucket.Charge(-diff)
	}
	if len(l.queue) > 0 {
		l.queue[0].notify()
	}
}

// Penalize drains a partition after the store throttled it and blocks
// admission there for retryAfter.
func (g *Governor) Penalize(pid partition.ID, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lanes[pid]
	if !ok {
		return
	}
	l.throttle++
	l.bucket.Pause(retryAfter)
	g.log.Debug("partition throttled", "partition", pid, "retry_after", retryAfter)
}

// Stats reports the state of one partition.
func (g *Governor) Stats(pid partition.ID) (Stats, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lanes[pid]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Partition: pid,
		Capacity:  l.bucket.Capacity(),
		Available: l.bucket.Tokens(),
		Debt:      l.bucket.Debt(),
		Queued:    len(l.queue),
		Admitted:  l.admitted,
		Waits:     l.waits,
		Penalties: l.throttle,
	}, true
}

// Close fails every pending and future Admit with ErrClosed.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.done)
}
