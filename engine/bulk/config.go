package bulk

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/engine/planner"
	"github.com/WessleyAI/graphbulk/pkg/fn"
	"github.com/WessleyAI/graphbulk/pkg/metrics"
)

// DefaultParallelism bounds in-flight batches when neither the config nor
// the call sets it.
const DefaultParallelism = 10

// DefaultRequestTimeout bounds one store call.
const DefaultRequestTimeout = time.Minute

// DefaultRetry is the batch retry policy. Retryable and Hint are always
// supplied by the executor.
var DefaultRetry = fn.RetryOpts{
	MaxAttempts: 6,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Config describes the collection an Executor writes to.
type Config struct {
	// Collection identifies the target collection (graph).
	Collection string
	// PartitionKey names the partition key property in stored documents.
	PartitionKey domain.PartitionKeySchema
	// Partitions is the physical layout. A zero Scheme asks the store via
	// PartitionLister, falling back to a single partition.
	Partitions partition.Scheme
	// Throughput is the provisioned RU/s budget. Zero reads it once from
	// the store.
	Throughput int
	// Parallelism is the default number of concurrently dispatched batches.
	Parallelism int
	Limits      planner.Limits
	Retry       fn.RetryOpts
	// AdmissionTimeout bounds one wait for budget; a timeout counts as a
	// throttle and is retried.
	AdmissionTimeout time.Duration
	// RequestTimeout bounds a single store call. Store calls are not
	// cancelled by Close, only by this timeout.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PartitionKey.Property == "" {
		c.PartitionKey = domain.DefaultPartitionKeySchema
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	c.Limits = c.Limits.WithDefaults()
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetry
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// ImportOptions controls ImportAll.
type ImportOptions struct {
	EnableUpsert                 bool
	DisableAutomaticIDGeneration bool
	// Parallelism overrides Config.Parallelism when positive.
	Parallelism int
}

// Progress is emitted after every settled batch.
type Progress struct {
	Operation     Operation    `json:"operation"`
	Batch         int          `json:"batch"`
	Partition     partition.ID `json:"partition"`
	Items         int          `json:"items"`
	Failed        int          `json:"failed"`
	RequestCharge float64      `json:"request_charge"`
	Completed     int          `json:"completed"`
	Total         int          `json:"total"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithMetrics records executor metrics into reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Executor) { e.reg = reg }
}

// WithProgress delivers a Progress after each batch. sink is called from
// dispatch goroutines and must be safe for concurrent use.
func WithProgress(sink func(context.Context, Progress)) Option {
	return func(e *Executor) { e.progress = sink }
}

// WithClock replaces time.Now for elapsed-time accounting.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}
