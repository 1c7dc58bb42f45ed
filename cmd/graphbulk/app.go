package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/pkg/metrics"
	"github.com/WessleyAI/graphbulk/pkg/mid"
	"github.com/WessleyAI/graphbulk/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// app is what a subcommand runs against: a configured executor over an
// opened store, plus the process-level plumbing around it.
type app struct {
	cfg   config
	log   *slog.Logger
	out   io.Writer
	store *backend
	exec  *bulk.Executor
	reg   *metrics.Registry

	cleanup []func()
}

// newApp resolves the configuration of cmd and wires everything up. The
// caller must call close.
func newApp(ctx context.Context, cmd *cobra.Command) (a *app, err error) {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, log: log, out: cmd.OutOrStdout(), reg: metrics.New()}
	a.cleanup = append(a.cleanup, func() { logCloser.Close() })
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	opts := []bulk.Option{bulk.WithLogger(log), bulk.WithMetrics(a.reg)}

	if cfg.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.cleanup = append(a.cleanup, cancel)
		srv := a.reg.Server(cfg.MetricsAddr,
			mid.Recover(log), mid.Logger(log), mid.Count(a.reg), mid.ReadOnly(), mid.OTel("graphbulk-metrics"))
		metrics.ServeAsync(mctx, srv, log)
		go metrics.CollectRuntime(mctx, a.reg, 15*time.Second)
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("graphbulk"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { nc.Drain() })
		topic := natsutil.NewTopic[bulk.Progress](nc, cfg.NATSSubject, log)
		opts = append(opts, bulk.WithProgress(topic.Emit))
		log.Info("publishing progress", "subject", topic.Subject())
	}

	a.store, err = openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store := a.store
	a.cleanup = append(a.cleanup, func() {
		if err := store.close(context.Background()); err != nil {
			log.Warn("store close failed", "err", err)
		}
	})

	a.exec, err = bulk.New(ctx, a.store, cfg.bulkConfig(), opts...)
	if err != nil {
		return nil, err
	}
	exec := a.exec
	a.cleanup = append(a.cleanup, func() { exec.Close() })
	log.Info("executor ready",
		"store", cfg.Store, "collection", cfg.Collection,
		"throughput", a.exec.Throughput(), "partitions", a.exec.Partitions().Len())
	return a, nil
}

// close releases everything newApp acquired, newest first.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// printCounts reports what the store holds, if it can.
func (a *app) printCounts(ctx context.Context) error {
	if a.store.counts == nil {
		return nil
	}
	vs, es, err := a.store.counts(ctx)
	if err != nil {
		return fmt.Errorf("count elements: %w", err)
	}
	printCounts(a.out, vs, es)
	return nil
}
