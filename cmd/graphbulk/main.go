// Command graphbulk drives the bulk executor against a Neo4j, Badger or
// in-memory graph store: import, update and delete vertices and edges in
// bulk within a provisioned throughput budget.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if domain.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graphbulk",
		Short: "Bulk import, update and delete graph elements",
		Long: `graphbulk loads vertices and edges into a graph store in parallel,
per-partition batches, pacing requests to the collection's provisioned
throughput.

Flags may also be set in a YAML config file (--config) or through
GRAPHBULK_* environment variables, e.g. GRAPHBULK_NEO4J_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		newImportCmd(),
		newUpdateCmd(),
		newDeleteAllCmd(),
		newDeleteEdgesCmd(),
		newDemoCmd(),
	)
	return root
}

// run wraps a subcommand body with app setup and teardown.
func run(body func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.close()

		err = body(ctx, a, cmd)
		if errors.Is(err, context.Canceled) {
			a.log.Warn("interrupted")
		}
		return err
	}
}
