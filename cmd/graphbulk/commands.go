package main

import (
	"context"
	"fmt"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/pkg/graphson"
	"github.com/spf13/cobra"
)

const defaultDemoSize = 20

// input is the element source shared by import, update and demo.
type input struct {
	vertices string
	edges    string
	generate int
}

func (in *input) register(cmd *cobra.Command, generateDefault int) {
	cmd.Flags().StringVar(&in.vertices, "vertices", "", "line-delimited GraphSON vertex file")
	cmd.Flags().StringVar(&in.edges, "edges", "", "line-delimited GraphSON edge file")
	cmd.Flags().IntVar(&in.generate, "generate", generateDefault, "generate N sample vertices and N×N edges instead of reading files")
}

func (in input) load(pkProperty string) ([]domain.Vertex, []domain.Edge, error) {
	if in.vertices == "" && in.edges == "" {
		if in.generate <= 0 {
			return nil, nil, fmt.Errorf("nothing to do: pass --vertices/--edges or --generate")
		}
		vs := generateVertices(vertexIDs(in.generate), pkProperty)
		return vs, generateEdges(vs), nil
	}
	var vs []domain.Vertex
	var es []domain.Edge
	var err error
	if in.vertices != "" {
		if vs, err = graphson.ReadVerticesFile(in.vertices, domain.PartitionKeySchema{Property: pkProperty}); err != nil {
			return nil, nil, err
		}
	}
	if in.edges != "" {
		if es, err = graphson.ReadEdgesFile(in.edges); err != nil {
			return nil, nil, err
		}
	}
	return vs, es, nil
}

func newImportCmd() *cobra.Command {
	var (
		in          input
		upsert      bool
		noGenerated bool
		dop         int
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import vertices, then edges",
		RunE: run(func(ctx context.Context, a *app, _ *cobra.Command) error {
			vs, es, err := in.load(a.cfg.PartitionKey)
			if err != nil {
				return err
			}
			opts := bulk.ImportOptions{EnableUpsert: upsert, DisableAutomaticIDGeneration: noGenerated, Parallelism: dop}
			return importAll(ctx, a, vs, es, opts)
		}),
	}
	in.register(cmd, 0)
	cmd.Flags().BoolVar(&upsert, "upsert", true, "replace existing elements instead of failing on conflict")
	cmd.Flags().BoolVar(&noGenerated, "no-generate-ids", false, "reject elements without an id instead of assigning one")
	cmd.Flags().IntVar(&dop, "dop", 0, "batches in flight (0 uses --parallelism)")
	return cmd
}

func importAll(ctx context.Context, a *app, vs []domain.Vertex, es []domain.Edge, opts bulk.ImportOptions) error {
	vr, err := a.exec.ImportAll(ctx, elements(vs), opts)
	if err != nil {
		return err
	}
	printSummary(a.out, fmt.Sprintf("ingestion of %d vertices", len(vs)), vr.Response)
	er, err := a.exec.ImportAll(ctx, elements(es), opts)
	if err != nil {
		return err
	}
	printSummary(a.out, fmt.Sprintf("ingestion of %d edges", len(es)), er.Response)
	return a.printCounts(ctx)
}

func newUpdateCmd() *cobra.Command {
	var (
		in    input
		props []string
		dop   int
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Set properties on existing edges",
		RunE: run(func(ctx context.Context, a *app, _ *cobra.Command) error {
			set, err := parseProperties(props)
			if err != nil {
				return err
			}
			_, es, err := in.load(a.cfg.PartitionKey)
			if err != nil {
				return err
			}
			return updateEdges(ctx, a, es, set, dop)
		}),
	}
	in.register(cmd, 0)
	cmd.Flags().StringArrayVar(&props, "property", []string{"weight=1.0"}, "name=value to set, repeatable")
	cmd.Flags().IntVar(&dop, "dop", 0, "batches in flight (0 uses --parallelism)")
	return cmd
}

func updateEdges(ctx context.Context, a *app, es []domain.Edge, set map[string]any, dop int) error {
	r, err := a.exec.UpdateAll(ctx, partialEdges(es, set), dop)
	if err != nil {
		return err
	}
	printSummary(a.out, "update", r.Response)
	return nil
}

func newDeleteAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every vertex and edge of the collection",
		RunE: run(func(ctx context.Context, a *app, _ *cobra.Command) error {
			r, err := a.exec.DeleteAll(ctx)
			if err != nil {
				return err
			}
			printSummary(a.out, "delete all", r.Response)
			return nil
		}),
	}
}

func newDeleteEdgesCmd() *cobra.Command {
	var (
		f         bulk.EdgeFilter
		direction string
	)
	cmd := &cobra.Command{
		Use:   "delete-edges",
		Short: "Delete the edges matching a label and endpoint filter",
		RunE: run(func(ctx context.Context, a *app, _ *cobra.Command) error {
			d, ok := bulk.ParseDirection(direction)
			if !ok {
				return fmt.Errorf("unknown direction %q (want out, in or both)", direction)
			}
			f.Direction = d
			return deleteEdges(ctx, a, f)
		}),
	}
	cmd.Flags().StringVar(&f.Label, "label", "", "edge label")
	cmd.Flags().StringVar(&direction, "direction", "both", "direction relative to --source: out, in or both")
	cmd.Flags().StringVar(&f.SourceVertexID, "source", "", "anchor vertex id")
	cmd.Flags().StringVar(&f.TargetVertexID, "target", "", "vertex id at the other end")
	cmd.Flags().StringVar(&f.OutPartitionKey, "out-pk", "", "out vertex partition key")
	cmd.Flags().StringVar(&f.InPartitionKey, "in-pk", "", "in vertex partition key")
	return cmd
}

func deleteEdges(ctx context.Context, a *app, f bulk.EdgeFilter) error {
	r, err := a.exec.DeleteEdges(ctx, f)
	if err != nil {
		return err
	}
	printSummary(a.out, fmt.Sprintf("edges delete on vertex %q, label %q", f.SourceVertexID, f.Label), r.Response)
	return nil
}

func newDemoCmd() *cobra.Command {
	var in input
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the sample flow: delete all, pre-load, import, delete edges, update",
		RunE: run(func(ctx context.Context, a *app, _ *cobra.Command) error {
			return demo(ctx, a, in)
		}),
	}
	in.register(cmd, defaultDemoSize)
	return cmd
}

func demo(ctx context.Context, a *app, in input) error {
	del, err := a.exec.DeleteAll(ctx)
	if err != nil {
		return err
	}
	printSummary(a.out, "delete all", del.Response)

	n := in.generate
	if n <= 0 {
		n = defaultDemoSize
	}
	ids := vertexIDs(n)
	upsert := bulk.ImportOptions{EnableUpsert: true, Parallelism: defaultDemoSize}
	pre, err := a.exec.ImportAll(ctx, elements(generateVertices(ids, a.cfg.PartitionKey)), upsert)
	if err != nil {
		return err
	}
	printSummary(a.out, "data pre-load", pre.Response)

	vs, es, err := in.load(a.cfg.PartitionKey)
	if err != nil {
		return err
	}
	if err := importAll(ctx, a, vs, es, upsert); err != nil {
		return err
	}

	source := ids[0]
	if len(vs) > 0 {
		source = vs[0].VertexID
	}
	if err := deleteEdges(ctx, a, bulk.EdgeFilter{Direction: bulk.Both, Label: substituteLabel, SourceVertexID: source}); err != nil {
		return err
	}

	if err := updateEdges(ctx, a, es, map[string]any{"weight": 1.0}, defaultDemoSize); err != nil {
		return err
	}
	return a.printCounts(ctx)
}
