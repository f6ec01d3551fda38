package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/OFFIS-RIT/reqtrace/pkg/render"
	"github.com/OFFIS-RIT/reqtrace/pkg/trace"

	"github.com/spf13/cobra"
)

func newTraceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <customer-req-id> <platform-req-id>",
		Short: "Print the downstream trace of a matched pair as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, repo, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			t, err := trace.NewBuilder(repo).Build(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newGraphCmd(g *globals) *cobra.Command {
	var (
		out    string
		format string
	)
	layout := g.cfg.Layout()

	cmd := &cobra.Command{
		Use:   "graph <customer-req-id> <platform-req-id>",
		Short: "Render the trace of a matched pair with Graphviz",
		Long: `Render the trace of a matched pair. Customer and platform nodes are colored
by the stored classification of the pair under the model. With --format dot the
DOT source is written and Graphviz is not needed.

Examples:
  reqtrace graph CR-001 PR-042 --format dot
  reqtrace graph CR-001 PR-042 --format svg --out trace.svg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, repo, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			var modelID int64
			if g.modelID > 0 || cmd.Flags().Changed("model") {
				if modelID, err = g.resolveModel(ctx, repo); err != nil {
					return err
				}
			}

			graph := &render.Graph{Traces: trace.NewBuilder(repo), Matches: repo, Layout: layout}
			data, err := graph.Render(ctx, render.GraphRequest{
				ModelID:       modelID,
				CustomerReqID: args[0],
				PlatformReqID: args[1],
				Format:        f,
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&out, "out", "o", "", "Output file (stdout when empty)")
	fl.StringVar(&format, "format", "svg", "Output format (dot, svg, png, pdf)")
	fl.StringVar(&layout.Binary, "graphviz", layout.Binary, "Graphviz binary (GRAPHVIZ_BIN)")
	fl.DurationVar(&layout.Timeout, "timeout", layout.Timeout, "Layout timeout (GRAPHVIZ_TIMEOUT)")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
