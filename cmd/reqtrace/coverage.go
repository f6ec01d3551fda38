package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"

	"github.com/spf13/cobra"
)

func newCoverageCmd(g *globals) *cobra.Command {
	t := g.cfg.Match.Thresholds
	var format string

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report rank-1 coverage of the model",
		Long: `Report how well customer requirements are covered by their best platform
match. Passing --full-th or --partial-th recomputes the classifications from the
stored similarities instead of using the stored ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			whatIf := cmd.Flags().Changed("full-th") || cmd.Flags().Changed("partial-th")
			if whatIf {
				if err := t.Validate(); err != nil {
					return err
				}
			}
			ctx := cmd.Context()

			pool, repo, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			modelID, err := g.resolveModel(ctx, repo)
			if err != nil {
				return err
			}
			rows, err := repo.ListCoverageRows(ctx, modelID)
			if err != nil {
				return err
			}
			if whatIf {
				rows = coverage.Reclassify(rows, t)
			}
			summary := coverage.Summarize(rows)

			if format == "table" {
				return writeCoverageTable(cmd.OutOrStdout(), summary)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&t.Full, "full-th", t.Full, "What-if lower similarity bound for GREEN")
	f.Float64Var(&t.Partial, "partial-th", t.Partial, "What-if lower similarity bound for YELLOW")
	f.StringVar(&format, "format", "json", "Output format (json, table)")
	return cmd
}

func writeCoverageTable(w io.Writer, s coverage.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CUSTOMER\tPLATFORM\tSIMILARITY\tCOVERAGE")
	for _, r := range s.Details {
		sim := "-"
		if r.Similarity != nil {
			sim = fmt.Sprintf("%.4f", *r.Similarity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CustomerReqID, r.PlatformReqID, sim, r.Classification)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "TOTAL\t%d\t\t\n", s.Total)
	fmt.Fprintf(tw, "GREEN\t%d\t%.1f%%\t\n", s.Green, s.PctGreen)
	fmt.Fprintf(tw, "YELLOW\t%d\t%.1f%%\t\n", s.Yellow, s.PctPartial)
	fmt.Fprintf(tw, "RED\t%d\t%.1f%%\t\n", s.Red, s.PctRed)
	return tw.Flush()
}
