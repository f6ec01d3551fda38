package main

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/timing"
	"github.com/OFFIS-RIT/reqtrace/pkg/leaselock"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"

	"github.com/spf13/cobra"
)

func newMatchCmd(g *globals) *cobra.Command {
	params := g.cfg.Match
	var (
		noClear bool
		loop    bool
		sleep   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank platform requirements for every customer requirement",
		Long: `Compute the top-K platform matches of every customer requirement and
replace the stored matches of the model.

Examples:
  reqtrace match
  reqtrace match --topk 3 --full-th 0.9 --partial-th 0.7
  reqtrace match --dry-run
  reqtrace match --loop --sleep 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.KeepExisting = noClear
			return runMatch(cmd, g, params, loop, sleep)
		},
	}

	f := cmd.Flags()
	f.IntVar(&params.TopK, "topk", params.TopK, "Matches kept per customer requirement (MATCH_TOP_K)")
	f.Float64Var(&params.Thresholds.Full, "full-th", params.Thresholds.Full, "Lower similarity bound for GREEN (MATCH_FULL_THRESHOLD)")
	f.Float64Var(&params.Thresholds.Partial, "partial-th", params.Thresholds.Partial, "Lower similarity bound for YELLOW (MATCH_PARTIAL_THRESHOLD)")
	f.BoolVar(&noClear, "no-clear", false, "Append to the stored matches instead of replacing them")
	f.BoolVar(&params.DryRun, "dry-run", false, "Compute and print matches without writing")
	f.BoolVar(&loop, "loop", false, "Repeat the run until interrupted")
	f.DurationVar(&sleep, "sleep", g.cfg.MatchInterval, "Pause between runs with --loop (MATCH_INTERVAL)")
	return cmd
}

func runMatch(cmd *cobra.Command, g *globals, params match.Params, loop bool, sleep time.Duration) error {
	if err := params.Validate(); err != nil {
		return err
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

	matcher := match.NewMatcher(
		repo,
		match.WithLocker(leaselock.New(pool), leaselock.DefaultOptions()),
		match.WithRecorder(timing.NewMatchRecorder(repo)),
	)

	for {
		summary, err := matcher.Run(ctx, modelID, params)
		if err != nil {
			if !loop {
				return err
			}
			logger.Error("[Match] Run failed", "model_id", modelID, "err", err)
		} else {
			if !params.DryRun {
				summary.Results = nil
			}
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
		}

		if !loop {
			return nil
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
