package main

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/internal/timing"
	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	"github.com/spf13/cobra"
)

func newEmbedCmd(g *globals) *cobra.Command {
	opts := g.cfg.EmbedOptions()
	var scope string

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed node content with the configured provider",
		Long: `Embed normalized node content and store L2 normalized vectors under the
model id. Nodes whose content hash did not change are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope != "" {
				s, ok := common.ParseScope(scope)
				if !ok {
					return fmt.Errorf("unknown scope %q", scope)
				}
				opts.Scope = s
			}
			stats, err := runEmbed(cmd.Context(), g, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	f := cmd.Flags()
	f.StringVar(&scope, "scope", "", "Only embed nodes of this scope")
	f.IntVar(&opts.Limit, "limit", 0, "Maximum number of nodes (0 for all)")
	f.BoolVar(&opts.OnlyMissing, "only-missing", false, "Skip nodes that already have an embedding")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Report what would be embedded without calling the provider")
	f.IntVar(&opts.BatchSize, "batch", opts.BatchSize, "Inputs per provider request (EMBED_BATCH_SIZE)")
	f.IntVar(&opts.MaxChars, "max-chars", opts.MaxChars, "Truncate content to this many characters (EMBED_MAX_CHARS)")
	return cmd
}

func runEmbed(ctx context.Context, g *globals, opts embed.Options) (embed.Stats, error) {
	pool, repo, err := g.connect(ctx)
	if err != nil {
		return embed.Stats{}, err
	}
	defer pool.Close()

	provider := g.cfg.Provider
	provider.Adapter = g.provider
	provider.Model = g.model
	provider.Dims = g.dims
	client, err := provider.NewClient()
	if err != nil {
		return embed.Stats{}, err
	}

	modelID, err := g.resolveModel(ctx, repo)
	if err != nil {
		return embed.Stats{}, err
	}

	stats, err := embed.NewPipeline(client, repo, g.dims).Run(ctx, modelID, opts)
	if err != nil {
		return stats, err
	}
	if !opts.DryRun {
		if err := timing.RecordEmbedRun(ctx, repo, modelID, stats); err != nil {
			logger.Warn("[Embed] Failed to record run", "err", err)
		}
	}
	return stats, nil
}
