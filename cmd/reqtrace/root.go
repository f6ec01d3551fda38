package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/internal/config"
	"github.com/OFFIS-RIT/reqtrace/internal/database"
	pgs "github.com/OFFIS-RIT/reqtrace/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// globals holds the flags shared by all subcommands.
type globals struct {
	cfg         config.Config
	debug       bool
	databaseURL string

	modelID  int64
	model    string
	dims     int
	provider string
}

func newRootCmd() *cobra.Command {
	g := &globals{cfg: config.FromEnv()}

	root := &cobra.Command{
		Use:   "reqtrace",
		Short: "Requirements traceability: embed, match, coverage and trace graphs",
		Long: `reqtrace links customer requirements to platform requirements by
embedding similarity and follows platform requirements down to system,
architecture, code and test artifacts.

Examples:
  reqtrace embed --scope customer
  reqtrace match --topk 5 --full-th 0.85 --partial-th 0.65
  reqtrace coverage --format table
  reqtrace trace CR-001 PR-042
  reqtrace graph CR-001 PR-042 --format svg --out trace.svg`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(g.debug)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&g.databaseURL, "database-url", g.cfg.DatabaseURL, "PostgreSQL connection url (DATABASE_URL)")
	flags.Int64Var(&g.modelID, "model-id", 0, "Embedding model id; overrides --model/--dims/--provider")
	flags.StringVar(&g.model, "model", g.cfg.Provider.Model, "Embedding model name (AI_EMBED_MODEL)")
	flags.IntVar(&g.dims, "dims", g.cfg.Provider.Dims, "Embedding dimensions (AI_EMBED_DIM)")
	flags.StringVar(&g.provider, "provider", g.cfg.Provider.Adapter, "Embedding provider: ollama or openai (AI_ADAPTER)")

	root.AddCommand(
		newEmbedCmd(g),
		newMatchCmd(g),
		newCoverageCmd(g),
		newTraceCmd(g),
		newGraphCmd(g),
		newMigrateCmd(g),
	)
	return root
}

func (g *globals) connect(ctx context.Context) (*pgxpool.Pool, *pgs.GraphDBStorage, error) {
	pool, err := database.Connect(ctx, g.databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, pgs.NewGraphDBStorageWithConnection(pool), nil
}

// resolveModel returns --model-id when given and otherwise registers or
// looks up the (model, dims, provider) triple.
func (g *globals) resolveModel(ctx context.Context, repo *pgs.GraphDBStorage) (int64, error) {
	if g.modelID > 0 {
		m, err := repo.GetModel(ctx, g.modelID)
		if err != nil {
			return 0, err
		}
		if m == nil {
			return 0, fmt.Errorf("model %d not found", g.modelID)
		}
		return m.ID, nil
	}
	if g.model == "" || g.dims <= 0 {
		return 0, errors.New("--model and --dims are required without --model-id")
	}
	return repo.EnsureModel(ctx, g.model, g.dims, g.provider)
}

func newMigrateCmd(g *globals) *cobra.Command {
	path := g.cfg.MigrationsPath
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Migrate(g.databaseURL, path)
		},
	}
	cmd.Flags().StringVar(&path, "path", path, "Migrations directory (MIGRATIONS_PATH)")
	return cmd
}
