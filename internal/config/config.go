// Package config reads the environment shared by the server, the worker and
// the CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/database"
	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/ai"
	oai "github.com/OFFIS-RIT/reqtrace/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/reqtrace/pkg/ai/openai"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"
)

const (
	AdapterOllama = "ollama"
	AdapterOpenAI = "openai"

	DefaultEmbedModel    = "nomic-embed-text"
	DefaultEmbedDims     = 768
	DefaultMatchInterval = 5 * time.Minute
)

// Provider selects and configures the embedding backend.
type Provider struct {
	Adapter    string
	Model      string
	Dims       int
	URL        string
	Key        string
	Parallel   int64
	TimeoutMin int
}

type Config struct {
	Debug          bool
	Port           string
	APIKey         string
	DatabaseURL    string
	MigrateOnStart bool
	MigrationsPath string

	Provider Provider

	EmbedMaxChars  int
	EmbedBatchSize int

	Match         match.Params
	MatchInterval time.Duration

	GraphvizBin     string
	GraphvizTimeout time.Duration
}

func FromEnv() Config {
	return Config{
		Debug:          util.GetEnvBool("DEBUG", false),
		Port:           util.GetEnvString("PORT", "8080"),
		APIKey:         util.GetEnv("API_KEY"),
		DatabaseURL:    util.GetEnv("DATABASE_URL"),
		MigrateOnStart: util.GetEnvBool("MIGRATE_ON_START", false),
		MigrationsPath: util.GetEnvString("MIGRATIONS_PATH", database.DefaultMigrationsPath),

		Provider: Provider{
			Adapter:    strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOllama)),
			Model:      util.GetEnvString("AI_EMBED_MODEL", DefaultEmbedModel),
			Dims:       int(util.GetEnvNumeric("AI_EMBED_DIM", DefaultEmbedDims)),
			URL:        util.GetEnv("AI_EMBED_URL"),
			Key:        util.GetEnv("AI_EMBED_KEY"),
			Parallel:   int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
			TimeoutMin: int(util.GetEnvNumeric("AI_TIMEOUT_MIN", 10)),
		},

		EmbedMaxChars:  int(util.GetEnvNumeric("EMBED_MAX_CHARS", embed.DefaultMaxChars)),
		EmbedBatchSize: int(util.GetEnvNumeric("EMBED_BATCH_SIZE", embed.DefaultBatchSize)),

		Match: match.Params{
			TopK: int(util.GetEnvNumeric("MATCH_TOP_K", match.DefaultTopK)),
			Thresholds: coverage.Thresholds{
				Full:    util.GetEnvFloat("MATCH_FULL_THRESHOLD", coverage.DefaultFullThreshold),
				Partial: util.GetEnvFloat("MATCH_PARTIAL_THRESHOLD", coverage.DefaultPartialThreshold),
			},
		},
		MatchInterval: util.GetEnvDuration("MATCH_INTERVAL", DefaultMatchInterval),

		GraphvizBin:     util.GetEnvString("GRAPHVIZ_BIN", render.DefaultBinary),
		GraphvizTimeout: util.GetEnvDuration("GRAPHVIZ_TIMEOUT", render.DefaultTimeout),
	}
}

func (c Config) Layout() render.Layout {
	return render.Layout{Binary: c.GraphvizBin, Timeout: c.GraphvizTimeout}
}

func (c Config) EmbedOptions() embed.Options {
	return embed.Options{
		MaxChars:    c.EmbedMaxChars,
		BatchSize:   c.EmbedBatchSize,
		Concurrency: int(max(c.Provider.Parallel, 1)),
	}
}

// NewClient creates the embedding client of the configured adapter.
func (p Provider) NewClient() (ai.EmbeddingClient, error) {
	switch p.Adapter {
	case AdapterOllama, "":
		client, err := oai.NewEmbeddingClient(oai.NewEmbeddingClientParams{
			EmbeddingModel:        p.Model,
			BaseURL:               p.URL,
			ApiKey:                p.Key,
			MaxConcurrentRequests: p.Parallel,
			TimeoutMin:            p.TimeoutMin,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case AdapterOpenAI:
		return gai.NewEmbeddingClient(gai.NewEmbeddingClientParams{
			EmbeddingModel:        p.Model,
			Dimensions:            p.Dims,
			BaseURL:               p.URL,
			ApiKey:                p.Key,
			MaxConcurrentRequests: p.Parallel,
			TimeoutMin:            p.TimeoutMin,
		}), nil
	}
	return nil, fmt.Errorf("unknown AI_ADAPTER %q", p.Adapter)
}
