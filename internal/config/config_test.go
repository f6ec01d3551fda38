package config

import (
	"testing"
	"time"

	oai "github.com/OFFIS-RIT/reqtrace/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/reqtrace/pkg/ai/openai"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"AI_ADAPTER", "AI_EMBED_MODEL", "AI_EMBED_DIM", "MATCH_TOP_K", "MATCH_FULL_THRESHOLD", "MATCH_PARTIAL_THRESHOLD", "MATCH_INTERVAL", "PORT"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Provider.Adapter != AdapterOllama || cfg.Provider.Model != DefaultEmbedModel {
		t.Fatalf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Match != match.DefaultParams() {
		t.Fatalf("expected default match params, got %+v", cfg.Match)
	}
	if cfg.MatchInterval != DefaultMatchInterval || cfg.Port != "8080" {
		t.Fatalf("unexpected interval/port %v %q", cfg.MatchInterval, cfg.Port)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AI_ADAPTER", "OpenAI")
	t.Setenv("AI_EMBED_DIM", "1536")
	t.Setenv("MATCH_TOP_K", "3")
	t.Setenv("MATCH_FULL_THRESHOLD", "0.9")
	t.Setenv("MATCH_PARTIAL_THRESHOLD", "0.7")
	t.Setenv("MATCH_INTERVAL", "30s")
	t.Setenv("GRAPHVIZ_TIMEOUT", "5")

	cfg := FromEnv()
	if cfg.Provider.Adapter != AdapterOpenAI || cfg.Provider.Dims != 1536 {
		t.Fatalf("unexpected provider %+v", cfg.Provider)
	}
	want := match.Params{TopK: 3, Thresholds: coverage.Thresholds{Full: 0.9, Partial: 0.7}}
	if cfg.Match != want {
		t.Fatalf("expected %+v, got %+v", want, cfg.Match)
	}
	if cfg.MatchInterval != 30*time.Second || cfg.Layout().Timeout != 5*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.MatchInterval, cfg.Layout().Timeout)
	}
}

func TestProviderNewClient(t *testing.T) {
	c, err := Provider{Adapter: AdapterOllama, Model: "m", URL: "http://localhost:11434"}.NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*oai.EmbeddingClient); !ok || c.Model() != "m" {
		t.Fatalf("expected ollama client, got %T", c)
	}

	c, err = Provider{Adapter: AdapterOpenAI, Model: "text-embedding-3-small", Key: "k"}.NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*gai.EmbeddingClient); !ok || c.Provider() != "openai" {
		t.Fatalf("expected openai client, got %T", c)
	}

	if _, err := (Provider{Adapter: "bedrock"}).NewClient(); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}
