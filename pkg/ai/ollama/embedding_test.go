package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *EmbeddingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewEmbeddingClient(NewEmbeddingClientParams{
		EmbeddingModel:        "nomic-embed-text",
		BaseURL:               srv.URL,
		MaxConcurrentRequests: 2,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestGenerateEmbedding(t *testing.T) {
	var gotModel string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.5,0.25,0.125]],"prompt_eval_count":4}`))
	})

	vec, err := c.GenerateEmbedding(context.Background(), []byte("brake pressure"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "nomic-embed-text" {
		t.Fatalf("expected model nomic-embed-text, got %q", gotModel)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[2] != 0.125 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if m := c.GetMetrics(); m.InputTokens != 4 || m.Requests != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestGenerateEmbeddings_SizeMismatch(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[1,0]]}`))
	})

	_, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("a"), []byte("b")})
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestGenerateEmbedding_EmptyInput(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	if _, err := c.GenerateEmbedding(context.Background(), []byte("   ")); err == nil {
		t.Fatal("expected error for empty input")
	}
}
