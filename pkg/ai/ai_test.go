package ai

import (
	"sync"
	"testing"
)

func TestMetricsRecorder_Add(t *testing.T) {
	var r MetricsRecorder
	r.Add(ModelMetrics{InputTokens: 10, TotalTokens: 10, DurationMs: 500})
	r.Add(ModelMetrics{InputTokens: 30, TotalTokens: 30, DurationMs: 500, Requests: 2})

	got := r.GetMetrics()
	if got.InputTokens != 40 || got.TotalTokens != 40 {
		t.Fatalf("unexpected token totals: %+v", got)
	}
	if got.Requests != 3 {
		t.Fatalf("expected 3 requests, got %d", got.Requests)
	}
	if got.TokenPerSecond != 40 {
		t.Fatalf("expected 40 tokens/s, got %v", got.TokenPerSecond)
	}

	r.ResetMetrics()
	if got := r.GetMetrics(); got != (ModelMetrics{}) {
		t.Fatalf("expected zero metrics after reset, got %+v", got)
	}
}

func TestMetricsRecorder_Concurrent(t *testing.T) {
	var r MetricsRecorder
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(ModelMetrics{TotalTokens: 1, DurationMs: 1})
		}()
	}
	wg.Wait()

	if got := r.GetMetrics().TotalTokens; got != 50 {
		t.Fatalf("expected 50 tokens, got %d", got)
	}
}
