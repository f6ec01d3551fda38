package match

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/leaselock"
)

type fakeRepo struct {
	embeddings map[common.Scope][]common.Embedding
	listErr    error
	failOn     map[string]bool
	stored     map[int64][]Result
	replaces   int
}

func newFakeRepo(customers, platforms []common.Embedding) *fakeRepo {
	return &fakeRepo{
		embeddings: map[common.Scope][]common.Embedding{
			common.ScopeCustomer: customers,
			common.ScopePlatform: platforms,
		},
		failOn: map[string]bool{},
		stored: map[int64][]Result{},
	}
}

func (f *fakeRepo) ListEmbeddingsByScope(ctx context.Context, modelID int64, scope common.Scope) ([]common.Embedding, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.embeddings[scope], nil
}

func (f *fakeRepo) insert(modelID int64, results []Result) (int, int) {
	inserted, failed := 0, 0
	for _, r := range results {
		if f.failOn[r.PlatformID] {
			failed++
			continue
		}
		f.stored[modelID] = append(f.stored[modelID], r)
		inserted++
	}
	return inserted, failed
}

func (f *fakeRepo) ReplaceMatches(ctx context.Context, modelID int64, results []Result) (int, int, error) {
	f.replaces++
	f.stored[modelID] = nil
	inserted, failed := f.insert(modelID, results)
	return inserted, failed, nil
}

func (f *fakeRepo) InsertMatches(ctx context.Context, modelID int64, results []Result) (int, int, error) {
	inserted, failed := f.insert(modelID, results)
	return inserted, failed, nil
}

type fakeLocker struct {
	keys []string
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

type fakeRecorder struct {
	runs []RunSummary
}

func (r *fakeRecorder) RecordRun(ctx context.Context, s RunSummary) error {
	r.runs = append(r.runs, s)
	return nil
}

func emb(id string, vec ...float32) common.Embedding {
	return common.Embedding{NodeID: id, ReqID: "REQ-" + id, Vector: vec}
}

func TestSimilarity_SelfIsOne(t *testing.T) {
	v := []float32{0.6, 0.8}
	if got := Similarity(v, v); math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("expected 1.0, got %v", got)
	}

	third := float32(1 / math.Sqrt(3))
	w := []float32{third, third, third}
	if got := Similarity(w, w); math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("expected 1.0, got %v", got)
	}
}

func TestSimilarity_LengthMismatchIsZero(t *testing.T) {
	if got := Similarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRank_Scenario(t *testing.T) {
	customers := []common.Embedding{emb("C1", 1, 0)}
	platforms := []common.Embedding{emb("P1", 1, 0), emb("P2", 0, 1)}

	got := Rank(customers, platforms, 2, coverage.DefaultThresholds())
	want := []Result{
		{CustomerID: "C1", CustomerReqID: "REQ-C1", PlatformID: "P1", PlatformReqID: "REQ-P1", Similarity: 1.0, Rank: 1, Classification: coverage.Green},
		{CustomerID: "C1", CustomerReqID: "REQ-C1", PlatformID: "P2", PlatformReqID: "REQ-P2", Similarity: 0.0, Rank: 2, Classification: coverage.Red},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected results:\n got %+v\nwant %+v", got, want)
	}
}

func TestRank_TopKBounded(t *testing.T) {
	customers := []common.Embedding{emb("C1", 1, 0), emb("C2", 0, 1)}
	platforms := []common.Embedding{emb("P1", 1, 0), emb("P2", 0, 1), emb("P3", 0.6, 0.8)}

	tests := []struct {
		name    string
		topK    int
		perCust int
	}{
		{name: "k_below_platforms", topK: 2, perCust: 2},
		{name: "k_equals_platforms", topK: 3, perCust: 3},
		{name: "k_above_platforms", topK: 10, perCust: 3},
		{name: "k_zero", topK: 0, perCust: 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Rank(customers, platforms, tc.topK, coverage.DefaultThresholds())
			if len(got) != tc.perCust*len(customers) {
				t.Fatalf("expected %d results, got %d", tc.perCust*len(customers), len(got))
			}
			for _, r := range got {
				if r.Rank < 1 || r.Rank > tc.perCust {
					t.Fatalf("rank %d out of range", r.Rank)
				}
			}
		})
	}
}

func TestRank_DescendingWithStableTies(t *testing.T) {
	customers := []common.Embedding{emb("C1", 1, 0)}
	platforms := []common.Embedding{
		emb("P1", 0, 1),
		emb("P2", 0.6, 0.8),
		emb("P3", 0.6, 0.8),
		emb("P4", 1, 0),
	}

	got := Rank(customers, platforms, 4, coverage.DefaultThresholds())
	order := make([]string, len(got))
	for i, r := range got {
		order[i] = r.PlatformID
	}
	want := []string{"P4", "P2", "P3", "P1"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	if got[1].Classification != coverage.Red {
		t.Fatalf("0.6 similarity should be RED, got %s", got[1].Classification)
	}
}

func TestRank_EmptyInputs(t *testing.T) {
	if got := Rank(nil, []common.Embedding{emb("P1", 1)}, 5, coverage.DefaultThresholds()); got != nil {
		t.Fatalf("expected nil for no customers, got %v", got)
	}
	if got := Rank([]common.Embedding{emb("C1", 1)}, nil, 5, coverage.DefaultThresholds()); got != nil {
		t.Fatalf("expected nil for no platforms, got %v", got)
	}
}

func TestMatcherRun_ReplacesMatches(t *testing.T) {
	repo := newFakeRepo(
		[]common.Embedding{emb("C1", 1, 0)},
		[]common.Embedding{emb("P1", 1, 0), emb("P2", 0, 1)},
	)
	locker := &fakeLocker{}
	recorder := &fakeRecorder{}
	m := NewMatcher(repo, WithLocker(locker, leaselock.DefaultOptions()), WithRecorder(recorder))

	params := DefaultParams()
	params.TopK = 2
	summary, err := m.Run(context.Background(), 7, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Matched != 2 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}
	if len(repo.stored[7]) != 2 {
		t.Fatalf("expected 2 stored matches, got %d", len(repo.stored[7]))
	}
	if !reflect.DeepEqual(locker.keys, []string{"match_run:7"}) {
		t.Fatalf("expected lease on match_run:7, got %v", locker.keys)
	}
	if len(recorder.runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(recorder.runs))
	}
}

func TestMatcherRun_IdempotentContent(t *testing.T) {
	repo := newFakeRepo(
		[]common.Embedding{emb("C1", 1, 0), emb("C2", 0.6, 0.8)},
		[]common.Embedding{emb("P1", 1, 0), emb("P2", 0, 1)},
	)
	m := NewMatcher(repo)

	type key struct {
		customer, platform string
		rank               int
		class              coverage.Classification
	}
	snapshot := func() []key {
		out := make([]key, 0)
		for _, r := range repo.stored[1] {
			out = append(out, key{r.CustomerID, r.PlatformID, r.Rank, r.Classification})
		}
		return out
	}

	if _, err := m.Run(context.Background(), 1, DefaultParams()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := snapshot()
	if _, err := m.Run(context.Background(), 1, DefaultParams()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("runs differ:\n%v\n%v", first, second)
	}
	if len(second) != 4 {
		t.Fatalf("expected 4 matches after replace, got %d", len(second))
	}
}

func TestMatcherRun_CountsRowFailures(t *testing.T) {
	repo := newFakeRepo(
		[]common.Embedding{emb("C1", 1, 0)},
		[]common.Embedding{emb("P1", 1, 0), emb("P2", 0, 1)},
	)
	repo.failOn["P2"] = true

	summary, err := NewMatcher(repo).Run(context.Background(), 1, DefaultParams())
	if err != nil {
		t.Fatalf("row failures must not fail the run: %v", err)
	}
	if summary.Matched != 1 || summary.Errors != 1 {
		t.Fatalf("expected matched=1 errors=1, got %+v", summary)
	}
}

func TestMatcherRun_NoEmbeddings(t *testing.T) {
	repo := newFakeRepo(nil, []common.Embedding{emb("P1", 1, 0)})

	summary, err := NewMatcher(repo).Run(context.Background(), 1, DefaultParams())
	if err != nil {
		t.Fatalf("empty input is not an error: %v", err)
	}
	if summary.Matched != 0 || summary.Errors != 0 {
		t.Fatalf("expected zero counts, got %+v", summary)
	}
	if summary.Message == "" {
		t.Fatal("expected explanatory message")
	}
}

func TestMatcherRun_DryRunWritesNothing(t *testing.T) {
	repo := newFakeRepo(
		[]common.Embedding{emb("C1", 1, 0)},
		[]common.Embedding{emb("P1", 1, 0)},
	)
	locker := &fakeLocker{}

	params := DefaultParams()
	params.DryRun = true
	summary, err := NewMatcher(repo, WithLocker(locker, leaselock.Options{})).Run(context.Background(), 1, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.replaces != 0 || len(repo.stored[1]) != 0 {
		t.Fatal("dry run must not write")
	}
	if len(summary.Results) != 1 {
		t.Fatalf("dry run should return results, got %d", len(summary.Results))
	}
	if len(locker.keys) != 0 {
		t.Fatal("dry run should not take the lease")
	}
}

func TestMatcherRun_KeepExistingAppends(t *testing.T) {
	repo := newFakeRepo(
		[]common.Embedding{emb("C1", 1, 0)},
		[]common.Embedding{emb("P1", 1, 0)},
	)
	params := DefaultParams()
	params.KeepExisting = true

	m := NewMatcher(repo)
	for i := 0; i < 2; i++ {
		if _, err := m.Run(context.Background(), 1, params); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if repo.replaces != 0 {
		t.Fatal("keep-existing must not replace")
	}
	if len(repo.stored[1]) != 2 {
		t.Fatalf("expected appended matches, got %d", len(repo.stored[1]))
	}
}

func TestMatcherRun_DependencyFailure(t *testing.T) {
	repo := newFakeRepo(nil, nil)
	repo.listErr = errors.New("connection refused")

	_, err := NewMatcher(repo).Run(context.Background(), 1, DefaultParams())
	if err == nil {
		t.Fatal("expected store failure to abort the run")
	}
}

func TestMatcherRun_InvalidParams(t *testing.T) {
	params := DefaultParams()
	params.TopK = 0
	_, err := NewMatcher(newFakeRepo(nil, nil)).Run(context.Background(), 1, params)
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}
