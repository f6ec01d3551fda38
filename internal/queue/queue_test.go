package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	published []published
	err       error
}

func (f *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestHandleFailure_Retry(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, Body: []byte(`{}`), Headers: amqp091.Table{"x-retries": int32(2)}}

	HandleFailure(pub, msg, MatchQueue, false)

	if len(pub.published) != 1 || pub.published[0].key != "match_queue_retry" {
		t.Fatalf("expected publish to retry queue, got %+v", pub.published)
	}
	if got := Retries(pub.published[0].msg.Headers); got != 3 {
		t.Fatalf("expected x-retries=3, got %d", got)
	}
	if msg.Headers["x-retries"] != int32(2) {
		t.Fatal("original headers must not be modified")
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("expected ack, got acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestHandleFailure_DeadLetter(t *testing.T) {
	tests := []struct {
		name      string
		retries   any
		permanent bool
	}{
		{name: "max retries", retries: int32(MaxRetries)},
		{name: "int64 header", retries: int64(MaxRetries + 1)},
		{name: "permanent", retries: int32(0), permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: amqp091.Table{"x-retries": tt.retries}}

			HandleFailure(pub, msg, MatchQueue, tt.permanent)

			if len(pub.published) != 1 || pub.published[0].key != "match_queue_dlq" {
				t.Fatalf("expected publish to dlq, got %+v", pub.published)
			}
			if ack.acks != 1 {
				t.Fatalf("expected ack after dlq publish")
			}
		})
	}
}

func TestHandleFailure_PublishErrorRequeues(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAck{}

	HandleFailure(pub, amqp091.Delivery{Acknowledger: ack}, MatchQueue, false)

	if ack.nacks != 1 || !ack.requeue || ack.acks != 0 {
		t.Fatalf("expected requeueing nack, got %+v", ack)
	}
}

func TestPublishRunRequest(t *testing.T) {
	pub := &fakePublisher{}
	if err := PublishRunRequest(pub, RunRequest{ModelID: 4, TopK: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].key != MatchQueue || pub.published[0].exchange != "" {
		t.Fatalf("unexpected publish %+v", pub.published)
	}
	var req RunRequest
	if err := json.Unmarshal(pub.published[0].msg.Body, &req); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if req.ModelID != 4 || req.TopK != 3 || req.RequestedAt.IsZero() {
		t.Fatalf("unexpected request %+v", req)
	}
	if pub.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Fatal("expected persistent delivery")
	}
}

func TestRunRequestParams(t *testing.T) {
	full, partial := 0.9, 0.5
	p := RunRequest{TopK: 2, FullThreshold: &full, PartialThreshold: &partial, KeepExisting: true}.Params(match.DefaultParams())
	want := match.Params{TopK: 2, Thresholds: coverage.Thresholds{Full: 0.9, Partial: 0.5}, KeepExisting: true}
	if p != want {
		t.Fatalf("expected %+v, got %+v", want, p)
	}

	p = RunRequest{}.Params(match.DefaultParams())
	if p != match.DefaultParams() {
		t.Fatalf("expected defaults, got %+v", p)
	}
}

type fakeMatcher struct {
	modelID int64
	params  match.Params
	err     error
}

func (f *fakeMatcher) Run(ctx context.Context, modelID int64, params match.Params) (match.RunSummary, error) {
	f.modelID = modelID
	f.params = params
	if f.err != nil {
		return match.RunSummary{}, f.err
	}
	return match.RunSummary{RunID: "r1", ModelID: modelID, Matched: 2, Results: []match.Result{{}, {}}}, nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Run(ctx context.Context, modelID int64, opts embed.Options) (embed.Stats, error) {
	f.calls++
	return embed.Stats{Embedded: 1}, f.err
}

type fakeRuns struct {
	records []store.RunRecord
}

func (f *fakeRuns) RecordRun(ctx context.Context, r store.RunRecord) error {
	f.records = append(f.records, r)
	return nil
}

func TestProcessRunMessage(t *testing.T) {
	m := &fakeMatcher{}
	e := &fakeEmbedder{}
	runs := &fakeRuns{}
	events := &fakePublisher{}
	h := &Handler{Matcher: m, Embedder: e, EmbedModelID: 5, Defaults: match.DefaultParams(), Runs: runs, Events: events}

	summary, err := h.ProcessRunMessage(context.Background(), []byte(`{"model_id":5,"embed":true,"top_k":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Matched != 2 || m.modelID != 5 || m.params.TopK != 1 {
		t.Fatalf("unexpected run %+v / %+v", summary, m.params)
	}
	if e.calls != 1 || len(runs.records) != 1 {
		t.Fatalf("expected one embedding pass recorded, got calls=%d records=%d", e.calls, len(runs.records))
	}
	if len(events.published) != 1 || events.published[0].exchange != EventsExchange || events.published[0].key != TopicRunFinished {
		t.Fatalf("expected run event, got %+v", events.published)
	}
	var event match.RunSummary
	if err := json.Unmarshal(events.published[0].msg.Body, &event); err != nil {
		t.Fatalf("invalid event body: %v", err)
	}
	if len(event.Results) != 0 {
		t.Fatal("run event must not carry results")
	}
}

func TestProcessRunMessage_ForeignModelSkipsEmbedding(t *testing.T) {
	e := &fakeEmbedder{}
	h := &Handler{Matcher: &fakeMatcher{}, Embedder: e, EmbedModelID: 5, Defaults: match.DefaultParams()}

	if _, err := h.ProcessRunMessage(context.Background(), []byte(`{"model_id":6,"embed":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.calls != 0 {
		t.Fatal("embedding must only run for the configured model")
	}
}

func TestProcessRunMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		matchErr  error
		embedErr  error
		permanent bool
	}{
		{name: "bad json", body: `{`, permanent: true},
		{name: "missing model", body: `{}`, permanent: true},
		{name: "invalid params", body: `{"model_id":1}`, matchErr: match.ErrInvalidParams, permanent: true},
		{name: "store down", body: `{"model_id":1}`, matchErr: errors.New("connection refused")},
		{name: "embedding failed", body: `{"model_id":1,"embed":true}`, embedErr: errors.New("provider down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{
				Matcher:      &fakeMatcher{err: tt.matchErr},
				Embedder:     &fakeEmbedder{err: tt.embedErr},
				EmbedModelID: 1,
				Defaults:     match.DefaultParams(),
			}
			_, err := h.ProcessRunMessage(context.Background(), []byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrPermanent) != tt.permanent {
				t.Fatalf("permanent=%v expected, got err %v", tt.permanent, err)
			}
		})
	}
}
