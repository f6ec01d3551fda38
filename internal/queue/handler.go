package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/timing"
	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
)

// ErrPermanent marks failures that a redelivery cannot fix.
var ErrPermanent = errors.New("permanent message failure")

const TopicRunFinished = "match.run.finished"

// RunRequest asks the worker to (re)compute the matches of one model.
// Zero values fall back to the worker's defaults.
type RunRequest struct {
	ModelID          int64     `json:"model_id"`
	TopK             int       `json:"top_k,omitempty"`
	FullThreshold    *float64  `json:"full_threshold,omitempty"`
	PartialThreshold *float64  `json:"partial_threshold,omitempty"`
	KeepExisting     bool      `json:"keep_existing,omitempty"`
	Embed            bool      `json:"embed,omitempty"`
	RequestedAt      time.Time `json:"requested_at"`
}

// Params resolves the request against defaults.
func (r RunRequest) Params(defaults match.Params) match.Params {
	p := defaults
	if r.TopK > 0 {
		p.TopK = r.TopK
	}
	if r.FullThreshold != nil {
		p.Thresholds.Full = *r.FullThreshold
	}
	if r.PartialThreshold != nil {
		p.Thresholds.Partial = *r.PartialThreshold
	}
	p.KeepExisting = r.KeepExisting
	p.DryRun = false
	return p
}

func PublishRunRequest(ch Publisher, req RunRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, MatchQueue, data)
}

type MatchRunner interface {
	Run(ctx context.Context, modelID int64, params match.Params) (match.RunSummary, error)
}

type EmbedRunner interface {
	Run(ctx context.Context, modelID int64, opts embed.Options) (embed.Stats, error)
}

// Handler processes match_queue messages. Embedder is optional and only
// serves EmbedModelID, the model the worker's embedding client produces.
type Handler struct {
	Matcher      MatchRunner
	Embedder     EmbedRunner
	EmbedModelID int64
	EmbedOptions embed.Options
	Defaults     match.Params
	Runs         timing.RunStore
	Events       Publisher
}

// ProcessRunMessage decodes and executes one run request. Decoding and
// parameter errors wrap ErrPermanent.
func (h *Handler) ProcessRunMessage(ctx context.Context, body []byte) (match.RunSummary, error) {
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return match.RunSummary{}, fmt.Errorf("%w: decode run request: %w", ErrPermanent, err)
	}
	if req.ModelID <= 0 {
		return match.RunSummary{}, fmt.Errorf("%w: model_id must be positive", ErrPermanent)
	}
	return h.Execute(ctx, req)
}

// Execute runs the optional embedding pass and then the matcher.
func (h *Handler) Execute(ctx context.Context, req RunRequest) (match.RunSummary, error) {
	if req.Embed {
		if err := h.embed(ctx, req.ModelID); err != nil {
			return match.RunSummary{}, err
		}
	}

	summary, err := h.Matcher.Run(ctx, req.ModelID, req.Params(h.Defaults))
	if err != nil {
		if errors.Is(err, match.ErrInvalidParams) {
			return summary, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return summary, err
	}

	if h.Events != nil {
		summary.Results = nil
		data, err := json.Marshal(summary)
		if err == nil {
			err = PublishTopic(h.Events, TopicRunFinished, data)
		}
		if err != nil {
			logger.Warn("[Queue] Failed to publish run event", "run_id", summary.RunID, "err", err)
		}
	}
	return summary, nil
}

func (h *Handler) embed(ctx context.Context, modelID int64) error {
	if h.Embedder == nil {
		logger.Warn("[Queue] Embedding requested but no embedder configured", "model_id", modelID)
		return nil
	}
	if modelID != h.EmbedModelID {
		logger.Warn("[Queue] Skipping embedding for foreign model", "model_id", modelID, "embed_model_id", h.EmbedModelID)
		return nil
	}

	stats, err := h.Embedder.Run(ctx, modelID, h.EmbedOptions)
	if err != nil {
		return fmt.Errorf("embedding pass failed: %w", err)
	}
	if h.Runs != nil {
		if err := timing.RecordEmbedRun(ctx, h.Runs, modelID, stats); err != nil {
			logger.Warn("[Queue] Failed to record embedding run", "err", err)
		}
	}
	return nil
}
