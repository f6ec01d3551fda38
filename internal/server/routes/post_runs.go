package routes

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/queue"
	"github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"

	"github.com/labstack/echo/v4"
)

// CreateRunHandler queues a matcher run for the worker.
func CreateRunHandler(c echo.Context) error {
	type createRunData struct {
		ModelID          int64    `param:"id" validate:"required,min=1"`
		TopK             int      `json:"top_k" validate:"omitempty,min=1,max=1000"`
		FullThreshold    *float64 `json:"full_threshold" validate:"omitempty,min=0,max=1"`
		PartialThreshold *float64 `json:"partial_threshold" validate:"omitempty,min=0,max=1"`
		KeepExisting     bool     `json:"keep_existing"`
		Embed            bool     `json:"embed"`
	}

	type createRunResponse struct {
		Message string `json:"message"`
		ModelID int64  `json:"model_id"`
		Queue   string `json:"queue"`
	}

	data := new(createRunData)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Run queue not available"})
	}
	ctx := c.Request().Context()

	model, err := app.Repo.GetModel(ctx, data.ModelID)
	if err != nil {
		return errorJSON(c, err)
	}
	if model == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Model not found"})
	}

	req := queue.RunRequest{
		ModelID:          data.ModelID,
		TopK:             data.TopK,
		FullThreshold:    data.FullThreshold,
		PartialThreshold: data.PartialThreshold,
		KeepExisting:     data.KeepExisting,
		Embed:            data.Embed,
		RequestedAt:      time.Now().UTC(),
	}
	defaults := match.DefaultParams()
	defaults.Thresholds = app.Thresholds
	if err := req.Params(defaults).Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := queue.PublishRunRequest(app.Queue, req); err != nil {
		return errorJSON(c, err)
	}
	logger.Info("[Server] Queued match run", "model_id", data.ModelID)

	return c.JSON(http.StatusAccepted, createRunResponse{
		Message: "Run queued",
		ModelID: data.ModelID,
		Queue:   queue.MatchQueue,
	})
}
