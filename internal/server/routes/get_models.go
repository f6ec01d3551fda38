package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"

	"github.com/labstack/echo/v4"
)

func GetModelsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	models, err := app.Repo.ListModels(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, models)
}

// GetCoverageHandler reports rank-1 coverage of a model. Passing full and/or
// partial re-derives the classifications from the stored similarities.
func GetCoverageHandler(c echo.Context) error {
	type coverageParams struct {
		ModelID int64  `param:"id" validate:"required,min=1"`
		Full    string `query:"full" validate:"omitempty,numeric"`
		Partial string `query:"partial" validate:"omitempty,numeric"`
	}

	type coverageResponse struct {
		ModelID    int64                `json:"model_id"`
		Thresholds *coverage.Thresholds `json:"thresholds,omitempty"`
		coverage.Summary
	}

	data := new(coverageParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	model, err := app.Repo.GetModel(ctx, data.ModelID)
	if err != nil {
		return errorJSON(c, err)
	}
	if model == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Model not found"})
	}

	rows, err := app.Repo.ListCoverageRows(ctx, data.ModelID)
	if err != nil {
		return errorJSON(c, err)
	}

	res := coverageResponse{ModelID: data.ModelID}
	if data.Full != "" || data.Partial != "" {
		t := app.Thresholds
		if data.Full != "" {
			t.Full, _ = strconv.ParseFloat(data.Full, 64)
		}
		if data.Partial != "" {
			t.Partial, _ = strconv.ParseFloat(data.Partial, 64)
		}
		if err := t.Validate(); err != nil {
			return badRequest(c, err.Error())
		}
		rows = coverage.Reclassify(rows, t)
		res.Thresholds = &t
	}
	res.Summary = coverage.Summarize(rows)

	return c.JSON(http.StatusOK, res)
}

func GetMatchesHandler(c echo.Context) error {
	type matchesParams struct {
		ModelID       int64  `param:"id" validate:"required,min=1"`
		CustomerReqID string `query:"customer_req_id"`
	}

	data := new(matchesParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	matches, err := app.Repo.ListMatches(c.Request().Context(), data.ModelID, data.CustomerReqID)
	if err != nil {
		return errorJSON(c, err)
	}
	if matches == nil {
		matches = []match.Result{}
	}
	return c.JSON(http.StatusOK, matches)
}
