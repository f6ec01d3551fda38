package routes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"

	"github.com/labstack/echo/v4"
)

// GetTraceHandler returns the trace of a (customer, platform) pair. Unknown
// requirement ids yield empty fields, not an error.
func GetTraceHandler(c echo.Context) error {
	type traceParams struct {
		CustomerReqID string `query:"customer_req_id" validate:"required"`
		PlatformReqID string `query:"platform_req_id" validate:"required"`
	}

	data := new(traceParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	t, err := app.Traces.Build(c.Request().Context(), data.CustomerReqID, data.PlatformReqID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func GetTraceGraphHandler(c echo.Context) error {
	type graphParams struct {
		CustomerReqID string `query:"customer_req_id" validate:"required"`
		PlatformReqID string `query:"platform_req_id" validate:"required"`
		ModelID       int64  `query:"model_id" validate:"omitempty,min=1"`
		Format        string `query:"format"`
	}

	data := new(graphParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	format, err := render.ParseFormat(data.Format)
	if err != nil {
		return errorJSON(c, err)
	}

	app := c.(*middleware.AppContext).App
	out, err := renderGraph(c.Request().Context(), app, render.GraphRequest{
		ModelID:       data.ModelID,
		CustomerReqID: data.CustomerReqID,
		PlatformReqID: data.PlatformReqID,
		Format:        format,
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Blob(http.StatusOK, format.ContentType(), out)
}

// renderGraph shares one render between concurrent identical requests. The
// render is detached from the first caller's cancellation since later callers
// wait for it too; the layout applies its own timeout.
func renderGraph(ctx context.Context, app *middleware.App, req render.GraphRequest) ([]byte, error) {
	key := fmt.Sprintf("%d|%s|%s|%s", req.ModelID, req.CustomerReqID, req.PlatformReqID, req.Format)
	v, err, _ := app.Renders().Do(key, func() (any, error) {
		return app.Graph.Render(context.WithoutCancel(ctx), req)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
