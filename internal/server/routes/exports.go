package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/internal/storage"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"

	"github.com/labstack/echo/v4"
)

// ExportTraceGraphHandler renders a trace graph, uploads it and returns a
// presigned download link.
func ExportTraceGraphHandler(c echo.Context) error {
	type exportData struct {
		ModelID       int64  `json:"model_id" validate:"omitempty,min=1"`
		CustomerReqID string `json:"customer_req_id" validate:"required"`
		PlatformReqID string `json:"platform_req_id" validate:"required"`
		Format        string `json:"format"`
	}

	type exportResponse struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}

	data := new(exportData)
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
	if app.Artifacts == nil {
		return errorJSON(c, storage.ErrNotConfigured)
	}
	ctx := c.Request().Context()

	out, err := renderGraph(ctx, app, render.GraphRequest{
		ModelID:       data.ModelID,
		CustomerReqID: data.CustomerReqID,
		PlatformReqID: data.PlatformReqID,
		Format:        format,
	})
	if err != nil {
		return errorJSON(c, err)
	}

	key := storage.ArtifactKey(data.ModelID, data.CustomerReqID, data.PlatformReqID, format.Extension())
	if err := app.Artifacts.PutArtifact(ctx, key, format.ContentType(), out); err != nil {
		return errorJSON(c, err)
	}
	url, err := app.Artifacts.DownloadLink(ctx, key)
	if err != nil {
		return errorJSON(c, err)
	}
	logger.Info("[Server] Exported trace graph", "key", key, "bytes", len(out))

	return c.JSON(http.StatusCreated, exportResponse{Key: key, URL: url})
}

func GetExportsHandler(c echo.Context) error {
	type exportsParams struct {
		ModelID int64 `param:"id" validate:"required,min=1"`
	}

	data := new(exportsParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	if app.Artifacts == nil {
		return errorJSON(c, storage.ErrNotConfigured)
	}
	keys, err := app.Artifacts.ListArtifacts(c.Request().Context(), storage.ModelPrefix(data.ModelID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, keys)
}

func DeleteExportsHandler(c echo.Context) error {
	type deleteExportsParams struct {
		ModelID int64 `param:"id" validate:"required,min=1"`
	}

	data := new(deleteExportsParams)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := c.(*middleware.AppContext).App
	if app.Artifacts == nil {
		return errorJSON(c, storage.ErrNotConfigured)
	}
	deleted, err := app.Artifacts.DeleteArtifacts(c.Request().Context(), storage.ModelPrefix(data.ModelID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}
