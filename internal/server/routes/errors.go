package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/reqtrace/internal/storage"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, match.ErrInvalidParams), errors.Is(err, render.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrLayoutTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, render.ErrLayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "status", status, "err", err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}
