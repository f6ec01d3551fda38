package middleware

import (
	"context"

	"github.com/OFFIS-RIT/reqtrace/internal/queue"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

// ArtifactStore keeps exported graphs, see storage.ArtifactStore.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key, contentType string, data []byte) error
	DownloadLink(ctx context.Context, key string) (string, error)
	ListArtifacts(ctx context.Context, prefix string) ([]string, error)
	DeleteArtifacts(ctx context.Context, prefix string) (int, error)
}

// App carries the long lived dependencies of the HTTP handlers. Queue and
// Artifacts are optional; the routes that need them answer 503 without.
type App struct {
	Repo       store.Repository
	Traces     render.TraceBuilder
	Graph      *render.Graph
	Queue      queue.Publisher
	Artifacts  ArtifactStore
	Thresholds coverage.Thresholds
	APIKey     string

	renders singleflight.Group
}

// Renders de-duplicates concurrent identical graph renders.
func (a *App) Renders() *singleflight.Group {
	return &a.renders
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
