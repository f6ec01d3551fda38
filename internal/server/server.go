package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/config"
	"github.com/OFFIS-RIT/reqtrace/internal/database"
	"github.com/OFFIS-RIT/reqtrace/internal/queue"
	mid "github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/internal/storage"
	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/render"
	pgs "github.com/OFFIS-RIT/reqtrace/pkg/store/pgx"
	"github.com/OFFIS-RIT/reqtrace/pkg/trace"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	conn, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	repo := pgs.NewGraphDBStorageWithConnection(conn)
	traces := trace.NewBuilder(repo)
	app := &mid.App{
		Repo:   repo,
		Traces: traces,
		Graph: &render.Graph{
			Traces:  traces,
			Matches: repo,
			Layout:  cfg.Layout(),
		},
		Thresholds: cfg.Match.Thresholds,
		APIKey:     cfg.APIKey,
	}

	if util.GetEnv("RABBITMQ_URL") != "" || util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.MatchQueue}); err != nil {
			logger.Fatal("Failed to setup queues", "err", err)
		}
		app.Queue = ch
	} else {
		logger.Warn("RabbitMQ not configured, run requests are disabled")
	}

	artifacts, err := storage.NewArtifactStoreFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	if artifacts != nil {
		app.Artifacts = artifacts
	}

	e := New(app)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
