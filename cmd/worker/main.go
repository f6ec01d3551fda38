package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/config"
	"github.com/OFFIS-RIT/reqtrace/internal/database"
	"github.com/OFFIS-RIT/reqtrace/internal/queue"
	"github.com/OFFIS-RIT/reqtrace/internal/timing"
	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/ai"
	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/leaselock"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger/console"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	pgs "github.com/OFFIS-RIT/reqtrace/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	// Init pgx client
	pgConn, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	repo := pgs.NewGraphDBStorageWithConnection(pgConn)

	// Embedding client and the model id its vectors are stored under
	aiClient, err := cfg.Provider.NewClient()
	if err != nil {
		logger.Fatal("Could not create embedding client", "err", err)
	}
	if puller, ok := aiClient.(interface{ EnsureModel(context.Context) error }); ok {
		if err := puller.EnsureModel(ctx); err != nil {
			logger.Warn("Could not ensure embedding model", "model", aiClient.Model(), "err", err)
		}
	}
	modelID, err := repo.EnsureModel(ctx, aiClient.Model(), cfg.Provider.Dims, aiClient.Provider())
	if err != nil {
		logger.Fatal("Could not register embedding model", "err", err)
	}
	logger.Info("Using embedding model", "model_id", modelID, "model", aiClient.Model(), "dims", cfg.Provider.Dims)

	matcher := match.NewMatcher(
		repo,
		match.WithLocker(leaselock.New(pgConn), leaselock.DefaultOptions()),
		match.WithRecorder(timing.NewMatchRecorder(repo)),
	)
	opts := cfg.EmbedOptions()
	handler := &queue.Handler{
		Matcher:      matcher,
		Embedder:     embed.NewPipeline(aiClient, repo, cfg.Provider.Dims),
		EmbedModelID: modelID,
		EmbedOptions: opts,
		Defaults:     cfg.Match,
		Runs:         repo,
	}

	if util.GetEnv("RABBITMQ_URL") != "" || util.GetEnv("RABBITMQ_HOST") != "" {
		conn := queue.Init()
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.MatchQueue}); err != nil {
			logger.Fatal("Failed to setup queues", "err", err)
		}
		handler.Events = ch

		// prefetch=1: one run at a time per worker
		consumerCh, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open consumer channel", "err", err)
		}
		defer consumerCh.Close()
		if err := consumerCh.Qos(1, 0, false); err != nil {
			logger.Fatal("Failed to set QoS", "err", err)
		}

		msgs, err := consumerCh.Consume(
			queue.MatchQueue,
			"match_queue_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			logger.Fatal("Failed to start consuming", "queue", queue.MatchQueue, "err", err)
		}
		go consume(ctx, consumerCh, msgs, handler, aiClient)
		logger.Info("Listening for messages", "queue", queue.MatchQueue)
	}

	if util.GetEnvBool("MATCH_LOOP", false) {
		go loop(ctx, handler, modelID, cfg.MatchInterval, aiClient)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func consume(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery, h *queue.Handler, client ai.EmbeddingClient) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", queue.MatchQueue)
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.MatchQueue)
				return
			}
			startTime := time.Now()
			logger.Info("Received message", "queue", queue.MatchQueue)

			summary, err := h.ProcessRunMessage(ctx, msg.Body)
			if err != nil {
				logger.Error("Error processing message", "queue", queue.MatchQueue, "err", err)
				queue.HandleFailure(ch, msg, queue.MatchQueue, errors.Is(err, queue.ErrPermanent))
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "run_id", summary.RunID, "matched", summary.Matched, "errors", summary.Errors)
			}
			logMetrics(client, startTime)
		}
	}
}

// loop runs embed then match for the worker's own model every interval.
func loop(ctx context.Context, h *queue.Handler, modelID int64, interval time.Duration, client ai.EmbeddingClient) {
	if interval <= 0 {
		interval = config.DefaultMatchInterval
	}
	logger.Info("Starting periodic matching", "model_id", modelID, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		startTime := time.Now()
		summary, err := h.Execute(ctx, queue.RunRequest{ModelID: modelID, Embed: true, RequestedAt: startTime.UTC()})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Periodic run failed", "model_id", modelID, "err", err)
		} else if err == nil {
			logger.Info("Periodic run finished", "run_id", summary.RunID, "matched", summary.Matched, "errors", summary.Errors)
		}
		logMetrics(client, startTime)

		select {
		case <-ctx.Done():
			logger.Info("Stopping periodic matching")
			return
		case <-ticker.C:
		}
	}
}

func logMetrics(client ai.EmbeddingClient, startTime time.Time) {
	metrics := client.GetMetrics()
	logger.Info(
		"AI Metrics",
		"requests", metrics.Requests,
		"input_tokens", metrics.InputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", timing.FormatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	logger.Info("Processing time", "duration", timing.FormatDuration(time.Since(startTime)))
	client.ResetMetrics()
}
