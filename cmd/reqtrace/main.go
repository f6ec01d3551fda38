// Command reqtrace runs embedding, matching and trace reports from the
// command line against the traceability database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func initLogger(debug bool) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug || util.GetEnvBool("DEBUG", false),
	}))
}
