package main

import (
	"github.com/OFFIS-RIT/reqtrace/internal/server"
	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	server.Init()
}
