package main

import (
	"github.com/contextiq/backend/internal/server"
	"github.com/contextiq/backend/internal/util"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.New(console.Params{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
