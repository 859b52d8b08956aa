/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/keystone/engine"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/testbed"
)

func main() {
	configPath := flag.String("config", "config/keystone.toml", "path to the engine configuration")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "seed for the testbed entity churn")
	flag.Parse()

	config, err := engine.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}

	e, err := engine.New(config, testbed.NewTestGame(*seed).Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("%s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// capture sigterm and other system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if runErr != nil {
		core.LogError("%s", runErr)
	}
	if err := e.Shutdown(); err != nil {
		core.LogError("%s", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
