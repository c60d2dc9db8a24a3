package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/projectdiscovery/gologger"

	"github.com/secinto/go-csp-policy/config"
	"github.com/secinto/go-csp-policy/logging"
)

func main() {
	// Defaults, config file, environment and flags, in that order
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		gologger.Fatal().Msgf("Could not load configuration: %s\n", err)
	}
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		gologger.Fatal().Msgf("Could not run cspd: %s\n", err)
	}
}
