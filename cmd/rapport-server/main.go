package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	host := flag.String("host", "", "Override the listen host")
	port := flag.Int("port", -1, "Override the listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port >= 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(cfg.Log.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
