package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/history"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	bind := flag.String("bind", "", "Address to bind to (overrides config)")
	insecureHTTP := flag.Bool("insecure-http", false, "Serve plain HTTP instead of HTTPS")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Load config
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.Bind != "127.0.0.1" && cfg.Server.Bind != "localhost" && cfg.Server.Bind != "::1" {
		fmt.Fprintf(os.Stderr, "Warning: bind=%q exposes unauthenticated endpoints. Prefer 127.0.0.1.\n", cfg.Server.Bind)
	}

	// The service logs at info unless configured otherwise.
	level := logging.LevelInfo
	if os.Getenv(config.EnvLogLevel) != "" || cfg.LogLevel != config.DefaultLogLevel {
		level = logging.ParseLevel(cfg.ResolveLogLevel())
	}
	log := logging.New(logging.Config{Level: level, Component: "nix-runner-web"})

	var store *history.Store
	if cfg.HistoryDir != "" {
		store, err = history.NewStore(cfg.HistoryDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
			os.Exit(1)
		}
	}

	s := server.New(server.Config{
		Settings:     cfg,
		Version:      version,
		Logger:       log,
		History:      store,
		InsecureHTTP: *insecureHTTP,
	})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigCh
		fmt.Fprintf(os.Stderr, "\nShutting down...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	if err := s.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	<-stopped
}
