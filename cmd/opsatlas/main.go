// Package main is the entry point for the OpsAtlas server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"opsatlas/internal/config"
	"opsatlas/internal/logging"
	"opsatlas/internal/server"
	"opsatlas/internal/telemetry"
	"opsatlas/internal/version"
)

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		if os.Getenv("DEBUG") == "true" {
			log.Printf("No .env file found or error loading it: %v", err)
		}
	}

	// Handle version flag before loading configuration
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version" || os.Args[1] == "version") {
		info := version.Get()
		fmt.Printf("opsatlas version %s\n", info.Version)
		fmt.Printf("  commit: %s\n", info.Commit)
		fmt.Printf("  built: %s\n", info.BuildDate)
		fmt.Printf("  go: %s\n", info.GoVersion)
		fmt.Printf("  platform: %s\n", info.Platform)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// File logging only in development; production logs to stdout for the
	// service manager to capture
	isDevelopment := os.Getenv("OPSATLAS_ENV") == "development" || os.Getenv("DEBUG") == "true"
	if isDevelopment {
		if err := logging.Initialize(cfg.LogDir); err != nil {
			log.Printf("Warning: Failed to initialize file logging: %v", err)
		} else {
			defer logging.Close()
			log.Printf("Development logging initialized to %s", cfg.LogDir)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.InitializeFromEnv(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}
	defer srv.Shutdown()

	log.Printf("Starting opsatlas %s", version.Get().Version)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
