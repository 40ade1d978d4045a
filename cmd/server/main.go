// Package main is the entry point for the pyrun-jupyter HTTP API.
//
// The server forwards code to a Jupyter Server, one fresh kernel per request,
// and keeps a SQLite history of every run. Configuration comes from an
// optional YAML file (-config) and the environment; see internal/config.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/pyrun-jupyter/internal/config"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/executor/jupyter"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
	"github.com/sakif/pyrun-jupyter/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("PYRUN_CONFIG"), "path to a YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dbDir := filepath.Dir(cfg.Server.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// The executor is optional: without a Jupyter URL the server still serves
	// run history but /api/execute returns errors.
	var exec executor.Executor
	if err := cfg.RequireURL(); err != nil {
		logger.Warn("Jupyter server not configured; /api/execute will return errors",
			slog.String("error", err.Error()),
		)
	} else {
		client, err := kernel.NewClient(cfg.Kernel(), logger)
		if err != nil {
			logger.Error("invalid Jupyter configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jupyterExec := jupyter.New(client, cfg.Executor(), logger)
		defer jupyterExec.Close()
		exec = jupyterExec
	}

	if cfg.Server.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; authentication is disabled")
	}

	srv, err := server.New(server.Config{
		Port:       cfg.Server.Port,
		DBPath:     cfg.Server.DBPath,
		JWTSecret:  cfg.Server.JWTSecret,
		KernelName: cfg.Jupyter.Kernel,
	}, logger, exec)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
