package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minewarden/minewarden"
	"github.com/minewarden/minewarden/internal/proc"
)

func runServe(flags *ServeFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required: use --config=config.toml or pass it as an argument")
	}

	cfg, err := minewarden.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PIDFile, flags.LogFile)
	}
	if flags.PIDFile != "" {
		if err := writePidFile(flags.PIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PIDFile) }()
	}

	if err := minewarden.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}
	if cfg.HTTP.MetricsAddr != "" {
		go func() {
			if err := minewarden.ServeMetrics(cfg.HTTP.MetricsAddr); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	sup, err := minewarden.NewSupervisor(cfg)
	if err != nil {
		return fmt.Errorf("failed to build supervisor: %w", err)
	}
	log := sup.Logger()

	var apiServer *http.Server
	if cfg.HTTP.Listen != "" {
		apiServer = sup.NewHTTPServer(cfg.HTTP.Listen, cfg.HTTP.BasePath)
		log.Info("control API listening", "addr", cfg.HTTP.Listen, "base_path", cfg.HTTP.BasePath)
	}

	if !flags.NoLaunch {
		if err := sup.Start(); err != nil {
			if errors.Is(err, proc.ErrAlreadyRunning) || errors.Is(err, proc.ErrLockUnavailable) {
				_ = sup.Close()
				return fmt.Errorf("another instance owns %s: %w", cfg.Server.Name, err)
			}
			// Supervision stays up so the operator can fix the cause and
			// retry over the API.
			log.Error("initial launch failed", "error", err)
		} else {
			log.Info("server launched", "server", cfg.Server.Name)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Shutdown(ctx)
		cancel()
	}
	return sup.Close()
}
