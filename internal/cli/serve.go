// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/metrics"
	"github.com/jeranaias/unilife360/internal/registry"
	"github.com/jeranaias/unilife360/internal/server"
)

// shutdownGrace is how long in-flight streams get to finish on SIGTERM.
const shutdownGrace = 30 * time.Second

// ConfigureLogging sets up the standard logger for the global flags.
func ConfigureLogging(args Args) {
	switch {
	case args.Quiet:
		log.SetOutput(io.Discard)
	case args.Verbose:
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
}

// HandleServe handles `unilife serve`, the default command. The registry is
// built before the listener opens, so a missing credential or bad binding
// exits without serving anything.
func HandleServe(args Args) error {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return err
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	reg, err := registry.New(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, reg)
	if err != nil {
		return err
	}
	if cfg.Server.MetricsEnabled {
		srv.WithMetrics(metrics.NewProm("unilife", prometheus.DefaultRegisterer), prometheus.DefaultGatherer)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%s grace=%s", sig, shutdownGrace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Printf("SERVER_STOPPED | clean shutdown")
	return nil
}
