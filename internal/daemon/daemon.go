// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon assembles and runs the stateraild process: store, broker,
// executor, engine, and the HTTP API in front of them.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/staterail/staterail/internal/broker"
	"github.com/staterail/staterail/internal/config"
	"github.com/staterail/staterail/internal/daemon/api"
	"github.com/staterail/staterail/internal/engine"
	"github.com/staterail/staterail/internal/executor"
	"github.com/staterail/staterail/internal/journal"
	internallog "github.com/staterail/staterail/internal/log"
	"github.com/staterail/staterail/internal/store"
	"github.com/staterail/staterail/internal/tracing"
	"github.com/staterail/staterail/pkg/httpclient"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main stateraild daemon.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store    *store.Store
	engine   *engine.Engine
	executor *executor.Executor
	tracing  *tracing.Provider

	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance and wires its components.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	st, err := store.New(store.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Executor.HTTPTimeout
	httpCfg.UserAgent = "stateraild/" + opts.Version
	stepClient, err := httpclient.New(httpCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create step HTTP client: %w", err)
	}

	tp, err := tracing.Init(cfg.Tracing.ServiceName, opts.Version, cfg.Tracing.Enabled)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	j := journal.New(st)
	b := broker.NewWithBuffer(cfg.Executor.SignalBuffer)

	ex := executor.New(st, j, b,
		executor.WithLogger(logger),
		executor.WithMetrics(NewPrometheusMetrics()),
		executor.WithHTTPClient(stepClient),
	)

	eng := engine.New(st, j, b, ex, logger)

	return &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		store:    st,
		engine:   eng,
		executor: ex,
		tracing:  tp,
	}, nil
}

// Engine returns the daemon's engine, exposed for in-process embedding.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Start binds the listener and serves the API until ctx is cancelled or the
// server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	ln, err := net.Listen("tcp", d.cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen.Addr, err)
	}
	d.ln = ln

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, d.logger)

	workflowsHandler := api.NewWorkflowsHandler(d.engine)
	workflowsHandler.RegisterRoutes(router.Mux())

	runsHandler := api.NewRunsHandler(d.engine)
	runsHandler.RegisterRoutes(router.Mux())

	router.SetMetricsHandler(promhttp.Handler())

	d.server = &http.Server{
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: watch streams stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	d.logger.Info("stateraild starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("db_path", d.cfg.Database.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listener address, or empty before Start.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Shutdown gracefully shuts down the daemon: drains active runs, stops the
// HTTP server, then closes the store.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return d.store.Close()
	}

	activeCount := d.executor.ActiveRunCount()
	d.logger.Info("graceful shutdown initiated",
		slog.Int("active_runs", activeCount))

	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, d.cfg.Executor.DrainTimeout)
	defer drainCancel()

	if err := d.executor.WaitForDrain(drainCtx, d.cfg.Executor.DrainTimeout); err != nil {
		d.logger.Warn("drain timeout exceeded",
			slog.Int("remaining_runs", d.executor.ActiveRunCount()),
			slog.Duration("drain_timeout", d.cfg.Executor.DrainTimeout))
	} else {
		d.logger.Info("all runs settled during drain")
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Listen.ShutdownTimeout)
		defer cancel()

		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	if d.tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.tracing.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("tracing shutdown error", internallog.Error(err))
		}
	}

	if err := d.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	d.logger.Info("shutdown complete")
	return nil
}
