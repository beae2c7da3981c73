// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command mathtablet starts the math-tablet notebook server.
//
// Math Tablet is a collaborative math notebook: clients connect over a
// WebSocket, edit notebooks of formulas and handwriting, and a set of
// server-side observers derives symbols, dependency relationships, TeX
// renderings, and computed values from what they write.
//
// Usage:
//
//	go run ./cmd/mathtablet serve
//	go run ./cmd/mathtablet serve --config /etc/mathtablet/config.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/api/health
//
//	# List stored notebooks
//	curl http://localhost:8080/api/notebooks
//
//	# Prometheus metrics
//	curl http://localhost:8080/metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/cas"
	"github.com/davidjeschke/math-tablet/services/notebook/handlers"
	"github.com/davidjeschke/math-tablet/services/notebook/handwriting"
	"github.com/davidjeschke/math-tablet/services/notebook/observers"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
	"github.com/davidjeschke/math-tablet/services/notebook/store"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "mathtablet",
		Short: "The math-tablet collaborative notebook server",
		Long: `Math Tablet serves interactive math notebooks over a WebSocket
protocol, with server-side symbol analysis, TeX rendering, handwriting
recognition, and computer-algebra evaluation.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the notebook server",
		RunE:  runServe,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default ~/.math-tablet/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := parseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "math-tablet",
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	svc := server.NewService(server.ServiceConfig{
		Store:   st,
		Logger:  logger,
		Metrics: metrics,
		Budget:  cfg.IterationBudget,
	})
	registerObservers(svc, cfg, logger)

	// External edits to a folder store invalidate open sessions; clients
	// reopen to pick up the on-disk version.
	if fs, ok := st.(*store.FolderStore); ok {
		err := fs.Watch(func(path string) {
			svc.Invalidate(path, "notebook modified externally")
		})
		if err != nil {
			logger.Warn("folder watch unavailable", "error", err.Error())
		}
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	api := router.Group("/api")
	handlers.RegisterRoutes(api, handlers.NewRestHandlers(svc), handlers.NewSocketHandler(svc, logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		svc.Shutdown(context.Background())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg Config, logger *logging.Logger) (store.Store, error) {
	switch cfg.Store {
	case "badger":
		bcfg := store.DefaultBadgerConfig(filepath.Join(cfg.DataDir, "badger"))
		bcfg.Logger = logger.Slog()
		return store.OpenBadgerStore(bcfg)
	case "folder":
		return store.NewFolderStore(cfg.DataDir, logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}

// registerObservers wires the observer set every opened notebook gets. Each
// session's evaluator gets its own CAS engine so variable bindings never
// leak between notebooks.
func registerObservers(svc *server.Service, cfg Config, logger *logging.Logger) {
	svc.RegisterObserver(notebook.SourceSymbolClassifier, observers.NewSymbolClassifier)
	svc.RegisterObserver(notebook.SourceTexFormatter, func(s *server.Session) (server.Observer, error) {
		return observers.NewTexFormatter(cas.NewLocalEngine())(s)
	})
	svc.RegisterObserver(notebook.SourceCASEvaluator, func(s *server.Session) (server.Observer, error) {
		return observers.NewEvaluator(cas.NewLocalEngine())(s)
	})
	if cfg.MyScript != nil {
		client := handwriting.NewClient(handwriting.Config{Keys: *cfg.MyScript})
		svc.RegisterObserver(notebook.SourceMyScript, observers.NewStrokeRecognizer(client))
		logger.Info("handwriting recognition enabled")
	} else {
		logger.Info("handwriting recognition disabled, no myscript credentials")
	}
}
