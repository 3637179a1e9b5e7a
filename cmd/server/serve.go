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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"outreach_engine/internal/engine"
	"outreach_engine/internal/httpapi"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/notify"
	"outreach_engine/internal/orchestrator"
	"outreach_engine/internal/provider"
	"outreach_engine/internal/provider/simulated"
	"outreach_engine/internal/provider/standard"
	"outreach_engine/internal/queue"
	"outreach_engine/internal/safety"
	"outreach_engine/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bus := logbus.New(200, logbus.WithZap(logger))
	defer bus.Close()

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage().SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()

	if err := cfg.MergeExternal(ctx, store); err != nil {
		bus.Log("warn", "stored config overrides ignored", map[string]any{"error": err.Error()})
	}

	var (
		gen provider.Generator
		pub provider.Publisher
	)
	if cfg.Global().Simulate {
		gen, pub = simulated.NewGenerator(), simulated.NewPublisher()
	} else {
		gen = standard.NewGenerator(cfg.Generator(), bus)
		pub = standard.NewPublisher(cfg.Publisher(), bus)
	}

	registry := engine.NewDefaultRegistry(engine.Deps{
		Generator: gen,
		Publisher: pub,
		Bus:       bus,
	}, cfg.Engine)

	notifier := notify.NewEmailNotifier(store, cfg.Notify(), bus)
	orch := orchestrator.New(orchestrator.Options{
		Queue:    queue.New(),
		Gate:     safety.New(safety.SettingsFromConfig(cfg.Safety())),
		Engines:  registry,
		Config:   cfg,
		Bus:      bus,
		Mirror:   store,
		Notifier: notifier,
	})

	api := httpapi.New(httpapi.Options{
		Cfg:          cfg.Server(),
		Bus:          bus,
		Store:        store,
		Orchestrator: orch,
	})
	server := &http.Server{
		Addr:              cfg.Server().Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	logger.Info("server listening",
		zap.String("addr", server.Addr),
		zap.Bool("simulate", cfg.Global().Simulate),
		zap.String("generator", gen.Name()),
		zap.String("publisher", pub.Name()))

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// The in-flight attempt finishes before Close returns; its outcome is mirrored and notified.
	if err := orch.Close(shutdownCtx); err != nil {
		bus.Log("warn", "orchestrator close", map[string]any{"error": err.Error()})
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		bus.Log("warn", "notifier close", map[string]any{"error": err.Error()})
	}
	_ = server.Shutdown(shutdownCtx)
	bus.Log("info", "server stopped", nil)
	return runErr
}
