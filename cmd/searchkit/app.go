package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/config"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"github.com/LerianStudio/lib-searchkit/searchkit/orchestrator"
	"github.com/LerianStudio/lib-searchkit/searchkit/registry"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"github.com/LerianStudio/lib-searchkit/searchkit/zap"
	"go.opentelemetry.io/otel"
)

const libraryName = "github.com/LerianStudio/lib-searchkit"

// app is everything a subcommand needs once the configuration is loaded.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	telemetry *opentelemetry.Telemetry
	primary   backend.Backend
	orch      *orchestrator.Orchestrator
}

// bootstrap loads the configuration, builds both backends and connects the
// orchestrator. The caller owns app.close.
func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	runtime.SetProductionMode(cfg.ProductionMode())

	logger, err := zap.New(cfg.Zap(libraryName))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	telemetry, err := opentelemetry.InitializeTelemetry(ctx, cfg.OpenTelemetry(libraryName, logger))
	if err != nil {
		_ = logger.Sync(ctx)
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	a, err := assemble(ctx, cfg, logger, telemetry.MetricsFactory)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		_ = logger.Sync(ctx)

		return nil, err
	}

	a.telemetry = telemetry

	return a, nil
}

func assemble(ctx context.Context, cfg config.Config, logger *zap.Logger, factory *metrics.MetricsFactory) (*app, error) {
	deps := registry.Deps{Logger: logger, Tracer: otel.Tracer(libraryName)}

	cache, err := registry.NewCache(cfg.Cache, deps)
	if err != nil {
		return nil, err
	}

	primary, err := registry.NewPrimary(cfg.Primary, deps)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(cache, primary, cfg.Orchestrator(),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(deps.Tracer),
		orchestrator.WithMetricsFactory(factory),
	)
	if err != nil {
		return nil, err
	}

	if err := orch.Connect(ctx); err != nil {
		_ = orch.Close(ctx)
		return nil, err
	}

	logger.Log(ctx, log.LevelInfo, "searchkit ready",
		log.String("cache", string(cfg.Cache.Kind)),
		log.String("primary", string(cfg.Primary.Kind)))

	return &app{cfg: cfg, logger: logger, primary: primary, orch: orch}, nil
}

// indexer returns the primary store as an Indexer when it supports writes.
func (a *app) indexer() (backend.Indexer, bool) {
	indexer, ok := a.primary.(backend.Indexer)
	return indexer, ok
}

func (a *app) close(ctx context.Context) error {
	err := errors.Join(a.orch.Close(ctx), a.telemetry.Shutdown(ctx))
	_ = a.logger.Sync(ctx)

	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
