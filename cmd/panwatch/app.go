package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"panwatch/internal/config"
	"panwatch/internal/engine"
	"panwatch/internal/httpclient"
	"panwatch/internal/logging"
	"panwatch/internal/market"
	"panwatch/internal/metrics"
	"panwatch/pkg/panwatch"
)

// app holds the process-wide components shared by every subcommand.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	logs     *logging.Logging
	core     *panwatch.Core
	metrics  *metrics.Metrics
	engine   *engine.Service
}

func newApp(ctx context.Context, configPath, dataDir string) (*app, error) {
	if dataDir != "" {
		config.SetRuntimeDataDir(dataDir)
	}
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	resolvedDataDir, err := config.GetDataDir(settings)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}
	level := logging.ParseLevel(settings.LogLevel, slog.LevelInfo)
	logs, err := logging.NewLogger(filepath.Join(resolvedDataDir, "logs"), level, loc)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	a := &app{settings: settings, logs: logs, logger: logs.Logger()}

	dbPath, err := config.GetDBPath(settings)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	a.core, err = panwatch.OpenWithOptions(panwatch.Options{DBPath: dbPath, Logger: logs.Base(), Location: loc})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize core: %w", err)
	}

	a.logger = logs.Persist(a.core)
	a.metrics = metrics.New()

	quotesClient, err := httpclient.New(settings.HTTPProxy, time.Duration(settings.Quotes.TimeoutSeconds)*time.Second)
	if err != nil {
		a.logger.Warn("invalid proxy for quotes, using direct connection", "err", err)
		quotesClient, _ = httpclient.New("", time.Duration(settings.Quotes.TimeoutSeconds)*time.Second)
	}
	collector := market.NewCollector(market.CollectorOptions{
		Logger:        a.logger,
		Source:        market.NewTencentSource(quotesClient),
		CacheTTL:      time.Duration(settings.Quotes.CacheTTLSeconds) * time.Second,
		FailThreshold: settings.Quotes.FailThreshold,
		FailWindow:    time.Duration(settings.Quotes.FailWindowSeconds) * time.Second,
		Cooldown:      time.Duration(settings.Quotes.CooldownSeconds) * time.Second,
		Observe: func(m market.Code, err error) {
			a.metrics.QuoteFetch(string(m), err)
		},
	})

	a.engine, err = engine.New(engine.Options{
		Core:     a.core,
		Settings: settings,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Quotes:   collector,
		Gate:     market.DefaultCalendar(settings.Holidays()),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	if err := a.engine.Seed(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	a.logs.Detach()
	if a.core != nil {
		if err := a.core.Close(); err != nil {
			a.logs.Base().Error("failed to close core", "err", err)
		}
	}
	if err := a.logs.Close(); err != nil {
		a.logs.Base().Error("failed to close log writer", "err", err)
	}
}
