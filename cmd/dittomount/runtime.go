package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/registry"
)

// runtime holds the mounts built from a configuration file.
type runtime struct {
	cfg      *config.Config
	router   *adapter.Router
	registry *registry.Registry
	metrics  *config.MetricsResult
	closeLog func() error
}

// setup loads configuration, configures logging and mounts every
// configured filesystem. One-shot commands write data to stdout, so their
// log lines go to stderr, and they never start the metrics server.
func setup(ctx context.Context, configPath string, oneShot bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if oneShot {
		cfg.Metrics.Enabled = false
	}
	if oneShot && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	out, closeLog, err := logger.OpenOutput(cfg.Logging.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	logger.SetOutput(out)

	mr := config.InitializeMetrics(cfg)
	router := config.NewRouter(cfg, mr)
	reg, err := config.InitializeRegistry(ctx, cfg, router, mr)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return &runtime{cfg: cfg, router: router, registry: reg, metrics: mr, closeLog: closeLog}, nil
}

func (r *runtime) Close() {
	r.registry.UnmountAll()
	if err := r.closeLog(); err != nil {
		logger.Warn("Failed to close log output: %v", err)
	}
}
