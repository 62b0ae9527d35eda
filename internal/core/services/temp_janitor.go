package services

import (
	"context"
	"fmt"
	"time"

	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/robfig/cron/v3"
)

type TempJanitorConfig struct {
	Artifacts *ArtifactService
	// Schedule is a standard cron expression or descriptor such as "@every 1h".
	Schedule string
	MaxAge   time.Duration
	Logger   *logger.Logger
}

// TempJanitor periodically removes recorder temp directories that were left
// behind by crashed or externally killed recorders.
type TempJanitor struct {
	artifacts *ArtifactService
	schedule  cron.Schedule
	maxAge    time.Duration
	logger    *logger.Logger
}

func NewTempJanitor(cfg TempJanitorConfig) (*TempJanitor, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &TempJanitor{
		artifacts: cfg.Artifacts,
		schedule:  schedule,
		maxAge:    cfg.MaxAge,
		logger:    cfg.Logger,
	}, nil
}

func (j *TempJanitor) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(j.schedule, cron.FuncJob(j.Sweep))
	c.Start()
	j.logger.Infow("janitor_started", "max_age", j.maxAge)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *TempJanitor) Sweep() {
	removed, err := j.artifacts.SweepTempRoot(j.maxAge)
	if err != nil {
		j.logger.Warnw("janitor_sweep_failed", "error", err)
		return
	}
	if len(removed) > 0 {
		j.logger.Infow("janitor_sweep_ok", "removed", len(removed), "paths", removed)
	}
}
