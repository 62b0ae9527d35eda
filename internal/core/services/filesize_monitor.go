package services

import (
	"context"
	"sync"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

type FileSizeMonitorConfig struct {
	Registry       *ActiveTaskRegistry
	Tasks          ports.TaskRepository
	Hub            ports.Broadcaster
	Artifacts      *ArtifactService
	Interval       time.Duration
	PersistTimeout time.Duration
	Logger         *logger.Logger
}

// FileSizeMonitor periodically reads artifact sizes from disk for running
// tasks, covering recorders that stop reporting size or rename their output.
type FileSizeMonitor struct {
	registry       *ActiveTaskRegistry
	tasks          ports.TaskRepository
	hub            ports.Broadcaster
	artifacts      *ArtifactService
	interval       time.Duration
	persistTimeout time.Duration
	logger         *logger.Logger

	persists sync.WaitGroup
}

func NewFileSizeMonitor(cfg FileSizeMonitorConfig) *FileSizeMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &FileSizeMonitor{
		registry:       cfg.Registry,
		tasks:          cfg.Tasks,
		hub:            cfg.Hub,
		artifacts:      cfg.Artifacts,
		interval:       cfg.Interval,
		persistTimeout: cfg.PersistTimeout,
		logger:         cfg.Logger,
	}
}

func (m *FileSizeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.persists.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep checks every running task once and returns how many sizes changed.
func (m *FileSizeMonitor) Sweep() int {
	changed := 0
	for _, at := range m.registry.Running() {
		expected := at.OutputFile()
		if expected == "" {
			continue
		}
		path, size, ok := m.artifacts.StatArtifact(expected)
		if !ok {
			continue
		}
		// the task may have been deleted or stopped while we were on disk
		if at.Deleted() || !at.raiseFileSize(size) {
			continue
		}

		update := ports.TaskUpdate{FileSize: &size}
		if path != expected {
			at.setOutputFile(path)
			update.OutputFile = &path
			m.logger.Infow("monitor_output_resolved", "task_id", at.ID, "expected", expected, "actual", path)
		}
		m.persist(at.ID, update)
		m.hub.Publish(at.ID, domain.FileSizeMessage(at.ID, size, path))
		changed++
	}
	if changed > 0 {
		m.logger.Debugw("monitor_sweep", "changed", changed)
	}
	return changed
}

// persist writes in the background so a slow store never delays the sweep.
func (m *FileSizeMonitor) persist(taskID string, update ports.TaskUpdate) {
	m.persists.Add(1)
	go func() {
		defer m.persists.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
		defer cancel()
		if err := m.tasks.Update(ctx, taskID, update); err != nil {
			m.logger.Warnw("monitor_persist_failed", "task_id", taskID, "error", err)
		}
	}()
}

// Wait blocks until background writes started by Sweep have finished.
func (m *FileSizeMonitor) Wait() {
	m.persists.Wait()
}
