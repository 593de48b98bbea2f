package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"kadro.org/internal/obs"
)

// SchedulerConfig holds cron expressions for the two periodic entry points.
// An empty expression disables that entry point.
type SchedulerConfig struct {
	// ApplySchedule triggers orchestrator apply runs, e.g. "0 2 * * *".
	ApplySchedule string
	// ExecuteSchedule triggers executor sweeps, e.g. "30 3 * * *".
	ExecuteSchedule string
}

// Scheduler drives the engine from cron expressions. It is the cron-like
// caller the engine is designed for; an admin HTTP trigger covers the
// on-demand path.
type Scheduler struct {
	orch *Orchestrator
	exec *Executor
	cfg  SchedulerConfig
	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(orch *Orchestrator, exec *Executor, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{orch: orch, exec: exec, cfg: cfg, cron: cron.New()}
}

// Start validates the configured expressions and starts the cron loop.
// With both expressions empty the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ApplySchedule == "" && s.cfg.ExecuteSchedule == "" {
		obs.LogRetention("scheduler", "no schedules configured", nil)
		return nil
	}

	if s.cfg.ApplySchedule != "" {
		if _, err := cron.ParseStandard(s.cfg.ApplySchedule); err != nil {
			return fmt.Errorf("invalid apply schedule %q: %w", s.cfg.ApplySchedule, err)
		}
		if _, err := s.cron.AddFunc(s.cfg.ApplySchedule, func() { s.runApply(ctx) }); err != nil {
			return fmt.Errorf("schedule apply run: %w", err)
		}
	}
	if s.cfg.ExecuteSchedule != "" {
		if _, err := cron.ParseStandard(s.cfg.ExecuteSchedule); err != nil {
			return fmt.Errorf("invalid execute schedule %q: %w", s.cfg.ExecuteSchedule, err)
		}
		if _, err := s.cron.AddFunc(s.cfg.ExecuteSchedule, func() { s.runExecute(ctx) }); err != nil {
			return fmt.Errorf("schedule executor sweep: %w", err)
		}
	}

	s.cron.Start()
	s.running = true
	obs.LogRetention("scheduler", "started", map[string]any{
		"apply":   s.cfg.ApplySchedule,
		"execute": s.cfg.ExecuteSchedule,
	})

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runApply(ctx context.Context) {
	job, err := s.orch.StartRun(ctx, RunOptions{})
	if errors.Is(err, ErrRunInProgress) {
		obs.LogRetention("scheduler", "apply skipped, run in progress", nil)
		return
	}
	if err != nil {
		obs.LogRetention("scheduler", "apply start failed", map[string]any{"error": err.Error()})
		return
	}
	obs.LogRetention("scheduler", "apply run started", map[string]any{"job_id": job.ID})
}

func (s *Scheduler) runExecute(ctx context.Context) {
	out, err := s.exec.ExecuteDue(ctx, RunOptions{})
	if err != nil {
		obs.LogRetention("scheduler", "executor sweep failed", map[string]any{"error": err.Error()})
		return
	}
	obs.LogRetention("scheduler", "executor sweep done", map[string]any{
		"deleted": out.Deleted, "archived": out.Archived,
		"reviewed": out.Reviewed, "failed": out.Failed,
	})
}

// Stop halts the cron loop and waits for in-flight entries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	obs.LogRetention("scheduler", "stopped", nil)
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
