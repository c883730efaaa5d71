// Package scheduler fires SCHEDULE-triggered workflows on their cron
// expressions.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vantori/flowgate/internal/store"
)

// WorkflowRunner fires one scheduled workflow. Satisfied by the
// orchestrator (avoids import cycle).
type WorkflowRunner interface {
	RunScheduled(ctx context.Context, wf *store.Workflow, firedAt time.Time) (string, error)
}

// Scheduler polls the store for due SCHEDULE workflows and fires them.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently firing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due scheduled workflow once and advances its
// next_run_at regardless of the fire outcome, so a failing workflow
// cannot wedge the schedule.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.ListDueScheduledWorkflows(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due workflows", slog.String("error", err.Error()))
		return
	}

	for _, wf := range due {
		if !s.tryAcquire(wf.ID) {
			continue
		}
		if err := s.fire(ctx, wf, now); err != nil {
			s.logger.Error("failed to fire scheduled workflow",
				slog.String("workflow_id", wf.ID),
				slog.String("org_id", wf.OrgID),
				slog.String("error", err.Error()),
			)
		}
		s.release(wf.ID)
	}
}

func (s *Scheduler) fire(ctx context.Context, wf *store.Workflow, now time.Time) error {
	s.logger.Info("firing scheduled workflow",
		slog.String("workflow_id", wf.ID),
		slog.String("org_id", wf.OrgID),
	)

	result, runErr := s.runner.RunScheduled(ctx, wf, now)
	if runErr != nil {
		s.logger.Error("scheduled run failed",
			slog.String("workflow_id", wf.ID),
			slog.String("error", runErr.Error()),
		)
	} else {
		s.logger.Info("scheduled run finished",
			slog.String("workflow_id", wf.ID),
			slog.String("result", result),
		)
	}

	next, err := s.nextFire(wf, now)
	if err != nil {
		return err
	}
	return s.store.UpdateWorkflow(ctx, wf.OrgID, wf.ID, store.WorkflowUpdate{NextRunAt: &next})
}

// nextFire computes the workflow's next fire time from the cron
// expression in its stored definition.
func (s *Scheduler) nextFire(wf *store.Workflow, from time.Time) (time.Time, error) {
	var def struct {
		Trigger struct {
			Cron string `json:"cron"`
		} `json:"trigger"`
	}
	if err := json.Unmarshal(wf.Definition, &def); err != nil {
		return time.Time{}, fmt.Errorf("decode definition for %q: %w", wf.ID, err)
	}
	if def.Trigger.Cron == "" {
		return time.Time{}, fmt.Errorf("workflow %q has no cron expression", wf.ID)
	}
	return s.CalculateNextRun(def.Trigger.Cron, from)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// tryAcquire returns true and marks the workflow in-flight if it is not
// already firing.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
