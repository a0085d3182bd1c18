package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartLivenessSweep starts a cron job on spec (standard 5-field syntax)
// that presumes any executor silent for longer than s.liveness crashed and
// applies spec §4.5's failure-handling rule: requeue the assigned task
// once, and finalize it Failed with reason "executor crash" if a second
// crash is observed for the same task. Call Stop to shut the sweep down.
func (s *Service) StartLivenessSweep(spec string) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	c := cron.New()
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the liveness sweep, if one was started.
func (s *Service) Stop() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Service) sweep() {
	ctx := context.Background()
	silent, err := s.registry.Silent(ctx, s.liveness)
	if err != nil {
		s.log.Error("liveness sweep: read registry failed", zap.Error(err))
		return
	}
	for _, ex := range silent {
		if err := s.registry.Forget(ctx, ex.ExecutorID); err != nil {
			s.log.Error("liveness sweep: forget executor failed", zap.String("executor_id", ex.ExecutorID), zap.Error(err))
		}
		s.handleCrash(ctx, ex.ExecutorID, ex.AssignedTask)
	}
	s.recordPoolSize(ctx)
}

func (s *Service) handleCrash(ctx context.Context, executorID, taskID string) {
	s.mu.Lock()
	a, ok := s.assignments[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if !a.requeued {
		s.mu.Lock()
		a.requeued = true
		a.executorID = ""
		s.mu.Unlock()

		if err := s.queue.Enqueue(ctx, StagedTaskQueue, a.raw); err != nil {
			s.log.Error("requeue after crash failed", zap.String("task_id", taskID), zap.String("executor_id", executorID), zap.Error(err))
			return
		}
		s.log.Warn("requeued task after presumed executor crash", zap.String("task_id", taskID), zap.String("executor_id", executorID))
		return
	}

	s.mu.Lock()
	delete(s.assignments, taskID)
	delete(s.running, taskID)
	s.mu.Unlock()

	if err := s.coord.ResultUpdate(ctx, taskID, false, "executor crash", nil); err != nil {
		s.log.Error("finalize second crash as Failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
