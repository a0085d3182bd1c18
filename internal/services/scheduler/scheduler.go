// Package scheduler implements the Scheduler service of spec §4.5: the
// live-executor and outstanding-staged-task registries, and the three
// operations (pull_task, update_task_status, update_task_result) an
// Executor calls against it. Failure handling (the liveness sweep and
// crash-requeue-once-then-Failed rule) lives in liveness.go.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/infrastructure/metrics"
	"github.com/opaquemesh/platform/internal/domain/task"
)

// StagedTaskQueue is the queue name the Scheduler dequeues from and
// re-enqueues to on a crash-requeue. Duplicated from management.
// StagedTaskQueue as a string literal so this package never imports
// management directly; in a real deployment the two run in separate
// enclaves reached only by RPC.
const StagedTaskQueue = "staged-task"

// Queue is the subset of the Storage service's API the Scheduler drives
// the staged-task queue through. Satisfied directly by *storage.Service.
type Queue interface {
	Dequeue(ctx context.Context, queue string) (value []byte, ok bool, err error)
	Enqueue(ctx context.Context, queue string, value []byte) error
	QueueDepth(ctx context.Context, queue string) (uint32, error)
}

// TaskCoordinator is the subset of the Management service's API the
// Scheduler calls to progress a task's state machine and forward a
// terminal result. Satisfied directly by *management.Service.
type TaskCoordinator interface {
	MarkRunning(ctx context.Context, taskID string) error
	ResultUpdate(ctx context.Context, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error
}

// assignment tracks one staged task handed to an executor: the raw queue
// payload (kept so a crash-requeue re-enqueues byte-for-byte what the
// first executor received) and whether it has already been requeued once
// (spec §4.5 "requeued once; if the requeued task fails again... Failed").
type assignment struct {
	raw        []byte
	executorID string
	requeued   bool
}

// Service implements the Scheduler API of spec §4.5/§6.
type Service struct {
	queue    Queue
	coord    TaskCoordinator
	log      *zap.Logger
	liveness time.Duration
	registry ExecutorRegistry
	metrics  *metrics.Metrics

	mu          sync.Mutex
	assignments map[string]*assignment // keyed by task-id
	running     map[string]bool        // task-ids already marked Running once

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New constructs the Scheduler. liveness is the bounded window of silence
// (spec §4.5) beyond which an executor is presumed crashed. The executor
// registry defaults to an in-process MapRegistry; call SetRegistry before
// Run/PullTask traffic starts to back it with Redis for a multi-replica
// deployment (SPEC_FULL.md's domain-stack wiring for `go-redis/redis/v8`).
func New(queue Queue, coord TaskCoordinator, log *zap.Logger, liveness time.Duration) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		queue:       queue,
		coord:       coord,
		log:         log,
		liveness:    liveness,
		registry:    NewMapRegistry(),
		assignments: make(map[string]*assignment),
		running:     make(map[string]bool),
	}
}

// SetRegistry swaps in a different ExecutorRegistry, e.g. a RedisRegistry
// for a multi-replica deployment. Not safe to call concurrently with
// PullTask/UpdateTaskStatus/UpdateTaskResult/the liveness sweep.
func (s *Service) SetRegistry(registry ExecutorRegistry) {
	if registry == nil {
		return
	}
	s.registry = registry
}

// SetMetrics attaches a Metrics collector so the staged-queue depth and
// executor-pool-size gauges (SPEC_FULL.md's Prometheus wiring) get updated
// on the scheduler's own hot path instead of needing a separate poller.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// PullTask is called by an idle executor. ok is false if the staged-task
// queue was empty, in which case the executor should back off on a timer
// (spec §4.5 "returns an empty-result marker").
func (s *Service) PullTask(ctx context.Context, executorID string) (task.Staged, bool, error) {
	raw, ok, err := s.queue.Dequeue(ctx, StagedTaskQueue)
	if err != nil {
		return task.Staged{}, false, errors.Internal("dequeue staged task", err)
	}
	if !ok {
		return task.Staged{}, false, nil
	}
	s.recordQueueDepth(ctx)

	var staged task.Staged
	if err := json.Unmarshal(raw, &staged); err != nil {
		return task.Staged{}, false, errors.Internal("decode staged task", err)
	}

	s.mu.Lock()
	alreadyRunning := s.running[staged.TaskID]
	s.mu.Unlock()

	if !alreadyRunning {
		if err := s.coord.MarkRunning(ctx, staged.TaskID); err != nil {
			return task.Staged{}, false, err
		}
	}

	s.mu.Lock()
	s.running[staged.TaskID] = true
	// Preserve an already-set requeued flag across a re-pull of a
	// crash-requeued task: only the raw payload and current holder
	// change, never the "requeued once already" fact the next crash
	// needs to know about (spec §4.5's requeue-once-then-Failed rule).
	if existing, ok := s.assignments[staged.TaskID]; ok {
		existing.raw = raw
		existing.executorID = executorID
	} else {
		s.assignments[staged.TaskID] = &assignment{raw: raw, executorID: executorID}
	}
	s.mu.Unlock()
	if err := s.registry.Heartbeat(ctx, executorID, staged.TaskID); err != nil {
		s.log.Warn("executor registry heartbeat failed", zap.String("executor_id", executorID), zap.Error(err))
	}
	s.recordPoolSize(ctx)

	s.log.Info("task pulled", zap.String("task_id", staged.TaskID), zap.String("executor_id", executorID))
	return staged, true, nil
}

// recordQueueDepth refreshes the staged-task queue depth gauge. Errors are
// swallowed: a stale gauge reading is never worth failing pull_task over.
func (s *Service) recordQueueDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	depth, err := s.queue.QueueDepth(ctx, StagedTaskQueue)
	if err != nil {
		return
	}
	s.metrics.SetStagedQueueDepth(int(depth))
}

// recordPoolSize refreshes the executor-pool-size gauge from the registry.
func (s *Service) recordPoolSize(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.registry.Count(ctx)
	if err != nil {
		return
	}
	s.metrics.SetExecutorPoolSize(count)
}

// UpdateTaskStatus records an executor's heartbeat and progress marker.
// Purely informational (spec §4.5).
func (s *Service) UpdateTaskStatus(ctx context.Context, executorID, taskID, info string) error {
	snapshot, ok, err := s.registry.Get(ctx, executorID)
	if err != nil {
		return errors.Internal("read executor registry", err)
	}
	if !ok {
		return errors.NotFound("executor", executorID)
	}
	if err := s.registry.Heartbeat(ctx, executorID, snapshot.AssignedTask); err != nil {
		return errors.Internal("refresh executor heartbeat", err)
	}
	s.log.Debug("task status", zap.String("task_id", taskID), zap.String("executor_id", executorID), zap.String("info", info))
	return nil
}

// UpdateTaskResult forwards an executor's terminal result to Management
// and releases the executor/task assignment.
func (s *Service) UpdateTaskResult(ctx context.Context, executorID, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error {
	if err := s.coord.ResultUpdate(ctx, taskID, succeeded, statusInfo, outputTagsByDataID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.assignments, taskID)
	delete(s.running, taskID)
	s.mu.Unlock()
	if err := s.registry.Release(ctx, executorID); err != nil {
		s.log.Warn("executor registry release failed", zap.String("executor_id", executorID), zap.Error(err))
	}
	s.log.Info("task result", zap.String("task_id", taskID), zap.Bool("succeeded", succeeded))
	return nil
}
