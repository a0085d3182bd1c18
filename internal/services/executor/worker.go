// Package executor implements the Executor (worker) of spec §4.6: the
// pull–execute–report loop that dequeues a staged task from the
// Scheduler, resolves its input/output descriptors through the file-agent
// and per-file crypto wrapper, invokes the function-runtime dispatcher,
// and reports a terminal result. Grounded on
// `_examples/original_source/executor/src/context.rs` for the
// resolve-then-invoke shape and on the teacher's per-service `service.go`
// constructor/method layout for everything else.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/opaquemesh/platform/infrastructure/logging"
	intcrypto "github.com/opaquemesh/platform/internal/crypto"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/services/functions"
)

// Scheduler is the subset of the Scheduler service's API (spec §4.5) a
// Worker drives. Satisfied directly by *scheduler.Service in-process, or
// by an RPC client stub across the enclave boundary in production — this
// package never imports the scheduler package, per spec §5's
// service-isolation note.
type Scheduler interface {
	PullTask(ctx context.Context, executorID string) (task.Staged, bool, error)
	UpdateTaskStatus(ctx context.Context, executorID, taskID, info string) error
	UpdateTaskResult(ctx context.Context, executorID, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error
}

// FileAgent is the subset of the file-agent's API (spec §4.6 steps 2–3,
// §9) a Worker drives to resolve input/output descriptors. Satisfied
// directly by *fileagent.Agent.
type FileAgent interface {
	DownloadAll(ctx context.Context, urlsBySlot map[string]string) (map[string][]byte, error)
	UploadAll(ctx context.Context, dataBySlot map[string][]byte, urlsBySlot map[string]string) error
}

// Config controls a Worker's backoff and staging behavior.
type Config struct {
	// ExecutorID is this worker's stable identifier (spec §4.5 registry key).
	ExecutorID string
	// StagingRoot is the parent directory under which each task gets a
	// fresh, removed-on-exit staging directory (spec §4.6 step 6). Only
	// used to give the function runtime a real filesystem anchor; no
	// plaintext bytes are written there by this package today since
	// functions.Handle is memory-backed, but the directory is still
	// created and removed to match the original's staging-directory
	// lifecycle byte for byte.
	StagingRoot string
	// MinBackoff/MaxBackoff bound the idle-poll sleep after an empty
	// pull_task (spec §4.5 "sleeps a bounded backoff before retrying").
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// HeartbeatInterval is how often a running task's host-resource
	// sample is reported via update_task_status while the function runs.
	HeartbeatInterval time.Duration
	// MasterKey derives per-file encryption/MAC keys (internal/crypto).
	MasterKey []byte
}

func (c Config) withDefaults() Config {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.StagingRoot == "" {
		c.StagingRoot = os.TempDir()
	}
	return c
}

// Worker is single-task-at-a-time (spec §4.6 "horizontal scale is
// achieved by running more worker processes"); Run blocks the calling
// goroutine for its whole lifetime.
type Worker struct {
	cfg       Config
	scheduler Scheduler
	agent     FileAgent
	log       *logging.Logger
}

// New constructs a Worker.
func New(cfg Config, scheduler Scheduler, agent FileAgent, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.New("executor", "info", "text")
	}
	return &Worker{cfg: cfg.withDefaults(), scheduler: scheduler, agent: agent, log: log}
}

// Run loops pull_task→resolve→invoke→report until ctx is canceled (spec
// §4.6 steps 1–6).
func (w *Worker) Run(ctx context.Context) error {
	backoff := w.cfg.MinBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		staged, ok, err := w.scheduler.PullTask(ctx, w.cfg.ExecutorID)
		if err != nil {
			w.log.Error(ctx, "pull_task failed", err, nil)
			if !sleepBackoff(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, w.cfg.MaxBackoff)
			continue
		}
		if !ok {
			if !sleepBackoff(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, w.cfg.MaxBackoff)
			continue
		}

		backoff = w.cfg.MinBackoff
		w.runOne(ctx, staged)
	}
}

// sleepBackoff sleeps for d plus up to 20% jitter, or returns false if ctx
// is canceled first (spec §4.5 "sleeps on a timer, never on a conditional
// variable shared across services").
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(d) / 5 + 1))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// runOne executes one staged task end to end (spec §4.6 steps 2–6). Any
// failure is reported via update_task_result with an error kind folded
// into the status-info string (spec §7); the staging directory is always
// removed on exit.
func (w *Worker) runOne(ctx context.Context, staged task.Staged) {
	stagingDir, err := os.MkdirTemp(w.cfg.StagingRoot, "task-"+sanitize(staged.TaskID)+"-")
	if err != nil {
		w.fail(ctx, staged.TaskID, fmt.Sprintf("Internal: create staging directory: %v", err))
		return
	}
	defer os.RemoveAll(stagingDir)

	_ = w.scheduler.UpdateTaskStatus(ctx, w.cfg.ExecutorID, staged.TaskID, "DataPreparing")

	inputs, err := w.resolveInputs(ctx, staged.Inputs)
	if err != nil {
		w.fail(ctx, staged.TaskID, fmt.Sprintf("InvalidArgument: %v", err))
		return
	}

	outputHandles := make(map[string]*functions.MemoryHandle, len(staged.Outputs))
	runtimeOutputs := make(map[string]functions.Handle, len(staged.Outputs))
	for _, slot := range staged.Outputs {
		h := functions.NewMemoryHandle(nil)
		outputHandles[slot.Slot] = h
		runtimeOutputs[slot.Slot] = h
	}

	stopHeartbeat := w.startHeartbeat(ctx, staged.TaskID)
	_ = w.scheduler.UpdateTaskStatus(ctx, w.cfg.ExecutorID, staged.TaskID, "Running")

	runtime, err := functions.Dispatch(staged.ExecutorType)
	if err != nil {
		stopHeartbeat()
		w.fail(ctx, staged.TaskID, fmt.Sprintf("InvalidArgument: %v", err))
		return
	}

	runtimeInputs := make(map[string]functions.Handle, len(inputs))
	for slot, data := range inputs {
		runtimeInputs[slot] = functions.NewMemoryHandle(data)
	}

	def := function.Definition{ID: staged.FunctionID, ExecutorType: staged.ExecutorType, Payload: staged.FunctionPayload}
	summary, err := runtime.Invoke(ctx, def, staged.Arguments, runtimeInputs, runtimeOutputs)
	stopHeartbeat()
	if err != nil {
		w.fail(ctx, staged.TaskID, fmt.Sprintf("Internal: function invocation: %v", err))
		return
	}

	tags, err := w.uploadOutputs(ctx, staged.Outputs, outputHandles)
	if err != nil {
		w.fail(ctx, staged.TaskID, fmt.Sprintf("Internal: upload outputs: %v", err))
		return
	}

	if err := w.scheduler.UpdateTaskResult(ctx, w.cfg.ExecutorID, staged.TaskID, true, summary, tags); err != nil {
		w.log.Error(ctx, "update_task_result failed", err, nil)
	}
}

func (w *Worker) fail(ctx context.Context, taskID, statusInfo string) {
	if err := w.scheduler.UpdateTaskResult(ctx, w.cfg.ExecutorID, taskID, false, statusInfo, nil); err != nil {
		w.log.Error(ctx, "update_task_result (failure path) failed", err, nil)
	}
}

// resolveInputs downloads every input's ciphertext in parallel (via the
// file-agent) and opens it under its derived file key, rejecting any
// ciphertext whose tag does not match the staged value before function
// code ever runs (spec §4.6 step 2, scenario 5).
func (w *Worker) resolveInputs(ctx context.Context, slots []task.ResolvedSlot) (map[string][]byte, error) {
	urls := make(map[string]string, len(slots))
	bySlot := make(map[string]task.ResolvedSlot, len(slots))
	for _, s := range slots {
		urls[s.Slot] = s.URL
		bySlot[s.Slot] = s
	}
	ciphertexts, err := w.agent.DownloadAll(ctx, urls)
	if err != nil {
		return nil, err
	}

	plaintexts := make(map[string][]byte, len(slots))
	for slot, ciphertext := range ciphertexts {
		s := bySlot[slot]
		key, err := intcrypto.DeriveFileKey(w.cfg.MasterKey, s.DataID, s.Crypto)
		if err != nil {
			return nil, fmt.Errorf("slot %q: derive key: %w", slot, err)
		}
		plaintext, err := intcrypto.Open(key, ciphertext, s.Tag)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", slot, err)
		}
		plaintexts[slot] = plaintext
	}
	return plaintexts, nil
}

// uploadOutputs seals each output's plaintext under a fresh per-file key
// (spec §4.6 step 3), uploads the ciphertext via the file-agent, and
// returns the resulting tags keyed by data-id for update_task_result.
func (w *Worker) uploadOutputs(ctx context.Context, slots []task.ResolvedSlot, handles map[string]*functions.MemoryHandle) (map[string][]byte, error) {
	urls := make(map[string]string, len(slots))
	ciphertexts := make(map[string][]byte, len(slots))
	tags := make(map[string][]byte, len(slots))

	for _, s := range slots {
		key, err := intcrypto.DeriveFileKey(w.cfg.MasterKey, s.DataID, s.Crypto)
		if err != nil {
			return nil, fmt.Errorf("slot %q: derive key: %w", s.Slot, err)
		}
		plaintext := handles[s.Slot].Bytes()
		ciphertext, tag, err := intcrypto.Seal(key, plaintext)
		if err != nil {
			return nil, fmt.Errorf("slot %q: seal: %w", s.Slot, err)
		}
		urls[s.Slot] = s.URL
		ciphertexts[s.Slot] = ciphertext
		tags[s.DataID] = tag
	}

	if err := w.agent.UploadAll(ctx, ciphertexts, urls); err != nil {
		return nil, err
	}
	return tags, nil
}

// startHeartbeat begins periodically reporting a host CPU/memory sample
// via update_task_status (SPEC_FULL §11 domain-stack row for gopsutil)
// and returns a function that stops it.
func (w *Worker) startHeartbeat(ctx context.Context, taskID string) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				info := hostSample()
				if err := w.scheduler.UpdateTaskStatus(ctx, w.cfg.ExecutorID, taskID, info); err != nil {
					w.log.Error(ctx, "heartbeat update_task_status failed", err, nil)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// hostSample samples host CPU/memory utilization for the current heartbeat.
func hostSample() string {
	pct, cpuErr := cpu.Percent(0, false)
	vm, memErr := mem.VirtualMemory()
	cpuPct := 0.0
	if cpuErr == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memPct := 0.0
	if memErr == nil && vm != nil {
		memPct = vm.UsedPercent
	}
	return fmt.Sprintf("Running cpu=%.1f%% mem=%.1f%%", cpuPct, memPct)
}

func sanitize(s string) string {
	return filepath.Clean(s)
}
