// Package management implements the Management service of spec §4.4: CRUD
// for functions, input/output files, fusion outputs, and tasks, and the
// task state machine that enforces the multi-party approval protocol.
//
// Management is the system of record for every entity spec §3 defines
// except the User account itself (owned by Authentication). It persists
// records as JSON blobs in the Storage key-value store (internal/services/
// storage), guards each task/function read-modify-write cycle with a
// per-entity lock (per-function before per-task, as in spec §5, with the
// one exception noted on lockFor), and stages Approved tasks into Storage's well-known
// `staged-task` queue for the Scheduler to pull from.
package management

import (
	"context"
	"sync"

	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/infrastructure/metrics"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/domain/user"
)

// KVStore is the subset of the Storage service's API (internal/services/
// storage.Service) Management persists records through. Its method set is
// satisfied directly by *storage.Service, in-process or via an RPC client
// stub — Management never depends on the storage package itself so the two
// services can run in separate enclaves.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Enqueue(ctx context.Context, queue string, value []byte) error
}

// AccessChecker is the subset of the Access Control service's predicate API
// (spec §4.2) Management consults before mutating a record. Satisfied
// directly by *accesscontrol.Service, which is in turn constructed with
// this Service as its PolicySource — the two services close a cycle of
// interfaces, never of package imports.
type AccessChecker interface {
	UserAccessFunction(ctx context.Context, userID, functionID string) (bool, error)
	UserAccessData(ctx context.Context, userID, dataID string) (bool, error)
	UserAccessTask(ctx context.Context, userID, taskID string) (bool, error)
	// TaskAccessStaged ANDs the function-access decision with the
	// data-access decision for every input and output of a resolved Staged
	// Task (spec §4.2); InvokeTask consults it immediately before
	// enqueueing, as a last defense-in-depth check over exactly the
	// descriptors the Executor will receive.
	TaskAccessStaged(ctx context.Context, staged task.Staged) (bool, error)
}

// Authenticator is the subset of the Authentication service's API
// (spec §4.1) Management calls to validate an inbound credential and to
// look up a user's role for admin-gated operations. Satisfied directly by
// *authentication.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, cred credential.Credential) credential.Verdict
	Role(ctx context.Context, userID string) (user.Role, error)
}

// StagedTaskQueue is the queue name Management stages tasks into and the
// Scheduler dequeues from (spec §2, §4.4, §4.5). Duplicated from
// storage.StagedTaskQueue as a string literal to keep this package
// independent of the storage package's types.
const StagedTaskQueue = "staged-task"

// Service implements the Management API of spec §6.
type Service struct {
	store   KVStore
	access  AccessChecker
	auth    Authenticator
	log     *logging.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	functionMu map[string]*sync.Mutex
	taskMu     map[string]*sync.Mutex
}

// New constructs the Management service.
func New(store KVStore, access AccessChecker, auth Authenticator, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New("management", "info", "json")
	}
	return &Service{
		store:      store,
		access:     access,
		auth:       auth,
		log:        log,
		functionMu: make(map[string]*sync.Mutex),
		taskMu:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding id's read-modify-write cycle from the
// given set, creating one on first use. Lock order across different sets
// goes per-function before per-task, matching spec §5, with one exception:
// MarkRunning takes its function's lock (inside incrementUsage) while it
// holds the task lock.
func lockFor(mu *sync.Mutex, set map[string]*sync.Mutex, id string) *sync.Mutex {
	mu.Lock()
	defer mu.Unlock()
	l, ok := set[id]
	if !ok {
		l = &sync.Mutex{}
		set[id] = l
	}
	return l
}

// SetAccess wires in the AccessChecker after construction. Management and
// Access Control close a cycle of interfaces: Access Control's
// constructor needs a PolicySource backed by this Service, so a
// single-process deployment (or cmd/managed, wiring an RPC client to a
// remote cmd/accessd) builds the Service first with access left nil and
// calls SetAccess once the other side exists.
func (s *Service) SetAccess(access AccessChecker) {
	s.access = access
}

// SetMetrics attaches a Metrics collector so every task state-machine
// transition (spec §4.4) is counted on the TaskTransitions counter.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// recordTransition reports a task moving from one status to another.
// A no-op transition (e.g. assign_data that doesn't yet complete all
// bindings) is not recorded since from == to conveys nothing.
func (s *Service) recordTransition(from, to task.Status) {
	if s.metrics == nil || from == to {
		return
	}
	s.metrics.RecordTaskTransition(string(from), string(to))
}

func (s *Service) functionLock(id string) *sync.Mutex {
	return lockFor(&s.mu, s.functionMu, id)
}

func (s *Service) taskLock(id string) *sync.Mutex {
	return lockFor(&s.mu, s.taskMu, id)
}

func functionKey(id string) string { return "function:" + id }
func dataKey(id string) string     { return "data:" + id }
func taskKey(id string) string     { return "task:" + id }

func (s *Service) authenticate(ctx context.Context, cred credential.Credential) bool {
	return s.auth.Authenticate(ctx, cred) == credential.Accept
}
