package management

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
)

// CreateTaskRequest is the payload of spec §6's CreateTask.
type CreateTaskRequest struct {
	FunctionID      string
	Arguments       map[string]string
	InputOwnership  task.OwnershipMap
	OutputOwnership task.OwnershipMap
	ExecutorType    function.ExecutorType
}

// CreateTask registers a new task referencing a function and a set of
// input/output slot ownerships. A single-participant task (spec §8
// scenario 1) auto-approves and may advance straight to Ready inside
// task.New.
func (s *Service) CreateTask(ctx context.Context, cred credential.Credential, req CreateTaskRequest) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}

	def, ok, err := s.getFunction(ctx, req.FunctionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound("function", req.FunctionID)
	}
	allowed, err := s.access.UserAccessFunction(ctx, cred.UserID, req.FunctionID)
	if err != nil {
		return "", errors.Internal("check function access", err)
	}
	if !allowed {
		return "", errors.Forbidden("caller may not invoke this function")
	}
	if def.QuotaExhausted() {
		return "", errors.ResourceExhausted("function usage quota already exhausted")
	}

	if err := validateOwnershipAgainstFunction(def, req.InputOwnership, req.OutputOwnership); err != nil {
		return "", err
	}

	id := uuid.New().String()
	t := task.New(id, cred.UserID, req.FunctionID, def.Owner, def.Public, req.InputOwnership, req.OutputOwnership, req.ExecutorType, req.Arguments, time.Now())
	if err := s.putTask(ctx, t); err != nil {
		return "", err
	}

	entry := s.log.WithContext(ctx).WithField("task_id", id).WithField("function_id", req.FunctionID)
	if argsJSON, err := json.Marshal(req.Arguments); err == nil {
		if msg := gjson.GetBytes(argsJSON, "message"); msg.Exists() {
			entry = entry.WithField("message_arg", msg.String())
		}
	}
	entry.Info("task created")
	return id, nil
}

// validateOwnershipAgainstFunction rejects slot declarations that don't
// correspond to the function's own declared slots (spec §3 invariant 2).
func validateOwnershipAgainstFunction(def function.Definition, inputs, outputs task.OwnershipMap) error {
	for slot := range inputs {
		if !def.HasInputSlot(slot) {
			return errors.InvalidInput("inputs", "slot "+slot+" is not declared by the function")
		}
	}
	for slot := range outputs {
		if !def.HasOutputSlot(slot) {
			return errors.InvalidInput("outputs", "slot "+slot+" is not declared by the function")
		}
	}
	for _, in := range def.Inputs {
		if !in.Optional {
			if _, ok := inputs[in.Name]; !ok {
				return errors.InvalidInput("inputs", "required slot "+in.Name+" has no declared owners")
			}
		}
	}
	for _, out := range def.Outputs {
		if !out.Optional {
			if _, ok := outputs[out.Name]; !ok {
				return errors.InvalidInput("outputs", "required slot "+out.Name+" has no declared owners")
			}
		}
	}
	return nil
}

// AssignDataRequest names the slot -> data-id bindings a caller supplies
// for slots they own (spec §4.4 assign_data).
type AssignDataRequest struct {
	Inputs  task.BindingMap
	Outputs task.BindingMap
}

// AssignData binds data-ids to declared slots, enforcing the three
// binding rules of spec §4.4 per slot: the slot must be declared on the
// named side, the caller must be a declared owner of it, and the supplied
// data-id must either be privately owned by the caller or a fusion data
// whose owner set exactly matches the slot's declared owners. Output
// slots additionally require a freshly registered (unwritten) data item.
func (s *Service) AssignData(ctx context.Context, cred credential.Credential, taskID string, req AssignDataRequest) error {
	if !s.authenticate(ctx, cred) {
		return errors.Forbidden("invalid credential")
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("task", taskID)
	}
	if t.Status != task.StatusCreated {
		return errors.Forbidden("assign_data is only permitted while the task is in Created")
	}

	before := t.Status
	now := time.Now()
	for slot, dataID := range req.Inputs {
		if err := s.bindSlot(ctx, t, cred.UserID, slot, dataID, t.InputOwnership, false, now); err != nil {
			return err
		}
	}
	for slot, dataID := range req.Outputs {
		if err := s.bindSlot(ctx, t, cred.UserID, slot, dataID, t.OutputOwnership, true, now); err != nil {
			return err
		}
	}
	if err := s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordTransition(before, t.Status)
	return nil
}

func (s *Service) bindSlot(ctx context.Context, t *task.Task, caller, slot, dataID string, ownership task.OwnershipMap, output bool, now time.Time) error {
	owners, declared := ownership[slot]
	if !declared {
		return errors.InvalidInput("slot", "slot "+slot+" is not declared")
	}
	isOwner := false
	for _, o := range owners {
		if o == caller {
			isOwner = true
			break
		}
	}
	if !isOwner {
		return errors.Forbidden("caller is not a declared owner of slot " + slot)
	}

	rec, ok, err := s.getData(ctx, dataID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("data", dataID)
	}

	switch {
	case rec.Owner() == caller:
		// rule (c1): privately owned by the caller.
	case rec.Kind == datafile.KindFusion && rec.OwnerSetEquals(owners):
		// rule (c2): fusion data whose owner set exactly matches the slot.
	default:
		return errors.Forbidden("data " + dataID + " does not satisfy slot " + slot + "'s ownership rule")
	}

	if output {
		if rec.Written() {
			return errors.InvalidInput("data", "output slot requires a freshly registered (unwritten) data item")
		}
		if existing, ok := t.AssignedOutputs[slot]; ok && existing != dataID {
			return errors.Conflict("output slot " + slot + " is already bound to a different data-id")
		}
		if err := t.AssignOutput(slot, dataID, now); err != nil {
			return errors.Internal("assign output", err)
		}
		return nil
	}
	if existing, ok := t.AssignedInputs[slot]; ok && existing != dataID {
		return errors.Conflict("input slot " + slot + " is already bound to a different data-id")
	}
	if err := t.AssignInput(slot, dataID, now); err != nil {
		return errors.Internal("assign input", err)
	}
	return nil
}

// ApproveTask records the caller's approval (spec §4.4 approve_task).
func (s *Service) ApproveTask(ctx context.Context, cred credential.Credential, taskID string) error {
	if !s.authenticate(ctx, cred) {
		return errors.Forbidden("invalid credential")
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("task", taskID)
	}
	if !t.IsParticipant(cred.UserID) {
		return errors.Forbidden("caller is not a participant of this task")
	}
	if t.Status != task.StatusReady {
		if t.Status == task.StatusApproved && t.Approvals[cred.UserID] {
			return nil // idempotent re-post after commit
		}
		return errors.Forbidden("approve_task requires status Ready")
	}
	before := t.Status
	if err := t.Approve(cred.UserID, time.Now()); err != nil {
		return errors.Internal("approve task", err)
	}
	if err := s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordTransition(before, t.Status)
	return nil
}

// InvokeTask stages the task into Storage's staged-task queue. Only the
// creator may invoke, and only from Approved (spec §4.4 invoke_task).
func (s *Service) InvokeTask(ctx context.Context, cred credential.Credential, taskID string) error {
	if !s.authenticate(ctx, cred) {
		return errors.Forbidden("invalid credential")
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("task", taskID)
	}
	if cred.UserID != t.Creator {
		return errors.Forbidden("only the creator may invoke this task")
	}
	if t.Status != task.StatusApproved {
		return errors.Forbidden("invoke_task requires status Approved")
	}

	def, ok, err := s.getFunction(ctx, t.FunctionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("function", t.FunctionID)
	}

	staged, err := s.resolveStaged(ctx, t, def)
	if err != nil {
		return err
	}
	allowed, err := s.access.TaskAccessStaged(ctx, staged)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.Forbidden("task-access-staged denied for one or more resolved slots")
	}
	stagedJSON, err := json.Marshal(staged)
	if err != nil {
		return errors.Internal("encode staged task", err)
	}
	if err := s.store.Enqueue(ctx, StagedTaskQueue, stagedJSON); err != nil {
		return errors.Internal("stage task", err)
	}

	before := t.Status
	if err := t.Invoke(cred.UserID, time.Now()); err != nil {
		return errors.Internal("invoke task", err)
	}
	if err := s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordTransition(before, t.Status)
	return nil
}

func (s *Service) resolveStaged(ctx context.Context, t *task.Task, def function.Definition) (task.Staged, error) {
	staged := task.Staged{
		TaskID:          t.ID,
		FunctionID:      t.FunctionID,
		FunctionPayload: def.Payload,
		Arguments:       t.Arguments,
		ExecutorType:    t.ExecutorType,
	}
	for slot, dataID := range t.AssignedInputs {
		rec, ok, err := s.getData(ctx, dataID)
		if err != nil {
			return task.Staged{}, err
		}
		if !ok {
			return task.Staged{}, errors.NotFound("data", dataID)
		}
		staged.Inputs = append(staged.Inputs, task.ResolvedSlot{Slot: slot, DataID: dataID, URL: rec.URL, Tag: rec.Tag, Crypto: rec.Crypto})
	}
	for slot, dataID := range t.AssignedOutputs {
		rec, ok, err := s.getData(ctx, dataID)
		if err != nil {
			return task.Staged{}, err
		}
		if !ok {
			return task.Staged{}, errors.NotFound("data", dataID)
		}
		staged.Outputs = append(staged.Outputs, task.ResolvedSlot{Slot: slot, DataID: dataID, URL: rec.URL, Crypto: rec.Crypto})
	}
	return staged, nil
}

// TaskView is the task record projected to the calling participant (spec
// §3): outputs are only populated once the task has Finished.
type TaskView struct {
	ID         string
	Status     task.Status
	StatusInfo string
	Approvals  map[string]bool
	Inputs     task.BindingMap
	Outputs    task.BindingMap
}

// GetTask returns the caller's view of a task. Only participants may view
// a task at all.
func (s *Service) GetTask(ctx context.Context, cred credential.Credential, taskID string) (TaskView, error) {
	if !s.authenticate(ctx, cred) {
		return TaskView{}, errors.Forbidden("invalid credential")
	}
	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	if !ok {
		return TaskView{}, errors.NotFound("task", taskID)
	}
	if !t.IsParticipant(cred.UserID) {
		return TaskView{}, errors.Forbidden("caller is not a participant of this task")
	}

	view := TaskView{
		ID:         t.ID,
		Status:     t.Status,
		StatusInfo: t.StatusInfo,
		Approvals:  t.Approvals,
		Inputs:     t.AssignedInputs,
	}
	if t.Status == task.StatusFinished {
		view.Outputs = t.AssignedOutputs
	}
	return view, nil
}

// MarkRunning transitions a Staged task to Running and counts one use
// against its function's usage quota by incrementing UsageCount (SPEC_FULL
// §12).
// Called by the Scheduler once it has handed the staged task to an
// executor (spec §4.5 pull_task).
func (s *Service) MarkRunning(ctx context.Context, taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("task", taskID)
	}
	if t.Status != task.StatusStaged {
		return errors.Forbidden("mark_running requires status Staged")
	}
	if err := s.incrementUsage(ctx, t.FunctionID); err != nil {
		return err
	}
	before := t.Status
	if err := t.MarkRunning(time.Now()); err != nil {
		return errors.Internal("mark running", err)
	}
	if err := s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordTransition(before, t.Status)
	return nil
}

// ResultUpdate is called by the Scheduler when it forwards an executor's
// update_task_result (spec §4.4 "Result ingestion"). On success,
// outputTagsByDataID carries the authentication tag each written output
// data-id now carries; Management writes it onto the data record (which
// becomes immutable — spec §3) before advancing the task to Finished. On
// failure the task moves to Failed carrying statusInfo. A result delivered
// for an already-terminal task is a no-op, since at most one executor's
// update can ever win the race described in spec §4.5/§8 scenario 6.
func (s *Service) ResultUpdate(ctx context.Context, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("task", taskID)
	}
	if t.Status.Terminal() {
		return nil // already finalized; re-delivery is a no-op (scenario 6)
	}

	before := t.Status
	now := time.Now()
	if succeeded {
		for dataID, tag := range outputTagsByDataID {
			rec, ok, err := s.getData(ctx, dataID)
			if err != nil {
				return err
			}
			if !ok {
				return errors.NotFound("data", dataID)
			}
			if rec.Written() {
				return errors.Conflict("output data " + dataID + " was already written")
			}
			rec.Tag = tag
			if err := s.putData(ctx, rec); err != nil {
				return err
			}
		}
		if err := t.Finish(t.AssignedOutputs, now); err != nil {
			return errors.Internal("finish task", err)
		}
	} else {
		if err := t.Fail(statusInfo, now); err != nil {
			return errors.Internal("fail task", err)
		}
	}
	if err := s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordTransition(before, t.Status)
	return nil
}

func (s *Service) getTask(ctx context.Context, taskID string) (*task.Task, bool, error) {
	raw, ok, err := s.store.Get(ctx, taskKey(taskID))
	if err != nil {
		return nil, false, errors.Internal("read task", err)
	}
	if !ok {
		return nil, false, nil
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, errors.Internal("decode task", err)
	}
	return &t, true, nil
}

func (s *Service) putTask(ctx context.Context, t *task.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errors.Internal("encode task", err)
	}
	if err := s.store.Put(ctx, taskKey(t.ID), raw); err != nil {
		return errors.Internal("write task", err)
	}
	return nil
}
