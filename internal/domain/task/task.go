// Package task defines the central entity of the platform (spec §3) and its
// state machine (spec §4.4).
package task

import (
	"fmt"
	"time"

	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// Status is one of the task lifecycle states of spec §4.4.
type Status string

const (
	StatusCreated  Status = "created"
	StatusReady    Status = "ready"
	StatusApproved Status = "approved"
	StatusStaged   Status = "staged"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// transitions enumerates the only forward edges the state machine allows;
// the abort→Failed edge is additionally allowed from any non-terminal state
// (see CanTransition).
var transitions = map[Status]map[Status]bool{
	StatusCreated:  {StatusReady: true},
	StatusReady:    {StatusApproved: true},
	StatusApproved: {StatusStaged: true},
	StatusStaged:   {StatusRunning: true},
	StatusRunning:  {StatusFinished: true, StatusFailed: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge:
// either a declared forward transition, or an abort into Failed from any
// non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return transitions[from][to]
}

// OwnershipMap is a slot-name -> required-owner-set declaration.
type OwnershipMap map[string][]string

// BindingMap is a slot-name -> data-id binding.
type BindingMap map[string]string

// Task is the central entity of spec §3.
type Task struct {
	ID             string
	Creator        string
	FunctionID     string
	FunctionOwner  string
	FunctionPublic bool

	InputOwnership  OwnershipMap
	OutputOwnership OwnershipMap

	AssignedInputs  BindingMap
	AssignedOutputs BindingMap

	Participants map[string]bool
	Approvals    map[string]bool

	Arguments map[string]string

	ExecutorType function.ExecutorType

	Status     Status
	StatusInfo string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New constructs a task in Created status with its fixed participant set
// computed per spec §3: creator ∪ {function owner if non-public} ∪ every
// declared slot owner. A single-participant task has that participant's
// approval recorded at creation and, if it declares no data slots, starts
// in Ready rather than Created (spec §8 scenario 1; SPEC_FULL §12).
func New(id, creator, functionID, functionOwner string, functionPublic bool, inputOwnership, outputOwnership OwnershipMap, executorType function.ExecutorType, args map[string]string, now time.Time) *Task {
	participants := map[string]bool{creator: true}
	if !functionPublic {
		participants[functionOwner] = true
	}
	for _, owners := range inputOwnership {
		for _, o := range owners {
			participants[o] = true
		}
	}
	for _, owners := range outputOwnership {
		for _, o := range owners {
			participants[o] = true
		}
	}

	t := &Task{
		ID:              id,
		Creator:         creator,
		FunctionID:      functionID,
		FunctionOwner:   functionOwner,
		FunctionPublic:  functionPublic,
		InputOwnership:  inputOwnership,
		OutputOwnership: outputOwnership,
		AssignedInputs:  make(BindingMap),
		AssignedOutputs: make(BindingMap),
		Participants:    participants,
		Approvals:       make(map[string]bool),
		Arguments:       args,
		ExecutorType:    executorType,
		Status:          StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if len(participants) == 1 {
		for p := range participants {
			t.Approvals[p] = true
		}
		if t.allSlotsBound() {
			t.Status = StatusReady
		}
	}

	return t
}

// IsParticipant reports whether userID is among the task's fixed
// participant set (invariant 1: this set never changes after creation).
func (t *Task) IsParticipant(userID string) bool {
	return t.Participants[userID]
}

// allSlotsBound reports whether every declared slot, in both directions, has
// a binding.
func (t *Task) allSlotsBound() bool {
	for slot := range t.InputOwnership {
		if _, ok := t.AssignedInputs[slot]; !ok {
			return false
		}
	}
	for slot := range t.OutputOwnership {
		if _, ok := t.AssignedOutputs[slot]; !ok {
			return false
		}
	}
	return true
}

// AllApproved reports whether every participant has approved.
func (t *Task) AllApproved() bool {
	for p := range t.Participants {
		if !t.Approvals[p] {
			return false
		}
	}
	return true
}

// AssignInput binds dataID to an input slot, after the caller has already
// validated ownership/slot-declaration rules (spec §4.4 assign_data),
// advancing Created→Ready if this was the last unbound slot.
func (t *Task) AssignInput(slot, dataID string, now time.Time) error {
	if t.Status != StatusCreated {
		return fmt.Errorf("task: assign_data requires status created, have %s", t.Status)
	}
	if _, declared := t.InputOwnership[slot]; !declared {
		return fmt.Errorf("task: input slot %q not declared", slot)
	}
	if existing, ok := t.AssignedInputs[slot]; ok && existing != dataID {
		return fmt.Errorf("task: input slot %q already bound to a different data-id", slot)
	}
	t.AssignedInputs[slot] = dataID
	t.UpdatedAt = now
	t.maybeAdvanceToReady(now)
	return nil
}

// AssignOutput binds dataID to an output slot.
func (t *Task) AssignOutput(slot, dataID string, now time.Time) error {
	if t.Status != StatusCreated {
		return fmt.Errorf("task: assign_data requires status created, have %s", t.Status)
	}
	if _, declared := t.OutputOwnership[slot]; !declared {
		return fmt.Errorf("task: output slot %q not declared", slot)
	}
	if existing, ok := t.AssignedOutputs[slot]; ok && existing != dataID {
		return fmt.Errorf("task: output slot %q already bound to a different data-id", slot)
	}
	t.AssignedOutputs[slot] = dataID
	t.UpdatedAt = now
	t.maybeAdvanceToReady(now)
	return nil
}

func (t *Task) maybeAdvanceToReady(now time.Time) {
	if t.Status == StatusCreated && t.allSlotsBound() {
		t.Status = StatusReady
		t.UpdatedAt = now
	}
}

// Approve records userID's approval, idempotently, advancing Ready→Approved
// once every participant has approved.
func (t *Task) Approve(userID string, now time.Time) error {
	if t.Status != StatusReady {
		return fmt.Errorf("task: approve_task requires status ready, have %s", t.Status)
	}
	if !t.IsParticipant(userID) {
		return fmt.Errorf("task: %s is not a participant", userID)
	}
	t.Approvals[userID] = true
	t.UpdatedAt = now
	if t.AllApproved() {
		t.Status = StatusApproved
	}
	return nil
}

// Invoke transitions Approved→Staged. Callable only by the creator.
func (t *Task) Invoke(userID string, now time.Time) error {
	if t.Status != StatusApproved {
		return fmt.Errorf("task: invoke_task requires status approved, have %s", t.Status)
	}
	if userID != t.Creator {
		return fmt.Errorf("task: only the creator may invoke_task")
	}
	t.Status = StatusStaged
	t.UpdatedAt = now
	return nil
}

// MarkRunning transitions Staged→Running once an executor has pulled the task.
func (t *Task) MarkRunning(now time.Time) error {
	if t.Status != StatusStaged {
		return fmt.Errorf("task: can only start running from staged, have %s", t.Status)
	}
	t.Status = StatusRunning
	t.UpdatedAt = now
	return nil
}

// Finish transitions Running→Finished, recording the output tag bindings.
func (t *Task) Finish(outputTags map[string]string, now time.Time) error {
	if t.Status != StatusRunning {
		return fmt.Errorf("task: can only finish from running, have %s", t.Status)
	}
	for slot, dataID := range outputTags {
		t.AssignedOutputs[slot] = dataID
	}
	t.Status = StatusFinished
	t.UpdatedAt = now
	return nil
}

// Fail aborts the task into Failed from any non-terminal state, recording a
// human-readable status-info string (SPEC_FULL §12 supplement).
func (t *Task) Fail(statusInfo string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task: already terminal (%s)", t.Status)
	}
	t.Status = StatusFailed
	t.StatusInfo = statusInfo
	t.UpdatedAt = now
	return nil
}

// Staged is the projection of a Task emitted into the Storage queue at
// staging time (spec §3 "Staged Task"): only what the Executor needs.
type Staged struct {
	TaskID          string
	FunctionID      string
	FunctionPayload []byte
	Arguments       map[string]string
	Inputs          []ResolvedSlot
	Outputs         []ResolvedSlot
	ExecutorType    function.ExecutorType
}

// ResolvedSlot pairs a slot name with its resolved data descriptor.
type ResolvedSlot struct {
	Slot       string
	DataID     string
	URL        string
	Tag        []byte
	Crypto     datafile.CryptoSpec
}
