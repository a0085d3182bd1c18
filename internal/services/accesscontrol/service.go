// Package accesscontrol implements the stateless policy engine of spec §4.2:
// four predicate queries answered against a declarative snapshot of
// ownerships, participant lists, and public flags.
package accesscontrol

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
)

// PolicySource supplies the declarative facts the engine evaluates against.
// Management (the system of record for ownerships/participants) implements
// this for the deployed instance; tests supply a fixed in-memory fixture.
type PolicySource interface {
	GetData(ctx context.Context, dataID string) (datafile.Record, bool, error)
	GetFunction(ctx context.Context, functionID string) (function.Definition, bool, error)
	GetTask(ctx context.Context, taskID string) (*task.Task, bool, error)
}

// Service answers the four access-control predicates. It holds no mutable
// state of its own.
type Service struct {
	source PolicySource
}

// New constructs the access-control engine over source.
func New(source PolicySource) *Service {
	return &Service{source: source}
}

// UserAccessData reports whether userID may read/write dataID: true iff the
// user owns it (covers both private records and fusion co-ownership).
func (s *Service) UserAccessData(ctx context.Context, userID, dataID string) (bool, error) {
	record, ok, err := s.source.GetData(ctx, dataID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return record.OwnedBy(userID), nil
}

// UserAccessFunction reports whether userID may invoke functionID: true if
// the function is public, or the user owns it.
func (s *Service) UserAccessFunction(ctx context.Context, userID, functionID string) (bool, error) {
	fn, ok, err := s.source.GetFunction(ctx, functionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if fn.Public {
		return true, nil
	}
	return fn.Owner == userID, nil
}

// UserAccessTask reports whether userID may act on taskID: true iff the
// user is among the task's fixed participant set.
func (s *Service) UserAccessTask(ctx context.Context, userID, taskID string) (bool, error) {
	tk, ok, err := s.source.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return tk.IsParticipant(userID), nil
}

// TaskAccessStaged reports whether the staged task may read its function and
// every one of its input/output data items: the function-access decision
// ANDed with the data-access decision for every input *and* output; a
// single denial produces a denial (spec §4.2). The function-access decision
// is the same ownership/public rule UserAccessFunction applies, evaluated
// against the function's own owner rather than an end user, since a staged
// task's right to invoke the function was already settled at create_task
// time and this is a defense-in-depth recheck immediately before dispatch.
// The data-access decision for each input/output is the same ownership
// rule Management's bindSlot enforced when the slot was bound (spec §4.4):
// the record's current owner set must still satisfy the task's declared
// ownership for that slot, private or fusion.
func (s *Service) TaskAccessStaged(ctx context.Context, staged task.Staged) (bool, error) {
	fn, ok, err := s.source.GetFunction(ctx, staged.FunctionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	tk, ok, err := s.source.GetTask(ctx, staged.TaskID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if !fn.Public && fn.Owner != tk.FunctionOwner {
		return false, nil
	}

	for _, in := range staged.Inputs {
		owners, declared := tk.InputOwnership[in.Slot]
		if !declared {
			return false, nil
		}
		record, ok, err := s.source.GetData(ctx, in.DataID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if record.Kind == datafile.KindOutput {
			return false, nil
		}
		if !dataSatisfiesOwnership(record, owners) {
			return false, nil
		}
	}
	for _, out := range staged.Outputs {
		owners, declared := tk.OutputOwnership[out.Slot]
		if !declared {
			return false, nil
		}
		record, ok, err := s.source.GetData(ctx, out.DataID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if !dataSatisfiesOwnership(record, owners) {
			return false, nil
		}
	}
	return true, nil
}

// dataSatisfiesOwnership applies the same rule Management's bindSlot uses
// at assign_data time: a record satisfies a slot's declared owner set if
// it is privately owned by one of those owners, or is fusion data whose
// owner set exactly matches the slot's declared owners.
func dataSatisfiesOwnership(record datafile.Record, owners []string) bool {
	for _, o := range owners {
		if record.Owner() == o {
			return true
		}
	}
	return record.Kind == datafile.KindFusion && record.OwnerSetEquals(owners)
}
