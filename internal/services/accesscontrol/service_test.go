package accesscontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
)

type fixture struct {
	data      map[string]datafile.Record
	functions map[string]function.Definition
	tasks     map[string]*task.Task
}

func (f *fixture) GetData(_ context.Context, id string) (datafile.Record, bool, error) {
	r, ok := f.data[id]
	return r, ok, nil
}

func (f *fixture) GetFunction(_ context.Context, id string) (function.Definition, bool, error) {
	fn, ok := f.functions[id]
	return fn, ok, nil
}

func (f *fixture) GetTask(_ context.Context, id string) (*task.Task, bool, error) {
	tk, ok := f.tasks[id]
	return tk, ok, nil
}

func newFixture() *fixture {
	return &fixture{
		data:      make(map[string]datafile.Record),
		functions: make(map[string]function.Definition),
		tasks:     make(map[string]*task.Task),
	}
}

func TestUserAccessData(t *testing.T) {
	f := newFixture()
	f.data["d1"] = datafile.Record{DataID: "d1", Owners: []string{"alice"}}
	svc := New(f)

	ok, err := svc.UserAccessData(context.Background(), "alice", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.UserAccessData(context.Background(), "bob", "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserAccessFunctionPublic(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: true}
	svc := New(f)

	ok, err := svc.UserAccessFunction(context.Background(), "stranger", "fn1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserAccessFunctionPrivate(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: false}
	svc := New(f)

	ok, _ := svc.UserAccessFunction(context.Background(), "bob", "fn1")
	assert.False(t, ok)

	ok, _ = svc.UserAccessFunction(context.Background(), "alice", "fn1")
	assert.True(t, ok)
}

func TestUserAccessTask(t *testing.T) {
	f := newFixture()
	tk := task.New("t1", "alice", "fn1", "alice", true, nil, nil, function.ExecutorNative, nil, time.Now())
	f.tasks["t1"] = tk
	svc := New(f)

	ok, _ := svc.UserAccessTask(context.Background(), "alice", "t1")
	assert.True(t, ok)
	ok, _ = svc.UserAccessTask(context.Background(), "mallory", "t1")
	assert.False(t, ok)
}

func TestTaskAccessStagedDeniesOnMissingData(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: true}
	inputOwnership := task.OwnershipMap{"in": {"alice"}}
	f.tasks["t1"] = task.New("t1", "alice", "fn1", "alice", true, inputOwnership, nil, function.ExecutorNative, nil, time.Now())
	svc := New(f)

	staged := task.Staged{
		TaskID:     "t1",
		FunctionID: "fn1",
		Inputs:     []task.ResolvedSlot{{Slot: "in", DataID: "missing"}},
	}
	ok, err := svc.TaskAccessStaged(context.Background(), staged)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskAccessStagedAllowsResolvedInputsAndOutputs(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: true}
	f.data["in1"] = datafile.Record{DataID: "in1", Kind: datafile.KindInput, Owners: []string{"alice"}}
	f.data["out1"] = datafile.Record{DataID: "out1", Kind: datafile.KindOutput, Owners: []string{"alice"}}
	inputOwnership := task.OwnershipMap{"in": {"alice"}}
	outputOwnership := task.OwnershipMap{"out": {"alice"}}
	f.tasks["t1"] = task.New("t1", "alice", "fn1", "alice", true, inputOwnership, outputOwnership, function.ExecutorNative, nil, time.Now())
	svc := New(f)

	staged := task.Staged{
		TaskID:     "t1",
		FunctionID: "fn1",
		Inputs:     []task.ResolvedSlot{{Slot: "in", DataID: "in1"}},
		Outputs:    []task.ResolvedSlot{{Slot: "out", DataID: "out1"}},
	}
	ok, err := svc.TaskAccessStaged(context.Background(), staged)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskAccessStagedDeniesWhenOutputOwnershipDrifted(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: true}
	f.data["in1"] = datafile.Record{DataID: "in1", Kind: datafile.KindInput, Owners: []string{"alice"}}
	// out1 is now owned by mallory, not the task's declared output owner.
	f.data["out1"] = datafile.Record{DataID: "out1", Kind: datafile.KindOutput, Owners: []string{"mallory"}}
	inputOwnership := task.OwnershipMap{"in": {"alice"}}
	outputOwnership := task.OwnershipMap{"out": {"alice"}}
	f.tasks["t1"] = task.New("t1", "alice", "fn1", "alice", true, inputOwnership, outputOwnership, function.ExecutorNative, nil, time.Now())
	svc := New(f)

	staged := task.Staged{
		TaskID:     "t1",
		FunctionID: "fn1",
		Inputs:     []task.ResolvedSlot{{Slot: "in", DataID: "in1"}},
		Outputs:    []task.ResolvedSlot{{Slot: "out", DataID: "out1"}},
	}
	ok, err := svc.TaskAccessStaged(context.Background(), staged)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskAccessStagedAllowsFusionOutputMatchingOwnerSet(t *testing.T) {
	f := newFixture()
	f.functions["fn1"] = function.Definition{ID: "fn1", Owner: "alice", Public: true}
	f.data["fused"] = datafile.Record{DataID: "fused", Kind: datafile.KindFusion, Owners: []string{"alice", "bob"}}
	outputOwnership := task.OwnershipMap{"out": {"alice", "bob"}}
	f.tasks["t1"] = task.New("t1", "alice", "fn1", "alice", true, nil, outputOwnership, function.ExecutorNative, nil, time.Now())
	svc := New(f)

	staged := task.Staged{
		TaskID:     "t1",
		FunctionID: "fn1",
		Outputs:    []task.ResolvedSlot{{Slot: "out", DataID: "fused"}},
	}
	ok, err := svc.TaskAccessStaged(context.Background(), staged)
	require.NoError(t, err)
	assert.True(t, ok)
}
