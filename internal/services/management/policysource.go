package management

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
)

// PolicySource adapts Management's raw record lookups to
// accesscontrol.PolicySource: Access Control needs the unauthorized,
// unfiltered facts behind a record to decide visibility, not the
// already-visibility-filtered view GetFunction/GetTask return to callers.
// Management and Access Control close a cycle of interfaces (each consumes
// a slice of the other's API) rather than a cycle of package imports: this
// type is the only thing in internal/services/management that
// internal/services/accesscontrol's PolicySource interface needs to match.
type PolicySource struct {
	svc *Service
}

// NewPolicySource wraps svc as an accesscontrol.PolicySource.
func NewPolicySource(svc *Service) *PolicySource {
	return &PolicySource{svc: svc}
}

// GetData returns the raw data record, bypassing the caller-visibility
// filtering GetFunction/GetTask apply.
func (p *PolicySource) GetData(ctx context.Context, dataID string) (datafile.Record, bool, error) {
	return p.svc.getData(ctx, dataID)
}

// GetFunction returns the raw function definition.
func (p *PolicySource) GetFunction(ctx context.Context, functionID string) (function.Definition, bool, error) {
	return p.svc.getFunction(ctx, functionID)
}

// GetTask returns the raw task record.
func (p *PolicySource) GetTask(ctx context.Context, taskID string) (*task.Task, bool, error) {
	return p.svc.getTask(ctx, taskID)
}
