package scheduler

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/task"
	schedclient "github.com/opaquemesh/platform/internal/services/scheduler/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

type pullTaskRequest struct{ ExecutorID string }
type pullTaskResponse struct {
	Staged task.Staged
	OK     bool
}

type updateTaskStatusRequest struct {
	ExecutorID string
	TaskID     string
	Info       string
}

type updateTaskResultRequest struct {
	ExecutorID         string
	TaskID             string
	Succeeded          bool
	StatusInfo         string
	OutputTagsByDataID map[string][]byte
}

// Handler builds the rpc.Handler cmd/scheduled registers, dispatching spec
// §4.5's pull_task/update_task_status/update_task_result to svc. Each
// Executor's calls arrive serialized over its own Conn (spec §5); svc's
// own mutex still guards the shared executor/assignment registries across
// different executors' connections.
func Handler(svc *Service) rpc.Handler {
	return func(ctx context.Context, req *rpc.Envelope) *rpc.Envelope {
		switch req.Method {
		case schedclient.MethodPullTask:
			var body pullTaskRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			staged, ok, err := svc.PullTask(ctx, body.ExecutorID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, pullTaskResponse{Staged: staged, OK: ok})

		case schedclient.MethodUpdateTaskStatus:
			var body updateTaskStatusRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.UpdateTaskStatus(ctx, body.ExecutorID, body.TaskID, body.Info); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case schedclient.MethodUpdateTaskResult:
			var body updateTaskResultRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.UpdateTaskResult(ctx, body.ExecutorID, body.TaskID, body.Succeeded, body.StatusInfo, body.OutputTagsByDataID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		default:
			return rpc.RespondError(req.Method, unknownMethodError(req.Method))
		}
	}
}

type unknownMethodErr string

func (e unknownMethodErr) Error() string { return "scheduler: unknown method " + string(e) }

func unknownMethodError(method string) error { return unknownMethodErr(method) }
