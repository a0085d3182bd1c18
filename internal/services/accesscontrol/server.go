package accesscontrol

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/task"
	accessclient "github.com/opaquemesh/platform/internal/services/accesscontrol/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

type dataAccessRequest struct {
	UserID string
	ID     string
}
type accessResponse struct{ Allowed bool }

type taskAccessStagedRequest struct{ Staged task.Staged }

// Handler builds the rpc.Handler cmd/accessd registers, dispatching spec
// §4.2's four predicate queries to svc. Access Control is stateless, so
// every handler is a pure read against svc's PolicySource.
func Handler(svc *Service) rpc.Handler {
	return func(ctx context.Context, req *rpc.Envelope) *rpc.Envelope {
		switch req.Method {
		case accessclient.MethodUserAccessData:
			var body dataAccessRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			ok, err := svc.UserAccessData(ctx, body.UserID, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, accessResponse{Allowed: ok})

		case accessclient.MethodUserAccessFunction:
			var body dataAccessRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			ok, err := svc.UserAccessFunction(ctx, body.UserID, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, accessResponse{Allowed: ok})

		case accessclient.MethodUserAccessTask:
			var body dataAccessRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			ok, err := svc.UserAccessTask(ctx, body.UserID, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, accessResponse{Allowed: ok})

		case accessclient.MethodTaskAccessStaged:
			var body taskAccessStagedRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			ok, err := svc.TaskAccessStaged(ctx, body.Staged)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, accessResponse{Allowed: ok})

		default:
			return rpc.RespondError(req.Method, unknownMethodError(req.Method))
		}
	}
}

type unknownMethodErr string

func (e unknownMethodErr) Error() string { return "accesscontrol: unknown method " + string(e) }

func unknownMethodError(method string) error { return unknownMethodErr(method) }
