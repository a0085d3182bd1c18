package management

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
	mgmtclient "github.com/opaquemesh/platform/internal/services/management/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

type registerFunctionRequest struct {
	Credential credential.Credential
	Request    RegisterFunctionRequest
}
type registerFunctionResponse struct{ FunctionID string }

type functionIDRequest struct {
	Credential credential.Credential
	FunctionID string
}

type registerInputFileRequest struct {
	Credential credential.Credential
	URL        string
	Tag        []byte
	Crypto     datafile.CryptoSpec
}
type dataIDResponse struct{ DataID string }

type registerOutputFileRequest struct {
	Credential credential.Credential
	URL        string
	Crypto     datafile.CryptoSpec
}

type registerFusionOutputRequest struct {
	Credential credential.Credential
	URL        string
	Crypto     datafile.CryptoSpec
	Owners     []string
}

type registerInputFromOutputRequest struct {
	Credential credential.Credential
	DataID     string
}

type createTaskRequest struct {
	Credential credential.Credential
	Request    CreateTaskRequest
}
type taskIDResponse struct{ TaskID string }

type assignDataRequest struct {
	Credential credential.Credential
	TaskID     string
	Request    AssignDataRequest
}

type taskIDRequest struct {
	Credential credential.Credential
	TaskID     string
}

type markRunningRequest struct{ TaskID string }

type resultUpdateRequest struct {
	TaskID             string
	Succeeded          bool
	StatusInfo         string
	OutputTagsByDataID map[string][]byte
}

type policyIDRequest struct{ ID string }

type policyDataResponse struct {
	Record datafile.Record
	OK     bool
}

type policyFunctionResponse struct {
	Definition function.Definition
	OK         bool
}

type policyTaskResponse struct {
	Task *task.Task
	OK   bool
}

// Handler builds the rpc.Handler cmd/managed registers with its rpc.Server,
// dispatching the full external API of spec §6 plus the three Policy*
// lookups management/client.PolicySourceClient needs to drive a remote
// Access Control instance. Request structs here duplicate the client
// package's unexported wire shapes field-for-field, matching the pattern
// already used by the other four service dispatchers.
func Handler(svc *Service) rpc.Handler {
	return func(ctx context.Context, req *rpc.Envelope) *rpc.Envelope {
		switch req.Method {
		case mgmtclient.MethodRegisterFunction:
			var body registerFunctionRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.RegisterFunction(ctx, body.Credential, body.Request)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, registerFunctionResponse{FunctionID: id})

		case mgmtclient.MethodGetFunction:
			var body functionIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			def, err := svc.GetFunction(ctx, body.Credential, body.FunctionID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, def)

		case mgmtclient.MethodDeleteFunction:
			var body functionIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.DeleteFunction(ctx, body.Credential, body.FunctionID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodRegisterInputFile:
			var body registerInputFileRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.RegisterInputFile(ctx, body.Credential, body.URL, body.Tag, body.Crypto)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, dataIDResponse{DataID: id})

		case mgmtclient.MethodRegisterOutputFile:
			var body registerOutputFileRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.RegisterOutputFile(ctx, body.Credential, body.URL, body.Crypto)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, dataIDResponse{DataID: id})

		case mgmtclient.MethodRegisterFusionOutput:
			var body registerFusionOutputRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.RegisterFusionOutput(ctx, body.Credential, body.URL, body.Crypto, body.Owners)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, dataIDResponse{DataID: id})

		case mgmtclient.MethodRegisterInputFromOut:
			var body registerInputFromOutputRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.RegisterInputFromOutput(ctx, body.Credential, body.DataID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, dataIDResponse{DataID: id})

		case mgmtclient.MethodCreateTask:
			var body createTaskRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			id, err := svc.CreateTask(ctx, body.Credential, body.Request)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, taskIDResponse{TaskID: id})

		case mgmtclient.MethodAssignData:
			var body assignDataRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.AssignData(ctx, body.Credential, body.TaskID, body.Request); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodApproveTask:
			var body taskIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.ApproveTask(ctx, body.Credential, body.TaskID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodInvokeTask:
			var body taskIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.InvokeTask(ctx, body.Credential, body.TaskID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodGetTask:
			var body taskIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			view, err := svc.GetTask(ctx, body.Credential, body.TaskID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, view)

		case mgmtclient.MethodMarkRunning:
			var body markRunningRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.MarkRunning(ctx, body.TaskID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodResultUpdate:
			var body resultUpdateRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.ResultUpdate(ctx, body.TaskID, body.Succeeded, body.StatusInfo, body.OutputTagsByDataID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case mgmtclient.MethodPolicyGetData:
			var body policyIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			rec, ok, err := svc.getData(ctx, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, policyDataResponse{Record: rec, OK: ok})

		case mgmtclient.MethodPolicyGetFunction:
			var body policyIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			def, ok, err := svc.getFunction(ctx, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, policyFunctionResponse{Definition: def, OK: ok})

		case mgmtclient.MethodPolicyGetTask:
			var body policyIDRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			t, ok, err := svc.getTask(ctx, body.ID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, policyTaskResponse{Task: t, OK: ok})

		default:
			return rpc.RespondError(req.Method, unknownMethodError(req.Method))
		}
	}
}

type unknownMethodErr string

func (e unknownMethodErr) Error() string { return "management: unknown method " + string(e) }

func unknownMethodError(method string) error { return unknownMethodErr(method) }
