package authentication

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/user"
	authclient "github.com/opaquemesh/platform/internal/services/authentication/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

// registerRequest/loginRequest/etc. mirror the client package's unexported
// wire shapes; the two sides never import each other's unexported types so
// each keeps its own copy, matching the teacher's client/server pairs.
type registerRequest struct {
	ID       string
	Password string
	Role     user.Role
}

type loginRequest struct {
	ID       string
	Password string
}
type loginResponse struct{ Token string }

type changePasswordRequest struct {
	ID          string
	OldPassword string
	NewPassword string
}

type resetPasswordRequest struct {
	ID          string
	NewPassword string
}

type deleteRequest struct{ ID string }

type authenticateRequest struct{ Credential credential.Credential }
type authenticateResponse struct{ Verdict credential.Verdict }

type roleRequest struct{ UserID string }
type roleResponse struct{ Role user.Role }

// Handler builds the rpc.Handler cmd/authd registers with its rpc.Server,
// dispatching each of spec §4.1's wire methods to the Service.
func Handler(svc *Service) rpc.Handler {
	return func(ctx context.Context, req *rpc.Envelope) *rpc.Envelope {
		switch req.Method {
		case authclient.MethodRegister:
			var body registerRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.Register(ctx, body.ID, body.Password, body.Role); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case authclient.MethodLogin:
			var body loginRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			token, err := svc.Login(ctx, body.ID, body.Password)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, loginResponse{Token: token})

		case authclient.MethodChangePassword:
			var body changePasswordRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.ChangePassword(ctx, body.ID, body.OldPassword, body.NewPassword); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case authclient.MethodResetPassword:
			var body resetPasswordRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.ResetPassword(ctx, body.ID, body.NewPassword); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case authclient.MethodDelete:
			var body deleteRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.Delete(ctx, body.ID); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case authclient.MethodAuthenticate:
			var body authenticateRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			verdict := svc.Authenticate(ctx, body.Credential)
			return rpc.Respond(req.Method, authenticateResponse{Verdict: verdict})

		case authclient.MethodRole:
			var body roleRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			role, err := svc.Role(ctx, body.UserID)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, roleResponse{Role: role})

		default:
			return rpc.RespondError(req.Method, unknownMethod(req.Method))
		}
	}
}

type unknownMethodError string

func (e unknownMethodError) Error() string { return "authentication: unknown method " + string(e) }

func unknownMethod(method string) error { return unknownMethodError(method) }
