package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opaquemesh/platform/infrastructure/httputil"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/domain/user"
	"github.com/opaquemesh/platform/internal/services/management"
)

type registerRequest struct {
	ID       string    `json:"id" validate:"required"`
	Password string    `json:"password" validate:"required,min=8"`
	Role     user.Role `json:"role" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.auth.Register(r.Context(), req.ID, req.Password, req.Role); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"id": req.ID})
}

type loginRequest struct {
	ID       string `json:"id" validate:"required"`
	Password string `json:"password" validate:"required"`
}
type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	token, err := s.auth.Login(r.Context(), req.ID, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token})
}

type changePasswordRequest struct {
	ID          string `json:"id" validate:"required"`
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.auth.ChangePassword(r.Context(), req.ID, req.OldPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

type resetPasswordRequest struct {
	ID          string `json:"id" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// handleResetPassword forwards an administrative password reset (spec §4.1)
// to Authentication. No role check is made on this path: neither this
// handler nor Authentication's ResetPassword looks up the caller's role,
// and the request's credential is not forwarded.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.ID, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.auth.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

type registerFunctionRequest struct {
	Public       bool                  `json:"public"`
	ExecutorType function.ExecutorType `json:"executor_type" validate:"required"`
	Payload      []byte                `json:"payload" validate:"required"`
	Inputs       []function.Slot       `json:"inputs"`
	Outputs      []function.Slot       `json:"outputs"`
	Arguments    []string              `json:"arguments"`
	UsageQuota   int64                 `json:"usage_quota"`
}

func (s *Server) handleRegisterFunction(w http.ResponseWriter, r *http.Request) {
	var req registerFunctionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cred := credentialFromRequest(r)
	id, err := s.mgmt.RegisterFunction(r.Context(), cred, management.RegisterFunctionRequest{
		Public:       req.Public,
		ExecutorType: req.ExecutorType,
		Payload:      req.Payload,
		Inputs:       req.Inputs,
		Outputs:      req.Outputs,
		Arguments:    req.Arguments,
		UsageQuota:   req.UsageQuota,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"function_id": id})
}

func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, err := s.mgmt.GetFunction(r.Context(), credentialFromRequest(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgmt.DeleteFunction(r.Context(), credentialFromRequest(r), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

type registerInputFileRequest struct {
	URL    string              `json:"url" validate:"required"`
	Tag    []byte              `json:"tag" validate:"required"`
	Crypto datafile.CryptoSpec `json:"crypto"`
}

func (s *Server) handleRegisterInputFile(w http.ResponseWriter, r *http.Request) {
	var req registerInputFileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.mgmt.RegisterInputFile(r.Context(), credentialFromRequest(r), req.URL, req.Tag, req.Crypto)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"data_id": id})
}

type registerOutputFileRequest struct {
	URL    string              `json:"url" validate:"required"`
	Crypto datafile.CryptoSpec `json:"crypto"`
}

func (s *Server) handleRegisterOutputFile(w http.ResponseWriter, r *http.Request) {
	var req registerOutputFileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.mgmt.RegisterOutputFile(r.Context(), credentialFromRequest(r), req.URL, req.Crypto)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"data_id": id})
}

type registerFusionOutputRequest struct {
	URL    string              `json:"url" validate:"required"`
	Crypto datafile.CryptoSpec `json:"crypto"`
	Owners []string            `json:"owners" validate:"required,min=2"`
}

func (s *Server) handleRegisterFusionOutput(w http.ResponseWriter, r *http.Request) {
	var req registerFusionOutputRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.mgmt.RegisterFusionOutput(r.Context(), credentialFromRequest(r), req.URL, req.Crypto, req.Owners)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"data_id": id})
}

func (s *Server) handleRegisterInputFromOutput(w http.ResponseWriter, r *http.Request) {
	dataID := chi.URLParam(r, "id")
	id, err := s.mgmt.RegisterInputFromOutput(r.Context(), credentialFromRequest(r), dataID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"data_id": id})
}

type createTaskRequest struct {
	FunctionID      string                `json:"function_id" validate:"required"`
	Arguments       map[string]string     `json:"arguments"`
	InputOwnership  task.OwnershipMap     `json:"input_ownership"`
	OutputOwnership task.OwnershipMap     `json:"output_ownership"`
	ExecutorType    function.ExecutorType `json:"executor_type" validate:"required"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.mgmt.CreateTask(r.Context(), credentialFromRequest(r), management.CreateTaskRequest{
		FunctionID:      req.FunctionID,
		Arguments:       req.Arguments,
		InputOwnership:  req.InputOwnership,
		OutputOwnership: req.OutputOwnership,
		ExecutorType:    req.ExecutorType,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondCreated(w, map[string]string{"task_id": id})
}

type assignDataRequest struct {
	Inputs  task.BindingMap `json:"inputs"`
	Outputs task.BindingMap `json:"outputs"`
}

func (s *Server) handleAssignData(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req assignDataRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	err := s.mgmt.AssignData(r.Context(), credentialFromRequest(r), taskID, management.AssignDataRequest{
		Inputs:  req.Inputs,
		Outputs: req.Outputs,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if err := s.mgmt.ApproveTask(r.Context(), credentialFromRequest(r), taskID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

func (s *Server) handleInvokeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if err := s.mgmt.InvokeTask(r.Context(), credentialFromRequest(r), taskID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	view, err := s.mgmt.GetTask(r.Context(), credentialFromRequest(r), taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
