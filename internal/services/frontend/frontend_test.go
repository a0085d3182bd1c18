package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/user"
	"github.com/opaquemesh/platform/internal/services/management"
)

type stubAuth struct {
	loginToken string
	err        error
	registered []string
}

func (s *stubAuth) Register(_ context.Context, id, _ string, _ user.Role) error {
	if s.err != nil {
		return s.err
	}
	s.registered = append(s.registered, id)
	return nil
}
func (s *stubAuth) Login(_ context.Context, _, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.loginToken, nil
}
func (s *stubAuth) ChangePassword(_ context.Context, _, _, _ string) error { return s.err }
func (s *stubAuth) ResetPassword(_ context.Context, _, _ string) error    { return s.err }
func (s *stubAuth) Delete(_ context.Context, _ string) error              { return s.err }

type stubManagement struct {
	err        error
	functionID string
	dataID     string
	taskID     string
	taskView   management.TaskView
	lastCred   credential.Credential
}

func (s *stubManagement) RegisterFunction(_ context.Context, cred credential.Credential, _ management.RegisterFunctionRequest) (string, error) {
	s.lastCred = cred
	return s.functionID, s.err
}
func (s *stubManagement) GetFunction(_ context.Context, cred credential.Credential, _ string) (function.Definition, error) {
	s.lastCred = cred
	return function.Definition{ID: s.functionID}, s.err
}
func (s *stubManagement) DeleteFunction(_ context.Context, _ credential.Credential, _ string) error {
	return s.err
}
func (s *stubManagement) RegisterInputFile(_ context.Context, _ credential.Credential, _ string, _ []byte, _ datafile.CryptoSpec) (string, error) {
	return s.dataID, s.err
}
func (s *stubManagement) RegisterOutputFile(_ context.Context, _ credential.Credential, _ string, _ datafile.CryptoSpec) (string, error) {
	return s.dataID, s.err
}
func (s *stubManagement) RegisterFusionOutput(_ context.Context, _ credential.Credential, _ string, _ datafile.CryptoSpec, _ []string) (string, error) {
	return s.dataID, s.err
}
func (s *stubManagement) RegisterInputFromOutput(_ context.Context, _ credential.Credential, _ string) (string, error) {
	return s.dataID, s.err
}
func (s *stubManagement) CreateTask(_ context.Context, cred credential.Credential, _ management.CreateTaskRequest) (string, error) {
	s.lastCred = cred
	return s.taskID, s.err
}
func (s *stubManagement) AssignData(_ context.Context, _ credential.Credential, _ string, _ management.AssignDataRequest) error {
	return s.err
}
func (s *stubManagement) ApproveTask(_ context.Context, _ credential.Credential, _ string) error {
	return s.err
}
func (s *stubManagement) InvokeTask(_ context.Context, _ credential.Credential, _ string) error {
	return s.err
}
func (s *stubManagement) GetTask(_ context.Context, _ credential.Credential, _ string) (management.TaskView, error) {
	return s.taskView, s.err
}

func newTestServer(auth *stubAuth, mgmt *stubManagement) *Server {
	return New(Config{Auth: auth, Management: mgmt, MaxBodyBytes: 1 << 20})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterSuccess(t *testing.T) {
	auth := &stubAuth{}
	srv := newTestServer(auth, &stubManagement{})
	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/auth/register", registerRequest{
		ID: "alice", Password: "hunter2!", Role: user.RoleRegular,
	}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, auth.registered, "alice")
}

func TestHealthzAlwaysHealthy(t *testing.T) {
	srv := newTestServer(&stubAuth{}, &stubManagement{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzBeforeAndAfterMarkReady(t *testing.T) {
	srv := newTestServer(&stubAuth{}, &stubManagement{})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.MarkReady()
	rec = doRequest(t, srv.Router(), http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRegisterValidationFailure(t *testing.T) {
	srv := newTestServer(&stubAuth{}, &stubManagement{})
	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/auth/register", registerRequest{
		ID: "", Password: "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLoginSuccess(t *testing.T) {
	auth := &stubAuth{loginToken: "tok-123"}
	srv := newTestServer(auth, &stubManagement{})
	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/auth/login", loginRequest{
		ID: "alice", Password: "hunter2!",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok-123", resp.Token)
}

func TestHandleLoginForwardsServiceError(t *testing.T) {
	auth := &stubAuth{err: errors.Forbidden("bad credentials")}
	srv := newTestServer(auth, &stubManagement{})
	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/auth/login", loginRequest{
		ID: "alice", Password: "wrong",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleRegisterFunctionForwardsCredential(t *testing.T) {
	mgmt := &stubManagement{functionID: "fn-1"}
	srv := newTestServer(&stubAuth{}, mgmt)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/functions/", registerFunctionRequest{
		ExecutorType: function.ExecutorNative,
		Payload:      []byte("binary"),
	}, map[string]string{"X-User-ID": "alice", "Authorization": "Bearer tok-123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", mgmt.lastCred.UserID)
	assert.Equal(t, "tok-123", mgmt.lastCred.Token)
}

func TestHandleGetTaskNotFound(t *testing.T) {
	mgmt := &stubManagement{err: errors.NotFound("task", "missing")}
	srv := newTestServer(&stubAuth{}, mgmt)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/tasks/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialFromRequestMissingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/abc", nil)
	cred := credentialFromRequest(req)
	assert.Empty(t, cred.UserID)
	assert.Empty(t, cred.Token)
}

func TestWireKindStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, wireKindStatus("rpc: GetTask: PermissionDenied: nope"))
	assert.Equal(t, http.StatusNotFound, wireKindStatus("rpc: GetTask: NotFound: nope"))
	assert.Equal(t, http.StatusInternalServerError, wireKindStatus("boom"))
}
