// Package frontend is the HTTP ingress of spec §4.6: it terminates plain
// HTTP from end users, extracts the (user-id, token) credential each
// request carries, and forwards it unmodified over attested RPC to
// Authentication and Management. It never verifies a token itself — the
// process-local signing key in internal/services/authentication is never
// persisted or shared (spec §4.1), so only Authentication itself can decide
// whether a credential is valid. This mirrors the gateway-forwards,
// services-decide split _examples/r3e-network-service_layer's gateway
// package uses for its own downstream service calls.
package frontend

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/infrastructure/httputil"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/infrastructure/metrics"
	"github.com/opaquemesh/platform/infrastructure/middleware"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/user"
	"github.com/opaquemesh/platform/internal/services/management"
)

// AuthClient is the subset of authentication/client.Client the frontend
// forwards user-account operations to.
type AuthClient interface {
	Register(ctx context.Context, id, password string, role user.Role) error
	Login(ctx context.Context, id, password string) (string, error)
	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
	ResetPassword(ctx context.Context, id, newPassword string) error
	Delete(ctx context.Context, id string) error
}

// ManagementClient is the subset of management/client.Client the frontend
// forwards function/data/task operations to.
type ManagementClient interface {
	RegisterFunction(ctx context.Context, cred credential.Credential, req management.RegisterFunctionRequest) (string, error)
	GetFunction(ctx context.Context, cred credential.Credential, functionID string) (function.Definition, error)
	DeleteFunction(ctx context.Context, cred credential.Credential, functionID string) error
	RegisterInputFile(ctx context.Context, cred credential.Credential, url string, tag []byte, crypto datafile.CryptoSpec) (string, error)
	RegisterOutputFile(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec) (string, error)
	RegisterFusionOutput(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec, owners []string) (string, error)
	RegisterInputFromOutput(ctx context.Context, cred credential.Credential, dataID string) (string, error)
	CreateTask(ctx context.Context, cred credential.Credential, req management.CreateTaskRequest) (string, error)
	AssignData(ctx context.Context, cred credential.Credential, taskID string, req management.AssignDataRequest) error
	ApproveTask(ctx context.Context, cred credential.Credential, taskID string) error
	InvokeTask(ctx context.Context, cred credential.Credential, taskID string) error
	GetTask(ctx context.Context, cred credential.Credential, taskID string) (management.TaskView, error)
}

// Server wires AuthClient and ManagementClient behind a chi router.
type Server struct {
	auth     AuthClient
	mgmt     ManagementClient
	log      *logging.Logger
	validate *validator.Validate
	cfg      Config
	metrics  *metrics.Metrics
	health   *middleware.HealthChecker
}

// Config names the collaborators and middleware Server builds its router
// from.
type Config struct {
	Auth               AuthClient
	Management         ManagementClient
	Log                *logging.Logger
	RateLimitPerSecond int
	RateLimitBurst     int
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
	Version            string
}

// New constructs a Server.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.New("frontend", "info", "json")
	}
	return &Server{
		auth:     cfg.Auth,
		mgmt:     cfg.Management,
		log:      log,
		validate: validator.New(),
		cfg:      cfg,
		metrics:  metrics.Init("frontend"),
		health:   middleware.NewHealthChecker(cfg.Version),
	}
}

// MarkReady flips the readiness probe once downstream collaborators
// (Authentication, Management) are dialed, matching the teacher's
// startup-grace-then-ready probe sequencing for its own gateway.
func (s *Server) MarkReady() {
	s.health.SetReady(true)
}

// Router builds the chi router exposing every spec §6 operation reachable
// over HTTP, with the same ambient middleware stack
// (recovery/timeout/body-limit/rate-limit/security-headers/CORS/logging)
// the teacher's HTTP services apply.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(s.log)
	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(s.log))
	r.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	r.Use(middleware.NewCORSMiddleware(nil).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(s.cfg.MaxBodyBytes).Handler)
	r.Use(middleware.NewTimeoutMiddleware(s.cfg.RequestTimeout).Handler)
	r.Use(middleware.ChiMetricsMiddleware("frontend", s.metrics))
	if s.cfg.RateLimitPerSecond > 0 {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerSecond, s.cfg.RateLimitBurst, s.log)
		r.Use(limiter.Handler)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.health.Handler())
	r.Get("/readyz", s.health.ReadinessHandler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/change-password", s.handleChangePassword)
		r.Post("/reset-password", s.handleResetPassword)
		r.Delete("/users/{id}", s.handleDeleteUser)
	})

	r.Route("/v1/functions", func(r chi.Router) {
		r.Post("/", s.handleRegisterFunction)
		r.Get("/{id}", s.handleGetFunction)
		r.Delete("/{id}", s.handleDeleteFunction)
	})

	r.Route("/v1/data", func(r chi.Router) {
		r.Post("/input", s.handleRegisterInputFile)
		r.Post("/output", s.handleRegisterOutputFile)
		r.Post("/fusion", s.handleRegisterFusionOutput)
		r.Post("/{id}/input-from-output", s.handleRegisterInputFromOutput)
	})

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/assign-data", s.handleAssignData)
		r.Post("/{id}/approve", s.handleApproveTask)
		r.Post("/{id}/invoke", s.handleInvokeTask)
	})

	return r
}

// credentialFromRequest reads the end-user credential off the inbound HTTP
// request: the X-User-ID header names the claimed user, and the bearer
// token in Authorization carries the signed proof Authentication alone can
// verify. A request lacking either header still reaches the downstream
// service, which rejects it as an invalid credential — the frontend makes
// no accept/reject decision of its own.
func credentialFromRequest(r *http.Request) credential.Credential {
	userID := r.Header.Get("X-User-ID")
	token := ""
	if auth := r.Header.Get("Authorization"); len(auth) > len("Bearer ") && auth[:7] == "Bearer " {
		token = auth[7:]
	}
	return credential.Credential{UserID: userID, Token: token}
}

// writeServiceError maps a downstream error onto an HTTP status. Errors
// from an in-process service arrive as *errors.ServiceError directly; an
// RPC client surfaces the same information as a wrapped "rpc: ...: <kind>:
// <message>" error instead, so wireKindStatus falls back to inspecting the
// message for one of spec §7's seven wire-kind names.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if se := errors.GetServiceError(err); se != nil {
		httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	status := wireKindStatus(err.Error())
	httputil.WriteErrorResponse(w, r, status, "", err.Error(), nil)
}

// wireKindStatus maps one of spec §7's seven wire-kind names, if present in
// msg, to an HTTP status code.
func wireKindStatus(msg string) int {
	for kind, status := range wireKindHTTPStatus {
		if containsKind(msg, kind) {
			return status
		}
	}
	return http.StatusInternalServerError
}

var wireKindHTTPStatus = map[string]int{
	errors.WireKindPermissionDenied:  http.StatusForbidden,
	errors.WireKindNotFound:          http.StatusNotFound,
	errors.WireKindConflict:          http.StatusConflict,
	errors.WireKindInvalidArgument:   http.StatusBadRequest,
	errors.WireKindResourceExhausted: http.StatusTooManyRequests,
	errors.WireKindTimeout:           http.StatusGatewayTimeout,
	errors.WireKindInternal:          http.StatusInternalServerError,
}

func containsKind(msg, kind string) bool {
	for i := 0; i+len(kind) <= len(msg); i++ {
		if msg[i:i+len(kind)] == kind {
			return true
		}
	}
	return false
}
