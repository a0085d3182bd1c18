// Package client is Management's RPC client. Client carries the full
// external API of spec §6 for the frontend ingress and the
// MarkRunning/ResultUpdate pair the Scheduler calls as its
// scheduler.TaskCoordinator. PolicySourceClient is the separate, narrower
// type cmd/accessd wires in as its accesscontrol.PolicySource, since
// management.PolicySource itself can only be constructed inside the
// management package (it closes over *Service's unexported methods) —
// PolicySourceClient is the RPC-reachable substitute for a process that
// cannot hold a *management.Service directly.
package client

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
	"github.com/opaquemesh/platform/internal/domain/function"
	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/services/management"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

const (
	MethodRegisterFunction       = "ManagementRegisterFunction"
	MethodGetFunction            = "ManagementGetFunction"
	MethodDeleteFunction         = "ManagementDeleteFunction"
	MethodRegisterInputFile      = "ManagementRegisterInputFile"
	MethodRegisterOutputFile     = "ManagementRegisterOutputFile"
	MethodRegisterFusionOutput   = "ManagementRegisterFusionOutput"
	MethodRegisterInputFromOut   = "ManagementRegisterInputFromOutput"
	MethodCreateTask             = "ManagementCreateTask"
	MethodAssignData             = "ManagementAssignData"
	MethodApproveTask            = "ManagementApproveTask"
	MethodInvokeTask             = "ManagementInvokeTask"
	MethodGetTask                = "ManagementGetTask"
	MethodMarkRunning            = "ManagementMarkRunning"
	MethodResultUpdate           = "ManagementResultUpdate"
	MethodPolicyGetData          = "ManagementPolicyGetData"
	MethodPolicyGetFunction      = "ManagementPolicyGetFunction"
	MethodPolicyGetTask          = "ManagementPolicyGetTask"
)

// Client calls a remote Management service under a per-call end-user
// credential (the frontend forwards whichever credential the inbound HTTP
// request carried), or under the Scheduler's own fixed service identity
// for MarkRunning/ResultUpdate.
type Client struct{ rpc *rpc.Client }

// New wraps an rpc.Client as a Management client.
func New(rpcClient *rpc.Client) *Client { return &Client{rpc: rpcClient} }

type credRequest struct {
	Credential credential.Credential
}

type registerFunctionRequest struct {
	Credential credential.Credential
	Request    management.RegisterFunctionRequest
}
type registerFunctionResponse struct{ FunctionID string }

func (c *Client) RegisterFunction(ctx context.Context, cred credential.Credential, req management.RegisterFunctionRequest) (string, error) {
	var resp registerFunctionResponse
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodRegisterFunction, registerFunctionRequest{Credential: cred, Request: req}, &resp); err != nil {
		return "", err
	}
	return resp.FunctionID, nil
}

type functionIDRequest struct {
	Credential credential.Credential
	FunctionID string
}

func (c *Client) GetFunction(ctx context.Context, cred credential.Credential, functionID string) (function.Definition, error) {
	var resp function.Definition
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodGetFunction, functionIDRequest{Credential: cred, FunctionID: functionID}, &resp); err != nil {
		return function.Definition{}, err
	}
	return resp, nil
}

func (c *Client) DeleteFunction(ctx context.Context, cred credential.Credential, functionID string) error {
	return c.rpc.DoAs(ctx, toWireCred(cred), MethodDeleteFunction, functionIDRequest{Credential: cred, FunctionID: functionID}, nil)
}

type registerInputFileRequest struct {
	Credential credential.Credential
	URL        string
	Tag        []byte
	Crypto     datafile.CryptoSpec
}
type dataIDResponse struct{ DataID string }

func (c *Client) RegisterInputFile(ctx context.Context, cred credential.Credential, url string, tag []byte, crypto datafile.CryptoSpec) (string, error) {
	var resp dataIDResponse
	req := registerInputFileRequest{Credential: cred, URL: url, Tag: tag, Crypto: crypto}
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodRegisterInputFile, req, &resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

type registerOutputFileRequest struct {
	Credential credential.Credential
	URL        string
	Crypto     datafile.CryptoSpec
}

func (c *Client) RegisterOutputFile(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec) (string, error) {
	var resp dataIDResponse
	req := registerOutputFileRequest{Credential: cred, URL: url, Crypto: crypto}
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodRegisterOutputFile, req, &resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

type registerFusionOutputRequest struct {
	Credential credential.Credential
	URL        string
	Crypto     datafile.CryptoSpec
	Owners     []string
}

func (c *Client) RegisterFusionOutput(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec, owners []string) (string, error) {
	var resp dataIDResponse
	req := registerFusionOutputRequest{Credential: cred, URL: url, Crypto: crypto, Owners: owners}
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodRegisterFusionOutput, req, &resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

type registerInputFromOutputRequest struct {
	Credential credential.Credential
	DataID     string
}

func (c *Client) RegisterInputFromOutput(ctx context.Context, cred credential.Credential, dataID string) (string, error) {
	var resp dataIDResponse
	req := registerInputFromOutputRequest{Credential: cred, DataID: dataID}
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodRegisterInputFromOut, req, &resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

type createTaskRequest struct {
	Credential credential.Credential
	Request    management.CreateTaskRequest
}
type taskIDResponse struct{ TaskID string }

func (c *Client) CreateTask(ctx context.Context, cred credential.Credential, req management.CreateTaskRequest) (string, error) {
	var resp taskIDResponse
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodCreateTask, createTaskRequest{Credential: cred, Request: req}, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

type assignDataRequest struct {
	Credential credential.Credential
	TaskID     string
	Request    management.AssignDataRequest
}

func (c *Client) AssignData(ctx context.Context, cred credential.Credential, taskID string, req management.AssignDataRequest) error {
	r := assignDataRequest{Credential: cred, TaskID: taskID, Request: req}
	return c.rpc.DoAs(ctx, toWireCred(cred), MethodAssignData, r, nil)
}

type taskIDRequest struct {
	Credential credential.Credential
	TaskID     string
}

func (c *Client) ApproveTask(ctx context.Context, cred credential.Credential, taskID string) error {
	return c.rpc.DoAs(ctx, toWireCred(cred), MethodApproveTask, taskIDRequest{Credential: cred, TaskID: taskID}, nil)
}

func (c *Client) InvokeTask(ctx context.Context, cred credential.Credential, taskID string) error {
	return c.rpc.DoAs(ctx, toWireCred(cred), MethodInvokeTask, taskIDRequest{Credential: cred, TaskID: taskID}, nil)
}

func (c *Client) GetTask(ctx context.Context, cred credential.Credential, taskID string) (management.TaskView, error) {
	var resp management.TaskView
	if err := c.rpc.DoAs(ctx, toWireCred(cred), MethodGetTask, taskIDRequest{Credential: cred, TaskID: taskID}, &resp); err != nil {
		return management.TaskView{}, err
	}
	return resp, nil
}

// MarkRunning and ResultUpdate back scheduler.TaskCoordinator: called under
// the Scheduler's own fixed service credential, not an end user's.

type markRunningRequest struct{ TaskID string }

func (c *Client) MarkRunning(ctx context.Context, taskID string) error {
	return c.rpc.Do(ctx, MethodMarkRunning, markRunningRequest{TaskID: taskID}, nil)
}

type resultUpdateRequest struct {
	TaskID              string
	Succeeded           bool
	StatusInfo          string
	OutputTagsByDataID  map[string][]byte
}

func (c *Client) ResultUpdate(ctx context.Context, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error {
	req := resultUpdateRequest{TaskID: taskID, Succeeded: succeeded, StatusInfo: statusInfo, OutputTagsByDataID: outputTagsByDataID}
	return c.rpc.Do(ctx, MethodResultUpdate, req, nil)
}

// toWireCred copies a domain credential.Credential into the rpc.Credential
// carried on the Envelope itself, so the receiving cmd/managed process's
// attested-RPC layer and its in-process Authenticate call agree on who the
// caller claims to be.
func toWireCred(cred credential.Credential) rpc.Credential {
	return rpc.Credential{ID: cred.UserID, Token: cred.Token}
}

// PolicySourceClient implements accesscontrol.PolicySource over RPC calls
// to cmd/managed's policy wire methods, for cmd/accessd to drive an
// Access Control instance running in its own process.
type PolicySourceClient struct{ rpc *rpc.Client }

// NewPolicySourceClient wraps an rpc.Client as a PolicySource.
func NewPolicySourceClient(rpcClient *rpc.Client) *PolicySourceClient {
	return &PolicySourceClient{rpc: rpcClient}
}

type policyIDRequest struct{ ID string }

func (p *PolicySourceClient) GetData(ctx context.Context, dataID string) (datafile.Record, bool, error) {
	var resp struct {
		Record datafile.Record
		OK     bool
	}
	if err := p.rpc.Do(ctx, MethodPolicyGetData, policyIDRequest{ID: dataID}, &resp); err != nil {
		return datafile.Record{}, false, err
	}
	return resp.Record, resp.OK, nil
}

func (p *PolicySourceClient) GetFunction(ctx context.Context, functionID string) (function.Definition, bool, error) {
	var resp struct {
		Definition function.Definition
		OK         bool
	}
	if err := p.rpc.Do(ctx, MethodPolicyGetFunction, policyIDRequest{ID: functionID}, &resp); err != nil {
		return function.Definition{}, false, err
	}
	return resp.Definition, resp.OK, nil
}

func (p *PolicySourceClient) GetTask(ctx context.Context, taskID string) (*task.Task, bool, error) {
	var resp struct {
		Task *task.Task
		OK   bool
	}
	if err := p.rpc.Do(ctx, MethodPolicyGetTask, policyIDRequest{ID: taskID}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Task, resp.OK, nil
}
