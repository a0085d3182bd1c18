// Package client is the Access Control service's RPC client. Its method
// set satisfies management.AccessChecker by structural typing.
package client

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

const (
	MethodUserAccessData     = "AccessUserAccessData"
	MethodUserAccessFunction = "AccessUserAccessFunction"
	MethodUserAccessTask     = "AccessUserAccessTask"
	MethodTaskAccessStaged   = "AccessTaskAccessStaged"
)

// Client calls a remote Access Control service.
type Client struct{ rpc *rpc.Client }

// New wraps an rpc.Client as an Access Control client.
func New(rpcClient *rpc.Client) *Client { return &Client{rpc: rpcClient} }

type dataAccessRequest struct {
	UserID string
	ID     string
}
type accessResponse struct{ Allowed bool }

func (c *Client) UserAccessData(ctx context.Context, userID, dataID string) (bool, error) {
	var resp accessResponse
	if err := c.rpc.Do(ctx, MethodUserAccessData, dataAccessRequest{UserID: userID, ID: dataID}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

func (c *Client) UserAccessFunction(ctx context.Context, userID, functionID string) (bool, error) {
	var resp accessResponse
	if err := c.rpc.Do(ctx, MethodUserAccessFunction, dataAccessRequest{UserID: userID, ID: functionID}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

func (c *Client) UserAccessTask(ctx context.Context, userID, taskID string) (bool, error) {
	var resp accessResponse
	if err := c.rpc.Do(ctx, MethodUserAccessTask, dataAccessRequest{UserID: userID, ID: taskID}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

type taskAccessStagedRequest struct{ Staged task.Staged }

// TaskAccessStaged satisfies management.AccessChecker's last predicate:
// whether a resolved staged task may read its function and every input and
// output data item (spec §4.2).
func (c *Client) TaskAccessStaged(ctx context.Context, staged task.Staged) (bool, error) {
	var resp accessResponse
	if err := c.rpc.Do(ctx, MethodTaskAccessStaged, taskAccessStagedRequest{Staged: staged}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}
