// Package client is the Scheduler service's RPC client. Its method set
// satisfies executor.Scheduler by structural typing, letting cmd/workerd
// drive a Scheduler running in its own process.
package client

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/task"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

const (
	MethodPullTask         = "SchedulerPullTask"
	MethodUpdateTaskStatus = "SchedulerUpdateTaskStatus"
	MethodUpdateTaskResult = "SchedulerUpdateTaskResult"
)

// Client calls a remote Scheduler service.
type Client struct{ rpc *rpc.Client }

// New wraps an rpc.Client as a Scheduler client.
func New(rpcClient *rpc.Client) *Client { return &Client{rpc: rpcClient} }

type pullTaskRequest struct{ ExecutorID string }
type pullTaskResponse struct {
	Staged task.Staged
	OK     bool
}

func (c *Client) PullTask(ctx context.Context, executorID string) (task.Staged, bool, error) {
	var resp pullTaskResponse
	if err := c.rpc.Do(ctx, MethodPullTask, pullTaskRequest{ExecutorID: executorID}, &resp); err != nil {
		return task.Staged{}, false, err
	}
	return resp.Staged, resp.OK, nil
}

type updateTaskStatusRequest struct {
	ExecutorID string
	TaskID     string
	Info       string
}

func (c *Client) UpdateTaskStatus(ctx context.Context, executorID, taskID, info string) error {
	req := updateTaskStatusRequest{ExecutorID: executorID, TaskID: taskID, Info: info}
	return c.rpc.Do(ctx, MethodUpdateTaskStatus, req, nil)
}

type updateTaskResultRequest struct {
	ExecutorID         string
	TaskID             string
	Succeeded          bool
	StatusInfo         string
	OutputTagsByDataID map[string][]byte
}

func (c *Client) UpdateTaskResult(ctx context.Context, executorID, taskID string, succeeded bool, statusInfo string, outputTagsByDataID map[string][]byte) error {
	req := updateTaskResultRequest{
		ExecutorID:         executorID,
		TaskID:             taskID,
		Succeeded:          succeeded,
		StatusInfo:         statusInfo,
		OutputTagsByDataID: outputTagsByDataID,
	}
	return c.rpc.Do(ctx, MethodUpdateTaskResult, req, nil)
}
