// Package client is the Storage service's RPC client, used by Management
// and the Scheduler to reach Storage across the enclave boundary. Its
// method set satisfies management.KVStore and scheduler.Queue by plain
// structural typing, the same interface-cycle-not-import-cycle pattern
// the in-process *storage.Service instances satisfy those interfaces with.
package client

import (
	"context"

	"github.com/opaquemesh/platform/internal/transport/rpc"
)

// Method names agreed between this client and cmd/storaged's dispatcher.
const (
	MethodGet        = "StorageGet"
	MethodPut        = "StoragePut"
	MethodDelete     = "StorageDelete"
	MethodEnqueue    = "StorageEnqueue"
	MethodDequeue    = "StorageDequeue"
	MethodQueueDepth = "StorageQueueDepth"
)

// Client calls a remote Storage service.
type Client struct{ rpc *rpc.Client }

// New wraps an rpc.Client as a Storage client.
func New(rpcClient *rpc.Client) *Client { return &Client{rpc: rpcClient} }

type getRequest struct{ Key string }
type getResponse struct {
	Value []byte
	OK    bool
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var resp getResponse
	if err := c.rpc.Do(ctx, MethodGet, getRequest{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.OK, nil
}

type putRequest struct {
	Key   string
	Value []byte
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	return c.rpc.Do(ctx, MethodPut, putRequest{Key: key, Value: value}, nil)
}

type deleteRequest struct{ Key string }

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rpc.Do(ctx, MethodDelete, deleteRequest{Key: key}, nil)
}

type enqueueRequest struct {
	Queue string
	Value []byte
}

func (c *Client) Enqueue(ctx context.Context, queue string, value []byte) error {
	return c.rpc.Do(ctx, MethodEnqueue, enqueueRequest{Queue: queue, Value: value}, nil)
}

type dequeueRequest struct{ Queue string }
type dequeueResponse struct {
	Value []byte
	OK    bool
}

func (c *Client) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	var resp dequeueResponse
	if err := c.rpc.Do(ctx, MethodDequeue, dequeueRequest{Queue: queue}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.OK, nil
}

type queueDepthRequest struct{ Queue string }
type queueDepthResponse struct{ Depth uint32 }

func (c *Client) QueueDepth(ctx context.Context, queue string) (uint32, error) {
	var resp queueDepthResponse
	if err := c.rpc.Do(ctx, MethodQueueDepth, queueDepthRequest{Queue: queue}, &resp); err != nil {
		return 0, err
	}
	return resp.Depth, nil
}
