package storage

import (
	"context"

	storageclient "github.com/opaquemesh/platform/internal/services/storage/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

type keyRequest struct{ Key string }
type getResponse struct {
	Value []byte
	OK    bool
}
type putRequest struct {
	Key   string
	Value []byte
}
type enqueueRequest struct {
	Queue string
	Value []byte
}
type queueRequest struct{ Queue string }
type dequeueResponse struct {
	Value []byte
	OK    bool
}
type queueDepthResponse struct{ Depth uint32 }

// Handler builds the rpc.Handler cmd/storaged registers with its
// rpc.Server, dispatching spec §4.3's Get/Put/Delete/Enqueue/Dequeue
// against svc. Every call already passes through svc's single-writer
// request channel (Run), so this handler adds no concurrency of its own.
func Handler(svc *Service) rpc.Handler {
	return func(ctx context.Context, req *rpc.Envelope) *rpc.Envelope {
		switch req.Method {
		case storageclient.MethodGet:
			var body keyRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			value, ok, err := svc.Get(ctx, body.Key)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, getResponse{Value: value, OK: ok})

		case storageclient.MethodPut:
			var body putRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.Put(ctx, body.Key, body.Value); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case storageclient.MethodDelete:
			var body keyRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.Delete(ctx, body.Key); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case storageclient.MethodEnqueue:
			var body enqueueRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			if err := svc.Enqueue(ctx, body.Queue, body.Value); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, nil)

		case storageclient.MethodDequeue:
			var body queueRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			value, ok, err := svc.Dequeue(ctx, body.Queue)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, dequeueResponse{Value: value, OK: ok})

		case storageclient.MethodQueueDepth:
			var body queueRequest
			if err := rpc.DecodePayload(req, &body); err != nil {
				return rpc.RespondError(req.Method, err)
			}
			depth, err := svc.QueueDepth(ctx, body.Queue)
			if err != nil {
				return rpc.RespondError(req.Method, err)
			}
			return rpc.Respond(req.Method, queueDepthResponse{Depth: depth})

		default:
			return rpc.RespondError(req.Method, unknownMethodError(req.Method))
		}
	}
}

type unknownMethodErr string

func (e unknownMethodErr) Error() string { return "storage: unknown method " + string(e) }

func unknownMethodError(method string) error { return unknownMethodErr(method) }
