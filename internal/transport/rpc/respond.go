package rpc

import (
	"fmt"

	"github.com/opaquemesh/platform/infrastructure/errors"
)

// Respond builds a successful response Envelope carrying payload, encoded
// under the same Method name as the request (so a caller can match
// responses to in-flight requests on one connection without a separate
// request-id field — spec §6 does not define one, and one connection's
// requests are handled serially per spec §5).
func Respond(method string, payload interface{}) *Envelope {
	body, err := EncodePayload(payload)
	if err != nil {
		return RespondError(method, err)
	}
	return &Envelope{Method: method, Payload: body}
}

// RespondError builds a failure response Envelope, mapping err onto one of
// spec §7's seven wire error kinds via errors.WireKind.
func RespondError(method string, err error) *Envelope {
	return &Envelope{
		Method: method,
		Error: &WireError{
			Code:    errors.WireKind(err),
			Message: err.Error(),
		},
	}
}

// Call writes a request Envelope for method carrying cred and req (if
// non-nil), blocks for the matching response, decodes it into resp (if
// non-nil), and surfaces a wire-level failure as a Go error. One Conn's
// calls must be serialized by the caller, matching the synchronous-RPC
// concurrency model of spec §5 (no request pipelining on a single
// connection).
func Call(conn *Conn, cred Credential, method string, req, resp interface{}) error {
	var payload []byte
	if req != nil {
		encoded, err := EncodePayload(req)
		if err != nil {
			return fmt.Errorf("rpc: encode %s request: %w", method, err)
		}
		payload = encoded
	}
	if err := conn.WriteEnvelope(&Envelope{Credential: cred, Method: method, Payload: payload}); err != nil {
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}
	respEnv, err := conn.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("rpc: receive %s response: %w", method, err)
	}
	if respEnv.Error != nil {
		return fmt.Errorf("rpc: %s: %s: %s", method, respEnv.Error.Code, respEnv.Error.Message)
	}
	if resp != nil {
		return DecodePayload(respEnv, resp)
	}
	return nil
}
