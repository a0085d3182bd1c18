// Package rpc implements the wire protocol of spec §6: length-prefixed
// JSON request/response messages exchanged over an attested-mTLS
// connection (internal/transport/attestation).
package rpc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
)

// MaxMessageSize bounds a single message to guard against a malformed or
// hostile length prefix forcing an unbounded allocation.
const MaxMessageSize = 64 << 20 // 64 MiB

// Envelope is the outer message shape every user-reachable endpoint uses:
// Credential carries the caller's (id, token) pair (spec §6), Method names
// the operation, and Payload is the operation-specific request or response
// body.
type Envelope struct {
	Credential Credential      `json:"credential,omitempty"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      *WireError      `json:"error,omitempty"`
}

// Credential is the id+token pair forwarded on every user-reachable call.
type Credential struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// WireError is the serialized form of infrastructure/errors.ServiceError
// carried back in a response Envelope on failure.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Conn frames Envelope messages over an underlying stream connection with a
// 4-byte big-endian length prefix, as spec §6 specifies. WriteEnvelope
// serializes concurrent writers with its own mutex; ReadEnvelope takes no
// lock, so only one goroutine may read at a time.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps an established (and, in production, attestation-verified)
// net.Conn for framed Envelope exchange.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// WriteEnvelope serializes env to JSON and writes it length-prefixed.
func (c *Conn) WriteEnvelope(env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpc: marshal envelope: %w", err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("rpc: envelope of %d bytes exceeds max message size %d", len(body), MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := c.nc.Write(prefix[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := c.nc.Write(body); err != nil {
		return fmt.Errorf("rpc: write body: %w", err)
	}
	return nil
}

// ReadEnvelope blocks until one complete framed Envelope has been read.
func (c *Conn) ReadEnvelope() (*Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("rpc: incoming message of %d bytes exceeds max message size %d", size, MaxMessageSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("rpc: read body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// EncodePayload marshals v into a json.RawMessage suitable for Envelope.Payload.
func EncodePayload(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload unmarshals env's payload into v.
func DecodePayload(env *Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("rpc: empty payload")
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("rpc: decode payload: %w", err)
	}
	return nil
}
