package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/opaquemesh/platform/internal/transport/attestation"
)

// Client is a reusable attested-mTLS connection to one peer service. Every
// per-service client package (internal/services/*/client) embeds one and
// adds typed methods over it, mirroring the teacher's per-service HTTP
// client subpackages but over the framed RPC transport of spec §6.
//
// Calls on one Client are serialized with a mutex: a single connection
// handles one request at a time (spec §5), and re-dials lazily if the
// connection has not been established yet or was closed by the peer.
type Client struct {
	addr     string
	identity *attestation.Identity
	verifier attestation.VerifierConfig
	cred     Credential

	mu   sync.Mutex
	conn *Conn
}

// ClientConfig names the peer and the identity a Client dials with.
type ClientConfig struct {
	Addr       string
	Identity   *attestation.Identity
	Verifier   attestation.VerifierConfig
	Credential Credential
}

// NewClient constructs a Client. The connection is established lazily on
// first Do call, not by NewClient itself, so a dependent service can start
// before every peer it talks to is reachable.
func NewClient(cfg ClientConfig) *Client {
	return &Client{addr: cfg.Addr, identity: cfg.Identity, verifier: cfg.Verifier, cred: cfg.Credential}
}

// Do sends method with req (nil-able) and decodes the response into resp
// (nil-able), dialing a fresh connection first if none is open. The
// Client's own configured Credential is forwarded, suiting service-to-
// service calls that act under one fixed service identity.
func (c *Client) Do(ctx context.Context, method string, req, resp interface{}) error {
	return c.DoAs(ctx, c.cred, method, req, resp)
}

// DoAs is Do with an explicit Credential, for callers (the frontend
// ingress) that forward a different end-user credential on every call over
// one shared connection.
func (c *Client) DoAs(ctx context.Context, cred Credential, method string, req, resp interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := Dial(ctx, c.addr, c.identity, c.verifier)
		if err != nil {
			return fmt.Errorf("rpc client: dial %s: %w", c.addr, err)
		}
		c.conn = conn
	}

	if err := Call(c.conn, cred, method, req, resp); err != nil {
		c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
