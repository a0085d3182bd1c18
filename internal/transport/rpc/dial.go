package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/opaquemesh/platform/internal/transport/attestation"
)

// Dial establishes an attested-mTLS connection to addr and wraps it as a
// framed Conn, per spec §4.7/§6.
func Dial(ctx context.Context, addr string, identity *attestation.Identity, verifier attestation.VerifierConfig) (*Conn, error) {
	tlsCfg, err := attestation.ClientTLSConfig(identity, verifier)
	if err != nil {
		return nil, fmt.Errorf("rpc: build client tls config: %w", err)
	}
	dialer := &tls.Dialer{Config: tlsCfg}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

// Handler processes one request Envelope and returns the response Envelope
// to send back.
type Handler func(ctx context.Context, req *Envelope) *Envelope

// Server accepts attested-mTLS connections and dispatches each framed
// request to Handler, one connection's requests processed serially in the
// order received (matching the synchronous-RPC concurrency model of
// spec §5).
type Server struct {
	Identity *attestation.Identity
	Verifier attestation.VerifierConfig
	Handler  Handler
}

// Serve accepts connections on ln until ctx is canceled or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	tlsCfg, err := attestation.ServerTLSConfig(s.Identity, s.Verifier)
	if err != nil {
		return fmt.Errorf("rpc: build server tls config: %w", err)
	}
	tlsLn := tls.NewListener(ln, tlsCfg)

	go func() {
		<-ctx.Done()
		_ = tlsLn.Close()
	}()

	for {
		nc, err := tlsLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpc: accept: %w", err)
			}
		}
		go s.serveConn(ctx, nc)
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	conn := NewConn(nc)
	for {
		req, err := conn.ReadEnvelope()
		if err != nil {
			return
		}
		resp := s.Handler(ctx, req)
		if resp == nil {
			continue
		}
		if err := conn.WriteEnvelope(resp); err != nil {
			return
		}
	}
}
