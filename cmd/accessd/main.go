// Command accessd runs the Access Control service of spec §4.2: the
// stateless predicate engine Management and the Executor's staged-task
// path both consult before a read/write/invoke is allowed to proceed.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/internal/bootstrap"
	"github.com/opaquemesh/platform/internal/services/accesscontrol"
	mgmtclient "github.com/opaquemesh/platform/internal/services/management/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

func main() {
	addr := flag.String("addr", "", "listen address (default :8082 or $ACCESS_ADDR)")
	mgmtAddr := flag.String("management-addr", "", "Management service address (default $MANAGEMENT_ADDR)")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GetEnv("ACCESS_ADDR", ":8082")
	}
	mgmtAddrVal := *mgmtAddr
	if mgmtAddrVal == "" {
		mgmtAddrVal = config.GetEnv("MANAGEMENT_ADDR", "localhost:8084")
	}

	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "accesscontrol",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("accessd: build attestation identity: %v", err)
	}

	// Access Control has no storage of its own: every predicate it answers
	// is a read against Management's records, reached here over RPC since
	// the two run in separate enclaves (spec §4.2, §5).
	mgmtRPC := rpc.NewClient(rpc.ClientConfig{Addr: mgmtAddrVal, Identity: identity, Verifier: verifier})
	source := mgmtclient.NewPolicySourceClient(mgmtRPC)
	svc := accesscontrol.New(source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("accessd: listen on %s: %v", listenAddr, err)
	}

	server := &rpc.Server{Identity: identity, Verifier: verifier, Handler: accesscontrol.Handler(svc)}
	log.Printf("accessd: listening on %s, forwarding policy reads to management at %s", listenAddr, mgmtAddrVal)
	if err := server.Serve(ctx, ln); err != nil {
		log.Fatalf("accessd: serve: %v", err)
	}
}
