// Command managed runs the Management service of spec §4.4: the system of
// record for functions, data files, and tasks, and the task state machine
// that enforces spec §4.4/§4.5's multi-party approval protocol.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/infrastructure/metrics"
	"github.com/opaquemesh/platform/internal/bootstrap"
	"github.com/opaquemesh/platform/internal/services/accesscontrol"
	accessclient "github.com/opaquemesh/platform/internal/services/accesscontrol/client"
	authclient "github.com/opaquemesh/platform/internal/services/authentication/client"
	"github.com/opaquemesh/platform/internal/services/management"
	storageclient "github.com/opaquemesh/platform/internal/services/storage/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

func main() {
	addr := flag.String("addr", "", "listen address (default :8084 or $MANAGEMENT_ADDR)")
	storageAddr := flag.String("storage-addr", "", "Storage service address (default $STORAGE_ADDR)")
	authAddr := flag.String("auth-addr", "", "Authentication service address (default $AUTH_ADDR)")
	accessAddr := flag.String("access-addr", "", "Access Control service address; leave empty to run the engine in-process")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GetEnv("MANAGEMENT_ADDR", ":8084")
	}
	storageAddrVal := *storageAddr
	if storageAddrVal == "" {
		storageAddrVal = config.GetEnv("STORAGE_ADDR", "localhost:8083")
	}
	authAddrVal := *authAddr
	if authAddrVal == "" {
		authAddrVal = config.GetEnv("AUTH_ADDR", "localhost:8081")
	}
	accessAddrVal := *accessAddr
	if accessAddrVal == "" {
		accessAddrVal = config.GetEnv("ACCESS_ADDR", "")
	}

	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "management",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("managed: build attestation identity: %v", err)
	}

	storageRPC := rpc.NewClient(rpc.ClientConfig{Addr: storageAddrVal, Identity: identity, Verifier: verifier})
	store := storageclient.New(storageRPC)

	authRPC := rpc.NewClient(rpc.ClientConfig{Addr: authAddrVal, Identity: identity, Verifier: verifier})
	auth := authclient.New(authRPC)

	logger := logging.NewFromEnv("management")

	// Management and Access Control close a logical cycle: Access
	// Control's PolicySource is backed by this Service, and Management
	// consults Access Control as its AccessChecker. svc is built first
	// with access left nil, then wired in either direction depending on
	// whether a remote accessd was configured (matching cmd/storaged's
	// DSN-or-memory split for picking a deployment topology at boot).
	svc := management.New(store, nil, auth, logger)
	svc.SetMetrics(metrics.Init("management"))

	if accessAddrVal != "" {
		accessRPC := rpc.NewClient(rpc.ClientConfig{Addr: accessAddrVal, Identity: identity, Verifier: verifier})
		svc.SetAccess(accessclient.New(accessRPC))
		log.Printf("managed: using remote access control at %s", accessAddrVal)
	} else {
		svc.SetAccess(accesscontrol.New(management.NewPolicySource(svc)))
		log.Printf("managed: running access control in-process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("managed: listen on %s: %v", listenAddr, err)
	}

	server := &rpc.Server{Identity: identity, Verifier: verifier, Handler: management.Handler(svc)}
	log.Printf("managed: listening on %s", listenAddr)
	if err := server.Serve(ctx, ln); err != nil {
		log.Fatalf("managed: serve: %v", err)
	}
}
