// Command authd runs the Authentication service of spec §4.1: user
// registration, login, password management, and the internal Authenticate
// check every other service calls to validate an inbound credential.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/internal/bootstrap"
	"github.com/opaquemesh/platform/internal/services/authentication"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

func main() {
	addr := flag.String("addr", "", "listen address (default :8081 or $AUTH_ADDR)")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	tokenTTL := flag.Duration("token-ttl", 0, "signed token lifetime (default 1h or $AUTH_TOKEN_TTL_SECONDS)")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GetEnv("AUTH_ADDR", ":8081")
	}
	ttl := *tokenTTL
	if ttl <= 0 {
		ttl = time.Duration(config.GetEnvInt("AUTH_TOKEN_TTL_SECONDS", 3600)) * time.Second
	}

	logger := logging.NewFromEnv("authentication")

	// The in-memory store is the development default; a durable deployment
	// would instead hand New a Store backed by the Storage service over
	// RPC, the same seam storaged's -dsn flag exposes for its own engine.
	store := authentication.NewMemStore()
	svc, err := authentication.New(store, logger, authentication.Config{TokenTTL: ttl})
	if err != nil {
		log.Fatalf("authd: construct service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "authentication",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("authd: build attestation identity: %v", err)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("authd: listen on %s: %v", listenAddr, err)
	}

	server := &rpc.Server{Identity: identity, Verifier: verifier, Handler: authentication.Handler(svc)}
	log.Printf("authd: listening on %s", listenAddr)
	if err := server.Serve(ctx, ln); err != nil {
		log.Fatalf("authd: serve: %v", err)
	}
}
