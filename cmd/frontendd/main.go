// Command frontendd runs the Frontend HTTP ingress of spec §4.6: it
// terminates plain HTTP from end users and forwards every request over
// attested-mTLS to Authentication and Management. Unlike the other six
// services it listens on plain HTTP, not the attested-mTLS rpc transport
// those use amongst themselves — Frontend is the system's one public
// boundary.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/infrastructure/middleware"
	"github.com/opaquemesh/platform/internal/bootstrap"
	authclient "github.com/opaquemesh/platform/internal/services/authentication/client"
	"github.com/opaquemesh/platform/internal/services/frontend"
	mgmtclient "github.com/opaquemesh/platform/internal/services/management/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (default :8080 or $FRONTEND_ADDR)")
	authAddr := flag.String("auth-addr", "", "Authentication service address (default $AUTH_ADDR)")
	mgmtAddr := flag.String("management-addr", "", "Management service address (default $MANAGEMENT_ADDR)")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	rateLimit := flag.Int("rate-limit", 0, "requests per second per client (default $FRONTEND_RATE_LIMIT or 50; FRONTEND_RATE_LIMIT=0 disables)")
	rateBurst := flag.Int("rate-burst", 0, "burst size for the rate limiter (default $FRONTEND_RATE_BURST)")
	requestTimeout := flag.Duration("request-timeout", 0, "per-request timeout (default 30s)")
	maxBodyBytes := flag.Int64("max-body-bytes", 0, "maximum request body size in bytes (default 1MiB)")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GetEnv("FRONTEND_ADDR", ":8080")
	}
	authAddrVal := *authAddr
	if authAddrVal == "" {
		authAddrVal = config.GetEnv("AUTH_ADDR", "localhost:8081")
	}
	mgmtAddrVal := *mgmtAddr
	if mgmtAddrVal == "" {
		mgmtAddrVal = config.GetEnv("MANAGEMENT_ADDR", "localhost:8084")
	}
	rateLimitVal := *rateLimit
	if rateLimitVal == 0 {
		rateLimitVal = config.GetEnvInt("FRONTEND_RATE_LIMIT", 50)
	}
	rateBurstVal := *rateBurst
	if rateBurstVal == 0 {
		rateBurstVal = config.GetEnvInt("FRONTEND_RATE_BURST", 100)
	}
	timeoutVal := *requestTimeout
	if timeoutVal <= 0 {
		timeoutVal = 30 * time.Second
	}
	maxBodyVal := *maxBodyBytes
	if maxBodyVal == 0 {
		maxBodyVal = int64(config.GetEnvInt("FRONTEND_MAX_BODY_BYTES", 1<<20))
	}

	// Frontend only dials out, so it still needs an attestation identity
	// to present on its client connections to Authentication and
	// Management, even though it never itself accepts an rpc.Server
	// connection (spec §4.6, §4.7).
	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "frontend",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("frontendd: build attestation identity: %v", err)
	}

	authRPC := rpc.NewClient(rpc.ClientConfig{Addr: authAddrVal, Identity: identity, Verifier: verifier})
	auth := authclient.New(authRPC)

	mgmtRPC := rpc.NewClient(rpc.ClientConfig{Addr: mgmtAddrVal, Identity: identity, Verifier: verifier})
	mgmt := mgmtclient.New(mgmtRPC)

	logger := logging.NewFromEnv("frontend")

	server := frontend.New(frontend.Config{
		Auth:               auth,
		Management:         mgmt,
		Log:                logger,
		RateLimitPerSecond: rateLimitVal,
		RateLimitBurst:     rateBurstVal,
		RequestTimeout:     timeoutVal,
		MaxBodyBytes:       maxBodyVal,
		Version:            config.GetEnv("FRONTEND_VERSION", "dev"),
	})
	server.MarkReady()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: server.Router(),
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 15*time.Second)
	shutdown.OnShutdown(func() {
		authRPC.Close()
		mgmtRPC.Close()
	})
	shutdown.ListenForSignals()

	log.Printf("frontendd: listening on %s, forwarding to auth=%s management=%s", listenAddr, authAddrVal, mgmtAddrVal)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("frontendd: serve: %v", err)
	}
	shutdown.Wait()
}
