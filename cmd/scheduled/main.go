// Command scheduled runs the Scheduler service of spec §4.5: the
// pull_task/update_task_status/update_task_result API Executors drive, and
// the liveness sweep that requeues or fails a task left behind by a
// crashed executor.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/infrastructure/metrics"
	"github.com/opaquemesh/platform/internal/bootstrap"
	"github.com/opaquemesh/platform/internal/services/scheduler"
	storageclient "github.com/opaquemesh/platform/internal/services/storage/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"

	mgmtclient "github.com/opaquemesh/platform/internal/services/management/client"
)

func main() {
	addr := flag.String("addr", "", "listen address (default :8085 or $SCHEDULER_ADDR)")
	storageAddr := flag.String("storage-addr", "", "Storage service address (default $STORAGE_ADDR)")
	mgmtAddr := flag.String("management-addr", "", "Management service address (default $MANAGEMENT_ADDR)")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	liveness := flag.Duration("liveness", 0, "silence window before an executor is presumed crashed (default 30s or $SCHEDULER_LIVENESS_SECONDS)")
	cronSpec := flag.String("liveness-cron", "", "cron spec for the liveness sweep (default every 10s or $SCHEDULER_LIVENESS_CRON)")
	redisAddr := flag.String("redis-addr", "", "shared executor registry Redis address; leave empty for a single-replica in-process registry")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GetEnv("SCHEDULER_ADDR", ":8085")
	}
	storageAddrVal := *storageAddr
	if storageAddrVal == "" {
		storageAddrVal = config.GetEnv("STORAGE_ADDR", "localhost:8083")
	}
	mgmtAddrVal := *mgmtAddr
	if mgmtAddrVal == "" {
		mgmtAddrVal = config.GetEnv("MANAGEMENT_ADDR", "localhost:8084")
	}
	livenessVal := *liveness
	if livenessVal <= 0 {
		livenessVal = time.Duration(config.GetEnvInt("SCHEDULER_LIVENESS_SECONDS", 30)) * time.Second
	}
	cronSpecVal := *cronSpec
	if cronSpecVal == "" {
		cronSpecVal = config.GetEnv("SCHEDULER_LIVENESS_CRON", "@every 10s")
	}
	redisAddrVal := *redisAddr
	if redisAddrVal == "" {
		redisAddrVal = config.GetEnv("SCHEDULER_REDIS_ADDR", "")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("scheduled: build logger: %v", err)
	}
	defer logger.Sync()

	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "scheduler",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("scheduled: build attestation identity: %v", err)
	}

	storageRPC := rpc.NewClient(rpc.ClientConfig{Addr: storageAddrVal, Identity: identity, Verifier: verifier})
	queue := storageclient.New(storageRPC)

	mgmtRPC := rpc.NewClient(rpc.ClientConfig{Addr: mgmtAddrVal, Identity: identity, Verifier: verifier})
	coord := mgmtclient.New(mgmtRPC)

	svc := scheduler.New(queue, coord, logger, livenessVal)
	svc.SetMetrics(metrics.Init("scheduler"))

	if redisAddrVal != "" {
		rc := goredis.NewClient(&goredis.Options{Addr: redisAddrVal})
		svc.SetRegistry(scheduler.NewRedisRegistry(rc, 10*livenessVal))
		log.Printf("scheduled: sharing executor registry via redis at %s", redisAddrVal)
	}

	if err := svc.StartLivenessSweep(cronSpecVal); err != nil {
		log.Fatalf("scheduled: start liveness sweep: %v", err)
	}
	defer svc.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("scheduled: listen on %s: %v", listenAddr, err)
	}

	server := &rpc.Server{Identity: identity, Verifier: verifier, Handler: scheduler.Handler(svc)}
	log.Printf("scheduled: listening on %s", listenAddr)
	if err := server.Serve(ctx, ln); err != nil {
		log.Fatalf("scheduled: serve: %v", err)
	}
}
