// Command workerd runs an Executor worker of spec §4.6: it pulls a staged
// task from the Scheduler, resolves its inputs, invokes the function
// runtime, seals and uploads its outputs, and reports a terminal result.
// Unlike the other six services, a worker makes no inbound RPC calls of
// its own — scale-out is running more of this process (spec §4.6).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/internal/bootstrap"
	"github.com/opaquemesh/platform/internal/services/executor"
	"github.com/opaquemesh/platform/internal/services/fileagent"
	schedclient "github.com/opaquemesh/platform/internal/services/scheduler/client"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

func main() {
	executorID := flag.String("executor-id", "", "stable executor identity (default a generated one or $EXECUTOR_ID)")
	schedulerAddr := flag.String("scheduler-addr", "", "Scheduler service address (default $SCHEDULER_ADDR)")
	measurement := flag.String("measurement", "", "hex-encoded 32-byte enclave measurement shared by the cluster")
	stagingRoot := flag.String("staging-root", "", "staging directory root (default os.TempDir or $WORKER_STAGING_ROOT)")
	requestTimeout := flag.Duration("file-request-timeout", 0, "file-agent HTTP request timeout (default 30s)")
	masterKeyHex := flag.String("master-key", "", "hex-encoded per-file AEAD master key (default $WORKER_MASTER_KEY)")
	flag.Parse()

	idVal := *executorID
	if idVal == "" {
		idVal = config.GetEnv("EXECUTOR_ID", defaultExecutorID())
	}
	schedulerAddrVal := *schedulerAddr
	if schedulerAddrVal == "" {
		schedulerAddrVal = config.GetEnv("SCHEDULER_ADDR", "localhost:8085")
	}
	stagingRootVal := *stagingRoot
	if stagingRootVal == "" {
		stagingRootVal = config.GetEnv("WORKER_STAGING_ROOT", "")
	}
	timeoutVal := *requestTimeout
	if timeoutVal <= 0 {
		timeoutVal = 30 * time.Second
	}
	masterKey, err := resolveMasterKey(*masterKeyHex)
	if err != nil {
		log.Fatalf("workerd: %v", err)
	}

	identity, verifier, err := bootstrap.Identity(bootstrap.AttestConfig{
		CommonName:  "executor",
		Measurement: *measurement,
	})
	if err != nil {
		log.Fatalf("workerd: build attestation identity: %v", err)
	}

	schedulerRPC := rpc.NewClient(rpc.ClientConfig{Addr: schedulerAddrVal, Identity: identity, Verifier: verifier})
	schedulerClient := schedclient.New(schedulerRPC)

	agent := fileagent.New(timeoutVal)
	logger := logging.NewFromEnv("executor")

	worker := executor.New(executor.Config{
		ExecutorID:  idVal,
		StagingRoot: stagingRootVal,
		MasterKey:   masterKey,
	}, schedulerClient, agent, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("workerd: %s pulling from scheduler at %s", idVal, schedulerAddrVal)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("workerd: run: %v", err)
	}
}

func defaultExecutorID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "executor"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func resolveMasterKey(hexKey string) ([]byte, error) {
	raw := hexKey
	if raw == "" {
		raw = config.GetEnv("WORKER_MASTER_KEY", "")
	}
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return key, nil
}
