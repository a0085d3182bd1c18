// Package bootstrap builds the attestation identity and peer-verification
// policy every cmd/* entrypoint needs to join the attested-mTLS mesh of
// spec §4.7. A single-node or test deployment has no real platform quoting
// service, so every process signs its own identity with a SelfSignedSigner
// fixed to one shared enclave measurement — the same pattern
// _examples/r3e-network-service_layer/cmd/appserver/main.go uses for its
// "in-memory when unconfigured" fallback, applied here to attestation
// instead of storage.
package bootstrap

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/opaquemesh/platform/infrastructure/config"
	"github.com/opaquemesh/platform/internal/transport/attestation"
)

// AttestConfig is the flag/env surface every cmd/* main exposes for joining
// the mesh. All services in one deployment must agree on Measurement so
// each one's allowlist accepts the others.
type AttestConfig struct {
	CommonName  string
	Measurement string // hex-encoded 32 bytes; generated if empty
	QuoteStatus string // defaults to "OK"
	Validity    time.Duration
}

// Identity mints a fresh self-signed Identity plus the VerifierConfig peers
// should apply, both committed to the same enclave measurement.
func Identity(cfg AttestConfig) (*attestation.Identity, attestation.VerifierConfig, error) {
	measurement, err := resolveMeasurement(cfg.Measurement)
	if err != nil {
		return nil, attestation.VerifierConfig{}, err
	}
	status := attestation.QuoteStatus(config.GetEnv("ATTESTATION_QUOTE_STATUS", cfg.QuoteStatus))
	if status == "" {
		status = attestation.QuoteStatusOK
	}

	signer, err := attestation.NewSelfSignedSigner(measurement, status)
	if err != nil {
		return nil, attestation.VerifierConfig{}, fmt.Errorf("bootstrap: construct signer: %w", err)
	}

	validity := cfg.Validity
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	identity, err := attestation.NewIdentity(cfg.CommonName, validity, signer)
	if err != nil {
		return nil, attestation.VerifierConfig{}, fmt.Errorf("bootstrap: construct identity: %w", err)
	}

	verifier := attestation.DefaultVerifierConfig().WithAcceptedMeasurement(measurement[:])
	return identity, verifier, nil
}

// resolveMeasurement decodes hexMeasurement (falling back to the shared
// ATTESTATION_MEASUREMENT environment variable, then an all-zero
// development default) into the fixed-size array the signer and verifier
// both key off of.
func resolveMeasurement(hexMeasurement string) ([32]byte, error) {
	var measurement [32]byte
	raw := hexMeasurement
	if raw == "" {
		raw = config.GetEnv("ATTESTATION_MEASUREMENT", "")
	}
	if raw == "" {
		return measurement, nil // development default: all-zero measurement
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return measurement, fmt.Errorf("bootstrap: ATTESTATION_MEASUREMENT must be 32 hex-encoded bytes")
	}
	copy(measurement[:], decoded)
	return measurement, nil
}
