package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when a service should fail closed on
// identity/security boundaries (e.g. only trust peer identity headers
// protected by a verified attested-mTLS channel, spec §4.7).
//
// We treat a pinned ATTESTATION_MEASUREMENT (a real enclave measurement
// rather than the all-zero development default) as "strict" too, so a
// mis-set OPAQUEMESH_ENV cannot silently weaken the trust boundary.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasPinnedMeasurement := strings.TrimSpace(os.Getenv("ATTESTATION_MEASUREMENT")) != ""
		strictIdentityModeValue = env == Production || hasPinnedMeasurement
	})
	return strictIdentityModeValue
}
