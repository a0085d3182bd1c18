package crypto

import (
	"crypto/subtle"
	"fmt"

	"github.com/opaquemesh/platform/internal/domain/datafile"
)

// ErrTagMismatch is returned by Open when the presented tag does not match
// the ciphertext's computed MAC — the read-side rejection spec §4.6 step 2
// and scenario 5 require before function code ever runs.
var ErrTagMismatch = fmt.Errorf("crypto: authentication tag mismatch")

// FileKey is the pair of keys a protected file is sealed/opened under: an
// AES-GCM encryption key and a separate HMAC key for the file's tag. The
// tag is computed over the ciphertext independently of the AEAD's own
// internal authentication, matching spec §3's "the tag is the MAC a
// producer computed over the ciphertext" — an integrity anchor callers can
// check before ever touching the decryption key.
type FileKey struct {
	EncKey []byte
	MacKey []byte
}

// keyBytes returns the per-algorithm key length a CryptoSpec declares,
// defaulting to 32 (AES-GCM-256) when unset.
func keyBytes(spec datafile.CryptoSpec) int {
	if spec.KeyBytes > 0 {
		return spec.KeyBytes
	}
	return 32
}

// DeriveFileKey derives the encryption and MAC keys for dataID from the
// enclave's process-local master key, per spec §9's crypto-spec-per-file
// model.
func DeriveFileKey(masterKey []byte, dataID string, spec datafile.CryptoSpec) (FileKey, error) {
	n := keyBytes(spec)
	encKey, err := DeriveKey(masterKey, []byte(dataID), "opaquemesh-file-enc:"+spec.Algorithm, n)
	if err != nil {
		return FileKey{}, err
	}
	macKey, err := DeriveKey(masterKey, []byte(dataID), "opaquemesh-file-mac:"+spec.Algorithm, 32)
	if err != nil {
		return FileKey{}, err
	}
	return FileKey{EncKey: encKey, MacKey: macKey}, nil
}

// Seal encrypts plaintext under key and returns the ciphertext together
// with its authentication tag.
func Seal(key FileKey, plaintext []byte) (ciphertext, tag []byte, err error) {
	ciphertext, err = Encrypt(key.EncKey, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: seal file: %w", err)
	}
	tag = HMACSign(key.MacKey, ciphertext)
	return ciphertext, tag, nil
}

// Open verifies tag against ciphertext before decrypting. A mismatched tag
// returns ErrTagMismatch without attempting decryption — the producer's
// stated integrity anchor is checked first, independent of whether the
// enclave even holds a valid decryption key.
func Open(key FileKey, ciphertext, tag []byte) ([]byte, error) {
	want := HMACSign(key.MacKey, ciphertext)
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return nil, ErrTagMismatch
	}
	plaintext, err := Decrypt(key.EncKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: open file: %w", err)
	}
	return plaintext, nil
}
