package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// extensionOID is the OID under which the attestation bundle is carried.
// Arbitrary, enterprise-private-use arc; only this module's encoder/decoder
// pair needs to agree on it.
var extensionOID = asn1.ObjectIdentifier{1, 3, 9999, 1, 3}

// extensionValue is the ASN.1 shape spec §6 names: a context-specific tag #3
// SEQUENCE of one SEQUENCE of (OID, OCTET STRING).
type extensionValue struct {
	Entries []extensionEntry `asn1:"tag:3"`
}

type extensionEntry struct {
	OID     asn1.ObjectIdentifier
	Payload []byte
}

// Signer mints an attestation report for an enclave's ephemeral public key
// and signs it. Production deployments back this with a platform quoting
// service; tests and single-node deployments use a self-signed Signer.
type Signer interface {
	// Attest returns a fresh Report whose user-data commits to pubKeyDER's
	// SHA-256 digest, and a signature over the report's canonical JSON.
	Attest(pubKeyDER []byte) (report Report, signature []byte, signingCertDER []byte, err error)
}

// Identity is one enclave-hosted service's TLS identity: an ephemeral
// keypair, its self-signed leaf certificate, and the attestation bundle
// embedded in that certificate's extension.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	CertDER    []byte
}

// NewIdentity generates a fresh ephemeral keypair, obtains an attestation
// report for it from signer, and produces a self-signed leaf certificate
// carrying the attestation bundle in its extension.
func NewIdentity(commonName string, validity time.Duration, signer Signer) (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("attestation: generate key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal public key: %w", err)
	}

	report, sig, signingCertDER, err := signer.Attest(pubDER)
	if err != nil {
		return nil, fmt.Errorf("attestation: attest public key: %w", err)
	}
	reportJSON, err := report.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal report: %w", err)
	}

	extValue := EncodeExtensionValue(reportJSON, sig, signingCertDER)
	asn1Value, err := asn1.Marshal(extensionValue{
		Entries: []extensionEntry{{OID: extensionOID, Payload: extValue}},
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal extension: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("attestation: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			{Id: extensionOID, Critical: false, Value: asn1Value},
		},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("attestation: create certificate: %w", err)
	}

	return &Identity{PrivateKey: priv, CertDER: certDER}, nil
}

// ExtractBundle locates and decodes the attestation extension on cert.
func ExtractBundle(cert *x509.Certificate) (*Bundle, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(extensionOID) {
			continue
		}
		var value extensionValue
		if _, err := asn1.Unmarshal(ext.Value, &value); err != nil {
			return nil, fmt.Errorf("attestation: unmarshal extension: %w", err)
		}
		if len(value.Entries) != 1 {
			return nil, fmt.Errorf("attestation: expected exactly 1 extension entry, got %d", len(value.Entries))
		}
		return DecodeExtensionValue(value.Entries[0].Payload)
	}
	return nil, fmt.Errorf("attestation: certificate carries no attestation extension")
}

// CertPublicKeyDigest returns the SHA-256 digest of cert's SubjectPublicKeyInfo.
func CertPublicKeyDigest(cert *x509.Certificate) ([32]byte, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("attestation: marshal certificate public key: %w", err)
	}
	return sha256.Sum256(pubDER), nil
}
