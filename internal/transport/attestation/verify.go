package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// VerifierConfig controls the policy applied at each of the six checks of
// spec §4.7.
type VerifierConfig struct {
	// TrustedSigningRoots validates the attestation provider's signing
	// certificate chain (step 1). If empty, the signing certificate is
	// accepted as its own root (self-signed provider, for tests and
	// single-node deployments).
	TrustedSigningRoots *x509.CertPool

	// MaxReportAge bounds report freshness (step 3). Spec default: 24h.
	MaxReportAge time.Duration

	// AcceptedQuoteStatuses is the local policy for step 4. Defaults to
	// {OK} only.
	AcceptedQuoteStatuses map[QuoteStatus]bool

	// AcceptedEnclaveMeasurements is the caller's accepted-enclaves
	// allowlist (step 6), keyed by hex-free raw measurement bytes.
	AcceptedEnclaveMeasurements [][]byte
}

// DefaultVerifierConfig returns the spec's default policy: 24h freshness
// window, only QuoteStatusOK accepted, self-signed provider trust.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MaxReportAge:          24 * time.Hour,
		AcceptedQuoteStatuses: map[QuoteStatus]bool{QuoteStatusOK: true},
	}
}

// WithAcceptedMeasurement appends an allowed enclave measurement and returns
// the config for chaining.
func (c VerifierConfig) WithAcceptedMeasurement(measurement []byte) VerifierConfig {
	c.AcceptedEnclaveMeasurements = append(c.AcceptedEnclaveMeasurements, measurement)
	return c
}

// Verify runs the six checks of spec §4.7 against a peer's leaf certificate.
func Verify(cfg VerifierConfig, cert *x509.Certificate, now time.Time) error {
	bundle, err := ExtractBundle(cert)
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}

	signingCert, err := x509.ParseCertificate(bundle.SigningCertDER)
	if err != nil {
		return fmt.Errorf("attestation: parse signing certificate: %w", err)
	}

	// 1. Chain validation of the attestation signing certificate.
	if cfg.TrustedSigningRoots != nil {
		opts := x509.VerifyOptions{Roots: cfg.TrustedSigningRoots, CurrentTime: now}
		if _, err := signingCert.Verify(opts); err != nil {
			return fmt.Errorf("attestation: signing certificate chain invalid: %w", err)
		}
	}

	// 2. Signature check of the report under the signing certificate.
	if err := verifySignature(signingCert, bundle.ReportJSON, bundle.ProviderSig); err != nil {
		return fmt.Errorf("attestation: report signature invalid: %w", err)
	}

	// 3. Freshness check.
	maxAge := cfg.MaxReportAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	age := now.Sub(bundle.Report.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > maxAge {
		return fmt.Errorf("attestation: report timestamp %s outside freshness window %s", bundle.Report.Timestamp, maxAge)
	}

	// 4. Quote-status check.
	accepted := cfg.AcceptedQuoteStatuses
	if len(accepted) == 0 {
		accepted = map[QuoteStatus]bool{QuoteStatusOK: true}
	}
	if !accepted[bundle.Report.IsvEnclaveQuoteStatus] {
		return fmt.Errorf("attestation: quote status %q not accepted by policy", bundle.Report.IsvEnclaveQuoteStatus)
	}

	// 5. Binding check: SHA-256(cert public key) == first 32 bytes of user-data.
	pubDigest, err := CertPublicKeyDigest(cert)
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}
	userData, err := bundle.Report.UserData()
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}
	if !bytes.Equal(userData[:sha256.Size], pubDigest[:]) {
		return fmt.Errorf("attestation: certificate public key not bound by report user-data")
	}

	// 6. Identity policy: enclave measurement must be in the allowlist.
	measurement, err := bundle.Report.EnclaveMeasurement()
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}
	if len(cfg.AcceptedEnclaveMeasurements) > 0 {
		ok := false
		for _, accepted := range cfg.AcceptedEnclaveMeasurements {
			if bytes.Equal(accepted, measurement) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("attestation: enclave measurement not in accepted-enclaves list")
		}
	}

	return nil
}

func verifySignature(signingCert *x509.Certificate, reportJSON, sig []byte) error {
	pub, ok := signingCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("signing certificate key is not ECDSA")
	}
	digest := sha256.Sum256(reportJSON)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// ClientTLSConfig builds a tls.Config for dialing a peer service: it
// presents identity's own attestation certificate and verifies the peer's
// certificate against cfg via VerifyPeerCertificate, since Go's TLS stack
// cannot itself understand the custom extension.
func ClientTLSConfig(identity *Identity, cfg VerifierConfig) (*tls.Config, error) {
	cert := tls.Certificate{Certificate: [][]byte{identity.CertDER}, PrivateKey: identity.PrivateKey}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // the extension-based verifier below replaces chain validation
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyRaw(cfg, rawCerts)
		},
	}, nil
}

// ServerTLSConfig builds a tls.Config for accepting inbound connections:
// requires and verifies a peer attestation certificate on every connection.
func ServerTLSConfig(identity *Identity, cfg VerifierConfig) (*tls.Config, error) {
	cert := tls.Certificate{Certificate: [][]byte{identity.CertDER}, PrivateKey: identity.PrivateKey}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyRaw(cfg, rawCerts)
		},
	}, nil
}

func verifyRaw(cfg VerifierConfig, rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("attestation: no peer certificate presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("attestation: parse peer certificate: %w", err)
	}
	return Verify(cfg, cert, time.Now())
}

func selfSignedCertDER(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("attestation: generate signer serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "local-attestation-provider"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	return x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
}

// SelfSignedSigner is a Signer that mints its own ECDSA signing key at
// construction and signs reports locally, with a fixed quote status and
// measurement. It is used by single-node deployments and tests that do not
// have a real platform quoting service available.
type SelfSignedSigner struct {
	key          *ecdsa.PrivateKey
	certDER      []byte
	measurement  [32]byte
	quoteStatus  QuoteStatus
}

// NewSelfSignedSigner creates a Signer whose reports always carry
// measurement and the given quote status.
func NewSelfSignedSigner(measurement [32]byte, status QuoteStatus) (*SelfSignedSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("attestation: generate signer key: %w", err)
	}
	certDER, err := selfSignedCertDER(key)
	if err != nil {
		return nil, err
	}
	return &SelfSignedSigner{key: key, certDER: certDER, measurement: measurement, quoteStatus: status}, nil
}

// Attest implements Signer.
func (s *SelfSignedSigner) Attest(pubKeyDER []byte) (Report, []byte, []byte, error) {
	quoteBody := make([]byte, QuoteBodyLength)
	copy(quoteBody[measurementOffset:measurementOffset+measurementLength], s.measurement[:])
	digest := sha256.Sum256(pubKeyDER)
	copy(quoteBody[userDataOffset:userDataOffset+userDataLength], digest[:])

	report := Report{
		Timestamp:             time.Now().UTC(),
		IsvEnclaveQuoteStatus: s.quoteStatus,
		IsvEnclaveQuoteBody:   quoteBody,
	}
	reportJSON, err := report.MarshalJSON()
	if err != nil {
		return Report{}, nil, nil, err
	}
	reportDigest := sha256.Sum256(reportJSON)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, reportDigest[:])
	if err != nil {
		return Report{}, nil, nil, fmt.Errorf("attestation: sign report: %w", err)
	}
	return report, sig, s.certDER, nil
}
