// Package datafile defines the Input File, Output File, and Fusion Output
// records of spec §3: the data side of a task's declared slots.
package datafile

// CryptoSpec names the AEAD algorithm and key length a data record's
// ciphertext was (or will be) protected under. Carried per file rather than
// globally, per the original implementation's per-record crypto tagging.
type CryptoSpec struct {
	Algorithm string // e.g. "AES-GCM-128", "AES-GCM-256"
	KeyBytes  int
}

// Kind distinguishes the three record shapes spec §3 names. They share a
// data-id namespace and most fields; Kind governs which invariants apply.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindFusion Kind = "fusion"
)

// Record is a data-id entry: an Input File, an Output File, or a Fusion
// Output. Owners holds exactly one id for KindInput/KindOutput and the full
// co-owner set for KindFusion.
type Record struct {
	DataID string
	Kind   Kind
	Owners []string
	URL    string
	Crypto CryptoSpec

	// Tag is the MAC over the ciphertext. For an Input File it is the
	// integrity anchor the producer already computed. For an Output File it
	// is ⊥ (nil) until an executor uploads the ciphertext, at which point
	// the record becomes immutable.
	Tag []byte
}

// Owner returns the sole owner of a non-fusion record, or "" if Owners does
// not contain exactly one entry.
func (r Record) Owner() string {
	if len(r.Owners) != 1 {
		return ""
	}
	return r.Owners[0]
}

// OwnedBy reports whether userID is among the record's owners.
func (r Record) OwnedBy(userID string) bool {
	for _, o := range r.Owners {
		if o == userID {
			return true
		}
	}
	return false
}

// OwnerSetEquals reports whether r's owner set is exactly equal to want, with
// no extras and none missing — the binding rule for fusion output slots
// (spec §4.4 assign_data rule c2).
func (r Record) OwnerSetEquals(want []string) bool {
	if len(r.Owners) != len(want) {
		return false
	}
	have := make(map[string]bool, len(r.Owners))
	for _, o := range r.Owners {
		have[o] = true
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

// Written reports whether the record's tag has been set (non-⊥). For an
// Output File this means the executor has uploaded ciphertext and the
// record is now immutable.
func (r Record) Written() bool {
	return len(r.Tag) > 0
}

// AsInput converts a written Fusion Output into the Input File it becomes
// when re-registered as input to a downstream task; the data-id and crypto
// spec are preserved.
func (r Record) AsInput() Record {
	out := r
	out.Kind = KindInput
	out.Owners = append([]string(nil), r.Owners...)
	return out
}

// Descriptor is the resolved form of a data record a Staged Task carries:
// URL + tag + crypto for inputs, URL + crypto for outputs (tag unset until
// written).
type Descriptor struct {
	DataID string
	URL    string
	Tag    []byte
	Crypto CryptoSpec
}

// Descriptor projects a Record down to what an Executor needs to resolve it.
func (r Record) Descriptor() Descriptor {
	return Descriptor{
		DataID: r.DataID,
		URL:    r.URL,
		Tag:    append([]byte(nil), r.Tag...),
		Crypto: r.Crypto,
	}
}
