// Package credential defines the (user-id, token) pair spec §3/§4.1
// forwards on every user-reachable call, and the signed claims a token
// carries.
package credential

import "time"

// Claims are the signed claims a token carries: subject (user id), a fixed
// issuer string, and an expiry. Role is never carried in the token; it is
// looked up from the user record by Authentication on demand.
type Claims struct {
	Subject string
	Issuer  string
	Expiry  time.Time
}

// Expired reports whether the claims are no longer valid at now.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// Credential is the (id, token) pair carried in request envelopes.
type Credential struct {
	UserID string
	Token  string
}

// Verdict is the outcome of an Authenticate call: authentication failures of
// any kind (malformed token, bad signature, subject mismatch, expiry) all
// collapse to Reject per spec §4.1 so the caller cannot distinguish causes.
type Verdict int

const (
	Reject Verdict = iota
	Accept
)
