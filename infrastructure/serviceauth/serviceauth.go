// Package serviceauth carries request-scoped caller identity (user-id,
// service-id) through a context.Context, independent of how that identity
// was established (attested mTLS peer identity, or an authenticated
// credential forwarded by the Frontend).
package serviceauth

import "context"

const (
	// UserIDHeader is the HTTP header a trusted caller may use to assert a
	// user identity that has already been authenticated upstream.
	UserIDHeader = "X-User-ID"
	// ServiceIDHeader identifies the calling service by its enclave identity.
	ServiceIDHeader = "X-Service-ID"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	serviceIDKey
)

// WithUserID returns a context carrying the given user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the user id carried by ctx, or "" if absent.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithServiceID returns a context carrying the given service id.
func WithServiceID(ctx context.Context, serviceID string) context.Context {
	return context.WithValue(ctx, serviceIDKey, serviceID)
}

// GetServiceID extracts the service id carried by ctx, or "" if absent.
func GetServiceID(ctx context.Context) string {
	v, _ := ctx.Value(serviceIDKey).(string)
	return v
}
