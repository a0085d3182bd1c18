// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opaquemesh/platform/infrastructure/errors"
	internalhttputil "github.com/opaquemesh/platform/infrastructure/httputil"
	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/infrastructure/serviceauth"
)

// =============================================================================
// Bearer Credential Constants
// =============================================================================

const (
	// ServiceIDHeader is the header name for service identification, set by
	// the transport layer once the caller's attested peer identity has been
	// established (see internal/transport/attestation).
	ServiceIDHeader = serviceauth.ServiceIDHeader

	// UserIDHeader is the header name for user identification.
	UserIDHeader = serviceauth.UserIDHeader

	// bearerPrefix is the Authorization-header scheme this middleware accepts.
	bearerPrefix = "Bearer "
)

// =============================================================================
// User Claims
// =============================================================================

// UserClaims are the JWT claims the Authentication service mints on
// AuthenticateUser success (spec §4.1): subject is the user id, issuer
// identifies the Authentication service, and expiry bounds the credential's
// validity window.
type UserClaims struct {
	jwt.RegisteredClaims
}

// =============================================================================
// Credential Middleware
// =============================================================================

// CredentialAuthMiddleware validates a bearer credential locally against an
// HMAC secret. It is the user-facing counterpart to the service-to-service
// attestation check done at the transport layer. No router in this
// repository installs it: the Frontend forwards each credential unverified,
// and downstream services check it through Authentication.
type CredentialAuthMiddleware struct {
	secret        []byte
	issuer        string
	logger        *logging.Logger
	requireUserID bool
	skipPaths     map[string]bool
	mu            sync.RWMutex
	validated     map[string]*cachedClaims
	stopCleanup   chan struct{}
	cleanupOnce   sync.Once
}

type cachedClaims struct {
	claims    *UserClaims
	expiresAt time.Time
}

// CredentialAuthConfig configures CredentialAuthMiddleware.
type CredentialAuthConfig struct {
	Secret        []byte
	Issuer        string
	Logger        *logging.Logger
	RequireUserID bool
	SkipPaths     []string
}

// NewCredentialAuthMiddleware creates a new bearer-credential middleware.
func NewCredentialAuthMiddleware(cfg CredentialAuthConfig) *CredentialAuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("credentialauth", "info", "json")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "authentication"
	}

	m := &CredentialAuthMiddleware{
		secret:        cfg.Secret,
		issuer:        issuer,
		logger:        logger,
		requireUserID: cfg.RequireUserID,
		skipPaths:     skip,
		validated:     make(map[string]*cachedClaims),
		stopCleanup:   make(chan struct{}),
	}

	m.startBackgroundCleanup()
	return m
}

// Handler returns the middleware handler function.
func (m *CredentialAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, bearerPrefix) {
			if !m.requireUserID {
				next.ServeHTTP(w, r)
				return
			}
			m.respondError(w, r, errors.Unauthorized("missing bearer credential"))
			return
		}
		token := strings.TrimPrefix(auth, bearerPrefix)

		claims, err := m.validate(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("credential validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := serviceauth.WithUserID(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *CredentialAuthMiddleware) validate(tokenString string) (*UserClaims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Internal("credential authentication is not configured", nil)
	}

	if cached := m.getCached(tokenString); cached != nil {
		return cached, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject claim")
	}
	if claims.Issuer != m.issuer {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid issuer")
	}

	m.cache(tokenString, claims)
	return claims, nil
}

func (m *CredentialAuthMiddleware) getCached(tokenString string) *UserClaims {
	m.mu.RLock()
	cached, ok := m.validated[tokenString]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	if time.Now().After(cached.expiresAt) {
		m.mu.RUnlock()
		m.mu.Lock()
		if current, ok := m.validated[tokenString]; ok && time.Now().After(current.expiresAt) {
			delete(m.validated, tokenString)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.RUnlock()
	return cached.claims
}

func (m *CredentialAuthMiddleware) cache(tokenString string, claims *UserClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cacheExpiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheExpiry) {
		cacheExpiry = claims.ExpiresAt.Time
	}
	m.validated[tokenString] = &cachedClaims{claims: claims, expiresAt: cacheExpiry}

	if len(m.validated) > 1000 {
		m.cleanupLocked()
	}
}

func (m *CredentialAuthMiddleware) cleanupLocked() {
	now := time.Now()
	for key, cached := range m.validated {
		if now.After(cached.expiresAt) {
			delete(m.validated, key)
		}
	}
}

func (m *CredentialAuthMiddleware) startBackgroundCleanup() {
	m.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(2 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.mu.Lock()
					m.cleanupLocked()
					m.mu.Unlock()
				case <-m.stopCleanup:
					return
				}
			}
		}()
	})
}

// StopCleanup stops the background cleanup goroutine. Call during shutdown.
func (m *CredentialAuthMiddleware) StopCleanup() {
	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}
}

// InvalidateCache clears all cached credential validations, e.g. on signing-key rotation.
func (m *CredentialAuthMiddleware) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated = make(map[string]*cachedClaims)
}

func (m *CredentialAuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("credential authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

// =============================================================================
// Context Helpers
// =============================================================================

// GetServiceID extracts the calling service's identity from context, as
// established by the attested-mTLS transport layer.
func GetServiceID(ctx context.Context) string {
	return serviceauth.GetServiceID(ctx)
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	return serviceauth.GetUserID(ctx)
}

// WithServiceID returns a new context with the service ID set.
func WithServiceID(ctx context.Context, serviceID string) context.Context {
	return serviceauth.WithServiceID(ctx, serviceID)
}

// WithUserID returns a new context with the user ID set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return serviceauth.WithUserID(ctx, userID)
}

// RequireServiceAuth requires the caller to have an attested service identity
// already bound to the request context by the transport layer.
func RequireServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serviceID := internalhttputil.GetServiceID(r)
		if serviceID == "" {
			internalhttputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "AUTH_REQUIRED", "service authentication required", nil)
			return
		}
		ctx := serviceauth.WithServiceID(r.Context(), serviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUserIDHeader requires a well-formed X-User-ID header.
func RequireUserIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			internalhttputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "USER_ID_REQUIRED", "X-User-ID header required", nil)
			return
		}
		if !isValidUserID(userID) {
			internalhttputil.WriteErrorResponse(w, r, http.StatusBadRequest, "INVALID_USER_ID", "invalid X-User-ID format", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isValidUserID validates user ID format (UUID).
func isValidUserID(userID string) bool {
	if len(userID) != 36 {
		return false
	}
	parts := strings.Split(userID, "-")
	if len(parts) != 5 {
		return false
	}
	expectedLengths := []int{8, 4, 4, 4, 12}
	for i, part := range parts {
		if len(part) != expectedLengths[i] {
			return false
		}
		for _, c := range part {
			if !isHexChar(c) {
				return false
			}
		}
	}
	return true
}

func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
