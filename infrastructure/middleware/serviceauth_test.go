package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaquemesh/platform/infrastructure/serviceauth"
)

func generateValidCredential(t *testing.T, secret []byte, userID string, issuer string, expiry time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func newTestMiddleware(secret []byte, requireUserID bool) *CredentialAuthMiddleware {
	m := NewCredentialAuthMiddleware(CredentialAuthConfig{
		Secret:        secret,
		Issuer:        "authentication",
		RequireUserID: requireUserID,
	})
	return m
}

func TestCredentialAuthMiddleware_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	m := newTestMiddleware(secret, true)
	defer m.StopCleanup()

	token := generateValidCredential(t, secret, "user-123", "authentication", time.Hour)

	var gotUserID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = serviceauth.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", gotUserID)
}

func TestCredentialAuthMiddleware_MissingToken(t *testing.T) {
	m := newTestMiddleware([]byte("secret"), true)
	defer m.StopCleanup()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialAuthMiddleware_OptionalWhenNotRequired(t *testing.T) {
	m := newTestMiddleware([]byte("secret"), false)
	defer m.StopCleanup()

	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCredentialAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	m := newTestMiddleware(secret, true)
	defer m.StopCleanup()

	token := generateValidCredential(t, secret, "user-123", "authentication", -time.Hour)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialAuthMiddleware_WrongSigningKey(t *testing.T) {
	m := newTestMiddleware([]byte("real-secret"), true)
	defer m.StopCleanup()

	token := generateValidCredential(t, []byte("wrong-secret"), "user-123", "authentication", time.Hour)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialAuthMiddleware_WrongIssuer(t *testing.T) {
	secret := []byte("test-secret")
	m := newTestMiddleware(secret, true)
	defer m.StopCleanup()

	token := generateValidCredential(t, secret, "user-123", "some-other-issuer", time.Hour)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialAuthMiddleware_SkipPath(t *testing.T) {
	m := NewCredentialAuthMiddleware(CredentialAuthConfig{
		Secret:        []byte("secret"),
		RequireUserID: true,
		SkipPaths:     []string{"/healthz"},
	})
	defer m.StopCleanup()

	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCredentialAuthMiddleware_TokenCaching(t *testing.T) {
	secret := []byte("test-secret")
	m := newTestMiddleware(secret, true)
	defer m.StopCleanup()

	token := generateValidCredential(t, secret, "user-123", "authentication", time.Hour)

	claims, err := m.validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)

	cached := m.getCached(token)
	require.NotNil(t, cached)
	assert.Equal(t, "user-123", cached.Subject)
}

func TestCredentialAuthMiddleware_InvalidateCache(t *testing.T) {
	secret := []byte("test-secret")
	m := newTestMiddleware(secret, true)
	defer m.StopCleanup()

	token := generateValidCredential(t, secret, "user-123", "authentication", time.Hour)
	_, err := m.validate(token)
	require.NoError(t, err)
	require.NotNil(t, m.getCached(token))

	m.InvalidateCache()
	assert.Nil(t, m.getCached(token))
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		valid  bool
	}{
		{"valid uuid", "550e8400-e29b-41d4-a716-446655440000", true},
		{"too short", "550e8400-e29b-41d4", false},
		{"missing dashes", "550e8400e29b41d4a716446655440000", false},
		{"non-hex", "zzze8400-e29b-41d4-a716-446655440000", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidUserID(tt.userID))
		})
	}
}

func TestRequireServiceAuth_WithServiceID(t *testing.T) {
	handler := RequireServiceAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "storage", GetServiceID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/kv", nil)
	req.Header.Set(ServiceIDHeader, "storage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireServiceAuth_WithoutServiceID(t *testing.T) {
	handler := RequireServiceAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/kv", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireUserIDHeader_Valid(t *testing.T) {
	handler := RequireUserIDHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(UserIDHeader, "550e8400-e29b-41d4-a716-446655440000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireUserIDHeader_Missing(t *testing.T) {
	handler := RequireUserIDHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireUserIDHeader_Invalid(t *testing.T) {
	handler := RequireUserIDHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(UserIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
