// Package authentication issues and validates the bearer credentials of
// spec §4.1. It owns the process-local signing key and the user store's
// password-hash comparisons; role information lives on the user record and
// is never carried in the token itself.
package authentication

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/opaquemesh/platform/infrastructure/logging"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/user"
)

// Store persists user accounts. Management also reads/writes user records
// for administrative CRUD; Authentication only ever touches CredentialHash
// and the identity fields needed to mint/verify tokens.
type Store interface {
	GetUser(ctx context.Context, id string) (user.Account, error)
	CreateUser(ctx context.Context, account user.Account) error
	UpdateCredentialHash(ctx context.Context, id string, hash []byte) error
	DeleteUser(ctx context.Context, id string) error
}

const issuer = "authentication"

// Service implements login/register/password-reset/delete and the internal
// authenticate check.
type Service struct {
	store      Store
	log        *logging.Logger
	signingKey []byte
	tokenTTL   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config configures the signing key and token lifetime. SigningKey is
// generated fresh at enclave start by New if left nil, and is never
// persisted, per spec §4.1.
type Config struct {
	SigningKey []byte
	TokenTTL   time.Duration
}

// New constructs the Authentication service. If cfg.SigningKey is empty a
// fresh random key is generated.
func New(store Store, log *logging.Logger, cfg Config) (*Service, error) {
	if log == nil {
		log = logging.New("authentication", "info", "json")
	}
	key := cfg.SigningKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("authentication: generate signing key: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:      store,
		log:        log,
		signingKey: key,
		tokenTTL:   ttl,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Register creates a new user account with a freshly salted password hash.
func (s *Service) Register(ctx context.Context, id, password string, role user.Role) error {
	if id == "" || password == "" {
		return fmt.Errorf("authentication: id and password are required")
	}
	if !role.Valid() {
		return fmt.Errorf("authentication: invalid role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authentication: hash password: %w", err)
	}
	now := time.Now()
	if err := s.store.CreateUser(ctx, user.Account{
		ID:             id,
		CredentialHash: hash,
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return fmt.Errorf("authentication: create user: %w", err)
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("user registered")
	return nil
}

// Login verifies the password and, on success, mints a signed token.
func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	acct, err := s.store.GetUser(ctx, id)
	if err != nil {
		return "", fmt.Errorf("authentication: reject")
	}
	if bcrypt.CompareHashAndPassword(acct.CredentialHash, []byte(password)) != nil {
		return "", fmt.Errorf("authentication: reject")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("authentication: sign token: %w", err)
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("login succeeded")
	return signed, nil
}

// ResetPassword replaces a user's credential hash with a freshly salted one.
func (s *Service) ResetPassword(ctx context.Context, id, newPassword string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authentication: hash password: %w", err)
	}
	if err := s.store.UpdateCredentialHash(ctx, id, hash); err != nil {
		return fmt.Errorf("authentication: update credential: %w", err)
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("password reset")
	return nil
}

// ChangePassword verifies the caller's current password before replacing
// it with a freshly salted hash of newPassword (spec §6
// "UserChangePassword(old, new)"). Unlike ResetPassword (an admin
// operation), this requires proof of the old credential.
func (s *Service) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	acct, err := s.store.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("authentication: get user: %w", err)
	}
	if bcrypt.CompareHashAndPassword(acct.CredentialHash, []byte(oldPassword)) != nil {
		return fmt.Errorf("authentication: reject")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authentication: hash password: %w", err)
	}
	if err := s.store.UpdateCredentialHash(ctx, id, hash); err != nil {
		return fmt.Errorf("authentication: update credential: %w", err)
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("password changed")
	return nil
}

// Delete removes a user account. It makes no role check of its own, and
// neither does the frontend route that forwards to it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("authentication: delete user: %w", err)
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("user deleted")
	return nil
}

// Authenticate is the internal operation every other service calls to
// validate a credential carried on an inter-service call. Every failure
// mode — malformed token, bad signature, subject mismatch, expiry —
// collapses to a single opaque Reject verdict (spec §4.1).
func (s *Service) Authenticate(ctx context.Context, cred credential.Credential) credential.Verdict {
	token, err := jwt.ParseWithClaims(cred.Token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return credential.Reject
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return credential.Reject
	}
	if claims.Issuer != issuer {
		return credential.Reject
	}
	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(cred.UserID)) != 1 {
		return credential.Reject
	}
	if claims.ExpiresAt == nil || !time.Now().Before(claims.ExpiresAt.Time) {
		return credential.Reject
	}
	return credential.Accept
}

// Role looks up the role attached to a user's account. It is served out of
// band from the token, per spec §4.1.
func (s *Service) Role(ctx context.Context, userID string) (user.Role, error) {
	acct, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("authentication: get user: %w", err)
	}
	return acct.Role, nil
}
