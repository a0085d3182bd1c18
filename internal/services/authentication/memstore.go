package authentication

import (
	"context"
	"fmt"
	"sync"

	"github.com/opaquemesh/platform/internal/domain/user"
)

// MemStore is an in-process Store, used by tests and single-node
// deployments that do not configure a Storage-service-backed store.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]user.Account
}

// NewMemStore returns an empty in-memory user store.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]user.Account)}
}

func (m *MemStore) GetUser(_ context.Context, id string) (user.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.users[id]
	if !ok {
		return user.Account{}, fmt.Errorf("user %q not found", id)
	}
	return acct.Clone(), nil
}

func (m *MemStore) CreateUser(_ context.Context, account user.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[account.ID]; exists {
		return fmt.Errorf("user %q already exists", account.ID)
	}
	m.users[account.ID] = account.Clone()
	return nil
}

func (m *MemStore) UpdateCredentialHash(_ context.Context, id string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %q not found", id)
	}
	acct.CredentialHash = append([]byte(nil), hash...)
	m.users[id] = acct
	return nil
}

func (m *MemStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %q not found", id)
	}
	delete(m.users, id)
	return nil
}
