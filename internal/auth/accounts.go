// Package auth manages provider accounts, credential rotation, and login
// sessions.
package auth

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/droverhq/drover/internal/secrets"
	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// AccountCooldown is the rest period applied to an account after use.
const AccountCooldown = 7200 * time.Second

// Account is one credential slot for a provider. Credentials are stored as
// ENC[age:...] blobs and only decrypted on selection.
type Account struct {
	AccountID     string `json:"account_id"`
	Provider      string `json:"provider"`
	Credentials   string `json:"credentials"`
	Priority      int    `json:"priority"`
	CreatedAt     int64  `json:"created_at"`
	LastUsed      int64  `json:"last_used"`
	UseCount      int64  `json:"use_count"`
	CooldownUntil int64  `json:"cooldown_until"`
}

// Manager is the persistent account registry, keyed by provider.
type Manager struct {
	mu       sync.Mutex
	store    *jsonstore.Store
	accounts map[string][]*Account
	identity *age.X25519Identity
	now      func() time.Time
}

// Open loads the account registry from path, generating the age identity at
// keyPath on first use.
func Open(path, keyPath string) (*Manager, error) {
	if err := secrets.GenerateIdentity(keyPath); err != nil {
		return nil, fmt.Errorf("ensure age identity: %w", err)
	}
	identity, err := secrets.LoadIdentity(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load age identity: %w", err)
	}

	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts store: %w", err)
	}

	m := &Manager{
		store:    store,
		accounts: make(map[string][]*Account),
		identity: identity,
		now:      time.Now,
	}
	for _, provider := range store.Keys() {
		var list []*Account
		if ok, err := store.Get(provider, &list); err == nil && ok {
			m.accounts[provider] = list
		}
	}
	return m, nil
}

// AddAccount registers a new account with plaintext credentials, which are
// encrypted before persisting. Account ids are unique per provider.
func (m *Manager) AddAccount(provider, accountID, credentials string, priority int) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts[provider] {
		if acc.AccountID == accountID {
			return nil, fmt.Errorf("account %s already exists for provider %s", accountID, provider)
		}
	}

	blob, err := secrets.Encrypt(credentials, m.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	acc := &Account{
		AccountID:   accountID,
		Provider:    provider,
		Credentials: blob,
		Priority:    priority,
		CreatedAt:   m.now().Unix(),
	}
	m.accounts[provider] = append(m.accounts[provider], acc)
	if err := m.persistLocked(provider); err != nil {
		return nil, err
	}
	return acc, nil
}

// RemoveAccount deletes an account. Returns false when absent.
func (m *Manager) RemoveAccount(provider, accountID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.accounts[provider]
	for i, acc := range list {
		if acc.AccountID == accountID {
			m.accounts[provider] = append(list[:i], list[i+1:]...)
			return true, m.persistLocked(provider)
		}
	}
	return false, nil
}

// GetNextAvailable returns the best account whose cooldown has expired:
// highest priority first, earliest cooldown expiry breaking ties. Returns nil
// when every account is cooling down.
func (m *Manager) GetNextAvailable(provider string) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextAvailableLocked(provider)
}

func (m *Manager) nextAvailableLocked(provider string) *Account {
	list := make([]*Account, len(m.accounts[provider]))
	copy(list, m.accounts[provider])
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].CooldownUntil < list[j].CooldownUntil
	})

	now := m.now().Unix()
	for _, acc := range list {
		if acc.CooldownUntil <= now {
			return acc
		}
	}
	return nil
}

// MarkUsed stamps last_used, bumps use_count, and starts the use cooldown.
func (m *Manager) MarkUsed(provider, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(provider, accountID)
	if acc == nil {
		return fmt.Errorf("account %s not found for provider %s", accountID, provider)
	}
	now := m.now()
	acc.LastUsed = now.Unix()
	acc.UseCount++
	acc.CooldownUntil = now.Add(AccountCooldown).Unix()
	return m.persistLocked(provider)
}

// SetCooldown overrides an account's cooldown expiry.
func (m *Manager) SetCooldown(provider, accountID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(provider, accountID)
	if acc == nil {
		return fmt.Errorf("account %s not found for provider %s", accountID, provider)
	}
	acc.CooldownUntil = until.Unix()
	return m.persistLocked(provider)
}

// Credentials decrypts and returns an account's plaintext credentials.
func (m *Manager) Credentials(provider, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(provider, accountID)
	if acc == nil {
		return "", fmt.Errorf("account %s not found for provider %s", accountID, provider)
	}
	plain, err := secrets.Decrypt(acc.Credentials, m.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt credentials: %w", err)
	}
	return plain, nil
}

// List returns a copy of all accounts for a provider, sorted by priority
// descending.
func (m *Manager) List(provider string) []Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Account, 0, len(m.accounts[provider]))
	for _, acc := range m.accounts[provider] {
		out = append(out, *acc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Providers lists providers that have at least one account.
func (m *Manager) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.accounts))
	for p, list := range m.accounts {
		if len(list) > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) findLocked(provider, accountID string) *Account {
	for _, acc := range m.accounts[provider] {
		if acc.AccountID == accountID {
			return acc
		}
	}
	return nil
}

func (m *Manager) persistLocked(provider string) error {
	if err := m.store.Set(provider, m.accounts[provider]); err != nil {
		return fmt.Errorf("persist accounts for %s: %w", provider, err)
	}
	return nil
}
