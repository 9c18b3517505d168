package auth

import "fmt"

// Rotator selects accounts round-robin style through the cooldown window:
// each selection marks the account used, pushing it to the back of the
// rotation until its cooldown expires.
type Rotator struct {
	manager *Manager
}

// NewRotator wraps an account manager.
func NewRotator(m *Manager) *Rotator {
	return &Rotator{manager: m}
}

// SelectAccount picks the next available account for a provider, marks it
// used, and returns it with decrypted credentials.
func (r *Rotator) SelectAccount(provider string) (*Account, string, error) {
	acc := r.manager.GetNextAvailable(provider)
	if acc == nil {
		return nil, "", fmt.Errorf("no available account for provider %s", provider)
	}
	creds, err := r.manager.Credentials(provider, acc.AccountID)
	if err != nil {
		return nil, "", err
	}
	if err := r.manager.MarkUsed(provider, acc.AccountID); err != nil {
		return nil, "", err
	}
	return acc, creds, nil
}
