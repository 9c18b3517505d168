package auth

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "accounts.json"), filepath.Join(dir, ".age-key"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func TestAddAccountEncryptsCredentials(t *testing.T) {
	m := openManager(t)

	acc, err := m.AddAccount("openai", "primary", "sk-secret-123", 1)
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if !strings.HasPrefix(acc.Credentials, "ENC[age:") {
		t.Errorf("credentials not encrypted: %q", acc.Credentials)
	}
	if strings.Contains(acc.Credentials, "sk-secret-123") {
		t.Error("plaintext leaked into stored blob")
	}

	plain, err := m.Credentials("openai", "primary")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if plain != "sk-secret-123" {
		t.Errorf("decrypted = %q", plain)
	}
}

func TestAddAccountDuplicateRejected(t *testing.T) {
	m := openManager(t)
	if _, err := m.AddAccount("openai", "a", "k1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddAccount("openai", "a", "k2", 0); err == nil {
		t.Fatal("expected duplicate error")
	}
	// Same id under another provider is fine.
	if _, err := m.AddAccount("anthropic", "a", "k3", 0); err != nil {
		t.Fatal(err)
	}
}

func TestGetNextAvailableOrdering(t *testing.T) {
	m := openManager(t)
	_, _ = m.AddAccount("p", "low", "k", 1)
	_, _ = m.AddAccount("p", "high", "k", 5)

	acc := m.GetNextAvailable("p")
	if acc == nil || acc.AccountID != "high" {
		t.Fatalf("next = %+v, want high", acc)
	}

	// Cooling the high-priority account exposes the lower one.
	if err := m.SetCooldown("p", "high", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	acc = m.GetNextAvailable("p")
	if acc == nil || acc.AccountID != "low" {
		t.Fatalf("next = %+v, want low", acc)
	}

	// Everything cooling down yields nil.
	if err := m.SetCooldown("p", "low", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if acc := m.GetNextAvailable("p"); acc != nil {
		t.Errorf("next = %+v, want nil", acc)
	}
}

func TestMarkUsedStartsCooldown(t *testing.T) {
	m := openManager(t)
	_, _ = m.AddAccount("p", "a", "k", 0)

	if err := m.MarkUsed("p", "a"); err != nil {
		t.Fatal(err)
	}
	accs := m.List("p")
	if len(accs) != 1 {
		t.Fatal("missing account")
	}
	if accs[0].UseCount != 1 || accs[0].LastUsed == 0 {
		t.Errorf("usage not recorded: %+v", accs[0])
	}
	until := time.Unix(accs[0].CooldownUntil, 0)
	if d := time.Until(until); d < AccountCooldown-time.Minute || d > AccountCooldown+time.Minute {
		t.Errorf("cooldown window = %v", d)
	}
}

func TestAccountsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "accounts.json")
	keyPath := filepath.Join(dir, ".age-key")

	m, err := Open(storePath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddAccount("p", "a", "topsecret", 2); err != nil {
		t.Fatal(err)
	}

	m2, err := Open(storePath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := m2.Credentials("p", "a")
	if err != nil {
		t.Fatal(err)
	}
	if plain != "topsecret" {
		t.Errorf("decrypted after reopen = %q", plain)
	}
}

func TestRemoveAccount(t *testing.T) {
	m := openManager(t)
	_, _ = m.AddAccount("p", "a", "k", 0)

	removed, err := m.RemoveAccount("p", "a")
	if err != nil || !removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	removed, err = m.RemoveAccount("p", "a")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
}

func TestRotatorSelectAccount(t *testing.T) {
	m := openManager(t)
	_, _ = m.AddAccount("p", "a", "key-a", 1)
	r := NewRotator(m)

	acc, creds, err := r.SelectAccount("p")
	if err != nil {
		t.Fatalf("SelectAccount: %v", err)
	}
	if acc.AccountID != "a" || creds != "key-a" {
		t.Errorf("selected %s / %q", acc.AccountID, creds)
	}

	// The selected account is now cooling down; with no alternative the next
	// selection fails.
	if _, _, err := r.SelectAccount("p"); err == nil {
		t.Fatal("expected exhaustion error")
	}
}

func TestSessionsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth_sessions.json")
	s, err := OpenSessions(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Login("openai", "api_key"); err != nil {
		t.Fatal(err)
	}
	sess, ok := s.Get("openai")
	if !ok || sess.Status != SessionLoggedIn || sess.Method != "api_key" {
		t.Fatalf("session = %+v", sess)
	}

	if err := s.Logout("openai"); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.Get("openai")
	if sess.Status != SessionLoggedOut {
		t.Errorf("status = %s", sess.Status)
	}

	// Logout of an unknown provider is a no-op.
	if err := s.Logout("nope"); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSessions(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.List(); len(got) != 1 || got[0].Provider != "openai" {
		t.Errorf("reopened sessions = %+v", got)
	}
}
