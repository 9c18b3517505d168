package sandbox

import (
	"path/filepath"
	"testing"
)

func newTestFilter(t *testing.T, allow, deny []string) *Filter {
	t.Helper()
	f, err := NewFilter(allow, deny, filepath.Join(t.TempDir(), "syscall_log.json"))
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	return f
}

func TestFilterAllowsBenignCommand(t *testing.T) {
	f := newTestFilter(t, nil, nil)
	v := f.CheckCommand("echo hello world")
	if !v.Allowed || v.Blocked {
		t.Errorf("benign command blocked: %+v", v)
	}
	if f.BlockedCount() != 0 {
		t.Errorf("blocked count = %d", f.BlockedCount())
	}
}

func TestFilterBlocksSuspiciousWithEmptyAllowlist(t *testing.T) {
	f := newTestFilter(t, nil, nil)
	v := f.CheckCommand("sudo rm /etc/passwd")
	if !v.Blocked {
		t.Fatalf("expected block: %+v", v)
	}
	if len(v.Reasons) == 0 {
		t.Fatal("expected a reason")
	}
	if f.BlockedCount() == 0 {
		t.Error("blocked count not incremented")
	}
}

func TestFilterDenylist(t *testing.T) {
	f := newTestFilter(t, []string{"curl"}, []string{"wget"})
	v := f.CheckCommand("wget http://example.com")
	if !v.Blocked {
		t.Fatalf("denylisted pattern not blocked: %+v", v)
	}
}

func TestFilterAllowlist(t *testing.T) {
	f := newTestFilter(t, []string{"curl"}, nil)

	// curl appears in the allowlist, so a curl command passes.
	if v := f.CheckCommand("curl http://localhost/health"); v.Blocked {
		t.Errorf("allowlisted command blocked: %+v", v)
	}

	// wget matches a dangerous pattern and is not allowlisted.
	if v := f.CheckCommand("wget http://example.com"); !v.Blocked {
		t.Errorf("non-allowlisted command passed: %+v", v)
	}
}

func TestFilterCountPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syscall_log.json")

	f, err := NewFilter(nil, nil, path)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	f.CheckCommand("sudo whoami")
	before := f.BlockedCount()
	if before == 0 {
		t.Fatal("expected nonzero count")
	}

	f2, err := NewFilter(nil, nil, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if f2.BlockedCount() != before {
		t.Errorf("count after reopen = %d, want %d", f2.BlockedCount(), before)
	}

	if err := f2.ResetBlockedCount(); err != nil {
		t.Fatalf("ResetBlockedCount: %v", err)
	}
	if f2.BlockedCount() != 0 {
		t.Error("count not reset")
	}
}

func TestFilterCaseInsensitive(t *testing.T) {
	f := newTestFilter(t, nil, nil)
	if v := f.CheckCommand("SUDO ls"); !v.Blocked {
		t.Errorf("uppercase pattern not matched: %+v", v)
	}
}
