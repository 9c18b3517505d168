package plugins

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/droverhq/drover/internal/tasks"
)

// recorder is a test hook that records invocations.
type recorder struct {
	name   string
	before int
	after  int
	fail   bool
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) BeforeTask(*tasks.Task) error {
	r.before++
	if r.fail {
		return errors.New("hook boom")
	}
	return nil
}
func (r *recorder) AfterTask(*tasks.Task, error) error {
	r.after++
	if r.fail {
		return errors.New("hook boom")
	}
	return nil
}

func TestLoadManifestJSONC(t *testing.T) {
	content := `{
	// audit plugin
	"name": "audit",
	"version": "1.0.0",
	"description": "Logs task lifecycle",
	"hooks": ["before_task", "after_task"],
	"enabled": true,
}`
	path := filepath.Join(t.TempDir(), "manifest.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "audit" || len(m.Hooks) != 2 || !m.Enabled {
		t.Errorf("manifest = %+v", m)
	}
}

func TestLoadManifestRejectsUnknownHook(t *testing.T) {
	content := `{"name": "x", "hooks": ["on_boot"]}`
	path := filepath.Join(t.TempDir(), "manifest.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected unknown hook error")
	}
}

func TestInstallListRemove(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	m := &Manifest{Name: "audit", Version: "1.0.0", Hooks: []string{"before_task"}, Enabled: true}
	if err := r.Install(m); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := r.Install(m); err == nil {
		t.Error("duplicate install accepted")
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "audit" {
		t.Fatalf("list = %+v", list)
	}

	removed, err := r.Remove("audit")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, _ = r.Remove("audit")
	if removed {
		t.Error("second remove reported true")
	}
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Install(&Manifest{Name: "audit", Hooks: []string{"after_task"}, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	r2, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if list := r2.List(); len(list) != 1 || list[0].Name != "audit" {
		t.Errorf("reopened list = %+v", list)
	}
}

func TestHooksFireOnlyWhenEnabledAndBound(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Install(&Manifest{Name: "audit", Hooks: []string{"before_task", "after_task"}, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	task := &tasks.Task{ID: 1, Goal: "g"}

	// Unbound manifest: nothing fires.
	r.RunBefore(task)

	hook := &recorder{name: "audit"}
	r.Bind(hook)
	r.RunBefore(task)
	r.RunAfter(task, nil)
	if hook.before != 1 || hook.after != 1 {
		t.Errorf("hook counts = %d/%d", hook.before, hook.after)
	}

	// Disabled plugins are skipped.
	if err := r.SetEnabled("audit", false); err != nil {
		t.Fatal(err)
	}
	r.RunBefore(task)
	if hook.before != 1 {
		t.Error("disabled hook fired")
	}
}

func TestHookFailureIsSwallowed(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Install(&Manifest{Name: "flaky", Hooks: []string{"before_task"}, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	hook := &recorder{name: "flaky", fail: true}
	r.Bind(hook)

	// Must not panic or propagate.
	r.RunBefore(&tasks.Task{ID: 1})
	if hook.before != 1 {
		t.Error("failing hook not invoked")
	}
}
