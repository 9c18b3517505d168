package iris

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/providers"
	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/tasks"
)

func newTestLoop(t *testing.T, goal string, responses ...string) (*Loop, *tasks.Task) {
	t.Helper()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {\n}\n")
	writeFile(t, root, "util.go", "package main\n\nfunc helper() int {\n\treturn 1\n}\n")

	repo, err := tasks.NewRepository(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatal(err)
	}
	task, err := repo.Create(goal)
	if err != nil {
		t.Fatal(err)
	}

	m, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.json"))
	if err != nil {
		t.Fatal(err)
	}
	rt := router.New(m, nil)
	rt.Register(providers.NewDummy(responses...))
	if err := rt.SetDefault("dummy"); err != nil {
		t.Fatal(err)
	}

	loop, err := NewLoop(root, repo, rt)
	if err != nil {
		t.Fatal(err)
	}
	loop.Out = devNull(t)
	loop.Confirm = func(string) bool { return true }

	// First run in a fresh workspace only lays down .context.
	if _, err := loop.Manager.Initialize(goal); err != nil {
		t.Fatal(err)
	}
	return loop, task
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func devNull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestLoopAppliesPlannedEdit(t *testing.T) {
	plan := "EDIT main.go 3-4: print a greeting\n```\nfunc main() {\n\tprintln(\"hi\")\n}\n```"
	loop, task := newTestLoop(t, "add a greeting", plan)

	if err := loop.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(loop.Root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `println("hi")`) {
		t.Errorf("edit not applied:\n%s", data)
	}

	got, _ := loop.Repo.Get(task.ID)
	if got.Status != tasks.StatusDone {
		t.Errorf("task status = %q", got.Status)
	}

	ctx, err := loop.Manager.LoadContext()
	if err != nil {
		t.Fatal(err)
	}
	if ctx.CurrentTask == nil || ctx.CurrentTask.LastPhase != PhaseVerify {
		t.Errorf("context task = %+v", ctx.CurrentTask)
	}
	if len(ctx.CurrentTask.FilesRead) != 2 {
		t.Errorf("files read = %d", len(ctx.CurrentTask.FilesRead))
	}

	j, err := loop.Manager.LoadJournal()
	if err != nil {
		t.Fatal(err)
	}
	phases := map[string]bool{}
	for _, e := range j.Entries {
		phases[e.Phase] = true
	}
	for _, want := range []string{PhaseRead, PhasePlan, PhaseWrite} {
		if !phases[want] {
			t.Errorf("journal missing %s entry: %+v", want, j.Entries)
		}
	}
}

func TestLoopEnforcesReadBeforeWrite(t *testing.T) {
	// secret.txt has the wrong suffix, so READ never picks it up.
	plan := "EDIT secret.txt 1-1: overwrite it\n```\ncompromised\n```"
	loop, task := newTestLoop(t, "tamper", plan)
	writeFile(t, loop.Root, "secret.txt", "original secret\n")

	err := loop.Execute(context.Background(), task.ID)
	if !errors.Is(err, ErrEnforcementViolation) {
		t.Fatalf("err = %v, want enforcement violation", err)
	}

	data, _ := os.ReadFile(filepath.Join(loop.Root, "secret.txt"))
	if string(data) != "original secret\n" {
		t.Errorf("file modified despite violation: %q", data)
	}
	got, _ := loop.Repo.Get(task.ID)
	if got.Status != tasks.StatusError {
		t.Errorf("task status = %q", got.Status)
	}
}

func TestLoopRollsBackOnVerifyFailure(t *testing.T) {
	plan := "EDIT main.go 1-4: break it\n```\nthis is not go at all {{{\n```"
	loop, task := newTestLoop(t, "sabotage", plan)

	before, err := os.ReadFile(filepath.Join(loop.Root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}

	execErr := loop.Execute(context.Background(), task.ID)
	if execErr == nil {
		t.Fatal("broken edit verified")
	}

	after, err := os.ReadFile(filepath.Join(loop.Root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Errorf("rollback not byte-exact:\nbefore %q\nafter  %q", before, after)
	}

	// Checkpoint is retained for the post-mortem.
	cpDir := filepath.Join(loop.Root, ".context", "checkpoints", fmt.Sprintf("%d", task.ID))
	entries, err := os.ReadDir(cpDir)
	if err != nil || len(entries) == 0 {
		t.Errorf("checkpoint missing: %v %v", entries, err)
	}

	got, _ := loop.Repo.Get(task.ID)
	if got.Status != tasks.StatusError {
		t.Errorf("task status = %q", got.Status)
	}
}

func TestLoopDeclinedEditFails(t *testing.T) {
	plan := "EDIT main.go 3-4: nope\n```\nfunc main() {}\n```"
	loop, task := newTestLoop(t, "change", plan)
	loop.Confirm = func(string) bool { return false }

	if err := loop.Execute(context.Background(), task.ID); err == nil {
		t.Fatal("declined edit succeeded")
	}
	data, _ := os.ReadFile(filepath.Join(loop.Root, "main.go"))
	if !strings.Contains(string(data), "func main() {\n}") {
		t.Errorf("file changed after decline:\n%s", data)
	}
}

func TestInitializeIsCreateOnce(t *testing.T) {
	cm, err := NewContextManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	created, err := cm.Initialize("proj")
	if err != nil || !created {
		t.Fatalf("first Initialize: created=%v err=%v", created, err)
	}
	created, err = cm.Initialize("proj")
	if err != nil || created {
		t.Fatalf("second Initialize: created=%v err=%v", created, err)
	}

	ctx, err := cm.LoadContext()
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Project.ID == "" || ctx.Project.Name != "proj" {
		t.Errorf("project = %+v", ctx.Project)
	}
	if ctx.Meta.JournalMax != 200 || ctx.Meta.CompactAfter != 50 {
		t.Errorf("meta = %+v", ctx.Meta)
	}
	if !ctx.Policy.ReadBeforeWrite {
		t.Error("read_before_write not defaulted on")
	}
}

func TestJournalCompaction(t *testing.T) {
	cm, err := NewContextManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Initialize("proj"); err != nil {
		t.Fatal(err)
	}

	j := &Journal{}
	for i := 0; i < 60; i++ {
		j.Entries = append(j.Entries, JournalEntry{
			TS: "t", TaskID: 1, Phase: PhaseRead, Desc: fmt.Sprintf("entry %d", i),
		})
	}
	if err := cm.WriteJournal(j); err != nil {
		t.Fatal(err)
	}

	got, err := cm.LoadJournal()
	if err != nil {
		t.Fatal(err)
	}
	// 60 entries compact to 1 synthetic summary + the 10 newest.
	if len(got.Entries) != 11 {
		t.Fatalf("entries after compaction = %d", len(got.Entries))
	}
	first := got.Entries[0]
	if first.Phase != PhaseInit || !strings.HasPrefix(first.Desc, "Compacted 50 entries") {
		t.Errorf("summary entry = %+v", first)
	}
	if got.Entries[len(got.Entries)-1].Desc != "entry 59" {
		t.Errorf("newest entry = %+v", got.Entries[len(got.Entries)-1])
	}
}

func TestCheckpointRollbackRoundTrip(t *testing.T) {
	root := t.TempDir()
	cm, err := NewContextManager(root)
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(root, "data.json")
	if err := os.WriteFile(target, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := cm.CreateCheckpoint(7, target)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("clobbered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cm.Rollback(cp, target); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != `{"v":1}` {
		t.Errorf("rolled back content = %q", data)
	}
}

func TestFileLockBreaksStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	// A PID far above pid_max marks a holder that no longer exists.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewFileLock(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("stale lock not broken: %v", err)
	}
	l.Release()

	if err := l.Acquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	l.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file left behind after release")
	}
}

func TestParsePlanDSL(t *testing.T) {
	response := strings.Join([]string{
		"Here is the plan.",
		"EDIT cmd/main.go 10-20: wire the new flag",
		"```",
		"flag.Bool(\"verbose\", false, \"\")",
		"```",
		"EDIT internal/app.go 1-3: update imports",
		"not an edit line",
	}, "\n")

	plan := ParsePlan(response, []string{"cmd/main.go"})
	if len(plan.IntendedEdits) != 2 {
		t.Fatalf("edits = %+v", plan.IntendedEdits)
	}
	first := plan.IntendedEdits[0]
	if first.File != "cmd/main.go" || first.Range != [2]int{10, 20} {
		t.Errorf("first edit = %+v", first)
	}
	if !strings.Contains(first.NewContent, "verbose") {
		t.Errorf("fenced content = %q", first.NewContent)
	}
	second := plan.IntendedEdits[1]
	if second.NewContent != "" || second.Reason != "update imports" {
		t.Errorf("second edit = %+v", second)
	}
	if plan.Reasoning != response {
		t.Error("reasoning not preserved")
	}
}

func TestParsePlanFallback(t *testing.T) {
	plan := ParsePlan("I would refactor things broadly.", []string{"a.go", "b.go"})
	if len(plan.IntendedEdits) != 1 {
		t.Fatalf("edits = %+v", plan.IntendedEdits)
	}
	if plan.IntendedEdits[0].File != "a.go" {
		t.Errorf("fallback file = %q", plan.IntendedEdits[0].File)
	}
	if got := ParsePlan("vague", nil); len(got.IntendedEdits) != 0 {
		t.Errorf("fallback with no files = %+v", got.IntendedEdits)
	}
}

func TestReplaceLineRange(t *testing.T) {
	content := "a\nb\nc\nd"
	if got := replaceLineRange(content, 2, 3, "X\nY"); got != "a\nX\nY\nd" {
		t.Errorf("middle = %q", got)
	}
	if got := replaceLineRange(content, 1, 4, "only"); got != "only" {
		t.Errorf("full = %q", got)
	}
	if got := replaceLineRange(content, 3, 99, "Z"); got != "a\nb\nZ" {
		t.Errorf("clamped = %q", got)
	}
}

func TestMergeSummaryCapped(t *testing.T) {
	cm, err := NewContextManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Initialize("proj"); err != nil {
		t.Fatal(err)
	}
	if err := cm.SetCurrentTask(&CurrentTask{TaskID: 1, Goal: "g", FilesRead: map[string]FileRead{}}); err != nil {
		t.Fatal(err)
	}

	if err := cm.MergeSummary(strings.Repeat("x", 900)); err != nil {
		t.Fatal(err)
	}
	ctx, _ := cm.LoadContext()
	if len(ctx.CurrentTask.Summary) != 800 {
		t.Errorf("summary length = %d", len(ctx.CurrentTask.Summary))
	}
}
