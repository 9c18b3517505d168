package iris

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/term"

	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/tasks"
)

// ErrEnforcementViolation is returned when a write targets a file that was
// never read, or when the context is in a state the loop cannot act on.
var ErrEnforcementViolation = errors.New("ERR_ENFORCEMENT_VIOLATION")

// readLimit caps how many files the READ phase takes in.
const readLimit = 10

// skipDirs are never descended into during READ enumeration.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

var (
	addStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	delStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	ctxStyle = lipgloss.NewStyle().Faint(true)
)

// Loop drives one task through INIT→READ→PLAN→WRITE→VERIFY.
type Loop struct {
	Root    string
	Suffix  string // primary source suffix, default ".go"
	Manager *ContextManager
	Repo    *tasks.Repository
	Router  *router.Router
	// Confirm decides whether a previewed edit is applied. Nil uses the
	// terminal prompt (auto-accepted off a TTY or in a trusted workspace).
	Confirm func(preview string) bool
	Out     *os.File
	logger  *slog.Logger
}

// NewLoop builds a loop rooted at root.
func NewLoop(root string, repo *tasks.Repository, rt *router.Router) (*Loop, error) {
	cm, err := NewContextManager(root)
	if err != nil {
		return nil, err
	}
	return &Loop{
		Root:    root,
		Suffix:  ".go",
		Manager: cm,
		Repo:    repo,
		Router:  rt,
		Out:     os.Stdout,
		logger:  slog.Default().With("component", "iris"),
	}, nil
}

// Execute runs the full phase machine for a task. The first call in a fresh
// workspace only initializes .context and returns.
func (l *Loop) Execute(ctx context.Context, taskID int64) error {
	task, ok := l.Repo.Get(taskID)
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}

	created, err := l.Manager.Initialize(task.Goal)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(l.Out, "iris: initialized .context for this workspace")
		return nil
	}

	current := &CurrentTask{
		TaskID:    task.ID,
		Goal:      task.Goal,
		Status:    "running",
		LastPhase: PhaseInit,
		FilesRead: map[string]FileRead{},
	}
	if err := l.Manager.SetCurrentTask(current); err != nil {
		return err
	}
	_ = task.UpdateStatus(tasks.StatusRunning)
	_ = l.Repo.Update(task)

	err = l.run(ctx, task, current)
	if err != nil {
		current.Status = "error"
		current.Summary = truncateSummary("error: " + err.Error())
		_ = l.Manager.SetCurrentTask(current)
		if task.Status == tasks.StatusRunning {
			_ = task.UpdateStatus(tasks.StatusError)
		}
		_ = l.Repo.Update(task)
		return err
	}

	current.Status = "done"
	current.LastPhase = PhaseVerify
	if err := l.Manager.SetCurrentTask(current); err != nil {
		return err
	}
	_ = task.UpdateStatus(tasks.StatusDone)
	return l.Repo.Update(task)
}

func (l *Loop) run(ctx context.Context, task *tasks.Task, current *CurrentTask) error {
	files, err := l.readPhase(task, current)
	if err != nil {
		return err
	}

	plan, err := l.planPhase(ctx, task, current, files)
	if err != nil {
		return err
	}

	return l.writePhase(ctx, task, current, plan)
}

// readPhase enumerates and checksums candidate source files, recording each
// into the context's read state.
func (l *Loop) readPhase(task *tasks.Task, current *CurrentTask) ([]string, error) {
	files, err := l.findFiles()
	if err != nil {
		return nil, fmt.Errorf("read phase: %w", err)
	}

	for _, rel := range files {
		abs := filepath.Join(l.Root, rel)
		data, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		hash, err := Checksum(abs)
		if err != nil {
			continue
		}
		lines := strings.Count(string(data), "\n") + 1
		current.FilesRead[rel] = FileRead{Lines: [2]int{1, lines}, Hash: hash}
		fmt.Fprintf(l.Out, "iris: read %s (%d lines, %.8s)\n", rel, lines, hash)
	}

	current.LastPhase = PhaseRead
	if err := l.Manager.SetCurrentTask(current); err != nil {
		return nil, err
	}
	if err := l.Manager.AddJournalEntry(task.ID, PhaseRead,
		fmt.Sprintf("Read %d files", len(current.FilesRead)),
		map[string]any{"files_read": len(current.FilesRead)}); err != nil {
		return nil, err
	}

	read := make([]string, 0, len(current.FilesRead))
	for f := range current.FilesRead {
		read = append(read, f)
	}
	sort.Strings(read)
	return read, nil
}

// findFiles returns up to readLimit workspace-relative source files with the
// primary suffix, skipping hidden directories and build caches.
func (l *Loop) findFiles() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(l.Root), "**/*"+l.Suffix)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, m := range matches {
		if excluded(m) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	if len(files) > readLimit {
		files = files[:readLimit]
	}
	return files, nil
}

func excluded(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") || skipDirs[seg] {
			return true
		}
	}
	return false
}

// planPhase asks the router for a structured edit plan and persists it.
func (l *Loop) planPhase(ctx context.Context, task *tasks.Task, current *CurrentTask, files []string) (Plan, error) {
	response, err := l.Router.Generate(ctx, PlanPrompt(task.Goal, files), router.Options{Goal: task.Goal})
	if err != nil {
		return Plan{}, fmt.Errorf("plan phase: %w", err)
	}

	plan := ParsePlan(response, files)
	current.Plan = plan
	current.LastPhase = PhasePlan
	if err := l.Manager.SetCurrentTask(current); err != nil {
		return Plan{}, err
	}
	for _, e := range plan.IntendedEdits {
		fmt.Fprintf(l.Out, "iris: plan %s %d-%d (%s)\n", e.File, e.Range[0], e.Range[1], e.Reason)
	}
	if err := l.Manager.AddJournalEntry(task.ID, PhasePlan,
		fmt.Sprintf("Planned %d edits", len(plan.IntendedEdits)),
		map[string]any{"edits_planned": len(plan.IntendedEdits)}); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// writePhase applies each planned edit behind enforcement, checkpointing,
// preview and verification. The first failure rolls the file back and stops.
func (l *Loop) writePhase(ctx context.Context, task *tasks.Task, current *CurrentTask, plan Plan) error {
	policy, err := l.Manager.LoadContext()
	if err != nil {
		return err
	}

	current.LastPhase = PhaseWrite
	if err := l.Manager.SetCurrentTask(current); err != nil {
		return err
	}

	applied := 0
	for _, edit := range plan.IntendedEdits {
		if policy.Policy.ReadBeforeWrite {
			if _, ok := current.FilesRead[edit.File]; !ok {
				return fmt.Errorf("%w: MUST_READ_FIRST: file %s not in read state", ErrEnforcementViolation, edit.File)
			}
		}

		target := filepath.Join(l.Root, edit.File)
		original, err := os.ReadFile(target)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("write phase %s: %w", edit.File, err)
		}

		newContent := edit.NewContent
		if newContent == "" {
			newContent, err = l.generateContent(ctx, task.Goal, edit, string(original))
			if err != nil {
				return fmt.Errorf("write phase %s: %w", edit.File, err)
			}
		}

		updated := replaceLineRange(string(original), edit.Range[0], edit.Range[1], newContent)

		preview := renderDiff(edit.File, string(original), updated)
		fmt.Fprintln(l.Out, preview)
		if !l.confirm(policy.Policy, preview) {
			return fmt.Errorf("edit to %s declined", edit.File)
		}

		checkpoint, err := l.Manager.CreateCheckpoint(task.ID, target)
		if err != nil {
			return err
		}

		if err := writeFileAtomic(target, []byte(updated)); err != nil {
			return err
		}

		if verr := verifyFile(target); verr != nil {
			l.logger.Warn("verification failed, rolling back", "file", edit.File, "error", verr)
			if rbErr := l.Manager.Rollback(checkpoint, target); rbErr != nil {
				return fmt.Errorf("rollback %s: %w", edit.File, rbErr)
			}
			_ = l.Manager.AddJournalEntry(task.ID, PhaseVerify,
				fmt.Sprintf("Rolled back %s: %v", edit.File, verr),
				map[string]any{"rolled_back": true})
			return fmt.Errorf("verify %s: %w", edit.File, verr)
		}
		applied++
	}

	return l.Manager.AddJournalEntry(task.ID, PhaseWrite,
		fmt.Sprintf("Applied %d edits successfully", applied),
		map[string]any{"edits_applied": applied})
}

// generateContent asks the router for the replacement lines of one edit.
func (l *Loop) generateContent(ctx context.Context, goal string, edit IntendedEdit, original string) (string, error) {
	lines := strings.Split(original, "\n")
	start := max(1, edit.Range[0])
	end := min(len(lines), edit.Range[1])
	var snippet string
	if start <= end {
		snippet = strings.Join(lines[start-1:end], "\n")
	}

	prompt := fmt.Sprintf(
		"Goal: %s\nFile: %s\nReplace lines %d-%d (%s). Current content of that range:\n```\n%s\n```\nRespond with only the replacement lines, no fences, no commentary.",
		goal, edit.File, edit.Range[0], edit.Range[1], edit.Reason, snippet)

	out, err := l.Router.Generate(ctx, prompt, router.Options{Goal: goal})
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(stripFences(out), "\n"), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func (l *Loop) confirm(policy Policy, preview string) bool {
	if l.Confirm != nil {
		return l.Confirm(preview)
	}
	if policy.TrustedWorkspace {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Fprint(l.Out, "apply this edit? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// replaceLineRange substitutes the 1-based inclusive range [start,end] of
// content with replacement's lines.
func replaceLineRange(content string, start, end int, replacement string) string {
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		// Appending past EOF pads nothing, the new lines just follow.
		return strings.TrimSuffix(content, "\n") + "\n" + replacement
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start-1]...)
	out = append(out, strings.Split(replacement, "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}

// renderDiff produces a colored line diff between the old and new content.
func renderDiff(name, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, arr := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), arr)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", name, name)
	for _, d := range diffs {
		for _, line := range splitDiffLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				sb.WriteString(addStyle.Render("+" + line))
			case diffmatchpatch.DiffDelete:
				sb.WriteString(delStyle.Render("-" + line))
			default:
				sb.WriteString(ctxStyle.Render(" " + line))
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func splitDiffLines(text string) []string {
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// verifyFile runs the syntax check appropriate to the file's suffix.
func verifyFile(path string) error {
	switch filepath.Ext(path) {
	case ".go":
		fset := token.NewFileSet()
		_, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
		return err
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON")
		}
		return nil
	default:
		return nil
	}
}

func truncateSummary(s string) string {
	if len(s) > summaryLimit {
		return s[:summaryLimit]
	}
	return s
}
