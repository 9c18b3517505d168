// Package iris implements the deterministic READ→PLAN→WRITE engine:
// a checksummed read state, a planned-edit pipeline with checkpoint
// rollback, and a compacting action journal under .context/.
package iris

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Phase names persisted into the context after each transition.
const (
	PhaseInit   = "INIT"
	PhaseRead   = "READ"
	PhasePlan   = "PLAN"
	PhaseWrite  = "WRITE"
	PhaseVerify = "VERIFY"
)

const (
	// DefaultJournalMax is how many recent entries survive a compaction.
	DefaultJournalMax = 200
	// DefaultCompactAfter is the journal length that triggers compaction.
	DefaultCompactAfter = 50
	// summaryLimit caps the current task's running summary.
	summaryLimit = 800
)

// Project identifies the workspace the context belongs to.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at"`
	LastUpdated string `json:"last_updated"`
}

// FileRead records one file's read state: the covered line range and the
// SHA-256 of the raw bytes at read time.
type FileRead struct {
	Lines [2]int `json:"lines"`
	Hash  string `json:"hash"`
}

// IntendedEdit is one planned modification: replace the 1-based inclusive
// line range of File with NewContent.
type IntendedEdit struct {
	File       string `json:"file"`
	Range      [2]int `json:"range"`
	Reason     string `json:"reason"`
	NewContent string `json:"new_content,omitempty"`
}

// Plan is the PLAN phase output.
type Plan struct {
	IntendedEdits []IntendedEdit `json:"intended_edits"`
	Reasoning     string         `json:"reasoning"`
}

// CurrentTask is the task the loop is driving right now.
type CurrentTask struct {
	TaskID    int64               `json:"task_id"`
	Goal      string              `json:"goal"`
	Status    string              `json:"status"`
	LastPhase string              `json:"last_phase"`
	Summary   string              `json:"summary"`
	FilesRead map[string]FileRead `json:"files_read"`
	Plan      Plan                `json:"plan"`
}

// Policy holds the enforcement switches.
type Policy struct {
	ReadBeforeWrite  bool `json:"read_before_write"`
	TrustedWorkspace bool `json:"trusted_workspace"`
}

// Meta bounds the journal.
type Meta struct {
	JournalMax   int `json:"journal_max"`
	CompactAfter int `json:"compact_after"`
}

// Context is the complete persisted project context.
type Context struct {
	Project     Project      `json:"project"`
	CurrentTask *CurrentTask `json:"current_task,omitempty"`
	Policy      Policy       `json:"policy"`
	Meta        Meta         `json:"meta"`
}

// JournalEntry is one action record.
type JournalEntry struct {
	TS     string         `json:"ts"`
	TaskID int64          `json:"task_id"`
	Phase  string         `json:"phase"`
	Desc   string         `json:"desc"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Journal is the append-only action history.
type Journal struct {
	Entries []JournalEntry `json:"entries"`
}

// ContextManager owns .context/: the context and journal files, the
// checkpoint tree, and the lock that serializes access across processes.
type ContextManager struct {
	Root           string
	contextDir     string
	contextPath    string
	journalPath    string
	checkpointsDir string
	lock           *FileLock
}

// NewContextManager prepares the .context directory under root.
func NewContextManager(root string) (*ContextManager, error) {
	dir := filepath.Join(root, ".context")
	if err := os.MkdirAll(filepath.Join(dir, "checkpoints"), 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &ContextManager{
		Root:           root,
		contextDir:     dir,
		contextPath:    filepath.Join(dir, "context.json"),
		journalPath:    filepath.Join(dir, "journal.json"),
		checkpointsDir: filepath.Join(dir, "checkpoints"),
		lock:           NewFileLock(filepath.Join(dir, ".lock")),
	}, nil
}

// Initialize writes a fresh context unless one exists already. The bool
// reports whether a new context was created.
func (m *ContextManager) Initialize(projectName string) (bool, error) {
	if _, err := os.Stat(m.contextPath); err == nil {
		return false, nil
	}

	now := time.Now().Format(time.RFC3339)
	ctx := &Context{
		Project: Project{
			ID:          uuid.NewString(),
			Name:        projectName,
			CreatedAt:   now,
			LastUpdated: now,
		},
		Policy: Policy{ReadBeforeWrite: true},
		Meta:   Meta{JournalMax: DefaultJournalMax, CompactAfter: DefaultCompactAfter},
	}

	if err := m.lock.Acquire(); err != nil {
		return false, err
	}
	defer m.lock.Release()

	if err := writeJSONAtomic(m.contextPath, ctx); err != nil {
		return false, err
	}
	if err := writeJSONAtomic(m.journalPath, &Journal{Entries: []JournalEntry{}}); err != nil {
		return false, err
	}
	return true, nil
}

// LoadContext reads the context under the lock.
func (m *ContextManager) LoadContext() (*Context, error) {
	if err := m.lock.Acquire(); err != nil {
		return nil, err
	}
	defer m.lock.Release()
	return m.loadContextLocked()
}

func (m *ContextManager) loadContextLocked() (*Context, error) {
	data, err := os.ReadFile(m.contextPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("context not initialized under %s", m.Root)
		}
		return nil, fmt.Errorf("read context: %w", err)
	}
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("parse context: %w", err)
	}
	if ctx.Meta.JournalMax <= 0 {
		ctx.Meta.JournalMax = DefaultJournalMax
	}
	if ctx.Meta.CompactAfter <= 0 {
		ctx.Meta.CompactAfter = DefaultCompactAfter
	}
	return &ctx, nil
}

// WriteContext persists the context, bumping last_updated.
func (m *ContextManager) WriteContext(ctx *Context) error {
	if err := m.lock.Acquire(); err != nil {
		return err
	}
	defer m.lock.Release()

	ctx.Project.LastUpdated = time.Now().Format(time.RFC3339)
	return writeJSONAtomic(m.contextPath, ctx)
}

// SetCurrentTask swaps the active task in the context.
func (m *ContextManager) SetCurrentTask(t *CurrentTask) error {
	ctx, err := m.LoadContext()
	if err != nil {
		return err
	}
	ctx.CurrentTask = t
	return m.WriteContext(ctx)
}

// MergeSummary appends new information to the task summary, capped at 800
// characters.
func (m *ContextManager) MergeSummary(info string) error {
	ctx, err := m.LoadContext()
	if err != nil {
		return err
	}
	if ctx.CurrentTask == nil {
		return nil
	}
	merged := ctx.CurrentTask.Summary
	if merged != "" {
		merged += " "
	}
	merged += info
	if len(merged) > summaryLimit {
		merged = merged[:summaryLimit]
	}
	ctx.CurrentTask.Summary = merged
	return m.WriteContext(ctx)
}

// LoadJournal reads the journal; a missing file is an empty journal.
func (m *ContextManager) LoadJournal() (*Journal, error) {
	data, err := os.ReadFile(m.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Journal{}, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}
	return &j, nil
}

// AddJournalEntry appends an entry, compacting first when the journal has
// outgrown its bound.
func (m *ContextManager) AddJournalEntry(taskID int64, phase, desc string, meta map[string]any) error {
	j, err := m.LoadJournal()
	if err != nil {
		return err
	}
	j.Entries = append(j.Entries, JournalEntry{
		TS:     time.Now().Format(time.RFC3339),
		TaskID: taskID,
		Phase:  phase,
		Desc:   desc,
		Meta:   meta,
	})
	return m.WriteJournal(j)
}

// WriteJournal persists the journal, compacting beforehand when its length
// exceeds compact_after.
func (m *ContextManager) WriteJournal(j *Journal) error {
	if err := m.lock.Acquire(); err != nil {
		return err
	}
	defer m.lock.Release()

	ctx, err := m.loadContextLocked()
	if err != nil {
		return err
	}
	if len(j.Entries) > ctx.Meta.CompactAfter {
		compactJournal(j, ctx.Meta)
	}
	return writeJSONAtomic(m.journalPath, j)
}

// compactJournal collapses the oldest tail beyond journal_max recent
// entries into one synthetic INIT summary record.
func compactJournal(j *Journal, meta Meta) {
	keep := min(meta.JournalMax, len(j.Entries)-meta.CompactAfter)
	if keep <= 0 || keep >= len(j.Entries) {
		return
	}
	old := j.Entries[:len(j.Entries)-keep]
	recent := j.Entries[len(j.Entries)-keep:]

	summary := JournalEntry{
		TS:     time.Now().Format(time.RFC3339),
		TaskID: old[0].TaskID,
		Phase:  PhaseInit,
		Desc:   fmt.Sprintf("Compacted %d entries: %s", len(old), summarizeEntries(old)),
		Meta:   map[string]any{"compacted": true, "entry_count": len(old)},
	}
	j.Entries = append([]JournalEntry{summary}, recent...)
}

func summarizeEntries(entries []JournalEntry) string {
	n := min(10, len(entries))
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += entries[i].Phase + ": " + entries[i].Desc
	}
	return out + "..."
}

// CreateCheckpoint copies a file's current bytes into the task's checkpoint
// directory and returns the checkpoint path. A missing source still yields
// a path so a later rollback can restore "file absent".
func (m *ContextManager) CreateCheckpoint(taskID int64, path string) (string, error) {
	dir := filepath.Join(m.checkpointsDir, fmt.Sprintf("%d", taskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	cp := filepath.Join(dir, fmt.Sprintf("%s.orig.%d", filepath.Base(path), time.Now().UnixMilli()))

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return "", fmt.Errorf("checkpoint %s: %w", path, err)
	}
	defer src.Close()

	dst, err := os.Create(cp)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", path, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// Rollback restores target from a checkpoint, byte for byte. A checkpoint
// that never existed (source was absent) removes the target.
func (m *ContextManager) Rollback(checkpoint, target string) error {
	data, err := os.ReadFile(checkpoint)
	if err != nil {
		if os.IsNotExist(err) {
			if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return fmt.Errorf("rollback read: %w", err)
	}
	return writeFileAtomic(target, data)
}

// Checksum returns the SHA-256 of a file's bytes; missing files hash empty.
func Checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
