package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/droverhq/drover/internal/sandbox"
)

// ShellTool executes a shell command through the sandbox.
type ShellTool struct {
	Sandbox *sandbox.Sandbox
	Filter  *sandbox.Filter
}

// NewShellTool creates a shell tool bound to a sandbox and policy filter.
func NewShellTool(sb *sandbox.Sandbox, filter *sandbox.Filter) *ShellTool {
	return &ShellTool{Sandbox: sb, Filter: filter}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Schema() Schema {
	return Schema{
		Name:        "shell",
		Description: "Execute a shell command and return its output",
		Parameters: map[string]Param{
			"command": {Type: "string", Description: "Shell command to execute", Required: true},
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]string) Result {
	command := args["command"]
	if command == "" {
		return Result{Error: "shell tool requires 'command' argument"}
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(command)), "sudo") {
		return Result{Error: "sudo execution not allowed"}
	}

	if t.Filter != nil {
		if v := t.Filter.CheckCommand(command); v.Blocked {
			return Result{Error: "command blocked: " + strings.Join(v.Reasons, "; ")}
		}
	}

	res, err := t.Sandbox.RunCommand(ctx, command)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if res.ReturnCode != 0 {
		errText := res.Stderr
		if errText == "" {
			errText = fmt.Sprintf("exit status %d", res.ReturnCode)
		}
		return Result{Output: res.Stdout, Error: errText}
	}
	return Result{Output: res.Stdout, Error: res.Stderr}
}

// ReadFileTool reads a file's contents.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Schema() Schema {
	return Schema{
		Name:        "read_file",
		Description: "Read file contents",
		Parameters: map[string]Param{
			"filepath": {Type: "string", Description: "Path to file to read", Required: true},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]string) Result {
	path := args["filepath"]
	if path == "" {
		return Result{Error: "read_file requires 'filepath' argument"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Error: "file not found: " + path}
		}
		return Result{Error: err.Error()}
	}
	return Result{Output: string(data)}
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Schema() Schema {
	return Schema{
		Name:        "write_file",
		Description: "Write content to a file",
		Parameters: map[string]Param{
			"filepath": {Type: "string", Description: "Path to file to write", Required: true},
			"content":  {Type: "string", Description: "Content to write", Required: true},
		},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]string) Result {
	path := args["filepath"]
	if path == "" {
		return Result{Error: "write_file requires 'filepath' argument"}
	}
	content := args["content"]

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Error: err.Error()}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Output: fmt.Sprintf("Wrote %d bytes to %s", len(content), path)}
}

// ListDirTool lists directory entries, sorted by name.
type ListDirTool struct{}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Schema() Schema {
	return Schema{
		Name:        "list_dir",
		Description: "List directory contents",
		Parameters: map[string]Param{
			"path": {Type: "string", Description: "Path to directory (default: current)"},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]string) Result {
	path := args["path"]
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Error: "directory not found: " + path}
		}
		return Result{Error: err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return Result{Output: strings.Join(names, "\n")}
}

// RegisterDefaults registers the built-in tool set on a registry.
func RegisterDefaults(r *Registry, sb *sandbox.Sandbox, filter *sandbox.Filter) {
	r.Register(NewShellTool(sb, filter))
	r.Register(&ReadFileTool{})
	r.Register(&WriteFileTool{})
	r.Register(&ListDirTool{})
}
