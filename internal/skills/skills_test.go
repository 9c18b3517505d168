package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinsAreValid(t *testing.T) {
	for _, s := range builtinSkills {
		if err := s.Validate(); err != nil {
			t.Errorf("builtin %s invalid: %v", s.Name, err)
		}
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	s := r.FindForGoal("please REVIEW the storage layer changes")
	if s == nil || s.Name != "code-review" {
		t.Fatalf("found %+v, want code-review", s)
	}
	if got := r.FindForGoal("bake a cake"); got != nil {
		t.Errorf("unexpected match: %s", got.Name)
	}
}

func TestPromptSubstitutesGoal(t *testing.T) {
	r := NewRegistry()
	s := r.Get("debug")
	if s == nil {
		t.Fatal("debug skill missing")
	}
	prompt := s.Prompt("fix bug in parser")
	if !strings.Contains(prompt, "fix bug in parser") {
		t.Errorf("goal not substituted: %q", prompt)
	}
	if strings.Contains(prompt, "{goal}") {
		t.Error("placeholder survived substitution")
	}
}

func TestLoadSkillFromYAML(t *testing.T) {
	content := `name: deploy
description: Release workflow helper
triggers:
  - deploy
  - release
template: |
  Ship it.
  Goal: {goal}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSkill(path)
	if err != nil {
		t.Fatalf("LoadSkill: %v", err)
	}
	if s.Name != "deploy" || !s.Match("deploy the gateway") {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoadSkillRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("name: incomplete\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSkill(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDirSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	good := `name: greet
description: Greeting helper
triggers: [greet]
template: "Say hello. Goal: {goal}"
`
	if err := os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(":::"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if r.Get("greet") == nil {
		t.Error("good skill not loaded")
	}
	if r.Get("broken") != nil {
		t.Error("broken skill loaded")
	}
}

func TestLoadDirMissingIsNoop(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadDir(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Skill{
		Name:        "debug",
		Description: "dup",
		Triggers:    []string{"x"},
		Template:    "y",
	})
	if err == nil {
		t.Fatal("duplicate name accepted")
	}
}
