package skills

// builtinSkills ships with the engine; custom skills loaded from disk can
// shadow none of these names.
var builtinSkills = []*Skill{
	{
		Name:        "code-review",
		Description: "Structured review of source code changes",
		Triggers:    []string{"review", "code review", "pull request", "pr feedback"},
		Template: "Review the following code change carefully.\n" +
			"Goal: {goal}\n" +
			"Check correctness, error handling, naming, and test coverage. " +
			"List concrete findings ordered by severity, then an overall verdict.",
	},
	{
		Name:        "debug",
		Description: "Systematic fault isolation for failing behavior",
		Triggers:    []string{"debug", "fix bug", "broken", "not working", "error in"},
		Template: "Debug the following problem.\n" +
			"Goal: {goal}\n" +
			"Reproduce the failure, narrow the cause with the available tools, " +
			"state the root cause, then apply the smallest fix that resolves it.",
	},
	{
		Name:        "file-organization",
		Description: "Tidy directories and normalize file layout",
		Triggers:    []string{"organize", "organise", "clean up files", "sort files", "tidy"},
		Template: "Organize files for this goal.\n" +
			"Goal: {goal}\n" +
			"Inspect the directory first with list_dir, group files by type or " +
			"purpose, and move them with shell commands. Never delete anything.",
	},
}
