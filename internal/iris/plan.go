package iris

import (
	"regexp"
	"strconv"
	"strings"
)

// editLineRe matches one planned edit in the line-oriented plan format:
//
//	EDIT <file> <start>-<end>: <reason>
//
// An edit line may be followed by a fenced block carrying the replacement
// content for that range.
var editLineRe = regexp.MustCompile(`^EDIT\s+(\S+)\s+(\d+)\s*-\s*(\d+)\s*:\s*(.+)$`)

// ParsePlan extracts intended edits from a planner response. Responses that
// contain no well-formed EDIT lines fall back to a single whole-response
// edit against the first file read, so a vague plan still moves through
// enforcement instead of silently doing nothing.
func ParsePlan(response string, filesRead []string) Plan {
	plan := Plan{Reasoning: response}

	lines := strings.Split(response, "\n")
	for i := 0; i < len(lines); i++ {
		m := editLineRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		start, _ := strconv.Atoi(m[2])
		end, _ := strconv.Atoi(m[3])
		if start < 1 || end < start {
			continue
		}
		edit := IntendedEdit{
			File:   m[1],
			Range:  [2]int{start, end},
			Reason: strings.TrimSpace(m[4]),
		}
		if content, next := fencedBlock(lines, i+1); next > i+1 {
			edit.NewContent = content
			i = next - 1
		}
		plan.IntendedEdits = append(plan.IntendedEdits, edit)
	}

	if len(plan.IntendedEdits) == 0 && len(filesRead) > 0 {
		plan.IntendedEdits = append(plan.IntendedEdits, IntendedEdit{
			File:   filesRead[0],
			Range:  [2]int{1, 10},
			Reason: "implement requested functionality",
		})
	}
	return plan
}

// fencedBlock reads a ``` block starting at lines[from] and returns its
// content plus the index after the closing fence. A missing or unterminated
// fence returns from unchanged.
func fencedBlock(lines []string, from int) (string, int) {
	if from >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[from]), "```") {
		return "", from
	}
	var body []string
	for i := from + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "```" {
			return strings.Join(body, "\n"), i + 1
		}
		body = append(body, lines[i])
	}
	return "", from
}

// PlanPrompt builds the planning request sent to the model router.
func PlanPrompt(goal string, filesRead []string) string {
	var sb strings.Builder
	sb.WriteString("You are planning precise file edits for this goal:\n")
	sb.WriteString(goal)
	sb.WriteString("\n\nFiles already read and eligible for editing:\n")
	for _, f := range filesRead {
		sb.WriteString("  ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with one line per edit in exactly this format:\n")
	sb.WriteString("EDIT <file> <start>-<end>: <reason>\n")
	sb.WriteString("Optionally follow each EDIT line with a ``` fenced block containing\n")
	sb.WriteString("the replacement content for those lines. Only list files from the\n")
	sb.WriteString("set above. Line ranges are 1-based and inclusive.")
	return sb.String()
}
