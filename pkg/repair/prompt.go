// Package repair builds the retry prompts used on second and later local
// attempts. The repair family is derived deterministically from the task
// category.
package repair

import "strings"

// Family names a repair prompt style.
type Family string

const (
	FamilyStrictFormat Family = "strict-format"
	FamilyConcise      Family = "concise"
	FamilyCompliance   Family = "compliance"
	FamilyClarity      Family = "clarity"
)

// FamilyForCategory maps a task category to its repair family.
func FamilyForCategory(category string) Family {
	switch strings.ToLower(category) {
	case "json", "json-format", "code":
		return FamilyStrictFormat
	case "summary", "status":
		return FamilyConcise
	case "policy", "arbiter":
		return FamilyCompliance
	default:
		return FamilyClarity
	}
}

// Prompt builds a repair prompt for a category from the prior attempt's raw
// output.
func Prompt(category, priorOutput string) string {
	var sb strings.Builder

	switch FamilyForCategory(category) {
	case FamilyStrictFormat:
		sb.WriteString("The previous output did not meet the required format:\n\n")
		writePrior(&sb, priorOutput)
		sb.WriteString("Return only strictly valid output for the requested format.\n")
		sb.WriteString("No prose, no markdown fences, no commentary around it.\n")
	case FamilyConcise:
		sb.WriteString("The previous answer was not usable as a summary:\n\n")
		writePrior(&sb, priorOutput)
		sb.WriteString("Rewrite it as short, concise bullet points covering only the key facts.\n")
	case FamilyCompliance:
		sb.WriteString("The previous answer needs revision:\n\n")
		writePrior(&sb, priorOutput)
		sb.WriteString("Rewrite it to follow the stated policy exactly, staying neutral and\n")
		sb.WriteString("citing only what the input supports.\n")
	default:
		sb.WriteString("The previous answer was unclear or incomplete:\n\n")
		writePrior(&sb, priorOutput)
		sb.WriteString("Provide a clearer, more direct answer to the original question.\n")
	}

	return sb.String()
}

func writePrior(sb *strings.Builder, priorOutput string) {
	sb.WriteString("---\n")
	sb.WriteString(priorOutput)
	if !strings.HasSuffix(priorOutput, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")
}
