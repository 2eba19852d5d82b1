package planner

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

const (
	// StrictSuffix is appended to the user text on the single retry.
	StrictSuffix = "\nReturn ONLY valid JSON."

	insuranceHint = "\nEnsure you identify the patient before checking insurance."
)

// SystemPrompt is the fixed instruction sent with every planning call.
var SystemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a clinical workflow orchestration agent.\n\n")
	b.WriteString("STRICT RULES:\n")
	b.WriteString("- You MUST NOT give medical advice\n")
	b.WriteString("- You MUST output ONLY valid JSON\n")
	b.WriteString("- Do NOT include explanations, markdown, or comments\n")
	fmt.Fprintf(&b, "- Do NOT invent IDs (%s, %s)\n", schema.ContextPatientID, schema.ContextSlotID)
	fmt.Fprintf(&b, "- Use %q where an ID is required\n\n", schema.ContextSentinel)

	b.WriteString("Allowed functions:\n")
	for _, d := range schema.Describe() {
		fmt.Fprintf(&b, "- %s(%s)\n", d.Name, strings.Join(d.RequiredFields, ", "))
	}

	b.WriteString("\nIMPORTANT:\n")
	for _, d := range schema.Describe() {
		if len(d.ContextFields) == 0 {
			continue
		}
		parts := make([]string, 0, len(d.ContextFields))
		for _, f := range d.ContextFields {
			parts = append(parts, fmt.Sprintf("%s = %q", f, schema.ContextSentinel))
		}
		fmt.Fprintf(&b, "- For %s: %s\n", d.Name, strings.Join(parts, "; "))
	}

	b.WriteString("\nOUTPUT FORMAT:\n")
	b.WriteString(`{
  "steps": [
    {
      "function": "<function_name>",
      "arguments": { "<key>": "<value>" }
    }
  ]
}
`)
	return b.String()
}

// ClarifyInput appends a patient-first hint when the request mentions
// insurance. The model may still reorder steps; injection is what enforces
// identifier flow.
func ClarifyInput(input string) string {
	if strings.Contains(strings.ToLower(input), "insurance") {
		return input + insuranceHint
	}
	return input
}
