package validators

import (
	"encoding/json"
	"fmt"
	"strings"

	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/tools"
)

const submitAuditTool = "submit_audit"

var auditorInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"plan": {"type": "object"},
		"collected": {"type": "object"},
		"language": {"type": "string"}
	},
	"required": ["plan", "collected"]
}`)

var auditorOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"passed": {"type": "boolean"},
		"issues": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}},
		"summary": {"type": "string"}
	},
	"required": ["passed"]
}`)

func auditorDefinition() step.Definition {
	terminal := &verdictTool{
		name:        submitAuditTool,
		description: "Submit your audit of the completed interview. Call exactly once.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"passed":          {Type: "boolean", Description: "Whether the collected set passes the final audit"},
				"issues":          {Type: "array", Description: "Fields whose collected value is insufficient", Items: &tools.Property{Type: "string"}},
				"recommendations": {Type: "array", Description: "What to clarify with the candidate", Items: &tools.Property{Type: "string"}},
				"summary":         {Type: "string", Description: "One-paragraph summary of the interview"},
			},
			Required: []string{"passed"},
		},
	}

	return step.Definition{
		Type:         step.TypeAuditor,
		Delegatable:  true,
		InputSchema:  auditorInputSchema,
		OutputSchema: auditorOutputSchema,
		BuildPrompt:  auditorPrompt,
		InitialMessage: func(in step.Input) (llm.Message, bool) {
			return llm.NewUserMessage(renderCollected(in.(step.AuditorInput))), true
		},
		DeriveInput: func(s session.State, _ string) (step.Input, error) {
			return step.BuildInput(step.TypeAuditor, s, "")
		},
		New: newRunner(step.TypeAuditor, terminal),
	}
}

func auditorPrompt(in step.Input, _ session.State) string {
	a := in.(step.AuditorInput)
	return fmt.Sprintf(`You audit a finished automated job interview with %d planned fields.

Check every required field against its intent and required facts: is each collected value substantial enough for a hiring decision? Cross-check for contradictions between answers. Then call %s with your audit. If it fails, name the deficient fields as issues and give concrete recommendations for what to clarify; the interview will continue until you pass it.`,
		len(a.Plan.Fields), submitAuditTool)
}

func renderCollected(a step.AuditorInput) string {
	var b strings.Builder
	b.WriteString("Collected interview record:\n")
	for _, f := range a.Plan.Fields {
		value, ok := a.Collected[f.ID]
		if !ok {
			value = "(not collected)"
		}
		fmt.Fprintf(&b, "- %s (%s, required=%t): %s\n", f.Label, f.ID, f.Required, value)
	}
	return b.String()
}
