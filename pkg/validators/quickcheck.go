package validators

import (
	"encoding/json"
	"fmt"

	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/tools"
)

const submitVerdictTool = "submit_verdict"

var quickCheckInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"field": {"type": "object"},
		"language": {"type": "string"}
	},
	"required": ["question", "field"]
}`)

var quickCheckOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"passed": {"type": "boolean"},
		"issues": {"type": "array", "items": {"type": "string"}},
		"suggestion": {"type": "string"}
	},
	"required": ["passed"]
}`)

func quickCheckDefinition() step.Definition {
	terminal := &verdictTool{
		name:        submitVerdictTool,
		description: "Submit your compliance verdict on the proposed question. Call exactly once.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"passed":     {Type: "boolean", Description: "Whether the question may be shown to the candidate"},
				"issues":     {Type: "array", Description: "Compliance problems found, empty if passed", Items: &tools.Property{Type: "string"}},
				"suggestion": {Type: "string", Description: "How to rephrase the question if it failed"},
			},
			Required: []string{"passed"},
		},
	}

	return step.Definition{
		Type:         step.TypeQuickCheck,
		Delegatable:  true,
		InputSchema:  quickCheckInputSchema,
		OutputSchema: quickCheckOutputSchema,
		BuildPrompt:  quickCheckPrompt,
		InitialMessage: func(in step.Input) (llm.Message, bool) {
			qc := in.(step.QuickCheckInput)
			return llm.NewUserMessage("Proposed question: " + qc.Question), true
		},
		DeriveInput: func(s session.State, context string) (step.Input, error) {
			in, err := step.BuildInput(step.TypeQuickCheck, s, "")
			if err != nil {
				// Past the plan there is no current field; the delegation
				// context is checked against a synthetic clarification field.
				if context == "" {
					return nil, err
				}
				return step.QuickCheckInput{
					Question: context,
					Field:    session.PlanField{ID: "clarification", Intent: "audit remediation"},
					Language: s.Language,
				}, nil
			}
			qc := in.(step.QuickCheckInput)
			if qc.Question == "" {
				qc.Question = context
			}
			return qc, nil
		},
		New: newRunner(step.TypeQuickCheck, terminal),
	}
}

func quickCheckPrompt(in step.Input, _ session.State) string {
	qc := in.(step.QuickCheckInput)
	return fmt.Sprintf(`You are a compliance checker for an automated job interview. A question is about to be shown to the candidate.

%s

Decide whether the question is appropriate: on topic for the field, respectful, free of discriminatory or legally protected subjects, and not touching any forbidden topic listed above. Then call %s with your verdict. If it fails, list the concrete issues and suggest a compliant rephrasing.`,
		fieldBrief(qc.Field), submitVerdictTool)
}
