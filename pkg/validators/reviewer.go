package validators

import (
	"encoding/json"
	"fmt"

	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/tools"
)

const submitReviewTool = "submit_review"

var reviewerInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {"type": "string"},
		"answer": {"type": "string", "minLength": 1},
		"field": {"type": "object"},
		"follow_ups": {"type": "integer", "minimum": 0}
	},
	"required": ["question", "answer", "field"]
}`)

var reviewerOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"passed": {"type": "boolean"},
		"feedback": {"type": "string"},
		"missing_facts": {"type": "array", "items": {"type": "string"}},
		"extracted_value": {"type": "string"}
	},
	"required": ["passed"]
}`)

func reviewerDefinition() step.Definition {
	terminal := &verdictTool{
		name:        submitReviewTool,
		description: "Submit your review of the candidate's answer. Call exactly once.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"passed":          {Type: "boolean", Description: "Whether the answer covers the field's required facts"},
				"feedback":        {Type: "string", Description: "What is missing or unclear, phrased for a follow-up"},
				"missing_facts":   {Type: "array", Description: "Required facts not yet covered", Items: &tools.Property{Type: "string"}},
				"extracted_value": {Type: "string", Description: "The normalized value to record when passed"},
			},
			Required: []string{"passed"},
		},
	}

	return step.Definition{
		Type:         step.TypeReviewer,
		Delegatable:  true,
		InputSchema:  reviewerInputSchema,
		OutputSchema: reviewerOutputSchema,
		BuildPrompt:  reviewerPrompt,
		InitialMessage: func(in step.Input) (llm.Message, bool) {
			rv := in.(step.ReviewerInput)
			return llm.NewUserMessage(fmt.Sprintf("Question: %s\nAnswer: %s", rv.Question, rv.Answer)), true
		},
		DeriveInput: func(s session.State, context string) (step.Input, error) {
			return step.BuildInput(step.TypeReviewer, s, context)
		},
		New: newRunner(step.TypeReviewer, terminal),
	}
}

func reviewerPrompt(in step.Input, _ session.State) string {
	rv := in.(step.ReviewerInput)
	prompt := fmt.Sprintf(`You review a candidate's answer in an automated job interview.

%s

Judge whether the answer genuinely covers the field's intent and required facts. A short answer can pass if it is complete; a long answer can fail if it dodges the point. When the answer passes, extract a concise normalized value for the record. When it fails, name the missing facts and write feedback suitable for one polite follow-up question. Then call %s with your review.`,
		fieldBrief(rv.Field), submitReviewTool)
	if rv.FollowUps > 0 {
		prompt += fmt.Sprintf("\n\nThe candidate has already been asked %d follow-up(s) on this field; lower the bar accordingly.", rv.FollowUps)
	}
	return prompt
}
