package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/step/toolloop"
	"interview/pkg/tools"
)

// Action names exposed to the backend per stage.
const (
	askUserTool      = "ask_user"
	offerChoicesTool = "offer_choices"
	delegateTool     = "delegate"
	setLanguageTool  = "set_language"
)

// RegisterSteps adds the bootstrap and interviewer definitions to a step
// registry. Validators register separately.
func RegisterSteps(reg *step.Registry) {
	reg.MustRegister(bootstrapDefinition())
	reg.MustRegister(interviewerDefinition())
}

// ackTool is an action whose execution only acknowledges receipt; the
// arguments carry the payload.
type ackTool struct {
	name        string
	description string
	schema      tools.InputSchema
}

func (a *ackTool) Name() string { return a.name }

func (a *ackTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{Name: a.name, Description: a.description, InputSchema: a.schema}
}

func (a *ackTool) Exec(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func newAskUserTool() tools.Tool {
	return &ackTool{
		name:        askUserTool,
		description: "Ask the candidate one question and end your turn to wait for the answer.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"question": {Type: "string", Description: "The question to show the candidate"},
			},
			Required: []string{"question"},
		},
	}
}

func newOfferChoicesTool() tools.Tool {
	return &ackTool{
		name:        offerChoicesTool,
		description: "Ask the candidate one question with a fixed set of answer choices.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"question": {Type: "string", Description: "The question to show the candidate"},
				"choices":  {Type: "array", Description: "The answer choices to offer", Items: &tools.Property{Type: "string"}},
			},
			Required: []string{"question", "choices"},
		},
	}
}

func newDelegateTool() tools.Tool {
	return &ackTool{
		name:        delegateTool,
		description: "Delegate a decision to a specialized step and receive its result before continuing.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"step_type": {Type: "string", Description: "The step to delegate to", Enum: []string{"quick_check", "reviewer", "auditor"}},
				"context":   {Type: "string", Description: "What the step should look at"},
			},
			Required: []string{"step_type"},
		},
	}
}

func newSetLanguageTool() tools.Tool {
	return &ackTool{
		name:        setLanguageTool,
		description: "Record the candidate's interview language once it is clear, and whether they confirmed it.",
		schema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"language":  {Type: "string", Description: "BCP 47 language tag, e.g. en or de"},
				"confirmed": {Type: "boolean", Description: "Whether the candidate confirmed this choice"},
			},
			Required: []string{"language"},
		},
	}
}

// bootState is the bootstrap step's loop-local state.
type bootState struct {
	language  string
	confirmed bool
	set       bool
}

type bootstrapRunner struct {
	deps step.Deps
}

// Execute implements step.Runner for the bootstrap step.
func (r *bootstrapRunner) Execute(ctx context.Context, _ step.Input, history []llm.Message) (*toolloop.Result, error) {
	reg := tools.NewRegistry()
	reg.MustRegister(newSetLanguageTool())
	reg.MustRegister(newAskUserTool())
	provider, err := reg.NewProvider(setLanguageTool, askUserTool)
	if err != nil {
		return nil, err
	}

	return toolloop.New(r.deps.Client, r.deps.Logger).Run(ctx, toolloop.Strategy{
		Provider:      provider,
		AskUserTool:   askUserTool,
		ToolChoice:    llm.ToolChoiceAny,
		MaxIterations: r.deps.Engine.MaxLoopIterations,
		MaxTokens:     r.deps.Model.MaxTokens,
		Temperature:   float32(r.deps.Model.Temperature),
		RemainingTasks: func(state any) []string {
			if state.(*bootState).set {
				return nil
			}
			return []string{"record the interview language with " + setLanguageTool + ", or ask the candidate"}
		},
		MergeResult: func(state any, call llm.ToolCall, _ map[string]any) any {
			bs := state.(*bootState)
			if call.Name == setLanguageTool {
				bs.language, _ = tools.StringArg(call.Parameters, "language")
				bs.confirmed = tools.BoolArg(call.Parameters, "confirmed")
				bs.set = true
			}
			return bs
		},
	}, history, &bootState{})
}

func bootstrapDefinition() step.Definition {
	return step.Definition{
		Type: step.TypeBootstrap,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_text": {"type": "string"},
				"language": {"type": "string"}
			}
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"language": {"type": "string", "minLength": 2},
				"confirmed": {"type": "boolean"}
			},
			"required": ["language"]
		}`),
		BuildPrompt: bootstrapPrompt,
		InitialMessage: func(in step.Input) (llm.Message, bool) {
			b := in.(step.BootstrapInput)
			if b.UserText == "" {
				return llm.NewUserMessage("(the candidate has just opened the interview)"), true
			}
			return llm.NewUserMessage(b.UserText), true
		},
		New: func(deps step.Deps) (step.Runner, error) {
			return &bootstrapRunner{deps: deps}, nil
		},
	}
}

func bootstrapPrompt(in step.Input, _ session.State) string {
	b := in.(step.BootstrapInput)
	prompt := `You open an automated job interview. Your only task is to establish the interview language.

Infer the language from the candidate's message when possible. If it is clear, call ` + setLanguageTool + ` with confirmed=true. If you have a likely guess but are not certain, call it with confirmed=false and the candidate will be asked to confirm. If you cannot guess at all, ask the candidate with ` + askUserTool + ` and record the language once they reply. Keep it to one short, friendly exchange.`
	if b.Language != "" {
		prompt += fmt.Sprintf("\n\nA previous turn proposed %q; confirm or correct it from the candidate's reply.", b.Language)
	}
	return prompt
}

type interviewerRunner struct {
	deps step.Deps
}

// Execute implements step.Runner for the interviewer step.
func (r *interviewerRunner) Execute(ctx context.Context, _ step.Input, history []llm.Message) (*toolloop.Result, error) {
	reg := tools.NewRegistry()
	reg.MustRegister(newAskUserTool())
	reg.MustRegister(newOfferChoicesTool())
	reg.MustRegister(newDelegateTool())
	provider, err := reg.NewProvider(askUserTool, offerChoicesTool, delegateTool)
	if err != nil {
		return nil, err
	}

	return toolloop.New(r.deps.Client, r.deps.Logger).Run(ctx, toolloop.Strategy{
		Provider:      provider,
		AskUserTool:   askUserTool,
		PauseTools:    []string{offerChoicesTool},
		DelegateTool:  delegateTool,
		ToolChoice:    llm.ToolChoiceAny,
		MaxIterations: r.deps.Engine.MaxLoopIterations,
		MaxTokens:     r.deps.Model.MaxTokens,
		Temperature:   float32(r.deps.Model.Temperature),
		RemainingTasks: func(any) []string {
			return []string{"ask the candidate the next question with " + askUserTool + " or " + offerChoicesTool}
		},
	}, history, nil)
}

func interviewerDefinition() step.Definition {
	return step.Definition{
		Type: step.TypeInterviewer,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"field": {"type": "object"},
				"field_number": {"type": "integer"},
				"total_fields": {"type": "integer"},
				"follow_ups": {"type": "integer"}
			},
			"required": ["field"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string"}
			}
		}`),
		BuildPrompt: interviewerPrompt,
		InitialMessage: func(step.Input) (llm.Message, bool) {
			return llm.NewUserMessage("(ask the candidate the next question)"), true
		},
		New: func(deps step.Deps) (step.Runner, error) {
			return &interviewerRunner{deps: deps}, nil
		},
	}
}

func interviewerPrompt(in step.Input, _ session.State) string {
	iv := in.(step.InterviewerInput)
	var b strings.Builder

	b.WriteString("You conduct an automated job interview, asking one question per turn.")
	if iv.Language != "" {
		fmt.Fprintf(&b, " Speak %s.", iv.Language)
	}
	b.WriteString("\n\n")

	if iv.AuditFeedback != nil && !iv.AuditFeedback.Passed {
		b.WriteString("The final audit of this interview failed. Ask the candidate to clarify, addressing these findings:\n")
		for _, issue := range iv.AuditFeedback.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
		for _, rec := range iv.AuditFeedback.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
		if iv.QuickCheckFeedback != nil && !iv.QuickCheckFeedback.Passed {
			b.WriteString("\nYour previous clarification question was rejected by the compliance check:\n")
			for _, issue := range iv.QuickCheckFeedback.Issues {
				fmt.Fprintf(&b, "- %s\n", issue)
			}
			if iv.QuickCheckFeedback.Suggestion != "" {
				fmt.Fprintf(&b, "Suggestion: %s\n", iv.QuickCheckFeedback.Suggestion)
			}
		}
		b.WriteString("\nAsk one focused clarification question with " + askUserTool + ".")
		return b.String()
	}

	fmt.Fprintf(&b, "Current field %d of %d: %s (%s). Intent: %s.\n",
		iv.FieldNumber, iv.TotalFields, iv.Field.Label, iv.Field.Kind, iv.Field.Intent)
	if len(iv.Field.Facts) > 0 {
		fmt.Fprintf(&b, "The answer must cover: %s.\n", strings.Join(iv.Field.Facts, "; "))
	}
	if len(iv.Field.Boundaries) > 0 {
		fmt.Fprintf(&b, "Never touch these topics: %s.\n", strings.Join(iv.Field.Boundaries, "; "))
	}
	if iv.Field.SuggestedQuestion != "" {
		fmt.Fprintf(&b, "Suggested phrasing: %q.\n", iv.Field.SuggestedQuestion)
	}

	if iv.QuickCheckFeedback != nil && !iv.QuickCheckFeedback.Passed {
		b.WriteString("\nYour previous question was rejected by the compliance check:\n")
		for _, issue := range iv.QuickCheckFeedback.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
		if iv.QuickCheckFeedback.Suggestion != "" {
			fmt.Fprintf(&b, "Suggestion: %s\n", iv.QuickCheckFeedback.Suggestion)
		}
		b.WriteString("Rephrase and ask a compliant question.")
	} else if iv.ReviewFeedback != nil && !iv.ReviewFeedback.Passed {
		fmt.Fprintf(&b, "\nThe candidate's last answer was insufficient (follow-up %d): %s\n", iv.FollowUps, iv.ReviewFeedback.Feedback)
		if len(iv.ReviewFeedback.MissingFacts) > 0 {
			fmt.Fprintf(&b, "Still missing: %s.\n", strings.Join(iv.ReviewFeedback.MissingFacts, "; "))
		}
		b.WriteString("Ask one polite follow-up question for the missing part only.")
	} else {
		b.WriteString("\nAsk the candidate this field's question now.")
	}
	return b.String()
}
