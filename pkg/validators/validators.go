// Package validators implements the three gate steps around the interview:
// QuickCheck (gates outgoing questions), Reviewer (gates incoming answers),
// and Auditor (gates session completion). All three share one contract shape:
// a single mandatory terminal action whose arguments are the verdict, retried
// with escalating reminders and fatal if never produced.
package validators

import (
	"context"
	"encoding/json"
	"fmt"

	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/step/toolloop"
	"interview/pkg/tools"
)

// Register adds the three validator definitions to a step registry.
func Register(reg *step.Registry) {
	reg.MustRegister(quickCheckDefinition())
	reg.MustRegister(reviewerDefinition())
	reg.MustRegister(auditorDefinition())
}

// verdictState is the loop-local state: set once the terminal action fires.
type verdictState struct {
	params map[string]any
	done   bool
}

// runner executes one validator: a tool loop whose only action is the
// terminal verdict submission, forced via tool choice and bounded by the
// verdict-retry limit.
type runner struct {
	typ      step.Type
	terminal tools.Tool
	deps     step.Deps
}

func newRunner(typ step.Type, terminal tools.Tool) func(deps step.Deps) (step.Runner, error) {
	return func(deps step.Deps) (step.Runner, error) {
		return &runner{typ: typ, terminal: terminal, deps: deps}, nil
	}
}

// Execute implements step.Runner.
func (r *runner) Execute(ctx context.Context, _ step.Input, history []llm.Message) (*toolloop.Result, error) {
	reg := tools.NewRegistry()
	reg.MustRegister(r.terminal)
	provider, err := reg.NewProvider(r.terminal.Name())
	if err != nil {
		return nil, err
	}

	name := r.terminal.Name()
	res, err := toolloop.New(r.deps.Client, r.deps.Logger).Run(ctx, toolloop.Strategy{
		Provider:      provider,
		ToolChoice:    llm.ToolChoiceAny,
		MaxIterations: r.deps.Engine.MaxVerdictRetries + 1,
		MaxTokens:     r.deps.Model.MaxTokens,
		Temperature:   float32(r.deps.Model.Temperature),
		RemainingTasks: func(state any) []string {
			if state.(*verdictState).done {
				return nil
			}
			return []string{fmt.Sprintf("call %s exactly once with your verdict", name)}
		},
		MergeResult: func(state any, call llm.ToolCall, _ map[string]any) any {
			vs := state.(*verdictState)
			if call.Name == name {
				vs.params = call.Parameters
				vs.done = true
			}
			return vs
		},
		Reminder: func(remaining []string, attempt int) string {
			if attempt > 1 {
				return fmt.Sprintf("FINAL REMINDER: you have produced no verdict. You MUST %s now; free-text answers are discarded.", remaining[0])
			}
			return fmt.Sprintf("Your reply was free text, which cannot be processed. You must %s.", remaining[0])
		},
	}, history, &verdictState{})
	if err != nil {
		if fault.Is(err, fault.CodeMaxLoopIterations) {
			return nil, fault.Wrap(fault.CodeValidationFailed, err, "%s never produced its terminal action", r.typ)
		}
		return nil, err
	}
	return res, nil
}

// RawVerdict extracts the terminal action's arguments from a validator run.
func RawVerdict(res *toolloop.Result) (json.RawMessage, error) {
	vs, ok := res.State.(*verdictState)
	if !ok || !vs.done {
		return nil, fault.New(fault.CodeValidationFailed, "validator run ended without a verdict")
	}
	raw, err := json.Marshal(vs.params)
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	return raw, nil
}

// DecodeVerdict extracts and decodes the verdict into its typed form.
func DecodeVerdict[T any](res *toolloop.Result) (T, json.RawMessage, error) {
	var v T
	raw, err := RawVerdict(res)
	if err != nil {
		return v, nil, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, raw, fault.Wrap(fault.CodeValidationFailed, err, "decode verdict")
	}
	return v, raw, nil
}

// verdictTool is the terminal action: executing it only acknowledges receipt,
// the arguments themselves are the verdict.
type verdictTool struct {
	name        string
	description string
	schema      tools.InputSchema
}

func (v *verdictTool) Name() string { return v.name }

func (v *verdictTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{Name: v.name, Description: v.description, InputSchema: v.schema}
}

func (v *verdictTool) Exec(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"recorded": true}, nil
}

// fieldBrief renders a plan field for validator prompts.
func fieldBrief(f session.PlanField) string {
	brief := fmt.Sprintf("Field %q (%s): %s.", f.ID, f.Kind, f.Intent)
	if len(f.Facts) > 0 {
		brief += " Required facts: "
		for i, fact := range f.Facts {
			if i > 0 {
				brief += "; "
			}
			brief += fact
		}
		brief += "."
	}
	if len(f.Boundaries) > 0 {
		brief += " Forbidden topics: "
		for i, b := range f.Boundaries {
			if i > 0 {
				brief += "; "
			}
			brief += b
		}
		brief += "."
	}
	return brief
}
