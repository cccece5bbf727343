// Package toolloop provides the tool-calling execution loop shared by every
// reasoning step: repeatedly invoke the language backend with a declared
// action set until a terminal action is produced. Only the action set, the
// remaining-tasks predicate, and the merge hook vary per step; the loop
// itself is identical everywhere.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/logx"
	"interview/pkg/tools"
)

// Outcome classifies how a loop run ended.
type Outcome string

const (
	// OutcomeCompleted means the step finished with a result this turn.
	OutcomeCompleted Outcome = "completed"
	// OutcomePaused means the ask-user action fired; the turn ends awaiting
	// a human response.
	OutcomePaused Outcome = "paused"
	// OutcomeDelegated means the step requested a nested sub-session.
	OutcomeDelegated Outcome = "delegated"
)

// Record is one executed action, kept for audit/replay. Never mutated after
// creation.
type Record struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Delegation is a request to push a nested sub-session.
type Delegation struct {
	Callee  string         `json:"callee"`
	Context string         `json:"context,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// Result is a loop run's terminal outcome plus everything the caller needs
// to persist: the updated message history, the audit trail, and usage.
type Result struct {
	Outcome    Outcome
	Response   string // backend free text on completion
	State      any    // step-local state after merges
	Pause      *llm.ToolCall
	Delegation *Delegation
	Records    []Record
	Messages   []llm.Message
	Usage      llm.Usage
	Iterations int
}

// Strategy parameterizes the loop per step. This is composition, not
// inheritance: a step is the loop plus these callbacks.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Strategy struct {
	// Provider is the step's declared action set for this run.
	Provider *tools.Provider

	// AskUserTool names the designated pause action. Empty disables pausing.
	AskUserTool string

	// PauseTools names additional actions that pause the turn like
	// AskUserTool (e.g. an offer-choices variant of asking).
	PauseTools []string

	// DelegateTool names the designated delegation action. Empty disables
	// delegation.
	DelegateTool string

	// RemainingTasks is the step-specific predicate over local state. Nil
	// means no tasks are ever outstanding.
	RemainingTasks func(state any) []string

	// MergeResult folds an executed action's output into local state. Nil
	// leaves state unchanged.
	MergeResult func(state any, call llm.ToolCall, result map[string]any) any

	// Reminder builds the message appended when the backend produces free
	// text while tasks remain. attempt counts reminders sent so far, letting
	// callers escalate. Nil uses a plain enumeration.
	Reminder func(remaining []string, attempt int) string

	ToolChoice    llm.ToolChoice
	MaxIterations int
	MaxTokens     int
	Temperature   float32
}

// Loop runs strategies against one backend client.
type Loop struct {
	client llm.Client
	logger *logx.Logger
}

// New creates a loop bound to a backend client.
func New(client llm.Client, logger *logx.Logger) *Loop {
	return &Loop{client: client, logger: logger}
}

// Run executes the loop until a terminal outcome or the iteration ceiling.
// history is not mutated; the updated history is returned in the result.
func (l *Loop) Run(ctx context.Context, st Strategy, history []llm.Message, state any) (*Result, error) {
	if st.Provider == nil {
		return nil, fault.New(fault.CodeContextInvalid, "tool loop requires an action provider")
	}
	if st.MaxIterations <= 0 {
		st.MaxIterations = 10
	}
	if st.MaxTokens <= 0 {
		st.MaxTokens = 4096
	}

	msgs := append([]llm.Message(nil), history...)
	res := &Result{State: state}
	defs := st.Provider.Definitions()
	reminders := 0

	for iteration := 0; iteration < st.MaxIterations; iteration++ {
		res.Iterations = iteration + 1

		start := time.Now()
		resp, err := l.client.Complete(ctx, llm.CompletionRequest{
			Messages:    msgs,
			Tools:       defs,
			ToolChoice:  st.ToolChoice,
			MaxTokens:   st.MaxTokens,
			Temperature: st.Temperature,
		})
		if err != nil {
			return nil, fault.Wrap(fault.CodeBackendError, llm.Classify(err), "backend call failed on iteration %d", iteration+1)
		}
		res.Usage.Add(resp.Usage)
		l.logger.Debug("Backend call %d: model=%s messages=%d tools=%d calls=%d took=%s",
			iteration+1, l.client.ModelName(), len(msgs), len(defs), len(resp.ToolCalls), time.Since(start).Round(time.Millisecond))

		if len(resp.ToolCalls) == 0 {
			remaining := st.remaining(res.State)
			if len(remaining) == 0 {
				msgs = appendAssistant(msgs, resp)
				res.Outcome = OutcomeCompleted
				res.Response = resp.Content
				res.Messages = msgs
				return res, nil
			}
			reminders++
			l.logger.Debug("No action proposed with %d tasks remaining, sending reminder %d", len(remaining), reminders)
			msgs = appendAssistant(msgs, resp)
			msgs = append(msgs, llm.NewUserMessage(st.reminder(remaining, reminders)))
			continue
		}

		msgs = appendAssistant(msgs, resp)

		terminal, err := l.executeCalls(ctx, st, resp, res, &msgs)
		if err != nil {
			return nil, err
		}
		if terminal {
			res.Messages = msgs
			return res, nil
		}

		if len(st.remaining(res.State)) == 0 {
			res.Outcome = OutcomeCompleted
			res.Response = resp.Content
			res.Messages = msgs
			return res, nil
		}
	}

	return nil, fault.New(fault.CodeMaxLoopIterations, "no terminal action after %d iterations", st.MaxIterations)
}

// executeCalls runs one response's proposed actions in order. Returns true
// when a pause or delegation ended the run.
func (l *Loop) executeCalls(ctx context.Context, st Strategy, resp llm.CompletionResponse, res *Result, msgs *[]llm.Message) (bool, error) {
	for _, call := range resp.ToolCalls {
		switch {
		case st.isPause(call.Name):
			result, err := l.execute(ctx, st, call, msgs)
			if err != nil {
				return false, err
			}
			res.Records = append(res.Records, Record{Name: call.Name, Args: call.Parameters, Result: result})
			res.Outcome = OutcomePaused
			paused := call
			res.Pause = &paused
			return true, nil

		case st.DelegateTool != "" && call.Name == st.DelegateTool:
			// Not executed locally: the orchestrator owns the stack.
			callee, _ := tools.StringArg(call.Parameters, "step_type")
			if callee == "" {
				return false, fault.New(fault.CodeToolExecutionFailed, "%s call missing step_type", st.DelegateTool)
			}
			contextStr, _ := tools.StringArg(call.Parameters, "context")
			res.Records = append(res.Records, Record{Name: call.Name, Args: call.Parameters})
			res.Outcome = OutcomeDelegated
			res.Delegation = &Delegation{Callee: callee, Context: contextStr, Args: call.Parameters}
			return true, nil

		default:
			result, err := l.execute(ctx, st, call, msgs)
			if err != nil {
				return false, err
			}
			res.Records = append(res.Records, Record{Name: call.Name, Args: call.Parameters, Result: result})
			if st.MergeResult != nil {
				res.State = st.MergeResult(res.State, call, result)
			}
		}
	}
	return false, nil
}

// execute resolves and runs one action, appending its result to the history.
func (l *Loop) execute(ctx context.Context, st Strategy, call llm.ToolCall, msgs *[]llm.Message) (map[string]any, error) {
	tool, err := st.Provider.Get(call.Name)
	if err != nil {
		return nil, fault.Wrap(fault.CodeToolNotFound, err, "action %s not available", call.Name)
	}
	result, err := tool.Exec(ctx, call.Parameters)
	if err != nil {
		return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "action %s failed", call.Name)
	}
	*msgs = append(*msgs, toolResultMessage(call, result))
	return result, nil
}

func (st *Strategy) isPause(name string) bool {
	if st.AskUserTool != "" && name == st.AskUserTool {
		return true
	}
	for _, p := range st.PauseTools {
		if name == p {
			return true
		}
	}
	return false
}

func (st *Strategy) remaining(state any) []string {
	if st.RemainingTasks == nil {
		return nil
	}
	return st.RemainingTasks(state)
}

func (st *Strategy) reminder(remaining []string, attempt int) string {
	if st.Reminder != nil {
		return st.Reminder(remaining, attempt)
	}
	return fmt.Sprintf("You have not finished. Remaining tasks: %s. Use the provided actions to complete them.",
		strings.Join(remaining, "; "))
}

func appendAssistant(msgs []llm.Message, resp llm.CompletionResponse) []llm.Message {
	return append(msgs, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
}

func toolResultMessage(call llm.ToolCall, result map[string]any) llm.Message {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return llm.Message{
		Role:        llm.RoleUser,
		ToolResults: []llm.ToolResult{{ToolCallID: call.ID, Content: string(content)}},
	}
}
