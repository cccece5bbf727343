package toolloop

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/logx"
	"interview/pkg/tools"
)

// fakeTool is a scriptable action for loop tests.
type fakeTool struct {
	name   string
	result map[string]any
	err    error
	calls  []map[string]any
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        f.name,
		Description: "test action",
		InputSchema: tools.InputSchema{Type: "object"},
	}
}

func (f *fakeTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newProvider(t *testing.T, fakes ...*fakeTool) *tools.Provider {
	t.Helper()
	reg := tools.NewRegistry()
	names := make([]string, 0, len(fakes))
	for _, f := range fakes {
		reg.MustRegister(f)
		names = append(names, f.name)
	}
	p, err := reg.NewProvider(names...)
	require.NoError(t, err)
	return p
}

func callResponse(name string, params map[string]any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: "tc-" + name, Name: name, Parameters: params}},
		Usage:     llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func TestCompletesWithFreeTextWhenNoTasksRemain(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: "all done", Usage: llm.Usage{PromptTokens: 8, CompletionTokens: 2}},
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	res, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, &fakeTool{name: "noop"}),
	}, []llm.Message{llm.NewUserMessage("go")}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "all done", res.Response)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 10, res.Usage.Total())
	// Updated history carries the assistant reply.
	require.Len(t, res.Messages, 2)
	assert.Equal(t, llm.RoleAssistant, res.Messages[1].Role)
}

func TestRemindsWhenTasksRemain(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: "thinking out loud"},                       // free text, tasks remain
		callResponse("record_fact", map[string]any{"v": "x"}), // then the action
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	tool := &fakeTool{name: "record_fact", result: map[string]any{"ok": true}}
	done := false
	res, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, tool),
		RemainingTasks: func(any) []string {
			if done {
				return nil
			}
			return []string{"record the fact"}
		},
		MergeResult: func(state any, _ llm.ToolCall, _ map[string]any) any {
			done = true
			return state
		},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, tool.calls, 1)

	// The second request must contain the reminder enumerating the task.
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "record the fact")
}

func TestAskUserPausesTurn(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("ask_user", map[string]any{"question": "What is your name?"}),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	ask := &fakeTool{name: "ask_user", result: map[string]any{"asked": true}}
	res, err := loop.Run(context.Background(), Strategy{
		Provider:       newProvider(t, ask),
		AskUserTool:    "ask_user",
		RemainingTasks: func(any) []string { return []string{"collect the answer"} },
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, res.Outcome)
	require.NotNil(t, res.Pause)
	assert.Equal(t, "What is your name?", res.Pause.Parameters["question"])
	// The pause action executed and was recorded; no further looping happened.
	require.Len(t, ask.calls, 1)
	assert.Equal(t, 1, client.CallCount())
	require.Len(t, res.Records, 1)
	assert.Equal(t, "ask_user", res.Records[0].Name)
}

func TestDelegateEndsRunWithoutExecuting(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("delegate", map[string]any{"step_type": "reviewer", "context": "check this answer"}),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	del := &fakeTool{name: "delegate"}
	res, err := loop.Run(context.Background(), Strategy{
		Provider:     newProvider(t, del),
		DelegateTool: "delegate",
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelegated, res.Outcome)
	require.NotNil(t, res.Delegation)
	assert.Equal(t, "reviewer", res.Delegation.Callee)
	assert.Equal(t, "check this answer", res.Delegation.Context)
	// The orchestrator owns the stack; the action itself never executes.
	assert.Empty(t, del.calls)
}

func TestDelegateWithoutStepTypeFails(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("delegate", map[string]any{"context": "no callee"}),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	_, err := loop.Run(context.Background(), Strategy{
		Provider:     newProvider(t, &fakeTool{name: "delegate"}),
		DelegateTool: "delegate",
	}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolExecutionFailed, fault.CodeOf(err))
}

func TestMergeResultFoldsState(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("lookup", map[string]any{"id": "f1"}),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	tool := &fakeTool{name: "lookup", result: map[string]any{"value": "42"}}
	res, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, tool),
		MergeResult: func(state any, call llm.ToolCall, result map[string]any) any {
			m := state.(map[string]string)
			m[call.Name] = fmt.Sprint(result["value"])
			return m
		},
	}, nil, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, map[string]string{"lookup": "42"}, res.State)
	// The action result was fed back into the history before completion.
	last := res.Messages[len(res.Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Contains(t, last.ToolResults[0].Content, "42")
}

func TestIterationCeiling(t *testing.T) {
	responses := make([]llm.CompletionResponse, 3)
	for i := range responses {
		responses[i] = callResponse("spin", nil)
	}
	client := llm.NewMockClient(responses, nil)
	loop := New(client, logx.NewLogger("test"))

	_, err := loop.Run(context.Background(), Strategy{
		Provider:       newProvider(t, &fakeTool{name: "spin", result: map[string]any{}}),
		RemainingTasks: func(any) []string { return []string{"never satisfied"} },
		MaxIterations:  3,
	}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeMaxLoopIterations, fault.CodeOf(err))
	assert.Equal(t, 3, client.CallCount())
}

func TestBackendErrorIsClassified(t *testing.T) {
	client := llm.NewMockClient(nil, []error{errors.New("rate limit exceeded")})
	loop := New(client, logx.NewLogger("test"))

	_, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, &fakeTool{name: "noop"}),
	}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeBackendError, fault.CodeOf(err))
	assert.Equal(t, llm.KindRateLimit, llm.KindOf(err))
}

func TestUnknownActionIsToolNotFound(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("missing_action", nil),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	_, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, &fakeTool{name: "noop"}),
	}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolNotFound, fault.CodeOf(err))
}

func TestFailingActionIsToolExecutionFailed(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		callResponse("broken", nil),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	_, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, &fakeTool{name: "broken", err: errors.New("boom")}),
	}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolExecutionFailed, fault.CodeOf(err))
}

func TestEscalatingReminder(t *testing.T) {
	client := llm.NewMockClient([]llm.CompletionResponse{
		{Content: "hmm"},
		{Content: "still hmm"},
		callResponse("act", nil),
	}, nil)
	loop := New(client, logx.NewLogger("test"))

	done := false
	var attempts []int
	_, err := loop.Run(context.Background(), Strategy{
		Provider: newProvider(t, &fakeTool{name: "act", result: map[string]any{}}),
		RemainingTasks: func(any) []string {
			if done {
				return nil
			}
			return []string{"act"}
		},
		MergeResult: func(state any, _ llm.ToolCall, _ map[string]any) any {
			done = true
			return state
		},
		Reminder: func(remaining []string, attempt int) string {
			attempts = append(attempts, attempt)
			return fmt.Sprintf("attempt %d: you must %s", attempt, remaining[0])
		},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}
