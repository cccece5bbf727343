package orch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview/pkg/config"
	"interview/pkg/fault"
	"interview/pkg/kv"
	"interview/pkg/kv/inmem"
	"interview/pkg/llm"
	"interview/pkg/session"
)

func toolCall(name string, params map[string]any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: "call-" + name, Name: name, Parameters: params}},
		Usage:     llm.Usage{PromptTokens: 20, CompletionTokens: 8},
	}
}

func verdictCall(passed bool, issues ...string) llm.CompletionResponse {
	params := map[string]any{"passed": passed}
	if len(issues) > 0 {
		anyIssues := make([]any, len(issues))
		for i, issue := range issues {
			anyIssues[i] = issue
		}
		params["issues"] = anyIssues
	}
	return toolCall("submit_verdict", params)
}

func reviewAccept(extracted string) llm.CompletionResponse {
	params := map[string]any{"passed": true}
	if extracted != "" {
		params["extracted_value"] = extracted
	}
	return toolCall("submit_review", params)
}

func reviewReject(feedback string) llm.CompletionResponse {
	return toolCall("submit_review", map[string]any{"passed": false, "feedback": feedback})
}

func auditCall(passed bool, summary string, issues ...string) llm.CompletionResponse {
	params := map[string]any{"passed": passed}
	if summary != "" {
		params["summary"] = summary
	}
	if len(issues) > 0 {
		anyIssues := make([]any, len(issues))
		for i, issue := range issues {
			anyIssues[i] = issue
		}
		params["issues"] = anyIssues
	}
	return toolCall("submit_audit", params)
}

// startResponses scripts a clean opening: language inferred, first question
// proposed, first question cleared by the compliance check.
func startResponses(firstQuestion string) []llm.CompletionResponse {
	return []llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(askUserTool, map[string]any{"question": firstQuestion}),
		verdictCall(true),
	}
}

func hiringPlan() session.Plan {
	return session.Plan{Fields: []session.PlanField{
		{ID: "name", Label: "Full name", Intent: "identify the candidate", Required: true, Kind: session.FieldBasic},
		{ID: "motivation", Label: "Motivation", Intent: "why they want this role", Required: true, Kind: session.FieldAbstract, Facts: []string{"reason for applying"}},
		{ID: "availability", Label: "Availability", Intent: "earliest start date", Required: true, Kind: session.FieldBasic},
	}}
}

func singleFieldPlan() session.Plan {
	return session.Plan{Fields: []session.PlanField{
		{ID: "availability", Label: "Availability", Intent: "earliest start date", Required: true, Kind: session.FieldBasic},
	}}
}

func loadState(t *testing.T, backend kv.Store, id string) session.State {
	t.Helper()
	s, ok, err := session.NewStore(backend).Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func TestStartSessionAsksFirstQuestion(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(startResponses("What is your name?"), nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, "What is your name?", turn.Reply)
	assert.Equal(t, session.StageInterviewLoop, turn.Stage)
	assert.False(t, turn.Done)

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, session.StageInterviewLoop, s.Stage)
	assert.Equal(t, "en", s.Language)
	assert.True(t, s.LanguageConfirmed)
	assert.True(t, s.AwaitingAnswer)
	assert.Equal(t, "What is your name?", s.PendingQuestion)
	assert.Equal(t, 0, s.FieldIndex)
	assert.Greater(t, s.Usage.Total(), 0)
}

func TestBootstrapPausesWhenLanguageUnclear(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(append([]llm.CompletionResponse{
		toolCall(askUserTool, map[string]any{"question": "Which language would you like to use?"}),
	}, startResponses("What is your name?")...), nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, session.StageBootstrap, turn.Stage)
	assert.Equal(t, "Which language would you like to use?", turn.Reply)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "English, please")
	require.NoError(t, err)
	assert.Equal(t, session.StageInterviewLoop, turn.Stage)
	assert.Equal(t, "What is your name?", turn.Reply)

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, "en", s.Language)
}

func TestAnswerAcceptedAdvancesField(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("What is your name?"),
		reviewAccept("Ada Lovelace"),
		toolCall(askUserTool, map[string]any{"question": "Why do you want this role?"}),
		verdictCall(true),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "My name is Ada Lovelace.")
	require.NoError(t, err)
	assert.Equal(t, "Why do you want this role?", turn.Reply)

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, 1, s.FieldIndex)
	assert.Equal(t, 0, s.FollowUps)
	assert.Equal(t, map[string]string{"name": "Ada Lovelace"}, s.Collected)
	assert.True(t, s.AwaitingAnswer)
}

func TestFollowUpCapForcesAcceptance(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("Why do you want this role?"),
		// First rejection asks a follow-up.
		reviewReject("no concrete reason given"),
		toolCall(askUserTool, map[string]any{"question": "What specifically draws you to this role?"}),
		verdictCall(true),
		// Second rejection reaches the cap for the NEXT answer.
		reviewReject("still no concrete reason"),
		toolCall(askUserTool, map[string]any{"question": "Could you name one concrete reason?"}),
		verdictCall(true),
		// Third rejection is overridden and the interview moves on.
		reviewReject("nothing new"),
		toolCall(askUserTool, map[string]any{"question": "When could you start?"}),
		verdictCall(true),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	plan := session.Plan{Fields: []session.PlanField{
		{ID: "motivation", Label: "Motivation", Intent: "why they want this role", Required: true, Kind: session.FieldAbstract},
		{ID: "availability", Label: "Availability", Intent: "earliest start date", Required: true, Kind: session.FieldBasic},
	}}
	turn, err := o.StartSession(ctx, plan)
	require.NoError(t, err)
	id := turn.SessionID

	_, err = o.ProcessTurn(ctx, id, "I just need a job.")
	require.NoError(t, err)
	s := loadState(t, backend, id)
	assert.Equal(t, 0, s.FieldIndex)
	assert.Equal(t, 1, s.FollowUps)

	_, err = o.ProcessTurn(ctx, id, "Like I said, I need a job.")
	require.NoError(t, err)
	s = loadState(t, backend, id)
	assert.Equal(t, 0, s.FieldIndex)
	assert.Equal(t, 2, s.FollowUps)

	turn, err = o.ProcessTurn(ctx, id, "A job is a job.")
	require.NoError(t, err)
	assert.Equal(t, "When could you start?", turn.Reply)

	s = loadState(t, backend, id)
	assert.Equal(t, 1, s.FieldIndex)
	assert.Equal(t, 0, s.FollowUps)
	assert.Equal(t, "A job is a job.", s.Collected["motivation"])
}

func TestFrustrationSkipsReviewerAndAccepts(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("Why do you want this role?"),
		toolCall(askUserTool, map[string]any{"question": "When could you start?"}),
		verdictCall(true),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	plan := session.Plan{Fields: []session.PlanField{
		{ID: "motivation", Label: "Motivation", Intent: "why they want this role", Required: true, Kind: session.FieldAbstract},
		{ID: "availability", Label: "Availability", Intent: "earliest start date", Required: true, Kind: session.FieldBasic},
	}}
	turn, err := o.StartSession(ctx, plan)
	require.NoError(t, err)

	answer := "I already said everything there is to say, move on."
	turn, err = o.ProcessTurn(ctx, turn.SessionID, answer)
	require.NoError(t, err)
	assert.Equal(t, "When could you start?", turn.Reply)

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, answer, s.Collected["motivation"])
	assert.Equal(t, 1, s.FieldIndex)
	// No reviewer call happened: bootstrap, question, check, question, check.
	assert.Equal(t, 5, client.CallCount())
}

func TestRejectedQuestionNeverSurfaces(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(askUserTool, map[string]any{"question": "How old are you?"}),
		verdictCall(false, "asks the candidate's age"),
		toolCall(askUserTool, map[string]any{"question": "What is your name?"}),
		verdictCall(true),
	}, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, "What is your name?", turn.Reply)

	// The revision prompt carries the rejection findings.
	reqs := client.Requests()
	require.Len(t, reqs, 5)
	revisionPrompt := reqs[3].Messages[0].Content
	assert.Contains(t, revisionPrompt, "asks the candidate's age")
	assert.Contains(t, revisionPrompt, "rejected by the compliance check")

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, "What is your name?", s.PendingQuestion)
	assert.Equal(t, 0, s.QuestionRevisions)
	assert.NotContains(t, turn.Reply, "old")
}

func TestAuditFailureRemediatesThenCompletes(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("When could you start?"),
		reviewAccept("sometime in spring"),
		auditCall(false, "", "availability is too vague to schedule onboarding"),
		toolCall(askUserTool, map[string]any{"question": "Could you give a concrete start date?"}),
		verdictCall(true),
		auditCall(true, "All required information collected."),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, singleFieldPlan())
	require.NoError(t, err)
	id := turn.SessionID

	turn, err = o.ProcessTurn(ctx, id, "Sometime in spring, probably.")
	require.NoError(t, err)
	assert.Equal(t, session.StageFinalAudit, turn.Stage)
	assert.False(t, turn.Done)
	assert.Equal(t, "Could you give a concrete start date?", turn.Reply)

	s := loadState(t, backend, id)
	assert.Equal(t, session.StageFinalAudit, s.Stage)
	require.NotNil(t, s.Audit)
	assert.False(t, s.Audit.Passed)

	// The remediation prompt carries the audit findings; the question itself
	// still went through the compliance check afterwards.
	reqs := client.Requests()
	remediationPrompt := reqs[len(reqs)-2].Messages[0].Content
	assert.Contains(t, remediationPrompt, "availability is too vague")
	assert.Contains(t, remediationPrompt, "final audit of this interview failed")

	turn, err = o.ProcessTurn(ctx, id, "I can start on May 1st.")
	require.NoError(t, err)
	assert.True(t, turn.Done)
	assert.Equal(t, "All required information collected.", turn.Reply)

	s = loadState(t, backend, id)
	assert.Equal(t, session.StageCompleted, s.Stage)

	// The re-run auditor saw its prior failure and the clarification.
	reqs = client.Requests()
	last := reqs[len(reqs)-1].Messages
	joined := ""
	for _, m := range last {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, "Your previous audit failed with")
	assert.Contains(t, joined, "Candidate clarification: I can start on May 1st.")

	// Completion snapshots the collected answers durably.
	form, ok, err := session.NewStore(backend).LoadFormData(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sometime in spring", form["availability"])

	// A turn against a completed session is a no-op reply.
	turn, err = o.ProcessTurn(ctx, id, "hello?")
	require.NoError(t, err)
	assert.True(t, turn.Done)
	assert.Contains(t, turn.Reply, "already complete")
}

func TestDelegationRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(delegateTool, map[string]any{"step_type": "quick_check", "context": "Is it appropriate to ask about salary expectations?"}),
		verdictCall(true),
		toolCall(askUserTool, map[string]any{"question": "What are your salary expectations?"}),
		verdictCall(true),
	}, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, "What are your salary expectations?", turn.Reply)

	s := loadState(t, backend, turn.SessionID)
	assert.Empty(t, s.Stack)
	require.Len(t, s.Delegations, 1)
	for key, raw := range s.Delegations {
		assert.True(t, strings.HasPrefix(key, "quick_check:"))
		assert.JSONEq(t, `{"passed":true}`, string(raw))
	}

	// The delegation result fed back into the interviewer's history.
	found := false
	for _, m := range s.StepHistory {
		if strings.Contains(m.Content, "Result of quick_check") {
			found = true
		}
	}
	assert.True(t, found)

	// The sub-session history was cleaned up on pop.
	_, ok, err := session.NewStore(backend).LoadSubsessionHistory(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelegationToUnregisteredStepFails(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(delegateTool, map[string]any{"step_type": "planner"}),
	}, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	_, err := o.StartSession(ctx, hiringPlan())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeContextInvalid))

	// The failed turn persisted nothing: the stored session is still the
	// freshly created one.
	ids, err := session.NewStore(backend).List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	s := loadState(t, backend, ids[0])
	assert.Equal(t, session.StageBootstrap, s.Stage)
	assert.Empty(t, s.Stack)
	assert.Empty(t, s.Language)
}

func TestDelegationDepthBound(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(delegateTool, map[string]any{"step_type": "quick_check", "context": "check this question"}),
	}, nil)
	backend := inmem.New()
	cfg := config.Default()
	cfg.Engine.MaxStackDepth = 0
	o := New(client, backend, cfg)

	_, err := o.StartSession(ctx, hiringPlan())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeStackDepthExceeded))

	ids, err := session.NewStore(backend).List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	s := loadState(t, backend, ids[0])
	assert.Empty(t, s.Stack)
	assert.Equal(t, session.StageBootstrap, s.Stage)
}

func TestBackendErrorLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(startResponses("What is your name?"),
		[]error{nil, nil, nil, errors.New("rate limit exceeded")})
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	before := loadState(t, backend, turn.SessionID)

	_, err = o.ProcessTurn(ctx, turn.SessionID, "Ada Lovelace")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeBackendError))
	assert.Equal(t, llm.KindRateLimit, llm.KindOf(err))

	after := loadState(t, backend, turn.SessionID)
	assert.Equal(t, before.FieldIndex, after.FieldIndex)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Len(t, after.History, len(before.History))
	assert.True(t, after.AwaitingAnswer)
}

func TestProcessTurnUnknownSession(t *testing.T) {
	o := New(llm.NewMockClient(nil, nil), inmem.New(), config.Default())
	_, err := o.ProcessTurn(context.Background(), "no-such-session", "hello")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeStateInvalid))
}

func TestOfferChoicesSurfacesChoices(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "en", "confirmed": true}),
		toolCall(offerChoicesTool, map[string]any{
			"question": "Do you prefer remote or onsite work?",
			"choices":  []any{"remote", "onsite", "hybrid"},
		}),
		verdictCall(true),
	}, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, "Do you prefer remote or onsite work?", turn.Reply)
	assert.Equal(t, []string{"remote", "onsite", "hybrid"}, turn.Choices)
}

// Resuming a session through a freshly constructed orchestrator must behave
// exactly like continuing in process, given the same backend responses.
func TestRestartResumeMatchesInProcess(t *testing.T) {
	ctx := context.Background()
	continuation := []llm.CompletionResponse{
		reviewAccept("Ada Lovelace"),
		toolCall(askUserTool, map[string]any{"question": "Why do you want this role?"}),
		verdictCall(true),
	}

	run := func(restart bool) (*Turn, session.State) {
		backend := inmem.New()
		var o *Orchestrator
		if restart {
			o = New(llm.NewMockClient(startResponses("What is your name?"), nil), backend, config.Default())
		} else {
			all := append(startResponses("What is your name?"), continuation...)
			o = New(llm.NewMockClient(all, nil), backend, config.Default())
		}
		turn, err := o.StartSession(ctx, hiringPlan())
		require.NoError(t, err)

		if restart {
			// Simulate a process restart: a new orchestrator over the
			// same store, holding no in-memory state.
			o = New(llm.NewMockClient(continuation, nil), backend, config.Default())
		}
		turn, err = o.ProcessTurn(ctx, turn.SessionID, "My name is Ada Lovelace.")
		require.NoError(t, err)
		return turn, loadState(t, backend, turn.SessionID)
	}

	inProcTurn, inProcState := run(false)
	restartTurn, restartState := run(true)

	assert.Equal(t, inProcTurn.Reply, restartTurn.Reply)
	assert.Equal(t, inProcTurn.Stage, restartTurn.Stage)
	assert.Equal(t, inProcState.Stage, restartState.Stage)
	assert.Equal(t, inProcState.FieldIndex, restartState.FieldIndex)
	assert.Equal(t, inProcState.Collected, restartState.Collected)
	assert.Equal(t, inProcState.PendingQuestion, restartState.PendingQuestion)
	assert.Equal(t, inProcState.FollowUps, restartState.FollowUps)
	assert.Len(t, restartState.StepHistory, len(inProcState.StepHistory))
}

func TestFullInterviewToCompletion(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("What is your name?"),
		reviewAccept("Ada Lovelace"),
		toolCall(askUserTool, map[string]any{"question": "Why do you want this role?"}),
		verdictCall(true),
		reviewAccept("wants to build analytical engines"),
		toolCall(askUserTool, map[string]any{"question": "When could you start?"}),
		verdictCall(true),
		reviewAccept("May 1st"),
		auditCall(true, "Everything needed has been collected. Thank you!"),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	id := turn.SessionID

	for _, answer := range []string{"Ada Lovelace", "I want to build analytical engines.", "May 1st works."} {
		turn, err = o.ProcessTurn(ctx, id, answer)
		require.NoError(t, err)
	}
	assert.True(t, turn.Done)
	assert.Equal(t, session.StageCompleted, turn.Stage)

	s := loadState(t, backend, id)
	assert.Equal(t, session.StageCompleted, s.Stage)
	assert.Equal(t, map[string]string{
		"name":         "Ada Lovelace",
		"motivation":   "wants to build analytical engines",
		"availability": "May 1st",
	}, s.Collected)

	form, ok, err := session.NewStore(backend).LoadFormData(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.Collected, form)
}

func TestRemediationQuestionIsComplianceChecked(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("When could you start?"),
		reviewAccept("sometime in spring"),
		auditCall(false, "", "availability is too vague to schedule onboarding"),
		toolCall(askUserTool, map[string]any{"question": "Why exactly were you fired from your last job?"}),
		verdictCall(false, "asks why the candidate was fired"),
		toolCall(askUserTool, map[string]any{"question": "Could you share a concrete start date?"}),
		verdictCall(true),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, singleFieldPlan())
	require.NoError(t, err)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "Sometime in spring, probably.")
	require.NoError(t, err)
	assert.Equal(t, session.StageFinalAudit, turn.Stage)
	assert.Equal(t, "Could you share a concrete start date?", turn.Reply)
	assert.NotContains(t, turn.Reply, "fired")

	reqs := client.Requests()
	require.Len(t, reqs, 9)
	// The rejected clarification was checked before surfacing.
	assert.Contains(t, reqs[6].Messages[0].Content, "compliance checker")
	// The revision prompt carries the rejection findings.
	revisionPrompt := reqs[7].Messages[0].Content
	assert.Contains(t, revisionPrompt, "asks why the candidate was fired")
	assert.Contains(t, revisionPrompt, "rejected by the compliance check")

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, session.StageFinalAudit, s.Stage)
	assert.Equal(t, "Could you share a concrete start date?", s.PendingQuestion)
	assert.True(t, s.AwaitingAnswer)
}

func TestRemediationDelegationRoundTrip(t *testing.T) {
	ctx := context.Background()
	responses := append(startResponses("When could you start?"),
		reviewAccept("sometime in spring"),
		auditCall(false, "", "availability is too vague to schedule onboarding"),
		toolCall(delegateTool, map[string]any{"step_type": "quick_check", "context": "Is it appropriate to press for exact dates?"}),
		verdictCall(true),
		toolCall(askUserTool, map[string]any{"question": "Which exact date could you start?"}),
		verdictCall(true),
	)
	client := llm.NewMockClient(responses, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, singleFieldPlan())
	require.NoError(t, err)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "Sometime in spring, probably.")
	require.NoError(t, err)
	assert.Equal(t, session.StageFinalAudit, turn.Stage)
	assert.Equal(t, "Which exact date could you start?", turn.Reply)

	s := loadState(t, backend, turn.SessionID)
	assert.Empty(t, s.Stack)
	assert.Len(t, s.Delegations, 1)
}

func TestBootstrapTentativeLanguageAsksForConfirmation(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient([]llm.CompletionResponse{
		toolCall(setLanguageTool, map[string]any{"language": "de", "confirmed": false}),
		toolCall(setLanguageTool, map[string]any{"language": "de", "confirmed": true}),
		toolCall(askUserTool, map[string]any{"question": "Wie heissen Sie?"}),
		verdictCall(true),
	}, nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	assert.Equal(t, session.StageBootstrap, turn.Stage)
	assert.Contains(t, turn.Reply, "de")

	s := loadState(t, backend, turn.SessionID)
	assert.Equal(t, "de", s.Language)
	assert.False(t, s.LanguageConfirmed)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "Ja, gerne.")
	require.NoError(t, err)
	assert.Equal(t, session.StageInterviewLoop, turn.Stage)
	assert.Equal(t, "Wie heissen Sie?", turn.Reply)

	s = loadState(t, backend, turn.SessionID)
	assert.True(t, s.LanguageConfirmed)
}

func TestEmptyTurnReplaysPendingQuestion(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(startResponses("What is your name?"), nil)
	backend := inmem.New()
	o := New(client, backend, config.Default())

	turn, err := o.StartSession(ctx, hiringPlan())
	require.NoError(t, err)
	before := loadState(t, backend, turn.SessionID)

	turn, err = o.ProcessTurn(ctx, turn.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "What is your name?", turn.Reply)
	// No backend call was spent on the replay.
	assert.Equal(t, 3, client.CallCount())

	after := loadState(t, backend, turn.SessionID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, 0, after.FieldIndex)
	assert.True(t, after.AwaitingAnswer)
}

func TestIsFrustrated(t *testing.T) {
	assert.True(t, IsFrustrated("I ALREADY TOLD YOU my name."))
	assert.True(t, IsFrustrated("please just skip this one"))
	assert.True(t, IsFrustrated("Stop asking about that."))
	assert.False(t, IsFrustrated("I can start in May."))
	assert.False(t, IsFrustrated(""))
}
