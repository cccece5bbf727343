// Package orch implements the stage state machine that drives one interview:
// each turn it loads the session, picks the active reasoning step (top of the
// delegation stack or the stage default), runs its tool loop, interprets the
// terminal outcome, and persists the updated session before returning.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"interview/pkg/config"
	"interview/pkg/fault"
	"interview/pkg/history"
	"interview/pkg/kv"
	"interview/pkg/llm"
	"interview/pkg/logx"
	"interview/pkg/metrics"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/step/toolloop"
	"interview/pkg/tools"
	"interview/pkg/validators"
)

// Orchestrator owns the turn cycle. It is stateless between turns; everything
// lives in the session store.
type Orchestrator struct {
	registry *step.Registry
	store    *session.Store
	client   llm.Client
	cfg      config.Config
	logger   *logx.Logger
	recorder metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder installs a metrics recorder. Defaults to the no-op recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithRegistry replaces the default step registry. The default carries the
// bootstrap, interviewer, and validator definitions.
func WithRegistry(reg *step.Registry) Option {
	return func(o *Orchestrator) { o.registry = reg }
}

// New creates an orchestrator over a language backend and a KV store.
func New(client llm.Client, backend kv.Store, cfg config.Config, opts ...Option) *Orchestrator {
	reg := step.NewRegistry()
	RegisterSteps(reg)
	validators.Register(reg)

	o := &Orchestrator{
		registry: reg,
		store:    session.NewStore(backend),
		client:   client,
		cfg:      cfg,
		logger:   logx.NewLogger("orch"),
		recorder: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Turn is what one processed turn hands back to the request layer.
type Turn struct {
	SessionID string        `json:"session_id"`
	Stage     session.Stage `json:"stage"`
	Reply     string        `json:"reply"`
	Choices   []string      `json:"choices,omitempty"`
	Done      bool          `json:"done"`
}

// StartSession creates a session over an already-built plan and runs its
// first turn, returning the opening message.
func (o *Orchestrator) StartSession(ctx context.Context, plan session.Plan) (*Turn, error) {
	s := session.New(uuid.NewString(), plan, o.cfg.Engine.SessionTTLSeconds)
	if err := o.store.Save(ctx, s); err != nil {
		return nil, err
	}
	o.logger.Info("Started session %s with %d plan fields", s.ID, len(plan.Fields))
	return o.ProcessTurn(ctx, s.ID, "")
}

// ProcessTurn runs one request/response cycle: load, dispatch, persist. A
// fatal error ends the turn without persisting, leaving the session as it
// was before.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userText string) (*Turn, error) {
	start := time.Now()

	s, ok, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.CodeStateInvalid, "unknown session %q", sessionID)
	}
	stage := s.Stage

	turn, next, err := o.dispatch(ctx, s, userText)
	o.recorder.ObserveTurn(string(stage), err == nil, time.Since(start))
	if err != nil {
		o.logger.Error("Turn failed for session %s in stage %s: %v", sessionID, stage, err)
		return nil, err
	}

	if err := o.store.Save(ctx, next); err != nil {
		return nil, err
	}
	if next.Stage == session.StageCompleted && stage != session.StageCompleted {
		if err := o.store.SaveFormData(ctx, next); err != nil {
			return nil, err
		}
	}
	return turn, nil
}

// dispatch routes a turn to the active step: top of the delegation stack, or
// the stage default.
func (o *Orchestrator) dispatch(ctx context.Context, s session.State, userText string) (*Turn, session.State, error) {
	if userText != "" {
		s = session.AppendHistory(s, llm.NewUserMessage(userText))
	}

	if _, active := s.ActiveStep(); active {
		return o.resumeStack(ctx, s, userText)
	}

	switch s.Stage {
	case session.StageBootstrap:
		return o.runBootstrap(ctx, s, userText)
	case session.StageInterviewLoop:
		if s.AwaitingAnswer {
			if userText == "" {
				// Retry or refresh turn: re-surface the pending question
				// instead of generating a new one.
				return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: s.PendingQuestion}, s, nil
			}
			return o.handleAnswer(ctx, s, userText)
		}
		return o.askNextQuestion(ctx, s)
	case session.StageFinalAudit:
		if s.AwaitingAnswer && userText == "" && s.PendingQuestion != "" {
			return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: s.PendingQuestion}, s, nil
		}
		return o.runAudit(ctx, s, userText)
	case session.StageCompleted:
		return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: "This interview is already complete.", Done: true}, s, nil
	default:
		return nil, s, fault.New(fault.CodeStateInvalid, "session %s in unknown stage %q", s.ID, s.Stage)
	}
}

// runBootstrap establishes the interview language, then rolls straight into
// the first question once confirmed.
func (o *Orchestrator) runBootstrap(ctx context.Context, s session.State, userText string) (*Turn, session.State, error) {
	res, _, err := o.runMainStep(ctx, step.TypeBootstrap, s, userText)
	if err != nil {
		return nil, s, err
	}
	s = session.AddUsage(s, res.Usage)
	o.observeStep(step.TypeBootstrap, res)

	switch res.Outcome {
	case toolloop.OutcomePaused:
		question, _ := tools.StringArg(res.Pause.Parameters, "question")
		s = o.persistStepHistory(s, res.Messages)
		s = session.AppendHistory(s, llm.NewAssistantMessage(question))
		return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: question}, s, nil

	case toolloop.OutcomeCompleted:
		bs, ok := res.State.(*bootState)
		if !ok || !bs.set {
			return nil, s, fault.New(fault.CodeContextInvalid, "bootstrap completed without a language")
		}
		s, err = session.ApplyBootstrap(s, bs.language, bs.confirmed)
		if err != nil {
			return nil, s, err
		}
		if !bs.confirmed {
			// Tentative language: stay in bootstrap and check back with the
			// candidate before committing.
			question := fmt.Sprintf("Shall we continue the interview in %s?", bs.language)
			s = o.persistStepHistory(s, res.Messages)
			s = session.AppendHistory(s, llm.NewAssistantMessage(question))
			return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: question}, s, nil
		}
		s = session.SetStepHistory(s, nil)
		o.logger.Info("Session %s bootstrapped with language %s", s.ID, bs.language)
		return o.askNextQuestion(ctx, s)

	default:
		return nil, s, fault.New(fault.CodeStateInvalid, "unexpected bootstrap outcome %q", res.Outcome)
	}
}

// handleAnswer gates an incoming answer through the Reviewer, advancing the
// field or asking a follow-up.
func (o *Orchestrator) handleAnswer(ctx context.Context, s session.State, userText string) (*Turn, session.State, error) {
	field, ok := s.CurrentField()
	if !ok {
		return nil, s, fault.New(fault.CodeStateInvalid, "answer received but plan exhausted at %d", s.FieldIndex)
	}

	var verdict session.ReviewVerdict
	if IsFrustrated(userText) {
		o.logger.Warn("Session %s: frustration detected on field %s, force-accepting", s.ID, field.ID)
		verdict = session.ReviewVerdict{Passed: true, ExtractedValue: userText, ForcedAccept: true}
	} else {
		var err error
		verdict, s, err = o.runReviewerGate(ctx, s, userText)
		if err != nil {
			return nil, s, err
		}
	}

	if !verdict.Passed && s.FollowUps >= o.cfg.Engine.MaxFollowUps {
		o.logger.Warn("Session %s: follow-up cap reached on field %s, force-accepting", s.ID, field.ID)
		verdict.Passed = true
		verdict.ForcedAccept = true
	}

	if verdict.Passed {
		value := verdict.ExtractedValue
		if value == "" {
			value = userText
		}
		var err error
		s, err = session.ApplyFieldCollected(s, field.ID, value)
		if err != nil {
			return nil, s, err
		}
		if s.PlanExhausted() {
			s, err = session.ApplyStage(s, session.StageFinalAudit)
			if err != nil {
				return nil, s, err
			}
			s = session.SetStepHistory(s, nil)
			return o.runAudit(ctx, s, "")
		}
		return o.askNextQuestion(ctx, s)
	}

	var err error
	s, err = session.ApplyFollowUp(s, verdict)
	if err != nil {
		return nil, s, err
	}
	return o.askNextQuestion(ctx, s)
}

// askNextQuestion runs the interviewer until it produces a question that
// passes QuickCheck, bounded by the revision limit (the last revision is
// accepted with a warning).
func (o *Orchestrator) askNextQuestion(ctx context.Context, s session.State) (*Turn, session.State, error) {
	for {
		res, _, err := o.runMainStep(ctx, step.TypeInterviewer, s, "")
		if err != nil {
			return nil, s, err
		}
		s = session.AddUsage(s, res.Usage)
		o.observeStep(step.TypeInterviewer, res)

		switch res.Outcome {
		case toolloop.OutcomePaused:
			question, _ := tools.StringArg(res.Pause.Parameters, "question")
			choices := tools.StringSliceArg(res.Pause.Parameters, "choices")

			verdict, withUsage, err := o.runQuickCheckGate(ctx, s, question)
			if err != nil {
				return nil, s, err
			}
			s = withUsage

			if !verdict.Passed && s.QuestionRevisions < o.cfg.Engine.MaxQuestionRevisions {
				s = session.ApplyQuickCheckRejected(s, verdict)
				o.logger.Info("Session %s: question rejected by quick check (revision %d): %v", s.ID, s.QuestionRevisions, verdict.Issues)
				continue
			}
			if !verdict.Passed {
				o.logger.Warn("Session %s: accepting question after %d failed revisions", s.ID, s.QuestionRevisions)
			}

			s = session.ApplyQuestionProposed(s, question)
			s = o.persistStepHistory(s, res.Messages)
			s = session.AppendHistory(s, llm.NewAssistantMessage(question))
			return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: question, Choices: choices}, s, nil

		case toolloop.OutcomeDelegated:
			var err error
			s, err = o.pushDelegation(ctx, s, step.TypeInterviewer, res)
			if err != nil {
				return nil, s, err
			}
			return o.executeStack(ctx, s)

		case toolloop.OutcomeCompleted:
			// The interviewer spoke instead of asking; surface the text.
			s = o.persistStepHistory(s, res.Messages)
			s = session.AppendHistory(s, llm.NewAssistantMessage(res.Response))
			return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: res.Response}, s, nil

		default:
			return nil, s, fault.New(fault.CodeStateInvalid, "unexpected interviewer outcome %q", res.Outcome)
		}
	}
}

// runAudit runs the Auditor gate. A pass completes the session; a fail keeps
// it in FINAL_AUDIT and asks the candidate a clarification question built
// from the audit findings.
func (o *Orchestrator) runAudit(ctx context.Context, s session.State, clarification string) (*Turn, session.State, error) {
	verdict, withUsage, err := o.runAuditorGate(ctx, s, clarification)
	if err != nil {
		return nil, s, err
	}
	s = withUsage

	s, err = session.ApplyAudit(s, verdict)
	if err != nil {
		return nil, s, err
	}

	if verdict.Passed {
		reply := verdict.Summary
		if reply == "" {
			reply = "Thank you, the interview is complete."
		}
		s = session.AppendHistory(s, llm.NewAssistantMessage(reply))
		o.logger.Info("Session %s passed the final audit", s.ID)
		return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: reply, Done: true}, s, nil
	}

	o.logger.Info("Session %s failed the final audit: %v", s.ID, verdict.Issues)
	// Remediation: the interviewer asks for clarification with the audit
	// findings in its prompt. The question takes the normal path, so it is
	// compliance-checked before it reaches the candidate and the interviewer
	// may delegate first.
	return o.askNextQuestion(ctx, s)
}

// runMainStep executes a stage-default step over the session's step-facing
// history, rebuilding the system instruction from current state each turn.
func (o *Orchestrator) runMainStep(ctx context.Context, t step.Type, s session.State, userText string) (*toolloop.Result, *step.Definition, error) {
	def, err := o.registry.Get(t)
	if err != nil {
		return nil, nil, err
	}
	in, err := step.BuildInput(t, s, userText)
	if err != nil {
		return nil, nil, err
	}
	raw, err := step.EncodeInput(in)
	if err != nil {
		return nil, nil, err
	}
	if err := def.ValidateInput(raw); err != nil {
		return nil, nil, err
	}
	runner, err := def.New(o.deps())
	if err != nil {
		return nil, nil, err
	}

	msgs := []llm.Message{llm.NewSystemMessage(def.BuildPrompt(in, s))}
	if len(s.StepHistory) == 0 {
		if first, ok := def.InitialMessage(in); ok {
			msgs = append(msgs, first)
		}
	} else {
		msgs = append(msgs, s.StepHistory...)
		if userText != "" {
			msgs = append(msgs, llm.NewUserMessage(userText))
		}
	}

	res, err := runner.Execute(ctx, in, msgs)
	if err != nil {
		o.observeStepError(t, err)
		return nil, nil, err
	}
	return res, def, nil
}

// runGate executes a validator synchronously over a fresh two-message
// history and returns its raw verdict after the output-policy check.
func (o *Orchestrator) runGate(ctx context.Context, t step.Type, in step.Input, s session.State) (*toolloop.Result, []byte, session.State, error) {
	def, err := o.registry.Get(t)
	if err != nil {
		return nil, nil, s, err
	}
	raw, err := step.EncodeInput(in)
	if err != nil {
		return nil, nil, s, err
	}
	if err := def.ValidateInput(raw); err != nil {
		return nil, nil, s, err
	}
	runner, err := def.New(o.deps())
	if err != nil {
		return nil, nil, s, err
	}

	msgs := []llm.Message{llm.NewSystemMessage(def.BuildPrompt(in, s))}
	if first, ok := def.InitialMessage(in); ok {
		msgs = append(msgs, first)
	}

	res, err := runner.Execute(ctx, in, msgs)
	if err != nil {
		o.observeStepError(t, err)
		return nil, nil, s, err
	}
	s = session.AddUsage(s, res.Usage)
	o.observeStep(t, res)

	verdictRaw, err := validators.RawVerdict(res)
	if err != nil {
		return nil, nil, s, err
	}
	if err := def.CheckOutput(verdictRaw, o.cfg.Engine.ResultPolicy, o.logger); err != nil {
		return nil, nil, s, err
	}
	return res, verdictRaw, s, nil
}

func (o *Orchestrator) runQuickCheckGate(ctx context.Context, s session.State, question string) (session.QuickCheckVerdict, session.State, error) {
	field, ok := s.CurrentField()
	var in step.QuickCheckInput
	if ok {
		in = step.QuickCheckInput{Question: question, Field: field, Language: s.Language}
	} else {
		// Audit remediation has no current field; check against an empty one.
		in = step.QuickCheckInput{Question: question, Field: session.PlanField{ID: "clarification", Intent: "audit remediation"}, Language: s.Language}
	}

	res, _, s, err := o.runGate(ctx, step.TypeQuickCheck, in, s)
	if err != nil {
		return session.QuickCheckVerdict{}, s, err
	}
	verdict, _, err := validators.DecodeVerdict[session.QuickCheckVerdict](res)
	return verdict, s, err
}

func (o *Orchestrator) runReviewerGate(ctx context.Context, s session.State, answer string) (session.ReviewVerdict, session.State, error) {
	in, err := step.BuildInput(step.TypeReviewer, s, answer)
	if err != nil {
		return session.ReviewVerdict{}, s, err
	}
	res, _, s, err := o.runGate(ctx, step.TypeReviewer, in, s)
	if err != nil {
		return session.ReviewVerdict{}, s, err
	}
	verdict, _, err := validators.DecodeVerdict[session.ReviewVerdict](res)
	return verdict, s, err
}

func (o *Orchestrator) runAuditorGate(ctx context.Context, s session.State, clarification string) (session.AuditVerdict, session.State, error) {
	in, err := step.BuildInput(step.TypeAuditor, s, "")
	if err != nil {
		return session.AuditVerdict{}, s, err
	}
	def, err := o.registry.Get(step.TypeAuditor)
	if err != nil {
		return session.AuditVerdict{}, s, err
	}
	raw, err := step.EncodeInput(in)
	if err != nil {
		return session.AuditVerdict{}, s, err
	}
	if err := def.ValidateInput(raw); err != nil {
		return session.AuditVerdict{}, s, err
	}
	runner, err := def.New(o.deps())
	if err != nil {
		return session.AuditVerdict{}, s, err
	}

	msgs := []llm.Message{llm.NewSystemMessage(def.BuildPrompt(in, s))}
	if first, ok := def.InitialMessage(in); ok {
		msgs = append(msgs, first)
	}
	if prior := s.Audit; prior != nil && !prior.Passed {
		msgs = append(msgs, llm.NewUserMessage("Your previous audit failed with: "+joinLines(prior.Issues)))
	}
	if clarification != "" {
		msgs = append(msgs, llm.NewUserMessage("Candidate clarification: "+clarification))
	}

	res, err := runner.Execute(ctx, in, msgs)
	if err != nil {
		o.observeStepError(step.TypeAuditor, err)
		return session.AuditVerdict{}, s, err
	}
	s = session.AddUsage(s, res.Usage)
	o.observeStep(step.TypeAuditor, res)

	verdictRaw, err := validators.RawVerdict(res)
	if err != nil {
		return session.AuditVerdict{}, s, err
	}
	if err := def.CheckOutput(verdictRaw, o.cfg.Engine.ResultPolicy, o.logger); err != nil {
		return session.AuditVerdict{}, s, err
	}
	verdict, _, err := validators.DecodeVerdict[session.AuditVerdict](res)
	return verdict, s, err
}

// persistStepHistory stores the step-facing window back on the session,
// dropping the per-turn system instruction and compacting past the token
// budget. The full transcript is never compacted.
func (o *Orchestrator) persistStepHistory(s session.State, msgs []llm.Message) session.State {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		msgs = msgs[1:]
	}
	m := history.FromMessages(msgs)
	if err := m.CompactIfNeeded(o.cfg.Engine.HistoryTokenBudget); err != nil {
		o.logger.Warn("Step history compaction failed for session %s: %v", s.ID, err)
	}
	return session.SetStepHistory(s, m.Messages())
}

func (o *Orchestrator) deps() step.Deps {
	return step.Deps{Client: o.client, Logger: o.logger, Engine: o.cfg.Engine, Model: o.cfg.Model}
}

func (o *Orchestrator) observeStep(t step.Type, res *toolloop.Result) {
	o.recorder.ObserveBackendCall(o.client.ModelName(), string(t),
		res.Usage.PromptTokens, res.Usage.CompletionTokens, true, "", 0)
	for _, rec := range res.Records {
		o.recorder.ObserveToolExecution(rec.Name, true)
	}
}

func (o *Orchestrator) observeStepError(t step.Type, err error) {
	kind := ""
	if fault.Is(err, fault.CodeBackendError) {
		kind = llm.KindOf(err).String()
	}
	o.recorder.ObserveBackendCall(o.client.ModelName(), string(t), 0, 0, false, kind, 0)
}

func joinLines(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += "; "
		}
		out += item
	}
	return out
}
