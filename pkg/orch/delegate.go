package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/session"
	"interview/pkg/step"
	"interview/pkg/step/toolloop"
	"interview/pkg/tools"
	"interview/pkg/validators"
)

// pushDelegation validates a requested delegation and pushes its stack
// entry. Everything is checked before any state mutation: the callee must be
// registered and delegatable, its input must satisfy its contract, and the
// stack must have room.
func (o *Orchestrator) pushDelegation(ctx context.Context, s session.State, caller step.Type, res *toolloop.Result) (session.State, error) {
	d := res.Delegation
	calleeType := step.Type(d.Callee)

	def, err := o.registry.Get(calleeType)
	if err != nil {
		return s, err
	}
	if !def.Delegatable {
		return s, fault.New(fault.CodeContextInvalid, "step %s is not eligible for delegation", calleeType)
	}

	var in step.Input
	if def.DeriveInput != nil {
		in, err = def.DeriveInput(s, d.Context)
	} else {
		return s, fault.New(fault.CodeContextInvalid, "step %s has no way to derive its input from the session", calleeType)
	}
	if err != nil {
		return s, err
	}
	raw, err := step.EncodeInput(in)
	if err != nil {
		return s, err
	}
	if err := def.ValidateInput(raw); err != nil {
		return s, err
	}

	entry := session.StackEntry{
		Caller:    string(caller),
		Callee:    string(calleeType),
		Args:      raw,
		ResultKey: fmt.Sprintf("%s:%s", calleeType, uuid.NewString()[:8]),
	}
	next, err := session.PushDelegation(s, entry, o.cfg.Engine.MaxStackDepth)
	if err != nil {
		return s, err
	}

	// The callee gets its own independently persisted history, so the
	// delegation can be suspended and resumed across turns.
	msgs := []llm.Message{llm.NewSystemMessage(def.BuildPrompt(in, next))}
	if first, ok := def.InitialMessage(in); ok {
		msgs = append(msgs, first)
	}
	if d.Context != "" {
		msgs = append(msgs, llm.NewUserMessage("Context from the delegating step: "+d.Context))
	}
	level := len(next.Stack) - 1
	if err := o.store.SaveSubsessionHistory(ctx, next, level, msgs); err != nil {
		return s, err
	}
	o.logger.Info("Session %s: %s delegated to %s at depth %d", s.ID, caller, calleeType, level+1)
	return next, nil
}

// resumeStack feeds an incoming user message to the suspended top-of-stack
// step and continues executing the stack.
func (o *Orchestrator) resumeStack(ctx context.Context, s session.State, userText string) (*Turn, session.State, error) {
	if userText != "" {
		level := len(s.Stack) - 1
		msgs, ok, err := o.store.LoadSubsessionHistory(ctx, s.ID, level)
		if err != nil {
			return nil, s, err
		}
		if !ok {
			return nil, s, fault.New(fault.CodeStateInvalid, "session %s has a stack entry at %d but no sub-session history", s.ID, level)
		}
		msgs = append(msgs, llm.NewUserMessage(userText))
		if err := o.store.SaveSubsessionHistory(ctx, s, level, msgs); err != nil {
			return nil, s, err
		}
	}
	return o.executeStack(ctx, s)
}

// executeStack runs the active step at the top of the delegation stack until
// the stack drains back into the stage flow, or a step pauses for the user.
// Each completed callee's result is schema-checked, recorded under its
// result key, and handed to the step one level below as a synthetic message.
func (o *Orchestrator) executeStack(ctx context.Context, s session.State) (*Turn, session.State, error) {
	for {
		entry, active := s.ActiveStep()
		if !active {
			// Stack drained: the stage-default step continues with the
			// delegation result in its history.
			return o.askNextQuestion(ctx, s)
		}
		level := len(s.Stack) - 1
		calleeType := step.Type(entry.Callee)

		def, err := o.registry.Get(calleeType)
		if err != nil {
			return nil, s, err
		}
		in, err := step.DecodeInput(calleeType, entry.Args)
		if err != nil {
			return nil, s, err
		}
		runner, err := def.New(o.deps())
		if err != nil {
			return nil, s, err
		}
		msgs, ok, err := o.store.LoadSubsessionHistory(ctx, s.ID, level)
		if err != nil {
			return nil, s, err
		}
		if !ok {
			return nil, s, fault.New(fault.CodeStateInvalid, "session %s has a stack entry at %d but no sub-session history", s.ID, level)
		}

		res, err := runner.Execute(ctx, in, msgs)
		if err != nil {
			o.observeStepError(calleeType, err)
			return nil, s, err
		}
		s = session.AddUsage(s, res.Usage)
		o.observeStep(calleeType, res)

		switch res.Outcome {
		case toolloop.OutcomePaused:
			question, _ := tools.StringArg(res.Pause.Parameters, "question")
			if err := o.store.SaveSubsessionHistory(ctx, s, level, res.Messages); err != nil {
				return nil, s, err
			}
			s = session.AppendHistory(s, llm.NewAssistantMessage(question))
			return &Turn{SessionID: s.ID, Stage: s.Stage, Reply: question}, s, nil

		case toolloop.OutcomeDelegated:
			s, err = o.pushDelegation(ctx, s, calleeType, res)
			if err != nil {
				return nil, s, err
			}

		case toolloop.OutcomeCompleted:
			raw, verr := validators.RawVerdict(res)
			if verr != nil {
				// Non-validator callees complete with free text.
				raw, _ = json.Marshal(map[string]string{"response": res.Response})
			}
			if err := def.CheckOutput(raw, o.cfg.Engine.ResultPolicy, o.logger); err != nil {
				return nil, s, err
			}
			var popped session.StackEntry
			s, popped, err = session.PopDelegation(s, raw)
			if err != nil {
				return nil, s, err
			}
			if err := o.store.DeleteSubsessionHistory(ctx, s.ID, level); err != nil {
				return nil, s, err
			}

			synthetic := llm.NewUserMessage(fmt.Sprintf("Result of %s: %s", popped.Callee, raw))
			if _, still := s.ActiveStep(); still {
				parentLevel := len(s.Stack) - 1
				parentMsgs, ok, err := o.store.LoadSubsessionHistory(ctx, s.ID, parentLevel)
				if err != nil {
					return nil, s, err
				}
				if !ok {
					return nil, s, fault.New(fault.CodeStateInvalid, "session %s missing sub-session history at %d", s.ID, parentLevel)
				}
				parentMsgs = append(parentMsgs, synthetic)
				if err := o.store.SaveSubsessionHistory(ctx, s, parentLevel, parentMsgs); err != nil {
					return nil, s, err
				}
			} else {
				s = session.SetStepHistory(s, append(append([]llm.Message(nil), s.StepHistory...), synthetic))
			}

		default:
			return nil, s, fault.New(fault.CodeStateInvalid, "unexpected %s outcome %q", calleeType, res.Outcome)
		}
	}
}
