package session

import (
	"encoding/json"
	"time"

	"interview/pkg/fault"
	"interview/pkg/llm"
)

// Reducers: every state transition is a pure function from an old State to a
// new one. The input is cloned, never mutated, so a failed turn can discard
// the new state and persist nothing. The orchestrator composes these per turn.

// ApplyStage moves the session to a new stage, enforcing the transition graph.
func ApplyStage(s State, to Stage) (State, error) {
	if !to.Valid() {
		return s, fault.New(fault.CodeStateInvalid, "unknown stage %q", to)
	}
	if !CanTransition(s.Stage, to) {
		return s, fault.New(fault.CodeStateInvalid, "illegal stage transition %s -> %s", s.Stage, to)
	}
	out := s.Clone()
	out.Stage = to
	out.touch()
	return out, nil
}

// ApplyBootstrap records the language preference. Once confirmed the session
// advances to the interview loop.
func ApplyBootstrap(s State, language string, confirmed bool) (State, error) {
	if s.Stage != StageBootstrap {
		return s, fault.New(fault.CodeStateInvalid, "bootstrap event in stage %s", s.Stage)
	}
	out := s.Clone()
	out.Language = language
	out.LanguageConfirmed = confirmed
	out.touch()
	if confirmed {
		return ApplyStage(out, StageInterviewLoop)
	}
	return out, nil
}

// ApplyQuestionProposed stores a question that passed QuickCheck and marks the
// session as awaiting the user's answer.
func ApplyQuestionProposed(s State, question string) State {
	out := s.Clone()
	out.PendingQuestion = question
	out.AwaitingAnswer = true
	out.QuickCheck = nil
	out.QuestionRevisions = 0
	out.touch()
	return out
}

// ApplyQuickCheckRejected caches a failing QuickCheck verdict and counts the
// revision so the regenerate loop stays bounded.
func ApplyQuickCheckRejected(s State, v QuickCheckVerdict) State {
	out := s.Clone()
	out.QuickCheck = &v
	out.QuestionRevisions++
	out.touch()
	return out
}

// ApplyFieldCollected records an accepted answer: the extracted value is
// written under the current field, the index advances, and per-field counters
// reset. The field index only ever increases.
func ApplyFieldCollected(s State, fieldID, value string) (State, error) {
	field, ok := s.CurrentField()
	if !ok {
		return s, fault.New(fault.CodeStateInvalid, "field collected but plan exhausted at index %d", s.FieldIndex)
	}
	if field.ID != fieldID {
		return s, fault.New(fault.CodeStateInvalid, "field collected for %q but current field is %q", fieldID, field.ID)
	}
	out := s.Clone()
	out.Collected[fieldID] = value
	out.FieldIndex++
	out.FollowUps = 0
	out.Review = nil
	out.PendingQuestion = ""
	out.AwaitingAnswer = false
	out.QuestionRevisions = 0
	out.touch()
	return out, nil
}

// ApplyFollowUp caches a failing review verdict and counts the follow-up. The
// caller checks the counter against its cap before deciding to force-accept.
func ApplyFollowUp(s State, v ReviewVerdict) (State, error) {
	if _, ok := s.CurrentField(); !ok {
		return s, fault.New(fault.CodeStateInvalid, "follow-up but plan exhausted at index %d", s.FieldIndex)
	}
	out := s.Clone()
	out.Review = &v
	out.FollowUps++
	out.AwaitingAnswer = true
	out.touch()
	return out, nil
}

// ApplyAudit caches the auditor's verdict. A pass completes the session; a
// fail re-enters FINAL_AUDIT with the verdict surfaced to the next prompt.
func ApplyAudit(s State, v AuditVerdict) (State, error) {
	if s.Stage != StageFinalAudit {
		return s, fault.New(fault.CodeStateInvalid, "audit verdict in stage %s", s.Stage)
	}
	out := s.Clone()
	out.Audit = &v
	out.touch()
	if v.Passed {
		return ApplyStage(out, StageCompleted)
	}
	return ApplyStage(out, StageFinalAudit)
}

// PushDelegation validates stack room before any mutation; a push beyond the
// bound fails with the stack unchanged.
func PushDelegation(s State, entry StackEntry, maxDepth int) (State, error) {
	if len(s.Stack) >= maxDepth {
		return s, fault.New(fault.CodeStackDepthExceeded, "delegation stack full (%d/%d) pushing %s", len(s.Stack), maxDepth, entry.Callee)
	}
	out := s.Clone()
	out.Stack = append(out.Stack, entry)
	out.touch()
	return out, nil
}

// PopDelegation removes the top stack entry and records the callee's result
// under the entry's result key. Returns the popped entry so the caller can
// route the result back to the step one level below.
func PopDelegation(s State, result json.RawMessage) (State, StackEntry, error) {
	entry, ok := s.ActiveStep()
	if !ok {
		return s, StackEntry{}, fault.New(fault.CodeStateInvalid, "pop on empty delegation stack")
	}
	out := s.Clone()
	out.Stack = out.Stack[:len(out.Stack)-1]
	out.Delegations[entry.ResultKey] = append(json.RawMessage(nil), result...)
	out.touch()
	return out, entry, nil
}

// AppendHistory appends messages to the full transcript.
func AppendHistory(s State, msgs ...llm.Message) State {
	out := s.Clone()
	out.History = append(out.History, msgs...)
	out.touch()
	return out
}

// SetStepHistory replaces the step-facing message window.
func SetStepHistory(s State, msgs []llm.Message) State {
	out := s.Clone()
	out.StepHistory = append([]llm.Message(nil), msgs...)
	out.touch()
	return out
}

// AddUsage accumulates one backend call's token accounting.
func AddUsage(s State, u llm.Usage) State {
	out := s.Clone()
	out.Usage.Add(u)
	out.touch()
	return out
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}
