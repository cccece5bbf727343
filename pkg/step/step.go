// Package step defines the reasoning-step framework: the closed set of step
// types, their strongly-typed inputs, and the registry that maps a type name
// to its contracts, prompt builders, and runnable factory. Definitions are
// registered once at process start; instances are created fresh per turn, so
// all cross-turn state lives in the session.
package step

import (
	"context"
	"encoding/json"
	"fmt"

	"interview/pkg/config"
	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/logx"
	"interview/pkg/session"
	"interview/pkg/step/toolloop"
)

// Type names a reasoning step.
type Type string

const (
	// TypeBootstrap collects and confirms the language preference.
	TypeBootstrap Type = "bootstrap"
	// TypeInterviewer drives the ask/answer loop over plan fields.
	TypeInterviewer Type = "interviewer"
	// TypeQuickCheck gates an outgoing question.
	TypeQuickCheck Type = "quick_check"
	// TypeReviewer gates an incoming answer.
	TypeReviewer Type = "reviewer"
	// TypeAuditor gates session completion.
	TypeAuditor Type = "auditor"
)

// Types lists every known step type, in pipeline order.
func Types() []Type {
	return []Type{TypeBootstrap, TypeInterviewer, TypeQuickCheck, TypeReviewer, TypeAuditor}
}

// Input is the closed union of step inputs: exactly one variant per step
// type, constructed from session state, serialized to JSON for contract
// validation and delegation.
type Input interface {
	StepType() Type
}

// BootstrapInput feeds the language-collection step.
type BootstrapInput struct {
	UserText string `json:"user_text,omitempty"`
	Language string `json:"language,omitempty"`
}

// StepType implements Input.
func (BootstrapInput) StepType() Type { return TypeBootstrap }

// InterviewerInput feeds the main ask/answer step: the field under
// collection plus any cached validator feedback to surface in the prompt.
type InterviewerInput struct {
	Language    string            `json:"language,omitempty"`
	Field       session.PlanField `json:"field"`
	FieldNumber int               `json:"field_number"`
	TotalFields int               `json:"total_fields"`
	FollowUps   int               `json:"follow_ups"`
	Collected   map[string]string `json:"collected,omitempty"`

	QuickCheckFeedback *session.QuickCheckVerdict `json:"quick_check_feedback,omitempty"`
	ReviewFeedback     *session.ReviewVerdict     `json:"review_feedback,omitempty"`
	AuditFeedback      *session.AuditVerdict      `json:"audit_feedback,omitempty"`
}

// StepType implements Input.
func (InterviewerInput) StepType() Type { return TypeInterviewer }

// QuickCheckInput feeds the question gate.
type QuickCheckInput struct {
	Question string            `json:"question"`
	Field    session.PlanField `json:"field"`
	Language string            `json:"language,omitempty"`
}

// StepType implements Input.
func (QuickCheckInput) StepType() Type { return TypeQuickCheck }

// ReviewerInput feeds the answer gate.
type ReviewerInput struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Field     session.PlanField `json:"field"`
	FollowUps int               `json:"follow_ups"`
}

// StepType implements Input.
func (ReviewerInput) StepType() Type { return TypeReviewer }

// AuditorInput feeds the completion gate with the full collected set.
type AuditorInput struct {
	Plan      session.Plan      `json:"plan"`
	Collected map[string]string `json:"collected"`
	Language  string            `json:"language,omitempty"`
}

// StepType implements Input.
func (AuditorInput) StepType() Type { return TypeAuditor }

// BuildInput constructs a step's typed input from session state. The switch
// is exhaustive over the step-type enum.
func BuildInput(t Type, s session.State, userText string) (Input, error) {
	switch t {
	case TypeBootstrap:
		return BootstrapInput{UserText: userText, Language: s.Language}, nil

	case TypeInterviewer:
		in := InterviewerInput{
			Language:           s.Language,
			FieldNumber:        s.FieldIndex + 1,
			TotalFields:        len(s.Plan.Fields),
			FollowUps:          s.FollowUps,
			QuickCheckFeedback: s.QuickCheck,
			ReviewFeedback:     s.Review,
			AuditFeedback:      s.Audit,
		}
		if len(s.Collected) > 0 {
			in.Collected = s.Collected
		}
		if field, ok := s.CurrentField(); ok {
			in.Field = field
		}
		return in, nil

	case TypeQuickCheck:
		field, ok := s.CurrentField()
		if !ok {
			return nil, fault.New(fault.CodeContextInvalid, "quick_check input needs a current field, plan exhausted at %d", s.FieldIndex)
		}
		return QuickCheckInput{Question: s.PendingQuestion, Field: field, Language: s.Language}, nil

	case TypeReviewer:
		field, ok := s.CurrentField()
		if !ok {
			return nil, fault.New(fault.CodeContextInvalid, "reviewer input needs a current field, plan exhausted at %d", s.FieldIndex)
		}
		return ReviewerInput{Question: s.PendingQuestion, Answer: userText, Field: field, FollowUps: s.FollowUps}, nil

	case TypeAuditor:
		return AuditorInput{Plan: s.Plan, Collected: s.Collected, Language: s.Language}, nil

	default:
		return nil, fault.New(fault.CodeContextInvalid, "no input constructor for step type %q", t)
	}
}

// EncodeInput serializes an input to its wire form.
func EncodeInput(in Input) (json.RawMessage, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", in.StepType(), err)
	}
	return raw, nil
}

// DecodeInput deserializes a wire-form input back into its typed variant.
func DecodeInput(t Type, raw json.RawMessage) (Input, error) {
	switch t {
	case TypeBootstrap:
		var v BootstrapInput
		return decodeTyped(raw, t, &v)
	case TypeInterviewer:
		var v InterviewerInput
		return decodeTyped(raw, t, &v)
	case TypeQuickCheck:
		var v QuickCheckInput
		return decodeTyped(raw, t, &v)
	case TypeReviewer:
		var v ReviewerInput
		return decodeTyped(raw, t, &v)
	case TypeAuditor:
		var v AuditorInput
		return decodeTyped(raw, t, &v)
	default:
		return nil, fault.New(fault.CodeContextInvalid, "no input decoder for step type %q", t)
	}
}

func decodeTyped[T Input](raw json.RawMessage, t Type, v *T) (Input, error) {
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fault.Wrap(fault.CodeContextInvalid, err, "decode %s input", t)
	}
	return *v, nil
}

// Deps carries everything a step factory needs to build a runnable instance.
type Deps struct {
	Client llm.Client
	Logger *logx.Logger
	Engine config.EngineConfig
	Model  config.ModelConfig
}

// Runner is a runnable step instance, created fresh per turn by a stateless
// factory.
type Runner interface {
	// Execute runs the step's tool loop over the given history.
	Execute(ctx context.Context, in Input, history []llm.Message) (*toolloop.Result, error)
}
