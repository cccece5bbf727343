// Package session defines the persisted value object holding all progress for
// one conversation, the stage state machine over it, and the reducers that are
// the only sanctioned way to produce a new state from an old one.
package session

import (
	"encoding/json"
	"time"

	"interview/pkg/llm"
)

// Stage is the orchestrator's top-level phase.
type Stage string

const (
	// StageBootstrap collects a language/locale preference.
	StageBootstrap Stage = "BOOTSTRAP"
	// StageInterviewLoop asks each plan field in order.
	StageInterviewLoop Stage = "INTERVIEW_LOOP"
	// StageFinalAudit runs the auditor over the full collected set.
	StageFinalAudit Stage = "FINAL_AUDIT"
	// StageCompleted is terminal.
	StageCompleted Stage = "COMPLETED"
)

// validTransitions is the canonical stage graph. FINAL_AUDIT self-loops for
// audit remediation; INTERVIEW_LOOP is never re-entered once audit is reached.
var validTransitions = map[Stage][]Stage{
	StageBootstrap:     {StageInterviewLoop},
	StageInterviewLoop: {StageFinalAudit},
	StageFinalAudit:    {StageFinalAudit, StageCompleted},
	StageCompleted:     {},
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal stage transition.
func CanTransition(from, to Stage) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FieldKind classifies a plan field.
type FieldKind string

const (
	// FieldBasic is a simple factual field.
	FieldBasic FieldKind = "basic"
	// FieldAbstract needs a deeper, multi-fact answer.
	FieldAbstract FieldKind = "abstract"
)

// PlanField is one information field to collect. Immutable once the plan is
// built.
type PlanField struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	Intent            string    `json:"intent"`
	Required          bool      `json:"required"`
	Kind              FieldKind `json:"kind"`
	Facts             []string  `json:"facts,omitempty"`
	Boundaries        []string  `json:"boundaries,omitempty"`
	SuggestedQuestion string    `json:"suggested_question,omitempty"`
}

// Plan is the ordered list of fields to collect. Read-only after creation.
type Plan struct {
	Fields []PlanField `json:"fields"`
}

// StackEntry records one pending delegation: which step delegated, to which
// step, with what validated arguments, and where the result will land.
type StackEntry struct {
	Caller    string          `json:"caller"`
	Callee    string          `json:"callee"`
	Args      json.RawMessage `json:"args,omitempty"`
	ResultKey string          `json:"result_key"`
}

// QuickCheckVerdict gates an outgoing question.
type QuickCheckVerdict struct {
	Passed     bool     `json:"passed"`
	Issues     []string `json:"issues,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// ReviewVerdict gates an incoming answer.
type ReviewVerdict struct {
	Passed         bool     `json:"passed"`
	Feedback       string   `json:"feedback,omitempty"`
	MissingFacts   []string `json:"missing_facts,omitempty"`
	ExtractedValue string   `json:"extracted_value,omitempty"`
	ForcedAccept   bool     `json:"forced_accept,omitempty"`
}

// AuditVerdict gates session completion.
type AuditVerdict struct {
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// State is the full persisted record for one conversation. It is written as
// one JSON value per turn; nothing about a session lives anywhere else.
type State struct {
	ID                string `json:"id"`
	Stage             Stage  `json:"stage"`
	Language          string `json:"language,omitempty"`
	LanguageConfirmed bool   `json:"language_confirmed,omitempty"`

	Plan       Plan              `json:"plan"`
	FieldIndex int               `json:"field_index"`
	Collected  map[string]string `json:"collected,omitempty"`
	FollowUps  int               `json:"follow_ups"`

	PendingQuestion   string `json:"pending_question,omitempty"`
	AwaitingAnswer    bool   `json:"awaiting_answer,omitempty"`
	QuestionRevisions int    `json:"question_revisions,omitempty"`

	Stack       []StackEntry               `json:"stack,omitempty"`
	Delegations map[string]json.RawMessage `json:"delegations,omitempty"`

	// History is the full transcript, kept as an audit record and never
	// compacted. StepHistory is the step-facing window the backend sees.
	History     []llm.Message `json:"history,omitempty"`
	StepHistory []llm.Message `json:"step_history,omitempty"`

	QuickCheck *QuickCheckVerdict `json:"quick_check,omitempty"`
	Review     *ReviewVerdict     `json:"review,omitempty"`
	Audit      *AuditVerdict      `json:"audit,omitempty"`

	Usage      llm.Usage `json:"usage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	TTLSeconds int       `json:"ttl_seconds,omitempty"`
}

// New creates a fresh session at BOOTSTRAP over an already-built plan.
func New(id string, plan Plan, ttlSeconds int) State {
	now := time.Now().UTC()
	return State{
		ID:          id,
		Stage:       StageBootstrap,
		Plan:        plan,
		Collected:   make(map[string]string),
		Delegations: make(map[string]json.RawMessage),
		CreatedAt:   now,
		UpdatedAt:   now,
		TTLSeconds:  ttlSeconds,
	}
}

// CurrentField returns the plan field at the current index, or false when the
// plan is exhausted.
func (s *State) CurrentField() (PlanField, bool) {
	if s.FieldIndex < 0 || s.FieldIndex >= len(s.Plan.Fields) {
		return PlanField{}, false
	}
	return s.Plan.Fields[s.FieldIndex], true
}

// PlanExhausted reports whether every plan field has been collected.
func (s *State) PlanExhausted() bool {
	return s.FieldIndex >= len(s.Plan.Fields)
}

// ActiveStep returns the step type at the top of the delegation stack, or
// false when no delegation is in flight.
func (s *State) ActiveStep() (StackEntry, bool) {
	if len(s.Stack) == 0 {
		return StackEntry{}, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// Clone returns a deep copy. Reducers copy before mutating so the input state
// is never touched.
func (s State) Clone() State {
	out := s

	out.Plan.Fields = append([]PlanField(nil), s.Plan.Fields...)
	out.Stack = append([]StackEntry(nil), s.Stack...)
	out.History = append([]llm.Message(nil), s.History...)
	out.StepHistory = append([]llm.Message(nil), s.StepHistory...)

	out.Collected = make(map[string]string, len(s.Collected))
	for k, v := range s.Collected {
		out.Collected[k] = v
	}
	out.Delegations = make(map[string]json.RawMessage, len(s.Delegations))
	for k, v := range s.Delegations {
		out.Delegations[k] = append(json.RawMessage(nil), v...)
	}

	if s.QuickCheck != nil {
		qc := *s.QuickCheck
		out.QuickCheck = &qc
	}
	if s.Review != nil {
		rv := *s.Review
		out.Review = &rv
	}
	if s.Audit != nil {
		av := *s.Audit
		out.Audit = &av
	}
	return out
}
