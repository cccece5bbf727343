package step

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"interview/pkg/config"
	"interview/pkg/fault"
	"interview/pkg/llm"
	"interview/pkg/logx"
	"interview/pkg/session"
)

// Definition is one registry entry: a step type's contracts, prompt builders,
// factory, and delegation eligibility. Schemas are compiled once at
// registration.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Definition struct {
	Type Type

	// Delegatable marks the step as eligible to be pushed onto the
	// delegation stack by another step.
	Delegatable bool

	// InputSchema and OutputSchema are JSON-schema documents for the step's
	// arguments and result. Either may be empty (no validation).
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage

	// BuildPrompt produces the step's system instruction from its input and
	// a session snapshot.
	BuildPrompt func(in Input, snap session.State) string

	// InitialMessage optionally seeds the step's history with a first user
	// message built from the input.
	InitialMessage func(in Input) (llm.Message, bool)

	// DeriveInput builds the step's input when it is delegated to without
	// explicit arguments. Nil means arguments are required.
	DeriveInput func(s session.State, context string) (Input, error)

	// New builds a runnable instance. Factories are stateless; instances
	// never outlive a turn.
	New func(deps Deps) (Runner, error)

	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// Registry maps step type names to definitions. Registered once at process
// start, read-only afterward.
type Registry struct {
	mu   sync.RWMutex
	defs map[Type]*Definition
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]*Definition)}
}

// Register adds a definition, compiling its schemas. Duplicate types and
// malformed schemas are rejected.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("step definition needs a type")
	}
	if def.New == nil {
		return fmt.Errorf("step %s definition needs a factory", def.Type)
	}

	var err error
	if def.inputSchema, err = compileSchema(string(def.Type)+"-input.json", def.InputSchema); err != nil {
		return fmt.Errorf("step %s input schema: %w", def.Type, err)
	}
	if def.outputSchema, err = compileSchema(string(def.Type)+"-output.json", def.OutputSchema); err != nil {
		return fmt.Errorf("step %s output schema: %w", def.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("step %s already registered", def.Type)
	}
	r.defs[def.Type] = &def
	return nil
}

// MustRegister registers a definition, panicking on conflict. Definitions are
// fixed at process start, so a conflict is a programming error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get looks up a definition. An unregistered type is a fatal, typed error.
func (r *Registry) Get(t Type) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	if !ok {
		return nil, fault.New(fault.CodeContextInvalid, "step type %q is not registered", t)
	}
	return def, nil
}

// Registered lists the registered step types.
func (r *Registry) Registered() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}

// ValidateInput checks a wire-form input against the step's input contract.
func (d *Definition) ValidateInput(raw json.RawMessage) error {
	return d.validate(d.inputSchema, raw, "input")
}

// ValidateOutput checks a wire-form result against the step's output
// contract.
func (d *Definition) ValidateOutput(raw json.RawMessage) error {
	return d.validate(d.outputSchema, raw, "output")
}

// CheckOutput applies the configured result policy: reject surfaces the
// validation error as turn-fatal; warn logs it and proceeds with the
// unvalidated value.
func (d *Definition) CheckOutput(raw json.RawMessage, policy string, logger *logx.Logger) error {
	err := d.ValidateOutput(raw)
	if err == nil {
		return nil
	}
	if policy == config.ResultPolicyReject {
		return err
	}
	logger.Warn("Step %s result failed its contract, proceeding under warn policy: %v", d.Type, err)
	return nil
}

func (d *Definition) validate(sch *jsonschema.Schema, raw json.RawMessage, dir string) error {
	if sch == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fault.Wrap(fault.CodeValidationFailed, err, "%s %s is not valid JSON", d.Type, dir)
	}
	if err := sch.Validate(v); err != nil {
		return fault.Wrap(fault.CodeValidationFailed, err, "%s %s contract violated at %s", d.Type, dir, offendingField(err))
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(name)
}

// offendingField names the instance location of the deepest validation
// failure, so contract errors point at a concrete field.
func offendingField(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "(unknown)"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if len(ve.InstanceLocation) == 0 {
		return "/"
	}
	return "/" + strings.Join(ve.InstanceLocation, "/")
}
