package hooks

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Phase is a point in the request lifecycle at which hooks run.
type Phase string

const (
	PhasePrePrompt Phase = "PRE_PROMPT"
	PhasePreTool   Phase = "PRE_TOOL"
	PhasePostTool  Phase = "POST_TOOL"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhasePrePrompt, PhasePreTool, PhasePostTool}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return slices.Contains(Phases, p)
}

// Severity ranks a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is one policy finding attached to a payload.
type Violation struct {
	Type        string   `json:"type" yaml:"type"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Line        int      `json:"line,omitempty" yaml:"line,omitempty"`
	Column      int      `json:"column,omitempty" yaml:"column,omitempty"`
	Token       int      `json:"token,omitempty" yaml:"token,omitempty"`
	Description string   `json:"description" yaml:"description"`
	Hook        string   `json:"hook,omitempty" yaml:"hook,omitempty"`
}

func (v Violation) String() string {
	loc := ""
	switch {
	case v.Line > 0:
		loc = fmt.Sprintf(" at line %d", v.Line)
	case v.Token > 0:
		loc = fmt.Sprintf(" at token %d", v.Token)
	}
	return fmt.Sprintf("%s [%s]%s: %s", v.Type, v.Severity, loc, v.Description)
}

// Payload is the data bag threaded through a phase.
type Payload struct {
	Data       map[string]any `json:"data"`
	Halt       bool           `json:"halt"`
	HaltedBy   string         `json:"halted_by,omitempty"`
	Violations []Violation    `json:"violations,omitempty"`
	Applied    []string       `json:"applied,omitempty"`
}

// NewPayload wraps data. A nil map is replaced with an empty one.
func NewPayload(data map[string]any) *Payload {
	if data == nil {
		data = map[string]any{}
	}
	return &Payload{Data: data}
}

// Clone deep-copies the payload, including nested maps and slices in
// Data.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return NewPayload(nil)
	}
	out := &Payload{
		Halt:       p.Halt,
		HaltedBy:   p.HaltedBy,
		Violations: slices.Clone(p.Violations),
		Applied:    slices.Clone(p.Applied),
	}
	out.Data, _ = cloneValue(p.Data).(map[string]any)
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	case map[string]string:
		return maps.Clone(val)
	case []string:
		return slices.Clone(val)
	default:
		return val
	}
}

// String returns Data[key] if it is a string.
func (p *Payload) String(key string) (string, bool) {
	s, ok := p.Data[key].(string)
	return s, ok
}

// Set stores a value in Data.
func (p *Payload) Set(key string, value any) {
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	p.Data[key] = value
}

// Flag records a violation without halting.
func (p *Payload) Flag(vs ...Violation) {
	p.Violations = append(p.Violations, vs...)
}

// Deny records violations and halts the phase.
func (p *Payload) Deny(vs ...Violation) {
	p.Flag(vs...)
	p.Halt = true
}

// Hook is one policy step. It may modify and return p, return a new
// payload, set p.Halt, or return nil to halt with the payload unchanged.
type Hook interface {
	Execute(ctx context.Context, p *Payload) (*Payload, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, p *Payload) (*Payload, error)

func (f HookFunc) Execute(ctx context.Context, p *Payload) (*Payload, error) {
	return f(ctx, p)
}

// Descriptor declares one hook instance in a manifest.
type Descriptor struct {
	ID         string         `json:"id"`
	Phase      Phase          `json:"phase"`
	Kind       string         `json:"kind"`
	Priority   int            `json:"priority"`
	TargetTool string         `json:"target_tool,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// IsEnabled reports whether the hook runs. Hooks are enabled unless the
// manifest says otherwise.
func (d Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Band names the conventional priority range d falls into.
func (d Descriptor) Band() string {
	switch {
	case d.Priority <= 20:
		return "integrity"
	case d.Priority <= 50:
		return "security"
	case d.Priority <= 80:
		return "optimization"
	default:
		return "recovery"
	}
}
