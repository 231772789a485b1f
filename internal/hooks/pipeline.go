package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

type entry struct {
	desc Descriptor
	hook Hook
}

// Pipeline runs the hooks of a manifest. It is immutable after New and
// safe for concurrent use as long as the hooks themselves are.
type Pipeline struct {
	entries []entry
	digest  string
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds every hook in m from reg and orders them by priority, ties
// broken by manifest order.
func New(m *Manifest, reg Registry, opts ...Option) (*Pipeline, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{digest: m.Digest, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	for _, d := range m.Hooks {
		h, err := reg.Build(d)
		if err != nil {
			return nil, err
		}
		p.entries = append(p.entries, entry{desc: d, hook: h})
	}
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].desc.Priority < p.entries[j].desc.Priority
	})
	return p, nil
}

// Digest returns the digest of the manifest the pipeline was built from.
func (p *Pipeline) Digest() string {
	return p.digest
}

// Hooks returns the descriptors that would run for phase and tool, in
// execution order. An empty phase lists every hook.
func (p *Pipeline) Hooks(phase Phase, tool string) []Descriptor {
	var out []Descriptor
	for _, e := range p.entries {
		if phase == "" || e.applies(phase, tool) {
			out = append(out, e.desc)
		}
	}
	return out
}

// applies reports whether the entry runs for phase and tool. A PRE_TOOL
// hook without a target applies to every tool; an empty tool selects every
// PRE_TOOL hook.
func (e entry) applies(phase Phase, tool string) bool {
	if !e.desc.IsEnabled() || e.desc.Phase != phase {
		return false
	}
	if phase == PhasePreTool && tool != "" && e.desc.TargetTool != "" {
		return e.desc.TargetTool == tool
	}
	return true
}

// RunPhase threads a copy of in through every applicable hook.
//
// The returned payload is halted if any hook halted; HaltedBy names it.
// A hook error aborts the phase and is returned as *HookError together
// with the payload as it stood before the failing hook.
func (p *Pipeline) RunPhase(ctx context.Context, phase Phase, in *Payload, tool string) (*Payload, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("hooks: unknown phase %q", phase)
	}
	cur := in.Clone()
	if cur.Halt {
		return cur, nil
	}

	for _, e := range p.entries {
		if !e.applies(phase, tool) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return cur, err
		}

		id := e.desc.ID
		before := len(cur.Violations)
		out, err := execute(ctx, e.hook, cur.Clone())
		if err != nil {
			p.logger.Error("hook failed", "hook", id, "phase", string(phase), "tool", tool, "error", err)
			return cur, &HookError{HookID: id, Kind: e.desc.Kind, Phase: phase, Err: err}
		}

		if out == nil {
			cur.Halt = true
			cur.HaltedBy = id
			cur.Applied = append(cur.Applied, id)
			p.logger.Info("pipeline halted", "hook", id, "phase", string(phase), "tool", tool)
			return cur, nil
		}

		for i := before; i < len(out.Violations); i++ {
			if out.Violations[i].Hook == "" {
				out.Violations[i].Hook = id
			}
		}
		out.Applied = append(out.Applied, id)
		cur = out

		if cur.Halt {
			if cur.HaltedBy == "" {
				cur.HaltedBy = id
			}
			p.logger.Info("pipeline halted", "hook", id, "phase", string(phase), "tool", tool, "violations", len(cur.Violations))
			return cur, nil
		}
	}
	return cur, nil
}

// execute runs one hook, converting a panic into an error.
func execute(ctx context.Context, h Hook, p *Payload) (out *Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h.Execute(ctx, p)
}
