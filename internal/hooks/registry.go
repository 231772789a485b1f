package hooks

import (
	"fmt"
	"slices"

	"github.com/roach88/apex/internal/faults"
)

// Factory builds a hook from its manifest config.
type Factory func(config map[string]any) (Hook, error)

// Registry maps a kind to its factory. The set of kinds is fixed at
// compile time by whoever constructs the Registry.
type Registry map[string]Factory

// Kinds returns the registered kinds in sorted order.
func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build instantiates the hook declared by d.
func (r Registry) Build(d Descriptor) (Hook, error) {
	const op = "hooks.build"
	factory, ok := r[d.Kind]
	if !ok {
		return nil, faults.Config(op, nil, "hook %q: unknown kind %q (known: %v)", d.ID, d.Kind, r.Kinds())
	}
	h, err := factory(d.Config)
	if err != nil {
		return nil, faults.Config(op, err, "hook %q: invalid config", d.ID)
	}
	if h == nil {
		return nil, faults.Config(op, fmt.Errorf("factory returned nil"), "hook %q", d.ID)
	}
	return h, nil
}
