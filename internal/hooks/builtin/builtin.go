// Package builtin assembles the closed set of hook kinds shipped with apex.
package builtin

import (
	_ "embed"

	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/hooks/budget"
	"github.com/roach88/apex/internal/hooks/cmdguard"
	"github.com/roach88/apex/internal/hooks/codescan"
	"github.com/roach88/apex/internal/hooks/outguard"
)

// Deps are the runtime dependencies some hook kinds need. A nil Accounts
// makes budget_gate hooks fail to build.
type Deps struct {
	Accounts budget.AccountReader
}

// Registry returns every built-in kind.
func Registry(deps Deps) hooks.Registry {
	return hooks.Registry{
		codescan.Kind: codescan.Factory,
		cmdguard.Kind: cmdguard.Factory,
		budget.Kind:   budget.Factory(deps.Accounts),
		outguard.Kind: outguard.Factory,
	}
}

// DefaultManifestYAML is the manifest used when none is configured.
//
//go:embed default.yaml
var DefaultManifestYAML []byte

// DefaultManifest parses DefaultManifestYAML.
func DefaultManifest() (*hooks.Manifest, error) {
	return hooks.ParseManifest(DefaultManifestYAML, "default.yaml")
}
