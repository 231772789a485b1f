package hooks

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/apex/internal/canon"
	"github.com/roach88/apex/internal/faults"
)

//go:embed schema.cue
var schemaSource string

// Manifest is a validated hook manifest.
type Manifest struct {
	Version int          `json:"version,omitempty"`
	Hooks   []Descriptor `json:"hooks"`

	// Digest identifies the manifest content in audit records.
	Digest string `json:"-"`
}

// LoadManifest reads a manifest file. The format follows the extension:
// .json, .yaml/.yml or .cue.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Config("hooks.load_manifest", err, "read %s", path)
	}
	return ParseManifest(data, filepath.Base(path))
}

// ParseManifest validates data against the manifest schema. filename
// selects the format and appears in error positions.
func ParseManifest(data []byte, filename string) (*Manifest, error) {
	const op = "hooks.parse_manifest"

	src := data
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, faults.Config(op, err, "parse %s", filename)
		}
		src = converted
	case ".json", ".cue":
	default:
		return nil, faults.Config(op, nil, "unsupported manifest format %q", filepath.Ext(filename))
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, faults.Config(op, err, "compile manifest schema")
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))

	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, faults.Config(op, nil, "parse %s: %s", filename, cueDetails(err))
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, faults.Config(op, nil, "invalid manifest %s: %s", filename, cueDetails(err))
	}

	concrete, err := unified.MarshalJSON()
	if err != nil {
		return nil, faults.Config(op, nil, "invalid manifest %s: %s", filename, cueDetails(err))
	}
	var m Manifest
	if err := json.Unmarshal(concrete, &m); err != nil {
		return nil, faults.Config(op, err, "decode manifest %s", filename)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.Digest = canon.HashWithDomain(canon.DomainManifest, concrete)
	return &m, nil
}

// Validate checks the rules the schema cannot express: unique ids, known
// phases, and target_tool only on PRE_TOOL hooks.
func (m *Manifest) Validate() error {
	const op = "hooks.validate_manifest"
	seen := map[string]bool{}
	for i, d := range m.Hooks {
		switch {
		case d.ID == "":
			return faults.Config(op, nil, "hook %d has no id", i)
		case seen[d.ID]:
			return faults.Config(op, nil, "duplicate hook id %q", d.ID)
		case !d.Phase.Valid():
			return faults.Config(op, nil, "hook %q: unknown phase %q", d.ID, d.Phase)
		case d.Priority < 1 || d.Priority > 100:
			return faults.Config(op, nil, "hook %q: priority %d outside 1..100", d.ID, d.Priority)
		case d.TargetTool != "" && d.Phase != PhasePreTool:
			return faults.Config(op, nil, "hook %q: target_tool is only valid for %s", d.ID, PhasePreTool)
		}
		seen[d.ID] = true
	}
	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func cueDetails(err error) string {
	return strings.TrimSpace(strings.ReplaceAll(cueerrors.Details(err, nil), "\n", "; "))
}

// DecodeConfig copies a hook's opaque config into a typed struct. Unknown
// keys are rejected.
func DecodeConfig(config map[string]any, dst any) error {
	if len(config) == 0 {
		return nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
