package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apex/internal/faults"
)

func TestLoadManifestYAML(t *testing.T) {
	m, err := LoadManifest(filepath.Join("testdata", "manifest.yaml"))
	require.NoError(t, err)

	require.Len(t, m.Hooks, 4)
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "budget", m.Hooks[0].ID)
	assert.Equal(t, PhasePrePrompt, m.Hooks[0].Phase)
	assert.Equal(t, "python_exec", m.Hooks[1].TargetTool)
	assert.Equal(t, float64(50000), m.Hooks[1].Config["max_chars"])
	assert.True(t, m.Hooks[0].IsEnabled())
	assert.False(t, m.Hooks[3].IsEnabled())
	assert.Len(t, m.Digest, 64)
}

func TestLoadManifestCUE(t *testing.T) {
	m, err := LoadManifest(filepath.Join("testdata", "manifest.cue"))
	require.NoError(t, err)
	require.Len(t, m.Hooks, 2)
	assert.Equal(t, "scan", m.Hooks[1].ID)
	assert.Equal(t, 30, m.Hooks[1].Priority)
}

func TestParseManifestDigestIsDeterministic(t *testing.T) {
	data := []byte(`{"hooks":[{"id":"a","phase":"PRE_TOOL","kind":"code_scanner","priority":5}]}`)
	m1, err := ParseManifest(data, "m.json")
	require.NoError(t, err)
	m2, err := ParseManifest(data, "m.json")
	require.NoError(t, err)
	assert.Equal(t, m1.Digest, m2.Digest)

	other := []byte(`{"hooks":[{"id":"a","phase":"PRE_TOOL","kind":"code_scanner","priority":6}]}`)
	m3, err := ParseManifest(other, "m.json")
	require.NoError(t, err)
	assert.NotEqual(t, m1.Digest, m3.Digest)
}

func TestParseManifestRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
		contains string
	}{
		{
			name:     "unknown field",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"PRE_TOOL","kind":"x","priority":10,"bogus":1}]}`,
			contains: "bogus",
		},
		{
			name:     "priority below range",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"PRE_TOOL","kind":"x","priority":0}]}`,
			contains: "invalid manifest",
		},
		{
			name:     "priority above range",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"PRE_TOOL","kind":"x","priority":101}]}`,
			contains: "invalid manifest",
		},
		{
			name:     "unknown phase",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"LATER","kind":"x","priority":10}]}`,
			contains: "invalid manifest",
		},
		{
			name:     "missing kind",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"PRE_TOOL","priority":10}]}`,
			contains: "invalid manifest",
		},
		{
			name:     "duplicate id",
			filename: "m.json",
			data: `{"hooks":[
				{"id":"a","phase":"PRE_TOOL","kind":"x","priority":10},
				{"id":"a","phase":"POST_TOOL","kind":"y","priority":20}]}`,
			contains: `duplicate hook id "a"`,
		},
		{
			name:     "target tool outside PRE_TOOL",
			filename: "m.json",
			data:     `{"hooks":[{"id":"a","phase":"POST_TOOL","kind":"x","priority":10,"target_tool":"shell_exec"}]}`,
			contains: "target_tool is only valid",
		},
		{
			name:     "malformed yaml",
			filename: "m.yaml",
			data:     "hooks: [\n",
			contains: "parse m.yaml",
		},
		{
			name:     "unsupported extension",
			filename: "m.toml",
			data:     "",
			contains: "unsupported manifest format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data), tt.filename)
			require.Error(t, err)
			assert.True(t, faults.IsConfig(err), "want config fault, got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, faults.IsConfig(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecodeConfig(t *testing.T) {
	type cfg struct {
		MaxChars int      `json:"max_chars"`
		Blocked  []string `json:"blocked"`
	}

	var c cfg
	require.NoError(t, DecodeConfig(map[string]any{"max_chars": float64(10), "blocked": []any{"os"}}, &c))
	assert.Equal(t, cfg{MaxChars: 10, Blocked: []string{"os"}}, c)

	err := DecodeConfig(map[string]any{"max_char": 10}, &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_char")

	require.NoError(t, DecodeConfig(nil, &c))
}
