package codescan

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apex/internal/hooks"
)

func types(vs []hooks.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Type
	}
	return out
}

func TestScanCleanSource(t *testing.T) {
	src := `package main

import (
	"fmt"
	"strings"
)

func main() {
	total := 0
	for _, w := range strings.Fields("a b c") {
		total += len(w)
	}
	fmt.Println(total)
}
`
	assert.Empty(t, New(DefaultConfig()).Scan(src))
}

func TestScanSnippetWithoutPackageClause(t *testing.T) {
	src := "import \"os/exec\"\n\nfunc run() { exec.Command(\"ls\").Run() }\n"
	vs := New(DefaultConfig()).Scan(src)

	require.Equal(t, []string{ViolationImport, ViolationCall}, types(vs))
	assert.Equal(t, 1, vs[0].Line)
	assert.Equal(t, 3, vs[1].Line)
}

func TestScanViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "blocked import",
			src:  "package p\nimport \"syscall\"\nvar _ = syscall.Getpid\n",
			want: []string{ViolationImport},
		},
		{
			name: "blocked subpackage import",
			src:  "package p\nimport \"net/http\"\nvar _ = http.Get\n",
			want: []string{ViolationImport},
		},
		{
			name: "renamed import still resolved",
			src:  "package p\nimport run \"os/exec\"\nfunc f() { run.Command(\"id\") }\n",
			want: []string{ViolationImport, ViolationCall},
		},
		{
			name: "blocked os call",
			src:  "package p\nimport \"os\"\nfunc f() { os.RemoveAll(\"/\") }\n",
			want: []string{ViolationCall},
		},
		{
			name: "blocked function taken as a value",
			src:  "package p\nimport \"os\"\nfunc f() { g := os.RemoveAll; g(\"/\") }\n",
			want: []string{ViolationCall},
		},
		{
			name: "blocked function in a table",
			src:  "package p\nimport \"os\"\nvar ops = map[string]func(string) error{\"rm\": os.Remove}\n",
			want: []string{ViolationCall},
		},
		{
			name: "dot import of guarded package",
			src:  "package p\nimport . \"os\"\nfunc f() { RemoveAll(\"/\") }\n",
			want: []string{ViolationImport, ViolationCall},
		},
		{
			name: "dot import of unguarded package",
			src:  "package p\nimport . \"strings\"\nvar _ = ToUpper(\"x\")\n",
			want: []string{},
		},
		{
			name: "builtin print",
			src:  "package p\nfunc f() { println(\"hi\") }\n",
			want: []string{ViolationCall},
		},
		{
			name: "introspection",
			src:  "package p\nimport \"runtime\"\nfunc f() { runtime.FuncForPC(0) }\n",
			want: []string{ViolationIntrospection},
		},
		{
			name: "linkname directive",
			src:  "package p\n\n//go:linkname now runtime.nanotime\nfunc now() int64\n",
			want: []string{ViolationIntrospection},
		},
		{
			name: "suspicious literal",
			src:  "package p\nvar payload = \"decode with ROT13 first\"\n",
			want: []string{ViolationSuspicious},
		},
		{
			name: "suspicious function name",
			src:  "package p\nfunc xorBytes(b []byte) {}\n",
			want: []string{ViolationSuspicious},
		},
		{
			name: "method on local value is not a package call",
			src:  "package p\ntype os struct{}\nfunc (os) Exit() {}\nfunc f() { var o os; o.Exit() }\n",
			want: []string{},
		},
	}

	s := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types(s.Scan(tt.src)))
		})
	}
}

func TestScanDotImportSnippet(t *testing.T) {
	vs := New(DefaultConfig()).Scan("import . \"os\"\nfunc main() { RemoveAll(\"/\") }\n")

	require.Equal(t, []string{ViolationImport, ViolationCall}, types(vs))
	assert.Equal(t, 1, vs[0].Line)
	assert.Equal(t, 2, vs[1].Line)
	assert.Equal(t, "use of blocked function os.RemoveAll", vs[1].Description)
}

func TestScanSyntaxError(t *testing.T) {
	vs := New(DefaultConfig()).Scan("package p\nfunc f( {\n")
	require.Len(t, vs, 1)
	assert.Equal(t, ViolationSyntax, vs[0].Type)
	assert.Equal(t, 2, vs[0].Line)
	assert.Equal(t, hooks.SeverityHigh, vs[0].Severity)
}

func TestScanCeilings(t *testing.T) {
	t.Run("characters", func(t *testing.T) {
		s := New(Config{MaxChars: 10})
		vs := s.Scan("package main\n")
		require.Equal(t, []string{ViolationTooLarge}, types(vs))
	})

	t.Run("line length", func(t *testing.T) {
		s := New(Config{MaxLineLength: 20})
		vs := s.Scan("package p\n\nvar x = \"" + strings.Repeat("a", 30) + "\"\n")
		require.Equal(t, []string{ViolationLineTooLong}, types(vs))
		assert.Equal(t, 3, vs[0].Line)
	})

	t.Run("nodes", func(t *testing.T) {
		s := New(Config{MaxNodes: 5})
		vs := s.Scan("package p\nfunc f() int { return 1 + 2 + 3 + 4 }\n")
		require.Equal(t, []string{ViolationTooComplex}, types(vs))
	})
}

func TestExecuteHaltsOnViolation(t *testing.T) {
	h, err := Factory(map[string]any{"blocked_imports": []any{"strings"}})
	require.NoError(t, err)

	p := hooks.NewPayload(map[string]any{"code": "package p\nimport \"strings\"\nvar _ = strings.ToUpper\n"})
	out, err := h.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, out.Halt)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, ViolationImport, out.Violations[0].Type)

	// os/exec is no longer blocked once the list is overridden.
	p = hooks.NewPayload(map[string]any{"code": "package p\nimport \"os/exec\"\nvar _ = exec.LookPath\n"})
	out, err = h.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, out.Halt)
}

func TestExecuteWithoutCodePassesThrough(t *testing.T) {
	out, err := New(DefaultConfig()).Execute(context.Background(), hooks.NewPayload(map[string]any{"prompt": "x"}))
	require.NoError(t, err)
	assert.False(t, out.Halt)
	assert.Empty(t, out.Violations)
}

func TestFactoryRejectsUnknownKeys(t *testing.T) {
	_, err := Factory(map[string]any{"max_nodes": 3})
	require.Error(t, err)
}
