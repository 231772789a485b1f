// Package codescan implements the code_scanner hook: a syntax-tree scan of
// Go source submitted for execution.
package codescan

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/apex/internal/hooks"
)

// Kind is the manifest kind of the scanner hook.
const Kind = "code_scanner"

// PayloadKey is the payload entry holding the source to scan.
const PayloadKey = "code"

// Violation types reported by the scanner.
const (
	ViolationTooLarge      = "code_too_large"
	ViolationLineTooLong   = "line_too_long"
	ViolationTooComplex    = "ast_too_complex"
	ViolationSyntax        = "syntax_error"
	ViolationImport        = "blocked_import"
	ViolationCall          = "blocked_call"
	ViolationIntrospection = "blocked_introspection"
	ViolationSuspicious    = "suspicious_pattern"
)

// Config holds the scanner ceilings and denylists. Calls and introspection
// entries are written as "pkg.Name", where pkg is the last element of the
// import path, or as a bare builtin name.
type Config struct {
	MaxChars             int      `json:"max_chars"`
	MaxLineLength        int      `json:"max_line_length"`
	MaxNodes             int      `json:"max_ast_nodes"`
	BlockedImports       []string `json:"blocked_imports"`
	BlockedCalls         []string `json:"blocked_calls"`
	BlockedIntrospection []string `json:"blocked_introspection"`
	SuspiciousPatterns   []string `json:"suspicious_patterns"`
}

// DefaultConfig returns the built-in ceilings and denylists.
func DefaultConfig() Config {
	return Config{
		MaxChars:      50000,
		MaxLineLength: 1000,
		MaxNodes:      10000,
		BlockedImports: []string{
			"os/exec", "syscall", "unsafe", "net", "plugin", "reflect",
			"runtime/debug", "debug/elf", "golang.org/x/sys",
		},
		BlockedCalls: []string{
			"exec.Command", "exec.CommandContext", "os.StartProcess",
			"syscall.Exec", "syscall.ForkExec", "os.OpenFile", "os.Create",
			"os.Remove", "os.RemoveAll", "os.Setenv", "os.Exit",
			"print", "println",
		},
		BlockedIntrospection: []string{
			"runtime.Callers", "runtime.Caller", "runtime.FuncForPC",
			"runtime.Stack", "runtime.SetFinalizer", "debug.ReadBuildInfo",
			"debug.SetGCPercent", "reflect.ValueOf", "unsafe.Pointer",
		},
		SuspiciousPatterns: []string{"base64", "rot13", "caesar", "xor", "obfuscate"},
	}
}

// Scanner checks Go source against a Config. It is stateless and safe for
// concurrent use.
type Scanner struct {
	cfg           Config
	calls         map[string]bool
	introspection map[string]bool
	guarded       map[string]bool // package names with blocked members
	patterns      []string
}

// New returns a scanner for cfg. Zero ceilings fall back to the defaults.
func New(cfg Config) *Scanner {
	def := DefaultConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = def.MaxLineLength
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = def.MaxNodes
	}

	s := &Scanner{
		cfg:           cfg,
		calls:         toSet(cfg.BlockedCalls),
		introspection: toSet(cfg.BlockedIntrospection),
		guarded:       map[string]bool{},
	}
	for _, set := range []map[string]bool{s.calls, s.introspection} {
		for name := range set {
			if pkg, _, ok := strings.Cut(name, "."); ok {
				s.guarded[pkg] = true
			}
		}
	}
	for _, p := range cfg.SuspiciousPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			s.patterns = append(s.patterns, p)
		}
	}
	return s
}

// Factory builds the hook from manifest config layered over DefaultConfig.
func Factory(config map[string]any) (hooks.Hook, error) {
	cfg := DefaultConfig()
	if err := hooks.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Execute scans payload["code"] and halts on any violation. A payload
// without code passes through.
func (s *Scanner) Execute(_ context.Context, p *hooks.Payload) (*hooks.Payload, error) {
	code, _ := p.String(PayloadKey)
	if code == "" {
		return p, nil
	}
	if vs := s.Scan(code); len(vs) > 0 {
		p.Deny(vs...)
	}
	return p, nil
}

// Scan returns the violations in src in source order. Size ceilings are
// checked before parsing and short-circuit the scan.
func (s *Scanner) Scan(src string) []hooks.Violation {
	if n := utf8.RuneCountInString(src); n > s.cfg.MaxChars {
		return []hooks.Violation{{
			Type:        ViolationTooLarge,
			Severity:    hooks.SeverityHigh,
			Description: fmt.Sprintf("code is %d characters, limit %d", n, s.cfg.MaxChars),
		}}
	}
	for i, line := range strings.Split(src, "\n") {
		if n := utf8.RuneCountInString(line); n > s.cfg.MaxLineLength {
			return []hooks.Violation{{
				Type:        ViolationLineTooLong,
				Severity:    hooks.SeverityMedium,
				Line:        i + 1,
				Description: fmt.Sprintf("line is %d characters, limit %d", n, s.cfg.MaxLineLength),
			}}
		}
	}

	u, err := parse(src)
	if err != nil {
		return []hooks.Violation{syntaxViolation(err, u.offset)}
	}

	nodes := 0
	ast.Inspect(u.file, func(n ast.Node) bool {
		if n != nil {
			nodes++
		}
		return true
	})
	if nodes > s.cfg.MaxNodes {
		return []hooks.Violation{{
			Type:        ViolationTooComplex,
			Severity:    hooks.SeverityMedium,
			Description: fmt.Sprintf("syntax tree has %d nodes, limit %d", nodes, s.cfg.MaxNodes),
		}}
	}

	w := &walker{s: s, unit: u, imports: map[string]string{}, selectors: map[*ast.Ident]bool{}}
	w.scan()
	return w.violations
}

// unit is a parsed file. offset is the number of synthetic lines prepended
// to the submitted source.
type unit struct {
	fset   *token.FileSet
	file   *ast.File
	offset int
}

// parse parses src as a Go file. Snippets without a package clause are
// parsed as package main.
func parse(src string) (unit, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "snippet.go", src, parser.ParseComments|parser.AllErrors)
	if err == nil {
		return unit{fset: fset, file: f}, nil
	}
	if !missingPackageClause(err) {
		return unit{}, err
	}

	fset = token.NewFileSet()
	f, err = parser.ParseFile(fset, "snippet.go", "package main\n"+src, parser.ParseComments|parser.AllErrors)
	return unit{fset: fset, file: f, offset: 1}, err
}

func missingPackageClause(err error) bool {
	var list scanner.ErrorList
	if !errors.As(err, &list) || len(list) == 0 {
		return false
	}
	return strings.Contains(list[0].Msg, "expected 'package'")
}

func syntaxViolation(err error, offset int) hooks.Violation {
	v := hooks.Violation{
		Type:        ViolationSyntax,
		Severity:    hooks.SeverityHigh,
		Description: err.Error(),
	}
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		v.Line = max(list[0].Pos.Line-offset, 0)
		v.Column = list[0].Pos.Column
		v.Description = list[0].Msg
	}
	return v
}

type walker struct {
	s          *Scanner
	unit       unit
	imports    map[string]string // local name -> import path
	dots       []string          // dot-imported paths
	selectors  map[*ast.Ident]bool
	violations []hooks.Violation
}

func (w *walker) scan() {
	for _, spec := range w.unit.file.Imports {
		w.checkImport(spec)
	}
	for _, group := range w.unit.file.Comments {
		for _, c := range group.List {
			if strings.HasPrefix(c.Text, "//go:linkname") {
				w.add(c.Pos(), ViolationIntrospection, hooks.SeverityCritical, "go:linkname directive")
			}
		}
	}

	ast.Inspect(w.unit.file, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ImportSpec:
			return false
		case *ast.CallExpr:
			w.checkCall(n)
		case *ast.SelectorExpr:
			w.selectors[n.Sel] = true
			if name, ok := w.qualified(n); ok {
				w.checkName(n.Pos(), name)
			}
		case *ast.Ident:
			if !w.selectors[n] {
				for _, p := range w.dots {
					w.checkName(n.Pos(), path.Base(p)+"."+n.Name)
				}
			}
		case *ast.BasicLit:
			if n.Kind == token.STRING {
				if lit, err := strconv.Unquote(n.Value); err == nil {
					w.checkSuspicious(n.Pos(), "string literal", lit)
				}
			}
		case *ast.FuncDecl:
			w.checkSuspicious(n.Name.Pos(), "function name", n.Name.Name)
		case *ast.TypeSpec:
			w.checkSuspicious(n.Name.Pos(), "type name", n.Name.Name)
		case *ast.ValueSpec:
			for _, id := range n.Names {
				w.checkSuspicious(id.Pos(), "identifier", id.Name)
			}
		case *ast.AssignStmt:
			if n.Tok == token.DEFINE {
				for _, lhs := range n.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						w.checkSuspicious(id.Pos(), "identifier", id.Name)
					}
				}
			}
		}
		return true
	})
	slices.SortStableFunc(w.violations, func(a, b hooks.Violation) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return a.Column - b.Column
	})
}

func (w *walker) checkImport(spec *ast.ImportSpec) {
	p, err := strconv.Unquote(spec.Path.Value)
	if err != nil {
		return
	}
	local := path.Base(p)
	if spec.Name != nil {
		local = spec.Name.Name
	}
	if local == "." {
		w.dots = append(w.dots, p)
		if w.s.guarded[path.Base(p)] {
			w.add(spec.Pos(), ViolationImport, hooks.SeverityHigh, "dot import of "+p+" hides blocked functions")
			return
		}
	} else {
		w.imports[local] = p
	}

	for _, blocked := range w.s.cfg.BlockedImports {
		if p == blocked || strings.HasPrefix(p, blocked+"/") {
			w.add(spec.Pos(), ViolationImport, hooks.SeverityHigh, "import of blocked package "+p)
			return
		}
	}
}

// checkCall catches builtins. Package functions are matched wherever they
// are referenced, so taking one as a value is caught too.
func (w *walker) checkCall(call *ast.CallExpr) {
	if fn, ok := call.Fun.(*ast.Ident); ok && w.s.calls[fn.Name] {
		w.add(call.Pos(), ViolationCall, hooks.SeverityCritical, "call to blocked function "+fn.Name)
	}
}

func (w *walker) checkName(pos token.Pos, name string) {
	switch {
	case w.s.calls[name]:
		w.add(pos, ViolationCall, hooks.SeverityCritical, "use of blocked function "+name)
	case w.s.introspection[name]:
		w.add(pos, ViolationIntrospection, hooks.SeverityHigh, "reference to "+name)
	}
}

// qualified resolves pkg.Name for a selector on an imported package.
func (w *walker) qualified(sel *ast.SelectorExpr) (string, bool) {
	id, ok := sel.X.(*ast.Ident)
	if !ok {
		return "", false
	}
	p, ok := w.imports[id.Name]
	if !ok {
		return "", false
	}
	return path.Base(p) + "." + sel.Sel.Name, true
}

func (w *walker) checkSuspicious(pos token.Pos, what, text string) {
	lower := strings.ToLower(text)
	for _, p := range w.s.patterns {
		if strings.Contains(lower, p) {
			w.add(pos, ViolationSuspicious, hooks.SeverityMedium, fmt.Sprintf("%s contains %q", what, p))
			return
		}
	}
}

func (w *walker) add(pos token.Pos, typ string, sev hooks.Severity, desc string) {
	position := w.unit.fset.Position(pos)
	w.violations = append(w.violations, hooks.Violation{
		Type:        typ,
		Severity:    sev,
		Line:        max(position.Line-w.unit.offset, 0),
		Column:      position.Column,
		Description: desc,
	})
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.TrimSpace(it)] = true
	}
	return set
}
