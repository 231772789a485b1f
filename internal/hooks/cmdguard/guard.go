// Package cmdguard implements the command_guard hook: a shell command
// filter built on a real shell parser rather than string matching.
package cmdguard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"mvdan.cc/sh/v3/syntax"

	"github.com/roach88/apex/internal/hooks"
)

// Kind is the manifest kind of the guard hook.
const Kind = "command_guard"

// PayloadKey is the payload entry holding the command line.
const PayloadKey = "command"

// Violation types reported by the guard.
const (
	ViolationEmpty         = "empty_command"
	ViolationTooLong       = "command_too_long"
	ViolationSyntax        = "invalid_syntax"
	ViolationBlocked       = "blocked_command"
	ViolationUnauthorized  = "unauthorized_command"
	ViolationChaining      = "command_chaining"
	ViolationRedirection   = "redirection"
	ViolationSubstitution  = "substitution"
	ViolationEnvVariable   = "env_variable"
	ViolationPath          = "unauthorized_path"
	ViolationSensitivePath = "sensitive_path"
)

// Config holds the guard's lists. An empty AllowedCommands disables the
// allowlist; an empty AllowedPaths disables the path allowlist.
//
// BlockedArguments maps a command name to options that make it run other
// programs or write files. An option matches exactly, with an attached
// "=value", or, for single-letter options, with an attached value.
type Config struct {
	MaxLength        int                 `json:"max_length"`
	BlockedCommands  []string            `json:"blocked_commands"`
	AllowedCommands  []string            `json:"allowed_commands"`
	BlockedArguments map[string][]string `json:"blocked_arguments"`
	AllowedPaths    []string `json:"allowed_paths"`
	SensitivePaths  []string `json:"sensitive_paths"`
	WorkDir         string   `json:"work_dir"`
	ResolveSymlinks bool     `json:"resolve_symlinks"`
}

// DefaultConfig returns the built-in lists.
func DefaultConfig() Config {
	return Config{
		MaxLength: 1000,
		BlockedCommands: []string{
			"rm", "rmdir", "mv", "cp", "chmod", "chown", "chgrp", "dd", "mkfs",
			"mount", "umount", "reboot", "shutdown", "halt", "poweroff",
			"systemctl", "service", "passwd", "useradd", "usermod", "userdel",
			"su", "sudo", "doas", "pkexec", "iptables", "crontab", "nohup",
			"screen", "tmux", "wget", "curl", "nc", "netcat", "telnet", "ssh",
			"scp", "rsync", "python", "python3", "perl", "ruby", "node", "npm",
			"pip", "gcc", "make", "go", "java", "docker", "kubectl", "git",
			"eval", "exec", "source", "env", "xargs",
		},
		AllowedCommands: []string{
			"cat", "echo", "grep", "head", "ls", "pwd", "rg", "sed",
			"stat", "tail", "wc", "which", "printf", "sort", "uniq", "cut",
			"tr", "date", "whoami", "uname", "df", "du",
		},
		BlockedArguments: map[string][]string{
			"find": {
				"-exec", "-execdir", "-ok", "-okdir", "-delete",
				"-fprint", "-fprint0", "-fprintf", "-fls",
			},
			"sed":  {"--in-place", "--file"},
			"rg":   {"--pre"},
			"sort": {"--compress-program", "--output", "-o"},
		},
		AllowedPaths: []string{"/workspace", "/tmp"},
		SensitivePaths: []string{
			"/etc", "/proc", "/sys", "/dev", "/boot", "/root", "/var/log",
			"/var/spool", "~/.ssh", "~/.gnupg", "~/.aws", "~/.config",
		},
		WorkDir: "/workspace",
	}
}

// Guard filters shell commands. It is stateless and safe for concurrent
// use.
type Guard struct {
	cfg       Config
	blocked   map[string]bool
	allowed   map[string]bool
	arguments map[string][]string
	paths     []string
	sensitive []string
}

// New returns a guard for cfg.
func New(cfg Config) *Guard {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/"
	}
	g := &Guard{
		cfg:       cfg,
		blocked:   toSet(cfg.BlockedCommands),
		allowed:   toSet(cfg.AllowedCommands),
		arguments: cfg.BlockedArguments,
	}
	for _, p := range cfg.AllowedPaths {
		g.paths = append(g.paths, cleanPath(p))
	}
	for _, p := range cfg.SensitivePaths {
		g.sensitive = append(g.sensitive, cleanPath(p))
	}
	return g
}

// Factory builds the hook from manifest config layered over DefaultConfig.
func Factory(config map[string]any) (hooks.Hook, error) {
	cfg := DefaultConfig()
	if err := hooks.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Execute checks payload["command"] and halts on any violation. A missing
// or blank command is itself a violation.
func (g *Guard) Execute(_ context.Context, p *hooks.Payload) (*hooks.Payload, error) {
	cmd, _ := p.String(PayloadKey)
	if vs := g.Check(cmd); len(vs) > 0 {
		p.Deny(vs...)
	}
	return p, nil
}

// Check returns every violation in cmd, deduplicated, in source order.
func (g *Guard) Check(cmd string) []hooks.Violation {
	if n := utf8.RuneCountInString(cmd); n > g.cfg.MaxLength {
		return []hooks.Violation{{
			Type:        ViolationTooLong,
			Severity:    hooks.SeverityMedium,
			Description: fmt.Sprintf("command is %d characters, limit %d", n, g.cfg.MaxLength),
		}}
	}
	if strings.TrimSpace(cmd) == "" {
		return []hooks.Violation{emptyViolation()}
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		v := hooks.Violation{Type: ViolationSyntax, Severity: hooks.SeverityHigh, Description: err.Error()}
		var pe syntax.ParseError
		if errors.As(err, &pe) {
			v.Line, v.Column = int(pe.Pos.Line()), int(pe.Pos.Col())
			v.Description = pe.Text
		}
		return []hooks.Violation{v}
	}
	if len(file.Stmts) == 0 {
		return []hooks.Violation{emptyViolation()}
	}

	c := &checker{g: g, seen: map[string]bool{}}
	if len(file.Stmts) > 1 {
		c.add(file.Stmts[1].Pos(), ViolationChaining, hooks.SeverityCritical, "multiple statements")
	}
	syntax.Walk(file, c.visit)
	return c.violations
}

func emptyViolation() hooks.Violation {
	return hooks.Violation{Type: ViolationEmpty, Severity: hooks.SeverityLow, Description: "empty command"}
}

type checker struct {
	g          *Guard
	seen       map[string]bool
	violations []hooks.Violation
}

func (c *checker) visit(node syntax.Node) bool {
	switch n := node.(type) {
	case *syntax.Stmt:
		if n.Background {
			c.add(n.Pos(), ViolationChaining, hooks.SeverityCritical, "background execution with &")
		}
		if n.Coprocess {
			c.add(n.Pos(), ViolationChaining, hooks.SeverityCritical, "coprocess")
		}
		for _, r := range n.Redirs {
			c.add(r.OpPos, ViolationRedirection, hooks.SeverityMedium, "redirection "+r.Op.String())
		}
	case *syntax.BinaryCmd:
		c.add(n.OpPos, ViolationChaining, hooks.SeverityCritical, "operator "+n.Op.String())
	case *syntax.Subshell, *syntax.Block, *syntax.IfClause, *syntax.WhileClause,
		*syntax.ForClause, *syntax.CaseClause, *syntax.FuncDecl, *syntax.ArithmCmd,
		*syntax.TestClause, *syntax.LetClause, *syntax.TimeClause:
		c.add(n.Pos(), ViolationChaining, hooks.SeverityCritical, "compound command")
	case *syntax.CmdSubst:
		c.add(n.Pos(), ViolationSubstitution, hooks.SeverityCritical, "command substitution")
	case *syntax.ProcSubst:
		c.add(n.Pos(), ViolationSubstitution, hooks.SeverityCritical, "process substitution")
	case *syntax.ArithmExp:
		c.add(n.Pos(), ViolationSubstitution, hooks.SeverityCritical, "arithmetic expansion")
	case *syntax.ParamExp:
		c.add(n.Pos(), ViolationEnvVariable, hooks.SeverityMedium, "parameter expansion")
	case *syntax.Assign:
		c.add(n.Pos(), ViolationEnvVariable, hooks.SeverityMedium, "variable assignment")
	case *syntax.DeclClause:
		c.add(n.Pos(), ViolationEnvVariable, hooks.SeverityMedium, "declaration "+n.Variant.Value)
	case *syntax.CallExpr:
		c.checkCall(n)
	}
	return true
}

func (c *checker) checkCall(call *syntax.CallExpr) {
	if len(call.Args) == 0 {
		return
	}
	var scripts map[*syntax.Word]bool
	if name, ok := literal(call.Args[0]); ok {
		base := path.Base(name)
		switch {
		case c.g.blocked[base]:
			c.add(call.Args[0].Pos(), ViolationBlocked, hooks.SeverityHigh, "blocked command "+base)
		case len(c.g.allowed) > 0 && !c.g.allowed[base]:
			c.add(call.Args[0].Pos(), ViolationUnauthorized, hooks.SeverityMedium, "command "+base+" is not allowed")
		}
		scripts = c.checkArguments(base, call.Args[1:])
	}

	for _, arg := range call.Args[1:] {
		if scripts[arg] {
			continue
		}
		value, ok := literal(arg)
		if !ok {
			continue
		}
		if i := strings.IndexByte(value, '='); strings.HasPrefix(value, "-") && i >= 0 {
			value = value[i+1:]
		}
		if !pathLike(value) {
			continue
		}
		c.checkPath(arg.Pos(), value)
	}
}

// checkArguments reports denied options of cmd. It returns the words that
// are program text rather than paths.
func (c *checker) checkArguments(cmd string, args []*syntax.Word) map[*syntax.Word]bool {
	if denied := c.g.arguments[cmd]; len(denied) > 0 {
		for _, arg := range args {
			value, ok := literal(arg)
			if !ok {
				continue
			}
			for _, opt := range denied {
				if matchOption(value, opt) {
					c.add(arg.Pos(), ViolationBlocked, hooks.SeverityHigh, fmt.Sprintf("%s option %s", cmd, opt))
					break
				}
			}
		}
	}
	if cmd == "sed" {
		return c.checkSed(args)
	}
	return nil
}

func matchOption(arg, opt string) bool {
	if arg == opt || strings.HasPrefix(arg, opt+"=") {
		return true
	}
	return len(opt) == 2 && opt[0] == '-' && opt[1] != '-' && strings.HasPrefix(arg, opt)
}

// checkSed flags in-place editing, script files, and scripts that run
// commands or touch files other than the inputs.
func (c *checker) checkSed(args []*syntax.Word) map[*syntax.Word]bool {
	type script struct {
		word  *syntax.Word
		value string
	}
	var (
		scripts    []script
		positional []script
		explicit   bool
	)
	for i := 0; i < len(args); i++ {
		v, ok := literal(args[i])
		if !ok {
			continue
		}
		pos := args[i].Pos()
		switch {
		case strings.HasPrefix(v, "--expression="):
			scripts = append(scripts, script{args[i], strings.TrimPrefix(v, "--expression=")})
			explicit = true
		case v == "--expression":
			explicit = true
			if i+1 < len(args) {
				i++
				if next, ok := literal(args[i]); ok {
					scripts = append(scripts, script{args[i], next})
				}
			}
		case strings.HasPrefix(v, "--"), v == "-":
		case strings.HasPrefix(v, "-"):
			flags := v[1:]
		cluster:
			for j := 0; j < len(flags); j++ {
				rest := flags[j+1:]
				switch flags[j] {
				case 'i':
					c.add(pos, ViolationBlocked, hooks.SeverityHigh, "sed in-place edit")
					break cluster
				case 'f':
					c.add(pos, ViolationBlocked, hooks.SeverityHigh, "sed script file")
					explicit = true
					if rest == "" {
						i++
					}
					break cluster
				case 'e':
					explicit = true
					if rest != "" {
						scripts = append(scripts, script{args[i], rest})
					} else if i+1 < len(args) {
						i++
						if next, ok := literal(args[i]); ok {
							scripts = append(scripts, script{args[i], next})
						}
					}
					break cluster
				case 'l':
					if rest == "" {
						i++
					}
					break cluster
				}
			}
		default:
			positional = append(positional, script{args[i], v})
		}
	}
	if !explicit && len(positional) > 0 {
		scripts = append(scripts, positional[0])
	}
	words := make(map[*syntax.Word]bool, len(scripts))
	for _, s := range scripts {
		words[s.word] = true
		if sedEscapes(s.value) {
			c.add(s.word.Pos(), ViolationBlocked, hooks.SeverityHigh, "sed script runs commands or accesses files")
		}
	}
	return words
}

// sedEscapes reports whether a sed script uses e, r, R, w or W, or the e or
// w flag of s. Splitting on ";" inside a regexp can only add findings.
func sedEscapes(script string) bool {
	cmds := strings.FieldsFunc(script, func(r rune) bool { return r == ';' || r == '\n' })
	for _, cmd := range cmds {
		cmd = stripSedAddress(cmd)
		if cmd == "" {
			continue
		}
		switch cmd[0] {
		case 'e', 'r', 'R', 'w', 'W':
			return true
		case 's':
			if strings.ContainsAny(sedSubstFlags(cmd), "ew") {
				return true
			}
		}
	}
	return false
}

func stripSedAddress(cmd string) string {
	for cmd != "" {
		switch ch := cmd[0]; {
		case ch >= '0' && ch <= '9', strings.IndexByte(" \t,$~+!{}", ch) >= 0:
			cmd = cmd[1:]
		case ch == '/':
			end := closingDelim(cmd[1:], '/')
			if end < 0 {
				return ""
			}
			cmd = strings.TrimLeft(cmd[end+2:], "IM")
		case ch == '\\':
			if len(cmd) < 2 {
				return ""
			}
			end := closingDelim(cmd[2:], cmd[1])
			if end < 0 {
				return ""
			}
			cmd = strings.TrimLeft(cmd[end+3:], "IM")
		default:
			return cmd
		}
	}
	return cmd
}

// sedSubstFlags returns the flags of an s command, or "" if it is
// malformed.
func sedSubstFlags(cmd string) string {
	if len(cmd) < 2 {
		return ""
	}
	delim := cmd[1]
	rest := cmd[2:]
	for range 2 {
		end := closingDelim(rest, delim)
		if end < 0 {
			return ""
		}
		rest = rest[end+1:]
	}
	return rest
}

func closingDelim(s string, delim byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == delim {
			return i
		}
	}
	return -1
}

func (c *checker) checkPath(pos syntax.Pos, raw string) {
	resolved := c.g.resolve(raw)
	for _, s := range c.g.sensitive {
		if hasPathPrefix(s, resolved) {
			c.add(pos, ViolationSensitivePath, hooks.SeverityHigh, "sensitive path "+raw)
			return
		}
	}
	if len(c.g.paths) == 0 {
		return
	}
	for _, allowed := range c.g.paths {
		if hasPathPrefix(allowed, resolved) {
			return
		}
	}
	c.add(pos, ViolationPath, hooks.SeverityMedium, "path "+raw+" is outside the allowed prefixes")
}

func (c *checker) add(pos syntax.Pos, typ string, sev hooks.Severity, desc string) {
	key := typ + "\x00" + desc
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.violations = append(c.violations, hooks.Violation{
		Type:        typ,
		Severity:    sev,
		Line:        int(pos.Line()),
		Column:      int(pos.Col()),
		Description: desc,
	})
}

// resolve cleans raw against the working directory. Home-relative paths
// keep their "~" root so they compare against "~/..." prefixes.
func (g *Guard) resolve(raw string) string {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		return cleanPath(raw)
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.cfg.WorkDir, p)
	}
	p = filepath.Clean(p)
	if g.cfg.ResolveSymlinks {
		if resolved, err := resolveExistingPrefix(p); err == nil {
			p = resolved
		}
	}
	return p
}

// literal returns the static value of a word made only of literal and
// quoted parts.
func literal(w *syntax.Word) (string, bool) {
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", false
				}
				b.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return b.String(), true
}

func pathLike(s string) bool {
	return strings.Contains(s, "/") || s == "~" || s == "." || s == ".."
}

func cleanPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		return "~/" + strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "~")), "/")
	}
	return filepath.Clean(p)
}

func resolveExistingPrefix(p string) (string, error) {
	current := p
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			rel, relErr := filepath.Rel(current, p)
			if relErr != nil {
				return "", relErr
			}
			return filepath.Clean(filepath.Join(resolved, rel)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return filepath.Clean(p), nil
}

func hasPathPrefix(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			set[it] = true
		}
	}
	return set
}
