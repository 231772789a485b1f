// Package outguard implements the output_guard hook, which bounds and
// scrubs tool output before it is returned to the agent.
package outguard

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/roach88/apex/internal/hooks"
)

// Kind is the manifest kind of the output hook.
const Kind = "output_guard"

// PayloadKey is the payload entry holding tool output.
const PayloadKey = "output"

// TruncatedKey is set to true when the output was cut.
const TruncatedKey = "output_truncated"

// Violation types reported by the hook.
const (
	ViolationSecret    = "redacted_secret"
	ViolationTruncated = "output_truncated"
)

type Config struct {
	MaxOutputBytes int      `json:"max_output_bytes"`
	SecretPatterns []string `json:"secret_patterns"`
	Replacement    string   `json:"replacement"`
	HaltOnSecret   bool     `json:"halt_on_secret"`
}

func DefaultConfig() Config {
	return Config{
		MaxOutputBytes: 64 << 10,
		SecretPatterns: []string{
			`AKIA[0-9A-Z]{16}`,
			`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
			`gh[pousr]_[A-Za-z0-9]{36}`,
			`xox[abprs]-[A-Za-z0-9-]{10,}`,
			`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
		},
		Replacement: "[REDACTED]",
	}
}

// Guard is the output hook.
type Guard struct {
	cfg      Config
	patterns []*regexp.Regexp
}

// New compiles the secret patterns in cfg.
func New(cfg Config) (*Guard, error) {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	if cfg.Replacement == "" {
		cfg.Replacement = DefaultConfig().Replacement
	}
	g := &Guard{cfg: cfg}
	for _, src := range cfg.SecretPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("secret pattern %q: %w", src, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// Factory builds the hook from manifest config layered over DefaultConfig.
func Factory(config map[string]any) (hooks.Hook, error) {
	cfg := DefaultConfig()
	if err := hooks.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// Execute redacts secrets in payload["output"], then truncates it. Secrets
// are redacted before truncation so a cut never leaves a partial match.
func (g *Guard) Execute(_ context.Context, p *hooks.Payload) (*hooks.Payload, error) {
	out, ok := p.String(PayloadKey)
	if !ok {
		return p, nil
	}

	secrets := false
	for _, re := range g.patterns {
		n := len(re.FindAllStringIndex(out, -1))
		if n == 0 {
			continue
		}
		secrets = true
		out = re.ReplaceAllLiteralString(out, g.cfg.Replacement)
		p.Flag(hooks.Violation{
			Type:        ViolationSecret,
			Severity:    hooks.SeverityLow,
			Description: fmt.Sprintf("redacted %d match(es) of %s", n, re),
		})
	}

	if len(out) > g.cfg.MaxOutputBytes {
		cut := truncate(out, g.cfg.MaxOutputBytes)
		p.Flag(hooks.Violation{
			Type:        ViolationTruncated,
			Severity:    hooks.SeverityLow,
			Description: fmt.Sprintf("output cut from %d to %d bytes", len(out), len(cut)),
		})
		out = cut
		p.Set(TruncatedKey, true)
	}

	p.Set(PayloadKey, out)
	if secrets && g.cfg.HaltOnSecret {
		p.Halt = true
	}
	return p, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
