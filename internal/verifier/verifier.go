package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/ledger"
)

// DefaultTimeout bounds a single Verify call.
const DefaultTimeout = 30 * time.Second

// Epsilon is the tolerance for equality goals. Inequalities are exact.
var Epsilon = decimal.New(1, -9)

// Pseudo-theorems recorded by VerifyAllInvariants alongside the
// formula-backed ones.
const (
	CheckChecksum    = "checksum_integrity"
	CheckTotalSupply = "total_supply"
)

// Bindings maps theorem variables to values.
type Bindings map[string]decimal.Decimal

// Result is the outcome of one verification.
type Result struct {
	Theorem      string      `json:"theorem"`
	Valid        bool        `json:"is_valid"`
	Reasoning    string      `json:"reasoning"`
	ErrorDetails string      `json:"error_details,omitempty"`
	Backend      string      `json:"backend"`
	Kind         faults.Kind `json:"kind,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Sink receives every Result. The audit store implements it.
type Sink interface {
	RecordVerification(ctx context.Context, r Result) error
}

// Verifier proves the built-in theorems. Safe for concurrent use.
type Verifier struct {
	theorems map[string]*Theorem
	order    []string
	backend  Backend
	timeout  time.Duration
	eps      *big.Rat
	clock    ledger.Clock
	sink     Sink
	logger   *slog.Logger

	mu  sync.Mutex
	log []Result
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithBackend(b Backend) Option {
	return func(v *Verifier) { v.backend = b }
}

// WithTimeout bounds each Verify call. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithSink(s Sink) Option {
	return func(v *Verifier) { v.sink = s }
}

func WithClock(c ledger.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New compiles the built-in theorems.
func New(opts ...Option) (*Verifier, error) {
	v := &Verifier{
		theorems: map[string]*Theorem{},
		backend:  SymbolicBackend{},
		timeout:  DefaultTimeout,
		eps:      Epsilon.Rat(),
		clock:    ledger.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, def := range builtinTheorems {
		th, err := compileTheorem(def)
		if err != nil {
			return nil, fmt.Errorf("verifier: %w", err)
		}
		v.theorems[def.Key] = th
		v.order = append(v.order, def.Key)
	}
	return v, nil
}

// Backend returns the name of the active backend.
func (v *Verifier) Backend() string {
	return v.backend.Name()
}

// Theorems returns the theorem definitions in registration order.
func (v *Verifier) Theorems() []TheoremDef {
	defs := make([]TheoremDef, len(v.order))
	for i, k := range v.order {
		defs[i] = v.theorems[k].TheoremDef
	}
	return defs
}

// Verify proves one theorem. An unknown theorem, an unknown variable, a
// backend fault or a timeout produce an invalid Result; Verify never
// returns an error.
func (v *Verifier) Verify(ctx context.Context, theorem string, b Bindings) Result {
	r := v.prove(ctx, theorem, b)
	v.record(ctx, r)
	return r
}

func (v *Verifier) prove(ctx context.Context, theorem string, b Bindings) Result {
	r := Result{Theorem: theorem, Backend: v.backend.Name(), Timestamp: v.clock.Now().UTC()}

	th, ok := v.theorems[theorem]
	if !ok {
		r.Reasoning = fmt.Sprintf("unknown theorem %q", theorem)
		r.ErrorDetails = "known theorems: " + strings.Join(v.order, ", ")
		r.Kind = faults.KindViolation
		return r
	}

	values := make(map[string]*big.Rat, len(b))
	for _, name := range sortedNames(b) {
		if !slices.Contains(th.Variables, name) {
			r.Reasoning = fmt.Sprintf("variable %q is not part of theorem %s", name, theorem)
			r.ErrorDetails = "variables: " + strings.Join(th.Variables, ", ")
			r.Kind = faults.KindViolation
			return r
		}
		values[name] = b[name].Rat()
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	out, err := v.backend.Prove(ctx, th, values, v.eps)
	if err != nil {
		r.Reasoning = "verification backend failed"
		r.ErrorDetails = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			r.Reasoning = fmt.Sprintf("verification timed out after %s", v.timeout)
		}
		r.Kind = faults.KindSolver
		return r
	}

	r.Valid = out.Valid
	r.Reasoning = out.Reasoning
	r.ErrorDetails = out.Details
	if !out.Valid {
		r.Kind = faults.KindViolation
	}
	return r
}

func (v *Verifier) record(ctx context.Context, r Result) {
	v.mu.Lock()
	v.log = append(v.log, r)
	v.mu.Unlock()

	if !r.Valid {
		v.logger.Warn("invariant not proved", "theorem", r.Theorem, "reasoning", r.Reasoning, "details", r.ErrorDetails)
	} else {
		v.logger.Debug("invariant proved", "theorem", r.Theorem, "backend", r.Backend)
	}

	if v.sink != nil {
		if err := v.sink.RecordVerification(ctx, r); err != nil {
			v.logger.Error("recording verification failed", "theorem", r.Theorem, "error", err)
		}
	}
}

func sortedNames(b Bindings) []string {
	names := make([]string, 0, len(b))
	for k := range b {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Request names one theorem and its bindings for VerifyBatch.
type Request struct {
	Theorem  string   `json:"theorem" yaml:"theorem"`
	Bindings Bindings `json:"bindings" yaml:"bindings"`
}

// VerifyBatch proves every request concurrently. Results are in request
// order.
func (v *Verifier) VerifyBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = v.Verify(gctx, req.Theorem, req.Bindings)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Log returns a copy of every Result recorded so far.
func (v *Verifier) Log() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.log)
}

// ClearLog discards the in-memory log. The Sink is unaffected.
func (v *Verifier) ClearLog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.log = nil
}

// ExportRecord is one entry of the flat audit export.
type ExportRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Theorem      string    `json:"theorem"`
	Valid        bool      `json:"is_valid"`
	Reasoning    string    `json:"reasoning"`
	ErrorDetails string    `json:"error_details"`
}

// Export converts results to the flat export format.
func Export(results []Result) []ExportRecord {
	out := make([]ExportRecord, len(results))
	for i, r := range results {
		out[i] = ExportRecord{
			Timestamp:    r.Timestamp,
			Theorem:      r.Theorem,
			Valid:        r.Valid,
			Reasoning:    r.Reasoning,
			ErrorDetails: r.ErrorDetails,
		}
	}
	return out
}

// ExportLog writes the log as a JSON list of ExportRecord.
func (v *Verifier) ExportLog(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Export(v.Log()))
}

// TheoremStats counts results for one theorem.
type TheoremStats struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summary aggregates the log.
type Summary struct {
	Backend   string                  `json:"backend"`
	Total     int                     `json:"total"`
	Passed    int                     `json:"passed"`
	Failed    int                     `json:"failed"`
	PassRate  decimal.Decimal         `json:"pass_rate"`
	ByTheorem map[string]TheoremStats `json:"by_theorem"`
}

// Summary returns totals and a per-theorem breakdown. PassRate is a
// percentage rounded to two places; zero when the log is empty.
func (v *Verifier) Summary() Summary {
	s := Summary{Backend: v.backend.Name(), ByTheorem: map[string]TheoremStats{}}
	for _, r := range v.Log() {
		st := s.ByTheorem[r.Theorem]
		st.Total++
		s.Total++
		if r.Valid {
			st.Passed++
			s.Passed++
		} else {
			st.Failed++
			s.Failed++
		}
		s.ByTheorem[r.Theorem] = st
	}
	if s.Total > 0 {
		s.PassRate = decimal.NewFromInt(int64(s.Passed)).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(int64(s.Total)), 2)
	}
	return s
}
