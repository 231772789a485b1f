package verifier

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Backend names accepted by New and the verifier.backend config key.
const (
	BackendSymbolic   = "symbolic"
	BackendArithmetic = "arithmetic"
)

// Outcome is a backend's verdict on one theorem.
type Outcome struct {
	Valid     bool
	Reasoning string
	Details   string
}

// Backend proves a theorem for a set of variable values. values may leave
// variables unbound; how that is treated is backend-specific. A returned
// error is an internal fault (including context expiry), never a verdict.
type Backend interface {
	Name() string
	Prove(ctx context.Context, th *Theorem, values map[string]*big.Rat, eps *big.Rat) (Outcome, error)
}

// NewBackend returns the backend registered under name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case BackendSymbolic, "":
		return SymbolicBackend{}, nil
	case BackendArithmetic:
		return ArithmeticBackend{}, nil
	}
	return nil, fmt.Errorf("unknown verifier backend %q", name)
}

func holds(v *big.Rat, op Op, eps *big.Rat) bool {
	switch op {
	case OpEQ:
		return new(big.Rat).Abs(v).Cmp(eps) <= 0
	case OpGE:
		return v.Sign() >= 0
	case OpGT:
		return v.Sign() > 0
	}
	return false
}

func formatRat(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := strings.TrimRight(r.FloatString(12), "0")
	return strings.TrimSuffix(s, ".")
}

// SymbolicBackend is an exact linear-arithmetic prover over the rationals.
//
// Constraints and bindings form a system of linear equalities, reduced by
// Gauss-Jordan elimination. The goal is rewritten over the variables left
// free. It holds for every solution iff no free variable remains in it and
// its constant satisfies the comparison; otherwise a free variable can be
// pushed to violate it, so the negated goal is satisfiable.
type SymbolicBackend struct{}

func (SymbolicBackend) Name() string { return BackendSymbolic }

func (SymbolicBackend) Prove(ctx context.Context, th *Theorem, values map[string]*big.Rat, eps *big.Rat) (Outcome, error) {
	type row struct {
		src  string
		expr linear
	}
	rows := make([]row, 0, len(th.constraints)+len(values))
	for _, c := range th.constraints {
		rows = append(rows, row{src: c.src, expr: c.expr})
	}
	for _, v := range th.Variables {
		x, ok := values[v]
		if !ok {
			continue
		}
		binding := variable(v)
		binding.c.Neg(x)
		rows = append(rows, row{src: fmt.Sprintf("%s = %s", v, formatRat(x)), expr: binding})
	}

	// pivots[v] expresses v in terms of free variables only.
	pivots := map[string]linear{}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		reduced := substituteAll(r.expr, pivots)
		if reduced.isConstant() {
			if reduced.c.Sign() != 0 {
				return Outcome{
					Valid:     false,
					Reasoning: "bindings contradict the theorem's constraints",
					Details:   fmt.Sprintf("%s leaves residual %s", r.src, formatRat(reduced.c)),
				}, nil
			}
			continue
		}

		p := pickPivot(reduced, th.Variables)
		k := new(big.Rat).Set(reduced.coef[p])
		rest := reduced.clone()
		delete(rest.coef, p)
		solved := rest.scale(new(big.Rat).Neg(new(big.Rat).Inv(k)))

		for q, e := range pivots {
			pivots[q] = substitute(e, p, solved)
		}
		pivots[p] = solved
	}

	goal := substituteAll(th.goal.expr, pivots)
	if !goal.isConstant() {
		return Outcome{
			Valid:     false,
			Reasoning: fmt.Sprintf("%q does not follow: it depends on unconstrained %s", th.Goal, strings.Join(goal.vars(), ", ")),
		}, nil
	}
	if !holds(goal.c, th.goal.op, eps) {
		return Outcome{
			Valid:     false,
			Reasoning: fmt.Sprintf("%q is violated: left minus right is %s", th.Goal, formatRat(goal.c)),
		}, nil
	}
	return Outcome{
		Valid:     true,
		Reasoning: fmt.Sprintf("proved %q: its negation is unsatisfiable", th.Goal),
	}, nil
}

func pickPivot(l linear, order []string) string {
	for _, v := range order {
		if _, ok := l.coef[v]; ok {
			return v
		}
	}
	return l.vars()[0]
}

// substitute replaces variable p in e with expr.
func substitute(e linear, p string, expr linear) linear {
	c, ok := e.coef[p]
	if !ok {
		return e
	}
	out := e.clone()
	delete(out.coef, p)
	return out.addScaled(expr, c)
}

func substituteAll(e linear, pivots map[string]linear) linear {
	out := e.clone()
	for _, v := range e.vars() {
		if expr, ok := pivots[v]; ok {
			out = substitute(out, v, expr)
		}
	}
	return out
}

// ArithmeticBackend evaluates the theorem at the supplied point. Every
// declared variable must be bound.
type ArithmeticBackend struct{}

func (ArithmeticBackend) Name() string { return BackendArithmetic }

func (ArithmeticBackend) Prove(ctx context.Context, th *Theorem, values map[string]*big.Rat, eps *big.Rat) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	var missing []string
	for _, v := range th.Variables {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return Outcome{
			Valid:     false,
			Reasoning: "arithmetic backend requires every variable to be bound",
			Details:   "unbound: " + strings.Join(missing, ", "),
		}, nil
	}

	for _, c := range th.constraints {
		v, _ := c.expr.eval(values)
		if v.Sign() != 0 {
			return Outcome{
				Valid:     false,
				Reasoning: "bindings contradict the theorem's constraints",
				Details:   fmt.Sprintf("%s is off by %s", c.src, formatRat(v)),
			}, nil
		}
	}

	v, _ := th.goal.expr.eval(values)
	if !holds(v, th.goal.op, eps) {
		return Outcome{
			Valid:     false,
			Reasoning: fmt.Sprintf("%q is violated: left minus right is %s", th.Goal, formatRat(v)),
		}, nil
	}
	return Outcome{
		Valid:     true,
		Reasoning: fmt.Sprintf("%q holds at the supplied values", th.Goal),
	}, nil
}
