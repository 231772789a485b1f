package verifier

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"
)

// Op is the comparison of a relation against zero.
type Op int

const (
	OpEQ Op = iota // expr == 0
	OpGE           // expr >= 0
	OpGT           // expr >  0
)

func (o Op) String() string {
	switch o {
	case OpEQ:
		return "=="
	case OpGE:
		return ">="
	case OpGT:
		return ">"
	}
	return "?"
}

// linear is sum(coef[v] * v) + c with exact rational coefficients.
type linear struct {
	coef map[string]*big.Rat
	c    *big.Rat
}

func newLinear() linear {
	return linear{coef: map[string]*big.Rat{}, c: new(big.Rat)}
}

func constant(r *big.Rat) linear {
	l := newLinear()
	l.c.Set(r)
	return l
}

func variable(name string) linear {
	l := newLinear()
	l.coef[name] = big.NewRat(1, 1)
	return l
}

func (l linear) clone() linear {
	out := linear{coef: make(map[string]*big.Rat, len(l.coef)), c: new(big.Rat).Set(l.c)}
	for k, v := range l.coef {
		out.coef[k] = new(big.Rat).Set(v)
	}
	return out
}

// addScaled returns l + k*m.
func (l linear) addScaled(m linear, k *big.Rat) linear {
	out := l.clone()
	for v, c := range m.coef {
		term := new(big.Rat).Mul(c, k)
		if cur, ok := out.coef[v]; ok {
			cur.Add(cur, term)
		} else {
			out.coef[v] = term
		}
	}
	out.c.Add(out.c, new(big.Rat).Mul(m.c, k))
	out.prune()
	return out
}

func (l linear) scale(k *big.Rat) linear {
	return newLinear().addScaled(l, k)
}

func (l linear) prune() {
	for v, c := range l.coef {
		if c.Sign() == 0 {
			delete(l.coef, v)
		}
	}
}

func (l linear) isConstant() bool {
	return len(l.coef) == 0
}

func (l linear) vars() []string {
	vs := make([]string, 0, len(l.coef))
	for v := range l.coef {
		vs = append(vs, v)
	}
	slices.Sort(vs)
	return vs
}

// eval substitutes values for every variable. ok is false if a variable is
// missing.
func (l linear) eval(values map[string]*big.Rat) (*big.Rat, bool) {
	sum := new(big.Rat).Set(l.c)
	for v, c := range l.coef {
		x, ok := values[v]
		if !ok {
			return nil, false
		}
		sum.Add(sum, new(big.Rat).Mul(c, x))
	}
	return sum, true
}

// relation is expr op 0.
type relation struct {
	src  string
	expr linear
	op   Op
}

// parseRelation parses a linear comparison such as
// "bank_post == bank_pre + tax - reward" using the CUE expression grammar.
// Supported: identifiers, integer and decimal literals, unary minus,
// parentheses, + and -, multiplication by a constant, division by a
// constant, and one top-level ==, >=, <=, > or <.
func parseRelation(src string) (relation, error) {
	expr, err := parser.ParseExpr("formula", src)
	if err != nil {
		return relation{}, fmt.Errorf("parse %q: %w", src, err)
	}
	bin, ok := unparen(expr).(*ast.BinaryExpr)
	if !ok || !isComparison(bin.Op) {
		return relation{}, fmt.Errorf("formula %q is not a comparison", src)
	}

	lhs, err := toLinear(bin.X)
	if err != nil {
		return relation{}, fmt.Errorf("formula %q: %w", src, err)
	}
	rhs, err := toLinear(bin.Y)
	if err != nil {
		return relation{}, fmt.Errorf("formula %q: %w", src, err)
	}

	minusOne := big.NewRat(-1, 1)
	switch bin.Op {
	case token.EQL:
		return relation{src: src, expr: lhs.addScaled(rhs, minusOne), op: OpEQ}, nil
	case token.GEQ:
		return relation{src: src, expr: lhs.addScaled(rhs, minusOne), op: OpGE}, nil
	case token.GTR:
		return relation{src: src, expr: lhs.addScaled(rhs, minusOne), op: OpGT}, nil
	case token.LEQ:
		return relation{src: src, expr: rhs.addScaled(lhs, minusOne), op: OpGE}, nil
	case token.LSS:
		return relation{src: src, expr: rhs.addScaled(lhs, minusOne), op: OpGT}, nil
	default:
		return relation{}, fmt.Errorf("formula %q: unsupported comparison %s", src, bin.Op)
	}
}

func isComparison(op token.Token) bool {
	switch op {
	case token.EQL, token.NEQ, token.GEQ, token.GTR, token.LEQ, token.LSS:
		return true
	}
	return false
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

func toLinear(e ast.Expr) (linear, error) {
	switch n := e.(type) {
	case *ast.ParenExpr:
		return toLinear(n.X)
	case *ast.Ident:
		return variable(n.Name), nil
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return linear{}, fmt.Errorf("unsupported literal %s", n.Value)
		}
		r, ok := new(big.Rat).SetString(strings.ReplaceAll(n.Value, "_", ""))
		if !ok {
			return linear{}, fmt.Errorf("invalid number %s", n.Value)
		}
		return constant(r), nil
	case *ast.UnaryExpr:
		x, err := toLinear(n.X)
		if err != nil {
			return linear{}, err
		}
		switch n.Op {
		case token.SUB:
			return x.scale(big.NewRat(-1, 1)), nil
		case token.ADD:
			return x, nil
		}
		return linear{}, fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		x, err := toLinear(n.X)
		if err != nil {
			return linear{}, err
		}
		y, err := toLinear(n.Y)
		if err != nil {
			return linear{}, err
		}
		switch n.Op {
		case token.ADD:
			return x.addScaled(y, big.NewRat(1, 1)), nil
		case token.SUB:
			return x.addScaled(y, big.NewRat(-1, 1)), nil
		case token.MUL:
			switch {
			case x.isConstant():
				return y.scale(x.c), nil
			case y.isConstant():
				return x.scale(y.c), nil
			}
			return linear{}, fmt.Errorf("non-linear product")
		case token.QUO:
			if !y.isConstant() || y.c.Sign() == 0 {
				return linear{}, fmt.Errorf("division by a non-constant or zero")
			}
			return x.scale(new(big.Rat).Inv(y.c)), nil
		}
		return linear{}, fmt.Errorf("unsupported operator %s", n.Op)
	default:
		return linear{}, fmt.Errorf("unsupported expression %T", e)
	}
}
