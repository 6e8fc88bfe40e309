package kernel

import (
	"fmt"
	"strings"
)

// ConstraintKind discriminates unification constraints.
type ConstraintKind int

const (
	// ConstraintEq demands definitional equality of A and B.
	ConstraintEq ConstraintKind = iota
	// ConstraintConvertible demands that A is convertible to B.
	ConstraintConvertible
	// ConstraintMax demands that M is the universe maximum of LHS and RHS.
	ConstraintMax
	// ConstraintChoice demands that M equals one of Choices.
	ConstraintChoice
)

// Constraint is one unification problem in a context, carrying the
// justification for its existence.
type Constraint struct {
	Kind          ConstraintKind
	Ctx           *Context
	A             *Expr // Eq lhs / Convertible from
	B             *Expr // Eq rhs / Convertible to
	M             *Expr // Max result / Choice metavariable
	LHS           *Expr // Max operand
	RHS           *Expr // Max operand
	Choices       []*Expr
	Justification Justification
}

// MkEqConstraint builds ctx |- a == b.
func MkEqConstraint(ctx *Context, a, b *Expr, j Justification) *Constraint {
	return &Constraint{Kind: ConstraintEq, Ctx: ctx, A: a, B: b, Justification: j}
}

// MkConvertibleConstraint builds ctx |- from << to.
func MkConvertibleConstraint(ctx *Context, from, to *Expr, j Justification) *Constraint {
	return &Constraint{Kind: ConstraintConvertible, Ctx: ctx, A: from, B: to, Justification: j}
}

// MkMaxConstraint builds ctx |- m == max(lhs, rhs) over universes.
func MkMaxConstraint(ctx *Context, m, lhs, rhs *Expr, j Justification) *Constraint {
	return &Constraint{Kind: ConstraintMax, Ctx: ctx, M: m, LHS: lhs, RHS: rhs, Justification: j}
}

// MkChoiceConstraint builds ctx |- m in {choices...}.
func MkChoiceConstraint(ctx *Context, m *Expr, choices []*Expr, j Justification) *Constraint {
	return &Constraint{Kind: ConstraintChoice, Ctx: ctx, M: m, Choices: choices, Justification: j}
}

// IsEq reports whether c is an equality constraint.
func (c *Constraint) IsEq() bool { return c.Kind == ConstraintEq }

// IsConvertible reports whether c is a convertibility constraint.
func (c *Constraint) IsConvertible() bool { return c.Kind == ConstraintConvertible }

func (c *Constraint) String() string {
	switch c.Kind {
	case ConstraintEq:
		return fmt.Sprintf("%s |- %s == %s", c.Ctx, c.A, c.B)
	case ConstraintConvertible:
		return fmt.Sprintf("%s |- %s << %s", c.Ctx, c.A, c.B)
	case ConstraintMax:
		return fmt.Sprintf("%s |- %s == max(%s, %s)", c.Ctx, c.M, c.LHS, c.RHS)
	case ConstraintChoice:
		parts := make([]string, len(c.Choices))
		for i, ch := range c.Choices {
			parts[i] = ch.String()
		}
		return fmt.Sprintf("%s |- %s in {%s}", c.Ctx, c.M, strings.Join(parts, ", "))
	}
	return "<constraint>"
}
