package kernel

// mapChildren rebuilds e with f applied to each child, threading the binder
// depth. f receives the child and the depth of binders crossed so far.
func mapChildren(e *Expr, depth int, f func(child *Expr, depth int) *Expr) *Expr {
	switch e.kind {
	case ExprApp:
		args := make([]*Expr, len(e.args))
		changed := false
		for i, a := range e.args {
			args[i] = f(a, depth)
			changed = changed || args[i] != a
		}
		if !changed {
			return e
		}
		return MkApp(args...)
	case ExprLambda:
		d, b := f(e.domain, depth), f(e.body, depth+1)
		if d == e.domain && b == e.body {
			return e
		}
		return MkLambda(e.name, d, b)
	case ExprPi:
		d, b := f(e.domain, depth), f(e.body, depth+1)
		if d == e.domain && b == e.body {
			return e
		}
		return MkPi(e.name, d, b)
	case ExprEq:
		l, r := f(e.lhs, depth), f(e.rhs, depth)
		if l == e.lhs && r == e.rhs {
			return e
		}
		return MkEq(l, r)
	case ExprLet:
		var ty *Expr
		if e.ctype != nil {
			ty = f(e.ctype, depth)
		}
		v, b := f(e.lval, depth), f(e.body, depth+1)
		if ty == e.ctype && v == e.lval && b == e.body {
			return e
		}
		return MkLet(e.name, ty, v, b)
	}
	return e
}

// LiftFreeVars shifts free variables with index >= s up by n. A
// metavariable records the shift in its local context instead of being
// descended into.
func LiftFreeVars(e *Expr, s, n int) *Expr {
	return LiftFreeVarsMenv(e, s, n, nil)
}

// LiftFreeVarsMenv is LiftFreeVars with creation-context minimization for
// metavariables.
func LiftFreeVarsMenv(e *Expr, s, n int, menv ReadOnlyMetavarEnv) *Expr {
	if n == 0 {
		return e
	}
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		cutoff := s + depth
		if e.freeUpper <= cutoff {
			return e
		}
		switch e.kind {
		case ExprVar:
			if e.idx >= cutoff {
				return MkVar(e.idx + n)
			}
			return e
		case ExprMetavar:
			return AddLift(e, cutoff, n, menv)
		}
		return mapChildren(e, depth, walk)
	}
	return walk(e, 0)
}

// LowerFreeVars shifts free variables with index >= s down by n. The caller
// must ensure no free variable lies in [s-n, s); metavariable occurrences
// are rejected because a negative shift has no local-context encoding.
func LowerFreeVars(e *Expr, s, n int) *Expr {
	if n == 0 {
		return e
	}
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		cutoff := s + depth
		if e.freeUpper <= cutoff {
			return e
		}
		switch e.kind {
		case ExprVar:
			if e.idx >= cutoff {
				return MkVar(e.idx - n)
			}
			return e
		case ExprMetavar:
			panic("kernel: cannot lower free variables through a metavariable")
		}
		return mapChildren(e, depth, walk)
	}
	return walk(e, 0)
}

// Instantiate replaces free variable i with s in e, lowering the free
// variables above i by one. s need not be closed; it is relifted as the
// traversal crosses binders.
func Instantiate(e *Expr, i int, s *Expr) *Expr {
	return InstantiateMenv(e, i, s, nil)
}

// InstantiateMenv is Instantiate with creation-context minimization for
// metavariables.
func InstantiateMenv(e *Expr, i int, s *Expr, menv ReadOnlyMetavarEnv) *Expr {
	return instantiateMany(e, i, []*Expr{s}, menv)
}

// InstantiateWithClosed simultaneously replaces free variables 0..n-1 with
// subst[n-1]..subst[0] (index 0 binds the last substitute) and lowers the
// remaining free variables by n. All substitutes must be closed; this is
// the hot path and short-circuits on subterms that cannot be affected.
func InstantiateWithClosed(e *Expr, subst ...*Expr) *Expr {
	return InstantiateWithClosedMenv(e, subst, nil)
}

// InstantiateWithClosedMenv is InstantiateWithClosed with creation-context
// minimization for metavariables.
func InstantiateWithClosedMenv(e *Expr, subst []*Expr, menv ReadOnlyMetavarEnv) *Expr {
	for _, s := range subst {
		if !Closed(s) {
			panic("kernel: InstantiateWithClosed on open substitute")
		}
	}
	return instantiateMany(e, 0, subst, menv)
}

// instantiateMany substitutes variables base..base+len(subst)-1 (index
// base+k receiving subst[len-1-k]) and lowers variables above the range by
// len(subst). Equivalent to substituting index base len(subst) times, last
// substitute first.
func instantiateMany(e *Expr, base int, subst []*Expr, menv ReadOnlyMetavarEnv) *Expr {
	n := len(subst)
	if n == 0 {
		return e
	}
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		lo := base + depth
		if e.freeUpper <= lo {
			return e
		}
		switch e.kind {
		case ExprVar:
			switch {
			case e.idx < lo:
				return e
			case e.idx < lo+n:
				return LiftFreeVarsMenv(subst[n-1-(e.idx-lo)], 0, depth, menv)
			default:
				return MkVar(e.idx - n)
			}
		case ExprMetavar:
			m := e
			for j := n - 1; j >= 0; j-- {
				m = AddInst(m, lo, LiftFreeVarsMenv(subst[j], 0, depth, menv), menv)
			}
			return m
		}
		return mapChildren(e, depth, walk)
	}
	return walk(e, 0)
}

// IsHeadBeta reports whether e is an application headed by a lambda.
func IsHeadBeta(e *Expr) bool {
	return e.kind == ExprApp && e.args[0].kind == ExprLambda
}

// ApplyBeta strips up to len(args) outer lambdas from f and substitutes the
// corresponding arguments; leftover arguments are reapplied.
func ApplyBeta(f *Expr, args []*Expr) *Expr {
	return ApplyBetaMenv(f, args, nil)
}

// ApplyBetaMenv is ApplyBeta with creation-context minimization for
// metavariables.
func ApplyBetaMenv(f *Expr, args []*Expr, menv ReadOnlyMetavarEnv) *Expr {
	m := 0
	body := f
	for m < len(args) && body.kind == ExprLambda {
		body = body.body
		m++
	}
	reduced := instantiateMany(body, 0, args[:m], menv)
	if m == len(args) {
		return reduced
	}
	rest := append([]*Expr{reduced}, args[m:]...)
	return MkApp(rest...)
}

// HeadBetaReduce reduces the head redex of e, when there is one.
func HeadBetaReduce(e *Expr) *Expr {
	return HeadBetaReduceMenv(e, nil)
}

// HeadBetaReduceMenv is HeadBetaReduce with creation-context minimization
// for metavariables.
func HeadBetaReduceMenv(e *Expr, menv ReadOnlyMetavarEnv) *Expr {
	if !IsHeadBeta(e) {
		return e
	}
	return ApplyBetaMenv(e.args[0], e.args[1:], menv)
}

// BetaReduce exhaustively beta-reduces e.
func BetaReduce(e *Expr) *Expr {
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		e = mapChildren(e, depth, walk)
		for IsHeadBeta(e) {
			e = HeadBetaReduce(e)
			e = mapChildren(e, depth, walk)
		}
		return e
	}
	return walk(e, 0)
}
