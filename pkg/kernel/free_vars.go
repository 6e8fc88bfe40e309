package kernel

// Closed reports whether e has no free de Bruijn indices. Metavariables are
// conservatively treated as open: their dependencies are unknown until
// assignment.
func Closed(e *Expr) bool {
	return e.freeUpper == 0
}

// ClosedInCtx reports whether e is closed in a context with n binders.
func ClosedInCtx(e *Expr, n int) bool {
	return e.freeUpper != unboundedFree && e.freeUpper <= n
}

// HasFreeVar reports whether index i occurs free in e.
func HasFreeVar(e *Expr, i int) bool {
	return HasFreeVarRange(e, i, i+1)
}

// HasFreeVarRange reports whether any index in [start, end) occurs free in
// e. Metavariables count as mentioning every variable.
func HasFreeVarRange(e *Expr, start, end int) bool {
	if start >= end {
		return false
	}
	return hasFreeVarRange(e, start, end)
}

func hasFreeVarRange(e *Expr, start, end int) bool {
	if e.freeUpper <= start {
		return false
	}
	switch e.kind {
	case ExprVar:
		return start <= e.idx && e.idx < end
	case ExprConst, ExprType, ExprValue:
		return false
	case ExprApp:
		for _, a := range e.args {
			if hasFreeVarRange(a, start, end) {
				return true
			}
		}
		return false
	case ExprLambda, ExprPi:
		return hasFreeVarRange(e.domain, start, end) ||
			hasFreeVarRange(e.body, start+1, end+1)
	case ExprEq:
		return hasFreeVarRange(e.lhs, start, end) || hasFreeVarRange(e.rhs, start, end)
	case ExprLet:
		if e.ctype != nil && hasFreeVarRange(e.ctype, start, end) {
			return true
		}
		return hasFreeVarRange(e.lval, start, end) ||
			hasFreeVarRange(e.body, start+1, end+1)
	case ExprMetavar:
		return true
	}
	return false
}
