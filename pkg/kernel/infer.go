package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// TypeMismatchError reports a term whose type does not fit where it is
// used.
type TypeMismatchError struct {
	Expr     *Expr
	Expected *Expr
	Actual   *Expr
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch at %s: expected %s, got %s", e.Expr, e.Expected, e.Actual)
}

// TypeInferer synthesizes types. With a metavariable environment it never
// fails on ambiguity: convertibility obligations involving metavariables
// become residual constraints for the elaborator.
type TypeInferer struct {
	env         *Environment
	opts        Options
	norm        *Normalizer
	interrupted *atomic.Bool
}

// NewTypeInferer returns a type inferer for env.
func NewTypeInferer(env *Environment, opts Options) *TypeInferer {
	return &TypeInferer{env: env, opts: opts, norm: NewNormalizer(env, opts)}
}

// SetInterruptFlag wires the cooperative cancellation flag, shared with the
// inner normalizer.
func (ti *TypeInferer) SetInterruptFlag(f *atomic.Bool) {
	ti.interrupted = f
	ti.norm.SetInterruptFlag(f)
}

// Infer returns the type of e under ctx, together with the residual
// constraints. menv may be nil for metavariable-free terms.
func (ti *TypeInferer) Infer(e *Expr, ctx *Context, menv *MetavarEnv) (*Expr, []*Constraint, error) {
	run := &inferRun{TypeInferer: ti, menv: menv}
	ty, err := run.infer(e, ctx)
	if err != nil {
		return nil, nil, err
	}
	return ty, run.cnstrs, nil
}

// InferType is the package-level entry point for metavariable-free terms.
func InferType(env *Environment, e *Expr, ctx *Context) (*Expr, error) {
	ty, cnstrs, err := NewTypeInferer(env, DefaultOptions()).Infer(e, ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(cnstrs) > 0 {
		return nil, errors.Errorf("unexpected residual constraints inferring %s", e)
	}
	return ty, nil
}

type inferRun struct {
	*TypeInferer
	menv   *MetavarEnv
	cnstrs []*Constraint
}

func (r *inferRun) infer(e *Expr, ctx *Context) (*Expr, error) {
	if r.interrupted != nil && r.interrupted.Load() {
		return nil, errors.WithStack(&InterruptedError{Op: "type inferer"})
	}
	switch e.kind {
	case ExprVar:
		entry, entryCtx, err := ctx.Lookup(e.idx)
		if err != nil {
			return nil, err
		}
		if entry.Domain != nil {
			return LiftFreeVarsMenv(entry.Domain, 0, e.idx+1, r.menv), nil
		}
		// Untyped let binding: type its body where it was bound.
		bty, err := r.infer(entry.Body, entryCtx)
		if err != nil {
			return nil, err
		}
		return LiftFreeVarsMenv(bty, 0, e.idx+1, r.menv), nil
	case ExprConst:
		if e.ctype != nil {
			return e.ctype, nil
		}
		obj, err := r.env.LookupObject(e.name)
		if err != nil {
			return nil, err
		}
		return obj.Type, nil
	case ExprValue:
		return e.val.ValueType(), nil
	case ExprType:
		return MkType(e.level.Add(1)), nil
	case ExprEq:
		return Bool, nil
	case ExprApp:
		return r.inferApp(e, ctx)
	case ExprLambda:
		bty, err := r.infer(e.body, ctx.Extend(e.name, e.domain))
		if err != nil {
			return nil, err
		}
		return MkPi(e.name, e.domain, bty), nil
	case ExprPi:
		return r.inferPi(e, ctx)
	case ExprLet:
		if e.ctype != nil {
			vty, err := r.infer(e.lval, ctx)
			if err != nil {
				return nil, err
			}
			if err := r.requireConvertible(ctx, vty, e.ctype, e); err != nil {
				return nil, err
			}
		}
		bty, err := r.infer(e.body, ctx.ExtendLet(e.name, e.ctype, e.lval))
		if err != nil {
			return nil, err
		}
		return InstantiateMenv(bty, 0, e.lval, r.menv), nil
	case ExprMetavar:
		if r.menv == nil {
			return nil, errors.Errorf("metavariable %s outside an elaboration session", e)
		}
		if r.menv.HasType(e.name) {
			return ApplyLocalContext(r.menv.GetType(e.name), e.lctx), nil
		}
		mctx, _ := r.menv.ContextOf(e.name)
		tyMeta := r.menv.MkMetavar(mctx)
		if e.lctx.Empty() {
			r.menv.SetType(e.name, tyMeta)
			return tyMeta, nil
		}
		return ApplyLocalContext(tyMeta, e.lctx), nil
	}
	panic("unreachable")
}

func (r *inferRun) inferApp(e *Expr, ctx *Context) (*Expr, error) {
	fty, err := r.infer(e.args[0], ctx)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(e.args); i++ {
		arg := e.args[i]
		fty, err = r.whnf(fty, ctx)
		if err != nil {
			return nil, err
		}
		if fty.kind != ExprPi {
			if fty.HasMetavar() && r.menv != nil {
				// The function type is still undetermined: force it
				// into Pi shape with fresh metavariables.
				dom := r.menv.MkMetavar(ctx)
				cod := r.menv.MkMetavar(ctx.Extend(Anonymous, dom))
				pi := MkPi(Anonymous, dom, cod)
				r.cnstrs = append(r.cnstrs, MkEqConstraint(ctx, fty, pi, &InferredBy{Expr: e}))
				fty = pi
			} else {
				return nil, errors.Errorf("function expected at %s, head has type %s", e, fty)
			}
		}
		aty, err := r.infer(arg, ctx)
		if err != nil {
			return nil, err
		}
		if err := r.requireConvertible(ctx, aty, fty.domain, e); err != nil {
			return nil, err
		}
		fty = InstantiateMenv(fty.body, 0, arg, r.menv)
	}
	return fty, nil
}

func (r *inferRun) inferPi(e *Expr, ctx *Context) (*Expr, error) {
	dty, err := r.infer(e.domain, ctx)
	if err != nil {
		return nil, err
	}
	bty, err := r.infer(e.body, ctx.Extend(e.name, e.domain))
	if err != nil {
		return nil, err
	}
	dty, err = r.whnf(dty, ctx)
	if err != nil {
		return nil, err
	}
	bty, err = r.whnf(bty, ctx.Extend(e.name, e.domain))
	if err != nil {
		return nil, err
	}
	l1, ok1 := universeOf(dty)
	l2, ok2 := universeOf(bty)
	if ok1 && ok2 {
		return MkType(MaxLevel(l1, l2)), nil
	}
	if r.menv == nil {
		return nil, errors.Errorf("Pi %s over non-types %s and %s", e, dty, bty)
	}
	m := r.menv.MkMetavar(ctx)
	// bty lives under the binder, so the constraint does too.
	inner := ctx.Extend(e.name, e.domain)
	r.cnstrs = append(r.cnstrs, MkMaxConstraint(inner,
		LiftFreeVarsMenv(m, 0, 1, r.menv),
		LiftFreeVarsMenv(dty, 0, 1, r.menv),
		bty, &InferredBy{Expr: e}))
	return m, nil
}

// UniverseLevelOf returns the level of a universe expression, treating Bool
// as an inhabitant of the bottom universe.
func UniverseLevelOf(ty *Expr) (*Level, bool) {
	if ty.kind == ExprType {
		return ty.level, true
	}
	if ty == Bool {
		return LevelBottom, true
	}
	return nil, false
}

func universeOf(ty *Expr) (*Level, bool) {
	return UniverseLevelOf(ty)
}

// requireConvertible either checks from << to directly or defers it as a
// residual constraint when metavariables are involved.
func (r *inferRun) requireConvertible(ctx *Context, from, to *Expr, at *Expr) error {
	if from == to {
		return nil
	}
	if r.menv != nil && (from.HasMetavar() || to.HasMetavar()) {
		r.cnstrs = append(r.cnstrs, MkConvertibleConstraint(ctx, from, to, &InferredBy{Expr: at}))
		return nil
	}
	ok, err := IsConvertible(r.env, ctx, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return errors.WithStack(&TypeMismatchError{Expr: at, Expected: to, Actual: from})
	}
	return nil
}

// whnf exposes the head of a type: lets, let-bound variables and head beta
// redexes are reduced, and non-opaque definitions unfolded.
func (r *inferRun) whnf(e *Expr, ctx *Context) (*Expr, error) {
	for i := 0; ; i++ {
		if i > r.opts.NormalizerMaxDepth {
			return nil, errors.WithStack(&DeepRecursionError{Op: "type inferer"})
		}
		if r.interrupted != nil && r.interrupted.Load() {
			return nil, errors.WithStack(&InterruptedError{Op: "type inferer"})
		}
		next, err := HeadReduceStep(r.env, e, ctx, r.menv)
		if err != nil {
			return nil, err
		}
		if next != e {
			e = next
			continue
		}
		if u, ok := unfoldHead(r.env, e, r.opts.UnfoldOpaque); ok {
			e = u
			continue
		}
		return e, nil
	}
}

// unfoldHead replaces a defined constant head by its definition.
func unfoldHead(env *Environment, e *Expr, unfoldOpaque bool) (*Expr, bool) {
	head := e
	if e.kind == ExprApp {
		head = e.args[0]
	}
	if head.kind != ExprConst {
		return nil, false
	}
	obj, ok := env.FindObject(head.name)
	if !ok || !obj.IsDefinition() || (obj.Opaque && !unfoldOpaque) {
		return nil, false
	}
	if e.kind == ExprApp {
		return MkApp(append([]*Expr{obj.Value}, e.args[1:]...)...), true
	}
	return obj.Value, true
}

// HeadReduceStep performs one deterministic head normalization step: let
// unfolding, context let-body lookup, head beta, and semantic-value
// reduction. It returns e unchanged at a head normal form.
func HeadReduceStep(env *Environment, e *Expr, ctx *Context, menv *MetavarEnv) (*Expr, error) {
	switch e.kind {
	case ExprLet:
		return InstantiateMenv(e.body, 0, e.lval, menv), nil
	case ExprVar:
		entry, _, err := ctx.Lookup(e.idx)
		if err != nil {
			return e, nil
		}
		if entry.Body != nil {
			return LiftFreeVarsMenv(entry.Body, 0, e.idx+1, menv), nil
		}
		return e, nil
	case ExprApp:
		f := e.args[0]
		if isConcreteValue(f) {
			// Normalize arguments left to right until the semantic
			// attachment fires.
			args := append([]*Expr(nil), e.args...)
			modified := false
			for i := 1; i < len(args); i++ {
				na, err := NewNormalizer(env, DefaultOptions()).Normalize(args[i], ctx, menv)
				if err != nil {
					return nil, err
				}
				if na != args[i] {
					modified = true
					args[i] = na
					if r, ok := f.Value().NormalizeValue(args); ok {
						return r, nil
					}
				}
			}
			if modified {
				return MkApp(args...), nil
			}
			return e, nil
		}
		nf, err := HeadReduceStep(env, f, ctx, menv)
		if err != nil {
			return nil, err
		}
		if nf != f {
			e = MkApp(append([]*Expr{nf}, e.args[1:]...)...)
		}
		return HeadBetaReduceMenv(e, menv), nil
	}
	return e, nil
}

// IsConvertible decides from << to for metavariable-free terms by
// normalization.
func IsConvertible(env *Environment, ctx *Context, from, to *Expr) (bool, error) {
	nf, err := NormalizeMenv(env, from, ctx, nil)
	if err != nil {
		return false, err
	}
	nt, err := NormalizeMenv(env, to, ctx, nil)
	if err != nil {
		return false, err
	}
	return isConvertibleNorm(env, ctx, nf, nt)
}

func isConvertibleNorm(env *Environment, ctx *Context, from, to *Expr) (bool, error) {
	if from == to {
		return true, nil
	}
	if from == Bool && to.kind == ExprType {
		return true, nil
	}
	if from.kind == ExprType && to.kind == ExprType {
		return env.IsGe(to.level, from.level), nil
	}
	if from.kind == ExprPi && to.kind == ExprPi {
		if from.domain != to.domain {
			return false, nil
		}
		return isConvertibleNorm(env, ctx.Extend(from.name, from.domain), from.body, to.body)
	}
	return false, nil
}
