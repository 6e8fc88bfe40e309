package kernel

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// valueStack holds the values of the innermost binders during
// normalization, index 0 at the head.
type valueStack struct {
	head *Expr
	tail *valueStack
}

func (s *valueStack) extend(v *Expr) *valueStack {
	return &valueStack{head: v, tail: s}
}

func (s *valueStack) size() int {
	n := 0
	for cur := s; cur != nil; cur = cur.tail {
		n++
	}
	return n
}

var closureName = NameOf("Closure")

// closure suspends an abstraction or metavariable together with the
// context and value stack it was reached under. Closures exist only during
// normalization; reify eliminates them.
type closure struct {
	expr  *Expr
	ctx   *Context
	stack *valueStack
}

func (c *closure) ValueName() *Name { return closureName }
func (c *closure) ValueType() *Expr { panic("kernel: closure has no type") }
func (c *closure) NormalizeValue([]*Expr) (*Expr, bool) {
	return nil, false
}

func asClosure(e *Expr) (*closure, bool) {
	if e.kind != ExprValue {
		return nil, false
	}
	c, ok := e.val.(*closure)
	return c, ok
}

func mkClosure(e *Expr, ctx *Context, s *valueStack) *Expr {
	return mkTransientValue(&closure{expr: e, ctx: ctx, stack: s})
}

// Normalizer computes normal forms under a context and an optional
// metavariable environment. It is cooperative: the interrupt flag is
// polled and the recursion depth bounded at every descent.
type Normalizer struct {
	env         *Environment
	opts        Options
	menv        *MetavarEnv
	ctx         *Context
	depth       int
	interrupted *atomic.Bool
	cache       *lru.Cache[*Expr, *Expr]
}

// NewNormalizer returns a normalizer for env.
func NewNormalizer(env *Environment, opts Options) *Normalizer {
	cache, _ := lru.New[*Expr, *Expr](1024)
	return &Normalizer{env: env, opts: opts, cache: cache}
}

// SetInterruptFlag wires the cooperative cancellation flag.
func (n *Normalizer) SetInterruptFlag(f *atomic.Bool) {
	n.interrupted = f
}

// Normalize returns the normal form of e under ctx. menv may be nil; when
// given, assigned metavariables are instantiated and metavariable local
// contexts are minimized using creation-context information.
func (n *Normalizer) Normalize(e *Expr, ctx *Context, menv *MetavarEnv) (*Expr, error) {
	cacheable := menv == nil && ctx.Empty() && Closed(e) && !e.hasMeta && !n.opts.UnfoldOpaque
	if cacheable {
		if r, ok := n.cache.Get(e); ok {
			return r, nil
		}
	}
	n.menv = menv
	n.ctx = ctx
	n.depth = 0
	k := ctx.Size()
	v, err := n.normalize(e, nil, k)
	if err != nil {
		return nil, err
	}
	r, err := n.reify(v, k)
	if err != nil {
		return nil, err
	}
	if cacheable {
		n.cache.Add(e, r)
	}
	return r, nil
}

// Normalize is the package-level convenience entry point.
func Normalize(env *Environment, e *Expr, ctx *Context) (*Expr, error) {
	return NewNormalizer(env, DefaultOptions()).Normalize(e, ctx, nil)
}

// NormalizeMenv normalizes with a metavariable environment.
func NormalizeMenv(env *Environment, e *Expr, ctx *Context, menv *MetavarEnv) (*Expr, error) {
	return NewNormalizer(env, DefaultOptions()).Normalize(e, ctx, menv)
}

func (n *Normalizer) check() error {
	if n.depth > n.opts.NormalizerMaxDepth {
		return errors.WithStack(&DeepRecursionError{Op: "normalizer"})
	}
	if n.interrupted != nil && n.interrupted.Load() {
		return errors.WithStack(&InterruptedError{Op: "normalizer"})
	}
	return nil
}

// normalize evaluates a under the value stack s with k enclosing binders.
func (n *Normalizer) normalize(a *Expr, s *valueStack, k int) (*Expr, error) {
	n.depth++
	defer func() { n.depth-- }()
	if err := n.check(); err != nil {
		return nil, err
	}
	switch a.kind {
	case ExprMetavar:
		if n.menv != nil && n.menv.IsAssigned(a.name) {
			inst := n.menv.InstantiateMetavars(a)
			if inst != a {
				return n.normalize(inst, s, k)
			}
		}
		return mkClosure(a, n.ctx, s), nil
	case ExprPi, ExprLambda:
		return mkClosure(a, n.ctx, s), nil
	case ExprVar:
		return n.lookupVar(s, a.idx)
	case ExprConst:
		if obj, ok := n.env.FindObject(a.name); ok && obj.IsDefinition() && (!obj.Opaque || n.opts.UnfoldOpaque) {
			saved := n.ctx
			n.ctx = EmptyContext
			r, err := n.normalize(obj.Value, nil, 0)
			n.ctx = saved
			return r, err
		}
		return a, nil
	case ExprType, ExprValue:
		return a, nil
	case ExprApp:
		return n.normalizeApp(a, s, k)
	case ExprEq:
		lhs, err := n.normalize(a.lhs, s, k)
		if err != nil {
			return nil, err
		}
		rhs, err := n.normalize(a.rhs, s, k)
		if err != nil {
			return nil, err
		}
		if isConcreteValue(lhs) && isConcreteValue(rhs) {
			return MkBoolValue(lhs == rhs), nil
		}
		return MkEq(lhs, rhs), nil
	case ExprLet:
		v, err := n.normalize(a.lval, s, k)
		if err != nil {
			return nil, err
		}
		return n.normalize(a.body, s.extend(v), k)
	}
	panic("unreachable")
}

func isConcreteValue(e *Expr) bool {
	if e.kind != ExprValue {
		return false
	}
	_, isCl := e.val.(*closure)
	return !isCl
}

func (n *Normalizer) normalizeApp(a *Expr, s *valueStack, k int) (*Expr, error) {
	f, err := n.normalize(a.args[0], s, k)
	if err != nil {
		return nil, err
	}
	i := 1
	total := len(a.args)
	for {
		if cl, ok := asClosure(f); ok && cl.expr.kind == ExprLambda {
			// Beta reduction: feed as many arguments as the lambda
			// spine accepts.
			fv := cl.expr
			newS := cl.stack
			for fv.kind == ExprLambda && i < total {
				av, err := n.normalize(a.args[i], s, k)
				if err != nil {
					return nil, err
				}
				newS = newS.extend(av)
				i++
				fv = fv.body
			}
			saved := n.ctx
			n.ctx = cl.ctx
			f, err = n.normalize(fv, newS, k)
			n.ctx = saved
			if err != nil {
				return nil, err
			}
			if i == total {
				return f, nil
			}
		} else {
			newArgs := make([]*Expr, 0, total-i+1)
			newArgs = append(newArgs, f)
			for ; i < total; i++ {
				av, err := n.normalize(a.args[i], s, k)
				if err != nil {
					return nil, err
				}
				newArgs = append(newArgs, av)
			}
			if isConcreteValue(f) {
				// Semantic attachment: hand the reified arguments to
				// the value's reduction hook.
				reified := make([]*Expr, len(newArgs))
				for j, x := range newArgs {
					reified[j], err = n.reify(x, k)
					if err != nil {
						return nil, err
					}
				}
				if m, ok := f.val.NormalizeValue(reified); ok {
					return n.normalize(m, s, k)
				}
			}
			return MkApp(newArgs...), nil
		}
	}
}

// lookupVar resolves index i through the value stack, falling back to the
// context; a let entry's body is evaluated in its own context.
func (n *Normalizer) lookupVar(s *valueStack, i int) (*Expr, error) {
	j := i
	for cur := s; cur != nil; cur = cur.tail {
		if j == 0 {
			return cur.head, nil
		}
		j--
	}
	entry, entryCtx, err := n.ctx.Lookup(j)
	if err != nil {
		return nil, err
	}
	if entry.Body != nil {
		saved := n.ctx
		n.ctx = entryCtx
		r, nerr := n.normalize(entry.Body, nil, entryCtx.Size())
		n.ctx = saved
		return r, nerr
	}
	// de Bruijn level; reify flips it back into an index.
	return MkVar(entryCtx.Size()), nil
}

// reify converts a value back into an expression under k binders.
func (n *Normalizer) reify(v *Expr, k int) (*Expr, error) {
	var walkErr error
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		if walkErr != nil {
			return e
		}
		if e.kind == ExprVar {
			return MkVar(k - e.idx - 1)
		}
		if cl, ok := asClosure(e); ok {
			r, err := n.reifyClosure(cl, k)
			if err != nil {
				walkErr = err
				return e
			}
			return r
		}
		return mapChildren(e, depth, walk)
	}
	r := walk(v, 0)
	if walkErr != nil {
		return nil, walkErr
	}
	return r, nil
}

// isIdentityStack reports whether the stack maps every variable to itself
// (as de Bruijn levels under k binders).
func isIdentityStack(s *valueStack, k int) bool {
	i := 0
	for cur := s; cur != nil; cur = cur.tail {
		e := cur.head
		if e.kind != ExprVar || k-e.idx-1 != i {
			return false
		}
		i++
	}
	return true
}

func (n *Normalizer) reifyClosure(c *closure, k int) (*Expr, error) {
	saved := n.ctx
	n.ctx = c.ctx
	defer func() { n.ctx = saved }()
	e := c.expr
	s := c.stack
	if e.IsAbstraction() {
		dv, err := n.normalize(e.domain, s, k)
		if err != nil {
			return nil, err
		}
		d, err := n.reify(dv, k)
		if err != nil {
			return nil, err
		}
		bv, err := n.normalize(e.body, s.extend(MkVar(k)), k+1)
		if err != nil {
			return nil, err
		}
		b, err := n.reify(bv, k+1)
		if err != nil {
			return nil, err
		}
		if e.kind == ExprLambda {
			return MkLambda(e.name, d, b), nil
		}
		return MkPi(e.name, d, b), nil
	}
	// Metavariable: fold the stack into the local context.
	if isIdentityStack(s, k) {
		return e, nil
	}
	lenS := s.size()
	lenCtx := c.ctx.Size()
	r := e
	if k > lenCtx {
		r = AddLift(e, lenS, k-lenCtx, n.menv)
	}
	subst := make([]*Expr, 0, lenS)
	for cur := s; cur != nil; cur = cur.tail {
		sv, err := n.reify(cur.head, k)
		if err != nil {
			return nil, err
		}
		subst = append(subst, sv)
	}
	for i, j := 0, len(subst)-1; i < j; i, j = i+1, j-1 {
		subst[i], subst[j] = subst[j], subst[i]
	}
	return instantiateMany(r, 0, subst, n.menv), nil
}
