package elab

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kr/pretty"
	"github.com/pkg/errors"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

var binderRoot = kernel.NameOf("x")

// Session is one elaboration run: it drains a queue of unification
// constraints, performing Huet-style case splits when deterministic
// simplification gets stuck, and backtracks non-chronologically using the
// justification DAG. Next yields a stream of solutions.
type Session struct {
	env     *kernel.Environment
	opts    kernel.Options
	inferer *kernel.TypeInferer
	norm    *kernel.Normalizer

	menv   *kernel.MetavarEnv
	queue  Queue
	splits []caseSplit

	synth  Synthesizer
	plugin Plugin

	nextID      int
	quota       int
	conflict    kernel.Justification
	first       bool
	interrupted atomic.Bool

	id  uuid.UUID
	log *slog.Logger
}

// New starts a session over env solving the given constraints. menv holds
// the metavariables mentioned by the constraints; synth and plugin may be
// nil.
func New(env *kernel.Environment, menv *kernel.MetavarEnv, cnstrs []*kernel.Constraint,
	opts kernel.Options, synth Synthesizer, plugin Plugin) *Session {
	id := uuid.New()
	s := &Session{
		env:     env,
		opts:    opts,
		inferer: kernel.NewTypeInferer(env, opts),
		norm:    kernel.NewNormalizer(env, opts),
		menv:    menv,
		synth:   synth,
		plugin:  plugin,
		first:   true,
		id:      id,
		log:     slog.With("session", id.String()[:8]),
	}
	s.norm.SetInterruptFlag(&s.interrupted)
	s.inferer.SetInterruptFlag(&s.interrupted)
	for _, c := range cnstrs {
		s.queue = s.queue.PushBack(c)
	}
	s.log.Debug("elaboration session created",
		"constraints", s.queue.Size(), "options", pretty.Sprint(opts))
	return s
}

// Interrupt requests cooperative cancellation of the session and of the
// normalizer and type inferer it drives.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
}

// Next returns the next solution. It returns *NoSolutionsError when the
// stream is exhausted and *ElaborationError when the constraints are
// unsatisfiable.
func (s *Session) Next() (*Substitution, error) {
	if s.interrupted.Load() {
		return nil, errors.WithStack(&kernel.InterruptedError{Op: "elaborator"})
	}
	if s.conflict != nil {
		return nil, &ElaborationError{Conflict: s.conflict}
	}
	if len(s.splits) > 0 {
		// Not the first solution: manufacture a conflict that depends on
		// every active assumption to force the search onward.
		assumptions := make([]kernel.Justification, 0, len(s.splits))
		for _, cs := range s.splits {
			assumptions = append(assumptions, cs.currentAssumption())
		}
		s.conflict = &kernel.NextSolution{Assumptions: assumptions}
		if err := s.resolveConflict(); err != nil {
			return nil, &NoSolutionsError{Conflict: s.conflict}
		}
	} else if s.first {
		s.first = false
	} else {
		return nil, &NoSolutionsError{Conflict: &kernel.NextSolution{}}
	}
	s.resetQuota()
	for {
		if s.interrupted.Load() {
			return nil, errors.WithStack(&kernel.InterruptedError{Op: "elaborator"})
		}
		if s.queue.Empty() || s.quota < -(s.queue.Size()+10) {
			if m := s.menv.FindUnassigned(); m != nil && s.synth != nil && s.menv.HasType(m) {
				if s.processSynthesizer(m) {
					continue
				}
			}
			s.log.Debug("solution found", "splits", len(s.splits), "pending", s.queue.Size())
			return &Substitution{menv: s.menv.Freeze()}, nil
		}
		c, rest := s.queue.PopFront()
		s.queue = rest
		ok, err := s.process(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := s.resolveConflict(); err != nil {
				return nil, err
			}
		}
	}
}

func (s *Session) resetQuota() {
	s.quota = s.queue.Size()
}

func (s *Session) mkAssumption() kernel.Justification {
	id := s.nextID
	s.nextID++
	return &kernel.Assumption{ID: id}
}

func (s *Session) restore(st state) {
	s.menv.Restore(st.menv)
	s.queue = st.queue
}

func (s *Session) snapshot() state {
	return state{menv: s.menv.Snapshot(), queue: s.queue}
}

func (s *Session) pushFront(c *kernel.Constraint) {
	s.resetQuota()
	s.queue = s.queue.PushFront(c)
}

func (s *Session) pushBack(c *kernel.Constraint) {
	s.queue = s.queue.PushBack(c)
}

// pushNewConstraint queues ctx |- a == b (or a << b) at the front.
func (s *Session) pushNewConstraint(isEq bool, ctx *kernel.Context, a, b *kernel.Expr, j kernel.Justification) {
	if isEq {
		s.pushFront(kernel.MkEqConstraint(ctx, a, b, j))
	} else {
		s.pushFront(kernel.MkConvertibleConstraint(ctx, a, b, j))
	}
}

// pushUpdated re-queues c with one side replaced.
func (s *Session) pushUpdated(c *kernel.Constraint, isLhs bool, newSide *kernel.Expr, j kernel.Justification) {
	a, b := c.A, c.B
	if isLhs {
		a = newSide
	} else {
		b = newSide
	}
	s.pushNewConstraint(c.IsEq(), c.Ctx, a, b, j)
}

// assign records m := v. When m carries an inferred type, the type of v is
// checked against it through a new convertibility constraint.
func (s *Session) assign(m *kernel.Name, v *kernel.Expr, ctx *kernel.Context, j kernel.Justification) error {
	s.menv.Assign(m, v, j)
	if s.menv.HasType(m) {
		tv, cnstrs, err := s.inferer.Infer(v, ctx, s.menv)
		if err != nil {
			return err
		}
		for _, c := range cnstrs {
			s.pushFront(c)
		}
		declared := s.menv.GetType(m)
		tj := &kernel.TypeOfMetavar{Metavar: m, DeclaredType: declared, ValueType: tv, AssignJst: j}
		s.pushFront(kernel.MkConvertibleConstraint(ctx, tv, declared, tj))
	}
	return nil
}

func (s *Session) process(c *kernel.Constraint) (bool, error) {
	s.quota--
	switch c.Kind {
	case kernel.ConstraintEq, kernel.ConstraintConvertible:
		return s.processEqConvertible(c)
	case kernel.ConstraintMax:
		return s.processMax(c)
	case kernel.ConstraintChoice:
		return s.processChoice(c), nil
	}
	panic("unreachable")
}

type status int

const (
	statusProcessed status = iota
	statusFailed
	statusContinue
)

func isMetaApp(a *kernel.Expr) bool {
	return a.Kind() == kernel.ExprApp && a.Arg(0).Kind() == kernel.ExprMetavar
}

func isMeta(a *kernel.Expr) bool {
	return a.Kind() == kernel.ExprMetavar || isMetaApp(a)
}

// processMetavarSide handles the metavariable fast paths for one side of
// ctx |- a ~ b:
//  1. a is an assigned metavariable: substitute its value.
//  2. a is unassigned with an empty local context: occurs-check, then
//     assign when permitted.
//  3. a is ?m[lift:s:n, ...] and b has no free variable in [s, s+n): pop
//     the lift, lower b, continue in the narrowed context.
//  4. a is (?m ...) with ?m assigned: substitute the head.
func (s *Session) processMetavarSide(c *kernel.Constraint, a, b *kernel.Expr, isLhs, allowAssignment bool) (status, error) {
	if a.Kind() == kernel.ExprMetavar {
		m := a.MetavarName()
		if s.menv.IsAssigned(m) {
			j := &kernel.Substitution{C: c, Subs: []kernel.Justification{s.menv.GetJustification(m)}}
			s.pushUpdated(c, isLhs, s.menv.InstantiateMetavars(a), j)
			return statusProcessed, nil
		}
		if !a.IsMetavarWithLocalCtx() {
			if s.menv.MentionsMetavar(b, m) {
				s.conflict = &kernel.UnificationFailure{C: c}
				return statusFailed, nil
			}
			if allowAssignment {
				if err := s.assign(m, b, c.Ctx, &kernel.Assignment{C: c}); err != nil {
					return statusFailed, err
				}
				s.resetQuota()
				return statusProcessed, nil
			}
		} else if head := a.LocalCtx().Head(); head.IsLift() {
			lo, n := head.LiftStart(), head.LiftAmount()
			if !kernel.HasFreeVarRange(b, lo, lo+n) {
				j := &kernel.NormalizeJustification{C: c}
				newA := kernel.PopLocalCtx(a)
				newB := kernel.LowerFreeVars(b, lo+n, n)
				newCtx := c.Ctx.Remove(lo, n)
				if !isLhs {
					newA, newB = newB, newA
				}
				s.pushNewConstraint(c.IsEq(), newCtx, newA, newB, j)
				return statusProcessed, nil
			}
			if b.Kind() == kernel.ExprVar {
				// ?m[lift:s:n, ...] can never equal a variable the
				// lift skipped over.
				s.conflict = &kernel.UnificationFailure{C: c}
				return statusFailed, nil
			}
		}
	}
	if isMetaApp(a) && s.menv.IsAssigned(a.Arg(0).MetavarName()) {
		head := a.Arg(0)
		j := &kernel.Substitution{C: c, Subs: []kernel.Justification{s.menv.GetJustification(head.MetavarName())}}
		args := append([]*kernel.Expr{s.menv.InstantiateMetavars(head)}, a.Args()[1:]...)
		s.pushUpdated(c, isLhs, kernel.MkApp(args...), j)
		return statusProcessed, nil
	}
	return statusContinue, nil
}

// instantiateSide rewrites one side when assignments changed it since the
// constraint was queued.
func (s *Session) instantiateSide(c *kernel.Constraint, a *kernel.Expr, isLhs bool) bool {
	if !s.menv.HasAssignedMetavar(a) {
		return false
	}
	newA, justs := s.menv.InstantiateMetavarsJst(a)
	s.pushUpdated(c, isLhs, newA, &kernel.Substitution{C: c, Subs: justs})
	return true
}

// normalizeStep performs one deterministic head simplification.
func (s *Session) normalizeStep(ctx *kernel.Context, a *kernel.Expr) (*kernel.Expr, error) {
	r, err := kernel.HeadReduceStep(s.env, a, ctx, s.menv)
	if err != nil {
		return nil, err
	}
	if r.Kind() == kernel.ExprEq && s.opts.UseNormalizer {
		return s.norm.Normalize(r, ctx, s.menv)
	}
	return r, nil
}

// unfoldingWeight returns the definition weight of a's head, or -1.
func (s *Session) unfoldingWeight(a *kernel.Expr) int {
	head := a
	if a.Kind() == kernel.ExprApp {
		head = a.Arg(0)
	}
	if head.Kind() != kernel.ExprConst {
		return -1
	}
	obj, ok := s.env.FindObject(head.ConstName())
	if !ok || !obj.IsDefinition() || obj.Opaque {
		return -1
	}
	return obj.Weight
}

func (s *Session) unfold(a *kernel.Expr) *kernel.Expr {
	if a.Kind() == kernel.ExprApp {
		obj, _ := s.env.FindObject(a.Arg(0).ConstName())
		return kernel.MkApp(append([]*kernel.Expr{obj.Value}, a.Args()[1:]...)...)
	}
	obj, _ := s.env.FindObject(a.ConstName())
	return obj.Value
}

// normalizeHead reduces both sides, unfolding definitions by weight
// (heavier first, both on ties) until nothing changes.
func (s *Session) normalizeHead(a, b *kernel.Expr, c *kernel.Constraint) (bool, error) {
	ctx := c.Ctx
	modified := false
	for {
		if s.interrupted.Load() {
			return false, errors.WithStack(&kernel.InterruptedError{Op: "elaborator"})
		}
		newA, err := s.normalizeStep(ctx, a)
		if err != nil {
			return false, err
		}
		newB, err := s.normalizeStep(ctx, b)
		if err != nil {
			return false, err
		}
		if newA == a && newB == b {
			wa := s.unfoldingWeight(a)
			wb := s.unfoldingWeight(b)
			if wa < 0 && wb < 0 {
				break
			}
			if wa >= wb {
				newA = s.unfold(a)
			}
			if wb >= wa {
				newB = s.unfold(b)
			}
			if newA == a && newB == b {
				break
			}
		}
		modified = true
		a, b = newA, newB
		if a == b {
			return true, nil
		}
	}
	if modified {
		s.pushNewConstraint(c.IsEq(), ctx, a, b, &kernel.NormalizeJustification{C: c})
		return true, nil
	}
	return false, nil
}

// areArgsVars reports whether every argument of the application a is a
// distinct variable without a definition in ctx.
func areArgsVars(ctx *kernel.Context, a *kernel.Expr) bool {
	seen := map[int]bool{}
	for i := 1; i < a.NumArgs(); i++ {
		arg := a.Arg(i)
		if arg.Kind() != kernel.ExprVar {
			return false
		}
		if ctx.HasBody(arg.VarIdx()) {
			return false
		}
		if seen[arg.VarIdx()] {
			return false
		}
		seen[arg.VarIdx()] = true
	}
	return true
}

// mkLambdaChain builds fun (x_0 : types[0]) ... (x_{n-1} : types[n-1]), body.
func mkLambdaChain(types []*kernel.Expr, body *kernel.Expr) *kernel.Expr {
	r := body
	for i := len(types) - 1; i >= 0; i-- {
		r = kernel.MkLambda(binderRoot.Num(i), types[i], r)
	}
	return r
}

// mkAppVars builds (f #numVars-1 ... #0).
func mkAppVars(f *kernel.Expr, numVars int) *kernel.Expr {
	if numVars == 0 {
		return f
	}
	parts := make([]*kernel.Expr, 0, numVars+1)
	parts = append(parts, f)
	for i := numVars - 1; i >= 0; i-- {
		parts = append(parts, kernel.MkVar(i))
	}
	return kernel.MkApp(parts...)
}

// processSimpleHoMatch solves ctx |- (?m x1 ... xk) == b with distinct
// variable arguments and closed b by the canonical abstraction.
func (s *Session) processSimpleHoMatch(ctx *kernel.Context, a, b *kernel.Expr, isLhs bool, c *kernel.Constraint) bool {
	if !c.IsEq() || !isMetaApp(a) || !areArgsVars(ctx, a) || !kernel.Closed(b) {
		return false
	}
	m := a.Arg(0)
	types := make([]*kernel.Expr, 0, a.NumArgs()-1)
	for i := 1; i < a.NumArgs(); i++ {
		entry, _, err := ctx.Lookup(a.Arg(i).VarIdx())
		if err != nil {
			return false
		}
		types = append(types, entry.Domain)
	}
	sol := mkLambdaChain(types, b)
	lhs, rhs := m, sol
	if !isLhs {
		lhs, rhs = rhs, lhs
	}
	s.pushFront(kernel.MkEqConstraint(ctx, lhs, rhs, &kernel.Destruct{C: c}))
	return true
}
