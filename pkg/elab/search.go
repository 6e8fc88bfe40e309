package elab

import (
	"fmt"
	"strings"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

// processEqConvertible runs the fixed simplification pipeline on
// ctx |- a ~ b, in the documented order. It returns false when a conflict
// was recorded.
func (s *Session) processEqConvertible(c *kernel.Constraint) (bool, error) {
	ctx, a, b := c.Ctx, c.A, c.B
	eq := c.IsEq()

	// 1. Syntactic identity.
	if a == b {
		return true, nil
	}

	// 2. Metavariable fast paths; only equality constraints may assign
	// at this stage.
	allowAssignment := eq
	r, err := s.processMetavarSide(c, a, b, true, allowAssignment)
	if err != nil || r != statusContinue {
		return r == statusProcessed, err
	}
	r, err = s.processMetavarSide(c, b, a, false, allowAssignment)
	if err != nil || r != statusContinue {
		return r == statusProcessed, err
	}

	// 3. Head normalization with weight-directed unfolding.
	if done, err := s.normalizeHead(a, b, c); err != nil {
		return false, err
	} else if done {
		return true, nil
	}

	// 4. Second metavariable pass: convertibility may now assign when the
	// other side is concrete. The two gates are intentionally asymmetric.
	r, err = s.processMetavarSide(c, a, b, true, !kernel.IsType(b) && !isMeta(b))
	if err != nil || r != statusContinue {
		return r == statusProcessed, err
	}
	r, err = s.processMetavarSide(c, b, a, false, !kernel.IsType(a) && !isMeta(a) && a != kernel.Bool)
	if err != nil || r != statusContinue {
		return r == statusProcessed, err
	}

	// 5. Simple higher-order matching.
	if s.processSimpleHoMatch(ctx, a, b, true, c) || s.processSimpleHoMatch(ctx, b, a, false, c) {
		return true, nil
	}

	// Bool is convertible to any universe.
	if !eq && a == kernel.Bool && kernel.IsType(b) {
		return true, nil
	}

	// 6. Structural decomposition on agreeing heads.
	if a.Kind() == b.Kind() {
		if done, ok := s.decompose(c, ctx, a, b, eq); ok {
			return done, nil
		}
	}

	// 7. Re-run after substitution changes.
	if s.instantiateSide(c, a, true) || s.instantiateSide(c, b, false) {
		return true, nil
	}

	// 8. Distinct rigid heads fail.
	if a.Kind() != b.Kind() && !a.HasMetavar() && !b.HasMetavar() {
		s.conflict = &kernel.UnificationFailure{C: c}
		return false, nil
	}

	// 9. Expensive search once the quota is gone.
	if s.quota < 0 {
		if done, err := s.processMetaApp(a, b, true, c, false); err != nil || done {
			return done, err
		}
		if done, err := s.processMetaApp(b, a, false, c, false); err != nil || done {
			return done, err
		}
		if s.processMetavarInst(a, b, true, c) || s.processMetavarInst(b, a, false, c) {
			return true, nil
		}
	}
	if s.quota < -s.queue.Size() {
		if s.processLower(a, b, c) {
			return true, nil
		}
		if done, err := s.processMetaApp(a, b, true, c, true); err != nil || done {
			return done, err
		}
		if s.plugin != nil {
			if done := s.processPlugin(c); done {
				return true, nil
			}
		}
	}

	// 10. No progress: revisit later.
	s.pushBack(c)
	return true, nil
}

// decompose pushes one constraint per child when both heads agree. The
// second result reports whether this stage applied at all.
func (s *Session) decompose(c *kernel.Constraint, ctx *kernel.Context, a, b *kernel.Expr, eq bool) (bool, bool) {
	switch a.Kind() {
	case kernel.ExprConst, kernel.ExprVar, kernel.ExprValue:
		if a == b {
			return true, true
		}
		s.conflict = &kernel.UnificationFailure{C: c}
		return false, true
	case kernel.ExprType:
		if (!eq && s.env.IsGe(b.TypeLevel(), a.TypeLevel())) || (eq && a == b) {
			return true, true
		}
		s.conflict = &kernel.UnificationFailure{C: c}
		return false, true
	case kernel.ExprEq:
		j := &kernel.Destruct{C: c}
		s.pushFront(kernel.MkEqConstraint(ctx, a.EqLHS(), b.EqLHS(), j))
		s.pushFront(kernel.MkEqConstraint(ctx, a.EqRHS(), b.EqRHS(), j))
		return true, true
	case kernel.ExprPi:
		j := &kernel.Destruct{C: c}
		s.pushFront(kernel.MkEqConstraint(ctx, a.Domain(), b.Domain(), j))
		inner := ctx.Extend(a.BinderName(), a.Domain())
		if eq {
			s.pushFront(kernel.MkEqConstraint(inner, a.Body(), b.Body(), j))
		} else {
			s.pushFront(kernel.MkConvertibleConstraint(inner, a.Body(), b.Body(), j))
		}
		return true, true
	case kernel.ExprLambda:
		j := &kernel.Destruct{C: c}
		s.pushFront(kernel.MkEqConstraint(ctx, a.Domain(), b.Domain(), j))
		inner := ctx.Extend(a.BinderName(), a.Domain())
		s.pushFront(kernel.MkEqConstraint(inner, a.Body(), b.Body(), j))
		return true, true
	case kernel.ExprApp:
		if !isMetaApp(a) && !isMetaApp(b) {
			if a.NumArgs() != b.NumArgs() {
				s.conflict = &kernel.UnificationFailure{C: c}
				return false, true
			}
			j := &kernel.Destruct{C: c}
			for i := 0; i < a.NumArgs(); i++ {
				s.pushFront(kernel.MkEqConstraint(ctx, a.Arg(i), b.Arg(i), j))
			}
			return true, true
		}
	}
	return false, false
}

// processMetaApp opens a Huet-style case split for ctx |- (?m args) ~ b
// with rigid b: one projection branch per argument, one imitation branch
// matching b's head shape. With flexFlex set, both sides contribute
// branches.
func (s *Session) processMetaApp(a, b *kernel.Expr, isLhs bool, c *kernel.Constraint, flexFlex bool) (bool, error) {
	if !isMetaApp(a) || (!flexFlex && isMetaApp(b)) {
		return false, nil
	}
	split := &genericSplit{constraint: c}
	if err := s.metaAppBranches(split, a, b, isLhs, c); err != nil {
		return false, err
	}
	if flexFlex && isMetaApp(b) {
		if err := s.metaAppBranches(split, b, a, !isLhs, c); err != nil {
			return false, err
		}
	}
	split.prev = s.snapshot()
	if !split.next(s) {
		return false, nil
	}
	s.splits = append(s.splits, split)
	s.resetQuota()
	return true, nil
}

// metaAppBranches prepares the projection and imitation alternatives for
// one flex side.
func (s *Session) metaAppBranches(split *genericSplit, a, b *kernel.Expr, isLhs bool, c *kernel.Constraint) error {
	ctx := c.Ctx
	fa := a.Arg(0)
	numArgs := a.NumArgs() - 1

	// Argument types are inferred in the shared state: the residual
	// constraints apply to every branch.
	argTypes := make([]*kernel.Expr, 0, numArgs)
	for i := 1; i <= numArgs; i++ {
		ty, cnstrs, err := s.inferer.Infer(a.Arg(i), ctx, s.menv)
		if err != nil {
			return err
		}
		for _, uc := range cnstrs {
			s.pushFront(uc)
		}
		argTypes = append(argTypes, ty)
	}
	base := s.snapshot()

	// Projection branches: ?m := fun xs, x_i.
	for i := 1; i <= numArgs; i++ {
		s.restore(base)
		assumption := s.mkAssumption()
		proj := mkLambdaChain(argTypes, kernel.MkVar(numArgs-i))
		newA, newB := a.Arg(i), b
		if !isLhs {
			newA, newB = newB, newA
		}
		s.pushNewConstraint(c.IsEq(), ctx, newA, newB, assumption)
		s.pushFront(kernel.MkEqConstraint(ctx, fa, proj, assumption))
		split.pushAlternative(s.snapshot(), assumption)
	}

	// Imitation branch, shaped after b's head constructor.
	s.restore(base)
	assumption := s.mkAssumption()
	var imitation *kernel.Expr
	switch {
	case b.Kind() == kernel.ExprApp:
		// ?m := fun xs, f_b (?h_1 xs) ... (?h_k xs)
		fb := b.Arg(0)
		parts := []*kernel.Expr{fb}
		for i := 1; i < b.NumArgs(); i++ {
			h := s.menv.MkMetavar(ctx)
			parts = append(parts, mkAppVars(h, numArgs))
			hApp := kernel.MkApp(append([]*kernel.Expr{h}, a.Args()[1:]...)...)
			s.pushFront(kernel.MkEqConstraint(ctx, hApp, b.Arg(i), assumption))
		}
		imitation = mkLambdaChain(argTypes, kernel.MkApp(parts...))
	case b.Kind() == kernel.ExprEq:
		// ?m := fun xs, (?h_1 xs) = (?h_2 xs)
		h1 := s.menv.MkMetavar(ctx)
		h2 := s.menv.MkMetavar(ctx)
		s.pushFront(kernel.MkEqConstraint(ctx,
			kernel.MkApp(append([]*kernel.Expr{h1}, a.Args()[1:]...)...), b.EqLHS(), assumption))
		s.pushFront(kernel.MkEqConstraint(ctx,
			kernel.MkApp(append([]*kernel.Expr{h2}, a.Args()[1:]...)...), b.EqRHS(), assumption))
		imitation = mkLambdaChain(argTypes, kernel.MkEq(mkAppVars(h1, numArgs), mkAppVars(h2, numArgs)))
	case b.IsAbstraction():
		// ?m := fun xs, Fun (y : ?h_1 xs), (?h_2 xs y)
		h1 := s.menv.MkMetavar(ctx)
		h2 := s.menv.MkMetavar(ctx)
		s.pushFront(kernel.MkEqConstraint(ctx,
			kernel.MkApp(append([]*kernel.Expr{h1}, a.Args()[1:]...)...), b.Domain(), assumption))
		inner := ctx.Extend(b.BinderName(), b.Domain())
		liftedArgs := make([]*kernel.Expr, 0, numArgs+2)
		liftedArgs = append(liftedArgs, h2)
		for i := 1; i <= numArgs; i++ {
			liftedArgs = append(liftedArgs, kernel.LiftFreeVarsMenv(a.Arg(i), 0, 1, s.menv))
		}
		liftedArgs = append(liftedArgs, kernel.MkVar(0))
		s.pushFront(kernel.MkEqConstraint(inner, kernel.MkApp(liftedArgs...), b.Body(), assumption))
		head := mkAppVars(h1, numArgs)
		bodyApp := mkAppVars(h2, numArgs+1)
		var shape *kernel.Expr
		if b.Kind() == kernel.ExprLambda {
			shape = kernel.MkLambda(b.BinderName(), head, bodyApp)
		} else {
			shape = kernel.MkPi(b.BinderName(), head, bodyApp)
		}
		imitation = mkLambdaChain(argTypes, shape)
	default:
		// Constant function.
		imitation = mkLambdaChain(argTypes, kernel.LiftFreeVarsMenv(b, 0, numArgs, s.menv))
	}
	s.pushFront(kernel.MkEqConstraint(ctx, fa, imitation, assumption))
	split.pushAlternative(s.snapshot(), assumption)
	s.restore(base)
	return nil
}

// processMetavarInst splits ctx |- ?m[inst:i t, ...] ~ b between "the
// instantiated variable was used" and imitation of b's head shape. The
// imitation fallback for atomic b performs no occurs check.
func (s *Session) processMetavarInst(a, b *kernel.Expr, isLhs bool, c *kernel.Constraint) bool {
	if a.Kind() != kernel.ExprMetavar || !a.IsMetavarWithLocalCtx() || a.LocalCtx().Head().IsLift() {
		return false
	}
	if (b.Kind() == kernel.ExprMetavar && b.IsMetavarWithLocalCtx() && !b.LocalCtx().Head().IsLift()) || isMetaApp(b) {
		return false
	}
	ctx := c.Ctx
	head := a.LocalCtx().Head()
	i, t := head.InstIndex(), head.InstValue()
	split := &genericSplit{constraint: c}
	base := s.snapshot()

	// Case 1: ?m (without the entry) is the variable that was
	// substituted, so its value must match b.
	s.restore(base)
	assumption := s.mkAssumption()
	s.pushFront(kernel.MkEqConstraint(ctx, kernel.PopLocalCtx(a), kernel.MkVar(i), assumption))
	newA, newB := t, b
	if !isLhs {
		newA, newB = newB, newA
	}
	s.pushNewConstraint(c.IsEq(), ctx, newA, newB, assumption)
	split.pushAlternative(s.snapshot(), assumption)

	// Case 2: imitate b's head.
	s.restore(base)
	assumption = s.mkAssumption()
	var imitation *kernel.Expr
	switch {
	case b.Kind() == kernel.ExprApp:
		parts := []*kernel.Expr{b.Arg(0)}
		for j := 1; j < b.NumArgs(); j++ {
			parts = append(parts, s.menv.MkMetavar(ctx))
		}
		imitation = kernel.MkApp(parts...)
	case b.Kind() == kernel.ExprEq:
		imitation = kernel.MkEq(s.menv.MkMetavar(ctx), s.menv.MkMetavar(ctx))
	case b.IsAbstraction():
		h1 := s.menv.MkMetavar(ctx)
		h2 := s.menv.MkMetavar(ctx)
		body := kernel.MkApp(kernel.LiftFreeVarsMenv(h2, 0, 1, s.menv), kernel.MkVar(0))
		if b.Kind() == kernel.ExprLambda {
			imitation = kernel.MkLambda(b.BinderName(), h1, body)
		} else {
			imitation = kernel.MkPi(b.BinderName(), h1, body)
		}
	default:
		imitation = kernel.LiftFreeVars(b, i, 1)
	}
	s.pushFront(kernel.MkEqConstraint(ctx, kernel.PopLocalCtx(a), imitation, assumption))
	split.pushAlternative(s.snapshot(), assumption)

	split.prev = base
	if !split.next(s) {
		return false
	}
	s.splits = append(s.splits, split)
	s.resetQuota()
	return true
}

// processLower handles ctx |- a << ?m with a in {Bool, Type_k} by choosing
// ?m from a small ladder of universes above a.
func (s *Session) processLower(a, b *kernel.Expr, c *kernel.Constraint) bool {
	if !c.IsConvertible() || b.Kind() != kernel.ExprMetavar {
		return false
	}
	if a != kernel.Bool && !kernel.IsType(a) {
		return false
	}
	j := &kernel.Destruct{C: c}
	var choices []*kernel.Expr
	if a == kernel.Bool {
		choices = []*kernel.Expr{
			kernel.Bool,
			kernel.TypeExpr,
			kernel.MkType(kernel.LevelBottom.Add(1)),
			kernel.TypeM,
			kernel.TypeU,
		}
	} else {
		l := a.TypeLevel()
		choices = []*kernel.Expr{
			a,
			kernel.MkType(l.Add(1)),
			kernel.MkType(l.Add(2)),
			kernel.TypeM,
			kernel.TypeU,
		}
	}
	s.pushFront(kernel.MkChoiceConstraint(c.Ctx, b, choices, j))
	return true
}

// processChoice opens a case split over the constraint's alternatives.
func (s *Session) processChoice(c *kernel.Constraint) bool {
	split := &choiceSplit{choice: c}
	split.prev = s.snapshot()
	if !split.next(s) {
		return false
	}
	s.splits = append(s.splits, split)
	return true
}

// processPlugin hands the constraint to the registered plugin.
func (s *Session) processPlugin(c *kernel.Constraint) bool {
	result, ok := s.plugin.Solve(c, s.menv)
	if !ok {
		return false
	}
	split := &pluginSplit{constraint: c, result: result}
	split.prev = s.snapshot()
	if !split.next(s) {
		return false
	}
	s.splits = append(s.splits, split)
	s.resetQuota()
	return true
}

// processSynthesizer asks the synthesizer for candidates for m.
func (s *Session) processSynthesizer(m *kernel.Name) bool {
	ctx, _ := s.menv.ContextOf(m)
	result := s.synth.Synthesize(s.env, s.menv, m, s.menv.GetType(m))
	if result == nil {
		return false
	}
	split := &synthSplit{metavar: m, ctx: ctx, result: result}
	split.prev = s.snapshot()
	if !split.next(s) {
		// An empty candidate stream is not a conflict; the engine just
		// returns the partial substitution.
		s.conflict = nil
		return false
	}
	s.splits = append(s.splits, split)
	s.resetQuota()
	return true
}

// processMax resolves ctx |- m == max(lhs, rhs) once both operands are
// concrete universes; otherwise the constraint waits for more assignments.
func (s *Session) processMax(c *kernel.Constraint) (bool, error) {
	m := s.menv.InstantiateMetavars(c.M)
	lhs := s.menv.InstantiateMetavars(c.LHS)
	rhs := s.menv.InstantiateMetavars(c.RHS)
	l1, ok1 := kernel.UniverseLevelOf(lhs)
	l2, ok2 := kernel.UniverseLevelOf(rhs)
	if ok1 && ok2 {
		want := kernel.MkType(kernel.MaxLevel(l1, l2))
		if m == want {
			return true, nil
		}
		s.pushFront(kernel.MkEqConstraint(c.Ctx, m, want, &kernel.Destruct{C: c}))
		return true, nil
	}
	s.pushBack(kernel.MkMaxConstraint(c.Ctx, m, lhs, rhs, c.Justification))
	return true, nil
}

// resolveConflict walks the case-split stack from the top, skipping splits
// the conflict does not depend on, and advances the first responsible
// split. An exhausted stack surfaces the conflict.
func (s *Session) resolveConflict() error {
	if s.conflict == nil {
		panic("elab: resolveConflict without a conflict")
	}
	s.log.Debug("resolving conflict", "splits", len(s.splits), "conflict", s.conflict.Describe())
	for len(s.splits) > 0 {
		d := s.splits[len(s.splits)-1]
		if kernel.DependsOn(s.conflict, d.currentAssumption()) {
			d.addFailure(s.conflict)
			if d.next(s) {
				s.conflict = nil
				s.resetQuota()
				return nil
			}
		}
		s.splits = s.splits[:len(s.splits)-1]
	}
	return &ElaborationError{Conflict: s.conflict}
}

// DumpState renders the queue and substitution for debugging.
func (s *Session) DumpState() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %d split(s), quota %d\n", s.id, len(s.splits), s.quota)
	s.menv.ForEachAssignment(func(m *kernel.Name, v *kernel.Expr) {
		fmt.Fprintf(&b, "  ?%s <- %s\n", m, v)
	})
	s.queue.ForEach(func(c *kernel.Constraint) {
		fmt.Fprintf(&b, "  %s\n", c)
	})
	return b.String()
}
