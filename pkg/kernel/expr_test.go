package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashConsSharing(t *testing.T) {
	a := MkApp(MkConst(NameOf("f")), MkVar(0), MkVar(1))
	b := MkApp(MkConst(NameOf("f")), MkVar(0), MkVar(1))
	assert.Same(t, a, b)

	l1 := MkLambda(NameOf("x"), Bool, MkVar(0))
	l2 := MkLambda(NameOf("x"), Bool, MkVar(0))
	assert.Same(t, l1, l2)
}

func TestAppFlattening(t *testing.T) {
	f := MkConst(NameOf("f"))
	inner := MkApp(f, MkVar(0))
	outer := MkApp(inner, MkVar(1))
	require.Equal(t, ExprApp, outer.Kind())
	assert.Equal(t, 3, outer.NumArgs())
	assert.Same(t, f, outer.Arg(0))

	// A one-part application collapses.
	assert.Same(t, f, MkApp(f))
}

func TestFreeVarQueries(t *testing.T) {
	assert.True(t, Closed(MkConst(NameOf("c"))))
	assert.False(t, Closed(MkVar(0)))

	lam := MkLambda(NameOf("x"), Bool, MkVar(0))
	assert.True(t, Closed(lam))
	open := MkLambda(NameOf("x"), Bool, MkVar(1))
	assert.False(t, Closed(open))

	e := MkApp(MkConst(NameOf("f")), MkVar(2))
	assert.True(t, HasFreeVar(e, 2))
	assert.False(t, HasFreeVar(e, 1))
	assert.True(t, HasFreeVarRange(e, 0, 3))
	assert.False(t, HasFreeVarRange(e, 3, 5))

	// Metavariables may mention anything.
	menv := NewMetavarEnv()
	m := menv.MkMetavar(EmptyContext)
	assert.False(t, Closed(m))
	assert.True(t, HasFreeVarRange(m, 4, 5))
}

func TestLiftInstantiateCancel(t *testing.T) {
	// For closed e: instantiate(lift(e, 0, 1), 0, s) == e.
	e := MkLambda(NameOf("x"), Bool, MkApp(MkConst(NameOf("f")), MkVar(0)))
	require.True(t, Closed(e))
	lifted := LiftFreeVars(e, 0, 1)
	assert.Same(t, e, lifted) // closed terms are untouched
	assert.Same(t, e, Instantiate(lifted, 0, True))

	// And for an open term the round trip restores it.
	open := MkApp(MkConst(NameOf("f")), MkVar(0))
	lifted = LiftFreeVars(open, 0, 1)
	assert.Equal(t, MkApp(MkConst(NameOf("f")), MkVar(1)), lifted)
	assert.Same(t, open, Instantiate(lifted, 0, MkVar(0)))
}

func TestApplyBeta(t *testing.T) {
	// apply_beta((fun _ : Bool, e), [a]) == e for closed e.
	e := MkConst(NameOf("c"))
	constant := MkLambda(Anonymous, Bool, LiftFreeVars(e, 0, 1))
	assert.Same(t, e, ApplyBeta(constant, []*Expr{True}))

	// apply_beta((fun x : T, x), [a]) == a.
	id := MkLambda(NameOf("x"), Bool, MkVar(0))
	assert.Same(t, True, ApplyBeta(id, []*Expr{True}))

	// Extra arguments are reapplied without further reduction.
	r := ApplyBeta(id, []*Expr{id, True})
	assert.Same(t, MkApp(id, True), r)
}

func TestHeadBetaReduce(t *testing.T) {
	id := MkLambda(NameOf("x"), Bool, MkVar(0))
	redex := MkApp(id, True)
	require.True(t, IsHeadBeta(redex))
	assert.Same(t, True, HeadBetaReduce(redex))

	stuck := MkApp(MkConst(NameOf("f")), True)
	assert.False(t, IsHeadBeta(stuck))
	assert.Same(t, stuck, HeadBetaReduce(stuck))
}

func TestSubstitutionThroughMetavar(t *testing.T) {
	menv := NewMetavarEnv()
	ctx := EmptyContext.Extend(NameOf("x"), Bool)
	m := menv.MkMetavar(ctx)

	// Lifting a metavariable extends its local context.
	lifted := LiftFreeVars(m, 0, 2)
	require.Equal(t, ExprMetavar, lifted.Kind())
	require.True(t, lifted.IsMetavarWithLocalCtx())
	entry := lifted.LocalCtx().Head()
	assert.True(t, entry.IsLift())
	assert.Equal(t, 0, entry.LiftStart())
	assert.Equal(t, 2, entry.LiftAmount())

	// Instantiating records an inst entry rather than descending.
	inst := Instantiate(m, 0, True)
	require.True(t, inst.IsMetavarWithLocalCtx())
	entry = inst.LocalCtx().Head()
	assert.False(t, entry.IsLift())
	assert.Equal(t, 0, entry.InstIndex())
	assert.Same(t, True, entry.InstValue())

	// With the metavariable environment, a substitution out of the
	// metavariable's scope is dropped entirely.
	closedMeta := menv.MkMetavar(EmptyContext)
	assert.Same(t, closedMeta, InstantiateMenv(closedMeta, 0, True, menv))
	assert.Same(t, closedMeta, LiftFreeVarsMenv(closedMeta, 0, 3, menv))
}

func TestLocalContextCompose(t *testing.T) {
	m := MkMetavar(NameOf("m"), nil)
	l1 := AddLift(m, 0, 1, nil)
	l2 := AddLift(l1, 1, 2, nil)
	// lift(1,2) over lift(0,1) collapses: 1 is within [0, 0+1].
	require.False(t, l2.LocalCtx().Empty())
	require.Len(t, l2.LocalCtx(), 1)
	head := l2.LocalCtx().Head()
	assert.Equal(t, 0, head.LiftStart())
	assert.Equal(t, 3, head.LiftAmount())
}

func TestInstCancelsLift(t *testing.T) {
	m := MkMetavar(NameOf("m"), nil)
	lifted := AddLift(m, 0, 1, nil)
	// Instantiating the variable the lift introduced undoes the lift.
	back := AddInst(lifted, 0, True, nil)
	assert.Same(t, m, back)
}

func TestLowerFreeVars(t *testing.T) {
	e := MkApp(MkConst(NameOf("f")), MkVar(3))
	assert.Equal(t, MkApp(MkConst(NameOf("f")), MkVar(1)), LowerFreeVars(e, 2, 2))
	// Below the threshold nothing moves.
	keep := MkApp(MkConst(NameOf("f")), MkVar(0))
	assert.Same(t, keep, LowerFreeVars(keep, 1, 5))
}

func TestBetaReduceNested(t *testing.T) {
	id := MkLambda(NameOf("x"), Bool, MkVar(0))
	e := MkApp(id, MkApp(id, True))
	assert.Same(t, True, BetaReduce(e))
}
