package kernel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) *Environment {
	t.Helper()
	return NewEnvironment()
}

func countDistinctSubterms(e *Expr) int {
	seen := map[*Expr]bool{}
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if seen[e] {
			return
		}
		seen[e] = true
		eachChild(e, walk)
	}
	walk(e)
	return len(seen)
}

func TestNormalizeIdempotent(t *testing.T) {
	env := testEnv(t)
	id := MkLambda(NameOf("x"), Bool, MkVar(0))
	exprs := []*Expr{
		True,
		MkApp(id, True),
		MkLambda(NameOf("x"), Bool, MkApp(id, MkVar(0))),
		MkEq(True, False),
		MkLet(NameOf("v"), nil, True, MkVar(0)),
	}
	for _, e := range exprs {
		n1, err := Normalize(env, e, EmptyContext)
		require.NoError(t, err)
		n2, err := Normalize(env, n1, EmptyContext)
		require.NoError(t, err)
		assert.Same(t, n1, n2, "normalize not idempotent on %s", e)
	}
}

func TestNormalizeLetAndContext(t *testing.T) {
	env := testEnv(t)

	r, err := Normalize(env, MkLet(NameOf("v"), nil, True, MkVar(0)), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, True, r)

	// A variable bound by a let entry in the context unfolds.
	ctx := EmptyContext.ExtendLet(NameOf("v"), Bool, True)
	r, err = Normalize(env, MkVar(0), ctx)
	require.NoError(t, err)
	assert.Same(t, True, r)
}

func TestNormalizeEqOfValues(t *testing.T) {
	env := testEnv(t)
	r, err := Normalize(env, MkEq(True, False), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, False, r)
	r, err = Normalize(env, MkEq(True, True), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, True, r)
}

func TestNormalizeChurchPower(t *testing.T) {
	env := testEnv(t)
	N := MkConst(NameOf("N"))
	require.NoError(t, env.AddVar(NameOf("N"), TypeExpr))
	NN := MkPi(Anonymous, N, N)
	require.NoError(t, env.AddVar(NameOf("s"), NN))
	require.NoError(t, env.AddVar(NameOf("z"), N))
	s := MkConst(NameOf("s"))
	z := MkConst(NameOf("z"))

	CN := MkPi(Anonymous, NN, NN)   // church numerals over N
	CN2 := MkPi(Anonymous, CN, CN) // church numerals over N -> N

	f, x := MkVar(1), MkVar(0)
	two := MkLambda(NameOf("f"), NN, MkLambda(NameOf("x"), N,
		MkApp(f, MkApp(f, x))))
	four := MkLambda(NameOf("f"), CN, MkLambda(NameOf("x"), NN,
		MkApp(f, MkApp(f, MkApp(f, MkApp(f, x))))))
	power := MkLambda(NameOf("m"), CN, MkLambda(NameOf("n"), CN2,
		MkApp(MkVar(0), MkVar(1))))

	require.NoError(t, env.AddDefinition(NameOf("two"), CN, two, false))
	require.NoError(t, env.AddDefinition(NameOf("four"), CN2, four, false))
	require.NoError(t, env.AddDefinition(NameOf("power"), MkPi(Anonymous, CN, MkPi(Anonymous, CN2, CN)), power, false))

	call := MkApp(MkConst(NameOf("power")), MkConst(NameOf("two")), MkConst(NameOf("four")), s, z)
	r, err := Normalize(env, call, EmptyContext)
	require.NoError(t, err)

	// 2^4 applications of s to z.
	expected := z
	for i := 0; i < 16; i++ {
		expected = MkApp(s, expected)
	}
	assert.Same(t, expected, r)
	assert.Equal(t, 18, countDistinctSubterms(r))
}

func TestNormalizeMetavarRedex(t *testing.T) {
	env := testEnv(t)
	menv := NewMetavarEnv()

	// ?m created in the empty context cannot mention the bound variable.
	m1 := menv.MkMetavar(EmptyContext)
	F := MkApp(MkLambda(NameOf("x"), Bool, MkApp(m1, MkVar(0))), True)

	withMenv, err := NormalizeMenv(env, F, EmptyContext, menv)
	require.NoError(t, err)
	assert.Same(t, MkApp(m1, True), withMenv)

	// Without the environment the normalizer must assume ?m mentions
	// every variable in scope, so the substitution is recorded.
	plain, err := Normalize(env, F, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, MkApp(AddInst(m1, 0, True, nil), True), plain)

	// A metavariable created under the binder keeps the entry even with
	// the environment present.
	m2 := menv.MkMetavar(EmptyContext.Extend(NameOf("x"), Bool))
	F2 := MkApp(MkLambda(NameOf("x"), Bool, MkApp(m2, MkVar(0))), True)
	r2, err := NormalizeMenv(env, F2, EmptyContext, menv)
	require.NoError(t, err)
	assert.Same(t, MkApp(AddInst(m2, 0, True, nil), True), r2)

	// After assigning the identity function, both readings reduce to
	// True.
	idFn := MkLambda(NameOf("y"), Bool, MkVar(0))
	menv.Assign(m1.MetavarName(), idFn, nil)
	r, err := NormalizeMenv(env, withMenv, EmptyContext, menv)
	require.NoError(t, err)
	assert.Same(t, True, r)
	r, err = NormalizeMenv(env, plain, EmptyContext, menv)
	require.NoError(t, err)
	assert.Same(t, True, r)
}

func TestNormalizeDepthBudget(t *testing.T) {
	env := testEnv(t)
	opts := DefaultOptions()
	opts.NormalizerMaxDepth = 64
	norm := NewNormalizer(env, opts)

	selfApp := MkLambda(NameOf("x"), Bool, MkApp(MkVar(0), MkVar(0)))
	omega := MkApp(selfApp, selfApp)
	_, err := norm.Normalize(omega, EmptyContext, nil)
	require.Error(t, err)
	var deep *DeepRecursionError
	assert.ErrorAs(t, err, &deep)
}

func TestNormalizeInterrupt(t *testing.T) {
	env := testEnv(t)
	norm := NewNormalizer(env, DefaultOptions())
	var flag atomic.Bool
	flag.Store(true)
	norm.SetInterruptFlag(&flag)
	_, err := norm.Normalize(MkApp(MkLambda(NameOf("x"), Bool, MkVar(0)), True), EmptyContext, nil)
	require.Error(t, err)
	var interrupted *InterruptedError
	assert.ErrorAs(t, err, &interrupted)
}

func TestNormalizeOpaqueDefinition(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, env.AddDefinition(NameOf("hidden"), Bool, True, true))
	c := MkConst(NameOf("hidden"))

	r, err := Normalize(env, c, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, c, r)

	opts := DefaultOptions()
	opts.UnfoldOpaque = true
	r, err = NewNormalizer(env, opts).Normalize(c, EmptyContext, nil)
	require.NoError(t, err)
	assert.Same(t, True, r)
}
