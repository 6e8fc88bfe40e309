package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferBasics(t *testing.T) {
	env := NewEnvironment()

	ty, err := InferType(env, True, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, Bool, ty)

	ty, err = InferType(env, TypeExpr, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, MkType(LevelBottom.Add(1)), ty)

	ty, err = InferType(env, MkEq(True, False), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, Bool, ty)
}

func TestInferLambdaAndApp(t *testing.T) {
	env := NewEnvironment()
	id := MkLambda(NameOf("x"), Bool, MkVar(0))

	ty, err := InferType(env, id, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, MkPi(NameOf("x"), Bool, Bool), ty)

	ty, err = InferType(env, MkApp(id, True), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, Bool, ty)

	// Applying to a mistyped argument fails.
	_, err = InferType(env, MkApp(id, Bool), EmptyContext)
	var mismatch *TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestInferVarFromContext(t *testing.T) {
	env := NewEnvironment()
	ctx := EmptyContext.Extend(NameOf("x"), Bool).Extend(NameOf("y"), TypeExpr)

	ty, err := InferType(env, MkVar(0), ctx)
	require.NoError(t, err)
	assert.Same(t, TypeExpr, ty)

	ty, err = InferType(env, MkVar(1), ctx)
	require.NoError(t, err)
	assert.Same(t, Bool, ty)
}

func TestInferPiUniverse(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddVar(NameOf("A"), MkType(LevelM)))
	A := MkConst(NameOf("A"))

	ty, err := InferType(env, MkPi(NameOf("x"), A, LiftFreeVars(A, 0, 1)), EmptyContext)
	require.NoError(t, err)
	assert.Same(t, MkType(LevelM), ty)
}

func TestInferMetavarEmitsConstraints(t *testing.T) {
	env := NewEnvironment()
	menv := NewMetavarEnv()
	m := menv.MkMetavar(EmptyContext)

	// Applying an unknown function forces residual constraints instead
	// of failure.
	_, cnstrs, err := NewTypeInferer(env, DefaultOptions()).Infer(MkApp(m, True), EmptyContext, menv)
	require.NoError(t, err)
	require.NotEmpty(t, cnstrs)
	sawEq := false
	for _, c := range cnstrs {
		if c.Kind == ConstraintEq {
			sawEq = true
		}
	}
	assert.True(t, sawEq, "expected the function type to be forced into Pi shape")
}

func TestInferMetavarType(t *testing.T) {
	env := NewEnvironment()
	menv := NewMetavarEnv()
	m := menv.MkMetavar(EmptyContext)
	menv.SetType(m.MetavarName(), Bool)

	ty, cnstrs, err := NewTypeInferer(env, DefaultOptions()).Infer(m, EmptyContext, menv)
	require.NoError(t, err)
	assert.Empty(t, cnstrs)
	assert.Same(t, Bool, ty)

	// Without a declared type a fresh metavariable is introduced and
	// recorded.
	m2 := menv.MkMetavar(EmptyContext)
	ty, _, err = NewTypeInferer(env, DefaultOptions()).Infer(m2, EmptyContext, menv)
	require.NoError(t, err)
	assert.Equal(t, ExprMetavar, ty.Kind())
	assert.True(t, menv.HasType(m2.MetavarName()))
}

func TestInferLet(t *testing.T) {
	env := NewEnvironment()
	e := MkLet(NameOf("v"), Bool, True, MkVar(0))
	ty, err := InferType(env, e, EmptyContext)
	require.NoError(t, err)
	assert.Same(t, Bool, ty)
}

func TestOptionsFromYAML(t *testing.T) {
	opts, err := OptionsFromYAML([]byte("normalizer_max_depth: 128\nunfold_opaque: true\n"))
	require.NoError(t, err)
	assert.Equal(t, 128, opts.NormalizerMaxDepth)
	assert.True(t, opts.UnfoldOpaque)
	assert.True(t, opts.UseNormalizer) // default preserved

	_, err = OptionsFromYAML([]byte("normalizer_max_depth: -1\n"))
	assert.Error(t, err)

	_, err = OptionsFromYAML([]byte("{invalid"))
	assert.Error(t, err)
}
