package olean

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

func buildEnv(t *testing.T) *kernel.Environment {
	t.Helper()
	env := kernel.NewEnvironment()
	require.NoError(t, env.AddVar(kernel.NameOf("A"), kernel.TypeExpr))
	A := kernel.MkConst(kernel.NameOf("A"))
	require.NoError(t, env.AddVar(kernel.NameOf("a"), A))
	require.NoError(t, env.AddAxiom(kernel.NameOf("ax"), kernel.MkEq(kernel.True, kernel.True)))

	id := kernel.MkLambda(kernel.NameOf("x"), A, kernel.MkVar(0))
	idTy := kernel.MkPi(kernel.NameOf("x"), A, kernel.LiftFreeVars(A, 0, 1))
	require.NoError(t, env.AddDefinition(kernel.NameOf("id"), idTy, id, false))
	require.NoError(t, env.AddDefinition(kernel.NameOf("opaque"), kernel.Bool, kernel.True, true))
	require.NoError(t, env.AddTheorem(kernel.NameOf("thm"), kernel.Bool, kernel.True))

	_, err := env.AddUvarCnstr(kernel.NameOf("u"), kernel.LevelM.Add(1))
	require.NoError(t, err)
	return env
}

func TestRoundTrip(t *testing.T) {
	env := buildEnv(t)
	var buf bytes.Buffer
	require.NoError(t, Write(env, &buf))

	got, err := Read(&buf)
	require.NoError(t, err)

	want := env.Objects()
	have := got.Objects()
	require.Equal(t, len(want), len(have))
	for i := range want {
		assert.Equal(t, want[i].Kind, have[i].Kind, "object %d", i)
		assert.Same(t, want[i].Name, have[i].Name, "object %d", i)
		// Hash consing makes structural equality pointer equality.
		if want[i].Type != nil {
			assert.Same(t, want[i].Type, have[i].Type, "object %d type", i)
		}
		if want[i].Value != nil {
			assert.Same(t, want[i].Value, have[i].Value, "object %d value", i)
		}
		assert.Equal(t, want[i].Opaque, have[i].Opaque, "object %d opacity", i)
		assert.Equal(t, want[i].Weight, have[i].Weight, "object %d weight", i)
	}

	// Universe constraints survive the trip.
	u := kernel.UVar(kernel.NameOf("u"))
	assert.True(t, got.IsGe(u, kernel.LevelM.Add(1)))
	assert.True(t, got.IsGe(u, kernel.LevelBottom.Add(2)))
}

func TestHeaderValidation(t *testing.T) {
	_, err := Read(strings.NewReader("notanoleanfile"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "olean")
}

func TestTruncatedStream(t *testing.T) {
	env := buildEnv(t)
	var buf bytes.Buffer
	require.NoError(t, Write(env, &buf))
	data := buf.Bytes()

	_, err := Read(bytes.NewReader(data[:len(data)-1]))
	assert.Error(t, err)
}

func TestWriteSkipsPrelude(t *testing.T) {
	env := kernel.NewEnvironment()
	var buf bytes.Buffer
	require.NoError(t, Write(env, &buf))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, len(env.Objects()), len(got.Objects()))
}
