package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelAddNormalizes(t *testing.T) {
	u := UVar(NameOf("u"))
	l := u.Add(2).Add(3)
	require.Equal(t, LevelLift, l.Kind())
	assert.Same(t, u, l.LiftOf())
	assert.Equal(t, 5, l.LiftOffset())
	assert.Same(t, u, u.Add(0))
}

func TestMaxLevelFlattensAndDedupes(t *testing.T) {
	u := UVar(NameOf("u"))
	v := UVar(NameOf("v"))
	m := MaxLevel(MaxLevel(u.Add(1), v), u.Add(4))
	require.Equal(t, LevelMax, m.Kind())
	children := m.MaxLevels()
	require.Len(t, children, 2)
	// u kept at its greatest offset.
	assert.True(t, children[0].Equal(u.Add(4)))
	assert.True(t, children[1].Equal(v))
}

func TestMaxLevelSingleton(t *testing.T) {
	u := UVar(NameOf("u"))
	assert.True(t, MaxLevel(u, u).Equal(u))
	assert.True(t, MaxLevel(u.Add(1), u).Equal(u.Add(1)))
}

func TestLevelString(t *testing.T) {
	u := UVar(NameOf("u"))
	v := UVar(NameOf("v"))
	assert.Equal(t, "u+2", u.Add(2).String())
	assert.Equal(t, "(max u v+1)", MaxLevel(u, v.Add(1)).String())
}

func TestUniverseConstraintsImplied(t *testing.T) {
	uc := NewUniverseConstraints()
	u, v, w := NameOf("u"), NameOf("v"), NameOf("w")
	require.NoError(t, uc.AddConstraint(u, v, 2))
	require.NoError(t, uc.AddConstraint(v, w, 3))

	assert.True(t, uc.IsImplied(u, v, 2))
	assert.True(t, uc.IsImplied(u, v, 1))
	assert.False(t, uc.IsImplied(u, v, 3))
	// Closure over the two edges.
	assert.True(t, uc.IsImplied(u, w, 5))
	assert.False(t, uc.IsImplied(u, w, 6))
	assert.True(t, uc.IsImplied(u, u, 0))
	assert.False(t, uc.IsImplied(u, u, 1))
}

func TestUniverseConstraintsAntisymmetry(t *testing.T) {
	uc := NewUniverseConstraints()
	u, v := NameOf("u"), NameOf("v")
	require.NoError(t, uc.AddConstraint(u, v, 4))
	// is_implied(u, v, k) implies not is_implied(v, u, -k+1).
	require.True(t, uc.IsImplied(u, v, 4))
	assert.False(t, uc.IsImplied(v, u, -3))
}

func TestUniverseConstraintsConsistency(t *testing.T) {
	uc := NewUniverseConstraints()
	u, v := NameOf("u"), NameOf("v")
	require.NoError(t, uc.AddConstraint(u, v, 1))
	assert.False(t, uc.IsConsistent(v, u, 0))
	assert.True(t, uc.IsConsistent(v, u, -1))
	assert.Error(t, uc.AddConstraint(v, u, 0))
}

func TestUniverseConstraintsOverflow(t *testing.T) {
	uc := NewUniverseConstraints()
	u, v, w := NameOf("u"), NameOf("v"), NameOf("w")
	require.NoError(t, uc.AddConstraint(u, v, int(^uint(0)>>1)-1))
	assert.True(t, uc.Overflows(v, w, int(^uint(0)>>1)-1))
	assert.Error(t, uc.AddConstraint(v, w, int(^uint(0)>>1)-1))
}
