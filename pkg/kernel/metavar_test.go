package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetavarEnvBasics(t *testing.T) {
	menv := NewMetavarEnv()
	ctx := EmptyContext.Extend(NameOf("x"), Bool)
	m := menv.MkMetavar(ctx)

	require.Equal(t, ExprMetavar, m.Kind())
	assert.True(t, menv.Contains(m.MetavarName()))
	assert.False(t, menv.IsAssigned(m.MetavarName()))

	got, ok := menv.ContextOf(m.MetavarName())
	require.True(t, ok)
	assert.Equal(t, 1, got.Size())

	menv.Assign(m.MetavarName(), True, nil)
	assert.True(t, menv.IsAssigned(m.MetavarName()))
	assert.Same(t, True, menv.GetSubst(m.MetavarName()))
	assert.Nil(t, menv.FindUnassigned())
}

func TestMetavarSnapshotRestore(t *testing.T) {
	menv := NewMetavarEnv()
	m1 := menv.MkMetavar(EmptyContext)

	snap := menv.Snapshot()
	m2 := menv.MkMetavar(EmptyContext)
	menv.Assign(m1.MetavarName(), True, nil)
	require.True(t, menv.IsAssigned(m1.MetavarName()))

	// Restoring forgets both the assignment and the newer metavariable.
	menv.Restore(snap)
	assert.False(t, menv.IsAssigned(m1.MetavarName()))
	assert.False(t, menv.Contains(m2.MetavarName()))

	// The same snapshot can be restored repeatedly with identical
	// results.
	menv.Assign(m1.MetavarName(), False, nil)
	menv.Restore(snap)
	assert.False(t, menv.IsAssigned(m1.MetavarName()))
	assert.Equal(t, m1.MetavarName(), menv.FindUnassigned())
}

func TestInstantiateMetavarsAppliesLocalContext(t *testing.T) {
	menv := NewMetavarEnv()
	ctx := EmptyContext.Extend(NameOf("x"), Bool).Extend(NameOf("y"), Bool)
	m := menv.MkMetavar(ctx)
	f := MkConst(NameOf("f"))

	// Mirror of using ?m through one binder: the occurrence carries a
	// lift.
	occurrence := AddLift(m, 0, 1, nil)
	menv.Assign(m.MetavarName(), MkApp(f, MkVar(0)), nil)
	assert.Same(t, MkApp(f, MkVar(1)), menv.InstantiateMetavars(occurrence))
}

func TestInstantiateMetavarsRecursive(t *testing.T) {
	menv := NewMetavarEnv()
	m1 := menv.MkMetavar(EmptyContext)
	m2 := menv.MkMetavar(EmptyContext)
	menv.Assign(m1.MetavarName(), MkApp(MkConst(NameOf("f")), m2), nil)
	menv.Assign(m2.MetavarName(), True, nil)
	assert.Same(t, MkApp(MkConst(NameOf("f")), True), menv.InstantiateMetavars(m1))
}

func TestMentionsMetavarThroughSubstitution(t *testing.T) {
	menv := NewMetavarEnv()
	m1 := menv.MkMetavar(EmptyContext)
	m2 := menv.MkMetavar(EmptyContext)
	menv.Assign(m2.MetavarName(), MkApp(MkConst(NameOf("g")), m1), nil)

	assert.True(t, menv.MentionsMetavar(m2, m1.MetavarName()))
	assert.False(t, menv.MentionsMetavar(MkConst(NameOf("c")), m1.MetavarName()))
	assert.True(t, menv.HasAssignedMetavar(MkApp(MkConst(NameOf("h")), m2)))
	assert.False(t, menv.HasAssignedMetavar(m1))
}

func TestFreezeIsImmutable(t *testing.T) {
	menv := NewMetavarEnv()
	m := menv.MkMetavar(EmptyContext)
	frozen := menv.Freeze()
	menv.Assign(m.MetavarName(), True, nil)

	assert.True(t, menv.IsAssigned(m.MetavarName()))
	assert.False(t, frozen.IsAssigned(m.MetavarName()))
}
