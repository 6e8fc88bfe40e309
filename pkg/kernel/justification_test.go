package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependsOnReachability(t *testing.T) {
	a1 := &Assumption{ID: 1}
	a2 := &Assumption{ID: 2}
	c := MkEqConstraint(EmptyContext, True, False, a1)
	d := &Destruct{C: c}

	assert.True(t, DependsOn(d, a1))
	assert.False(t, DependsOn(d, a2))
	assert.True(t, DependsOn(a1, a1))
	assert.False(t, DependsOn(nil, a1))
}

func TestDependsOnSharedDag(t *testing.T) {
	// A deeply shared diamond: naive traversal without a visited set is
	// exponential, so this would not finish in time.
	root := Justification(&Assumption{ID: 0})
	for i := 0; i < 64; i++ {
		c := MkEqConstraint(EmptyContext, True, True, root)
		root = &Substitution{C: c, Subs: []Justification{root, root}}
	}
	missing := &Assumption{ID: 99}
	assert.False(t, DependsOn(root, missing))
	assert.True(t, DependsOn(root, root))
}

func TestFailureByCasesChildren(t *testing.T) {
	a1 := &Assumption{ID: 1}
	a2 := &Assumption{ID: 2}
	c := MkEqConstraint(EmptyContext, True, False, nil)
	f1 := &UnificationFailure{C: MkEqConstraint(EmptyContext, True, False, a1)}
	f2 := &UnificationFailure{C: MkEqConstraint(EmptyContext, True, False, a2)}
	byCases := &FailureByCases{C: c, Failed: []Justification{f1, f2}}

	// The widened conflict depends on every failed branch.
	assert.True(t, DependsOn(byCases, a1))
	assert.True(t, DependsOn(byCases, a2))
}

func TestExplainJustification(t *testing.T) {
	a := &Assumption{ID: 3}
	c := MkEqConstraint(EmptyContext, True, False, a)
	out := ExplainJustification(&UnificationFailure{C: c})
	require.Contains(t, out, "failed to unify")
	require.Contains(t, out, "assumption 3")
}
