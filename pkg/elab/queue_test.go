package elab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

func mkTestConstraint(i int) *kernel.Constraint {
	return kernel.MkEqConstraint(kernel.EmptyContext, kernel.MkVar(i), kernel.True, nil)
}

func TestQueueFIFO(t *testing.T) {
	var q Queue
	for i := 0; i < 5; i++ {
		q = q.PushBack(mkTestConstraint(i))
	}
	require.Equal(t, 5, q.Size())
	for i := 0; i < 5; i++ {
		var c *kernel.Constraint
		c, q = q.PopFront()
		assert.Equal(t, i, c.A.VarIdx())
	}
	assert.True(t, q.Empty())
}

func TestQueuePushFront(t *testing.T) {
	var q Queue
	q = q.PushBack(mkTestConstraint(1))
	q = q.PushFront(mkTestConstraint(0))
	c, q := q.PopFront()
	assert.Equal(t, 0, c.A.VarIdx())
	c, _ = q.PopFront()
	assert.Equal(t, 1, c.A.VarIdx())
}

func TestQueuePersistence(t *testing.T) {
	var q Queue
	for i := 0; i < 3; i++ {
		q = q.PushBack(mkTestConstraint(i))
	}
	saved := q

	// Draining the live queue leaves the snapshot intact.
	for !q.Empty() {
		_, q = q.PopFront()
	}
	q = q.PushBack(mkTestConstraint(9))

	require.Equal(t, 3, saved.Size())
	var got []int
	saved.ForEach(func(c *kernel.Constraint) {
		got = append(got, c.A.VarIdx())
	})
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestQueuePopEmpty(t *testing.T) {
	var q Queue
	c, q2 := q.PopFront()
	assert.Nil(t, c)
	assert.True(t, q2.Empty())
}
