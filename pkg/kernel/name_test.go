package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameInterning(t *testing.T) {
	a := NameOf("foo", "bar")
	b := NameOf("foo").Str("bar")
	assert.Same(t, a, b)
	assert.True(t, a.Equal(b))

	c := NameOf("foo").Num(3)
	d := NameOf("foo").Num(3)
	assert.Same(t, c, d)
	assert.False(t, a.Equal(c))
}

func TestNameString(t *testing.T) {
	assert.Equal(t, "[anonymous]", Anonymous.String())
	assert.Equal(t, "foo.bar", NameOf("foo", "bar").String())
	assert.Equal(t, "foo.7", NameOf("foo").Num(7).String())
}

func TestNameHashStable(t *testing.T) {
	a := NameOf("kernel", "normalizer")
	require.Equal(t, a.Hash(), NameOf("kernel", "normalizer").Hash())
	assert.NotEqual(t, a.Hash(), NameOf("kernel", "elaborator").Hash())
}

func TestNameParent(t *testing.T) {
	n := NameOf("a", "b")
	assert.Same(t, NameOf("a"), n.Parent())
	assert.True(t, NameOf("a").Parent().IsAnonymous())
}
