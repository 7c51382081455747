package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

func TestNamer(t *testing.T) {
	t.Run("StableIdentityPerNode", func(t *testing.T) {
		n := newNamer(pyast.NewInterner(), false)
		a := nameLoad("a")
		b := nameLoad("b")

		first := n.nodeName(a)
		assert.Equal(t, first, n.nodeName(a), "same node, same name")
		assert.NotEqual(t, first, n.nodeName(b), "distinct nodes, distinct names")
	})

	t.Run("Forms", func(t *testing.T) {
		n := newNamer(pyast.NewInterner(), false)
		node := nameLoad("x")

		assert.Equal(t, "#1", n.nodeName(node))
		assert.Equal(t, "#1_why", n.suffixedName(node, "why"))
		assert.Equal(t, "#1_lc_iter_0", n.indexedName(node, "lc_iter", 0))
	})

	t.Run("HashPrefix", func(t *testing.T) {
		n := newNamer(pyast.NewInterner(), false)
		assert.True(t, IsTemporary(n.nodeName(nameLoad("x"))))
		assert.True(t, IsTemporary(ReturnName))
		assert.False(t, IsTemporary("x"))
	})

	t.Run("CollisionAudit", func(t *testing.T) {
		n := newNamer(pyast.NewInterner(), true)
		node := nameLoad("x")
		n.suffixedName(node, "why")
		assert.Panics(t, func() { n.suffixedName(node, "why") })
	})

	t.Run("AuditOffAllowsRepeats", func(t *testing.T) {
		n := newNamer(pyast.NewInterner(), false)
		node := nameLoad("x")
		assert.NotPanics(t, func() {
			n.suffixedName(node, "why")
			n.suffixedName(node, "why")
		})
	})
}
