package cfg

import (
	"fmt"
	"strings"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// ReturnName is the well-known slot a return value is stored in when a
// return has to detour through a finally block.
const ReturnName = "#rtnval"

// namer produces the generated temporary identifiers. Every name starts
// with '#', which the parser guarantees no user identifier does; the
// invoke-wrapping layer keys on that prefix. Identity numbers are
// assigned per originating AST node, so a node seeds the same number
// every time but two live nodes never share one.
type namer struct {
	interner *pyast.Interner
	ids      map[pyast.Node]int
	next     int

	// made records every produced name when collision auditing is on
	// (SourceInfo.DebugCheckNames); producing the same name twice is a
	// bug in the pass.
	made map[string]struct{}
}

func newNamer(interner *pyast.Interner, audit bool) *namer {
	n := &namer{
		interner: interner,
		ids:      make(map[pyast.Node]int),
	}
	if audit {
		n.made = make(map[string]struct{})
	}
	return n
}

func (n *namer) nodeID(node pyast.Node) int {
	if id, ok := n.ids[node]; ok {
		return id
	}
	n.next++
	n.ids[node] = n.next
	return n.next
}

// nodeName returns the temporary for node itself: "#<id>".
func (n *namer) nodeName(node pyast.Node) string {
	return n.intern(fmt.Sprintf("#%d", n.nodeID(node)))
}

// suffixedName returns "#<id>_<suffix>".
func (n *namer) suffixedName(node pyast.Node, suffix string) string {
	return n.intern(fmt.Sprintf("#%d_%s", n.nodeID(node), suffix))
}

// indexedName returns "#<id>_<suffix>_<i>".
func (n *namer) indexedName(node pyast.Node, suffix string, i int) string {
	return n.intern(fmt.Sprintf("#%d_%s_%d", n.nodeID(node), suffix, i))
}

func (n *namer) intern(s string) string {
	if n.made != nil {
		if _, seen := n.made[s]; seen {
			internalf("temporary name %q generated twice", s)
		}
		n.made[s] = struct{}{}
	}
	return n.interner.Intern(s)
}

// IsTemporary reports whether id is a generated name.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, "#")
}
