package cfg

import (
	"fmt"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// Validate checks the properties later stages rely on. A non-nil error
// means the pass has a bug, not that the input was bad.
func (c *CFG) Validate() error {
	if len(c.Blocks) == 0 {
		return internalError("internal error: empty graph")
	}
	if c.Entry().Index != 0 {
		return internalError("internal error: entry block index is not 0")
	}
	if len(c.Entry().Preds) != 0 {
		return internalError("internal error: entry block has predecessors")
	}

	for i, b := range c.Blocks {
		if b.Index == -1 {
			return internalError("internal error: forgot to place a block")
		}
		if b.Index != i {
			return internalError(fmt.Sprintf("internal error: block %d stored at position %d", b.Index, i))
		}
		for _, p := range b.Preds {
			if p.Index == -1 {
				return internalError(fmt.Sprintf("internal error: block %d has an unplaced predecessor", b.Index))
			}
		}
		for _, s := range b.Succs {
			if s.Index == -1 {
				return internalError(fmt.Sprintf("internal error: block %d has an unplaced successor", b.Index))
			}
		}

		if len(b.Body) == 0 {
			return internalError(fmt.Sprintf("internal error: block %d is empty", b.Index))
		}
		if len(b.Succs) > 2 {
			return internalError(fmt.Sprintf("internal error: block %d has too many successors", b.Index))
		}
		if !isTerminator(b.Body[len(b.Body)-1]) {
			return internalError(fmt.Sprintf("internal error: block %d does not end in a terminator: %s",
				b.Index, StmtString(b.Body[len(b.Body)-1])))
		}
		if len(b.Succs) == 0 {
			switch b.Body[len(b.Body)-1].(type) {
			case *pyast.Return, *pyast.Raise:
			default:
				return internalError(fmt.Sprintf("internal error: terminal block %d does not end in return or raise", b.Index))
			}
		}
		for _, s := range b.Body {
			if err := checkBranchTest(s); err != nil {
				return err
			}
		}

		if i == 0 {
			continue
		}
		if len(b.Preds) == 0 {
			return internalError(fmt.Sprintf("internal error: block %d has no predecessors", b.Index))
		}
		hasEarlier := false
		for _, p := range b.Preds {
			if p.Index < b.Index {
				hasEarlier = true
			}
		}
		if !hasEarlier {
			return internalError(fmt.Sprintf("internal error: block %d has no earlier predecessor", b.Index))
		}
		// Later phases rely on the first predecessor being earlier.
		if b.Preds[0].Index >= b.Index {
			return internalError(fmt.Sprintf("internal error: block %d's first predecessor is not earlier", b.Index))
		}
	}

	// The IR generation requires that there are no critical edges; the
	// builder avoids creating them rather than breaking them in a
	// separate pass, so double-check.
	for _, b := range c.Blocks {
		if len(b.Succs) < 2 {
			continue
		}
		for _, s := range b.Succs {
			if len(s.Preds) >= 2 {
				return internalError(fmt.Sprintf("internal error: critical edge from %d to %d", b.Index, s.Index))
			}
		}
	}

	// Later phases assume every AST node pointer is unique within the
	// graph: the expression lowerer must construct fresh nodes.
	seen := make(map[pyast.Node]int)
	var dup pyast.Node
	for _, b := range c.Blocks {
		for _, s := range b.Body {
			flattenStmt(s, func(n pyast.Node) {
				seen[n]++
				if seen[n] == 2 && dup == nil {
					dup = n
				}
			})
		}
	}
	if dup != nil {
		return internalError(fmt.Sprintf("internal error: AST node reused in graph: %T", dup))
	}

	return nil
}

func isTerminator(s pyast.Stmt) bool {
	switch s.(type) {
	case *Jump, *Branch, *Invoke, *pyast.Return, *pyast.Raise:
		return true
	default:
		return false
	}
}

func checkBranchTest(s pyast.Stmt) error {
	br, ok := s.(*Branch)
	if !ok {
		return nil
	}
	switch br.Test.(type) {
	case *pyast.Name, *pyast.Num:
		return nil
	default:
		return internalError(fmt.Sprintf("internal error: branch test is not a primitive: %s", pyast.ExprString(br.Test)))
	}
}

// flattenStmt enumerates every AST node reachable from a lowered
// statement, descending through invokes.
func flattenStmt(s pyast.Stmt, f func(pyast.Node)) {
	switch stmt := s.(type) {
	case *Jump:
		f(stmt)
	case *Branch:
		f(stmt)
		pyast.Walk(stmt.Test, func(n pyast.Node) bool { f(n); return true })
	case *Invoke:
		f(stmt)
		flattenStmt(stmt.Stmt, f)
	default:
		pyast.Walk(s, func(n pyast.Node) bool {
			// Function and class bodies are not lowered by this pass
			// and may legitimately share nodes with the enclosing
			// graph (a generator expression's iterables, for example),
			// so only their enclosing-scope parts are inspected.
			switch inner := n.(type) {
			case *pyast.FunctionDef:
				f(inner)
				for _, d := range inner.Decorators {
					pyast.Walk(d, func(m pyast.Node) bool { f(m); return true })
				}
				if inner.Args != nil {
					for _, d := range inner.Args.Defaults {
						pyast.Walk(d, func(m pyast.Node) bool { f(m); return true })
					}
				}
				return false
			case *pyast.ClassDef:
				f(inner)
				for _, d := range inner.Decorators {
					pyast.Walk(d, func(m pyast.Node) bool { f(m); return true })
				}
				for _, b := range inner.Bases {
					pyast.Walk(b, func(m pyast.Node) bool { f(m); return true })
				}
				return false
			case *pyast.Lambda:
				f(inner)
				return false
			}
			f(n)
			return true
		})
	}
}

// Simplify fuses a block into its unique jump successor when that
// successor has no other predecessors. Running it again is a no-op.
func (c *CFG) Simplify() {
	for i := 0; i < len(c.Blocks); i++ {
		b := c.Blocks[i]
		for len(b.Succs) == 1 {
			b2 := b.Succs[0]
			if len(b2.Preds) != 1 {
				break
			}

			last := b.Body[len(b.Body)-1]
			if inv, ok := last.(*Invoke); ok {
				// A raise-invoke has a single successor but is not a
				// plain jump; leave it alone.
				if inv.Normal != inv.Exc {
					internalf("single-successor invoke with distinct destinations")
				}
				break
			}
			if _, ok := last.(*Jump); !ok {
				internalf("single-successor block %d does not end in a jump", b.Index)
			}

			b.Body = b.Body[:len(b.Body)-1]
			b.Body = append(b.Body, b2.Body...)
			b.UnconnectFrom(b2)

			for len(b2.Succs) > 0 {
				b3 := b2.Succs[0]
				b.ConnectTo(b3, true)
				b2.UnconnectFrom(b3)
			}

			c.removeBlock(b2)
		}
	}
	c.reindex()
}

func (c *CFG) removeBlock(b *Block) {
	for i, blk := range c.Blocks {
		if blk == b {
			c.Blocks = append(c.Blocks[:i], c.Blocks[i+1:]...)
			return
		}
	}
}

// reindex renumbers blocks to their positions after removals.
func (c *CFG) reindex() {
	for i, b := range c.Blocks {
		b.Index = i
	}
}
