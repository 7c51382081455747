// Package cfg lowers a Python AST into a control-flow graph of basic
// blocks whose bodies are straight-line, temporary-normalized
// statements, suitable for type analysis and code generation.
package cfg

import (
	"fmt"
	"strings"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// Block is a basic block. Index is -1 while the block is deferred and
// becomes the block's position in the graph order on placement.
type Block struct {
	Index int

	// Label is a free-form debug label.
	Label string

	// Body is the ordered sequence of lowered statements. It always
	// ends in a terminator once the graph is finished.
	Body []pyast.Stmt

	Preds []*Block
	Succs []*Block
}

// ConnectTo appends an edge from b to succ. Unless allowBackedge is
// set, b must already be placed and succ must be deferred or later in
// the block order.
func (b *Block) ConnectTo(succ *Block, allowBackedge bool) {
	if len(b.Succs) > 1 {
		internalf("block %d already has %d successors", b.Index, len(b.Succs))
	}
	if !allowBackedge {
		if b.Index < 0 {
			internalf("forward edge from unplaced block %q", b.Label)
		}
		if succ.Index != -1 && succ.Index <= b.Index {
			internalf("edge from %d (%s) to %d (%s)", b.Index, b.Label, succ.Index, succ.Label)
		}
	}
	b.Succs = append(b.Succs, succ)
	succ.Preds = append(succ.Preds, b)
}

// UnconnectFrom removes the edge from b to succ.
func (b *Block) UnconnectFrom(succ *Block) {
	b.Succs = removeBlock(b.Succs, succ)
	succ.Preds = removeBlock(succ.Preds, b)
}

func removeBlock(blocks []*Block, target *Block) []*Block {
	out := blocks[:0]
	for _, blk := range blocks {
		if blk != target {
			out = append(out, blk)
		}
	}
	return out
}

func (b *Block) push(stmt pyast.Stmt) {
	b.Body = append(b.Body, stmt)
}

// CFG is a control-flow graph. Blocks are stored in placement order;
// a block's Index equals its position.
type CFG struct {
	Blocks []*Block
}

// NewCFG creates an empty graph.
func NewCFG() *CFG {
	return &CFG{}
}

// AddBlock creates a block, places it at the tail, and assigns the next
// index.
func (c *CFG) AddBlock() *Block {
	b := &Block{Index: len(c.Blocks)}
	c.Blocks = append(c.Blocks, b)
	return b
}

// AddDeferredBlock creates a block with no place in the block order.
// Deferred blocks let the builder wire branches whose destinations are
// not laid out yet; they must be placed (or discarded unreferenced)
// before the graph is finished.
func (c *CFG) AddDeferredBlock() *Block {
	return &Block{Index: -1}
}

// PlaceBlock inserts a previously deferred block at the current tail.
func (c *CFG) PlaceBlock(b *Block) {
	if b.Index != -1 {
		internalf("block %d (%s) placed twice", b.Index, b.Label)
	}
	b.Index = len(c.Blocks)
	c.Blocks = append(c.Blocks, b)
}

// Entry returns the starting block.
func (c *CFG) Entry() *Block {
	return c.Blocks[0]
}

// ---------------------------------------------------------------------------
// Lowered terminators. These satisfy pyast.Stmt by embedding StmtBase,
// so they can live in block bodies next to ordinary statements.

// Jump transfers control unconditionally to Target.
type Jump struct {
	pyast.StmtBase
	Target *Block
}

// String implements fmt.Stringer for debug dumps.
func (j *Jump) String() string {
	return fmt.Sprintf("jump %d", j.Target.Index)
}

// Branch transfers control to True or False depending on Test, which is
// always a name reference or a numeric literal.
type Branch struct {
	pyast.StmtBase
	Test  pyast.Expr
	True  *Block
	False *Block
}

func (br *Branch) String() string {
	return fmt.Sprintf("if %s: jump %d else jump %d", pyast.ExprString(br.Test), br.True.Index, br.False.Index)
}

// Invoke wraps a side-effecting statement with an explicit exception
// edge: control continues at Normal, or at Exc if the statement raises.
type Invoke struct {
	pyast.StmtBase
	Stmt   pyast.Stmt
	Normal *Block
	Exc    *Block
}

func (iv *Invoke) String() string {
	return fmt.Sprintf("invoke %d %d: %s", iv.Normal.Index, iv.Exc.Index, StmtString(iv.Stmt))
}

// StmtString renders any lowered statement, delegating to pyast for the
// ordinary kinds.
func StmtString(s pyast.Stmt) string {
	return pyast.StmtString(s)
}

// Dump returns a textual listing of the graph: one header per block
// with its index, label, and predecessor/successor indices, followed by
// indented statement pretty-prints.
func (c *CFG) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CFG: %d blocks\n", len(c.Blocks))
	for _, blk := range c.Blocks {
		fmt.Fprintf(&b, "Block %d", blk.Index)
		if blk.Label != "" {
			fmt.Fprintf(&b, " '%s'", blk.Label)
		}
		b.WriteString("; Predecessors:")
		for _, p := range blk.Preds {
			fmt.Fprintf(&b, " %d", p.Index)
		}
		b.WriteString(" Successors:")
		for _, s := range blk.Succs {
			fmt.Fprintf(&b, " %d", s.Index)
		}
		b.WriteString("\n")
		for _, stmt := range blk.Body {
			fmt.Fprintf(&b, "    %s\n", StmtString(stmt))
		}
	}
	return b.String()
}

// String returns a short description of the graph.
func (c *CFG) String() string {
	return fmt.Sprintf("CFG(%d blocks)", len(c.Blocks))
}
