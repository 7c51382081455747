package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// AST construction shorthands. Every call allocates fresh nodes; the
// validator rejects graphs that share node pointers, so tests must not
// reuse helper results.

func nameLoad(id string) *pyast.Name {
	return &pyast.Name{ID: id, Ctx: pyast.Load}
}

func nameStore(id string) *pyast.Name {
	return &pyast.Name{ID: id, Ctx: pyast.Store}
}

func intLit(n int64) *pyast.Num {
	return &pyast.Num{Kind: pyast.IntKind, Int: n}
}

func strLit(s string) *pyast.Str {
	return &pyast.Str{S: s}
}

func assignStmt(target pyast.Expr, value pyast.Expr) *pyast.Assign {
	return &pyast.Assign{Targets: []pyast.Expr{target}, Value: value}
}

func exprStmt(e pyast.Expr) *pyast.ExprStmt {
	return &pyast.ExprStmt{Value: e}
}

func callExpr(fn pyast.Expr, args ...pyast.Expr) *pyast.Call {
	return &pyast.Call{Func: fn, Args: args}
}

func moduleSource() *SourceInfo {
	return &SourceInfo{
		RootKind:        RootModule,
		Interner:        pyast.NewInterner(),
		ModuleName:      "test",
		DebugCheckNames: true,
	}
}

func functionSource() *SourceInfo {
	src := moduleSource()
	src.RootKind = RootFunction
	return src
}

func mustCompute(t *testing.T, src *SourceInfo, body ...pyast.Stmt) *CFG {
	t.Helper()
	graph, err := ComputeCFG(src, body)
	require.NoError(t, err)
	require.NotNil(t, graph)
	assertInvariants(t, graph)
	return graph
}

// assertInvariants checks the universal graph properties on a finished
// (simplified) graph.
func assertInvariants(t *testing.T, graph *CFG) {
	t.Helper()

	require.NotEmpty(t, graph.Blocks)
	require.Equal(t, 0, graph.Entry().Index, "entry block index")
	require.Empty(t, graph.Entry().Preds, "entry block predecessors")

	for i, b := range graph.Blocks {
		require.Equal(t, i, b.Index, "block index matches position")
		require.NotEmpty(t, b.Body, "block %d body", i)
		require.True(t, isTerminator(b.Body[len(b.Body)-1]),
			"block %d must end in a terminator, got %s", i, StmtString(b.Body[len(b.Body)-1]))
		require.LessOrEqual(t, len(b.Succs), 2, "block %d successor count", i)

		if len(b.Succs) == 0 {
			switch b.Body[len(b.Body)-1].(type) {
			case *pyast.Return, *pyast.Raise:
			default:
				t.Fatalf("terminal block %d does not end in return or raise", i)
			}
		}
		if len(b.Succs) == 2 {
			for _, s := range b.Succs {
				require.Len(t, s.Preds, 1, "critical edge from %d to %d", b.Index, s.Index)
			}
		}

		if i > 0 {
			require.NotEmpty(t, b.Preds, "block %d predecessors", i)
			hasEarlier := false
			for _, p := range b.Preds {
				if p.Index < b.Index {
					hasEarlier = true
				}
			}
			require.True(t, hasEarlier, "block %d needs an earlier predecessor", i)
		}

		for _, s := range b.Body {
			require.NoError(t, checkBranchTest(s))
		}
	}

	// No AST node appears twice anywhere in the graph.
	seen := make(map[pyast.Node]bool)
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			flattenStmt(s, func(n pyast.Node) {
				require.False(t, seen[n], "AST node %T reused in graph", n)
				seen[n] = true
			})
		}
	}
}

// countStmts counts statements across all blocks satisfying pred,
// looking through invokes.
func countStmts(graph *CFG, pred func(pyast.Stmt) bool) int {
	count := 0
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if inv, ok := s.(*Invoke); ok {
				if pred(inv.Stmt) {
					count++
				}
				continue
			}
			if pred(s) {
				count++
			}
		}
	}
	return count
}

// whyAssignments returns the set of Why tags assigned to why
// temporaries anywhere in the graph.
func whyAssignments(graph *CFG, whySuffix string) map[int64]bool {
	out := make(map[int64]bool)
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			assign, ok := s.(*pyast.Assign)
			if !ok {
				continue
			}
			target, ok := assign.Targets[0].(*pyast.Name)
			if !ok || !IsTemporary(target.ID) {
				continue
			}
			if len(target.ID) < len(whySuffix) || target.ID[len(target.ID)-len(whySuffix):] != whySuffix {
				continue
			}
			if num, ok := assign.Value.(*pyast.Num); ok {
				out[num.Int] = true
			}
		}
	}
	return out
}
