package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// whyCompares returns the set of Why values the graph compares a why
// temporary against.
func whyCompares(graph *CFG) map[int64]bool {
	out := make(map[int64]bool)
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			assign, ok := s.(*pyast.Assign)
			if !ok {
				continue
			}
			cmp, ok := assign.Value.(*pyast.Compare)
			if !ok || len(cmp.Ops) != 1 || cmp.Ops[0] != "==" {
				continue
			}
			if num, ok := cmp.Comparators[0].(*pyast.Num); ok {
				out[num.Int] = true
			}
		}
	}
	return out
}

func TestTryFinallyFallthrough(t *testing.T) {
	// try: f()
	// finally: g()
	graph := mustCompute(t, moduleSource(),
		&pyast.TryFinally{
			Body:      []pyast.Stmt{exprStmt(callExpr(nameLoad("f")))},
			Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
		},
	)

	// The body invokes f with an exception edge landing the triple.
	assert.Greater(t, countInvokes(graph), 0)
	assert.Greater(t, countLandingpads(graph), 0)

	// Both entry reasons are recorded: normal fallthrough and the
	// exception path.
	whys := whyAssignments(graph, "_why")
	assert.True(t, whys[int64(WhyFallthrough)], "fallthrough tag written")
	assert.True(t, whys[int64(WhyException)], "exception tag written")

	// The finally tail checks for the exception reason and re-raises
	// with the saved triple.
	compares := whyCompares(graph)
	assert.True(t, compares[int64(WhyException)])

	reraises := countStmts(graph, func(s pyast.Stmt) bool {
		raise, ok := s.(*pyast.Raise)
		return ok && raise.Type != nil && raise.Value != nil && raise.Traceback != nil
	})
	assert.Equal(t, 1, reraises)
}

func TestTryFinallyReturn(t *testing.T) {
	// def-root:
	// try: return x
	// finally: g()
	graph := mustCompute(t, functionSource(),
		&pyast.TryFinally{
			Body:      []pyast.Stmt{&pyast.Return{Value: nameLoad("x")}},
			Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
		},
	)

	whys := whyAssignments(graph, "_why")
	assert.True(t, whys[int64(WhyReturn)], "return tag written before entering the finally")

	compares := whyCompares(graph)
	assert.True(t, compares[int64(WhyReturn)], "finally tail dispatches on RETURN")

	// The intercepted return stashes the value in the well-known slot
	// and the tail re-returns it.
	rtnvalStores := 0
	rtnvalReturns := 0
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if assign, ok := s.(*pyast.Assign); ok {
				if name, ok := assign.Targets[0].(*pyast.Name); ok && name.ID == ReturnName {
					rtnvalStores++
				}
			}
			if ret, ok := s.(*pyast.Return); ok && ret.Value != nil {
				if name, ok := ret.Value.(*pyast.Name); ok && name.ID == ReturnName {
					rtnvalReturns++
				}
			}
		}
	}
	assert.Equal(t, 1, rtnvalStores)
	assert.Equal(t, 1, rtnvalReturns)
}

func TestTryFinallyContinueDispatch(t *testing.T) {
	// while a:
	//     try: continue
	//     finally: g()
	//
	// The finally tail must compare the why tag against CONTINUE — the
	// same value doContinue writes — so the continue actually resumes.
	graph := mustCompute(t, moduleSource(),
		&pyast.While{
			Test: nameLoad("a"),
			Body: []pyast.Stmt{
				&pyast.TryFinally{
					Body:      []pyast.Stmt{&pyast.Continue{}},
					Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
				},
			},
		},
	)

	whys := whyAssignments(graph, "_why")
	assert.True(t, whys[int64(WhyContinue)], "continue tag written")

	compares := whyCompares(graph)
	assert.True(t, compares[int64(WhyContinue)], "finally tail dispatches on the CONTINUE tag")
}

func TestTryFinallyBreakDispatch(t *testing.T) {
	graph := mustCompute(t, moduleSource(),
		&pyast.While{
			Test: nameLoad("a"),
			Body: []pyast.Stmt{
				&pyast.TryFinally{
					Body:      []pyast.Stmt{&pyast.Break{}},
					Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
				},
			},
		},
	)

	whys := whyAssignments(graph, "_why")
	assert.True(t, whys[int64(WhyBreak)])
	assert.True(t, whyCompares(graph)[int64(WhyBreak)])
}

func TestNestedFinallyReturnRunsBothTails(t *testing.T) {
	// try:
	//     try: return x
	//     finally: g()
	// finally: h()
	//
	// The inner finally intercepts the return first, then re-returns,
	// which the outer finally intercepts in turn.
	graph := mustCompute(t, functionSource(),
		&pyast.TryFinally{
			Body: []pyast.Stmt{
				&pyast.TryFinally{
					Body:      []pyast.Stmt{&pyast.Return{Value: nameLoad("x")}},
					Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
				},
			},
			Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("h")))},
		},
	)

	rtnvalStores := 0
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if assign, ok := s.(*pyast.Assign); ok {
				if name, ok := assign.Targets[0].(*pyast.Name); ok && name.ID == ReturnName {
					rtnvalStores++
				}
			}
		}
	}
	// Once from the original return, once from the inner tail's
	// re-return being intercepted by the outer continuation.
	assert.Equal(t, 2, rtnvalStores)
}

func TestWithStatement(t *testing.T) {
	// with m() as v: f(v)
	graph := mustCompute(t, moduleSource(),
		&pyast.With{
			ContextExpr:  callExpr(nameLoad("m")),
			OptionalVars: nameStore("v"),
			Body:         []pyast.Stmt{exprStmt(callExpr(nameLoad("f"), nameLoad("v")))},
		},
	)

	// __exit__ and __enter__ are looked up on the manager's type.
	protocolLookups := map[string]int{}
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			stmt := s
			if inv, ok := s.(*Invoke); ok {
				stmt = inv.Stmt
			}
			assign, ok := stmt.(*pyast.Assign)
			if !ok {
				continue
			}
			switch val := assign.Value.(type) {
			case *pyast.ClsAttribute:
				protocolLookups[val.Attr]++
			case *pyast.Call:
				if attr, ok := val.Func.(*pyast.ClsAttribute); ok {
					protocolLookups[attr.Attr]++
				}
			}
		}
	}
	assert.Equal(t, 1, protocolLookups["__exit__"])
	assert.Equal(t, 1, protocolLookups["__enter__"])

	// The as-target is bound.
	vBound := false
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if assign, ok := s.(*pyast.Assign); ok {
				if name, ok := assign.Targets[0].(*pyast.Name); ok && name.ID == "v" {
					vBound = true
				}
			}
		}
	}
	assert.True(t, vBound)

	// Exceptions route to the exception block directly (no why tag);
	// the normal path records FALLTHROUGH before the finally. The
	// suppress branch reaches the exit through a trampoline (never a
	// critical edge — checked by assertInvariants).
	whys := whyAssignments(graph, "_why")
	assert.True(t, whys[int64(WhyFallthrough)])
	assert.False(t, whys[int64(WhyException)])

	reraises := countStmts(graph, func(s pyast.Stmt) bool {
		raise, ok := s.(*pyast.Raise)
		return ok && raise.Type != nil
	})
	assert.GreaterOrEqual(t, reraises, 1)
}

func TestWithBreakInLoop(t *testing.T) {
	// while a:
	//     with m(): break
	graph := mustCompute(t, moduleSource(),
		&pyast.While{
			Test: nameLoad("a"),
			Body: []pyast.Stmt{
				&pyast.With{
					ContextExpr: callExpr(nameLoad("m")),
					Body:        []pyast.Stmt{&pyast.Break{}},
				},
			},
		},
	)

	assert.True(t, whyAssignments(graph, "_why")[int64(WhyBreak)])
	assert.True(t, whyCompares(graph)[int64(WhyBreak)])
}

func TestStackDisciplineAcrossUnits(t *testing.T) {
	// A second lowering on the same SourceInfo shape works: stacks are
	// per-visitor, and nothing leaks between runs.
	body := func() []pyast.Stmt {
		return []pyast.Stmt{
			&pyast.While{
				Test: nameLoad("a"),
				Body: []pyast.Stmt{
					&pyast.TryFinally{
						Body:      []pyast.Stmt{&pyast.Break{}},
						Finalbody: []pyast.Stmt{exprStmt(callExpr(nameLoad("g")))},
					},
				},
			},
		}
	}

	first := mustCompute(t, moduleSource(), body()...)
	second := mustCompute(t, moduleSource(), body()...)
	require.Equal(t, first.Dump(), second.Dump(), "lowering is deterministic")
}
