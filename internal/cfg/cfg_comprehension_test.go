package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

func comp(target, iter pyast.Expr, ifs ...pyast.Expr) *pyast.Comprehension {
	return &pyast.Comprehension{Target: target, Iter: iter, Ifs: ifs}
}

func TestListComprehension(t *testing.T) {
	// [x for x in xs if p(x)]
	graph := mustCompute(t, moduleSource(),
		exprStmt(&pyast.ListComp{
			Elt: nameLoad("x"),
			Generators: []*pyast.Comprehension{
				comp(nameStore("x"), nameLoad("xs"), callExpr(nameLoad("p"), nameLoad("x"))),
			},
		}),
	)

	// The accumulator starts as an empty list.
	emptyLists := 0
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if assign, ok := s.(*pyast.Assign); ok {
				if list, ok := assign.Value.(*pyast.List); ok && len(list.Elts) == 0 {
					emptyLists++
				}
			}
		}
	}
	assert.Equal(t, 1, emptyLists)

	// The iterator protocol drives the loop.
	getIter := countStmts(graph, func(s pyast.Stmt) bool {
		assign, ok := s.(*pyast.Assign)
		if !ok {
			return false
		}
		prim, ok := assign.Value.(*pyast.LangPrimitive)
		return ok && prim.Op == pyast.PrimGetIter
	})
	assert.Equal(t, 1, getIter)

	// The innermost body appends into the accumulator.
	appends := countStmts(graph, func(s pyast.Stmt) bool {
		expr, ok := s.(*pyast.ExprStmt)
		if !ok {
			return false
		}
		call, ok := expr.Value.(*pyast.Call)
		if !ok {
			return false
		}
		attr, ok := call.Func.(*pyast.ClsAttribute)
		return ok && attr.Attr == "append"
	})
	assert.Equal(t, 1, appends)

	// The filter creates a back-jump to the test block: the trampoline
	// taken when p(x) is falsy.
	backJumps := 0
	for _, b := range graph.Blocks {
		for _, s := range b.Body {
			if j, ok := s.(*Jump); ok && j.Target.Index <= b.Index {
				backJumps++
			}
		}
	}
	// One from the filter trampoline, one from the append body.
	assert.Equal(t, 2, backJumps)
}

func TestNestedComprehensionExitOrder(t *testing.T) {
	// [x for ys in xss for x in ys]: the exits are stacked so the
	// outermost is placed last, mirroring nested for loops.
	graph := mustCompute(t, moduleSource(),
		exprStmt(&pyast.ListComp{
			Elt: nameLoad("x"),
			Generators: []*pyast.Comprehension{
				comp(nameStore("ys"), nameLoad("xss")),
				comp(nameStore("x"), nameLoad("ys")),
			},
		}),
	)

	getIters := countStmts(graph, func(s pyast.Stmt) bool {
		assign, ok := s.(*pyast.Assign)
		if !ok {
			return false
		}
		prim, ok := assign.Value.(*pyast.LangPrimitive)
		return ok && prim.Op == pyast.PrimGetIter
	})
	assert.Equal(t, 2, getIters)

	// The inner exit jumps back to the outer test; the outer exit comes
	// after it, as the last block.
	var exits []*Block
	for _, b := range graph.Blocks {
		if b.Label == "comprehension_exit" {
			exits = append(exits, b)
		}
	}
	require.Len(t, exits, 2)
	assert.Same(t, graph.Blocks[len(graph.Blocks)-1], exits[1], "outermost exit placed last")
	require.Len(t, exits[0].Succs, 1)
	assert.Less(t, exits[0].Succs[0].Index, exits[0].Index, "inner exit jumps back to the outer test")
}

func TestDictComprehension(t *testing.T) {
	// {k: v for k, v in items}
	graph := mustCompute(t, moduleSource(),
		exprStmt(&pyast.DictComp{
			Key:   nameLoad("k"),
			Value: nameLoad("v"),
			Generators: []*pyast.Comprehension{
				comp(&pyast.Tuple{Ctx: pyast.Store, Elts: []pyast.Expr{nameStore("k"), nameStore("v")}},
					nameLoad("items")),
			},
		}),
	)

	setitems := countStmts(graph, func(s pyast.Stmt) bool {
		expr, ok := s.(*pyast.ExprStmt)
		if !ok {
			return false
		}
		call, ok := expr.Value.(*pyast.Call)
		if !ok {
			return false
		}
		attr, ok := call.Func.(*pyast.ClsAttribute)
		return ok && attr.Attr == "__setitem__"
	})
	assert.Equal(t, 1, setitems)
}

func TestSetComprehension(t *testing.T) {
	graph := mustCompute(t, moduleSource(),
		exprStmt(&pyast.SetComp{
			Elt: nameLoad("x"),
			Generators: []*pyast.Comprehension{
				comp(nameStore("x"), nameLoad("xs")),
			},
		}),
	)

	adds := countStmts(graph, func(s pyast.Stmt) bool {
		expr, ok := s.(*pyast.ExprStmt)
		if !ok {
			return false
		}
		call, ok := expr.Value.(*pyast.Call)
		if !ok {
			return false
		}
		attr, ok := call.Func.(*pyast.ClsAttribute)
		return ok && attr.Attr == "add"
	})
	assert.Equal(t, 1, adds)
}

// scopeRecorder records RegisterScopeReplacement calls.
type scopeRecorder struct {
	originals    []pyast.Node
	replacements []*pyast.FunctionDef
}

func (r *scopeRecorder) RegisterScopeReplacement(original pyast.Node, replacement *pyast.FunctionDef) {
	r.originals = append(r.originals, original)
	r.replacements = append(r.replacements, replacement)
}

func TestGeneratorExpression(t *testing.T) {
	// (x for x in xs if p(x))
	recorder := &scopeRecorder{}
	src := moduleSource()
	src.Scoping = recorder

	genexp := &pyast.GeneratorExp{
		Elt: nameLoad("x"),
		Generators: []*pyast.Comprehension{
			comp(nameStore("x"), nameLoad("xs"), callExpr(nameLoad("p"), nameLoad("x"))),
		},
	}
	graph := mustCompute(t, src, assignStmt(nameStore("g"), genexp))

	// The synthesis was registered with the scoping analysis.
	require.Len(t, recorder.replacements, 1)
	assert.Same(t, genexp, recorder.originals[0].(*pyast.GeneratorExp))

	fn := recorder.replacements[0]
	assert.True(t, IsTemporary(fn.Name))
	require.Len(t, fn.Args.Args, 1, "outermost iterable is passed as a parameter")

	// The synthesized body is a for loop wrapping an if wrapping the
	// yield.
	require.Len(t, fn.Body, 1)
	loop := fn.Body[0].(*pyast.For)
	require.Len(t, loop.Body, 1)
	cond := loop.Body[0].(*pyast.If)
	require.Len(t, cond.Body, 1)
	yieldStmt := cond.Body[0].(*pyast.ExprStmt)
	assert.IsType(t, &pyast.Yield{}, yieldStmt.Value)

	// The function definition is emitted, and the expression becomes a
	// call of it on the (outer-scope-evaluated) first iterable.
	fnDefs := countStmts(graph, func(s pyast.Stmt) bool {
		def, ok := s.(*pyast.FunctionDef)
		return ok && def == fn
	})
	assert.Equal(t, 1, fnDefs)
}

func TestGeneratorExpressionInnerIterables(t *testing.T) {
	// (x for ys in xss for x in ys): only the first iterable is
	// evaluated in the enclosing scope.
	recorder := &scopeRecorder{}
	src := moduleSource()
	src.Scoping = recorder

	mustCompute(t, src, assignStmt(nameStore("g"), &pyast.GeneratorExp{
		Elt: nameLoad("x"),
		Generators: []*pyast.Comprehension{
			comp(nameStore("ys"), nameLoad("xss")),
			comp(nameStore("x"), nameLoad("ys")),
		},
	}))

	require.Len(t, recorder.replacements, 1)
	fn := recorder.replacements[0]

	outer := fn.Body[0].(*pyast.For)
	outerIter, ok := outer.Iter.(*pyast.Name)
	require.True(t, ok)
	assert.True(t, IsTemporary(outerIter.ID), "outer loop iterates the passed-in parameter")

	inner := outer.Body[0].(*pyast.For)
	innerIter, ok := inner.Iter.(*pyast.Name)
	require.True(t, ok)
	assert.Equal(t, "ys", innerIter.ID, "inner iterable evaluated inside the generator")
}
