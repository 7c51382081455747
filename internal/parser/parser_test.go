package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

func parseSource(t *testing.T, source string) *Module {
	t.Helper()
	mod, err := New().Parse(context.Background(), []byte(source))
	require.NoError(t, err)
	return mod
}

func TestParseAssignment(t *testing.T) {
	mod := parseSource(t, "x = 1\n")
	require.Len(t, mod.Body, 1)

	assign, ok := mod.Body[0].(*pyast.Assign)
	require.True(t, ok)
	target := assign.Targets[0].(*pyast.Name)
	assert.Equal(t, "x", target.ID)
	assert.Equal(t, pyast.Store, target.Ctx)

	num := assign.Value.(*pyast.Num)
	assert.Equal(t, int64(1), num.Int)
}

func TestParseChainedAssignment(t *testing.T) {
	mod := parseSource(t, "a = b = 1\n")
	assign := mod.Body[0].(*pyast.Assign)
	require.Len(t, assign.Targets, 2)
}

func TestParseAugmentedAssignment(t *testing.T) {
	mod := parseSource(t, "x += f()\n")
	aug := mod.Body[0].(*pyast.AugAssign)
	assert.Equal(t, "+", aug.Op)
	assert.IsType(t, &pyast.Call{}, aug.Value)
}

func TestParseIfElifElse(t *testing.T) {
	mod := parseSource(t, `
if a:
    x = 1
elif b:
    x = 2
else:
    x = 3
`)
	stmt := mod.Body[0].(*pyast.If)
	require.Len(t, stmt.Orelse, 1)

	elif, ok := stmt.Orelse[0].(*pyast.If)
	require.True(t, ok, "elif chains as a nested if")
	require.Len(t, elif.Orelse, 1, "else attaches to the innermost if")
}

func TestParseLoops(t *testing.T) {
	mod := parseSource(t, `
while a:
    break
else:
    pass

for x in xs:
    continue
`)
	while := mod.Body[0].(*pyast.While)
	assert.Len(t, while.Orelse, 1)
	assert.IsType(t, &pyast.Break{}, while.Body[0])

	loop := mod.Body[1].(*pyast.For)
	target := loop.Target.(*pyast.Name)
	assert.Equal(t, pyast.Store, target.Ctx)
	assert.IsType(t, &pyast.Continue{}, loop.Body[0])
}

func TestParseTryVariants(t *testing.T) {
	t.Run("TryExcept", func(t *testing.T) {
		mod := parseSource(t, `
try:
    f()
except ValueError as e:
    g(e)
except:
    pass
`)
		try := mod.Body[0].(*pyast.TryExcept)
		require.Len(t, try.Handlers, 2)
		first := try.Handlers[0]
		assert.Equal(t, "ValueError", first.Type.(*pyast.Name).ID)
		assert.Equal(t, "e", first.Name.(*pyast.Name).ID)
		assert.Nil(t, try.Handlers[1].Type)
	})

	t.Run("TryFinally", func(t *testing.T) {
		mod := parseSource(t, `
try:
    f()
finally:
    g()
`)
		try := mod.Body[0].(*pyast.TryFinally)
		require.Len(t, try.Finalbody, 1)
		assert.IsType(t, &pyast.ExprStmt{}, try.Body[0])
	})

	t.Run("TryExceptFinally", func(t *testing.T) {
		mod := parseSource(t, `
try:
    f()
except E:
    pass
finally:
    g()
`)
		try := mod.Body[0].(*pyast.TryFinally)
		require.Len(t, try.Body, 1)
		assert.IsType(t, &pyast.TryExcept{}, try.Body[0], "finally wraps the except")
	})
}

func TestParseWith(t *testing.T) {
	mod := parseSource(t, `
with open(p) as f, lock:
    body()
`)
	outer := mod.Body[0].(*pyast.With)
	require.NotNil(t, outer.OptionalVars, "first manager binds f")

	inner, ok := outer.Body[0].(*pyast.With)
	require.True(t, ok, "multiple managers nest")
	assert.Nil(t, inner.OptionalVars)
}

func TestParseComprehensions(t *testing.T) {
	mod := parseSource(t, "r = [x for x in xs if p(x)]\n")
	assign := mod.Body[0].(*pyast.Assign)
	comp := assign.Value.(*pyast.ListComp)
	require.Len(t, comp.Generators, 1)
	gen := comp.Generators[0]
	assert.Equal(t, pyast.Store, gen.Target.(*pyast.Name).Ctx)
	require.Len(t, gen.Ifs, 1)
}

func TestParseGeneratorExpression(t *testing.T) {
	mod := parseSource(t, "g = (x for x in xs)\n")
	assign := mod.Body[0].(*pyast.Assign)
	assert.IsType(t, &pyast.GeneratorExp{}, assign.Value)
}

func TestParseImports(t *testing.T) {
	mod := parseSource(t, `
import os.path as p
from os import path, sep as s
from . import sibling
from m import *
`)
	imp := mod.Body[0].(*pyast.Import)
	assert.Equal(t, "os.path", imp.Names[0].Name)
	assert.Equal(t, "p", imp.Names[0].AsName)

	from := mod.Body[1].(*pyast.ImportFrom)
	assert.Equal(t, "os", from.Module)
	require.Len(t, from.Names, 2)
	assert.Equal(t, "s", from.Names[1].AsName)

	rel := mod.Body[2].(*pyast.ImportFrom)
	assert.Equal(t, 1, rel.Level)

	star := mod.Body[3].(*pyast.ImportFrom)
	assert.Equal(t, "*", star.Names[0].Name)
}

func TestParseExpressionForms(t *testing.T) {
	mod := parseSource(t, "r = a < b < c and not d or (x if y else z)\n")
	assign := mod.Body[0].(*pyast.Assign)
	boolop := assign.Value.(*pyast.BoolOp)
	assert.Equal(t, "or", boolop.Op)
}

func TestParseBooleanFolding(t *testing.T) {
	mod := parseSource(t, "r = a and b and c\n")
	assign := mod.Body[0].(*pyast.Assign)
	boolop := assign.Value.(*pyast.BoolOp)
	assert.Equal(t, "and", boolop.Op)
	assert.Len(t, boolop.Values, 3, "same-operator chain folds into one list")
}

func TestParseCallForms(t *testing.T) {
	mod := parseSource(t, "r = f(1, k=2, *args, **kwargs)\n")
	assign := mod.Body[0].(*pyast.Assign)
	call := assign.Value.(*pyast.Call)
	assert.Len(t, call.Args, 1)
	require.Len(t, call.Keywords, 1)
	assert.Equal(t, "k", call.Keywords[0].Arg)
	assert.NotNil(t, call.Starargs)
	assert.NotNil(t, call.Kwargs)
}

func TestParseSlices(t *testing.T) {
	mod := parseSource(t, "r = xs[1:n:2]\n")
	assign := mod.Body[0].(*pyast.Assign)
	sub := assign.Value.(*pyast.Subscript)
	slice := sub.Slice.(*pyast.Slice)
	assert.NotNil(t, slice.Lower)
	assert.NotNil(t, slice.Upper)
	assert.NotNil(t, slice.Step)
}

func TestParseErrors(t *testing.T) {
	t.Run("SyntaxError", func(t *testing.T) {
		_, err := New().Parse(context.Background(), []byte("def f(:\n"))
		assert.Error(t, err)
	})

	t.Run("UnsupportedConstruct", func(t *testing.T) {
		_, err := New().Parse(context.Background(), []byte("match x:\n    case 1:\n        pass\n"))
		assert.Error(t, err)
	})
}
