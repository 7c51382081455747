package parser

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// buildExpr builds an expression node.
func (b *builder) buildExpr(n *sitter.Node) pyast.Expr {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier":
		name := &pyast.Name{ID: b.intern(n), Ctx: pyast.Load}
		name.Location = b.loc(n)
		return name
	case "true", "false", "none":
		// These lower as name loads, matching the Python 2 object
		// model the pass implements.
		id := map[string]string{"true": "True", "false": "False", "none": "None"}[n.Type()]
		name := &pyast.Name{ID: b.interner.Intern(id), Ctx: pyast.Load}
		name.Location = b.loc(n)
		return name
	case "integer":
		return b.buildInteger(n)
	case "float":
		num := &pyast.Num{Kind: pyast.FloatKind}
		num.Location = b.loc(n)
		if f, err := strconv.ParseFloat(b.text(n), 64); err == nil {
			num.Float = f
		} else {
			b.errorf(n, "cannot parse float literal %q", b.text(n))
		}
		return num
	case "string":
		return b.buildString(n)
	case "concatenated_string":
		var sb strings.Builder
		for _, child := range b.namedChildren(n) {
			if child.Type() == "string" {
				if s, ok := b.buildString(child).(*pyast.Str); ok {
					sb.WriteString(s.S)
				}
			}
		}
		str := &pyast.Str{S: sb.String()}
		str.Location = b.loc(n)
		return str
	case "parenthesized_expression":
		return b.buildExpr(n.NamedChild(0))
	case "binary_operator":
		binop := &pyast.BinOp{
			Left:  b.buildExpr(n.ChildByFieldName("left")),
			Right: b.buildExpr(n.ChildByFieldName("right")),
		}
		binop.Location = b.loc(n)
		if op := n.ChildByFieldName("operator"); op != nil {
			binop.Op = op.Type()
		}
		return binop
	case "unary_operator":
		unary := &pyast.UnaryOp{Operand: b.buildExpr(n.ChildByFieldName("argument"))}
		unary.Location = b.loc(n)
		if op := n.ChildByFieldName("operator"); op != nil {
			unary.Op = op.Type()
		}
		return unary
	case "not_operator":
		unary := &pyast.UnaryOp{Op: "not", Operand: b.buildExpr(n.ChildByFieldName("argument"))}
		unary.Location = b.loc(n)
		return unary
	case "boolean_operator":
		return b.buildBooleanOperator(n)
	case "comparison_operator":
		return b.buildComparison(n)
	case "conditional_expression":
		children := b.namedChildren(n)
		if len(children) != 3 {
			b.errorf(n, "malformed conditional expression")
			return nil
		}
		ifexp := &pyast.IfExp{
			Body:   b.buildExpr(children[0]),
			Test:   b.buildExpr(children[1]),
			Orelse: b.buildExpr(children[2]),
		}
		ifexp.Location = b.loc(n)
		return ifexp
	case "lambda":
		lambda := &pyast.Lambda{
			Args: b.buildParameters(n.ChildByFieldName("parameters")),
			Body: b.buildExpr(n.ChildByFieldName("body")),
		}
		lambda.Location = b.loc(n)
		return lambda
	case "call":
		return b.buildCall(n)
	case "attribute":
		attr := &pyast.Attribute{
			Value: b.buildExpr(n.ChildByFieldName("object")),
			Ctx:   pyast.Load,
		}
		attr.Location = b.loc(n)
		if name := n.ChildByFieldName("attribute"); name != nil {
			attr.Attr = b.intern(name)
		}
		return attr
	case "subscript":
		return b.buildSubscript(n)
	case "slice":
		return b.buildSlice(n)
	case "list":
		list := &pyast.List{Ctx: pyast.Load}
		list.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			list.Elts = append(list.Elts, b.buildExpr(child))
		}
		return list
	case "tuple", "expression_list":
		tuple := &pyast.Tuple{Ctx: pyast.Load}
		tuple.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			tuple.Elts = append(tuple.Elts, b.buildExpr(child))
		}
		return tuple
	case "set":
		set := &pyast.Set{}
		set.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			set.Elts = append(set.Elts, b.buildExpr(child))
		}
		return set
	case "dictionary":
		dict := &pyast.Dict{}
		dict.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			if child.Type() != "pair" {
				b.errorf(child, "unsupported dictionary entry: %s", child.Type())
				continue
			}
			dict.Keys = append(dict.Keys, b.buildExpr(child.ChildByFieldName("key")))
			dict.Values = append(dict.Values, b.buildExpr(child.ChildByFieldName("value")))
		}
		return dict
	case "list_comprehension":
		comp := &pyast.ListComp{Elt: b.buildExpr(n.ChildByFieldName("body"))}
		comp.Location = b.loc(n)
		comp.Generators = b.buildComprehensionClauses(n)
		return comp
	case "set_comprehension":
		comp := &pyast.SetComp{Elt: b.buildExpr(n.ChildByFieldName("body"))}
		comp.Location = b.loc(n)
		comp.Generators = b.buildComprehensionClauses(n)
		return comp
	case "dictionary_comprehension":
		comp := &pyast.DictComp{}
		comp.Location = b.loc(n)
		if pair := n.ChildByFieldName("body"); pair != nil {
			comp.Key = b.buildExpr(pair.ChildByFieldName("key"))
			comp.Value = b.buildExpr(pair.ChildByFieldName("value"))
		}
		comp.Generators = b.buildComprehensionClauses(n)
		return comp
	case "generator_expression":
		comp := &pyast.GeneratorExp{Elt: b.buildExpr(n.ChildByFieldName("body"))}
		comp.Location = b.loc(n)
		comp.Generators = b.buildComprehensionClauses(n)
		return comp
	case "yield":
		y := &pyast.Yield{}
		y.Location = b.loc(n)
		if children := b.namedChildren(n); len(children) > 0 {
			y.Value = b.buildExpr(children[0])
		}
		return y
	default:
		b.errorf(n, "unsupported expression: %s", n.Type())
		return nil
	}
}

// buildInteger parses decimal, hex, octal, and binary literals; long
// suffixes are out of scope.
func (b *builder) buildInteger(n *sitter.Node) pyast.Expr {
	num := &pyast.Num{Kind: pyast.IntKind}
	num.Location = b.loc(n)
	text := strings.ReplaceAll(b.text(n), "_", "")
	if value, err := strconv.ParseInt(text, 0, 64); err == nil {
		num.Int = value
	} else {
		b.errorf(n, "cannot parse integer literal %q", b.text(n))
	}
	return num
}

// buildString extracts the content of a string literal. The prefix
// (r, b, u, ...) is dropped; escape sequences beyond the common ones
// are passed through verbatim.
func (b *builder) buildString(n *sitter.Node) pyast.Expr {
	str := &pyast.Str{}
	str.Location = b.loc(n)

	var sb strings.Builder
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "string_content":
			sb.WriteString(b.text(child))
		case "escape_sequence":
			sb.WriteString(unescape(b.text(child)))
		case "interpolation":
			b.errorf(child, "unsupported f-string interpolation")
		}
	}
	str.S = sb.String()
	return str
}

func unescape(s string) string {
	if len(s) < 2 || s[0] != '\\' {
		return s
	}
	switch s[1] {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '\\':
		return "\\"
	case '\'':
		return "'"
	case '"':
		return "\""
	case '0':
		return "\x00"
	default:
		return s
	}
}

// buildBooleanOperator folds a chain of the same operator into one
// BoolOp value list, mirroring how Python's own AST shapes "a or b or
// c".
func (b *builder) buildBooleanOperator(n *sitter.Node) pyast.Expr {
	op := "and"
	if opNode := n.ChildByFieldName("operator"); opNode != nil {
		op = opNode.Type()
	}

	boolop := &pyast.BoolOp{Op: op}
	boolop.Location = b.loc(n)

	var collect func(node *sitter.Node)
	collect = func(node *sitter.Node) {
		if node.Type() == "boolean_operator" {
			if inner := node.ChildByFieldName("operator"); inner != nil && inner.Type() == op {
				collect(node.ChildByFieldName("left"))
				collect(node.ChildByFieldName("right"))
				return
			}
		}
		boolop.Values = append(boolop.Values, b.buildExpr(node))
	}
	collect(n)
	return boolop
}

func (b *builder) buildComparison(n *sitter.Node) pyast.Expr {
	cmp := &pyast.Compare{}
	cmp.Location = b.loc(n)

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.IsNamed() {
			if child.Type() == "comment" {
				continue
			}
			if cmp.Left == nil {
				cmp.Left = b.buildExpr(child)
			} else {
				cmp.Comparators = append(cmp.Comparators, b.buildExpr(child))
			}
		} else {
			cmp.Ops = append(cmp.Ops, child.Type())
		}
	}
	if len(cmp.Ops) != len(cmp.Comparators) {
		b.errorf(n, "malformed comparison")
	}
	return cmp
}

func (b *builder) buildCall(n *sitter.Node) pyast.Expr {
	call := &pyast.Call{Func: b.buildExpr(n.ChildByFieldName("function"))}
	call.Location = b.loc(n)

	args := n.ChildByFieldName("arguments")
	if args == nil {
		return call
	}
	if args.Type() == "generator_expression" {
		// f(x for x in xs): the generator is the sole argument.
		call.Args = append(call.Args, b.buildExpr(args))
		return call
	}
	for _, child := range b.namedChildren(args) {
		switch child.Type() {
		case "keyword_argument":
			kw := &pyast.Keyword{Value: b.buildExpr(child.ChildByFieldName("value"))}
			if name := child.ChildByFieldName("name"); name != nil {
				kw.Arg = b.intern(name)
			}
			call.Keywords = append(call.Keywords, kw)
		case "list_splat":
			call.Starargs = b.buildExpr(child.NamedChild(0))
		case "dictionary_splat":
			call.Kwargs = b.buildExpr(child.NamedChild(0))
		default:
			call.Args = append(call.Args, b.buildExpr(child))
		}
	}
	return call
}

func (b *builder) buildSubscript(n *sitter.Node) pyast.Expr {
	sub := &pyast.Subscript{
		Value: b.buildExpr(n.ChildByFieldName("value")),
		Ctx:   pyast.Load,
	}
	sub.Location = b.loc(n)

	var indices []pyast.Expr
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if n.FieldNameForChild(i) == "subscript" {
			indices = append(indices, b.buildExpr(child))
		}
	}
	switch len(indices) {
	case 0:
		b.errorf(n, "subscript without index")
	case 1:
		sub.Slice = indices[0]
	default:
		tuple := &pyast.Tuple{Elts: indices, Ctx: pyast.Load}
		tuple.Location = b.loc(n)
		sub.Slice = tuple
	}
	return sub
}

// buildSlice parses "lower:upper:step" by walking the colon positions.
func (b *builder) buildSlice(n *sitter.Node) pyast.Expr {
	slice := &pyast.Slice{}
	slice.Location = b.loc(n)

	part := 0
	parts := []*pyast.Expr{&slice.Lower, &slice.Upper, &slice.Step}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if !child.IsNamed() {
			if child.Type() == ":" {
				part++
			}
			continue
		}
		if part < len(parts) {
			*parts[part] = b.buildExpr(child)
		}
	}
	return slice
}

func (b *builder) buildComprehensionClauses(n *sitter.Node) []*pyast.Comprehension {
	var out []*pyast.Comprehension
	for _, child := range b.namedChildren(n) {
		switch child.Type() {
		case "for_in_clause":
			clause := &pyast.Comprehension{
				Target: b.buildTarget(child.ChildByFieldName("left")),
				Iter:   b.buildExpr(child.ChildByFieldName("right")),
			}
			clause.Location = b.loc(child)
			out = append(out, clause)
		case "if_clause":
			if len(out) == 0 {
				b.errorf(child, "comprehension condition before for clause")
				continue
			}
			last := out[len(out)-1]
			last.Ifs = append(last.Ifs, b.buildExpr(child.NamedChild(0)))
		}
	}
	return out
}

// buildTarget builds an expression in store context.
func (b *builder) buildTarget(n *sitter.Node) pyast.Expr {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "pattern_list", "tuple_pattern", "expression_list", "tuple":
		tuple := &pyast.Tuple{Ctx: pyast.Store}
		tuple.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			tuple.Elts = append(tuple.Elts, b.buildTarget(child))
		}
		return tuple
	case "list_pattern", "list":
		list := &pyast.List{Ctx: pyast.Store}
		list.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			list.Elts = append(list.Elts, b.buildTarget(child))
		}
		return list
	}

	expr := b.buildExpr(n)
	setStoreCtx(expr)
	return expr
}

func setStoreCtx(e pyast.Expr) {
	switch v := e.(type) {
	case *pyast.Name:
		v.Ctx = pyast.Store
	case *pyast.Attribute:
		v.Ctx = pyast.Store
	case *pyast.Subscript:
		v.Ctx = pyast.Store
	case *pyast.Tuple:
		v.Ctx = pyast.Store
		for _, elt := range v.Elts {
			setStoreCtx(elt)
		}
	case *pyast.List:
		v.Ctx = pyast.Store
		for _, elt := range v.Elts {
			setStoreCtx(elt)
		}
	}
}
