package parser

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// builder converts a tree-sitter concrete tree into pyast nodes. It
// covers the statement and expression surface the lowering pass
// consumes; constructs outside that surface report an error instead of
// being silently dropped.
type builder struct {
	source   []byte
	interner *pyast.Interner
	err      error
}

func newBuilder(source []byte) *builder {
	return &builder{
		source:   source,
		interner: pyast.NewInterner(),
	}
}

func (b *builder) text(n *sitter.Node) string {
	return n.Content(b.source)
}

func (b *builder) intern(n *sitter.Node) string {
	return b.interner.Intern(b.text(n))
}

func (b *builder) loc(n *sitter.Node) pyast.Location {
	return pyast.Location{
		Line: int(n.StartPoint().Row) + 1,
		Col:  int(n.StartPoint().Column),
	}
}

func (b *builder) errorf(n *sitter.Node, format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("line %d: %s", int(n.StartPoint().Row)+1, fmt.Sprintf(format, args...))
	}
}

// namedChildren returns the named, non-comment children of n.
func (b *builder) namedChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

// ---------------------------------------------------------------------------
// Statements

// buildStmts builds the statements directly under a module or block
// node.
func (b *builder) buildStmts(n *sitter.Node) []pyast.Stmt {
	var out []pyast.Stmt
	for _, child := range b.namedChildren(n) {
		out = append(out, b.buildStmt(child)...)
	}
	return out
}

func (b *builder) fieldStmts(n *sitter.Node, field string) []pyast.Stmt {
	if block := n.ChildByFieldName(field); block != nil {
		return b.buildStmts(block)
	}
	return nil
}

// buildStmt builds one source statement, which can expand to several
// AST statements (e.g. "import a, b").
func (b *builder) buildStmt(n *sitter.Node) []pyast.Stmt {
	switch n.Type() {
	case "expression_statement":
		return b.buildExpressionStatement(n)
	case "if_statement":
		return []pyast.Stmt{b.buildIf(n)}
	case "while_statement":
		return []pyast.Stmt{b.buildWhile(n)}
	case "for_statement":
		return []pyast.Stmt{b.buildFor(n)}
	case "with_statement":
		return b.buildWith(n)
	case "try_statement":
		return []pyast.Stmt{b.buildTry(n)}
	case "function_definition":
		return []pyast.Stmt{b.buildFunctionDef(n, nil)}
	case "class_definition":
		return []pyast.Stmt{b.buildClassDef(n, nil)}
	case "decorated_definition":
		return b.buildDecorated(n)
	case "return_statement":
		ret := &pyast.Return{}
		ret.Location = b.loc(n)
		if children := b.namedChildren(n); len(children) > 0 {
			ret.Value = b.buildExpr(children[0])
		}
		return []pyast.Stmt{ret}
	case "pass_statement":
		s := &pyast.Pass{}
		s.Location = b.loc(n)
		return []pyast.Stmt{s}
	case "break_statement":
		s := &pyast.Break{}
		s.Location = b.loc(n)
		return []pyast.Stmt{s}
	case "continue_statement":
		s := &pyast.Continue{}
		s.Location = b.loc(n)
		return []pyast.Stmt{s}
	case "raise_statement":
		return []pyast.Stmt{b.buildRaise(n)}
	case "assert_statement":
		return []pyast.Stmt{b.buildAssert(n)}
	case "delete_statement":
		return []pyast.Stmt{b.buildDelete(n)}
	case "global_statement":
		g := &pyast.Global{}
		g.Location = b.loc(n)
		for _, child := range b.namedChildren(n) {
			g.Names = append(g.Names, b.intern(child))
		}
		return []pyast.Stmt{g}
	case "import_statement":
		return []pyast.Stmt{b.buildImport(n)}
	case "import_from_statement":
		return []pyast.Stmt{b.buildImportFrom(n)}
	case "future_import_statement":
		return []pyast.Stmt{b.buildFutureImport(n)}
	case "comment":
		return nil
	default:
		b.errorf(n, "unsupported statement: %s", n.Type())
		return nil
	}
}

// buildExpressionStatement unwraps the assignment forms tree-sitter
// nests inside expression statements.
func (b *builder) buildExpressionStatement(n *sitter.Node) []pyast.Stmt {
	var out []pyast.Stmt
	for _, child := range b.namedChildren(n) {
		switch child.Type() {
		case "assignment":
			out = append(out, b.buildAssignment(child))
		case "augmented_assignment":
			out = append(out, b.buildAugAssignment(child))
		default:
			stmt := &pyast.ExprStmt{Value: b.buildExpr(child)}
			stmt.Location = b.loc(child)
			out = append(out, stmt)
		}
	}
	return out
}

// buildAssignment flattens "a = b = value" into one Assign with
// multiple targets.
func (b *builder) buildAssignment(n *sitter.Node) pyast.Stmt {
	assign := &pyast.Assign{}
	assign.Location = b.loc(n)

	cur := n
	for {
		left := cur.ChildByFieldName("left")
		if left == nil {
			b.errorf(cur, "assignment without target")
			break
		}
		assign.Targets = append(assign.Targets, b.buildTarget(left))

		right := cur.ChildByFieldName("right")
		if right == nil {
			// Bare annotation like "x: int" carries no value to assign.
			b.errorf(cur, "unsupported annotation-only assignment")
			break
		}
		if right.Type() == "assignment" {
			cur = right
			continue
		}
		assign.Value = b.buildExpr(right)
		break
	}
	return assign
}

func (b *builder) buildAugAssignment(n *sitter.Node) pyast.Stmt {
	aug := &pyast.AugAssign{}
	aug.Location = b.loc(n)
	aug.Target = b.buildTarget(n.ChildByFieldName("left"))
	if op := n.ChildByFieldName("operator"); op != nil {
		aug.Op = strings.TrimSuffix(b.text(op), "=")
	}
	aug.Value = b.buildExpr(n.ChildByFieldName("right"))
	return aug
}

func (b *builder) buildIf(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.If{}
	stmt.Location = b.loc(n)
	stmt.Test = b.buildExpr(n.ChildByFieldName("condition"))
	stmt.Body = b.fieldStmts(n, "consequence")

	// Alternatives: elif clauses chain as nested ifs, a trailing else
	// attaches to the innermost.
	tail := stmt
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if n.FieldNameForChild(i) != "alternative" {
			continue
		}
		switch child.Type() {
		case "elif_clause":
			elif := &pyast.If{}
			elif.Location = b.loc(child)
			elif.Test = b.buildExpr(child.ChildByFieldName("condition"))
			elif.Body = b.fieldStmts(child, "consequence")
			tail.Orelse = []pyast.Stmt{elif}
			tail = elif
		case "else_clause":
			tail.Orelse = b.fieldStmts(child, "body")
		}
	}
	return stmt
}

func (b *builder) buildWhile(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.While{}
	stmt.Location = b.loc(n)
	stmt.Test = b.buildExpr(n.ChildByFieldName("condition"))
	stmt.Body = b.fieldStmts(n, "body")
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		stmt.Orelse = b.fieldStmts(alt, "body")
	}
	return stmt
}

func (b *builder) buildFor(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.For{}
	stmt.Location = b.loc(n)
	stmt.Target = b.buildTarget(n.ChildByFieldName("left"))
	stmt.Iter = b.buildExpr(n.ChildByFieldName("right"))
	stmt.Body = b.fieldStmts(n, "body")
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		stmt.Orelse = b.fieldStmts(alt, "body")
	}
	return stmt
}

// buildWith desugars "with a, b:" into nested With statements.
func (b *builder) buildWith(n *sitter.Node) []pyast.Stmt {
	body := b.fieldStmts(n, "body")

	var items []*sitter.Node
	if clause := n.Child(1); clause != nil && clause.Type() == "with_clause" {
		items = b.namedChildren(clause)
	}
	if len(items) == 0 {
		b.errorf(n, "with statement without context manager")
		return nil
	}

	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		with := &pyast.With{Body: body}
		with.Location = b.loc(item)

		value := item.ChildByFieldName("value")
		if value != nil && value.Type() == "as_pattern" {
			with.ContextExpr = b.buildExpr(value.NamedChild(0))
			if alias := value.ChildByFieldName("alias"); alias != nil {
				target := alias
				if target.NamedChildCount() > 0 {
					target = target.NamedChild(0)
				}
				with.OptionalVars = b.buildTarget(target)
			}
		} else if value != nil {
			with.ContextExpr = b.buildExpr(value)
		}
		body = []pyast.Stmt{with}
	}
	return body
}

// buildTry maps a try statement onto the TryFinally/TryExcept pair the
// lowering pass expects.
func (b *builder) buildTry(n *sitter.Node) pyast.Stmt {
	body := b.fieldStmts(n, "body")

	var handlers []*pyast.ExceptHandler
	var orelse []pyast.Stmt
	var finalbody []pyast.Stmt

	for _, child := range b.namedChildren(n) {
		switch child.Type() {
		case "except_clause":
			handlers = append(handlers, b.buildExceptClause(child))
		case "else_clause":
			orelse = b.fieldStmts(child, "body")
		case "finally_clause":
			for _, sub := range b.namedChildren(child) {
				if sub.Type() == "block" {
					finalbody = b.buildStmts(sub)
				}
			}
		}
	}

	var inner pyast.Stmt
	if len(handlers) > 0 {
		tryExcept := &pyast.TryExcept{Body: body, Handlers: handlers, Orelse: orelse}
		tryExcept.Location = b.loc(n)
		inner = tryExcept
	}

	if len(finalbody) > 0 {
		tryFinally := &pyast.TryFinally{Finalbody: finalbody}
		tryFinally.Location = b.loc(n)
		if inner != nil {
			tryFinally.Body = []pyast.Stmt{inner}
		} else {
			tryFinally.Body = body
		}
		return tryFinally
	}
	if inner == nil {
		b.errorf(n, "try statement without except or finally")
		return &pyast.Pass{}
	}
	return inner
}

func (b *builder) buildExceptClause(n *sitter.Node) *pyast.ExceptHandler {
	handler := &pyast.ExceptHandler{}
	handler.Location = b.loc(n)

	for _, child := range b.namedChildren(n) {
		if child.Type() == "block" {
			handler.Body = b.buildStmts(child)
			continue
		}
		if child.Type() == "as_pattern" {
			handler.Type = b.buildExpr(child.NamedChild(0))
			if alias := child.ChildByFieldName("alias"); alias != nil {
				target := alias
				if target.NamedChildCount() > 0 {
					target = target.NamedChild(0)
				}
				handler.Name = b.buildTarget(target)
			}
			continue
		}
		if handler.Type == nil {
			handler.Type = b.buildExpr(child)
		}
	}
	return handler
}

func (b *builder) buildDecorated(n *sitter.Node) []pyast.Stmt {
	var decorators []pyast.Expr
	for _, child := range b.namedChildren(n) {
		if child.Type() == "decorator" {
			decorators = append(decorators, b.buildExpr(child.NamedChild(0)))
		}
	}
	def := n.ChildByFieldName("definition")
	if def == nil {
		b.errorf(n, "decorated definition without definition")
		return nil
	}
	switch def.Type() {
	case "function_definition":
		return []pyast.Stmt{b.buildFunctionDef(def, decorators)}
	case "class_definition":
		return []pyast.Stmt{b.buildClassDef(def, decorators)}
	default:
		b.errorf(def, "unsupported decorated definition: %s", def.Type())
		return nil
	}
}

func (b *builder) buildFunctionDef(n *sitter.Node, decorators []pyast.Expr) pyast.Stmt {
	fn := &pyast.FunctionDef{Decorators: decorators}
	fn.Location = b.loc(n)
	if name := n.ChildByFieldName("name"); name != nil {
		fn.Name = b.intern(name)
	}
	fn.Args = b.buildParameters(n.ChildByFieldName("parameters"))
	fn.Body = b.fieldStmts(n, "body")
	return fn
}

func (b *builder) buildClassDef(n *sitter.Node, decorators []pyast.Expr) pyast.Stmt {
	cls := &pyast.ClassDef{Decorators: decorators}
	cls.Location = b.loc(n)
	if name := n.ChildByFieldName("name"); name != nil {
		cls.Name = b.intern(name)
	}
	if superclasses := n.ChildByFieldName("superclasses"); superclasses != nil {
		for _, child := range b.namedChildren(superclasses) {
			cls.Bases = append(cls.Bases, b.buildExpr(child))
		}
	}
	cls.Body = b.fieldStmts(n, "body")
	return cls
}

func (b *builder) buildParameters(n *sitter.Node) *pyast.Arguments {
	args := &pyast.Arguments{}
	if n == nil {
		return args
	}
	for _, child := range b.namedChildren(n) {
		switch child.Type() {
		case "identifier":
			args.Args = append(args.Args, b.paramName(child))
		case "default_parameter":
			args.Args = append(args.Args, b.paramName(child.ChildByFieldName("name")))
			args.Defaults = append(args.Defaults, b.buildExpr(child.ChildByFieldName("value")))
		case "tuple_pattern":
			args.Args = append(args.Args, b.buildTarget(child))
		case "list_splat_pattern":
			args.Vararg = b.intern(child.NamedChild(0))
		case "dictionary_splat_pattern":
			args.Kwarg = b.intern(child.NamedChild(0))
		default:
			b.errorf(child, "unsupported parameter: %s", child.Type())
		}
	}
	return args
}

func (b *builder) paramName(n *sitter.Node) pyast.Expr {
	name := &pyast.Name{ID: b.intern(n), Ctx: pyast.Param}
	name.Location = b.loc(n)
	return name
}

func (b *builder) buildRaise(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.Raise{}
	stmt.Location = b.loc(n)

	if cause := n.ChildByFieldName("cause"); cause != nil {
		b.errorf(n, "unsupported raise ... from ...")
		return stmt
	}

	children := b.namedChildren(n)
	if len(children) == 0 {
		return stmt
	}
	operands := children
	if children[0].Type() == "expression_list" {
		operands = b.namedChildren(children[0])
	}
	exprs := []*pyast.Expr{&stmt.Type, &stmt.Value, &stmt.Traceback}
	if len(operands) > len(exprs) {
		b.errorf(n, "too many raise operands")
		operands = operands[:len(exprs)]
	}
	for i, operand := range operands {
		*exprs[i] = b.buildExpr(operand)
	}
	return stmt
}

func (b *builder) buildAssert(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.Assert{}
	stmt.Location = b.loc(n)
	children := b.namedChildren(n)
	if len(children) > 0 {
		stmt.Test = b.buildExpr(children[0])
	}
	if len(children) > 1 {
		stmt.Msg = b.buildExpr(children[1])
	}
	return stmt
}

func (b *builder) buildDelete(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.Delete{}
	stmt.Location = b.loc(n)
	for _, child := range b.namedChildren(n) {
		if child.Type() == "expression_list" {
			for _, sub := range b.namedChildren(child) {
				stmt.Targets = append(stmt.Targets, b.buildTarget(sub))
			}
			continue
		}
		stmt.Targets = append(stmt.Targets, b.buildTarget(child))
	}
	return stmt
}

func (b *builder) buildImport(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.Import{}
	stmt.Location = b.loc(n)
	for _, child := range b.namedChildren(n) {
		stmt.Names = append(stmt.Names, b.buildAlias(child))
	}
	return stmt
}

func (b *builder) buildAlias(n *sitter.Node) *pyast.Alias {
	alias := &pyast.Alias{}
	alias.Location = b.loc(n)
	if n.Type() == "aliased_import" {
		alias.Name = b.intern(n.ChildByFieldName("name"))
		if as := n.ChildByFieldName("alias"); as != nil {
			alias.AsName = b.intern(as)
		}
		return alias
	}
	alias.Name = b.intern(n)
	return alias
}

func (b *builder) buildImportFrom(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.ImportFrom{}
	stmt.Location = b.loc(n)

	if module := n.ChildByFieldName("module_name"); module != nil {
		if module.Type() == "relative_import" {
			text := b.text(module)
			for strings.HasPrefix(text[stmt.Level:], ".") {
				stmt.Level++
			}
			stmt.Module = b.interner.Intern(text[stmt.Level:])
		} else {
			stmt.Module = b.intern(module)
		}
	}

	wildcard := false
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "wildcard_import" {
			wildcard = true
		}
	}
	if wildcard {
		stmt.Names = []*pyast.Alias{{Name: "*"}}
		return stmt
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if n.FieldNameForChild(i) == "name" {
			stmt.Names = append(stmt.Names, b.buildAlias(child))
		}
	}
	return stmt
}

// buildFutureImport parses "from __future__ import ..." which shares
// the ImportFrom lowering; the flag extraction happens in the driver.
func (b *builder) buildFutureImport(n *sitter.Node) pyast.Stmt {
	stmt := &pyast.ImportFrom{Module: b.interner.Intern("__future__")}
	stmt.Location = b.loc(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if n.FieldNameForChild(i) == "name" {
			stmt.Names = append(stmt.Names, b.buildAlias(child))
		}
	}
	return stmt
}
