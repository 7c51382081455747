package pyast

// Walk traverses the tree rooted at n in depth-first order, calling f
// for each node. If f returns false the node's children are skipped.
// Node types defined outside this package (the lowered terminators) are
// visited but their children are not; the CFG validator walks those
// itself.
func Walk(n Node, f func(Node) bool) {
	if n == nil {
		return
	}
	if !f(n) {
		return
	}
	switch node := n.(type) {
	case *Name, *Num, *Str:
		// leaves
	case *BinOp:
		Walk(node.Left, f)
		Walk(node.Right, f)
	case *AugBinOp:
		Walk(node.Left, f)
		Walk(node.Right, f)
	case *UnaryOp:
		Walk(node.Operand, f)
	case *BoolOp:
		walkExprs(node.Values, f)
	case *Compare:
		Walk(node.Left, f)
		walkExprs(node.Comparators, f)
	case *Call:
		Walk(node.Func, f)
		walkExprs(node.Args, f)
		for _, kw := range node.Keywords {
			Walk(kw.Value, f)
		}
		Walk(node.Starargs, f)
		Walk(node.Kwargs, f)
	case *Attribute:
		Walk(node.Value, f)
	case *ClsAttribute:
		Walk(node.Value, f)
	case *Subscript:
		Walk(node.Value, f)
		Walk(node.Slice, f)
	case *Slice:
		Walk(node.Lower, f)
		Walk(node.Upper, f)
		Walk(node.Step, f)
	case *List:
		walkExprs(node.Elts, f)
	case *Tuple:
		walkExprs(node.Elts, f)
	case *Dict:
		walkExprs(node.Keys, f)
		walkExprs(node.Values, f)
	case *Set:
		walkExprs(node.Elts, f)
	case *Repr:
		Walk(node.Value, f)
	case *IfExp:
		Walk(node.Test, f)
		Walk(node.Body, f)
		Walk(node.Orelse, f)
	case *Lambda:
		walkArguments(node.Args, f)
		Walk(node.Body, f)
	case *Yield:
		Walk(node.Value, f)
	case *ListComp:
		Walk(node.Elt, f)
		walkComprehensions(node.Generators, f)
	case *SetComp:
		Walk(node.Elt, f)
		walkComprehensions(node.Generators, f)
	case *DictComp:
		Walk(node.Key, f)
		Walk(node.Value, f)
		walkComprehensions(node.Generators, f)
	case *GeneratorExp:
		Walk(node.Elt, f)
		walkComprehensions(node.Generators, f)
	case *LangPrimitive:
		walkExprs(node.Args, f)
	case *Assign:
		walkExprs(node.Targets, f)
		Walk(node.Value, f)
	case *AugAssign:
		Walk(node.Target, f)
		Walk(node.Value, f)
	case *ExprStmt:
		Walk(node.Value, f)
	case *Print:
		Walk(node.Dest, f)
		walkExprs(node.Values, f)
	case *If:
		Walk(node.Test, f)
		walkStmts(node.Body, f)
		walkStmts(node.Orelse, f)
	case *While:
		Walk(node.Test, f)
		walkStmts(node.Body, f)
		walkStmts(node.Orelse, f)
	case *For:
		Walk(node.Target, f)
		Walk(node.Iter, f)
		walkStmts(node.Body, f)
		walkStmts(node.Orelse, f)
	case *Return:
		Walk(node.Value, f)
	case *Break, *Continue, *Pass, *Global:
		// leaves
	case *Raise:
		Walk(node.Type, f)
		Walk(node.Value, f)
		Walk(node.Traceback, f)
	case *Delete:
		walkExprs(node.Targets, f)
	case *Assert:
		Walk(node.Test, f)
		Walk(node.Msg, f)
	case *Import, *ImportFrom:
		// aliases carry no expressions
	case *Exec:
		Walk(node.Body, f)
		Walk(node.Globals, f)
		Walk(node.Locals, f)
	case *FunctionDef:
		walkExprs(node.Decorators, f)
		walkArguments(node.Args, f)
		walkStmts(node.Body, f)
	case *ClassDef:
		walkExprs(node.Decorators, f)
		walkExprs(node.Bases, f)
		walkStmts(node.Body, f)
	case *ExceptHandler:
		Walk(node.Type, f)
		Walk(node.Name, f)
		walkStmts(node.Body, f)
	case *TryExcept:
		walkStmts(node.Body, f)
		for _, h := range node.Handlers {
			Walk(h, f)
		}
		walkStmts(node.Orelse, f)
	case *TryFinally:
		walkStmts(node.Body, f)
		walkStmts(node.Finalbody, f)
	case *With:
		Walk(node.ContextExpr, f)
		Walk(node.OptionalVars, f)
		walkStmts(node.Body, f)
	}
}

func walkExprs(exprs []Expr, f func(Node) bool) {
	for _, e := range exprs {
		Walk(e, f)
	}
}

func walkStmts(stmts []Stmt, f func(Node) bool) {
	for _, s := range stmts {
		Walk(s, f)
	}
}

func walkArguments(args *Arguments, f func(Node) bool) {
	if args == nil {
		return
	}
	walkExprs(args.Args, f)
	walkExprs(args.Defaults, f)
}

func walkComprehensions(gens []*Comprehension, f func(Node) bool) {
	for _, g := range gens {
		Walk(g.Target, f)
		Walk(g.Iter, f)
		walkExprs(g.Ifs, f)
	}
}
