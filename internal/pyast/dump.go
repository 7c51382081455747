package pyast

import (
	"fmt"
	"strconv"
	"strings"
)

// ExprString renders an expression in a compact, python-ish form for
// debug dumps and error messages.
func ExprString(e Expr) string {
	if e == nil {
		return "<nil>"
	}
	switch v := e.(type) {
	case *Name:
		return v.ID
	case *Num:
		if v.Kind == FloatKind {
			return strconv.FormatFloat(v.Float, 'g', -1, 64)
		}
		return strconv.FormatInt(v.Int, 10)
	case *Str:
		return strconv.Quote(v.S)
	case *BinOp:
		return fmt.Sprintf("(%s %s %s)", ExprString(v.Left), v.Op, ExprString(v.Right))
	case *AugBinOp:
		return fmt.Sprintf("(%s =%s %s)", ExprString(v.Left), v.Op, ExprString(v.Right))
	case *UnaryOp:
		return fmt.Sprintf("(%s %s)", v.Op, ExprString(v.Operand))
	case *BoolOp:
		parts := make([]string, len(v.Values))
		for i, val := range v.Values {
			parts[i] = ExprString(val)
		}
		return "(" + strings.Join(parts, " "+v.Op+" ") + ")"
	case *Compare:
		var b strings.Builder
		b.WriteString(ExprString(v.Left))
		for i, op := range v.Ops {
			b.WriteString(" " + op + " " + ExprString(v.Comparators[i]))
		}
		return b.String()
	case *Call:
		var args []string
		for _, a := range v.Args {
			args = append(args, ExprString(a))
		}
		for _, kw := range v.Keywords {
			args = append(args, kw.Arg+"="+ExprString(kw.Value))
		}
		if v.Starargs != nil {
			args = append(args, "*"+ExprString(v.Starargs))
		}
		if v.Kwargs != nil {
			args = append(args, "**"+ExprString(v.Kwargs))
		}
		return ExprString(v.Func) + "(" + strings.Join(args, ", ") + ")"
	case *Attribute:
		return ExprString(v.Value) + "." + v.Attr
	case *ClsAttribute:
		return ExprString(v.Value) + ":" + v.Attr
	case *Subscript:
		return ExprString(v.Value) + "[" + ExprString(v.Slice) + "]"
	case *Slice:
		return optExpr(v.Lower) + ":" + optExpr(v.Upper) + ":" + optExpr(v.Step)
	case *List:
		return "[" + joinExprs(v.Elts) + "]"
	case *Tuple:
		return "(" + joinExprs(v.Elts) + ",)"
	case *Dict:
		parts := make([]string, len(v.Keys))
		for i := range v.Keys {
			parts[i] = ExprString(v.Keys[i]) + ": " + ExprString(v.Values[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Set:
		return "{" + joinExprs(v.Elts) + "}"
	case *Repr:
		return "`" + ExprString(v.Value) + "`"
	case *IfExp:
		return fmt.Sprintf("(%s if %s else %s)", ExprString(v.Body), ExprString(v.Test), ExprString(v.Orelse))
	case *Lambda:
		return "lambda: " + ExprString(v.Body)
	case *Yield:
		if v.Value == nil {
			return "(yield)"
		}
		return "(yield " + ExprString(v.Value) + ")"
	case *ListComp:
		return "[" + ExprString(v.Elt) + compString(v.Generators) + "]"
	case *SetComp:
		return "{" + ExprString(v.Elt) + compString(v.Generators) + "}"
	case *DictComp:
		return "{" + ExprString(v.Key) + ": " + ExprString(v.Value) + compString(v.Generators) + "}"
	case *GeneratorExp:
		return "(" + ExprString(v.Elt) + compString(v.Generators) + ")"
	case *LangPrimitive:
		return ":" + v.Op.String() + "(" + joinExprs(v.Args) + ")"
	default:
		return fmt.Sprintf("<%T>", e)
	}
}

// StmtString renders a statement in a compact form for debug dumps.
// Lowered terminators defined in the cfg package render themselves.
func StmtString(s Stmt) string {
	if s == nil {
		return "<nil>"
	}
	switch v := s.(type) {
	case *Assign:
		targets := make([]string, len(v.Targets))
		for i, t := range v.Targets {
			targets[i] = ExprString(t)
		}
		return strings.Join(targets, " = ") + " = " + ExprString(v.Value)
	case *AugAssign:
		return ExprString(v.Target) + " " + v.Op + "= " + ExprString(v.Value)
	case *ExprStmt:
		return ExprString(v.Value)
	case *Print:
		out := "print"
		if v.Dest != nil {
			out += " >>" + ExprString(v.Dest) + ","
		}
		out += " " + joinExprs(v.Values)
		if !v.NL {
			out += ","
		}
		return out
	case *Return:
		if v.Value == nil {
			return "return"
		}
		return "return " + ExprString(v.Value)
	case *Break:
		return "break"
	case *Continue:
		return "continue"
	case *Pass:
		return "pass"
	case *Raise:
		parts := []string{}
		for _, e := range []Expr{v.Type, v.Value, v.Traceback} {
			if e != nil {
				parts = append(parts, ExprString(e))
			}
		}
		if len(parts) == 0 {
			return "raise"
		}
		return "raise " + strings.Join(parts, ", ")
	case *Global:
		return "global " + strings.Join(v.Names, ", ")
	case *Delete:
		return "del " + joinExprs(v.Targets)
	case *Assert:
		if v.Msg != nil {
			return "assert " + ExprString(v.Test) + ", " + ExprString(v.Msg)
		}
		return "assert " + ExprString(v.Test)
	case *Import:
		return "import " + aliasString(v.Names)
	case *ImportFrom:
		return fmt.Sprintf("from %s%s import %s", strings.Repeat(".", v.Level), v.Module, aliasString(v.Names))
	case *Exec:
		return "exec " + ExprString(v.Body)
	case *FunctionDef:
		return "def " + v.Name + "(...)"
	case *ClassDef:
		return "class " + v.Name + "(" + joinExprs(v.Bases) + ")"
	case *If:
		return "if " + ExprString(v.Test) + ": ..."
	case *While:
		return "while " + ExprString(v.Test) + ": ..."
	case *For:
		return "for " + ExprString(v.Target) + " in " + ExprString(v.Iter) + ": ..."
	case *TryExcept:
		return "try/except"
	case *TryFinally:
		return "try/finally"
	case *With:
		return "with " + ExprString(v.ContextExpr) + ": ..."
	default:
		if str, ok := s.(fmt.Stringer); ok {
			return str.String()
		}
		return fmt.Sprintf("<%T>", s)
	}
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

func optExpr(e Expr) string {
	if e == nil {
		return ""
	}
	return ExprString(e)
}

func compString(gens []*Comprehension) string {
	var b strings.Builder
	for _, g := range gens {
		b.WriteString(" for " + ExprString(g.Target) + " in " + ExprString(g.Iter))
		for _, cond := range g.Ifs {
			b.WriteString(" if " + ExprString(cond))
		}
	}
	return b.String()
}

func aliasString(names []*Alias) string {
	parts := make([]string, len(names))
	for i, a := range names {
		if a.AsName != "" {
			parts[i] = a.Name + " as " + a.AsName
		} else {
			parts[i] = a.Name
		}
	}
	return strings.Join(parts, ", ")
}
