package cfg

import (
	"fmt"
	"strings"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// RootKind says what kind of AST root the statement list came from. It
// decides whether return statements are legal and what the synthetic
// terminal return looks like.
type RootKind int

const (
	RootModule RootKind = iota
	RootFunction
	RootLambda
	RootExpression
	RootClass
)

// String returns string representation of RootKind
func (k RootKind) String() string {
	switch k {
	case RootModule:
		return "module"
	case RootFunction:
		return "function"
	case RootLambda:
		return "lambda"
	case RootExpression:
		return "expression"
	case RootClass:
		return "class"
	default:
		return "unknown"
	}
}

// FutureFlags is the bitmask of __future__ imports in effect for the
// enclosing module. Only absolute-import is consulted here.
type FutureFlags uint32

const (
	FutureAbsoluteImport FutureFlags = 1 << iota
)

// ScopeRegistry is the scoping-analysis handle. The lowering pass
// notifies it when a generator expression is replaced by a synthesized
// function definition so the scope computed for the expression carries
// over.
type ScopeRegistry interface {
	RegisterScopeReplacement(original pyast.Node, replacement *pyast.FunctionDef)
}

// SourceInfo describes the compilation unit being lowered.
type SourceInfo struct {
	// RootKind is the kind of the AST root the statements came from.
	RootKind RootKind

	// Interner deduplicates identifier strings. Required.
	Interner *pyast.Interner

	// ModuleName is the enclosing module's name; class roots bind it to
	// __module__.
	ModuleName string

	// Future holds the module's __future__ flags.
	Future FutureFlags

	// Scoping receives generator-expression scope replacements. May be
	// nil when no scoping analysis is attached.
	Scoping ScopeRegistry

	// PrivatePrefix is the enclosing class name when lowering inside a
	// class body; private attribute names are mangled against it.
	PrivatePrefix string

	// DebugCheckNames records every generated temporary and fails on a
	// collision. Off in production use.
	DebugCheckNames bool
}

// MangleName applies private-name mangling: inside a class body,
// "__spam" becomes "_ClassName__spam". Dunder names and names outside a
// class body pass through.
func (s *SourceInfo) MangleName(name string) string {
	if s.PrivatePrefix == "" {
		return name
	}
	if !strings.HasPrefix(name, "__") || strings.HasSuffix(name, "__") {
		return name
	}
	return s.Interner.Intern("_" + strings.TrimLeft(s.PrivatePrefix, "_") + name)
}

// ComputeCFG lowers a statement list into a control-flow graph.
//
// Input errors (continue outside a loop, return at module scope, ...)
// are returned as *SyntaxError. Violated graph invariants are returned
// as internal errors; they indicate a bug in the pass.
func ComputeCFG(source *SourceInfo, body []pyast.Stmt) (graph *CFG, err error) {
	if source.Interner == nil {
		return nil, fmt.Errorf("cfg: SourceInfo.Interner is required")
	}

	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *SyntaxError:
				graph, err = nil, e
			case internalError:
				graph, err = nil, e
			default:
				panic(r)
			}
		}
	}()

	graph = NewCFG()
	v := newVisitor(source, graph)

	skipFirst := false

	if source.RootKind == RootClass {
		// A class body always starts with __module__ = "<module name>".
		moduleAssign := &pyast.Assign{
			Targets: []pyast.Expr{v.makeName("__module__", pyast.Store, pyast.Location{})},
			Value:   makeStr(source.ModuleName),
		}
		v.pushBack(moduleAssign)

		// A leading bare string becomes an assignment to __doc__ and is
		// skipped during the walk.
		if len(body) > 0 {
			if first, ok := body[0].(*pyast.ExprStmt); ok {
				if doc, ok := first.Value.(*pyast.Str); ok {
					docAssign := &pyast.Assign{
						Targets: []pyast.Expr{v.makeName("__doc__", pyast.Store, pyast.Location{})},
						Value:   doc,
					}
					v.pushBack(docAssign)
					skipFirst = true
				}
			}
		}
	}

	start := 0
	if skipFirst {
		start = 1
	}
	v.visitStmts(body[start:])

	if source.RootKind == RootClass {
		// The functions created for class bodies return a dictionary of
		// their locals.
		ret := &pyast.Return{Value: makePrimitive(pyast.PrimLocals)}
		v.pushBack(ret)
	} else {
		// A synthetic return at the end of every graph, so later phases
		// never see a function without one.
		v.pushBack(&pyast.Return{})
	}
	v.curblock = nil

	v.finish()

	if err := graph.Validate(); err != nil {
		return nil, err
	}
	graph.Simplify()

	return graph, nil
}
