package cfg

import (
	"fmt"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// SyntaxError is an input error: the statement list is not a valid
// compilation unit (continue outside a loop, return outside a function,
// and so on). It carries the offending node's position.
type SyntaxError struct {
	Msg  string
	Line int
	Col  int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// syntaxErrorf aborts the lowering with a SyntaxError attached to node.
// ComputeCFG recovers it and returns it as the error.
func syntaxErrorf(node pyast.Node, format string, args ...interface{}) {
	loc := node.Loc()
	panic(&SyntaxError{Msg: fmt.Sprintf(format, args...), Line: loc.Line, Col: loc.Col})
}

// internalError marks a violated invariant: a bug in the pass itself,
// not in the input.
type internalError string

func (e internalError) Error() string { return string(e) }

func internalf(format string, args ...interface{}) {
	panic(internalError("internal error: " + fmt.Sprintf(format, args...)))
}
