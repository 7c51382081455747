package cfg

import (
	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// Why encodes the reason a cleanup block (finally, with-exit) was
// entered. The tag is threaded through a temporary so the cleanup can
// resume the interrupted control transfer when it finishes.
type Why int

const (
	WhyFallthrough Why = iota
	WhyContinue
	WhyBreak
	WhyReturn
	WhyException
)

/* Explanation of contInfo and excBlockInfo:
 *
 * While generating the CFG we need to know what to do if we
 * 1. hit a continue
 * 2. hit a break
 * 3. hit a return
 * 4. raise an exception
 *
 * We call these "continuations" because they are what we continue on to
 * when one of those conditions occurs. Loops affect (1-2), try/except
 * affects (4), and try/finally and with affect all four.
 *
 * Notionally there is a stack for each; the top value says where to
 * jump. In practice there are two stacks: continuations (continue,
 * break, return) and excHandlers (exceptions), because a finally block
 * must additionally learn *why* it was entered, and an exception
 * handler must receive the (type, value, traceback) triple.
 */

// contInfo says where continue, break, and return jump for the current
// nesting. Any destination may be nil, meaning the construct that
// pushed the record does not intercept that transfer.
type contInfo struct {
	continueDest *Block
	breakDest    *Block
	returnDest   *Block

	// sayWhy is set when the continuation needs the reason it was
	// entered (finally blocks use it to resume execution afterwards).
	sayWhy bool

	// didWhy accumulates one bit per Why reason ever jumped with. Only
	// maintained when sayWhy is set; used to decide which
	// continuation-cases a finally block needs to emit.
	didWhy int

	// whyName is the temporary the reason tag is stored in.
	whyName string
}

// excBlockInfo says where exceptions land for the current nesting, and
// which temporaries receive the exception triple.
type excBlockInfo struct {
	excDest       *Block
	typeName      string
	valueName     string
	tracebackName string
}

// visitor is the CFG builder: a bundle of mutable cursors (current
// block, continuation stack, exception-handler stack) threaded through
// the statement walk.
type visitor struct {
	source        *SourceInfo
	cfg           *CFG
	curblock      *Block
	names         *namer
	continuations []contInfo
	excHandlers   []excBlockInfo
}

func newVisitor(source *SourceInfo, graph *CFG) *visitor {
	v := &visitor{
		source: source,
		cfg:    graph,
		names:  newNamer(source.Interner, source.DebugCheckNames),
	}
	v.curblock = graph.AddBlock()
	v.curblock.Label = "entry"
	return v
}

// finish asserts the stack discipline held up.
func (v *visitor) finish() {
	if len(v.continuations) != 0 {
		internalf("continuation stack not empty at end of lowering")
	}
	if len(v.excHandlers) != 0 {
		internalf("exception-handler stack not empty at end of lowering")
	}
}

func (v *visitor) intern(s string) string { return v.source.Interner.Intern(s) }

// ---------------------------------------------------------------------------
// Node constructors. Lowered nodes are always freshly allocated: later
// phases assume every node pointer is unique within the graph.

func (v *visitor) makeName(id string, ctx pyast.Ctx, loc pyast.Location) *pyast.Name {
	n := &pyast.Name{ID: v.intern(id), Ctx: ctx}
	n.Location = loc
	return n
}

func (v *visitor) makeLoad(id string, node pyast.Node) *pyast.Name {
	return v.makeName(id, pyast.Load, node.Loc())
}

func makeNum(n int) *pyast.Num {
	return &pyast.Num{Kind: pyast.IntKind, Int: int64(n)}
}

func makeStr(s string) *pyast.Str {
	return &pyast.Str{S: s}
}

func makeExpr(e pyast.Expr) *pyast.ExprStmt {
	stmt := &pyast.ExprStmt{Value: e}
	stmt.Location = e.Loc()
	return stmt
}

func makePrimitive(op pyast.PrimitiveOp, args ...pyast.Expr) *pyast.LangPrimitive {
	return &pyast.LangPrimitive{Op: op, Args: args}
}

func makeCall(fn pyast.Expr, args ...pyast.Expr) *pyast.Call {
	call := &pyast.Call{Func: fn, Args: args}
	call.Location = fn.Loc()
	return call
}

// makeLoadAttribute builds base.attr; clsOnly selects the class-only
// lookup used for protocol methods.
func (v *visitor) makeLoadAttribute(base pyast.Expr, attr string, clsOnly bool) pyast.Expr {
	if clsOnly {
		a := &pyast.ClsAttribute{Value: base, Attr: v.intern(attr)}
		a.Location = base.Loc()
		return a
	}
	a := &pyast.Attribute{Value: base, Attr: v.intern(attr), Ctx: pyast.Load}
	a.Location = base.Loc()
	return a
}

func makeCompareEq(left, right pyast.Expr) *pyast.Compare {
	cmp := &pyast.Compare{Left: left, Ops: []string{"=="}, Comparators: []pyast.Expr{right}}
	cmp.Location = left.Loc()
	return cmp
}

// ---------------------------------------------------------------------------
// Continuation stack

func (v *visitor) pushLoopContinuation(continueDest, breakDest *Block) {
	if continueDest == breakDest {
		internalf("loop continue and break destinations coincide")
	}
	v.continuations = append(v.continuations, contInfo{
		continueDest: continueDest,
		breakDest:    breakDest,
	})
}

func (v *visitor) pushFinallyContinuation(finallyBlock *Block, whyName string) {
	v.continuations = append(v.continuations, contInfo{
		continueDest: finallyBlock,
		breakDest:    finallyBlock,
		returnDest:   finallyBlock,
		sayWhy:       true,
		whyName:      whyName,
	})
}

// popContinuation removes the top record and returns its didWhy bits.
func (v *visitor) popContinuation() int {
	top := &v.continuations[len(v.continuations)-1]
	didWhy := top.didWhy
	v.continuations = v.continuations[:len(v.continuations)-1]
	return didWhy
}

// doReturn walks the continuation stack innermost-out. The first record
// with a return destination intercepts the transfer; otherwise a
// terminal return is emitted.
func (v *visitor) doReturn(value pyast.Expr, node pyast.Node) {
	for i := len(v.continuations) - 1; i >= 0; i-- {
		cont := &v.continuations[i]
		if cont.returnDest == nil {
			continue
		}
		if cont.sayWhy {
			v.pushAssignName(cont.whyName, makeNum(int(WhyReturn)), node)
			cont.didWhy |= 1 << WhyReturn
		}
		v.pushAssignName(v.intern(ReturnName), value, node)
		v.pushJump(cont.returnDest, false)
		return
	}

	ret := &pyast.Return{Value: value}
	ret.Location = node.Loc()
	v.pushBack(ret)
	v.curblock = nil
}

func (v *visitor) doContinue(node pyast.Node) {
	for i := len(v.continuations) - 1; i >= 0; i-- {
		cont := &v.continuations[i]
		if cont.continueDest == nil {
			continue
		}
		if cont.sayWhy {
			v.pushAssignName(cont.whyName, makeNum(int(WhyContinue)), node)
			cont.didWhy |= 1 << WhyContinue
		}
		v.pushJump(cont.continueDest, true)
		return
	}
	syntaxErrorf(node, "'continue' not properly in loop")
}

func (v *visitor) doBreak(node pyast.Node) {
	for i := len(v.continuations) - 1; i >= 0; i-- {
		cont := &v.continuations[i]
		if cont.breakDest == nil {
			continue
		}
		if cont.sayWhy {
			v.pushAssignName(cont.whyName, makeNum(int(WhyBreak)), node)
			cont.didWhy |= 1 << WhyBreak
		}
		v.pushJump(cont.breakDest, true)
		return
	}
	syntaxErrorf(node, "'break' outside loop")
}

// ---------------------------------------------------------------------------
// Emission

// pushBack appends a lowered statement to the current block. Inside an
// active exception handler, statements that can raise are wrapped in an
// invoke node whose exception edge lands the (type, value, traceback)
// triple and jumps to the handler.
func (v *visitor) pushBack(node pyast.Stmt) {
	if _, ok := node.(*Invoke); ok {
		internalf("invoke pushed directly")
	}
	if v.curblock == nil {
		return
	}
	if len(v.excHandlers) == 0 {
		v.curblock.push(node)
		return
	}

	switch s := node.(type) {
	case *Jump:
		v.curblock.push(node)
		return
	case *Branch:
		switch s.Test.(type) {
		case *pyast.Name, *pyast.Num:
		default:
			internalf("branch test is not a primitive: %s", pyast.ExprString(s.Test))
		}
		v.curblock.push(node)
		return
	case *pyast.Return:
		v.curblock.push(node)
		return
	case *pyast.Assign:
		if len(s.Targets) != 1 {
			internalf("lowered assignment with %d targets", len(s.Targets))
		}
		if target, ok := s.Targets[0].(*pyast.Name); ok {
			if !IsTemporary(target.ID) {
				// Assigning to a source-level name: the value must be a
				// form that cannot throw.
				switch val := s.Value.(type) {
				case *pyast.Name:
					if !IsTemporary(val.ID) {
						internalf("non-trivial assignment in an invoke: %s", pyast.StmtString(node))
					}
				case *pyast.Num, *pyast.Str:
				default:
					internalf("non-trivial assignment in an invoke: %s", pyast.StmtString(node))
				}
				v.curblock.push(node)
				return
			}
			switch val := s.Value.(type) {
			case *pyast.Name:
				if IsTemporary(val.ID) {
					// Temporary-to-temporary move.
					v.curblock.push(node)
					return
				}
			case *pyast.Num, *pyast.Str:
				// Temporary from an expression that can't throw.
				v.curblock.push(node)
				return
			}
		}
	}

	// If we invoke a raise statement, both destinations are the
	// exception path, since the non-exceptional path won't be taken and
	// every block must keep a successor.
	_, isRaise := node.(*pyast.Raise)

	normalDest := v.cfg.AddBlock()
	normalDest.Label = "invoke_normal"
	excDest := normalDest
	if !isRaise {
		// Extra trampoline so the handler never gains a critical edge.
		excDest = v.cfg.AddBlock()
		excDest.Label = "invoke_exc"
	}

	invoke := &Invoke{Stmt: node, Normal: normalDest, Exc: excDest}
	invoke.Location = node.Loc()
	v.curblock.push(invoke)
	v.curblock.ConnectTo(normalDest, false)
	if !isRaise {
		v.curblock.ConnectTo(excDest, false)
	}

	excInfo := v.excHandlers[len(v.excHandlers)-1]
	loc := node.Loc()

	v.curblock = excDest
	landing := &pyast.Assign{
		Targets: []pyast.Expr{&pyast.Tuple{
			Elts: []pyast.Expr{
				v.makeName(excInfo.typeName, pyast.Store, loc),
				v.makeName(excInfo.valueName, pyast.Store, loc),
				v.makeName(excInfo.tracebackName, pyast.Store, loc),
			},
			Ctx: pyast.Store,
		}},
		Value: makePrimitive(pyast.PrimLandingpad),
	}
	landing.Location = loc
	v.curblock.push(landing)
	v.pushJump(excInfo.excDest, false)

	if isRaise {
		v.curblock = nil
	} else {
		v.curblock = normalDest
	}
}

// pushJump emits an unconditional jump and closes the current block.
func (v *visitor) pushJump(target *Block, allowBackedge bool) {
	jump := &Jump{Target: target}
	v.pushBack(jump)
	v.curblock.ConnectTo(target, allowBackedge)
	v.curblock = nil
}

// callNonzero emits the explicit truthiness test for e (which must
// already be a primitive) into a fresh temporary and returns its load.
func (v *visitor) callNonzero(e pyast.Expr) pyast.Expr {
	call := makePrimitive(pyast.PrimNonzero, e)
	call.Location = e.Loc()

	name := v.names.nodeName(e)
	v.pushAssignName(name, call, e)
	return v.makeLoad(name, e)
}

// makeBranch builds a branch on e's truthiness. It can emit statements
// into the current block.
func (v *visitor) makeBranch(test pyast.Expr) *Branch {
	br := &Branch{Test: v.callNonzero(test)}
	br.Location = test.Loc()
	return br
}

// pushBranch emits a two-way branch. Because building the test can
// itself generate blocks, both destinations are required to still be
// deferred.
func (v *visitor) pushBranch(test pyast.Expr, iftrue, iffalse *Block) {
	if iftrue.Index != -1 || iffalse.Index != -1 {
		internalf("pushBranch targets must be deferred")
	}
	br := v.makeBranch(test)
	br.True = iftrue
	br.False = iffalse
	v.curblock.ConnectTo(iftrue, false)
	v.curblock.ConnectTo(iffalse, false)
	v.pushBack(br)
	v.curblock = nil
}

// pushAssign lowers an assignment of val to an arbitrary target.
func (v *visitor) pushAssign(target pyast.Expr, val pyast.Expr) {
	assign := &pyast.Assign{Value: val}
	assign.Location = val.Loc()

	switch t := target.(type) {
	case *pyast.Name:
		assign.Targets = []pyast.Expr{t}
		v.pushBack(assign)

	case *pyast.Subscript:
		sub := &pyast.Subscript{
			Value: v.remapExpr(t.Value, true),
			Slice: v.remapExpr(t.Slice, true),
			Ctx:   pyast.Store,
		}
		sub.Location = t.Loc()
		assign.Targets = []pyast.Expr{sub}
		v.pushBack(assign)

	case *pyast.Attribute:
		attr := &pyast.Attribute{
			Value: v.remapExpr(t.Value, true),
			Attr:  v.source.MangleName(t.Attr),
			Ctx:   pyast.Store,
		}
		attr.Location = t.Loc()
		assign.Targets = []pyast.Expr{attr}
		v.pushBack(assign)

	case *pyast.Tuple, *pyast.List:
		var elts []pyast.Expr
		if tup, ok := t.(*pyast.Tuple); ok {
			elts = tup.Elts
		} else {
			elts = t.(*pyast.List).Elts
		}

		newTarget := &pyast.Tuple{Ctx: pyast.Store}
		newTarget.Location = target.Loc()

		// Push the assign before it is fully constructed so the
		// per-element assignments can follow it.
		assign.Targets = []pyast.Expr{newTarget}
		v.pushBack(assign)

		for i, elt := range elts {
			tmpName := v.names.indexedName(target, "", i)
			newTarget.Elts = append(newTarget.Elts, v.makeName(tmpName, pyast.Store, target.Loc()))
			v.pushAssign(elt, v.makeLoad(tmpName, target))
		}

	default:
		internalf("unsupported assignment target %T", target)
	}
}

// pushAssignName assigns val to the given (typically generated) name.
func (v *visitor) pushAssignName(id string, val pyast.Expr, node pyast.Node) {
	v.pushAssign(v.makeName(id, pyast.Store, node.Loc()), val)
}

// makeFinallyCont emits "if why == reason: goto then" and returns the
// fall-through block. Shared by the try/finally and with tails.
func (v *visitor) makeFinallyCont(reason Why, whyExpr pyast.Expr, then *Block) *Block {
	otherwise := v.cfg.AddDeferredBlock()
	otherwise.Label = "finally_otherwise"
	v.pushBranch(v.remapExpr(makeCompareEq(whyExpr, makeNum(int(reason))), true), then, otherwise)
	v.cfg.PlaceBlock(otherwise)
	return otherwise
}
