package cfg

import (
	"strings"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// visitStmts lowers a statement list in textual order.
func (v *visitor) visitStmts(stmts []pyast.Stmt) {
	for _, s := range stmts {
		v.visitStmt(s)
	}
}

// visitStmt lowers a single statement. Statements in dead code (after a
// return, raise, break, or continue closed the current block) are
// skipped, except that input errors are still reported.
func (v *visitor) visitStmt(stmt pyast.Stmt) {
	if _, ok := stmt.(*pyast.Exec); ok {
		syntaxErrorf(stmt, "'exec' currently not supported")
	}

	if v.curblock == nil {
		if ret, ok := stmt.(*pyast.Return); ok {
			v.checkReturnAllowed(ret)
		}
		return
	}

	switch s := stmt.(type) {
	case *pyast.Assign:
		v.visitAssign(s)
	case *pyast.AugAssign:
		v.visitAugAssign(s)
	case *pyast.ExprStmt:
		v.visitExprStmt(s)
	case *pyast.Print:
		v.visitPrint(s)
	case *pyast.If:
		v.visitIf(s)
	case *pyast.While:
		v.visitWhile(s)
	case *pyast.For:
		v.visitFor(s)
	case *pyast.Return:
		v.visitReturn(s)
	case *pyast.Break:
		v.doBreak(s)
	case *pyast.Continue:
		v.doContinue(s)
	case *pyast.Pass:
		// no statement emitted
	case *pyast.Raise:
		v.visitRaise(s)
	case *pyast.Global:
		v.pushBack(s)
	case *pyast.Delete:
		v.visitDelete(s)
	case *pyast.Assert:
		v.visitAssert(s)
	case *pyast.Import:
		v.visitImport(s)
	case *pyast.ImportFrom:
		v.visitImportFrom(s)
	case *pyast.FunctionDef:
		v.visitFunctionDef(s)
	case *pyast.ClassDef:
		v.visitClassDef(s)
	case *pyast.TryExcept:
		v.visitTryExcept(s)
	case *pyast.TryFinally:
		v.visitTryFinally(s)
	case *pyast.With:
		v.visitWith(s)
	default:
		internalf("unexpected statement %T in lowering", stmt)
	}
}

func (v *visitor) visitAssign(node *pyast.Assign) {
	remappedValue := v.remapExpr(node.Value, true)
	for _, target := range node.Targets {
		v.pushAssign(target, dupExpr(remappedValue))
	}
}

// visitAugAssign lowers "target op= value". The target's addressable
// parts are evaluated exactly once, and the final store is kept apart
// from the operation so an exception in the operation leaves the target
// untouched. For "f().x += g()" that means
// "c = f(); y = c.x; z = g(); c.x = y =+ z".
func (v *visitor) visitAugAssign(node *pyast.AugAssign) {
	var remappedTarget pyast.Expr
	var remappedLHS pyast.Expr

	switch t := node.Target.(type) {
	case *pyast.Name:
		tmpName := v.names.nodeName(t)
		v.pushAssignName(tmpName, v.makeLoad(t.ID, node), node)
		remappedTarget = t
		remappedLHS = v.makeLoad(tmpName, node)

	case *pyast.Subscript:
		target := &pyast.Subscript{
			Value: v.remapExpr(t.Value, true),
			Slice: v.remapExpr(t.Slice, true),
			Ctx:   pyast.Store,
		}
		target.Location = t.Location
		remappedTarget = target

		lhs := &pyast.Subscript{
			Value: dupExpr(target.Value),
			Slice: dupExpr(target.Slice),
			Ctx:   pyast.Load,
		}
		lhs.Location = t.Location
		remappedLHS = v.remapExpr(lhs, true)

	case *pyast.Attribute:
		target := &pyast.Attribute{
			Value: v.remapExpr(t.Value, true),
			Attr:  t.Attr,
			Ctx:   pyast.Store,
		}
		target.Location = t.Location
		remappedTarget = target

		lhs := &pyast.Attribute{
			Value: dupExpr(target.Value),
			Attr:  t.Attr,
			Ctx:   pyast.Load,
		}
		lhs.Location = t.Location
		remappedLHS = v.remapExpr(lhs, true)

	default:
		syntaxErrorf(node, "illegal expression for augmented assignment")
	}

	binop := &pyast.AugBinOp{
		Op:    node.Op,
		Left:  remappedLHS,
		Right: v.remapExpr(node.Value, true),
	}
	binop.Location = node.Location

	tmpName := v.names.nodeName(node)
	v.pushAssignName(tmpName, binop, node)
	v.pushAssign(remappedTarget, v.makeLoad(tmpName, node))
}

func (v *visitor) visitExprStmt(node *pyast.ExprStmt) {
	remapped := &pyast.ExprStmt{Value: v.remapExpr(node.Value, false)}
	remapped.Location = node.Location
	v.pushBack(remapped)
}

// visitPrint splits a print statement into one lowered Print per value
// so each value is evaluated (and can raise) separately; only the last
// carries the trailing-newline flag.
func (v *visitor) visitPrint(node *pyast.Print) {
	dest := v.remapExpr(node.Dest, true)

	for i, val := range node.Values {
		remapped := &pyast.Print{NL: node.NL}
		remapped.Location = node.Location
		remapped.Dest = dupExpr(dest)
		if i < len(node.Values)-1 {
			remapped.NL = false
		}
		remapped.Values = []pyast.Expr{v.remapExpr(val, true)}
		v.pushBack(remapped)
	}

	if len(node.Values) == 0 {
		final := &pyast.Print{Dest: dest, NL: node.NL}
		final.Location = node.Location
		v.pushBack(final)
	}
}

func (v *visitor) checkReturnAllowed(node *pyast.Return) {
	// Returns are allowed in functions and also in eval strings, which
	// get an implicit return; the root is Expression when compiling an
	// eval string.
	switch v.source.RootKind {
	case RootFunction, RootLambda, RootExpression:
	default:
		syntaxErrorf(node, "'return' outside function")
	}
}

func (v *visitor) visitReturn(node *pyast.Return) {
	v.checkReturnAllowed(node)

	value := v.remapExpr(node.Value, true)
	if value == nil {
		value = v.makeLoad("None", node)
	}
	v.doReturn(value, node)
}

func (v *visitor) visitIf(node *pyast.If) {
	exit := v.cfg.AddDeferredBlock()
	exit.Label = "ifexit"

	br := &Branch{Test: v.callNonzero(v.remapExpr(node.Test, true))}
	br.Location = node.Location
	startingBlock := v.curblock
	v.pushBack(br)

	iftrue := v.cfg.AddBlock()
	iftrue.Label = "iftrue"
	br.True = iftrue
	startingBlock.ConnectTo(iftrue, false)
	v.curblock = iftrue
	v.visitStmts(node.Body)
	if v.curblock != nil {
		v.pushJump(exit, false)
	}

	iffalse := v.cfg.AddBlock()
	iffalse.Label = "iffalse"
	br.False = iffalse
	startingBlock.ConnectTo(iffalse, false)
	v.curblock = iffalse
	v.visitStmts(node.Orelse)
	if v.curblock != nil {
		v.pushJump(exit, false)
	}

	if len(exit.Preds) == 0 {
		v.curblock = nil
	} else {
		v.cfg.PlaceBlock(exit)
		v.curblock = exit
	}
}

func (v *visitor) visitWhile(node *pyast.While) {
	testBlock := v.cfg.AddBlock()
	testBlock.Label = "while_test"
	v.pushJump(testBlock, false)

	v.curblock = testBlock
	br := v.makeBranch(v.remapExpr(node.Test, true))
	testBlockEnd := v.curblock
	v.pushBack(br)

	// We need a reference to the exit early so break can target it, but
	// it must not be placed until after the orelse.
	end := v.cfg.AddDeferredBlock()
	end.Label = "while_exit"
	v.pushLoopContinuation(testBlock, end)

	body := v.cfg.AddBlock()
	body.Label = "while_body_start"
	br.True = body
	testBlockEnd.ConnectTo(body, false)
	v.curblock = body
	v.visitStmts(node.Body)
	if v.curblock != nil {
		v.pushJump(testBlock, true)
	}
	v.popContinuation()

	orelse := v.cfg.AddBlock()
	orelse.Label = "while_orelse_start"
	br.False = orelse
	testBlockEnd.ConnectTo(orelse, false)
	v.curblock = orelse
	v.visitStmts(node.Orelse)
	if v.curblock != nil {
		v.pushJump(end, false)
	}

	// The exit can end up with no predecessors when the orelse
	// terminates and nothing breaks.
	if len(end.Preds) == 0 {
		v.curblock = nil
	} else {
		v.cfg.PlaceBlock(end)
		v.curblock = end
	}
}

func (v *visitor) visitFor(node *pyast.For) {
	remappedIter := v.remapExpr(node.Iter, true)
	iterCall := makePrimitive(pyast.PrimGetIter, remappedIter)
	iterCall.Location = node.Location
	iterName := v.names.suffixedName(node, "iter")
	v.pushAssignName(iterName, iterCall, node)

	hasnextAttr := func() pyast.Expr {
		return v.makeLoadAttribute(v.makeLoad(iterName, node), "__hasnext__", true)
	}
	nextAttr := v.makeLoadAttribute(v.makeLoad(iterName, node), "next", true)

	testBlock := v.cfg.AddBlock()
	testBlock.Label = "for_test"
	v.pushJump(testBlock, false)
	v.curblock = testBlock

	testBr := v.makeBranch(v.remapExpr(makeCall(hasnextAttr()), true))
	v.pushBack(testBr)
	testTrue := v.cfg.AddBlock()
	testTrue.Label = "for_test_true"
	testFalse := v.cfg.AddBlock()
	testFalse.Label = "for_test_false"
	testBr.True = testTrue
	testBr.False = testFalse
	v.curblock.ConnectTo(testTrue, false)
	v.curblock.ConnectTo(testFalse, false)

	loopBlock := v.cfg.AddBlock()
	loopBlock.Label = "for_body"
	endBlock := v.cfg.AddDeferredBlock()
	endBlock.Label = "for_exit"
	elseBlock := v.cfg.AddDeferredBlock()
	elseBlock.Label = "for_orelse"

	// The true/false sides route through trampolines so the back edge
	// from the body's end-of-iteration test cannot become critical.
	v.curblock = testTrue
	v.pushJump(loopBlock, false)

	v.curblock = testFalse
	v.pushJump(elseBlock, false)

	v.pushLoopContinuation(testBlock, endBlock)

	v.curblock = loopBlock
	nextName := v.names.nodeName(nextAttr)
	v.pushAssignName(nextName, makeCall(nextAttr), node)
	v.pushAssign(node.Target, v.makeLoad(nextName, node))

	v.visitStmts(node.Body)
	v.popContinuation()

	if v.curblock != nil {
		// Second __hasnext__ test at the end of the body, instead of a
		// critical edge back to the test block.
		endBr := v.makeBranch(v.remapExpr(makeCall(hasnextAttr()), true))
		v.pushBack(endBr)

		endTrue := v.cfg.AddBlock()
		endTrue.Label = "for_end_true"
		endFalse := v.cfg.AddBlock()
		endFalse.Label = "for_end_false"
		endBr.True = endTrue
		endBr.False = endFalse
		v.curblock.ConnectTo(endTrue, false)
		v.curblock.ConnectTo(endFalse, false)

		v.curblock = endTrue
		v.pushJump(loopBlock, true)

		v.curblock = endFalse
		v.pushJump(elseBlock, false)
	}

	v.cfg.PlaceBlock(elseBlock)
	v.curblock = elseBlock
	v.visitStmts(node.Orelse)
	if v.curblock != nil {
		v.pushJump(endBlock, false)
	}

	if len(endBlock.Preds) == 0 {
		v.curblock = nil
	} else {
		v.cfg.PlaceBlock(endBlock)
		v.curblock = endBlock
	}
}

func (v *visitor) visitRaise(node *pyast.Raise) {
	remapped := &pyast.Raise{}
	remapped.Location = node.Location

	if node.Type != nil {
		remapped.Type = v.remapExpr(node.Type, true)
	}
	if node.Value != nil {
		remapped.Value = v.remapExpr(node.Value, true)
	}
	if node.Traceback != nil {
		remapped.Traceback = v.remapExpr(node.Traceback, true)
	}
	v.pushBack(remapped)

	v.curblock = nil
}

func (v *visitor) visitDelete(node *pyast.Delete) {
	for _, t := range node.Targets {
		del := &pyast.Delete{}
		del.Location = node.Location

		switch target := t.(type) {
		case *pyast.Subscript:
			sub := &pyast.Subscript{
				Value: v.remapExpr(target.Value, true),
				Slice: v.remapExpr(target.Slice, true),
				Ctx:   pyast.Del,
			}
			sub.Location = target.Location
			del.Targets = []pyast.Expr{sub}
		case *pyast.Attribute:
			attr := v.remapExpr(target, false).(*pyast.Attribute)
			attr.Ctx = pyast.Del
			del.Targets = []pyast.Expr{attr}
		case *pyast.Name:
			del.Targets = []pyast.Expr{target}
		case *pyast.List:
			inner := &pyast.Delete{Targets: target.Elts}
			inner.Location = node.Location
			v.visitDelete(inner)
		case *pyast.Tuple:
			inner := &pyast.Delete{Targets: target.Elts}
			inner.Location = node.Location
			v.visitDelete(inner)
		default:
			syntaxErrorf(node, "cannot delete this expression")
		}

		if len(del.Targets) > 0 {
			v.pushBack(del)
		}
	}
}

func (v *visitor) visitAssert(node *pyast.Assert) {
	br := &Branch{Test: v.callNonzero(v.remapExpr(node.Test, true))}
	br.Location = node.Location
	v.pushBack(br)

	iffalse := v.cfg.AddBlock()
	iffalse.Label = "assert_fail"
	v.curblock.ConnectTo(iffalse, false)
	iftrue := v.cfg.AddBlock()
	iftrue.Label = "assert_pass"
	v.curblock.ConnectTo(iftrue, false)
	br.True = iftrue
	br.False = iffalse

	v.curblock = iffalse

	// An always-failing assertion carrying the message, followed by a
	// self-looping placeholder: the assertion itself terminates at
	// runtime, but the graph still needs a successor here.
	remapped := &pyast.Assert{}
	remapped.Location = node.Location
	if node.Msg != nil {
		remapped.Msg = v.remapExpr(node.Msg, true)
	}
	remapped.Test = makeNum(0)
	v.pushBack(remapped)

	unreachable := v.cfg.AddBlock()
	unreachable.Label = "unreachable"
	v.pushJump(unreachable, false)

	v.curblock = unreachable
	v.pushJump(unreachable, true)

	v.curblock = iftrue
}

func topModule(fullName string) string {
	if i := strings.IndexByte(fullName, '.'); i >= 0 {
		return fullName[:i]
	}
	return fullName
}

// visitImport lowers "import a.b.c [as d]" to an IMPORT_NAME call; the
// top-level module is bound without an alias, and with one the dotted
// path is walked via attribute loads before binding.
func (v *visitor) visitImport(node *pyast.Import) {
	for _, a := range node.Names {
		importCall := makePrimitive(pyast.PrimImportName,
			makeNum(-1),
			makePrimitive(pyast.PrimNone),
			makeStr(a.Name),
		)
		importCall.Location = node.Location

		tmpName := v.names.nodeName(a)
		v.pushAssignName(tmpName, importCall, node)

		if a.AsName == "" {
			// For "import os.path", load the os module into "os".
			v.pushAssignName(v.intern(topModule(a.Name)), v.makeLoad(tmpName, node), node)
		} else {
			parts := strings.Split(a.Name, ".")
			for _, attr := range parts[1:] {
				attrLoad := &pyast.Attribute{
					Value: v.makeLoad(tmpName, node),
					Attr:  v.intern(attr),
					Ctx:   pyast.Load,
				}
				attrLoad.Location = node.Location
				v.pushAssignName(tmpName, attrLoad, node)
			}
			v.pushAssignName(v.intern(a.AsName), v.makeLoad(tmpName, node), node)
		}
	}
}

func (v *visitor) visitImportFrom(node *pyast.ImportFrom) {
	if node.Level != 0 {
		syntaxErrorf(node, "relative imports are not supported")
	}

	// This is what CPython does: a level of 0 means -1 unless absolute
	// imports were requested via __future__.
	level := node.Level
	if node.Level == 0 && v.source.Future&FutureAbsoluteImport == 0 {
		level = -1
	}

	fromNames := &pyast.Tuple{Ctx: pyast.Load}
	fromNames.Location = node.Location
	for _, a := range node.Names {
		fromNames.Elts = append(fromNames.Elts, makeStr(a.Name))
	}

	importCall := makePrimitive(pyast.PrimImportName,
		makeNum(level),
		fromNames,
		makeStr(node.Module),
	)
	importCall.Location = node.Location

	tmpModuleName := v.names.nodeName(node)
	v.pushAssignName(tmpModuleName, importCall, node)

	for _, a := range node.Names {
		if a.Name == "*" {
			importStar := makePrimitive(pyast.PrimImportStar, v.makeLoad(tmpModuleName, node))
			importStar.Location = node.Location
			v.pushBack(makeExpr(importStar))
			continue
		}

		importFrom := makePrimitive(pyast.PrimImportFrom,
			v.makeLoad(tmpModuleName, node),
			makeStr(a.Name),
		)
		importFrom.Location = node.Location

		tmpImportName := v.names.nodeName(a)
		v.pushAssignName(tmpImportName, importFrom, node)

		bound := a.AsName
		if bound == "" {
			bound = a.Name
		}
		v.pushAssignName(v.intern(bound), v.makeLoad(tmpImportName, node), node)
	}
}

// visitFunctionDef remaps the parts evaluated in the enclosing scope
// (decorators first, then defaults) in place; the body is lowered when
// its own compilation begins.
func (v *visitor) visitFunctionDef(node *pyast.FunctionDef) {
	for i := range node.Decorators {
		node.Decorators[i] = v.remapExpr(node.Decorators[i], true)
	}
	if node.Args != nil {
		for i := range node.Args.Defaults {
			node.Args.Defaults[i] = v.remapExpr(node.Args.Defaults[i], true)
		}
	}
	v.pushBack(node)
}

func (v *visitor) visitClassDef(node *pyast.ClassDef) {
	// Decorators are evaluated before the bases.
	for i := range node.Decorators {
		node.Decorators[i] = v.remapExpr(node.Decorators[i], true)
	}
	for i := range node.Bases {
		node.Bases[i] = v.remapExpr(node.Bases[i], true)
	}
	v.pushBack(node)
}

func (v *visitor) visitTryExcept(node *pyast.TryExcept) {
	if len(node.Handlers) == 0 {
		internalf("try/except without handlers")
	}

	excHandlerBlock := v.cfg.AddDeferredBlock()
	excHandlerBlock.Label = "exc_handler"
	excTypeName := v.names.suffixedName(node, "type")
	excValueName := v.names.suffixedName(node, "value")
	excTracebackName := v.names.suffixedName(node, "traceback")
	v.excHandlers = append(v.excHandlers, excBlockInfo{
		excDest:       excHandlerBlock,
		typeName:      excTypeName,
		valueName:     excValueName,
		tracebackName: excTracebackName,
	})

	v.visitStmts(node.Body)

	v.excHandlers = v.excHandlers[:len(v.excHandlers)-1]

	v.visitStmts(node.Orelse)

	joinBlock := v.cfg.AddDeferredBlock()
	joinBlock.Label = "try_join"
	if v.curblock != nil {
		v.pushJump(joinBlock, false)
	}

	if len(excHandlerBlock.Preds) > 0 {
		v.cfg.PlaceBlock(excHandlerBlock)
		v.curblock = excHandlerBlock

		excObj := v.makeLoad(excValueName, node)

		caughtAll := false
		for i, handler := range node.Handlers {
			if caughtAll {
				syntaxErrorf(handler, "default 'except:' must be last")
			}

			var excNext *Block
			if handler.Type != nil {
				handledType := v.remapExpr(handler.Type, true)

				isCaughtHere := makePrimitive(pyast.PrimIsinstance,
					dupExpr(excObj),
					handledType,
					makeNum(1), // false_on_noncls
				)
				isCaughtHere.Location = handler.Location

				br := &Branch{Test: v.callNonzero(v.remapExpr(isCaughtHere, true))}
				br.Location = handler.Location

				excHandle := v.cfg.AddBlock()
				excHandle.Label = "exc_handle"
				excNext = v.cfg.AddDeferredBlock()
				excNext.Label = "exc_next"

				br.True = excHandle
				br.False = excNext
				v.curblock.ConnectTo(excHandle, false)
				v.curblock.ConnectTo(excNext, false)
				v.pushBack(br)
				v.curblock = excHandle
			} else {
				if i != len(node.Handlers)-1 {
					syntaxErrorf(handler, "default 'except:' must be last")
				}
				caughtAll = true
			}

			setExcInfo := makePrimitive(pyast.PrimSetExcInfo,
				v.makeLoad(excTypeName, node),
				v.makeLoad(excValueName, node),
				v.makeLoad(excTracebackName, node),
			)
			setExcInfo.Location = handler.Loc()
			v.pushBack(makeExpr(setExcInfo))

			if handler.Name != nil {
				v.pushAssign(handler.Name, dupExpr(excObj))
			}

			v.visitStmts(handler.Body)

			if v.curblock != nil {
				v.pushJump(joinBlock, false)
			}

			if excNext != nil {
				v.cfg.PlaceBlock(excNext)
			}
			v.curblock = excNext
		}

		if !caughtAll {
			reraise := &pyast.Raise{
				Type:      v.makeLoad(excTypeName, node),
				Value:     v.makeLoad(excValueName, node),
				Traceback: v.makeLoad(excTracebackName, node),
			}
			reraise.Location = node.Location
			v.pushBack(reraise)
			v.curblock = nil
		}
	}

	if len(joinBlock.Preds) == 0 {
		v.curblock = nil
	} else {
		v.cfg.PlaceBlock(joinBlock)
		v.curblock = joinBlock
	}
}

func (v *visitor) visitTryFinally(node *pyast.TryFinally) {
	excHandlerBlock := v.cfg.AddDeferredBlock()
	excHandlerBlock.Label = "finally_exc"
	excTypeName := v.names.suffixedName(node, "type")
	excValueName := v.names.suffixedName(node, "value")
	excTracebackName := v.names.suffixedName(node, "traceback")
	excWhyName := v.names.suffixedName(node, "why")
	v.excHandlers = append(v.excHandlers, excBlockInfo{
		excDest:       excHandlerBlock,
		typeName:      excTypeName,
		valueName:     excValueName,
		tracebackName: excTracebackName,
	})

	finallyBlock := v.cfg.AddDeferredBlock()
	finallyBlock.Label = "finally"
	v.pushFinallyContinuation(finallyBlock, excWhyName)

	v.visitStmts(node.Body)

	v.excHandlers = v.excHandlers[:len(v.excHandlers)-1]

	didWhy := v.popContinuation()

	if v.curblock != nil {
		v.pushAssignName(excWhyName, makeNum(int(WhyFallthrough)), node)
		v.pushJump(finallyBlock, false)
	}

	if len(excHandlerBlock.Preds) > 0 {
		v.cfg.PlaceBlock(excHandlerBlock)
		v.curblock = excHandlerBlock
		v.pushAssignName(excWhyName, makeNum(int(WhyException)), node)
		v.pushJump(finallyBlock, false)
	}

	v.cfg.PlaceBlock(finallyBlock)
	v.curblock = finallyBlock

	v.visitStmts(node.Finalbody)

	if v.curblock == nil {
		return
	}

	if didWhy&(1<<WhyReturn) != 0 {
		doreturn := v.cfg.AddDeferredBlock()
		doreturn.Label = "finally_do_return"
		otherwise := v.makeFinallyCont(WhyReturn, v.makeLoad(excWhyName, node), doreturn)

		v.cfg.PlaceBlock(doreturn)
		v.curblock = doreturn
		v.doReturn(v.makeLoad(v.intern(ReturnName), node), node)

		v.curblock = otherwise
	}

	if didWhy&(1<<WhyBreak) != 0 {
		dobreak := v.cfg.AddDeferredBlock()
		dobreak.Label = "finally_do_break"
		otherwise := v.makeFinallyCont(WhyBreak, v.makeLoad(excWhyName, node), dobreak)

		v.cfg.PlaceBlock(dobreak)
		v.curblock = dobreak
		v.doBreak(node)

		v.curblock = otherwise
	}

	if didWhy&(1<<WhyContinue) != 0 {
		docontinue := v.cfg.AddDeferredBlock()
		docontinue.Label = "finally_do_continue"
		otherwise := v.makeFinallyCont(WhyContinue, v.makeLoad(excWhyName, node), docontinue)

		v.cfg.PlaceBlock(docontinue)
		v.curblock = docontinue
		v.doContinue(node)

		v.curblock = otherwise
	}

	reraise := v.cfg.AddDeferredBlock()
	reraise.Label = "finally_reraise"
	noexc := v.makeFinallyCont(WhyException, v.makeLoad(excWhyName, node), reraise)

	v.cfg.PlaceBlock(reraise)
	v.curblock = reraise
	raiseStmt := &pyast.Raise{
		Type:      v.makeLoad(excTypeName, node),
		Value:     v.makeLoad(excValueName, node),
		Traceback: v.makeLoad(excTracebackName, node),
	}
	raiseStmt.Location = node.Location
	v.pushBack(raiseStmt)

	v.curblock = noexc
}

// visitWith implements the context-manager protocol per PEP 343:
//
//	mgr = (EXPR)
//	exit = type(mgr).__exit__
//	value = type(mgr).__enter__(mgr)
//	try:
//	    VAR = value
//	    BLOCK
//	except:
//	    if not exit(mgr, *sys.exc_info()):
//	        raise
//	finally:
//	    exit(mgr, None, None, None)
func (v *visitor) visitWith(node *pyast.With) {
	ctxMgrName := v.names.suffixedName(node, "ctxmgr")
	exitName := v.names.suffixedName(node, "exit")
	whyName := v.names.suffixedName(node, "why")
	excTypeName := v.names.suffixedName(node, "exc_type")
	excValueName := v.names.suffixedName(node, "exc_value")
	excTracebackName := v.names.suffixedName(node, "exc_traceback")
	noneName := v.intern("None")

	exitBlock := v.cfg.AddDeferredBlock()
	exitBlock.Label = "with_exit"

	v.pushAssignName(ctxMgrName, v.remapExpr(node.ContextExpr, true), node)

	exitAttr := v.makeLoadAttribute(v.makeLoad(ctxMgrName, node), "__exit__", true)
	v.pushAssignName(exitName, exitAttr, node)

	enterAttr := v.makeLoadAttribute(v.makeLoad(ctxMgrName, node), "__enter__", true)
	enter := v.remapExpr(makeCall(enterAttr), true)
	if node.OptionalVars != nil {
		v.pushAssign(node.OptionalVars, enter)
	} else {
		v.pushBack(makeExpr(enter))
	}

	finallyBlock := v.cfg.AddDeferredBlock()
	finallyBlock.Label = "with_finally"
	v.pushFinallyContinuation(finallyBlock, whyName)

	excBlock := v.cfg.AddDeferredBlock()
	excBlock.Label = "with_exc"
	v.excHandlers = append(v.excHandlers, excBlockInfo{
		excDest:       excBlock,
		typeName:      excTypeName,
		valueName:     excValueName,
		tracebackName: excTracebackName,
	})

	v.visitStmts(node.Body)

	v.excHandlers = v.excHandlers[:len(v.excHandlers)-1]
	finallyDidWhy := v.popContinuation()

	if v.curblock != nil {
		// The body finished as normal; jump to the finally block.
		v.pushAssignName(whyName, makeNum(int(WhyFallthrough)), node)
		v.pushJump(finallyBlock, false)
	}

	// Whether the exit block can have multiple incoming edges (from the
	// exception block and from the finally block). If so, anybody
	// *branching* into it needs a trampoline to avoid critical edges.
	// This is deliberately the conservative answer: the analysis of
	// when it is safe to branch straight in is subtle, and getting it
	// wrong produces a critical edge only on rare shapes.
	exitMultiIncoming := true

	if len(excBlock.Preds) > 0 {
		v.cfg.PlaceBlock(excBlock)
		v.curblock = excBlock

		// Call the context manager's exit method with the exception
		// triple; a truthy result suppresses the exception.
		suppressName := v.names.suffixedName(node, "suppress")
		v.pushAssignName(suppressName, makeCall(
			v.makeLoad(exitName, node),
			v.makeLoad(excTypeName, node),
			v.makeLoad(excValueName, node),
			v.makeLoad(excTracebackName, node),
		), node)

		reraiseBlock := v.cfg.AddDeferredBlock()
		reraiseBlock.Label = "with_reraise"
		exiter := exitBlock
		if exitMultiIncoming {
			exiter = v.cfg.AddDeferredBlock()
			exiter.Label = "with_exiter"
		}
		v.pushBranch(v.makeLoad(suppressName, node), exiter, reraiseBlock)

		if exiter != exitBlock {
			v.cfg.PlaceBlock(exiter)
			v.curblock = exiter
			v.pushJump(exitBlock, false)
		}

		v.cfg.PlaceBlock(reraiseBlock)
		v.curblock = reraiseBlock
		raiseStmt := &pyast.Raise{
			Type:      v.makeLoad(excTypeName, node),
			Value:     v.makeLoad(excValueName, node),
			Traceback: v.makeLoad(excTracebackName, node),
		}
		raiseStmt.Location = node.Location
		v.pushBack(raiseStmt)
		v.curblock = nil
	}

	if len(finallyBlock.Preds) > 0 {
		v.cfg.PlaceBlock(finallyBlock)
		v.curblock = finallyBlock

		// Call the exit method, ignoring the result.
		v.pushBack(makeExpr(makeCall(
			v.makeLoad(exitName, node),
			v.makeLoad(noneName, node),
			v.makeLoad(noneName, node),
			v.makeLoad(noneName, node),
		)))

		// For each reason we might have entered this block, resume in
		// the appropriate manner.
		if finallyDidWhy&(1<<WhyReturn) != 0 {
			doreturn := v.cfg.AddDeferredBlock()
			doreturn.Label = "with_do_return"
			otherwise := v.makeFinallyCont(WhyReturn, v.makeLoad(whyName, node), doreturn)

			v.cfg.PlaceBlock(doreturn)
			v.curblock = doreturn
			v.doReturn(v.makeLoad(v.intern(ReturnName), node), node)

			v.curblock = otherwise
		}

		if finallyDidWhy&(1<<WhyBreak) != 0 {
			dobreak := v.cfg.AddDeferredBlock()
			dobreak.Label = "with_do_break"
			otherwise := v.makeFinallyCont(WhyBreak, v.makeLoad(whyName, node), dobreak)

			v.cfg.PlaceBlock(dobreak)
			v.curblock = dobreak
			v.doBreak(node)

			v.curblock = otherwise
		}

		if finallyDidWhy&(1<<WhyContinue) != 0 {
			docontinue := v.cfg.AddDeferredBlock()
			docontinue.Label = "with_do_continue"
			otherwise := v.makeFinallyCont(WhyContinue, v.makeLoad(whyName, node), docontinue)

			v.cfg.PlaceBlock(docontinue)
			v.curblock = docontinue
			v.doContinue(node)

			v.curblock = otherwise
		}

		if exitMultiIncoming {
			tramp := v.cfg.AddBlock()
			tramp.Label = "with_break_critical_edge_to_exit"
			v.pushJump(tramp, false)
			v.curblock = tramp
			v.pushJump(exitBlock, false)
		} else {
			v.pushJump(exitBlock, false)
		}
	}

	if len(exitBlock.Preds) == 0 {
		v.curblock = nil
	} else {
		v.cfg.PlaceBlock(exitBlock)
		v.curblock = exitBlock
	}
}
