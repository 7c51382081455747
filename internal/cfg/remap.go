package cfg

import (
	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// dupExpr copies a primitive operand. Sometimes the same value has to
// appear twice in the lowered tree, but no node object may be reused;
// only the primitive kinds (names, numbers, strings) may be duplicated.
func dupExpr(val pyast.Expr) pyast.Expr {
	switch orig := val.(type) {
	case nil:
		return nil
	case *pyast.Name:
		made := &pyast.Name{ID: orig.ID, Ctx: orig.Ctx}
		made.Location = orig.Location
		return made
	case *pyast.Num:
		made := &pyast.Num{Kind: orig.Kind, Int: orig.Int, Float: orig.Float}
		made.Location = orig.Location
		return made
	case *pyast.Str:
		made := &pyast.Str{S: orig.S}
		made.Location = orig.Location
		return made
	default:
		internalf("cannot duplicate non-primitive %T", val)
		return nil
	}
}

// remapExpr flattens a nested expression, emitting assignments and
// generating temporaries as needed, and returns a primitive operand.
//
// If wrap is true the result is always a load of a temporary (or a
// literal); otherwise the final composite is returned as-is for the
// caller to place as an assignment right-hand side.
func (v *visitor) remapExpr(node pyast.Expr, wrap bool) pyast.Expr {
	if node == nil {
		return nil
	}

	var rtn pyast.Expr
	switch e := node.(type) {
	case *pyast.Attribute:
		rtn = v.remapAttribute(e)
	case *pyast.ClsAttribute:
		rtn = v.remapClsAttribute(e)
	case *pyast.BinOp:
		rtn = v.remapBinOp(e)
	case *pyast.AugBinOp:
		rtn = v.remapAugBinOp(e)
	case *pyast.BoolOp:
		rtn = v.remapBoolOp(e)
	case *pyast.Call:
		rtn = v.remapCall(e)
	case *pyast.Compare:
		rtn = v.remapCompare(e)
	case *pyast.Dict:
		rtn = v.remapDict(e)
	case *pyast.DictComp:
		rtn = v.remapComprehension(e, e.Generators)
	case *pyast.GeneratorExp:
		rtn = v.remapGeneratorExp(e)
	case *pyast.IfExp:
		rtn = v.remapIfExp(e)
	case *pyast.Lambda:
		rtn = v.remapLambda(e)
	case *pyast.LangPrimitive:
		rtn = v.remapLangPrimitive(e)
	case *pyast.List:
		rtn = v.remapList(e)
	case *pyast.ListComp:
		rtn = v.remapComprehension(e, e.Generators)
	case *pyast.Name:
		rtn = e
	case *pyast.Num:
		return e
	case *pyast.Str:
		return e
	case *pyast.Repr:
		rtn = v.remapRepr(e)
	case *pyast.Set:
		rtn = v.remapSet(e)
	case *pyast.SetComp:
		rtn = v.remapComprehension(e, e.Generators)
	case *pyast.Slice:
		rtn = v.remapSlice(e)
	case *pyast.Subscript:
		rtn = v.remapSubscript(e)
	case *pyast.Tuple:
		rtn = v.remapTuple(e)
	case *pyast.UnaryOp:
		rtn = v.remapUnaryOp(e)
	case *pyast.Yield:
		rtn = v.remapYield(e)
	default:
		internalf("unexpected expression %T in remap", node)
	}

	// This is the part that actually generates temporaries and assigns
	// to them.
	if name, ok := rtn.(*pyast.Name); wrap && (!ok || !IsTemporary(name.ID)) {
		tmp := v.names.nodeName(node)
		v.pushAssignName(tmp, rtn, node)
		return v.makeLoad(tmp, node)
	}
	return rtn
}

func (v *visitor) remapAttribute(node *pyast.Attribute) pyast.Expr {
	rtn := &pyast.Attribute{
		Value: v.remapExpr(node.Value, true),
		Attr:  v.source.MangleName(node.Attr),
		Ctx:   node.Ctx,
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapClsAttribute(node *pyast.ClsAttribute) pyast.Expr {
	rtn := &pyast.ClsAttribute{
		Value: v.remapExpr(node.Value, true),
		Attr:  node.Attr,
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapBinOp(node *pyast.BinOp) pyast.Expr {
	rtn := &pyast.BinOp{
		Op:    node.Op,
		Left:  v.remapExpr(node.Left, true),
		Right: v.remapExpr(node.Right, true),
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapAugBinOp(node *pyast.AugBinOp) pyast.Expr {
	rtn := &pyast.AugBinOp{
		Op:    node.Op,
		Left:  v.remapExpr(node.Left, true),
		Right: v.remapExpr(node.Right, true),
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapUnaryOp(node *pyast.UnaryOp) pyast.Expr {
	rtn := &pyast.UnaryOp{
		Op:      node.Op,
		Operand: v.remapExpr(node.Operand, true),
	}
	rtn.Location = node.Location
	return rtn
}

// remapBoolOp lowers a short-circuit chain: each operand but the last
// is tested and either continues the chain or jumps to the common exit
// with the result name holding the deciding value.
func (v *visitor) remapBoolOp(node *pyast.BoolOp) pyast.Expr {
	name := v.names.nodeName(node)
	exitBlock := v.cfg.AddDeferredBlock()
	exitBlock.Label = "boolop_exit"

	for i := 0; i < len(node.Values)-1; i++ {
		val := v.remapExpr(node.Values[i], true)
		v.pushAssignName(name, val, node)

		br := &Branch{Test: v.callNonzero(dupExpr(val))}
		br.Location = node.Location
		v.pushBack(br)

		wasBlock := v.curblock
		nextBlock := v.cfg.AddBlock()
		nextBlock.Label = "boolop_next"
		critBreakBlock := v.cfg.AddBlock()
		critBreakBlock.Label = "boolop_shortcircuit"
		wasBlock.ConnectTo(nextBlock, false)
		wasBlock.ConnectTo(critBreakBlock, false)

		if node.Op == "or" {
			br.True = critBreakBlock
			br.False = nextBlock
		} else {
			br.False = critBreakBlock
			br.True = nextBlock
		}

		v.curblock = critBreakBlock
		v.pushJump(exitBlock, false)

		v.curblock = nextBlock
	}

	finalVal := v.remapExpr(node.Values[len(node.Values)-1], true)
	v.pushAssignName(name, finalVal, node)
	v.pushJump(exitBlock, false)

	v.cfg.PlaceBlock(exitBlock)
	v.curblock = exitBlock

	return v.makeLoad(name, node)
}

func (v *visitor) remapCall(node *pyast.Call) pyast.Expr {
	rtn := &pyast.Call{}
	rtn.Location = node.Location

	switch fn := node.Func.(type) {
	case *pyast.Attribute:
		// Keep "callattr" fused: the callee attribute load stays part
		// of this call expression rather than moving into its own
		// temporary.
		rtn.Func = v.remapAttribute(fn)
	case *pyast.ClsAttribute:
		rtn.Func = v.remapClsAttribute(fn)
	default:
		rtn.Func = v.remapExpr(node.Func, true)
	}

	for _, arg := range node.Args {
		rtn.Args = append(rtn.Args, v.remapExpr(arg, true))
	}
	for _, kw := range node.Keywords {
		rtn.Keywords = append(rtn.Keywords, &pyast.Keyword{Arg: kw.Arg, Value: v.remapExpr(kw.Value, true)})
	}
	rtn.Starargs = v.remapExpr(node.Starargs, true)
	rtn.Kwargs = v.remapExpr(node.Kwargs, true)
	return rtn
}

// remapCompare keeps single comparisons simple and decomposes chains
// into short-circuit-AND joined two-operand steps.
func (v *visitor) remapCompare(node *pyast.Compare) pyast.Expr {
	if len(node.Ops) == 1 {
		rtn := &pyast.Compare{
			Ops:         node.Ops,
			Left:        v.remapExpr(node.Left, true),
			Comparators: []pyast.Expr{v.remapExpr(node.Comparators[0], true)},
		}
		rtn.Location = node.Location
		return rtn
	}

	name := v.names.nodeName(node)
	exitBlock := v.cfg.AddDeferredBlock()
	exitBlock.Label = "compare_exit"
	left := v.remapExpr(node.Left, true)

	for i := range node.Ops {
		right := v.remapExpr(node.Comparators[i], true)

		val := &pyast.Compare{
			Left:        left,
			Ops:         []string{node.Ops[i]},
			Comparators: []pyast.Expr{right},
		}
		val.Location = node.Location
		v.pushAssignName(name, val, node)

		br := &Branch{Test: v.callNonzero(v.makeLoad(name, node))}
		br.Location = node.Location
		v.pushBack(br)

		wasBlock := v.curblock
		nextBlock := v.cfg.AddBlock()
		nextBlock.Label = "compare_next"
		critBreakBlock := v.cfg.AddBlock()
		critBreakBlock.Label = "compare_shortcircuit"
		wasBlock.ConnectTo(nextBlock, false)
		wasBlock.ConnectTo(critBreakBlock, false)

		br.False = critBreakBlock
		br.True = nextBlock

		v.curblock = critBreakBlock
		v.pushJump(exitBlock, false)

		v.curblock = nextBlock

		// The right operand becomes the next step's left operand; it
		// must be a fresh node there.
		left = dupExpr(right)
	}

	v.pushJump(exitBlock, false)
	v.cfg.PlaceBlock(exitBlock)
	v.curblock = exitBlock

	return v.makeLoad(name, node)
}

func (v *visitor) remapDict(node *pyast.Dict) pyast.Expr {
	rtn := &pyast.Dict{}
	rtn.Location = node.Location
	for _, k := range node.Keys {
		rtn.Keys = append(rtn.Keys, v.remapExpr(k, true))
	}
	for _, val := range node.Values {
		rtn.Values = append(rtn.Values, v.remapExpr(val, true))
	}
	return rtn
}

func (v *visitor) remapList(node *pyast.List) pyast.Expr {
	rtn := &pyast.List{Ctx: node.Ctx}
	rtn.Location = node.Location
	for _, elt := range node.Elts {
		rtn.Elts = append(rtn.Elts, v.remapExpr(elt, true))
	}
	return rtn
}

func (v *visitor) remapSet(node *pyast.Set) pyast.Expr {
	rtn := &pyast.Set{}
	rtn.Location = node.Location
	for _, elt := range node.Elts {
		rtn.Elts = append(rtn.Elts, v.remapExpr(elt, true))
	}
	return rtn
}

func (v *visitor) remapTuple(node *pyast.Tuple) pyast.Expr {
	rtn := &pyast.Tuple{Ctx: node.Ctx}
	rtn.Location = node.Location
	for _, elt := range node.Elts {
		rtn.Elts = append(rtn.Elts, v.remapExpr(elt, true))
	}
	return rtn
}

func (v *visitor) remapSlice(node *pyast.Slice) pyast.Expr {
	rtn := &pyast.Slice{
		Lower: v.remapExpr(node.Lower, true),
		Upper: v.remapExpr(node.Upper, true),
		Step:  v.remapExpr(node.Step, true),
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapSubscript(node *pyast.Subscript) pyast.Expr {
	rtn := &pyast.Subscript{
		Value: v.remapExpr(node.Value, true),
		Slice: v.remapExpr(node.Slice, true),
		Ctx:   node.Ctx,
	}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapRepr(node *pyast.Repr) pyast.Expr {
	rtn := &pyast.Repr{Value: v.remapExpr(node.Value, true)}
	rtn.Location = node.Location
	return rtn
}

func (v *visitor) remapLangPrimitive(node *pyast.LangPrimitive) pyast.Expr {
	rtn := &pyast.LangPrimitive{Op: node.Op}
	rtn.Location = node.Location
	for _, arg := range node.Args {
		rtn.Args = append(rtn.Args, v.remapExpr(arg, true))
	}
	return rtn
}

// remapLambda remaps the default expressions in place: the defaults are
// evaluated in the enclosing scope, the body is not lowered here.
func (v *visitor) remapLambda(node *pyast.Lambda) pyast.Expr {
	if node.Args != nil {
		for i := range node.Args.Defaults {
			node.Args.Defaults[i] = v.remapExpr(node.Args.Defaults[i], true)
		}
	}
	return node
}

// remapIfExp lowers "body if test else orelse" into a branch whose arms
// assign the result name and meet at a common exit.
func (v *visitor) remapIfExp(node *pyast.IfExp) pyast.Expr {
	rtnName := v.names.nodeName(node)
	iftrue := v.cfg.AddDeferredBlock()
	iftrue.Label = "iftrue"
	iffalse := v.cfg.AddDeferredBlock()
	iffalse.Label = "iffalse"
	exitBlock := v.cfg.AddDeferredBlock()
	exitBlock.Label = "ifexp_exit"

	v.pushBranch(v.remapExpr(node.Test, true), iftrue, iffalse)

	v.cfg.PlaceBlock(iftrue)
	v.curblock = iftrue
	v.pushAssignName(rtnName, v.remapExpr(node.Body, true), node)
	v.pushJump(exitBlock, false)

	v.cfg.PlaceBlock(iffalse)
	v.curblock = iffalse
	v.pushAssignName(rtnName, v.remapExpr(node.Orelse, true), node)
	v.pushJump(exitBlock, false)

	v.cfg.PlaceBlock(exitBlock)
	v.curblock = exitBlock

	return v.makeLoad(rtnName, node)
}

// remapYield assigns the yielded value to a temporary and invalidates
// the cached exception info: exception state observed after a yield
// must reflect the resumer's context, not the generator's.
func (v *visitor) remapYield(node *pyast.Yield) pyast.Expr {
	rtn := &pyast.Yield{Value: v.remapExpr(node.Value, true)}
	rtn.Location = node.Location

	name := v.names.nodeName(rtn)
	v.pushAssignName(name, rtn, node)

	v.pushBack(makeExpr(makePrimitive(pyast.PrimUncacheExcInfo)))

	return v.makeLoad(name, node)
}

// compAccumulator returns the empty accumulator for a comprehension and
// a callback that produces the per-element accumulation expression.
func (v *visitor) compAccumulator(node pyast.Expr) (pyast.Expr, func(accum *pyast.Name) pyast.Expr) {
	switch comp := node.(type) {
	case *pyast.ListComp:
		empty := &pyast.List{Ctx: pyast.Load}
		empty.Location = comp.Location
		return empty, func(accum *pyast.Name) pyast.Expr {
			elt := v.remapExpr(comp.Elt, true)
			return makeCall(v.makeLoadAttribute(accum, "append", true), elt)
		}
	case *pyast.SetComp:
		empty := &pyast.Set{}
		empty.Location = comp.Location
		return empty, func(accum *pyast.Name) pyast.Expr {
			elt := v.remapExpr(comp.Elt, true)
			return makeCall(v.makeLoadAttribute(accum, "add", true), elt)
		}
	case *pyast.DictComp:
		empty := &pyast.Dict{}
		empty.Location = comp.Location
		return empty, func(accum *pyast.Name) pyast.Expr {
			key := v.remapExpr(comp.Key, true)
			value := v.remapExpr(comp.Value, true)
			return makeCall(v.makeLoadAttribute(accum, "__setitem__", true), key, value)
		}
	default:
		internalf("not a comprehension: %T", node)
		return nil, nil
	}
}

// remapComprehension lowers a list/set/dict comprehension in place as
// nested loops inside the enclosing graph.
func (v *visitor) remapComprehension(node pyast.Expr, generators []*pyast.Comprehension) pyast.Expr {
	rtnName := v.names.nodeName(node)
	empty, apply := v.compAccumulator(node)
	v.pushAssignName(rtnName, empty, node)

	var exitBlocks []*Block

	// Where the current level jumps after finishing its iteration: nil
	// for the outermost comprehension, the next-outer test block for
	// the inner ones.
	var finishedBlock *Block

	for i, gen := range generators {
		isInnermost := i == len(generators)-1

		remappedIter := v.remapExpr(gen.Iter, true)
		iterCall := makePrimitive(pyast.PrimGetIter, remappedIter)
		iterCall.Location = remappedIter.Loc()
		iterName := v.names.indexedName(node, "lc_iter", i)
		v.pushAssignName(iterName, iterCall, node)

		hasnextAttr := v.makeLoadAttribute(v.makeLoad(iterName, node), "__hasnext__", true)
		nextAttr := v.makeLoadAttribute(v.makeLoad(iterName, node), "next", true)

		testBlock := v.cfg.AddBlock()
		testBlock.Label = "comprehension_test"
		v.pushJump(testBlock, false)

		v.curblock = testBlock
		testCall := v.callNonzero(v.remapExpr(makeCall(hasnextAttr), true))

		bodyBlock := v.cfg.AddBlock()
		bodyBlock.Label = "comprehension_body"
		exitBlock := v.cfg.AddDeferredBlock()
		exitBlock.Label = "comprehension_exit"
		exitBlocks = append(exitBlocks, exitBlock)

		br := &Branch{Test: testCall, True: bodyBlock, False: exitBlock}
		br.Location = node.Loc()
		v.curblock.ConnectTo(bodyBlock, false)
		v.curblock.ConnectTo(exitBlock, false)
		v.pushBack(br)

		v.curblock = bodyBlock
		nextName := v.names.nodeName(nextAttr)
		v.pushAssignName(nextName, makeCall(nextAttr), node)
		v.pushAssign(gen.Target, v.makeLoad(nextName, node))

		for _, ifCond := range gen.Ifs {
			remapped := v.callNonzero(v.remapExpr(ifCond, true))
			condBr := &Branch{Test: remapped}
			condBr.Location = ifCond.Loc()
			v.pushBack(condBr)

			bodyTramp := v.cfg.AddBlock()
			bodyTramp.Label = "comprehension_if_trampoline"
			bodyContinue := v.cfg.AddBlock()
			bodyContinue.Label = "comprehension_if_continue"

			condBr.False = bodyTramp
			v.curblock.ConnectTo(bodyTramp, false)
			condBr.True = bodyContinue
			v.curblock.ConnectTo(bodyContinue, false)

			v.curblock = bodyTramp
			v.pushJump(testBlock, true)

			v.curblock = bodyContinue
		}

		bodyEnd := v.curblock

		if (finishedBlock != nil) != (i != 0) {
			internalf("comprehension nesting out of sync")
		}
		if finishedBlock != nil {
			v.curblock = exitBlock
			v.pushJump(finishedBlock, true)
		}
		finishedBlock = testBlock

		v.curblock = bodyEnd
		if isInnermost {
			v.pushBack(makeExpr(apply(v.makeLoad(rtnName, node))))
			v.pushJump(testBlock, true)
			v.curblock = exitBlocks[0]
		}
		// otherwise: continue onto the next comprehension clause inside
		// this body
	}

	// Wait until the end to place the exit blocks, so we get a nesting
	// structure that looks like explicit nested for loops.
	for i := len(exitBlocks) - 1; i >= 0; i-- {
		v.cfg.PlaceBlock(exitBlocks[i])
	}

	return v.makeLoad(rtnName, node)
}

// remapGeneratorExp synthesizes a function whose body is the nested
// for/if tree yielding the element, registers the synthesis with the
// scoping analysis, and evaluates to a call of that function on the
// outermost iterable (which, per Python semantics, is evaluated in the
// enclosing scope).
func (v *visitor) remapGeneratorExp(node *pyast.GeneratorExp) pyast.Expr {
	if len(node.Generators) == 0 {
		internalf("generator expression without generators")
	}

	first := v.remapExpr(node.Generators[0].Iter, true)

	fn := &pyast.FunctionDef{}
	fn.Location = node.Location
	fnName := v.names.nodeName(fn)
	fn.Name = fnName

	if v.source.Scoping != nil {
		v.source.Scoping.RegisterScopeReplacement(node, fn)
	}

	firstGeneratorName := v.names.nodeName(node.Generators[0])
	fn.Args = &pyast.Arguments{
		Args: []pyast.Expr{v.makeName(firstGeneratorName, pyast.Param, node.Location)},
	}

	insertPoint := &fn.Body
	for i, gen := range node.Generators {
		loop := &pyast.For{Target: gen.Target}
		loop.Location = node.Location

		if i == 0 {
			loop.Iter = v.makeLoad(firstGeneratorName, node)
		} else {
			loop.Iter = gen.Iter
		}

		*insertPoint = append(*insertPoint, loop)
		insertPoint = &loop.Body

		for _, ifCond := range gen.Ifs {
			// No nonzero call here: this AST goes through CFG
			// construction again when the synthesized function is
			// compiled.
			ifStmt := &pyast.If{Test: ifCond}
			ifStmt.Location = ifCond.Loc()

			*insertPoint = append(*insertPoint, ifStmt)
			insertPoint = &ifStmt.Body
		}
	}

	y := &pyast.Yield{Value: node.Elt}
	y.Location = node.Location
	*insertPoint = append(*insertPoint, makeExpr(y))

	v.pushBack(fn)

	call := makeCall(v.makeLoad(fnName, node), first)
	call.Location = node.Location
	return call
}
