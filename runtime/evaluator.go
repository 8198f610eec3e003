package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/lbliii/bengal-sub003/nodes"
)

// The tree-walking engine. Statements return a control signal so break
// and continue unwind through nested statements without error plumbing;
// expressions return plain values.

func execStmtsTop(ctx *Context, stmts []nodes.Stmt) error {
	_, err := execStmts(ctx, stmts)
	return err
}

func execStmts(ctx *Context, stmts []nodes.Stmt) (signal, error) {
	for _, stmt := range stmts {
		sig, err := execStmt(ctx, stmt)
		if err != nil {
			return sigNone, err
		}
		if sig != sigNone {
			return sig, nil
		}
	}
	return sigNone, nil
}

func execStmt(ctx *Context, stmt nodes.Stmt) (signal, error) {
	switch n := stmt.(type) {
	case *nodes.Text:
		ctx.write(n.Data)
		return sigNone, nil

	case *nodes.Output:
		value, err := evalExpr(ctx, n.Expr)
		if err != nil {
			return sigNone, err
		}
		ctx.writeValue(value)
		return sigNone, nil

	case *nodes.If:
		return execIf(ctx, n)

	case *nodes.For:
		return execFor(ctx, n)

	case *nodes.Set:
		value, err := evalExpr(ctx, n.Value)
		if err != nil {
			return sigNone, err
		}
		ctx.scope.Set(n.Name, value)
		return sigNone, nil

	case *nodes.With:
		values := make([]interface{}, len(n.Values))
		for i, expr := range n.Values {
			v, err := evalExpr(ctx, expr)
			if err != nil {
				return sigNone, err
			}
			values[i] = v
		}
		ctx.pushScope()
		defer ctx.popScope()
		for i, name := range n.Names {
			ctx.scope.Set(name, values[i])
		}
		return execStmts(ctx, n.Body)

	case *nodes.Block:
		return sigNone, execBlock(ctx, n)

	case *nodes.Extends:
		// Chain resolution consumed this at load time.
		return sigNone, nil

	case *nodes.Include:
		return sigNone, execInclude(ctx, n)

	case *nodes.Def:
		ctx.scope.Set(n.Name, &macroValue{def: n, scope: ctx.scope})
		return sigNone, nil

	case *nodes.CallBlock:
		return sigNone, execCallBlock(ctx, n)

	case *nodes.Cache:
		return sigNone, execCache(ctx, n)

	case *nodes.TypeDecl:
		// Advisory. Strict environments verify the name is bound.
		if ctx.strictActive() {
			if _, err := ctx.resolveName(n.Name, n.Position()); err != nil {
				return sigNone, err
			}
		}
		return sigNone, nil

	case *nodes.Break:
		return sigBreak, nil

	case *nodes.Continue:
		return sigContinue, nil

	default:
		return sigNone, NewError(ErrorKindTemplate,
			fmt.Sprintf("cannot execute %T", stmt), stmt.Position())
	}
}

func execIf(ctx *Context, n *nodes.If) (signal, error) {
	ok, err := evalTruth(ctx, n.Test)
	if err != nil {
		return sigNone, err
	}
	if ok {
		return execStmts(ctx, n.Body)
	}
	for _, branch := range n.Elif {
		ok, err := evalTruth(ctx, branch.Test)
		if err != nil {
			return sigNone, err
		}
		if ok {
			return execStmts(ctx, branch.Body)
		}
	}
	return execStmts(ctx, n.Else)
}

func execFor(ctx *Context, n *nodes.For) (signal, error) {
	iter, err := evalExpr(ctx, n.Iter)
	if err != nil {
		return sigNone, err
	}
	pairs, err := materialize(iter, n.Iter.Position())
	if err != nil {
		return sigNone, err
	}

	if len(pairs) == 0 {
		return execStmts(ctx, n.Empty)
	}

	ctx.pushScope()
	defer ctx.popScope()
	for i, pair := range pairs {
		if n.SecondVar != "" {
			ctx.scope.Set(n.Var, pair.key)
			ctx.scope.Set(n.SecondVar, pair.value)
		} else {
			ctx.scope.Set(n.Var, pair.value)
		}
		ctx.scope.Set("loop", &LoopInfo{
			Index:  i + 1,
			Index0: i,
			First:  i == 0,
			Last:   i == len(pairs)-1,
			Length: len(pairs),
		})

		sig, err := execStmts(ctx, n.Body)
		if err != nil {
			return sigNone, err
		}
		if sig == sigBreak {
			break
		}
	}
	return sigNone, nil
}

// execBlock renders the most-derived override of a named block; super()
// calls step down the override list from there.
func execBlock(ctx *Context, n *nodes.Block) error {
	overrides := ctx.tmpl.blocks[n.Name]
	if len(overrides) == 0 {
		return execStmtsTop(ctx, n.Body)
	}
	return renderBlockAt(ctx, n.Name, 0)
}

func renderBlockAt(ctx *Context, name string, depth int) error {
	overrides := ctx.tmpl.blocks[name]
	if depth >= len(overrides) {
		return NewError(ErrorKindTemplate,
			fmt.Sprintf("block %q has no ancestor beyond depth %d", name, depth-1), nodes.Position{})
	}
	bo := overrides[depth]

	ctx.blockStack = append(ctx.blockStack, blockFrame{name: name, depth: depth})
	err := execStmtsTop(ctx, bo.block.Body)
	ctx.blockStack = ctx.blockStack[:len(ctx.blockStack)-1]
	if err != nil {
		return decorate(err, bo.owner.name, bo.owner.source)
	}
	return nil
}

// execInclude renders another template in place, sharing the current
// scope stack.
func execInclude(ctx *Context, n *nodes.Include) error {
	target, err := evalExpr(ctx, n.Target)
	if err != nil {
		return err
	}
	name, ok := asString(target)
	if !ok {
		return NewError(ErrorKindType, "include target must be a string", n.Position())
	}

	included, err := ctx.env.GetTemplate(name)
	if err != nil {
		return err
	}

	saved := ctx.tmpl
	ctx.tmpl = included
	err = execStmtsTop(ctx, included.chain[0].root.Body)
	ctx.tmpl = saved
	if err != nil {
		return decorate(err, included.chain[0].name, included.chain[0].source)
	}
	return nil
}

func execCallBlock(ctx *Context, n *nodes.CallBlock) error {
	// caller() runs from inside the def body, so the call-site scope is
	// restored around the block body: names bound lexically around the
	// call stay visible, names local to the def do not leak in.
	site := ctx.scope
	ctx.pushCaller(func() (string, error) {
		saved := ctx.scope
		ctx.scope = site
		out, err := ctx.capture(func() error {
			return execStmtsTop(ctx, n.Body)
		})
		ctx.scope = saved
		return out, err
	})
	defer ctx.popCaller()

	value, err := evalExpr(ctx, n.Call)
	if err != nil {
		return err
	}
	ctx.writeValue(value)
	return nil
}

func execCache(ctx *Context, n *nodes.Cache) error {
	keyValue, err := evalExpr(ctx, n.Key)
	if err != nil {
		return err
	}
	key, err := cacheKey(keyValue, n.Key.Position())
	if err != nil {
		return err
	}

	var ttl time.Duration
	if n.TTL != nil {
		ttlValue, err := evalExpr(ctx, n.TTL)
		if err != nil {
			return err
		}
		num, ok := classifyNumber(ttlValue)
		if !ok {
			return NewCacheKeyError("cache ttl must be a number of seconds", n.TTL.Position())
		}
		ttl = time.Duration(num.floatValue * float64(time.Second))
	}

	vary := make([]interface{}, len(n.Vary))
	for i, expr := range n.Vary {
		v, err := evalExpr(ctx, expr)
		if err != nil {
			return err
		}
		vary[i] = v
	}

	value, err := ctx.env.fragments.Fill(key, Fingerprint(vary), ttl, func() (string, error) {
		return ctx.capture(func() error {
			return execStmtsTop(ctx, n.Body)
		})
	})
	if err != nil {
		return err
	}
	ctx.write(value)
	return nil
}

// cacheKey validates that a key expression produced a stable hashable
// value and renders it.
func cacheKey(value interface{}, pos nodes.Position) (string, error) {
	switch value.(type) {
	case string, safeString, bool:
		return Stringify(value), nil
	case nil, undefinedValue:
		return "", NewCacheKeyError("cache key must not be empty", pos)
	}
	if _, ok := classifyNumber(value); ok {
		return Stringify(value), nil
	}
	return "", NewCacheKeyError(
		fmt.Sprintf("cache key must be a string, number or boolean, not %s", typeName(value)), pos)
}

// --- expressions ---

func evalTruth(ctx *Context, expr nodes.Expr) (bool, error) {
	value, err := evalExpr(ctx, expr)
	if err != nil {
		return false, err
	}
	return Truth(value), nil
}

func evalExpr(ctx *Context, expr nodes.Expr) (interface{}, error) {
	switch n := expr.(type) {
	case *nodes.Const:
		return n.Value, nil

	case *nodes.Name:
		return ctx.resolveName(n.Ident, n.Position())

	case *nodes.UnaryOp:
		return evalUnary(ctx, n)

	case *nodes.BinaryOp:
		return evalBinary(ctx, n)

	case *nodes.Compare:
		return evalCompare(ctx, n)

	case *nodes.Ternary:
		ok, err := evalTruth(ctx, n.Test)
		if err != nil {
			return nil, err
		}
		if ok {
			return evalExpr(ctx, n.True)
		}
		return evalExpr(ctx, n.False)

	case *nodes.TestExpr:
		return evalTest(ctx, n)

	case *nodes.Attribute:
		target, err := evalExpr(ctx, n.Target)
		if err != nil {
			return nil, err
		}
		return ctx.resolveAttr(target, n.Name, n.Position())

	case *nodes.Subscript:
		target, err := evalExpr(ctx, n.Target)
		if err != nil {
			return nil, err
		}
		index, err := evalExpr(ctx, n.Index)
		if err != nil {
			return nil, err
		}
		return ctx.resolveItem(target, index, n.Position())

	case *nodes.ListLiteral:
		items := make([]interface{}, len(n.Items))
		for i, item := range n.Items {
			v, err := evalExpr(ctx, item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case *nodes.DictLiteral:
		dict := make(map[string]interface{}, len(n.Keys))
		for i := range n.Keys {
			key, err := evalExpr(ctx, n.Keys[i])
			if err != nil {
				return nil, err
			}
			value, err := evalExpr(ctx, n.Values[i])
			if err != nil {
				return nil, err
			}
			dict[Stringify(key)] = value
		}
		return dict, nil

	case *nodes.Call:
		return evalCall(ctx, n)

	case *nodes.Filter:
		return evalFilter(ctx, n)

	case *nodes.Pipeline:
		return evalPipeline(ctx, n)

	default:
		return nil, NewError(ErrorKindTemplate,
			fmt.Sprintf("cannot evaluate %T", expr), expr.Position())
	}
}

func evalUnary(ctx *Context, n *nodes.UnaryOp) (interface{}, error) {
	value, err := evalExpr(ctx, n.Expr)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "not":
		return !Truth(value), nil
	case "-":
		num, ok := classifyNumber(value)
		if !ok {
			return nil, NewError(ErrorKindType,
				fmt.Sprintf("cannot negate %s", typeName(value)), n.Position())
		}
		if num.isFloat() {
			return -num.floatValue, nil
		}
		return -num.intValue, nil
	case "+":
		if _, ok := classifyNumber(value); !ok {
			return nil, NewError(ErrorKindType,
				fmt.Sprintf("unary plus on %s", typeName(value)), n.Position())
		}
		return value, nil
	}
	return nil, NewError(ErrorKindTemplate, fmt.Sprintf("unknown unary operator %q", n.Op), n.Position())
}

func evalBinary(ctx *Context, n *nodes.BinaryOp) (interface{}, error) {
	// and/or short-circuit and yield an operand value.
	switch n.Op {
	case "and":
		left, err := evalExpr(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		if !Truth(left) {
			return left, nil
		}
		return evalExpr(ctx, n.Right)
	case "or":
		left, err := evalExpr(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		if Truth(left) {
			return left, nil
		}
		return evalExpr(ctx, n.Right)
	}

	left, err := evalExpr(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := evalExpr(ctx, n.Right)
	if err != nil {
		return nil, err
	}
	return applyBinary(n.Op, left, right, n.Position())
}

func evalCompare(ctx *Context, n *nodes.Compare) (interface{}, error) {
	left, err := evalExpr(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range n.Ops {
		right, err := evalExpr(ctx, op.Right)
		if err != nil {
			return nil, err
		}
		ok, err := compareValues(op.Op, left, right, n.Position())
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func evalTest(ctx *Context, n *nodes.TestExpr) (interface{}, error) {
	fn, ok := ctx.env.test(n.Name)
	if !ok {
		return nil, NewTestNotFound(n.Name, n.Position(), ctx.env.suggestTest(n.Name))
	}

	// defined/undefined inspect missing values, so their operand reads
	// leniently even in a strict environment.
	var value interface{}
	var err error
	if n.Name == "defined" || n.Name == "undefined" {
		value, err = evalLenient(ctx, n.Expr)
	} else {
		value, err = evalExpr(ctx, n.Expr)
	}
	if err != nil {
		return nil, err
	}

	args, err := evalArgs(ctx, n.Args, nil)
	if err != nil {
		return nil, err
	}
	result, err := fn(ctx, value, args)
	if err != nil {
		return nil, err
	}
	if n.Negated {
		return !result, nil
	}
	return result, nil
}

func evalCall(ctx *Context, n *nodes.Call) (interface{}, error) {
	args, err := evalArgs(ctx, n.Args, n.Kwargs)
	if err != nil {
		return nil, err
	}

	if name, ok := n.Target.(*nodes.Name); ok {
		if value, found := ctx.scope.Lookup(name.Ident); found {
			return callValue(ctx, value, args, n.Position())
		}
		if fn, found := ctx.env.function(name.Ident); found {
			return fn(ctx, args)
		}
		if value, found := ctx.env.global(name.Ident); found {
			return callValue(ctx, value, args, n.Position())
		}
		return nil, NewFunctionNotFound(name.Ident, n.Position(), ctx.env.suggestFunction(name.Ident))
	}

	target, err := evalExpr(ctx, n.Target)
	if err != nil {
		return nil, err
	}
	return callValue(ctx, target, args, n.Position())
}

// callValue invokes a macro or a host-provided callable.
func callValue(ctx *Context, value interface{}, args Args, pos nodes.Position) (interface{}, error) {
	switch fn := value.(type) {
	case *macroValue:
		return invokeMacro(ctx, fn, args, pos)
	case Func:
		return fn(ctx, args)
	case func(ctx *Context, args Args) (interface{}, error):
		return fn(ctx, args)
	}
	return nil, NewError(ErrorKindType,
		fmt.Sprintf("%s is not callable", typeName(value)), pos)
}

func evalFilter(ctx *Context, n *nodes.Filter) (interface{}, error) {
	fn, ok := ctx.env.filter(n.Name)
	if !ok {
		return nil, NewFilterNotFound(n.Name, n.Position(), ctx.env.suggestFilter(n.Name))
	}

	// The default filter exists to replace missing values, so its input
	// reads leniently.
	var value interface{}
	var err error
	if n.Name == "default" {
		value, err = evalLenient(ctx, n.Target)
	} else {
		value, err = evalExpr(ctx, n.Target)
	}
	if err != nil {
		return nil, err
	}

	args, err := evalArgs(ctx, n.Args, n.Kwargs)
	if err != nil {
		return nil, err
	}
	return fn(ctx, value, args)
}

func evalPipeline(ctx *Context, n *nodes.Pipeline) (interface{}, error) {
	var value interface{}
	var err error
	if len(n.Stages) > 0 && n.Stages[0].Name == "default" {
		value, err = evalLenient(ctx, n.Input)
	} else {
		value, err = evalExpr(ctx, n.Input)
	}
	if err != nil {
		return nil, err
	}

	for _, stage := range n.Stages {
		fn, ok := ctx.env.filter(stage.Name)
		if !ok {
			return nil, NewFilterNotFound(stage.Name, stage.Position(), ctx.env.suggestFilter(stage.Name))
		}
		args, err := evalArgs(ctx, stage.Args, stage.Kwargs)
		if err != nil {
			return nil, err
		}
		value, err = fn(ctx, value, args)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func evalArgs(ctx *Context, args []nodes.Expr, kwargs []nodes.Kwarg) (Args, error) {
	out := Args{}
	if len(args) > 0 {
		out.Positional = make([]interface{}, len(args))
		for i, expr := range args {
			v, err := evalExpr(ctx, expr)
			if err != nil {
				return Args{}, err
			}
			out.Positional[i] = v
		}
	}
	if len(kwargs) > 0 {
		out.Keyword = make(map[string]interface{}, len(kwargs))
		for _, kw := range kwargs {
			v, err := evalExpr(ctx, kw.Value)
			if err != nil {
				return Args{}, err
			}
			out.Keyword[kw.Name] = v
		}
	}
	return out, nil
}

// evalLenient evaluates an expression with the strict undefined policy
// suspended, so missing names surface as the undefined sentinel.
func evalLenient(ctx *Context, expr nodes.Expr) (interface{}, error) {
	ctx.lenient++
	value, err := evalExpr(ctx, expr)
	ctx.lenient--
	return value, err
}

// macroValue is a def bound in a scope: a named callable with lexical
// closure over the scope chain where it was defined. Free names resolve
// against that chain at call time.
type macroValue struct {
	def   *nodes.Def
	scope *Scope
}

func (m *macroValue) String() string {
	return fmt.Sprintf("<def %s>", m.def.Name)
}

func invokeMacro(ctx *Context, m *macroValue, args Args, pos nodes.Position) (interface{}, error) {
	if len(args.Positional) > len(m.def.Params) {
		return nil, NewError(ErrorKindType,
			fmt.Sprintf("%s() takes at most %d arguments, got %d",
				m.def.Name, len(m.def.Params), len(args.Positional)), pos)
	}

	callScope := NewScope(m.scope)
	for i, param := range m.def.Params {
		if i < len(args.Positional) {
			callScope.Set(param.Name, args.Positional[i])
			continue
		}
		if v, ok := args.Kw(param.Name); ok {
			callScope.Set(param.Name, v)
			continue
		}
		if param.Default != nil {
			saved := ctx.scope
			ctx.scope = callScope
			v, err := evalExpr(ctx, param.Default)
			ctx.scope = saved
			if err != nil {
				return nil, err
			}
			callScope.Set(param.Name, v)
			continue
		}
		return nil, NewError(ErrorKindType,
			fmt.Sprintf("%s() missing required argument %q", m.def.Name, param.Name), pos)
	}
	for name := range args.Keyword {
		if !paramNamed(m.def.Params, name) {
			return nil, NewError(ErrorKindType,
				fmt.Sprintf("%s() got an unexpected keyword argument %q", m.def.Name, name), pos)
		}
	}

	saved := ctx.scope
	ctx.scope = callScope
	out, err := ctx.capture(func() error {
		return execStmtsTop(ctx, m.def.Body)
	})
	ctx.scope = saved
	if err != nil {
		return nil, err
	}
	return safeString(out), nil
}

func paramNamed(params []nodes.Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// capture renders through fn into a fresh buffer and restores the
// previous one.
func (ctx *Context) capture(fn func() error) (string, error) {
	saved := ctx.out
	ctx.out = &strings.Builder{}
	err := fn()
	captured := ctx.out.String()
	ctx.out = saved
	if err != nil {
		return "", err
	}
	return captured, nil
}
