package runtime

import (
	"fmt"
	"time"

	"github.com/lbliii/bengal-sub003/nodes"
)

// The compiled engine lowers a template body into a tree of closures so
// repeated renders skip node-type dispatch. Compilation pre-resolves
// filter and test lookups against the registry; gens records the
// registration generation of every name referenced so the program is
// rebuilt after a re-registration. Cross-template dispatch (block
// overrides, includes, def bodies) goes through the same helpers the
// tree-walker uses, which keeps the two engines' output identical.

type stmtProg func(ctx *Context) (signal, error)
type exprProg func(ctx *Context) (interface{}, error)

type program struct {
	entry stmtProg
	gens  map[string]uint64
}

func (p *program) run(ctx *Context) error {
	_, err := p.entry(ctx)
	return err
}

func compile(t *Template) *program {
	c := &compiler{env: t.env, refs: make(map[string]bool)}
	entry := c.stmts(t.chain[0].root.Body)
	return &program{entry: entry, gens: t.env.snapshotGens(c.refs)}
}

type compiler struct {
	env  *Environment
	refs map[string]bool
}

func (c *compiler) stmts(body []nodes.Stmt) stmtProg {
	progs := make([]stmtProg, len(body))
	for i, stmt := range body {
		progs[i] = c.stmt(stmt)
	}
	return func(ctx *Context) (signal, error) {
		for _, p := range progs {
			sig, err := p(ctx)
			if err != nil {
				return sigNone, err
			}
			if sig != sigNone {
				return sig, nil
			}
		}
		return sigNone, nil
	}
}

func (c *compiler) stmt(stmt nodes.Stmt) stmtProg {
	switch n := stmt.(type) {
	case *nodes.Text:
		data := n.Data
		return func(ctx *Context) (signal, error) {
			ctx.write(data)
			return sigNone, nil
		}

	case *nodes.Output:
		expr := c.expr(n.Expr)
		return func(ctx *Context) (signal, error) {
			value, err := expr(ctx)
			if err != nil {
				return sigNone, err
			}
			ctx.writeValue(value)
			return sigNone, nil
		}

	case *nodes.If:
		return c.ifStmt(n)

	case *nodes.For:
		return c.forStmt(n)

	case *nodes.Set:
		name := n.Name
		value := c.expr(n.Value)
		return func(ctx *Context) (signal, error) {
			v, err := value(ctx)
			if err != nil {
				return sigNone, err
			}
			ctx.scope.Set(name, v)
			return sigNone, nil
		}

	case *nodes.With:
		names := n.Names
		values := c.exprs(n.Values)
		body := c.stmts(n.Body)
		return func(ctx *Context) (signal, error) {
			bound := make([]interface{}, len(values))
			for i, value := range values {
				v, err := value(ctx)
				if err != nil {
					return sigNone, err
				}
				bound[i] = v
			}
			ctx.pushScope()
			defer ctx.popScope()
			for i, name := range names {
				ctx.scope.Set(name, bound[i])
			}
			return body(ctx)
		}

	case *nodes.Block:
		block := n
		return func(ctx *Context) (signal, error) {
			return sigNone, execBlock(ctx, block)
		}

	case *nodes.Extends:
		return func(ctx *Context) (signal, error) {
			return sigNone, nil
		}

	case *nodes.Include:
		include := n
		return func(ctx *Context) (signal, error) {
			return sigNone, execInclude(ctx, include)
		}

	case *nodes.Def:
		def := n
		return func(ctx *Context) (signal, error) {
			ctx.scope.Set(def.Name, &macroValue{def: def, scope: ctx.scope})
			return sigNone, nil
		}

	case *nodes.CallBlock:
		body := c.stmts(n.Body)
		call := c.expr(n.Call)
		return func(ctx *Context) (signal, error) {
			// The block body evaluates under the call-site scope, not the
			// def scope caller() is invoked from.
			site := ctx.scope
			ctx.pushCaller(func() (string, error) {
				saved := ctx.scope
				ctx.scope = site
				out, err := ctx.capture(func() error {
					_, err := body(ctx)
					return err
				})
				ctx.scope = saved
				return out, err
			})
			defer ctx.popCaller()
			value, err := call(ctx)
			if err != nil {
				return sigNone, err
			}
			ctx.writeValue(value)
			return sigNone, nil
		}

	case *nodes.Cache:
		return c.cacheStmt(n)

	case *nodes.TypeDecl:
		name := n.Name
		pos := n.Position()
		return func(ctx *Context) (signal, error) {
			if ctx.strictActive() {
				if _, err := ctx.resolveName(name, pos); err != nil {
					return sigNone, err
				}
			}
			return sigNone, nil
		}

	case *nodes.Break:
		return func(ctx *Context) (signal, error) {
			return sigBreak, nil
		}

	case *nodes.Continue:
		return func(ctx *Context) (signal, error) {
			return sigContinue, nil
		}

	default:
		err := NewError(ErrorKindTemplate, fmt.Sprintf("cannot compile %T", stmt), stmt.Position())
		return func(ctx *Context) (signal, error) {
			return sigNone, err
		}
	}
}

func (c *compiler) ifStmt(n *nodes.If) stmtProg {
	type branch struct {
		test exprProg
		body stmtProg
	}
	branches := []branch{{test: c.expr(n.Test), body: c.stmts(n.Body)}}
	for _, elif := range n.Elif {
		branches = append(branches, branch{test: c.expr(elif.Test), body: c.stmts(elif.Body)})
	}
	elseBody := c.stmts(n.Else)
	return func(ctx *Context) (signal, error) {
		for _, b := range branches {
			value, err := b.test(ctx)
			if err != nil {
				return sigNone, err
			}
			if Truth(value) {
				return b.body(ctx)
			}
		}
		return elseBody(ctx)
	}
}

func (c *compiler) forStmt(n *nodes.For) stmtProg {
	varName, secondVar := n.Var, n.SecondVar
	iter := c.expr(n.Iter)
	iterPos := n.Iter.Position()
	body := c.stmts(n.Body)
	empty := c.stmts(n.Empty)
	return func(ctx *Context) (signal, error) {
		value, err := iter(ctx)
		if err != nil {
			return sigNone, err
		}
		pairs, err := materialize(value, iterPos)
		if err != nil {
			return sigNone, err
		}
		if len(pairs) == 0 {
			return empty(ctx)
		}

		ctx.pushScope()
		defer ctx.popScope()
		for i, pair := range pairs {
			if secondVar != "" {
				ctx.scope.Set(varName, pair.key)
				ctx.scope.Set(secondVar, pair.value)
			} else {
				ctx.scope.Set(varName, pair.value)
			}
			ctx.scope.Set("loop", &LoopInfo{
				Index:  i + 1,
				Index0: i,
				First:  i == 0,
				Last:   i == len(pairs)-1,
				Length: len(pairs),
			})

			sig, err := body(ctx)
			if err != nil {
				return sigNone, err
			}
			if sig == sigBreak {
				break
			}
		}
		return sigNone, nil
	}
}

func (c *compiler) cacheStmt(n *nodes.Cache) stmtProg {
	key := c.expr(n.Key)
	keyPos := n.Key.Position()
	var ttl exprProg
	var ttlPos nodes.Position
	if n.TTL != nil {
		ttl = c.expr(n.TTL)
		ttlPos = n.TTL.Position()
	}
	vary := c.exprs(n.Vary)
	body := c.stmts(n.Body)
	return func(ctx *Context) (signal, error) {
		keyValue, err := key(ctx)
		if err != nil {
			return sigNone, err
		}
		keyStr, err := cacheKey(keyValue, keyPos)
		if err != nil {
			return sigNone, err
		}

		var duration time.Duration
		if ttl != nil {
			ttlValue, err := ttl(ctx)
			if err != nil {
				return sigNone, err
			}
			num, ok := classifyNumber(ttlValue)
			if !ok {
				return sigNone, NewCacheKeyError("cache ttl must be a number of seconds", ttlPos)
			}
			duration = time.Duration(num.floatValue * float64(time.Second))
		}

		varied := make([]interface{}, len(vary))
		for i, expr := range vary {
			v, err := expr(ctx)
			if err != nil {
				return sigNone, err
			}
			varied[i] = v
		}

		value, err := ctx.env.fragments.Fill(keyStr, Fingerprint(varied), duration, func() (string, error) {
			return ctx.capture(func() error {
				_, err := body(ctx)
				return err
			})
		})
		if err != nil {
			return sigNone, err
		}
		ctx.write(value)
		return sigNone, nil
	}
}

func (c *compiler) exprs(list []nodes.Expr) []exprProg {
	progs := make([]exprProg, len(list))
	for i, expr := range list {
		progs[i] = c.expr(expr)
	}
	return progs
}

func (c *compiler) expr(expr nodes.Expr) exprProg {
	switch n := expr.(type) {
	case *nodes.Const:
		value := n.Value
		return func(ctx *Context) (interface{}, error) {
			return value, nil
		}

	case *nodes.Name:
		name := n.Ident
		pos := n.Position()
		return func(ctx *Context) (interface{}, error) {
			return ctx.resolveName(name, pos)
		}

	case *nodes.UnaryOp:
		node := n
		operand := c.expr(n.Expr)
		return func(ctx *Context) (interface{}, error) {
			return applyUnaryProg(ctx, node, operand)
		}

	case *nodes.BinaryOp:
		return c.binary(n)

	case *nodes.Compare:
		return c.compare(n)

	case *nodes.Ternary:
		test := c.expr(n.Test)
		trueExpr := c.expr(n.True)
		falseExpr := c.expr(n.False)
		return func(ctx *Context) (interface{}, error) {
			value, err := test(ctx)
			if err != nil {
				return nil, err
			}
			if Truth(value) {
				return trueExpr(ctx)
			}
			return falseExpr(ctx)
		}

	case *nodes.TestExpr:
		return c.testExpr(n)

	case *nodes.Attribute:
		target := c.expr(n.Target)
		name := n.Name
		pos := n.Position()
		return func(ctx *Context) (interface{}, error) {
			value, err := target(ctx)
			if err != nil {
				return nil, err
			}
			return ctx.resolveAttr(value, name, pos)
		}

	case *nodes.Subscript:
		target := c.expr(n.Target)
		index := c.expr(n.Index)
		pos := n.Position()
		return func(ctx *Context) (interface{}, error) {
			value, err := target(ctx)
			if err != nil {
				return nil, err
			}
			key, err := index(ctx)
			if err != nil {
				return nil, err
			}
			return ctx.resolveItem(value, key, pos)
		}

	case *nodes.ListLiteral:
		items := c.exprs(n.Items)
		return func(ctx *Context) (interface{}, error) {
			out := make([]interface{}, len(items))
			for i, item := range items {
				v, err := item(ctx)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}

	case *nodes.DictLiteral:
		keys := c.exprs(n.Keys)
		values := c.exprs(n.Values)
		return func(ctx *Context) (interface{}, error) {
			out := make(map[string]interface{}, len(keys))
			for i := range keys {
				key, err := keys[i](ctx)
				if err != nil {
					return nil, err
				}
				value, err := values[i](ctx)
				if err != nil {
					return nil, err
				}
				out[Stringify(key)] = value
			}
			return out, nil
		}

	case *nodes.Call:
		return c.call(n)

	case *nodes.Filter:
		return c.filterExpr(n)

	case *nodes.Pipeline:
		return c.pipeline(n)

	default:
		err := NewError(ErrorKindTemplate, fmt.Sprintf("cannot compile %T", expr), expr.Position())
		return func(ctx *Context) (interface{}, error) {
			return nil, err
		}
	}
}

func applyUnaryProg(ctx *Context, n *nodes.UnaryOp, operand exprProg) (interface{}, error) {
	value, err := operand(ctx)
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

func (c *compiler) binary(n *nodes.BinaryOp) exprProg {
	left := c.expr(n.Left)
	right := c.expr(n.Right)
	op := n.Op
	pos := n.Position()

	switch op {
	case "and":
		return func(ctx *Context) (interface{}, error) {
			l, err := left(ctx)
			if err != nil {
				return nil, err
			}
			if !Truth(l) {
				return l, nil
			}
			return right(ctx)
		}
	case "or":
		return func(ctx *Context) (interface{}, error) {
			l, err := left(ctx)
			if err != nil {
				return nil, err
			}
			if Truth(l) {
				return l, nil
			}
			return right(ctx)
		}
	}

	return func(ctx *Context) (interface{}, error) {
		l, err := left(ctx)
		if err != nil {
			return nil, err
		}
		r, err := right(ctx)
		if err != nil {
			return nil, err
		}
		return applyBinary(op, l, r, pos)
	}
}

func (c *compiler) compare(n *nodes.Compare) exprProg {
	left := c.expr(n.Left)
	type link struct {
		op    string
		right exprProg
	}
	links := make([]link, len(n.Ops))
	for i, op := range n.Ops {
		links[i] = link{op: op.Op, right: c.expr(op.Right)}
	}
	pos := n.Position()
	return func(ctx *Context) (interface{}, error) {
		l, err := left(ctx)
		if err != nil {
			return nil, err
		}
		for _, lk := range links {
			r, err := lk.right(ctx)
			if err != nil {
				return nil, err
			}
			ok, err := compareValues(lk.op, l, r, pos)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			l = r
		}
		return true, nil
	}
}

func (c *compiler) testExpr(n *nodes.TestExpr) exprProg {
	c.refs[n.Name] = true
	fn, found := c.env.test(n.Name)
	name := n.Name
	pos := n.Position()
	if !found {
		suggestions := c.env.suggestTest(name)
		return func(ctx *Context) (interface{}, error) {
			return nil, NewTestNotFound(name, pos, suggestions)
		}
	}

	operand := c.expr(n.Expr)
	lenientOperand := name == "defined" || name == "undefined"
	args := c.exprs(n.Args)
	negated := n.Negated
	return func(ctx *Context) (interface{}, error) {
		var value interface{}
		var err error
		if lenientOperand {
			ctx.lenient++
			value, err = operand(ctx)
			ctx.lenient--
		} else {
			value, err = operand(ctx)
		}
		if err != nil {
			return nil, err
		}
		built, err := buildArgs(ctx, args, nil, nil)
		if err != nil {
			return nil, err
		}
		result, err := fn(ctx, value, built)
		if err != nil {
			return nil, err
		}
		if negated {
			return !result, nil
		}
		return result, nil
	}
}

func (c *compiler) call(n *nodes.Call) exprProg {
	args := c.exprs(n.Args)
	kwNames := make([]string, len(n.Kwargs))
	kwExprs := make([]exprProg, len(n.Kwargs))
	for i, kw := range n.Kwargs {
		kwNames[i] = kw.Name
		kwExprs[i] = c.expr(kw.Value)
	}
	pos := n.Position()

	if name, ok := n.Target.(*nodes.Name); ok {
		c.refs[name.Ident] = true
		ident := name.Ident
		return func(ctx *Context) (interface{}, error) {
			built, err := buildArgs(ctx, args, kwNames, kwExprs)
			if err != nil {
				return nil, err
			}
			if value, found := ctx.scope.Lookup(ident); found {
				return callValue(ctx, value, built, pos)
			}
			if fn, found := ctx.env.function(ident); found {
				return fn(ctx, built)
			}
			if value, found := ctx.env.global(ident); found {
				return callValue(ctx, value, built, pos)
			}
			return nil, NewFunctionNotFound(ident, pos, ctx.env.suggestFunction(ident))
		}
	}

	target := c.expr(n.Target)
	return func(ctx *Context) (interface{}, error) {
		built, err := buildArgs(ctx, args, kwNames, kwExprs)
		if err != nil {
			return nil, err
		}
		value, err := target(ctx)
		if err != nil {
			return nil, err
		}
		return callValue(ctx, value, built, pos)
	}
}

func (c *compiler) filterExpr(n *nodes.Filter) exprProg {
	c.refs[n.Name] = true
	fn, found := c.env.filter(n.Name)
	name := n.Name
	pos := n.Position()
	if !found {
		suggestions := c.env.suggestFilter(name)
		return func(ctx *Context) (interface{}, error) {
			return nil, NewFilterNotFound(name, pos, suggestions)
		}
	}

	target := c.expr(n.Target)
	lenientTarget := name == "default"
	args := c.exprs(n.Args)
	kwNames := make([]string, len(n.Kwargs))
	kwExprs := make([]exprProg, len(n.Kwargs))
	for i, kw := range n.Kwargs {
		kwNames[i] = kw.Name
		kwExprs[i] = c.expr(kw.Value)
	}
	return func(ctx *Context) (interface{}, error) {
		var value interface{}
		var err error
		if lenientTarget {
			ctx.lenient++
			value, err = target(ctx)
			ctx.lenient--
		} else {
			value, err = target(ctx)
		}
		if err != nil {
			return nil, err
		}
		built, err := buildArgs(ctx, args, kwNames, kwExprs)
		if err != nil {
			return nil, err
		}
		return fn(ctx, value, built)
	}
}

func (c *compiler) pipeline(n *nodes.Pipeline) exprProg {
	type stage struct {
		fn          FilterFunc
		found       bool
		name        string
		pos         nodes.Position
		suggestions []string
		args        []exprProg
		kwNames     []string
		kwExprs     []exprProg
	}
	stages := make([]stage, len(n.Stages))
	for i, s := range n.Stages {
		c.refs[s.Name] = true
		fn, found := c.env.filter(s.Name)
		st := stage{fn: fn, found: found, name: s.Name, pos: s.Position(), args: c.exprs(s.Args)}
		if !found {
			st.suggestions = c.env.suggestFilter(s.Name)
		}
		st.kwNames = make([]string, len(s.Kwargs))
		st.kwExprs = make([]exprProg, len(s.Kwargs))
		for j, kw := range s.Kwargs {
			st.kwNames[j] = kw.Name
			st.kwExprs[j] = c.expr(kw.Value)
		}
		stages[i] = st
	}

	input := c.expr(n.Input)
	lenientInput := len(n.Stages) > 0 && n.Stages[0].Name == "default"
	return func(ctx *Context) (interface{}, error) {
		var value interface{}
		var err error
		if lenientInput {
			ctx.lenient++
			value, err = input(ctx)
			ctx.lenient--
		} else {
			value, err = input(ctx)
		}
		if err != nil {
			return nil, err
		}
		for _, st := range stages {
			if !st.found {
				return nil, NewFilterNotFound(st.name, st.pos, st.suggestions)
			}
			built, err := buildArgs(ctx, st.args, st.kwNames, st.kwExprs)
			if err != nil {
				return nil, err
			}
			value, err = st.fn(ctx, value, built)
			if err != nil {
				return nil, err
			}
		}
		return value, nil
	}
}

func buildArgs(ctx *Context, args []exprProg, kwNames []string, kwExprs []exprProg) (Args, error) {
	out := Args{}
	if len(args) > 0 {
		out.Positional = make([]interface{}, len(args))
		for i, arg := range args {
			v, err := arg(ctx)
			if err != nil {
				return Args{}, err
			}
			out.Positional[i] = v
		}
	}
	if len(kwExprs) > 0 {
		out.Keyword = make(map[string]interface{}, len(kwExprs))
		for i, kw := range kwExprs {
			v, err := kw(ctx)
			if err != nil {
				return Args{}, err
			}
			out.Keyword[kwNames[i]] = v
		}
	}
	return out, nil
}
