// Package optimizer rewrites a parsed template into an equivalent,
// cheaper-to-execute tree.
//
// Passes: constant folding over unary, binary, comparison and conditional
// expressions; dead-branch elimination for constant conditions and
// constant-empty loops; adjacent text coalescing; fusion of filter chains
// into a single pipeline; and hoisting of pure loop-invariant
// subexpressions into synthesized pre-loop bindings.
//
// The input tree is never mutated. Every pass builds new nodes, so a
// cached unoptimized tree stays valid.
package optimizer

import (
	"github.com/lbliii/bengal-sub003/nodes"
)

// Optimize returns an optimized copy of the template.
func Optimize(tmpl *nodes.Template) *nodes.Template {
	out := &nodes.Template{Name: tmpl.Name, Body: optimizeStmts(tmpl.Body)}
	out.BaseNode = tmpl.BaseNode
	return out
}

// optimizeStmts optimizes a statement list, splicing in DCE results and
// coalescing adjacent text runs.
func optimizeStmts(stmts []nodes.Stmt) []nodes.Stmt {
	var flat []nodes.Stmt
	for _, stmt := range stmts {
		flat = append(flat, optimizeStmt(stmt)...)
	}

	// Coalesce adjacent text runs produced by parsing or DCE.
	var out []nodes.Stmt
	for _, stmt := range flat {
		text, ok := stmt.(*nodes.Text)
		if ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*nodes.Text); ok {
				merged := &nodes.Text{Data: prev.Data + text.Data}
				merged.BaseNode = prev.BaseNode
				out[len(out)-1] = merged
				continue
			}
		}
		out = append(out, stmt)
	}
	return out
}

// optimizeStmt optimizes one statement. Dead-branch elimination may
// replace a statement with the statements of its surviving branch, so the
// result is a slice.
func optimizeStmt(stmt nodes.Stmt) []nodes.Stmt {
	switch n := stmt.(type) {
	case *nodes.Text:
		return []nodes.Stmt{n}

	case *nodes.Output:
		out := &nodes.Output{Expr: optimizeExpr(n.Expr)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.If:
		return optimizeIf(n)

	case *nodes.For:
		return optimizeFor(n)

	case *nodes.Set:
		out := &nodes.Set{Name: n.Name, Value: optimizeExpr(n.Value)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.With:
		out := &nodes.With{Names: n.Names, Values: optimizeExprs(n.Values), Body: optimizeStmts(n.Body)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.Block:
		out := &nodes.Block{Name: n.Name, Body: optimizeStmts(n.Body)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.Include:
		out := &nodes.Include{Target: optimizeExpr(n.Target)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.Def:
		params := make([]nodes.Param, len(n.Params))
		for i, p := range n.Params {
			params[i] = nodes.Param{Name: p.Name}
			if p.Default != nil {
				params[i].Default = optimizeExpr(p.Default)
			}
		}
		out := &nodes.Def{Name: n.Name, Params: params, Body: optimizeStmts(n.Body)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.CallBlock:
		out := &nodes.CallBlock{Call: optimizeExpr(n.Call).(*nodes.Call), Body: optimizeStmts(n.Body)}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	case *nodes.Cache:
		out := &nodes.Cache{Key: optimizeExpr(n.Key), Vary: optimizeExprs(n.Vary), Body: optimizeStmts(n.Body)}
		if n.TTL != nil {
			out.TTL = optimizeExpr(n.TTL)
		}
		out.BaseNode = n.BaseNode
		return []nodes.Stmt{out}

	default:
		// Extends, TypeDecl, Break, Continue carry nothing foldable.
		return []nodes.Stmt{stmt}
	}
}

// optimizeIf folds constant conditions. A constant-true test replaces the
// If with its body; a constant-false test promotes the first elif (or the
// else body). Non-constant tests keep the full construct with optimized
// children.
func optimizeIf(n *nodes.If) []nodes.Stmt {
	test := optimizeExpr(n.Test)
	if c, ok := test.(*nodes.Const); ok {
		if truth(c.Value) {
			return optimizeStmts(n.Body)
		}
		if len(n.Elif) > 0 {
			next := &nodes.If{
				Test: n.Elif[0].Test,
				Body: n.Elif[0].Body,
				Elif: n.Elif[1:],
				Else: n.Else,
			}
			next.BaseNode = n.Elif[0].BaseNode
			return optimizeIf(next)
		}
		return optimizeStmts(n.Else)
	}

	out := &nodes.If{Test: test, Body: optimizeStmts(n.Body), Else: optimizeStmts(n.Else)}
	out.BaseNode = n.BaseNode
	for _, branch := range n.Elif {
		ob := &nodes.If{Test: optimizeExpr(branch.Test), Body: optimizeStmts(branch.Body)}
		ob.BaseNode = branch.BaseNode
		out.Elif = append(out.Elif, ob)
	}
	return []nodes.Stmt{out}
}

// optimizeFor eliminates loops over constant-empty iterables and hoists
// pure invariant subexpressions out of the body.
func optimizeFor(n *nodes.For) []nodes.Stmt {
	iter := optimizeExpr(n.Iter)
	if list, ok := iter.(*nodes.ListLiteral); ok && len(list.Items) == 0 {
		return optimizeStmts(n.Empty)
	}

	out := &nodes.For{
		Var:       n.Var,
		SecondVar: n.SecondVar,
		Iter:      iter,
		Body:      optimizeStmts(n.Body),
		Empty:     optimizeStmts(n.Empty),
	}
	out.BaseNode = n.BaseNode
	return hoistInvariants(out)
}

func optimizeExprs(exprs []nodes.Expr) []nodes.Expr {
	if exprs == nil {
		return nil
	}
	out := make([]nodes.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = optimizeExpr(e)
	}
	return out
}

// optimizeExpr folds constants bottom-up and fuses filter chains.
func optimizeExpr(expr nodes.Expr) nodes.Expr {
	switch n := expr.(type) {
	case *nodes.Name, *nodes.Const:
		return expr

	case *nodes.UnaryOp:
		inner := optimizeExpr(n.Expr)
		if c, ok := inner.(*nodes.Const); ok {
			if v, ok := foldUnary(n.Op, c.Value); ok {
				return constLike(v, n.BaseNode)
			}
		}
		out := &nodes.UnaryOp{Op: n.Op, Expr: inner}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.BinaryOp:
		left := optimizeExpr(n.Left)
		right := optimizeExpr(n.Right)
		if lc, ok := left.(*nodes.Const); ok {
			// and/or fold on the left operand alone: they yield an
			// operand value, not a boolean.
			switch n.Op {
			case "and":
				if !truth(lc.Value) {
					return left
				}
				return right
			case "or":
				if truth(lc.Value) {
					return left
				}
				return right
			}
			if rc, ok := right.(*nodes.Const); ok {
				if v, ok := foldBinary(n.Op, lc.Value, rc.Value); ok {
					return constLike(v, n.BaseNode)
				}
			}
		}
		out := &nodes.BinaryOp{Op: n.Op, Left: left, Right: right}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Compare:
		left := optimizeExpr(n.Left)
		ops := make([]nodes.CompareOp, len(n.Ops))
		allConst := isConst(left)
		for i, op := range n.Ops {
			ops[i] = nodes.CompareOp{Op: op.Op, Right: optimizeExpr(op.Right)}
			allConst = allConst && isConst(ops[i].Right)
		}
		if allConst {
			if v, ok := foldCompare(left.(*nodes.Const).Value, ops); ok {
				return constLike(v, n.BaseNode)
			}
		}
		out := &nodes.Compare{Left: left, Ops: ops}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Ternary:
		test := optimizeExpr(n.Test)
		if c, ok := test.(*nodes.Const); ok {
			if truth(c.Value) {
				return optimizeExpr(n.True)
			}
			return optimizeExpr(n.False)
		}
		out := &nodes.Ternary{Test: test, True: optimizeExpr(n.True), False: optimizeExpr(n.False)}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.TestExpr:
		out := &nodes.TestExpr{
			Expr:    optimizeExpr(n.Expr),
			Name:    n.Name,
			Args:    optimizeExprs(n.Args),
			Negated: n.Negated,
		}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Call:
		out := &nodes.Call{Target: optimizeExpr(n.Target), Args: optimizeExprs(n.Args), Kwargs: optimizeKwargs(n.Kwargs)}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Attribute:
		out := &nodes.Attribute{Target: optimizeExpr(n.Target), Name: n.Name}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Subscript:
		out := &nodes.Subscript{Target: optimizeExpr(n.Target), Index: optimizeExpr(n.Index)}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.ListLiteral:
		out := &nodes.ListLiteral{Items: optimizeExprs(n.Items)}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.DictLiteral:
		out := &nodes.DictLiteral{Keys: optimizeExprs(n.Keys), Values: optimizeExprs(n.Values)}
		out.BaseNode = n.BaseNode
		return out

	case *nodes.Filter:
		return fuseFilter(n)

	case *nodes.Pipeline:
		return fusePipeline(n)

	default:
		return expr
	}
}

func optimizeKwargs(kwargs []nodes.Kwarg) []nodes.Kwarg {
	if kwargs == nil {
		return nil
	}
	out := make([]nodes.Kwarg, len(kwargs))
	for i, kw := range kwargs {
		out[i] = nodes.Kwarg{Name: kw.Name, Value: optimizeExpr(kw.Value)}
	}
	return out
}

// fuseFilter rewrites a chain of two or more filter applications into one
// pipeline so the engines resolve every stage once and apply them in a
// flat loop. A single filter stays a Filter node.
//
// Flattening fixes which stage can absorb a missing input: only a
// default sitting first in the pipeline evaluates the raw input
// leniently, so a default placed after other filters does not shield
// them from an undefined name.
func fuseFilter(n *nodes.Filter) nodes.Expr {
	target := optimizeExpr(n.Target)
	stage := &nodes.Stage{Name: n.Name, Args: optimizeExprs(n.Args), Kwargs: optimizeKwargs(n.Kwargs)}
	stage.BaseNode = n.BaseNode

	switch inner := target.(type) {
	case *nodes.Pipeline:
		out := &nodes.Pipeline{Input: inner.Input, Stages: append(append([]*nodes.Stage{}, inner.Stages...), stage)}
		out.BaseNode = inner.BaseNode
		return out
	case *nodes.Filter:
		first := &nodes.Stage{Name: inner.Name, Args: inner.Args, Kwargs: inner.Kwargs}
		first.BaseNode = inner.BaseNode
		out := &nodes.Pipeline{Input: inner.Target, Stages: []*nodes.Stage{first, stage}}
		out.BaseNode = inner.BaseNode
		return out
	}

	out := &nodes.Filter{Target: target, Name: n.Name, Args: stage.Args, Kwargs: stage.Kwargs}
	out.BaseNode = n.BaseNode
	return out
}

// fusePipeline optimizes a source-level "|>" chain and absorbs any filter
// chain feeding its input.
func fusePipeline(n *nodes.Pipeline) nodes.Expr {
	input := optimizeExpr(n.Input)
	stages := make([]*nodes.Stage, 0, len(n.Stages))
	for _, s := range n.Stages {
		stage := &nodes.Stage{Name: s.Name, Args: optimizeExprs(s.Args), Kwargs: optimizeKwargs(s.Kwargs)}
		stage.BaseNode = s.BaseNode
		stages = append(stages, stage)
	}

	switch inner := input.(type) {
	case *nodes.Pipeline:
		input = inner.Input
		stages = append(append([]*nodes.Stage{}, inner.Stages...), stages...)
	case *nodes.Filter:
		first := &nodes.Stage{Name: inner.Name, Args: inner.Args, Kwargs: inner.Kwargs}
		first.BaseNode = inner.BaseNode
		input = inner.Target
		stages = append([]*nodes.Stage{first}, stages...)
	}

	out := &nodes.Pipeline{Input: input, Stages: stages}
	out.BaseNode = n.BaseNode
	return out
}

func isConst(expr nodes.Expr) bool {
	_, ok := expr.(*nodes.Const)
	return ok
}

func constLike(value interface{}, base nodes.BaseNode) *nodes.Const {
	n := &nodes.Const{Value: value}
	n.BaseNode = base
	return n
}
