package optimizer

import (
	"fmt"
	"sort"

	"github.com/lbliii/bengal-sub003/nodes"
)

// hoistInvariants lifts pure subexpressions that cannot change across
// iterations out of a loop body into bindings evaluated once before the
// loop. Only attribute chains and arithmetic over invariant names and
// constants qualify, and only when the expression occurs at least twice
// at a position that runs on every iteration; calls, filters and
// anything touching a name bound inside the loop stay put.
//
// The bindings wrap the loop inside a truthiness guard on the iterable,
// so a loop that never runs never evaluates a hoisted expression. The
// guard evaluates the iterable a second time, so hoisting is skipped
// when the iterable expression is not itself pure.
func hoistInvariants(loop *nodes.For) []nodes.Stmt {
	if !pureInvariant(loop.Iter, nil) {
		return []nodes.Stmt{loop}
	}

	bound := map[string]bool{loop.Var: true, "loop": true}
	if loop.SecondVar != "" {
		bound[loop.SecondVar] = true
	}
	collectBound(loop.Body, bound)

	counts := map[string]int{}
	exemplars := map[string]nodes.Expr{}
	countStmts(loop.Body, bound, counts, exemplars)

	var keys []string
	for key, n := range counts {
		if n >= 2 {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return []nodes.Stmt{loop}
	}
	sort.Strings(keys)

	subst := map[string]string{}
	with := &nodes.With{}
	with.BaseNode = loop.BaseNode
	for i, key := range keys {
		name := fmt.Sprintf("_inv%d", i)
		subst[key] = name
		with.Names = append(with.Names, name)
		with.Values = append(with.Values, exemplars[key])
	}

	inner := &nodes.For{
		Var:       loop.Var,
		SecondVar: loop.SecondVar,
		Iter:      loop.Iter,
		Body:      substStmts(loop.Body, subst),
	}
	inner.BaseNode = loop.BaseNode
	with.Body = []nodes.Stmt{inner}

	guard := &nodes.If{Test: loop.Iter, Body: []nodes.Stmt{with}, Else: loop.Empty}
	guard.BaseNode = loop.BaseNode
	return []nodes.Stmt{guard}
}

// collectBound records every name the body can bind, no matter how deeply
// nested: rebinding anywhere disqualifies the name loop-wide.
func collectBound(stmts []nodes.Stmt, bound map[string]bool) {
	for _, stmt := range stmts {
		nodes.Walk(stmt, func(n nodes.Node) bool {
			switch x := n.(type) {
			case *nodes.Set:
				bound[x.Name] = true
			case *nodes.With:
				for _, name := range x.Names {
					bound[name] = true
				}
			case *nodes.For:
				bound[x.Var] = true
				if x.SecondVar != "" {
					bound[x.SecondVar] = true
				}
			case *nodes.Def:
				bound[x.Name] = true
			}
			return true
		})
	}
}

// hoistable reports whether an expression is pure, invariant under the
// bound set, and worth binding (more than a bare name or constant).
func hoistable(expr nodes.Expr, bound map[string]bool) bool {
	switch expr.(type) {
	case *nodes.Attribute, *nodes.BinaryOp, *nodes.UnaryOp:
		return pureInvariant(expr, bound)
	}
	return false
}

var arithOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "//": true, "%": true, "**": true, "~": true,
}

func pureInvariant(expr nodes.Expr, bound map[string]bool) bool {
	switch n := expr.(type) {
	case *nodes.Const:
		return true
	case *nodes.Name:
		return !bound[n.Ident]
	case *nodes.Attribute:
		return pureInvariant(n.Target, bound)
	case *nodes.UnaryOp:
		return (n.Op == "-" || n.Op == "+") && pureInvariant(n.Expr, bound)
	case *nodes.BinaryOp:
		return arithOps[n.Op] && pureInvariant(n.Left, bound) && pureInvariant(n.Right, bound)
	}
	return false
}

// countStmts tallies maximal hoistable subexpressions by their printed
// form, visiting only positions that run on every iteration. An
// expression inside a branch body, a ternary arm, a short-circuit right
// operand, a test or a filter may never be evaluated, and binding it
// eagerly before the loop could raise where the original would not. Def
// bodies are skipped for the same reason: a def evaluates in its own
// scope at call time and may outlive the loop.
func countStmts(stmts []nodes.Stmt, bound map[string]bool, counts map[string]int, exemplars map[string]nodes.Expr) {
	for _, stmt := range stmts {
		switch n := stmt.(type) {
		case *nodes.Output:
			countExpr(n.Expr, bound, counts, exemplars)
		case *nodes.If:
			countExpr(n.Test, bound, counts, exemplars)
		case *nodes.For:
			countExpr(n.Iter, bound, counts, exemplars)
		case *nodes.Set:
			countExpr(n.Value, bound, counts, exemplars)
		case *nodes.With:
			for _, value := range n.Values {
				countExpr(value, bound, counts, exemplars)
			}
			countStmts(n.Body, bound, counts, exemplars)
		case *nodes.Cache:
			countExpr(n.Key, bound, counts, exemplars)
		}
	}
}

// countExpr descends an expression, stopping at the first conditional
// construct on each path: ternary arms, and/or right operands, chained
// comparison tails, tests, filters and pipelines are all skipped.
func countExpr(expr nodes.Expr, bound map[string]bool, counts map[string]int, exemplars map[string]nodes.Expr) {
	if hoistable(expr, bound) {
		key := expr.String()
		counts[key]++
		if _, seen := exemplars[key]; !seen {
			exemplars[key] = expr
		}
		return
	}

	switch n := expr.(type) {
	case *nodes.UnaryOp:
		countExpr(n.Expr, bound, counts, exemplars)
	case *nodes.BinaryOp:
		countExpr(n.Left, bound, counts, exemplars)
		if n.Op != "and" && n.Op != "or" {
			countExpr(n.Right, bound, counts, exemplars)
		}
	case *nodes.Compare:
		countExpr(n.Left, bound, counts, exemplars)
		if len(n.Ops) > 0 {
			countExpr(n.Ops[0].Right, bound, counts, exemplars)
		}
	case *nodes.Ternary:
		countExpr(n.Test, bound, counts, exemplars)
	case *nodes.Call:
		for _, arg := range n.Args {
			countExpr(arg, bound, counts, exemplars)
		}
		for _, kw := range n.Kwargs {
			countExpr(kw.Value, bound, counts, exemplars)
		}
	case *nodes.Attribute:
		countExpr(n.Target, bound, counts, exemplars)
	case *nodes.Subscript:
		countExpr(n.Target, bound, counts, exemplars)
		countExpr(n.Index, bound, counts, exemplars)
	case *nodes.ListLiteral:
		for _, item := range n.Items {
			countExpr(item, bound, counts, exemplars)
		}
	case *nodes.DictLiteral:
		for _, key := range n.Keys {
			countExpr(key, bound, counts, exemplars)
		}
		for _, value := range n.Values {
			countExpr(value, bound, counts, exemplars)
		}
	}
}

// --- substitution ---

func substStmts(stmts []nodes.Stmt, subst map[string]string) []nodes.Stmt {
	out := make([]nodes.Stmt, len(stmts))
	for i, stmt := range stmts {
		out[i] = substStmt(stmt, subst)
	}
	return out
}

func substStmt(stmt nodes.Stmt, subst map[string]string) nodes.Stmt {
	switch n := stmt.(type) {
	case *nodes.Output:
		out := &nodes.Output{Expr: substExpr(n.Expr, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.If:
		out := &nodes.If{Test: substExpr(n.Test, subst), Body: substStmts(n.Body, subst), Else: substStmts(n.Else, subst)}
		out.BaseNode = n.BaseNode
		for _, branch := range n.Elif {
			ob := &nodes.If{Test: substExpr(branch.Test, subst), Body: substStmts(branch.Body, subst)}
			ob.BaseNode = branch.BaseNode
			out.Elif = append(out.Elif, ob)
		}
		return out
	case *nodes.For:
		out := &nodes.For{
			Var:       n.Var,
			SecondVar: n.SecondVar,
			Iter:      substExpr(n.Iter, subst),
			Body:      substStmts(n.Body, subst),
			Empty:     substStmts(n.Empty, subst),
		}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Set:
		out := &nodes.Set{Name: n.Name, Value: substExpr(n.Value, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.With:
		out := &nodes.With{Names: n.Names, Values: substExprs(n.Values, subst), Body: substStmts(n.Body, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Block:
		out := &nodes.Block{Name: n.Name, Body: substStmts(n.Body, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Include:
		out := &nodes.Include{Target: substExpr(n.Target, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.CallBlock:
		out := &nodes.CallBlock{Call: substExpr(n.Call, subst).(*nodes.Call), Body: substStmts(n.Body, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Cache:
		out := &nodes.Cache{Key: substExpr(n.Key, subst), Vary: substExprs(n.Vary, subst), Body: substStmts(n.Body, subst)}
		if n.TTL != nil {
			out.TTL = substExpr(n.TTL, subst)
		}
		out.BaseNode = n.BaseNode
		return out
	default:
		// Text, Def, Extends, TypeDecl, Break, Continue are untouched.
		return stmt
	}
}

func substExprs(exprs []nodes.Expr, subst map[string]string) []nodes.Expr {
	if exprs == nil {
		return nil
	}
	out := make([]nodes.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = substExpr(e, subst)
	}
	return out
}

func substExpr(expr nodes.Expr, subst map[string]string) nodes.Expr {
	if name, ok := subst[expr.String()]; ok {
		switch expr.(type) {
		case *nodes.Attribute, *nodes.BinaryOp, *nodes.UnaryOp:
			n := &nodes.Name{Ident: name}
			n.BaseNode = nodes.BaseNode{Pos: expr.Position()}
			return n
		}
	}

	switch n := expr.(type) {
	case *nodes.UnaryOp:
		out := &nodes.UnaryOp{Op: n.Op, Expr: substExpr(n.Expr, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.BinaryOp:
		out := &nodes.BinaryOp{Op: n.Op, Left: substExpr(n.Left, subst), Right: substExpr(n.Right, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Compare:
		out := &nodes.Compare{Left: substExpr(n.Left, subst)}
		out.BaseNode = n.BaseNode
		for _, op := range n.Ops {
			out.Ops = append(out.Ops, nodes.CompareOp{Op: op.Op, Right: substExpr(op.Right, subst)})
		}
		return out
	case *nodes.Ternary:
		out := &nodes.Ternary{Test: substExpr(n.Test, subst), True: substExpr(n.True, subst), False: substExpr(n.False, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.TestExpr:
		out := &nodes.TestExpr{Expr: substExpr(n.Expr, subst), Name: n.Name, Args: substExprs(n.Args, subst), Negated: n.Negated}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Call:
		out := &nodes.Call{Target: substExpr(n.Target, subst), Args: substExprs(n.Args, subst), Kwargs: substKwargs(n.Kwargs, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Attribute:
		out := &nodes.Attribute{Target: substExpr(n.Target, subst), Name: n.Name}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Subscript:
		out := &nodes.Subscript{Target: substExpr(n.Target, subst), Index: substExpr(n.Index, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.ListLiteral:
		out := &nodes.ListLiteral{Items: substExprs(n.Items, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.DictLiteral:
		out := &nodes.DictLiteral{Keys: substExprs(n.Keys, subst), Values: substExprs(n.Values, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Filter:
		out := &nodes.Filter{Target: substExpr(n.Target, subst), Name: n.Name, Args: substExprs(n.Args, subst), Kwargs: substKwargs(n.Kwargs, subst)}
		out.BaseNode = n.BaseNode
		return out
	case *nodes.Pipeline:
		out := &nodes.Pipeline{Input: substExpr(n.Input, subst)}
		out.BaseNode = n.BaseNode
		for _, s := range n.Stages {
			stage := &nodes.Stage{Name: s.Name, Args: substExprs(s.Args, subst), Kwargs: substKwargs(s.Kwargs, subst)}
			stage.BaseNode = s.BaseNode
			out.Stages = append(out.Stages, stage)
		}
		return out
	default:
		return expr
	}
}

func substKwargs(kwargs []nodes.Kwarg, subst map[string]string) []nodes.Kwarg {
	if kwargs == nil {
		return nil
	}
	out := make([]nodes.Kwarg, len(kwargs))
	for i, kw := range kwargs {
		out[i] = nodes.Kwarg{Name: kw.Name, Value: substExpr(kw.Value, subst)}
	}
	return out
}
