package nodes

import (
	"fmt"
	"strings"
)

// Children returns the direct child nodes of n in source order.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	addStmts := func(stmts []Stmt) {
		for _, s := range stmts {
			add(s)
		}
	}
	addExprs := func(exprs []Expr) {
		for _, e := range exprs {
			add(e)
		}
	}

	switch v := n.(type) {
	case *Template:
		addStmts(v.Body)
	case *Text, *Name, *Const, *TypeDecl, *Break, *Continue:
	case *Output:
		add(v.Expr)
	case *If:
		add(v.Test)
		addStmts(v.Body)
		for _, e := range v.Elif {
			add(e)
		}
		addStmts(v.Else)
	case *For:
		add(v.Iter)
		addStmts(v.Body)
		addStmts(v.Empty)
	case *Set:
		add(v.Value)
	case *With:
		addExprs(v.Values)
		addStmts(v.Body)
	case *Block:
		addStmts(v.Body)
	case *Extends:
		add(v.Target)
	case *Include:
		add(v.Target)
	case *Def:
		for _, p := range v.Params {
			add(p.Default)
		}
		addStmts(v.Body)
	case *CallBlock:
		add(v.Call)
		addStmts(v.Body)
	case *Cache:
		add(v.Key, v.TTL)
		addExprs(v.Vary)
		addStmts(v.Body)
	case *BinaryOp:
		add(v.Left, v.Right)
	case *UnaryOp:
		add(v.Expr)
	case *Compare:
		add(v.Left)
		for _, op := range v.Ops {
			add(op.Right)
		}
	case *TestExpr:
		add(v.Expr)
		addExprs(v.Args)
	case *Call:
		add(v.Target)
		addExprs(v.Args)
		for _, kw := range v.Kwargs {
			add(kw.Value)
		}
	case *Attribute:
		add(v.Target)
	case *Subscript:
		add(v.Target, v.Index)
	case *ListLiteral:
		addExprs(v.Items)
	case *DictLiteral:
		addExprs(v.Keys)
		addExprs(v.Values)
	case *Ternary:
		add(v.Test, v.True, v.False)
	case *Filter:
		add(v.Target)
		addExprs(v.Args)
		for _, kw := range v.Kwargs {
			add(kw.Value)
		}
	case *Pipeline:
		add(v.Input)
		for _, st := range v.Stages {
			addExprs(st.Args)
			for _, kw := range st.Kwargs {
				add(kw.Value)
			}
		}
	}
	return out
}

// Walk calls fn for n and every descendant, depth-first. Returning false
// from fn stops descent into that node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Dump returns an indented representation of the tree for debugging.
func Dump(n Node) string {
	var b strings.Builder
	dump(&b, n, 0)
	return b.String()
}

func dump(b *strings.Builder, n Node, indent int) {
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", indent), n.String())
	for _, c := range Children(n) {
		dump(b, c, indent+1)
	}
}
