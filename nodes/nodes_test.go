package nodes

import (
	"strings"
	"testing"
)

func TestPositions(t *testing.T) {
	n := &Name{Ident: "user"}
	n.Pos = NewPosition(3, 7)
	if p := n.Position(); p.Line != 3 || p.Column != 7 {
		t.Errorf("Position() = %v, want 3:7", p)
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	iter := &Name{Ident: "items"}
	body := []Stmt{&Output{Expr: &Name{Ident: "x"}}}
	empty := []Stmt{&Text{Data: "none"}}
	loop := &For{Var: "x", Iter: iter, Body: body, Empty: empty}
	tmpl := &Template{Name: "t", Body: []Stmt{loop}}

	var seen []string
	Walk(tmpl, func(n Node) bool {
		seen = append(seen, n.String())
		return true
	})

	// Template, For, iter name, Output, x name, Text.
	if len(seen) != 6 {
		t.Fatalf("visited %d nodes, want 6: %v", len(seen), seen)
	}
}

func TestWalkStopsDescent(t *testing.T) {
	tmpl := &Template{Body: []Stmt{
		&If{Test: &Const{Value: true}, Body: []Stmt{&Text{Data: "deep"}}},
	}}
	count := 0
	Walk(tmpl, func(n Node) bool {
		count++
		_, isIf := n.(*If)
		return !isIf
	})
	if count != 2 {
		t.Errorf("visited %d nodes, want 2 (Template and If only)", count)
	}
}

func TestDump(t *testing.T) {
	tmpl := &Template{Name: "page", Body: []Stmt{
		&Output{Expr: &Filter{Target: &Name{Ident: "title"}, Name: "upper"}},
	}}
	out := Dump(tmpl)
	for _, want := range []string{"Template(page", "Output", "upper", "title"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump missing %q:\n%s", want, out)
		}
	}
}
