package optimizer

import (
	"testing"

	"github.com/lbliii/bengal-sub003/nodes"
	"github.com/lbliii/bengal-sub003/parser"
)

func optimize(t *testing.T, source string) *nodes.Template {
	t.Helper()
	tmpl, err := parser.Parse(source, "test.html")
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", source, err)
	}
	return Optimize(tmpl)
}

func TestConstantFolding(t *testing.T) {
	tests := []struct {
		source string
		want   interface{}
	}{
		{"{{ 1 + 2 * 3 }}", int64(7)},
		{"{{ 10 // 3 }}", int64(3)},
		{"{{ -7 // 2 }}", int64(-4)},
		{"{{ 7 % 3 }}", int64(1)},
		{"{{ 10 / 4 }}", 2.5},
		{"{{ 1.5 + 1 }}", 2.5},
		{"{{ -3 }}", int64(-3)},
		{"{{ not false }}", true},
		{"{{ 1 < 2 }}", true},
		{"{{ 1 < 2 <= 2 }}", true},
		{"{{ 3 < 2 }}", false},
		{`{{ "a" ~ "b" }}`, "ab"},
		{`{{ "n=" ~ 2 }}`, "n=2"},
		{`{{ "x" if true else "y" }}`, "x"},
		{`{{ "x" if false else "y" }}`, "y"},
		{"{{ false and name }}", false},
		{`{{ "" or "fallback" }}`, "fallback"},
	}
	for _, tt := range tests {
		tmpl := optimize(t, tt.source)
		out, ok := tmpl.Body[0].(*nodes.Output)
		if !ok {
			t.Fatalf("%s: expected Output, got %s", tt.source, tmpl.Body[0])
		}
		c, ok := out.Expr.(*nodes.Const)
		if !ok {
			t.Errorf("%s: not folded, got %s", tt.source, out.Expr)
			continue
		}
		if c.Value != tt.want {
			t.Errorf("%s: folded to %#v, want %#v", tt.source, c.Value, tt.want)
		}
	}
}

func TestNoFoldDivisionByZero(t *testing.T) {
	tmpl := optimize(t, "{{ 1 / 0 }}")
	out := tmpl.Body[0].(*nodes.Output)
	if _, ok := out.Expr.(*nodes.Const); ok {
		t.Error("division by zero must be left for the runtime")
	}
}

func TestDeadBranchElimination(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"{% if true %}yes{% else %}no{% end %}", "yes"},
		{"{% if false %}yes{% else %}no{% end %}", "no"},
		{"{% if false %}a{% elif true %}b{% else %}c{% end %}", "b"},
		{"{% if false %}a{% elif false %}b{% else %}c{% end %}", "c"},
		{"{% if 0 %}a{% end %}", ""},
		{"{% for x in [] %}body{% empty %}fallback{% end %}", "fallback"},
	}
	for _, tt := range tests {
		tmpl := optimize(t, tt.source)
		if tt.want == "" {
			if len(tmpl.Body) != 0 {
				t.Errorf("%s: expected empty body, got %d statements", tt.source, len(tmpl.Body))
			}
			continue
		}
		if len(tmpl.Body) != 1 {
			t.Fatalf("%s: expected 1 statement, got %d", tt.source, len(tmpl.Body))
		}
		text, ok := tmpl.Body[0].(*nodes.Text)
		if !ok || text.Data != tt.want {
			t.Errorf("%s: expected Text(%q), got %s", tt.source, tt.want, tmpl.Body[0])
		}
	}
}

func TestDynamicIfKept(t *testing.T) {
	tmpl := optimize(t, "{% if cond %}yes{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.If); !ok {
		t.Errorf("non-constant condition must survive, got %s", tmpl.Body[0])
	}
}

func TestTextCoalescing(t *testing.T) {
	tmpl := optimize(t, "a{% if true %}b{% end %}c")
	if len(tmpl.Body) != 1 {
		t.Fatalf("expected 1 coalesced statement, got %d", len(tmpl.Body))
	}
	text, ok := tmpl.Body[0].(*nodes.Text)
	if !ok || text.Data != "abc" {
		t.Errorf("expected Text(abc), got %s", tmpl.Body[0])
	}
}

func TestFilterChainFusion(t *testing.T) {
	tmpl := optimize(t, "{{ name | trim | lower | upper }}")
	out := tmpl.Body[0].(*nodes.Output)
	pipe, ok := out.Expr.(*nodes.Pipeline)
	if !ok {
		t.Fatalf("expected fused Pipeline, got %s", out.Expr)
	}
	if len(pipe.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(pipe.Stages))
	}
	for i, want := range []string{"trim", "lower", "upper"} {
		if pipe.Stages[i].Name != want {
			t.Errorf("stage %d: expected %s, got %s", i, want, pipe.Stages[i].Name)
		}
	}
	if _, ok := pipe.Input.(*nodes.Name); !ok {
		t.Errorf("expected Name input, got %s", pipe.Input)
	}
}

func TestSingleFilterNotFused(t *testing.T) {
	tmpl := optimize(t, "{{ name | upper }}")
	out := tmpl.Body[0].(*nodes.Output)
	if _, ok := out.Expr.(*nodes.Filter); !ok {
		t.Errorf("single filter should stay a Filter, got %s", out.Expr)
	}
}

func TestFilterIntoPipelineFusion(t *testing.T) {
	tmpl := optimize(t, `{{ items | sort |> take(2) }}`)
	out := tmpl.Body[0].(*nodes.Output)
	pipe, ok := out.Expr.(*nodes.Pipeline)
	if !ok {
		t.Fatalf("expected Pipeline, got %s", out.Expr)
	}
	if len(pipe.Stages) != 2 || pipe.Stages[0].Name != "sort" || pipe.Stages[1].Name != "take" {
		t.Errorf("fusion wrong: %s", pipe)
	}
}

func TestLoopInvariantHoisting(t *testing.T) {
	tmpl := optimize(t, "{% for x in items %}{{ site.title }}:{{ x }} {{ site.title }}{% end %}")
	guard, ok := tmpl.Body[0].(*nodes.If)
	if !ok {
		t.Fatalf("expected guard around the hoisted loop, got %s", tmpl.Body[0])
	}
	if name, ok := guard.Test.(*nodes.Name); !ok || name.Ident != "items" {
		t.Errorf("guard should test the iterable, got %s", guard.Test)
	}
	with, ok := guard.Body[0].(*nodes.With)
	if !ok {
		t.Fatalf("expected synthesized With inside the guard, got %s", guard.Body[0])
	}
	if len(with.Names) != 1 {
		t.Fatalf("expected 1 hoisted binding, got %d", len(with.Names))
	}
	if _, ok := with.Values[0].(*nodes.Attribute); !ok {
		t.Errorf("expected hoisted Attribute, got %s", with.Values[0])
	}
	loop, ok := with.Body[0].(*nodes.For)
	if !ok {
		t.Fatalf("expected For inside With, got %s", with.Body[0])
	}
	found := 0
	for _, stmt := range loop.Body {
		if out, ok := stmt.(*nodes.Output); ok {
			if name, ok := out.Expr.(*nodes.Name); ok && name.Ident == with.Names[0] {
				found++
			}
		}
	}
	if found != 2 {
		t.Errorf("expected 2 occurrences rewritten to %s, got %d", with.Names[0], found)
	}
}

func TestNoHoistLoopVariable(t *testing.T) {
	tmpl := optimize(t, "{% for x in items %}{{ x.title }} {{ x.title }}{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.For); !ok {
		t.Errorf("loop-variable attribute must not be hoisted, got %s", tmpl.Body[0])
	}
}

func TestNoHoistRebindings(t *testing.T) {
	tmpl := optimize(t, "{% for x in items %}{% set y = x %}{{ y.a }} {{ y.a }}{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.For); !ok {
		t.Errorf("names set inside the loop must not be hoisted, got %s", tmpl.Body[0])
	}
}

func TestNoHoistSingleOccurrence(t *testing.T) {
	tmpl := optimize(t, "{% for x in items %}{{ site.title }}{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.For); !ok {
		t.Errorf("single occurrence is not worth a binding, got %s", tmpl.Body[0])
	}
}

func TestNoHoistConditionalOccurrences(t *testing.T) {
	// Both occurrences sit inside a branch that may never run; binding
	// them before the loop would evaluate them unconditionally.
	tmpl := optimize(t, "{% for x in items %}{% if x > 10 %}{{ site.title }} {{ site.title }}{% end %}.{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.For); !ok {
		t.Errorf("occurrences inside a branch must stay put, got %s", tmpl.Body[0])
	}
}

func TestNoHoistImpureIterable(t *testing.T) {
	// The guard would evaluate the iterable a second time.
	tmpl := optimize(t, "{% for x in range(3) %}{{ site.title }} {{ site.title }}{% end %}")
	if _, ok := tmpl.Body[0].(*nodes.For); !ok {
		t.Errorf("call iterables must not be hoisted around, got %s", tmpl.Body[0])
	}
}

func TestHoistGuardKeepsEmptyBranch(t *testing.T) {
	tmpl := optimize(t, "{% for x in items %}{{ site.a }}{{ site.a }}{% empty %}none{% end %}")
	guard, ok := tmpl.Body[0].(*nodes.If)
	if !ok {
		t.Fatalf("expected guard around the hoisted loop, got %s", tmpl.Body[0])
	}
	if len(guard.Else) != 1 {
		t.Fatalf("guard should carry the empty branch, got %d statements", len(guard.Else))
	}
	if text, ok := guard.Else[0].(*nodes.Text); !ok || text.Data != "none" {
		t.Errorf("empty branch = %s, want the original text", guard.Else[0])
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	tmpl, err := parser.Parse("{% if true %}yes{% end %}", "test.html")
	if err != nil {
		t.Fatal(err)
	}
	Optimize(tmpl)
	if _, ok := tmpl.Body[0].(*nodes.If); !ok {
		t.Errorf("input tree was mutated: %s", tmpl.Body[0])
	}
}
