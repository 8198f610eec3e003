package runtime

import (
	"testing"
)

// Both engines must agree byte for byte on every construct. Each source
// here renders once interpreted and once compiled, against the same
// variables, and the outputs are compared.
func TestEnginesAgree(t *testing.T) {
	vars := map[string]interface{}{
		"name": "World",
		"n":    int64(7),
		"items": []interface{}{
			map[string]interface{}{"name": "b", "done": true, "date": "2024-02-01"},
			map[string]interface{}{"name": "a", "done": true, "date": "2024-01-01"},
			map[string]interface{}{"name": "c", "done": false, "date": "2024-03-01"},
		},
		"cond": true,
		"html": "<script>",
	}

	sources := []string{
		"plain text only",
		"{{ name }} and {{ n }}",
		"{{ html }}",
		"{{ html | safe }}",
		"{% if cond %}yes{% else %}no{% end %}",
		"{% if n > 10 %}big{% elif n > 5 %}mid{% else %}small{% end %}",
		"{% for x in [1, 2, 3] %}{{ loop.index }}:{{ x }} {% empty %}none{% end %}",
		"{% for x in [] %}{{ x }}{% empty %}none{% end %}",
		"{% for x in range(5) %}{% if x == 3 %}{% break %}{% end %}{{ x }}{% end %}",
		"{% for x in range(5) %}{% if x is even %}{% continue %}{% end %}{{ x }}{% end %}",
		"{% set total = n * 6 %}{{ total }} {{ total // 4 }} {{ total / 4 }}",
		"{% with a = 'x', b = 'y' %}{{ a ~ b }}{% end %}",
		`{% for it in items |> where(done=true) |> sort_by("date") |> take(2) %}{{ it.name }}{% end %}`,
		"{{ 'Hello' | lower | replace('l', 'L') }}",
		"{{ missing | default('gone') }}",
		"{% if missing is defined %}d{% else %}u{% end %}",
		"{{ 'yes' if n is odd else 'no' }}",
		`{% def badge(label, level="info") %}[{{ level }}:{{ label }}]{% end %}{{ badge("a") }}{{ badge("b", level="warn") }}`,
		`{% def wrap() %}({{ caller() }}){% end %}{% call wrap() %}inner {{ name }}{% endcall %}`,
		`{% def wrap() %}({{ caller() }}){% end %}{% with v = 'V' %}{% call wrap() %}{{ v }}{% end %}{% end %}`,
		`{% def wrap() %}<{{ caller() }}>{% end %}{% for x in [1, 2] %}{% call wrap() %}{{ x }}{% end %}{% end %}`,
		"{{ {'a': 1, 'b': 2} | length }} {{ [3, 1, 2] | sort | join(',') }}",
		"{{ 1 < 2 < 3 }} {{ 2 in [1, 2] }} {{ 'b' not in 'abc' }}",
	}

	for _, source := range sources {
		interpreted := renderWithMode(t, source, vars, ModeInterpreted)
		compiled := renderWithMode(t, source, vars, ModeCompiled)
		if interpreted != compiled {
			t.Errorf("engines disagree on %q:\n interpreted: %q\n compiled:    %q",
				source, interpreted, compiled)
		}
	}
}

func renderWithMode(t *testing.T, source string, vars map[string]interface{}, mode ExecutionMode) string {
	t.Helper()
	options := DefaultOptions()
	options.ExecutionMode = mode
	env := NewEnvironment(options)
	tmpl, err := env.FromString(source)
	if err != nil {
		t.Fatalf("FromString(%q): %v", source, err)
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		t.Fatalf("Render(%q) mode %d: %v", source, mode, err)
	}
	return out
}

func TestEnginesAgreeOnInheritance(t *testing.T) {
	templates := map[string]string{
		"base.html":  `<h1>{% block title %}T{% end %}</h1>{% block body %}B{% end %}`,
		"child.html": `{% extends "base.html" %}{% block body %}{{ super() }}+{{ name }}{% end %}`,
	}
	vars := map[string]interface{}{"name": "x"}

	outputs := make([]string, 0, 2)
	for _, mode := range []ExecutionMode{ModeInterpreted, ModeCompiled} {
		options := DefaultOptions()
		options.ExecutionMode = mode
		options.Loader = NewMapLoader(templates)
		env := NewEnvironment(options)
		tmpl, err := env.GetTemplate("child.html")
		if err != nil {
			t.Fatal(err)
		}
		out, err := tmpl.Render(vars)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, out)
	}
	if outputs[0] != outputs[1] {
		t.Errorf("engines disagree: interpreted %q, compiled %q", outputs[0], outputs[1])
	}
	if outputs[0] != "<h1>T</h1>B+x" {
		t.Errorf("inheritance render = %q", outputs[0])
	}
}

// Auto mode promotes a template to the compiled engine after it has
// rendered PromoteAfter times; outputs stay identical across the
// promotion boundary.
func TestAutoPromotion(t *testing.T) {
	options := DefaultOptions()
	options.PromoteAfter = 2
	env := NewEnvironment(options)
	tmpl, err := env.FromString("{% for x in [1, 2] %}{{ x * n }}{% end %}")
	if err != nil {
		t.Fatal(err)
	}

	var first string
	for i := 0; i < 5; i++ {
		out, err := tmpl.Render(map[string]interface{}{"n": int64(3)})
		if err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
		if i == 0 {
			first = out
			continue
		}
		if out != first {
			t.Fatalf("render %d = %q, want %q", i, out, first)
		}
	}
	if tmpl.prog == nil {
		t.Error("template should have been promoted to the compiled engine")
	}
}

// Re-registering a filter bumps its generation and forces compiled
// programs that reference it to rebuild.
func TestCompiledProgramInvalidation(t *testing.T) {
	options := DefaultOptions()
	options.ExecutionMode = ModeCompiled
	env := NewEnvironment(options)

	if err := env.RegisterFilter("tag", func(ctx *Context, value interface{}, args Args) (interface{}, error) {
		return "v1:" + Stringify(value), nil
	}); err != nil {
		t.Fatal(err)
	}

	tmpl, err := env.FromString("{{ 'x' | tag }}")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "v1:x" {
		t.Fatalf("first render = %q", out)
	}

	if err := env.RegisterFilter("tag", func(ctx *Context, value interface{}, args Args) (interface{}, error) {
		return "v2:" + Stringify(value), nil
	}); err != nil {
		t.Fatal(err)
	}
	out, err = tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "v2:x" {
		t.Errorf("render after re-registration = %q, want %q", out, "v2:x")
	}
}
