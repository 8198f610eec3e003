package runtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/lbliii/bengal-sub003/nodes"
)

func TestErrorRendering(t *testing.T) {
	err := &Error{
		Kind:        ErrorKindUndefined,
		Message:     `undefined name "nmae"`,
		Template:    "page.html",
		Position:    nodes.Position{Line: 3, Column: 9},
		Suggestions: []string{"name"},
	}
	msg := err.Error()
	for _, want := range []string{"page.html", "line 3", "column 9", "nmae", "did you mean: name?"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q should contain %q", msg, want)
		}
	}
}

func TestSnippet(t *testing.T) {
	source := "line one\nline two\nline three"
	got := snippet(source, 2, 6)
	for _, want := range []string{"   1 | line one", "   2 | line two", "   3 | line three", "^"} {
		if !strings.Contains(got, want) {
			t.Errorf("snippet %q should contain %q", got, want)
		}
	}

	if snippet(source, 99, 1) != "" {
		t.Error("out-of-range line should produce no snippet")
	}

	// Caret sits under the reported column.
	lines := strings.Split(got, "\n")
	var caret string
	for i, line := range lines {
		if strings.HasSuffix(line, "^") {
			caret = line
			if !strings.Contains(lines[i-1], "line two") {
				t.Errorf("caret should follow the offending line, got %q", lines[i-1])
			}
		}
	}
	if caret == "" {
		t.Fatalf("no caret in snippet %q", got)
	}
}

func TestRenderErrorCarriesSnippet(t *testing.T) {
	env := testEnv(nil)
	tmpl, err := env.FromString("line one\n{{ missing }}\nline three")
	if err != nil {
		t.Fatal(err)
	}
	_, err = tmpl.Render(nil)
	if !IsUndefinedError(err) {
		t.Fatalf("Render error = %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "{{ missing }}") {
		t.Errorf("error should quote the offending line: %q", msg)
	}
	if !strings.Contains(msg, "line 2") {
		t.Errorf("error should report line 2: %q", msg)
	}
}

func TestSyntaxErrorsBecomeStructured(t *testing.T) {
	env := testEnv(nil)
	_, err := env.FromString("{% if x %}unclosed")
	if err == nil {
		t.Fatal("unclosed block should fail to parse")
	}
	var structured *Error
	if !errors.As(err, &structured) {
		t.Fatalf("parse error type = %T", err)
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("parse error = %v", err)
	}
}

func TestUnknownTagSuggestionSurvivesBuild(t *testing.T) {
	env := testEnv(nil)
	_, err := env.FromString("{% fro x in items %}{{ x }}{% end %}")
	if err == nil {
		t.Fatal("unknown tag should fail to parse")
	}
	if !strings.Contains(err.Error(), "for") {
		t.Errorf("error should suggest %q: %v", "for", err)
	}
}

// The wrapper types satisfy error through the embedded diagnostic.
var _ = []error{
	(*UndefinedError)(nil),
	(*FilterNotFoundError)(nil),
	(*FunctionNotFoundError)(nil),
	(*TestNotFoundError)(nil),
	(*TemplateNotFoundError)(nil),
	(*ExtendsCycleError)(nil),
	(*CacheKeyError)(nil),
}

func TestDecoratePreservesConcreteType(t *testing.T) {
	err := decorate(NewUndefinedError("x", nodes.Position{Line: 1, Column: 4}, nil), "page.html", "{{ x }}")
	if !IsUndefinedError(err) {
		t.Fatalf("decorated error type = %T, want undefined", err)
	}
	if !strings.Contains(err.Error(), "page.html") {
		t.Errorf("decoration should stamp the template name: %v", err)
	}
}

func TestIsHelpers(t *testing.T) {
	pos := nodes.Position{Line: 1, Column: 1}
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{NewUndefinedError("x", pos, nil), IsUndefinedError},
		{NewFilterNotFound("x", pos, nil), IsFilterNotFound},
		{NewFunctionNotFound("x", pos, nil), IsFunctionNotFound},
		{NewTemplateNotFound("x", nil), IsTemplateNotFound},
		{NewExtendsCycle([]string{"a", "b", "a"}), IsExtendsCycle},
		{NewCacheKeyError("x", pos), IsCacheKeyError},
	}
	for i, tt := range tests {
		if !tt.check(tt.err) {
			t.Errorf("check %d rejected its own error %v", i, tt.err)
		}
	}
	// Checks are type-specific, not kind-wide.
	if IsFilterNotFound(NewUndefinedError("x", pos, nil)) {
		t.Error("IsFilterNotFound matched an undefined error")
	}
}

func TestExtendsCycleMessage(t *testing.T) {
	err := NewExtendsCycle([]string{"a.html", "b.html", "a.html"})
	if !strings.Contains(err.Error(), "a.html -> b.html -> a.html") {
		t.Errorf("cycle message = %v", err)
	}
}

func TestDecorateStampsOnce(t *testing.T) {
	err := NewUndefinedError("x", nodes.Position{Line: 1, Column: 4}, nil)
	decorated := decorate(err, "inner.html", "{{ x }}")
	decorate(decorated, "outer.html", "other source")
	if !strings.Contains(decorated.Error(), "inner.html") {
		t.Errorf("innermost template should win: %v", decorated)
	}
	if strings.Contains(decorated.Error(), "outer.html") {
		t.Errorf("outer decoration should not override: %v", decorated)
	}
}
