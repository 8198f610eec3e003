package lexer

import (
	"testing"
)

func collect(t *testing.T, source string) []Token {
	t.Helper()
	stream, err := Tokenize(source)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", source, err)
	}
	var tokens []Token
	for !stream.Eof() {
		tokens = append(tokens, stream.Next())
	}
	return tokens
}

func TestTokenizeBasic(t *testing.T) {
	tests := []struct {
		name   string
		source string
		types  []TokenType
		values []string
	}{
		{
			name:   "plain text",
			source: "Hello World",
			types:  []TokenType{TokenText},
			values: []string{"Hello World"},
		},
		{
			name:   "variable",
			source: "{{ name }}",
			types:  []TokenType{TokenVariableStart, TokenName, TokenVariableEnd},
			values: []string{"{{", "name", "}}"},
		},
		{
			name:   "text around variable",
			source: "a{{ x }}b",
			types:  []TokenType{TokenText, TokenVariableStart, TokenName, TokenVariableEnd, TokenText},
			values: []string{"a", "{{", "x", "}}", "b"},
		},
		{
			name:   "statement",
			source: "{% if ok %}",
			types:  []TokenType{TokenBlockStart, TokenName, TokenName, TokenBlockEnd},
			values: []string{"{%", "if", "ok", "%}"},
		},
		{
			name:   "comment is dropped",
			source: "a{# note #}b",
			types:  []TokenType{TokenText, TokenText},
			values: []string{"a", "b"},
		},
		{
			name:   "integer and float",
			source: "{{ 42 3.14 1_000 2e3 }}",
			types:  []TokenType{TokenVariableStart, TokenInteger, TokenFloat, TokenInteger, TokenFloat, TokenVariableEnd},
			values: []string{"{{", "42", "3.14", "1000", "2e3", "}}"},
		},
		{
			name:   "string escapes",
			source: `{{ "a\nb" }}`,
			types:  []TokenType{TokenVariableStart, TokenString, TokenVariableEnd},
			values: []string{"{{", "a\nb", "}}"},
		},
		{
			name:   "pipeline operator",
			source: "{{ items |> take(2) }}",
			types: []TokenType{
				TokenVariableStart, TokenName, TokenOperator, TokenName,
				TokenOperator, TokenInteger, TokenOperator, TokenVariableEnd,
			},
			values: []string{"{{", "items", "|>", "take", "(", "2", ")", "}}"},
		},
		{
			name:   "filter pipe",
			source: "{{ name|upper }}",
			types:  []TokenType{TokenVariableStart, TokenName, TokenOperator, TokenName, TokenVariableEnd},
			values: []string{"{{", "name", "|", "upper", "}}"},
		},
		{
			name:   "dict literal braces do not end the tag",
			source: `{{ {"a": 1} }}`,
			types: []TokenType{
				TokenVariableStart, TokenOperator, TokenString, TokenOperator,
				TokenInteger, TokenOperator, TokenVariableEnd,
			},
			values: []string{"{{", "{", "a", ":", "1", "}", "}}"},
		},
		{
			name:   "keywords are plain names",
			source: "{% for x in True %}",
			types:  []TokenType{TokenBlockStart, TokenName, TokenName, TokenName, TokenName, TokenBlockEnd},
			values: []string{"{%", "for", "x", "in", "True", "%}"},
		},
		{
			name:   "comparison operators",
			source: "{{ a <= b != c }}",
			types: []TokenType{
				TokenVariableStart, TokenName, TokenOperator, TokenName,
				TokenOperator, TokenName, TokenVariableEnd,
			},
			values: []string{"{{", "a", "<=", "b", "!=", "c", "}}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := collect(t, tt.source)
			if len(tokens) != len(tt.types) {
				t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(tt.types), tokens)
			}
			for i, tok := range tokens {
				if tok.Type != tt.types[i] {
					t.Errorf("token %d: got type %s, want %s", i, tok.Type, tt.types[i])
				}
				if tok.Value != tt.values[i] {
					t.Errorf("token %d: got value %q, want %q", i, tok.Value, tt.values[i])
				}
			}
		})
	}
}

func TestTokenizePositions(t *testing.T) {
	tokens := collect(t, "line one\n{{ value }}")
	// TEXT at 1:1, then "{{" at 2:1, "value" at 2:4.
	if tokens[0].Line != 1 || tokens[0].Column != 1 {
		t.Errorf("text token at %d:%d, want 1:1", tokens[0].Line, tokens[0].Column)
	}
	if tokens[1].Line != 2 || tokens[1].Column != 1 {
		t.Errorf("var start at %d:%d, want 2:1", tokens[1].Line, tokens[1].Column)
	}
	if tokens[2].Line != 2 || tokens[2].Column != 4 {
		t.Errorf("name at %d:%d, want 2:4", tokens[2].Line, tokens[2].Column)
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		line   int
	}{
		{"unterminated variable", "{{ name", 1},
		{"unterminated statement", "text\n{% if x", 2},
		{"unterminated comment", "{# never closed", 1},
		{"unterminated string", "{{ 'abc }}", 1},
		{"invalid character", "{{ a @ b }}", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.source)
			if err == nil {
				t.Fatalf("Tokenize(%q): expected error", tt.source)
			}
			lexErr, ok := err.(*LexError)
			if !ok {
				t.Fatalf("expected *LexError, got %T", err)
			}
			if lexErr.Line != tt.line {
				t.Errorf("error line = %d, want %d", lexErr.Line, tt.line)
			}
		})
	}
}

func TestTokenStreamExpect(t *testing.T) {
	stream, err := Tokenize("{{ x }}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Expect(TokenVariableStart); err != nil {
		t.Fatalf("Expect(VAR_START): %v", err)
	}
	if _, err := stream.Expect(TokenInteger); err == nil {
		t.Fatal("Expect(INTEGER) should fail on a name token")
	}
}
