package lexer

import (
	"fmt"
)

// TokenType represents the type of a token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenText
	TokenVariableStart
	TokenVariableEnd
	TokenBlockStart
	TokenBlockEnd
	TokenName
	TokenInteger
	TokenFloat
	TokenString
	TokenOperator
)

var tokenNames = map[TokenType]string{
	TokenEOF:           "EOF",
	TokenText:          "TEXT",
	TokenVariableStart: "VAR_START",
	TokenVariableEnd:   "VAR_END",
	TokenBlockStart:    "BLOCK_START",
	TokenBlockEnd:      "BLOCK_END",
	TokenName:          "NAME",
	TokenInteger:       "INTEGER",
	TokenFloat:         "FLOAT",
	TokenString:        "STRING",
	TokenOperator:      "OPERATOR",
}

func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", tt)
}

// Token represents a single token in the template. Tokens are immutable once
// produced and carry the exact source position for downstream diagnostics.
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d:%d", t.Type, t.Value, t.Line, t.Column)
}

// TokenStream represents the finite, ordered stream of tokens produced by a
// single Tokenize call.
type TokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream wraps a token slice in a stream positioned at the start.
func NewTokenStream(tokens []Token) *TokenStream {
	return &TokenStream{tokens: tokens}
}

// Next consumes and returns the current token.
func (ts *TokenStream) Next() Token {
	if ts.pos >= len(ts.tokens) {
		return ts.eofToken()
	}
	token := ts.tokens[ts.pos]
	ts.pos++
	return token
}

// Peek returns the current token without consuming it.
func (ts *TokenStream) Peek() Token {
	if ts.pos >= len(ts.tokens) {
		return ts.eofToken()
	}
	return ts.tokens[ts.pos]
}

// PeekN returns the token n positions ahead without consuming anything.
func (ts *TokenStream) PeekN(n int) Token {
	if ts.pos+n >= len(ts.tokens) {
		return ts.eofToken()
	}
	return ts.tokens[ts.pos+n]
}

// Expect consumes and returns a token, failing if it doesn't match the
// expected type.
func (ts *TokenStream) Expect(expected TokenType) (Token, error) {
	token := ts.Next()
	if token.Type != expected {
		return token, fmt.Errorf("expected %s, got %s at %d:%d",
			expected, token.Type, token.Line, token.Column)
	}
	return token, nil
}

// Eof reports whether the stream is exhausted.
func (ts *TokenStream) Eof() bool {
	return ts.Peek().Type == TokenEOF
}

func (ts *TokenStream) eofToken() Token {
	line, column := 1, 1
	if n := len(ts.tokens); n > 0 {
		last := ts.tokens[n-1]
		line, column = last.Line, last.Column+len(last.Value)
	}
	return Token{Type: TokenEOF, Line: line, Column: column}
}
