// Package parser consumes a token stream and produces an immutable AST.
//
// The parser is recursive descent. It keeps an explicit stack of open
// constructs so an unmatched opener is reported at the opener's own
// location, and it classifies keywords contextually: the lexer hands it
// plain name tokens.
package parser

import (
	"fmt"
	"strings"

	"github.com/lbliii/bengal-sub003/lexer"
	"github.com/lbliii/bengal-sub003/nodes"
	"github.com/lbliii/bengal-sub003/suggest"
)

// ParseError represents a syntax error with its source position and, for
// unknown-tag failures, ranked name suggestions.
type ParseError struct {
	Message     string
	Line        int
	Column      int
	Suggestions []string
}

func (e *ParseError) Error() string {
	msg := e.Message
	if len(e.Suggestions) > 0 {
		msg = fmt.Sprintf("%s (did you mean: %s?)", msg, strings.Join(e.Suggestions, ", "))
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d, column %d", msg, e.Line, e.Column)
	}
	return msg
}

// statementTags are the names that open or stand alone as statements.
var statementTags = []string{
	"if", "for", "set", "with", "block", "extends", "include",
	"def", "call", "cache", "type", "break", "continue",
}

// openTag records an open construct for unmatched-opener diagnostics.
type openTag struct {
	name   string
	line   int
	column int
}

// Parser turns one token stream into one template AST. A fresh Parser is
// created per parse; it holds no state shared between parses.
type Parser struct {
	stream    *lexer.TokenStream
	name      string
	open      []openTag
	loopDepth int
}

// Parse tokenizes and parses source into a template AST. The name is
// attached to the root node for diagnostics. Lex failures propagate as
// *lexer.LexError, syntax failures as *ParseError.
func Parse(source, name string) (*nodes.Template, error) {
	stream, err := lexer.Tokenize(source)
	if err != nil {
		return nil, err
	}

	p := &Parser{stream: stream, name: name}
	body, stop, err := p.subparse(nil)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		tok := p.stream.Peek()
		return nil, p.failf(tok, "unexpected {%% %s %%}", stop)
	}

	tmpl := &nodes.Template{Name: name, Body: body}
	tmpl.Pos = nodes.NewPosition(1, 1)
	return tmpl, nil
}

// pushOpen records an opener on the construct stack.
func (p *Parser) pushOpen(name string, tok lexer.Token) {
	p.open = append(p.open, openTag{name: name, line: tok.Line, column: tok.Column})
}

// popOpen removes the top of the construct stack.
func (p *Parser) popOpen() {
	if len(p.open) > 0 {
		p.open = p.open[:len(p.open)-1]
	}
}

// failf builds a ParseError at the given token.
func (p *Parser) failf(tok lexer.Token, format string, args ...interface{}) error {
	return &ParseError{
		Message: fmt.Sprintf(format, args...),
		Line:    tok.Line,
		Column:  tok.Column,
	}
}

// failUnknownTag builds the unknown-tag error with ranked suggestions.
func (p *Parser) failUnknownTag(tok lexer.Token) error {
	candidates := append([]string(nil), statementTags...)
	candidates = append(candidates, "end", "elif", "else", "empty")
	return &ParseError{
		Message:     fmt.Sprintf("unknown tag %q", tok.Value),
		Line:        tok.Line,
		Column:      tok.Column,
		Suggestions: suggest.Closest(tok.Value, candidates),
	}
}

// failUnclosed reports EOF while a construct is still open, naming the
// opener's location.
func (p *Parser) failUnclosed() error {
	top := p.open[len(p.open)-1]
	return &ParseError{
		Message: fmt.Sprintf("unclosed {%% %s %%}", top.name),
		Line:    top.line,
		Column:  top.column,
	}
}

// expectOp consumes an operator token with the given value.
func (p *Parser) expectOp(value string) (lexer.Token, error) {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenOperator && tok.Value == value {
		return p.stream.Next(), nil
	}
	return tok, p.failf(tok, "expected %q, got %s", value, describe(tok))
}

// expectName consumes a name token, any value.
func (p *Parser) expectName() (lexer.Token, error) {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenName {
		return p.stream.Next(), nil
	}
	return tok, p.failf(tok, "expected a name, got %s", describe(tok))
}

// expectKeyword consumes a name token with a specific value.
func (p *Parser) expectKeyword(value string) (lexer.Token, error) {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenName && tok.Value == value {
		return p.stream.Next(), nil
	}
	return tok, p.failf(tok, "expected %q, got %s", value, describe(tok))
}

// expectBlockEnd consumes the closing "%}" of a statement tag.
func (p *Parser) expectBlockEnd() error {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenBlockEnd {
		p.stream.Next()
		return nil
	}
	return p.failf(tok, "expected %q, got %s", lexer.BlockEnd, describe(tok))
}

// skipOp consumes an operator token with the given value if present.
func (p *Parser) skipOp(value string) bool {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenOperator && tok.Value == value {
		p.stream.Next()
		return true
	}
	return false
}

// skipKeyword consumes a name token with the given value if present.
func (p *Parser) skipKeyword(value string) bool {
	tok := p.stream.Peek()
	if tok.Type == lexer.TokenName && tok.Value == value {
		p.stream.Next()
		return true
	}
	return false
}

// atOp reports whether the current token is the given operator.
func (p *Parser) atOp(value string) bool {
	tok := p.stream.Peek()
	return tok.Type == lexer.TokenOperator && tok.Value == value
}

// atKeyword reports whether the current token is a name with the given value.
func (p *Parser) atKeyword(value string) bool {
	tok := p.stream.Peek()
	return tok.Type == lexer.TokenName && tok.Value == value
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.TokenEOF:
		return "end of template"
	case lexer.TokenText:
		return "template text"
	case lexer.TokenName:
		return fmt.Sprintf("name %q", tok.Value)
	case lexer.TokenString:
		return fmt.Sprintf("string %q", tok.Value)
	case lexer.TokenInteger, lexer.TokenFloat:
		return fmt.Sprintf("number %q", tok.Value)
	default:
		return fmt.Sprintf("%q", tok.Value)
	}
}

func pos(tok lexer.Token) nodes.BaseNode {
	return nodes.At(tok.Line, tok.Column)
}
