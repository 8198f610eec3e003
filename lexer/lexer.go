// Package lexer turns raw template source into a flat token stream.
//
// The scanner is a single forward pass over the source with no backtracking.
// Keywords are not special-cased: "if", "for", "end", "true", "True" and
// friends are all produced as ordinary NAME tokens and classified
// contextually by the parser.
package lexer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Template delimiters. These are fixed for the language; there is no
// per-environment delimiter configuration.
const (
	VariableStart = "{{"
	VariableEnd   = "}}"
	BlockStart    = "{%"
	BlockEnd      = "%}"
	CommentStart  = "{#"
	CommentEnd    = "#}"
)

// LexError represents a lexing failure with its exact source position.
type LexError struct {
	Message string
	Line    int
	Column  int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at line %d, column %d", e.Message, e.Line, e.Column)
}

// tagKind tracks which delimiter pair the scanner is currently inside.
type tagKind int

const (
	tagNone tagKind = iota
	tagVariable
	tagBlock
)

// scanner holds the state of one Tokenize call. A fresh scanner is created
// per call; there is no shared mutable lexer state.
type scanner struct {
	src    string
	pos    int
	line   int
	column int
	tokens []Token
}

// Tokenize scans the given source and returns the finite token stream.
// Comments are consumed and never appear in the stream.
func Tokenize(source string) (*TokenStream, error) {
	s := &scanner{src: source, line: 1, column: 1}
	for s.pos < len(s.src) {
		if err := s.scanText(); err != nil {
			return nil, err
		}
	}
	return NewTokenStream(s.tokens), nil
}

// scanText consumes a literal text run up to the next delimiter, then hands
// off to the tag scanner for whatever delimiter was found.
func (s *scanner) scanText() error {
	startLine, startColumn := s.line, s.column
	textStart := s.pos

	for s.pos < len(s.src) {
		if s.src[s.pos] == '{' && s.pos+1 < len(s.src) {
			switch s.src[s.pos+1] {
			case '{', '%', '#':
				goto delimiter
			}
		}
		s.advance()
	}

	if s.pos > textStart {
		s.emitAt(TokenText, s.src[textStart:s.pos], startLine, startColumn)
	}
	return nil

delimiter:
	if s.pos > textStart {
		s.emitAt(TokenText, s.src[textStart:s.pos], startLine, startColumn)
	}

	delimLine, delimColumn := s.line, s.column
	switch s.src[s.pos+1] {
	case '#':
		return s.scanComment(delimLine, delimColumn)
	case '{':
		s.emitAt(TokenVariableStart, VariableStart, delimLine, delimColumn)
		s.advanceBy(2)
		return s.scanTag(tagVariable)
	default:
		s.emitAt(TokenBlockStart, BlockStart, delimLine, delimColumn)
		s.advanceBy(2)
		return s.scanTag(tagBlock)
	}
}

// scanComment consumes "{# ... #}" without emitting anything.
func (s *scanner) scanComment(line, column int) error {
	s.advanceBy(2)
	end := strings.Index(s.src[s.pos:], CommentEnd)
	if end < 0 {
		return &LexError{Message: "unterminated comment, missing '#}'", Line: line, Column: column}
	}
	s.advanceBy(end + len(CommentEnd))
	return nil
}

// scanTag tokenizes the interior of an expression or statement tag until the
// matching end delimiter. A curly-depth counter disambiguates a dict
// literal's closing brace from the "}}" end delimiter.
func (s *scanner) scanTag(kind tagKind) error {
	openLine, openColumn := s.line, s.column
	curlyDepth := 0

	for s.pos < len(s.src) {
		r, _ := utf8.DecodeRuneInString(s.src[s.pos:])

		if r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '\v' {
			s.advance()
			continue
		}

		if kind == tagVariable && curlyDepth == 0 && strings.HasPrefix(s.src[s.pos:], VariableEnd) {
			s.emit(TokenVariableEnd, VariableEnd)
			s.advanceBy(2)
			return nil
		}
		if kind == tagBlock && strings.HasPrefix(s.src[s.pos:], BlockEnd) {
			s.emit(TokenBlockEnd, BlockEnd)
			s.advanceBy(2)
			return nil
		}

		switch {
		case r == '_' || unicode.IsLetter(r):
			s.scanName()
		case r >= '0' && r <= '9':
			if err := s.scanNumber(); err != nil {
				return err
			}
		case r == '\'' || r == '"':
			if err := s.scanString(byte(r)); err != nil {
				return err
			}
		default:
			matched, err := s.scanOperator()
			if err != nil {
				return err
			}
			switch matched {
			case "{":
				curlyDepth++
			case "}":
				if curlyDepth > 0 {
					curlyDepth--
				}
			}
		}
	}

	missing := VariableEnd
	if kind == tagBlock {
		missing = BlockEnd
	}
	return &LexError{
		Message: fmt.Sprintf("unterminated tag, missing %q", missing),
		Line:    openLine,
		Column:  openColumn,
	}
}

// scanName consumes an identifier. Keyword classification is the parser's
// job, so "if" and "True" come out as plain names.
func (s *scanner) scanName() {
	line, column := s.line, s.column
	start := s.pos
	for s.pos < len(s.src) {
		r, _ := utf8.DecodeRuneInString(s.src[s.pos:])
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			s.advance()
			continue
		}
		break
	}
	s.emitAt(TokenName, s.src[start:s.pos], line, column)
}

// scanNumber consumes an integer or float literal. Underscore digit
// separators are accepted and stripped from the token value.
func (s *scanner) scanNumber() error {
	line, column := s.line, s.column
	start := s.pos
	isFloat := false

	s.consumeDigits()

	if s.pos < len(s.src) && s.src[s.pos] == '.' &&
		s.pos+1 < len(s.src) && isDigit(s.src[s.pos+1]) {
		isFloat = true
		s.advance()
		s.consumeDigits()
	}

	if s.pos < len(s.src) && (s.src[s.pos] == 'e' || s.src[s.pos] == 'E') {
		next := s.pos + 1
		if next < len(s.src) && (s.src[next] == '+' || s.src[next] == '-') {
			next++
		}
		if next < len(s.src) && isDigit(s.src[next]) {
			isFloat = true
			for s.pos < next {
				s.advance()
			}
			s.consumeDigits()
		}
	}

	value := strings.ReplaceAll(s.src[start:s.pos], "_", "")
	if isFloat {
		s.emitAt(TokenFloat, value, line, column)
	} else {
		s.emitAt(TokenInteger, value, line, column)
	}
	return nil
}

func (s *scanner) consumeDigits() {
	for s.pos < len(s.src) && (isDigit(s.src[s.pos]) || s.src[s.pos] == '_') {
		s.advance()
	}
}

// scanString consumes a quoted string literal, resolving escape sequences.
func (s *scanner) scanString(quote byte) error {
	line, column := s.line, s.column
	s.advance() // opening quote

	var value strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == quote {
			s.advance()
			s.emitAt(TokenString, value.String(), line, column)
			return nil
		}
		if c == '\\' && s.pos+1 < len(s.src) {
			esc := s.src[s.pos+1]
			s.advanceBy(2)
			switch esc {
			case 'n':
				value.WriteByte('\n')
			case 'r':
				value.WriteByte('\r')
			case 't':
				value.WriteByte('\t')
			case 'b':
				value.WriteByte('\b')
			case 'f':
				value.WriteByte('\f')
			case 'v':
				value.WriteByte('\v')
			case '\\', '\'', '"':
				value.WriteByte(esc)
			default:
				value.WriteByte('\\')
				value.WriteByte(esc)
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		value.WriteRune(r)
		s.advanceBy(size)
	}

	return &LexError{Message: "unterminated string literal", Line: line, Column: column}
}

// operators ordered longest-first so multi-rune operators win.
var operators = []string{
	"|>", "==", "!=", "<=", ">=", "//", "**",
	"+", "-", "*", "/", "%", "~", "=", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", "|",
}

func (s *scanner) scanOperator() (string, error) {
	for _, op := range operators {
		if strings.HasPrefix(s.src[s.pos:], op) {
			s.emit(TokenOperator, op)
			s.advanceBy(len(op))
			return op, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.pos:])
	return "", &LexError{
		Message: fmt.Sprintf("unexpected character %q", r),
		Line:    s.line,
		Column:  s.column,
	}
}

func (s *scanner) emit(tt TokenType, value string) {
	s.emitAt(tt, value, s.line, s.column)
}

func (s *scanner) emitAt(tt TokenType, value string, line, column int) {
	s.tokens = append(s.tokens, Token{Type: tt, Value: value, Line: line, Column: column})
}

// advance moves past one rune, updating line and column counters.
func (s *scanner) advance() {
	r, size := utf8.DecodeRuneInString(s.src[s.pos:])
	s.pos += size
	if r == '\n' {
		s.line++
		s.column = 1
	} else {
		s.column++
	}
}

// advanceBy moves past n bytes, updating position counters per rune.
func (s *scanner) advanceBy(n int) {
	end := s.pos + n
	for s.pos < end && s.pos < len(s.src) {
		s.advance()
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
