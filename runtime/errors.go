package runtime

import (
	"fmt"
	"strings"

	"github.com/lbliii/bengal-sub003/nodes"
)

// ErrorKind classifies a structured template error.
type ErrorKind string

const (
	ErrorKindTemplate     ErrorKind = "template_error"
	ErrorKindUndefined    ErrorKind = "undefined_error"
	ErrorKindFilter       ErrorKind = "filter_not_found"
	ErrorKindFunction     ErrorKind = "function_not_found"
	ErrorKindTest         ErrorKind = "test_not_found"
	ErrorKindNotFound     ErrorKind = "template_not_found"
	ErrorKindExtendsCycle ErrorKind = "extends_cycle"
	ErrorKindCacheKey     ErrorKind = "cache_key_error"
	ErrorKindType         ErrorKind = "type_error"
	ErrorKindRegistration ErrorKind = "registration_error"
)

// Error is the structured diagnostic every render failure carries: kind,
// template name, 1-indexed position, a source snippet of the offending
// line plus one line of context, and ranked name suggestions where a
// lookup missed.
type Error struct {
	Kind        ErrorKind
	Message     string
	Template    string
	Position    nodes.Position
	Snippet     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Template != "" {
		fmt.Fprintf(&b, " in %q", e.Template)
	}
	if e.Position.Line > 0 {
		fmt.Fprintf(&b, " at line %d, column %d", e.Position.Line, e.Position.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, " (did you mean: %s?)", strings.Join(e.Suggestions, ", "))
	}
	if e.Snippet != "" {
		b.WriteString("\n")
		b.WriteString(e.Snippet)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// base lets decorate reach the shared diagnostic through wrapper types
// that embed *Error; the method promotes to all of them.
func (e *Error) base() *Error {
	return e
}

// NewError creates a structured error at a source position.
func NewError(kind ErrorKind, message string, position nodes.Position) *Error {
	return &Error{Kind: kind, Message: message, Position: position}
}

// decorate stamps template name and snippet onto an error that does not
// have them yet, so the innermost render frame wins. The error is
// returned unchanged in type so callers can still match the concrete
// wrapper.
func decorate(err error, name, source string) error {
	wrapped, ok := err.(interface{ base() *Error })
	if !ok {
		return err
	}
	e := wrapped.base()
	if e.Template == "" {
		e.Template = name
		if e.Snippet == "" && e.Position.Line > 0 {
			e.Snippet = snippet(source, e.Position.Line, e.Position.Column)
		}
	}
	return err
}

// snippet extracts the offending line with one line of context on each
// side and a caret under the reported column.
func snippet(source string, line, column int) string {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}

	var b strings.Builder
	for i := line - 1; i <= line+1; i++ {
		if i < 1 || i > len(lines) {
			continue
		}
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
		if i == line && column > 0 && column <= len(lines[i-1])+1 {
			fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", column-1))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// baseError aliases Error so the wrapper types below can embed the
// shared diagnostic without the embedded field name hiding the Error
// method.
type baseError = Error

// UndefinedError reports a read of an unbound name or missing attribute
// under the strict policy.
type UndefinedError struct {
	*baseError
	Name string
}

// NewUndefinedError creates an undefined-name error with optional ranked
// suggestions from the names that were in scope.
func NewUndefinedError(name string, position nodes.Position, suggestions []string) *UndefinedError {
	return &UndefinedError{
		baseError: &Error{
			Kind:        ErrorKindUndefined,
			Message:     fmt.Sprintf("%q is undefined", name),
			Position:    position,
			Suggestions: suggestions,
		},
		Name: name,
	}
}

// FilterNotFoundError reports an unregistered filter name.
type FilterNotFoundError struct {
	*baseError
	Name string
}

// NewFilterNotFound creates a filter lookup error with ranked suggestions
// from the registered filter names.
func NewFilterNotFound(name string, position nodes.Position, suggestions []string) *FilterNotFoundError {
	return &FilterNotFoundError{
		baseError: &Error{
			Kind:        ErrorKindFilter,
			Message:     fmt.Sprintf("no filter named %q", name),
			Position:    position,
			Suggestions: suggestions,
		},
		Name: name,
	}
}

// FunctionNotFoundError reports an unregistered function name.
type FunctionNotFoundError struct {
	*baseError
	Name string
}

// NewFunctionNotFound creates a function lookup error with ranked
// suggestions from the registered function names.
func NewFunctionNotFound(name string, position nodes.Position, suggestions []string) *FunctionNotFoundError {
	return &FunctionNotFoundError{
		baseError: &Error{
			Kind:        ErrorKindFunction,
			Message:     fmt.Sprintf("no function named %q", name),
			Position:    position,
			Suggestions: suggestions,
		},
		Name: name,
	}
}

// TestNotFoundError reports an unregistered test name.
type TestNotFoundError struct {
	*baseError
	Name string
}

// NewTestNotFound creates a test lookup error with ranked suggestions
// from the registered test names.
func NewTestNotFound(name string, position nodes.Position, suggestions []string) *TestNotFoundError {
	return &TestNotFoundError{
		baseError: &Error{
			Kind:        ErrorKindTest,
			Message:     fmt.Sprintf("no test named %q", name),
			Position:    position,
			Suggestions: suggestions,
		},
		Name: name,
	}
}

// TemplateNotFoundError reports that no loader could resolve a name.
type TemplateNotFoundError struct {
	*baseError
	Name  string
	Tried []string
}

// NewTemplateNotFound creates a template lookup error listing the
// locations that were tried.
func NewTemplateNotFound(name string, tried []string) *TemplateNotFoundError {
	message := fmt.Sprintf("template %q not found", name)
	if len(tried) > 0 {
		message = fmt.Sprintf("%s (tried: %s)", message, strings.Join(tried, ", "))
	}
	return &TemplateNotFoundError{
		baseError: &Error{Kind: ErrorKindNotFound, Message: message},
		Name:      name,
		Tried:     append([]string(nil), tried...),
	}
}

// ExtendsCycleError reports a cyclic extends chain, detected while the
// chain is built at load time.
type ExtendsCycleError struct {
	*baseError
	Cycle []string
}

// NewExtendsCycle creates an extends-cycle error naming the cycle in
// load order.
func NewExtendsCycle(cycle []string) *ExtendsCycleError {
	return &ExtendsCycleError{
		baseError: &Error{
			Kind:    ErrorKindExtendsCycle,
			Message: fmt.Sprintf("template inheritance cycle: %s", strings.Join(cycle, " -> ")),
		},
		Cycle: append([]string(nil), cycle...),
	}
}

// CacheKeyError reports a cache block key that does not evaluate to a
// stable hashable value.
type CacheKeyError struct {
	*baseError
}

// NewCacheKeyError creates a cache-key error at the key expression's
// position.
func NewCacheKeyError(message string, position nodes.Position) *CacheKeyError {
	return &CacheKeyError{
		baseError: &Error{Kind: ErrorKindCacheKey, Message: message, Position: position},
	}
}

// IsUndefinedError checks if an error is an undefined-name error.
func IsUndefinedError(err error) bool {
	_, ok := err.(*UndefinedError)
	return ok
}

// IsFilterNotFound checks if an error is a filter lookup error.
func IsFilterNotFound(err error) bool {
	_, ok := err.(*FilterNotFoundError)
	return ok
}

// IsFunctionNotFound checks if an error is a function lookup error.
func IsFunctionNotFound(err error) bool {
	_, ok := err.(*FunctionNotFoundError)
	return ok
}

// IsTemplateNotFound checks if an error is a template lookup error.
func IsTemplateNotFound(err error) bool {
	_, ok := err.(*TemplateNotFoundError)
	return ok
}

// IsExtendsCycle checks if an error is an inheritance cycle error.
func IsExtendsCycle(err error) bool {
	_, ok := err.(*ExtendsCycleError)
	return ok
}

// IsCacheKeyError checks if an error is a cache-key error.
func IsCacheKeyError(err error) bool {
	_, ok := err.(*CacheKeyError)
	return ok
}
