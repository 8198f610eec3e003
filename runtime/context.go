package runtime

import (
	"strings"

	"github.com/lbliii/bengal-sub003/nodes"
)

// signal is the control-flow result of executing a statement. Loop
// control is modeled as an explicit result value rather than an error
// thrown across the execution hot path.
type signal int

const (
	sigNone signal = iota
	sigBreak
	sigContinue
)

// Scope is one frame of the lexical scope chain. Lookups walk toward the
// root; writes always land in the innermost frame.
type Scope struct {
	vars   map[string]interface{}
	parent *Scope
}

// NewScope creates a scope frame chained to a parent.
func NewScope(parent *Scope) *Scope {
	return &Scope{vars: make(map[string]interface{}), parent: parent}
}

// Lookup resolves a name through the scope chain.
func (s *Scope) Lookup(name string) (interface{}, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if v, ok := scope.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds a name in this frame.
func (s *Scope) Set(name string, value interface{}) {
	s.vars[name] = value
}

// Names collects every name visible from this frame, innermost first.
func (s *Scope) Names() []string {
	seen := map[string]bool{}
	var names []string
	for scope := s; scope != nil; scope = scope.parent {
		for name := range scope.vars {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// LoopInfo is the read-only metadata bound to "loop" inside a for body.
type LoopInfo struct {
	Index  int
	Index0 int
	First  bool
	Last   bool
	Length int
}

// blockFrame tracks which override of a named block is currently
// rendering, so super() can step to the next ancestor.
type blockFrame struct {
	name  string
	depth int
}

// Context is the per-render state: the scope stack, output buffer, block
// override position and the active caller() body. A Context is created
// fresh for every render call and never shared between goroutines.
type Context struct {
	env   *Environment
	tmpl  *Template
	scope *Scope
	out   *strings.Builder

	blockStack []blockFrame
	callers    []func() (string, error)
	lenient    int
	depth      int
}

func newContext(env *Environment, tmpl *Template, vars map[string]interface{}) *Context {
	root := NewScope(nil)
	for name, value := range vars {
		root.Set(name, value)
	}
	return &Context{
		env:   env,
		tmpl:  tmpl,
		scope: root,
		out:   &strings.Builder{},
	}
}

// Env exposes the owning environment to registered filters and functions.
func (ctx *Context) Env() *Environment {
	return ctx.env
}

// TemplateName returns the name of the template being rendered.
func (ctx *Context) TemplateName() string {
	if ctx.tmpl == nil {
		return ""
	}
	return ctx.tmpl.name
}

func (ctx *Context) pushScope() {
	ctx.scope = NewScope(ctx.scope)
}

func (ctx *Context) popScope() {
	if ctx.scope.parent != nil {
		ctx.scope = ctx.scope.parent
	}
}

// strictActive reports whether a missing name is an error right now.
// Lenient regions (the defined/undefined tests, the default filter)
// suspend strictness for their operand.
func (ctx *Context) strictActive() bool {
	return ctx.env.strict() && ctx.lenient == 0
}

// resolveName looks a name up through scopes and environment globals,
// applying the undefined policy on a miss.
func (ctx *Context) resolveName(name string, pos nodes.Position) (interface{}, error) {
	if v, ok := ctx.scope.Lookup(name); ok {
		return v, nil
	}
	if v, ok := ctx.env.global(name); ok {
		return v, nil
	}
	if ctx.strictActive() {
		candidates := append(ctx.scope.Names(), ctx.env.globalNames()...)
		return nil, NewUndefinedError(name, pos, rankMembers(name, candidates))
	}
	return undefinedValue{name: name}, nil
}

// resolveAttr reads value.name, applying the undefined policy on a miss.
func (ctx *Context) resolveAttr(value interface{}, name string, pos nodes.Position) (interface{}, error) {
	item, ok, candidates := attrLookup(value, name)
	if ok {
		return item, nil
	}
	if ctx.strictActive() {
		return nil, NewUndefinedError(name, pos, rankMembers(name, candidates))
	}
	return undefinedValue{name: name}, nil
}

// resolveItem reads value[index], applying the undefined policy on a
// missing element.
func (ctx *Context) resolveItem(value, index interface{}, pos nodes.Position) (interface{}, error) {
	item, ok, err := itemLookup(value, index, pos)
	if err != nil {
		return nil, err
	}
	if ok {
		return item, nil
	}
	if ctx.strictActive() {
		return nil, NewUndefinedError(Stringify(index), pos, nil)
	}
	return undefinedValue{name: Stringify(index)}, nil
}

// write emits literal template text.
func (ctx *Context) write(s string) {
	ctx.out.WriteString(s)
}

// writeValue emits an expression result, escaping it unless the value is
// marked safe or autoescaping is off.
func (ctx *Context) writeValue(value interface{}) {
	if s, ok := value.(safeString); ok {
		ctx.out.WriteString(string(s))
		return
	}
	s := Stringify(value)
	if ctx.env.options.Autoescape {
		s = escapeHTML(s)
	}
	ctx.out.WriteString(s)
}

// pushCaller makes a call-block body available as caller() for the
// duration of one def invocation.
func (ctx *Context) pushCaller(fn func() (string, error)) {
	ctx.callers = append(ctx.callers, fn)
}

func (ctx *Context) popCaller() {
	if len(ctx.callers) > 0 {
		ctx.callers = ctx.callers[:len(ctx.callers)-1]
	}
}

func (ctx *Context) currentCaller() (func() (string, error), bool) {
	if len(ctx.callers) == 0 {
		return nil, false
	}
	return ctx.callers[len(ctx.callers)-1], true
}
