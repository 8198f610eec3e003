package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/lbliii/bengal-sub003/lexer"
	"github.com/lbliii/bengal-sub003/nodes"
	"github.com/lbliii/bengal-sub003/optimizer"
	"github.com/lbliii/bengal-sub003/parser"
)

// Template is a parsed, named unit of source: the optimized tree, its
// origin, the resolved inheritance chain (root-first, self last) and the
// per-name block override lists (most-derived first). Templates are
// immutable after load and safe to render concurrently.
type Template struct {
	env    *Environment
	name   string
	source string
	root   *nodes.Template
	origin Origin

	chain  []*Template
	blocks map[string][]*blockOrigin

	uses   atomic.Int64
	progMu sync.Mutex
	prog   *program
}

// blockOrigin pairs a block definition with the template that defines
// it, so diagnostics from an overridden block name the right source.
type blockOrigin struct {
	block *nodes.Block
	owner *Template
}

// Name returns the template's load name.
func (t *Template) Name() string {
	return t.name
}

// Source returns the template's raw source text.
func (t *Template) Source() string {
	return t.source
}

// Origin returns where the template was loaded from.
func (t *Template) Origin() Origin {
	return t.origin
}

// GetTemplate loads, parses and caches a template by name, resolving its
// inheritance chain. Concurrent requests for one uncached name share a
// single load.
func (env *Environment) GetTemplate(name string) (*Template, error) {
	if tmpl, ok := env.cachedCurrent(name); ok {
		return tmpl, nil
	}

	env.loadMu.Lock()
	if call, ok := env.loads[name]; ok {
		env.loadMu.Unlock()
		<-call.done
		return call.template, call.err
	}
	call := &loadCall{done: make(chan struct{})}
	env.loads[name] = call
	env.loadMu.Unlock()

	call.template, call.err = env.load(name, nil)
	close(call.done)

	env.loadMu.Lock()
	delete(env.loads, name)
	env.loadMu.Unlock()

	return call.template, call.err
}

// FromString parses an anonymous template. The result is not cached, but
// any templates it extends or includes load through the environment's
// loader as usual.
func (env *Environment) FromString(source string) (*Template, error) {
	return env.build("<string>", source, Origin{Loader: "string"}, nil)
}

// cachedCurrent returns a cache hit that the reload policy still trusts.
func (env *Environment) cachedCurrent(name string) (*Template, bool) {
	tmpl, version, ok := env.cache.get(name)
	if !ok {
		return nil, false
	}
	if !env.options.Reload {
		return tmpl, true
	}
	if v, ok := env.options.Loader.(Versioner); ok {
		if current, err := v.Version(name); err == nil && current == version {
			return tmpl, true
		}
	}
	env.cache.remove(name)
	return nil, false
}

// load resolves one name through the loader and builds the template.
// visited carries the extends ancestry for cycle detection.
func (env *Environment) load(name string, visited []string) (*Template, error) {
	if len(visited) > 0 {
		// Nested chain loads trust the cache the same way GetTemplate
		// does but skip load coalescing; duplicate parses are harmless.
		if tmpl, ok := env.cachedCurrent(name); ok {
			return tmpl, nil
		}
	}
	if env.options.Loader == nil {
		return nil, NewTemplateNotFound(name, nil)
	}
	source, origin, err := env.options.Loader.Load(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := env.build(name, source, origin, visited)
	if err != nil {
		return nil, err
	}
	env.cache.put(name, tmpl, origin.Version)
	env.logger.Debug("template loaded",
		"name", name, "loader", origin.Loader, "path", origin.Path)
	return tmpl, nil
}

// build parses, optimizes and chain-resolves one source.
func (env *Environment) build(name, source string, origin Origin, visited []string) (*Template, error) {
	parsed, err := parser.Parse(source, name)
	if err != nil {
		return nil, wrapSyntax(err, name, source)
	}
	root := optimizer.Optimize(parsed)

	tmpl := &Template{
		env:    env,
		name:   name,
		source: source,
		root:   root,
		origin: origin,
	}

	if err := env.resolveChain(tmpl, visited); err != nil {
		return nil, err
	}
	tmpl.resolveBlocks()
	return tmpl, nil
}

// wrapSyntax turns a lex or parse failure into a structured diagnostic
// with the template name and source snippet, keeping the original error
// as the cause.
func wrapSyntax(err error, name, source string) error {
	wrapped := &Error{Kind: ErrorKindTemplate, Message: err.Error(), Template: name, Cause: err}
	switch e := err.(type) {
	case *lexer.LexError:
		wrapped.Message = e.Message
		wrapped.Position = nodes.NewPosition(e.Line, e.Column)
	case *parser.ParseError:
		wrapped.Message = e.Message
		wrapped.Position = nodes.NewPosition(e.Line, e.Column)
		wrapped.Suggestions = e.Suggestions
	}
	if wrapped.Position.Line > 0 {
		wrapped.Snippet = snippet(source, wrapped.Position.Line, wrapped.Position.Column)
	}
	return wrapped
}

// resolveChain loads the template's ancestors root-first. Cycles are
// rejected here, at load time, never during a render.
func (env *Environment) resolveChain(tmpl *Template, visited []string) error {
	ext := extendsOf(tmpl.root)
	if ext == nil {
		tmpl.chain = []*Template{tmpl}
		return nil
	}

	parentName, ok := ext.Target.(*nodes.Const).Value.(string)
	if !ok {
		return NewError(ErrorKindType, "extends target must be a string", ext.Position())
	}
	for _, seen := range visited {
		if seen == parentName {
			return NewExtendsCycle(append(append([]string{}, visited...), tmpl.name, parentName))
		}
	}
	if parentName == tmpl.name {
		return NewExtendsCycle([]string{tmpl.name, parentName})
	}

	parent, err := env.load(parentName, append(visited, tmpl.name))
	if err != nil {
		return err
	}
	tmpl.chain = append(append([]*Template{}, parent.chain...), tmpl)
	return nil
}

// extendsOf finds the template's extends declaration; anything other
// than leading whitespace text before it is ignored for chain purposes.
func extendsOf(root *nodes.Template) *nodes.Extends {
	for _, stmt := range root.Body {
		if ext, ok := stmt.(*nodes.Extends); ok {
			return ext
		}
	}
	return nil
}

// resolveBlocks builds the block override lists: for each block name,
// the defining nodes from most-derived to root. The most-derived entry
// wins; super() steps down the list.
func (t *Template) resolveBlocks() {
	t.blocks = make(map[string][]*blockOrigin)
	for i := len(t.chain) - 1; i >= 0; i-- {
		owner := t.chain[i]
		nodes.Walk(owner.root, func(n nodes.Node) bool {
			if block, ok := n.(*nodes.Block); ok {
				t.blocks[block.Name] = append(t.blocks[block.Name], &blockOrigin{block: block, owner: owner})
			}
			return true
		})
	}
}

// Render executes the template against a context mapping and returns the
// output. The engine strategy follows the environment's execution mode;
// auto mode interprets until the template proves hot, then compiles.
func (t *Template) Render(vars map[string]interface{}) (string, error) {
	ctx := newContext(t.env, t, vars)
	base := t.chain[0]

	var err error
	if t.useCompiled() {
		err = t.program().run(ctx)
	} else {
		err = execStmtsTop(ctx, base.root.Body)
	}
	if err != nil {
		return "", decorate(err, base.name, base.source)
	}
	return ctx.out.String(), nil
}

func (t *Template) useCompiled() bool {
	switch t.env.options.ExecutionMode {
	case ModeCompiled:
		return true
	case ModeInterpreted:
		return false
	default:
		return t.uses.Add(1) > int64(t.env.options.PromoteAfter)
	}
}

// program returns the compiled closure tree, building it at most once
// and rebuilding only if a registry name it references was replaced.
func (t *Template) program() *program {
	t.progMu.Lock()
	defer t.progMu.Unlock()
	if t.prog != nil && t.env.gensCurrent(t.prog.gens) {
		return t.prog
	}
	t.prog = compile(t)
	return t.prog
}
