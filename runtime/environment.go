// Package runtime executes parsed templates: environments, loaders,
// caches, the builtin registries and the two execution engines.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode"

	"github.com/lbliii/bengal-sub003/suggest"
)

// UndefinedMode selects how reads of unbound names behave.
type UndefinedMode int

const (
	// UndefinedStrict raises an UndefinedError on any read of an
	// unbound name or missing attribute. The default.
	UndefinedStrict UndefinedMode = iota
	// UndefinedLenient resolves such reads to an empty value.
	UndefinedLenient
)

// ExecutionMode selects the engine strategy for rendering.
type ExecutionMode int

const (
	// ModeAuto interprets a template's first renders, then promotes it
	// to the compiled form once it proves hot. The default.
	ModeAuto ExecutionMode = iota
	// ModeInterpreted always walks the tree.
	ModeInterpreted
	// ModeCompiled lowers every template to a closure tree on first
	// render.
	ModeCompiled
)

// Options configures an Environment. Start from DefaultOptions for the
// usual baseline: strict undefined handling, autoescaping on, auto
// execution mode.
type Options struct {
	Loader            Loader
	Autoescape        bool
	Undefined         UndefinedMode
	ExecutionMode     ExecutionMode
	PromoteAfter      int
	TemplateCacheSize int
	// Reload revalidates loader version tokens before trusting cached
	// templates. Development setting; production trusts the cache for
	// the process lifetime.
	Reload bool
	// CoordinateFills makes concurrent fragment-cache misses on one key
	// execute the guarded body exactly once.
	CoordinateFills bool
	Logger          *slog.Logger
}

// DefaultOptions returns the option set NewEnvironment starts from.
func DefaultOptions() Options {
	return Options{
		Autoescape:        true,
		Undefined:         UndefinedStrict,
		ExecutionMode:     ModeAuto,
		PromoteAfter:      3,
		TemplateCacheSize: 128,
	}
}

// Args carries the evaluated arguments of a filter, test or function
// call: positional values in order, keyword values by name.
type Args struct {
	Positional []interface{}
	Keyword    map[string]interface{}
}

// Len returns the number of positional arguments.
func (a Args) Len() int {
	return len(a.Positional)
}

// Get returns the i-th positional argument.
func (a Args) Get(i int) (interface{}, bool) {
	if i < 0 || i >= len(a.Positional) {
		return nil, false
	}
	return a.Positional[i], true
}

// GetDefault returns the i-th positional argument or a fallback.
func (a Args) GetDefault(i int, fallback interface{}) interface{} {
	if v, ok := a.Get(i); ok {
		return v
	}
	return fallback
}

// Kw returns a keyword argument by name.
func (a Args) Kw(name string) (interface{}, bool) {
	v, ok := a.Keyword[name]
	return v, ok
}

// KwDefault returns a keyword argument or a fallback.
func (a Args) KwDefault(name string, fallback interface{}) interface{} {
	if v, ok := a.Keyword[name]; ok {
		return v
	}
	return fallback
}

// FilterFunc transforms a piped value.
type FilterFunc func(ctx *Context, value interface{}, args Args) (interface{}, error)

// TestFunc implements an "is" test predicate.
type TestFunc func(ctx *Context, value interface{}, args Args) (bool, error)

// Func is a global callable available by name in expressions.
type Func func(ctx *Context, args Args) (interface{}, error)

// Environment owns configuration, the filter/test/function registries,
// the template cache and the fragment cache. Configuration is fixed at
// construction; registering over an existing name is allowed but
// invalidates compiled programs that reference it.
type Environment struct {
	options   Options
	cache     *templateCache
	fragments *FragmentCache
	logger    *slog.Logger

	mu      sync.RWMutex
	filters map[string]FilterFunc
	tests   map[string]TestFunc
	funcs   map[string]Func
	globals map[string]interface{}
	// gens tracks a generation per registered name; compiled programs
	// snapshot the generations of the names they reference and go stale
	// when any of them move.
	gens map[string]uint64

	loadMu sync.Mutex
	loads  map[string]*loadCall
}

type loadCall struct {
	done     chan struct{}
	template *Template
	err      error
}

// NewEnvironment creates an environment with the builtin filters, tests
// and functions registered.
func NewEnvironment(options Options) *Environment {
	defaults := DefaultOptions()
	if options.PromoteAfter <= 0 {
		options.PromoteAfter = defaults.PromoteAfter
	}
	if options.TemplateCacheSize <= 0 {
		options.TemplateCacheSize = defaults.TemplateCacheSize
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := &Environment{
		options:   options,
		cache:     newTemplateCache(options.TemplateCacheSize),
		fragments: NewFragmentCache(options.CoordinateFills),
		logger:    logger,
		filters:   make(map[string]FilterFunc),
		tests:     make(map[string]TestFunc),
		funcs:     make(map[string]Func),
		globals:   make(map[string]interface{}),
		gens:      make(map[string]uint64),
		loads:     make(map[string]*loadCall),
	}
	registerBuiltinFilters(env)
	registerBuiltinTests(env)
	registerBuiltinFuncs(env)
	return env
}

// Options returns the environment's configuration.
func (env *Environment) Options() Options {
	return env.options
}

// Fragments exposes the fragment cache, mainly for host-driven
// invalidation.
func (env *Environment) Fragments() *FragmentCache {
	return env.fragments
}

// RegisterFilter binds a filter name. Replacing an existing name bumps
// its generation, invalidating compiled programs that reference it.
func (env *Environment) RegisterFilter(name string, fn FilterFunc) error {
	if err := validateRegistration("filter", name, fn == nil); err != nil {
		return err
	}
	env.mu.Lock()
	env.filters[name] = fn
	env.gens[name]++
	env.mu.Unlock()
	return nil
}

// RegisterTest binds a test name.
func (env *Environment) RegisterTest(name string, fn TestFunc) error {
	if err := validateRegistration("test", name, fn == nil); err != nil {
		return err
	}
	env.mu.Lock()
	env.tests[name] = fn
	env.gens[name]++
	env.mu.Unlock()
	return nil
}

// RegisterFunction binds a global function name.
func (env *Environment) RegisterFunction(name string, fn Func) error {
	if err := validateRegistration("function", name, fn == nil); err != nil {
		return err
	}
	env.mu.Lock()
	env.funcs[name] = fn
	env.gens[name]++
	env.mu.Unlock()
	return nil
}

// AddGlobal binds a value visible to every render.
func (env *Environment) AddGlobal(name string, value interface{}) error {
	if err := validateRegistration("global", name, false); err != nil {
		return err
	}
	env.mu.Lock()
	env.globals[name] = value
	env.mu.Unlock()
	return nil
}

func validateRegistration(kind, name string, nilFn bool) error {
	if !validIdent(name) {
		return &Error{
			Kind:    ErrorKindRegistration,
			Message: fmt.Sprintf("invalid %s name %q", kind, name),
		}
	}
	if nilFn {
		return &Error{
			Kind:    ErrorKindRegistration,
			Message: fmt.Sprintf("%s %q registered with a nil callable", kind, name),
		}
	}
	return nil
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func (env *Environment) filter(name string) (FilterFunc, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	fn, ok := env.filters[name]
	return fn, ok
}

func (env *Environment) test(name string) (TestFunc, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	fn, ok := env.tests[name]
	return fn, ok
}

func (env *Environment) function(name string) (Func, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	fn, ok := env.funcs[name]
	return fn, ok
}

func (env *Environment) global(name string) (interface{}, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	v, ok := env.globals[name]
	return v, ok
}

func (env *Environment) globalNames() []string {
	env.mu.RLock()
	defer env.mu.RUnlock()
	names := make([]string, 0, len(env.globals)+len(env.funcs))
	for name := range env.globals {
		names = append(names, name)
	}
	for name := range env.funcs {
		names = append(names, name)
	}
	return names
}

// suggestFilter ranks registered filter names near a missed lookup.
func (env *Environment) suggestFilter(name string) []string {
	env.mu.RLock()
	candidates := make([]string, 0, len(env.filters))
	for n := range env.filters {
		candidates = append(candidates, n)
	}
	env.mu.RUnlock()
	return suggest.Closest(name, candidates)
}

func (env *Environment) suggestTest(name string) []string {
	env.mu.RLock()
	candidates := make([]string, 0, len(env.tests))
	for n := range env.tests {
		candidates = append(candidates, n)
	}
	env.mu.RUnlock()
	return suggest.Closest(name, candidates)
}

func (env *Environment) suggestFunction(name string) []string {
	env.mu.RLock()
	candidates := make([]string, 0, len(env.funcs))
	for n := range env.funcs {
		candidates = append(candidates, n)
	}
	env.mu.RUnlock()
	return suggest.Closest(name, candidates)
}

func (env *Environment) strict() bool {
	return env.options.Undefined == UndefinedStrict
}

// snapshotGens records the current generation of every referenced name.
func (env *Environment) snapshotGens(refs map[string]bool) map[string]uint64 {
	env.mu.RLock()
	defer env.mu.RUnlock()
	snapshot := make(map[string]uint64, len(refs))
	for name := range refs {
		snapshot[name] = env.gens[name]
	}
	return snapshot
}

// gensCurrent reports whether a compiled program's name snapshot still
// matches the registries.
func (env *Environment) gensCurrent(snapshot map[string]uint64) bool {
	env.mu.RLock()
	defer env.mu.RUnlock()
	for name, gen := range snapshot {
		if env.gens[name] != gen {
			return false
		}
	}
	return true
}
