// Package bengal is a template language execution core: a lexer,
// parser, optimizer and two interchangeable execution engines behind a
// single environment API.
//
// Typical use:
//
//	env := bengal.New(bengal.Options{
//		Loader: bengal.NewMapLoader(map[string]string{
//			"hello.html": "Hello {{ name }}!",
//		}),
//	})
//	tmpl, err := env.GetTemplate("hello.html")
//	out, err := tmpl.Render(map[string]interface{}{"name": "World"})
package bengal

import (
	"github.com/lbliii/bengal-sub003/runtime"
)

// Re-exported runtime types; the runtime package holds the full API.
type (
	Environment   = runtime.Environment
	Template      = runtime.Template
	Options       = runtime.Options
	Args          = runtime.Args
	FilterFunc    = runtime.FilterFunc
	TestFunc      = runtime.TestFunc
	Func          = runtime.Func
	Context       = runtime.Context
	Loader        = runtime.Loader
	Origin        = runtime.Origin
	Error         = runtime.Error
	UndefinedMode = runtime.UndefinedMode
	ExecutionMode = runtime.ExecutionMode
)

const (
	UndefinedStrict  = runtime.UndefinedStrict
	UndefinedLenient = runtime.UndefinedLenient

	ModeAuto        = runtime.ModeAuto
	ModeInterpreted = runtime.ModeInterpreted
	ModeCompiled    = runtime.ModeCompiled
)

// New creates an environment with the builtin filters, tests and
// functions registered.
func New(options Options) *Environment {
	return runtime.NewEnvironment(options)
}

// DefaultOptions returns the baseline configuration: autoescaping on,
// strict undefined handling, automatic engine promotion.
func DefaultOptions() Options {
	return runtime.DefaultOptions()
}

// OptionsFromYAML decodes environment options from a YAML document.
func OptionsFromYAML(data []byte) (Options, error) {
	return runtime.OptionsFromYAML(data)
}

// Loader constructors.
var (
	NewFileSystemLoader = runtime.NewFileSystemLoader
	NewMapLoader        = runtime.NewMapLoader
	NewChainLoader      = runtime.NewChainLoader
	NewPrefixLoader     = runtime.NewPrefixLoader
)

// Error classification helpers.
var (
	IsUndefinedError   = runtime.IsUndefinedError
	IsFilterNotFound   = runtime.IsFilterNotFound
	IsFunctionNotFound = runtime.IsFunctionNotFound
	IsTemplateNotFound = runtime.IsTemplateNotFound
	IsExtendsCycle     = runtime.IsExtendsCycle
	IsCacheKeyError    = runtime.IsCacheKeyError
)
