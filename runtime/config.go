package runtime

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// optionsFile is the on-disk shape of an environment configuration.
type optionsFile struct {
	TemplateDirs    []string `yaml:"template_dirs"`
	Autoescape      *bool    `yaml:"autoescape"`
	Undefined       string   `yaml:"undefined"`
	Mode            string   `yaml:"mode"`
	PromoteAfter    int      `yaml:"promote_after"`
	CacheSize       int      `yaml:"cache_size"`
	Reload          bool     `yaml:"reload"`
	CoordinateFills bool     `yaml:"coordinate_fills"`
}

// OptionsFromYAML decodes environment options from a YAML document.
// Unset fields keep their defaults; template_dirs builds a filesystem
// loader over the listed roots.
func OptionsFromYAML(data []byte) (Options, error) {
	var file optionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Options{}, &Error{
			Kind:    ErrorKindTemplate,
			Message: "invalid options document: " + err.Error(),
			Cause:   err,
		}
	}

	options := DefaultOptions()
	if len(file.TemplateDirs) > 0 {
		options.Loader = NewFileSystemLoader(file.TemplateDirs...)
	}
	if file.Autoescape != nil {
		options.Autoescape = *file.Autoescape
	}

	switch file.Undefined {
	case "", "strict":
		options.Undefined = UndefinedStrict
	case "lenient":
		options.Undefined = UndefinedLenient
	default:
		return Options{}, &Error{
			Kind:    ErrorKindTemplate,
			Message: fmt.Sprintf("unknown undefined policy %q (want strict or lenient)", file.Undefined),
		}
	}

	switch file.Mode {
	case "", "auto":
		options.ExecutionMode = ModeAuto
	case "interpreted":
		options.ExecutionMode = ModeInterpreted
	case "compiled":
		options.ExecutionMode = ModeCompiled
	default:
		return Options{}, &Error{
			Kind:    ErrorKindTemplate,
			Message: fmt.Sprintf("unknown execution mode %q (want interpreted, compiled or auto)", file.Mode),
		}
	}

	if file.PromoteAfter > 0 {
		options.PromoteAfter = file.PromoteAfter
	}
	if file.CacheSize > 0 {
		options.TemplateCacheSize = file.CacheSize
	}
	options.Reload = file.Reload
	options.CoordinateFills = file.CoordinateFills
	return options, nil
}
