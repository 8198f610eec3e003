package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// Origin identifies where a template's source came from and a version
// token that changes whenever the source changes. The template cache uses
// the token to decide whether a cached parse is still current.
type Origin struct {
	Loader  string
	Path    string
	Version string
}

// Loader resolves template names to source text.
type Loader interface {
	Load(name string) (string, Origin, error)
}

// Versioner is an optional loader capability: computing the current
// version token without loading the full source. Reload-mode cache
// revalidation prefers this cheaper path.
type Versioner interface {
	Version(name string) (string, error)
}

// FileSystemLoader loads templates from an ordered directory search path.
type FileSystemLoader struct {
	mu        sync.RWMutex
	basePaths []string
}

// NewFileSystemLoader creates a filesystem loader searching the given
// directories in order. With no paths it searches the working directory.
func NewFileSystemLoader(basePaths ...string) *FileSystemLoader {
	paths := make([]string, 0, len(basePaths))
	for _, p := range basePaths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		paths = append(paths, ".")
	}
	return &FileSystemLoader{basePaths: paths}
}

// SearchPath returns a copy of the current search path list.
func (l *FileSystemLoader) SearchPath() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.basePaths...)
}

// Load reads the first match on the search path. The version token is
// derived from the file's size and modification time.
func (l *FileSystemLoader) Load(name string) (string, Origin, error) {
	var tried []string
	for _, base := range l.SearchPath() {
		fullPath := filepath.Join(base, filepath.FromSlash(name))
		tried = append(tried, fullPath)

		data, err := os.ReadFile(fullPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", Origin{}, err
		}
		version := fileVersion(fullPath)
		return string(data), Origin{Loader: "fs", Path: fullPath, Version: version}, nil
	}
	return "", Origin{}, NewTemplateNotFound(name, tried)
}

// Version stats the first match without reading it.
func (l *FileSystemLoader) Version(name string) (string, error) {
	for _, base := range l.SearchPath() {
		fullPath := filepath.Join(base, filepath.FromSlash(name))
		if _, err := os.Stat(fullPath); err == nil {
			return fileVersion(fullPath), nil
		}
	}
	return "", NewTemplateNotFound(name, nil)
}

func fileVersion(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

// MapLoader serves templates from an in-memory name to source mapping.
// Intended for tests and embedded defaults. The version token is a
// content hash, so replacing a source invalidates cached parses.
type MapLoader struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapLoader creates a map loader from an initial mapping. The mapping
// is copied.
func NewMapLoader(templates map[string]string) *MapLoader {
	copied := make(map[string]string, len(templates))
	for name, source := range templates {
		copied[name] = source
	}
	return &MapLoader{templates: copied}
}

// Set adds or replaces a template source.
func (l *MapLoader) Set(name, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[name] = source
}

// Load returns the stored source for a name.
func (l *MapLoader) Load(name string) (string, Origin, error) {
	l.mu.RLock()
	source, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return "", Origin{}, NewTemplateNotFound(name, nil)
	}
	return source, Origin{Loader: "map", Path: name, Version: contentVersion(source)}, nil
}

// Version returns the content hash for a stored source.
func (l *MapLoader) Version(name string) (string, error) {
	l.mu.RLock()
	source, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return "", NewTemplateNotFound(name, nil)
	}
	return contentVersion(source), nil
}

func contentVersion(source string) string {
	sum := blake3.Sum256([]byte(source))
	return fmt.Sprintf("%x", sum[:12])
}

// ChainLoader tries an ordered list of loaders, returning the first hit.
type ChainLoader struct {
	loaders []Loader
}

// NewChainLoader composes loaders with ordered fallback.
func NewChainLoader(loaders ...Loader) *ChainLoader {
	return &ChainLoader{loaders: append([]Loader(nil), loaders...)}
}

// Load asks each loader in turn; a miss falls through, any other error
// stops the chain.
func (l *ChainLoader) Load(name string) (string, Origin, error) {
	var tried []string
	for _, loader := range l.loaders {
		source, origin, err := loader.Load(name)
		if err == nil {
			return source, origin, nil
		}
		var notFound *TemplateNotFoundError
		if errors.As(err, &notFound) {
			tried = append(tried, notFound.Tried...)
			continue
		}
		return "", Origin{}, err
	}
	return "", Origin{}, NewTemplateNotFound(name, tried)
}

// Version asks each loader in turn for a version token.
func (l *ChainLoader) Version(name string) (string, error) {
	for _, loader := range l.loaders {
		if v, ok := loader.(Versioner); ok {
			if version, err := v.Version(name); err == nil {
				return version, nil
			}
		}
	}
	return "", NewTemplateNotFound(name, nil)
}

// PrefixLoader routes names by their first path segment to a delegate
// loader: "admin/index.html" loads "index.html" from the "admin"
// delegate.
type PrefixLoader struct {
	delegates map[string]Loader
}

// NewPrefixLoader creates a prefix-dispatched loader. The mapping is
// copied.
func NewPrefixLoader(delegates map[string]Loader) *PrefixLoader {
	copied := make(map[string]Loader, len(delegates))
	for prefix, loader := range delegates {
		copied[prefix] = loader
	}
	return &PrefixLoader{delegates: copied}
}

// Load splits the name at the first slash and dispatches on the prefix.
func (l *PrefixLoader) Load(name string) (string, Origin, error) {
	prefix, rest, ok := strings.Cut(name, "/")
	if !ok {
		return "", Origin{}, NewTemplateNotFound(name, l.prefixes())
	}
	delegate, ok := l.delegates[prefix]
	if !ok {
		return "", Origin{}, NewTemplateNotFound(name, l.prefixes())
	}
	source, origin, err := delegate.Load(rest)
	if err != nil {
		var notFound *TemplateNotFoundError
		if errors.As(err, &notFound) {
			return "", Origin{}, NewTemplateNotFound(name, notFound.Tried)
		}
		return "", Origin{}, err
	}
	return source, origin, nil
}

// Version dispatches a version query on the prefix.
func (l *PrefixLoader) Version(name string) (string, error) {
	prefix, rest, ok := strings.Cut(name, "/")
	if !ok {
		return "", NewTemplateNotFound(name, nil)
	}
	delegate, ok := l.delegates[prefix]
	if !ok {
		return "", NewTemplateNotFound(name, nil)
	}
	if v, ok := delegate.(Versioner); ok {
		return v.Version(rest)
	}
	return "", NewTemplateNotFound(name, nil)
}

func (l *PrefixLoader) prefixes() []string {
	out := make([]string, 0, len(l.delegates))
	for prefix := range l.delegates {
		out = append(out, prefix+"/...")
	}
	sort.Strings(out)
	return out
}
