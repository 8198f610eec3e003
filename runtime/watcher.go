package runtime

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/tevino/abool/v2"
)

// Watcher invalidates cached templates when their source files change
// on disk. It watches every root of a filesystem loader and maps event
// paths back to template names.
type Watcher struct {
	env     *Environment
	loader  *FileSystemLoader
	fs      *fsnotify.Watcher
	running *abool.AtomicBool
	done    chan struct{}
}

// Watch starts invalidating env's template cache from filesystem
// events. The environment's loader must be a FileSystemLoader.
func Watch(env *Environment) (*Watcher, error) {
	loader, ok := env.options.Loader.(*FileSystemLoader)
	if !ok {
		return nil, &Error{
			Kind:    ErrorKindTemplate,
			Message: "watching requires a filesystem loader",
		}
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{
			Kind:    ErrorKindTemplate,
			Message: "cannot start watcher: " + err.Error(),
			Cause:   err,
		}
	}
	for _, root := range loader.SearchPath() {
		if err := fs.Add(root); err != nil {
			fs.Close()
			return nil, &Error{
				Kind:    ErrorKindTemplate,
				Message: "cannot watch " + root + ": " + err.Error(),
				Cause:   err,
			}
		}
	}

	w := &Watcher{
		env:     env,
		loader:  loader,
		fs:      fs,
		running: abool.NewBool(true),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if name, ok := w.templateName(event.Name); ok {
				w.env.cache.remove(name)
				w.env.logger.Debug("template invalidated",
					"template", name, "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.env.logger.Warn("watch error", "error", err)
		}
	}
}

// templateName maps an absolute event path back to a loader-relative
// template name.
func (w *Watcher) templateName(path string) (string, bool) {
	for _, root := range w.loader.SearchPath() {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}

// Running reports whether the watcher is still delivering events.
func (w *Watcher) Running() bool {
	return w.running.IsSet()
}

// Close stops watching and waits for the event loop to drain.
func (w *Watcher) Close() error {
	if !w.running.SetToIf(true, false) {
		return nil
	}
	err := w.fs.Close()
	<-w.done
	return err
}
