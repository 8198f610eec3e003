package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchRequiresFileSystemLoader(t *testing.T) {
	env := testEnv(map[string]string{"a.html": "x"})
	if _, err := Watch(env); err == nil {
		t.Error("watching a map loader should fail")
	}
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	options := DefaultOptions()
	options.Loader = NewFileSystemLoader(dir)
	env := NewEnvironment(options)

	w, err := Watch(env)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if !w.Running() {
		t.Fatal("watcher should be running")
	}

	if _, err := env.GetTemplate("page.html"); err != nil {
		t.Fatal(err)
	}
	if env.cache.len() != 1 {
		t.Fatalf("cache len = %d", env.cache.len())
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.cache.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("write event did not invalidate the cached template")
		}
		time.Sleep(10 * time.Millisecond)
	}

	tmpl, err := env.GetTemplate("page.html")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "v2" {
		t.Errorf("render after invalidation = %q", out)
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	options := DefaultOptions()
	options.Loader = NewFileSystemLoader(dir)
	env := NewEnvironment(options)

	w, err := Watch(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Running() {
		t.Error("closed watcher should not report running")
	}
	if err := w.Close(); err != nil {
		t.Error("second close should be a no-op")
	}
}
