package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapLoader(t *testing.T) {
	loader := NewMapLoader(map[string]string{"a.html": "A"})

	source, origin, err := loader.Load("a.html")
	if err != nil {
		t.Fatal(err)
	}
	if source != "A" {
		t.Errorf("source = %q", source)
	}
	if origin.Version == "" {
		t.Error("map loader should version by content")
	}

	before := origin.Version
	loader.Set("a.html", "A2")
	_, origin, err = loader.Load("a.html")
	if err != nil {
		t.Fatal(err)
	}
	if origin.Version == before {
		t.Error("changed content should change the version token")
	}

	if _, _, err := loader.Load("missing.html"); !IsTemplateNotFound(err) {
		t.Errorf("Load(missing) = %v, want template not found", err)
	}
}

func TestFileSystemLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewFileSystemLoader(dir)
	source, origin, err := loader.Load("page.html")
	if err != nil {
		t.Fatal(err)
	}
	if source != "content" {
		t.Errorf("source = %q", source)
	}
	if origin.Path != path {
		t.Errorf("origin path = %q, want %q", origin.Path, path)
	}

	version, err := loader.Version("page.html")
	if err != nil {
		t.Fatal(err)
	}
	if version != origin.Version {
		t.Errorf("Version = %q, origin version %q", version, origin.Version)
	}

	if _, _, err := loader.Load("missing.html"); !IsTemplateNotFound(err) {
		t.Errorf("Load(missing) = %v, want template not found", err)
	}
}

func TestChainLoader(t *testing.T) {
	chain := NewChainLoader(
		NewMapLoader(map[string]string{"first.html": "1"}),
		NewMapLoader(map[string]string{"first.html": "shadowed", "second.html": "2"}),
	)

	source, _, err := chain.Load("first.html")
	if err != nil {
		t.Fatal(err)
	}
	if source != "1" {
		t.Errorf("earlier loader should win, got %q", source)
	}

	source, _, err = chain.Load("second.html")
	if err != nil {
		t.Fatal(err)
	}
	if source != "2" {
		t.Errorf("fallthrough source = %q", source)
	}

	_, _, err = chain.Load("missing.html")
	if !IsTemplateNotFound(err) {
		t.Fatalf("Load(missing) = %v, want template not found", err)
	}
}

func TestPrefixLoader(t *testing.T) {
	loader := NewPrefixLoader(map[string]Loader{
		"admin": NewMapLoader(map[string]string{"panel.html": "admin panel"}),
		"site":  NewMapLoader(map[string]string{"home.html": "home"}),
	})

	source, _, err := loader.Load("admin/panel.html")
	if err != nil {
		t.Fatal(err)
	}
	if source != "admin panel" {
		t.Errorf("source = %q", source)
	}

	if _, _, err := loader.Load("unknown/x.html"); !IsTemplateNotFound(err) {
		t.Errorf("unknown prefix = %v, want template not found", err)
	}
	if _, _, err := loader.Load("bare.html"); !IsTemplateNotFound(err) {
		t.Errorf("missing prefix = %v, want template not found", err)
	}
}

func TestTemplateCacheLRU(t *testing.T) {
	cache := newTemplateCache(2)
	a := &Template{name: "a"}
	b := &Template{name: "b"}
	c := &Template{name: "c"}

	cache.put("a", a, "v1")
	cache.put("b", b, "v1")
	if _, _, ok := cache.get("a"); !ok {
		t.Fatal("a should be cached")
	}

	// a was just touched, so b is the eviction victim.
	cache.put("c", c, "v1")
	if _, _, ok := cache.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, _, ok := cache.get("a"); !ok {
		t.Error("a should survive")
	}
	if _, _, ok := cache.get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	loader := NewMapLoader(map[string]string{"page.html": "v1"})
	options := DefaultOptions()
	options.Loader = loader
	options.Reload = true
	env := NewEnvironment(options)

	tmpl, err := env.GetTemplate("page.html")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "v1" {
		t.Fatalf("first render = %q", out)
	}

	loader.Set("page.html", "v2")
	tmpl, err = env.GetTemplate("page.html")
	if err != nil {
		t.Fatal(err)
	}
	out, err = tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "v2" {
		t.Errorf("render after change = %q, want %q", out, "v2")
	}
}

func TestCachedTemplateReusedWithoutReload(t *testing.T) {
	loader := NewMapLoader(map[string]string{"page.html": "v1"})
	options := DefaultOptions()
	options.Loader = loader
	env := NewEnvironment(options)

	first, err := env.GetTemplate("page.html")
	if err != nil {
		t.Fatal(err)
	}
	loader.Set("page.html", "v2")
	second, err := env.GetTemplate("page.html")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("without Reload the cached template should be reused")
	}
}
