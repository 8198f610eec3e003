package runtime

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFragmentCacheFill(t *testing.T) {
	fc := NewFragmentCache(false)
	calls := 0
	compute := func() (string, error) {
		calls++
		return fmt.Sprintf("computed-%d", calls), nil
	}

	out, err := fc.Fill("k", 1, 0, compute)
	if err != nil {
		t.Fatal(err)
	}
	if out != "computed-1" {
		t.Errorf("first fill = %q", out)
	}

	out, err = fc.Fill("k", 1, 0, compute)
	if err != nil {
		t.Fatal(err)
	}
	if out != "computed-1" || calls != 1 {
		t.Errorf("second fill = %q (calls %d), want cached value", out, calls)
	}
}

func TestFragmentCacheFingerprintInvalidates(t *testing.T) {
	fc := NewFragmentCache(false)
	calls := 0
	compute := func() (string, error) {
		calls++
		return fmt.Sprintf("v%d", calls), nil
	}

	if out, _ := fc.Fill("k", Fingerprint([]interface{}{"alice"}), 0, compute); out != "v1" {
		t.Fatalf("fill = %q", out)
	}
	if out, _ := fc.Fill("k", Fingerprint([]interface{}{"bob"}), 0, compute); out != "v2" {
		t.Errorf("changed fingerprint should recompute, got calls=%d", calls)
	}
	if out, _ := fc.Fill("k", Fingerprint([]interface{}{"bob"}), 0, compute); out != "v2" {
		t.Errorf("same fingerprint should hit, got calls=%d", calls)
	}
}

func TestFragmentCacheTTL(t *testing.T) {
	fc := NewFragmentCache(false)
	current := time.Unix(1000, 0)
	fc.now = func() time.Time { return current }

	calls := 0
	compute := func() (string, error) {
		calls++
		return fmt.Sprintf("v%d", calls), nil
	}

	fc.Fill("k", 1, 30*time.Second, compute)
	current = current.Add(29 * time.Second)
	if out, _ := fc.Fill("k", 1, 30*time.Second, compute); out != "v1" {
		t.Errorf("entry expired early: %q", out)
	}
	current = current.Add(2 * time.Second)
	if out, _ := fc.Fill("k", 1, 30*time.Second, compute); out != "v2" {
		t.Errorf("entry should have expired: %q", out)
	}
}

func TestFragmentFingerprintStability(t *testing.T) {
	a := Fingerprint([]interface{}{"user", int64(42), true})
	b := Fingerprint([]interface{}{"user", int64(42), true})
	if a != b {
		t.Error("identical inputs must fingerprint identically")
	}
	// The separator keeps ["ab"] and ["a", "b"] apart.
	if Fingerprint([]interface{}{"ab"}) == Fingerprint([]interface{}{"a", "b"}) {
		t.Error("fingerprint must be sensitive to value boundaries")
	}
}

// Coordinated fills serialize computation per key: concurrent fills of
// one cold key run compute once.
func TestFragmentCacheCoordinatedFill(t *testing.T) {
	fc := NewFragmentCache(true)
	var mu sync.Mutex
	calls := 0
	compute := func() (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out, err := fc.Fill("k", 1, 0, compute); err != nil || out != "v" {
				t.Errorf("Fill = %q, %v", out, err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("coordinated fill ran compute %d times, want 1", calls)
	}

	fc.mu.Lock()
	outstanding := len(fc.fills)
	fc.mu.Unlock()
	if outstanding != 0 {
		t.Errorf("%d fill locks outstanding after all fills completed", outstanding)
	}
}

func TestFillLocksReleasedPerKey(t *testing.T) {
	fc := NewFragmentCache(true)
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, err := fc.Fill(key, 1, 0, func() (string, error) { return "v", nil }); err != nil {
			t.Fatal(err)
		}
	}

	fc.mu.Lock()
	outstanding := len(fc.fills)
	fc.mu.Unlock()
	if outstanding != 0 {
		t.Errorf("unique keys left %d fill locks behind, want 0", outstanding)
	}
	if fc.Len() != 16 {
		t.Errorf("entries = %d, want 16", fc.Len())
	}
}

func TestRenderCacheBlock(t *testing.T) {
	env := testEnv(nil)
	calls := 0
	env.RegisterFunction("tick", func(ctx *Context, args Args) (interface{}, error) {
		calls++
		return int64(calls), nil
	})

	tmpl, err := env.FromString(`{% cache "counter" %}{{ tick() }}{% end %}`)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		out, err := tmpl.Render(nil)
		if err != nil {
			t.Fatal(err)
		}
		if out != "1" {
			t.Fatalf("render %d = %q, want cached %q", i, out, "1")
		}
	}
	if calls != 1 {
		t.Errorf("body computed %d times, want 1", calls)
	}
}

func TestRenderCacheVary(t *testing.T) {
	env := testEnv(nil)
	calls := 0
	env.RegisterFunction("tick", func(ctx *Context, args Args) (interface{}, error) {
		calls++
		return int64(calls), nil
	})

	tmpl, err := env.FromString(`{% cache "greet" vary=user %}{{ tick() }}:{{ user }}{% endcache %}`)
	if err != nil {
		t.Fatal(err)
	}

	render := func(user string) string {
		out, err := tmpl.Render(map[string]interface{}{"user": user})
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	if out := render("alice"); out != "1:alice" {
		t.Fatalf("first = %q", out)
	}
	if out := render("alice"); out != "1:alice" {
		t.Errorf("same vary should hit the cache: %q", out)
	}
	if out := render("bob"); out != "2:bob" {
		t.Errorf("changed vary should recompute: %q", out)
	}
}

func TestRenderCacheKeyErrors(t *testing.T) {
	env := testEnv(nil)
	tmpl, err := env.FromString(`{% cache items %}x{% end %}`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tmpl.Render(map[string]interface{}{"items": []interface{}{1}})
	if !IsCacheKeyError(err) {
		t.Errorf("list key error = %v, want cache key error", err)
	}

	tmpl, err = env.FromString(`{% cache missing_key %}x{% end %}`)
	if err != nil {
		t.Fatal(err)
	}
	options := DefaultOptions()
	options.Undefined = UndefinedLenient
	lenient := NewEnvironment(options)
	tmpl, err = lenient.FromString(`{% cache missing_key %}x{% end %}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpl.Render(nil); !IsCacheKeyError(err) {
		t.Errorf("undefined key error = %v, want cache key error", err)
	}
}
