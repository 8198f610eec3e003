package runtime

import (
	"strings"
	"testing"
	"time"
)

func applyFilter(t *testing.T, name string, value interface{}, args Args) interface{} {
	t.Helper()
	env := testEnv(nil)
	fn, ok := env.filter(name)
	if !ok {
		t.Fatalf("filter %q not registered", name)
	}
	out, err := fn(newContext(env, nil, nil), value, args)
	if err != nil {
		t.Fatalf("%s(%v): %v", name, value, err)
	}
	return out
}

func TestStringFilters(t *testing.T) {
	tests := []struct {
		filter string
		value  interface{}
		args   Args
		want   interface{}
	}{
		{"upper", "hi", Args{}, "HI"},
		{"lower", "HI", Args{}, "hi"},
		{"title", "hello world", Args{}, "Hello World"},
		{"capitalize", "hELLO", Args{}, "Hello"},
		{"trim", "  x  ", Args{}, "x"},
		{"trim", "--x--", Args{Positional: []interface{}{"-"}}, "x"},
		{"replace", "a-b-c", Args{Positional: []interface{}{"-", "+"}}, "a+b+c"},
		{"truncate", "hello world", Args{Positional: []interface{}{int64(5)}}, "hello..."},
		{"truncate", "hi", Args{Positional: []interface{}{int64(5)}}, "hi"},
		{"striptags", "<p>Hello <b>there</b></p>", Args{}, "Hello there"},
		{"slugify", "Hello, World!", Args{}, "hello-world"},
		{"urlencode", "a b&c", Args{}, "a+b%26c"},
	}
	for _, tt := range tests {
		if got := applyFilter(t, tt.filter, tt.value, tt.args); got != tt.want {
			t.Errorf("%s(%v) = %v, want %v", tt.filter, tt.value, got, tt.want)
		}
	}
}

func TestNumberFilters(t *testing.T) {
	tests := []struct {
		filter string
		value  interface{}
		args   Args
		want   interface{}
	}{
		{"abs", int64(-3), Args{}, int64(3)},
		{"abs", -2.5, Args{}, 2.5},
		{"round", 2.567, Args{Positional: []interface{}{int64(2)}}, 2.57},
		{"round", 2.5, Args{}, 3.0},
		{"int", "42", Args{}, int64(42)},
		{"int", 3.9, Args{}, int64(3)},
		{"int", "junk", Args{}, int64(0)},
		{"float", "2.5", Args{}, 2.5},
		{"float", int64(2), Args{}, 2.0},
	}
	for _, tt := range tests {
		if got := applyFilter(t, tt.filter, tt.value, tt.args); got != tt.want {
			t.Errorf("%s(%v) = %v, want %v", tt.filter, tt.value, got, tt.want)
		}
	}
}

func TestCollectionFilters(t *testing.T) {
	list := []interface{}{int64(3), int64(1), int64(2)}

	if got := applyFilter(t, "length", list, Args{}); got != int64(3) {
		t.Errorf("length = %v", got)
	}
	if got := applyFilter(t, "length", "héllo", Args{}); got != int64(5) {
		t.Errorf("rune length = %v", got)
	}
	if got := applyFilter(t, "first", list, Args{}); got != int64(3) {
		t.Errorf("first = %v", got)
	}
	if got := applyFilter(t, "last", list, Args{}); got != int64(2) {
		t.Errorf("last = %v", got)
	}
	if got := applyFilter(t, "join", list, Args{Positional: []interface{}{","}}); got != "3,1,2" {
		t.Errorf("join = %v", got)
	}
	if got := applyFilter(t, "reverse", "abc", Args{}); got != "cba" {
		t.Errorf("reverse string = %v", got)
	}

	sorted := applyFilter(t, "sort", list, Args{}).([]interface{})
	if sorted[0] != int64(1) || sorted[2] != int64(3) {
		t.Errorf("sort = %v", sorted)
	}

	uniq := applyFilter(t, "unique", []interface{}{"a", "b", "a"}, Args{}).([]interface{})
	if len(uniq) != 2 {
		t.Errorf("unique = %v", uniq)
	}

	taken := applyFilter(t, "take", list, Args{Positional: []interface{}{int64(2)}}).([]interface{})
	if len(taken) != 2 || taken[0] != int64(3) {
		t.Errorf("take = %v", taken)
	}
	dropped := applyFilter(t, "drop", list, Args{Positional: []interface{}{int64(2)}}).([]interface{})
	if len(dropped) != 1 || dropped[0] != int64(2) {
		t.Errorf("drop = %v", dropped)
	}

	parts := applyFilter(t, "split", "a,b,c", Args{Positional: []interface{}{","}}).([]interface{})
	if len(parts) != 3 || parts[1] != "b" {
		t.Errorf("split = %v", parts)
	}

	if got := applyFilter(t, "slice", "abcdef", Args{Positional: []interface{}{int64(1), int64(-1)}}); got != "bcde" {
		t.Errorf("slice string = %v", got)
	}
}

func TestWhereFilter(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"name": "a", "done": true},
		map[string]interface{}{"name": "b", "done": false},
		map[string]interface{}{"name": "c", "done": true},
	}

	byKw := applyFilter(t, "where", items,
		Args{Keyword: map[string]interface{}{"done": true}}).([]interface{})
	if len(byKw) != 2 {
		t.Fatalf("where(done=true) kept %d items", len(byKw))
	}

	byTruth := applyFilter(t, "where", items,
		Args{Positional: []interface{}{"done"}}).([]interface{})
	if len(byTruth) != 2 {
		t.Errorf("where('done') kept %d items", len(byTruth))
	}
}

func TestSortByFilter(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"name": "late", "date": "2024-06-15"},
		map[string]interface{}{"name": "early", "date": "2024-01-02"},
		map[string]interface{}{"name": "mid", "date": "March 3, 2024"},
	}
	sorted := applyFilter(t, "sort_by", items, Args{Positional: []interface{}{"date"}}).([]interface{})

	names := make([]string, len(sorted))
	for i, item := range sorted {
		name, _, _ := attrLookup(item, "name")
		names[i] = name.(string)
	}
	if strings.Join(names, ",") != "early,mid,late" {
		t.Errorf("sort_by date order = %v", names)
	}
}

func TestGroupByFilter(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"name": "a", "kind": "x"},
		map[string]interface{}{"name": "b", "kind": "y"},
		map[string]interface{}{"name": "c", "kind": "x"},
	}
	groups := applyFilter(t, "group_by", items, Args{Positional: []interface{}{"kind"}}).(map[string]interface{})
	if len(groups) != 2 {
		t.Fatalf("group_by buckets = %d", len(groups))
	}
	if x := groups["x"].([]interface{}); len(x) != 2 {
		t.Errorf("bucket x = %v", x)
	}
}

func TestMapFilter(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"name": "a"},
		map[string]interface{}{"name": "b"},
	}
	names := applyFilter(t, "map", items,
		Args{Keyword: map[string]interface{}{"attribute": "name"}}).([]interface{})
	if names[0] != "a" || names[1] != "b" {
		t.Errorf("map attribute = %v", names)
	}

	upper := applyFilter(t, "map", []interface{}{"a", "b"},
		Args{Positional: []interface{}{"upper"}}).([]interface{})
	if upper[0] != "A" || upper[1] != "B" {
		t.Errorf("map filter = %v", upper)
	}
}

func TestDateFilter(t *testing.T) {
	when := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	if got := applyFilter(t, "date", when, Args{Positional: []interface{}{"2006-01-02"}}); got != "2024-06-15" {
		t.Errorf("date from time = %v", got)
	}
	if got := applyFilter(t, "date", "June 15, 2024", Args{Positional: []interface{}{"2006-01-02"}}); got != "2024-06-15" {
		t.Errorf("date from string = %v", got)
	}
	got := applyFilter(t, "date", when, Args{
		Positional: []interface{}{"2 January 2006"},
		Keyword:    map[string]interface{}{"locale": "fr_FR"},
	})
	if got != "15 juin 2024" {
		t.Errorf("localized date = %v", got)
	}
}

func TestMarkdownifyFilter(t *testing.T) {
	out := applyFilter(t, "markdownify", "**bold** and `code`", Args{})
	html := string(out.(safeString))
	if !strings.Contains(html, "<strong>bold</strong>") || !strings.Contains(html, "<code>code</code>") {
		t.Errorf("markdownify = %q", html)
	}

	// GFM extensions: strikethrough and autolinks.
	out = applyFilter(t, "markdownify", "~~gone~~ https://example.com", Args{})
	html = string(out.(safeString))
	if !strings.Contains(html, "<del>gone</del>") || !strings.Contains(html, "<a href=") {
		t.Errorf("gfm markdownify = %q", html)
	}
}

func TestEscapeFilter(t *testing.T) {
	if got := applyFilter(t, "escape", "<b>", Args{}); got != safeString("&lt;b&gt;") {
		t.Errorf("escape = %v", got)
	}
	already := safeString("<b>")
	if got := applyFilter(t, "escape", already, Args{}); got != already {
		t.Errorf("escape of safe value = %v", got)
	}
}
