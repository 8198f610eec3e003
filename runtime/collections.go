package runtime

import (
	"sort"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/lbliii/bengal-sub003/nodes"
)

// listify turns any iterable into a value slice: lists as-is, maps as
// key-sorted values, strings as characters.
func listify(value interface{}) ([]interface{}, error) {
	pairs, err := materialize(value, nodes.Position{})
	if err != nil {
		return nil, err
	}
	items := make([]interface{}, len(pairs))
	for i, pair := range pairs {
		items[i] = pair.value
	}
	return items, nil
}

func filterLength(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if s, ok := asString(value); ok {
		return int64(len([]rune(s))), nil
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	return int64(len(items)), nil
}

func filterFirst(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func filterLast(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

func filterReverse(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if s, ok := asString(value); ok {
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out, nil
}

func filterSort(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	out := append([]interface{}(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		return compareForSort(out[i], out[j]) < 0
	})
	if Truth(args.KwDefault("reverse", false)) {
		reverseInPlace(out)
	}
	return out, nil
}

// filterSortBy orders items by a named attribute. String attribute
// values that parse as dates compare chronologically.
func filterSortBy(ctx *Context, value interface{}, args Args) (interface{}, error) {
	key, ok := asString(args.GetDefault(0, nil))
	if !ok {
		return nil, typeErrorf("sort_by needs an attribute name")
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	out := append([]interface{}(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, _, _ := attrLookup(out[i], key)
		b, _, _ := attrLookup(out[j], key)
		return compareForSort(a, b) < 0
	})
	if Truth(args.KwDefault("reverse", false)) {
		reverseInPlace(out)
	}
	return out, nil
}

func reverseInPlace(items []interface{}) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// compareForSort orders mixed values: numbers numerically, date-like
// strings chronologically, everything else by rendered text.
func compareForSort(a, b interface{}) int {
	an, aok := classifyNumber(a)
	bn, bok := classifyNumber(b)
	if aok && bok {
		switch {
		case an.floatValue < bn.floatValue:
			return -1
		case an.floatValue > bn.floatValue:
			return 1
		}
		return 0
	}

	as, aok := asString(a)
	bs, bok := asString(b)
	if aok && bok {
		if at, err := dateparse.ParseAny(as); err == nil {
			if bt, err := dateparse.ParseAny(bs); err == nil {
				switch {
				case at.Before(bt):
					return -1
				case at.After(bt):
					return 1
				}
				return 0
			}
		}
		return strings.Compare(as, bs)
	}

	return strings.Compare(Stringify(a), Stringify(b))
}

func filterUnique(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(items))
	var out []interface{}
	for _, item := range items {
		key := Stringify(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out, nil
}

func filterJoin(ctx *Context, value interface{}, args Args) (interface{}, error) {
	sep, _ := asString(args.GetDefault(0, ""))
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Stringify(item)
	}
	return strings.Join(parts, sep), nil
}

func filterSplit(ctx *Context, value interface{}, args Args) (interface{}, error) {
	s := Stringify(value)
	var parts []string
	if sep, ok := args.Get(0); ok {
		sepStr, ok := asString(sep)
		if !ok {
			return nil, typeErrorf("split separator must be a string, not %s", typeName(sep))
		}
		parts = strings.Split(s, sepStr)
	} else {
		parts = strings.Fields(s)
	}
	out := make([]interface{}, len(parts))
	for i, part := range parts {
		out[i] = part
	}
	return out, nil
}

// filterSlice extracts a subrange. Negative indexes count from the end.
func filterSlice(ctx *Context, value interface{}, args Args) (interface{}, error) {
	start, err := intArg(args.GetDefault(0, int64(0)), "slice start")
	if err != nil {
		return nil, err
	}

	if s, ok := asString(value); ok {
		runes := []rune(s)
		end, err := intArg(args.GetDefault(1, int64(len(runes))), "slice end")
		if err != nil {
			return nil, err
		}
		lo, hi := clampRange(start, end, len(runes))
		return string(runes[lo:hi]), nil
	}

	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	end, err := intArg(args.GetDefault(1, int64(len(items))), "slice end")
	if err != nil {
		return nil, err
	}
	lo, hi := clampRange(start, end, len(items))
	return items[lo:hi], nil
}

func clampRange(start, end int64, length int) (int, int) {
	n := int64(length)
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}
	return int(start), int(end)
}

func filterTake(ctx *Context, value interface{}, args Args) (interface{}, error) {
	n, err := intArg(args.GetDefault(0, int64(0)), "take count")
	if err != nil {
		return nil, err
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	if n > int64(len(items)) {
		n = int64(len(items))
	}
	return items[:n], nil
}

func filterDrop(ctx *Context, value interface{}, args Args) (interface{}, error) {
	n, err := intArg(args.GetDefault(0, int64(0)), "drop count")
	if err != nil {
		return nil, err
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	if n > int64(len(items)) {
		n = int64(len(items))
	}
	return items[n:], nil
}

// filterWhere keeps items whose attributes match. Keyword arguments
// test equality; a lone positional argument tests attribute truth.
func filterWhere(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	if args.Len() == 0 && len(args.Keyword) == 0 {
		return nil, typeErrorf("where needs an attribute to match")
	}

	var out []interface{}
	for _, item := range items {
		keep := true
		for name, want := range args.Keyword {
			got, ok, _ := attrLookup(item, name)
			if !ok || !valuesEqual(got, want) {
				keep = false
				break
			}
		}
		if keep && args.Len() > 0 {
			name, ok := asString(args.Positional[0])
			if !ok {
				return nil, typeErrorf("where attribute must be a string")
			}
			got, ok, _ := attrLookup(item, name)
			keep = ok && Truth(got)
		}
		if keep {
			out = append(out, item)
		}
	}
	return out, nil
}

// filterGroupBy buckets items by an attribute's rendered value. Bucket
// keys iterate in sorted order.
func filterGroupBy(ctx *Context, value interface{}, args Args) (interface{}, error) {
	key, ok := asString(args.GetDefault(0, nil))
	if !ok {
		return nil, typeErrorf("group_by needs an attribute name")
	}
	items, err := listify(value)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]interface{})
	for _, item := range items {
		attr, _, _ := attrLookup(item, key)
		bucket := Stringify(attr)
		list, _ := groups[bucket].([]interface{})
		groups[bucket] = append(list, item)
	}
	return groups, nil
}

// filterMap projects each item through an attribute (attribute="name")
// or a named filter (map("upper")).
func filterMap(ctx *Context, value interface{}, args Args) (interface{}, error) {
	items, err := listify(value)
	if err != nil {
		return nil, err
	}

	if attr, ok := args.Kw("attribute"); ok {
		name, ok := asString(attr)
		if !ok {
			return nil, typeErrorf("map attribute must be a string")
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			v, found, _ := attrLookup(item, name)
			if !found {
				v = nil
			}
			out[i] = v
		}
		return out, nil
	}

	filterName, ok := asString(args.GetDefault(0, nil))
	if !ok {
		return nil, typeErrorf("map needs a filter name or attribute keyword")
	}
	fn, ok := ctx.env.filter(filterName)
	if !ok {
		return nil, NewFilterNotFound(filterName, nodes.Position{}, ctx.env.suggestFilter(filterName))
	}
	rest := Args{}
	if args.Len() > 1 {
		rest.Positional = args.Positional[1:]
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		v, err := fn(ctx, item, rest)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
