package runtime

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/goodsign/monday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func registerBuiltinFilters(env *Environment) {
	f := env.filters

	f["upper"] = filterUpper
	f["lower"] = filterLower
	f["title"] = filterTitle
	f["capitalize"] = filterCapitalize
	f["trim"] = filterTrim
	f["replace"] = filterReplace
	f["truncate"] = filterTruncate
	f["striptags"] = filterStriptags
	f["escape"] = filterEscape
	f["safe"] = filterSafe
	f["default"] = filterDefault
	f["abs"] = filterAbs
	f["round"] = filterRound
	f["int"] = filterInt
	f["float"] = filterFloat
	f["urlencode"] = filterURLEncode
	f["slugify"] = filterSlugify
	f["markdownify"] = filterMarkdownify
	f["date"] = filterDate

	f["length"] = filterLength
	f["first"] = filterFirst
	f["last"] = filterLast
	f["reverse"] = filterReverse
	f["sort"] = filterSort
	f["sort_by"] = filterSortBy
	f["unique"] = filterUnique
	f["join"] = filterJoin
	f["split"] = filterSplit
	f["slice"] = filterSlice
	f["take"] = filterTake
	f["drop"] = filterDrop
	f["where"] = filterWhere
	f["group_by"] = filterGroupBy
	f["map"] = filterMap
}

func filterUpper(ctx *Context, value interface{}, args Args) (interface{}, error) {
	return strings.ToUpper(Stringify(value)), nil
}

func filterLower(ctx *Context, value interface{}, args Args) (interface{}, error) {
	return strings.ToLower(Stringify(value)), nil
}

func filterTitle(ctx *Context, value interface{}, args Args) (interface{}, error) {
	return cases.Title(language.Und).String(Stringify(value)), nil
}

func filterCapitalize(ctx *Context, value interface{}, args Args) (interface{}, error) {
	s := Stringify(value)
	if s == "" {
		return s, nil
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes), nil
}

func filterTrim(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if cut, ok := args.Get(0); ok {
		chars, ok := asString(cut)
		if !ok {
			return nil, typeErrorf("trim cutset must be a string, not %s", typeName(cut))
		}
		return strings.Trim(Stringify(value), chars), nil
	}
	return strings.TrimSpace(Stringify(value)), nil
}

func filterReplace(ctx *Context, value interface{}, args Args) (interface{}, error) {
	old, ok := asString(args.GetDefault(0, nil))
	if !ok {
		return nil, typeErrorf("replace needs an old substring")
	}
	new, ok := asString(args.GetDefault(1, nil))
	if !ok {
		return nil, typeErrorf("replace needs a new substring")
	}
	return strings.ReplaceAll(Stringify(value), old, new), nil
}

func filterTruncate(ctx *Context, value interface{}, args Args) (interface{}, error) {
	limit, err := intArg(args.GetDefault(0, int64(255)), "truncate length")
	if err != nil {
		return nil, err
	}
	end, _ := asString(args.KwDefault("end", "..."))

	runes := []rune(Stringify(value))
	if int64(len(runes)) <= limit {
		return string(runes), nil
	}
	if limit < 0 {
		limit = 0
	}
	return string(runes[:limit]) + end, nil
}

// filterStriptags removes markup tags, leaving text content.
func filterStriptags(ctx *Context, value interface{}, args Args) (interface{}, error) {
	var b strings.Builder
	inTag := false
	for _, r := range Stringify(value) {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func filterEscape(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if s, ok := value.(safeString); ok {
		return s, nil
	}
	return safeString(escapeHTML(Stringify(value))), nil
}

func filterSafe(ctx *Context, value interface{}, args Args) (interface{}, error) {
	return safeString(Stringify(value)), nil
}

// filterDefault substitutes a fallback for missing values. With
// boolean=true any falsy value is replaced.
func filterDefault(ctx *Context, value interface{}, args Args) (interface{}, error) {
	fallback := args.GetDefault(0, "")
	if _, missing := value.(undefinedValue); missing || value == nil {
		return fallback, nil
	}
	if Truth(args.KwDefault("boolean", false)) && !Truth(value) {
		return fallback, nil
	}
	return value, nil
}

func filterAbs(ctx *Context, value interface{}, args Args) (interface{}, error) {
	num, ok := classifyNumber(value)
	if !ok {
		return nil, typeErrorf("abs of %s", typeName(value))
	}
	if num.isFloat() {
		return math.Abs(num.floatValue), nil
	}
	if num.intValue < 0 {
		return -num.intValue, nil
	}
	return num.intValue, nil
}

func filterRound(ctx *Context, value interface{}, args Args) (interface{}, error) {
	num, ok := classifyNumber(value)
	if !ok {
		return nil, typeErrorf("round of %s", typeName(value))
	}
	precision, err := intArg(args.GetDefault(0, int64(0)), "round precision")
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(num.floatValue*scale) / scale, nil
}

func filterInt(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if num, ok := classifyNumber(value); ok {
		return int64(num.floatValue), nil
	}
	if s, ok := asString(value); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, nil
		}
		if fl, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int64(fl), nil
		}
	}
	return args.GetDefault(0, int64(0)), nil
}

func filterFloat(ctx *Context, value interface{}, args Args) (interface{}, error) {
	if num, ok := classifyNumber(value); ok {
		return num.floatValue, nil
	}
	if s, ok := asString(value); ok {
		if fl, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return fl, nil
		}
	}
	return args.GetDefault(0, float64(0)), nil
}

func filterURLEncode(ctx *Context, value interface{}, args Args) (interface{}, error) {
	return url.QueryEscape(Stringify(value)), nil
}

// filterSlugify lowercases and joins word runs with hyphens, suitable
// for URLs and anchors.
func filterSlugify(ctx *Context, value interface{}, args Args) (interface{}, error) {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(Stringify(value)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String(), nil
}

func filterMarkdownify(ctx *Context, value interface{}, args Args) (interface{}, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(Stringify(value)), &buf); err != nil {
		return nil, &Error{Kind: ErrorKindTemplate, Message: "markdownify: " + err.Error(), Cause: err}
	}
	return safeString(strings.TrimRight(buf.String(), "\n")), nil
}

// filterDate formats a date value. The first argument is a Go reference
// layout; the locale keyword localizes month and day names.
func filterDate(ctx *Context, value interface{}, args Args) (interface{}, error) {
	t, err := asTime(value)
	if err != nil {
		return nil, err
	}
	layout, _ := asString(args.GetDefault(0, "2006-01-02"))
	if locale, ok := args.Kw("locale"); ok {
		name, ok := asString(locale)
		if !ok {
			return nil, typeErrorf("date locale must be a string, not %s", typeName(locale))
		}
		return monday.Format(t, layout, monday.Locale(name)), nil
	}
	return t.Format(layout), nil
}

func asTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		return *v, nil
	}
	if s, ok := asString(value); ok {
		t, err := dateparse.ParseAny(s)
		if err != nil {
			return time.Time{}, &Error{
				Kind:    ErrorKindType,
				Message: fmt.Sprintf("cannot parse %q as a date", s),
				Cause:   err,
			}
		}
		return t, nil
	}
	if num, ok := classifyNumber(value); ok && !num.isFloat() {
		return time.Unix(num.intValue, 0).UTC(), nil
	}
	return time.Time{}, typeErrorf("cannot interpret %s as a date", typeName(value))
}

func intArg(value interface{}, what string) (int64, error) {
	num, ok := classifyNumber(value)
	if !ok || num.isFloat() {
		return 0, typeErrorf("%s must be an integer, not %s", what, typeName(value))
	}
	return num.intValue, nil
}

func typeErrorf(format string, args ...interface{}) error {
	return &Error{Kind: ErrorKindType, Message: fmt.Sprintf(format, args...)}
}
