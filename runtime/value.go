package runtime

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/lbliii/bengal-sub003/nodes"
)

// safeString marks a value as pre-escaped markup that autoescaping must
// pass through verbatim. Produced by the safe filter and by filters that
// emit markup themselves.
type safeString string

// Truth reports template truthiness: false, nil, undefined, zero, the
// empty string and empty collections are false; everything else is true.
func Truth(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case undefinedValue:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case safeString:
		return v != ""
	}
	if n, ok := classifyNumber(value); ok {
		return !n.isZero()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Stringify renders a value the way output statements print it: nil and
// undefined are empty, floats use the shortest round-trip form, lists and
// maps print with deterministic ordering.
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case undefinedValue:
		return ""
	case safeString:
		return string(v)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	if n, ok := classifyNumber(value); ok {
		if n.isFloat() {
			return strconv.FormatFloat(n.floatValue, 'g', -1, 64)
		}
		return strconv.FormatInt(n.intValue, 10)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = Stringify(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		keys := sortedMapKeys(rv)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, Stringify(k.Interface())+": "+Stringify(rv.MapIndex(k).Interface()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("%v", value)
}

// escapeHTML replaces the five characters significant to HTML.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// numberKind distinguishes integer from floating arithmetic so integer
// operations stay exact.
type numberKind int

const (
	numberInteger numberKind = iota
	numberFloat
)

type numberValue struct {
	kind       numberKind
	intValue   int64
	floatValue float64
}

func classifyNumber(value interface{}) (numberValue, bool) {
	switch v := value.(type) {
	case int:
		return numberValue{kind: numberInteger, intValue: int64(v), floatValue: float64(v)}, true
	case int8:
		return numberValue{kind: numberInteger, intValue: int64(v), floatValue: float64(v)}, true
	case int16:
		return numberValue{kind: numberInteger, intValue: int64(v), floatValue: float64(v)}, true
	case int32:
		return numberValue{kind: numberInteger, intValue: int64(v), floatValue: float64(v)}, true
	case int64:
		return numberValue{kind: numberInteger, intValue: v, floatValue: float64(v)}, true
	case uint:
		return classifyUnsigned(uint64(v))
	case uint8:
		return classifyUnsigned(uint64(v))
	case uint16:
		return classifyUnsigned(uint64(v))
	case uint32:
		return classifyUnsigned(uint64(v))
	case uint64:
		return classifyUnsigned(v)
	case float32:
		return numberValue{kind: numberFloat, floatValue: float64(v)}, true
	case float64:
		return numberValue{kind: numberFloat, floatValue: v}, true
	}
	return numberValue{}, false
}

func classifyUnsigned(v uint64) (numberValue, bool) {
	if v <= uint64(math.MaxInt64) {
		i := int64(v)
		return numberValue{kind: numberInteger, intValue: i, floatValue: float64(i)}, true
	}
	return numberValue{kind: numberFloat, floatValue: float64(v)}, true
}

func (n numberValue) isFloat() bool {
	return n.kind == numberFloat
}

func (n numberValue) isZero() bool {
	if n.kind == numberFloat {
		return n.floatValue == 0
	}
	return n.intValue == 0
}

// applyBinary evaluates an arithmetic or concatenation operator. Integer
// operands stay integral except under "/", which always divides as
// floats; "~" concatenates stringified operands.
func applyBinary(op string, left, right interface{}, pos nodes.Position) (interface{}, error) {
	if op == "~" {
		return Stringify(left) + Stringify(right), nil
	}

	if ls, ok := asString(left); ok {
		if op == "+" {
			if rs, ok := asString(right); ok {
				return ls + rs, nil
			}
		}
		if op == "*" {
			if rn, ok := classifyNumber(right); ok && !rn.isFloat() && rn.intValue >= 0 {
				return strings.Repeat(ls, int(rn.intValue)), nil
			}
		}
		return nil, NewError(ErrorKindType, fmt.Sprintf("unsupported operation: string %s %s", op, typeName(right)), pos)
	}

	ln, lok := classifyNumber(left)
	rn, rok := classifyNumber(right)
	if !lok || !rok {
		return nil, NewError(ErrorKindType,
			fmt.Sprintf("unsupported operand types for %s: %s and %s", op, typeName(left), typeName(right)), pos)
	}

	if !ln.isFloat() && !rn.isFloat() {
		a, b := ln.intValue, rn.intValue
		switch op {
		case "+":
			return a + b, nil
		case "-":
			return a - b, nil
		case "*":
			return a * b, nil
		case "/":
			if b == 0 {
				return nil, NewError(ErrorKindType, "division by zero", pos)
			}
			return float64(a) / float64(b), nil
		case "//":
			if b == 0 {
				return nil, NewError(ErrorKindType, "division by zero", pos)
			}
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return q, nil
		case "%":
			if b == 0 {
				return nil, NewError(ErrorKindType, "division by zero", pos)
			}
			return ((a % b) + b) % b, nil
		case "**":
			if b >= 0 {
				return intPow(a, b), nil
			}
			return math.Pow(float64(a), float64(b)), nil
		}
	}

	a, b := ln.floatValue, rn.floatValue
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, NewError(ErrorKindType, "division by zero", pos)
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return nil, NewError(ErrorKindType, "division by zero", pos)
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return nil, NewError(ErrorKindType, "division by zero", pos)
		}
		return math.Mod(math.Mod(a, b)+b, b), nil
	case "**":
		return math.Pow(a, b), nil
	}
	return nil, NewError(ErrorKindType, fmt.Sprintf("unknown operator %q", op), pos)
}

func intPow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// compareValues evaluates one comparison link. Numbers compare
// numerically across integer/float kinds; strings lexicographically; "in"
// checks membership in strings, slices and map keys.
func compareValues(op string, left, right interface{}, pos nodes.Position) (bool, error) {
	switch op {
	case "in", "not in":
		found, err := contains(right, left, pos)
		if err != nil {
			return false, err
		}
		if op == "not in" {
			return !found, nil
		}
		return found, nil
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	}

	if ln, ok := classifyNumber(left); ok {
		if rn, ok := classifyNumber(right); ok {
			a, b := ln.floatValue, rn.floatValue
			switch op {
			case "<":
				return a < b, nil
			case "<=":
				return a <= b, nil
			case ">":
				return a > b, nil
			case ">=":
				return a >= b, nil
			}
		}
	}
	if ls, ok := asString(left); ok {
		if rs, ok := asString(right); ok {
			switch op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	return false, NewError(ErrorKindType,
		fmt.Sprintf("cannot order %s and %s", typeName(left), typeName(right)), pos)
}

// valuesEqual compares for equality with numeric coercion across kinds.
func valuesEqual(left, right interface{}) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if isUndefined(left) || isUndefined(right) {
		return isUndefined(left) && isUndefined(right)
	}
	if ln, ok := classifyNumber(left); ok {
		if rn, ok := classifyNumber(right); ok {
			if !ln.isFloat() && !rn.isFloat() {
				return ln.intValue == rn.intValue
			}
			return ln.floatValue == rn.floatValue
		}
		return false
	}
	if ls, ok := asString(left); ok {
		rs, ok := asString(right)
		return ok && ls == rs
	}
	return reflect.DeepEqual(left, right)
}

func contains(container, item interface{}, pos nodes.Position) (bool, error) {
	switch c := container.(type) {
	case string:
		if s, ok := asString(item); ok {
			return strings.Contains(c, s), nil
		}
		return false, NewError(ErrorKindType, "membership test on a string requires a string operand", pos)
	case safeString:
		return contains(string(c), item, pos)
	}

	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if valuesEqual(rv.Index(i).Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			if valuesEqual(k.Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, NewError(ErrorKindType,
		fmt.Sprintf("%s is not a container", typeName(container)), pos)
}

type iterPair struct {
	key   interface{}
	value interface{}
}

// materialize turns a value into ordered (key, value) pairs for loop
// execution. Maps iterate in sorted key order so renders are
// deterministic; strings iterate by rune.
func materialize(value interface{}, pos nodes.Position) ([]iterPair, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case undefinedValue:
		return nil, nil
	case string:
		var pairs []iterPair
		for i, r := range []rune(v) {
			pairs = append(pairs, iterPair{key: int64(i), value: string(r)})
		}
		return pairs, nil
	case safeString:
		return materialize(string(v), pos)
	case []interface{}:
		pairs := make([]iterPair, len(v))
		for i, item := range v {
			pairs[i] = iterPair{key: int64(i), value: item}
		}
		return pairs, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]iterPair, len(keys))
		for i, k := range keys {
			pairs[i] = iterPair{key: k, value: v[k]}
		}
		return pairs, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		pairs := make([]iterPair, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			pairs[i] = iterPair{key: int64(i), value: rv.Index(i).Interface()}
		}
		return pairs, nil
	case reflect.Map:
		keys := sortedMapKeys(rv)
		pairs := make([]iterPair, len(keys))
		for i, k := range keys {
			pairs[i] = iterPair{key: k.Interface(), value: rv.MapIndex(k).Interface()}
		}
		return pairs, nil
	}
	return nil, NewError(ErrorKindType,
		fmt.Sprintf("%s is not iterable", typeName(value)), pos)
}

func sortedMapKeys(rv reflect.Value) []reflect.Value {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return Stringify(keys[i].Interface()) < Stringify(keys[j].Interface())
	})
	return keys
}

func asString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case safeString:
		return string(v), true
	}
	return "", false
}

func typeName(value interface{}) string {
	switch value.(type) {
	case nil:
		return "none"
	case undefinedValue:
		return "undefined"
	case safeString:
		return "string"
	}
	return reflect.TypeOf(value).Kind().String()
}
