package runtime

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/lbliii/bengal-sub003/nodes"
	"github.com/lbliii/bengal-sub003/suggest"
)

// attrLookup resolves value.name against maps, structs, pointers and
// niladic methods. It reports the member names that were available so a
// miss can carry suggestions.
func attrLookup(value interface{}, name string) (interface{}, bool, []string) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case undefinedValue:
		return v, true, nil
	case map[string]interface{}:
		if item, ok := v[name]; ok {
			return item, true, nil
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		return nil, false, keys
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		if out, ok := methodLookup(rv, name); ok {
			return out, true, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			item := rv.MapIndex(reflect.ValueOf(name))
			if item.IsValid() {
				return item.Interface(), true, nil
			}
			var keys []string
			for _, k := range rv.MapKeys() {
				keys = append(keys, k.String())
			}
			return nil, false, keys
		}
	case reflect.Struct:
		field := rv.FieldByName(name)
		if !field.IsValid() {
			field = rv.FieldByName(upperFirst(name))
		}
		if field.IsValid() && field.CanInterface() {
			return field.Interface(), true, nil
		}
		if out, ok := methodLookup(rv, name); ok {
			return out, true, nil
		}
		var names []string
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() {
				names = append(names, lowerFirst(f.Name))
			}
		}
		return nil, false, names
	}
	return nil, false, nil
}

// methodLookup invokes a niladic method with a value (or value+error)
// result, the only method shape templates may call implicitly.
func methodLookup(rv reflect.Value, name string) (interface{}, bool) {
	method := rv.MethodByName(name)
	if !method.IsValid() {
		method = rv.MethodByName(upperFirst(name))
	}
	if !method.IsValid() {
		return nil, false
	}
	t := method.Type()
	if t.NumIn() != 0 || t.NumOut() < 1 || t.NumOut() > 2 {
		return nil, false
	}
	out := method.Call(nil)
	if len(out) == 2 {
		if err, ok := out[1].Interface().(error); ok && err != nil {
			return nil, false
		}
	}
	return out[0].Interface(), true
}

// itemLookup resolves value[index] for slices, arrays, strings and maps.
// Negative indexes count from the end.
func itemLookup(value, index interface{}, pos nodes.Position) (interface{}, bool, error) {
	if isUndefined(value) {
		return value, true, nil
	}

	if n, ok := classifyNumber(index); ok && !n.isFloat() {
		i := n.intValue
		switch v := value.(type) {
		case string:
			return runeAt(v, i)
		case safeString:
			return runeAt(string(v), i)
		}
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if i < 0 {
				i += int64(rv.Len())
			}
			if i < 0 || i >= int64(rv.Len()) {
				return nil, false, nil
			}
			return rv.Index(int(i)).Interface(), true, nil
		}
	}

	switch v := value.(type) {
	case map[string]interface{}:
		if key, ok := asString(index); ok {
			item, ok := v[key]
			return item, ok, nil
		}
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map {
		key := reflect.ValueOf(index)
		if key.IsValid() && key.Type().AssignableTo(rv.Type().Key()) {
			item := rv.MapIndex(key)
			if item.IsValid() {
				return item.Interface(), true, nil
			}
			return nil, false, nil
		}
	}
	return nil, false, NewError(ErrorKindType,
		fmt.Sprintf("%s is not subscriptable with %s", typeName(value), typeName(index)), pos)
}

func runeAt(s string, i int64) (interface{}, bool, error) {
	runes := []rune(s)
	if i < 0 {
		i += int64(len(runes))
	}
	if i < 0 || i >= int64(len(runes)) {
		return nil, false, nil
	}
	return string(runes[i]), true, nil
}

// rankMembers orders near-miss member names for an attribute error.
func rankMembers(name string, candidates []string) []string {
	return suggest.Closest(name, candidates)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
