package runtime

import (
	"reflect"
)

func registerBuiltinTests(env *Environment) {
	t := env.tests

	t["defined"] = testDefined
	t["undefined"] = testUndefined
	t["none"] = testNone
	t["string"] = testString
	t["number"] = testNumber
	t["boolean"] = testBoolean
	t["sequence"] = testSequence
	t["mapping"] = testMapping
	t["callable"] = testCallable
	t["odd"] = testOdd
	t["even"] = testEven
	t["divisibleby"] = testDivisibleBy
	t["empty"] = testEmpty
}

func testDefined(ctx *Context, value interface{}, args Args) (bool, error) {
	_, missing := value.(undefinedValue)
	return !missing, nil
}

func testUndefined(ctx *Context, value interface{}, args Args) (bool, error) {
	_, missing := value.(undefinedValue)
	return missing, nil
}

func testNone(ctx *Context, value interface{}, args Args) (bool, error) {
	return value == nil, nil
}

func testString(ctx *Context, value interface{}, args Args) (bool, error) {
	_, ok := asString(value)
	return ok, nil
}

func testNumber(ctx *Context, value interface{}, args Args) (bool, error) {
	if _, ok := value.(bool); ok {
		return false, nil
	}
	_, ok := classifyNumber(value)
	return ok, nil
}

func testBoolean(ctx *Context, value interface{}, args Args) (bool, error) {
	_, ok := value.(bool)
	return ok, nil
}

func testSequence(ctx *Context, value interface{}, args Args) (bool, error) {
	if value == nil {
		return false, nil
	}
	if _, ok := asString(value); ok {
		return true, nil
	}
	kind := reflect.ValueOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array, nil
}

func testMapping(ctx *Context, value interface{}, args Args) (bool, error) {
	if value == nil {
		return false, nil
	}
	return reflect.ValueOf(value).Kind() == reflect.Map, nil
}

func testCallable(ctx *Context, value interface{}, args Args) (bool, error) {
	switch value.(type) {
	case *macroValue, Func, func(ctx *Context, args Args) (interface{}, error):
		return true, nil
	}
	return false, nil
}

func testOdd(ctx *Context, value interface{}, args Args) (bool, error) {
	n, err := intArg(value, "odd operand")
	if err != nil {
		return false, err
	}
	return n%2 != 0, nil
}

func testEven(ctx *Context, value interface{}, args Args) (bool, error) {
	n, err := intArg(value, "even operand")
	if err != nil {
		return false, err
	}
	return n%2 == 0, nil
}

func testDivisibleBy(ctx *Context, value interface{}, args Args) (bool, error) {
	n, err := intArg(value, "divisibleby operand")
	if err != nil {
		return false, err
	}
	by, err := intArg(args.GetDefault(0, nil), "divisibleby divisor")
	if err != nil {
		return false, err
	}
	if by == 0 {
		return false, typeErrorf("divisibleby divisor must not be zero")
	}
	return n%by == 0, nil
}

func testEmpty(ctx *Context, value interface{}, args Args) (bool, error) {
	return !Truth(value), nil
}
