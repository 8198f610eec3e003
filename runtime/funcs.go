package runtime

import (
	"time"
)

func registerBuiltinFuncs(env *Environment) {
	f := env.funcs

	f["range"] = funcRange
	f["dict"] = funcDict
	f["cycle"] = funcCycle
	f["now"] = funcNow
	f["super"] = funcSuper
	f["caller"] = funcCaller
}

// funcRange builds [start, stop) stepping by step. With one argument it
// counts from zero.
func funcRange(ctx *Context, args Args) (interface{}, error) {
	var start, stop, step int64
	step = 1
	switch args.Len() {
	case 1:
		n, err := intArg(args.Positional[0], "range stop")
		if err != nil {
			return nil, err
		}
		stop = n
	case 2, 3:
		a, err := intArg(args.Positional[0], "range start")
		if err != nil {
			return nil, err
		}
		b, err := intArg(args.Positional[1], "range stop")
		if err != nil {
			return nil, err
		}
		start, stop = a, b
		if args.Len() == 3 {
			step, err = intArg(args.Positional[2], "range step")
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, typeErrorf("range takes 1 to 3 arguments, got %d", args.Len())
	}
	if step == 0 {
		return nil, typeErrorf("range step must not be zero")
	}

	var out []interface{}
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

func funcDict(ctx *Context, args Args) (interface{}, error) {
	out := make(map[string]interface{}, len(args.Keyword))
	for name, value := range args.Keyword {
		out[name] = value
	}
	return out, nil
}

// funcCycle returns its arguments in rotation keyed by the enclosing
// loop's index.
func funcCycle(ctx *Context, args Args) (interface{}, error) {
	if args.Len() == 0 {
		return nil, typeErrorf("cycle needs at least one value")
	}
	loopValue, ok := ctx.scope.Lookup("loop")
	if !ok {
		return nil, &Error{Kind: ErrorKindTemplate, Message: "cycle() used outside a for loop"}
	}
	info, ok := loopValue.(*LoopInfo)
	if !ok {
		return nil, &Error{Kind: ErrorKindTemplate, Message: "cycle() used outside a for loop"}
	}
	return args.Positional[info.Index0%args.Len()], nil
}

func funcNow(ctx *Context, args Args) (interface{}, error) {
	return time.Now(), nil
}

// funcSuper renders the next ancestor's definition of the block being
// overridden.
func funcSuper(ctx *Context, args Args) (interface{}, error) {
	if len(ctx.blockStack) == 0 {
		return nil, &Error{Kind: ErrorKindTemplate, Message: "super() used outside a block"}
	}
	frame := ctx.blockStack[len(ctx.blockStack)-1]
	out, err := ctx.capture(func() error {
		return renderBlockAt(ctx, frame.name, frame.depth+1)
	})
	if err != nil {
		return nil, err
	}
	return safeString(out), nil
}

// funcCaller renders the body of the enclosing call block.
func funcCaller(ctx *Context, args Args) (interface{}, error) {
	fn, ok := ctx.currentCaller()
	if !ok {
		return nil, &Error{Kind: ErrorKindTemplate, Message: "caller() used outside a call block"}
	}
	out, err := fn()
	if err != nil {
		return nil, err
	}
	return safeString(out), nil
}
