package runtime

// undefinedValue is the sentinel a lenient environment substitutes for a
// read of an unbound name or missing attribute. It renders as the empty
// string, is falsy, iterates as empty, and propagates through attribute
// access. The default filter and the defined/undefined tests inspect it.
type undefinedValue struct {
	name string
}

// Name returns the identifier whose lookup produced this value.
func (u undefinedValue) Name() string {
	return u.name
}

func (u undefinedValue) String() string {
	return ""
}

func isUndefined(value interface{}) bool {
	_, ok := value.(undefinedValue)
	return ok
}
