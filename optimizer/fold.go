package optimizer

import (
	"strconv"
	"strings"

	"github.com/lbliii/bengal-sub003/nodes"
)

// truth reports the truthiness of a constant: false, nil, zero, the empty
// string and empty collections are false. Matches the runtime's rule.
func truth(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// foldUnary evaluates a prefix operator over a constant. The second
// result is false when the operation is left for the runtime.
func foldUnary(op string, v interface{}) (interface{}, bool) {
	switch op {
	case "not":
		return !truth(v), true
	case "-":
		switch x := v.(type) {
		case int64:
			return -x, true
		case float64:
			return -x, true
		}
	case "+":
		switch v.(type) {
		case int64, float64:
			return v, true
		}
	}
	return nil, false
}

// foldBinary evaluates an arithmetic or concatenation operator over two
// constants. Division by a zero constant is not folded so the runtime
// reports it with render context.
func foldBinary(op string, l, r interface{}) (interface{}, bool) {
	if op == "~" {
		ls, lok := constString(l)
		rs, rok := constString(r)
		if lok && rok {
			return ls + rs, true
		}
		return nil, false
	}

	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok && op == "+" {
			return ls + rs, true
		}
		return nil, false
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, true
		case "-":
			return li - ri, true
		case "*":
			return li * ri, true
		case "/":
			if ri != 0 {
				return float64(li) / float64(ri), true
			}
		case "//":
			if ri != 0 {
				return floorDiv(li, ri), true
			}
		case "%":
			if ri != 0 {
				return ((li % ri) + ri) % ri, true
			}
		}
		return nil, false
	}

	lf, lok := constFloat(l)
	rf, rok := constFloat(r)
	if !lok || !rok {
		return nil, false
	}
	switch op {
	case "+":
		return lf + rf, true
	case "-":
		return lf - rf, true
	case "*":
		return lf * rf, true
	case "/":
		if rf != 0 {
			return lf / rf, true
		}
	}
	return nil, false
}

// foldCompare evaluates a comparison chain whose operands are all
// constants. Chains mixing incomparable types are left for the runtime to
// report.
func foldCompare(left interface{}, ops []nodes.CompareOp) (interface{}, bool) {
	for _, op := range ops {
		right := op.Right.(*nodes.Const).Value
		result, ok := compareConst(op.Op, left, right)
		if !ok {
			return nil, false
		}
		if !result {
			return false, true
		}
		left = right
	}
	return true, true
}

func compareConst(op string, l, r interface{}) (bool, bool) {
	if lf, ok := constFloat(l); ok {
		rf, ok := constFloat(r)
		if !ok {
			return false, false
		}
		switch op {
		case "==":
			return lf == rf, true
		case "!=":
			return lf != rf, true
		case "<":
			return lf < rf, true
		case "<=":
			return lf <= rf, true
		case ">":
			return lf > rf, true
		case ">=":
			return lf >= rf, true
		}
		return false, false
	}
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return false, false
		}
		switch op {
		case "==":
			return ls == rs, true
		case "!=":
			return ls != rs, true
		case "<":
			return ls < rs, true
		case "<=":
			return ls <= rs, true
		case ">":
			return ls > rs, true
		case ">=":
			return ls >= rs, true
		case "in":
			return strings.Contains(rs, ls), true
		case "not in":
			return !strings.Contains(rs, ls), true
		}
		return false, false
	}
	if lb, ok := l.(bool); ok {
		rb, ok := r.(bool)
		if !ok {
			return false, false
		}
		switch op {
		case "==":
			return lb == rb, true
		case "!=":
			return lb != rb, true
		}
	}
	return false, false
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func constFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// constString renders a constant the way the runtime prints it; nil is
// excluded so "~" with a null operand keeps its runtime diagnostics.
func constString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}
