package parser

import (
	"strconv"

	"github.com/lbliii/bengal-sub003/lexer"
	"github.com/lbliii/bengal-sub003/nodes"
)

// parseExpression parses a full expression. Precedence, loosest first:
// ternary, or, and, not, comparison (with is-tests), additive ("+", "-",
// "~"), multiplicative, unary sign, power, pipeline ("|>"), filter ("|"),
// postfix (call, attribute, subscript), primary.
func (p *Parser) parseExpression() (nodes.Expr, error) {
	return p.parseTernary()
}

func (p *Parser) parseTernary() (nodes.Expr, error) {
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword("if") {
		return expr, nil
	}
	tok := p.stream.Next()

	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("else"); err != nil {
		return nil, err
	}
	other, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	n := &nodes.Ternary{Test: test, True: expr, False: other}
	n.BaseNode = pos(tok)
	return n, nil
}

func (p *Parser) parseOr() (nodes.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		tok := p.stream.Next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		n := &nodes.BinaryOp{Op: "or", Left: left, Right: right}
		n.BaseNode = pos(tok)
		left = n
	}
	return left, nil
}

func (p *Parser) parseAnd() (nodes.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		tok := p.stream.Next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		n := &nodes.BinaryOp{Op: "and", Left: left, Right: right}
		n.BaseNode = pos(tok)
		left = n
	}
	return left, nil
}

func (p *Parser) parseNot() (nodes.Expr, error) {
	// "not in" belongs to the comparison level, not here.
	if p.atKeyword("not") && !(p.stream.PeekN(1).Type == lexer.TokenName && p.stream.PeekN(1).Value == "in") {
		tok := p.stream.Next()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		n := &nodes.UnaryOp{Op: "not", Expr: expr}
		n.BaseNode = pos(tok)
		return n, nil
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *Parser) parseCompare() (nodes.Expr, error) {
	left, err := p.parseComparand()
	if err != nil {
		return nil, err
	}

	var ops []nodes.CompareOp
	first := p.stream.Peek()
	for {
		tok := p.stream.Peek()
		var op string
		switch {
		case tok.Type == lexer.TokenOperator && compareOps[tok.Value]:
			op = tok.Value
			p.stream.Next()
		case tok.Type == lexer.TokenName && tok.Value == "in":
			op = "in"
			p.stream.Next()
		case tok.Type == lexer.TokenName && tok.Value == "not" &&
			p.stream.PeekN(1).Type == lexer.TokenName && p.stream.PeekN(1).Value == "in":
			op = "not in"
			p.stream.Next()
			p.stream.Next()
		default:
			if len(ops) == 0 {
				return left, nil
			}
			n := &nodes.Compare{Left: left, Ops: ops}
			n.BaseNode = pos(first)
			return n, nil
		}
		right, err := p.parseComparand()
		if err != nil {
			return nil, err
		}
		ops = append(ops, nodes.CompareOp{Op: op, Right: right})
	}
}

// parseComparand parses one comparison operand: an additive expression
// optionally refined by "is [not] <test>" applications.
func (p *Parser) parseComparand() (nodes.Expr, error) {
	expr, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("is") {
		tok := p.stream.Next()
		negated := p.skipKeyword("not")
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		n := &nodes.TestExpr{Expr: expr, Name: name.Value, Negated: negated}
		n.BaseNode = pos(tok)
		if p.atOp("(") {
			args, kwargs, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			if len(kwargs) > 0 {
				return nil, p.failf(name, "test %q does not take keyword arguments", name.Value)
			}
			n.Args = args
		}
		expr = n
	}
	return expr, nil
}

func (p *Parser) parseAdd() (nodes.Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") || p.atOp("~") {
		tok := p.stream.Next()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		n := &nodes.BinaryOp{Op: tok.Value, Left: left, Right: right}
		n.BaseNode = pos(tok)
		left = n
	}
	return left, nil
}

func (p *Parser) parseMul() (nodes.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("//") || p.atOp("%") {
		tok := p.stream.Next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n := &nodes.BinaryOp{Op: tok.Value, Left: left, Right: right}
		n.BaseNode = pos(tok)
		left = n
	}
	return left, nil
}

func (p *Parser) parseUnary() (nodes.Expr, error) {
	if p.atOp("-") || p.atOp("+") {
		tok := p.stream.Next()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n := &nodes.UnaryOp{Op: tok.Value, Expr: expr}
		n.BaseNode = pos(tok)
		return n, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (nodes.Expr, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if !p.atOp("**") {
		return left, nil
	}
	tok := p.stream.Next()
	// Right-associative: 2 ** 3 ** 2 is 2 ** (3 ** 2).
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	n := &nodes.BinaryOp{Op: "**", Left: left, Right: right}
	n.BaseNode = pos(tok)
	return n, nil
}

func (p *Parser) parsePipeline() (nodes.Expr, error) {
	input, err := p.parseFilterLevel()
	if err != nil {
		return nil, err
	}
	if !p.atOp("|>") {
		return input, nil
	}

	n := &nodes.Pipeline{Input: input}
	n.BaseNode = nodes.BaseNode{Pos: input.Position()}
	for p.atOp("|>") {
		p.stream.Next()
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		stage := &nodes.Stage{Name: name.Value}
		stage.BaseNode = pos(name)
		if p.atOp("(") {
			if stage.Args, stage.Kwargs, err = p.parseCallArgs(); err != nil {
				return nil, err
			}
		}
		n.Stages = append(n.Stages, stage)
	}
	return n, nil
}

func (p *Parser) parseFilterLevel() (nodes.Expr, error) {
	expr, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.atOp("|") {
		tok := p.stream.Next()
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		n := &nodes.Filter{Target: expr, Name: name.Value}
		n.BaseNode = pos(tok)
		if p.atOp("(") {
			if n.Args, n.Kwargs, err = p.parseCallArgs(); err != nil {
				return nil, err
			}
		}
		expr = n
	}
	return expr, nil
}

func (p *Parser) parsePostfix() (nodes.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("."):
			tok := p.stream.Next()
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			n := &nodes.Attribute{Target: expr, Name: name.Value}
			n.BaseNode = pos(tok)
			expr = n
		case p.atOp("["):
			tok := p.stream.Next()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp("]"); err != nil {
				return nil, err
			}
			n := &nodes.Subscript{Target: expr, Index: index}
			n.BaseNode = pos(tok)
			expr = n
		case p.atOp("("):
			tok := p.stream.Peek()
			args, kwargs, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			n := &nodes.Call{Target: expr, Args: args, Kwargs: kwargs}
			n.BaseNode = pos(tok)
			expr = n
		default:
			return expr, nil
		}
	}
}

// parseCallArgs consumes a parenthesized argument list. Keyword arguments
// must follow all positional ones.
func (p *Parser) parseCallArgs() ([]nodes.Expr, []nodes.Kwarg, error) {
	if _, err := p.expectOp("("); err != nil {
		return nil, nil, err
	}
	var args []nodes.Expr
	var kwargs []nodes.Kwarg
	for !p.atOp(")") {
		tok := p.stream.Peek()
		if tok.Type == lexer.TokenName &&
			p.stream.PeekN(1).Type == lexer.TokenOperator && p.stream.PeekN(1).Value == "=" {
			p.stream.Next()
			p.stream.Next()
			value, err := p.parseExpression()
			if err != nil {
				return nil, nil, err
			}
			kwargs = append(kwargs, nodes.Kwarg{Name: tok.Value, Value: value})
		} else {
			if len(kwargs) > 0 {
				return nil, nil, p.failf(tok, "positional argument follows keyword argument")
			}
			value, err := p.parseExpression()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, value)
		}
		if !p.skipOp(",") {
			break
		}
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}

func (p *Parser) parsePrimary() (nodes.Expr, error) {
	tok := p.stream.Peek()
	switch tok.Type {
	case lexer.TokenName:
		p.stream.Next()
		switch tok.Value {
		case "true", "True":
			return constAt(true, tok), nil
		case "false", "False":
			return constAt(false, tok), nil
		case "none", "None":
			return constAt(nil, tok), nil
		}
		n := &nodes.Name{Ident: tok.Value}
		n.BaseNode = pos(tok)
		return n, nil
	case lexer.TokenInteger:
		p.stream.Next()
		value, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, p.failf(tok, "invalid integer literal %q", tok.Value)
		}
		return constAt(value, tok), nil
	case lexer.TokenFloat:
		p.stream.Next()
		value, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.failf(tok, "invalid float literal %q", tok.Value)
		}
		return constAt(value, tok), nil
	case lexer.TokenString:
		p.stream.Next()
		return constAt(tok.Value, tok), nil
	case lexer.TokenOperator:
		switch tok.Value {
		case "(":
			p.stream.Next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return expr, nil
		case "[":
			return p.parseList()
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.failf(tok, "unexpected %s in expression", describe(tok))
}

func (p *Parser) parseList() (nodes.Expr, error) {
	tok := p.stream.Next() // "["
	n := &nodes.ListLiteral{}
	n.BaseNode = pos(tok)
	for !p.atOp("]") {
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, item)
		if !p.skipOp(",") {
			break
		}
	}
	if _, err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *Parser) parseDict() (nodes.Expr, error) {
	tok := p.stream.Next() // "{"
	n := &nodes.DictLiteral{}
	n.BaseNode = pos(tok)
	for !p.atOp("}") {
		key, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.Keys = append(n.Keys, key)
		n.Values = append(n.Values, value)
		if !p.skipOp(",") {
			break
		}
	}
	if _, err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return n, nil
}

func constAt(value interface{}, tok lexer.Token) *nodes.Const {
	n := &nodes.Const{Value: value}
	n.BaseNode = pos(tok)
	return n
}
