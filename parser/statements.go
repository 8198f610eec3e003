package parser

import (
	"github.com/lbliii/bengal-sub003/lexer"
	"github.com/lbliii/bengal-sub003/nodes"
)

// terminatorTags are names that only ever close or branch an open
// construct. Seeing one outside its construct is reported as unexpected,
// not unknown.
var terminatorTags = map[string]bool{
	"end": true, "elif": true, "else": true, "empty": true,
	"endif": true, "endfor": true, "endblock": true, "enddef": true,
	"endwith": true, "endcall": true, "endcache": true,
}

// subparse parses statements until EOF or until a statement tag whose name
// is listed in stops. On a stop it consumes the block-start and the name
// token, leaving the tag's remainder for the caller, and returns the name.
func (p *Parser) subparse(stops []string) ([]nodes.Stmt, string, error) {
	body := []nodes.Stmt{}
	for {
		tok := p.stream.Peek()
		switch tok.Type {
		case lexer.TokenEOF:
			if len(p.open) > 0 {
				return nil, "", p.failUnclosed()
			}
			return body, "", nil
		case lexer.TokenText:
			p.stream.Next()
			if tok.Value != "" {
				t := &nodes.Text{Data: tok.Value}
				t.BaseNode = pos(tok)
				body = append(body, t)
			}
		case lexer.TokenVariableStart:
			start := p.stream.Next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, "", err
			}
			if end := p.stream.Peek(); end.Type != lexer.TokenVariableEnd {
				return nil, "", p.failf(end, "expected %q, got %s", lexer.VariableEnd, describe(end))
			}
			p.stream.Next()
			out := &nodes.Output{Expr: expr}
			out.BaseNode = pos(start)
			body = append(body, out)
		case lexer.TokenBlockStart:
			name := p.stream.PeekN(1)
			if name.Type == lexer.TokenName && contains(stops, name.Value) {
				p.stream.Next()
				p.stream.Next()
				return body, name.Value, nil
			}
			stmt, err := p.parseStatement()
			if err != nil {
				return nil, "", err
			}
			body = append(body, stmt)
		default:
			return nil, "", p.failf(tok, "unexpected %s", describe(tok))
		}
	}
}

// parseStatement parses one full {% ... %} statement, block-start through
// the matching terminator for block constructs.
func (p *Parser) parseStatement() (nodes.Stmt, error) {
	p.stream.Next() // block start
	tok := p.stream.Peek()
	if tok.Type != lexer.TokenName {
		return nil, p.failf(tok, "expected a tag name, got %s", describe(tok))
	}
	p.stream.Next()

	switch tok.Value {
	case "if":
		return p.parseIf(tok)
	case "for":
		return p.parseFor(tok)
	case "set":
		return p.parseSet(tok)
	case "with":
		return p.parseWith(tok)
	case "block":
		return p.parseBlock(tok)
	case "extends":
		return p.parseExtends(tok)
	case "include":
		return p.parseInclude(tok)
	case "def":
		return p.parseDef(tok)
	case "call":
		return p.parseCall(tok)
	case "cache":
		return p.parseCache(tok)
	case "type":
		return p.parseType(tok)
	case "break":
		if p.loopDepth == 0 {
			return nil, p.failf(tok, "break outside of a loop")
		}
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		n := &nodes.Break{}
		n.BaseNode = pos(tok)
		return n, nil
	case "continue":
		if p.loopDepth == 0 {
			return nil, p.failf(tok, "continue outside of a loop")
		}
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		n := &nodes.Continue{}
		n.BaseNode = pos(tok)
		return n, nil
	}

	if terminatorTags[tok.Value] {
		if len(p.open) > 0 {
			top := p.open[len(p.open)-1]
			return nil, p.failf(tok, "unexpected {%% %s %%} inside {%% %s %%} opened at line %d, column %d",
				tok.Value, top.name, top.line, top.column)
		}
		return nil, p.failf(tok, "unexpected {%% %s %%}, no open construct", tok.Value)
	}
	return nil, p.failUnknownTag(tok)
}

// closers returns the terminator names valid for the given opener: the
// generic "end" plus the specific "end<name>" form.
func closers(name string, branches ...string) []string {
	stops := append([]string{}, branches...)
	return append(stops, "end", "end"+name)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (p *Parser) parseIf(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("if", tok)
	defer p.popOpen()

	root := &nodes.If{}
	root.BaseNode = pos(tok)

	test, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	root.Test = test
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	current := root
	for {
		body, stop, err := p.subparse(closers("if", "elif", "else"))
		if err != nil {
			return nil, err
		}
		current.Body = body

		switch stop {
		case "elif":
			branch := &nodes.If{}
			branch.BaseNode = pos(p.stream.Peek())
			branch.Test, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectBlockEnd(); err != nil {
				return nil, err
			}
			root.Elif = append(root.Elif, branch)
			current = branch
		case "else":
			if err := p.expectBlockEnd(); err != nil {
				return nil, err
			}
			root.Else, stop, err = p.subparse(closers("if"))
			if err != nil {
				return nil, err
			}
			return root, p.expectBlockEnd()
		default:
			return root, p.expectBlockEnd()
		}
	}
}

func (p *Parser) parseFor(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("for", tok)
	defer p.popOpen()

	n := &nodes.For{}
	n.BaseNode = pos(tok)

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.Var = name.Value
	if p.skipOp(",") {
		second, err := p.expectName()
		if err != nil {
			return nil, err
		}
		n.SecondVar = second.Value
	}
	if _, err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	if n.Iter, err = p.parseExpression(); err != nil {
		return nil, err
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	p.loopDepth++
	body, stop, err := p.subparse(closers("for", "empty"))
	p.loopDepth--
	if err != nil {
		return nil, err
	}
	n.Body = body

	if stop == "empty" {
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		if n.Empty, _, err = p.subparse(closers("for")); err != nil {
			return nil, err
		}
	}
	return n, p.expectBlockEnd()
}

func (p *Parser) parseSet(tok lexer.Token) (nodes.Stmt, error) {
	n := &nodes.Set{}
	n.BaseNode = pos(tok)

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.Name = name.Value
	if _, err := p.expectOp("="); err != nil {
		return nil, err
	}
	if n.Value, err = p.parseExpression(); err != nil {
		return nil, err
	}
	return n, p.expectBlockEnd()
}

func (p *Parser) parseWith(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("with", tok)
	defer p.popOpen()

	n := &nodes.With{}
	n.BaseNode = pos(tok)

	for {
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("="); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.Names = append(n.Names, name.Value)
		n.Values = append(n.Values, value)
		if !p.skipOp(",") {
			break
		}
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	body, _, err := p.subparse(closers("with"))
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectBlockEnd()
}

func (p *Parser) parseBlock(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("block", tok)
	defer p.popOpen()

	n := &nodes.Block{}
	n.BaseNode = pos(tok)

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.Name = name.Value
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	body, _, err := p.subparse(closers("block"))
	if err != nil {
		return nil, err
	}
	n.Body = body

	// "{% endblock name %}" may repeat the block name.
	if p.atKeyword(n.Name) {
		p.stream.Next()
	}
	return n, p.expectBlockEnd()
}

func (p *Parser) parseExtends(tok lexer.Token) (nodes.Stmt, error) {
	n := &nodes.Extends{}
	n.BaseNode = pos(tok)

	target, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, ok := target.(*nodes.Const); !ok {
		return nil, p.failf(tok, "extends target must be a constant string")
	}
	n.Target = target
	return n, p.expectBlockEnd()
}

func (p *Parser) parseInclude(tok lexer.Token) (nodes.Stmt, error) {
	n := &nodes.Include{}
	n.BaseNode = pos(tok)

	target, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	n.Target = target
	return n, p.expectBlockEnd()
}

func (p *Parser) parseDef(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("def", tok)
	defer p.popOpen()

	n := &nodes.Def{}
	n.BaseNode = pos(tok)

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.Name = name.Value
	if _, err := p.expectOp("("); err != nil {
		return nil, err
	}
	seenDefault := false
	for !p.atOp(")") {
		param, err := p.expectName()
		if err != nil {
			return nil, err
		}
		var def nodes.Expr
		if p.skipOp("=") {
			if def, err = p.parseExpression(); err != nil {
				return nil, err
			}
			seenDefault = true
		} else if seenDefault {
			return nil, p.failf(param, "parameter %q without a default follows one with a default", param.Value)
		}
		n.Params = append(n.Params, nodes.Param{Name: param.Value, Default: def})
		if !p.skipOp(",") {
			break
		}
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	// break/continue inside a def body bind to the def's own loops only.
	outerDepth := p.loopDepth
	p.loopDepth = 0
	body, _, err := p.subparse(closers("def"))
	p.loopDepth = outerDepth
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectBlockEnd()
}

func (p *Parser) parseCall(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("call", tok)
	defer p.popOpen()

	n := &nodes.CallBlock{}
	n.BaseNode = pos(tok)

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	call, ok := expr.(*nodes.Call)
	if !ok {
		return nil, p.failf(tok, "call tag requires a call expression")
	}
	n.Call = call
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	outerDepth := p.loopDepth
	p.loopDepth = 0
	body, _, err := p.subparse(closers("call"))
	p.loopDepth = outerDepth
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectBlockEnd()
}

func (p *Parser) parseCache(tok lexer.Token) (nodes.Stmt, error) {
	p.pushOpen("cache", tok)
	defer p.popOpen()

	n := &nodes.Cache{}
	n.BaseNode = pos(tok)

	key, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	n.Key = key

	for p.stream.Peek().Type == lexer.TokenName {
		opt := p.stream.Next()
		if _, err := p.expectOp("="); err != nil {
			return nil, err
		}
		value, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		switch opt.Value {
		case "ttl":
			n.TTL = value
		case "vary":
			n.Vary = append(n.Vary, value)
		default:
			return nil, p.failf(opt, "unknown cache option %q", opt.Value)
		}
		if !p.skipOp(",") {
			break
		}
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	body, _, err := p.subparse(closers("cache"))
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectBlockEnd()
}

func (p *Parser) parseType(tok lexer.Token) (nodes.Stmt, error) {
	n := &nodes.TypeDecl{}
	n.BaseNode = pos(tok)

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.Name = name.Value
	if _, err := p.expectOp(":"); err != nil {
		return nil, err
	}
	typeName, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n.TypeName = typeName.Value
	for p.skipOp(".") {
		part, err := p.expectName()
		if err != nil {
			return nil, err
		}
		n.TypeName += "." + part.Value
	}
	return n, p.expectBlockEnd()
}
