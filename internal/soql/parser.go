package soql

import (
	"fmt"
	"strconv"
	"strings"
)

// reserved words never taken as an alias.
var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "WITH": true, "GROUP": true,
	"HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true, "FOR": true,
	"AND": true, "OR": true, "NOT": true, "ASC": true, "DESC": true, "NULLS": true,
	"TYPEOF": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true, "BY": true,
}

// Parse parses a single SELECT statement. Malformed input returns a
// *SyntaxError.
func Parse(text string) (*Query, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	query, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.check(TokenEOF) {
		return nil, p.errorf("unexpected %s after end of query", describeToken(p.peek()))
	}
	return query, nil
}

type parser struct {
	tokens  []Token
	current int
	// depth counts parentheses opened inside the current WHERE/HAVING chain.
	depth int
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	query := &Query{}

	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	query.Fields = fields

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.expect(TokenIdent, "object name")
	if err != nil {
		return nil, err
	}
	query.From = from.Lexeme

	if p.matchKeyword("WHERE") {
		if query.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("WITH") {
		if err := p.expectKeyword("SECURITY_ENFORCED"); err != nil {
			return nil, err
		}
		query.WithSecurityEnforced = true
	}
	if p.matchKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if query.GroupBy, err = p.parseGroupBy(); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("HAVING") {
		if query.Having, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if query.OrderBy, err = p.parseOrderBy(); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("LIMIT") {
		if query.Limit, err = p.parseInt("LIMIT"); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("OFFSET") {
		if query.Offset, err = p.parseInt("OFFSET"); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("FOR") {
		mode, err := p.expect(TokenIdent, "VIEW, REFERENCE or UPDATE")
		if err != nil {
			return nil, err
		}
		query.For = strings.ToUpper(mode.Lexeme)
	}
	return query, nil
}

func (p *parser) parseFieldList() ([]Field, error) {
	var fields []Field
	for {
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		if !p.match(TokenComma) {
			return fields, nil
		}
	}
}

func (p *parser) parseField() (Field, error) {
	if p.match(TokenLParen) {
		saved := p.depth
		p.depth = 0
		sub, err := p.parseQuery()
		p.depth = saved
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')' after sub-select"); err != nil {
			return nil, err
		}
		return &FieldSubquery{Query: sub}, nil
	}

	if p.peek().is("TYPEOF") && p.peekAt(1).Type == TokenIdent {
		p.advance()
		return p.parseTypeof()
	}

	name, err := p.expect(TokenIdent, "field")
	if err != nil {
		return nil, err
	}
	if p.check(TokenLParen) {
		fn, err := p.parseFunction(name.Lexeme)
		if err != nil {
			return nil, err
		}
		fn.Alias = p.parseAlias()
		return fn, nil
	}

	alias := p.parseAlias()
	if idx := strings.LastIndex(name.Lexeme, "."); idx >= 0 {
		return &FieldRelationship{
			Relationships: strings.Split(name.Lexeme[:idx], "."),
			Name:          name.Lexeme[idx+1:],
			Alias:         alias,
		}, nil
	}
	return &FieldName{Name: name.Lexeme, Alias: alias}, nil
}

func (p *parser) parseAlias() string {
	tok := p.peek()
	if tok.Type != TokenIdent || reserved[strings.ToUpper(tok.Lexeme)] {
		return ""
	}
	p.advance()
	return tok.Lexeme
}

// parseFunction parses name(args...). The opening parenthesis has not been
// consumed yet.
func (p *parser) parseFunction(name string) (*FieldFunction, error) {
	p.advance()
	fn := &FieldFunction{Function: name}
	if p.match(TokenRParen) {
		return fn, nil
	}
	for {
		tok := p.advance()
		switch tok.Type {
		case TokenIdent:
			if p.check(TokenLParen) {
				nested, err := p.parseFunction(tok.Lexeme)
				if err != nil {
					return nil, err
				}
				fn.Args = append(fn.Args, FunctionArg{Nested: nested})
			} else {
				fn.Args = append(fn.Args, FunctionArg{Field: tok.Lexeme})
			}
		case TokenString, TokenNumber:
			fn.Args = append(fn.Args, FunctionArg{Literal: tok.Lexeme})
		default:
			return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("expected function argument, found %s", describeToken(tok))}
		}
		if p.match(TokenComma) {
			continue
		}
		if _, err := p.expect(TokenRParen, fmt.Sprintf("')' after %s arguments", name)); err != nil {
			return nil, err
		}
		return fn, nil
	}
}

func (p *parser) parseTypeof() (Field, error) {
	rel, err := p.expect(TokenIdent, "relationship name after TYPEOF")
	if err != nil {
		return nil, err
	}
	field := &FieldTypeof{Relationship: rel.Lexeme}
	for {
		switch {
		case p.matchKeyword("WHEN"):
			objectType, err := p.expect(TokenIdent, "object type after WHEN")
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("THEN"); err != nil {
				return nil, err
			}
			names, err := p.parseNameList()
			if err != nil {
				return nil, err
			}
			field.Conditions = append(field.Conditions, TypeofCondition{ObjectType: objectType.Lexeme, Fields: names})
		case p.matchKeyword("ELSE"):
			names, err := p.parseNameList()
			if err != nil {
				return nil, err
			}
			field.Conditions = append(field.Conditions, TypeofCondition{Else: true, Fields: names})
		case p.matchKeyword("END"):
			if len(field.Conditions) == 0 {
				return nil, p.errorf("TYPEOF %s has no WHEN branch", rel.Lexeme)
			}
			return field, nil
		default:
			return nil, p.errorf("expected WHEN, ELSE or END, found %s", describeToken(p.peek()))
		}
	}
}

func (p *parser) parseNameList() ([]string, error) {
	var names []string
	for {
		name, err := p.expect(TokenIdent, "field name")
		if err != nil {
			return nil, err
		}
		names = append(names, name.Lexeme)
		if !p.match(TokenComma) {
			return names, nil
		}
	}
}

// parseExpression parses a WHERE or HAVING expression into a WhereClause
// chain.
func (p *parser) parseExpression() (*WhereClause, error) {
	chain, err := p.parseChain()
	if err != nil {
		return nil, err
	}
	if p.depth > 0 {
		return nil, p.errorf("expected ')', found %s", describeToken(p.peek()))
	}
	return chain, nil
}

func (p *parser) parseChain() (*WhereClause, error) {
	opens := 0
	for p.match(TokenLParen) {
		opens++
	}
	p.depth += opens

	if p.matchKeyword("NOT") {
		wrapper := &WhereClause{Operator: LogicalNot}
		if opens > 0 {
			wrapper.Left = &Condition{OpenParen: opens}
		}
		right, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		wrapper.Right = right
		return wrapper, nil
	}

	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	cond.OpenParen = opens
	for p.depth > 0 && p.check(TokenRParen) {
		p.advance()
		p.depth--
		cond.CloseParen++
	}

	link := &WhereClause{Left: cond}
	switch {
	case p.matchKeyword("AND"):
		link.Operator = LogicalAnd
	case p.matchKeyword("OR"):
		link.Operator = LogicalOr
	default:
		return link, nil
	}
	if link.Right, err = p.parseChain(); err != nil {
		return nil, err
	}
	return link, nil
}

func (p *parser) parseCondition() (*Condition, error) {
	name, err := p.expect(TokenIdent, "field in condition")
	if err != nil {
		return nil, err
	}
	cond := &Condition{}
	if p.check(TokenLParen) {
		if cond.Function, err = p.parseFunction(name.Lexeme); err != nil {
			return nil, err
		}
	} else {
		cond.Field = name.Lexeme
	}

	op := p.advance()
	switch {
	case op.Type == TokenOperator:
		cond.Operator = op.Lexeme
	case op.is("LIKE"), op.is("IN"), op.is("INCLUDES"), op.is("EXCLUDES"):
		cond.Operator = strings.ToUpper(op.Lexeme)
	case op.is("NOT") && p.peek().is("IN"):
		p.advance()
		cond.Operator = "NOT IN"
	default:
		return nil, &SyntaxError{Pos: op.Pos, Message: fmt.Sprintf("expected comparison operator, found %s", describeToken(op))}
	}

	if isListOperator(cond.Operator) {
		return cond, p.parseListValue(cond)
	}
	value, literalType, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	cond.Value = value
	cond.LiteralType = literalType
	return cond, nil
}

func isListOperator(op string) bool {
	switch op {
	case "IN", "NOT IN", "INCLUDES", "EXCLUDES":
		return true
	}
	return false
}

func (p *parser) parseListValue(cond *Condition) error {
	if _, err := p.expect(TokenLParen, fmt.Sprintf("'(' after %s", cond.Operator)); err != nil {
		return err
	}
	if p.peek().is("SELECT") {
		saved := p.depth
		p.depth = 0
		sub, err := p.parseQuery()
		p.depth = saved
		if err != nil {
			return err
		}
		cond.Subquery = sub
		cond.LiteralType = LiteralSubquery
		_, err = p.expect(TokenRParen, "')' after semi-join")
		return err
	}
	for {
		value, literalType, err := p.parseLiteral()
		if err != nil {
			return err
		}
		if cond.LiteralType == "" {
			cond.LiteralType = literalType
		}
		cond.Values = append(cond.Values, value)
		if !p.match(TokenComma) {
			break
		}
	}
	_, err := p.expect(TokenRParen, fmt.Sprintf("')' after %s values", cond.Operator))
	return err
}

func (p *parser) parseLiteral() (string, LiteralType, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenString:
		return tok.Lexeme, LiteralString, nil
	case TokenNumber:
		return tok.Lexeme, classifyNumber(tok.Lexeme), nil
	case TokenIdent:
		switch strings.ToUpper(tok.Lexeme) {
		case "NULL":
			return tok.Lexeme, LiteralNull, nil
		case "TRUE", "FALSE":
			return tok.Lexeme, LiteralBoolean, nil
		}
		if p.match(TokenColon) {
			n, err := p.expect(TokenNumber, fmt.Sprintf("number after %s:", tok.Lexeme))
			if err != nil {
				return "", "", err
			}
			return tok.Lexeme + ":" + n.Lexeme, LiteralDateNLiteral, nil
		}
		return tok.Lexeme, LiteralDateLiteral, nil
	}
	return "", "", &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("expected value, found %s", describeToken(tok))}
}

func classifyNumber(lexeme string) LiteralType {
	switch {
	case strings.Contains(lexeme, "T"):
		return LiteralDateTime
	case len(lexeme) > 1 && strings.Contains(lexeme[1:], "-"):
		return LiteralDate
	case strings.Contains(lexeme, "."):
		return LiteralDecimal
	default:
		return LiteralInteger
	}
}

func (p *parser) parseGroupBy() ([]GroupByClause, error) {
	var clauses []GroupByClause
	for {
		name, err := p.expect(TokenIdent, "GROUP BY field")
		if err != nil {
			return nil, err
		}
		clause := GroupByClause{Field: name.Lexeme}
		if p.check(TokenLParen) {
			if clause.Function, err = p.parseFunction(name.Lexeme); err != nil {
				return nil, err
			}
			clause.Field = ""
		}
		clauses = append(clauses, clause)
		if !p.match(TokenComma) {
			return clauses, nil
		}
	}
}

func (p *parser) parseOrderBy() ([]OrderByClause, error) {
	var clauses []OrderByClause
	for {
		name, err := p.expect(TokenIdent, "ORDER BY field")
		if err != nil {
			return nil, err
		}
		clause := OrderByClause{Field: name.Lexeme}
		if p.check(TokenLParen) {
			if clause.Function, err = p.parseFunction(name.Lexeme); err != nil {
				return nil, err
			}
			clause.Field = ""
		}
		switch {
		case p.matchKeyword("ASC"):
			clause.Order = "ASC"
		case p.matchKeyword("DESC"):
			clause.Order = "DESC"
		}
		if p.matchKeyword("NULLS") {
			switch {
			case p.matchKeyword("FIRST"):
				clause.Nulls = "FIRST"
			case p.matchKeyword("LAST"):
				clause.Nulls = "LAST"
			default:
				return nil, p.errorf("expected FIRST or LAST after NULLS, found %s", describeToken(p.peek()))
			}
		}
		clauses = append(clauses, clause)
		if !p.match(TokenComma) {
			return clauses, nil
		}
	}
}

func (p *parser) parseInt(clause string) (*int, error) {
	tok, err := p.expect(TokenNumber, fmt.Sprintf("number after %s", clause))
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(tok.Lexeme)
	if err != nil || n < 0 {
		return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("invalid %s value %q", clause, tok.Lexeme)}
	}
	return &n, nil
}

func (p *parser) expect(tokenType TokenType, what string) (Token, error) {
	if !p.check(tokenType) {
		return Token{}, p.errorf("expected %s, found %s", what, describeToken(p.peek()))
	}
	return p.advance(), nil
}

func (p *parser) expectKeyword(keyword string) error {
	if !p.matchKeyword(keyword) {
		return p.errorf("expected %s, found %s", keyword, describeToken(p.peek()))
	}
	return nil
}

func (p *parser) matchKeyword(keyword string) bool {
	if p.peek().is(keyword) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) match(tokenType TokenType) bool {
	if p.check(tokenType) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) check(tokenType TokenType) bool {
	return p.peek().Type == tokenType
}

func (p *parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.current++
	}
	return tok
}

func (p *parser) peek() Token {
	return p.peekAt(0)
}

func (p *parser) peekAt(offset int) Token {
	if p.current+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.current+offset]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().Pos, Message: fmt.Sprintf(format, args...)}
}

func describeToken(tok Token) string {
	if tok.Type == TokenEOF {
		return tok.Type.String()
	}
	return fmt.Sprintf("%q", tok.Lexeme)
}
