package soql

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenComma
	TokenColon
	TokenOperator
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of query"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenComma:
		return "','"
	case TokenColon:
		return "':'"
	case TokenOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Token is a single lexeme with its byte offset in the source.
type Token struct {
	Type   TokenType
	Lexeme string
	Pos    int
}

// is reports whether the token is the given keyword (case-insensitive).
func (t Token) is(keyword string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Lexeme, keyword)
}

// SyntaxError describes malformed query text.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

type lexer struct {
	source  string
	start   int
	current int
	tokens  []Token
}

// tokenize splits the source into tokens. String literals keep their quotes
// and escape sequences verbatim.
func tokenize(source string) ([]Token, error) {
	l := &lexer{source: source}
	for !l.isAtEnd() {
		l.start = l.current
		if err := l.scanToken(); err != nil {
			return nil, err
		}
	}
	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: len(source)})
	return l.tokens, nil
}

func (l *lexer) scanToken() error {
	c := l.advance()
	switch {
	case unicode.IsSpace(rune(c)):
		return nil
	case c == '(':
		l.emit(TokenLParen)
	case c == ')':
		l.emit(TokenRParen)
	case c == ',':
		l.emit(TokenComma)
	case c == ':':
		l.emit(TokenColon)
	case c == '=':
		l.emit(TokenOperator)
	case c == '!':
		if !l.match('=') {
			return &SyntaxError{Pos: l.start, Message: "expected '=' after '!'"}
		}
		l.emit(TokenOperator)
	case c == '<':
		if !l.match('=') {
			l.match('>')
		}
		l.emit(TokenOperator)
	case c == '>':
		l.match('=')
		l.emit(TokenOperator)
	case c == '\'':
		return l.scanString()
	case isDigit(c) || ((c == '-' || c == '+') && isDigit(l.peek())):
		l.scanNumber()
	case isIdentStart(c):
		l.scanIdent()
	default:
		return &SyntaxError{Pos: l.start, Message: fmt.Sprintf("unexpected character %q", c)}
	}
	return nil
}

func (l *lexer) scanString() error {
	for !l.isAtEnd() {
		c := l.advance()
		if c == '\\' {
			if l.isAtEnd() {
				break
			}
			l.advance()
			continue
		}
		if c == '\'' {
			l.emit(TokenString)
			return nil
		}
	}
	return &SyntaxError{Pos: l.start, Message: "unterminated string literal"}
}

// scanNumber consumes numbers, dates and datetimes
// (2020-01-01, 2020-01-01T10:00:00Z, 2020-01-01T10:00:00+05:00).
func (l *lexer) scanNumber() {
	for !l.isAtEnd() {
		c := l.peek()
		if isDigit(c) || c == '.' || c == '-' || c == ':' || c == 'T' || c == 'Z' || c == '+' {
			l.advance()
			continue
		}
		break
	}
	l.emit(TokenNumber)
}

func (l *lexer) scanIdent() {
	for !l.isAtEnd() && isIdentPart(l.peek()) {
		l.advance()
	}
	l.emit(TokenIdent)
}

func (l *lexer) emit(tokenType TokenType) {
	l.tokens = append(l.tokens, Token{
		Type:   tokenType,
		Lexeme: l.source[l.start:l.current],
		Pos:    l.start,
	})
}

func (l *lexer) advance() byte {
	c := l.source[l.current]
	l.current++
	return c
}

func (l *lexer) match(expected byte) bool {
	if l.isAtEnd() || l.source[l.current] != expected {
		return false
	}
	l.current++
	return true
}

func (l *lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.current]
}

func (l *lexer) isAtEnd() bool {
	return l.current >= len(l.source)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isIdentPart allows dots so relationship paths lex as one token.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}
