package formula

import (
	"fmt"
	"strings"
)

// TokenType is the lexical category of a Token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
)

// Token is one lexeme. Pos is the rune offset in the formula.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// binaryOps are matched longest first.
var binaryOps = []string{"<=", ">=", "<>", "!=", "<", ">", "=", "*", "/", "^", "&"}

// lexState tracks what may follow the previous token, so malformed
// sequences like "=1 2" or "=(,)" fail before parsing.
type lexState int

const (
	wantPrefix      lexState = iota // nothing read, only '=' is valid
	wantOperand                     // after '=', an operator or ','
	wantOperandOrRP                 // after '(', which may close at once
	haveOperand                     // after a value or ')'
	haveName                        // after an identifier, may be called
)

func (s lexState) allows(t TokenType) bool {
	switch s {
	case wantPrefix:
		return t == TokenEquals
	case wantOperandOrRP:
		if t == TokenRightParen {
			return true
		}
		fallthrough
	case wantOperand:
		switch t {
		case TokenNumber, TokenString, TokenBoolean, TokenCell, TokenRange,
			TokenFunction, TokenIdentifier, TokenLeftParen, TokenUnaryPrefixOp:
			return true
		}
	case haveName:
		if t == TokenLeftParen {
			return true
		}
		fallthrough
	case haveOperand:
		switch t {
		case TokenBinaryOp, TokenUnaryPostfixOp, TokenRightParen, TokenComma, TokenEOF:
			return true
		}
	}
	return false
}

func (s lexState) next(t TokenType) lexState {
	switch t {
	case TokenEquals, TokenBinaryOp, TokenUnaryPrefixOp, TokenComma:
		return wantOperand
	case TokenLeftParen:
		return wantOperandOrRP
	case TokenIdentifier, TokenFunction:
		return haveName
	case TokenUnaryPostfixOp:
		return s
	}
	return haveOperand
}

// lexer splits a formula into tokens. The formula must start with '='.
type lexer struct {
	src   []rune
	pos   int
	depth int
	state lexState
}

// lex tokenizes a whole formula, ending the tokens with TokenEOF.
func lex(formula string) ([]Token, error) {
	src := []rune(formula)
	if len(src) == 0 || src[0] != '=' {
		return nil, fmt.Errorf("formula must start with '='")
	}
	l := &lexer{src: src}

	var tokens []Token
	for {
		tok, err := l.scan()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			break
		}
		if !l.state.allows(tok.Type) {
			return nil, fmt.Errorf("unexpected token %q at %d", tok.Value, tok.Pos)
		}
		tokens = append(tokens, tok)
		l.state = l.state.next(tok.Type)
	}

	switch {
	case l.depth > 0:
		return nil, fmt.Errorf("missing closing parenthesis")
	case !l.state.allows(TokenEOF):
		return nil, fmt.Errorf("unexpected end of formula")
	}
	return append(tokens, Token{Type: TokenEOF, Pos: l.pos}), nil
}

func (l *lexer) at(i int) rune {
	if i < 0 || i >= len(l.src) {
		return 0
	}
	return l.src[i]
}

func (l *lexer) cur() rune {
	return l.at(l.pos)
}

// run advances over runes matching ok and returns them.
func (l *lexer) run(ok func(rune) bool) string {
	start := l.pos
	for l.pos < len(l.src) && ok(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) skipSpace() {
	l.run(isSpace)
}

func (l *lexer) emit(t TokenType, value string, pos int) (Token, error) {
	return Token{Type: t, Value: value, Pos: pos}, nil
}

func (l *lexer) scan() (Token, error) {
	l.skipSpace()
	pos := l.pos
	if pos >= len(l.src) {
		return Token{Type: TokenEOF, Pos: pos}, nil
	}

	ch := l.cur()
	switch {
	case ch == '"':
		return l.scanString()
	case isDigit(ch), ch == '.' && isDigit(l.at(pos+1)):
		return l.emit(TokenNumber, l.scanNumber(), pos)
	case isLetter(ch), ch == '_':
		return l.scanName()
	}

	l.pos++
	switch ch {
	case '(':
		l.depth++
		return l.emit(TokenLeftParen, "(", pos)
	case ')':
		if l.depth--; l.depth < 0 {
			return Token{}, fmt.Errorf("unexpected ')' at %d", pos)
		}
		return l.emit(TokenRightParen, ")", pos)
	case ',':
		return l.emit(TokenComma, ",", pos)
	case '+', '-':
		if l.state == wantPrefix || l.state == wantOperand || l.state == wantOperandOrRP {
			return l.emit(TokenUnaryPrefixOp, string(ch), pos)
		}
		return l.emit(TokenBinaryOp, string(ch), pos)
	case '%':
		return l.emit(l.percentKind(), "%", pos)
	case '=':
		if pos == 0 {
			return l.emit(TokenEquals, "=", pos)
		}
	}

	l.pos = pos
	for _, op := range binaryOps {
		if strings.HasPrefix(string(l.src[pos:min(pos+len(op), len(l.src))]), op) {
			l.pos += len(op)
			return l.emit(TokenBinaryOp, op, pos)
		}
	}
	return Token{}, fmt.Errorf("unexpected character %q at %d", ch, pos)
}

// percentKind tells modulo ("=A1 % 2") from a postfix percent ("=50%").
func (l *lexer) percentKind() TokenType {
	i := l.pos
	for isSpace(l.at(i)) {
		i++
	}
	next := l.at(i)
	if isDigit(next) || isLetter(next) || strings.ContainsRune(`(".`, next) {
		return TokenBinaryOp
	}
	return TokenUnaryPostfixOp
}

// scanNumber reads digits with an optional fraction and exponent. An 'e'
// not followed by digits is left for the next token.
func (l *lexer) scanNumber() string {
	start := l.pos
	l.run(isDigit)
	if l.cur() == '.' && isDigit(l.at(l.pos+1)) {
		l.pos++
		l.run(isDigit)
	}
	if c := l.cur(); c == 'e' || c == 'E' {
		i := l.pos + 1
		if s := l.at(i); s == '+' || s == '-' {
			i++
		}
		if isDigit(l.at(i)) {
			l.pos = i
			l.run(isDigit)
		}
	}
	return string(l.src[start:l.pos])
}

// scanString reads a quoted literal. A doubled quote is an escaped quote.
func (l *lexer) scanString() (Token, error) {
	pos := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.cur()
		l.pos++
		if ch != '"' {
			sb.WriteRune(ch)
			continue
		}
		if l.cur() != '"' {
			return l.emit(TokenString, sb.String(), pos)
		}
		sb.WriteRune('"')
		l.pos++
	}
	return Token{}, fmt.Errorf("unclosed string starting at %d", pos)
}

// scanName reads booleans, cells, ranges, function names and bare
// identifiers. Function names may be namespaced ("math.SUM").
func (l *lexer) scanName() (Token, error) {
	pos := l.pos
	for {
		l.run(isNameRune)
		if l.cur() != '.' || !isLetter(l.at(l.pos+1)) {
			break
		}
		l.pos++
	}
	name := string(l.src[pos:l.pos])
	upper := strings.ToUpper(name)
	call := l.cur() == '('

	switch {
	case upper == "TRUE" || upper == "FALSE":
		return l.emit(TokenBoolean, upper, pos)
	case call:
		return l.emit(TokenFunction, functionName(name), pos)
	case !isCell(name):
		return l.emit(TokenIdentifier, name, pos)
	}

	if l.cur() == ':' {
		save := l.pos
		l.pos++
		if end := l.run(isAlnum); isCell(end) {
			return l.emit(TokenRange, string(l.src[pos:l.pos]), pos)
		}
		l.pos = save
	}
	return l.emit(TokenCell, upper, pos)
}

// functionName upper-cases the name and keeps a namespace prefix as typed.
func functionName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i+1] + strings.ToUpper(name[i+1:])
	}
	return strings.ToUpper(name)
}

// isCell reports whether s is letters followed by digits, like "B12".
func isCell(s string) bool {
	letters := strings.IndexFunc(s, func(r rune) bool { return !isLetter(r) })
	if letters <= 0 {
		return false
	}
	return strings.IndexFunc(s[letters:], func(r rune) bool { return !isDigit(r) }) < 0
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

func isAlnum(r rune) bool {
	return isLetter(r) || isDigit(r)
}

func isNameRune(r rune) bool {
	return isAlnum(r) || r == '_'
}
