package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a new parser over lexed tokens
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse lexes and parses a formula string. errors are *sheeterr.ValueError.
func Parse(formula string) (Node, error) {
	tokens, err := lex(strings.TrimSpace(formula))
	if err != nil {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, err.Error())
	}
	return NewParser(tokens).Parse()
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, "no tokens to parse")
	}
	if p.tokens[p.pos].Type != TokenEquals {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, "formula must start with '='")
	}
	p.pos++ // consume the equals token

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenEOF {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("unexpected token after expression: %s", p.peek().Value))
	}
	return node, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func binary(op BinaryOp, left, right Node) *BinaryExpr {
	return &BinaryExpr{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: Position{Start: left.Pos().Start, End: right.Pos().End},
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "=":
			op = BinOpEqual
		case "<>", "!=":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}

	return left, nil
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "&"; tok = p.peek() {
		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = binary(BinOpConcat, left, right)
	}

	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}

	return left, nil
}

// parseMultiplication handles multiplication, division, and modulo
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		case "%":
			op = BinOpModulo
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}

	return left, nil
}

// parsePower handles exponentiation, right-associative
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binary(BinOpPower, left, right), nil
	}

	return left, nil
}

// parseUnary handles prefix unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	var op UnaryOp
	switch tok.Value {
	case "+":
		op = UnaryOpPlus
	case "-":
		op = UnaryOpMinus
	default:
		return p.parsePostfix()
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{
		Op:       op,
		Operand:  operand,
		Position: Position{Start: tok.Pos, End: operand.Pos().End},
	}, nil
}

// parsePostfix handles postfix percent
func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for tok := p.peek(); tok.Type == TokenUnaryPostfixOp && tok.Value == "%"; tok = p.peek() {
		p.pos++
		node = &UnaryExpr{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: Position{Start: node.Pos().Start, End: tok.Pos + 1},
		}
	}

	return node, nil
}

// parsePrimary handles literals, references, functions and parentheses
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("invalid number: %s", tok.Value))
		}
		return &Literal{
			Value:    val,
			Position: Position{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenString:
		p.pos++
		return &Literal{
			Value:    tok.Value,
			Position: Position{Start: tok.Pos, End: tok.Pos + len([]rune(tok.Value)) + 2}, // +2 for quotes
		}, nil

	case TokenBoolean:
		p.pos++
		return &Literal{
			Value:    tok.Value == "TRUE",
			Position: Position{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenCell:
		p.pos++
		c, err := coord.ParseKey(tok.Value)
		if err != nil {
			return nil, sheeterr.NewValueError(sheeterr.CodeRef, err.Error())
		}
		return &CellRef{
			Key:      c.Key(),
			Position: Position{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenRange:
		p.pos++
		r, err := coord.ParseRange(tok.Value)
		if err != nil {
			return nil, sheeterr.NewValueError(sheeterr.CodeRef, err.Error())
		}
		return &CellRange{
			Range:    r,
			Position: Position{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenIdentifier:
		return nil, sheeterr.NewValueError(sheeterr.CodeName, fmt.Sprintf("unknown name: %s", tok.Value))

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, sheeterr.NewValueError(sheeterr.CodeValue, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, "unexpected end of expression")

	default:
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("unexpected token: %s", tok.Value))
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (Node, error) {
	funcTok := p.peek()
	p.pos++

	if p.peek().Type != TokenLeftParen {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, "expected '(' after function name")
	}
	p.pos++

	call := &FuncCall{Args: []Node{}}
	if i := strings.LastIndex(funcTok.Value, "."); i >= 0 {
		call.Namespace, call.Name = funcTok.Value[:i], funcTok.Value[i+1:]
	} else {
		call.Name = funcTok.Value
	}

	// check for empty argument list
	if p.peek().Type == TokenRightParen {
		call.Position = Position{Start: funcTok.Pos, End: p.peek().Pos + 1}
		p.pos++
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		switch p.peek().Type {
		case TokenRightParen:
			call.Position = Position{Start: funcTok.Pos, End: p.peek().Pos + 1}
			p.pos++
			return call, nil
		case TokenComma:
			p.pos++
		case TokenEOF:
			return nil, sheeterr.NewValueError(sheeterr.CodeValue, "unexpected end in function arguments")
		default:
			return nil, sheeterr.NewValueError(sheeterr.CodeValue, "expected ',' or ')' in function arguments")
		}
	}
}
