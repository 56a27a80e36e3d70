package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

// ParseResult pairs the parsed type with the input it came from.
type ParseResult struct {
	Type  Type
	Input string
}

// Parse parses a type declaration. It never fails: input that cannot be
// parsed yields an *UnknownType whose typename is the trimmed input.
func Parse(input string) ParseResult {
	trimmed := strings.TrimSpace(input)
	list, err := parseUnion(trimmed)
	if err != nil || len(list) == 0 {
		return ParseResult{Type: &UnknownType{Input: trimmed}, Input: input}
	}
	if len(list) == 1 {
		return ParseResult{Type: list[0], Input: input}
	}
	return ParseResult{Type: &UnionType{Types: list}, Input: input}
}

var errMultiDimensional = errors.New("multi-dimensional arrays are not supported")

type tokenKind int

const (
	tokenValue      tokenKind = iota // bare word or quoted literal, "[]" kept
	tokenGroup                       // "( ... )"
	tokenGroupArray                  // "( ... )[]"
)

type token struct {
	kind tokenKind
	text string // group tokens hold the text inside the parentheses
}

// parseUnion splits input on top-level '|' and parses each part. Non-array
// groups are flattened into the returned list.
func parseUnion(input string) ([]Type, error) {
	var out []Type
	rest := input
	for {
		tok, remaining, ok, err := next(rest)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		rest = remaining

		switch tok.kind {
		case tokenValue:
			t, err := parseValue(tok.text)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		case tokenGroup:
			children, err := parseUnion(tok.text)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		case tokenGroupArray:
			children, err := parseUnion(tok.text)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				return nil, fmt.Errorf("empty group")
			}
			out = append(out, &UnionType{Types: children, Array: true})
		}
	}
}

// next returns the next top-level token and the remaining input. ok is
// false once the input holds nothing but separators.
func next(input string) (tok token, rest string, ok bool, err error) {
	s := strings.TrimLeft(input, " \t\r\n|")
	if s == "" {
		return token{}, "", false, nil
	}

	if s[0] == '(' {
		end, err := closingParen(s)
		if err != nil {
			return token{}, "", false, err
		}
		tok = token{kind: tokenGroup, text: s[1:end]}
		rest = s[end+1:]
		if strings.HasPrefix(rest, "[]") {
			tok.kind = tokenGroupArray
			rest = rest[2:]
			if strings.HasPrefix(rest, "[]") {
				return token{}, "", false, errMultiDimensional
			}
		}
		rest = strings.TrimLeft(rest, " \t\r\n")
		if rest != "" && rest[0] != '|' {
			return token{}, "", false, fmt.Errorf("unexpected %q after group", rest)
		}
		return tok, rest, true, nil
	}

	var quote rune
	end := len(s)
loop:
	for i, ch := range s {
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '|':
			end = i
			break loop
		case '(', ')':
			return token{}, "", false, fmt.Errorf("unexpected %q in value", ch)
		}
	}
	if quote != 0 {
		return token{}, "", false, fmt.Errorf("unterminated quote")
	}
	return token{kind: tokenValue, text: strings.TrimSpace(s[:end])}, s[end:], true, nil
}

// closingParen returns the index of the parenthesis closing s[0], skipping
// quoted literals.
func closingParen(s string) (int, error) {
	depth := 0
	var quote rune
	for i, ch := range s {
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses")
}

func parseValue(text string) (Type, error) {
	if strings.HasSuffix(text, "[][]") {
		return nil, errMultiDimensional
	}
	array := strings.HasSuffix(text, "[]")
	base := strings.TrimSpace(strings.TrimSuffix(text, "[]"))
	if base == "" {
		return nil, fmt.Errorf("empty value")
	}

	if q := base[0]; q == '\'' || q == '"' {
		if len(base) < 2 || base[len(base)-1] != q {
			return nil, fmt.Errorf("invalid literal %q", base)
		}
		value := base[1 : len(base)-1]
		if strings.ContainsRune(value, rune(q)) {
			return nil, fmt.Errorf("invalid literal %q", base)
		}
		return &EnumType{Value: value, Array: array}, nil
	}

	if IsPrimitive(base) {
		return &ValueType{Name: base, Array: array}, nil
	}

	if strings.HasPrefix(base, coord.NsPrefix) {
		if _, err := coord.ParseNs(base); err != nil {
			return nil, err
		}
		return &RefType{URI: base, Scope: ScopeNS, Array: array}, nil
	}

	if strings.HasPrefix(base, coord.CellPrefix) {
		cell, err := coord.ParseCellURI(base)
		if err != nil {
			return nil, err
		}
		if !cell.IsColumn() {
			return nil, fmt.Errorf("cell reference %q must address a column", base)
		}
		return &RefType{URI: base, Scope: ScopeColumn, Array: array}, nil
	}

	return nil, fmt.Errorf("unknown type %q", base)
}
