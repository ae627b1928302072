// Package eql implements the Entity Query Language: a lexer, a
// recursive-descent parser, and a compiler producing a storage.EntityQuery.
//
// The grammar has two top level forms:
//
//	select * from entities
//	select * from entities where <clause> [and <clause>]... [order by <field> [asc|desc]]
//
// Clauses compare a recognized field (id, context, documentid, text, type,
// uri, language, confidence, timestamp, or metadata.<key>) with =, !=, <,
// <=, >, >= or "between x and y". String literals are double-quoted with ""
// as the escaped-quote sequence. "and" is the only boolean connective.
package eql

import (
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenInt
	tokenStar
	tokenDot
	tokenEquals
	tokenNotEquals
	tokenLess
	tokenLessOrEquals
	tokenGreater
	tokenGreaterOrEquals
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of query"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenInt:
		return "integer"
	case tokenStar:
		return "*"
	case tokenDot:
		return "."
	case tokenEquals:
		return "="
	case tokenNotEquals:
		return "!="
	case tokenLess:
		return "<"
	case tokenLessOrEquals:
		return "<="
	case tokenGreater:
		return ">"
	case tokenGreaterOrEquals:
		return ">="
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes an EQL query. An unrecognized character is a lexical error.
func lex(input string) ([]token, error) {
	runes := []rune(input)
	var tokens []token

	i := 0
	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsLetter(r):
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenInt, text: string(runes[start:i]), pos: start})

		case r == '"':
			text, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: text, pos: i})
			i = next

		case r == '*':
			tokens = append(tokens, token{kind: tokenStar, text: "*", pos: i})
			i++

		case r == '.':
			tokens = append(tokens, token{kind: tokenDot, text: ".", pos: i})
			i++

		case r == '=':
			tokens = append(tokens, token{kind: tokenEquals, text: "=", pos: i})
			i++

		case r == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, newError("!", i, "expected '=' after '!'")
			}
			tokens = append(tokens, token{kind: tokenNotEquals, text: "!=", pos: i})
			i += 2

		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenLessOrEquals, text: "<=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenLess, text: "<", pos: i})
				i++
			}

		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenGreaterOrEquals, text: ">=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenGreater, text: ">", pos: i})
				i++
			}

		default:
			return nil, newError(string(r), i, "unrecognized character")
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}

// lexString consumes a double-quoted string literal starting at runes[start].
// The escape sequence for a literal quote is a doubled quote, SQL-style.
func lexString(runes []rune, start int) (string, int, error) {
	var sb []rune
	i := start + 1
	for i < len(runes) {
		if runes[i] == '"' {
			if i+1 < len(runes) && runes[i+1] == '"' {
				sb = append(sb, '"')
				i += 2
				continue
			}
			return string(sb), i + 1, nil
		}
		sb = append(sb, runes[i])
		i++
	}
	return "", 0, newError(string(runes[start:]), start, "unterminated string literal")
}
