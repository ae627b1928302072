package eql

import (
	"strings"

	"github.com/mtnfog/entitydb/pkg/storage"
)

// comparison is one clause of the where predicate. For between, value holds
// the lower bound and valueTo the upper bound.
type comparison struct {
	field       string
	metadataKey string
	op          storage.Comparator
	value       token
	valueTo     token
	pos         int
}

// parsedQuery is the expression tree the compiler walks.
type parsedQuery struct {
	comparisons []comparison
	hasOrder    bool
	orderField  string
	orderDesc   bool
}

type parser struct {
	tokens []token
	i      int
}

func parse(tokens []token) (*parsedQuery, error) {
	p := &parser{tokens: tokens}
	return p.parseQuery()
}

func (p *parser) peek() token {
	return p.tokens[p.i]
}

func (p *parser) next() token {
	t := p.tokens[p.i]
	if p.tokens[p.i].kind != tokenEOF {
		p.i++
	}
	return t
}

// keywordIs reports whether t is the given keyword. Keywords are
// case-insensitive identifiers.
func keywordIs(t token, kw string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) expectKeyword(kw string) error {
	t := p.next()
	if !keywordIs(t, kw) {
		return newError(t.text, t.pos, "expected %q", kw)
	}
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, newError(t.text, t.pos, "expected %s", kind)
	}
	return t, nil
}

func (p *parser) parseQuery() (*parsedQuery, error) {
	if err := p.expectKeyword("select"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenStar); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("entities"); err != nil {
		return nil, err
	}

	q := &parsedQuery{}

	if keywordIs(p.peek(), "where") {
		p.next()
		if err := p.parsePredicate(q); err != nil {
			return nil, err
		}
	}

	if keywordIs(p.peek(), "order") {
		p.next()
		if err := p.parseOrderBy(q); err != nil {
			return nil, err
		}
	}

	if t := p.next(); t.kind != tokenEOF {
		return nil, newError(t.text, t.pos, "unexpected token")
	}

	return q, nil
}

// parsePredicate parses a strict conjunction of comparisons. "and" is the
// only connective; there is no "or" and no grouping.
func (p *parser) parsePredicate(q *parsedQuery) error {
	for {
		c, err := p.parseComparison()
		if err != nil {
			return err
		}
		q.comparisons = append(q.comparisons, *c)

		if !keywordIs(p.peek(), "and") {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseComparison() (*comparison, error) {
	field, err := p.expect(tokenIdent)
	if err != nil {
		return nil, err
	}

	c := &comparison{
		field: strings.ToLower(field.text),
		pos:   field.pos,
	}

	// metadata.<key> is a dynamic field family; the key is case-insensitive.
	if p.peek().kind == tokenDot {
		p.next()
		key, err := p.expect(tokenIdent)
		if err != nil {
			return nil, err
		}
		c.metadataKey = strings.ToLower(key.text)
	}

	op := p.next()
	switch op.kind {
	case tokenEquals:
		c.op = storage.ComparatorEquals
	case tokenNotEquals:
		c.op = storage.ComparatorNotEquals
	case tokenLess:
		c.op = storage.ComparatorLess
	case tokenLessOrEquals:
		c.op = storage.ComparatorLessOrEquals
	case tokenGreater:
		c.op = storage.ComparatorGreater
	case tokenGreaterOrEquals:
		c.op = storage.ComparatorGreaterOrEquals
	case tokenIdent:
		if !strings.EqualFold(op.text, "between") {
			return nil, newError(op.text, op.pos, "expected a comparison operator")
		}
		c.op = storage.ComparatorBetween
	default:
		return nil, newError(op.text, op.pos, "expected a comparison operator")
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	c.value = value

	if c.op == storage.ComparatorBetween {
		if err := p.expectKeyword("and"); err != nil {
			return nil, err
		}
		valueTo, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		c.valueTo = valueTo
	}

	return c, nil
}

func (p *parser) parseValue() (token, error) {
	t := p.next()
	if t.kind != tokenString && t.kind != tokenInt {
		return token{}, newError(t.text, t.pos, "expected a string or integer literal")
	}
	return t, nil
}

func (p *parser) parseOrderBy(q *parsedQuery) error {
	if err := p.expectKeyword("by"); err != nil {
		return err
	}

	field, err := p.expect(tokenIdent)
	if err != nil {
		return err
	}

	q.hasOrder = true
	q.orderField = strings.ToLower(field.text)

	switch {
	case keywordIs(p.peek(), "asc"):
		p.next()
	case keywordIs(p.peek(), "desc"):
		p.next()
		q.orderDesc = true
	}

	return nil
}
