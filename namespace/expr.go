package namespace

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/narwhaldb/narwhal/dberr"
)

// evalUpdateExpr evaluates a numeric SET expression: field references,
// number literals, + - * / and parentheses. Field values come from the
// lookup callback.
func evalUpdateExpr(src string, lookup func(name string) (float64, error)) (float64, error) {
	p := &exprParser{src: src, lookup: lookup}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, dberr.Newf(dberr.CodeParams, "unexpected '%c' in update expression", p.src[p.pos])
	}
	return v, nil
}

type exprParser struct {
	src    string
	pos    int
	lookup func(name string) (float64, error)
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) parseSum() (float64, error) {
	v, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return v, nil
		}
		switch p.src[p.pos] {
		case '+':
			p.pos++
			r, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	v, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return v, nil
		}
		switch p.src[p.pos] {
		case '*':
			p.pos++
			r, err := p.parseAtom()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.parseAtom()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, dberr.New(dberr.CodeParams, "division by zero in update expression")
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, dberr.New(dberr.CodeParams, "truncated update expression")
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return 0, dberr.New(dberr.CodeParams, "missing ')' in update expression")
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parseAtom()
		return -v, err
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return 0, dberr.Wrap(dberr.CodeParams, err, "bad number in update expression")
		}
		return v, nil
	case unicode.IsLetter(rune(c)) || c == '_':
		start := p.pos
		for p.pos < len(p.src) {
			r := rune(p.src[p.pos])
			if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_.", r) {
				p.pos++
				continue
			}
			break
		}
		return p.lookup(p.src[start:p.pos])
	}
	return 0, dberr.Newf(dberr.CodeParams, "unexpected '%c' in update expression", c)
}
