package sqlparser

import (
	"strconv"
	"strings"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// Parse turns one SQL statement into a query AST.
func Parse(sql string) (*query.Query, error) {
	tokens, err := lex(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	q, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errf("unexpected '%s'", p.cur().text)
	}
	return q, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) at(kind tokenKind) bool { return p.cur().kind == kind }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().kind == tokIdent && strings.EqualFold(p.cur().text, kw)
}

func (p *parser) eatKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return p.errf("expected %s", kw)
	}
	return nil
}

func (p *parser) errf(format string, args ...interface{}) error {
	return dberr.Newf(dberr.CodeParseSQL, "sql: "+format+" at position %d",
		append(args, p.cur().pos)...)
}

func (p *parser) parseStatement() (*query.Query, error) {
	switch {
	case p.atKeyword("select"):
		return p.parseSelect()
	case p.atKeyword("update"):
		return p.parseUpdate()
	case p.atKeyword("delete"):
		return p.parseDelete()
	case p.atKeyword("truncate"):
		p.pos++
		if !p.at(tokIdent) {
			return nil, p.errf("expected namespace name")
		}
		q := query.New(p.next().text)
		q.Type = query.TypeTruncate
		return q, nil
	}
	return nil, p.errf("expected SELECT, UPDATE, DELETE or TRUNCATE")
}

func (p *parser) parseSelect() (*query.Query, error) {
	p.pos++ // select
	type selItem struct {
		agg    query.AggType
		hasAgg bool
		fields []string
	}
	var items []selItem
	for {
		switch {
		case p.at(tokStar):
			p.pos++
			items = append(items, selItem{})
		case p.at(tokIdent):
			name := p.next().text
			if agg, ok := aggByName(name); ok && p.at(tokLParen) {
				p.pos++
				var fields []string
				for {
					if p.at(tokStar) {
						p.pos++
					} else if p.at(tokIdent) {
						fields = append(fields, p.next().text)
					} else {
						return nil, p.errf("expected field in aggregate")
					}
					if p.at(tokComma) {
						p.pos++
						continue
					}
					break
				}
				if !p.at(tokRParen) {
					return nil, p.errf("expected ')'")
				}
				p.pos++
				items = append(items, selItem{agg: agg, hasAgg: true, fields: fields})
			} else {
				items = append(items, selItem{fields: []string{name}})
			}
		default:
			return nil, p.errf("expected projection")
		}
		if p.at(tokComma) {
			p.pos++
			continue
		}
		break
	}

	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	if !p.at(tokIdent) {
		return nil, p.errf("expected namespace name")
	}
	q := query.New(p.next().text)
	for _, it := range items {
		switch {
		case it.hasAgg:
			q.Aggregate(it.agg, it.fields...)
		case len(it.fields) > 0:
			q.SelectFields = append(q.SelectFields, it.fields...)
		}
	}

	if err := p.parseTail(q); err != nil {
		return nil, err
	}
	return q, nil
}

func aggByName(name string) (query.AggType, bool) {
	switch strings.ToLower(name) {
	case "sum":
		return query.AggSum, true
	case "avg":
		return query.AggAvg, true
	case "min":
		return query.AggMin, true
	case "max":
		return query.AggMax, true
	case "facet":
		return query.AggFacet, true
	case "distinct":
		return query.AggDistinct, true
	case "count":
		return query.AggCount, true
	}
	return 0, false
}

// parseTail handles the shared SELECT/UPDATE/DELETE suffix: joins,
// WHERE, MERGE, ORDER BY, LIMIT, OFFSET.
func (p *parser) parseTail(q *query.Query) error {
	for {
		switch {
		case p.atKeyword("inner"), p.atKeyword("left"), p.atKeyword("join"):
			if err := p.parseJoin(q); err != nil {
				return err
			}
		case p.atKeyword("where"):
			p.pos++
			if err := p.parseConditions(q); err != nil {
				return err
			}
		case p.atKeyword("merge"):
			p.pos++
			if !p.at(tokLParen) {
				return p.errf("expected '(' after MERGE")
			}
			p.pos++
			sub, err := p.parseSelect()
			if err != nil {
				return err
			}
			if !p.at(tokRParen) {
				return p.errf("expected ')' closing MERGE")
			}
			p.pos++
			q.Merge(sub)
		case p.atKeyword("order"):
			p.pos++
			if err := p.expectKeyword("by"); err != nil {
				return err
			}
			for {
				if !p.at(tokIdent) {
					return p.errf("expected sort field")
				}
				field := p.next().text
				desc := false
				if p.eatKeyword("desc") {
					desc = true
				} else {
					p.eatKeyword("asc")
				}
				q.SortBy(field, desc)
				if p.at(tokComma) {
					p.pos++
					continue
				}
				break
			}
		case p.atKeyword("limit"):
			p.pos++
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			q.WithLimit(n)
		case p.atKeyword("offset"):
			p.pos++
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			q.WithOffset(n)
		default:
			return nil
		}
	}
}

func (p *parser) parseInt() (int, error) {
	if !p.at(tokNumber) {
		return 0, p.errf("expected number")
	}
	n, err := strconv.Atoi(p.next().text)
	if err != nil {
		return 0, p.errf("bad number")
	}
	return n, nil
}

func (p *parser) parseJoin(q *query.Query) error {
	jt := query.JoinInner
	switch {
	case p.eatKeyword("left"):
		jt = query.JoinLeft
	case p.eatKeyword("inner"):
	}
	if err := p.expectKeyword("join"); err != nil {
		return err
	}
	if !p.at(tokIdent) {
		return p.errf("expected joined namespace")
	}
	sub := query.New(p.next().text)
	if err := p.expectKeyword("on"); err != nil {
		return err
	}
	var on []query.JoinEntry
	op := query.OpAnd
	for {
		if !p.at(tokIdent) {
			return p.errf("expected join field")
		}
		left := p.next().text
		if !p.at(tokOp) || p.cur().text != "=" {
			return p.errf("joins support '=' conditions")
		}
		p.pos++
		if !p.at(tokIdent) {
			return p.errf("expected join field")
		}
		right := p.next().text
		// Qualified names: strip the namespace part.
		on = append(on, query.JoinEntry{
			Op:         op,
			LeftField:  stripNs(left, q.Namespace),
			RightField: stripNs(right, sub.Namespace),
			Cond:       query.CondEq,
		})
		switch {
		case p.eatKeyword("and"):
			op = query.OpAnd
		case p.eatKeyword("or"):
			op = query.OpOr
		default:
			q.Join(jt, sub, on...)
			return nil
		}
	}
}

func stripNs(field, ns string) string {
	if strings.HasPrefix(field, ns+".") {
		return strings.TrimPrefix(field, ns+".")
	}
	return field
}

// parseConditions parses the WHERE tree into the query's filter nodes.
func (p *parser) parseConditions(q *query.Query) error {
	op := query.OpAnd
	for {
		if p.eatKeyword("not") {
			op = query.OpNot
		}
		if p.at(tokLParen) {
			p.pos++
			q.OpenBracket(op)
			if err := p.parseConditions(q); err != nil {
				return err
			}
			if !p.at(tokRParen) {
				return p.errf("expected ')'")
			}
			p.pos++
			q.CloseBracket()
		} else if err := p.parseCondition(q, op); err != nil {
			return err
		}
		switch {
		case p.eatKeyword("and"):
			op = query.OpAnd
		case p.eatKeyword("or"):
			op = query.OpOr
		default:
			return nil
		}
	}
}

func (p *parser) parseCondition(q *query.Query, op query.OpType) error {
	if p.atKeyword("dwithin") {
		return p.parseDWithin(q, op)
	}
	if !p.at(tokIdent) {
		return p.errf("expected field name")
	}
	field := p.next().text

	switch {
	case p.at(tokOp):
		opTok := p.next().text
		if opTok == "@@" {
			if !p.at(tokString) {
				return p.errf("expected match pattern")
			}
			q.WhereOp(op, field, query.CondMatch, variant.NewString(p.next().text))
			return nil
		}
		cond, ok := condByOp(opTok)
		if !ok {
			return p.errf("unknown operator '%s'", opTok)
		}
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		q.WhereOp(op, field, cond, v)
		return nil
	case p.eatKeyword("in"):
		vals, err := p.parseValueList()
		if err != nil {
			return err
		}
		q.WhereOp(op, field, query.CondSet, vals...)
		return nil
	case p.eatKeyword("allset"):
		vals, err := p.parseValueList()
		if err != nil {
			return err
		}
		q.WhereOp(op, field, query.CondAllSet, vals...)
		return nil
	case p.eatKeyword("range"):
		vals, err := p.parseValueList()
		if err != nil {
			return err
		}
		if len(vals) != 2 {
			return p.errf("RANGE takes two values")
		}
		q.WhereOp(op, field, query.CondRange, vals...)
		return nil
	case p.eatKeyword("like"):
		if !p.at(tokString) {
			return p.errf("expected LIKE pattern")
		}
		q.WhereOp(op, field, query.CondLike, variant.NewString(p.next().text))
		return nil
	case p.eatKeyword("match"):
		if !p.at(tokString) {
			return p.errf("expected match pattern")
		}
		q.WhereOp(op, field, query.CondMatch, variant.NewString(p.next().text))
		return nil
	case p.eatKeyword("is"):
		if p.eatKeyword("not") {
			if err := p.expectKeyword("null"); err != nil {
				return err
			}
			q.WhereOp(op, field, query.CondAny)
			return nil
		}
		if err := p.expectKeyword("null"); err != nil {
			return err
		}
		q.WhereOp(op, field, query.CondEmpty)
		return nil
	}
	return p.errf("expected condition for field '%s'", field)
}

// parseDWithin handles DWITHIN(field, POINT(x y), distance).
func (p *parser) parseDWithin(q *query.Query, op query.OpType) error {
	p.pos++ // dwithin
	if !p.at(tokLParen) {
		return p.errf("expected '(' after DWITHIN")
	}
	p.pos++
	if !p.at(tokIdent) {
		return p.errf("expected field in DWITHIN")
	}
	field := p.next().text
	if !p.at(tokComma) {
		return p.errf("expected ','")
	}
	p.pos++
	if err := p.expectKeyword("point"); err != nil {
		return err
	}
	if !p.at(tokLParen) {
		return p.errf("expected '(' after POINT")
	}
	p.pos++
	x, err := p.parseFloat()
	if err != nil {
		return err
	}
	y, err := p.parseFloat()
	if err != nil {
		return err
	}
	if !p.at(tokRParen) {
		return p.errf("expected ')' closing POINT")
	}
	p.pos++
	if !p.at(tokComma) {
		return p.errf("expected ','")
	}
	p.pos++
	dist, err := p.parseFloat()
	if err != nil {
		return err
	}
	if !p.at(tokRParen) {
		return p.errf("expected ')' closing DWITHIN")
	}
	p.pos++
	q.WhereOp(op, field, query.CondDWithin,
		variant.NewPoint(variant.NewPointXY(x, y)), variant.NewDouble(dist))
	return nil
}

func (p *parser) parseFloat() (float64, error) {
	if !p.at(tokNumber) {
		return 0, p.errf("expected number")
	}
	v, err := strconv.ParseFloat(p.next().text, 64)
	if err != nil {
		return 0, p.errf("bad number")
	}
	return v, nil
}

func condByOp(op string) (query.CondType, bool) {
	switch op {
	case "=":
		return query.CondEq, true
	case "<":
		return query.CondLt, true
	case "<=":
		return query.CondLe, true
	case ">":
		return query.CondGt, true
	case ">=":
		return query.CondGe, true
	}
	return 0, false
}

func (p *parser) parseValue() (variant.Variant, error) {
	switch p.cur().kind {
	case tokNumber:
		text := p.next().text
		if strings.ContainsAny(text, ".eE") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return variant.Null(), p.errf("bad number '%s'", text)
			}
			return variant.NewDouble(f), nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return variant.Null(), p.errf("bad number '%s'", text)
		}
		if n >= -1<<31 && n < 1<<31 {
			return variant.NewInt(int(n)), nil
		}
		return variant.NewInt64(n), nil
	case tokString:
		return variant.NewString(p.next().text), nil
	case tokIdent:
		switch {
		case p.eatKeyword("true"):
			return variant.NewBool(true), nil
		case p.eatKeyword("false"):
			return variant.NewBool(false), nil
		case p.eatKeyword("null"):
			return variant.Null(), nil
		}
	}
	return variant.Null(), p.errf("expected literal value")
}

func (p *parser) parseValueList() ([]variant.Variant, error) {
	if !p.at(tokLParen) {
		return nil, p.errf("expected '('")
	}
	p.pos++
	var out []variant.Variant
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.at(tokComma) {
			p.pos++
			continue
		}
		break
	}
	if !p.at(tokRParen) {
		return nil, p.errf("expected ')'")
	}
	p.pos++
	return out, nil
}

func (p *parser) parseUpdate() (*query.Query, error) {
	p.pos++ // update
	if !p.at(tokIdent) {
		return nil, p.errf("expected namespace name")
	}
	q := query.New(p.next().text)
	q.Type = query.TypeUpdate
	if err := p.expectKeyword("set"); err != nil {
		return nil, err
	}
	for {
		if !p.at(tokIdent) {
			return nil, p.errf("expected field name in SET")
		}
		field := p.next().text
		if !p.at(tokOp) || p.cur().text != "=" {
			return nil, p.errf("expected '=' in SET")
		}
		p.pos++
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		q.UpdateFields = append(q.UpdateFields, query.UpdateField{
			Field:  field,
			Values: variant.VariantArray{v},
		})
		if p.at(tokComma) {
			p.pos++
			continue
		}
		break
	}
	if err := p.parseTail(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseDelete() (*query.Query, error) {
	p.pos++ // delete
	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	if !p.at(tokIdent) {
		return nil, p.errf("expected namespace name")
	}
	q := query.New(p.next().text)
	q.Type = query.TypeDelete
	if err := p.parseTail(q); err != nil {
		return nil, err
	}
	return q, nil
}
