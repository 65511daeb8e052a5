package ftfast

import (
	"strings"

	"github.com/narwhaldb/narwhal/dberr"
)

// termOp marks how a query term participates in matching.
type termOp int

const (
	termShould termOp = iota // contributes to rank
	termMust                 // document must contain
	termNot                  // document must not contain
)

// queryTerm is one parsed term of a full-text query.
type queryTerm struct {
	text     string
	op       termOp
	prefix   bool // trailing '*'
	phrase   []string
}

// parseQuery splits a full-text pattern into terms. Grammar: bare
// terms rank, '+term' is mandatory, '-term' excludes, 'term*' asks for
// a prefix match, and a double-quoted group matches as an adjacent
// phrase.
func parseQuery(pattern, extraSymbols string) ([]queryTerm, error) {
	var out []queryTerm
	s := strings.TrimSpace(pattern)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		op := termShould
		switch s[0] {
		case '+':
			op = termMust
			s = s[1:]
		case '-':
			op = termNot
			s = s[1:]
		}
		if len(s) > 0 && s[0] == '"' {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				return nil, dberr.New(dberr.CodeParams, "unterminated phrase in fulltext query")
			}
			raw := s[1 : 1+end]
			s = s[end+2:]
			var words []string
			for _, t := range tokenize(raw, 0, extraSymbols) {
				words = append(words, t.text)
			}
			if len(words) > 0 {
				out = append(out, queryTerm{op: op, phrase: words, text: words[0]})
			}
			continue
		}
		end := strings.IndexAny(s, " \t")
		word := s
		if end >= 0 {
			word, s = s[:end], s[end:]
		} else {
			s = ""
		}
		prefix := strings.HasSuffix(word, "*")
		word = strings.TrimSuffix(word, "*")
		toks := tokenize(word, 0, extraSymbols)
		if len(toks) == 0 {
			continue
		}
		out = append(out, queryTerm{text: toks[0].text, op: op, prefix: prefix})
	}
	if len(out) == 0 {
		return nil, dberr.New(dberr.CodeParams, "empty fulltext query")
	}
	return out, nil
}

// expandSynonyms returns the term plus configured alternatives.
func (c *Config) expandSynonyms(term string) []string {
	out := []string{term}
	for _, s := range c.Synonyms {
		for _, t := range s.Tokens {
			if t == term {
				out = append(out, s.Alternatives...)
			}
		}
	}
	return out
}
