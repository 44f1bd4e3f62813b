package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
)

// Parser turns query expressions into trees.
//
// Grammar, loosely:
//
//	query   := orExpr
//	orExpr  := andExpr ( [OR] andExpr )*
//	andExpr := clause ( AND clause )*
//	clause  := [field ':'] ( '(' orExpr ')' | range | "quoted" | word )
//	range   := ('[' | '{') low TO high (']' | '}')
//
// Adjacent clauses without an operator are OR-ed. A word without a field
// applies to every default field. Trailing '*' makes a prefix query;
// a leading '*' or '?' needs AllowLeadingWildcard.
type Parser struct {
	Analyzer             analyzer.Analyzer
	DefaultFields        []string
	AllowLeadingWildcard bool
	// Schema, when set, tells the parser which fields are Int or Keyword.
	// Unknown fields are treated as text.
	Schema map[string]document.FieldType
}

type syntaxErr struct {
	pos    int
	reason string
}

// Parse parses expr. An empty or blank expression yields MatchAll.
func (p *Parser) Parse(expr string) (Node, error) {
	if strings.TrimSpace(expr) == "" {
		return MatchAll{}, nil
	}
	toks, lerr := lex(expr)
	if lerr != nil {
		return nil, p.fail(expr, lerr)
	}
	ps := &parseState{p: p, toks: toks, fields: p.DefaultFields}
	if len(ps.fields) == 0 {
		ps.fields = []string{"contents"}
	}
	node, perr := ps.parseOr()
	if perr == nil && ps.peek().kind != tokEOF {
		t := ps.peek()
		if t.kind == tokRParen {
			perr = &syntaxErr{pos: t.pos, reason: "unbalanced ')'"}
		} else {
			perr = &syntaxErr{pos: t.pos, reason: "unexpected token"}
		}
	}
	if perr != nil {
		return nil, p.fail(expr, perr)
	}
	if node == nil {
		return Or{}, nil
	}
	return node, nil
}

func (p *Parser) fail(expr string, e *syntaxErr) error {
	return &apperrors.QuerySyntaxError{Expression: expr, Pos: e.pos, Reason: e.reason}
}

func (p *Parser) analyze(text string) []string {
	if p.Analyzer == nil {
		return analyzer.Standard{}.Analyze(text)
	}
	return p.Analyzer.Analyze(text)
}

func (p *Parser) fieldType(field string) document.FieldType {
	if t, ok := p.Schema[field]; ok {
		return t
	}
	return document.Text
}

type parseState struct {
	p      *Parser
	toks   []token
	i      int
	fields []string
	// explicit is set while fields come from a field qualifier rather than
	// the parser's defaults.
	explicit bool
}

func (s *parseState) peek() token { return s.toks[s.i] }

func (s *parseState) next() token {
	t := s.toks[s.i]
	if t.kind != tokEOF {
		s.i++
	}
	return t
}

func startsClause(k tokenKind) bool {
	switch k {
	case tokWord, tokField, tokQuoted, tokRange, tokLParen, tokNot:
		return true
	}
	return false
}

func (s *parseState) parseOr() (Node, *syntaxErr) {
	if t := s.peek(); t.kind == tokOr || t.kind == tokAnd {
		return nil, &syntaxErr{pos: t.pos, reason: "operator " + t.text + " without left operand"}
	}
	var clauses []Node
	for {
		n, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		if n != nil {
			clauses = append(clauses, n)
		}
		t := s.peek()
		if t.kind == tokOr {
			s.next()
			if !startsClause(s.peek().kind) {
				return nil, &syntaxErr{pos: t.pos, reason: "operator OR without right operand"}
			}
			continue
		}
		if startsClause(t.kind) {
			continue
		}
		break
	}
	return combine(clauses, false), nil
}

func (s *parseState) parseAnd() (Node, *syntaxErr) {
	var clauses []Node
	n, err := s.parseClause()
	if err != nil {
		return nil, err
	}
	if n != nil {
		clauses = append(clauses, n)
	}
	for s.peek().kind == tokAnd {
		op := s.next()
		if !startsClause(s.peek().kind) {
			return nil, &syntaxErr{pos: op.pos, reason: "operator AND without right operand"}
		}
		n, err := s.parseClause()
		if err != nil {
			return nil, err
		}
		if n != nil {
			clauses = append(clauses, n)
		}
	}
	return combine(clauses, true), nil
}

func (s *parseState) parseClause() (Node, *syntaxErr) {
	fields := s.fields
	explicitField := s.explicit
	t := s.next()
	if t.kind == tokField {
		fields = []string{t.text}
		explicitField = true
		t = s.next()
	}

	switch t.kind {
	case tokNot:
		return nil, &syntaxErr{pos: t.pos, reason: "NOT is not supported"}
	case tokLParen:
		saved, savedExplicit := s.fields, s.explicit
		s.fields, s.explicit = fields, explicitField
		n, err := s.parseOr()
		s.fields, s.explicit = saved, savedExplicit
		if err != nil {
			return nil, err
		}
		if s.peek().kind != tokRParen {
			return nil, &syntaxErr{pos: t.pos, reason: "unbalanced '('"}
		}
		s.next()
		return n, nil
	case tokRange:
		return s.rangeClause(t, fields, explicitField)
	case tokQuoted:
		return s.perField(fields, func(f string) (Node, *syntaxErr) {
			return s.termClause(f, t.text), nil
		})
	case tokWord:
		if t.text == "*" && len(fields) == 1 && fields[0] == "*" {
			return MatchAll{}, nil
		}
		if !explicitField && (t.text[0] == '-' || t.text[0] == '+') {
			return nil, &syntaxErr{pos: t.pos, reason: "operator " + t.text[:1] + " is not supported"}
		}
		return s.perField(fields, func(f string) (Node, *syntaxErr) {
			return s.wordClause(f, t, explicitField)
		})
	case tokRParen:
		return nil, &syntaxErr{pos: t.pos, reason: "unbalanced ')'"}
	case tokEOF:
		return nil, &syntaxErr{pos: t.pos, reason: "unexpected end of query"}
	case tokField:
		return nil, &syntaxErr{pos: t.pos, reason: "field " + t.text + " follows another field"}
	default:
		return nil, &syntaxErr{pos: t.pos, reason: "unexpected operator " + t.text}
	}
}

// perField builds one leaf per field and ORs them.
func (s *parseState) perField(fields []string, leaf func(string) (Node, *syntaxErr)) (Node, *syntaxErr) {
	var clauses []Node
	for _, f := range fields {
		n, err := leaf(f)
		if err != nil {
			return nil, err
		}
		if n != nil {
			clauses = append(clauses, n)
		}
	}
	return combine(clauses, false), nil
}

// wordClause builds the leaf for one field. A default Int field that cannot
// hold the word contributes nothing; a qualified one is an error.
func (s *parseState) wordClause(field string, t token, explicit bool) (Node, *syntaxErr) {
	typ := s.p.fieldType(field)
	if typ == document.Int {
		v, err := strconv.ParseInt(unescape(t.text), 10, 64)
		if err != nil || hasWildcard(t.text) {
			if !explicit {
				return nil, nil
			}
			return nil, &syntaxErr{pos: t.pos, reason: "field " + field + " is numeric; " + strconv.Quote(t.text) + " is not an integer"}
		}
		return Range{Field: field, Low: v, High: v}, nil
	}
	if hasWildcard(t.text) {
		if (t.text[0] == '*' || t.text[0] == '?') && !s.p.AllowLeadingWildcard {
			return nil, &syntaxErr{pos: t.pos, reason: "leading wildcard is not allowed"}
		}
		return Wildcard{Field: field, Pattern: wildcardPattern(t.text, typ != document.Keyword)}, nil
	}
	return s.termClause(field, unescape(t.text)), nil
}

// termClause analyzes text for field. Several resulting terms are AND-ed;
// none yields nil.
func (s *parseState) termClause(field, text string) Node {
	if s.p.fieldType(field) == document.Keyword {
		return Term{Field: field, Value: text}
	}
	terms := s.p.analyze(text)
	clauses := make([]Node, 0, len(terms))
	for _, term := range terms {
		clauses = append(clauses, Term{Field: field, Value: term})
	}
	return combine(clauses, true)
}

func (s *parseState) rangeClause(t token, fields []string, explicit bool) (Node, *syntaxErr) {
	parts := strings.Fields(t.text)
	if len(parts) != 3 || parts[1] != "TO" {
		return nil, &syntaxErr{pos: t.pos, reason: "range must have the form [low TO high]"}
	}
	low, err := parseBound(parts[0], math.MinInt64)
	if err != nil {
		return nil, &syntaxErr{pos: t.pos, reason: "invalid range lower bound " + strconv.Quote(parts[0])}
	}
	high, err := parseBound(parts[2], math.MaxInt64)
	if err != nil {
		return nil, &syntaxErr{pos: t.pos, reason: "invalid range upper bound " + strconv.Quote(parts[2])}
	}
	if !t.lowInclusive && low != math.MinInt64 {
		if low == math.MaxInt64 {
			return Or{}, nil
		}
		low++
	}
	if !t.highInclusive && high != math.MaxInt64 {
		if high == math.MinInt64 {
			return Or{}, nil
		}
		high--
	}
	return s.perField(fields, func(f string) (Node, *syntaxErr) {
		if typ, ok := s.p.Schema[f]; ok && typ != document.Int {
			if !explicit {
				return nil, nil
			}
			return nil, &syntaxErr{pos: t.pos, reason: "range on non-numeric field " + f}
		}
		return Range{Field: f, Low: low, High: high}, nil
	})
}

func parseBound(s string, open int64) (int64, error) {
	switch s {
	case "*":
		return open, nil
	case "MIN":
		return math.MinInt64, nil
	case "MAX":
		return math.MaxInt64, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// combine folds clauses into one node, flattening nested nodes of the same
// kind. It returns nil for no clauses.
func combine(clauses []Node, and bool) Node {
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	}
	flat := make([]Node, 0, len(clauses))
	for _, c := range clauses {
		switch n := c.(type) {
		case And:
			if and {
				flat = append(flat, n.Clauses...)
				continue
			}
		case Or:
			if !and && len(n.Clauses) > 0 {
				flat = append(flat, n.Clauses...)
				continue
			}
		}
		flat = append(flat, c)
	}
	if and {
		return And{Clauses: flat}
	}
	return Or{Clauses: flat}
}
