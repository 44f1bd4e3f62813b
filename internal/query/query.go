// Package query defines the query tree and the parser that builds it from
// expression strings. Trees reference field names only and can be run
// against any generation.
package query

import (
	"math"
	"strconv"
	"strings"
)

// Node is one node of a query tree. The set of variants is closed:
// Term, Wildcard, Range, Or, And and MatchAll.
type Node interface {
	// String renders the node in a canonical, re-parseable form.
	String() string
	isNode()
}

// Term matches documents containing Value in Field.
type Term struct {
	Field string
	Value string
}

// Wildcard matches documents containing any term of Field that matches
// Pattern. '*' matches any run of characters, '?' exactly one; a
// backslash makes the next character literal.
type Wildcard struct {
	Field   string
	Pattern string
}

// Range matches documents whose numeric Field value lies in [Low, High].
// Use math.MinInt64 / math.MaxInt64 for open bounds.
type Range struct {
	Field string
	Low   int64
	High  int64
}

// Or matches the union of its clauses; scores add up.
type Or struct {
	Clauses []Node
}

// And matches the intersection of its clauses; scores add up.
type And struct {
	Clauses []Node
}

// MatchAll matches every document of the generation.
type MatchAll struct{}

func (Term) isNode()     {}
func (Wildcard) isNode() {}
func (Range) isNode()    {}
func (Or) isNode()       {}
func (And) isNode()      {}
func (MatchAll) isNode() {}

func (t Term) String() string {
	return t.Field + ":" + escape(t.Value)
}

func (w Wildcard) String() string {
	return w.Field + ":" + w.Pattern
}

func (r Range) String() string {
	return r.Field + ":[" + bound(r.Low, "MIN") + " TO " + bound(r.High, "MAX") + "]"
}

func (o Or) String() string { return join(o.Clauses, " OR ") }

func (a And) String() string { return join(a.Clauses, " AND ") }

func (MatchAll) String() string { return "*:*" }

func bound(v int64, sentinel string) string {
	if (sentinel == "MIN" && v == math.MinInt64) || (sentinel == "MAX" && v == math.MaxInt64) {
		return sentinel
	}
	return strconv.FormatInt(v, 10)
}

func join(clauses []Node, sep string) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

const specialChars = `\:()[]{}"*? +-!&|`

func escape(s string) string {
	if !strings.ContainsAny(s, specialChars) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
