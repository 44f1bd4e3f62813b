package query

import "strings"

type patternKind uint8

const (
	patLiteral patternKind = iota
	patOne
	patAny
)

type patternElem struct {
	kind patternKind
	r    rune
}

// Matcher is a compiled wildcard pattern.
type Matcher struct {
	elems  []patternElem
	prefix string
}

// Compile parses the pattern once so it can be matched against many terms.
func (w Wildcard) Compile() *Matcher {
	m := &Matcher{}
	var prefix strings.Builder
	inPrefix := true
	runes := []rune(w.Pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			i++
			m.elems = append(m.elems, patternElem{kind: patLiteral, r: runes[i]})
			if inPrefix {
				prefix.WriteRune(runes[i])
			}
		case r == '*':
			m.elems = append(m.elems, patternElem{kind: patAny})
			inPrefix = false
		case r == '?':
			m.elems = append(m.elems, patternElem{kind: patOne})
			inPrefix = false
		default:
			m.elems = append(m.elems, patternElem{kind: patLiteral, r: r})
			if inPrefix {
				prefix.WriteRune(r)
			}
		}
	}
	m.prefix = prefix.String()
	return m
}

// Prefix is the literal text before the first wildcard. Only dictionary
// terms starting with it can match.
func (m *Matcher) Prefix() string { return m.prefix }

// PrefixOnly reports whether the pattern is a literal followed by a
// single trailing '*', so every term with Prefix matches.
func (m *Matcher) PrefixOnly() bool {
	n := len(m.elems)
	if n == 0 || m.elems[n-1].kind != patAny {
		return false
	}
	for _, e := range m.elems[:n-1] {
		if e.kind != patLiteral {
			return false
		}
	}
	return true
}

// Match reports whether term matches the whole pattern.
func (m *Matcher) Match(term string) bool {
	t := []rune(term)
	p := m.elems
	pi, ti := 0, 0
	starP, starT := -1, 0
	for ti < len(t) {
		if pi < len(p) {
			e := p[pi]
			if e.kind == patOne || (e.kind == patLiteral && e.r == t[ti]) {
				pi++
				ti++
				continue
			}
			if e.kind == patAny {
				starP, starT = pi, ti
				pi++
				continue
			}
		}
		if starP >= 0 {
			pi = starP + 1
			starT++
			ti = starT
			continue
		}
		return false
	}
	for pi < len(p) && p[pi].kind == patAny {
		pi++
	}
	return pi == len(p)
}
