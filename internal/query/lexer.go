package query

import "strings"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokField
	tokQuoted
	tokRange
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int

	// range tokens only
	lowInclusive  bool
	highInclusive bool
}

// lex splits an expression into tokens. Word tokens keep their backslash
// escapes so the parser can tell literal from wildcard '*' and '?'.
func lex(expr string) ([]token, *syntaxErr) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '"':
			end := findUnescaped(expr, i+1, '"')
			if end < 0 {
				return nil, &syntaxErr{pos: i, reason: "unterminated quoted text"}
			}
			toks = append(toks, token{kind: tokQuoted, text: unescape(expr[i+1 : end]), pos: i})
			i = end + 1
		case c == '[' || c == '{':
			end := strings.IndexAny(expr[i+1:], "]}")
			if end < 0 {
				return nil, &syntaxErr{pos: i, reason: "unterminated range"}
			}
			end += i + 1
			toks = append(toks, token{
				kind:          tokRange,
				text:          expr[i+1 : end],
				pos:           i,
				lowInclusive:  c == '[',
				highInclusive: expr[end] == ']',
			})
			i = end + 1
		case c == ']' || c == '}':
			return nil, &syntaxErr{pos: i, reason: "unexpected " + string(c)}
		default:
			start := i
			for i < len(expr) {
				c := expr[i]
				if c == '\\' {
					if i+1 >= len(expr) {
						return nil, &syntaxErr{pos: i, reason: "dangling escape"}
					}
					i += 2
					continue
				}
				if strings.IndexByte(" \t\n\r()[]{}\":", c) >= 0 {
					break
				}
				i++
			}
			raw := expr[start:i]
			if i < len(expr) && expr[i] == ':' {
				if raw == "" {
					return nil, &syntaxErr{pos: i, reason: "missing field name before ':'"}
				}
				toks = append(toks, token{kind: tokField, text: unescape(raw), pos: start})
				i++
				continue
			}
			if raw == "" {
				return nil, &syntaxErr{pos: i, reason: "unexpected " + string(expr[i])}
			}
			toks = append(toks, wordToken(raw, start))
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(expr)}), nil
}

func wordToken(raw string, pos int) token {
	switch raw {
	case "AND", "&&":
		return token{kind: tokAnd, text: raw, pos: pos}
	case "OR", "||":
		return token{kind: tokOr, text: raw, pos: pos}
	case "NOT", "!":
		return token{kind: tokNot, text: raw, pos: pos}
	}
	return token{kind: tokWord, text: raw, pos: pos}
}

func findUnescaped(s string, from int, target byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == target {
			return i
		}
	}
	return -1
}

// unescape drops backslashes, keeping the escaped characters.
func unescape(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

// hasWildcard reports whether raw contains an unescaped '*' or '?'.
func hasWildcard(raw string) bool {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '*', '?':
			return true
		}
	}
	return false
}

// wildcardPattern converts raw word text into a Wildcard pattern: escapes
// are kept only where they protect '*', '?' or '\'.
func wildcardPattern(raw string, fold bool) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) {
			i++
			next := raw[i]
			if next == '*' || next == '?' || next == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(next)
			continue
		}
		b.WriteByte(c)
	}
	if fold {
		return strings.ToLower(b.String())
	}
	return b.String()
}
