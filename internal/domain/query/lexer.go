package query

import (
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokDate
	tokDateTime
	tokInt
	tokFloat
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string // for strings/dates: unquoted contents
	pos  int
}

var (
	datePattern     = regexp.MustCompile(`^\d{4}-[01]\d-[0-3]\d$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-[01]\d-[0-3]\dT[0-2]\d:[0-5]\d:[0-5]\d[Zz]?$`)
	bareDatePrefix  = regexp.MustCompile(`^\d{4}-[01]\d-[0-3]\d(T[0-2]\d:[0-5]\d:[0-5]\d[Zz]?)?`)
	numberPattern   = regexp.MustCompile(`^[+-]?\d+(\.\d+)?`)
)

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket, pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket, pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, pos: start}, nil
	case '"', '\'':
		return l.scanQuoted(c)
	}

	rest := l.input[l.pos:]

	// Dates and datetimes take priority over numbers: "2025-03-01" is a date
	// literal, not integer arithmetic.
	if m := bareDatePrefix.FindString(rest); m != "" {
		l.pos += len(m)
		return token{kind: classifyTemporal(m), text: m, pos: start}, nil
	}

	if m := numberPattern.FindString(rest); m != "" {
		l.pos += len(m)
		kind := tokInt
		if strings.Contains(m, ".") {
			kind = tokFloat
		}
		return token{kind: kind, text: m, pos: start}, nil
	}

	if isIdentStart(c) {
		end := l.pos
		for end < len(l.input) && isIdentPart(l.input[end]) {
			end++
		}
		text := l.input[l.pos:end]
		l.pos = end
		return token{kind: tokIdent, text: text, pos: start}, nil
	}

	return token{}, &ParseError{Pos: start, Msg: "unexpected character " + string(c)}
}

// scanQuoted reads a quoted literal and classifies its contents: a quoted
// date or datetime is a temporal literal, anything else is a plain string.
func (l *lexer) scanQuoted(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	end := l.pos
	for end < len(l.input) && l.input[end] != quote {
		end++
	}
	if end >= len(l.input) {
		return token{}, &ParseError{Pos: start, Msg: "unterminated string"}
	}
	text := l.input[l.pos:end]
	l.pos = end + 1 // closing quote

	if datePattern.MatchString(text) || dateTimePattern.MatchString(text) {
		return token{kind: classifyTemporal(text), text: text, pos: start}, nil
	}
	return token{kind: tokString, text: text, pos: start}, nil
}

func classifyTemporal(s string) tokenKind {
	if dateTimePattern.MatchString(s) {
		return tokDateTime
	}
	return tokDate
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
