package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AllowedAttributes is the attribute allow-list for comparator calls. A filter
// referencing any other attribute is rejected at parse time, not ignored.
var AllowedAttributes = []string{"created", "from_email"}

// attrQuotePattern matches bare (unquoted) occurrences of the allowed
// attribute names. Some filter producers omit quotes around attribute
// identifiers; FixAttributeQuotes repairs that before parsing.
var attrQuotePattern = regexp.MustCompile(`(^|[^"'\w])(created|from_email)($|[^"'\w])`)

// FixAttributeQuotes wraps bare allowed-attribute names in double quotes.
// Already-quoted occurrences are left untouched.
func FixAttributeQuotes(filterText string) string {
	return attrQuotePattern.ReplaceAllString(filterText, `$1"$2"$3`)
}

// Parse parses filter text into an expression tree. Unknown function names and
// comparator calls on attributes outside the allow-list are rejected eagerly.
func Parse(filterText string) (Expr, error) {
	p := &parser{lex: lexer{input: filterText}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseCall()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &ParseError{Pos: p.tok.pos, Msg: "trailing input after expression"}
	}
	return expr, nil
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.tok.kind != kind {
		return token{}, &ParseError{Pos: p.tok.pos, Msg: "expected " + what}
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// parseCall parses name(arg, ...) and validates the name and, for
// comparators, the attribute argument.
func (p *parser) parseCall() (Expr, error) {
	nameTok, err := p.expect(tokIdent, "function name")
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(nameTok.text)

	if cmp, ok := comparators[name]; ok {
		return p.parseComparison(cmp, nameTok.pos)
	}
	if op, ok := operators[name]; ok {
		return p.parseOperation(op)
	}
	return nil, &ValidationError{Msg: fmt.Sprintf(
		"unrecognized function %q: valid functions are logical operators and comparators", nameTok.text)}
}

// parseComparison parses comp("attr", value).
func (p *parser) parseComparison(cmp Comparator, pos int) (Expr, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}

	attrTok, err := p.expect(tokString, "quoted attribute name")
	if err != nil {
		return nil, err
	}
	if !isAllowedAttribute(attrTok.text) {
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"invalid attribute %q: allowed attributes are %v", attrTok.text, AllowedAttributes)}
	}

	if _, err := p.expect(tokComma, ","); err != nil {
		return nil, err
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}

	return Comparison{Comparator: cmp, Attribute: attrTok.text, Value: value}, nil
}

// parseOperation parses op(call, ...). A single-argument and/or collapses to
// its argument.
func (p *parser) parseOperation(op Operator) (Expr, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}

	var args []Expr
	for {
		arg, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}

	if len(args) == 1 && (op == OpAnd || op == OpOr) {
		return args[0], nil
	}
	return Operation{Operator: op, Arguments: args}, nil
}

// parseValue parses an integer, float, date, datetime, string, list, or
// boolean literal.
func (p *parser) parseValue() (any, error) {
	tok := p.tok
	switch tok.kind {
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: tok.pos, Msg: "invalid integer " + tok.text}
		}
		return n, p.advance()
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &ParseError{Pos: tok.pos, Msg: "invalid float " + tok.text}
		}
		return f, p.advance()
	case tokDate:
		return Date{Raw: tok.text}, p.advance()
	case tokDateTime:
		return DateTime{Raw: tok.text}, p.advance()
	case tokString:
		return tok.text, p.advance()
	case tokLBracket:
		return p.parseList()
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, p.advance()
		case "false":
			return false, p.advance()
		}
		return nil, &ParseError{Pos: tok.pos, Msg: "unexpected identifier " + tok.text}
	default:
		return nil, &ParseError{Pos: tok.pos, Msg: "expected a value"}
	}
}

func (p *parser) parseList() (any, error) {
	if _, err := p.expect(tokLBracket, "["); err != nil {
		return nil, err
	}
	var items []any
	if p.tok.kind != tokRBracket {
		for {
			item, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tokRBracket, "]"); err != nil {
		return nil, err
	}
	return items, nil
}

func isAllowedAttribute(attr string) bool {
	for _, a := range AllowedAttributes {
		if a == attr {
			return true
		}
	}
	return false
}
