package query

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Composer turns rewriter-produced filter and sort text into QueryParams.
// Compose never fails: malformed input degrades to empty params so a bad
// filter can never abort a search.
type Composer struct {
	logger *zap.Logger
}

// NewComposer creates a Composer. A nil logger disables logging.
func NewComposer(logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{logger: logger}
}

// Compose translates a filter expression and sort directive into QueryParams.
// Any parse or validation failure degrades to empty params (no filter, no
// sort), logged at warn.
func (c *Composer) Compose(filterText, sortText string) QueryParams {
	params := QueryParams{Sort: parseSort(sortText)}

	if filterText == "" || filterText == NoFilter {
		return params
	}

	expr, err := Parse(FixAttributeQuotes(filterText))
	if err != nil {
		c.logger.Warn("filter parse failed, search degrades to no filter",
			zap.String("filter", filterText), zap.Error(err))
		return QueryParams{Sort: SortNone}
	}

	if err := c.translate(expr, &params); err != nil {
		c.logger.Warn("filter translation failed, search degrades to no filter",
			zap.String("filter", filterText), zap.Error(err))
		return QueryParams{Sort: SortNone}
	}

	return params
}

// translate walks one level of the expression: the direct child comparisons
// of a root operation, or a lone root comparison. Deeper operator nesting is
// parsed but not translated.
func (c *Composer) translate(expr Expr, params *QueryParams) error {
	switch e := expr.(type) {
	case Operation:
		for _, arg := range e.Arguments {
			cmp, ok := arg.(Comparison)
			if !ok {
				continue
			}
			if err := c.applyComparison(cmp, params); err != nil {
				return err
			}
		}
		return nil
	case Comparison:
		return c.applyComparison(e, params)
	default:
		return fmt.Errorf("unsupported expression type %T", expr)
	}
}

func (c *Composer) applyComparison(cmp Comparison, params *QueryParams) error {
	switch cmp.Attribute {
	case "created":
		ms, err := valueToEpochMillis(cmp.Value)
		if err != nil {
			return fmt.Errorf("created value: %w", err)
		}
		switch cmp.Comparator {
		case CompGTE, CompGT:
			params.TimestampAfter = &ms
		case CompLT, CompLTE:
			params.TimestampBefore = &ms
		}
		return nil
	case "from_email":
		raw, ok := cmp.Value.(string)
		if !ok {
			return fmt.Errorf("from_email value must be a string, got %T", cmp.Value)
		}
		normalized, err := normalizeEmail(raw)
		if err != nil {
			// Invalid sender addresses narrow nothing: leave the field unset
			// rather than filtering on a value that can never match.
			c.logger.Warn("invalid from_email in filter, field left unset",
				zap.String("value", raw), zap.Error(err))
			return nil
		}
		params.FromEmail = normalized
		return nil
	}
	return nil
}

// parseSort reads a sort directive of the form asc("created"), desc("created"),
// or NO_SORT. Only the leading keyword is significant; a sort on any attribute
// other than created is ignored.
func parseSort(sortText string) Sort {
	trimmed := strings.TrimSpace(sortText)
	if trimmed == "" || trimmed == NoSort {
		return SortNone
	}

	var s Sort
	switch {
	case strings.HasPrefix(trimmed, "desc"):
		s = SortDesc
	case strings.HasPrefix(trimmed, "asc"):
		s = SortAsc
	default:
		return SortNone
	}

	// created is the only supported sort key
	if open := strings.IndexByte(trimmed, '('); open >= 0 {
		arg := strings.Trim(trimmed[open+1:], `()"' `)
		if arg != "" && arg != "created" {
			return SortNone
		}
	}
	return s
}

// valueToEpochMillis converts a date literal or bare date string to epoch
// milliseconds at UTC midnight of that calendar date. Datetime literals
// convert at their full instant.
func valueToEpochMillis(v any) (int64, error) {
	switch val := v.(type) {
	case Date:
		return dateToMillis(val.Raw)
	case string:
		return dateToMillis(val)
	case DateTime:
		raw := strings.TrimSuffix(strings.TrimSuffix(val.Raw, "z"), "Z")
		t, err := time.Parse("2006-01-02T15:04:05", raw)
		if err != nil {
			return 0, fmt.Errorf("invalid datetime %q: %w", val.Raw, err)
		}
		return t.UTC().UnixMilli(), nil
	default:
		return 0, fmt.Errorf("unsupported temporal value %T", v)
	}
}

func dateToMillis(raw string) (int64, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli(), nil
}

// normalizeEmail validates an address and returns its normalized form: the
// bare address with the domain lowercased.
func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid email address: %w", err)
	}
	local, domain, found := strings.Cut(addr.Address, "@")
	if !found {
		return "", fmt.Errorf("invalid email address %q", raw)
	}
	return local + "@" + strings.ToLower(domain), nil
}
