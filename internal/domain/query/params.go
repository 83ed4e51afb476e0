package query

// Sort is the result ordering directive. It is always a single value.
type Sort string

const (
	SortNone Sort = "none"
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// Sentinel values used by filter producers to mean "nothing to apply".
const (
	NoFilter = "NO_FILTER"
	NoSort   = "NO_SORT"
)

// QueryParams is the canonical output of filter translation. Timestamps are
// absolute epoch milliseconds at UTC, never relative; nil means unset.
type QueryParams struct {
	TimestampAfter  *int64
	TimestampBefore *int64
	FromEmail       string
	Sort            Sort
}

// IsZero reports whether no filter field is set and sort is none.
func (q QueryParams) IsZero() bool {
	return q.TimestampAfter == nil && q.TimestampBefore == nil &&
		q.FromEmail == "" && (q.Sort == SortNone || q.Sort == "")
}
