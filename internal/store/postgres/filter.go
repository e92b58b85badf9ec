package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// filter builds a query with numbered placeholders from optional clauses.
type filter struct {
	sql  strings.Builder
	args []any
}

func newFilter(base string, args ...any) *filter {
	f := &filter{args: args}
	f.sql.WriteString(base)
	return f
}

// arg registers v and returns its placeholder.
func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return "$" + strconv.Itoa(len(f.args))
}

func (f *filter) and(cond string, v any) {
	f.sql.WriteString(" AND " + cond + " " + f.arg(v))
}

// window applies the kind and [Since, Until) filters of opts.
func (f *filter) window(kindCol string, opts domain.ListOpts) {
	if opts.Kind != "" {
		f.and(kindCol+" =", string(opts.Kind))
	}
	if opts.Since != nil {
		f.and("created_at >=", *opts.Since)
	}
	if opts.Until != nil {
		f.and("created_at <", *opts.Until)
	}
}

// page appends the ordering and the LIMIT/OFFSET of opts.
func (f *filter) page(orderBy string, opts domain.ListOpts) {
	f.sql.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		f.sql.WriteString(" LIMIT " + f.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		f.sql.WriteString(" OFFSET " + f.arg(opts.Offset))
	}
}

func (f *filter) String() string { return f.sql.String() }
