package database

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query builds PostgREST filter strings. Values are URL-escaped; column names
// are trusted.
type Query struct {
	parts []string
}

// NewQuery starts an empty query.
func NewQuery() *Query {
	return &Query{}
}

func (q *Query) filter(column, op, value string) *Query {
	q.parts = append(q.parts, column+"="+op+"."+url.QueryEscape(value))
	return q
}

func (q *Query) Eq(column, value string) *Query  { return q.filter(column, "eq", value) }
func (q *Query) Neq(column, value string) *Query { return q.filter(column, "neq", value) }

// EqInt filters on an integer column.
func (q *Query) EqInt(column string, value int) *Query {
	return q.filter(column, "eq", strconv.Itoa(value))
}

// Gte filters column >= t, formatted as RFC 3339 UTC.
func (q *Query) Gte(column string, t time.Time) *Query {
	return q.filter(column, "gte", t.UTC().Format(time.RFC3339Nano))
}

// Lt filters column < t, formatted as RFC 3339 UTC.
func (q *Query) Lt(column string, t time.Time) *Query {
	return q.filter(column, "lt", t.UTC().Format(time.RFC3339Nano))
}

// IsNull filters rows whose column is null.
func (q *Query) IsNull(column string) *Query {
	q.parts = append(q.parts, column+"=is.null")
	return q
}

func (q *Query) Select(columns ...string) *Query {
	q.parts = append(q.parts, "select="+strings.Join(columns, ","))
	return q
}

func (q *Query) OrderAsc(column string) *Query {
	q.parts = append(q.parts, "order="+column+".asc")
	return q
}

func (q *Query) OrderDesc(column string) *Query {
	q.parts = append(q.parts, "order="+column+".desc")
	return q
}

func (q *Query) Limit(n int) *Query {
	if n > 0 {
		q.parts = append(q.parts, "limit="+strconv.Itoa(n))
	}
	return q
}

func (q *Query) Offset(n int) *Query {
	if n > 0 {
		q.parts = append(q.parts, "offset="+strconv.Itoa(n))
	}
	return q
}

// OrderBy sets a multi-column order from terms such as "occurred_at.desc".
func (q *Query) OrderBy(terms ...string) *Query {
	if len(terms) > 0 {
		q.parts = append(q.parts, "order="+strings.Join(terms, ","))
	}
	return q
}

// Build returns the encoded query string without a leading '?'.
func (q *Query) Build() string {
	return strings.Join(q.parts, "&")
}
