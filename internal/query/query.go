// Package query builds the per-request list descriptor: filter predicates,
// ordering and the page window.
package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"tablegate/internal/convert"
	"tablegate/internal/schema"
)

type Op string

const (
	Eq   Op = "eq"
	Ne   Op = "ne"
	Gt   Op = "gt"
	Gte  Op = "gte"
	Lt   Op = "lt"
	Lte  Op = "lte"
	Like Op = "like"
	In   Op = "in"
)

var ops = map[Op]struct{}{Eq: {}, Ne: {}, Gt: {}, Gte: {}, Lt: {}, Lte: {}, Like: {}, In: {}}

// Predicate is one "field op value" condition. For In, Value is []any; for
// Like, Value is the pattern including the % markers.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Reserved query keys that are never treated as filters.
var reserved = map[string]struct{}{"page": {}, "limit": {}, "sort": {}}

// Options are the per-table toggles that shape a descriptor.
type Options struct {
	Filtering    bool
	Sorting      bool
	Pagination   bool
	DefaultLimit int
	MaxLimit     int
}

// Descriptor is consumed once by a store and then discarded.
type Descriptor struct {
	Table      *schema.Table
	Predicates []Predicate
	Orders     []Order
	Page       int
	Limit      int
	Paginate   bool
}

// Offset is the number of rows skipped before the page. It saturates at
// math.MaxInt for pages far past the end.
func (d Descriptor) Offset() int {
	if d.Page <= 1 || d.Limit <= 0 {
		return 0
	}
	if d.Page-1 > math.MaxInt/d.Limit {
		return math.MaxInt
	}
	return (d.Page - 1) * d.Limit
}

// Parse builds a descriptor from list arguments. params holds filter values
// as strings, lists or native scalars; page, limit and sort are read from the
// same map.
func Parse(t *schema.Table, params map[string]any, o Options) Descriptor {
	d := Descriptor{Table: t, Page: 1, Paginate: o.Pagination}
	if o.Filtering {
		d.Predicates = Filters(t, params)
	}
	if o.Sorting {
		d.Orders = Sort(t, stringOf(params["sort"]))
	}
	if o.Pagination {
		d.Page, d.Limit = Window(stringOf(params["page"]), stringOf(params["limit"]), o.DefaultLimit, o.MaxLimit)
	}
	return d
}

// FromValues flattens a query string, keeping the first value of each key.
func FromValues(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// Filters turns "field__op" keys into predicates. Unknown fields, unknown
// operators and reserved keys are skipped. Predicates come back sorted by key
// so equal inputs give equal descriptors.
func Filters(t *schema.Table, params map[string]any) []Predicate {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Predicate
	for _, key := range keys {
		if _, skip := reserved[key]; skip {
			continue
		}
		field, op := key, Eq
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, op = key[:i], Op(key[i+2:])
		}
		if _, ok := ops[op]; !ok {
			continue
		}
		c, ok := t.Column(field)
		if !ok {
			continue
		}

		raw := params[key]
		switch op {
		case Like:
			out = append(out, Predicate{Field: field, Op: Like, Value: "%" + stringOf(raw) + "%"})
		case In:
			var items []any
			switch v := raw.(type) {
			case []any:
				items = v
			case []string:
				for _, s := range v {
					items = append(items, s)
				}
			default:
				for _, p := range strings.Split(stringOf(v), ",") {
					if p = strings.TrimSpace(p); p != "" {
						items = append(items, p)
					}
				}
			}
			vals := make([]any, 0, len(items))
			for _, it := range items {
				vals = append(vals, convert.Loose(c, it))
			}
			out = append(out, Predicate{Field: field, Op: In, Value: vals})
		default:
			out = append(out, Predicate{Field: field, Op: op, Value: convert.Loose(c, raw)})
		}
	}
	return out
}

// Sort parses "a,-b" into ascending a then descending b.
func Sort(t *schema.Table, raw string) []Order {
	var out []Order
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimPrefix(p, "-")
		if p == "" || !t.HasColumn(p) {
			continue
		}
		out = append(out, Order{Field: p, Desc: desc})
	}
	return out
}

// Window reads page and limit. Bad values fall back to the defaults, limit
// is clamped to [1, max].
func Window(pageRaw, limitRaw string, def, max int) (page, limit int) {
	if max <= 0 {
		max = MaxLimit
	}
	if def <= 0 {
		def = DefaultLimit
	}
	if def > max {
		def = max
	}

	page = 1
	if n, err := strconv.Atoi(strings.TrimSpace(pageRaw)); err == nil && n > 1 {
		page = n
	}

	limit = def
	if n, err := strconv.Atoi(strings.TrimSpace(limitRaw)); err == nil {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return page, limit
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
