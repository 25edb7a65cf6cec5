package query

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/schema"
)

func table(t *testing.T) *schema.Table {
	t.Helper()
	tbl, err := schema.NewBuilder("products").
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("name", schema.String).
		Column("price", schema.Float).
		Column("active", schema.Boolean).
		Build()
	require.NoError(t, err)
	return tbl
}

var all = Options{Filtering: true, Sorting: true, Pagination: true, DefaultLimit: 10, MaxLimit: 100}

func TestFilters(t *testing.T) {
	q := url.Values{}
	q.Set("price__gte", "10")
	q.Set("price__lte", "50")
	q.Set("name__like", "wid")
	q.Set("active", "yes")
	q.Set("id__in", "1, 2,x")
	q.Set("color__eq", "red")    // unknown field
	q.Set("price__between", "1") // unknown operator
	q.Set("utm_source", "mail")  // unrelated parameter
	q.Set("page", "2")

	preds := Filters(table(t), FromValues(q))
	assert.Equal(t, []Predicate{
		{Field: "active", Op: Eq, Value: true},
		{Field: "id", Op: In, Value: []any{int64(1), int64(2), "x"}},
		{Field: "name", Op: Like, Value: "%wid%"},
		{Field: "price", Op: Gte, Value: 10.0},
		{Field: "price", Op: Lte, Value: 50.0},
	}, preds)
}

func TestFiltersNativeValues(t *testing.T) {
	preds := Filters(table(t), map[string]any{
		"id__in":    []any{float64(3), "4"},
		"price__ne": "free",
	})
	assert.Equal(t, []Predicate{
		{Field: "id", Op: In, Value: []any{int64(3), int64(4)}},
		{Field: "price", Op: Ne, Value: "free"},
	}, preds)
}

func TestSort(t *testing.T) {
	assert.Equal(t, []Order{{Field: "price", Desc: true}, {Field: "name"}}, Sort(table(t), "-price, name,bogus,-"))
	assert.Empty(t, Sort(table(t), ""))
}

func TestWindow(t *testing.T) {
	cases := []struct {
		page, limit         string
		wantPage, wantLimit int
	}{
		{"", "", 1, 10},
		{"3", "25", 3, 25},
		{"0", "0", 1, 1},
		{"-4", "500", 1, 100},
		{"x", "y", 1, 10},
	}
	for _, tc := range cases {
		p, l := Window(tc.page, tc.limit, 10, 100)
		assert.Equal(t, tc.wantPage, p, "page %q", tc.page)
		assert.Equal(t, tc.wantLimit, l, "limit %q", tc.limit)
	}
}

func TestParseRespectsToggles(t *testing.T) {
	params := map[string]any{"price__gt": "1", "sort": "-price", "page": "2", "limit": "5"}

	d := Parse(table(t), params, all)
	assert.Len(t, d.Predicates, 1)
	assert.Len(t, d.Orders, 1)
	assert.Equal(t, 2, d.Page)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, 5, d.Offset())

	d = Parse(table(t), params, Options{})
	assert.Empty(t, d.Predicates)
	assert.Empty(t, d.Orders)
	assert.False(t, d.Paginate)
}

func TestResult(t *testing.T) {
	items := []map[string]any{{"id": 1}, {"id": 2}}

	p := Descriptor{Page: 1, Limit: 2, Paginate: true}.Result(items, 4)
	assert.Equal(t, 2, p.Pages)
	require.NotNil(t, p.NextPage)
	assert.Equal(t, 2, *p.NextPage)
	assert.Nil(t, p.PrevPage)

	p = Descriptor{Page: 2, Limit: 2, Paginate: true}.Result(items, 4)
	assert.Nil(t, p.NextPage)
	require.NotNil(t, p.PrevPage)
	assert.Equal(t, 1, *p.PrevPage)

	p = Descriptor{Page: 1, Limit: 10, Paginate: true}.Result(items, 2)
	assert.Equal(t, 1, p.Pages)
	assert.Nil(t, p.NextPage)

	p = Descriptor{Page: 1, Limit: 10, Paginate: true}.Result(nil, 0)
	assert.Equal(t, 0, p.Pages)
	assert.NotNil(t, p.Items)

	p = Descriptor{Page: 100000000000000000, Limit: 100, Paginate: true}.Result(nil, 3)
	assert.Equal(t, 1, p.Pages)
	assert.Nil(t, p.NextPage, "pages past the end have no next page")
	require.NotNil(t, p.PrevPage)

	p = Descriptor{}.Result(items, 2)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 2, p.Limit)
	assert.Equal(t, 1, p.Pages)
}

func TestOffsetSaturates(t *testing.T) {
	assert.Equal(t, 0, Descriptor{Page: 1, Limit: 10}.Offset())
	assert.Equal(t, 20, Descriptor{Page: 3, Limit: 10}.Offset())
	assert.Equal(t, math.MaxInt, Descriptor{Page: 100000000000000000, Limit: 100}.Offset())
	assert.Equal(t, math.MaxInt, Descriptor{Page: math.MaxInt, Limit: 2}.Offset())
}
