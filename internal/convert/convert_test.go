package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/apperr"
	"tablegate/internal/schema"
)

func productTable(t *testing.T) *schema.Table {
	t.Helper()
	tbl, err := schema.NewBuilder("products").
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("name", schema.String).
		Column("price", schema.Float).
		Column("stock", schema.Integer, schema.WithDefault()).
		Column("active", schema.Boolean, schema.Nullable()).
		Column("tags", schema.JSON, schema.Nullable()).
		Column("released_at", schema.Timestamp, schema.Nullable()).
		Column(schema.CreatedAt, schema.Timestamp).
		Column(schema.UpdatedAt, schema.Timestamp).
		Build()
	require.NoError(t, err)
	return tbl
}

func col(t *testing.T, name string) schema.Column {
	c, ok := productTable(t).Column(name)
	require.True(t, ok)
	return c
}

func TestValueInteger(t *testing.T) {
	c := col(t, "stock")
	for in, want := range map[any]int64{float64(3): 3, "42": 42, " 7 ": 7, "8.0": 8, int64(9): 9} {
		got, err := Value(c, in)
		require.NoError(t, err, "%v", in)
		assert.Equal(t, want, got)
	}
	_, err := Value(c, 2.5)
	assert.EqualError(t, err, "must be an integer, got number")
	_, err = Value(c, "abc")
	assert.EqualError(t, err, "must be an integer, got string")
	_, err = Value(c, true)
	assert.EqualError(t, err, "must be an integer, got boolean")
}

func TestValueFloat(t *testing.T) {
	c := col(t, "price")
	got, err := Value(c, "12.50")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got)

	got, err = Value(c, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	_, err = Value(c, "NaN")
	assert.Error(t, err)
	_, err = Value(c, map[string]any{})
	assert.EqualError(t, err, "must be a number, got object")
}

func TestValueBoolean(t *testing.T) {
	c := col(t, "active")
	for _, s := range []string{"true", "1", "YES", "On"} {
		got, err := Value(c, s)
		require.NoError(t, err, s)
		assert.Equal(t, true, got, s)
	}
	for _, s := range []string{"false", "0", "no", "OFF"} {
		got, err := Value(c, s)
		require.NoError(t, err, s)
		assert.Equal(t, false, got, s)
	}
	_, err := Value(c, "maybe")
	assert.EqualError(t, err, "must be a boolean, got string")
	_, err = Value(c, float64(1))
	assert.Error(t, err)
}

func TestValueStringAndJSON(t *testing.T) {
	got, err := Value(col(t, "name"), 12.5)
	require.NoError(t, err)
	assert.Equal(t, "12.5", got)

	_, err = Value(col(t, "name"), []any{"a"})
	assert.EqualError(t, err, "must be a string, got array")

	tags := col(t, "tags")
	obj := map[string]any{"k": "v"}
	got, err = Value(tags, obj)
	require.NoError(t, err)
	assert.Equal(t, obj, got)

	_, err = Value(tags, "[1,2]")
	assert.EqualError(t, err, "must be a JSON object or array, got string")
}

func TestValueTimestampPassesThrough(t *testing.T) {
	got, err := Value(col(t, "released_at"), "not-even-a-date")
	require.NoError(t, err)
	assert.Equal(t, "not-even-a-date", got)
}

func TestValueNull(t *testing.T) {
	got, err := Value(col(t, "active"), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Value(col(t, "name"), nil)
	assert.EqualError(t, err, "cannot be null")
}

func TestCreateCollectsAllErrors(t *testing.T) {
	tbl := productTable(t)
	data, errs := Create(tbl, map[string]any{"price": "cheap", "active": "maybe"})
	assert.Nil(t, data)
	assert.ElementsMatch(t, []apperr.FieldError{
		{Field: "name", Message: "field is required"},
		{Field: "price", Message: "must be a number, got string"},
		{Field: "active", Message: "must be a boolean, got string"},
	}, errs)
}

func TestCreateValid(t *testing.T) {
	tbl := productTable(t)
	data, errs := Create(tbl, map[string]any{
		"id": 99, "name": "Widget", "price": "12.50", "unknown": 1,
		"created_at": "2020-01-01T00:00:00Z",
	})
	require.Empty(t, errs)
	assert.Equal(t, map[string]any{"name": "Widget", "price": 12.5}, data)
}

func TestCreateKeepsClientKeyWithoutDefault(t *testing.T) {
	tbl, err := schema.NewBuilder("tags").
		Column("slug", schema.String, schema.PrimaryKey()).
		Column("label", schema.String).
		Build()
	require.NoError(t, err)

	data, errs := Create(tbl, map[string]any{"slug": "go", "label": "Go"})
	require.Empty(t, errs)
	assert.Equal(t, "go", data["slug"])

	// generated keys are never required
	_, errs = Create(tbl, map[string]any{"label": "Go"})
	assert.Empty(t, errs)
}

func TestUpdateOnlyPresentFields(t *testing.T) {
	tbl := productTable(t)
	data, errs := Update(tbl, map[string]any{"id": 5, "price": 3, "updated_at": "x", "created_at": "y"})
	require.Empty(t, errs)
	assert.Equal(t, map[string]any{"price": 3.0}, data)

	_, errs = Update(tbl, map[string]any{"stock": "many", "name": nil})
	assert.Len(t, errs, 2)
}

func TestLooseFallsBackToRaw(t *testing.T) {
	assert.Equal(t, 100.0, Loose(col(t, "price"), "100"))
	assert.Equal(t, "abc", Loose(col(t, "price"), "abc"))
	assert.Equal(t, true, Loose(col(t, "active"), "yes"))
}

func TestID(t *testing.T) {
	id, err := ID(col(t, "id"), "17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	_, err = ID(col(t, "id"), "abc")
	assert.Error(t, err)

	id, err = ID(schema.Column{Name: "slug", Type: schema.String}, "go")
	require.NoError(t, err)
	assert.Equal(t, "go", id)
}
