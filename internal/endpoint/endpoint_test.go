package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/apperr"
	"tablegate/internal/auth"
	"tablegate/internal/cache"
	"tablegate/internal/schema"
	"tablegate/internal/ws"
)

func TestDefaults(t *testing.T) {
	c := New()
	assert.Nil(t, c.Auth())
	assert.Empty(t, c.Roles(GET))
	assert.Equal(t, Pagination{Enabled: true, DefaultLimit: 10, MaxLimit: 100}, c.Pagination())
	assert.Equal(t, AllFeatures, c.Features())
	assert.Equal(t, []string{"GET", "POST", "PUT", "DELETE"}, c.Methods())
	assert.False(t, c.Deep())
	assert.False(t, c.Cached(GET), "no provider, no caching")
	assert.IsType(t, ws.Echo{}, c.WebSocket())
}

func TestRolesFallBackToAuthenticationRoles(t *testing.T) {
	j, err := auth.NewJWT("k", "")
	require.NoError(t, err)
	c := New(WithAuth(j, "viewer"), WithPermissions("delete", "admin"))

	assert.Equal(t, []string{"viewer"}, c.Roles(GET))
	assert.Equal(t, []string{"admin"}, c.Roles(DELETE))

	roles := c.Roles(DELETE)
	roles[0] = "mutated"
	assert.Equal(t, []string{"admin"}, c.Roles(DELETE), "getters return copies")
}

func TestCachedVerbs(t *testing.T) {
	mem := cache.NewMemory(0)
	c := New(WithCache(mem, time.Minute))
	assert.True(t, c.Cached("get"))
	assert.False(t, c.Cached(POST))
	assert.Equal(t, time.Minute, c.CacheTTL())

	off := New(WithCache(mem, 0), WithFeatures(Features{GraphQL: true}))
	assert.False(t, off.Cached(GET))
	assert.Equal(t, cache.DefaultTTL, off.CacheTTL())
}

func TestMethodsAndQueryOptions(t *testing.T) {
	c := New(WithMethods("get", "post"), WithPagination(Pagination{Enabled: false}), WithFeatures(Features{Sorting: true}))
	assert.True(t, c.Allowed(GET))
	assert.False(t, c.Allowed(DELETE))

	o := c.QueryOptions()
	assert.False(t, o.Filtering)
	assert.True(t, o.Sorting)
	assert.False(t, o.Pagination)
	assert.Equal(t, 10, o.DefaultLimit)
	assert.Equal(t, 100, o.MaxLimit)
}

func table(t *testing.T, name string, rels ...schema.Relationship) *schema.Table {
	t.Helper()
	b := schema.NewBuilder(name).
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("customer_id", schema.Integer, schema.Nullable())
	for _, r := range rels {
		b.Relationship(r)
	}
	tbl, err := b.Build()
	require.NoError(t, err)
	return tbl
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(
		Model{Table: table(t, "products"), Config: New()},
		Model{Table: table(t, "category"), Config: New()},
	)
	require.NoError(t, err)

	for _, name := range []string{"products", "Products", "product", "PRODUCT"} {
		m, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "products", m.Name())
	}
	m, ok := r.Lookup("categorys")
	require.True(t, ok)
	assert.Equal(t, "category", m.Name())

	_, ok = r.Lookup("orders")
	assert.False(t, ok)

	_, ok = r.Get("Products")
	assert.False(t, ok, "Get is exact")
	tbl, ok := r.Table("products")
	require.True(t, ok)
	assert.Equal(t, "products", tbl.Name)

	assert.Len(t, r.Models(), 2)
	assert.Equal(t, "products", r.Models()[0].Name())
}

func TestRegistryRejectsDanglingRelationships(t *testing.T) {
	orders := table(t, "orders", schema.Relationship{Name: "customer", Column: "customer_id", Target: "customers", TargetColumn: "id"})
	_, err := NewRegistry(Model{Table: orders, Config: New()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.Contains(t, apperr.From(err).Detail, `relationship target "customers"`)
}
