package tableconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/apperr"
)

func validationError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	var ve *Error
	require.True(t, errors.As(err, &ve), "want *tableconf.Error, got %v", err)
	return ve
}

func TestDefaults(t *testing.T) {
	doc, err := Parse([]byte(`
database:
  url: sqlite:///app.db
tables:
  - name: products
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///app.db", doc.Database.URL)
	assert.False(t, doc.Database.AutoMigrate)
	assert.Equal(t, Swagger{Title: "tablegate API", Version: "1.0.0"}, doc.Swagger)
	assert.False(t, doc.Authentication.Configured())
	assert.Equal(t, Cache{Backend: CacheMemory, Prefix: "tablegate:", TTL: 300 * time.Second}, doc.Cache)

	require.Len(t, doc.Tables, 1)
	p := doc.Tables[0]
	assert.Equal(t, "products", p.Name)
	assert.Equal(t, []string{"GET", "POST", "PUT", "DELETE"}, p.Methods)
	assert.Equal(t, TableAuth{Required: false, Roles: []string{}}, p.Authentication)
	assert.Equal(t, Features{
		Pagination: Pagination{Enabled: true, DefaultPageSize: 10, MaxPageSize: 100},
		Filtering:  true, Sorting: true, Caching: true, GraphQL: true, WebSocket: true,
		Depth: "shallow",
	}, p.Features)
}

func TestFullDocument(t *testing.T) {
	doc, err := Parse([]byte(`
database:
  url: postgres://u:p@localhost/shop
  auto_migrate: true
swagger:
  title: Shop
  version: "2.1"
authentication:
  jwt:
    secret_key: s3cret
cache:
  backend: redis
  url: redis://cache:6379/1
  ttl_seconds: 60
tables:
  - name: customers
    methods: [get, POST]
    features:
      caching: {enabled: false}
      relationships: {depth: deep}
  - name: orders
    permissions:
      delete: [admin]
    authentication:
      roles: [clerk]
    features:
      pagination: {enabled: false, default_page_size: 5, max_page_size: 50}
      graphql: false
      websocket: false
    relationships:
      - name: customer
        column: customer_id
        target: customers
`))
	require.NoError(t, err)

	assert.True(t, doc.Database.AutoMigrate)
	assert.Equal(t, "Shop", doc.Swagger.Title)
	assert.Equal(t, "2.1", doc.Swagger.Version)
	require.NotNil(t, doc.Authentication.JWT)
	assert.Equal(t, "HS256", doc.Authentication.JWT.Algorithm)
	assert.Equal(t, Cache{Backend: CacheRedis, URL: "redis://cache:6379/1", Prefix: "tablegate:", TTL: time.Minute}, doc.Cache)

	c := doc.Tables[0]
	assert.Equal(t, []string{"GET", "POST"}, c.Methods)
	assert.True(t, c.Authentication.Required, "inherited from the global provider")
	assert.False(t, c.Features.Caching)
	assert.Equal(t, "deep", c.Features.Depth)

	o := doc.Tables[1]
	assert.Equal(t, map[string][]string{"DELETE": {"admin"}}, o.Permissions)
	assert.Equal(t, []string{"clerk"}, o.Authentication.Roles)
	assert.Equal(t, Pagination{Enabled: false, DefaultPageSize: 5, MaxPageSize: 50}, o.Features.Pagination)
	assert.False(t, o.Features.GraphQL)
	assert.False(t, o.Features.WebSocket)
	assert.Equal(t, []Relationship{{Name: "customer", Column: "customer_id", Target: "customers", TargetColumn: "id", Cardinality: "one"}}, o.Relationships)
}

func TestAuthenticationWithoutProvider(t *testing.T) {
	_, err := Parse([]byte(`
database: {url: "memory://"}
tables:
  - name: products
  - name: customers
  - name: orders
    authentication:
      required: true
`))
	ve := validationError(t, err)
	assert.Equal(t, "tables[2].authentication", ve.Path)
	assert.Contains(t, err.Error(), "no global provider configured")
	assert.Contains(t, ve.Error(), "Suggestion: add authentication.jwt or authentication.oauth2")
}

func TestTableCanOptOutOfInheritedAuthentication(t *testing.T) {
	doc, err := Parse([]byte(`
database: {url: "memory://"}
authentication:
  oauth2: {client_id: id, client_secret: secret, userinfo_url: "https://idp.example/userinfo"}
tables:
  - name: public
    authentication: {required: false}
  - name: private
`))
	require.NoError(t, err)
	assert.False(t, doc.Tables[0].Authentication.Required)
	assert.True(t, doc.Tables[1].Authentication.Required)
}

func TestProviderRequirements(t *testing.T) {
	_, err := Parse([]byte(`
database: {url: "memory://"}
authentication:
  jwt: {algorithm: HS512}
tables:
  - name: products
`))
	ve := validationError(t, err)
	assert.Equal(t, "tables[0].authentication", ve.Path)
	assert.Contains(t, ve.Expected, "secret_key")

	_, err = Parse([]byte(`
database: {url: "memory://"}
authentication:
  oauth2: {client_id: id}
tables:
  - name: products
`))
	ve = validationError(t, err)
	assert.Contains(t, ve.Expected, "client_secret")

	_, err = Parse([]byte(`
database: {url: "memory://"}
authentication:
  oauth2: {client_id: id, client_secret: secret}
tables:
  - name: products
  - name: orders
`))
	ve = validationError(t, err)
	assert.Equal(t, "tables[0].authentication", ve.Path)
	assert.Contains(t, ve.Expected, "userinfo_url")
}

func TestProviderSelection(t *testing.T) {
	doc, err := Parse([]byte(`
database: {url: "memory://"}
authentication:
  jwt: {algorithm: HS256}
  oauth2: {client_id: id, client_secret: secret, userinfo_url: "https://idp.example/userinfo"}
tables:
  - name: products
`))
	require.NoError(t, err, "a complete OAuth2 block serves when the JWT block has no secret")
	assert.Equal(t, ProviderOAuth2, doc.Authentication.Provider())

	doc, err = Parse([]byte(`
database: {url: "memory://"}
authentication:
  jwt: {secret_key: s3cret}
  oauth2: {client_id: id}
tables:
  - name: products
`))
	require.NoError(t, err)
	assert.Equal(t, ProviderJWT, doc.Authentication.Provider())

	assert.Equal(t, "", Authentication{}.Provider())
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name, doc, path, contains string
	}{
		{"no database", "tables: [{name: a}]", "root", "missing required field 'database'"},
		{"no url", "database: {}\ntables: [{name: a}]", "database", "missing required field 'url'"},
		{"no tables", "database: {url: x}", "root", "missing required field 'tables'"},
		{"empty tables", "database: {url: x}\ntables: []", "tables", "must be a non-empty list, got list"},
		{"tables not list", "database: {url: x}\ntables: {a: 1}", "tables", "got mapping"},
		{"no name", "database: {url: x}\ntables: [{methods: [GET]}]", "tables[0]", "missing required field 'name'"},
		{"name not string", "database: {url: x}\ntables: [{name: 42}]", "tables[0].name", `must be a string, got integer "42"`},
		{"empty name", "database: {url: x}\ntables: [{name: ' '}]", "tables[0].name", "cannot be empty"},
		{"bad method", "database: {url: x}\ntables: [{name: a, methods: [GET, PATCH]}]", "tables[0].methods[1]", `invalid HTTP method, got string "PATCH"`},
		{"methods not list", "database: {url: x}\ntables: [{name: a, methods: GET}]", "tables[0].methods", `Suggestion: methods: ["GET", "POST"]`},
		{"bad permission verb", "database: {url: x}\ntables: [{name: a, permissions: {PATCH: [x]}}]", "tables[0].permissions.PATCH", "invalid HTTP method"},
		{"empty role", "database: {url: x}\ntables: [{name: a, permissions: {GET: ['']}}]", "tables[0].permissions.GET[0]", "cannot be empty"},
		{"required not bool", "database: {url: x}\ntables: [{name: a, authentication: {required: 'yes please'}}]", "tables[0].authentication.required", "must be a boolean"},
		{"page size zero", "database: {url: x}\ntables: [{name: a, features: {pagination: {default_page_size: 0}}}]", "tables[0].features.pagination.default_page_size", "must be a positive integer"},
		{"page size over max", "database: {url: x}\ntables: [{name: a, features: {pagination: {default_page_size: 20, max_page_size: 10}}}]", "tables[0].features.pagination.default_page_size", "must not exceed max_page_size (10)"},
		{"filtering not toggle", "database: {url: x}\ntables: [{name: a, features: {filtering: [1]}}]", "tables[0].features.filtering", "enabled"},
		{"bad depth", "database: {url: x}\ntables: [{name: a, features: {relationships: {depth: full}}}]", "tables[0].features.relationships.depth", "shallow, deep"},
		{"relationship target", "database: {url: x}\ntables: [{name: a, relationships: [{name: b, column: b_id}]}]", "tables[0].relationships[0]", "missing required field 'target'"},
		{"bad cardinality", "database: {url: x}\ntables: [{name: a, relationships: [{name: b, column: id, target: b, cardinality: lots}]}]", "tables[0].relationships[0].cardinality", "one, many"},
		{"duplicate table", "database: {url: x}\ntables: [{name: a}, {name: A}]", "tables[1].name", "duplicate table"},
		{"columns not list", "database: {url: x}\ntables: [{name: a, columns: {id: integer}}]", "tables[0].columns", "non-empty list"},
		{"column type", "database: {url: x}\ntables: [{name: a, columns: [{name: id, type: uuid, primary_key: true}]}]", "tables[0].columns[0].type", "must be one of integer, float"},
		{"column name", "database: {url: x}\ntables: [{name: a, columns: [{type: integer}]}]", "tables[0].columns[0]", "missing required field 'name'"},
		{"no key column", "database: {url: x}\ntables: [{name: a, columns: [{name: title, type: string}]}]", "tables[0].columns", "no column is marked primary_key"},
		{"bad cache backend", "database: {url: x}\ncache: {backend: memcached}\ntables: [{name: a}]", "cache.backend", "memory, redis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			ve := validationError(t, err)
			assert.Equal(t, tc.path, ve.Path)
			assert.Contains(t, ve.Error(), tc.contains)
		})
	}
}

func TestErrorReportsLine(t *testing.T) {
	_, err := Parse([]byte("database:\n  url: x\ntables:\n  - name: a\n    methods: [TRACE]\n"))
	ve := validationError(t, err)
	assert.Equal(t, 5, ve.Line)
	assert.Contains(t, ve.Error(), "(line 5)")
}

func TestMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))

	_, err = Parse(nil)
	assert.Equal(t, "root", validationError(t, err).Path)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: {url: 'memory://'}\ntables: [{name: notes}]\n"), 0o600))
	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Tables[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestDeclaredColumns(t *testing.T) {
	doc, err := Parse([]byte(`
database: {url: "memory://", auto_migrate: true}
tables:
  - name: notes
    columns:
      - {name: id, type: integer, primary_key: true}
      - {name: body, type: String, nullable: true}
      - {name: pinned, type: boolean, default: "false"}
  - name: tags
`))
	require.NoError(t, err)
	assert.True(t, doc.Database.AutoMigrate)
	assert.Equal(t, []Column{
		{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true},
		{Name: "body", Type: "string", Nullable: true},
		{Name: "pinned", Type: "boolean", Default: "false"},
	}, doc.Tables[0].Columns)
	assert.Empty(t, doc.Tables[1].Columns, "reflected")
}
