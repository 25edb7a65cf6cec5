package tableconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tablegate/internal/apperr"
	"tablegate/internal/cache"
)

const (
	DefaultTitle   = "tablegate API"
	DefaultVersion = "1.0.0"
	DefaultPrefix  = "tablegate:"
)

var verbs = []string{"GET", "POST", "PUT", "DELETE"}

// Load reads and resolves the document at path.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Configuration(errors.Wrapf(err, "read %s", path))
	}
	return Parse(b)
}

// Parse validates raw YAML, applies defaults and resolves authentication
// inheritance. Failures are configuration errors wrapping *Error.
func Parse(raw []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, apperr.Configuration(errors.Wrap(err, "parse YAML"))
	}
	doc, verr := resolve(&root)
	if verr != nil {
		return nil, apperr.Configuration(verr)
	}
	return doc, nil
}

func resolve(root *yaml.Node) (*Document, *Error) {
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, &Error{Path: "root", Expected: "document is empty"}
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fail("root", top, "must be a mapping", "")
	}

	doc := &Document{}
	if err := parseDatabase(top, &doc.Database); err != nil {
		return nil, err
	}
	if err := parseSwagger(top, &doc.Swagger); err != nil {
		return nil, err
	}
	if err := parseAuthentication(top, &doc.Authentication); err != nil {
		return nil, err
	}
	if err := parseCache(top, &doc.Cache); err != nil {
		return nil, err
	}

	tables := field(top, "tables")
	if tables == nil {
		return nil, missing("root", "tables", top)
	}
	if tables.Kind != yaml.SequenceNode || len(tables.Content) == 0 {
		return nil, fail("tables", tables, "must be a non-empty list", "")
	}
	seen := map[string]int{}
	for i, n := range tables.Content {
		path := fmt.Sprintf("tables[%d]", i)
		t, err := parseTable(path, n, doc.Authentication)
		if err != nil {
			return nil, err
		}
		if j, dup := seen[strings.ToLower(t.Name)]; dup {
			return nil, &Error{Path: path + ".name", Expected: fmt.Sprintf("duplicate table %q, already declared at tables[%d]", t.Name, j), Line: n.Line}
		}
		seen[strings.ToLower(t.Name)] = i
		doc.Tables = append(doc.Tables, t)
	}
	return doc, nil
}

func parseDatabase(top *yaml.Node, db *Database) *Error {
	n := field(top, "database")
	if n == nil {
		return missing("root", "database", top)
	}
	if n.Kind != yaml.MappingNode {
		return fail("database", n, "must be a mapping", "")
	}
	u := field(n, "url")
	if u == nil {
		return missing("database", "url", n)
	}
	var err *Error
	if db.URL, err = nonEmpty("database.url", u); err != nil {
		return err
	}
	db.AutoMigrate, err = optBool("database.auto_migrate", field(n, "auto_migrate"), false)
	return err
}

func parseSwagger(top *yaml.Node, s *Swagger) *Error {
	*s = Swagger{Title: DefaultTitle, Version: DefaultVersion}
	n := field(top, "swagger")
	if n == nil {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fail("swagger", n, "must be a mapping", "")
	}
	var err *Error
	if s.Title, err = optString("swagger.title", field(n, "title"), s.Title); err != nil {
		return err
	}
	if s.Version, err = optString("swagger.version", field(n, "version"), s.Version); err != nil {
		return err
	}
	s.Description, err = optString("swagger.description", field(n, "description"), "")
	return err
}

func parseAuthentication(top *yaml.Node, a *Authentication) *Error {
	n := field(top, "authentication")
	if n == nil || isNull(n) {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fail("authentication", n, "must be a mapping", "")
	}
	var err *Error
	if j := field(n, "jwt"); j != nil && !isNull(j) {
		if j.Kind != yaml.MappingNode {
			return fail("authentication.jwt", j, "must be a mapping", "")
		}
		a.JWT = &JWT{}
		if a.JWT.SecretKey, err = optString("authentication.jwt.secret_key", field(j, "secret_key"), ""); err != nil {
			return err
		}
		if a.JWT.Algorithm, err = optString("authentication.jwt.algorithm", field(j, "algorithm"), "HS256"); err != nil {
			return err
		}
	}
	if o := field(n, "oauth2"); o != nil && !isNull(o) {
		if o.Kind != yaml.MappingNode {
			return fail("authentication.oauth2", o, "must be a mapping", "")
		}
		a.OAuth2 = &OAuth2{}
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"client_id", &a.OAuth2.ClientID},
			{"client_secret", &a.OAuth2.ClientSecret},
			{"userinfo_url", &a.OAuth2.UserInfoURL},
			{"token_url", &a.OAuth2.TokenURL},
			{"auth_url", &a.OAuth2.AuthURL},
		} {
			if *f.dst, err = optString("authentication.oauth2."+f.key, field(o, f.key), ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseCache(top *yaml.Node, c *Cache) *Error {
	*c = Cache{Backend: CacheMemory, Prefix: DefaultPrefix, TTL: cache.DefaultTTL}
	n := field(top, "cache")
	if n == nil || isNull(n) {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fail("cache", n, "must be a mapping", "")
	}
	var err *Error
	if c.Backend, err = optString("cache.backend", field(n, "backend"), CacheMemory); err != nil {
		return err
	}
	c.Backend = strings.ToLower(c.Backend)
	if c.Backend != CacheMemory && c.Backend != CacheRedis {
		return fail("cache.backend", field(n, "backend"), "must be one of memory, redis", `backend: "redis"`)
	}
	if c.URL, err = optString("cache.url", field(n, "url"), ""); err != nil {
		return err
	}
	if c.Prefix, err = optString("cache.prefix", field(n, "prefix"), DefaultPrefix); err != nil {
		return err
	}
	ttl, err := optPositive("cache.ttl_seconds", field(n, "ttl_seconds"), int(cache.DefaultTTL/time.Second))
	if err != nil {
		return err
	}
	c.TTL = time.Duration(ttl) * time.Second
	c.SizeBytes, err = optPositive("cache.size_bytes", field(n, "size_bytes"), 0)
	return err
}

func parseTable(path string, n *yaml.Node, global Authentication) (Table, *Error) {
	t := Table{}
	if n.Kind != yaml.MappingNode {
		return t, fail(path, n, "table entry must be a mapping", "")
	}
	name := field(n, "name")
	if name == nil {
		return t, missing(path, "name", n)
	}
	var err *Error
	if t.Name, err = nonEmpty(path+".name", name); err != nil {
		return t, err
	}
	if t.Columns, err = parseColumns(path+".columns", field(n, "columns")); err != nil {
		return t, err
	}
	if t.Methods, err = parseMethods(path+".methods", field(n, "methods")); err != nil {
		return t, err
	}
	if t.Permissions, err = parsePermissions(path+".permissions", field(n, "permissions")); err != nil {
		return t, err
	}
	if t.Authentication, err = parseTableAuth(path, field(n, "authentication"), global); err != nil {
		return t, err
	}
	if t.Features, err = parseFeatures(path+".features", field(n, "features")); err != nil {
		return t, err
	}
	if t.Relationships, err = parseRelationships(path+".relationships", field(n, "relationships")); err != nil {
		return t, err
	}
	return t, nil
}

var columnTypes = []string{"integer", "float", "boolean", "string", "json", "timestamp"}

func parseColumns(path string, n *yaml.Node) ([]Column, *Error) {
	if n == nil || isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode || len(n.Content) == 0 {
		return nil, fail(path, n, "must be a non-empty list", "columns: [{name: id, type: integer, primary_key: true}]")
	}
	out := make([]Column, 0, len(n.Content))
	pk := false
	for i, e := range n.Content {
		p := fmt.Sprintf("%s[%d]", path, i)
		if e.Kind != yaml.MappingNode {
			return nil, fail(p, e, "must be a mapping", "{name: title, type: string}")
		}
		var (
			c   Column
			err *Error
		)
		for _, key := range []string{"name", "type"} {
			if field(e, key) == nil {
				return nil, missing(p, key, e)
			}
		}
		if c.Name, err = nonEmpty(p+".name", field(e, "name")); err != nil {
			return nil, err
		}
		if c.Type, err = nonEmpty(p+".type", field(e, "type")); err != nil {
			return nil, err
		}
		c.Type = strings.ToLower(c.Type)
		known := false
		for _, ct := range columnTypes {
			known = known || ct == c.Type
		}
		if !known {
			return nil, fail(p+".type", field(e, "type"), "must be one of "+strings.Join(columnTypes, ", "), "")
		}
		if c.Nullable, err = optBool(p+".nullable", field(e, "nullable"), false); err != nil {
			return nil, err
		}
		if c.PrimaryKey, err = optBool(p+".primary_key", field(e, "primary_key"), false); err != nil {
			return nil, err
		}
		if c.AutoIncrement, err = optBool(p+".auto_increment", field(e, "auto_increment"), c.PrimaryKey && c.Type == "integer"); err != nil {
			return nil, err
		}
		if d := field(e, "default"); d != nil && !isNull(d) {
			if d.Kind != yaml.ScalarNode {
				return nil, fail(p+".default", d, "must be a scalar SQL expression", `default: "0"`)
			}
			c.Default = d.Value
		}
		pk = pk || c.PrimaryKey
		out = append(out, c)
	}
	if !pk {
		return nil, &Error{Path: path, Expected: "no column is marked primary_key", Suggestion: "add primary_key: true to the key column", Line: n.Line}
	}
	return out, nil
}

func parseMethods(path string, n *yaml.Node) ([]string, *Error) {
	if n == nil {
		return append([]string(nil), verbs...), nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fail(path, n, "must be a list of HTTP methods", `methods: ["GET", "POST"]`)
	}
	out := make([]string, 0, len(n.Content))
	for i, m := range n.Content {
		p := fmt.Sprintf("%s[%d]", path, i)
		if !isString(m) {
			return nil, fail(p, m, "must be a string", `methods: ["GET", "POST"]`)
		}
		v, ok := verb(m.Value)
		if !ok {
			return nil, fail(p, m, "invalid HTTP method", "use one of "+strings.Join(verbs, ", "))
		}
		out = append(out, v)
	}
	return out, nil
}

func parsePermissions(path string, n *yaml.Node) (map[string][]string, *Error) {
	if n == nil || isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fail(path, n, "must be a mapping of HTTP method to roles", `permissions: {DELETE: ["admin"]}`)
	}
	out := map[string][]string{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		vb, ok := verb(k.Value)
		if !ok {
			return nil, fail(path+"."+k.Value, k, "invalid HTTP method", "use one of "+strings.Join(verbs, ", "))
		}
		roles, err := roleList(path+"."+k.Value, v)
		if err != nil {
			return nil, err
		}
		out[vb] = roles
	}
	return out, nil
}

// parseTableAuth applies inheritance: required defaults to whether a global
// provider exists, and requiring auth without one is an error.
func parseTableAuth(tablePath string, n *yaml.Node, global Authentication) (TableAuth, *Error) {
	path := tablePath + ".authentication"
	a := TableAuth{Required: global.Configured(), Roles: []string{}}
	if n != nil && !isNull(n) {
		if n.Kind != yaml.MappingNode {
			return a, fail(path, n, "must be a mapping", "authentication: {required: true}")
		}
		var err *Error
		if a.Required, err = optBool(path+".required", field(n, "required"), a.Required); err != nil {
			return a, err
		}
		if r := field(n, "roles"); r != nil {
			if a.Roles, err = roleList(path+".roles", r); err != nil {
				return a, err
			}
		}
	}
	if !a.Required {
		return a, nil
	}
	switch global.Provider() {
	case ProviderJWT:
		if global.JWT.SecretKey == "" {
			return a, &Error{Path: path, Expected: "JWT authentication requires 'secret_key'", Suggestion: "set authentication.jwt.secret_key"}
		}
	case ProviderOAuth2:
		o := global.OAuth2
		if o.ClientID == "" || o.ClientSecret == "" {
			return a, &Error{Path: path, Expected: "OAuth2 authentication requires 'client_id' and 'client_secret'", Suggestion: "set authentication.oauth2.client_id and client_secret"}
		}
		if o.UserInfoURL == "" {
			return a, &Error{Path: path, Expected: "OAuth2 authentication requires 'userinfo_url'", Suggestion: "set authentication.oauth2.userinfo_url"}
		}
	default:
		return a, &Error{Path: path, Expected: "authentication required but no global provider configured", Suggestion: "add authentication.jwt or authentication.oauth2 at the top level"}
	}
	return a, nil
}

func parseFeatures(path string, n *yaml.Node) (Features, *Error) {
	f := Features{
		Pagination: Pagination{Enabled: true, DefaultPageSize: 10, MaxPageSize: 100},
		Filtering:  true, Sorting: true, Caching: true, GraphQL: true, WebSocket: true,
		Depth: "shallow",
	}
	if n == nil || isNull(n) {
		return f, nil
	}
	if n.Kind != yaml.MappingNode {
		return f, fail(path, n, "must be a mapping", "")
	}
	var err *Error
	if p := field(n, "pagination"); p != nil {
		if f.Pagination, err = parsePagination(path+".pagination", p); err != nil {
			return f, err
		}
	}
	for _, t := range []struct {
		key string
		dst *bool
	}{
		{"filtering", &f.Filtering},
		{"sorting", &f.Sorting},
		{"caching", &f.Caching},
	} {
		if *t.dst, err = toggle(path+"."+t.key, field(n, t.key), *t.dst); err != nil {
			return f, err
		}
	}
	if f.GraphQL, err = optBool(path+".graphql", field(n, "graphql"), true); err != nil {
		return f, err
	}
	if f.WebSocket, err = optBool(path+".websocket", field(n, "websocket"), true); err != nil {
		return f, err
	}
	if r := field(n, "relationships"); r != nil {
		rp := path + ".relationships"
		if r.Kind != yaml.MappingNode {
			return f, fail(rp, r, "must be a mapping", `relationships: {depth: "deep"}`)
		}
		if f.Depth, err = optString(rp+".depth", field(r, "depth"), f.Depth); err != nil {
			return f, err
		}
		if f.Depth != "shallow" && f.Depth != "deep" {
			return f, fail(rp+".depth", field(r, "depth"), "must be one of shallow, deep", "")
		}
	}
	return f, nil
}

func parsePagination(path string, n *yaml.Node) (Pagination, *Error) {
	p := Pagination{Enabled: true, DefaultPageSize: 10, MaxPageSize: 100}
	if n.Kind != yaml.MappingNode {
		return p, fail(path, n, "must be a mapping", "pagination: {enabled: true, default_page_size: 10}")
	}
	var err *Error
	if p.Enabled, err = optBool(path+".enabled", field(n, "enabled"), true); err != nil {
		return p, err
	}
	if p.DefaultPageSize, err = optPositive(path+".default_page_size", field(n, "default_page_size"), p.DefaultPageSize); err != nil {
		return p, err
	}
	if p.MaxPageSize, err = optPositive(path+".max_page_size", field(n, "max_page_size"), p.MaxPageSize); err != nil {
		return p, err
	}
	if p.DefaultPageSize > p.MaxPageSize {
		return p, &Error{
			Path:     path + ".default_page_size",
			Expected: fmt.Sprintf("must not exceed max_page_size (%d)", p.MaxPageSize),
			Actual:   strconv.Itoa(p.DefaultPageSize),
			Line:     n.Line,
		}
	}
	return p, nil
}

func parseRelationships(path string, n *yaml.Node) ([]Relationship, *Error) {
	if n == nil || isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fail(path, n, "must be a list", "")
	}
	out := make([]Relationship, 0, len(n.Content))
	for i, e := range n.Content {
		p := fmt.Sprintf("%s[%d]", path, i)
		if e.Kind != yaml.MappingNode {
			return nil, fail(p, e, "must be a mapping", "{name: customer, column: customer_id, target: customers}")
		}
		r := Relationship{}
		var err *Error
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"name", &r.Name},
			{"column", &r.Column},
			{"target", &r.Target},
		} {
			v := field(e, f.key)
			if v == nil {
				return nil, missing(p, f.key, e)
			}
			if *f.dst, err = nonEmpty(p+"."+f.key, v); err != nil {
				return nil, err
			}
		}
		if r.TargetColumn, err = optString(p+".target_column", field(e, "target_column"), "id"); err != nil {
			return nil, err
		}
		if r.Cardinality, err = optString(p+".cardinality", field(e, "cardinality"), "one"); err != nil {
			return nil, err
		}
		if r.Cardinality != "one" && r.Cardinality != "many" {
			return nil, fail(p+".cardinality", field(e, "cardinality"), "must be one of one, many", "")
		}
		out = append(out, r)
	}
	return out, nil
}

// field returns the value under key in mapping m, or nil.
func field(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func isString(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str"
}

func verb(s string) (string, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, x := range verbs {
		if x == v {
			return v, true
		}
	}
	return "", false
}

func nonEmpty(path string, n *yaml.Node) (string, *Error) {
	if !isString(n) {
		return "", fail(path, n, "must be a string", "")
	}
	if strings.TrimSpace(n.Value) == "" {
		return "", fail(path, n, "cannot be empty", "")
	}
	return n.Value, nil
}

func optString(path string, n *yaml.Node, def string) (string, *Error) {
	if n == nil || isNull(n) {
		return def, nil
	}
	if !isString(n) {
		return "", fail(path, n, "must be a string", "")
	}
	return n.Value, nil
}

func optBool(path string, n *yaml.Node, def bool) (bool, *Error) {
	if n == nil || isNull(n) {
		return def, nil
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
		return false, fail(path, n, "must be a boolean", "use true or false")
	}
	var b bool
	if err := n.Decode(&b); err != nil {
		return false, fail(path, n, "must be a boolean", "use true or false")
	}
	return b, nil
}

func optPositive(path string, n *yaml.Node, def int) (int, *Error) {
	if n == nil || isNull(n) {
		return def, nil
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!int" {
		return 0, fail(path, n, "must be a positive integer", "")
	}
	var v int
	if err := n.Decode(&v); err != nil || v < 1 {
		return 0, fail(path, n, "must be a positive integer", "")
	}
	return v, nil
}

// toggle accepts either a bare boolean or a mapping with an enabled flag.
func toggle(path string, n *yaml.Node, def bool) (bool, *Error) {
	if n == nil || isNull(n) {
		return def, nil
	}
	if n.Kind == yaml.MappingNode {
		return optBool(path+".enabled", field(n, "enabled"), def)
	}
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!bool" {
		return optBool(path, n, def)
	}
	return false, fail(path, n, "must be a mapping with an 'enabled' boolean", "{enabled: true}")
}

func roleList(path string, n *yaml.Node) ([]string, *Error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fail(path, n, "roles must be a list of strings", `["admin", "editor"]`)
	}
	out := make([]string, 0, len(n.Content))
	for i, r := range n.Content {
		role, err := nonEmpty(fmt.Sprintf("%s[%d]", path, i), r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}
