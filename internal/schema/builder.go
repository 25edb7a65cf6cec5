package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ColumnInfo is what a database reflects about one column.
type ColumnInfo struct {
	Name          string
	DBType        string
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	HasDefault    bool
}

type ColumnOption func(*Column)

func Nullable() ColumnOption    { return func(c *Column) { c.Nullable = true } }
func WithDefault() ColumnOption { return func(c *Column) { c.HasDefault = true } }
func AutoIncrement() ColumnOption {
	return func(c *Column) { c.AutoIncrement = true; c.HasDefault = true }
}
func DBType(t string) ColumnOption {
	return func(c *Column) { c.DBType = t }
}

// Default sets the SQL default expression used when the table is created,
// e.g. Default("0") or Default("CURRENT_TIMESTAMP").
func Default(expr string) ColumnOption {
	return func(c *Column) { c.HasDefault = true; c.DefaultSQL = expr }
}

// PrimaryKey marks the column as (part of) the primary key.
func PrimaryKey() ColumnOption { return func(c *Column) { c.PrimaryKey = true } }

// Builder assembles a Table either from static declarations or from
// reflected column metadata.
type Builder struct {
	name  string
	cols  []Column
	rels  []Relationship
	seen  map[string]struct{}
	issue []string
}

func NewBuilder(table string) *Builder {
	return &Builder{name: table, seen: map[string]struct{}{}}
}

// Column declares a column with a semantic type.
func (b *Builder) Column(name string, t Type, opts ...ColumnOption) *Builder {
	c := Column{Name: name, Type: t}
	for _, o := range opts {
		o(&c)
	}
	return b.add(c)
}

// Reflected adds a column from database metadata, mapping its type name.
// Unrecognised types are carried as String; DBType keeps the original name.
func (b *Builder) Reflected(ci ColumnInfo) *Builder {
	t, ok := TypeOf(ci.DBType)
	if !ok {
		t = String
	}
	return b.add(Column{
		Name:          ci.Name,
		Type:          t,
		Nullable:      ci.Nullable && !ci.PrimaryKey,
		HasDefault:    ci.HasDefault || ci.AutoIncrement,
		PrimaryKey:    ci.PrimaryKey,
		AutoIncrement: ci.AutoIncrement,
		DBType:        ci.DBType,
	})
}

func (b *Builder) Relationship(r Relationship) *Builder {
	if r.Cardinality == "" {
		r.Cardinality = One
	}
	if r.Name == "" {
		r.Name = r.Target
	}
	b.rels = append(b.rels, r)
	return b
}

func (b *Builder) add(c Column) *Builder {
	if _, dup := b.seen[c.Name]; dup {
		b.issue = append(b.issue, fmt.Sprintf("column %q declared twice", c.Name))
		return b
	}
	b.seen[c.Name] = struct{}{}
	b.cols = append(b.cols, c)
	return b
}

// Build returns the descriptor, or an error describing every problem found
// in the declaration.
func (b *Builder) Build() (*Table, error) {
	t := &Table{Name: b.name, Columns: append([]Column(nil), b.cols...), Relationships: append([]Relationship(nil), b.rels...)}
	for _, c := range t.Columns {
		if c.PrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}
	}

	msgs := append([]string(nil), b.issue...)
	for _, is := range lintTable(t) {
		msgs = append(msgs, is.Message)
	}
	if len(msgs) > 0 {
		return nil, errors.Errorf("table %q: %s", b.name, strings.Join(msgs, "; "))
	}
	return t, nil
}

// TypeOf maps a database type name (any common dialect) to a semantic type.
func TypeOf(dbType string) (Type, bool) {
	t := strings.ToLower(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSuffix(t, " unsigned")
	switch t {
	case "int", "integer", "int2", "int4", "int8", "smallint", "bigint", "tinyint", "mediumint",
		"serial", "bigserial", "smallserial":
		return Integer, true
	case "float", "float4", "float8", "real", "double", "double precision", "decimal", "numeric", "money":
		return Float, true
	case "bool", "boolean":
		return Boolean, true
	case "json", "jsonb":
		return JSON, true
	case "date", "datetime", "timestamp", "timestamptz", "timestamp with time zone",
		"timestamp without time zone", "time", "timetz":
		return Timestamp, true
	case "text", "varchar", "character varying", "char", "character", "nchar", "nvarchar",
		"tinytext", "mediumtext", "longtext", "uuid", "citext", "string", "enum", "clob":
		return String, true
	}
	return "", false
}
