// Package schema describes registered tables: columns with their semantic
// types, primary key and relationships.
package schema

import "strings"

// Type is the semantic type of a column, independent of the database dialect.
type Type string

const (
	Integer   Type = "integer"
	Float     Type = "float"
	Boolean   Type = "boolean"
	String    Type = "string"
	JSON      Type = "json"
	Timestamp Type = "timestamp"
)

// Generated timestamp columns, maintained by the service layer.
const (
	CreatedAt = "created_at"
	UpdatedAt = "updated_at"
)

type Column struct {
	Name          string `json:"name"`
	Type          Type   `json:"type"`
	Nullable      bool   `json:"nullable"`
	HasDefault    bool   `json:"has_default"`
	PrimaryKey    bool   `json:"primary_key"`
	AutoIncrement bool   `json:"auto_increment,omitempty"`
	DBType        string `json:"db_type,omitempty"`
	// DefaultSQL is the default expression used when creating the table.
	DefaultSQL string `json:"-"`
}

type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Relationship links Column of this table to TargetColumn of Target.
//
// For One, Column is the foreign key held by this table (orders.customer_id ->
// customers.id). For Many, Column is usually this table's key and
// TargetColumn the foreign key on the other side (customers.id <-
// orders.customer_id).
type Relationship struct {
	Name         string      `json:"name"`
	Column       string      `json:"column"`
	Target       string      `json:"target"`
	TargetColumn string      `json:"target_column"`
	Cardinality  Cardinality `json:"cardinality"`
}

// Table is the immutable descriptor of one registered entity.
type Table struct {
	Name          string         `json:"name"`
	Columns       []Column       `json:"columns"`
	PrimaryKey    []string       `json:"primary_key"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// PK returns the first primary-key column. Composite keys are addressed by
// their first column on the REST surface.
func (t *Table) PK() Column {
	if len(t.PrimaryKey) > 0 {
		if c, ok := t.Column(t.PrimaryKey[0]); ok {
			return c
		}
	}
	return Column{Name: "id", Type: Integer, PrimaryKey: true}
}

func (t *Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// IsGenerated reports whether the column is maintained by the framework
// rather than the client (primary key, created_at, updated_at).
func (t *Table) IsGenerated(name string) bool {
	return t.IsPrimaryKey(name) || name == CreatedAt || name == UpdatedAt
}

// Required reports whether a create request must supply the column.
func (t *Table) Required(c Column) bool {
	return !c.Nullable && !c.HasDefault && !t.IsGenerated(c.Name)
}

// Relationship returns the relationship with the given name.
func (t *Table) Relationship(name string) (Relationship, bool) {
	for _, r := range t.Relationships {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Relationship{}, false
}
