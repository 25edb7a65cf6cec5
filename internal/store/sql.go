package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tablegate/internal/query"
	"tablegate/internal/schema"
)

// SQL runs every operation in its own gorm transaction.
type SQL struct {
	db *gorm.DB
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

// DB exposes the underlying handle for migrations and reflection.
func (s *SQL) DB() *gorm.DB { return s.db }

func (s *SQL) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *SQL) quote(name string) string {
	var b strings.Builder
	s.db.Dialector.QuoteTo(&b, name)
	return b.String()
}

func pkEq(t *schema.Table, id any) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: t.PK().Name}, Value: id}
}

func first(tx *gorm.DB, t *schema.Table, id any) (map[string]any, error) {
	var rows []map[string]any
	if err := tx.Table(t.Name).Where(pkEq(t, id)).Limit(1).Find(&rows).Error; err != nil {
		return nil, classify(err, "select "+t.Name)
	}
	if len(rows) == 0 {
		return nil, notFound(t, id)
	}
	return rows[0], nil
}

func (s *SQL) Get(ctx context.Context, t *schema.Table, id any) (map[string]any, error) {
	var row map[string]any
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var err error
		row, err = first(tx, t, id)
		return err
	})
	return row, err
}

func (s *SQL) List(ctx context.Context, d query.Descriptor) ([]map[string]any, int64, error) {
	t := d.Table
	var (
		rows  []map[string]any
		total int64
	)
	err := s.tx(ctx, func(tx *gorm.DB) error {
		filtered := func() *gorm.DB {
			q := tx.Table(t.Name)
			for _, p := range d.Predicates {
				q = q.Where(predicate(p))
			}
			return q
		}

		if err := filtered().Count(&total).Error; err != nil {
			return classify(err, "count "+t.Name)
		}
		if d.Paginate && int64(d.Offset()) >= total {
			return nil
		}

		q := filtered()
		for _, o := range orders(t, d.Orders) {
			q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Field}, Desc: o.Desc})
		}
		if d.Paginate {
			q = q.Offset(d.Offset()).Limit(d.Limit)
		}
		if err := q.Find(&rows).Error; err != nil {
			return classify(err, "select "+t.Name)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, total, nil
}

func (s *SQL) Related(ctx context.Context, t *schema.Table, column string, value any) ([]map[string]any, error) {
	var rows []map[string]any
	err := s.tx(ctx, func(tx *gorm.DB) error {
		q := tx.Table(t.Name).
			Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: t.PK().Name}})
		return classify(q.Find(&rows).Error, "select "+t.Name)
	})
	return rows, err
}

func (s *SQL) Insert(ctx context.Context, t *schema.Table, values map[string]any) (map[string]any, error) {
	cols, args := s.columns(t, values)
	var row map[string]any
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if s.db.Dialector.Name() == "mysql" {
			return s.insertMySQL(tx, t, cols, args, &row)
		}
		stmt := s.insertSQL(t, cols) + " RETURNING *"
		res := tx.Raw(stmt, args...).Scan(&row)
		if res.Error != nil {
			return classify(res.Error, "insert "+t.Name)
		}
		if len(row) == 0 {
			return classify(errors.New("insert returned no row"), "insert "+t.Name)
		}
		return nil
	})
	return row, err
}

// insertMySQL emulates RETURNING with LAST_INSERT_ID on the same connection.
func (s *SQL) insertMySQL(tx *gorm.DB, t *schema.Table, cols []string, args []any, row *map[string]any) error {
	if err := tx.Exec(s.insertSQL(t, cols), args...).Error; err != nil {
		return classify(err, "insert "+t.Name)
	}
	pk := t.PK()
	id, ok := valueOf(cols, args, pk.Name)
	if !ok {
		var last int64
		if err := tx.Raw("SELECT LAST_INSERT_ID()").Scan(&last).Error; err != nil {
			return classify(err, "insert "+t.Name)
		}
		id = last
	}
	r, err := first(tx, t, id)
	if err != nil {
		return err
	}
	*row = r
	return nil
}

func valueOf(cols []string, args []any, name string) (any, bool) {
	for i, c := range cols {
		if c == name {
			return args[i], true
		}
	}
	return nil, false
}

func (s *SQL) insertSQL(t *schema.Table, cols []string) string {
	if len(cols) == 0 {
		if s.db.Dialector.Name() == "mysql" {
			return fmt.Sprintf("INSERT INTO %s () VALUES ()", s.quote(t.Name))
		}
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", s.quote(t.Name))
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.quote(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.quote(t.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

// columns returns the insertable columns of values in table order.
func (s *SQL) columns(t *schema.Table, values map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		cols = append(cols, c.Name)
		args = append(args, encode(c, v))
	}
	return cols, args
}

func (s *SQL) Update(ctx context.Context, t *schema.Table, id any, values map[string]any) (map[string]any, error) {
	var row map[string]any
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := first(tx, t, id); err != nil {
			return err
		}
		set := make(map[string]any, len(values))
		for _, c := range t.Columns {
			if v, ok := values[c.Name]; ok {
				set[c.Name] = encode(c, v)
			}
		}
		if len(set) > 0 {
			if err := tx.Table(t.Name).Where(pkEq(t, id)).Updates(set).Error; err != nil {
				return classify(err, "update "+t.Name)
			}
		}
		var err error
		row, err = first(tx, t, id)
		return err
	})
	return row, err
}

func (s *SQL) Delete(ctx context.Context, t *schema.Table, id any) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.quote(t.Name), s.quote(t.PK().Name))
		res := tx.Exec(stmt, id)
		if res.Error != nil {
			return classify(res.Error, "delete "+t.Name)
		}
		if res.RowsAffected == 0 {
			return notFound(t, id)
		}
		return nil
	})
}

func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// encode prepares a value for the driver. JSON documents travel as text.
func encode(c schema.Column, v any) any {
	if c.Type != schema.JSON || v == nil {
		return v
	}
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	}
	return v
}

func predicate(p query.Predicate) clause.Expression {
	col := clause.Column{Name: p.Field}
	switch p.Op {
	case query.Ne:
		return clause.Neq{Column: col, Value: p.Value}
	case query.Gt:
		return clause.Gt{Column: col, Value: p.Value}
	case query.Gte:
		return clause.Gte{Column: col, Value: p.Value}
	case query.Lt:
		return clause.Lt{Column: col, Value: p.Value}
	case query.Lte:
		return clause.Lte{Column: col, Value: p.Value}
	case query.Like:
		return clause.Like{Column: col, Value: p.Value}
	case query.In:
		vals, _ := p.Value.([]any)
		return clause.IN{Column: col, Values: vals}
	default:
		return clause.Eq{Column: col, Value: p.Value}
	}
}

// orders appends the primary key as a final tie-breaker so pages are stable.
func orders(t *schema.Table, in []query.Order) []query.Order {
	pk := t.PK().Name
	out := append([]query.Order(nil), in...)
	for _, o := range in {
		if o.Field == pk {
			return out
		}
	}
	return append(out, query.Order{Field: pk})
}
