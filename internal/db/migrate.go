package db

import (
	"context"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tablegate/internal/schema"
)

func quote(d Dialect, s string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mapType(d Dialect, c schema.Column) (string, error) {
	if c.DBType != "" {
		return c.DBType, nil
	}
	switch c.Type {
	case schema.Integer:
		switch {
		case c.AutoIncrement && d == Postgres:
			return "bigserial", nil
		case d == SQLite:
			return "INTEGER", nil
		}
		return "bigint", nil
	case schema.Float:
		switch d {
		case SQLite:
			return "REAL", nil
		case MySQL:
			return "double", nil
		}
		return "double precision", nil
	case schema.Boolean:
		return "boolean", nil
	case schema.String:
		if d == MySQL && c.PrimaryKey {
			return "varchar(64)", nil
		}
		return "text", nil
	case schema.JSON:
		switch d {
		case Postgres:
			return "jsonb", nil
		case SQLite:
			return "JSON", nil
		}
		return "json", nil
	case schema.Timestamp:
		switch d {
		case Postgres:
			return "timestamp with time zone", nil
		case MySQL:
			return "datetime(6)", nil
		}
		return "DATETIME", nil
	}
	return "", errors.Errorf("unknown type: %s", c.Type)
}

// DDL returns the statements that create the given tables. Tables come first
// in the given order; foreign keys for one-relationships between them follow
// (inline for SQLite, which cannot add constraints afterwards).
func DDL(d Dialect, tables []*schema.Table) ([]string, error) {
	known := make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		known[t.Name] = t
	}

	var (
		creates []string
		fks     []string
	)
	for _, t := range tables {
		inlineFK := map[string]string{}
		for _, r := range t.Relationships {
			target, ok := known[r.Target]
			if !ok || r.Cardinality != schema.One || !target.HasColumn(r.TargetColumn) {
				continue
			}
			ref := fmt.Sprintf("%s(%s)", quote(d, r.Target), quote(d, r.TargetColumn))
			if d == SQLite {
				inlineFK[r.Column] = ref
				continue
			}
			fks = append(fks, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s",
				quote(d, t.Name), quote(d, t.Name+"_"+r.Column+"_fk"), quote(d, r.Column), ref))
		}

		compositePK := len(t.PrimaryKey) > 1
		cols := make([]string, 0, len(t.Columns)+1)
		for _, c := range t.Columns {
			typ, err := mapType(d, c)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", t.Name, c.Name)
			}
			def := quote(d, c.Name) + " " + typ
			switch {
			case c.PrimaryKey && !compositePK:
				def += " PRIMARY KEY"
				if c.AutoIncrement {
					switch d {
					case SQLite:
						def += " AUTOINCREMENT"
					case MySQL:
						def += " AUTO_INCREMENT"
					}
				}
			case c.Nullable || (c.HasDefault && c.DefaultSQL == ""):
				def += " NULL"
			default:
				def += " NOT NULL"
			}
			if c.DefaultSQL != "" {
				def += " DEFAULT " + c.DefaultSQL
			}
			if ref, ok := inlineFK[c.Name]; ok {
				def += " REFERENCES " + ref
			}
			cols = append(cols, def)
		}
		if compositePK {
			parts := make([]string, len(t.PrimaryKey))
			for i, p := range t.PrimaryKey {
				parts[i] = quote(d, p)
			}
			cols = append(cols, "PRIMARY KEY ("+strings.Join(parts, ", ")+")")
		}
		creates = append(creates, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
			quote(d, t.Name), strings.Join(cols, ",\n  ")))
	}
	return append(creates, fks...), nil
}

// Migrate creates the tables that do not exist yet. Existing tables are left
// untouched.
func Migrate(ctx context.Context, gdb *gorm.DB, d Dialect, tables []*schema.Table, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	m := gdb.WithContext(ctx).Migrator()
	var missing []*schema.Table
	for _, t := range tables {
		if !m.HasTable(t.Name) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	stmts, err := DDL(d, missing)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if err := gdb.WithContext(ctx).Exec(s).Error; err != nil {
			if alreadyExists(err) {
				log.Info("DDL skipped (already exists)", zap.Error(err))
				continue
			}
			return errors.Wrap(err, "DDL apply failed")
		}
	}
	for _, t := range missing {
		log.Info("table created", zap.String("table", t.Name))
	}
	return nil
}

func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// duplicate_object, duplicate_table
		return pgErr.Code == "42710" || pgErr.Code == "42P07"
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		// table exists, duplicate key name, duplicate foreign key
		return myErr.Number == 1050 || myErr.Number == 1061 || myErr.Number == 1826
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "already exists") || strings.Contains(e, "duplicate")
}
