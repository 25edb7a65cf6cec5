package db

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tablegate/internal/schema"
)

// ErrNoTable is returned by Reflect when the table does not exist.
var ErrNoTable = errors.New("table does not exist")

// Reflect reads the columns of an existing table and builds its descriptor.
// Relationships are attached as declared; they are not discovered. Columns of
// unrecognised types are served as strings and logged.
func Reflect(ctx context.Context, gdb *gorm.DB, name string, log *zap.Logger, rels ...schema.Relationship) (*schema.Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := gdb.WithContext(ctx).Migrator()
	if !m.HasTable(name) {
		return nil, errors.Wrapf(ErrNoTable, "reflect %q", name)
	}
	cols, err := m.ColumnTypes(name)
	if err != nil {
		return nil, errors.Wrapf(err, "reflect %q", name)
	}

	b := schema.NewBuilder(name)
	for _, ct := range cols {
		ci := schema.ColumnInfo{Name: ct.Name(), DBType: ct.DatabaseTypeName(), Nullable: true}
		if v, ok := ct.Nullable(); ok {
			ci.Nullable = v
		}
		if v, ok := ct.PrimaryKey(); ok {
			ci.PrimaryKey = v
		}
		if v, ok := ct.AutoIncrement(); ok {
			ci.AutoIncrement = v
		}
		if _, ok := ct.DefaultValue(); ok {
			ci.HasDefault = true
		}
		if _, ok := schema.TypeOf(ci.DBType); !ok {
			log.Warn("unrecognised column type, served as string",
				zap.String("table", name), zap.String("column", ci.Name), zap.String("db_type", ci.DBType))
		}
		b.Reflected(ci)
	}
	for _, r := range rels {
		b.Relationship(r)
	}
	return b.Build()
}
