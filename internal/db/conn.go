// Package db opens database handles and reads or creates table structure.
package db

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tablegate/internal/logging"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
	// Memory selects the process-local store; there is no SQL handle.
	Memory Dialect = "memory"
)

// Parse splits a database URL into its dialect and a driver DSN. Driver
// suffixes in the scheme ("postgresql+asyncpg") are ignored. SQLite follows
// the usual URL convention: sqlite:///rel.db, sqlite:////abs.db, and a bare
// sqlite:// for an in-memory database.
func Parse(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "file:") {
		return SQLite, raw, nil
	}
	i := strings.Index(raw, "://")
	if i <= 0 {
		return "", "", errors.Errorf("database url %q: missing scheme", raw)
	}
	scheme := strings.ToLower(raw[:i])
	if j := strings.IndexByte(scheme, '+'); j > 0 {
		scheme = scheme[:j]
	}
	rest := raw[i+3:]

	switch scheme {
	case "postgres", "postgresql":
		return Postgres, "postgres://" + rest, nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			return SQLite, "file::memory:?cache=shared", nil
		}
		return SQLite, path, nil
	case "mysql", "mariadb":
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return "", "", err
		}
		return MySQL, dsn, nil
	case "memory":
		return Memory, "", nil
	}
	return "", "", errors.Errorf("database url %q: unsupported scheme %q", raw, scheme)
}

// mysqlDSN converts user:pass@host:port/db?k=v into the driver's DSN format.
func mysqlDSN(rest string) (string, error) {
	u, err := url.Parse("mysql://" + rest)
	if err != nil {
		return "", errors.Wrap(err, "mysql url")
	}
	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[k] = vs[0]
		}
	}
	return cfg.FormatDSN(), nil
}

// Open connects to the database named by rawURL and verifies it with a ping.
func Open(ctx context.Context, rawURL string, log *zap.Logger) (*gorm.DB, Dialect, error) {
	d, dsn, err := Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	cfg := &gorm.Config{Logger: logging.Gorm(log)}

	var gdb *gorm.DB
	switch d {
	case Postgres:
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, d, errors.Wrap(err, "open postgres")
		}
		gdb, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
		if err != nil {
			_ = sqlDB.Close()
			return nil, d, errors.Wrap(err, "open postgres")
		}
	case SQLite:
		gdb, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, d, errors.Wrap(err, "open sqlite")
		}
	case MySQL:
		gdb, err = gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, d, errors.Wrap(err, "open mysql")
		}
	default:
		return nil, d, errors.Errorf("dialect %s has no SQL handle", d)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, d, err
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	if d == SQLite && strings.Contains(dsn, ":memory:") {
		// every connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, d, errors.Wrapf(err, "ping %s", d)
	}
	return gdb, d, nil
}
