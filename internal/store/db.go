// Package store opens the reporting database and runs catalog queries on a
// single dedicated connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/reportmail/internal/config"
)

// DB wraps one connection taken from a database/sql pool capped at a single
// open connection.
type DB struct {
	db     *sql.DB
	conn   *sql.Conn
	driver string
}

// Result is the raw output of a query.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Open connects using the options of the database config section. The
// returned DB must be closed by the caller.
func Open(ctx context.Context, sec config.Section) (*DB, error) {
	driver, dsn, err := DSN(sec)
	if err != nil {
		return nil, err
	}
	return OpenDriver(ctx, driver, dsn)
}

// OpenDriver connects with an explicit database/sql driver name and DSN.
func OpenDriver(ctx context.Context, driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &DB{db: db, conn: conn, driver: driver}, nil
}

// Driver returns the database/sql driver name in use.
func (d *DB) Driver() string { return d.driver }

// Exec runs a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.conn.ExecContext(ctx, query, args...)
	return err
}

// Query runs query and fetches every row.
func (d *DB) Query(ctx context.Context, query string) (*Result, error) {
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(res.Rows)+1, err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}
	return res, nil
}

// Close releases the connection and the pool behind it.
func (d *DB) Close() error {
	connErr := d.conn.Close()
	if err := d.db.Close(); err != nil {
		return err
	}
	return connErr
}

// DSN builds the driver name and data source name from a database config
// section. A "dsn" option is used verbatim when present.
func DSN(sec config.Section) (driver, dsn string, err error) {
	switch strings.ToLower(sec.Get("driver", "mysql")) {
	case "mysql":
		driver = "mysql"
		if v := sec.Get("dsn", ""); v != "" {
			return driver, v, nil
		}
		cfg := mysql.NewConfig()
		cfg.User = sec.Get("user", "")
		cfg.Passwd = sec.Get("password", "")
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(sec.Get("host", "localhost"), sec.Get("port", "3306"))
		cfg.DBName = sec.Get("database", "")
		return driver, cfg.FormatDSN(), nil

	case "postgres", "postgresql", "pgx":
		driver = "pgx"
		if v := sec.Get("dsn", ""); v != "" {
			return driver, v, nil
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(sec.Get("host", "localhost"), sec.Get("port", "5432")),
			Path:   "/" + sec.Get("database", ""),
		}
		if user := sec.Get("user", ""); user != "" {
			if pass := sec.Get("password", ""); pass != "" {
				u.User = url.UserPassword(user, pass)
			} else {
				u.User = url.User(user)
			}
		}
		if mode := sec.Get("sslmode", ""); mode != "" {
			u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
		}
		return driver, u.String(), nil

	case "sqlite", "sqlite3":
		driver = "sqlite"
		if v := sec.Get("dsn", ""); v != "" {
			return driver, v, nil
		}
		return driver, sec.Get("database", ":memory:"), nil

	default:
		return "", "", fmt.Errorf("unsupported database driver %q", sec.Get("driver", ""))
	}
}
