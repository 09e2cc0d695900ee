package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps a *sql.DB with the dialect specifics the repositories need and
// carries the current transaction in the context.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *DB { return &DB{db: db, dialect: dialect} }

// Open connects with the registered driver of the dialect and pings the server.
func Open(ctx context.Context, dialect Dialect, dsn string, pool PoolConfig) (*DB, error) {
	if dialect != MySQL && dialect != Postgres {
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, dialect), nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Store returns the repositories as the use case bundle.
func (d *DB) Store() usecase.Store {
	return usecase.Store{
		Tx:       d,
		Products: NewProductRepo(d),
		Carts:    NewCartRepo(d),
		Orders:   NewOrderRepo(d),
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithinTx runs fn in a REPEATABLE READ transaction, or inside the caller's one.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return d.mapErr(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return d.mapErr(tx.Commit())
}

func (d *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.db
}

func (d *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	res, err := d.conn(ctx).ExecContext(ctx, d.rebind(q), args...)
	return res, d.mapErr(err)
}

func (d *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	rows, err := d.conn(ctx).QueryContext(ctx, d.rebind(q), args...)
	return rows, d.mapErr(err)
}

func (d *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return d.conn(ctx).QueryRowContext(ctx, d.rebind(q), args...)
}

// execCAS runs a conditional write; no affected row means the guard failed.
func (d *DB) execCAS(ctx context.Context, q string, args ...any) error {
	res, err := d.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// rebind turns ? placeholders into $n for Postgres.
func (d *DB) rebind(q string) string {
	if d.dialect != Postgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// mapErr folds driver errors into the domain's store errors.
func (d *DB) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout, mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}

var _ usecase.TxRunner = (*DB)(nil)
