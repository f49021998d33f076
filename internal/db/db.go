// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	MaxOpenConnections = 40
	MaxIdleConnections = 10

	queryTimeout = 10 * time.Second
)

var ErrNoRows = sql.ErrNoRows

//go:embed migrations/*.sql
var migrations embed.FS

type txKey struct{}

type Client struct {
	db   *sqlx.DB
	Goqu *goqu.Database
}

func init() {
	opts := postgres.DialectOptions()
	opts.SupportsWithCTE = true
	goqu.RegisterDialect("default", opts)
	goqu.SetDefaultPrepared(true)
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Client, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(MaxOpenConnections)
	conn.SetMaxIdleConns(MaxIdleConnections)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: conn, Goqu: goqu.New("default", conn)}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction carried by the context. A context that
// already holds a transaction joins it, so nested calls commit once.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if c.getTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *Client) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

func (c *Client) ext(ctx context.Context) sqlx.ExtContext {
	if tx := c.getTx(ctx); tx != nil {
		return tx
	}
	return c.db
}

// Get scans a single row into dest, which may be a struct or a scalar.
func (c *Client) Get(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := c.ext(ctx).QueryRowxContext(ctx, q, args...)

	outType := reflect.TypeOf(dest)
	if outType.Kind() == reflect.Ptr {
		outType = outType.Elem()
	}

	var scanErr error
	if outType.Kind() == reflect.Struct && outType != reflect.TypeOf(time.Time{}) {
		scanErr = row.StructScan(dest)
	} else {
		scanErr = row.Scan(dest)
	}

	if errors.Is(scanErr, sql.ErrNoRows) {
		return ErrNoRows
	}
	if scanErr != nil {
		return fmt.Errorf("unable to scan row: %w", scanErr)
	}
	return nil
}

func (c *Client) Select(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := sqlx.SelectContext(ctx, c.ext(ctx), dest, q, args...); err != nil {
		return fmt.Errorf("unable to execute select query: %w", err)
	}
	return nil
}

// InsertReturningID executes the insert and returns the generated id.
func (c *Client) InsertReturningID(ctx context.Context, query *goqu.InsertDataset) (int64, error) {
	q, args, err := query.Returning("id").ToSQL()
	if err != nil {
		return 0, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id int64
	if err := c.ext(ctx).QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to scan inserted id: %w", err)
	}
	return id, nil
}

func (c *Client) Insert(ctx context.Context, query *goqu.InsertDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}
	return c.exec(ctx, q, args, "insert")
}

func (c *Client) Update(ctx context.Context, query *goqu.UpdateDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}
	return c.exec(ctx, q, args, "update")
}

func (c *Client) Delete(ctx context.Context, query *goqu.DeleteDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}
	return c.exec(ctx, q, args, "delete")
}

func (c *Client) exec(ctx context.Context, q string, args []any, kind string) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := c.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to execute %s query: %w", kind, err)
	}
	return res, nil
}

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so running it on each start is safe.
func (c *Client) Migrate(ctx context.Context, logger *zap.Logger) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := c.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if logger != nil {
			logger.Info("migration applied", zap.String("file", name))
		}
	}
	return nil
}

// Exec runs raw SQL, used by the seeder for fixture files.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.ext(ctx).ExecContext(ctx, query, args...)
	return err
}
