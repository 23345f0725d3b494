package tableengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// PostgresDialect targets a staging table LIST partitioned on filedate and
// a main table carrying year, qtr and file_date columns. Partition
// locations are ignored; staging partitions are filled out of band.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func partitionName(table string, p domain.DatePartition) string {
	return table + "_p" + p.Key()
}

func (PostgresDialect) AddPartition(table string, p domain.DatePartition, _ string) []string {
	return []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN ('%s')",
		partitionName(table, p), table, p.Key(),
	)}
}

// LoadPartition replaces the day's rows in one statement, so a forced
// reload never duplicates and a failed insert keeps the old rows.
func (PostgresDialect) LoadPartition(spec LoadSpec, p domain.DatePartition) []string {
	return []string{fmt.Sprintf(
		"WITH cleared AS (DELETE FROM %s WHERE file_date = '%s') "+
			"INSERT INTO %s (%s, year, qtr) SELECT %s, %d, %d FROM %s WHERE filedate = '%s'",
		spec.MainTable, p.Key(),
		spec.MainTable, columns(spec.MainColumns), columns(spec.StagingColumns),
		p.Year, p.Quarter, spec.StagingTable, p.Key(),
	)}
}

func (PostgresDialect) CountRows(table string, p domain.DatePartition) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE file_date = '%s'", table, p.Key())
}

func (PostgresDialect) DropPartition(table string, p domain.DatePartition) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", partitionName(table, p))}
}

func (PostgresDialect) RefreshStatistics(table string) []string {
	return []string{"ANALYZE " + table}
}

// pgxConn is the part of *pgxpool.Pool the executor uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxExecutor runs statements on a pgx pool.
type PgxExecutor struct {
	conn pgxConn
}

func NewPgxExecutor(conn pgxConn) *PgxExecutor {
	return &PgxExecutor{conn: conn}
}

// OpenPool connects to the warehouse and pings it.
func OpenPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("warehouse pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("warehouse ping: %w", err)
	}
	return pool, nil
}

func (e *PgxExecutor) Execute(ctx context.Context, stmt string) (Result, error) {
	start := time.Now()
	tag, err := e.conn.Exec(ctx, stmt)
	if err != nil {
		return Result{}, classify(stmt, err)
	}
	return Result{RowsAffected: tag.RowsAffected(), Duration: time.Since(start)}, nil
}

func (e *PgxExecutor) QueryInt64(ctx context.Context, stmt string) (int64, error) {
	var n int64
	if err := e.conn.QueryRow(ctx, stmt).Scan(&n); err != nil {
		return 0, classify(stmt, err)
	}
	return n, nil
}

func classify(stmt string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Code + " " + pgErr.Message
		if pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		return &QueryError{Statement: stmt, Message: strings.TrimSpace(msg)}
	}
	return err
}
