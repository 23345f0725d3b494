// Package tableengine registers and loads date partitions of warehouse
// tables. The core only sees typed operations; each backend owns its
// dialect and its way of detecting failure.
package tableengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Result of one statement.
type Result struct {
	RowsAffected int64
	Duration     time.Duration
}

// QueryError is a statement the engine rejected.
type QueryError struct {
	Statement string
	Message   string
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Message
}

// Executor runs statements against one backend.
type Executor interface {
	Execute(ctx context.Context, stmt string) (Result, error)
	QueryInt64(ctx context.Context, stmt string) (int64, error)
}

// LoadSpec names the tables and column lists of one feed's load.
type LoadSpec struct {
	StagingTable   string
	MainTable      string
	StagingColumns string
	MainColumns    string
}

func LoadSpecFor(c domain.LoadConfig) LoadSpec {
	return LoadSpec{
		StagingTable:   c.StagingTable,
		MainTable:      c.MainTable,
		StagingColumns: c.StagingColumns,
		MainColumns:    c.MainColumns,
	}
}

// Dialect renders statements. Inputs are validated before rendering.
type Dialect interface {
	Name() string
	AddPartition(table string, p domain.DatePartition, location string) []string
	LoadPartition(spec LoadSpec, p domain.DatePartition) []string
	CountRows(table string, p domain.DatePartition) string
	DropPartition(table string, p domain.DatePartition) []string
	RefreshStatistics(table string) []string
}

// Engine runs dialect statements through an executor, one at a time.
type Engine struct {
	dialect Dialect
	exec    Executor
	timeout time.Duration
	logger  *slog.Logger
}

func New(d Dialect, e Executor, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dialect: d, exec: e, timeout: timeout, logger: logger.With("engine", d.Name())}
}

func (e *Engine) AddPartition(ctx context.Context, table string, p domain.DatePartition, location string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if strings.ContainsAny(location, "'\\") {
		return fmt.Errorf("partition location %q contains quotes", location)
	}
	_, err := e.run(ctx, "add partition", e.dialect.AddPartition(table, p, location))
	return err
}

func (e *Engine) LoadPartition(ctx context.Context, spec LoadSpec, p domain.DatePartition) (Result, error) {
	if err := spec.validate(); err != nil {
		return Result{}, err
	}
	return e.run(ctx, "load partition", e.dialect.LoadPartition(spec, p))
}

func (e *Engine) CountRows(ctx context.Context, table string, p domain.DatePartition) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	n, err := e.exec.QueryInt64(ctx, e.dialect.CountRows(table, p))
	if err != nil {
		return 0, domain.System(err, "count rows of %s for %s", table, p.Key())
	}
	return n, nil
}

func (e *Engine) DropPartition(ctx context.Context, table string, p domain.DatePartition) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	_, err := e.run(ctx, "drop partition", e.dialect.DropPartition(table, p))
	return err
}

func (e *Engine) RefreshStatistics(ctx context.Context, table string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	_, err := e.run(ctx, "refresh statistics", e.dialect.RefreshStatistics(table))
	return err
}

func (e *Engine) run(ctx context.Context, op string, stmts []string) (Result, error) {
	var total Result
	for _, stmt := range stmts {
		r, err := e.execOne(ctx, stmt)
		if err != nil {
			return total, domain.System(err, "%s", op)
		}
		total.RowsAffected += r.RowsAffected
		total.Duration += r.Duration
	}
	e.logger.Debug("statement batch done", "op", op, "statements", len(stmts),
		"rows", total.RowsAffected, "duration", total.Duration)
	return total, nil
}

func (e *Engine) execOne(ctx context.Context, stmt string) (Result, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.exec.Execute(ctx, stmt)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateIdentifier accepts table and column names, optionally schema
// qualified.
func ValidateIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return &domain.Error{Kind: domain.KindApplication, Code: domain.CodeInvalidConfig, Msg: fmt.Sprintf("invalid identifier %q", name)}
	}
	return nil
}

// SplitColumns parses a comma separated column list.
func SplitColumns(list string) ([]string, error) {
	var out []string
	for _, c := range strings.Split(list, ",") {
		c = strings.TrimSpace(c)
		if err := ValidateIdentifier(c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s LoadSpec) validate() error {
	var errs []error
	for _, t := range []string{s.StagingTable, s.MainTable} {
		if err := ValidateIdentifier(t); err != nil {
			errs = append(errs, err)
		}
	}
	stg, err := SplitColumns(s.StagingColumns)
	if err != nil {
		errs = append(errs, err)
	}
	main, err := SplitColumns(s.MainColumns)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 && len(stg) != len(main) {
		errs = append(errs, domain.Application(domain.CodeInvalidConfig,
			"column lists differ in length: %d staging, %d main", len(stg), len(main)))
	}
	return errors.Join(errs...)
}
