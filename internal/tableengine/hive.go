package tableengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// HiveDialect targets external staging tables partitioned by filedate and
// main tables partitioned by (year, qtr) with a file_date column.
type HiveDialect struct{}

func (HiveDialect) Name() string { return "hive" }

func (HiveDialect) AddPartition(table string, p domain.DatePartition, location string) []string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD IF NOT EXISTS PARTITION (filedate=%s)", table, p.Key())
	if location != "" {
		stmt += fmt.Sprintf(" LOCATION '%s'", location)
	}
	return []string{stmt}
}

// LoadPartition rewrites the (year, qtr) partition as its rows for every
// other file date plus the staged rows for p, so a reload of p replaces
// its rows.
func (HiveDialect) LoadPartition(spec LoadSpec, p domain.DatePartition) []string {
	main := columns(spec.MainColumns)
	return []string{fmt.Sprintf(
		"INSERT OVERWRITE TABLE %s PARTITION (year=%d, qtr=%d) SELECT %s FROM ("+
			"SELECT %s FROM %s WHERE year=%d AND qtr=%d AND (file_date IS NULL OR file_date <> '%s') "+
			"UNION ALL SELECT %s FROM %s WHERE filedate=%s) reload",
		spec.MainTable, p.Year, p.Quarter, main,
		main, spec.MainTable, p.Year, p.Quarter, p.Key(),
		aliased(spec.StagingColumns, spec.MainColumns), spec.StagingTable, p.Key(),
	)}
}

func (HiveDialect) CountRows(table string, p domain.DatePartition) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE year=%d AND qtr=%d AND file_date='%s'", table, p.Year, p.Quarter, p.Key())
}

func (HiveDialect) DropPartition(table string, p domain.DatePartition) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP IF EXISTS PARTITION (filedate=%s)", table, p.Key())}
}

func (HiveDialect) RefreshStatistics(table string) []string {
	return []string{fmt.Sprintf("ANALYZE TABLE %s PARTITION (year, qtr) COMPUTE STATISTICS NOSCAN", table)}
}

func columns(list string) string {
	cols, _ := SplitColumns(list)
	return strings.Join(cols, ", ")
}

// aliased renders each source column AS its target name. Mismatched lists
// are rejected by LoadSpec.validate before rendering.
func aliased(from, to string) string {
	src, _ := SplitColumns(from)
	dst, _ := SplitColumns(to)
	out := make([]string, len(src))
	for i, c := range src {
		if i < len(dst) && dst[i] != c {
			c += " AS " + dst[i]
		}
		out[i] = c
	}
	return strings.Join(out, ", ")
}

// maxMessage bounds error text stored with execution records.
const maxMessage = 3900

var timeTakenRe = regexp.MustCompile(`Time taken: ([0-9.]+) seconds`)

// CLIExecutor shells out to the hive command line client in silent mode.
// A nonzero exit status or a FAILED marker in the output is a QueryError.
type CLIExecutor struct {
	Bin string
}

func NewCLIExecutor(bin string) *CLIExecutor {
	if bin == "" {
		bin = "hive"
	}
	return &CLIExecutor{Bin: bin}
}

func (c *CLIExecutor) run(ctx context.Context, stmt string) (stdout string, d time.Duration, err error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Bin, "-S", "-e", stmt+";")
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	start := time.Now()
	runErr := cmd.Run()
	d = time.Since(start)

	combined := out.String() + "\n" + errOut.String()
	if m := timeTakenRe.FindStringSubmatch(combined); m != nil {
		if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil {
			d = time.Duration(secs * float64(time.Second))
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", d, fmt.Errorf("run %s: %w", c.Bin, runErr)
		}
		return "", d, &QueryError{Statement: stmt, Message: failureMessage(combined, runErr.Error())}
	}
	if strings.Contains(combined, "FAILED") {
		return "", d, &QueryError{Statement: stmt, Message: failureMessage(combined, "")}
	}
	return out.String(), d, nil
}

func (c *CLIExecutor) Execute(ctx context.Context, stmt string) (Result, error) {
	_, d, err := c.run(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	return Result{Duration: d}, nil
}

// QueryInt64 reads the last non-empty stdout line as an integer.
func (c *CLIExecutor) QueryInt64(ctx context.Context, stmt string) (int64, error) {
	out, _, err := c.run(ctx, stmt)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, &QueryError{Statement: stmt, Message: fmt.Sprintf("unexpected output %q", last)}
	}
	return n, nil
}

// failureMessage keeps the text from the FAILED marker on, without quotes.
func failureMessage(output, fallback string) string {
	msg := output
	if i := strings.Index(output, "FAILED"); i >= 0 {
		msg = output[i:]
	} else if fallback != "" {
		msg = fallback + ": " + strings.TrimSpace(output)
	}
	msg = strings.TrimSpace(strings.NewReplacer("'", "", `"`, "").Replace(msg))
	if len(msg) > maxMessage {
		msg = msg[:maxMessage]
	}
	return msg
}
