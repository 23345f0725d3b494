package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/tracker"
)

// Store implements tracker.Store and the runner's feed store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ActiveFeeds returns the active feeds of one (zone, country, source environment).
func (s *Store) ActiveFeeds(ctx context.Context, zone, country, sourceEnv string) ([]domain.FeedConfig, error) {
	rows, err := s.db.QueryContext(ctx, queryActiveFeeds, zone, country, sourceEnv)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FeedConfig
	for rows.Next() {
		var f domain.FeedConfig
		var frequency, options string

		err := rows.Scan(
			&f.SourceID, &f.FeedID,
			&f.Zone, &f.Country, &f.SourceName, &f.SourceEnv,
			&frequency, &f.DayOfRun,
			&f.FileName, &f.SourceDir, &f.StagingDir, &f.TargetDir,
			&f.SourceContainer, &f.Source.Host, &f.Source.User, &f.Source.Password, &options,
			&f.Destination.Endpoint, &f.Destination.AccessKey, &f.Destination.SecretKey,
			&f.Destination.Container, &f.Destination.Region, &f.Destination.UseSSL,
			&f.Load.StagingTable, &f.Load.MainTable, &f.Load.StagingColumns, &f.Load.MainColumns,
			&f.Load.RawPrefix, &f.Load.MainContainer, &f.Load.MainPrefix,
		)
		if err != nil {
			return nil, err
		}
		f.Frequency = domain.ParseFrequency(frequency)
		if f.Options, err = decodeOptions(options); err != nil {
			return nil, fmt.Errorf("feed %d: %w", f.FeedID, err)
		}
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func decodeOptions(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var opts map[string]string
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("decode source options: %w", err)
	}
	return opts, nil
}

// ProcessID looks up the process id registered for (program, process).
func (s *Store) ProcessID(ctx context.Context, program, process string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, queryProcessID, program, process).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.Application(domain.CodeProcessNotFound, "no process %q for program %q", process, program)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertExecution inserts a STARTED record and returns its generated id.
func (s *Store) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, queryInsertExecution,
		rec.SourceID,
		rec.FeedID,
		rec.ProcessID,
		rec.WorkflowID,
		nullTime(rec.ExecutionDate),
		string(rec.Status),
		rec.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, describe(err)
	}
	return id, nil
}

// CloseExecution applies the terminal update.
// Returns tracker.ErrAlreadyClosed if the record is no longer STARTED.
// The guard sits in the WHERE clause so concurrent closers cannot both win.
func (s *Store) CloseExecution(ctx context.Context, id int64, t domain.Terminal, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, queryCloseExecution,
		string(t.Status), t.PostRunCount, t.Eligible, finishedAt, id)
	if err != nil {
		return describe(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either missing or already terminal.
		var current string
		err := s.db.QueryRowContext(ctx, queryExecutionExists, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return tracker.ErrNotFound
		}
		if err != nil {
			return err
		}
		return tracker.ErrAlreadyClosed
	}

	return nil
}

// LastSuccessDate returns MAX(execution_date) over SUCCESS rows, or nil.
func (s *Store) LastSuccessDate(ctx context.Context, feedID, processID int64) (*time.Time, error) {
	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, queryLastSuccessDate, feedID, processID).Scan(&last); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	d := domain.Day(last.Time)
	return &d, nil
}

func (s *Store) LatestStatus(ctx context.Context, feedID, processID int64, date time.Time) (domain.ExecutionStatus, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, queryLatestStatus, feedID, processID, date).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.ExecutionStatus(status), true, nil
}

// StaleStarted returns STARTED records opened before olderThan.
// These are left behind by processes that died between open and close.
func (s *Store) StaleStarted(ctx context.Context, olderThan time.Time, limit int) ([]domain.ExecutionRecord, error) {
	return s.queryRecords(ctx, queryStaleStarted, olderThan, limit)
}

// ListExecutions returns a feed's records newest first, paginated by limit and offset.
func (s *Store) ListExecutions(ctx context.Context, feedID int64, limit, offset int) ([]domain.ExecutionRecord, error) {
	return s.queryRecords(ctx, queryListExecutions, feedID, limit, offset)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var status string
		var date, finished sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.SourceID,
			&rec.FeedID,
			&rec.ProcessID,
			&rec.WorkflowID,
			&date,
			&status,
			&rec.PostRunCount,
			&rec.EligibleForNextRun,
			&rec.StartedAt,
			&finished,
		)
		if err != nil {
			return nil, err
		}
		rec.Status = domain.ExecutionStatus(status)
		rec.ExecutionDate = timePtr(date)
		rec.FinishedAt = timePtr(finished)
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// describe adds the server's code and detail to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Detail != "" {
			return fmt.Errorf("%s (%s): %s: %w", pqErr.Message, pqErr.Code, pqErr.Detail, err)
		}
		return fmt.Errorf("%s (%s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}
