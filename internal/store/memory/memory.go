// Package memory is an in-process metadata store for tests, dry runs and
// file-configured deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/tracker"
)

type Store struct {
	mu        sync.Mutex
	nextID    int64
	records   []domain.ExecutionRecord
	feeds     []domain.FeedConfig
	processes map[string]int64
}

func New() *Store {
	return &Store{processes: make(map[string]int64)}
}

// AddFeeds registers feed configurations.
func (s *Store) AddFeeds(feeds ...domain.FeedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = append(s.feeds, feeds...)
}

// AddProcess registers a process id under (program, process).
func (s *Store) AddProcess(program, process string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[processKey(program, process)] = id
}

func processKey(program, process string) string {
	return strings.ToLower(program) + "\x00" + strings.ToLower(process)
}

func (s *Store) ActiveFeeds(_ context.Context, zone, country, sourceEnv string) ([]domain.FeedConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedConfig
	for _, f := range s.feeds {
		if strings.EqualFold(f.Zone, zone) && strings.EqualFold(f.Country, country) &&
			strings.EqualFold(f.SourceEnv, sourceEnv) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out, nil
}

func (s *Store) ProcessID(_ context.Context, program, process string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.processes[processKey(program, process)]
	if !ok {
		return 0, domain.Application(domain.CodeProcessNotFound, "no process %q for program %q", process, program)
	}
	return id, nil
}

func (s *Store) InsertExecution(_ context.Context, rec domain.ExecutionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *Store) CloseExecution(_ context.Context, id int64, t domain.Terminal, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		r := &s.records[i]
		if r.ID != id {
			continue
		}
		if r.Status != domain.ExecutionStatusStarted {
			return tracker.ErrAlreadyClosed
		}
		r.Status = t.Status
		r.PostRunCount = t.PostRunCount
		r.EligibleForNextRun = t.Eligible
		r.FinishedAt = &finishedAt
		return nil
	}
	return tracker.ErrNotFound
}

func (s *Store) LastSuccessDate(_ context.Context, feedID, processID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, r := range s.records {
		if r.FeedID != feedID || r.ProcessID != processID ||
			r.Status != domain.ExecutionStatusSuccess || r.ExecutionDate == nil {
			continue
		}
		if last == nil || r.ExecutionDate.After(*last) {
			d := *r.ExecutionDate
			last = &d
		}
	}
	return last, nil
}

func (s *Store) LatestStatus(_ context.Context, feedID, processID int64, date time.Time) (domain.ExecutionStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.ExecutionRecord
	for i := range s.records {
		r := &s.records[i]
		if r.FeedID != feedID || r.ProcessID != processID || r.ExecutionDate == nil ||
			!r.ExecutionDate.Equal(date) {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.Status, true, nil
}

// StaleStarted returns STARTED records opened before olderThan, oldest first.
func (s *Store) StaleStarted(_ context.Context, olderThan time.Time, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, r := range s.records {
		if r.Status == domain.ExecutionStatusStarted && r.StartedAt.Before(olderThan) {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ListExecutions returns a feed's records, newest first.
func (s *Store) ListExecutions(_ context.Context, feedID int64, limit, offset int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].FeedID == feedID {
			out = append(out, s.records[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Records returns a copy of every record in insertion order.
func (s *Store) Records() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionRecord, len(s.records))
	copy(out, s.records)
	return out
}
