package domain

import (
	"fmt"
	"log/slog"
	"strings"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency normalizes a configured frequency. Unknown values are
// returned as-is so the recurrence check can reject them per feed.
func ParseFrequency(s string) Frequency {
	return Frequency(strings.ToLower(strings.TrimSpace(s)))
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Credentials identify an account on a source system.
type Credentials struct {
	Host     string
	User     string
	Password string
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.String("user", c.User),
		slog.String("password", mask(c.Password)),
	)
}

// Destination is the durable object store a feed lands in.
type Destination struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Container string
	Region    string
	UseSSL    bool
}

func (d Destination) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", d.Endpoint),
		slog.String("container", d.Container),
		slog.String("access_key", d.AccessKey),
		slog.String("secret_key", mask(d.SecretKey)),
	)
}

// LoadConfig describes the partitioned tables filled by the load pass.
type LoadConfig struct {
	StagingTable   string
	MainTable      string
	StagingColumns string
	MainColumns    string

	// RawPrefix holds one folder per date (RawPrefix/YYYYMMDD/...) and backs
	// the staging table partitions.
	RawPrefix string

	// MainContainer and MainPrefix locate the objects owned by the main table,
	// laid out as MainPrefix/year=YYYY/qtr=Q.
	MainContainer string
	MainPrefix    string
}

// FeedConfig is one configured recurring dataset. It is read once per run
// and never mutated.
type FeedConfig struct {
	SourceID int64
	FeedID   int64

	Zone       string
	Country    string
	SourceName string
	SourceEnv  string

	Frequency Frequency
	DayOfRun  int

	FileName   string
	SourceDir  string
	StagingDir string
	TargetDir  string

	SourceContainer string
	Source          Credentials
	Options         map[string]string

	Destination Destination
	Load        LoadConfig
}

// Key identifies the feed in logs and metrics.
func (f FeedConfig) Key() string {
	return fmt.Sprintf("%d/%d", f.SourceID, f.FeedID)
}

// Option returns a source option or def when unset.
func (f FeedConfig) Option(name, def string) string {
	if v, ok := f.Options[name]; ok && v != "" {
		return v
	}
	return def
}

func (f FeedConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("source_id", f.SourceID),
		slog.Int64("feed_id", f.FeedID),
		slog.String("source_env", f.SourceEnv),
		slog.String("frequency", string(f.Frequency)),
		slog.Int("day_of_run", f.DayOfRun),
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
