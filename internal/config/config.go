// Package config loads feedload settings from the environment.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for feedload. Durations keep their raw
// string next to the parsed value so Validate can report the input.
type Config struct {
	DatabaseURL string `json:"database_url"`
	// Tracker selects where execution records live: "postgres" or "memory".
	Tracker         string `json:"tracker"`
	FeedsFile       string `json:"feeds_file,omitempty"`
	NamingRulesFile string `json:"naming_rules_file,omitempty"`
	ScheduleFile    string `json:"schedule_file,omitempty"`

	StagingRoot           string    `json:"staging_root"`
	DefaultHistoryDate    time.Time `json:"-"`
	DefaultHistoryDateStr string    `json:"default_history_date"`
	SkipListingSources    []string  `json:"skip_listing_sources,omitempty"`
	// SourceAliases maps source environment names to adapters
	// (local, s3, gcs, report), read from "sftp-drop=local,partner=s3".
	SourceAliases map[string]string `json:"source_aliases,omitempty"`

	SourceTimeout    time.Duration `json:"-"`
	SourceTimeoutStr string        `json:"source_timeout"`
	StoreTimeout     time.Duration `json:"-"`
	StoreTimeoutStr  string        `json:"store_timeout"`
	EngineTimeout    time.Duration `json:"-"`
	EngineTimeoutStr string        `json:"engine_timeout"`
	DBOpTimeout      time.Duration `json:"-"`
	DBOpTimeoutStr   string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	// Engine is "hive" (CLI executor) or "postgres" (pgx executor).
	Engine          string `json:"engine"`
	EngineURL       string `json:"engine_url,omitempty"`
	HiveBin         string `json:"hive_bin"`
	PartitionScheme string `json:"partition_scheme"`

	ReportPollInterval    time.Duration `json:"-"`
	ReportPollIntervalStr string        `json:"report_poll_interval"`
	ReportPollAttempts    int           `json:"report_poll_attempts"`

	LogDir       string `json:"log_dir"`
	LogLevel     string `json:"log_level"`
	LogContainer string `json:"log_container,omitempty"`
	// LogStore* locate the object store logs are archived to.
	LogStoreEndpoint  string `json:"log_store_endpoint,omitempty"`
	LogStoreAccessKey string `json:"log_store_access_key,omitempty"`
	LogStoreSecretKey string `json:"log_store_secret_key,omitempty"`
	LogStoreUseSSL    bool   `json:"log_store_use_ssl"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPushURL string `json:"metrics_push_url,omitempty"`

	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	KafkaBrokers string `json:"kafka_brokers,omitempty"`
	KafkaTopic   string `json:"kafka_topic"`

	WebhookURL        string        `json:"webhook_url,omitempty"`
	WebhookSecret     string        `json:"webhook_secret,omitempty"`
	WebhookTimeout    time.Duration `json:"-"`
	WebhookTimeoutStr string        `json:"webhook_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	RunLockEnabled bool `json:"run_lock_enabled"`
	// RunLockHeartbeat pings the dedicated lock connection. It does not
	// renew the advisory lock.
	RunLockHeartbeat    time.Duration `json:"-"`
	RunLockHeartbeatStr string        `json:"run_lock_heartbeat"`

	HTTPAddr                  string        `json:"http_addr"`
	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	CORSOrigins               []string      `json:"cors_origins,omitempty"`
	TickInterval              time.Duration `json:"-"`
	TickIntervalStr           string        `json:"tick_interval"`
	RequestBufferSize         int           `json:"request_buffer_size"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`
	// ReconcileThreshold must exceed the longest expected run; younger
	// STARTED records may still be in progress.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	// ReconcileRunThreshold is the same age for run-level records, which
	// stay STARTED for the whole of a multi-date run.
	ReconcileRunThreshold    time.Duration `json:"-"`
	ReconcileRunThresholdStr string        `json:"reconcile_run_threshold"`
	ReconcileBatchSize       int           `json:"reconcile_batch_size"`
}

// durationField ties a duration setting to its variable and default.
type durationField struct {
	env string
	def string
	raw *string
	dst *time.Duration
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"SOURCE_TIMEOUT", "10m", &c.SourceTimeoutStr, &c.SourceTimeout},
		{"STORE_TIMEOUT", "5m", &c.StoreTimeoutStr, &c.StoreTimeout},
		{"ENGINE_TIMEOUT", "1h", &c.EngineTimeoutStr, &c.EngineTimeout},
		{"DB_OP_TIMEOUT", "5s", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", "30m", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", "5m", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"REPORT_POLL_INTERVAL", "30s", &c.ReportPollIntervalStr, &c.ReportPollInterval},
		{"ANALYTICS_RETENTION", "168h", &c.AnalyticsRetentionStr, &c.AnalyticsRetention},
		{"WEBHOOK_TIMEOUT", "10s", &c.WebhookTimeoutStr, &c.WebhookTimeout},
		{"CIRCUIT_BREAKER_COOLDOWN", "2m", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown},
		{"RUN_LOCK_HEARTBEAT", "2s", &c.RunLockHeartbeatStr, &c.RunLockHeartbeat},
		{"HTTP_SHUTDOWN_TIMEOUT", "10s", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"TICK_INTERVAL", "30s", &c.TickIntervalStr, &c.TickInterval},
		{"DISPATCHER_DRAIN_TIMEOUT", "30m", &c.DispatcherDrainTimeoutStr, &c.DispatcherDrainTimeout},
		{"RECONCILE_INTERVAL", "5m", &c.ReconcileIntervalStr, &c.ReconcileInterval},
		{"RECONCILE_THRESHOLD", "6h", &c.ReconcileThresholdStr, &c.ReconcileThreshold},
		{"RECONCILE_RUN_THRESHOLD", "48h", &c.ReconcileRunThresholdStr, &c.ReconcileRunThreshold},
	}
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		Tracker:               strings.ToLower(getenv("TRACKER", "postgres")),
		FeedsFile:             os.Getenv("FEEDS_FILE"),
		NamingRulesFile:       os.Getenv("NAMING_RULES_FILE"),
		ScheduleFile:          os.Getenv("SCHEDULE_FILE"),
		StagingRoot:           getenv("STAGING_ROOT", "/var/tmp/feedload"),
		DefaultHistoryDateStr: getenv("DEFAULT_HISTORY_DATE", "1900-01-01"),
		SkipListingSources:    splitCSV(os.Getenv("SKIP_LISTING_SOURCES")),
		SourceAliases:         parsePairs(os.Getenv("SOURCE_ALIASES")),
		Engine:                strings.ToLower(getenv("ENGINE", "hive")),
		EngineURL:             os.Getenv("ENGINE_URL"),
		HiveBin:               getenv("HIVE_BIN", "hive"),
		PartitionScheme:       getenv("PARTITION_SCHEME", "s3a"),
		LogDir:                getenv("LOG_DIR", "logs"),
		LogLevel:              strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogContainer:          os.Getenv("LOG_CONTAINER"),
		LogStoreEndpoint:      os.Getenv("LOG_STORE_ENDPOINT"),
		LogStoreAccessKey:     os.Getenv("LOG_STORE_ACCESS_KEY"),
		LogStoreSecretKey:     os.Getenv("LOG_STORE_SECRET_KEY"),
		LogStoreUseSSL:        os.Getenv("LOG_STORE_USE_SSL") == "true",
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:           getenv("METRICS_PATH", "/metrics"),
		MetricsPushURL:        os.Getenv("METRICS_PUSH_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		KafkaBrokers:          os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:            getenv("KAFKA_TOPIC", "feedload.outcomes"),
		WebhookURL:            os.Getenv("WEBHOOK_URL"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		RunLockEnabled:        os.Getenv("RUN_LOCK_ENABLED") != "false",
		CORSOrigins:           splitCSV(os.Getenv("CORS_ORIGINS")),
		ReconcileEnabled:      os.Getenv("RECONCILE_ENABLED") == "true",
	}

	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.ReportPollAttempts = positiveInt("REPORT_POLL_ATTEMPTS", 20)
	cfg.RequestBufferSize = positiveInt("REQUEST_BUFFER_SIZE", 16)
	cfg.ReconcileBatchSize = positiveInt("RECONCILE_BATCH_SIZE", 100)

	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			slog.Warn("config: invalid CIRCUIT_BREAKER_THRESHOLD, using default", "value", s, "default", 5)
		}
	}

	if cfg.HTTPAddr = os.Getenv("HTTP_ADDR"); cfg.HTTPAddr == "" {
		if port := os.Getenv("METRICS_PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	for _, f := range cfg.durations() {
		*f.raw = getenv(f.env, f.def)
		if d, err := time.ParseDuration(*f.raw); err == nil {
			*f.dst = d
		}
	}
	if d, err := time.Parse("2006-01-02", cfg.DefaultHistoryDateStr); err == nil {
		cfg.DefaultHistoryDate = d
	}

	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		slog.Warn("config: invalid value (must be a positive integer), using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePairs reads "a=b,c=d". Entries without '=' are ignored.
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitCSV(s) {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[strings.ToLower(k)] = strings.ToLower(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.EngineURL = maskSecret(c.EngineURL)
	masked.WebhookSecret = maskSecret(c.WebhookSecret)
	masked.LogStoreSecretKey = maskSecret(c.LogStoreSecretKey)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
