package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Tracker {
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required")
		}
	case "memory":
		if cfg.FeedsFile == "" {
			add("FEEDS_FILE", "required when TRACKER=memory")
		}
	default:
		add("TRACKER", "must be 'postgres' or 'memory', got %q", cfg.Tracker)
	}

	switch cfg.Engine {
	case "hive":
		if cfg.HiveBin == "" {
			add("HIVE_BIN", "required")
		}
	case "postgres":
		if cfg.EngineURL == "" {
			add("ENGINE_URL", "required when ENGINE=postgres")
		}
	default:
		add("ENGINE", "must be 'hive' or 'postgres', got %q", cfg.Engine)
	}

	if cfg.StagingRoot == "" {
		add("STAGING_ROOT", "required")
	}
	if _, err := time.Parse("2006-01-02", cfg.DefaultHistoryDateStr); err != nil {
		add("DEFAULT_HISTORY_DATE", "must be YYYY-MM-DD, got %q", cfg.DefaultHistoryDateStr)
	}

	for _, f := range cfg.durations() {
		d, err := time.ParseDuration(*f.raw)
		if err != nil {
			add(f.env, "invalid duration: %v", err)
		} else if d <= 0 {
			add(f.env, "must be positive")
		}
	}

	run, rerr := time.ParseDuration(cfg.ReconcileRunThresholdStr)
	rec, terr := time.ParseDuration(cfg.ReconcileThresholdStr)
	if rerr == nil && terr == nil && run < rec {
		add("RECONCILE_RUN_THRESHOLD", "must not be shorter than RECONCILE_THRESHOLD")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("LOG_LEVEL", "must be debug, info, warn or error, got %q", cfg.LogLevel)
	}

	if cfg.WebhookURL != "" {
		if u, err := url.Parse(cfg.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("WEBHOOK_URL", "must be an http or https URL")
		}
	}
	if cfg.KafkaBrokers != "" && cfg.KafkaTopic == "" {
		add("KAFKA_TOPIC", "required when KAFKA_BROKERS is set")
	}
	if cfg.LogContainer != "" && cfg.LogStoreEndpoint == "" {
		add("LOG_STORE_ENDPOINT", "required when LOG_CONTAINER is set")
	}
	if cfg.MetricsPushURL != "" {
		if _, err := url.ParseRequestURI(cfg.MetricsPushURL); err != nil {
			add("METRICS_PUSH_URL", "invalid URL: %v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
