package cli

import (
	"log/slog"

	"github.com/rudolphlogin/feedload/internal/config"
)

// logConfigWarnings reports risky but valid settings at startup. P0 means
// data can be lost or reprocessed; P1 means reduced visibility.
func logConfigWarnings(logger *slog.Logger, cfg config.Config) {
	if cfg.Tracker == "memory" {
		logger.Warn("TRACKER=memory: execution history is lost on exit and every run starts from --start-date or DEFAULT_HISTORY_DATE",
			"priority", "P0")
	}

	if !cfg.RunLockEnabled {
		logger.Warn("RUN_LOCK_ENABLED=false: overlapping runs of the same process may fetch and load the same dates twice",
			"priority", "P0")
	} else if cfg.DatabaseURL == "" {
		logger.Warn("run lock is process local without DATABASE_URL: runs in other processes are not serialized",
			"priority", "P1")
	}

	if cfg.Tracker == "postgres" && !cfg.ReconcileEnabled {
		logger.Warn("RECONCILE_ENABLED=false: STARTED records left by crashed runs stay open until closed by hand",
			"priority", "P1")
	}

	if !cfg.MetricsEnabled && cfg.MetricsPushURL == "" {
		logger.Warn("METRICS_ENABLED=false and METRICS_PUSH_URL unset: run metrics are not exported",
			"priority", "P1")
	}

	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET unset: webhook payloads are not signed", "priority", "P1")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info("CIRCUIT_BREAKER_THRESHOLD=0: circuit breaker disabled")
	}
}
