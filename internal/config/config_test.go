package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:pw@db/feeds")

	cfg := Load()

	if cfg.Tracker != "postgres" || cfg.Engine != "hive" || cfg.HiveBin != "hive" {
		t.Errorf("backends = %q %q %q", cfg.Tracker, cfg.Engine, cfg.HiveBin)
	}
	if !cfg.DefaultHistoryDate.Equal(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DefaultHistoryDate = %v", cfg.DefaultHistoryDate)
	}
	if cfg.SourceTimeout != 10*time.Minute || cfg.TickInterval != 30*time.Second || cfg.ReconcileThreshold != 6*time.Hour {
		t.Errorf("durations = %v %v %v", cfg.SourceTimeout, cfg.TickInterval, cfg.ReconcileThreshold)
	}
	if cfg.ReconcileRunThreshold != 48*time.Hour {
		t.Errorf("ReconcileRunThreshold = %v", cfg.ReconcileRunThreshold)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.ReconcileBatchSize != 100 || cfg.ReportPollAttempts != 20 {
		t.Errorf("ints = %d %d %d", cfg.CircuitBreakerThreshold, cfg.ReconcileBatchSize, cfg.ReportPollAttempts)
	}
	if !cfg.RunLockEnabled || cfg.MetricsEnabled || cfg.ReconcileEnabled {
		t.Errorf("flags = lock %v metrics %v reconcile %v", cfg.RunLockEnabled, cfg.MetricsEnabled, cfg.ReconcileEnabled)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MetricsPath != "/metrics" {
		t.Errorf("http = %q %q", cfg.HTTPAddr, cfg.MetricsPath)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRACKER", "Memory")
	t.Setenv("FEEDS_FILE", "feeds.yaml")
	t.Setenv("SKIP_LISTING_SOURCES", " reportapi , ,sftp-push")
	t.Setenv("SOURCE_TIMEOUT", "90s")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("RUN_LOCK_ENABLED", "false")
	t.Setenv("METRICS_PORT", "9100")
	t.Setenv("DB_MAX_OPEN_CONNS", "-3")
	t.Setenv("DEFAULT_HISTORY_DATE", "2020-01-01")
	t.Setenv("SOURCE_ALIASES", "SFTP-Drop=local, partner=s3, broken")

	cfg := Load()

	if cfg.Tracker != "memory" {
		t.Errorf("Tracker = %q", cfg.Tracker)
	}
	if len(cfg.SkipListingSources) != 2 || cfg.SkipListingSources[1] != "sftp-push" {
		t.Errorf("SkipListingSources = %v", cfg.SkipListingSources)
	}
	if cfg.SourceTimeout != 90*time.Second {
		t.Errorf("SourceTimeout = %v", cfg.SourceTimeout)
	}
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("explicit 0 should disable the breaker, got %d", cfg.CircuitBreakerThreshold)
	}
	if cfg.RunLockEnabled {
		t.Error("RunLockEnabled should be false")
	}
	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBMaxOpenConns != 10 {
		t.Errorf("invalid DB_MAX_OPEN_CONNS should fall back to 10, got %d", cfg.DBMaxOpenConns)
	}
	if len(cfg.SourceAliases) != 2 || cfg.SourceAliases["sftp-drop"] != "local" || cfg.SourceAliases["partner"] != "s3" {
		t.Errorf("SourceAliases = %v", cfg.SourceAliases)
	}
	if cfg.DefaultHistoryDate.Year() != 2020 {
		t.Errorf("DefaultHistoryDate = %v", cfg.DefaultHistoryDate)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("memory tracker with feeds file should validate: %v", err)
	}
}

func TestMaskedJSON(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:secret@db/feeds")
	t.Setenv("ENGINE_URL", "postgresql://wh:hunter2@wh/dw")
	t.Setenv("WEBHOOK_SECRET", "shh")
	cfg := Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, secret := range []string{"secret", "hunter2", "shh"} {
		if strings.Contains(out, secret) {
			t.Errorf("masked JSON leaks %q:\n%s", secret, out)
		}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["database_url"] != "postgres://***" || m["engine_url"] != "postgresql://***" || m["webhook_secret"] != "***" {
		t.Errorf("masked = %v %v %v", m["database_url"], m["engine_url"], m["webhook_secret"])
	}
	if m["source_timeout"] != "10m" {
		t.Errorf("source_timeout = %v", m["source_timeout"])
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	dir := t.TempDir()
	logger, path, cleanup := SetupLogger(Config{LogDir: filepath.Join(dir, "nested"), LogLevel: "info"}, "SFTP Push")
	logger.Info("hello", "feed_id", 10)
	logger.Debug("hidden")
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}

	if filepath.Base(path) != "sftp_push.log" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(string(data), `"feed_id":10`) {
		t.Errorf("file log = %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug line written at info level")
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("run finished", "status", "SUCCESS")

	if !strings.Contains(stderr.String(), "status=SUCCESS") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(file.String(), `"status":"SUCCESS"`) {
		t.Errorf("file = %q", file.String())
	}
}
