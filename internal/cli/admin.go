package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rudolphlogin/feedload/internal/config"
	"github.com/rudolphlogin/feedload/internal/feedname"
	"github.com/rudolphlogin/feedload/internal/scheduler"
	"github.com/rudolphlogin/feedload/internal/store/postgres"
	"github.com/rudolphlogin/feedload/internal/store/yamlstore"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and referenced files (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := validateFiles(cfg); err != nil {
				return invalidConfig(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

// validateFiles parses every file the configuration points at and checks
// the source aliases.
func validateFiles(cfg config.Config) error {
	var errs []error
	if cfg.FeedsFile != "" {
		if _, err := yamlstore.Load(cfg.FeedsFile); err != nil {
			errs = append(errs, fmt.Errorf("FEEDS_FILE: %w", err))
		}
	}
	if cfg.NamingRulesFile != "" {
		rules, err := feedname.LoadRules(cfg.NamingRulesFile)
		if err == nil {
			_, err = feedname.New(rules)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("NAMING_RULES_FILE: %w", err))
		}
	}
	if cfg.ScheduleFile != "" {
		if _, err := scheduler.LoadEntries(cfg.ScheduleFile, scheduler.NewCronParser()); err != nil {
			errs = append(errs, fmt.Errorf("SCHEDULE_FILE: %w", err))
		}
	}
	if _, err := newSourceRegistry(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printConfig(cmd.OutOrStdout(), config.Load())
		},
	}
}

func printConfig(w io.Writer, cfg config.Config) error {
	data, err := cfg.MaskedJSON()
	if err != nil {
		return runtimeError(fmt.Errorf("marshal config: %w", err))
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func newVersionCommand(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedload version %s (commit: %s)\n", version, commit)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the metadata tables in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return invalidConfig(errors.New("DATABASE_URL: required"))
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			return migrate(cmd.Context(), cfg, logger)
		},
	}
}

func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return runtimeError(err)
	}
	defer db.Close()

	if err := postgres.New(db).Migrate(ctx); err != nil {
		return runtimeError(err)
	}
	logger.Info("schema applied")
	return nil
}
