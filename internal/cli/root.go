// Package cli implements the feedload command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error { return &exitError{code: exitInvalidConfig, err: err} }
func runtimeError(err error) error  { return &exitError{code: exitRuntimeError, err: err} }

// ExitCode maps an error returned by the root command to a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

// NewRootCommand builds the feedload command tree.
func NewRootCommand(version, commit string) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedload",
		Short:         "Fetch partner feeds into durable storage and load them into tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file read before the environment")

	root.AddCommand(
		newPassCommand(passGetFiles),
		newPassCommand(passDataLoad),
		newServeCommand(),
		newMigrateCommand(),
		newValidateCommand(),
		newConfigCommand(),
		newVersionCommand(version, commit),
	)
	return root
}

// loadEnvFile reads a dotenv file without overriding variables that are
// already set. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return invalidConfig(fmt.Errorf("read %s: %w", path, err))
	}
	return nil
}

// Execute runs the root command and returns the exit code.
func Execute(version, commit string, args []string, stderr io.Writer) int {
	root := NewRootCommand(version, commit)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "feedload: %v\n", err)
	}
	return ExitCode(err)
}
