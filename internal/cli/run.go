package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudolphlogin/feedload/internal/config"
	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/objectstore"
)

// dateLayout is the layout of --start-date and --end-date.
const dateLayout = "01/02/2006"

type passSpec struct {
	pass  domain.Pass
	short string
}

var (
	passGetFiles = passSpec{pass: domain.PassGetFiles, short: "Fetch due feed dates from their sources into durable storage"}
	passDataLoad = passSpec{pass: domain.PassDataLoad, short: "Load stored feed dates into their tables"}
)

// runFlags are the arguments shared by getfiles and dataload.
type runFlags struct {
	zone, country, sourceEnv string
	workflowID               string
	program, process         string
	startDate, endDate       string
	force                    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.zone, "zone", "", "market zone")
	fl.StringVar(&f.country, "country", "", "country code")
	fl.StringVar(&f.sourceEnv, "source-env", "", "source environment")
	fl.StringVar(&f.workflowID, "workflow-id", "", "caller workflow id (generated when empty)")
	fl.StringVar(&f.program, "program", "", "program name")
	fl.StringVar(&f.process, "process", "", "process name")
	fl.StringVar(&f.startDate, "start-date", "", "first date to process (MM/DD/YYYY)")
	fl.StringVar(&f.endDate, "end-date", "", "last date to process (MM/DD/YYYY, default yesterday)")
	fl.BoolVar(&f.force, "force", false, "reprocess dates that already succeeded")
}

// request converts the flags into a RunRequest.
func (f *runFlags) request(pass domain.Pass) (domain.RunRequest, error) {
	req := domain.RunRequest{
		Pass:       pass,
		Zone:       strings.TrimSpace(f.zone),
		Country:    strings.TrimSpace(f.country),
		SourceEnv:  strings.TrimSpace(f.sourceEnv),
		WorkflowID: strings.TrimSpace(f.workflowID),
		Program:    strings.TrimSpace(f.program),
		Process:    strings.TrimSpace(f.process),
		Force:      f.force,
	}
	var err error
	if req.Start, err = parseDateFlag("start-date", f.startDate); err != nil {
		return req, err
	}
	if req.End, err = parseDateFlag("end-date", f.endDate); err != nil {
		return req, err
	}
	return req, nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: want MM/DD/YYYY, got %q", name, value)
	}
	return &t, nil
}

func newPassCommand(spec passSpec) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   string(spec.pass),
		Short: spec.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(spec.pass)
			if err != nil {
				return runtimeError(err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPass(ctx, cfg, req)
		},
	}
	flags.register(cmd)
	return cmd
}

// runPass executes one run with a log file per source environment. The
// log is archived and metrics are pushed whatever the outcome.
func runPass(ctx context.Context, cfg config.Config, req domain.RunRequest) error {
	logger, logPath, closeLog := config.SetupLogger(cfg, req.SourceEnv)
	logStart := logOffset(logPath)
	logger = logger.With("pass", req.Pass)
	logConfigWarnings(logger, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		_ = closeLog()
		return err
	}
	defer a.Close()

	rep, runErr := a.runner.Run(ctx, req)
	runID := rep.RunExecutionID
	if runID == 0 {
		runID = domain.ExecutionIDOf(runErr)
	}

	if cfg.MetricsPushURL != "" {
		grouping := map[string]string{"pass": string(req.Pass), "source_env": req.SourceEnv, "process": req.Process}
		if err := metrics.Push(ctx, cfg.MetricsPushURL, "feedload", a.registry, grouping); err != nil {
			logger.Warn("metrics push failed", "err", err)
		}
	}

	switch {
	case runErr != nil:
		logger.Error("run failed", "execution_id", runID, "err", runErr)
	case rep.Status != domain.ExecutionStatusSuccess:
		logger.Warn("run finished with failures", "execution_id", runID, "failed", rep.Failed(),
			"outcomes", len(rep.Outcomes))
	default:
		logger.Info("run succeeded", "execution_id", runID, "outcomes", len(rep.Outcomes),
			"duration", rep.FinishedAt.Sub(rep.StartedAt))
	}

	closeErr := closeLog()
	if logPath != "" && closeErr == nil {
		if err := archiveLog(ctx, cfg, a.stores, req.Process, runID, logPath, logStart); err != nil {
			slog.Warn("log archival failed", "file", logPath, "err", err)
		}
	}

	if runErr != nil {
		return runtimeError(runErr)
	}
	if rep.Status != domain.ExecutionStatusSuccess {
		return runtimeError(fmt.Errorf("%d of %d feed dates failed", rep.Failed(), len(rep.Outcomes)))
	}
	return nil
}

// storeOpener hands out a durable store for a destination.
type storeOpener interface {
	Get(d domain.Destination) (objectstore.Store, error)
}

// archiveLog uploads what this run appended to its log file, from offset
// on, to <LOG_CONTAINER>/logs/<process>/<run execution id>.log. It does
// nothing when no log container is configured.
func archiveLog(ctx context.Context, cfg config.Config, stores storeOpener, process string, runID int64, path string, offset int64) error {
	if cfg.LogContainer == "" {
		return nil
	}
	store, err := stores.Get(domain.Destination{
		Endpoint:  cfg.LogStoreEndpoint,
		AccessKey: cfg.LogStoreAccessKey,
		SecretKey: cfg.LogStoreSecretKey,
		Container: cfg.LogContainer,
		UseSSL:    cfg.LogStoreUseSSL,
	})
	if err != nil {
		return err
	}

	upload := path
	if offset > 0 {
		section, err := logSection(path, offset)
		if err != nil {
			return fmt.Errorf("archive log: %w", err)
		}
		defer os.Remove(section)
		upload = section
	}

	if cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
	}
	if err := store.Upload(ctx, cfg.LogContainer, archiveKey(process, runID), upload); err != nil {
		return fmt.Errorf("archive log: %w", err)
	}
	return nil
}

// logOffset is the size of the log file before the run writes to it.
func logOffset(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// logSection copies path from offset on into a temporary file and returns
// its name. A file shorter than offset was replaced and is copied whole.
func logSection(path string, offset int64) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	dst, err := os.CreateTemp("", "feedload-log-*.log")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func archiveKey(process string, runID int64) string {
	if process == "" {
		process = "unknown"
	}
	name := "unassigned"
	if runID > 0 {
		name = strconv.FormatInt(runID, 10)
	}
	return "logs/" + process + "/" + name + ".log"
}
