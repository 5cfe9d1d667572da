package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"passcore/internal/blob"
	"passcore/internal/config"
	"passcore/internal/core"
	"passcore/internal/history"
	"passcore/internal/logging"
	"passcore/internal/observability"
	"passcore/internal/status"
)

// session holds the collaborators a command needs, built from configuration.
type session struct {
	cfg       config.Config
	log       logr.Logger
	vocab     *status.Vocabulary
	store     core.RecordStore
	history   *history.BlobRecorder
	service   *core.StatusService
	registry  *prometheus.Registry
	expvar    *observability.ExpvarRecorder
	traceFile *os.File
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load configuration", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, verbose bool) (logr.Logger, error) {
	level, err := cfg.Verbosity()
	if err != nil {
		return logr.Discard(), err
	}
	if verbose && level < logging.VERBOSE {
		level = logging.VERBOSE
	}
	return logging.New(level, cfg.Logging.Development)
}

// openHistory returns nil when the archive is disabled.
func openHistory(ctx context.Context, cfg config.Config) (*history.BlobRecorder, error) {
	if !cfg.HistoryEnabled() {
		return nil, nil
	}
	store, err := blob.Open(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return history.NewBlobRecorder(store), nil
}

// openStore opens only the record store.
func openStore(ctx context.Context, opts *RootOptions) (core.RecordStore, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := core.OpenRecordStore(ctx, cfg.Storage)
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "open record store", err)
	}
	return store, cfg, nil
}

// openSession builds the status service and its observability hooks.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load vocabulary", err)
	}
	patterns, err := cfg.Patterns()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "identifier patterns", err)
	}

	sess := &session{cfg: cfg, log: log, vocab: vocab}
	sess.history, err = openHistory(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open history", err)
	}

	prom := observability.NewPrometheusRecorder()
	sess.registry = prometheus.NewRegistry()
	if err := prom.Register(sess.registry); err != nil {
		return nil, WrapExitError(ExitCommandError, "register metrics", err)
	}
	sess.expvar = observability.NewExpvarRecorder("")

	var tracer core.Tracer = observability.NopTracer{}
	if cfg.Observability.TraceFile != "" {
		f, err := os.OpenFile(cfg.Observability.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open trace file", err)
		}
		sess.traceFile = f
		tracer = observability.NewJSONTracer(f)
	}

	sess.store, err = core.OpenRecordStore(ctx, cfg.Storage)
	if err != nil {
		_ = sess.Close(nil)
		return nil, WrapExitError(ExitCommandError, "open record store", err)
	}

	svcOpts := []core.Option{
		core.WithLogger(log.WithName("status")),
		core.WithMetrics(observability.Multi{prom, sess.expvar}),
		core.WithTracer(tracer),
		core.WithFetchConcurrency(cfg.Engine.FetchConcurrency),
		core.WithPatterns(patterns),
	}
	if sess.history != nil {
		svcOpts = append(svcOpts, core.WithHistory(sess.history))
	}
	sess.service = core.NewStatusService(sess.store, vocab, svcOpts...)
	return sess, nil
}

// Close flushes metrics and releases the store and trace file.
func (s *session) Close(f *OutputFormatter) error {
	var errs []error
	if f != nil && s.expvar != nil {
		snap := s.expvar.Snapshot()
		for op, results := range snap.Results {
			f.VerboseLog("%s: %d ok, %d failed, %.1fms total", op, results["success"], results["error"], snap.DurationsMS[op])
		}
	}
	if path := s.cfg.Observability.MetricsFile; path != "" && s.registry != nil {
		if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.traceFile != nil {
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
