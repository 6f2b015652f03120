package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"whisperd/internal/audit"
	"whisperd/internal/config"
	"whisperd/internal/daemon"
	"whisperd/internal/engine"
	"whisperd/internal/fetch"
	"whisperd/internal/logging"
	"whisperd/internal/protocol"
	"whisperd/internal/urlguard"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another whisperd daemon is already running")

// Options configures daemon process runtime behavior.
type Options struct {
	// In and Out default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer
	// Engine replaces the configured WhisperX engine.
	Engine engine.Engine
	// RunID defaults to a fresh uuid.
	RunID string
}

// Run serves the protocol until the daemon shuts down.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	effective := *cfg
	if err := effective.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, closer, err := logging.NewFromConfig(&effective, opts.RunID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	logPath := filepath.Join(effective.Logging.Dir, logging.LogFileName(opts.RunID))
	logging.PruneRunLogs(logger, effective.Logging.Dir, effective.Logging.RetentionDays, logPath)

	lock := flock.New(effective.Daemon.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, effective.Daemon.LockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	store := openAudit(signalCtx, &effective, opts.RunID, logger)
	if store != nil {
		defer store.Close()
	}

	validator := urlguard.New(urlguard.Policy{
		AllowedDomains: effective.Fetch.AllowedDomains,
		ResolveTimeout: effective.RequestTimeout(),
	})
	fetcher := fetch.New(fetch.Options{
		Timeout:      effective.RequestTimeout(),
		TempDir:      effective.Daemon.TempDir,
		MaxBytes:     effective.MaxDownloadBytes(),
		MaxRedirects: effective.Fetch.MaxRedirects,
		UserAgent:    effective.Fetch.UserAgent,
		Validator:    validator,
		Logger:       logger,
	})

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewWhisperX(engine.WhisperXConfig{
			Model:     effective.Engine.Model,
			Device:    effective.Engine.Device,
			Command:   effective.Engine.Command,
			VADMethod: effective.Engine.VADMethod,
			HFToken:   effective.Engine.HFToken,
			Timeout:   effective.EngineTimeout(),
			WorkDir:   effective.Engine.WorkDir,
		})
	}

	daemonOpts := daemon.Options{
		IdleTimeout:   effective.IdleTimeout(),
		CheckInterval: effective.CheckInterval(),
		Validator:     validator,
		Fetcher:       fetcher,
		Engine:        eng,
		Logger:        logger,
	}
	if store != nil {
		daemonOpts.Recorder = store
	}

	logger.Info("whisperd starting",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.Int("pid", os.Getpid()),
		logging.String("lock", effective.Daemon.LockPath),
		logging.String("temp_dir", effective.Daemon.TempDir),
		logging.Any("allowed_domains", validator.AllowedDomains()),
		logging.Duration("request_timeout", effective.RequestTimeout()),
		logging.Duration("idle_timeout", effective.IdleTimeout()),
	)

	d, err := daemon.New(signalCtx, daemonOpts)
	if err != nil {
		logging.ErrorWithContext(logger, "engine initialization failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check engine.command and engine.device"),
		)
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Shutdown("exit")

	go d.Watch(signalCtx)

	serveErr := protocol.NewLoop(d, opts.In, opts.Out, logger).Serve(signalCtx)
	logger.Info("whisperd exiting",
		logging.String(logging.FieldEventType, "daemon_exit"),
		logging.String("reason", d.ShutdownReason()),
		logging.Int64("requests_handled", d.Status().RequestsHandled),
	)
	return serveErr
}

func openAudit(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) *audit.Store {
	if !cfg.Audit.Enabled {
		return nil
	}
	store, err := audit.Open(cfg.Audit.Path, runID)
	if err != nil {
		logging.WarnWithContext(logger, "audit ledger unavailable", "audit_open_failed",
			logging.Error(err),
			logging.String("path", cfg.Audit.Path),
			logging.String(logging.FieldImpact, "requests will not be recorded"),
			logging.String(logging.FieldErrorHint, "check audit.path or set audit.enabled = false"),
		)
		return nil
	}
	if cfg.Logging.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
		if removed, err := store.Prune(ctx, cutoff); err != nil {
			logger.Warn("audit prune failed", logging.Error(err))
		} else if removed > 0 {
			logger.Info("pruned audit entries", logging.Int64("removed", removed))
		}
	}
	return store
}
