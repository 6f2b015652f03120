package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whisperd/internal/audit"
	"whisperd/internal/engine"
	"whisperd/internal/fetch"
	"whisperd/internal/logging"
	"whisperd/internal/protocol"
	"whisperd/internal/services"
	"whisperd/internal/urlguard"
)

const (
	defaultIdleTimeout   = 300 * time.Second
	defaultCheckInterval = 10 * time.Second
)

// Validator checks caller-supplied URLs before anything is fetched.
type Validator interface {
	Validate(ctx context.Context, raw string) (*urlguard.Target, error)
}

// Fetcher downloads a validated URL to a private temp file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Download, error)
}

// Recorder persists one ledger entry per handled request.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Options wires a Daemon.
type Options struct {
	IdleTimeout   time.Duration
	CheckInterval time.Duration

	Validator Validator
	Fetcher   Fetcher
	Engine    engine.Engine
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Daemon is the request-handling core. Handle must not be called
// concurrently; Shutdown, Done, Status and Watch may be.
type Daemon struct {
	idleTimeout   time.Duration
	checkInterval time.Duration
	validator     Validator
	fetcher       Fetcher
	engine        engine.Engine
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time

	mu              sync.Mutex
	state           State
	lastActivity    time.Time
	busy            bool
	engineLoaded    bool
	releasePending  bool
	requestsHandled int64
	shutdownReason  string

	done chan struct{}
}

// New loads the engine and returns an Active daemon. An engine that fails to
// load is fatal.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	if opts.Validator == nil || opts.Fetcher == nil || opts.Engine == nil {
		return nil, errors.New("daemon requires validator, fetcher, and engine")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	d := &Daemon{
		idleTimeout:   opts.IdleTimeout,
		checkInterval: opts.CheckInterval,
		validator:     opts.Validator,
		fetcher:       opts.Fetcher,
		engine:        opts.Engine,
		recorder:      opts.Recorder,
		logger:        logging.NewComponentLogger(opts.Logger, "daemon"),
		now:           opts.Now,
		state:         StateActive,
		done:          make(chan struct{}),
	}

	start := d.now()
	if err := d.engine.Load(ctx); err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	d.engineLoaded = true
	d.lastActivity = d.now()
	d.logger.Info("engine loaded",
		logging.String(logging.FieldEventType, "engine_loaded"),
		logging.String("engine", d.engine.Name()),
		logging.String("model", d.engine.Model()),
		logging.String("device", d.engine.Device()),
		logging.Duration("load_time", d.lastActivity.Sub(start)),
		logging.Duration("idle_timeout", d.idleTimeout),
	)
	return d, nil
}

// Handle answers one request. The response always carries the request id.
func (d *Daemon) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	id := req.RequestID()
	action := ParseAction(req.Action)
	ctx = services.WithRequestID(ctx, id)
	ctx = services.WithAction(ctx, req.Action)
	logger := logging.WithContext(ctx, d.logger)

	if action == ActionShutdown {
		d.Shutdown(ReasonRequest)
		resp := protocol.NewResponse(id)
		resp.Message = "shutting down"
		d.record(ctx, action, req, "", time.Time{}, nil)
		return resp
	}

	if !d.beginRequest() {
		return d.failure(ctx, id, services.Newf(services.KindShuttingDown, "", "daemon is shutting down"))
	}
	defer d.endRequest()

	started := d.now()
	logger.Debug("request received")

	var (
		resp protocol.Response
		host string
		err  error
	)
	switch action {
	case ActionTranscribe:
		var transcript *protocol.Transcript
		transcript, host, err = d.transcribe(ctx, req)
		if err == nil {
			resp = protocol.NewResponse(id)
			resp.Transcript = transcript
		}
	case ActionPing:
		resp = protocol.NewResponse(id)
		resp.Message = "pong"
	case ActionStatus:
		resp = protocol.NewResponse(id)
		status := d.Status()
		resp.Status = &status
	default:
		err = services.Newf(services.KindUnknownAction, "", "Unknown action: %s", req.Action)
	}

	if err != nil {
		resp = d.failure(ctx, id, err)
	} else {
		logger.Info("request completed",
			logging.String(logging.FieldEventType, "request_completed"),
			logging.Duration("duration", d.now().Sub(started)),
		)
	}
	d.record(ctx, action, req, host, started, err)
	return resp
}

// Shutdown enters the terminal state. Later calls do nothing. When a request
// is in flight the engine is released as soon as it finishes.
func (d *Daemon) Shutdown(reason string) {
	d.mu.Lock()
	first, release := d.enterShutdownLocked(reason)
	d.mu.Unlock()
	d.finishShutdown(first, release, reason)
}

// Done is closed once the daemon is shutting down.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ShutdownReason returns why the daemon stopped, or "" while it runs.
func (d *Daemon) ShutdownReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdownReason
}

// Status returns a read-only snapshot.
func (d *Daemon) Status() protocol.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return protocol.Status{
		Engine:          d.engine.Name(),
		Model:           d.engine.Model(),
		Device:          d.engine.Device(),
		ModelLoaded:     d.engineLoaded,
		State:           d.state.String(),
		LastActivity:    float64(d.lastActivity.UnixNano()) / float64(time.Second),
		IdleTimeout:     d.idleTimeout.Seconds(),
		RequestsHandled: d.requestsHandled,
	}
}

func (d *Daemon) beginRequest() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateShuttingDown {
		return false
	}
	d.busy = true
	d.state = StateActive
	d.touchLocked()
	return true
}

func (d *Daemon) endRequest() {
	d.mu.Lock()
	d.busy = false
	d.requestsHandled++
	d.touchLocked()
	release := d.releasePending
	d.releasePending = false
	d.mu.Unlock()
	if release {
		d.releaseEngine()
	}
}

// touchLocked advances lastActivity; it never moves backwards.
func (d *Daemon) touchLocked() {
	if now := d.now(); now.After(d.lastActivity) {
		d.lastActivity = now
	}
}

func (d *Daemon) enterShutdownLocked(reason string) (first, release bool) {
	if d.state == StateShuttingDown {
		return false, false
	}
	d.state = StateShuttingDown
	d.shutdownReason = reason
	close(d.done)
	if d.busy {
		d.releasePending = true
		return true, false
	}
	return true, true
}

func (d *Daemon) finishShutdown(first, release bool, reason string) {
	if !first {
		return
	}
	d.logger.Info("daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.String("reason", reason),
	)
	if release {
		d.releaseEngine()
	}
}

func (d *Daemon) releaseEngine() {
	d.mu.Lock()
	loaded := d.engineLoaded
	d.engineLoaded = false
	d.mu.Unlock()
	if !loaded {
		return
	}
	if err := d.engine.Unload(); err != nil {
		logging.WarnWithContext(d.logger, "engine release failed", "engine_unload_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "engine resources may remain allocated until exit"),
		)
		return
	}
	d.logger.Info("engine released", logging.String(logging.FieldEventType, "engine_unloaded"))
}
